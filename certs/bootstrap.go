package certs

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/fvisticot/nfc-reader-bridge/buildinfo"
)

var instructionsPage = template.Must(template.New("ca").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Name}} certificate</title>
</head>
<body style="font-family: sans-serif; max-width: 560px; margin: 0 auto; padding: 16px">
<h1>Trust {{.Name}}</h1>
<p>Install this certificate authority to connect to the bridge over wss://.</p>
<p><a href="/ca.pem">Download CA certificate</a></p>
<p>Check that the fingerprint matches the one printed in the bridge logs:</p>
<pre style="white-space: pre-wrap">{{.Fingerprint}}</pre>
<h2>iOS</h2>
<p>Open the downloaded profile in Settings, install it, then enable full trust under General, About, Certificate Trust Settings.</p>
<h2>Android</h2>
<p>Settings, Security, Encryption and credentials, Install a certificate, CA certificate.</p>
{{if .URLs}}<h2>Other addresses</h2>
<ul>{{range .URLs}}<li><code>{{.}}</code></li>{{end}}</ul>{{end}}
</body>
</html>
`))

// BootstrapServer serves the CA certificate over plain HTTP so phones can
// install it before connecting over TLS.
type BootstrapServer struct {
	manager    *Manager
	port       int
	httpServer *http.Server
	logger     *log.Logger
}

// NewBootstrapServer creates a bootstrap server for the manager's CA.
func NewBootstrapServer(manager *Manager, port int, logger *log.Logger) *BootstrapServer {
	if logger == nil {
		logger = log.New(os.Stderr, "[bootstrap] ", log.LstdFlags)
	}
	return &BootstrapServer{manager: manager, port: port, logger: logger}
}

// Handler returns the bootstrap routes.
func (s *BootstrapServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ca.pem", s.handleCA)
	mux.HandleFunc("/ca.crt", s.handleCA)
	mux.HandleFunc("/", s.handleInstructions)
	return mux
}

// Start serves in the background.
func (s *BootstrapServer) Start() error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	s.logger.Printf("CA bootstrap server running on port %d", s.port)
	for _, u := range s.urls() {
		s.logger.Printf("  %s", u)
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Bootstrap server error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the server down.
func (s *BootstrapServer) Stop() {
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.httpServer.Shutdown(ctx)
	s.httpServer = nil
}

func (s *BootstrapServer) urls() []string {
	lan, _ := LANAddresses()
	urls := make([]string, 0, len(lan))
	for _, ip := range lan {
		urls = append(urls, fmt.Sprintf("http://%s/ca.pem", net.JoinHostPort(ip, strconv.Itoa(s.port))))
	}
	return urls
}

func (s *BootstrapServer) handleCA(w http.ResponseWriter, r *http.Request) {
	data, err := s.manager.ReadCA()
	if err != nil {
		http.Error(w, "CA certificate not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", buildinfo.Name+"-ca.pem"))
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write(data)
	s.logger.Printf("CA certificate downloaded by %s", r.RemoteAddr)
}

func (s *BootstrapServer) handleInstructions(w http.ResponseWriter, r *http.Request) {
	fp, err := s.manager.CAFingerprint()
	if err != nil {
		fp = "unavailable"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	instructionsPage.Execute(w, map[string]any{
		"Name":        buildinfo.DisplayName,
		"Fingerprint": fp,
		"URLs":        s.urls(),
	})
}
