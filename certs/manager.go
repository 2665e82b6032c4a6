package certs

import (
	"bufio"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/jittering/truststore"
)

// Manager keeps a server certificate signed by a local CA under a config
// directory. The CA lives in <dir>/ca and the leaf in <dir>/tls.
type Manager struct {
	caDir     string
	tlsDir    string
	caCert    string
	certFile  string
	keyFile   string
	hostsFile string
	logger    *log.Logger

	// ExtraHosts are added to the certificate on top of the LAN addresses.
	ExtraHosts []string
}

// NewManager creates a manager rooted at dir. A nil logger logs to stderr.
func NewManager(dir string, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[certs] ", log.LstdFlags)
	}
	caDir := filepath.Join(dir, "ca")
	tlsDir := filepath.Join(dir, "tls")
	return &Manager{
		caDir:     caDir,
		tlsDir:    tlsDir,
		caCert:    filepath.Join(caDir, "rootCA.pem"),
		certFile:  filepath.Join(tlsDir, "server.crt"),
		keyFile:   filepath.Join(tlsDir, "server.key"),
		hostsFile: filepath.Join(tlsDir, "hosts.txt"),
		logger:    logger,
	}
}

// TLSConfig makes sure a certificate for the current hosts exists and
// returns a server configuration using it. Installing the CA may prompt the
// user for their password the first time.
func (m *Manager) TLSConfig() (*tls.Config, error) {
	if err := m.Ensure(); err != nil {
		return nil, err
	}
	pair, err := tls.LoadX509KeyPair(m.certFile, m.keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Ensure issues a new certificate when none exists or when the host's
// addresses changed since the last one was issued.
func (m *Manager) Ensure() error {
	if err := os.MkdirAll(m.tlsDir, 0o700); err != nil {
		return fmt.Errorf("failed to create TLS directory: %w", err)
	}

	hosts, err := CertificateHosts(m.ExtraHosts...)
	if err != nil {
		m.logger.Printf("Warning: failed to list LAN addresses: %v", err)
	}

	switch {
	case !m.certsExist():
		m.logger.Printf("No certificate found, issuing one for %v", hosts)
	case m.hostsChanged(hosts):
		m.logger.Printf("Addresses changed, reissuing certificate for %v", hosts)
	default:
		return nil
	}
	return m.issue(hosts)
}

func (m *Manager) certsExist() bool {
	_, certErr := os.Stat(m.certFile)
	_, keyErr := os.Stat(m.keyFile)
	return certErr == nil && keyErr == nil
}

func (m *Manager) hostsChanged(hosts []string) bool {
	cached, err := m.readHosts()
	if err != nil {
		return true
	}
	return !sameHosts(cached, hosts)
}

func (m *Manager) readHosts() ([]string, error) {
	f, err := os.Open(m.hostsFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var hosts []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if h := strings.TrimSpace(sc.Text()); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts, sc.Err()
}

func (m *Manager) writeHosts(hosts []string) error {
	return os.WriteFile(m.hostsFile, []byte(strings.Join(hosts, "\n")+"\n"), 0o600)
}

func (m *Manager) issue(hosts []string) error {
	if err := os.MkdirAll(m.caDir, 0o700); err != nil {
		return fmt.Errorf("failed to create CA directory: %w", err)
	}
	// truststore keeps its CA under CAROOT.
	os.Setenv("CAROOT", m.caDir)

	lib, err := truststore.NewLib()
	if err != nil {
		return fmt.Errorf("failed to initialize truststore: %w", err)
	}

	m.logger.Println("Installing local CA in the system trust store (you may be prompted for your password)")
	if err := lib.Install(); err != nil {
		return fmt.Errorf("failed to install CA: %w", err)
	}

	cert, err := lib.MakeCert(hosts, m.tlsDir)
	if err != nil {
		return fmt.Errorf("failed to issue certificate: %w", err)
	}
	if err := moveFile(cert.CertFile, m.certFile); err != nil {
		return err
	}
	if err := moveFile(cert.KeyFile, m.keyFile); err != nil {
		return err
	}

	if err := m.writeHosts(hosts); err != nil {
		m.logger.Printf("Warning: failed to record certificate hosts: %v", err)
	}
	if fp, err := m.CAFingerprint(); err == nil {
		m.logger.Printf("Certificate issued, CA fingerprint (SHA256): %s", fp)
	}
	return nil
}

func moveFile(from, to string) error {
	if from == to {
		return nil
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("failed to move %s: %w", filepath.Base(from), err)
	}
	return nil
}

// CAFile returns the path of the CA certificate.
func (m *Manager) CAFile() string { return m.caCert }

// ReadCA returns the PEM encoded CA certificate.
func (m *Manager) ReadCA() ([]byte, error) {
	return os.ReadFile(m.caCert)
}

// CAFingerprint returns the colon separated SHA-256 fingerprint of the CA.
func (m *Manager) CAFingerprint() (string, error) {
	data, err := m.ReadCA()
	if err != nil {
		return "", fmt.Errorf("failed to read CA certificate: %w", err)
	}
	return Fingerprint(data)
}

// Fingerprint returns the SHA-256 fingerprint of the first certificate in a
// PEM document, as colon separated uppercase hex.
func Fingerprint(pemData []byte) (string, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return "", errors.New("no PEM block found")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse certificate: %w", err)
	}

	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":"), nil
}
