// Package tray runs the bridge behind a system tray menu.
package tray

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"fyne.io/systray"

	"github.com/fvisticot/nfc-reader-bridge/agent"
	"github.com/fvisticot/nfc-reader-bridge/buildinfo"
	"github.com/fvisticot/nfc-reader-bridge/certs"
	"github.com/fvisticot/nfc-reader-bridge/config"
	"github.com/fvisticot/nfc-reader-bridge/protocol"
	"github.com/fvisticot/nfc-reader-bridge/session"
)

var (
	//go:embed icons/idle.png
	iconIdle []byte
	//go:embed icons/active.png
	iconActive []byte
	//go:embed icons/error.png
	iconError []byte
)

const refreshInterval = 500 * time.Millisecond

// App manages the tray menu of a running agent.
type App struct {
	agent  *agent.Agent
	cfg    *config.Config
	logger *log.Logger

	mStatus   *systray.MenuItem
	mSession  *systray.MenuItem
	mLastRead *systray.MenuItem

	mURLs          *systray.MenuItem
	mWSURL         *systray.MenuItem
	mCopyWSURL     *systray.MenuItem
	mBootstrapURL  *systray.MenuItem
	mCopyBootstrap *systray.MenuItem

	mRead   *systray.MenuItem
	mListen *systray.MenuItem
	mStopS  *systray.MenuItem

	mStart *systray.MenuItem
	mStop  *systray.MenuItem
	mQuit  *systray.MenuItem

	listenMu   sync.Mutex
	listener   *session.Channel
	listenGen  uint64
	listenDone chan struct{}
}

// New creates the tray application for a.
func New(a *agent.Agent, cfg *config.Config) *App {
	return &App{
		agent:  a,
		cfg:    cfg,
		logger: log.New(os.Stderr, "[systray] ", log.LstdFlags),
	}
}

// Run blocks until the user quits from the menu or Quit is called.
func (s *App) Run() {
	systray.Run(s.onReady, s.onExit)
}

// Quit ends Run.
func Quit() {
	systray.Quit()
}

func (s *App) onReady() {
	s.setupUI()
	s.autoStart()
	go s.refreshLoop()
	go s.handleMenuEvents()
}

func (s *App) onExit() {
	s.agent.Stop()
}

func (s *App) setupUI() {
	systray.SetIcon(iconIdle)
	systray.SetTooltip(buildinfo.DisplayName)

	s.mStatus = systray.AddMenuItem("Starting...", "Bridge status")
	s.mStatus.Disable()
	s.mSession = systray.AddMenuItem("Session: idle", "Reader session")
	s.mSession.Disable()
	s.mLastRead = systray.AddMenuItem("Last read: none", "Last tag content")
	s.mLastRead.Disable()

	s.mURLs = systray.AddMenuItem("Server URLs", "Server addresses")
	s.mWSURL = s.mURLs.AddSubMenuItem("WebSocket: Not running", "WebSocket URL")
	s.mWSURL.Disable()
	s.mCopyWSURL = s.mURLs.AddSubMenuItem("  Copy WebSocket URL", "Copy the WebSocket URL to the clipboard")
	s.mBootstrapURL = s.mURLs.AddSubMenuItem("CA Cert: Not running", "CA certificate download URL")
	s.mBootstrapURL.Disable()
	s.mCopyBootstrap = s.mURLs.AddSubMenuItem("  Copy CA URL", "Copy the CA certificate URL to the clipboard")
	if !s.cfg.TLS.Enabled {
		s.mBootstrapURL.Hide()
		s.mCopyBootstrap.Hide()
	}

	systray.AddSeparator()

	s.mRead = systray.AddMenuItem("Read Tag", "Read one tag")
	s.mListen = systray.AddMenuItemCheckbox("Listen", "Report every tag", false)
	s.mStopS = systray.AddMenuItem("Stop Reading", "Stop the reader session")

	systray.AddSeparator()

	s.mStart = systray.AddMenuItem("Start Bridge", "Start the bridge")
	s.mStop = systray.AddMenuItem("Stop Bridge", "Stop the bridge")
	s.mStart.Disable()
	s.mStop.Disable()

	systray.AddSeparator()
	s.mQuit = systray.AddMenuItem("Quit", "Quit the application")
}

func (s *App) autoStart() {
	go s.handleStart()
}

func (s *App) handleMenuEvents() {
	for {
		select {
		case <-s.mStart.ClickedCh:
			s.handleStart()
		case <-s.mStop.ClickedCh:
			s.handleStop()
		case <-s.mRead.ClickedCh:
			s.handleRead()
		case <-s.mListen.ClickedCh:
			s.handleListen()
		case <-s.mStopS.ClickedCh:
			if c := s.agent.Controller(); c != nil {
				c.Stop()
			}
		case <-s.mCopyWSURL.ClickedCh:
			s.copy(s.websocketURL())
		case <-s.mCopyBootstrap.ClickedCh:
			s.copy(s.bootstrapURL())
		case <-s.mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (s *App) handleStart() {
	if err := s.agent.Start(); err != nil {
		s.logger.Printf("Failed to start: %v", err)
		s.updateStatus("Failed to Start")
		s.mStart.Enable()
		return
	}
	s.updateStatus("Running")
	s.updateURLs()
	s.mStart.Disable()
	s.mStop.Enable()
}

func (s *App) handleStop() {
	s.agent.Stop()
	s.endListen()
	s.updateStatus("Stopped")
	s.updateURLs()
	s.mStop.Disable()
	s.mStart.Enable()
}

// handleRead issues a one-shot read and shows its result.
func (s *App) handleRead() {
	c := s.agent.Controller()
	if c == nil {
		return
	}
	responder := session.NewChannel("tray-read", 1, s.logger)
	if err := c.Read("Hold a tag near the reader", responder); err != nil {
		s.logger.Printf("Read failed: %v", err)
		return
	}
	go func() {
		e := <-responder.Events()
		s.mLastRead.SetTitle(eventTitle(e))
	}()
}

// handleListen toggles a continuous subscription owned by the tray.
func (s *App) handleListen() {
	c := s.agent.Controller()
	if c == nil {
		return
	}

	s.listenMu.Lock()
	defer s.listenMu.Unlock()

	if s.listener != nil {
		if releaseListener(c, s.listener, s.listenGen) {
			s.logger.Printf("Tray listen stopped")
		}
		s.endListenLocked()
		return
	}

	listener := session.NewChannel("tray-listen", 16, s.logger)
	if _, err := c.Subscribe(listener, "Scan tags", true); err != nil {
		s.logger.Printf("Listen failed: %v", err)
		return
	}
	s.listener = listener
	s.listenGen = c.Snapshot().Generation
	s.listenDone = make(chan struct{})
	s.mListen.Check()

	go func(done <-chan struct{}) {
		for {
			select {
			case e := <-listener.Events():
				s.mLastRead.SetTitle(eventTitle(e))
			case <-done:
				return
			}
		}
	}(s.listenDone)
}

// releaseListener drops the tray subscription. The session is stopped only
// when the tray still holds the subscription and the session it started is
// the live one; otherwise another client owns the reader.
func releaseListener(c *session.Controller, h session.Handle, gen uint64) bool {
	if !c.Unsubscribe(h) || c.Snapshot().Generation != gen {
		return false
	}
	c.Stop()
	return true
}

func (s *App) endListen() {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	s.endListenLocked()
}

func (s *App) endListenLocked() {
	if s.listenDone != nil {
		close(s.listenDone)
		s.listenDone = nil
	}
	s.listener = nil
	s.mListen.Uncheck()
}

// dropDisplacedListener unchecks the listen item once another client has
// taken the subscription.
func (s *App) dropDisplacedListener(c *session.Controller) {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	if s.listener != nil && !c.Subscribed(s.listener) {
		s.logger.Printf("Tray listen replaced by another client")
		s.endListenLocked()
	}
}

func (s *App) refreshLoop() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	last := ""
	for range ticker.C {
		title := "Session: stopped"
		icon := iconError
		if c := s.agent.Controller(); c != nil {
			s.dropDisplacedListener(c)
			snap := c.Snapshot()
			title = sessionTitle(snap)
			icon = iconIdle
			if snap.State == session.Active {
				icon = iconActive
			}
		}
		if title != last {
			s.mSession.SetTitle(title)
			systray.SetIcon(icon)
			last = title
		}
	}
}

func (s *App) updateStatus(status string) {
	s.mStatus.SetTitle(status)
	systray.SetTooltip(buildinfo.DisplayName + ": " + status)
}

func (s *App) updateURLs() {
	if !s.agent.Running() {
		s.mWSURL.SetTitle("WebSocket: Not running")
		s.mBootstrapURL.SetTitle("CA Cert: Not running")
		return
	}
	s.mWSURL.SetTitle("WebSocket: " + s.websocketURL())
	s.mBootstrapURL.SetTitle("CA Cert: " + s.bootstrapURL())
}

func (s *App) websocketURL() string {
	if !s.agent.Running() {
		return ""
	}
	return websocketURL(s.cfg.TLS.Enabled, lanHost(), s.cfg.Server.Port)
}

func (s *App) bootstrapURL() string {
	if !s.cfg.TLS.Enabled || s.cfg.TLS.BootstrapPort <= 0 {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", lanHost(), s.cfg.TLS.BootstrapPort)
}

func (s *App) copy(text string) {
	if text == "" {
		return
	}
	if err := copyToClipboard(text); err != nil {
		s.logger.Printf("Failed to copy to clipboard: %v", err)
		return
	}
	s.logger.Printf("Copied %s to clipboard", text)
}

// lanHost returns the first LAN address, or localhost.
func lanHost() string {
	if ips, err := certs.LANAddresses(); err == nil && len(ips) > 0 {
		return ips[0]
	}
	return "localhost"
}

func websocketURL(secure bool, host string, port int) string {
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d/ws", scheme, host, port)
}

func sessionTitle(snap session.Snapshot) string {
	if snap.State != session.Active {
		return "Session: idle"
	}
	mode := "listening"
	if snap.AutoStop {
		mode = "reading once"
	}
	return "Session: " + mode
}

const maxTitleLen = 40

func eventTitle(e protocol.ReadEvent) string {
	switch e.Status {
	case protocol.StatusRead:
		content := []rune(e.Content)
		if len(content) > maxTitleLen {
			content = append(content[:maxTitleLen], '…')
		}
		return "Last read: " + string(content)
	case protocol.StatusError:
		return fmt.Sprintf("Last read: error %d (%s)", e.ErrorCode, e.Error)
	default:
		return "Last read: stopped"
	}
}

// copyToClipboard copies text to the system clipboard
func copyToClipboard(text string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("pbcopy")
	case "linux":
		cmd = exec.Command("xclip", "-selection", "clipboard")
	case "windows":
		cmd = exec.Command("clip")
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	if _, err := stdin.Write([]byte(text)); err != nil {
		return err
	}
	stdin.Close()
	return cmd.Wait()
}
