// Package browser renders JavaScript-heavy pages in a headless Chrome
// driven over the DevTools protocol.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"tablesearch/internal/logging"
)

// Config controls how Chrome is obtained and how pages are loaded.
type Config struct {
	// RemoteURL attaches to a running Chrome instead of launching one.
	RemoteURL string
	// Bin overrides the Chrome binary; Flags are passed as --name[=value].
	Bin   string
	Flags []string

	Headless   bool
	Width      int
	Height     int
	NavTimeout time.Duration
}

// DefaultConfig launches a headless 1920x1080 Chrome with a 30s page budget.
func DefaultConfig() Config {
	return Config{Headless: true, Width: 1920, Height: 1080, NavTimeout: 30 * time.Second}
}

// ErrClosed is returned by Render after Shutdown.
var ErrClosed = errors.New("browser: renderer shut down")

// SessionManager owns one Chrome shared by every Render of a process.
// Chrome starts on first use and is reconnected when the connection dies.
type SessionManager struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
	proc    *launcher.Launcher
	closed  bool
}

// NewSessionManager returns a manager that has not started Chrome yet.
func NewSessionManager(cfg Config) *SessionManager {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	return &SessionManager{cfg: cfg}
}

// IsConnected reports whether a browser connection is held.
func (m *SessionManager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browser != nil
}

// connection returns a live browser, starting or reconnecting as needed.
func (m *SessionManager) connection(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return m.browser, nil
		}
		logging.ResearcherWarn("browser connection lost, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
	}

	url := m.cfg.RemoteURL
	if url == "" {
		l := m.launcher(ctx)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		url, m.proc = u, l
	}
	b := rod.New().ControlURL(url)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome at %s: %w", url, err)
	}
	logging.ResearcherDebug("browser connected: %s", url)
	m.browser = b
	return b, nil
}

func (m *SessionManager) launcher(ctx context.Context) *launcher.Launcher {
	l := launcher.New().Context(ctx).Headless(m.cfg.Headless)
	if m.cfg.Bin != "" {
		l = l.Bin(m.cfg.Bin)
	}
	for _, f := range m.cfg.Flags {
		name, val, ok := strings.Cut(strings.TrimLeft(f, "-"), "=")
		if ok {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	return l
}

// Render loads url in a throwaway incognito context and returns the
// document HTML once the load event fires.
func (m *SessionManager) Render(ctx context.Context, url string) (string, error) {
	b, err := m.connection(ctx)
	if err != nil {
		return "", err
	}
	incognito, err := b.Incognito()
	if err != nil {
		return "", fmt.Errorf("incognito context: %w", err)
	}
	defer incognito.Close()

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}
	defer page.Close()

	viewport := proto.EmulationSetDeviceMetricsOverride{Width: m.cfg.Width, Height: m.cfg.Height, DeviceScaleFactor: 1}
	if err := viewport.Call(page); err != nil {
		logging.ResearcherDebug("set viewport: %v", err)
	}

	page = page.Context(ctx).Timeout(m.cfg.NavTimeout)
	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load %s: %w", url, err)
	}
	return page.HTML()
}

// Shutdown closes the connection and kills any Chrome this manager
// launched. Later Render calls fail with ErrClosed.
func (m *SessionManager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true

	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	if m.proc != nil {
		m.proc.Kill()
		m.proc = nil
	}
	return err
}
