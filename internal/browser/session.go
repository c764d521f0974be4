// Package browser drives a Chromium page over the DevTools protocol and
// exposes it as a view.Accessor.
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
	"go.uber.org/zap"
)

// Config holds browser configuration.
type Config struct {
	DebuggerURL string
	// Launch is an optional binary followed by extra Chromium flags.
	Launch            []string
	Headless          bool
	UserDataDir       string
	URL               string
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
	Selectors         Selectors
}

// Selectors locate the page elements the accessor reads and drives.
type Selectors struct {
	Conversation    string
	ChatList        string
	TextInput       string
	SendControl     string
	IDAttribute     string
	MarkerAttribute string
}

// GetViewportWidth returns viewport width.
func (c Config) GetViewportWidth() int {
	if c.ViewportWidth == 0 {
		return 1280
	}
	return c.ViewportWidth
}

// GetViewportHeight returns viewport height.
func (c Config) GetViewportHeight() int {
	if c.ViewportHeight == 0 {
		return 900
	}
	return c.ViewportHeight
}

// GetNavigationTimeout returns the navigation timeout.
func (c Config) GetNavigationTimeout() time.Duration {
	if c.NavigationTimeout <= 0 {
		return 60 * time.Second
	}
	return c.NavigationTimeout
}

// Session owns one browser connection and the page the client watches.
type Session struct {
	cfg Config
	log *zap.Logger

	mu         sync.Mutex
	browser    *rod.Browser
	page       *rod.Page
	controlURL string
}

// NewSession returns an unstarted session.
func NewSession(cfg Config, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{cfg: cfg, log: logger}
}

// Start connects to DebuggerURL or launches a browser, then opens cfg.URL.
// An already open tab on that URL is reused.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser != nil {
		if _, err := s.browser.Version(); err == nil {
			return nil
		}
		s.log.Warn("stale browser connection detected, reconnecting")
		_ = s.browser.Close()
		s.browser = nil
		s.page = nil
		s.controlURL = ""
	}

	controlURL := s.cfg.DebuggerURL
	if controlURL == "" {
		url, err := s.launch()
		if err != nil {
			return err
		}
		controlURL = url
	}

	// The connection outlives ctx so calls made while shutting down still
	// reach the page.
	browser := rod.New().ControlURL(controlURL).Context(context.WithoutCancel(ctx))
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := s.openPage(browser)
	if err != nil {
		_ = browser.Close()
		return err
	}

	s.browser = browser
	s.page = page
	s.controlURL = controlURL
	s.log.Info("browser connected", zap.String("control_url", controlURL), zap.String("url", s.cfg.URL))
	return nil
}

func (s *Session) launch() (string, error) {
	l := launcher.New().Headless(s.cfg.Headless)
	if s.cfg.UserDataDir != "" {
		l = l.UserDataDir(s.cfg.UserDataDir)
	}
	if len(s.cfg.Launch) > 0 {
		if bin := s.cfg.Launch[0]; bin != "" {
			l = l.Bin(bin)
		}
		for _, rawFlag := range s.cfg.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				l = l.Set(flags.Flag(name), val)
			} else {
				l = l.Set(flags.Flag(name))
			}
		}
	}
	url, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("launch chrome: %w", err)
	}
	return url, nil
}

func (s *Session) openPage(browser *rod.Browser) (*rod.Page, error) {
	pages, err := browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil || s.cfg.URL == "" {
			continue
		}
		if strings.HasPrefix(info.URL, s.cfg.URL) {
			s.log.Debug("reusing open tab", zap.String("target", string(p.TargetID)))
			return p, nil
		}
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             s.cfg.GetViewportWidth(),
		Height:            s.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		s.log.Warn("failed to set viewport", zap.Error(err))
	}

	if s.cfg.URL != "" {
		nav := page.Timeout(s.cfg.GetNavigationTimeout())
		defer nav.CancelTimeout()
		if err := nav.Navigate(s.cfg.URL); err != nil {
			return nil, fmt.Errorf("navigate %s: %w", s.cfg.URL, err)
		}
		if err := nav.WaitLoad(); err != nil {
			s.log.Warn("page load did not settle", zap.Error(err))
		}
	}
	return page, nil
}

// WaitReady blocks until the chat list is rendered, which on WhatsApp Web
// means the account is logged in.
func (s *Session) WaitReady(ctx context.Context) error {
	page, err := s.Page()
	if err != nil {
		return err
	}
	if _, err := page.Context(ctx).Element(s.cfg.Selectors.ChatList); err != nil {
		return fmt.Errorf("wait for chat list: %w", err)
	}
	return nil
}

// ErrNotStarted is returned when the session has no page yet.
var ErrNotStarted = errors.New("browser session not started")

// Page returns the watched page.
func (s *Session) Page() (*rod.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return nil, ErrNotStarted
	}
	return s.page, nil
}

// ControlURL returns the DevTools endpoint in use.
func (s *Session) ControlURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controlURL
}

// Accessor returns the view over the watched page.
func (s *Session) Accessor() (*Accessor, error) {
	page, err := s.Page()
	if err != nil {
		return nil, err
	}
	return NewAccessor(page, s.cfg.Selectors), nil
}

// Shutdown closes the browser when it was launched by this session and
// disconnects otherwise.
func (s *Session) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.browser != nil {
		if s.cfg.DebuggerURL == "" {
			err = s.browser.Close()
		}
		s.browser = nil
	}
	s.page = nil
	s.controlURL = ""
	s.log.Debug("browser session closed")
	return err
}
