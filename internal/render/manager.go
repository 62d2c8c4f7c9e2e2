package render

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobinfo-extractor/internal/metrics"
)

const (
	defaultNavigationTimeout = 35 * time.Second
	maxNavigationTimeout     = 45 * time.Second
	defaultSettleMax         = 5 * time.Second
)

// Config bounds every wait inside a render session. Zero NavigationTimeout
// and SettleMax take defaults; zero SettleMin means no minimum hold.
type Config struct {
	NavigationTimeout time.Duration
	SettleMin         time.Duration
	SettleMax         time.Duration
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaultNavigationTimeout
	}
	if c.NavigationTimeout > maxNavigationTimeout {
		c.NavigationTimeout = maxNavigationTimeout
	}
	if c.SettleMax <= 0 {
		c.SettleMax = defaultSettleMax
	}
	if c.SettleMin < 0 {
		c.SettleMin = 0
	}
	if c.SettleMin > c.SettleMax {
		c.SettleMin = c.SettleMax
	}
	return c
}

// Manager renders a URL in a freshly launched browser.
type Manager struct {
	resolver SpecResolver
	driver   Driver
	cfg      Config
	logger   *zap.Logger
}

// NewManager constructs a Manager.
func NewManager(resolver SpecResolver, driver Driver, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		resolver: resolver,
		driver:   driver,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Render launches one browser, loads rawURL, waits for late client-side
// rendering and returns the document markup. The browser is closed before
// Render returns on every path.
//
// Resolver failures are returned unwrapped so callers can tell configuration
// problems apart from ErrLaunch, ErrNavigation and ErrMarkup.
func (m *Manager) Render(ctx context.Context, rawURL string) (Page, error) {
	if err := checkScheme(rawURL); err != nil {
		return Page{}, err
	}

	spec, err := m.resolver.Resolve(ctx)
	if err != nil {
		return Page{}, fmt.Errorf("resolve browser: %w", err)
	}

	browser, err := m.driver.Launch(ctx, spec)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %w", ErrLaunch, err)
	}
	metrics.IncBrowserSessions()
	defer m.teardown(browser)

	tab, err := browser.NewTab(ctx)
	if err != nil {
		return Page{}, fmt.Errorf("%w: open tab: %w", ErrLaunch, err)
	}
	if err := tab.SetViewport(ctx, spec.ViewportWidth, spec.ViewportHeight); err != nil {
		return Page{}, fmt.Errorf("%w: set viewport: %w", ErrLaunch, err)
	}

	if err := m.navigate(ctx, tab, rawURL); err != nil {
		return Page{}, err
	}

	m.settle(ctx, tab)

	html, err := tab.OuterHTML(ctx)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %w", ErrMarkup, err)
	}
	if strings.TrimSpace(html) == "" {
		return Page{}, fmt.Errorf("%w: document is empty", ErrMarkup)
	}

	m.logger.Debug("page rendered", zap.String("url", rawURL), zap.Int("html_bytes", len(html)))
	return Page{URL: rawURL, HTML: html}, nil
}

func (m *Manager) navigate(ctx context.Context, tab Tab, rawURL string) error {
	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigationTimeout)
	defer cancel()

	err := tab.Navigate(navCtx, rawURL)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(navCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: timed out after %s: %w", ErrNavigation, m.cfg.NavigationTimeout, context.DeadlineExceeded)
	}
	return fmt.Errorf("%w: %w", ErrNavigation, err)
}

// settle races document readiness against a hard timeout, then holds for the
// remainder of the minimum settle time. The timer always fires, so settle
// cannot block past SettleMax.
func (m *Manager) settle(ctx context.Context, tab Tab) {
	settleCtx, cancel := context.WithTimeout(ctx, m.cfg.SettleMax)
	defer cancel()

	minimum := time.NewTimer(m.cfg.SettleMin)
	defer minimum.Stop()

	ready := make(chan error, 1)
	go func() {
		ready <- tab.WaitReady(settleCtx)
	}()

	select {
	case err := <-ready:
		if err != nil {
			m.logger.Debug("readiness wait ended with error", zap.Error(err))
		}
	case <-settleCtx.Done():
		m.logger.Debug("settle timeout reached before document ready", zap.Duration("settle_max", m.cfg.SettleMax))
		return
	}

	select {
	case <-minimum.C:
	case <-settleCtx.Done():
	}
}

func (m *Manager) teardown(browser Browser) {
	metrics.DecBrowserSessions()
	if err := browser.Close(); err != nil {
		metrics.ObserveTeardownFailure()
		m.logger.Warn("browser teardown failed", zap.Error(err))
	}
}

func checkScheme(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: malformed target: %w", ErrNavigation, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrNavigation, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host in %q", ErrNavigation, rawURL)
	}
	return nil
}
