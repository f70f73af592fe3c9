// Package browser owns the Chrome process and exposes the page primitives
// the locator, humanoid, and workflow layers drive. Exactly one Session and
// therefore one browser exists per run; every interaction suspends the
// caller until the action or its timeout completes.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/kestrel4d/adpost/internal/config"
	"github.com/kestrel4d/adpost/internal/fingerprint"
	"github.com/kestrel4d/adpost/internal/locator"
	"github.com/kestrel4d/adpost/internal/session"
)

// Session is a live browser bound to one fingerprint profile.
type Session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	cfg         config.BrowserConfig
	profile     fingerprint.Profile
	logger      *zap.Logger
}

// NewSession launches Chrome, creates a tab, and applies the fingerprint
// profile before any navigation happens.
func NewSession(parent context.Context, cfg config.BrowserConfig, profile fingerprint.Profile, logger *zap.Logger) (*Session, error) {
	log := logger.Named("browser")

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("start-maximized", true),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.UserAgent(profile.UserAgent),
		chromedp.WindowSize(int(profile.Width), int(profile.Height)),
	)
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			log.Debug(fmt.Sprintf(format, args...))
		}),
	)

	s := &Session{
		ctx:         tabCtx,
		cancel:      tabCancel,
		allocCancel: allocCancel,
		cfg:         cfg,
		profile:     profile,
		logger:      log,
	}

	// Eagerly start the browser and commit the fingerprint before first use.
	if err := chromedp.Run(tabCtx, stealthTasks(profile, log)); err != nil {
		s.Close()
		return nil, fmt.Errorf("browser: starting session: %w", err)
	}
	log.Info("Browser session started",
		zap.Bool("headless", cfg.Headless),
		zap.String("user_agent", profile.UserAgent))
	return s, nil
}

// Profile returns the fingerprint profile this session is committed to.
func (s *Session) Profile() fingerprint.Profile { return s.profile }

// Close tears down the tab and the browser process.
func (s *Session) Close() {
	// Give Chrome a moment to shut down cleanly before the allocator is
	// cancelled out from under it.
	if err := chromedp.Cancel(s.ctx); err != nil {
		s.logger.Debug("Graceful browser shutdown failed", zap.Error(err))
	}
	s.cancel()
	s.allocCancel()
}

// Crashed reports whether the underlying browser context has died, which the
// batch layer treats as fatal for the whole run.
func (s *Session) Crashed() bool {
	return s.ctx.Err() != nil
}

// run executes chromedp actions under a context that honors both the session
// lifetime and the caller's deadline.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	cctx, cancel := combineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(cctx, actions...)
}

func kindOption(kind locator.Kind) chromedp.QueryOption {
	if kind == locator.ByXPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// Navigate loads a URL and waits the configured stabilization period.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Info("Navigating", zap.String("url", url))
	timeout := s.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("browser: navigating to %s: %w", url, err)
	}
	return s.stabilize(ctx)
}

// Reload refreshes the current page, used to apply freshly imported cookies.
func (s *Session) Reload(ctx context.Context) error {
	if err := s.run(ctx, chromedp.Reload()); err != nil {
		return fmt.Errorf("browser: reloading: %w", err)
	}
	return s.stabilize(ctx)
}

func (s *Session) stabilize(ctx context.Context) error {
	wait := s.cfg.StabilizeWait
	if wait <= 0 {
		return nil
	}
	return s.run(ctx, chromedp.Sleep(wait))
}

// WaitVisible blocks until an element matching the query is visible or the
// context expires. This is the probe the locator resolver drives.
func (s *Session) WaitVisible(ctx context.Context, query string, kind locator.Kind) error {
	return s.run(ctx, chromedp.WaitVisible(query, kindOption(kind)))
}

// VisibleNow is a bounded, non-committal presence probe used for page-state
// detection. It answers within the given timeout and never returns an error
// for a mere miss.
func (s *Session) VisibleNow(ctx context.Context, query string, kind locator.Kind, timeout time.Duration) (bool, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := s.run(tctx, chromedp.WaitVisible(query, kindOption(kind)))
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	// The probe timing out is an answer, not an error.
	return false, nil
}

// Click clicks the first element matching the query.
func (s *Session) Click(ctx context.Context, query string, kind locator.Kind) error {
	return s.run(ctx, chromedp.Click(query, kindOption(kind)))
}

// Focus gives keyboard focus to the matched element.
func (s *Session) Focus(ctx context.Context, query string, kind locator.Kind) error {
	return s.run(ctx, chromedp.Focus(query, kindOption(kind)))
}

// SendKeys dispatches key events to the currently focused element. The
// humanoid layer has already clicked the target, so no selector is needed.
func (s *Session) SendKeys(ctx context.Context, keys string) error {
	return s.run(ctx, chromedp.KeyEvent(keys))
}

// ClearValue empties an input or textarea.
func (s *Session) ClearValue(ctx context.Context, query string, kind locator.Kind) error {
	return s.run(ctx, chromedp.SetValue(query, "", kindOption(kind)))
}

// SetSelect chooses an option of a select element by value.
func (s *Session) SetSelect(ctx context.Context, query string, kind locator.Kind, value string) error {
	return s.run(ctx, chromedp.SetValue(query, value, kindOption(kind)))
}

// Value reads the current value of an input element.
func (s *Session) Value(ctx context.Context, query string, kind locator.Kind) (string, error) {
	var out string
	if err := s.run(ctx, chromedp.Value(query, &out, kindOption(kind))); err != nil {
		return "", err
	}
	return out, nil
}

// Text reads the visible text of the matched element.
func (s *Session) Text(ctx context.Context, query string, kind locator.Kind) (string, error) {
	var out string
	if err := s.run(ctx, chromedp.Text(query, &out, kindOption(kind))); err != nil {
		return "", err
	}
	return out, nil
}

// SetUploadFiles attaches local files to a file input.
func (s *Session) SetUploadFiles(ctx context.Context, query string, kind locator.Kind, files []string) error {
	return s.run(ctx, chromedp.SetUploadFiles(query, files, kindOption(kind)))
}

// ExportCookies reads every cookie the browser currently holds.
func (s *Session) ExportCookies(ctx context.Context) ([]session.Cookie, error) {
	var out []session.Cookie
	err := s.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		cookies, err := storage.GetCookies().Do(cctx)
		if err != nil {
			return err
		}
		out = make([]session.Cookie, 0, len(cookies))
		for _, c := range cookies {
			rec := session.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Secure:   c.Secure,
				HTTPOnly: c.HTTPOnly,
			}
			if c.Expires > 0 {
				rec.Expires = time.Unix(int64(c.Expires), 0).UTC()
			}
			out = append(out, rec)
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("browser: exporting cookies: %w", err)
	}
	s.logger.Debug("Cookies exported", zap.Int("count", len(out)))
	return out, nil
}

// ImportCookies clears the browser's cookies and installs the given records.
// The caller reloads afterwards so the page picks them up.
func (s *Session) ImportCookies(ctx context.Context, cookies []session.Cookie) error {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if !c.Expires.IsZero() {
			expiry := cdp.TimeSinceEpoch(c.Expires)
			p.Expires = &expiry
		}
		params = append(params, p)
	}
	err := s.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		if err := storage.ClearCookies().Do(cctx); err != nil {
			return err
		}
		return storage.SetCookies(params).Do(cctx)
	}))
	if err != nil {
		return fmt.Errorf("browser: importing cookies: %w", err)
	}
	s.logger.Debug("Cookies imported", zap.Int("count", len(params)))
	return nil
}

// combineContext derives a context cancelled when either parent is done.
// chromedp requires the session context as the ancestor, so the secondary
// context is watched from a goroutine.
func combineContext(parent, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
