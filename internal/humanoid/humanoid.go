// Package humanoid executes logical input actions (type, click, select) with
// human-plausible timing. All randomness flows through an injected rand
// source and all waiting through an injected Sleeper, so tests run
// deterministically and without real sleeping.
package humanoid

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/kestrel4d/adpost/internal/locator"
)

// ControlKey constants for the non-printing keys the simulator emits.
const (
	KeyBackspace = "\b"
	KeyEnter     = "\r"
	KeyEscape    = "\x1b"
)

// Surface is the page capability the simulator drives. The browser session
// implements it; tests substitute a recording fake.
type Surface interface {
	// Click clicks the element matching the query.
	Click(ctx context.Context, query string, kind locator.Kind) error
	// Focus gives the element keyboard focus without clicking.
	Focus(ctx context.Context, query string, kind locator.Kind) error
	// SendKeys dispatches key events to the focused element.
	SendKeys(ctx context.Context, keys string) error
	// ClearValue empties an input before typing into it.
	ClearValue(ctx context.Context, query string, kind locator.Kind) error
	// SetSelect chooses an option of a select element by visible value.
	SetSelect(ctx context.Context, query string, kind locator.Kind, value string) error
}

// Sleeper abstracts context-aware waiting.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RealSleeper sleeps on the wall clock, honoring cancellation.
type RealSleeper struct{}

func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Config tunes the simulator's timing and error model.
type Config struct {
	// KeyDelayMeanMs and KeyDelayStdDevMs shape the normal distribution the
	// inter-key delay is drawn from. KeyDelayMinMs clamps the low end.
	KeyDelayMeanMs   float64 `mapstructure:"key_delay_mean_ms"`
	KeyDelayStdDevMs float64 `mapstructure:"key_delay_std_dev_ms"`
	KeyDelayMinMs    float64 `mapstructure:"key_delay_min_ms"`
	// TypoRate is the per-character probability of a self-corrected typo.
	TypoRate float64 `mapstructure:"typo_rate"`
	// SettleMinMs / SettleMaxMs bound the pause before a click or select.
	SettleMinMs int `mapstructure:"settle_min_ms"`
	SettleMaxMs int `mapstructure:"settle_max_ms"`
}

// DefaultConfig mirrors measured casual-typist timing.
func DefaultConfig() Config {
	return Config{
		KeyDelayMeanMs:   70,
		KeyDelayStdDevMs: 28,
		KeyDelayMinMs:    35,
		TypoRate:         0.04,
		SettleMinMs:      150,
		SettleMaxMs:      450,
	}
}

// Simulator performs humanized input actions against a Surface.
type Simulator struct {
	cfg     Config
	rng     *rand.Rand
	sleeper Sleeper
	logger  *zap.Logger
}

// New creates a Simulator. rng must not be shared with concurrent users; the
// engine is single-worker so one source per simulator is enough.
func New(cfg Config, rng *rand.Rand, sleeper Sleeper, logger *zap.Logger) *Simulator {
	if sleeper == nil {
		sleeper = RealSleeper{}
	}
	return &Simulator{
		cfg:     cfg,
		rng:     rng,
		sleeper: sleeper,
		logger:  logger.Named("humanoid"),
	}
}

// Click settles briefly, then performs a single click on the matched element.
func (s *Simulator) Click(ctx context.Context, page Surface, m locator.Match) error {
	if err := s.settle(ctx); err != nil {
		return err
	}
	return page.Click(ctx, m.Query, m.Kind)
}

// Select settles, then chooses value in the matched select control.
func (s *Simulator) Select(ctx context.Context, page Surface, m locator.Match, value string) error {
	if err := s.settle(ctx); err != nil {
		return err
	}
	return page.SetSelect(ctx, m.Query, m.Kind, value)
}

// settle waits a uniform random pause within the configured range, modeling
// the gap between deciding on an action and performing it.
func (s *Simulator) settle(ctx context.Context) error {
	lo, hi := s.cfg.SettleMinMs, s.cfg.SettleMaxMs
	if hi <= lo {
		return s.sleeper.Sleep(ctx, time.Duration(lo)*time.Millisecond)
	}
	d := lo + s.rng.Intn(hi-lo)
	return s.sleeper.Sleep(ctx, time.Duration(d)*time.Millisecond)
}
