// Package workflow drives one listing through the remote site's posting flow
// as an explicit state machine. Each state owns a narrow slice of the page
// interaction; the machine owns sequencing, per-state retry with capped
// exponential backoff, and the mapping from low-level failures to the typed
// error recorded on the listing.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kestrel4d/adpost/internal/fingerprint"
	"github.com/kestrel4d/adpost/internal/humanoid"
	"github.com/kestrel4d/adpost/internal/listing"
	"github.com/kestrel4d/adpost/internal/locator"
	"github.com/kestrel4d/adpost/internal/session"
)

// State names a phase of the posting flow.
type State string

const (
	StateStart          State = "start"
	StateEnsureSession  State = "ensure_session"
	StateNavigate       State = "navigate"
	StateSelectCategory State = "select_category"
	StateSelectLocation State = "select_location"
	StateFillContent    State = "fill_content"
	StateReviewFields   State = "review_fields"
	StateSubmit         State = "submit"
	StateDone           State = "done"
	// StateManualLoginRequired is a handoff, not a failure: no stored
	// session works and a human must log in once with `adpost login`.
	StateManualLoginRequired State = "manual_login_required"
	StateError               State = "error"
)

// Browser is the full page capability the machine drives. *browser.Session
// implements it; workflow tests substitute a scripted fake.
type Browser interface {
	locator.Prober
	humanoid.Surface

	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	VisibleNow(ctx context.Context, query string, kind locator.Kind, timeout time.Duration) (bool, error)
	Value(ctx context.Context, query string, kind locator.Kind) (string, error)
	Text(ctx context.Context, query string, kind locator.Kind) (string, error)
	SetUploadFiles(ctx context.Context, query string, kind locator.Kind, files []string) error
	ExportCookies(ctx context.Context) ([]session.Cookie, error)
	ImportCookies(ctx context.Context, cookies []session.Cookie) error
}

// SessionStore is the slice of *session.Store the machine uses.
type SessionStore interface {
	Load() (*session.Session, error)
	Save(*session.Session) error
	Validate(*session.Session, session.PageSignal) bool
	Clear() error
}

// PhotoSource supplies backed-up photo paths for a listing whose own Photos
// list is empty. Optional; nil disables the lookup.
type PhotoSource interface {
	Photos(listingID string) ([]string, error)
}

// RetryPolicy bounds the retry loop for a single state.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Delay returns the backoff before retrying after the given 1-based attempt.
// Exponential in the attempt number, capped at MaxBackoff.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Config parameterizes one machine instance.
type Config struct {
	// BaseURL is the site entry point every run starts from.
	BaseURL string
	// Profile is the fingerprint the browser session was launched with; it
	// is persisted alongside captured cookies.
	Profile fingerprint.Profile
	Retry   RetryPolicy
	// SignalTimeout bounds each login-signal probe. Probes answer "is this
	// visible right now", so they stay much shorter than locator timeouts.
	SignalTimeout time.Duration
	// SubmitGrace is how long the machine watches the form after clicking
	// submit before concluding the submission went through.
	SubmitGrace time.Duration
}

// Outcome is the terminal result of one run.
type Outcome struct {
	// State is StateDone, StateManualLoginRequired, or StateError.
	State State
	// Err is set for every non-Done outcome.
	Err *listing.Error
}

// Succeeded reports whether the listing was posted.
func (o Outcome) Succeeded() bool { return o.State == StateDone }

// Machine executes the posting flow for one listing at a time. It is not
// safe for concurrent runs; the batch processor is single-worker.
type Machine struct {
	browser  Browser
	resolver *locator.Resolver
	sim      *humanoid.Simulator
	sessions SessionStore
	photos   PhotoSource
	sleeper  humanoid.Sleeper
	cfg      Config
	logger   *zap.Logger
}

// New assembles a machine. sleeper may be nil, in which case backoffs wait on
// the wall clock.
func New(cfg Config, browser Browser, resolver *locator.Resolver, sim *humanoid.Simulator,
	sessions SessionStore, photos PhotoSource, sleeper humanoid.Sleeper, logger *zap.Logger) *Machine {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseBackoff <= 0 {
		cfg.Retry.BaseBackoff = 2 * time.Second
	}
	if cfg.SignalTimeout <= 0 {
		cfg.SignalTimeout = 2 * time.Second
	}
	if cfg.SubmitGrace <= 0 {
		cfg.SubmitGrace = 5 * time.Second
	}
	if sleeper == nil {
		sleeper = humanoid.RealSleeper{}
	}
	return &Machine{
		browser:  browser,
		resolver: resolver,
		sim:      sim,
		sessions: sessions,
		photos:   photos,
		sleeper:  sleeper,
		cfg:      cfg,
		logger:   logger.Named("workflow"),
	}
}

// run carries the mutable state of one execution.
type run struct {
	item *listing.Listing
	sess *session.Session
	// submitAttempted latches once the submit control has been clicked.
	// The flow never clicks submit twice for the same listing, so a failure
	// after the click is terminal rather than retried.
	submitAttempted bool
}

type step struct {
	state State
	fn    func(ctx context.Context, r *run) error
}

func (m *Machine) steps() []step {
	return []step{
		{StateStart, m.start},
		{StateEnsureSession, m.ensureSession},
		{StateNavigate, m.navigatePostAd},
		{StateSelectCategory, m.selectCategory},
		{StateSelectLocation, m.selectLocation},
		{StateFillContent, m.fillContent},
		{StateReviewFields, m.reviewFields},
		{StateSubmit, m.submit},
	}
}

// Run drives the listing through every state in order and folds the result
// into an Outcome. The listing itself is not mutated; status transitions are
// the queue's job.
func (m *Machine) Run(ctx context.Context, item *listing.Listing) Outcome {
	r := &run{item: item}
	m.logger.Info("Run starting",
		zap.String("listing_id", item.ID), zap.String("title", item.Title))

	for _, st := range m.steps() {
		if err := ctx.Err(); err != nil {
			return m.failed(st.state, listing.ErrNetworkTimeout, fmt.Errorf("run cancelled: %w", err))
		}
		if err := m.runState(ctx, st, r); err != nil {
			if errors.Is(err, errManualLogin) {
				m.logger.Warn("Manual login required", zap.String("listing_id", item.ID))
				return Outcome{
					State: StateManualLoginRequired,
					Err: &listing.Error{
						Kind:    listing.ErrSessionInvalid,
						State:   string(st.state),
						Message: err.Error(),
					},
				}
			}
			return m.failed(st.state, classify(err), err)
		}
		m.logger.Debug("State complete",
			zap.String("listing_id", item.ID), zap.String("state", string(st.state)))
	}

	m.logger.Info("Run complete", zap.String("listing_id", item.ID))
	return Outcome{State: StateDone}
}

// runState executes one state under its retry policy. Each retry re-enters
// the state from scratch: partially applied states (a half-drilled location
// picker) are abandoned and redone, never resumed.
func (m *Machine) runState(ctx context.Context, st step, r *run) error {
	policy := m.policyFor(st.state)

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := st.fn(ctx, r)
		if err == nil {
			return nil
		}
		if errors.Is(err, errManualLogin) || ctx.Err() != nil {
			return err
		}
		lastErr = err
		kind := classify(err)
		if !retryable(kind) || attempt == policy.MaxAttempts {
			return err
		}
		backoff := policy.Delay(attempt)
		m.logger.Warn("State failed, retrying",
			zap.String("state", string(st.state)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		if serr := m.sleeper.Sleep(ctx, backoff); serr != nil {
			return serr
		}
	}
	return lastErr
}

// policyFor narrows the configured policy per state. Submit is never
// retried: a click that may have reached the site must not be repeated.
func (m *Machine) policyFor(st State) RetryPolicy {
	if st == StateSubmit {
		return RetryPolicy{MaxAttempts: 1}
	}
	return m.cfg.Retry
}

func (m *Machine) failed(st State, kind listing.ErrorKind, err error) Outcome {
	m.logger.Error("Run failed",
		zap.String("state", string(st)),
		zap.String("kind", string(kind)),
		zap.Error(err))
	return Outcome{
		State: StateError,
		Err: &listing.Error{
			Kind:    kind,
			State:   string(st),
			Message: err.Error(),
		},
	}
}
