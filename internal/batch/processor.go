// Package batch walks the pending queue through the posting workflow, one
// listing at a time. It owns the status transitions around each run, the
// human-scale pause between items, and the decision of when a failure is the
// item's problem versus the whole batch's.
package batch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kestrel4d/adpost/internal/humanoid"
	"github.com/kestrel4d/adpost/internal/listing"
	"github.com/kestrel4d/adpost/internal/workflow"
)

// ErrManualLoginRequired stops the batch when a run hands off to a human:
// every remaining item would hit the same wall.
var ErrManualLoginRequired = errors.New("batch: manual login required")

// FatalError wraps the failure that aborted a batch mid-way, typically a
// crashed browser process.
type FatalError struct {
	ListingID string
	Err       error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("batch: fatal failure on listing %s: %v", e.ListingID, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Runner is the workflow capability the processor drives.
type Runner interface {
	Run(ctx context.Context, item *listing.Listing) workflow.Outcome
}

// Health reports whether the shared browser session is still alive. A dead
// session fails every subsequent run, so the processor stops instead.
type Health interface {
	Crashed() bool
}

// Queue is the slice of *queue.Store the processor needs.
type Queue interface {
	Pending() []listing.Listing
	UpdateStatus(id string, to listing.Status, lerr *listing.Error) error
}

// Config bounds the pause between consecutive items. The pause applies after
// every run, successful or not, so failures do not compress the cadence.
type Config struct {
	ItemDelayMin time.Duration
	ItemDelayMax time.Duration
}

// Summary is the tally of one ProcessAll pass.
type Summary struct {
	Completed        int
	Failed           int
	PendingRemaining int
}

// Processor runs queued listings sequentially through a Runner.
type Processor struct {
	runner  Runner
	health  Health
	queue   Queue
	cfg     Config
	rng     *rand.Rand
	limiter *rate.Limiter
	sleeper humanoid.Sleeper
	logger  *zap.Logger
}

// New builds a processor. The limiter enforces the minimum spacing between
// item starts even if callers invoke ProcessOne in a tight loop; the jitter
// on top of it comes from rng.
func New(cfg Config, runner Runner, health Health, q Queue, rng *rand.Rand,
	sleeper humanoid.Sleeper, logger *zap.Logger) *Processor {
	if cfg.ItemDelayMin <= 0 {
		cfg.ItemDelayMin = 45 * time.Second
	}
	if cfg.ItemDelayMax < cfg.ItemDelayMin {
		cfg.ItemDelayMax = cfg.ItemDelayMin
	}
	if sleeper == nil {
		sleeper = humanoid.RealSleeper{}
	}
	limiter := rate.NewLimiter(rate.Every(cfg.ItemDelayMin), 1)
	return &Processor{
		runner:  runner,
		health:  health,
		queue:   q,
		cfg:     cfg,
		rng:     rng,
		limiter: limiter,
		sleeper: sleeper,
		logger:  logger.Named("batch"),
	}
}

// ProcessAll drains the pending queue in order. An item failure marks that
// item failed and the batch moves on; the batch itself stops only on
// cancellation, a manual-login handoff, or a dead browser.
func (p *Processor) ProcessAll(ctx context.Context) (Summary, error) {
	pending := p.queue.Pending()
	p.logger.Info("Batch starting", zap.Int("pending", len(pending)))

	var sum Summary
	for i, item := range pending {
		if err := ctx.Err(); err != nil {
			sum.PendingRemaining = len(pending) - i
			return sum, err
		}
		// The limiter keys the minimum gap off item starts, so a fast or
		// failed run never compresses the cadence below ItemDelayMin.
		if err := p.limiter.Wait(ctx); err != nil {
			sum.PendingRemaining = len(pending) - i
			return sum, err
		}

		item := item
		outcome, err := p.processItem(ctx, &item)
		if err != nil {
			sum.PendingRemaining = len(pending) - i - 1
			if outcome.Succeeded() {
				sum.Completed++
			} else {
				sum.Failed++
			}
			return sum, err
		}
		if outcome.Succeeded() {
			sum.Completed++
		} else {
			sum.Failed++
		}

		if i < len(pending)-1 {
			if err := p.pause(ctx); err != nil {
				sum.PendingRemaining = len(pending) - i - 1
				return sum, err
			}
		}
	}

	p.logger.Info("Batch complete",
		zap.Int("completed", sum.Completed), zap.Int("failed", sum.Failed))
	return sum, nil
}

// ProcessOne runs a single pending listing immediately, without the batch
// pause. Used by the one-shot posting command.
func (p *Processor) ProcessOne(ctx context.Context, id string) (workflow.Outcome, error) {
	for _, item := range p.queue.Pending() {
		if item.ID != id {
			continue
		}
		item := item
		return p.processItem(ctx, &item)
	}
	return workflow.Outcome{}, fmt.Errorf("batch: listing %s is not pending", id)
}

// processItem owns the status bracket around one run: Processing is persisted
// before the workflow starts, the terminal status after it ends. The returned
// error is nil for per-item failures; it is set only when the batch must stop.
func (p *Processor) processItem(ctx context.Context, item *listing.Listing) (workflow.Outcome, error) {
	if err := p.queue.UpdateStatus(item.ID, listing.StatusProcessing, nil); err != nil {
		return workflow.Outcome{}, fmt.Errorf("batch: marking %s processing: %w", item.ID, err)
	}

	outcome := p.runner.Run(ctx, item)

	if outcome.Succeeded() {
		if err := p.queue.UpdateStatus(item.ID, listing.StatusCompleted, nil); err != nil {
			return outcome, fmt.Errorf("batch: marking %s completed: %w", item.ID, err)
		}
		return outcome, nil
	}

	if err := p.queue.UpdateStatus(item.ID, listing.StatusFailed, outcome.Err); err != nil {
		return outcome, fmt.Errorf("batch: marking %s failed: %w", item.ID, err)
	}
	p.logger.Warn("Listing failed",
		zap.String("listing_id", item.ID),
		zap.String("state", string(outcome.State)),
		zap.Error(outcome.Err))

	if outcome.State == workflow.StateManualLoginRequired {
		return outcome, ErrManualLoginRequired
	}
	if p.health != nil && p.health.Crashed() {
		return outcome, &FatalError{ListingID: item.ID, Err: errors.New("browser session lost")}
	}
	return outcome, nil
}

// pause adds the jitter that stretches the inter-item gap from the limiter's
// floor toward the configured maximum.
func (p *Processor) pause(ctx context.Context) error {
	span := p.cfg.ItemDelayMax - p.cfg.ItemDelayMin
	if span <= 0 {
		return nil
	}
	jitter := time.Duration(p.rng.Int63n(int64(span)))
	p.logger.Debug("Pausing between listings", zap.Duration("jitter", jitter))
	return p.sleeper.Sleep(ctx, jitter)
}
