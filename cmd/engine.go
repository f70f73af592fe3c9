package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/kestrel4d/adpost/internal/backup"
	"github.com/kestrel4d/adpost/internal/batch"
	"github.com/kestrel4d/adpost/internal/browser"
	"github.com/kestrel4d/adpost/internal/fingerprint"
	"github.com/kestrel4d/adpost/internal/humanoid"
	"github.com/kestrel4d/adpost/internal/locator"
	"github.com/kestrel4d/adpost/internal/queue"
	"github.com/kestrel4d/adpost/internal/session"
	"github.com/kestrel4d/adpost/internal/workflow"
)

// engine is the fully wired posting stack behind the run, post and login
// commands.
type engine struct {
	queue     *queue.Store
	backups   *backup.Store
	browser   *browser.Session
	sessions  *session.Store
	machine   *workflow.Machine
	processor *batch.Processor
}

// openQueue wires the queue document and its backup directory, without
// launching a browser. Queue management commands stop here.
func openQueue(logger *zap.Logger) (*queue.Store, *backup.Store, error) {
	q, err := queue.Open(cfg.Queue.File, logger)
	if err != nil {
		return nil, nil, err
	}
	return q, backup.NewStore(cfg.Queue.BackupDir, logger), nil
}

// buildEngine launches the browser and assembles every layer of the posting
// stack. The returned cleanup must run before process exit.
func buildEngine(ctx context.Context, logger *zap.Logger) (*engine, func(), error) {
	q, backups, err := openQueue(logger)
	if err != nil {
		return nil, nil, err
	}

	seed := cfg.Batch.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	fpSeed := cfg.Fingerprint.Seed
	if fpSeed == 0 {
		fpSeed = seed
	}
	gen := fingerprint.NewGenerator(rand.New(rand.NewSource(fpSeed)),
		fingerprint.WithLocaleBias(cfg.Fingerprint.Locale, cfg.Fingerprint.LocaleBias))
	profile := gen.Generate()
	logger.Info("Fingerprint selected",
		zap.String("user_agent", profile.UserAgent), zap.String("timezone", profile.Timezone))

	sess, err := browser.NewSession(ctx, cfg.Browser, profile, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("launching browser: %w", err)
	}
	cleanup := func() { sess.Close() }

	sessions, err := session.NewStore(cfg.Session.CookiesFile, cfg.Target.Domain, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	bindings := locator.Merge(locator.DefaultBindings(), cfg.Workflow.Bindings)
	resolver := locator.NewResolver(bindings, cfg.Workflow.StrategyTimeout, logger)
	sim := humanoid.New(cfg.Humanoid, rng, nil, logger)

	machine := workflow.New(workflow.Config{
		BaseURL: cfg.Target.BaseURL,
		Profile: profile,
		Retry: workflow.RetryPolicy{
			MaxAttempts: cfg.Workflow.MaxAttempts,
			BaseBackoff: cfg.Workflow.BaseBackoff,
			MaxBackoff:  cfg.Workflow.MaxBackoff,
		},
	}, sess, resolver, sim, sessions, backups, nil, logger)

	processor := batch.New(batch.Config{
		ItemDelayMin: cfg.Batch.ItemDelayMin,
		ItemDelayMax: cfg.Batch.ItemDelayMax,
	}, machine, sess, q, rng, nil, logger)

	return &engine{
		queue:     q,
		backups:   backups,
		browser:   sess,
		sessions:  sessions,
		machine:   machine,
		processor: processor,
	}, cleanup, nil
}
