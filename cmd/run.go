package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kestrel4d/adpost/internal/batch"
	"github.com/kestrel4d/adpost/internal/observability"
	"github.com/kestrel4d/adpost/internal/queue"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Process every pending listing in the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			eng, cleanup, err := buildEngine(ctx, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			eng.queue.Subscribe(func(ev queue.Event) {
				fmt.Printf("%s  %s -> %s\n", ev.ID, ev.From, ev.To)
			})

			var summary batch.Summary
			g, gctx := errgroup.WithContext(ctx)
			done := make(chan struct{})
			g.Go(func() error {
				defer close(done)
				var perr error
				summary, perr = eng.processor.ProcessAll(gctx)
				return perr
			})
			g.Go(func() error {
				heartbeat(gctx, done, time.Minute, logger, func() int {
					return len(eng.queue.Pending())
				})
				return nil
			})
			err = g.Wait()

			fmt.Printf("completed: %d  failed: %d  remaining: %d\n",
				summary.Completed, summary.Failed, summary.PendingRemaining)

			if errors.Is(err, batch.ErrManualLoginRequired) {
				fmt.Println("stored session is no longer valid; run `adpost login` and retry")
				return err
			}
			if errors.Is(err, context.Canceled) {
				logger.Warn("Batch interrupted")
				return nil
			}
			return err
		},
	}
}

// heartbeat logs batch progress on every tick. It exits when done closes,
// which the processor goroutine guarantees even on a clean finish; the
// group context only fires on error or interrupt.
func heartbeat(ctx context.Context, done <-chan struct{}, interval time.Duration, logger *zap.Logger, pending func() int) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			logger.Info("Batch in progress", zap.Int("pending", pending()))
		}
	}
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}
