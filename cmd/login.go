package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kestrel4d/adpost/internal/locator"
	"github.com/kestrel4d/adpost/internal/observability"
	"github.com/kestrel4d/adpost/internal/session"
)

func newLoginCmd() *cobra.Command {
	var wait time.Duration

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Open a visible browser, log in by hand, and save the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			// The whole point is a human at the keyboard, so headless is
			// overridden no matter what the config says.
			cfg.Browser.Headless = false

			eng, cleanup, err := buildEngine(ctx, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := eng.browser.Navigate(ctx, cfg.Target.BaseURL); err != nil {
				return err
			}
			fmt.Printf("log in within the browser window; waiting up to %s\n", wait)

			deadline, cancel := context.WithTimeout(ctx, wait)
			defer cancel()
			if err := awaitLogin(deadline, eng, logger); err != nil {
				return err
			}

			cookies, err := eng.browser.ExportCookies(ctx)
			if err != nil {
				return err
			}
			s := &session.Session{
				Cookies:  cookies,
				Profile:  eng.browser.Profile(),
				Validity: session.ValidityValid,
			}
			if err := eng.sessions.Save(s); err != nil {
				return err
			}
			fmt.Printf("session saved (%d cookies)\n", len(cookies))
			return nil
		},
	}

	loginCmd.Flags().DurationVar(&wait, "wait", 5*time.Minute, "how long to wait for the manual login")
	return loginCmd
}

// awaitLogin polls the page for the signed-in account menu until it appears
// or the context runs out.
func awaitLogin(ctx context.Context, eng *engine, logger *zap.Logger) error {
	bindings := locator.Merge(locator.DefaultBindings(), cfg.Workflow.Bindings)
	strategies := bindings[locator.TargetLoginIndicator]

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("no login detected: %w", err)
		}
		for _, s := range strategies {
			query, kind := s.Compile("")
			visible, err := eng.browser.VisibleNow(ctx, query, kind, 2*time.Second)
			if err != nil {
				return err
			}
			if visible {
				logger.Info("Login detected")
				return nil
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(newLoginCmd())
}
