package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrel4d/adpost/internal/observability"
)

func newPostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "post <listing-id>",
		Short: "Post a single pending listing immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			eng, cleanup, err := buildEngine(ctx, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			outcome, err := eng.processor.ProcessOne(ctx, args[0])
			if err != nil {
				return err
			}
			if !outcome.Succeeded() {
				return fmt.Errorf("listing %s failed in %s: %v", args[0], outcome.State, outcome.Err)
			}
			fmt.Printf("listing %s posted\n", args[0])
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(newPostCmd())
}
