package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kestrel4d/adpost/internal/listing"
	"github.com/kestrel4d/adpost/internal/observability"
)

func newQueueCmd() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Manage the listing queue",
	}
	queueCmd.AddCommand(newQueueAddCmd(), newQueueListCmd(), newQueueRetryCmd())
	return queueCmd
}

func newQueueAddCmd() *cobra.Command {
	var (
		title       string
		description string
		price       string
		category    string
		condition   string
		country     string
		county      string
		area        string
		photos      []string
	)

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a listing to the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			pence, err := listing.ParsePrice(price)
			if err != nil {
				return err
			}

			l := listing.New(title, description, pence)
			l.Category = category
			l.Condition = listing.Condition(condition)
			l.Location = listing.Location{Country: country, County: county, Area: area}
			l.Photos = photos

			if err := l.Validate(); err != nil {
				return err
			}
			if err := listing.ValidateLocation(l.Location); err != nil {
				return err
			}

			q, backups, err := openQueue(logger)
			if err != nil {
				return err
			}
			if err := q.Add(l); err != nil {
				return err
			}
			if err := backups.Save(l); err != nil {
				// The queue entry is the source of truth; a failed backup is
				// worth a warning, not a rollback.
				logger.Warn("Backup failed", zap.String("listing_id", l.ID), zap.Error(err))
			}

			fmt.Printf("queued %s: %s\n", l.ID, l.Title)
			return nil
		},
	}

	addCmd.Flags().StringVar(&title, "title", "", "listing title (required)")
	addCmd.Flags().StringVar(&description, "description", "", "listing description")
	addCmd.Flags().StringVar(&price, "price", "0", "price, e.g. 12.50 or £12.50")
	addCmd.Flags().StringVar(&category, "category", "", "category search query (defaults to title)")
	addCmd.Flags().StringVar(&condition, "condition", string(listing.ConditionNew), "condition: New, Used or Refurbished")
	addCmd.Flags().StringVar(&country, "country", "England", "location country")
	addCmd.Flags().StringVar(&county, "county", "", "location county (required)")
	addCmd.Flags().StringVar(&area, "area", "", "location area (optional third level)")
	addCmd.Flags().StringArrayVar(&photos, "photo", nil, "photo file path, repeatable")
	_ = addCmd.MarkFlagRequired("title")
	_ = addCmd.MarkFlagRequired("county")

	return addCmd
}

func newQueueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show every listing and its status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, _, err := openQueue(observability.GetLogger())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tATTEMPTS\tTITLE\tLAST ERROR")
			for _, l := range q.Snapshot() {
				lastErr := ""
				if l.LastError != nil {
					lastErr = string(l.LastError.Kind)
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", l.ID, l.Status, l.Attempts, l.Title, lastErr)
			}
			return w.Flush()
		},
	}
}

func newQueueRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <listing-id>",
		Short: "Return a failed listing to the pending pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, _, err := openQueue(observability.GetLogger())
			if err != nil {
				return err
			}
			if err := q.ResetFailed(args[0]); err != nil {
				return err
			}
			fmt.Printf("listing %s is pending again\n", args[0])
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(newQueueCmd())
}
