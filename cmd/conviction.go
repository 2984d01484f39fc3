package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/distress-scanner/internal/pass"
)

var (
	convictionCounty         string
	convictionState          string
	convictionDryRun         bool
	convictionSkipMotivation bool
)

var convictionCmd = &cobra.Command{
	Use:   "conviction",
	Short: "Pass 2.5: fuse composite, motivation signals, and vacancy into conviction scores",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := migrateOnce(ctx); err != nil {
			return err
		}

		p := &pass.ConvictionPass{
			Dial:           dialer(),
			County:         convictionCounty,
			StateCode:      convictionState,
			SkipMotivation: convictionSkipMotivation,
			DryRun:         convictionDryRun,
		}
		summary, err := p.Run(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("parcels=%d scored=%d flushed=%d\n",
			summary.Scanned, summary.Flagged, summary.Flushed)
		return nil
	},
}

func init() {
	convictionCmd.Flags().StringVar(&convictionCounty, "county", "", "county name (required)")
	convictionCmd.Flags().StringVar(&convictionState, "state", "NC", "state code")
	convictionCmd.Flags().BoolVar(&convictionDryRun, "dry-run", false, "compute but don't write")
	convictionCmd.Flags().BoolVar(&convictionSkipMotivation, "skip-motivation", false,
		"skip the motivation_scores backfill")
	_ = convictionCmd.MarkFlagRequired("county")
	rootCmd.AddCommand(convictionCmd)
}
