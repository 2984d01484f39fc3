package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/distress-scanner/internal/pass"
	"github.com/sells-group/distress-scanner/internal/store"
)

var (
	slopeCounty        string
	slopeState         string
	slopeLimit         int
	slopeWorkers       int
	slopeFlush         int
	slopeCompositeOnly bool
)

var slopeCmd = &cobra.Command{
	Use:   "slope",
	Short: "Pass 1.5: historical NDVI slope + county composite",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := migrateOnce(ctx); err != nil {
			return err
		}

		p := &pass.SlopePass{
			Dial:    dialer(),
			Archive: newArchiveClient(),
			Selection: store.SelectionFilter{
				County:    slopeCounty,
				StateCode: slopeState,
				Limit:     slopeLimit,
			},
			Workers:       slopeWorkers,
			FlushEvery:    slopeFlush,
			CompositeOnly: slopeCompositeOnly,
		}
		summary, err := p.Run(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("processed=%d with_slope=%d errors=%d flushed=%d\n",
			summary.Scanned, summary.Flagged, summary.Errors, summary.Flushed)
		return nil
	},
}

func init() {
	slopeCmd.Flags().StringVar(&slopeCounty, "county", "", "county name (required)")
	slopeCmd.Flags().StringVar(&slopeState, "state", "", "state code")
	slopeCmd.Flags().IntVar(&slopeLimit, "limit", 0, "max parcels to process")
	slopeCmd.Flags().IntVar(&slopeWorkers, "workers", 2, "worker pool size")
	slopeCmd.Flags().IntVar(&slopeFlush, "flush-every", 50, "flush to DB every N results")
	slopeCmd.Flags().BoolVar(&slopeCompositeOnly, "composite-only", false,
		"skip slope computation, only recompute composites from existing slopes")
	_ = slopeCmd.MarkFlagRequired("county")
	rootCmd.AddCommand(slopeCmd)
}
