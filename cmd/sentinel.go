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
	sentinelCounty string
	sentinelState  string
	sentinelLimit  int
	sentinelRate   int
	sentinelMonths int
	sentinelFlush  int
	sentinelMaxReq int
)

var sentinelCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Pass 1.5b: satellite trend enrichment of sentinel-worthy parcels",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := migrateOnce(ctx); err != nil {
			return err
		}

		months := sentinelMonths
		if months == 0 {
			months = cfg.Scan.SentinelMonths
		}
		ratePerMin := sentinelRate
		if ratePerMin == 0 {
			ratePerMin = cfg.Scan.SentinelRate
		}

		enricher, primary := newEnricher()
		p := &pass.SentinelPass{
			Dial:     dialer(),
			Enricher: enricher,
			Selection: store.SelectionFilter{
				County:    sentinelCounty,
				StateCode: sentinelState,
				Limit:     sentinelLimit,
			},
			Months:      months,
			RatePerMin:  ratePerMin,
			FlushEvery:  sentinelFlush,
			MaxRequests: sentinelMaxReq,
		}
		if primary != nil {
			p.RequestCount = primary.Requests
		}

		summary, err := p.Run(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("enriched=%d errors=%d skipped=%d flushed=%d\n",
			summary.Scanned, summary.Errors, summary.Skipped, summary.Flushed)
		return nil
	},
}

func init() {
	sentinelCmd.Flags().StringVar(&sentinelCounty, "county", "", "county name (required)")
	sentinelCmd.Flags().StringVar(&sentinelState, "state", "", "state code")
	sentinelCmd.Flags().IntVar(&sentinelLimit, "limit", 0, "max parcels to enrich")
	sentinelCmd.Flags().IntVar(&sentinelRate, "rate", 0, "target parcels per minute (default from config)")
	sentinelCmd.Flags().IntVar(&sentinelMonths, "months", 0, "lookback window in months (default from config)")
	sentinelCmd.Flags().IntVar(&sentinelFlush, "flush-every", 50, "flush to DB every N results")
	sentinelCmd.Flags().IntVar(&sentinelMaxReq, "max-requests", 0, "hard cap on satellite API requests")
	_ = sentinelCmd.MarkFlagRequired("county")
	rootCmd.AddCommand(sentinelCmd)
}
