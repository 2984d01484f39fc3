package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/distress-scanner/internal/store"
)

var (
	backfillCounty string
	backfillState  string
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Fill missing parcel coordinates from geometry centroids",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, closeFn, err := store.Dial(cmd.Context(), cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		defer closeFn()

		n, err := st.BackfillCoordinates(cmd.Context(), backfillCounty, backfillState)
		if err != nil {
			return err
		}
		fmt.Printf("backfilled=%d\n", n)
		return nil
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillCounty, "county", "", "county name (required)")
	backfillCmd.Flags().StringVar(&backfillState, "state", "NC", "state code")
	_ = backfillCmd.MarkFlagRequired("county")
	rootCmd.AddCommand(backfillCmd)
}
