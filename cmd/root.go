package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/distress-scanner/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "distress-scanner",
	Short: "Property distress signal scanner",
	Long:  "Detects early property-distress signals across county parcel inventories by fusing aerial and satellite NDVI, flood hazard layers, carrier vacancy flags, and motivation signals into distress and conviction scores.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
