package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run idempotent schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := migrateOnce(cmd.Context()); err != nil {
			return err
		}
		zap.L().Info("migrations complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
