package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/distress-scanner/internal/store"
)

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "Register this scanner's signal types in the shared registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, closeFn, err := store.Dial(cmd.Context(), cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		defer closeFn()

		registered, err := st.RegisterSignalTypes(cmd.Context())
		if err != nil {
			return err
		}
		for code, id := range registered {
			fmt.Printf("%s\t%s\n", code, id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(signalsCmd)
}
