package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/distress-scanner/internal/api"
	"github.com/sells-group/distress-scanner/internal/scan"
	"github.com/sells-group/distress-scanner/internal/store"
	"github.com/sells-group/distress-scanner/pkg/usps"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the query surface and on-demand scan endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, closePool, err := store.NewPool(ctx, cfg.Store.DatabaseURL,
			cfg.Store.MaxConns, cfg.Store.MinConns)
		if err != nil {
			return err
		}
		defer closePool()

		if err := st.Migrate(ctx); err != nil {
			return err
		}

		aerial := newAerialClient()
		enricher, _ := newEnricher()
		server := &api.Server{
			Store:     st,
			Scanner:   scan.NewScanner(aerial, newFloodClient()),
			Enricher:  enricher,
			Imagery:   aerial,
			Archive:   newArchiveClient(),
			Planet:    newPlanetClient(),
			Resolver:  newResolver(),
			Artifacts: newArtifactStore(),

			PlanetEnabled:      cfg.Planet.Enabled,
			PlanetCooldownDays: cfg.Planet.CooldownDays,
			MapsBrowserKey:     cfg.Maps.BrowserKey,
		}

		if id, secret := cfg.USPS.Credentials(1); id != "" && secret != "" {
			checker, err := usps.NewChecker(1, id, secret,
				usps.WithDelayRange(cfg.USPS.DelayMin, cfg.USPS.DelayMax))
			if err == nil {
				server.Vacancy = checker
			}
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: server.Router(),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
