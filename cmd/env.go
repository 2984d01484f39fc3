package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/distress-scanner/internal/pass"
	"github.com/sells-group/distress-scanner/internal/scan"
	"github.com/sells-group/distress-scanner/internal/storage"
	"github.com/sells-group/distress-scanner/internal/store"
	"github.com/sells-group/distress-scanner/pkg/fema"
	"github.com/sells-group/distress-scanner/pkg/geocode"
	"github.com/sells-group/distress-scanner/pkg/landsat"
	"github.com/sells-group/distress-scanner/pkg/naip"
	"github.com/sells-group/distress-scanner/pkg/planetary"
	"github.com/sells-group/distress-scanner/pkg/planetlabs"
	"github.com/sells-group/distress-scanner/pkg/sentinelhub"
	"github.com/sells-group/distress-scanner/pkg/usps"
)

// dialer returns the fresh-connection dialer the batch passes use.
func dialer() pass.Dialer {
	return pass.DialDSN(cfg.Store.DatabaseURL)
}

// migrateOnce runs the migration groups on a short-lived connection.
func migrateOnce(ctx context.Context) error {
	st, closeFn, err := store.Dial(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return err
	}
	defer closeFn()
	return st.Migrate(ctx)
}

func newAerialClient() *naip.Client {
	return naip.NewClient(
		naip.WithBaseURL(cfg.NAIP.BaseURL),
		naip.WithCache(cfg.NAIP.CacheDir, 7*24*time.Hour),
	)
}

func newFloodClient() *fema.Client {
	return fema.NewClient(fema.WithBaseURL(cfg.FEMA.BaseURL))
}

func newArchiveClient() *planetary.Client {
	return planetary.NewClient(
		planetary.WithSTACURL(cfg.Planetary.STACURL),
		planetary.WithDataURL(cfg.Planetary.DataURL),
	)
}

func newSatelliteClient() (*sentinelhub.Client, error) {
	if cfg.SentinelHub.ClientID == "" || cfg.SentinelHub.ClientSecret == "" {
		return nil, eris.New("sentinelhub credentials not configured")
	}
	return sentinelhub.NewClient(
		cfg.SentinelHub.ClientID, cfg.SentinelHub.ClientSecret,
		sentinelhub.WithBaseURL(cfg.SentinelHub.BaseURL),
		sentinelhub.WithPerMinute(cfg.SentinelHub.PerMinute),
		sentinelhub.WithMonthlyBudget(cfg.SentinelHub.MonthlyBudget),
	), nil
}

func newFallbackClient() *landsat.Client {
	return landsat.NewClient(landsat.WithBaseURL(cfg.Landsat.BaseURL))
}

func newPlanetClient() *planetlabs.Client {
	return planetlabs.NewClient(cfg.Planet.APIKey)
}

func newArtifactStore() *storage.Store {
	return storage.New(cfg.Storage.Dir, cfg.Storage.PublicURL)
}

func newResolver() *geocode.Client {
	return geocode.NewClient(geocode.WithRateLimit(cfg.Geocode.RPS))
}

// newVacancyCheckers builds one checker per configured account.
func newVacancyCheckers(accounts []int) []pass.VacancyChecker {
	var out []pass.VacancyChecker
	for _, account := range accounts {
		id, secret := cfg.USPS.Credentials(account)
		opts := []usps.Option{
			usps.WithDelayRange(cfg.USPS.DelayMin, cfg.USPS.DelayMax),
		}
		if cfg.USPS.TestEnv {
			opts = append(opts, usps.WithTestEnv())
		}
		checker, err := usps.NewChecker(account, id, secret, opts...)
		if err != nil {
			zap.L().Warn("vacancy account skipped", zap.Int("account", account), zap.Error(err))
			continue
		}
		out = append(out, checker)
	}
	return out
}

func newScanner() *scan.Scanner {
	return scan.NewScanner(newAerialClient(), newFloodClient())
}

func newEnricher() (*scan.Enricher, *sentinelhub.Client) {
	primary, err := newSatelliteClient()
	if err != nil {
		zap.L().Warn("primary satellite unavailable, fallback only", zap.Error(err))
		return scan.NewEnricher(nil, newFallbackClient(), newArtifactStore()), nil
	}
	return scan.NewEnricher(primary, newFallbackClient(), newArtifactStore()), primary
}
