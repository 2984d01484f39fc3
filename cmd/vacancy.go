package main

import (
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/distress-scanner/internal/backup"
	"github.com/sells-group/distress-scanner/internal/model"
	"github.com/sells-group/distress-scanner/internal/pass"
	"github.com/sells-group/distress-scanner/internal/store"
)

var (
	vacancyCounty       string
	vacancyState        string
	vacancyClass        string
	vacancyLimit        int
	vacancyMinComposite float64
	vacancyAccounts     string
	vacancyCacheDays    int
	vacancyFlush        int
	vacancyReplay       bool
	vacancySpillPath    string
	vacancyLockPath     string
)

var vacancyCmd = &cobra.Command{
	Use:   "vacancy",
	Short: "Pass 2: carrier vacancy enrichment of top composite leads",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := migrateOnce(ctx); err != nil {
			return err
		}

		if vacancyReplay {
			return replaySpill(cmd)
		}

		var accounts []int
		for _, a := range strings.Split(vacancyAccounts, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(a))
			if err != nil {
				return fmt.Errorf("invalid account number %q", a)
			}
			accounts = append(accounts, n)
		}

		minComposite := vacancyMinComposite
		if minComposite == 0 {
			minComposite = cfg.Scan.MinComposite
		}
		cacheDays := vacancyCacheDays
		if cacheDays == 0 {
			cacheDays = cfg.Scan.VacancyCacheDays
		}

		p := &pass.VacancyPass{
			Dial:     dialer(),
			Checkers: newVacancyCheckers(accounts),
			Resolver: newResolver(),
			Selection: store.VacancySelection{
				SelectionFilter: store.SelectionFilter{
					County:        vacancyCounty,
					StateCode:     vacancyState,
					PropertyClass: vacancyClass,
					Limit:         vacancyLimit,
				},
				MinComposite: minComposite,
				CacheDays:    cacheDays,
			},
			FlushEvery: vacancyFlush,
			LockPath:   vacancyLockPath,
			SpillPath:  vacancySpillPath,
		}
		summary, err := p.Run(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("checked=%d vacant=%d errors=%d skipped=%d flushed=%d\n",
			summary.Scanned, summary.Flagged, summary.Errors, summary.Skipped, summary.Flushed)
		return nil
	},
}

// replaySpill pushes spilled vacancy results to the primary store after a
// database outage.
func replaySpill(cmd *cobra.Command) error {
	ctx := cmd.Context()

	spill, err := backup.Open(vacancySpillPath)
	if err != nil {
		return err
	}
	defer spill.Close() //nolint:errcheck

	pending, ids, err := backup.Pending[model.VacancyUpdate](ctx, spill)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("nothing to replay")
		return nil
	}

	st, closeFn, err := store.Dial(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := st.BatchUpdateVacancyResults(ctx, pending)
	if err != nil {
		return err
	}
	if err := spill.MarkReplayed(ctx, ids); err != nil {
		return err
	}

	zap.L().Info("spill replayed", zap.Int("rows", n))
	fmt.Printf("replayed=%d\n", n)
	return nil
}

func init() {
	vacancyCmd.Flags().StringVar(&vacancyCounty, "county", "", "county name (required unless --replay)")
	vacancyCmd.Flags().StringVar(&vacancyState, "state", "", "state code")
	vacancyCmd.Flags().StringVar(&vacancyClass, "property-class", "", "filter by property class")
	vacancyCmd.Flags().IntVar(&vacancyLimit, "limit", 500, "max parcels to check")
	vacancyCmd.Flags().Float64Var(&vacancyMinComposite, "min-composite", 0,
		"minimum distress composite (default from config)")
	vacancyCmd.Flags().StringVar(&vacancyAccounts, "accounts", "1",
		"comma-separated credential account numbers")
	vacancyCmd.Flags().IntVar(&vacancyCacheDays, "cache-days", 0,
		"skip parcels checked within this many days (default from config)")
	vacancyCmd.Flags().IntVar(&vacancyFlush, "flush-every", 20, "flush to DB every N results")
	vacancyCmd.Flags().BoolVar(&vacancyReplay, "replay", false,
		"replay the local spill store into the database")
	vacancyCmd.Flags().StringVar(&vacancySpillPath, "spill", "data/vacancy_spill.db",
		"local spill store path")
	vacancyCmd.Flags().StringVar(&vacancyLockPath, "lock", "/tmp/distress-scanner-vacancy.lock",
		"run lock path")
	rootCmd.AddCommand(vacancyCmd)
}
