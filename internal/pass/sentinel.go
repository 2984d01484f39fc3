package pass

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/distress-scanner/internal/model"
	"github.com/sells-group/distress-scanner/internal/scan"
	"github.com/sells-group/distress-scanner/internal/store"
)

// SentinelPass is Pass 1.5b: satellite trend enrichment of sentinel_worthy
// parcels, one at a time under an adaptive throttle bounded by the
// satellite client's per-minute budget, advancing scan_pass to 2.
type SentinelPass struct {
	Dial      Dialer
	Enricher  *scan.Enricher
	Selection store.SelectionFilter

	Months      int
	RatePerMin  int
	FlushEvery  int
	MaxRequests int // hard cap on primary-satellite requests; 0 = unlimited

	// RequestCount reads the primary client's request counter for the cap.
	RequestCount func() int64

	// Sleep is injectable for tests.
	Sleep func(ctx context.Context, d time.Duration)
}

// Run executes the enrichment sweep, highest distress first.
func (p *SentinelPass) Run(ctx context.Context) (Summary, error) {
	sel, closeSel, err := p.Dial(ctx)
	if err != nil {
		return Summary{}, err
	}
	parcels, err := sel.SentinelWorthyParcels(ctx, p.Selection)
	closeSel()
	if err != nil {
		return Summary{}, err
	}

	zap.L().Info("pass 1.5b selection",
		zap.String("county", p.Selection.County), zap.Int("parcels", len(parcels)))
	if len(parcels) == 0 {
		return Summary{}, nil
	}

	buf := newBuffer(p.FlushEvery, func(ctx context.Context, batch []model.SentinelResult) (int, error) {
		st, closeFn, err := p.Dial(ctx)
		if err != nil {
			return 0, err
		}
		defer closeFn()
		return st.BatchUpdateSentinelResults(ctx, batch)
	})

	sleep := p.Sleep
	if sleep == nil {
		sleep = func(ctx context.Context, d time.Duration) {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
		}
	}

	rate := p.RatePerMin
	if rate <= 0 {
		rate = 40
	}
	delay := time.Minute / time.Duration(rate)
	backoff := 1.0

	summary := Summary{}
	for _, parcel := range parcels {
		if ctx.Err() != nil {
			break
		}
		if p.MaxRequests > 0 && p.RequestCount != nil && p.RequestCount() >= int64(p.MaxRequests) {
			zap.L().Warn("satellite request cap reached", zap.Int("cap", p.MaxRequests))
			summary.Skipped += len(parcels) - summary.Scanned - summary.Errors
			break
		}

		loopStart := time.Now()

		enrichment := p.Enricher.Enrich(ctx, parcel.Latitude, parcel.Longitude, p.Months)
		if enrichment.Trend.MonthsData == 0 && len(enrichment.Errors) > 0 {
			summary.Errors++
			// Rate-limit or server pressure widens the throttle; success
			// narrows it back toward the floor.
			if anyTransient(enrichment.Errors) {
				backoff = math.Min(backoff*2, 10)
				zap.L().Warn("throttle widened", zap.Float64("backoff", backoff))
			}
		} else {
			result := p.Enricher.Rescore(parcel, enrichment)
			buf.add(ctx, result)
			summary.Scanned++
			backoff = math.Max(backoff*0.9, 1.0)
		}

		elapsed := time.Since(loopStart)
		target := time.Duration(float64(delay) * backoff)
		if elapsed < target {
			sleep(ctx, target-elapsed)
		}
	}

	buf.flush(ctx)
	summary.Flushed = buf.flushedCount()

	zap.L().Info("pass 1.5b complete",
		zap.Int("enriched", summary.Scanned),
		zap.Int("errors", summary.Errors),
		zap.Int("skipped", summary.Skipped),
		zap.Int("flushed", summary.Flushed))
	return summary, nil
}

func anyTransient(errs []string) bool {
	for _, e := range errs {
		for _, code := range []string{"429", "500", "502", "503", "504"} {
			if strings.Contains(e, "status "+code) {
				return true
			}
		}
	}
	return false
}
