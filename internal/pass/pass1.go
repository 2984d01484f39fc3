package pass

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/distress-scanner/internal/model"
	"github.com/sells-group/distress-scanner/internal/scan"
	"github.com/sells-group/distress-scanner/internal/store"
)

// Pass1 is the bulk NDVI + flood scan: free sources only, ten workers
// sharing one HTTP session, ~10 parcels/s.
type Pass1 struct {
	Dial       Dialer
	Scanner    *scan.Scanner
	Selection  store.SelectionFilter
	Workers    int
	FlushEvery int
}

// Run executes Pass 1 over the county selection. Cancellation is
// cooperative: in-flight parcels finish, the buffer flushes, and the
// summary reports what landed.
func (p *Pass1) Run(ctx context.Context) (Summary, error) {
	sel, closeSel, err := p.Dial(ctx)
	if err != nil {
		return Summary{}, err
	}
	parcels, err := sel.UnscannedParcels(ctx, p.Selection)
	closeSel()
	if err != nil {
		return Summary{}, err
	}

	zap.L().Info("pass 1 selection",
		zap.String("county", p.Selection.County), zap.Int("parcels", len(parcels)))
	if len(parcels) == 0 {
		return Summary{}, nil
	}

	buf := newBuffer(p.FlushEvery, func(ctx context.Context, batch []model.ScanResult) (int, error) {
		st, closeFn, err := p.Dial(ctx)
		if err != nil {
			return 0, err
		}
		defer closeFn()
		return st.BatchUpdateScanResults(ctx, batch)
	})

	var scanned, flagged, errored atomic.Int64

	workers := p.Workers
	if workers <= 0 {
		workers = 10
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, parcel := range parcels {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			free := p.Scanner.Free(gctx, parcel.Latitude, parcel.Longitude)
			result := p.Scanner.ToScanResult(parcel, free)

			if free.Aerial.NDVI == nil && free.Flood == nil {
				errored.Add(1)
			} else {
				scanned.Add(1)
				if len(free.Flags) > 0 {
					flagged.Add(1)
				}
			}

			buf.add(gctx, result)
			return nil
		})
	}
	_ = g.Wait()

	// Final flush on the parent context so a cancelled run still lands its
	// completed parcels.
	buf.flush(ctx)

	summary := Summary{
		Scanned: int(scanned.Load()),
		Flagged: int(flagged.Load()),
		Errors:  int(errored.Load()),
		Flushed: buf.flushedCount(),
	}
	zap.L().Info("pass 1 complete",
		zap.Int("scanned", summary.Scanned),
		zap.Int("flagged", summary.Flagged),
		zap.Int("errors", summary.Errors),
		zap.Int("flushed", summary.Flushed))
	return summary, nil
}
