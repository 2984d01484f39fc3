package pass

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/distress-scanner/internal/model"
	"github.com/sells-group/distress-scanner/internal/score"
	"github.com/sells-group/distress-scanner/internal/store"
	"github.com/sells-group/distress-scanner/pkg/planetary"
)

// historicalYears are the vintages checked per parcel, matching the NAIP
// acquisition cycle for the covered states.
var historicalYears = []int{2012, 2014, 2016, 2018, 2020, 2022}

// VintageSource is the slice of the archive client the slope pass needs.
type VintageSource interface {
	Vintages(ctx context.Context, lat, lng float64, years []int) (*planetary.Sequence, error)
}

// SlopePass is Pass 1.5: historical NDVI slope per parcel, then the
// county-scoped composite recomputation in SQL. Archive reads are heavy, so
// the fan-out stays low.
type SlopePass struct {
	Dial       Dialer
	Archive    VintageSource
	Selection  store.SelectionFilter
	Workers    int
	FlushEvery int

	// CompositeOnly skips slope computation and only reruns the SQL.
	CompositeOnly bool
}

// Run executes the slope sweep and finishes with the composite transaction.
func (p *SlopePass) Run(ctx context.Context) (Summary, error) {
	if !p.CompositeOnly {
		summary, err := p.computeSlopes(ctx)
		if err != nil {
			return summary, err
		}
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		if err := p.computeComposites(ctx); err != nil {
			return summary, err
		}
		return summary, nil
	}

	return Summary{}, p.computeComposites(ctx)
}

func (p *SlopePass) computeSlopes(ctx context.Context) (Summary, error) {
	sel, closeSel, err := p.Dial(ctx)
	if err != nil {
		return Summary{}, err
	}
	parcels, err := sel.ParcelsNeedingSlope(ctx, p.Selection)
	closeSel()
	if err != nil {
		return Summary{}, err
	}

	zap.L().Info("pass 1.5 selection",
		zap.String("county", p.Selection.County), zap.Int("parcels", len(parcels)))
	if len(parcels) == 0 {
		return Summary{}, nil
	}

	buf := newBuffer(p.FlushEvery, func(ctx context.Context, batch []model.SlopeResult) (int, error) {
		st, closeFn, err := p.Dial(ctx)
		if err != nil {
			return 0, err
		}
		defer closeFn()
		return st.BatchUpdateSlopeResults(ctx, batch)
	})

	var processed, withSlope, errored atomic.Int64

	workers := p.Workers
	if workers <= 0 {
		workers = 2
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, parcel := range parcels {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			result, err := p.slopeForParcel(gctx, parcel)
			if err != nil {
				zap.L().Warn("slope parcel failed",
					zap.String("parcel_id", parcel.ParcelID), zap.Error(err))
				errored.Add(1)
				return nil
			}
			processed.Add(1)
			if result.Slope != nil {
				withSlope.Add(1)
			}
			buf.add(gctx, result)
			return nil
		})
	}
	_ = g.Wait()
	buf.flush(ctx)

	summary := Summary{
		Scanned: int(processed.Load()),
		Flagged: int(withSlope.Load()),
		Errors:  int(errored.Load()),
		Flushed: buf.flushedCount(),
	}
	zap.L().Info("pass 1.5 slopes complete",
		zap.Int("processed", summary.Scanned),
		zap.Int("with_slope", summary.Flagged),
		zap.Int("errors", summary.Errors))
	return summary, nil
}

// slopeForParcel pulls the lazy vintage sequence and regresses. The
// parcel's current Pass 1 NDVI joins the points when its year is not
// already covered by a vintage.
func (p *SlopePass) slopeForParcel(ctx context.Context, parcel model.Parcel) (model.SlopeResult, error) {
	seq, err := p.Archive.Vintages(ctx, parcel.Latitude, parcel.Longitude, historicalYears)
	if err != nil {
		return model.SlopeResult{}, err
	}

	var points []score.SlopePoint
	seen := make(map[int]struct{})
	for {
		v, ok := seq.Next(ctx)
		if !ok {
			break
		}
		points = append(points, score.SlopePoint{Year: v.Year, NDVI: v.NDVI})
		seen[v.Year] = struct{}{}
	}

	if parcel.NDVIScore != nil && len(parcel.NDVIDate) >= 4 {
		if year, err := strconv.Atoi(parcel.NDVIDate[:4]); err == nil {
			if _, dup := seen[year]; !dup {
				points = append(points, score.SlopePoint{Year: year, NDVI: *parcel.NDVIScore})
				seen[year] = struct{}{}
			}
		}
	}

	sort.Slice(points, func(i, j int) bool { return points[i].Year < points[j].Year })

	years := make([]string, 0, len(points))
	for _, pt := range points {
		years = append(years, strconv.Itoa(pt.Year))
	}

	return model.SlopeResult{
		ParcelID:     parcel.ParcelID,
		County:       parcel.County,
		Slope:        score.Slope(points),
		HistoryCount: int16(len(points)),
		HistoryYears: strings.Join(years, ","),
	}, nil
}

func (p *SlopePass) computeComposites(ctx context.Context) error {
	st, closeFn, err := p.Dial(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	count, err := st.ComputeCompositeScores(ctx, p.Selection.County)
	if err != nil {
		return err
	}
	zap.L().Info("composites recomputed",
		zap.String("county", p.Selection.County), zap.Int("parcels", count))
	return nil
}
