package store

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Composite weights: slope percentile dominates, flood tier seasons.
const (
	CompositeNDVIWeight = 0.70
	CompositeFEMAWeight = 0.30
)

// ComputeCompositeScores recomputes ndvi_slope_pctile and distress_composite
// for every parcel of a county in one transaction.
//
// Step 1 ranks ndvi_slope_5yr with PERCENT_RANK partitioned by county —
// the rank population is the county, never the table. Step 2 blends the
// percentile with the flood tier onto the 0-10 scale:
//
//	composite = 0.70 × (pctile/10) + 0.30 × femaScore
//	femaScore: SFHA/high = 10, moderate = 6, low = 2, none = 0
//
// The stored pctile is 0-100; order within a county is preserved w.r.t.
// the underlying slope. Returns the number of parcels given a composite.
func (s *Store) ComputeCompositeScores(ctx context.Context, county string) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "store: begin composite")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	pctileTag, err := tx.Exec(ctx, `
		WITH ranked AS (
			SELECT parcel_id,
			       PERCENT_RANK() OVER (
			           PARTITION BY county
			           ORDER BY ndvi_slope_5yr ASC NULLS FIRST
			       ) * 100 AS pctile
			FROM gis_parcels_core
			WHERE county = $1 AND ndvi_slope_5yr IS NOT NULL
		)
		UPDATE gis_parcels_core g
		SET ndvi_slope_pctile = r.pctile
		FROM ranked r
		WHERE g.parcel_id = r.parcel_id AND g.county = $1`,
		county,
	)
	if err != nil {
		return 0, eris.Wrap(err, "store: compute percentiles")
	}

	compositeTag, err := tx.Exec(ctx, `
		UPDATE gis_parcels_core
		SET distress_composite = ROUND(CAST(
			$1::float8 * COALESCE(ndvi_slope_pctile / 10.0, 0) +
			$2::float8 * CASE
				WHEN fema_sfha = TRUE THEN 10.0
				WHEN fema_risk = 'high' THEN 10.0
				WHEN fema_risk = 'moderate' THEN 6.0
				WHEN fema_risk = 'low' THEN 2.0
				ELSE 0.0
			END
		AS NUMERIC), 2),
			composite_date = NOW()
		WHERE county = $3
		  AND (ndvi_slope_5yr IS NOT NULL OR fema_zone IS NOT NULL)`,
		CompositeNDVIWeight, CompositeFEMAWeight, county,
	)
	if err != nil {
		return 0, eris.Wrap(err, "store: compute composites")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "store: commit composite")
	}

	zap.L().Info("composite scores computed",
		zap.String("county", county),
		zap.Int64("percentiles", pctileTag.RowsAffected()),
		zap.Int64("composites", compositeTag.RowsAffected()))
	return int(compositeTag.RowsAffected()), nil
}
