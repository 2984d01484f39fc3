package store

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkbhex"
	"go.uber.org/zap"
)

// BackfillCoordinates fills missing lat/lng on gis_parcels_core from the
// external parcels table's geometry, joined through (county, state_code,
// parcel_id). Idempotent: only NULL-latitude rows are touched.
//
// The geometry column is EWKB; centroids are computed client-side so the
// backfill works without the PostGIS extension.
func (s *Store) BackfillCoordinates(ctx context.Context, county, stateCode string) (int, error) {
	rows, err := s.db.Query(ctx, `
		SELECT g.parcel_id, p.geometry
		FROM gis_parcels_core g
		JOIN counties c ON lower(c.name) = lower(g.county) AND c.state_code = g.state_code
		JOIN parcels p ON p.county_id = c.id AND p.parcel_id = g.parcel_id
		WHERE g.county = $1 AND g.state_code = $2
		  AND g.latitude IS NULL
		  AND p.geometry IS NOT NULL`,
		county, stateCode,
	)
	if err != nil {
		return 0, eris.Wrap(err, "store: backfill select")
	}
	defer rows.Close()

	type update struct {
		parcelID string
		lat, lng float64
	}
	var updates []update
	for rows.Next() {
		var parcelID, geometry string
		if err := rows.Scan(&parcelID, &geometry); err != nil {
			return 0, eris.Wrap(err, "store: backfill scan")
		}

		g, err := ewkbhex.Decode(geometry)
		if err != nil {
			zap.L().Debug("geometry decode skipped",
				zap.String("parcel_id", parcelID), zap.Error(err))
			continue
		}
		lng, lat, ok := centroid(g)
		if !ok {
			continue
		}
		updates = append(updates, update{parcelID: parcelID, lat: lat, lng: lng})
	}
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "store: backfill iterate")
	}

	for _, u := range updates {
		if _, err := s.db.Exec(ctx, `
			UPDATE gis_parcels_core SET latitude = $1, longitude = $2
			WHERE parcel_id = $3 AND county = $4 AND state_code = $5 AND latitude IS NULL`,
			u.lat, u.lng, u.parcelID, county, stateCode,
		); err != nil {
			return 0, eris.Wrapf(err, "store: backfill update %s", u.parcelID)
		}
	}

	if len(updates) > 0 {
		zap.L().Info("coordinates backfilled",
			zap.String("county", county), zap.Int("count", len(updates)))
	}
	return len(updates), nil
}

// centroid averages the flat coordinates of any geometry type. Good enough
// for parcel polygons, which are small and convex-ish.
func centroid(g geom.T) (x, y float64, ok bool) {
	flat := g.FlatCoords()
	stride := g.Stride()
	if stride < 2 || len(flat) < stride {
		return 0, 0, false
	}
	n := 0
	for i := 0; i+1 < len(flat); i += stride {
		x += flat[i]
		y += flat[i+1]
		n++
	}
	if n == 0 {
		return 0, 0, false
	}
	return x / float64(n), y / float64(n), true
}
