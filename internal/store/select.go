package store

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/distress-scanner/internal/model"
)

// SelectionFilter narrows a pass's work selection.
type SelectionFilter struct {
	County        string
	StateCode     string
	PropertyClass string
	Limit         int
}

// UnscannedParcels returns parcels with coordinates not yet scanned at
// pass >= 1. Ordered by md5(parcel_id): a deterministic shuffle for
// geographic diversity without a full-table sort.
func (s *Store) UnscannedParcels(ctx context.Context, f SelectionFilter) ([]model.Parcel, error) {
	query := `
		SELECT parcel_id, county, state_code, latitude, longitude,
		       COALESCE(situs_address, ''), COALESCE(property_class, '')
		FROM gis_parcels_core
		WHERE county = $1
		  AND latitude IS NOT NULL AND longitude IS NOT NULL
		  AND scan_date IS NULL`
	args := []any{f.County}

	query, args = appendStateClassLimit(query, args, f)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: unscanned parcels")
	}
	defer rows.Close()

	var out []model.Parcel
	for rows.Next() {
		var p model.Parcel
		if err := rows.Scan(&p.ParcelID, &p.County, &p.StateCode,
			&p.Latitude, &p.Longitude, &p.SitusAddress, &p.PropertyClass); err != nil {
			return nil, eris.Wrap(err, "store: scan unscanned parcel")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "store: unscanned parcels iterate")
}

// ParcelsNeedingSlope returns parcels with a Pass 1 NDVI but no slope yet.
func (s *Store) ParcelsNeedingSlope(ctx context.Context, f SelectionFilter) ([]model.Parcel, error) {
	query := `
		SELECT parcel_id, county, state_code, latitude, longitude,
		       ndvi_score, COALESCE(ndvi_date, '')
		FROM gis_parcels_core
		WHERE county = $1
		  AND ndvi_score IS NOT NULL
		  AND ndvi_slope_5yr IS NULL
		  AND latitude IS NOT NULL AND longitude IS NOT NULL`
	args := []any{f.County}

	query, args = appendStateClassLimit(query, args, f)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: parcels needing slope")
	}
	defer rows.Close()

	var out []model.Parcel
	for rows.Next() {
		var p model.Parcel
		if err := rows.Scan(&p.ParcelID, &p.County, &p.StateCode,
			&p.Latitude, &p.Longitude, &p.NDVIScore, &p.NDVIDate); err != nil {
			return nil, eris.Wrap(err, "store: scan slope parcel")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "store: slope parcels iterate")
}

// SentinelWorthyParcels returns parcels marked sentinel_worthy that have not
// been enriched, highest distress first.
func (s *Store) SentinelWorthyParcels(ctx context.Context, f SelectionFilter) ([]model.Parcel, error) {
	query := `
		SELECT parcel_id, county, state_code, latitude, longitude,
		       ndvi_score, COALESCE(fema_zone, ''), COALESCE(fema_risk, ''),
		       COALESCE(fema_sfha, FALSE), distress_score
		FROM gis_parcels_core
		WHERE county = $1
		  AND sentinel_worthy = TRUE
		  AND sentinel_scan_date IS NULL
		  AND latitude IS NOT NULL AND longitude IS NOT NULL`
	args := []any{f.County}
	argIdx := 2

	if f.StateCode != "" {
		query += fmt.Sprintf(" AND state_code = $%d", argIdx)
		args = append(args, f.StateCode)
		argIdx++
	}
	query += " ORDER BY distress_score DESC NULLS LAST"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: sentinel worthy parcels")
	}
	defer rows.Close()

	var out []model.Parcel
	for rows.Next() {
		var p model.Parcel
		if err := rows.Scan(&p.ParcelID, &p.County, &p.StateCode,
			&p.Latitude, &p.Longitude, &p.NDVIScore,
			&p.FemaZone, &p.FemaRisk, &p.FemaSFHA, &p.DistressScore); err != nil {
			return nil, eris.Wrap(err, "store: scan sentinel parcel")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "store: sentinel parcels iterate")
}

// VacancySelection tunes the Pass 2 work query.
type VacancySelection struct {
	SelectionFilter
	MinComposite float64
	CacheDays    int
}

// ParcelsNeedingVacancy returns the top leads by composite score without a
// recent successful carrier check. Parcels with a prior transient error are
// eligible regardless of check date.
func (s *Store) ParcelsNeedingVacancy(ctx context.Context, f VacancySelection) ([]model.Parcel, error) {
	query := `
		SELECT parcel_id, county, state_code, latitude, longitude,
		       COALESCE(situs_address, ''), distress_composite,
		       COALESCE(mailing_city, ''), COALESCE(mailing_state, ''), COALESCE(mailing_zip, '')
		FROM gis_parcels_core
		WHERE county = $1
		  AND situs_address IS NOT NULL
		  AND latitude IS NOT NULL AND longitude IS NOT NULL
		  AND distress_composite >= $2
		  AND (
		      usps_check_date IS NULL
		      OR usps_check_date < NOW() - make_interval(days => $3)
		      OR usps_error IS NOT NULL
		  )`
	args := []any{f.County, f.MinComposite, f.CacheDays}
	argIdx := 4

	if f.StateCode != "" {
		query += fmt.Sprintf(" AND state_code = $%d", argIdx)
		args = append(args, f.StateCode)
		argIdx++
	}
	if f.PropertyClass != "" {
		query += fmt.Sprintf(" AND property_class = $%d", argIdx)
		args = append(args, f.PropertyClass)
		argIdx++
	}
	query += " ORDER BY distress_composite DESC NULLS LAST"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: parcels needing vacancy")
	}
	defer rows.Close()

	var out []model.Parcel
	for rows.Next() {
		var p model.Parcel
		if err := rows.Scan(&p.ParcelID, &p.County, &p.StateCode,
			&p.Latitude, &p.Longitude, &p.SitusAddress, &p.DistressComposite,
			&p.MailingCity, &p.MailingState, &p.MailingZip); err != nil {
			return nil, eris.Wrap(err, "store: scan vacancy parcel")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "store: vacancy parcels iterate")
}

// appendStateClassLimit appends the shared state/class filters, the
// deterministic md5 shuffle, and the limit.
func appendStateClassLimit(query string, args []any, f SelectionFilter) (string, []any) {
	argIdx := len(args) + 1
	if f.StateCode != "" {
		query += fmt.Sprintf(" AND state_code = $%d", argIdx)
		args = append(args, f.StateCode)
		argIdx++
	}
	if f.PropertyClass != "" {
		query += fmt.Sprintf(" AND property_class = $%d", argIdx)
		args = append(args, f.PropertyClass)
		argIdx++
	}
	query += " ORDER BY md5(parcel_id)"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
	}
	return query, args
}
