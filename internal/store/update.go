package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/distress-scanner/internal/model"
)

// updateChunk is the number of rows queued into one pgx batch.
const updateChunk = 500

// transientVacancyErrors do not stamp usps_check_date: the parcel stays
// eligible for retry on the next run.
var transientVacancyErrors = map[string]struct{}{
	"rate_limited": {},
	"http_500":     {},
	"http_502":     {},
	"http_503":     {},
	"http_504":     {},
}

const scanUpdateSQL = `
	UPDATE gis_parcels_core SET
		ndvi_score = $1, ndvi_date = $2, ndvi_category = $3,
		fema_zone = $4, fema_risk = $5, fema_sfha = $6,
		distress_score = $7, distress_flags = $8,
		flag_veg = $9, flag_flood = $10, flag_structural = $11, flag_neglect = $12,
		veg_confidence = $13, flood_confidence = $14,
		scan_date = $15,
		scan_pass = GREATEST(COALESCE(scan_pass, 0), $16),
		scan_error = $17,
		sentinel_worthy = $18
	WHERE parcel_id = $19 AND county = $20`

// BatchUpdateScanResults writes the Pass 1 band in committed chunks.
// Returns the count of submitted rows — the payload length, not a
// driver-reported count, which is unreliable for multi-statement batches.
func (s *Store) BatchUpdateScanResults(ctx context.Context, results []model.ScanResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}

	for start := 0; start < len(results); start += updateChunk {
		chunk := results[start:min(start+updateChunk, len(results))]
		batch := &pgx.Batch{}
		for _, r := range chunk {
			batch.Queue(scanUpdateSQL,
				r.NDVIScore, nilIfEmpty(r.NDVIDate), r.NDVICategory,
				nilIfEmpty(r.FemaZone), nilIfEmpty(r.FemaRisk), r.FemaSFHA,
				r.DistressScore, nilIfEmpty(r.DistressFlags),
				r.FlagVeg, r.FlagFlood, r.FlagStructural, r.FlagNeglect,
				r.VegConfidence, r.FloodConfidence,
				r.ScanDate, r.ScanPass, nilIfEmpty(r.ScanError), r.SentinelWorthy,
				r.ParcelID, r.County,
			)
		}
		if err := s.sendBatch(ctx, batch); err != nil {
			return start, eris.Wrap(err, "store: scan batch")
		}
	}

	zap.L().Info("scan batch updated", zap.Int("rows", len(results)))
	return len(results), nil
}

const slopeUpdateSQL = `
	UPDATE gis_parcels_core SET
		ndvi_slope_5yr = $1, ndvi_history_count = $2, ndvi_history_years = $3
	WHERE parcel_id = $4 AND county = $5`

// BatchUpdateSlopeResults writes the historical band in committed chunks.
func (s *Store) BatchUpdateSlopeResults(ctx context.Context, results []model.SlopeResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}

	for start := 0; start < len(results); start += updateChunk {
		chunk := results[start:min(start+updateChunk, len(results))]
		batch := &pgx.Batch{}
		for _, r := range chunk {
			batch.Queue(slopeUpdateSQL,
				r.Slope, r.HistoryCount, nilIfEmpty(r.HistoryYears),
				r.ParcelID, r.County,
			)
		}
		if err := s.sendBatch(ctx, batch); err != nil {
			return start, eris.Wrap(err, "store: slope batch")
		}
	}

	zap.L().Info("slope batch updated", zap.Int("rows", len(results)))
	return len(results), nil
}

const sentinelUpdateSQL = `
	UPDATE gis_parcels_core SET
		sentinel_trend_direction = $1, sentinel_trend_slope = $2,
		sentinel_latest_ndvi = $3, sentinel_months_data = $4,
		sentinel_mean_ndvi = $5, sentinel_data_source = $6,
		sentinel_chart_url = $7, sentinel_scan_date = $8,
		distress_score = $9, distress_flags = $10,
		flag_veg = $11, flag_flood = $12, flag_structural = $13, flag_neglect = $14,
		veg_confidence = $15, flood_confidence = $16,
		scan_pass = GREATEST(COALESCE(scan_pass, 0), $17)
	WHERE parcel_id = $18 AND county = $19`

// BatchUpdateSentinelResults writes the satellite band and the rescored
// flag set. scan_pass advances monotonically through GREATEST.
func (s *Store) BatchUpdateSentinelResults(ctx context.Context, results []model.SentinelResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}

	for start := 0; start < len(results); start += updateChunk {
		chunk := results[start:min(start+updateChunk, len(results))]
		batch := &pgx.Batch{}
		for _, r := range chunk {
			batch.Queue(sentinelUpdateSQL,
				r.TrendDirection, r.TrendSlope,
				r.LatestNDVI, r.MonthsData,
				r.MeanNDVI, nilIfEmpty(r.DataSource),
				nilIfEmpty(r.ChartURL), r.ScanDate,
				r.DistressScore, nilIfEmpty(r.DistressFlags),
				r.FlagVeg, r.FlagFlood, r.FlagStructural, r.FlagNeglect,
				r.VegConfidence, r.FloodConfidence,
				r.ScanPass,
				r.ParcelID, r.County,
			)
		}
		if err := s.sendBatch(ctx, batch); err != nil {
			return start, eris.Wrap(err, "store: sentinel batch")
		}
	}

	zap.L().Info("sentinel batch updated", zap.Int("rows", len(results)))
	return len(results), nil
}

// BatchUpdateVacancyResults writes the vacancy band, splitting rows by
// outcome class: successes stamp usps_check_date and clear the error,
// transient errors stay undated (retryable), permanent errors are dated so
// known-bad addresses are not re-hit.
func (s *Store) BatchUpdateVacancyResults(ctx context.Context, results []model.VacancyUpdate) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}

	var success, transient, permanent []model.VacancyUpdate
	for _, r := range results {
		switch {
		case r.Error == "":
			success = append(success, r)
		case isTransientVacancyError(r.Error):
			transient = append(transient, r)
		default:
			permanent = append(permanent, r)
		}
	}

	batch := &pgx.Batch{}
	for _, r := range success {
		batch.Queue(`
			UPDATE gis_parcels_core SET
				usps_vacant = $1, usps_dpv_confirmed = $2,
				usps_address = $3, usps_city = $4, usps_zip = $5, usps_zip4 = $6,
				usps_business = $7, usps_carrier_route = $8, usps_address_mismatch = $9,
				usps_check_date = NOW(), usps_error = NULL,
				flag_vacancy = $10, vacancy_confidence = $11
			WHERE parcel_id = $12 AND county = $13`,
			r.Vacant, r.DPVConfirmed,
			nilIfEmpty(r.Address), nilIfEmpty(r.City), nilIfEmpty(r.Zip), nilIfEmpty(r.Zip4),
			r.Business, nilIfEmpty(r.CarrierRoute), r.AddressMismatch,
			r.FlagVacancy, r.VacancyConfidence,
			r.ParcelID, r.County,
		)
	}
	for _, r := range transient {
		batch.Queue(`
			UPDATE gis_parcels_core SET
				usps_error = $1, flag_vacancy = FALSE, vacancy_confidence = NULL
			WHERE parcel_id = $2 AND county = $3`,
			r.Error, r.ParcelID, r.County,
		)
	}
	for _, r := range permanent {
		batch.Queue(`
			UPDATE gis_parcels_core SET
				usps_error = $1, usps_check_date = NOW(),
				flag_vacancy = FALSE, vacancy_confidence = NULL
			WHERE parcel_id = $2 AND county = $3`,
			r.Error, r.ParcelID, r.County,
		)
	}

	if err := s.sendBatch(ctx, batch); err != nil {
		return 0, eris.Wrap(err, "store: vacancy batch")
	}

	zap.L().Info("vacancy batch updated",
		zap.Int("total", len(results)),
		zap.Int("success", len(success)),
		zap.Int("transient", len(transient)),
		zap.Int("permanent", len(permanent)))
	return len(results), nil
}

// UpdateParcelPlanet persists the high-res band for one parcel.
func (s *Store) UpdateParcelPlanet(ctx context.Context, r model.PlanetResult) error {
	_, err := s.db.Exec(ctx, `
		UPDATE gis_parcels_core SET
			planet_scan_date = NOW(),
			planet_scene_count = $1, planet_change_score = $2, planet_temporal_span = $3,
			planet_latest_date = $4, planet_earliest_date = $5,
			planet_thumb_latest_url = $6, planet_thumb_earliest_url = $7
		WHERE parcel_id = $8 AND county = $9`,
		r.SceneCount, r.ChangeScore, r.TemporalSpan,
		nilIfEmpty(r.LatestDate), nilIfEmpty(r.EarliestDate),
		nilIfEmpty(r.ThumbLatest), nilIfEmpty(r.ThumbEarliest),
		r.ParcelID, r.County,
	)
	return eris.Wrap(err, "store: update planet band")
}

// PlanetScanDate returns the parcel's last high-res scan time, or nil.
func (s *Store) PlanetScanDate(ctx context.Context, parcelID, county string) (*time.Time, error) {
	var scanned *time.Time
	err := s.db.QueryRow(ctx,
		`SELECT planet_scan_date FROM gis_parcels_core WHERE parcel_id = $1 AND county = $2`,
		parcelID, county,
	).Scan(&scanned)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrap(err, "store: planet scan date")
	}
	return scanned, nil
}

// sendBatch executes one queued batch inside a transaction so a cancelled
// run commits whole chunks or nothing.
func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "store: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return eris.Wrapf(err, "store: batch statement %d", i)
		}
	}
	if err := br.Close(); err != nil {
		return eris.Wrap(err, "store: close batch")
	}
	return eris.Wrap(tx.Commit(ctx), "store: commit")
}

func isTransientVacancyError(code string) bool {
	_, ok := transientVacancyErrors[code]
	return ok
}

func nilIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
