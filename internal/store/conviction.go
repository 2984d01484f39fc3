package store

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/distress-scanner/internal/model"
	"github.com/sells-group/distress-scanner/internal/score"
)

// FetchConvictionRows loads every parcel of a county with its motivation
// signal aggregates. The join goes through the (county_name, state_code)
// compound key — never bare parcel_id, which collides across counties.
func (s *Store) FetchConvictionRows(ctx context.Context, county, stateCode string) ([]model.ConvictionRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT
			g.parcel_id,
			g.distress_composite,
			COALESCE(g.flag_vacancy, FALSE),
			g.vacancy_confidence,
			COALESCE(g.usps_error, ''),
			COALESCE(SUM(st.base_weight * LEAST(GREATEST(ps.confidence, 0), 1)), 0) AS mc_raw_score,
			COUNT(ps.id) AS mc_signal_count,
			COALESCE(STRING_AGG(DISTINCT st.code, ',' ORDER BY st.code), '') AS mc_signal_codes
		FROM gis_parcels_core g
		JOIN counties c
			ON lower(c.name) = lower(g.county)
			AND c.state_code = g.state_code
		LEFT JOIN parcels p
			ON p.county_id = c.id
			AND p.parcel_id = g.parcel_id
		LEFT JOIN parcel_signals ps
			ON ps.parcel_id = p.id
			AND ps.is_active = true
			AND (ps.expires_at IS NULL OR ps.expires_at > NOW())
		LEFT JOIN signal_types st
			ON st.id = ps.signal_type_id
			AND st.is_active = true
		WHERE g.county = $1 AND g.state_code = $2
		GROUP BY g.parcel_id, g.distress_composite, g.flag_vacancy,
		         g.vacancy_confidence, g.usps_error`,
		county, stateCode,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: fetch conviction rows")
	}
	defer rows.Close()

	var out []model.ConvictionRow
	for rows.Next() {
		var r model.ConvictionRow
		if err := rows.Scan(&r.ParcelID, &r.DistressComposite, &r.FlagVacancy,
			&r.VacancyConfidence, &r.USPSError,
			&r.MCRawScore, &r.MCSignalCount, &r.MCSignalCodes); err != nil {
			return nil, eris.Wrap(err, "store: scan conviction row")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "store: conviction rows iterate")
}

const convictionUpdateSQL = `
	UPDATE gis_parcels_core SET
		conviction_score = $1, conviction_base_score = $2,
		conviction_vacancy_bonus = $3, conviction_mc_score = $4,
		conviction_mc_signals = $5, conviction_mc_codes = $6,
		conviction_components = $7, conviction_date = NOW()
	WHERE parcel_id = $8 AND county = $9`

// FlushConvictionScores writes the conviction band in committed chunks.
func (s *Store) FlushConvictionScores(ctx context.Context, county string, results []model.ConvictionResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}

	for start := 0; start < len(results); start += updateChunk {
		chunk := results[start:min(start+updateChunk, len(results))]
		batch := &pgx.Batch{}
		for _, r := range chunk {
			batch.Queue(convictionUpdateSQL,
				r.Score, r.BaseScore, r.VacancyBonus, r.MCScore,
				r.MCSignals, nilIfEmpty(r.MCCodes), nilIfEmpty(r.Components),
				r.ParcelID, county,
			)
		}
		if err := s.sendBatch(ctx, batch); err != nil {
			return start, eris.Wrap(err, "store: conviction batch")
		}
	}

	zap.L().Info("conviction batch updated",
		zap.String("county", county), zap.Int("rows", len(results)))
	return len(results), nil
}

// BackfillMotivationScores rewrites the motivation_scores rows for a county.
// That table's uniqueness key is (parcel_id, computed_at), not parcel_id
// alone, so ON CONFLICT cannot express the upsert: the pass does a
// county-scoped DELETE then INSERTs parcels that have signals.
func (s *Store) BackfillMotivationScores(ctx context.Context, county, stateCode string, parcels []model.ConvictionRow) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "store: begin motivation backfill")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	deleted, err := tx.Exec(ctx, `
		DELETE FROM motivation_scores WHERE parcel_id IN (
			SELECT p.id FROM parcels p
			JOIN counties c ON p.county_id = c.id
			WHERE lower(c.name) = lower($1) AND c.state_code = $2
		)`,
		county, stateCode,
	)
	if err != nil {
		return eris.Wrap(err, "store: delete motivation scores")
	}

	inserted := 0
	batch := &pgx.Batch{}
	for _, p := range parcels {
		if p.MCSignalCount == 0 {
			continue
		}
		breakdown, err := json.Marshal(map[string]any{
			"signals":   splitCodes(p.MCSignalCodes),
			"raw_score": p.MCRawScore,
			"model":     score.ModelVersion,
		})
		if err != nil {
			return eris.Wrap(err, "store: marshal score breakdown")
		}
		batch.Queue(`
			INSERT INTO motivation_scores (parcel_id, total_score, signal_count, score_breakdown, computed_at)
			SELECT p.id, $1, $2, $3::jsonb, NOW()
			FROM parcels p
			JOIN counties c ON p.county_id = c.id
			WHERE p.parcel_id = $4
			  AND lower(c.name) = lower($5)
			  AND c.state_code = $6`,
			p.MCRawScore, p.MCSignalCount, string(breakdown),
			p.ParcelID, county, stateCode,
		)
		inserted++
	}

	if batch.Len() > 0 {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return eris.Wrapf(err, "store: motivation insert %d", i)
			}
		}
		if err := br.Close(); err != nil {
			return eris.Wrap(err, "store: close motivation batch")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "store: commit motivation backfill")
	}

	zap.L().Info("motivation scores backfilled",
		zap.String("county", county),
		zap.Int64("deleted", deleted.RowsAffected()),
		zap.Int("inserted", inserted))
	return nil
}

func splitCodes(codes string) []string {
	if codes == "" {
		return []string{}
	}
	return strings.Split(codes, ",")
}
