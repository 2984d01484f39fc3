package store

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// column is one scan-output column added to gis_parcels_core.
type column struct {
	name string
	typ  string
}

// index is one filter/sort index on gis_parcels_core.
type index struct {
	name string
	expr string
}

// migrationGroup is a named, idempotent set of columns and indexes. Before
// any DDL the group checks the column catalog; when every column already
// exists the ALTERs are skipped entirely, avoiding the ACCESS EXCLUSIVE
// lock that can deadlock with a long-running scan.
type migrationGroup struct {
	name    string
	columns []column
	indexes []index
}

var migrationGroups = []migrationGroup{
	{
		name: "scan",
		columns: []column{
			{"ndvi_score", "REAL"},
			{"ndvi_date", "TEXT"},
			{"ndvi_category", "TEXT"},
			{"fema_zone", "TEXT"},
			{"fema_risk", "TEXT"},
			{"fema_sfha", "BOOLEAN"},
			{"distress_score", "REAL"},
			{"distress_flags", "TEXT"},
			{"flag_veg", "BOOLEAN DEFAULT FALSE"},
			{"flag_flood", "BOOLEAN DEFAULT FALSE"},
			{"flag_structural", "BOOLEAN DEFAULT FALSE"},
			{"flag_neglect", "BOOLEAN DEFAULT FALSE"},
			{"veg_confidence", "REAL"},
			{"flood_confidence", "REAL"},
			{"scan_date", "TIMESTAMP"},
			{"scan_pass", "SMALLINT"},
			{"scan_error", "TEXT"},
			{"sentinel_worthy", "BOOLEAN DEFAULT FALSE"},
		},
		indexes: []index{
			{"idx_gpc_ndvi_score", "ndvi_score"},
			{"idx_gpc_distress_score", "distress_score"},
			{"idx_gpc_fema_zone", "fema_zone"},
			{"idx_gpc_flag_veg", "flag_veg"},
			{"idx_gpc_flag_flood", "flag_flood"},
			{"idx_gpc_flag_structural", "flag_structural"},
			{"idx_gpc_flag_neglect", "flag_neglect"},
			{"idx_gpc_scan_date", "scan_date"},
		},
	},
	{
		name: "composite",
		columns: []column{
			{"ndvi_slope_5yr", "REAL"},
			{"ndvi_slope_pctile", "REAL"},
			{"ndvi_history_count", "SMALLINT"},
			{"ndvi_history_years", "TEXT"},
			{"distress_composite", "REAL"},
			{"composite_date", "TIMESTAMP"},
		},
		indexes: []index{
			{"idx_gpc_ndvi_slope", "ndvi_slope_5yr"},
			{"idx_gpc_distress_composite", "distress_composite"},
			{"idx_gpc_ndvi_slope_pctile", "ndvi_slope_pctile"},
		},
	},
	{
		name: "satellite",
		columns: []column{
			{"sentinel_trend_direction", "TEXT"},
			{"sentinel_trend_slope", "REAL"},
			{"sentinel_latest_ndvi", "REAL"},
			{"sentinel_months_data", "SMALLINT"},
			{"sentinel_mean_ndvi", "REAL"},
			{"sentinel_data_source", "TEXT"},
			{"sentinel_chart_url", "TEXT"},
			{"sentinel_scan_date", "TIMESTAMP"},
		},
		indexes: []index{
			{"idx_gpc_sentinel_scan_date", "sentinel_scan_date"},
			{"idx_gpc_sentinel_trend", "sentinel_trend_direction"},
		},
	},
	{
		name: "vacancy",
		columns: []column{
			{"usps_vacant", "BOOLEAN"},
			{"usps_dpv_confirmed", "BOOLEAN"},
			{"usps_address", "TEXT"},
			{"usps_city", "TEXT"},
			{"usps_zip", "TEXT"},
			{"usps_zip4", "TEXT"},
			{"usps_business", "BOOLEAN"},
			{"usps_carrier_route", "TEXT"},
			{"usps_address_mismatch", "BOOLEAN"},
			{"usps_check_date", "TIMESTAMP"},
			{"usps_error", "TEXT"},
			{"flag_vacancy", "BOOLEAN DEFAULT FALSE"},
			{"vacancy_confidence", "REAL"},
		},
		indexes: []index{
			{"idx_gpc_usps_vacant", "usps_vacant"},
			{"idx_gpc_flag_vacancy", "flag_vacancy"},
			{"idx_gpc_usps_check_date", "usps_check_date"},
		},
	},
	{
		name: "highres",
		columns: []column{
			{"planet_scan_date", "TIMESTAMP"},
			{"planet_scene_count", "SMALLINT"},
			{"planet_change_score", "REAL"},
			{"planet_temporal_span", "SMALLINT"},
			{"planet_latest_date", "TEXT"},
			{"planet_earliest_date", "TEXT"},
			{"planet_thumb_latest_url", "TEXT"},
			{"planet_thumb_earliest_url", "TEXT"},
		},
	},
	{
		name: "conviction",
		columns: []column{
			{"conviction_score", "REAL"},
			{"conviction_base_score", "REAL"},
			{"conviction_vacancy_bonus", "REAL"},
			{"conviction_mc_score", "REAL"},
			{"conviction_mc_signals", "INTEGER"},
			{"conviction_mc_codes", "TEXT"},
			{"conviction_components", "TEXT"},
			{"conviction_date", "TIMESTAMP"},
		},
	},
}

// partial and ordered indexes that need their own CREATE statements.
var extraIndexSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_gpc_sentinel_pending
	 ON gis_parcels_core (distress_score DESC NULLS LAST)
	 WHERE sentinel_worthy = TRUE AND sentinel_scan_date IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_gpc_slope_pending
	 ON gis_parcels_core (parcel_id)
	 WHERE ndvi_score IS NOT NULL AND ndvi_slope_5yr IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_gpc_conviction_score
	 ON gis_parcels_core (conviction_score DESC NULLS LAST)`,
}

// auditTableSQL creates the shared append-only vacancy audit table. The
// schema matches the motivation producer's exactly; CREATE IF NOT EXISTS is
// a no-op when that system created it first.
const auditTableSQL = `
CREATE TABLE IF NOT EXISTS usps_vacancy_checks (
	id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	parcel_id        UUID NOT NULL REFERENCES parcels(id),
	checked_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	input_address    TEXT NOT NULL,
	input_state      TEXT,
	usps_address     TEXT,
	usps_city        TEXT,
	usps_state       TEXT,
	usps_zip         TEXT,
	usps_zip4        TEXT,
	vacant           BOOLEAN,
	dpv_confirmed    BOOLEAN,
	business         BOOLEAN,
	address_mismatch BOOLEAN DEFAULT false,
	carrier_route    TEXT,
	account          SMALLINT,
	error            TEXT,
	raw_response     JSONB
)`

var auditIndexSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_usps_vacancy_checks_parcel_date
	 ON usps_vacancy_checks (parcel_id, checked_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_usps_vacancy_checks_vacant
	 ON usps_vacancy_checks (vacant) WHERE vacant = true`,
}

// Migrate runs every migration group plus the audit table at process start.
func (s *Store) Migrate(ctx context.Context) error {
	existing, err := s.existingColumns(ctx)
	if err != nil {
		return err
	}

	for _, group := range migrationGroups {
		if err := s.migrateGroup(ctx, group, existing); err != nil {
			return err
		}
	}

	for _, sql := range extraIndexSQL {
		if _, err := s.db.Exec(ctx, sql); err != nil {
			return eris.Wrap(err, "store: create partial index")
		}
	}

	if _, err := s.db.Exec(ctx, auditTableSQL); err != nil {
		return eris.Wrap(err, "store: create audit table")
	}
	for _, sql := range auditIndexSQL {
		if _, err := s.db.Exec(ctx, sql); err != nil {
			return eris.Wrap(err, "store: create audit index")
		}
	}

	return nil
}

func (s *Store) existingColumns(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.Query(ctx,
		`SELECT column_name FROM information_schema.columns WHERE table_name = 'gis_parcels_core'`)
	if err != nil {
		return nil, eris.Wrap(err, "store: read column catalog")
	}
	defer rows.Close()

	existing := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "store: scan column name")
		}
		existing[name] = struct{}{}
	}
	return existing, eris.Wrap(rows.Err(), "store: column catalog iterate")
}

func (s *Store) migrateGroup(ctx context.Context, group migrationGroup, existing map[string]struct{}) error {
	var missing []column
	for _, col := range group.columns {
		if _, ok := existing[col.name]; !ok {
			missing = append(missing, col)
		}
	}

	if len(missing) == 0 {
		zap.L().Debug("migration group up to date", zap.String("group", group.name))
	} else {
		for _, col := range missing {
			// The catalog check races with concurrent migrators; the
			// duplicate_column handler makes the ADD COLUMN itself idempotent.
			sql := fmt.Sprintf(`DO $$ BEGIN
				ALTER TABLE gis_parcels_core ADD COLUMN %s %s;
			EXCEPTION WHEN duplicate_column THEN NULL;
			END $$`, col.name, col.typ)
			if _, err := s.db.Exec(ctx, sql); err != nil {
				return eris.Wrapf(err, "store: add column %s", col.name)
			}
			existing[col.name] = struct{}{}
		}
		zap.L().Info("migration group applied",
			zap.String("group", group.name), zap.Int("columns_added", len(missing)))
	}

	for _, idx := range group.indexes {
		sql := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON gis_parcels_core (%s)`, idx.name, idx.expr)
		if _, err := s.db.Exec(ctx, sql); err != nil {
			return eris.Wrapf(err, "store: create index %s", idx.name)
		}
	}
	return nil
}
