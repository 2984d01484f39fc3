package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/distress-scanner/internal/model"
)

// EnsureCounty gets or creates the county row, returning its UUID.
func (s *Store) EnsureCounty(ctx context.Context, name, stateCode string) (string, error) {
	var id uuid.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO counties (name, state_code)
		VALUES ($1, $2)
		ON CONFLICT (name, state_code) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`,
		name, stateCode,
	).Scan(&id)
	if err != nil {
		return "", eris.Wrap(err, "store: ensure county")
	}
	return id.String(), nil
}

// SyncParcelsFromGIS ensures rows exist in the external parcels table for
// the given parcel ids by copying identity fields from gis_parcels_core.
func (s *Store) SyncParcelsFromGIS(ctx context.Context, countyID, countyName string, parcelIDs []string) (int, error) {
	if len(parcelIDs) == 0 {
		return 0, nil
	}

	tag, err := s.db.Exec(ctx, `
		INSERT INTO parcels (county_id, parcel_id, owner_name, address_full)
		SELECT $1::uuid, gpc.parcel_id, gpc.owner_name, gpc.situs_address
		FROM gis_parcels_core gpc
		WHERE gpc.county = $2 AND gpc.parcel_id = ANY($3)
		ON CONFLICT (county_id, parcel_id) DO UPDATE SET
			owner_name = COALESCE(EXCLUDED.owner_name, parcels.owner_name),
			address_full = COALESCE(EXCLUDED.address_full, parcels.address_full)`,
		countyID, countyName, parcelIDs,
	)
	if err != nil {
		return 0, eris.Wrap(err, "store: sync parcels")
	}
	return int(tag.RowsAffected()), nil
}

// ParcelUUIDs batch-resolves GIS parcel ids to parcel-table UUIDs.
func (s *Store) ParcelUUIDs(ctx context.Context, countyID string, parcelIDs []string) (map[string]string, error) {
	if len(parcelIDs) == 0 {
		return map[string]string{}, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT parcel_id, id FROM parcels
		WHERE county_id = $1::uuid AND parcel_id = ANY($2)`,
		countyID, parcelIDs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: parcel uuids")
	}
	defer rows.Close()

	out := make(map[string]string, len(parcelIDs))
	for rows.Next() {
		var parcelID string
		var id uuid.UUID
		if err := rows.Scan(&parcelID, &id); err != nil {
			return nil, eris.Wrap(err, "store: scan parcel uuid")
		}
		out[parcelID] = id.String()
	}
	return out, eris.Wrap(rows.Err(), "store: parcel uuids iterate")
}

// SaveVacancyAudit appends one probe to the shared usps_vacancy_checks
// table. Best-effort by contract: any failure — a missing parcels table in
// standalone deployments included — is logged and swallowed; the parcel
// update must never be blocked by the audit.
func (s *Store) SaveVacancyAudit(ctx context.Context, p model.Parcel, u model.VacancyUpdate, raw []byte) {
	countyID, err := s.EnsureCounty(ctx, p.County, p.StateCode)
	if err != nil {
		zap.L().Debug("vacancy audit skipped", zap.Error(err))
		return
	}
	if _, err := s.SyncParcelsFromGIS(ctx, countyID, p.County, []string{p.ParcelID}); err != nil {
		zap.L().Debug("vacancy audit skipped", zap.Error(err))
		return
	}
	uuids, err := s.ParcelUUIDs(ctx, countyID, []string{p.ParcelID})
	if err != nil {
		zap.L().Debug("vacancy audit skipped", zap.Error(err))
		return
	}
	parcelUUID, ok := uuids[p.ParcelID]
	if !ok {
		zap.L().Debug("vacancy audit skipped: parcel uuid not found",
			zap.String("parcel_id", p.ParcelID))
		return
	}

	var rawArg any
	if len(raw) > 0 {
		rawArg = raw
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO usps_vacancy_checks (
			parcel_id, input_address, input_state,
			usps_address, usps_city, usps_state, usps_zip, usps_zip4,
			vacant, dpv_confirmed, business, address_mismatch,
			carrier_route, account, error, raw_response
		) VALUES (
			$1::uuid, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14, $15, $16
		)`,
		parcelUUID, p.SitusAddress, p.StateCode,
		nilIfEmpty(u.Address), nilIfEmpty(u.City), nilIfEmpty(p.StateCode),
		nilIfEmpty(u.Zip), nilIfEmpty(u.Zip4),
		u.Vacant, u.DPVConfirmed, u.Business, u.AddressMismatch,
		nilIfEmpty(u.CarrierRoute), u.Account, nilIfEmpty(u.Error), rawArg,
	)
	if err != nil {
		zap.L().Warn("vacancy audit write failed",
			zap.String("parcel_id", p.ParcelID), zap.Error(err))
	}
}
