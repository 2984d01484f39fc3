package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/distress-scanner/internal/model"
)

//go:embed signal_types.yaml
var signalTypesYAML []byte

// SignalType is one registry entry for the shared signal_types table.
type SignalType struct {
	Code        string  `yaml:"code"`
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	BaseWeight  float64 `yaml:"base_weight"`
	DecayType   string  `yaml:"decay_type"`
	DecayDays   *int    `yaml:"decay_days"`
}

// SignalTypes parses the embedded registry.
func SignalTypes() ([]SignalType, error) {
	var out struct {
		Signals []SignalType `yaml:"signals"`
	}
	if err := yaml.Unmarshal(signalTypesYAML, &out); err != nil {
		return nil, eris.Wrap(err, "store: parse signal registry")
	}
	return out.Signals, nil
}

// RegisterSignalTypes inserts this scanner's signal types into the shared
// signal_types table, idempotently, and returns {code: uuid}.
func (s *Store) RegisterSignalTypes(ctx context.Context) (map[string]string, error) {
	types, err := SignalTypes()
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(types))
	for _, st := range types {
		_, err := s.db.Exec(ctx, `
			INSERT INTO signal_types (code, name, description, base_weight, decay_type, decay_days)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (code) DO NOTHING`,
			st.Code, st.Name, st.Description, st.BaseWeight, st.DecayType, st.DecayDays,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "store: register signal type %s", st.Code)
		}

		var id string
		if err := s.db.QueryRow(ctx,
			`SELECT id FROM signal_types WHERE code = $1`, st.Code,
		).Scan(&id); err != nil {
			return nil, eris.Wrapf(err, "store: fetch signal type %s", st.Code)
		}
		out[st.Code] = id
		zap.L().Info("signal type registered", zap.String("code", st.Code), zap.String("id", id))
	}
	return out, nil
}

// WriteSignals persists triggered flags as parcel_signals rows: deactivate
// the previous active signal for the parcel/type pair, insert the new one.
// Returns (written, failed).
func (s *Store) WriteSignals(ctx context.Context, countyName, stateCode string,
	parcelFlags map[string][]model.Flag, signalDate time.Time) (int, int, error) {

	if len(parcelFlags) == 0 {
		return 0, 0, nil
	}

	countyID, err := s.EnsureCounty(ctx, countyName, stateCode)
	if err != nil {
		return 0, 0, err
	}

	parcelIDs := make([]string, 0, len(parcelFlags))
	for pid := range parcelFlags {
		parcelIDs = append(parcelIDs, pid)
	}
	if _, err := s.SyncParcelsFromGIS(ctx, countyID, countyName, parcelIDs); err != nil {
		return 0, 0, err
	}
	uuids, err := s.ParcelUUIDs(ctx, countyID, parcelIDs)
	if err != nil {
		return 0, 0, err
	}
	typeIDs, err := s.RegisterSignalTypes(ctx)
	if err != nil {
		return 0, 0, err
	}

	written, failed := 0, 0
	for pid, fired := range parcelFlags {
		parcelUUID, ok := uuids[pid]
		if !ok {
			zap.L().Warn("parcel uuid not found", zap.String("parcel_id", pid))
			failed += len(fired)
			continue
		}
		for _, f := range fired {
			typeID, ok := typeIDs[f.Code]
			if !ok {
				// Codes outside the scanner's registry (carrier vacancy rides
				// on the parcel row, not the signal table) are not failures.
				continue
			}
			if err := s.writeSignal(ctx, parcelUUID, typeID, signalDate, f); err != nil {
				zap.L().Error("signal write failed",
					zap.String("parcel_id", pid), zap.String("code", f.Code), zap.Error(err))
				failed++
				continue
			}
			written++
		}
	}

	zap.L().Info("signals written", zap.Int("written", written), zap.Int("failed", failed))
	return written, failed, nil
}

func (s *Store) writeSignal(ctx context.Context, parcelUUID, typeID string, signalDate time.Time, f model.Flag) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "store: begin signal write")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `
		UPDATE parcel_signals SET is_active = FALSE
		WHERE parcel_id = $1::uuid AND signal_type_id = $2::uuid AND is_active = TRUE`,
		parcelUUID, typeID,
	); err != nil {
		return eris.Wrap(err, "store: deactivate signal")
	}

	evidence, err := marshalEvidence(f.Evidence)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO parcel_signals (parcel_id, signal_type_id, signal_date, confidence, evidence, is_active)
		VALUES ($1::uuid, $2::uuid, $3, $4, $5::jsonb, TRUE)
		ON CONFLICT DO NOTHING`,
		parcelUUID, typeID, signalDate, f.Confidence, evidence,
	); err != nil {
		return eris.Wrap(err, "store: insert signal")
	}

	return eris.Wrap(tx.Commit(ctx), "store: commit signal write")
}

func marshalEvidence(evidence map[string]any) (string, error) {
	if evidence == nil {
		evidence = map[string]any{}
	}
	b, err := json.Marshal(evidence)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal evidence")
	}
	return string(b), nil
}
