package backup

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/distress-scanner/internal/model"
)

func openSpill(t *testing.T) *Spill {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "spill.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndPending(t *testing.T) {
	s := openSpill(t)
	ctx := context.Background()

	vacant := true
	conf := 0.9
	in := []model.VacancyUpdate{
		{ParcelID: "P1", County: "Gaston", StateCode: "NC", Vacant: &vacant,
			FlagVacancy: true, VacancyConfidence: &conf},
		{ParcelID: "P2", County: "Gaston", StateCode: "NC", Error: "rate_limited"},
	}
	require.NoError(t, Save(ctx, s, in))

	out, ids, err := Pending[model.VacancyUpdate](ctx, s)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Len(t, ids, 2)
	assert.Equal(t, "P1", out[0].ParcelID)
	require.NotNil(t, out[0].Vacant)
	assert.True(t, *out[0].Vacant)
	assert.Equal(t, "rate_limited", out[1].Error)
}

func TestMarkReplayed(t *testing.T) {
	s := openSpill(t)
	ctx := context.Background()

	require.NoError(t, Save(ctx, s, []model.VacancyUpdate{
		{ParcelID: "P1", County: "Gaston"},
		{ParcelID: "P2", County: "Gaston"},
	}))

	_, ids, err := Pending[model.VacancyUpdate](ctx, s)
	require.NoError(t, err)
	require.NoError(t, s.MarkReplayed(ctx, ids[:1]))

	remaining, _, err := Pending[model.VacancyUpdate](ctx, s)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "P2", remaining[0].ParcelID)
}

func TestPending_Empty(t *testing.T) {
	s := openSpill(t)
	out, ids, err := Pending[model.VacancyUpdate](context.Background(), s)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, ids)
}

func TestOpen_Reopenable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spill.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, Save(ctx, s, []model.VacancyUpdate{{ParcelID: "P1", County: "Gaston"}}))
	require.NoError(t, s.Close())

	// Rows survive process restarts.
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close() //nolint:errcheck
	out, _, err := Pending[model.VacancyUpdate](ctx, s2)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}
