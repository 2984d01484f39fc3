package pass

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/distress-scanner/internal/model"
	"github.com/sells-group/distress-scanner/pkg/geocode"
	"github.com/sells-group/distress-scanner/pkg/usps"
)

type fakeResolver struct {
	result *geocode.CityZip
	calls  int
}

func (f *fakeResolver) ResolveCityZip(_ context.Context, _, _, _ string) (*geocode.CityZip, error) {
	f.calls++
	return f.result, nil
}

func TestResolveAddresses_SitusParsed(t *testing.T) {
	p := &VacancyPass{Resolver: &fakeResolver{result: &geocode.CityZip{}}}

	resolved, skipped := p.resolveAddresses(context.Background(), []model.Parcel{
		{ParcelID: "P1", County: "Gaston", StateCode: "NC",
			SitusAddress: "123 MAIN ST GASTONIA NC 28052"},
	})
	require.Len(t, resolved, 1)
	assert.Equal(t, 0, skipped)
	assert.Equal(t, "123 MAIN ST", resolved[0].Street)
	assert.Equal(t, "GASTONIA", resolved[0].City)
	assert.Equal(t, "28052", resolved[0].Zip)
}

func TestResolveAddresses_GeocoderFallback(t *testing.T) {
	resolver := &fakeResolver{result: &geocode.CityZip{City: "DALLAS", Zip: "28034", Matched: true}}
	p := &VacancyPass{Resolver: resolver}

	resolved, skipped := p.resolveAddresses(context.Background(), []model.Parcel{
		{ParcelID: "P1", County: "Gaston", StateCode: "NC", SitusAddress: "77 QUIET PINES RD"},
	})
	require.Len(t, resolved, 1)
	assert.Equal(t, 0, skipped)
	assert.Equal(t, 1, resolver.calls)
	assert.Equal(t, "DALLAS", resolved[0].City)
	assert.Equal(t, "28034", resolved[0].Zip)
}

func TestResolveAddresses_MailingFallbackSameStateOnly(t *testing.T) {
	p := &VacancyPass{Resolver: &fakeResolver{result: &geocode.CityZip{}}}

	resolved, skipped := p.resolveAddresses(context.Background(), []model.Parcel{
		// In-state mailing address fills the gap; the 9-digit ZIP is trimmed.
		{ParcelID: "in_state", County: "Gaston", StateCode: "NC",
			SitusAddress: "12 ELM WAY",
			MailingCity:  "GASTONIA", MailingState: "NC", MailingZip: "280521234"},
		// Out-of-state investor mail says nothing about the situs city: skip.
		{ParcelID: "out_of_state", County: "Gaston", StateCode: "NC",
			SitusAddress: "14 ELM WAY",
			MailingCity:  "MIAMI", MailingState: "FL", MailingZip: "33101"},
	})

	require.Len(t, resolved, 1)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, "in_state", resolved[0].ParcelID)
	assert.Equal(t, "GASTONIA", resolved[0].City)
	assert.Equal(t, "28052", resolved[0].Zip)
}

func TestResolveAddresses_NoSitusSkipped(t *testing.T) {
	p := &VacancyPass{}
	resolved, skipped := p.resolveAddresses(context.Background(), []model.Parcel{
		{ParcelID: "P1", County: "Gaston", StateCode: "NC", SitusAddress: "   "},
	})
	assert.Empty(t, resolved)
	assert.Equal(t, 1, skipped)
}

func TestToUpdate_FlagEvaluated(t *testing.T) {
	p := &VacancyPass{}
	vacant := true
	dpv := true

	update := p.toUpdate(
		resolvedParcel{Parcel: model.Parcel{ParcelID: "P1", County: "Gaston", StateCode: "NC"}},
		&usps.Result{Vacant: &vacant, DPVConfirmed: &dpv, USPSAddress: "123 MAIN ST"},
		3,
	)
	assert.True(t, update.FlagVacancy)
	require.NotNil(t, update.VacancyConfidence)
	assert.InDelta(t, 0.90, *update.VacancyConfidence, 0.001)
	assert.Equal(t, 3, update.Account)
}

func TestToUpdate_ErrorNoFlag(t *testing.T) {
	p := &VacancyPass{}
	update := p.toUpdate(
		resolvedParcel{Parcel: model.Parcel{ParcelID: "P1", County: "Gaston"}},
		&usps.Result{Err: "rate_limited"},
		1,
	)
	assert.False(t, update.FlagVacancy)
	assert.Nil(t, update.VacancyConfidence)
	assert.Equal(t, "rate_limited", update.Error)
}
