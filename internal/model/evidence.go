package model

// AerialEvidence is the aerial-imagery view of a parcel at scan time.
// HistoricalMean is nil when the scan ran in fast mode (no vintage history).
type AerialEvidence struct {
	CurrentNDVI    *float64
	HistoricalMean *float64
	Category       string
	Date           string
	Err            string
}

// TrendEvidence is the monthly satellite NDVI view (primary or fallback source).
type TrendEvidence struct {
	Slope        *float64
	Direction    string
	LatestNDVI   *float64
	EarliestNDVI *float64
	MonthsData   int
	Err          string
}

// FloodEvidence is the hazard-layer view of a parcel.
type FloodEvidence struct {
	Zone        string
	RiskLevel   string
	SFHA        bool
	ZoneSubtype string
	Err         string
}

// VacancyEvidence is the carrier-confirmed view of a parcel's delivery point.
type VacancyEvidence struct {
	Vacant          *bool
	DPVConfirmed    *bool
	AddressMismatch bool
	Address         string
	City            string
	Zip             string
	CarrierRoute    string
}

// Evidence bundles all sources for one parcel. Any field may be nil when
// that source was not queried or failed.
type Evidence struct {
	Aerial  *AerialEvidence
	Trend   *TrendEvidence
	Flood   *FloodEvidence
	Vacancy *VacancyEvidence
}

// Flag is one triggered distress signal with its confidence and the
// evidence values that contributed to it.
type Flag struct {
	Code       string
	Confidence float64
	Evidence   map[string]any
}
