package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// QueryFilter is the read-endpoint filter set.
type QueryFilter struct {
	County        string
	StateCode     string
	PropertyClass string
	Zip           string
	FemaZone      string

	MinValue *float64
	MaxValue *float64
	MinSqft  *float64
	MaxSqft  *float64
	MinScore *float64

	FlagVeg        *bool
	FlagFlood      *bool
	FlagStructural *bool
	FlagNeglect    *bool
	FlagVacancy    *bool

	ScannedOnly bool
	SortBy      string
	Limit       int
	Offset      int
}

// sortColumns whitelists sortable columns for the read query.
var sortColumns = map[string]string{
	"distress_score":     "distress_score DESC NULLS LAST",
	"distress_composite": "distress_composite DESC NULLS LAST",
	"conviction_score":   "conviction_score DESC NULLS LAST",
	"ndvi_score":         "ndvi_score DESC NULLS LAST",
	"scan_date":          "scan_date DESC NULLS LAST",
	"total_value":        "total_value DESC NULLS LAST",
}

// ParcelView is one read-endpoint row with grouped sub-records.
type ParcelView struct {
	ParcelID      string     `json:"parcel_id"`
	County        string     `json:"county"`
	StateCode     string     `json:"state_code"`
	Latitude      *float64   `json:"latitude"`
	Longitude     *float64   `json:"longitude"`
	SitusAddress  string     `json:"situs_address"`
	PropertyClass string     `json:"property_class"`
	TotalValue    *float64   `json:"total_value"`
	Sqft          *float64   `json:"sqft"`

	Flags      FlagsView       `json:"flags"`
	Flood      FloodView       `json:"flood"`
	Aerial     AerialView      `json:"aerial"`
	Satellite  SatelliteView   `json:"satellite"`
	Vacancy    *VacancyView    `json:"vacancy,omitempty"`
	Conviction *ConvictionView `json:"conviction,omitempty"`
}

// FlagsView groups the flag booleans and confidences.
type FlagsView struct {
	DistressScore     *float64 `json:"distress_score"`
	DistressComposite *float64 `json:"distress_composite"`
	Codes             *string  `json:"codes"`
	Veg               bool     `json:"veg"`
	Flood             bool     `json:"flood"`
	Structural        bool     `json:"structural"`
	Neglect           bool     `json:"neglect"`
	VegConfidence     *float64 `json:"veg_confidence"`
	FloodConfidence   *float64 `json:"flood_confidence"`
}

// FloodView groups the hazard columns.
type FloodView struct {
	Zone *string `json:"zone"`
	Risk *string `json:"risk"`
	SFHA *bool   `json:"sfha"`
}

// AerialView groups the Pass 1 NDVI columns.
type AerialView struct {
	NDVI      *float64   `json:"ndvi"`
	Category  *string    `json:"category"`
	Date      *string    `json:"date"`
	ScanDate  *time.Time `json:"scan_date"`
	ScanPass  *int16     `json:"scan_pass"`
	SlopeFive *float64   `json:"ndvi_slope_5yr"`
	Pctile    *float64   `json:"ndvi_slope_pctile"`
}

// SatelliteView groups the satellite band.
type SatelliteView struct {
	TrendDirection *string    `json:"trend_direction"`
	TrendSlope     *float64   `json:"trend_slope"`
	LatestNDVI     *float64   `json:"latest_ndvi"`
	MonthsData     *int16     `json:"months_data"`
	MeanNDVI       *float64   `json:"mean_ndvi"`
	DataSource     *string    `json:"data_source"`
	ChartURL       *string    `json:"chart_url"`
	ScanDate       *time.Time `json:"scan_date"`
}

// VacancyView groups the carrier columns. Keys stay prefixed — consumers
// must read usps_address, not address.
type VacancyView struct {
	Vacant          *bool      `json:"vacant"`
	DPVConfirmed    *bool      `json:"dpv_confirmed"`
	USPSAddress     *string    `json:"usps_address"`
	USPSCity        *string    `json:"usps_city"`
	USPSZip         *string    `json:"usps_zip"`
	USPSZip4        *string    `json:"usps_zip4"`
	Business        *bool      `json:"business"`
	AddressMismatch *bool      `json:"address_mismatch"`
	CheckDate       *time.Time `json:"check_date"`
	Error           *string    `json:"error"`
	FlagVacancy     *bool      `json:"flag_vacancy"`
	Confidence      *float64   `json:"confidence"`
}

// ConvictionView groups the conviction band.
type ConvictionView struct {
	Score        *float64   `json:"score"`
	BaseScore    *float64   `json:"base_score"`
	VacancyBonus *float64   `json:"vacancy_bonus"`
	MCScore      *float64   `json:"mc_score"`
	MCSignals    *int       `json:"mc_signals"`
	MCCodes      *string    `json:"mc_codes"`
	Components   *string    `json:"components"`
	Date         *time.Time `json:"date"`
}

// QueryParcels runs the filtered read.
func (s *Store) QueryParcels(ctx context.Context, f QueryFilter) ([]ParcelView, error) {
	query := `
		SELECT parcel_id, county, state_code, latitude, longitude,
		       COALESCE(situs_address, ''), COALESCE(property_class, ''),
		       total_value, sqft,
		       distress_score, distress_composite, distress_flags,
		       COALESCE(flag_veg, FALSE), COALESCE(flag_flood, FALSE),
		       COALESCE(flag_structural, FALSE), COALESCE(flag_neglect, FALSE),
		       veg_confidence, flood_confidence,
		       fema_zone, fema_risk, fema_sfha,
		       ndvi_score, ndvi_category, ndvi_date, scan_date, scan_pass,
		       ndvi_slope_5yr, ndvi_slope_pctile,
		       sentinel_trend_direction, sentinel_trend_slope, sentinel_latest_ndvi,
		       sentinel_months_data, sentinel_mean_ndvi, sentinel_data_source,
		       sentinel_chart_url, sentinel_scan_date,
		       usps_vacant, usps_dpv_confirmed, usps_address, usps_city,
		       usps_zip, usps_zip4, usps_business, usps_address_mismatch,
		       usps_check_date, usps_error, flag_vacancy, vacancy_confidence,
		       conviction_score, conviction_base_score, conviction_vacancy_bonus,
		       conviction_mc_score, conviction_mc_signals, conviction_mc_codes,
		       conviction_components, conviction_date
		FROM gis_parcels_core
		WHERE true`
	var args []any
	argIdx := 1

	add := func(clause string, value any) {
		query += fmt.Sprintf(clause, argIdx)
		args = append(args, value)
		argIdx++
	}

	if f.County != "" {
		add(" AND county = $%d", f.County)
	}
	if f.StateCode != "" {
		add(" AND state_code = $%d", f.StateCode)
	}
	if f.PropertyClass != "" {
		add(" AND property_class = $%d", f.PropertyClass)
	}
	if f.Zip != "" {
		add(" AND SUBSTRING(mailing_zip FROM 1 FOR 5) = $%d", f.Zip)
	}
	if f.FemaZone != "" {
		add(" AND fema_zone = $%d", f.FemaZone)
	}
	if f.MinValue != nil {
		add(" AND total_value >= $%d", *f.MinValue)
	}
	if f.MaxValue != nil {
		add(" AND total_value <= $%d", *f.MaxValue)
	}
	if f.MinSqft != nil {
		add(" AND sqft >= $%d", *f.MinSqft)
	}
	if f.MaxSqft != nil {
		add(" AND sqft <= $%d", *f.MaxSqft)
	}
	if f.MinScore != nil {
		add(" AND distress_score >= $%d", *f.MinScore)
	}
	for col, val := range map[string]*bool{
		"flag_veg":        f.FlagVeg,
		"flag_flood":      f.FlagFlood,
		"flag_structural": f.FlagStructural,
		"flag_neglect":    f.FlagNeglect,
		"flag_vacancy":    f.FlagVacancy,
	} {
		if val != nil {
			add(" AND "+col+" = $%d", *val)
		}
	}
	if f.ScannedOnly {
		query += " AND scan_date IS NOT NULL"
	}

	order, ok := sortColumns[f.SortBy]
	if !ok {
		order = "distress_score DESC NULLS LAST"
	}
	query += " ORDER BY " + order

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	add(" LIMIT $%d", limit)
	if f.Offset > 0 {
		add(" OFFSET $%d", f.Offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: query parcels")
	}
	defer rows.Close()

	var out []ParcelView
	for rows.Next() {
		var v ParcelView
		var vac VacancyView
		var conv ConvictionView
		if err := rows.Scan(
			&v.ParcelID, &v.County, &v.StateCode, &v.Latitude, &v.Longitude,
			&v.SitusAddress, &v.PropertyClass, &v.TotalValue, &v.Sqft,
			&v.Flags.DistressScore, &v.Flags.DistressComposite, &v.Flags.Codes,
			&v.Flags.Veg, &v.Flags.Flood, &v.Flags.Structural, &v.Flags.Neglect,
			&v.Flags.VegConfidence, &v.Flags.FloodConfidence,
			&v.Flood.Zone, &v.Flood.Risk, &v.Flood.SFHA,
			&v.Aerial.NDVI, &v.Aerial.Category, &v.Aerial.Date, &v.Aerial.ScanDate, &v.Aerial.ScanPass,
			&v.Aerial.SlopeFive, &v.Aerial.Pctile,
			&v.Satellite.TrendDirection, &v.Satellite.TrendSlope, &v.Satellite.LatestNDVI,
			&v.Satellite.MonthsData, &v.Satellite.MeanNDVI, &v.Satellite.DataSource,
			&v.Satellite.ChartURL, &v.Satellite.ScanDate,
			&vac.Vacant, &vac.DPVConfirmed, &vac.USPSAddress, &vac.USPSCity,
			&vac.USPSZip, &vac.USPSZip4, &vac.Business, &vac.AddressMismatch,
			&vac.CheckDate, &vac.Error, &vac.FlagVacancy, &vac.Confidence,
			&conv.Score, &conv.BaseScore, &conv.VacancyBonus,
			&conv.MCScore, &conv.MCSignals, &conv.MCCodes,
			&conv.Components, &conv.Date,
		); err != nil {
			return nil, eris.Wrap(err, "store: scan parcel view")
		}
		if vac.CheckDate != nil || vac.Vacant != nil {
			v.Vacancy = &vac
		}
		if conv.Date != nil {
			v.Conviction = &conv
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "store: query parcels iterate")
}
