package usps

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// SplitAddress is a situs address broken into the fields the address API
// expects.
type SplitAddress struct {
	Street  string
	City    string
	State   string
	ZipCode string
}

var stateCodes = map[string]struct{}{
	"AL": {}, "AK": {}, "AZ": {}, "AR": {}, "CA": {}, "CO": {}, "CT": {}, "DE": {},
	"FL": {}, "GA": {}, "HI": {}, "ID": {}, "IL": {}, "IN": {}, "IA": {}, "KS": {},
	"KY": {}, "LA": {}, "ME": {}, "MD": {}, "MA": {}, "MI": {}, "MN": {}, "MS": {},
	"MO": {}, "MT": {}, "NE": {}, "NV": {}, "NH": {}, "NJ": {}, "NM": {}, "NY": {},
	"NC": {}, "ND": {}, "OH": {}, "OK": {}, "OR": {}, "PA": {}, "RI": {}, "SC": {},
	"SD": {}, "TN": {}, "TX": {}, "UT": {}, "VT": {}, "VA": {}, "WA": {}, "WV": {},
	"WI": {}, "WY": {}, "DC": {},
}

// ambiguousStateSuffix tokens read as both a state code and a common street
// suffix (CT = Connecticut or Court, IN = Indiana, ...).
var ambiguousStateSuffix = map[string]struct{}{
	"CT": {}, "IN": {}, "AL": {}, "ME": {}, "OR": {},
}

var streetSuffixes = map[string]struct{}{
	"ST": {}, "AVE": {}, "AV": {}, "RD": {}, "DR": {}, "LN": {}, "CT": {}, "CIR": {},
	"BLVD": {}, "WAY": {}, "PL": {}, "TRL": {}, "LOOP": {}, "HWY": {}, "PKY": {},
	"PKWY": {}, "COVE": {}, "CV": {}, "RUN": {}, "PATH": {}, "PASS": {}, "PT": {},
	"PIKE": {}, "SQ": {}, "TER": {}, "TERR": {}, "ALY": {}, "ROW": {}, "WALK": {},
	"XING": {}, "EXT": {}, "BND": {}, "CRES": {}, "GRV": {}, "HOLW": {}, "IS": {},
	"KNL": {}, "LK": {}, "LNDG": {}, "MALL": {}, "MNR": {}, "MDW": {}, "MDWS": {},
	"ML": {}, "MLS": {}, "OVAL": {}, "PARK": {}, "PLZ": {}, "RIDGE": {}, "RDG": {},
	"SHR": {}, "SPG": {}, "SPUR": {}, "TRCE": {}, "VLY": {}, "VW": {}, "VISTA": {},
}

var skipWords = map[string]struct{}{
	"UNINC": {}, "UNINCORP": {}, "UNINCORPORATED": {}, "COUNTY": {}, "TWP": {}, "TOWNSHIP": {},
}

// SplitSitus splits a situs address into street/city/state/ZIP for the
// address API. County GIS situs strings come in many shapes:
//
//	"123 MAIN ST CHARLOTTE NC"       -> street/city/state
//	"123 MAIN ST CHARLOTTE NC 28083" -> street/city/state/zip
//	"123 MAIN ST"                    -> street only, falls back
//	"123 MAIN ST UNINC NC"           -> strips UNINC, city from fallback
func SplitSitus(situs, fallbackCity, fallbackState string) SplitAddress {
	parts := strings.Fields(strings.TrimSpace(situs))
	if len(parts) == 0 {
		return SplitAddress{Street: situs, City: fallbackCity, State: fallbackState}
	}

	// Strip trailing ZIP (5-digit or ZIP+4).
	zipCode := ""
	last := parts[len(parts)-1]
	if len(last) == 5 && isDigits(last) {
		zipCode = last
		parts = parts[:len(parts)-1]
	} else if len(last) == 10 && last[5] == '-' && isDigits(last[:5]) && isDigits(last[6:]) {
		zipCode = last[:5]
		parts = parts[:len(parts)-1]
	}

	if len(parts) == 0 {
		return SplitAddress{Street: strings.TrimSpace(situs), City: fallbackCity,
			State: fallbackState, ZipCode: zipCode}
	}

	if len(parts) >= 3 {
		state := strings.ToUpper(parts[len(parts)-1])
		if _, ok := stateCodes[state]; ok {
			// Disambiguation: an ambiguous trailing token that contradicts
			// the known fallback state is a street suffix, not a state.
			if _, amb := ambiguousStateSuffix[state]; amb &&
				fallbackState != "" && state != strings.ToUpper(fallbackState) {
				return SplitAddress{Street: strings.Join(parts, " "), City: fallbackCity,
					State: fallbackState, ZipCode: zipCode}
			}

			cityCandidate := strings.ToUpper(parts[len(parts)-2])
			if _, skip := skipWords[cityCandidate]; skip || isDigits(cityCandidate) {
				return SplitAddress{Street: strings.Join(parts[:len(parts)-2], " "),
					City: fallbackCity, State: state, ZipCode: zipCode}
			}

			// Walk back from the state to find where the city begins: the
			// first street suffix bounds the street portion.
			var cityParts []string
			idx := len(parts) - 2
			for idx > 0 {
				token := strings.TrimRight(strings.ToUpper(parts[idx]), ",.")
				if _, suffix := streetSuffixes[token]; suffix {
					break
				}
				cityParts = append([]string{parts[idx]}, cityParts...)
				idx--
			}

			if len(cityParts) > 0 {
				return SplitAddress{
					Street:  strings.Join(parts[:idx+1], " "),
					City:    strings.Join(cityParts, " "),
					State:   state,
					ZipCode: zipCode,
				}
			}
			return SplitAddress{Street: strings.Join(parts[:len(parts)-2], " "),
				City: parts[len(parts)-2], State: state, ZipCode: zipCode}
		}
	}

	return SplitAddress{Street: strings.Join(parts, " "), City: fallbackCity,
		State: fallbackState, ZipCode: zipCode}
}

var upperCaser = cases.Upper(language.AmericanEnglish)

// DetectMismatch reports whether the carrier returned a meaningfully
// different street address. Formatting differences (case, spacing,
// containment, same house number) are not mismatches.
func DetectMismatch(input, resolved string) bool {
	if resolved == "" {
		return false
	}
	a := strings.Join(strings.Fields(upperCaser.String(input)), " ")
	b := strings.Join(strings.Fields(upperCaser.String(resolved)), " ")

	if strings.Contains(a, b) || strings.Contains(b, a) {
		return false
	}
	aParts := strings.Fields(a)
	bParts := strings.Fields(b)
	if len(aParts) > 0 && len(bParts) > 0 && aParts[0] == bParts[0] {
		return false
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
