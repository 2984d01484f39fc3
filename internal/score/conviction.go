package score

import "strings"

// Conviction model constants.
const (
	WeightDS       = 0.35
	WeightMC       = 0.40
	MCCap          = 7.0
	VacancyBonusMax = 2.5
	ModelVersion   = "v1.0"
)

// ConvictionInput carries the fusion inputs for one parcel. DSComposite is
// nil when the parcel has no composite; MCCount == 0 means missing motivation
// coverage (not zero evidence) and excludes the MC component entirely.
type ConvictionInput struct {
	DSComposite       *float64
	MCRaw             float64
	MCCount           int
	FlagVacancy       bool
	VacancyConfidence *float64
	USPSError         string
}

// ConvictionOutput is the fusion result. With neither component present the
// base is 0 and the score degenerates to the vacancy bonus.
type ConvictionOutput struct {
	Score        *float64
	Base         *float64
	VacancyBonus float64
	Components   []string
}

// Conviction fuses the distress composite, motivation-signal aggregate, and
// carrier vacancy into a single score. The reweighted-average rule is
// load-bearing: a missing component is excluded from both numerator and
// denominator, never treated as zero.
func Conviction(in ConvictionInput) ConvictionOutput {
	var dsComp, mcComp *float64

	if in.DSComposite != nil {
		v := clamp(*in.DSComposite/10.0, 0, 1)
		dsComp = &v
	}
	if in.MCCount > 0 {
		v := clamp(in.MCRaw/MCCap, 0, 1)
		mcComp = &v
	}

	// Vacancy bonus only on a clean carrier-confirmed check.
	bonus := 0.0
	if in.FlagVacancy && in.USPSError == "" {
		vc := 0.8
		if in.VacancyConfidence != nil {
			vc = clamp(*in.VacancyConfidence, 0, 1)
		}
		bonus = VacancyBonusMax * vc
	}

	baseSum := 0.0
	numerator := 0.0
	var components []string
	if dsComp != nil {
		baseSum += WeightDS
		numerator += WeightDS * *dsComp
		components = append(components, "DS")
	}
	if mcComp != nil {
		baseSum += WeightMC
		numerator += WeightMC * *mcComp
		components = append(components, "MC")
	}
	if bonus > 0 {
		components = append(components, "VAC")
	}

	// Both components absent: base is 0 and the score is just the bonus.
	if baseSum == 0 {
		score := round2(clamp(bonus, 0, 10))
		zero := 0.0
		return ConvictionOutput{
			Score:        &score,
			Base:         &zero,
			VacancyBonus: round2(bonus),
			Components:   components,
		}
	}

	base := 10 * numerator / baseSum
	score := round2(clamp(base+bonus, 0, 10))
	baseRounded := round2(base)

	return ConvictionOutput{
		Score:        &score,
		Base:         &baseRounded,
		VacancyBonus: round2(bonus),
		Components:   components,
	}
}

// ComponentsString joins the component tags for persistence ("DS,MC,VAC").
func ComponentsString(components []string) string {
	return strings.Join(components, ",")
}
