package pass

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/distress-scanner/internal/model"
	"github.com/sells-group/distress-scanner/internal/score"
)

// ConvictionPass is Pass 2.5: reads the composite, the motivation-signal
// aggregates (joined through the county+state compound key), and the
// vacancy confidence; fuses them into the conviction band; backfills the
// motivation_scores table.
type ConvictionPass struct {
	Dial      Dialer
	County    string
	StateCode string

	SkipMotivation bool
	DryRun         bool
}

// Run executes the fusion for every parcel of the county.
func (p *ConvictionPass) Run(ctx context.Context) (Summary, error) {
	fetch, closeFetch, err := p.Dial(ctx)
	if err != nil {
		return Summary{}, err
	}
	rows, err := fetch.FetchConvictionRows(ctx, p.County, p.StateCode)
	closeFetch()
	if err != nil {
		return Summary{}, err
	}

	results := ComputeConvictionResults(rows)

	scored := 0
	components := map[string]int{}
	for _, r := range results {
		if r.Score != nil {
			scored++
		}
		key := r.Components
		if key == "" {
			key = "NONE"
		}
		components[key]++
	}
	zap.L().Info("conviction computed",
		zap.String("county", p.County),
		zap.Int("parcels", len(rows)),
		zap.Int("scored", scored),
		zap.Any("component_distribution", components))

	summary := Summary{Scanned: len(rows), Flagged: scored}
	if p.DryRun {
		return summary, nil
	}

	flushStore, closeFlush, err := p.Dial(ctx)
	if err != nil {
		return summary, err
	}
	flushed, err := flushStore.FlushConvictionScores(ctx, p.County, results)
	closeFlush()
	if err != nil {
		return summary, err
	}
	summary.Flushed = flushed

	if !p.SkipMotivation {
		backfill, closeBackfill, err := p.Dial(ctx)
		if err != nil {
			return summary, err
		}
		err = backfill.BackfillMotivationScores(ctx, p.County, p.StateCode, rows)
		closeBackfill()
		if err != nil {
			return summary, err
		}
	}

	return summary, nil
}

// ComputeConvictionResults runs the fusion over the aggregate rows.
func ComputeConvictionResults(rows []model.ConvictionRow) []model.ConvictionResult {
	results := make([]model.ConvictionResult, 0, len(rows))
	for _, row := range rows {
		fusion := score.Conviction(score.ConvictionInput{
			DSComposite:       row.DistressComposite,
			MCRaw:             row.MCRawScore,
			MCCount:           row.MCSignalCount,
			FlagVacancy:       row.FlagVacancy,
			VacancyConfidence: row.VacancyConfidence,
			USPSError:         row.USPSError,
		})

		result := model.ConvictionResult{
			ParcelID:     row.ParcelID,
			Score:        fusion.Score,
			BaseScore:    fusion.Base,
			VacancyBonus: fusion.VacancyBonus,
			Components:   score.ComponentsString(fusion.Components),
		}
		if row.MCSignalCount > 0 {
			raw := row.MCRawScore
			count := row.MCSignalCount
			result.MCScore = &raw
			result.MCSignals = &count
			result.MCCodes = row.MCSignalCodes
		}
		results = append(results, result)
	}
	return results
}
