package scan

import (
	"go.uber.org/zap"

	"github.com/sells-group/distress-scanner/internal/model"
	"github.com/sells-group/distress-scanner/pkg/planetlabs"
)

// StoreRefinement uploads the refinement thumbnails and builds the high-res
// persistence band. A nil artifact store skips the uploads and persists
// metadata only.
func StoreRefinement(artifacts ArtifactStore, lat, lng float64, parcelID, county string,
	ref *planetlabs.Refinement) model.PlanetResult {

	out := model.PlanetResult{
		ParcelID:     parcelID,
		County:       county,
		SceneCount:   int16(ref.SceneCount),
		ChangeScore:  ref.ChangeScore,
		EarliestDate: ref.EarliestDate,
		LatestDate:   ref.LatestDate,
	}
	if ref.TemporalSpan != nil {
		span := int16(*ref.TemporalSpan)
		out.TemporalSpan = &span
	}

	if artifacts == nil {
		return out
	}

	if len(ref.LatestThumb) > 0 {
		key := artifacts.PointKey(lat, lng, "planet_latest_"+orLabel(ref.LatestDate, "latest")+".png")
		if url, err := artifacts.Put(key, ref.LatestThumb); err == nil {
			out.ThumbLatest = url
		} else {
			zap.L().Warn("latest thumb store failed", zap.Error(err))
		}
	}
	if len(ref.EarliestThumb) > 0 {
		key := artifacts.PointKey(lat, lng, "planet_earliest_"+orLabel(ref.EarliestDate, "earliest")+".png")
		if url, err := artifacts.Put(key, ref.EarliestThumb); err == nil {
			out.ThumbEarliest = url
		} else {
			zap.L().Warn("earliest thumb store failed", zap.Error(err))
		}
	}
	return out
}

func orLabel(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
