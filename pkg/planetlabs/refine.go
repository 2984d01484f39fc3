package planetlabs

import (
	"bytes"
	"context"
	"image"
	_ "image/png" // thumbnail decoding
	"math"
	"time"

	"go.uber.org/zap"
)

// Temporal pair bounds: the comparison baseline must be at least 6 months
// older than the latest scene and at most 12 for relevance.
const (
	MinTemporalSpanDays = 180
	MaxTemporalSpanDays = 365
)

// Refinement is the multi-temporal comparison result for one parcel.
type Refinement struct {
	SceneCount    int
	Latest        *Scene
	Earliest      *Scene
	LatestThumb   []byte
	EarliestThumb []byte
	TemporalSpan  *int
	ChangeScore   *float64
	EarliestDate  string
	LatestDate    string
}

// Refine acquires a temporal scene pair for visual change comparison. Two
// narrow date-range searches — one wide search over-returns recent scenes
// and starves the historical window — then one thumbnail per endpoint.
func (c *Client) Refine(ctx context.Context, lat, lng float64, now time.Time) (*Refinement, error) {
	// Recent window: last month, latest scene wins.
	recent, err := c.SearchScenes(ctx, lat, lng, now.AddDate(0, -1, 0), now, 0.30, 5)
	if err != nil {
		return nil, err
	}

	out := &Refinement{SceneCount: recent.SceneCount}
	latest, latestTime := newestScene(recent.Scenes)
	if latest == nil {
		return out, nil
	}
	out.Latest = latest
	out.LatestDate = shortDate(latest.Acquired)

	// Historical window: 6-12 months before the latest scene, stricter
	// cloud ceiling for a clean comparison baseline.
	histStart := latestTime.AddDate(0, 0, -MaxTemporalSpanDays)
	histEnd := latestTime.AddDate(0, 0, -MinTemporalSpanDays)
	historical, err := c.SearchScenes(ctx, lat, lng, histStart, histEnd, 0.20, 5)
	if err == nil {
		out.SceneCount += historical.SceneCount
		earliest, earliestTime := oldestSceneInSpan(historical.Scenes, latestTime)
		if earliest != nil {
			out.Earliest = earliest
			out.EarliestDate = shortDate(earliest.Acquired)
			span := int(latestTime.Sub(earliestTime).Hours() / 24)
			out.TemporalSpan = &span
		}
	} else {
		zap.L().Warn("planetlabs historical search failed", zap.Error(err))
	}
	if out.EarliestDate == "" {
		out.EarliestDate = out.LatestDate
	}

	// One thumbnail per endpoint of the pair.
	if thumb, err := c.Thumbnail(ctx, latest.ItemType, latest.ID); err == nil {
		out.LatestThumb = thumb
	} else {
		zap.L().Warn("planetlabs latest thumbnail failed", zap.Error(err))
	}
	if out.Earliest != nil && out.Earliest.ID != latest.ID {
		if thumb, err := c.Thumbnail(ctx, out.Earliest.ItemType, out.Earliest.ID); err == nil {
			out.EarliestThumb = thumb
		} else {
			zap.L().Warn("planetlabs earliest thumbnail failed", zap.Error(err))
		}
	}

	out.ChangeScore = changeScore(out.LatestThumb, out.EarliestThumb)
	return out, nil
}

// changeScore derives a rough 0-1 change indicator from the mean brightness
// difference of the two thumbnails. 20+ points on the 0-255 scale = max.
func changeScore(latest, earliest []byte) *float64 {
	lb := meanBrightness(latest)
	eb := meanBrightness(earliest)
	if lb == nil || eb == nil {
		return nil
	}
	diff := math.Abs(*lb - *eb)
	score := math.Round(math.Min(diff/20.0, 1.0)*1000) / 1000
	return &score
}

// meanBrightness decodes a PNG thumbnail and averages grayscale luminance.
func meanBrightness(data []byte) *float64 {
	if len(data) < 100 {
		return nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}

	bounds := img.Bounds()
	var sum float64
	var count int
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma on 16-bit channels, scaled to 0-255.
			sum += (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 257
			count++
		}
	}
	if count == 0 {
		return nil
	}
	mean := sum / float64(count)
	return &mean
}

func newestScene(scenes []Scene) (*Scene, time.Time) {
	var best *Scene
	var bestTime time.Time
	for i := range scenes {
		t, ok := parseAcquired(scenes[i].Acquired)
		if !ok {
			continue
		}
		if best == nil || t.After(bestTime) {
			best = &scenes[i]
			bestTime = t
		}
	}
	return best, bestTime
}

// oldestSceneInSpan picks the earliest scene whose gap to latestTime lies
// within the temporal span bounds.
func oldestSceneInSpan(scenes []Scene, latestTime time.Time) (*Scene, time.Time) {
	var best *Scene
	var bestTime time.Time
	for i := range scenes {
		t, ok := parseAcquired(scenes[i].Acquired)
		if !ok {
			continue
		}
		span := int(latestTime.Sub(t).Hours() / 24)
		if span < MinTemporalSpanDays || span > MaxTemporalSpanDays {
			continue
		}
		if best == nil || t.Before(bestTime) {
			best = &scenes[i]
			bestTime = t
		}
	}
	return best, bestTime
}

func parseAcquired(acquired string) (time.Time, bool) {
	if len(acquired) < 10 {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", acquired[:10])
	return t, err == nil
}

func shortDate(acquired string) string {
	if len(acquired) >= 10 {
		return acquired[:10]
	}
	return acquired
}
