package planetlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grayPNG(t *testing.T, level uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: level, G: level, B: level, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestMeanBrightness(t *testing.T) {
	bright := meanBrightness(grayPNG(t, 200))
	dark := meanBrightness(grayPNG(t, 50))
	require.NotNil(t, bright)
	require.NotNil(t, dark)
	assert.InDelta(t, 200, *bright, 3)
	assert.InDelta(t, 50, *dark, 3)

	assert.Nil(t, meanBrightness(nil))
	assert.Nil(t, meanBrightness([]byte("not a png, but long enough to pass the size gate......................................................")))
}

func TestChangeScore(t *testing.T) {
	// 150-point brightness gap saturates the score at 1.0.
	score := changeScore(grayPNG(t, 200), grayPNG(t, 50))
	require.NotNil(t, score)
	assert.Equal(t, 1.0, *score)

	// Identical thumbnails: no change.
	same := changeScore(grayPNG(t, 128), grayPNG(t, 128))
	require.NotNil(t, same)
	assert.InDelta(t, 0.0, *same, 0.01)

	assert.Nil(t, changeScore(grayPNG(t, 128), nil))
}

func TestSceneSelection(t *testing.T) {
	scenes := []Scene{
		{ID: "a", Acquired: "2026-07-20T10:00:00Z"},
		{ID: "b", Acquired: "2026-08-01T10:00:00Z"},
		{ID: "c", Acquired: "bogus"},
	}
	latest, latestTime := newestScene(scenes)
	require.NotNil(t, latest)
	assert.Equal(t, "b", latest.ID)

	historical := []Scene{
		{ID: "too_old", Acquired: "2024-01-01T10:00:00Z"},
		{ID: "in_span_late", Acquired: "2026-01-15T10:00:00Z"},
		{ID: "in_span_early", Acquired: "2025-09-01T10:00:00Z"},
		{ID: "too_recent", Acquired: "2026-07-01T10:00:00Z"},
	}
	earliest, _ := oldestSceneInSpan(historical, latestTime)
	require.NotNil(t, earliest)
	assert.Equal(t, "in_span_early", earliest.ID)
}

func TestRefine_TemporalPair(t *testing.T) {
	now := time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC)
	var searches []string

	mux := http.NewServeMux()
	mux.HandleFunc("/data/quick-search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "api-key test-key", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		raw, _ := json.Marshal(body)
		searches = append(searches, string(raw))

		// First call: the recent window. Second: the historical window.
		if len(searches) == 1 {
			fmt.Fprint(w, `{"features": [
				{"id": "recent1", "properties": {"acquired": "2026-08-01T10:00:00Z", "cloud_cover": 0.1, "item_type": "PSScene"}},
				{"id": "recent2", "properties": {"acquired": "2026-07-20T10:00:00Z", "cloud_cover": 0.2, "item_type": "PSScene"}}
			]}`)
			return
		}
		fmt.Fprint(w, `{"features": [
			{"id": "hist1", "properties": {"acquired": "2025-10-10T10:00:00Z", "cloud_cover": 0.05, "item_type": "PSScene"}}
		]}`)
	})
	mux.HandleFunc("/tiles/item-types/PSScene/items/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		if r.URL.Path == "/tiles/item-types/PSScene/items/recent1/thumb" {
			_, _ = w.Write(grayPNG(t, 180))
			return
		}
		_, _ = w.Write(grayPNG(t, 100))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient("test-key",
		WithDataURL(srv.URL+"/data"), WithTilesURL(srv.URL+"/tiles"))

	ref, err := client.Refine(context.Background(), 35.26, -81.18, now)
	require.NoError(t, err)

	// Two narrow searches, not one wide one.
	require.Len(t, searches, 2)
	assert.Contains(t, searches[1], "2025-08-01", "historical window starts 12 months before the latest scene")

	require.NotNil(t, ref.Latest)
	assert.Equal(t, "recent1", ref.Latest.ID)
	require.NotNil(t, ref.Earliest)
	assert.Equal(t, "hist1", ref.Earliest.ID)
	require.NotNil(t, ref.TemporalSpan)
	assert.GreaterOrEqual(t, *ref.TemporalSpan, MinTemporalSpanDays)
	assert.LessOrEqual(t, *ref.TemporalSpan, MaxTemporalSpanDays)
	assert.Equal(t, "2026-08-01", ref.LatestDate)
	assert.Equal(t, "2025-10-10", ref.EarliestDate)
	require.NotNil(t, ref.ChangeScore)
	assert.Greater(t, *ref.ChangeScore, 0.0)
	assert.Equal(t, 3, ref.SceneCount)
}

func TestRefine_NoScenes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"features": []}`)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithDataURL(srv.URL), WithTilesURL(srv.URL))
	ref, err := client.Refine(context.Background(), 35.26, -81.18, time.Now())
	require.NoError(t, err)
	assert.Nil(t, ref.Latest)
	assert.Equal(t, 0, ref.SceneCount)
}

func TestSearchScenes_NoKey(t *testing.T) {
	client := NewClient("")
	assert.False(t, client.Available())
	_, err := client.SearchScenes(context.Background(), 35, -81, time.Now(), time.Now(), 0.3, 5)
	require.Error(t, err)
}
