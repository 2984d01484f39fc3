package planetary

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// Sequence is a pull-based iterator over a point's (year, NDVI) vintages,
// oldest first. The STAC search runs up front; each Next call performs at
// most one archive read. Finite and restartable via Reset.
type Sequence struct {
	client *Client
	lat    float64
	lng    float64
	items  []Item
	pos    int
}

// Vintages prepares the lazy vintage sequence for a point. Years filters the
// catalog when non-empty.
func (c *Client) Vintages(ctx context.Context, lat, lng float64, years []int) (*Sequence, error) {
	items, err := c.Search(ctx, lat, lng)
	if err != nil {
		return nil, err
	}

	if len(years) > 0 {
		wanted := make(map[int]struct{}, len(years))
		for _, y := range years {
			wanted[y] = struct{}{}
		}
		filtered := items[:0]
		for _, it := range items {
			if _, ok := wanted[it.Year]; ok {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Year < items[j].Year })

	return &Sequence{client: c, lat: lat, lng: lng, items: items}, nil
}

// Len returns the number of vintages the sequence can yield.
func (s *Sequence) Len() int {
	return len(s.items)
}

// Next yields the next vintage. Items whose sampling fails are skipped with
// a log line, not returned as errors — a missing year must not sink the
// regression. Returns ok=false when exhausted.
func (s *Sequence) Next(ctx context.Context) (Vintage, bool) {
	for s.pos < len(s.items) {
		item := s.items[s.pos]
		s.pos++

		ndvi, err := s.client.NDVIForItem(ctx, item, s.lat, s.lng)
		if err != nil {
			zap.L().Debug("planetary vintage skipped",
				zap.Int("year", item.Year), zap.Error(err))
			continue
		}
		return Vintage{Year: item.Year, NDVI: *ndvi, Date: item.Date}, true
	}
	return Vintage{}, false
}

// Reset rewinds the sequence to the first vintage.
func (s *Sequence) Reset() {
	s.pos = 0
}

// Collect drains the sequence into a slice.
func (s *Sequence) Collect(ctx context.Context) []Vintage {
	var out []Vintage
	for {
		v, ok := s.Next(ctx)
		if !ok {
			return out
		}
		out = append(out, v)
	}
}
