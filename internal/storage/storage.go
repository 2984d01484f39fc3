// Package storage stores chart and thumbnail artifacts. The production
// object store sits behind an external collaborator; this package owns the
// key convention and a local-directory backend, and hands back the URL that
// gets persisted on the parcel row.
//
// Key convention:
//
//	{county}_{state}/{parcel}/{date}/{file}
//	points/{lat}_{lng}/{date}/{file}   (point scans with no parcel context)
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Store writes artifacts and returns their public URLs.
type Store struct {
	dir       string
	publicURL string
	now       func() time.Time
}

// New creates a store rooted at dir. publicURL, when set, prefixes returned
// URLs; otherwise the local path is returned.
func New(dir, publicURL string) *Store {
	return &Store{dir: dir, publicURL: strings.TrimRight(publicURL, "/"), now: time.Now}
}

// WithNow fixes the clock for tests.
func (s *Store) WithNow(now func() time.Time) *Store {
	s.now = now
	return s
}

// ParcelKey builds the storage key for a parcel-scoped artifact.
func (s *Store) ParcelKey(county, stateCode, parcelID, filename string) string {
	countySlug := strings.ToLower(strings.ReplaceAll(county, " ", "_")) + "_" + strings.ToLower(stateCode)
	parcelSlug := strings.NewReplacer("/", "_", " ", "_").Replace(parcelID)
	return fmt.Sprintf("%s/%s/%s/%s", countySlug, parcelSlug, s.now().UTC().Format("2006-01-02"), filename)
}

// PointKey builds the storage key for a point-scoped artifact.
func (s *Store) PointKey(lat, lng float64, filename string) string {
	return fmt.Sprintf("points/%.4f_%.4f/%s/%s", lat, lng, s.now().UTC().Format("2006-01-02"), filename)
}

// Put writes an artifact and returns its URL.
func (s *Store) Put(key string, data []byte) (string, error) {
	path := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", eris.Wrap(err, "storage: mkdir")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", eris.Wrap(err, "storage: write")
	}

	zap.L().Debug("artifact stored", zap.String("key", key), zap.Int("size", len(data)))
	if s.publicURL != "" {
		return s.publicURL + "/" + key, nil
	}
	return path, nil
}

// Get reads an artifact back by key.
func (s *Store) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, filepath.FromSlash(key)))
	if err != nil {
		return nil, eris.Wrapf(err, "storage: read %s", key)
	}
	return data, nil
}
