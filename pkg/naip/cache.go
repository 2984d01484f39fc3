package naip

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// diskCache is a content-addressed response cache keyed on SHA-256 of the
// request parameters. Reads are lock-free; writes are serialized.
type diskCache struct {
	dir string
	ttl time.Duration
	mu  sync.Mutex
}

func newDiskCache(dir string, ttl time.Duration) *diskCache {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		zap.L().Warn("naip cache dir", zap.String("dir", dir), zap.Error(err))
	}
	return &diskCache{dir: dir, ttl: ttl}
}

// cacheKey builds a deterministic hash from an endpoint name and its params.
func cacheKey(endpoint string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(endpoint)
	for _, k := range keys {
		b.WriteString(":")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(params[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", sum)[:16]
}

func (c *diskCache) path(key string) string {
	return filepath.Join(c.dir, key+".bin")
}

func (c *diskCache) get(key string) ([]byte, bool) {
	p := c.path(key)
	info, err := os.Stat(p)
	if err != nil {
		return nil, false
	}
	if time.Since(info.ModTime()) > c.ttl {
		_ = os.Remove(p)
		return nil, false
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *diskCache) set(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.WriteFile(c.path(key), data, 0o644); err != nil {
		zap.L().Warn("naip cache write", zap.String("key", key), zap.Error(err))
	}
}
