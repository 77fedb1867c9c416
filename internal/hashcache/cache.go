// Package hashcache persists the last known content hash of every installed
// file so repeat passes can skip rehashing.
//
// The cache is advisory. A missing or corrupt cache file yields an empty
// cache, which only costs extra hashing.
package hashcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ZebulonRouseFrantzich/mansync/internal/checksum"
)

// FileName is the name of the cache document inside the metadata directory.
const FileName = "cache.json"

// Cache maps manifest relative paths to lower-case hex hashes.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]string
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]string)}
}

// Load reads the cache from dir. Any failure degrades to an empty cache.
func Load(dir string, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}

	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("hash cache unreadable, starting empty", zap.String("path", path), zap.Error(err))
		}
		return New()
	}

	if len(data) == 0 {
		return New()
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		logger.Warn("hash cache malformed, starting empty", zap.String("path", path), zap.Error(err))
		return New()
	}

	c := New()
	for p, h := range raw {
		c.entries[filepath.ToSlash(p)] = checksum.Normalize(h)
	}
	logger.Debug("loaded hash cache", zap.String("path", path), zap.Int("entries", len(c.entries)))
	return c
}

// Save writes the cache to dir atomically.
func (c *Cache) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	finalPath := filepath.Join(dir, FileName)
	tmpPath := finalPath + ".tmp"

	c.mu.RLock()
	data, err := json.MarshalIndent(c.entries, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal hash cache: %w", err)
	}

	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write hash cache: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename hash cache: %w", err)
	}

	return nil
}

// Get returns the cached hash for path.
func (c *Cache) Get(path string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.entries[path]
	return h, ok
}

// Put records hash for path, overwriting any previous value.
func (c *Cache) Put(path, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = checksum.Normalize(hash)
}

// Delete forgets path.
func (c *Cache) Delete(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

// DeleteTree forgets path and every entry below it.
func (c *Cache) DeleteTree(path string) {
	prefix := strings.TrimSuffix(path, "/") + "/"
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns a copy of the entries.
func (c *Cache) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.entries)
}
