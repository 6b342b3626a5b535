package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	apperrors "licensegate/internal/errors"
	"licensegate/internal/license"
	"licensegate/pkg/contracts"
)

// Entry is one persisted server verdict
type Entry struct {
	Format    int              `json:"format"`
	Snapshot  license.Snapshot `json:"snapshot"`
	Signature string           `json:"signature"`
	SavedAt   time.Time        `json:"savedAt"`
}

// Cache stores the device-side license snapshot. Load returns
// errors.ErrNoCache when nothing is stored.
type Cache interface {
	Load() (*Entry, error)
	Save(entry *Entry) error
	Clear() error
}

// FileCache keeps the entry in a single JSON file. Save replaces the file
// atomically so a crash leaves either the old or the new entry.
type FileCache struct {
	mu   sync.Mutex
	path string
}

// NewFileCache creates a cache at path. The directory is created on first save.
func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

// Path returns the cache file location
func (c *FileCache) Path() string {
	return c.path
}

// Load reads the cache file. A file that does not decode is reported as tampered.
func (c *FileCache) Load() (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.ErrNoCache
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read license cache: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrTamperedCache, err)
	}
	if entry.Format != contracts.CacheFormatVersion {
		return nil, fmt.Errorf("%w: unsupported cache format %d", apperrors.ErrTamperedCache, entry.Format)
	}
	return &entry, nil
}

// Save writes entry to a temp file in the same directory, syncs it and
// renames it over the cache file.
func (c *FileCache) Save(entry *Entry) error {
	if entry == nil {
		return errors.New("license cache entry is nil")
	}
	entry.Format = contracts.CacheFormatVersion
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal license cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".license-cache.tmp.*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace license cache: %w", err)
	}
	return nil
}

// Clear removes the cache file. Clearing an empty cache is not an error.
func (c *FileCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to clear license cache: %w", err)
	}
	return nil
}
