package backend

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/ulikunitz/xz"
)

// ScanCacheEntry is the cached scan result for one audio file, valid while
// the file's size and modification time are unchanged.
type ScanCacheEntry struct {
	Path        string         `json:"path"`
	Size        int64          `json:"size"`
	ModTimeUnix int64          `json:"mod_time_unix"`
	Metadata    *AudioMetadata `json:"metadata,omitempty"`
	// Fingerprint is fpcalc's compressed fingerprint text.
	Fingerprint         string  `json:"fingerprint,omitempty"`
	FingerprintDuration float64 `json:"fingerprint_duration,omitempty"`
	SavedAt             string  `json:"saved_at,omitempty"`
}

// ScanCache stores one xz-compressed JSON file per library root under Dir.
// Writers and readers coordinate through a lock file next to the cache so
// concurrent trackcurator processes never see a half-written cache.
type ScanCache struct {
	Dir string
}

// Load returns the cache for root. A missing cache is an empty map.
func (c *ScanCache) Load(root string) (map[string]ScanCacheEntry, error) {
	cachePath, err := c.pathForRoot(root)
	if err != nil {
		return nil, err
	}
	lock := flock.New(cachePath + ".lock")
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("lock scan cache: %w", err)
	}
	defer lock.Unlock()
	return readScanCache(cachePath)
}

// Save replaces the cache for root.
func (c *ScanCache) Save(root string, entries map[string]ScanCacheEntry) error {
	cachePath, err := c.pathForRoot(root)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	lock := flock.New(cachePath + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock scan cache: %w", err)
	}
	defer lock.Unlock()
	return writeScanCache(cachePath, entries)
}

// Clear removes the cache file for root. A missing cache is a no-op.
func (c *ScanCache) Clear(root string) error {
	cachePath, err := c.pathForRoot(root)
	if err != nil {
		return err
	}
	if err := os.Remove(cachePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove scan cache: %w", err)
	}
	return nil
}

// Prune drops entries for files that no longer exist.
func (c *ScanCache) Prune(root string) (int, error) {
	removed := 0
	err := c.update(root, func(entries map[string]ScanCacheEntry) bool {
		for path := range entries {
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				delete(entries, path)
				removed++
			}
		}
		return removed > 0
	})
	return removed, err
}

// InvalidateEntries removes the given file paths from the cache.
func (c *ScanCache) InvalidateEntries(root string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	return c.update(root, func(entries map[string]ScanCacheEntry) bool {
		changed := false
		for _, p := range paths {
			key := normalizePath(p)
			if _, ok := entries[key]; ok {
				delete(entries, key)
				changed = true
			}
		}
		return changed
	})
}

// update runs fn on the loaded cache under the write lock and saves when fn reports a change.
func (c *ScanCache) update(root string, fn func(map[string]ScanCacheEntry) bool) error {
	cachePath, err := c.pathForRoot(root)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	lock := flock.New(cachePath + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock scan cache: %w", err)
	}
	defer lock.Unlock()

	entries, err := readScanCache(cachePath)
	if err != nil {
		return err
	}
	if !fn(entries) {
		return nil
	}
	return writeScanCache(cachePath, entries)
}

func readScanCache(cachePath string) (map[string]ScanCacheEntry, error) {
	f, err := os.Open(cachePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]ScanCacheEntry{}, nil
		}
		return nil, fmt.Errorf("read scan cache: %w", err)
	}
	defer f.Close()

	r, err := xz.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open scan cache stream: %w", err)
	}
	out := map[string]ScanCacheEntry{}
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode scan cache: %w", err)
	}
	return out, nil
}

// writeScanCache writes to a temp file and renames it into place.
func writeScanCache(cachePath string, entries map[string]ScanCacheEntry) error {
	savedAt := time.Now().UTC().Format(time.RFC3339)
	for k, v := range entries {
		v.SavedAt = savedAt
		entries[k] = v
	}

	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return fmt.Errorf("create scan cache stream: %w", err)
	}
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		return fmt.Errorf("encode scan cache: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish scan cache stream: %w", err)
	}

	tmpFile := cachePath + ".tmp"
	if err := os.WriteFile(tmpFile, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write temp scan cache: %w", err)
	}
	if err := os.Rename(tmpFile, cachePath); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("replace scan cache: %w", err)
	}
	return nil
}

// pathForRoot hashes the root so different libraries get different cache files.
func (c *ScanCache) pathForRoot(root string) (string, error) {
	if root == "" {
		return "", errors.New("root path is required")
	}
	dir := c.Dir
	if dir == "" {
		dir = defaultCacheDir()
	}
	sum := sha1.Sum([]byte(normalizePath(root)))
	return filepath.Join(dir, fmt.Sprintf("scan_%s.json.xz", hex.EncodeToString(sum[:]))), nil
}
