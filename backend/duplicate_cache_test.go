package backend

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestScanCacheSaveLoad(t *testing.T) {
	cache := &ScanCache{Dir: t.TempDir()}
	root := filepath.Join(t.TempDir(), "library")

	loaded, err := cache.Load(root)
	if err != nil {
		t.Fatalf("Load on empty cache returned error: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected empty cache, got %d entries", len(loaded))
	}

	path := normalizePath(filepath.Join(root, "a.flac"))
	entries := map[string]ScanCacheEntry{
		path: {
			Path:                path,
			Size:                1234,
			ModTimeUnix:         42,
			Metadata:            &AudioMetadata{Title: "Yesterday", Artist: "The Beatles", Codec: "flac", Lossless: true},
			Fingerprint:         "AQAAAQE",
			FingerprintDuration: 125.5,
		},
	}
	if err := cache.Save(root, entries); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(cache.Dir, "scan_*.json.xz"))
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one compressed cache file, got %v (%v)", files, err)
	}

	loaded, err = cache.Load(root)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	got, ok := loaded[path]
	if !ok {
		t.Fatalf("entry %q missing after reload: %v", path, loaded)
	}
	if got.Size != 1234 || got.Metadata == nil || got.Metadata.Title != "Yesterday" || got.FingerprintDuration != 125.5 {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if got.SavedAt == "" {
		t.Fatal("expected SavedAt to be stamped")
	}
}

func TestScanCacheSeparatesRoots(t *testing.T) {
	cache := &ScanCache{Dir: t.TempDir()}
	if err := cache.Save("/music/a", map[string]ScanCacheEntry{"/music/a/x.mp3": {Size: 1}}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	other, err := cache.Load("/music/b")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected a different root to have its own cache, got %v", other)
	}
}

func TestScanCachePruneAndInvalidate(t *testing.T) {
	cache := &ScanCache{Dir: t.TempDir()}
	root := t.TempDir()

	kept := filepath.Join(root, "kept.mp3")
	gone := filepath.Join(root, "gone.mp3")
	other := filepath.Join(root, "other.mp3")
	for _, p := range []string{kept, other} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	entries := map[string]ScanCacheEntry{}
	for _, p := range []string{kept, gone, other} {
		entries[normalizePath(p)] = ScanCacheEntry{Path: normalizePath(p), Size: 1}
	}
	if err := cache.Save(root, entries); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	removed, err := cache.Prune(root)
	if err != nil {
		t.Fatalf("Prune returned error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("Prune removed %d entries, want 1", removed)
	}

	if err := cache.InvalidateEntries(root, []string{other}); err != nil {
		t.Fatalf("InvalidateEntries returned error: %v", err)
	}
	loaded, err := cache.Load(root)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected only the kept entry, got %v", loaded)
	}
	if _, ok := loaded[normalizePath(kept)]; !ok {
		t.Fatalf("kept entry missing: %v", loaded)
	}

	if err := cache.Clear(root); err != nil {
		t.Fatalf("Clear returned error: %v", err)
	}
	if err := cache.Clear(root); err != nil {
		t.Fatalf("second Clear should be a no-op, got %v", err)
	}
}

func TestScanCacheCorruptFile(t *testing.T) {
	cache := &ScanCache{Dir: t.TempDir()}
	root := "/music"
	path, err := cache.pathForRoot(root)
	if err != nil {
		t.Fatalf("pathForRoot returned error: %v", err)
	}
	if err := os.WriteFile(path, []byte("not xz"), 0o644); err != nil {
		t.Fatalf("write corrupt cache: %v", err)
	}
	if _, err := cache.Load(root); err == nil || !strings.Contains(err.Error(), "scan cache") {
		t.Fatalf("expected scan cache error, got %v", err)
	}
	if _, err := cache.pathForRoot(""); err == nil {
		t.Fatal("expected error for empty root")
	}
}
