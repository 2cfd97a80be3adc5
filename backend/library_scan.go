package backend

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// maxReportedScanErrors caps how many per-file errors a scan keeps.
const maxReportedScanErrors = 10

// tagDurationTolerance is how far, in seconds, a tagged duration may drift
// from the decoded one before the decoded value wins.
const tagDurationTolerance = 2.0

// ScanOptions controls ScanLibrary.
type ScanOptions struct {
	Extensions []string
	// Workers bounds concurrent tag reads. Zero picks twice the CPU count.
	Workers int
	// Fingerprint runs fpcalc on every file without a cached fingerprint.
	Fingerprint   bool
	Fingerprinter Fingerprinter
	// FilenameFallback parses "Artist - Title" file names when tags are missing.
	FilenameFallback bool
	Cache            *ScanCache
	Logger           *slog.Logger
}

// DefaultAudioExtensions lists the extensions the scanner picks up.
func DefaultAudioExtensions() []string {
	return []string{"flac", "mp3", "m4a", "ogg", "opus", "wav", "aac", "wma"}
}

// ScanError is a non-fatal per-file failure.
type ScanError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// ScanResult is a scanned library root.
type ScanResult struct {
	Root   string         `json:"root"`
	Tracks []LibraryTrack `json:"tracks"`
	// CacheHits counts files served from the scan cache.
	CacheHits     int         `json:"cache_hits"`
	Fingerprinted int         `json:"fingerprinted"`
	ErrorCount    int         `json:"error_count"`
	Errors        []ScanError `json:"errors,omitempty"`
}

// fileScanResult is the result of scanning a single file.
type fileScanResult struct {
	Path     string
	Entry    ScanCacheEntry
	CacheHit bool
	// Fingerprinted is set when fpcalc ran for this file during this scan.
	Fingerprinted bool
	Error         error
}

// ListAudioFiles walks root and returns files with one of the given
// extensions, sorted by path. Hidden directories are skipped, which also
// keeps quarantined files out of scans.
func ListAudioFiles(root string, extensions []string) ([]string, error) {
	if len(extensions) == 0 {
		extensions = DefaultAudioExtensions()
	}
	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		allowed[normalizeExtension(ext)] = true
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if allowed[normalizeExtension(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// ScanLibrary reads tags (and optionally fingerprints) for every audio file
// under root. Files whose size and modification time match the scan cache
// are not re-read. Per-file failures are reported in the result and never
// abort the scan.
func ScanLibrary(ctx context.Context, root string, opts ScanOptions) (*ScanResult, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("library root is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scan")

	audioFiles, err := ListAudioFiles(root, opts.Extensions)
	if err != nil {
		return nil, fmt.Errorf("failed to list audio files: %w", err)
	}
	logger.Info("scanning library", "root", root, "files", len(audioFiles))

	// Load cache (non-fatal; empty cache is fine)
	cacheMap := map[string]ScanCacheEntry{}
	if opts.Cache != nil {
		loaded, err := opts.Cache.Load(root)
		if err != nil {
			logger.Warn("scan cache unavailable", "error", err)
		} else {
			cacheMap = loaded
		}
	}

	fingerprinting := &atomic.Bool{}
	fingerprinting.Store(opts.Fingerprint)
	if opts.Fingerprint && !opts.Fingerprinter.Available() {
		logger.Warn("fpcalc not found, fingerprints disabled for this scan", "binary", opts.Fingerprinter.binary())
		fingerprinting.Store(false)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = cpuWorkers(0) * 2
	}
	filesCh := make(chan string)
	resultsCh := make(chan *fileScanResult)
	var wg sync.WaitGroup

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for path := range filesCh {
				if ctx.Err() != nil {
					return
				}
				resultsCh <- scanOneFile(ctx, path, cacheMap, fingerprinting, opts, logger)
			}
		}()
	}

	// feeder goroutine
	go func() {
		defer close(filesCh)
		for _, f := range audioFiles {
			select {
			case <-ctx.Done():
				return
			case filesCh <- f:
			}
		}
	}()

	// collector goroutine
	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	result := &ScanResult{Root: root}
	fresh := make(map[string]ScanCacheEntry, len(audioFiles))
	for res := range resultsCh {
		if res.Error != nil {
			result.ErrorCount++
			if len(result.Errors) < maxReportedScanErrors {
				result.Errors = append(result.Errors, ScanError{Path: res.Path, Error: res.Error.Error()})
			}
			logger.Debug("file skipped", "path", res.Path, "error", res.Error)
			continue
		}
		if res.CacheHit {
			result.CacheHits++
		}
		if res.Fingerprinted {
			result.Fingerprinted++
		}
		fresh[normalizePath(res.Path)] = res.Entry
		result.Tracks = append(result.Tracks, libraryTrackFromEntry(res.Path, res.Entry, opts.FilenameFallback))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(result.Tracks, func(i, j int) bool { return result.Tracks[i].Path < result.Tracks[j].Path })

	// Saving only this scan's entries drops files that disappeared.
	if opts.Cache != nil {
		if err := opts.Cache.Save(root, fresh); err != nil {
			logger.Warn("failed to save scan cache", "error", err)
		}
	}

	logger.Info("scan complete",
		"tracks", len(result.Tracks),
		"cache_hits", result.CacheHits,
		"fingerprinted", result.Fingerprinted,
		"errors", result.ErrorCount,
	)
	return result, nil
}

func scanOneFile(ctx context.Context, path string, cacheMap map[string]ScanCacheEntry, fingerprinting *atomic.Bool, opts ScanOptions, logger *slog.Logger) *fileScanResult {
	info, err := os.Stat(path)
	if err != nil {
		return &fileScanResult{Path: path, Error: err}
	}
	key := normalizePath(path)
	entry := ScanCacheEntry{Path: key, Size: info.Size(), ModTimeUnix: info.ModTime().Unix()}

	// cacheMap is only read after loading, so workers share it without locking.
	cached, inCache := cacheMap[key]
	valid := inCache && cached.Size == entry.Size && cached.ModTimeUnix == entry.ModTimeUnix
	needFingerprint := fingerprinting.Load()
	if valid && (!needFingerprint || cached.Fingerprint != "") {
		return &fileScanResult{Path: path, Entry: cached, CacheHit: true}
	}

	if valid {
		entry.Metadata = cached.Metadata
	} else {
		meta, metaErr := ReadAudioMetadata(path)
		if metaErr != nil {
			if !opts.FilenameFallback {
				return &fileScanResult{Path: path, Error: metaErr}
			}
			logger.Debug("tags unreadable, using file name", "path", path, "error", metaErr)
			meta = &AudioMetadata{Codec: normalizeExtension(filepath.Ext(path))}
		}
		entry.Metadata = meta
	}

	res := &fileScanResult{Path: path, Entry: entry}
	if needFingerprint {
		fp, fpErr := opts.Fingerprinter.Fingerprint(ctx, path)
		switch {
		case fpErr == nil:
			res.Entry.Fingerprint = fp.Fingerprint
			res.Entry.FingerprintDuration = fp.DurationSec
			res.Fingerprinted = true
		case errors.Is(fpErr, ErrFpcalcNotFound):
			if fingerprinting.CompareAndSwap(true, false) {
				logger.Warn("fpcalc disappeared, fingerprints disabled for this scan", "error", fpErr)
			}
		default:
			logger.Debug("fingerprint failed", "path", path, "error", fpErr)
		}
	}
	return res
}

// libraryTrackFromEntry turns a scanned file into the resolver and matcher view.
func libraryTrackFromEntry(path string, entry ScanCacheEntry, filenameFallback bool) LibraryTrack {
	meta := entry.Metadata
	if meta == nil {
		meta = &AudioMetadata{}
	}
	track := LibraryTrack{
		TrackScoreTarget: TrackScoreTarget{
			MetadataID:      metadataIDForPath(path),
			Artist:          meta.Artist,
			Album:           meta.Album,
			AlbumID:         meta.AlbumID,
			Date:            meta.Year,
			ISRC:            meta.ISRC,
			Title:           meta.Title,
			TrackNumber:     meta.TrackNumber,
			TrackTotalCount: meta.TrackTotal,
			UPC:             meta.UPC,
		},
		Path:        path,
		Size:        entry.Size,
		Exists:      true,
		Fingerprint: entry.Fingerprint,
		Codec:       meta.Codec,
		SampleRate:  meta.SampleRate,
		BitDepth:    meta.BitDepth,
		Lossless:    meta.Lossless,
	}

	if (track.Title == "" || track.Artist == "") && filenameFallback {
		ftitle, fartist := parseFromFilename(path)
		if track.Title == "" {
			track.Title = ftitle
		}
		if track.Artist == "" {
			track.Artist = fartist
		}
	}

	tagged := float64(meta.DurationMillis) / 1000
	decoded := entry.FingerprintDuration
	switch {
	case decoded > 0 && (tagged <= 0 || !FingerprintDurationOK(tagged, decoded, tagDurationTolerance)):
		track.Duration = decoded
	default:
		track.Duration = tagged
	}
	return track
}

// metadataIDForPath derives a stable identifier from the normalized path.
func metadataIDForPath(path string) string {
	sum := sha1.Sum([]byte(normalizePath(path)))
	return hex.EncodeToString(sum[:])
}

// computeSHA1 computes the SHA1 hash of a file streaming it from disk.
// It returns a hex-encoded string.
func computeSHA1(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

var (
	reTrackPrefix = regexp.MustCompile(`^\d+[\s.\-]+`)
	featMarkers   = []string{" feat. ", " feat ", " ft. ", " ft ", " featuring "}
)

// parseFromFilename guesses title and artist from names like
// "01. Artist - Title", "Artist_-_Title" or "Title (feat. X) - Remix - A, B".
func parseFromFilename(path string) (title string, artist string) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	name = strings.TrimSpace(reTrackPrefix.ReplaceAllString(name, ""))

	if strings.Contains(name, " - ") {
		segments := strings.Split(name, " - ")
		// "Title (feat. X) - RemixName - Artist, Artist"
		if len(segments) >= 3 {
			first := strings.TrimSpace(segments[0])
			last := strings.TrimSpace(segments[len(segments)-1])
			looksLikeTitle := strings.Contains(first, "(") && strings.Contains(first, ")")
			looksLikeArtistList := strings.Contains(last, ",") && len(last) > 2
			if looksLikeTitle && looksLikeArtistList {
				return first, last
			}
		}
		artistPart := strings.TrimSpace(segments[0])
		titlePart := strings.TrimSpace(strings.Join(segments[1:], " - "))
		if artistPart != "" && titlePart != "" {
			return titlePart, artistPart
		}
	}

	if artistPart, titlePart, ok := strings.Cut(name, "-"); ok {
		artistPart, titlePart = strings.TrimSpace(artistPart), strings.TrimSpace(titlePart)
		if artistPart != "" && titlePart != "" {
			return titlePart, artistPart
		}
	}

	lower := strings.ToLower(name)
	for _, marker := range featMarkers {
		if idx := strings.Index(lower, marker); idx > 0 {
			artistPart := strings.TrimSpace(name[:idx])
			rest := strings.TrimSpace(name[idx+len(marker):])
			if artistPart != "" && rest != "" {
				return rest, artistPart
			}
		}
	}

	// Unparseable names keep the whole name as the title.
	return name, ""
}
