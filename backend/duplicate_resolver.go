package backend

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultSimilarityThreshold is the default acoustic acceptance ratio.
const DefaultSimilarityThreshold = 0.96

// ClusterMode selects how similar pairs become clusters.
type ClusterMode string

const (
	// ClusterStar builds one cluster per source track from its direct partners.
	ClusterStar ClusterMode = "star"
	// ClusterTransitive merges chains of similar pairs into one cluster.
	ClusterTransitive ClusterMode = "transitive"
)

// SimilarityFunc compares two decoded fingerprints.
type SimilarityFunc func(a, b []uint32, opts SimilarityOptions) float64

// DuplicateOptions configures the duplicate resolver.
type DuplicateOptions struct {
	SimilarityThreshold float64
	// DurationTolerance in seconds, used both to pre-filter pairs and to keep
	// mismatched files out of a keeper's removal list.
	DurationTolerance float64
	MaxDrift          float64
	// ExtensionPriority lists preferred keeper extensions, most preferred first.
	ExtensionPriority []string
	Mode              ClusterMode
	// Workers bounds the pair (or album) pool. 0 means runtime.NumCPU().
	Workers int
	// Similarity replaces FingerprintSimilarity; nil uses FingerprintSimilarity.
	Similarity SimilarityFunc
	Logger     *slog.Logger
}

// DefaultExtensionPriority returns flac, m4a, mp3.
func DefaultExtensionPriority() []string {
	return []string{"flac", "m4a", "mp3"}
}

// DefaultDuplicateOptions returns the resolver defaults.
func DefaultDuplicateOptions() DuplicateOptions {
	return DuplicateOptions{
		SimilarityThreshold: DefaultSimilarityThreshold,
		DurationTolerance:   DefaultDurationTolerance,
		MaxDrift:            DefaultMaxDrift,
		ExtensionPriority:   DefaultExtensionPriority(),
		Mode:                ClusterStar,
	}
}

func (o DuplicateOptions) withDefaults() DuplicateOptions {
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if o.DurationTolerance <= 0 {
		o.DurationTolerance = DefaultDurationTolerance
	}
	if o.MaxDrift <= 0 {
		o.MaxDrift = DefaultMaxDrift
	}
	if o.Mode == "" {
		o.Mode = ClusterStar
	}
	if o.Similarity == nil {
		o.Similarity = FingerprintSimilarity
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type resolverTrack struct {
	FingerprintVector
	track LibraryTrack
	key   string
}

type trackPair struct {
	a, b int
}

// ResolveAlbumDuplicates finds acoustically identical files among the tracks
// of one album and picks a keeper for each cluster.
//
// Only existing files with a decodable fingerprint take part. Pairs whose
// durations differ by less than the tolerance are aligned; pairs at or above
// the similarity threshold are similar. Tracks are then visited in input order:
// a track and its not yet removed partners form a candidate set, the keeper is
// chosen by extension priority and the rest are proposed for removal unless
// their duration strays from the keeper's. A keeper is never proposed for
// removal later and a cluster whose keeper was already used is skipped.
// The report is advisory; nothing is deleted here.
func ResolveAlbumDuplicates(ctx context.Context, tracks []LibraryTrack, opts DuplicateOptions, cache *FingerprintCache) (DuplicateReport, error) {
	opts = opts.withDefaults()
	if cache == nil {
		cache = NewFingerprintCache()
	}
	logger := opts.Logger.With("component", "dedupe")

	eligible := make([]resolverTrack, 0, len(tracks))
	seen := make(map[string]bool, len(tracks))
	for _, t := range tracks {
		if !t.Exists || strings.TrimSpace(t.Fingerprint) == "" {
			continue
		}
		key := libraryTrackKey(t)
		if seen[key] {
			continue
		}
		values := cache.Get(key, t.Fingerprint)
		if len(values) == 0 {
			logger.Debug("fingerprint not decodable", "path", t.Path)
			continue
		}
		seen[key] = true
		eligible = append(eligible, resolverTrack{
			FingerprintVector: NewFingerprintVector(values, t.Duration),
			track:             t,
			key:               key,
		})
	}

	report := DuplicateReport{Considered: len(eligible)}
	var pairs []trackPair
	for i := range eligible {
		for j := i + 1; j < len(eligible); j++ {
			if math.Abs(eligible[i].Duration-eligible[j].Duration) < opts.DurationTolerance {
				pairs = append(pairs, trackPair{a: i, b: j})
			}
		}
	}
	report.Compared = len(pairs)

	simOpts := SimilarityOptions{MaxDrift: opts.MaxDrift, DurationTolerance: opts.DurationTolerance}
	similar := make([]bool, len(pairs))
	failed := make([]bool, len(pairs))
	err := runIndexed(ctx, len(pairs), opts.Workers, func(p int) {
		a, b := eligible[pairs[p].a], eligible[pairs[p].b]
		ratio, err := safeSimilarity(opts.Similarity, a.Values, b.Values, simOpts)
		if err != nil {
			failed[p] = true
			logger.Warn("fingerprint alignment failed", "a", a.track.Path, "b", b.track.Path, "error", err)
			return
		}
		similar[p] = ratio >= opts.SimilarityThreshold
	})
	if err != nil {
		return report, fmt.Errorf("align fingerprints: %w", err)
	}
	for _, f := range failed {
		if f {
			report.Failures++
		}
	}

	partners := buildPartners(len(eligible), pairs, similar, opts.Mode)

	removed := make(map[string]bool)
	processed := make(map[string]bool)
	for i, source := range eligible {
		if len(partners[i]) == 0 || removed[source.key] {
			continue
		}
		members := []resolverTrack{source}
		for _, j := range partners[i] {
			if !removed[eligible[j].key] {
				members = append(members, eligible[j])
			}
		}
		if len(members) < 2 {
			continue
		}

		keeper, ok := selectKeeper(members, opts.ExtensionPriority)
		if !ok || processed[keeper.key] {
			continue
		}
		processed[keeper.key] = true

		cluster := DuplicateCluster{Keeper: keeper.track.duplicateFile()}
		for _, m := range members {
			if m.key == keeper.key || processed[m.key] {
				continue
			}
			if math.Abs(m.Duration-keeper.Duration) > opts.DurationTolerance {
				continue
			}
			removed[m.key] = true
			cluster.Removals = append(cluster.Removals, m.track.duplicateFile())
		}
		if len(cluster.Removals) == 0 {
			continue
		}
		report.Clusters = append(report.Clusters, cluster)
	}

	logger.Debug("album resolved",
		"considered", report.Considered,
		"compared", report.Compared,
		"clusters", len(report.Clusters),
		"failures", report.Failures,
	)
	return report, nil
}

// ResolveLibraryDuplicates groups tracks by album and resolves every album on
// a bounded pool. Each album is resolved as one unit; reports with at least one
// cluster are returned ordered by album key.
func ResolveLibraryDuplicates(ctx context.Context, tracks []LibraryTrack, opts DuplicateOptions, cache *FingerprintCache) ([]DuplicateReport, error) {
	opts = opts.withDefaults()
	if cache == nil {
		cache = NewFingerprintCache()
	}

	albums := make(map[string][]LibraryTrack)
	for _, t := range tracks {
		key := AlbumKey(t)
		albums[key] = append(albums[key], t)
	}
	keys := make([]string, 0, len(albums))
	for key := range albums {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	inner := opts
	inner.Workers = 1
	reports := make([]DuplicateReport, len(keys))
	errs := make([]error, len(keys))
	err := runIndexed(ctx, len(keys), opts.Workers, func(i int) {
		report, err := ResolveAlbumDuplicates(ctx, albums[keys[i]], inner, cache)
		report.AlbumKey = keys[i]
		reports[i], errs[i] = report, err
	})
	if err != nil {
		return nil, fmt.Errorf("resolve albums: %w", err)
	}

	var out []DuplicateReport
	clusters := 0
	for i, report := range reports {
		if errs[i] != nil {
			return nil, fmt.Errorf("resolve album %s: %w", keys[i], errs[i])
		}
		if len(report.Clusters) > 0 {
			out = append(out, report)
			clusters += len(report.Clusters)
		}
	}
	opts.Logger.Info("duplicate resolution complete",
		"component", "dedupe",
		"tracks", len(tracks),
		"albums", len(keys),
		"clusters", clusters,
	)
	return out, nil
}

// AlbumKey groups library tracks for duplicate resolution: album id when
// known, otherwise primary artist plus core album title, otherwise the folder.
func AlbumKey(t LibraryTrack) string {
	if id := strings.TrimSpace(t.AlbumID); id != "" {
		return "id:" + id
	}
	if album := coreAlbum(t.Album); album != "" {
		return "tag:" + primaryArtist(t.Artist) + "|" + album
	}
	return "dir:" + normalizePath(filepath.Dir(t.Path))
}

// selectKeeper ranks existing members by size, then file name length, then
// path, and returns the first ranked member with the most preferred
// extension, or the top ranked member when no extension is preferred.
func selectKeeper(members []resolverTrack, priority []string) (resolverTrack, bool) {
	ranked := make([]resolverTrack, 0, len(members))
	for _, m := range members {
		if m.track.Exists {
			ranked = append(ranked, m)
		}
	}
	if len(ranked) == 0 {
		return resolverTrack{}, false
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i].track, ranked[j].track
		if a.Size != b.Size {
			return a.Size > b.Size
		}
		if la, lb := len(filepath.Base(a.Path)), len(filepath.Base(b.Path)); la != lb {
			return la > lb
		}
		return a.Path < b.Path
	})
	for _, ext := range priority {
		ext = normalizeExtension(ext)
		if ext == "" {
			continue
		}
		for _, m := range ranked {
			if normalizeExtension(filepath.Ext(m.track.Path)) == ext {
				return m, true
			}
		}
	}
	return ranked[0], true
}

func buildPartners(n int, pairs []trackPair, similar []bool, mode ClusterMode) [][]int {
	partners := make([][]int, n)
	if mode == ClusterTransitive {
		parent := make([]int, n)
		for i := range parent {
			parent[i] = i
		}
		find := func(x int) int {
			for parent[x] != x {
				parent[x] = parent[parent[x]]
				x = parent[x]
			}
			return x
		}
		for p, pair := range pairs {
			if !similar[p] {
				continue
			}
			ra, rb := find(pair.a), find(pair.b)
			if ra != rb {
				if ra < rb {
					parent[rb] = ra
				} else {
					parent[ra] = rb
				}
			}
		}
		components := make(map[int][]int)
		for i := 0; i < n; i++ {
			r := find(i)
			components[r] = append(components[r], i)
		}
		for i := 0; i < n; i++ {
			for _, j := range components[find(i)] {
				if j != i {
					partners[i] = append(partners[i], j)
				}
			}
		}
		return partners
	}

	for p, pair := range pairs {
		if !similar[p] {
			continue
		}
		partners[pair.a] = append(partners[pair.a], pair.b)
		partners[pair.b] = append(partners[pair.b], pair.a)
	}
	for i := range partners {
		sort.Ints(partners[i])
	}
	return partners
}

func safeSimilarity(fn SimilarityFunc, a, b []uint32, opts SimilarityOptions) (ratio float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			ratio = 0
			err = fmt.Errorf("similarity panic: %v", r)
		}
	}()
	return fn(a, b, opts), nil
}

func libraryTrackKey(t LibraryTrack) string {
	if t.MetadataID != "" {
		return t.MetadataID
	}
	return normalizePath(t.Path)
}

func normalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
