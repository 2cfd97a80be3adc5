package backend

import (
	"context"
	"math/rand"
	"reflect"
	"sort"
	"testing"
)

// sparseNoise flips one random bit in every n-th item.
func sparseNoise(values []uint32, seed int64, every int) []uint32 {
	rng := rand.New(rand.NewSource(seed))
	out := append([]uint32(nil), values...)
	for i := 0; i < len(out); i += every {
		out[i] ^= 1 << uint(rng.Intn(32))
	}
	return out
}

// labelled returns a one-item fingerprint whose value identifies the track.
func labelled(id uint32) string {
	return EncodeFingerprint([]uint32{id}, 1)
}

// pairSimilarity reports 1 for the listed label pairs and 0 otherwise.
func pairSimilarity(pairs ...[2]uint32) SimilarityFunc {
	similar := map[[2]uint32]bool{}
	for _, p := range pairs {
		similar[p] = true
		similar[[2]uint32{p[1], p[0]}] = true
	}
	return func(a, b []uint32, _ SimilarityOptions) float64 {
		if similar[[2]uint32{a[0], b[0]}] {
			return 1
		}
		return 0
	}
}

func removalPaths(c DuplicateCluster) []string {
	var out []string
	for _, r := range c.Removals {
		out = append(out, r.Path)
	}
	sort.Strings(out)
	return out
}

func TestResolveAlbumDuplicatesThreeFormats(t *testing.T) {
	base := randomFingerprint(100, 1450)
	tracks := []LibraryTrack{
		{TrackScoreTarget: TrackScoreTarget{MetadataID: "wav", Duration: 180}, Path: "/music/a/01 Song.wav", Size: 31_000_000, Exists: true, Fingerprint: EncodeFingerprint(sparseNoise(base, 1, 10), 1)},
		{TrackScoreTarget: TrackScoreTarget{MetadataID: "flac", Duration: 180}, Path: "/music/a/01 Song.flac", Size: 21_000_000, Exists: true, Fingerprint: EncodeFingerprint(sparseNoise(base, 2, 10), 1)},
		{TrackScoreTarget: TrackScoreTarget{MetadataID: "mp3", Duration: 180}, Path: "/music/a/01 Song.mp3", Size: 7_000_000, Exists: true, Fingerprint: EncodeFingerprint(sparseNoise(base, 3, 10), 1)},
	}

	report, err := ResolveAlbumDuplicates(context.Background(), tracks, DefaultDuplicateOptions(), NewFingerprintCache())
	if err != nil {
		t.Fatalf("ResolveAlbumDuplicates returned error: %v", err)
	}
	if report.Considered != 3 || report.Compared != 3 {
		t.Fatalf("considered/compared = %d/%d, want 3/3", report.Considered, report.Compared)
	}
	if len(report.Clusters) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(report.Clusters))
	}
	cluster := report.Clusters[0]
	if cluster.Keeper.Path != "/music/a/01 Song.flac" {
		t.Fatalf("keeper = %s, want the flac file", cluster.Keeper.Path)
	}
	want := []string{"/music/a/01 Song.mp3", "/music/a/01 Song.wav"}
	if got := removalPaths(cluster); !reflect.DeepEqual(got, want) {
		t.Fatalf("removals = %v, want %v", got, want)
	}
}

func TestResolveAlbumDuplicatesKeeperSelection(t *testing.T) {
	tests := []struct {
		name       string
		tracks     []LibraryTrack
		priority   []string
		wantKeeper string
	}{
		{
			name: "flac beats a larger mp3",
			tracks: []LibraryTrack{
				{TrackScoreTarget: TrackScoreTarget{MetadataID: "b"}, Path: "b.mp3", Size: 20, Exists: true, Fingerprint: labelled(2)},
				{TrackScoreTarget: TrackScoreTarget{MetadataID: "a"}, Path: "a.flac", Size: 10, Exists: true, Fingerprint: labelled(1)},
			},
			priority:   []string{"flac", "mp3"},
			wantKeeper: "a.flac",
		},
		{
			name: "priority entries tolerate dots and case",
			tracks: []LibraryTrack{
				{TrackScoreTarget: TrackScoreTarget{MetadataID: "a"}, Path: "a.FLAC", Size: 10, Exists: true, Fingerprint: labelled(1)},
				{TrackScoreTarget: TrackScoreTarget{MetadataID: "b"}, Path: "b.mp3", Size: 20, Exists: true, Fingerprint: labelled(2)},
			},
			priority:   []string{".Flac"},
			wantKeeper: "a.FLAC",
		},
		{
			name: "no priority match falls back to size",
			tracks: []LibraryTrack{
				{TrackScoreTarget: TrackScoreTarget{MetadataID: "a"}, Path: "x.wav", Size: 10, Exists: true, Fingerprint: labelled(1)},
				{TrackScoreTarget: TrackScoreTarget{MetadataID: "b"}, Path: "y.ogg", Size: 20, Exists: true, Fingerprint: labelled(2)},
			},
			priority:   []string{"flac"},
			wantKeeper: "y.ogg",
		},
		{
			name: "equal size falls back to longer file name",
			tracks: []LibraryTrack{
				{TrackScoreTarget: TrackScoreTarget{MetadataID: "a"}, Path: "/m/track.wav", Size: 10, Exists: true, Fingerprint: labelled(1)},
				{TrackScoreTarget: TrackScoreTarget{MetadataID: "b"}, Path: "/m/track-copy.wav", Size: 10, Exists: true, Fingerprint: labelled(2)},
			},
			priority:   nil,
			wantKeeper: "/m/track-copy.wav",
		},
		{
			name: "missing file never keeps",
			tracks: []LibraryTrack{
				{TrackScoreTarget: TrackScoreTarget{MetadataID: "a"}, Path: "a.flac", Size: 50, Exists: false, Fingerprint: labelled(1)},
				{TrackScoreTarget: TrackScoreTarget{MetadataID: "b"}, Path: "b.mp3", Size: 20, Exists: true, Fingerprint: labelled(2)},
				{TrackScoreTarget: TrackScoreTarget{MetadataID: "c"}, Path: "c.mp3", Size: 30, Exists: true, Fingerprint: labelled(3)},
			},
			priority:   []string{"flac", "mp3"},
			wantKeeper: "c.mp3",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultDuplicateOptions()
			opts.ExtensionPriority = tt.priority
			opts.Similarity = func([]uint32, []uint32, SimilarityOptions) float64 { return 1 }
			report, err := ResolveAlbumDuplicates(context.Background(), tt.tracks, opts, nil)
			if err != nil {
				t.Fatalf("ResolveAlbumDuplicates returned error: %v", err)
			}
			if len(report.Clusters) != 1 {
				t.Fatalf("expected 1 cluster, got %d", len(report.Clusters))
			}
			keeper := report.Clusters[0].Keeper
			if keeper.Path != tt.wantKeeper {
				t.Fatalf("keeper = %s, want %s", keeper.Path, tt.wantKeeper)
			}
			if !keeper.Exists {
				t.Fatal("keeper must exist")
			}
			for _, r := range report.Clusters[0].Removals {
				if !r.Exists {
					t.Fatalf("missing file proposed for removal: %s", r.Path)
				}
			}
		})
	}
}

func TestResolveAlbumDuplicatesDurationGuard(t *testing.T) {
	tracks := []LibraryTrack{
		{TrackScoreTarget: TrackScoreTarget{MetadataID: "a", Duration: 182}, Path: "a.mp3", Size: 5, Exists: true, Fingerprint: labelled(1)},
		{TrackScoreTarget: TrackScoreTarget{MetadataID: "b", Duration: 178}, Path: "b.flac", Size: 9, Exists: true, Fingerprint: labelled(2)},
		{TrackScoreTarget: TrackScoreTarget{MetadataID: "c", Duration: 186.5}, Path: "c.mp3", Size: 6, Exists: true, Fingerprint: labelled(3)},
	}
	opts := DefaultDuplicateOptions()
	opts.Similarity = func([]uint32, []uint32, SimilarityOptions) float64 { return 1 }
	report, err := ResolveAlbumDuplicates(context.Background(), tracks, opts, nil)
	if err != nil {
		t.Fatalf("ResolveAlbumDuplicates returned error: %v", err)
	}
	// b and c are 8.5s apart: never compared, and c stays out of b's removals.
	if report.Compared != 2 {
		t.Fatalf("compared = %d, want 2", report.Compared)
	}
	if len(report.Clusters) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(report.Clusters))
	}
	if got := report.Clusters[0].Keeper.Path; got != "b.flac" {
		t.Fatalf("keeper = %s, want b.flac", got)
	}
	if got := removalPaths(report.Clusters[0]); !reflect.DeepEqual(got, []string{"a.mp3"}) {
		t.Fatalf("removals = %v, want [a.mp3]", got)
	}
}

func TestResolveAlbumDuplicatesClusterModes(t *testing.T) {
	// x~k and y~k, but x and y are not similar to each other.
	tracks := []LibraryTrack{
		{TrackScoreTarget: TrackScoreTarget{MetadataID: "x"}, Path: "x.mp3", Size: 3, Exists: true, Fingerprint: labelled(1)},
		{TrackScoreTarget: TrackScoreTarget{MetadataID: "k"}, Path: "k.flac", Size: 9, Exists: true, Fingerprint: labelled(2)},
		{TrackScoreTarget: TrackScoreTarget{MetadataID: "y"}, Path: "y.mp3", Size: 4, Exists: true, Fingerprint: labelled(3)},
	}
	similarity := pairSimilarity([2]uint32{1, 2}, [2]uint32{3, 2})

	t.Run("star skips a cluster whose keeper was already used", func(t *testing.T) {
		opts := DefaultDuplicateOptions()
		opts.Similarity = similarity
		report, err := ResolveAlbumDuplicates(context.Background(), tracks, opts, nil)
		if err != nil {
			t.Fatalf("ResolveAlbumDuplicates returned error: %v", err)
		}
		if len(report.Clusters) != 1 {
			t.Fatalf("expected 1 cluster, got %d", len(report.Clusters))
		}
		if got := removalPaths(report.Clusters[0]); !reflect.DeepEqual(got, []string{"x.mp3"}) {
			t.Fatalf("removals = %v, want [x.mp3]", got)
		}
	})

	t.Run("transitive merges the chain", func(t *testing.T) {
		opts := DefaultDuplicateOptions()
		opts.Similarity = similarity
		opts.Mode = ClusterTransitive
		report, err := ResolveAlbumDuplicates(context.Background(), tracks, opts, nil)
		if err != nil {
			t.Fatalf("ResolveAlbumDuplicates returned error: %v", err)
		}
		if len(report.Clusters) != 1 {
			t.Fatalf("expected 1 cluster, got %d", len(report.Clusters))
		}
		if report.Clusters[0].Keeper.Path != "k.flac" {
			t.Fatalf("keeper = %s, want k.flac", report.Clusters[0].Keeper.Path)
		}
		if got := removalPaths(report.Clusters[0]); !reflect.DeepEqual(got, []string{"x.mp3", "y.mp3"}) {
			t.Fatalf("removals = %v, want [x.mp3 y.mp3]", got)
		}
	})
}

func TestResolveAlbumDuplicatesSkipsUnusableTracks(t *testing.T) {
	tracks := []LibraryTrack{
		{TrackScoreTarget: TrackScoreTarget{MetadataID: "a"}, Path: "a.flac", Exists: true, Fingerprint: labelled(1)},
		{TrackScoreTarget: TrackScoreTarget{MetadataID: "b"}, Path: "b.flac", Exists: true},
		{TrackScoreTarget: TrackScoreTarget{MetadataID: "c"}, Path: "c.flac", Exists: true, Fingerprint: "not a fingerprint"},
		{TrackScoreTarget: TrackScoreTarget{MetadataID: "d"}, Path: "d.flac", Exists: false, Fingerprint: labelled(1)},
	}
	opts := DefaultDuplicateOptions()
	opts.Similarity = func([]uint32, []uint32, SimilarityOptions) float64 { return 1 }
	report, err := ResolveAlbumDuplicates(context.Background(), tracks, opts, nil)
	if err != nil {
		t.Fatalf("ResolveAlbumDuplicates returned error: %v", err)
	}
	if report.Considered != 1 || len(report.Clusters) != 0 {
		t.Fatalf("considered = %d clusters = %d, want 1 and 0", report.Considered, len(report.Clusters))
	}
}

func TestResolveAlbumDuplicatesRecoversAlignerPanic(t *testing.T) {
	tracks := []LibraryTrack{
		{TrackScoreTarget: TrackScoreTarget{MetadataID: "a"}, Path: "a.flac", Exists: true, Fingerprint: labelled(1)},
		{TrackScoreTarget: TrackScoreTarget{MetadataID: "b"}, Path: "b.mp3", Exists: true, Fingerprint: labelled(2)},
	}
	opts := DefaultDuplicateOptions()
	opts.Similarity = func([]uint32, []uint32, SimilarityOptions) float64 { panic("corrupt") }
	report, err := ResolveAlbumDuplicates(context.Background(), tracks, opts, nil)
	if err != nil {
		t.Fatalf("ResolveAlbumDuplicates returned error: %v", err)
	}
	if report.Failures != 1 || len(report.Clusters) != 0 {
		t.Fatalf("failures = %d clusters = %d, want 1 and 0", report.Failures, len(report.Clusters))
	}
}

func TestResolveLibraryDuplicates(t *testing.T) {
	tracks := []LibraryTrack{
		{TrackScoreTarget: TrackScoreTarget{MetadataID: "b1", AlbumID: "b"}, Path: "/m/b/1.mp3", Size: 1, Exists: true, Fingerprint: labelled(1)},
		{TrackScoreTarget: TrackScoreTarget{MetadataID: "b2", AlbumID: "b"}, Path: "/m/b/1.flac", Size: 2, Exists: true, Fingerprint: labelled(2)},
		{TrackScoreTarget: TrackScoreTarget{MetadataID: "a1", AlbumID: "a"}, Path: "/m/a/1.flac", Size: 2, Exists: true, Fingerprint: labelled(3)},
		{TrackScoreTarget: TrackScoreTarget{MetadataID: "a2", AlbumID: "a"}, Path: "/m/a/1.mp3", Size: 1, Exists: true, Fingerprint: labelled(4)},
		{TrackScoreTarget: TrackScoreTarget{MetadataID: "c1", AlbumID: "c"}, Path: "/m/c/1.mp3", Size: 1, Exists: true, Fingerprint: labelled(5)},
		// same audio as a1 but filed under another album: never compared with it
		{TrackScoreTarget: TrackScoreTarget{MetadataID: "c2", AlbumID: "c"}, Path: "/m/c/2.mp3", Size: 1, Exists: true, Fingerprint: labelled(6)},
	}
	opts := DefaultDuplicateOptions()
	opts.Workers = 4
	opts.Similarity = pairSimilarity([2]uint32{1, 2}, [2]uint32{3, 4}, [2]uint32{3, 6})

	reports, err := ResolveLibraryDuplicates(context.Background(), tracks, opts, NewFingerprintCache())
	if err != nil {
		t.Fatalf("ResolveLibraryDuplicates returned error: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	if reports[0].AlbumKey != "id:a" || reports[1].AlbumKey != "id:b" {
		t.Fatalf("report order = %s, %s", reports[0].AlbumKey, reports[1].AlbumKey)
	}
	if reports[0].Clusters[0].Keeper.Path != "/m/a/1.flac" || reports[1].Clusters[0].Keeper.Path != "/m/b/1.flac" {
		t.Fatalf("unexpected keepers: %+v", reports)
	}
}

func TestAlbumKey(t *testing.T) {
	tests := []struct {
		name  string
		track LibraryTrack
		want  string
	}{
		{"album id", LibraryTrack{TrackScoreTarget: TrackScoreTarget{AlbumID: " 123 ", Album: "X"}}, "id:123"},
		{"tags", LibraryTrack{TrackScoreTarget: TrackScoreTarget{Artist: "The Beatles, Billy Preston", Album: "Let It Be (Remastered)"}}, "tag:the beatles|let it be"},
		{"folder", LibraryTrack{Path: "/music/Unknown/track.mp3"}, "dir:/music/Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AlbumKey(tt.track); got != tt.want {
				t.Fatalf("AlbumKey() = %q, want %q", got, tt.want)
			}
		})
	}
}
