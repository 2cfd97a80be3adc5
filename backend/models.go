package backend

// TrackScoreTarget is the comparable view of a local file's tags.
// Zero values mean "unknown": Duration 0, TrackNumber 0 and empty strings are
// skipped by the comparer rather than treated as mismatches.
type TrackScoreTarget struct {
	MetadataID      string  `json:"metadata_id"`
	Artist          string  `json:"artist,omitempty"`
	Album           string  `json:"album,omitempty"`
	AlbumID         string  `json:"album_id,omitempty"`
	Date            string  `json:"date,omitempty"`
	ISRC            string  `json:"isrc,omitempty"`
	Title           string  `json:"title"`
	Duration        float64 `json:"duration,omitempty"` // seconds
	TrackNumber     int     `json:"track_number,omitempty"`
	TrackTotalCount int     `json:"track_total_count,omitempty"`
	UPC             string  `json:"upc,omitempty"`
}

// CandidateTrack is a provider-neutral catalog record.
type CandidateTrack struct {
	Provider        string  `json:"provider,omitempty"`
	TrackID         string  `json:"track_id"`
	AlbumID         string  `json:"album_id,omitempty"`
	TrackName       string  `json:"track_name"`
	AlbumName       string  `json:"album_name,omitempty"`
	ArtistName      string  `json:"artist_name,omitempty"`
	ISRC            string  `json:"isrc,omitempty"`
	UPC             string  `json:"upc,omitempty"`
	Duration        float64 `json:"duration,omitempty"` // seconds
	TrackNumber     int     `json:"track_number,omitempty"`
	TrackTotalCount int     `json:"track_total_count,omitempty"`
	ReleaseDate     string  `json:"release_date,omitempty"`
}

// CandidateSource is implemented by provider records that can be compared
// against local tracks.
type CandidateSource interface {
	Candidate() CandidateTrack
}

// Candidate lets an already adapted record be used where a CandidateSource is expected.
func (c CandidateTrack) Candidate() CandidateTrack { return c }

// MatchResult is an accepted (target, candidate) assignment.
type MatchResult struct {
	Target    TrackScoreTarget `json:"target"`
	Candidate CandidateTrack   `json:"candidate"`
	Score     int              `json:"score"`
	AlbumID   string           `json:"album_id"`
}

// MatchGroup holds the accepted matches of one candidate album.
type MatchGroup struct {
	AlbumID string        `json:"album_id"`
	Matches []MatchResult `json:"matches"`
}

// MatchRun is the outcome of one GetAllTrackScore call.
type MatchRun struct {
	Matches   []MatchResult      `json:"matches"`
	Groups    []MatchGroup       `json:"groups"`
	Unmatched []TrackScoreTarget `json:"unmatched"`
	// Failures counts (target, candidate) pairs whose comparison errored or panicked.
	Failures int `json:"failures"`
}

// FingerprintVector is a decoded fingerprint plus the duration it covers.
type FingerprintVector struct {
	Values   []uint32
	Duration float64
}

// LibraryTrack is a scanned local file: its tags plus what the duplicate
// resolver needs to know about the file itself.
type LibraryTrack struct {
	TrackScoreTarget
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	Exists      bool   `json:"exists"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Codec       string `json:"codec,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`
	BitDepth    int    `json:"bit_depth,omitempty"`
	Lossless    bool   `json:"lossless,omitempty"`
}

// DuplicateFile is one member of a duplicate cluster.
type DuplicateFile struct {
	Path       string  `json:"path"`
	MetadataID string  `json:"metadata_id"`
	Duration   float64 `json:"duration"`
	Size       int64   `json:"size"`
	Exists     bool    `json:"exists"`
}

// DuplicateCluster is a keeper and the files proposed for removal in its favor.
type DuplicateCluster struct {
	Keeper   DuplicateFile   `json:"keeper"`
	Removals []DuplicateFile `json:"removals"`
}

// DuplicateReport is the outcome of resolving one album.
type DuplicateReport struct {
	AlbumKey string             `json:"album_key"`
	Clusters []DuplicateCluster `json:"clusters"`
	// Considered is the number of tracks with an existing file and a decodable fingerprint.
	Considered int `json:"considered"`
	// Compared is the number of pairs that passed the duration pre-filter.
	Compared int `json:"compared"`
	Failures int `json:"failures"`
}

func (t LibraryTrack) duplicateFile() DuplicateFile {
	return DuplicateFile{
		Path:       t.Path,
		MetadataID: t.MetadataID,
		Duration:   t.Duration,
		Size:       t.Size,
		Exists:     t.Exists,
	}
}
