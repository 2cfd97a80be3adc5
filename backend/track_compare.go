package backend

import (
	"errors"
	"fmt"
	"math"
)

// MaxScore is the score of a certain match.
const MaxScore = 100

// DefaultDurationTolerance is the default maximum duration gap in seconds.
const DefaultDurationTolerance = 5.0

const (
	titleWeight  = 0.70
	artistWeight = 0.15
	albumWeight  = 0.15

	maxDurationPenalty = 5.0
	trackNumberBonus   = 5
	trackTotalBonus    = 2
)

// ErrMalformedTrack is returned for NaN/negative durations or negative track numbers.
var ErrMalformedTrack = errors.New("malformed track fields")

// CompareOptions tunes CompareTrack.
type CompareOptions struct {
	// DurationTolerance in seconds; a known duration gap at or above it rejects the pair.
	DurationTolerance float64 `json:"duration_tolerance" toml:"duration_tolerance"`
}

// DefaultCompareOptions returns the comparer defaults.
func DefaultCompareOptions() CompareOptions {
	return CompareOptions{DurationTolerance: DefaultDurationTolerance}
}

// CompareTrack scores how well a candidate's fields match a local track, from 0 to 100.
//
// Equal ISRC or UPC is authoritative and returns 100. Otherwise the pair is
// rejected (0) when the durations are too far apart or the titles/albums carry
// different numbers ("Intro 1" vs "Intro 2"). Surviving pairs are scored on a
// weighted title/artist/album similarity, reduced by the duration gap and
// adjusted by track number and track count agreement.
func CompareTrack(target TrackScoreTarget, candidate CandidateTrack, opts CompareOptions) (int, error) {
	if err := validateTarget(target); err != nil {
		return 0, err
	}
	if err := validateCandidate(candidate); err != nil {
		return 0, err
	}
	tolerance := opts.DurationTolerance
	if tolerance <= 0 {
		tolerance = DefaultDurationTolerance
	}

	if identifiersEqual(target.ISRC, candidate.ISRC) || identifiersEqual(target.UPC, candidate.UPC) {
		return MaxScore, nil
	}

	durationGap := 0.0
	if target.Duration > 0 && candidate.Duration > 0 {
		durationGap = math.Abs(target.Duration - candidate.Duration)
		if durationGap >= tolerance {
			return 0, nil
		}
	}

	targetCore := coreTitle(target.Title)
	candidateCore := coreTitle(candidate.TrackName)
	if !sameTokens(digitTokens(targetCore), digitTokens(candidateCore)) {
		return 0, nil
	}
	albumsKnown := target.Album != "" && candidate.AlbumName != ""
	if albumsKnown && !sameTokens(digitTokens(coreAlbum(target.Album)), digitTokens(coreAlbum(candidate.AlbumName))) {
		return 0, nil
	}

	titleRatio := titleSimilarity(target.Title, candidate.TrackName)
	weighted := titleRatio * titleWeight
	weights := titleWeight

	if target.Artist != "" && candidate.ArtistName != "" {
		artistRatio := math.Max(
			fuzzyRatio(primaryArtist(target.Artist), primaryArtist(candidate.ArtistName)),
			fuzzyRatio(normalizeText(target.Artist), normalizeText(candidate.ArtistName)),
		)
		weighted += artistRatio * artistWeight
		weights += artistWeight
	}
	if albumsKnown {
		albumRatio := math.Max(
			fuzzyRatio(normalizeText(target.Album), normalizeText(candidate.AlbumName)),
			fuzzyRatio(coreAlbum(target.Album), coreAlbum(candidate.AlbumName)),
		)
		weighted += albumRatio * albumWeight
		weights += albumWeight
	}

	score := weighted / weights
	score -= durationGap / tolerance * maxDurationPenalty

	if target.TrackNumber > 0 && candidate.TrackNumber > 0 {
		if target.TrackNumber == candidate.TrackNumber {
			score += trackNumberBonus
		} else {
			score -= trackNumberBonus
		}
	}
	if target.TrackTotalCount > 0 && candidate.TrackTotalCount > 0 {
		if target.TrackTotalCount == candidate.TrackTotalCount {
			score += trackTotalBonus
		} else {
			score -= trackTotalBonus
		}
	}

	return int(math.Round(math.Max(0, math.Min(MaxScore, score)))), nil
}

// MatchConfidence labels a score for reports.
func MatchConfidence(score int) string {
	switch {
	case score >= 95:
		return "high"
	case score >= 85:
		return "medium"
	default:
		return "low"
	}
}

// titleSimilarity is the better of the full and core title ratios.
func titleSimilarity(a, b string) float64 {
	return math.Max(
		fuzzyRatio(normalizeText(a), normalizeText(b)),
		fuzzyRatio(coreTitle(a), coreTitle(b)),
	)
}

func identifiersEqual(a, b string) bool {
	na := normalizeIdentifier(a)
	return na != "" && na == normalizeIdentifier(b)
}

func validateTarget(t TrackScoreTarget) error {
	if !validDuration(t.Duration) {
		return fmt.Errorf("%w: target %q duration %v", ErrMalformedTrack, t.MetadataID, t.Duration)
	}
	if t.TrackNumber < 0 || t.TrackTotalCount < 0 {
		return fmt.Errorf("%w: target %q track %d/%d", ErrMalformedTrack, t.MetadataID, t.TrackNumber, t.TrackTotalCount)
	}
	return nil
}

func validateCandidate(c CandidateTrack) error {
	if !validDuration(c.Duration) {
		return fmt.Errorf("%w: candidate %q duration %v", ErrMalformedTrack, c.TrackID, c.Duration)
	}
	if c.TrackNumber < 0 || c.TrackTotalCount < 0 {
		return fmt.Errorf("%w: candidate %q track %d/%d", ErrMalformedTrack, c.TrackID, c.TrackNumber, c.TrackTotalCount)
	}
	return nil
}

func validDuration(d float64) bool {
	return !math.IsNaN(d) && !math.IsInf(d, 0) && d >= 0
}
