package backend

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
)

// DefaultMatchThreshold is the minimum accepted CompareTrack score.
const DefaultMatchThreshold = 80

// CompareFunc scores one (target, candidate) pair.
type CompareFunc func(TrackScoreTarget, CandidateTrack, CompareOptions) (int, error)

// MatchOptions configures GetAllTrackScore.
type MatchOptions struct {
	Compare CompareOptions
	// Workers bounds the per-target scoring pool. 0 means runtime.NumCPU().
	Workers int
	// Comparer replaces CompareTrack; nil uses CompareTrack.
	Comparer CompareFunc
	Logger   *slog.Logger
}

// DefaultMatchOptions returns the matcher defaults.
func DefaultMatchOptions() MatchOptions {
	return MatchOptions{Compare: DefaultCompareOptions()}
}

type scoredCandidate struct {
	index int
	score int
}

type matchProposal struct {
	target    int
	candidate int
	score     int
}

// GetAllTrackScore assigns each target at most one candidate.
//
// Every pair is scored, pairs below threshold are discarded and each target
// keeps its best candidate (ties: album support in this run, then title
// similarity, then track number distance, then input order). Proposals are
// grouped by candidate album and the largest albums claim first. A target is
// matched at most once; a candidate may serve several targets, so duplicate
// copies of one song in the library all resolve to the same catalog track.
func GetAllTrackScore(ctx context.Context, targets []TrackScoreTarget, candidates []CandidateTrack, threshold int, opts MatchOptions) (MatchRun, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "matcher")
	compare := opts.Comparer
	if compare == nil {
		compare = CompareTrack
	}

	perTarget := make([][]scoredCandidate, len(targets))
	failures := make([]int, len(targets))
	err := runIndexed(ctx, len(targets), opts.Workers, func(i int) {
		target := targets[i]
		var kept []scoredCandidate
		for j, candidate := range candidates {
			score, err := safeCompare(compare, target, candidate, opts.Compare)
			if err != nil {
				failures[i]++
				logger.Debug("pair comparison failed",
					"metadata_id", target.MetadataID,
					"track_id", candidate.TrackID,
					"error", err,
				)
				continue
			}
			if score >= threshold {
				kept = append(kept, scoredCandidate{index: j, score: score})
			}
		}
		perTarget[i] = kept
	})
	if err != nil {
		return MatchRun{}, fmt.Errorf("score pairs: %w", err)
	}

	run := MatchRun{}
	for _, n := range failures {
		run.Failures += n
	}

	ties := make([][]scoredCandidate, len(targets))
	support := make(map[string]int)
	for i, scored := range perTarget {
		ties[i] = bestTies(scored)
		seen := make(map[string]bool, len(ties[i]))
		for _, sc := range ties[i] {
			album := candidates[sc.index].AlbumID
			if !seen[album] {
				seen[album] = true
				support[album]++
			}
		}
	}

	byAlbum := make(map[string][]matchProposal)
	for i, tied := range ties {
		if len(tied) == 0 {
			continue
		}
		best := pickBest(targets[i], tied, candidates, support)
		album := candidates[best.index].AlbumID
		byAlbum[album] = append(byAlbum[album], matchProposal{target: i, candidate: best.index, score: best.score})
	}

	albums := make([]string, 0, len(byAlbum))
	for album := range byAlbum {
		albums = append(albums, album)
	}
	sort.Slice(albums, func(a, b int) bool {
		na, nb := len(byAlbum[albums[a]]), len(byAlbum[albums[b]])
		if na != nb {
			return na > nb
		}
		return albums[a] < albums[b]
	})

	claimedTargets := make(map[string]bool)
	for _, album := range albums {
		proposals := byAlbum[album]
		sort.SliceStable(proposals, func(a, b int) bool {
			pa, pb := proposals[a], proposals[b]
			if pa.score != pb.score {
				return pa.score > pb.score
			}
			ka, kb := targets[pa.target].MetadataID, targets[pb.target].MetadataID
			if ka != kb {
				return ka < kb
			}
			return pa.target < pb.target
		})

		group := MatchGroup{AlbumID: album}
		for _, p := range proposals {
			key := targetKey(targets[p.target], p.target)
			if claimedTargets[key] {
				continue
			}
			claimedTargets[key] = true
			group.Matches = append(group.Matches, MatchResult{
				Target:    targets[p.target],
				Candidate: candidates[p.candidate],
				Score:     p.score,
				AlbumID:   album,
			})
		}
		if len(group.Matches) == 0 {
			continue
		}
		run.Groups = append(run.Groups, group)
		run.Matches = append(run.Matches, group.Matches...)
	}

	for i, target := range targets {
		if !claimedTargets[targetKey(target, i)] {
			run.Unmatched = append(run.Unmatched, target)
		}
	}

	logger.Info("track matching complete",
		"targets", len(targets),
		"candidates", len(candidates),
		"matched", len(run.Matches),
		"unmatched", len(run.Unmatched),
		"albums", len(run.Groups),
		"failures", run.Failures,
	)
	return run, nil
}

// safeCompare turns a comparer panic into an error so one bad pair never aborts the batch.
func safeCompare(compare CompareFunc, target TrackScoreTarget, candidate CandidateTrack, opts CompareOptions) (score int, err error) {
	defer func() {
		if r := recover(); r != nil {
			score = 0
			err = fmt.Errorf("compare panic: %v", r)
		}
	}()
	return compare(target, candidate, opts)
}

func bestTies(scored []scoredCandidate) []scoredCandidate {
	if len(scored) == 0 {
		return nil
	}
	best := scored[0].score
	for _, sc := range scored[1:] {
		if sc.score > best {
			best = sc.score
		}
	}
	var out []scoredCandidate
	for _, sc := range scored {
		if sc.score == best {
			out = append(out, sc)
		}
	}
	return out
}

func pickBest(target TrackScoreTarget, tied []scoredCandidate, candidates []CandidateTrack, support map[string]int) scoredCandidate {
	best := tied[0]
	for _, sc := range tied[1:] {
		a, b := candidates[sc.index], candidates[best.index]
		if sa, sb := support[a.AlbumID], support[b.AlbumID]; sa != sb {
			if sa > sb {
				best = sc
			}
			continue
		}
		if ta, tb := titleSimilarity(target.Title, a.TrackName), titleSimilarity(target.Title, b.TrackName); ta != tb {
			if ta > tb {
				best = sc
			}
			continue
		}
		if da, db := trackDistance(target, a), trackDistance(target, b); da != db {
			if da < db {
				best = sc
			}
			continue
		}
		if sc.index < best.index {
			best = sc
		}
	}
	return best
}

func trackDistance(target TrackScoreTarget, candidate CandidateTrack) int {
	if target.TrackNumber <= 0 || candidate.TrackNumber <= 0 {
		return math.MaxInt
	}
	d := target.TrackNumber - candidate.TrackNumber
	if d < 0 {
		d = -d
	}
	return d
}

func targetKey(t TrackScoreTarget, index int) string {
	if t.MetadataID != "" {
		return t.MetadataID
	}
	return "#" + strconv.Itoa(index)
}
