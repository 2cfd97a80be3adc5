package backend

import (
	"math"
	"math/bits"
)

// FingerprintItemsPerSecond is Chromaprint's sub-fingerprint rate: 11025 Hz
// sample rate, 4096-sample frames with a 2/3 overlap.
const FingerprintItemsPerSecond = 11025.0 / (4096.0 / 3.0)

// DefaultMaxDrift is the default timing drift, in seconds, the aligner tolerates.
const DefaultMaxDrift = 3.0

// SimilarityOptions configures FingerprintSimilarity.
type SimilarityOptions struct {
	// MaxDrift is the half-width of the alignment band in seconds.
	MaxDrift float64 `json:"max_drift" toml:"max_drift"`
	// DurationTolerance in seconds; sequences whose lengths imply a larger
	// duration gap score 0 without being aligned.
	DurationTolerance float64 `json:"duration_tolerance" toml:"duration_tolerance"`
}

// DefaultSimilarityOptions returns the aligner defaults.
func DefaultSimilarityOptions() SimilarityOptions {
	return SimilarityOptions{MaxDrift: DefaultMaxDrift, DurationTolerance: DefaultDurationTolerance}
}

// FingerprintSimilarity aligns two decoded fingerprints with dynamic time
// warping restricted to a band around the diagonal and returns
// 1 - cost/(32*(len(a)+len(b))). Element cost is the number of differing bits;
// diagonal steps count twice so the normalizer bounds every path.
// Identical inputs score 1, argument order does not matter and unrelated
// audio lands near 0.5-0.6, so acceptance thresholds belong above 0.95.
func FingerprintSimilarity(a, b []uint32, opts SimilarityOptions) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) || (len(a) == len(b) && lessSequence(b, a)) {
		a, b = b, a
	}
	n, m := len(a), len(b)

	tolerance := opts.DurationTolerance
	if tolerance <= 0 {
		tolerance = DefaultDurationTolerance
	}
	if float64(m-n)/FingerprintItemsPerSecond > tolerance {
		return 0
	}

	drift := opts.MaxDrift
	if drift <= 0 {
		drift = DefaultMaxDrift
	}
	width := int(math.Ceil(drift * FingerprintItemsPerSecond))
	slope := 1.0
	if n > 1 {
		slope = float64(m-1) / float64(n-1)
	}
	if w := int(math.Ceil(slope)); w > width {
		width = w
	}
	if width < 1 {
		width = 1
	}

	band := func(i int) (int, int) {
		if n == 1 {
			return 0, m - 1
		}
		center := float64(i) * slope
		lo := int(math.Floor(center)) - width
		hi := int(math.Ceil(center)) + width
		if lo < 0 {
			lo = 0
		}
		if hi > m-1 {
			hi = m - 1
		}
		return lo, hi
	}

	const inf = math.MaxInt64 / 4
	prev := dtwRow{}
	cur := dtwRow{}
	for i := 0; i < n; i++ {
		lo, hi := band(i)
		cur.reset(lo, hi)
		for j := lo; j <= hi; j++ {
			cost := int64(bits.OnesCount32(a[i] ^ b[j]))
			if i == 0 && j == 0 {
				cur.set(j, 2*cost)
				continue
			}
			best := int64(inf)
			if i > 0 {
				if v := prev.get(j-1, inf) + 2*cost; v < best {
					best = v
				}
				if v := prev.get(j, inf) + cost; v < best {
					best = v
				}
			}
			if v := cur.get(j-1, inf) + cost; v < best {
				best = v
			}
			cur.set(j, best)
		}
		prev, cur = cur, prev
	}

	total := prev.get(m-1, inf)
	if total >= inf {
		return 0
	}
	normalized := float64(total) / float64(32*(n+m))
	return math.Max(0, math.Min(1, 1-normalized))
}

// dtwRow is one row of the cost matrix, valid for columns [lo, hi].
type dtwRow struct {
	lo, hi int
	cells  []int64
}

func (r *dtwRow) reset(lo, hi int) {
	r.lo, r.hi = lo, hi
	size := hi - lo + 1
	if cap(r.cells) < size {
		r.cells = make([]int64, size)
	}
	r.cells = r.cells[:size]
}

func (r *dtwRow) get(j int, inf int64) int64 {
	if r.cells == nil || j < r.lo || j > r.hi {
		return inf
	}
	return r.cells[j-r.lo]
}

func (r *dtwRow) set(j int, v int64) { r.cells[j-r.lo] = v }

func lessSequence(a, b []uint32) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
