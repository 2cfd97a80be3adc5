package backend

import (
	"math/rand"
	"testing"
)

func noisyCopy(values []uint32, seed int64) []uint32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]uint32, len(values))
	for i, v := range values {
		out[i] = v ^ 1<<uint(rng.Intn(32))
	}
	return out
}

func TestFingerprintSimilarityIdentical(t *testing.T) {
	opts := DefaultSimilarityOptions()
	for _, n := range []int{1, 2, 50, 900} {
		a := randomFingerprint(int64(n), n)
		if got := FingerprintSimilarity(a, a, opts); got != 1.0 {
			t.Fatalf("FingerprintSimilarity(s, s) with n=%d = %v, want 1.0", n, got)
		}
	}
}

func TestFingerprintSimilaritySymmetric(t *testing.T) {
	opts := DefaultSimilarityOptions()
	tests := []struct {
		name string
		a, b []uint32
	}{
		{"same length", randomFingerprint(10, 300), randomFingerprint(11, 300)},
		{"different length", randomFingerprint(12, 300), randomFingerprint(13, 320)},
		{"noisy copy", randomFingerprint(14, 300), noisyCopy(randomFingerprint(14, 300), 15)},
		{"single element", []uint32{0xF0F0F0F0}, randomFingerprint(16, 5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ab := FingerprintSimilarity(tt.a, tt.b, opts)
			ba := FingerprintSimilarity(tt.b, tt.a, opts)
			if ab != ba {
				t.Fatalf("not symmetric: %v vs %v", ab, ba)
			}
			if ab < 0 || ab > 1 {
				t.Fatalf("ratio %v outside [0,1]", ab)
			}
		})
	}
}

func TestFingerprintSimilaritySeparatesRecordings(t *testing.T) {
	opts := DefaultSimilarityOptions()
	base := randomFingerprint(20, 800)

	noisy := noisyCopy(base, 21)
	if got := FingerprintSimilarity(base, noisy, opts); got < 0.95 {
		t.Fatalf("one flipped bit per item scored %v, want >= 0.95", got)
	}

	// the same audio starting a few frames later
	shifted := append(randomFingerprint(22, 6), base...)
	if got := FingerprintSimilarity(base, shifted, opts); got < 0.98 {
		t.Fatalf("shifted copy scored %v, want >= 0.98", got)
	}

	unrelated := randomFingerprint(23, 800)
	if got := FingerprintSimilarity(base, unrelated, opts); got > 0.8 {
		t.Fatalf("unrelated fingerprints scored %v, want <= 0.8", got)
	}
}

func TestFingerprintSimilarityLengthPrefilter(t *testing.T) {
	opts := SimilarityOptions{MaxDrift: 3, DurationTolerance: 5}
	a := randomFingerprint(30, 400)
	// about 10 seconds longer than a
	b := append(append([]uint32{}, a...), randomFingerprint(31, 81)...)
	if got := FingerprintSimilarity(a, b, opts); got != 0 {
		t.Fatalf("length gap beyond tolerance scored %v, want 0", got)
	}
}

func TestFingerprintSimilarityEmpty(t *testing.T) {
	opts := DefaultSimilarityOptions()
	if got := FingerprintSimilarity(nil, []uint32{1}, opts); got != 0 {
		t.Fatalf("empty input scored %v, want 0", got)
	}
	if got := FingerprintSimilarity(nil, nil, opts); got != 0 {
		t.Fatalf("empty inputs scored %v, want 0", got)
	}
}
