package backend

import (
	"errors"
	"math"
	"testing"
)

func TestCompareTrackIdentifierOverride(t *testing.T) {
	opts := DefaultCompareOptions()
	tests := []struct {
		name      string
		target    TrackScoreTarget
		candidate CandidateTrack
	}{
		{
			name:      "equal isrc with unrelated titles",
			target:    TrackScoreTarget{Title: "Something", ISRC: "GBAYE0601498", Duration: 100},
			candidate: CandidateTrack{TrackName: "Completely Different", ISRC: "gb-aye-06-01498", Duration: 400},
		},
		{
			name:      "equal upc ignoring leading zero",
			target:    TrackScoreTarget{Title: "Intro 1", UPC: "0724384260910"},
			candidate: CandidateTrack{TrackName: "Intro 2", UPC: "724384260910"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, err := CompareTrack(tt.target, tt.candidate, opts)
			if err != nil {
				t.Fatalf("CompareTrack returned error: %v", err)
			}
			if score != MaxScore {
				t.Fatalf("score = %d, want %d", score, MaxScore)
			}
		})
	}
}

func TestCompareTrackRejections(t *testing.T) {
	opts := DefaultCompareOptions()
	tests := []struct {
		name      string
		target    TrackScoreTarget
		candidate CandidateTrack
	}{
		{
			name:      "digit token differs",
			target:    TrackScoreTarget{Title: "Intro 1", Duration: 60},
			candidate: CandidateTrack{TrackName: "Intro 2", Duration: 60},
		},
		{
			name:      "extra digit token",
			target:    TrackScoreTarget{Title: "Track"},
			candidate: CandidateTrack{TrackName: "Track 2"},
		},
		{
			name:      "album volume differs",
			target:    TrackScoreTarget{Title: "Opening", Album: "Greatest Hits Vol. 1"},
			candidate: CandidateTrack{TrackName: "Opening", AlbumName: "Greatest Hits Vol. 2"},
		},
		{
			name:      "duration beyond tolerance",
			target:    TrackScoreTarget{Title: "Yesterday", Duration: 125},
			candidate: CandidateTrack{TrackName: "Yesterday", Duration: 300},
		},
		{
			name:      "duration exactly at tolerance",
			target:    TrackScoreTarget{Title: "Yesterday", Duration: 120},
			candidate: CandidateTrack{TrackName: "Yesterday", Duration: 125},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, err := CompareTrack(tt.target, tt.candidate, opts)
			if err != nil {
				t.Fatalf("CompareTrack returned error: %v", err)
			}
			if score != 0 {
				t.Fatalf("score = %d, want 0", score)
			}
		})
	}
}

func TestCompareTrackYesterdayScenario(t *testing.T) {
	target := TrackScoreTarget{MetadataID: "m1", Title: "Yesterday", Duration: 125}
	remastered := CandidateTrack{TrackID: "c1", TrackName: "Yesterday (Remastered)", Duration: 126, ISRC: "GBX123"}
	longer := CandidateTrack{TrackID: "c2", TrackName: "Yesterday", Duration: 300}

	first, err := CompareTrack(target, remastered, DefaultCompareOptions())
	if err != nil {
		t.Fatalf("CompareTrack returned error: %v", err)
	}
	if first != 99 {
		t.Fatalf("remastered score = %d, want 99", first)
	}
	second, err := CompareTrack(target, longer, DefaultCompareOptions())
	if err != nil {
		t.Fatalf("CompareTrack returned error: %v", err)
	}
	if second != 0 {
		t.Fatalf("long version score = %d, want 0", second)
	}
}

func TestCompareTrackFieldsAndBonuses(t *testing.T) {
	opts := DefaultCompareOptions()
	base := TrackScoreTarget{
		Title:           "Heading Up High",
		Artist:          "Armin van Buuren feat. Kensington",
		Album:           "Embrace",
		Duration:        200,
		TrackNumber:     3,
		TrackTotalCount: 12,
	}
	exact := CandidateTrack{
		TrackName:       "Heading Up High",
		ArtistName:      "Armin van Buuren, Kensington",
		AlbumName:       "Embrace (Deluxe Edition)",
		Duration:        200,
		TrackNumber:     3,
		TrackTotalCount: 12,
	}
	renumbered := exact
	renumbered.TrackNumber = 4
	renumbered.TrackTotalCount = 14

	exactScore, err := CompareTrack(base, exact, opts)
	if err != nil {
		t.Fatalf("CompareTrack returned error: %v", err)
	}
	if exactScore != MaxScore {
		t.Fatalf("exact score = %d, want %d", exactScore, MaxScore)
	}
	renumberedScore, err := CompareTrack(base, renumbered, opts)
	if err != nil {
		t.Fatalf("CompareTrack returned error: %v", err)
	}
	if renumberedScore != 93 {
		t.Fatalf("renumbered score = %d, want 93", renumberedScore)
	}
}

func TestCompareTrackDiacriticsAndCase(t *testing.T) {
	score, err := CompareTrack(
		TrackScoreTarget{Title: "  ADAGIO FOR STRINGS ", Artist: "Tiësto"},
		CandidateTrack{TrackName: "Adagio for Strings", ArtistName: "Tiesto"},
		DefaultCompareOptions(),
	)
	if err != nil {
		t.Fatalf("CompareTrack returned error: %v", err)
	}
	if score != MaxScore {
		t.Fatalf("score = %d, want %d", score, MaxScore)
	}
}

func TestCompareTrackMalformed(t *testing.T) {
	tests := []struct {
		name      string
		target    TrackScoreTarget
		candidate CandidateTrack
	}{
		{"nan target duration", TrackScoreTarget{Title: "a", Duration: math.NaN()}, CandidateTrack{TrackName: "a"}},
		{"negative candidate duration", TrackScoreTarget{Title: "a"}, CandidateTrack{TrackName: "a", Duration: -1}},
		{"infinite duration", TrackScoreTarget{Title: "a", Duration: math.Inf(1)}, CandidateTrack{TrackName: "a"}},
		{"negative track number", TrackScoreTarget{Title: "a", TrackNumber: -2}, CandidateTrack{TrackName: "a"}},
		{"negative track total", TrackScoreTarget{Title: "a"}, CandidateTrack{TrackName: "a", TrackTotalCount: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, err := CompareTrack(tt.target, tt.candidate, DefaultCompareOptions())
			if !errors.Is(err, ErrMalformedTrack) {
				t.Fatalf("error = %v, want ErrMalformedTrack", err)
			}
			if score != 0 {
				t.Fatalf("score = %d, want 0", score)
			}
		})
	}
}

func TestCoreTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Yesterday (Remastered 2009)", "yesterday"},
		{"Yesterday - 2009 Remaster", "yesterday"},
		{"Heading Up High (feat. Kensington) [Extended Mix]", "heading up high"},
		{"Intro (Part 2)", "intro part 2"},
		{"Don't Stop Me Now - Live at Wembley", "dont stop me now"},
		{"Song : Song - Radio Edit", "song"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := coreTitle(tt.in); got != tt.want {
				t.Fatalf("coreTitle(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPrimaryArtist(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Armin van Buuren, Kensington", "armin van buuren"},
		{"Delerium feat. Sarah McLachlan", "delerium"},
		{"Simon & Garfunkel", "simon and garfunkel"},
		{"Beyoncé; Jay-Z", "beyonce"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := primaryArtist(tt.in); got != tt.want {
				t.Fatalf("primaryArtist(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
