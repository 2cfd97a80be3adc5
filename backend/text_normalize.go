package backend

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/hbollon/go-edlib"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	ligatureReplacer = strings.NewReplacer(
		"ß", "ss", "œ", "oe", "Œ", "OE", "æ", "ae", "Æ", "AE",
		"ø", "o", "Ø", "O", "đ", "d", "Đ", "D", "ł", "l", "Ł", "L",
	)
	apostropheReplacer = strings.NewReplacer("'", "", "’", "", "‘", "", "`", "")

	bracketGroupRe  = regexp.MustCompile(`\s*[\(\[\{]([^\)\]\}]*)[\)\]\}]\s*`)
	versionWordRe   = regexp.MustCompile(`\b(remaster|remastered|remastering|remix|remixed|edit|mix|live|version|mono|stereo|demo|acoustic|instrumental|radio|extended|single|bonus|deluxe|explicit|clean|feat|ft|featuring|original|reissue|anniversary|unplugged)\b`)
	digitTokenRe    = regexp.MustCompile(`\d+`)
	featSeparatorRe = regexp.MustCompile(`(?i)\s+(feat\.?|ft\.?|featuring|with)\s+`)
)

// normalizePath normalizes file paths for consistent comparison across platforms.
func normalizePath(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}

// foldDiacritics maps accented characters to their base form so "Tiësto" and
// "Tiesto" compare equal. The transformer is built per call; transform chains
// keep state and must not be shared between goroutines.
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return ligatureReplacer.Replace(folded)
}

// normalizeText lower-cases, folds diacritics and reduces punctuation to
// single spaces. Digits and letters survive untouched.
func normalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	s = foldDiacritics(s)
	s = apostropheReplacer.Replace(s)
	s = strings.ReplaceAll(s, "&", " and ")
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// coreTitle reduces a title to the part that identifies the recording, so
// "Yesterday (Remastered 2009)", "Yesterday - 2009 Remaster" and "Yesterday"
// all become "yesterday". Parentheticals without a version keyword, such as
// "(Part 2)", are kept.
func coreTitle(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	if s == "" {
		return ""
	}
	s = foldDiacritics(s)
	if idx := strings.Index(s, " : "); idx > 0 {
		s = strings.TrimSpace(s[:idx])
	}
	s = bracketGroupRe.ReplaceAllStringFunc(s, func(group string) string {
		inner := bracketGroupRe.FindStringSubmatch(group)
		if len(inner) > 1 && versionWordRe.MatchString(inner[1]) {
			return " "
		}
		return group
	})
	// " - 2009 Remaster", " - Radio Edit", " - Live at Wembley"
	for {
		idx := strings.LastIndex(s, " - ")
		if idx <= 0 || !versionWordRe.MatchString(s[idx+3:]) {
			break
		}
		s = strings.TrimSpace(s[:idx])
	}
	return normalizeText(s)
}

// coreAlbum strips edition decorations from an album title the same way.
func coreAlbum(album string) string {
	return coreTitle(album)
}

// primaryArtist keeps the first credited artist so "Armin van Buuren, Kensington"
// and "Armin van Buuren feat. Kensington" both become "armin van buuren".
func primaryArtist(artist string) string {
	s := strings.TrimSpace(artist)
	for _, sep := range []string{",", ";", " / "} {
		if idx := strings.Index(s, sep); idx > 0 {
			s = strings.TrimSpace(s[:idx])
		}
	}
	if loc := featSeparatorRe.FindStringIndex(s); loc != nil && loc[0] > 0 {
		s = s[:loc[0]]
	}
	return normalizeText(s)
}

// digitTokens returns the numbers appearing in s, leading zeros removed, so
// "Track 02" and "Track 2" yield the same sequence.
func digitTokens(s string) []string {
	raw := digitTokenRe.FindAllString(s, -1)
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, len(raw))
	for i, tok := range raw {
		tok = strings.TrimLeft(tok, "0")
		if tok == "" {
			tok = "0"
		}
		out[i] = tok
	}
	return out
}

func sameTokens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// normalizeIdentifier upper-cases an ISRC/UPC and drops separators. Purely
// numeric codes also lose leading zeros so a 12-digit UPC equals its 13-digit EAN.
func normalizeIdentifier(id string) string {
	var b strings.Builder
	numeric := true
	for _, r := range strings.ToUpper(strings.TrimSpace(id)) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			numeric = false
			b.WriteRune(r)
		}
	}
	out := b.String()
	if numeric {
		out = strings.TrimLeft(out, "0")
	}
	return out
}

// fuzzyRatio is the Levenshtein similarity of two normalized strings on a 0..100 scale.
func fuzzyRatio(a, b string) float64 {
	if a == b {
		return 100
	}
	if a == "" || b == "" {
		return 0
	}
	sim, err := edlib.StringsSimilarity(a, b, edlib.Levenshtein)
	if err != nil {
		return 0
	}
	return float64(sim) * 100
}
