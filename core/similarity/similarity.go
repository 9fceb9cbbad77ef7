// Package similarity scores how likely two (song, artist) pairs refer to the
// same recording. Pure functions, no I/O, deterministic.
package similarity

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/hbollon/go-edlib"
)

// VariantTag classifies a title as a known suffixed variant of a base title.
type VariantTag string

const (
	VariantRemaster     VariantTag = "remaster"
	VariantDeluxe       VariantTag = "deluxe"
	VariantRadioEdit    VariantTag = "radio_edit"
	VariantLive         VariantTag = "live"
	VariantAcoustic     VariantTag = "acoustic"
	VariantInstrumental VariantTag = "instrumental"
	VariantDemo         VariantTag = "demo"
	VariantRemix        VariantTag = "remix"
	VariantExtended     VariantTag = "extended"
	VariantSingle       VariantTag = "single_version"
	VariantMono         VariantTag = "mono"
	VariantFeaturing    VariantTag = "featuring"
)

// Weighting of title vs artist in the combined score. Title dominates because
// artist buckets are usually already normalized by the caller.
const (
	titleWeight  = 0.65
	artistWeight = 0.35
)

var (
	// Variant suffixes in "Title - Variant" or "Title (Variant)" form, checked
	// in order so the more specific patterns win.
	variantPatterns = []struct {
		re  *regexp.Regexp
		tag VariantTag
	}{
		{regexp.MustCompile(`(?i)[\s]*[-–][\s]*(\d{4}[\s]+)?remaster(ed)?([\s]+(version|\d{4}))?$`), VariantRemaster},
		{regexp.MustCompile(`(?i)[\s]*[\(\[][^\)\]]*remaster[^\)\]]*[\)\]]`), VariantRemaster},
		{regexp.MustCompile(`(?i)[\s]*[\(\[][^\)\]]*deluxe[^\)\]]*[\)\]]`), VariantDeluxe},
		{regexp.MustCompile(`(?i)[\s]*[-–][\s]*radio[\s]+edit$|[\s]*[\(\[]radio[\s]+edit[\)\]]`), VariantRadioEdit},
		{regexp.MustCompile(`(?i)[\s]*[-–][\s]*(extended([\s]+(mix|version|remix))?)$|[\s]*[\(\[][^\)\]]*extended[^\)\]]*[\)\]]`), VariantExtended},
		{regexp.MustCompile(`(?i)[\s]*[-–][\s]*([^-]*[\s])?remix$|[\s]*[\(\[][^\)\]]*remix[^\)\]]*[\)\]]`), VariantRemix},
		{regexp.MustCompile(`(?i)[\s]*[-–][\s]*live([\s]+.*)?$|[\s]*[\(\[]live[^\)\]]*[\)\]]`), VariantLive},
		{regexp.MustCompile(`(?i)[\s]*[-–][\s]*acoustic([\s]+version)?$|[\s]*[\(\[]acoustic[^\)\]]*[\)\]]`), VariantAcoustic},
		{regexp.MustCompile(`(?i)[\s]*[-–][\s]*instrumental$|[\s]*[\(\[]instrumental[\)\]]`), VariantInstrumental},
		{regexp.MustCompile(`(?i)[\s]*[-–][\s]*demo([\s]+version)?$|[\s]*[\(\[]demo[^\)\]]*[\)\]]`), VariantDemo},
		{regexp.MustCompile(`(?i)[\s]*[-–][\s]*single([\s]+version)?$|[\s]*[\(\[]single[\s]+version[\)\]]`), VariantSingle},
		{regexp.MustCompile(`(?i)[\s]*[\(\[](mono|stereo)([\s]+version)?[\)\]]`), VariantMono},
		{regexp.MustCompile(`(?i)[\s]*[\(\[](feat|ft)\.?[\s][^\)\]]*[\)\]]|[\s]+(feat|ft)\.?[\s].*$|[\s]+featuring[\s].*$`), VariantFeaturing},
	}

	punctRe      = regexp.MustCompile(`[\p{P}\p{S}]`)
	leadArticles = regexp.MustCompile(`^(the|a|an)\s+`)
)

// foldDiacritics maps common accented characters to ASCII so "Tiësto" and "Tiesto" match.
func foldDiacritics(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case 'ë', 'ê', 'è', 'é', 'ē', 'ė':
			b.WriteRune('e')
		case 'ï', 'î', 'ì', 'í', 'ī':
			b.WriteRune('i')
		case 'ö', 'ô', 'ò', 'ó', 'ō', 'ø':
			b.WriteRune('o')
		case 'ü', 'û', 'ù', 'ú', 'ū':
			b.WriteRune('u')
		case 'ä', 'â', 'à', 'á', 'ā', 'å':
			b.WriteRune('a')
		case 'ñ':
			b.WriteRune('n')
		case 'ß':
			b.WriteString("ss")
		case 'œ':
			b.WriteString("oe")
		case 'æ':
			b.WriteString("ae")
		default:
			if unicode.Is(unicode.Mn, r) {
				continue // combining marks after NFD
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalize lowers, folds diacritics, rewrites feat./ft. joins, drops
// punctuation and leading articles, and collapses whitespace.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = foldDiacritics(s)
	for _, pattern := range []string{"featuring ", "feat. ", "feat ", "ft. ", "ft "} {
		s = strings.ReplaceAll(s, pattern, " ")
	}
	s = strings.ReplaceAll(s, "&", " and ")
	s = punctRe.ReplaceAllString(s, " ")
	s = strings.Join(strings.Fields(s), " ")
	s = leadArticles.ReplaceAllString(s, "")
	return s
}

// DetectSuffixVariant reports whether the title is a suffixed variant
// ("- 2020 Remaster", "(Deluxe Edition)", "(Radio Edit)", ...) of a shorter
// base title, and which variant it is.
func DetectSuffixVariant(song string) (VariantTag, bool) {
	for _, p := range variantPatterns {
		if p.re.MatchString(song) {
			// A variant only counts if stripping it leaves a non-empty base.
			if base := strings.TrimSpace(p.re.ReplaceAllString(song, " ")); base != "" && base != song {
				return p.tag, true
			}
		}
	}
	return "", false
}

// BaseTitle strips all recognized variant suffixes from a title. The result
// keeps the original casing; use CleanTitle for the comparable form.
func BaseTitle(song string) string {
	out := song
	for _, p := range variantPatterns {
		stripped := strings.TrimSpace(p.re.ReplaceAllString(out, " "))
		if stripped != "" {
			out = stripped
		}
	}
	return out
}

// CleanTitle is the normalized, suffix-stripped form used for scoring.
func CleanTitle(song string) string {
	return Normalize(BaseTitle(song))
}

// CleanArtist is the normalized artist form used for scoring and bucketing.
// Only the primary artist counts: trailing comma-separated collaborators drop.
func CleanArtist(artist string) string {
	s := strings.TrimSpace(artist)
	if idx := strings.Index(s, ","); idx > 0 {
		s = s[:idx]
	}
	return Normalize(s)
}

// StringSimilarity is the normalized-edit-distance similarity of two raw
// strings after Normalize. Identical normalized forms score exactly 1.0;
// an empty side scores 0.0.
func StringSimilarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0.0
	}
	if na == nb {
		return 1.0
	}
	sim, err := edlib.StringsSimilarity(na, nb, edlib.JaroWinkler)
	if err != nil {
		return 0.0
	}
	return clamp01(float64(sim))
}

// Score combines title and artist similarity into one value in [0, 1].
// Titles are compared after variant-suffix stripping, so "I Got" and
// "I Got - 2020 Remaster" by the same artist score 1.0.
func Score(songA, artistA, songB, artistB string) float64 {
	ta, tb := CleanTitle(songA), CleanTitle(songB)
	if ta == "" || tb == "" {
		return 0.0
	}

	titleSim := 1.0
	if ta != tb {
		sim, err := edlib.StringsSimilarity(ta, tb, edlib.JaroWinkler)
		if err != nil {
			return 0.0
		}
		titleSim = float64(sim)
	}

	aa, ab := CleanArtist(artistA), CleanArtist(artistB)
	artistSim := 1.0
	switch {
	case aa == "" && ab == "":
		// No artist info on either side: the title has to carry the decision.
		artistSim = titleSim
	case aa == "" || ab == "":
		artistSim = 0.0
	case aa != ab:
		sim, err := edlib.StringsSimilarity(aa, ab, edlib.JaroWinkler)
		if err != nil {
			artistSim = 0.0
		} else {
			artistSim = float64(sim)
		}
	}

	if titleSim == 1.0 && artistSim == 1.0 {
		return 1.0
	}
	return clamp01(titleWeight*titleSim + artistWeight*artistSim)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
