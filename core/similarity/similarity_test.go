package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreBounds(t *testing.T) {
	pairs := []struct {
		songA, artistA, songB, artistB string
	}{
		{"I Got", "Artist X", "I Got", "Artist X"},
		{"I Got", "Artist X", "Completely Different", "Someone Else"},
		{"", "", "", ""},
		{"", "x", "y", "z"},
		{"Song", "", "Song", ""},
		{"Hello World", "The Band", "Hello, World!", "Band"},
		{"Tiësto's Anthem", "Tiësto", "Tiestos Anthem", "Tiesto"},
		{"A", "B", "A", "C"},
	}
	for _, p := range pairs {
		s := Score(p.songA, p.artistA, p.songB, p.artistB)
		assert.GreaterOrEqual(t, s, 0.0, "score below 0 for %q/%q vs %q/%q", p.songA, p.artistA, p.songB, p.artistB)
		assert.LessOrEqual(t, s, 1.0, "score above 1 for %q/%q vs %q/%q", p.songA, p.artistA, p.songB, p.artistB)
	}
}

func TestScoreIdentical(t *testing.T) {
	assert.Equal(t, 1.0, Score("I Got", "Artist X", "I Got", "Artist X"))
}

func TestScoreCaseOnlyDifference(t *testing.T) {
	assert.Equal(t, 1.0, Score("i got", "artist x", "I GOT", "ARTIST X"))
}

func TestScoreEmptyStrings(t *testing.T) {
	assert.Equal(t, 0.0, Score("", "Artist X", "I Got", "Artist X"))
	assert.Equal(t, 0.0, Score("I Got", "Artist X", "", "Artist X"))
	assert.Equal(t, 0.0, Score("", "", "", ""))
}

func TestScoreDisjointStrings(t *testing.T) {
	s := Score("Zxqvw", "Kjhgf", "Aeiou", "Mnbvc")
	assert.Less(t, s, 0.5, "disjoint strings should score low, got %f", s)
}

func TestScoreSuffixVariants(t *testing.T) {
	// Variants of the same recording by the same artist score at/near 1.0
	// because the variant suffix is stripped before comparison.
	assert.InDelta(t, 1.0, Score("I Got", "Artist X", "I Got - 2020 Remaster", "Artist X"), 1e-9)
	assert.InDelta(t, 1.0, Score("I Got", "Artist X", "I Got (Radio Edit)", "Artist X"), 1e-9)
	assert.GreaterOrEqual(t, Score("I Got (Radio Edit)", "Artist X", "I Got - 2020 Remaster", "Artist X"), 0.7)
}

func TestStringSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, StringSimilarity("abc", "abc"))
	assert.Equal(t, 1.0, StringSimilarity("The Beatles", "Beatles"))
	assert.Equal(t, 0.0, StringSimilarity("", "x"))
	assert.Equal(t, 0.0, StringSimilarity("x", ""))
}

func TestDetectSuffixVariant(t *testing.T) {
	cases := []struct {
		title string
		tag   VariantTag
		found bool
	}{
		{"I Got - 2020 Remaster", VariantRemaster, true},
		{"I Got - Remastered", VariantRemaster, true},
		{"I Got (2009 Remaster)", VariantRemaster, true},
		{"I Got (Deluxe Edition)", VariantDeluxe, true},
		{"I Got (Radio Edit)", VariantRadioEdit, true},
		{"I Got - Radio Edit", VariantRadioEdit, true},
		{"I Got - Live at Wembley", VariantLive, true},
		{"I Got (Acoustic)", VariantAcoustic, true},
		{"I Got - Extended Mix", VariantExtended, true},
		{"I Got (feat. Somebody)", VariantFeaturing, true},
		{"I Got", "", false},
		{"Remaster", "", false}, // nothing left once stripped, not a variant
	}
	for _, c := range cases {
		tag, found := DetectSuffixVariant(c.title)
		require.Equal(t, c.found, found, "title %q", c.title)
		if c.found {
			assert.Equal(t, c.tag, tag, "title %q", c.title)
		}
	}
}

func TestBaseTitle(t *testing.T) {
	assert.Equal(t, "I Got", BaseTitle("I Got - 2020 Remaster"))
	assert.Equal(t, "I Got", BaseTitle("I Got (Radio Edit)"))
	assert.Equal(t, "I Got", BaseTitle("I Got"))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "beatles", Normalize("The Beatles"))
	assert.Equal(t, "hello world", Normalize("  Hello,   World!  "))
	assert.Equal(t, "tiesto", Normalize("Tiësto"))
	assert.Equal(t, Normalize("Delerium feat. Sarah"), Normalize("Delerium Sarah"))
}

func TestCleanArtistPrimaryOnly(t *testing.T) {
	assert.Equal(t, CleanArtist("Armin van Buuren"), CleanArtist("Armin van Buuren, Kensington, First State"))
}
