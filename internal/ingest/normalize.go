package ingest

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var foldCaser = cases.Fold()

// Normalize produces a canonical form of scraped text for matching:
// NFC-normalized, case-folded, inner whitespace collapsed. Scrapers disagree
// on composed vs decomposed accents and casing, so raw string equality is
// useless for dedup.
func Normalize(s string) string {
	s = norm.NFC.String(s)
	s = foldCaser.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// TrackKey builds the dedup key for a track from its artist and title.
func TrackKey(artist, title string) string {
	return Normalize(artist) + " - " + Normalize(title)
}

// Title renders a display-cased form of a scraped name.
func Title(s string) string {
	return cases.Title(language.Und).String(norm.NFC.String(s))
}
