package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeFoldsCaseAndAccents(t *testing.T) {
	// Composed and decomposed accents normalize to the same key.
	composed := "Beyoncé"
	decomposed := "Beyoncé"
	assert.Equal(t, Normalize(composed), Normalize(decomposed))
}

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "daft punk", Normalize("  Daft\t Punk "))
}

func TestTrackKey(t *testing.T) {
	a := TrackKey("M83", "Midnight  City")
	b := TrackKey("m83", "midnight city")
	assert.Equal(t, a, b)
	assert.Equal(t, "m83 - midnight city", a)
}

func TestNormalizeEmpty(t *testing.T) {
	assert.Equal(t, "", Normalize("   "))
}
