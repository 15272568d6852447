// Package dedupe collapses raw catalog rows into one row per place and
// merges records that refer to the same physical place.
package dedupe

import (
	"math"
	"regexp"
	"strings"
)

// ProximityDeg is the duplicate proximity threshold per axis, roughly 100 m.
// An accepted approximation: it can under- and over-merge (two kiosks under
// one roof), and no ground truth exists to tune it.
const ProximityDeg = 0.001

var (
	punctRun = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	spaceRun = regexp.MustCompile(`\s+`)
)

// NormalizeName lowercases a place name, strips punctuation, and collapses
// whitespace. Two records are candidate duplicates only when their
// normalized names are identical.
func NormalizeName(name string) string {
	name = strings.ToLower(name)
	name = punctRun.ReplaceAllString(name, "")
	name = spaceRun.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// normalizeReview is the exact-match key for review de-duplication: trimmed,
// inner whitespace collapsed, case preserved.
func normalizeReview(review string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(review, " "))
}

// SameLocation reports whether two coordinates differ by less than the
// proximity threshold on both axes.
func SameLocation(lat1, lng1, lat2, lng2 float64) bool {
	return math.Abs(lat1-lat2) < ProximityDeg && math.Abs(lng1-lng2) < ProximityDeg
}
