package dedupe

import (
	"math"
	"sort"

	"github.com/gustomap/gustomap/engine/domain"
	"github.com/gustomap/gustomap/pkg/fn"
)

// Collapse groups raw rows by place id, producing one Entity per id with the
// reviews of all its rows folded in. Scalar fields come from the first-seen
// row (by grid index, then input order); reviews are unioned with exact-match
// de-duplication in order of first appearance, and the count is recomputed
// from the union, never summed. Rows missing a key field are dropped and
// counted.
func Collapse(rows []domain.RawRecord) ([]domain.Entity, int) {
	ordered := make([]domain.RawRecord, len(rows))
	copy(ordered, rows)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].GridIndex < ordered[j].GridIndex
	})

	var (
		dropped  int
		entities []domain.Entity
		byID     = make(map[string]int)
	)
	for _, row := range ordered {
		if err := domain.ValidateRawRecord(row); err != nil {
			dropped++
			continue
		}
		idx, ok := byID[row.PlaceID]
		if !ok {
			byID[row.PlaceID] = len(entities)
			entities = append(entities, domain.Entity{
				PlaceID:    row.PlaceID,
				Name:       row.Name,
				Lat:        row.Lat,
				Lng:        row.Lng,
				MapURI:     row.MapURI,
				ReviewsURI: row.ReviewsURI,
			})
			idx = len(entities) - 1
		}
		entities[idx].Reviews = unionReviews(entities[idx].Reviews, row.Reviews)
	}
	for i := range entities {
		entities[i].ReviewCount = len(entities[i].Reviews)
	}
	return entities, dropped
}

// Deduplicate merges entities that refer to the same physical place: equal
// normalized names AND coordinates within ProximityDeg on both axes. Both
// conditions are required: brands share buildings and franchises share
// names. Candidates are pre-bucketed by a coarse spatial hash so the
// pairwise comparison only runs inside a 3x3 cell neighborhood.
//
// The operation is idempotent: running it on its own output changes nothing.
func Deduplicate(entities []domain.Entity) []domain.Entity {
	type cell struct{ latIdx, lngIdx int }

	var (
		merged  []domain.Entity
		buckets = make(map[cell][]int)
	)
	for _, e := range entities {
		key := NormalizeName(e.Name)
		home := cell{bucketIndex(e.Lat), bucketIndex(e.Lng)}

		target := -1
		for dLat := -1; dLat <= 1 && target < 0; dLat++ {
			for dLng := -1; dLng <= 1 && target < 0; dLng++ {
				for _, idx := range buckets[cell{home.latIdx + dLat, home.lngIdx + dLng}] {
					m := merged[idx]
					if NormalizeName(m.Name) == key && SameLocation(m.Lat, m.Lng, e.Lat, e.Lng) {
						target = idx
						break
					}
				}
			}
		}

		if target >= 0 {
			merged[target].Reviews = unionReviews(merged[target].Reviews, e.Reviews)
			merged[target].ReviewCount = len(merged[target].Reviews)
			continue
		}

		e.Reviews = unionReviews(nil, e.Reviews)
		e.ReviewCount = len(e.Reviews)
		merged = append(merged, e)
		buckets[home] = append(buckets[home], len(merged)-1)
	}
	return merged
}

func bucketIndex(deg float64) int {
	return int(math.Floor(deg / ProximityDeg))
}

// unionReviews appends the reviews of add that are not already present in
// base, comparing by the normalized exact-match key and preserving order of
// first appearance. Empty reviews are discarded.
func unionReviews(base, add []string) []string {
	all := append(append(make([]string, 0, len(base)+len(add)), base...), add...)
	kept := fn.Filter(all, func(r string) bool { return normalizeReview(r) != "" })
	return fn.UniqueBy(kept, normalizeReview)
}
