// Package search ranks entities against a free-text query by cosine
// similarity over their per-review embeddings.
package search

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/gustomap/gustomap/engine/domain"
	"github.com/gustomap/gustomap/engine/semantic"
)

// Aggregation selects how per-review similarities collapse to one score
// per entity.
type Aggregation string

const (
	// AggMax scores an entity by its single best-matching review. One
	// glowing review about "best ramen" beats ten lukewarm ones.
	AggMax Aggregation = "max"
	// AggMean scores an entity by the average over all its reviews,
	// rewarding consistent relevance.
	AggMean Aggregation = "mean"
)

// ParseAggregation validates a client-supplied aggregation name. Empty
// defaults to max.
func ParseAggregation(s string) (Aggregation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(AggMax):
		return AggMax, nil
	case string(AggMean):
		return AggMean, nil
	}
	return "", fmt.Errorf("search: aggregation %q: %w", s, domain.ErrInvalidInput)
}

type entityMeta struct {
	name string
	lat  float64
	lng  float64
	seen int // build order, breaks score ties deterministically
}

type indexedVector struct {
	entityID string
	vector   []float32
	norm     float64
}

// Index is an immutable snapshot of review vectors joined with entity
// metadata. Rebuilds produce a fresh Index; readers never see a partial one.
type Index struct {
	vectors []indexedVector
	meta    map[string]entityMeta
}

// NewIndex joins review embeddings with their entities. Records whose
// entity is unknown are dropped rather than surfaced half-populated.
func NewIndex(entities []domain.Entity, records []semantic.EmbeddingRecord) *Index {
	meta := make(map[string]entityMeta, len(entities))
	for i, e := range entities {
		if _, ok := meta[e.PlaceID]; ok {
			continue
		}
		meta[e.PlaceID] = entityMeta{name: e.Name, lat: e.Lat, lng: e.Lng, seen: i}
	}

	vectors := make([]indexedVector, 0, len(records))
	for _, r := range records {
		if _, ok := meta[r.EntityID]; !ok {
			continue
		}
		if len(r.Vector) == 0 {
			continue
		}
		vectors = append(vectors, indexedVector{
			entityID: r.EntityID,
			vector:   r.Vector,
			norm:     norm(r.Vector),
		})
	}
	return &Index{vectors: vectors, meta: meta}
}

// Len reports how many review vectors the index holds.
func (ix *Index) Len() int { return len(ix.vectors) }

// Entities reports how many distinct entities have at least one vector.
func (ix *Index) Entities() int {
	seen := make(map[string]struct{}, len(ix.meta))
	for _, v := range ix.vectors {
		seen[v.entityID] = struct{}{}
	}
	return len(seen)
}

// Search scores every review vector against the query, collapses scores per
// entity with the given aggregation, and returns entities ranked best-first.
// topK <= 0 means no limit. Similarities are clamped to [0, 1] and rounded
// to 4 decimals, so scores are stable across rebuilds and platforms.
func (ix *Index) Search(query []float32, agg Aggregation, topK int) []domain.SearchResult {
	if len(ix.vectors) == 0 || len(query) == 0 {
		return []domain.SearchResult{}
	}
	qnorm := norm(query)
	if qnorm == 0 {
		return []domain.SearchResult{}
	}

	type acc struct {
		sum   float64
		best  float64
		count int
	}
	scores := make(map[string]*acc)
	for _, v := range ix.vectors {
		if len(v.vector) != len(query) || v.norm == 0 {
			continue
		}
		sim := cosine(query, qnorm, v.vector, v.norm)
		a := scores[v.entityID]
		if a == nil {
			a = &acc{best: sim}
			scores[v.entityID] = a
		} else if sim > a.best {
			a.best = sim
		}
		a.sum += sim
		a.count++
	}

	results := make([]domain.SearchResult, 0, len(scores))
	for id, a := range scores {
		m := ix.meta[id]
		score := a.best
		if agg == AggMean {
			score = a.sum / float64(a.count)
		}
		results = append(results, domain.SearchResult{
			PlaceID:    id,
			Name:       m.name,
			Lat:        m.lat,
			Lng:        m.lng,
			Similarity: round4(score),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return ix.meta[results[i].PlaceID].seen < ix.meta[results[j].PlaceID].seen
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

// cosine computes similarity in float64 and clamps to [0, 1]. Review
// embeddings live in a positive-ish half-space, so negative cosines carry
// no ranking signal and would only confuse score consumers.
func cosine(a []float32, anorm float64, b []float32, bnorm float64) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	sim := dot / (anorm * bnorm)
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

func norm(v []float32) float64 {
	var ss float64
	for _, x := range v {
		ss += float64(x) * float64(x)
	}
	return math.Sqrt(ss)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
