// Package heatmap buckets scored entities into a square grid of viewport
// tiles, for density rendering on a map.
package heatmap

import (
	"fmt"
	"math"

	"github.com/gustomap/gustomap/engine/domain"
)

// DefaultBudget caps how many tiles a viewport is cut into.
const DefaultBudget = 100

// Tile is one grid cell: its four corners in [lat, lng] order, walked
// counter-clockwise from the south-west corner, its center, and how many
// entities it holds.
type Tile struct {
	Bounds [4][2]float64 `json:"bounds"`
	Center [2]float64    `json:"center"`
	Count  int           `json:"count"`
}

// CellPoint is the center of a non-empty tile, weighted by its count.
type CellPoint struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Weight int     `json:"weight"`
}

// Map is the full heatmap response: weighted centers for rendering, every
// tile (empty ones included) for debugging overlays, the total number of
// entities that cleared the threshold, and the threshold echoed back.
type Map struct {
	Points    []CellPoint `json:"points"`
	Tiles     []Tile      `json:"tiles"`
	Count     int         `json:"count"`
	Threshold float64     `json:"threshold"`
}

// Build buckets results into at most budget tiles over the viewport. The
// side length is floor(sqrt(budget)), so the grid is always square. Results
// below threshold are dropped before bucketing; Count reports how many
// survived the threshold, whether or not they landed inside the viewport.
func Build(view domain.Bounds, results []domain.SearchResult, threshold float64, budget int) (*Map, error) {
	if err := domain.ValidateBounds(view); err != nil {
		return nil, fmt.Errorf("heatmap: %w", err)
	}
	if budget <= 0 {
		budget = DefaultBudget
	}
	side := int(math.Floor(math.Sqrt(float64(budget))))
	if side < 1 {
		return nil, fmt.Errorf("heatmap: tile budget %d too small: %w", budget, domain.ErrInvalidInput)
	}

	var kept []domain.SearchResult
	for _, r := range results {
		if r.Similarity >= threshold {
			kept = append(kept, r)
		}
	}

	dLat := (view.MaxLat - view.MinLat) / float64(side)
	dLng := (view.MaxLng - view.MinLng) / float64(side)

	counts := make([]int, side*side)
	for _, r := range kept {
		// Half-open cells: a point on an interior edge belongs to the
		// next cell over, never to both. The far edges fall outside.
		i := int(math.Floor((r.Lat - view.MinLat) / dLat))
		j := int(math.Floor((r.Lng - view.MinLng) / dLng))
		if i < 0 || i >= side || j < 0 || j >= side {
			continue
		}
		counts[i*side+j]++
	}

	m := &Map{
		Tiles:     make([]Tile, 0, side*side),
		Points:    []CellPoint{},
		Count:     len(kept),
		Threshold: threshold,
	}
	for i := 0; i < side; i++ {
		lo := view.MinLat + float64(i)*dLat
		hi := lo + dLat
		for j := 0; j < side; j++ {
			left := view.MinLng + float64(j)*dLng
			right := left + dLng
			n := counts[i*side+j]
			center := [2]float64{lo + dLat/2, left + dLng/2}
			m.Tiles = append(m.Tiles, Tile{
				Bounds: [4][2]float64{
					{lo, left}, {lo, right}, {hi, right}, {hi, left},
				},
				Center: center,
				Count:  n,
			})
			if n > 0 {
				m.Points = append(m.Points, CellPoint{
					Lat:    center[0],
					Lng:    center[1],
					Weight: n,
				})
			}
		}
	}
	return m, nil
}
