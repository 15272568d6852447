// Package domain defines core domain types, sentinel error kinds, and
// validation for the GustoMap pipeline. It acts as the validation gate at
// pipeline entry points.
package domain

import "strings"

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Bounds is a rectangular geographic area.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLng float64 `json:"max_lng"`
}

// Valid reports whether the bounds describe a non-degenerate rectangle.
func (b Bounds) Valid() bool {
	return b.MaxLat > b.MinLat && b.MaxLng > b.MinLng
}

// RawRecord is one catalog hit inside one sampling circle. The same place
// shows up in several records when sampling circles overlap; the dedupe
// stage collapses them.
type RawRecord struct {
	PlaceID    string   `json:"place_id"`
	Name       string   `json:"name"`
	Lat        float64  `json:"lat"`
	Lng        float64  `json:"lng"`
	Reviews    []string `json:"reviews"`
	MapURI     string   `json:"map_uri,omitempty"`
	ReviewsURI string   `json:"reviews_uri,omitempty"`
	// GridIndex is the index of the sampling point that produced the hit.
	// It defines first-seen order deterministically, independent of
	// fetch parallelism.
	GridIndex int `json:"grid_index"`
}

// Entity is a deduplicated, aggregated place: the unit of ranking and
// visualization.
type Entity struct {
	PlaceID     string   `json:"place_id"`
	Name        string   `json:"name"`
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lng"`
	Reviews     []string `json:"reviews"`
	ReviewCount int      `json:"review_count"`
	MapURI      string   `json:"map_uri,omitempty"`
	ReviewsURI  string   `json:"reviews_uri,omitempty"`
	Zone        string   `json:"zone,omitempty"`
}

// ReviewSeparator joins consolidated reviews in the flat table format. A
// blank line keeps paragraph boundaries intact so embeddings never bleed
// across reviews.
const ReviewSeparator = "\n\n"

// ReviewText returns the consolidated review block.
func (e Entity) ReviewText() string {
	return strings.Join(e.Reviews, ReviewSeparator)
}

// SplitReviewText is the inverse of ReviewText for rows loaded from disk.
func SplitReviewText(block string) []string {
	if block == "" {
		return nil
	}
	parts := strings.Split(block, ReviewSeparator)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SearchResult is one similarity-ranked entity. It is owned by the query
// that produced it, never persisted as part of the entity.
type SearchResult struct {
	PlaceID    string  `json:"place_id"`
	Name       string  `json:"name"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	Similarity float64 `json:"similarity"`
}

// RunSummary reports what a sweep actually did. Failures, skips, and drops
// are counted, not raised: a partial run still yields valid entities.
// PointsSkipped counts points never queried (budget cut the run short);
// PointsFailed counts points whose catalog call errored.
type RunSummary struct {
	Calls          int `json:"calls"`
	PointsTotal    int `json:"points_total"`
	PointsSkipped  int `json:"points_skipped"`
	PointsFailed   int `json:"points_failed"`
	RecordsFetched int `json:"records_fetched"`
	RowsDropped    int `json:"rows_dropped"`
	EntitiesRaw    int `json:"entities_raw"`
	EntitiesMerged int `json:"entities_merged"`
}
