package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gustomap/gustomap/engine/domain"
	"github.com/gustomap/gustomap/engine/search"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func testApp(t *testing.T) *app {
	t.Helper()
	svc := search.NewService(stubEmbedder{}, nil)
	entities := []domain.Entity{
		{PlaceID: "a", Name: "Chez Yvonne", Lat: 48.581, Lng: 7.751,
			Reviews: []string{"superb choucroute"}, Zone: "Petite France"},
		{PlaceID: "b", Name: "Le Gruber", Lat: 48.582, Lng: 7.749,
			Reviews: []string{"hearty flammekueche"}, Zone: "Cathedrale"},
	}
	if err := svc.BuildFromEntities(context.Background(), entities); err != nil {
		t.Fatalf("build: %v", err)
	}
	a := &app{search: svc, logger: slog.Default()}
	a.entities.Store(&entities)
	a.latest.Store(&[]domain.SearchResult{})
	return a
}

func TestHandleSearch(t *testing.T) {
	a := testApp(t)
	req := httptest.NewRequest(http.MethodPost, "/api/search",
		strings.NewReader(`{"query":"alsatian comfort food","aggregation":"mean"}`))
	rec := httptest.NewRecorder()

	a.handleSearch(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var resp SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 || resp.Aggregation != "mean" {
		t.Errorf("response wrong: %+v", resp)
	}
	// Latest results are retained for the heatmap endpoint.
	if len(*a.latest.Load()) != 2 {
		t.Errorf("latest results not stored")
	}
}

func TestHandleSearch_EmptyQuery(t *testing.T) {
	a := testApp(t)
	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"query":"  "}`))
	rec := httptest.NewRecorder()

	a.handleSearch(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty query should 400, got %d", rec.Code)
	}
}

func TestHandleSearch_BadAggregation(t *testing.T) {
	a := testApp(t)
	req := httptest.NewRequest(http.MethodPost, "/api/search",
		strings.NewReader(`{"query":"x","aggregation":"median"}`))
	rec := httptest.NewRecorder()

	a.handleSearch(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown aggregation should 400, got %d", rec.Code)
	}
}

func TestHandleHeatmap_UsesLatestResults(t *testing.T) {
	a := testApp(t)
	a.latest.Store(&[]domain.SearchResult{
		{PlaceID: "a", Lat: 48.581, Lng: 7.751, Similarity: 0.9},
		{PlaceID: "b", Lat: 48.582, Lng: 7.749, Similarity: 0.2},
	})

	req := httptest.NewRequest(http.MethodGet,
		"/api/heatmap?min_lat=48.530&max_lat=48.640&min_lng=7.67&max_lng=7.83&threshold=0.5", nil)
	rec := httptest.NewRecorder()
	a.handleHeatmap(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}

	var m struct {
		Count     int     `json:"count"`
		Threshold float64 `json:"threshold"`
		Tiles     []any   `json:"tiles"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Count != 1 || m.Threshold != 0.5 {
		t.Errorf("threshold filter wrong: %+v", m)
	}
	if len(m.Tiles) != 100 {
		t.Errorf("expected 100 tiles, got %d", len(m.Tiles))
	}
}

func TestHandleHeatmap_BadBounds(t *testing.T) {
	a := testApp(t)
	req := httptest.NewRequest(http.MethodGet,
		"/api/heatmap?min_lat=50&max_lat=40&min_lng=7.67&max_lng=7.83", nil)
	rec := httptest.NewRecorder()
	a.handleHeatmap(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("inverted bounds should 400, got %d", rec.Code)
	}
}

func TestHandleHeatmap_MissingBound(t *testing.T) {
	a := testApp(t)
	// max_lng absent: bounds are mandatory, there is no default viewport.
	req := httptest.NewRequest(http.MethodGet,
		"/api/heatmap?min_lat=48.530&max_lat=48.640&min_lng=7.67", nil)
	rec := httptest.NewRecorder()
	a.handleHeatmap(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing bound should 400, got %d", rec.Code)
	}
}

func TestHandleRestaurants_ZoneFilter(t *testing.T) {
	a := testApp(t)
	req := httptest.NewRequest(http.MethodGet, "/api/restaurants?zone=petite+france", nil)
	rec := httptest.NewRecorder()
	a.handleRestaurants(rec, req)

	var resp RestaurantsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || resp.Restaurants[0].PlaceID != "a" {
		t.Errorf("zone filter wrong: %+v", resp)
	}
}

func TestHandleHeatmap_MalformedBound(t *testing.T) {
	a := testApp(t)
	req := httptest.NewRequest(http.MethodGet,
		"/api/heatmap?min_lat=abc&max_lat=48.640&min_lng=7.67&max_lng=7.83", nil)
	rec := httptest.NewRecorder()
	a.handleHeatmap(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed bound should 400, got %d", rec.Code)
	}
}
