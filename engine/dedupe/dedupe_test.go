package dedupe

import (
	"reflect"
	"testing"

	"github.com/gustomap/gustomap/engine/domain"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Chez Yvonne", "chez yvonne"},
		{"  Chez   Yvonne!  ", "chez yvonne"},
		{"L'Ami Fritz", "lami fritz"},
		{"CAFÉ - BRASSERIE", "café brasserie"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeName(tt.in); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSameLocation(t *testing.T) {
	if !SameLocation(48.5800, 7.7500, 48.5805, 7.7495) {
		t.Error("points ~60m apart should match")
	}
	if SameLocation(48.5800, 7.7500, 48.5812, 7.7500) {
		t.Error("latitude diff over threshold should not match")
	}
	if SameLocation(48.5800, 7.7500, 48.5800, 7.7512) {
		t.Error("longitude diff over threshold should not match")
	}
}

func TestCollapse_GroupsByPlaceID(t *testing.T) {
	rows := []domain.RawRecord{
		{PlaceID: "a", Name: "Chez Yvonne", Lat: 48.58, Lng: 7.75, Reviews: []string{"great"}, GridIndex: 0, MapURI: "map-a"},
		{PlaceID: "a", Name: "Chez Yvonne", Lat: 48.58, Lng: 7.75, Reviews: []string{"cosy"}, GridIndex: 1},
		{PlaceID: "b", Name: "Fink'Stuebel", Lat: 48.57, Lng: 7.74, Reviews: []string{"fine"}, GridIndex: 0},
	}
	entities, dropped := Collapse(rows)
	if dropped != 0 {
		t.Fatalf("expected no drops, got %d", dropped)
	}
	if len(entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(entities))
	}
	a := entities[0]
	if a.PlaceID != "a" || a.ReviewCount != 2 || len(a.Reviews) != 2 {
		t.Errorf("entity a not aggregated: %+v", a)
	}
	if a.MapURI != "map-a" {
		t.Errorf("first-seen map uri lost: %q", a.MapURI)
	}
}

func TestCollapse_DropsRecordsMissingKeys(t *testing.T) {
	rows := []domain.RawRecord{
		{PlaceID: "", Name: "nameless id"},
		{PlaceID: "x", Name: ""},
		{PlaceID: "ok", Name: "Valid", Lat: 1, Lng: 1},
	}
	entities, dropped := Collapse(rows)
	if dropped != 2 {
		t.Fatalf("expected 2 dropped rows, got %d", dropped)
	}
	if len(entities) != 1 || entities[0].PlaceID != "ok" {
		t.Fatalf("expected only the valid entity, got %+v", entities)
	}
}

func TestCollapse_FirstSeenByGridIndex(t *testing.T) {
	// Arrival order is reversed relative to grid order; grid index decides.
	rows := []domain.RawRecord{
		{PlaceID: "a", Name: "Later Name", Lat: 2, Lng: 2, GridIndex: 5},
		{PlaceID: "a", Name: "First Name", Lat: 1, Lng: 1, GridIndex: 2},
	}
	entities, _ := Collapse(rows)
	if entities[0].Name != "First Name" || entities[0].Lat != 1 {
		t.Errorf("grid index should define first-seen, got %+v", entities[0])
	}
}

func TestDeduplicate_MergesSamePlace(t *testing.T) {
	entities := []domain.Entity{
		{PlaceID: "a1", Name: "Chez Yvonne", Lat: 48.5800, Lng: 7.7500,
			Reviews: []string{"great choucroute", "lovely"}, ReviewCount: 2, MapURI: "first"},
		{PlaceID: "a2", Name: "chez yvonne!", Lat: 48.5804, Lng: 7.7503,
			Reviews: []string{"lovely", "hidden gem"}, ReviewCount: 2, MapURI: "second"},
	}
	merged := Deduplicate(entities)
	if len(merged) != 1 {
		t.Fatalf("expected 1 merged entity, got %d", len(merged))
	}
	got := merged[0]
	// Union, not naive sum: "lovely" appears in both.
	if got.ReviewCount != 3 || len(got.Reviews) != 3 {
		t.Errorf("expected 3 distinct reviews, got count=%d reviews=%v", got.ReviewCount, got.Reviews)
	}
	if got.PlaceID != "a1" || got.MapURI != "first" {
		t.Errorf("first-seen scalars should win: %+v", got)
	}
	want := []string{"great choucroute", "lovely", "hidden gem"}
	if !reflect.DeepEqual(got.Reviews, want) {
		t.Errorf("review order should preserve first appearance: %v", got.Reviews)
	}
}

func TestDeduplicate_NameOnlyIsNotEnough(t *testing.T) {
	// Franchise: same name, different part of town.
	entities := []domain.Entity{
		{PlaceID: "f1", Name: "Pizza Roma", Lat: 48.58, Lng: 7.75, Reviews: []string{"ok"}, ReviewCount: 1},
		{PlaceID: "f2", Name: "Pizza Roma", Lat: 48.60, Lng: 7.78, Reviews: []string{"ok"}, ReviewCount: 1},
	}
	if got := Deduplicate(entities); len(got) != 2 {
		t.Fatalf("franchise locations must stay separate, got %d", len(got))
	}
}

func TestDeduplicate_LocationOnlyIsNotEnough(t *testing.T) {
	// Two brands sharing a building.
	entities := []domain.Entity{
		{PlaceID: "b1", Name: "Sushi Bar", Lat: 48.5800, Lng: 7.7500, Reviews: []string{"ok"}, ReviewCount: 1},
		{PlaceID: "b2", Name: "Burger Corner", Lat: 48.5801, Lng: 7.7501, Reviews: []string{"ok"}, ReviewCount: 1},
	}
	if got := Deduplicate(entities); len(got) != 2 {
		t.Fatalf("different brands at one address must stay separate, got %d", len(got))
	}
}

func TestDeduplicate_Idempotent(t *testing.T) {
	entities := []domain.Entity{
		{PlaceID: "a1", Name: "Chez Yvonne", Lat: 48.5800, Lng: 7.7500, Reviews: []string{"one"}, ReviewCount: 1},
		{PlaceID: "a2", Name: "Chez Yvonne", Lat: 48.5803, Lng: 7.7502, Reviews: []string{"two"}, ReviewCount: 1},
		{PlaceID: "c", Name: "Fink'Stuebel", Lat: 48.57, Lng: 7.74, Reviews: []string{"three"}, ReviewCount: 1},
	}
	once := Deduplicate(entities)
	twice := Deduplicate(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("second pass changed output:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestDeduplicate_AcrossBucketBoundary(t *testing.T) {
	// Points straddling a 0.001 degree bucket edge but within the threshold.
	entities := []domain.Entity{
		{PlaceID: "x1", Name: "Edge Case Cafe", Lat: 48.58099, Lng: 7.75099, Reviews: []string{"a"}, ReviewCount: 1},
		{PlaceID: "x2", Name: "Edge Case Cafe", Lat: 48.58101, Lng: 7.75101, Reviews: []string{"b"}, ReviewCount: 1},
	}
	if got := Deduplicate(entities); len(got) != 1 {
		t.Fatalf("neighbors across bucket edge must merge, got %d", len(got))
	}
}
