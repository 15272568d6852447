package domain

import "fmt"

// ValidateRawRecord checks a RawRecord before it enters the pipeline.
// A failing record is dropped and counted by the caller, not raised.
func ValidateRawRecord(r RawRecord) error {
	if r.PlaceID == "" {
		return fmt.Errorf("validate: missing place_id: %w", ErrDataIntegrity)
	}
	if r.Name == "" {
		return fmt.Errorf("validate: record %s missing name: %w", r.PlaceID, ErrDataIntegrity)
	}
	return nil
}

// ValidateBounds checks a viewport or query box.
func ValidateBounds(b Bounds) error {
	if !b.Valid() {
		return fmt.Errorf("validate: degenerate bounds [%f,%f]x[%f,%f]: %w",
			b.MinLat, b.MaxLat, b.MinLng, b.MaxLng, ErrInvalidInput)
	}
	return nil
}
