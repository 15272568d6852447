package geo

import (
	"fmt"

	"github.com/gustomap/gustomap/engine/domain"
)

// Grid produces the ordered sampling points covering box with a constant
// physical spacing of stepMeters. Rows run south to north; within a row,
// points run west to east with a cosine-corrected longitude step so spacing
// stays constant as parallels narrow. The result is a pure function of its
// inputs: re-running yields the identical sequence, and a call budget is
// enforced by simple truncation.
//
// The step must be strictly smaller than the query radius used with these
// points; adjacent circles then overlap, and the overlap is the coverage
// margin. The dedupe stage absorbs the duplicate hits it causes.
func Grid(box domain.Bounds, stepMeters float64) ([]domain.Point, error) {
	if stepMeters <= 0 {
		return nil, fmt.Errorf("geo: grid step %v m: %w", stepMeters, domain.ErrInvalidConfiguration)
	}
	if !box.Valid() {
		return nil, fmt.Errorf("geo: degenerate bounding box: %w", domain.ErrInvalidConfiguration)
	}

	latStep := MetersToLat(stepMeters)
	var points []domain.Point
	for lat := box.MinLat; lat <= box.MaxLat; lat += latStep {
		lngStep := MetersToLng(stepMeters, lat)
		for lng := box.MinLng; lng <= box.MaxLng; lng += lngStep {
			points = append(points, domain.Point{Lat: lat, Lng: lng})
		}
	}
	return points, nil
}

// ValidateSweep fails fast on a step/radius pair that would leave coverage
// gaps between adjacent sampling circles.
func ValidateSweep(stepMeters, radiusMeters float64) error {
	if radiusMeters <= 0 {
		return fmt.Errorf("geo: radius %v m: %w", radiusMeters, domain.ErrInvalidConfiguration)
	}
	if stepMeters >= radiusMeters {
		return fmt.Errorf("geo: step %v m must be smaller than radius %v m: %w",
			stepMeters, radiusMeters, domain.ErrInvalidConfiguration)
	}
	return nil
}
