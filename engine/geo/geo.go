// Package geo provides planar coordinate conversions and the sampling-grid
// generator that drives the catalog sweep.
package geo

import "math"

// metersPerDegree is the length of one degree of latitude (and of longitude
// at the equator), in meters.
const metersPerDegree = 111320

// MetersToLat converts a north-south distance to degrees of latitude.
func MetersToLat(meters float64) float64 {
	return meters / metersPerDegree
}

// MetersToLng converts an east-west distance to degrees of longitude at the
// given latitude. Parallels narrow toward the poles, so the physical length
// of a degree of longitude shrinks with cos(lat).
func MetersToLng(meters, lat float64) float64 {
	return meters / (metersPerDegree * math.Cos(lat*math.Pi/180))
}
