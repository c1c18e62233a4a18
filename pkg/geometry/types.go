// Package geometry provides basic geometric types used throughout the application.
package geometry

import (
	"math"
)

// Point2D represents a 2D point with floating-point coordinates.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Polygon is an ordered list of vertices. The polygon is implicitly closed:
// the last vertex connects back to the first.
type Polygon []Point2D

// Bounds returns the axis-aligned bounding box as min and max corners.
func (poly Polygon) Bounds() (min, max Point2D) {
	if len(poly) == 0 {
		return Point2D{}, Point2D{}
	}
	min, max = poly[0], poly[0]
	for _, p := range poly[1:] {
		min.X = math.Min(min.X, p.X)
		min.Y = math.Min(min.Y, p.Y)
		max.X = math.Max(max.X, p.X)
		max.Y = math.Max(max.Y, p.Y)
	}
	return min, max
}
