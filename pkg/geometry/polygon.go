package geometry

// PointInPolygon tests if a point is inside a polygon using ray casting.
func PointInPolygon(p Point2D, polygon Polygon) bool {
	n := len(polygon)
	if n < 3 {
		return false
	}

	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		pi := polygon[i]
		pj := polygon[j]

		if ((pi.Y > p.Y) != (pj.Y > p.Y)) &&
			(p.X < (pj.X-pi.X)*(p.Y-pi.Y)/(pj.Y-pi.Y)+pi.X) {
			inside = !inside
		}
		j = i
	}

	return inside
}

// PointInAny tests if a point is inside at least one of the polygons.
func PointInAny(p Point2D, polygons []Polygon) bool {
	for _, poly := range polygons {
		if PointInPolygon(p, poly) {
			return true
		}
	}
	return false
}
