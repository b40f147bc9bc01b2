package lidar

import (
	"gonum.org/v1/gonum/spatial/r2"
)

// Segment is a line segment between two points
type Segment struct {
	From, To r2.Vec
}

// Intersect returns the point at which segments a and b intersect.
// The returned bool is false if the segments are parallel, collinear,
// or do not overlap.
func Intersect(a, b Segment) (r2.Vec, bool) {
	x1, y1 := a.From.X, a.From.Y
	x2, y2 := a.To.X, a.To.Y
	x3, y3 := b.From.X, b.From.Y
	x4, y4 := b.To.X, b.To.Y

	denom := (y4-y3)*(x2-x1) - (x4-x3)*(y2-y1)
	if denom == 0 {
		return r2.Vec{}, false
	}

	ua := ((x4-x3)*(y1-y3) - (y4-y3)*(x1-x3)) / denom
	ub := ((x2-x1)*(y1-y3) - (y2-y1)*(x1-x3)) / denom
	if ua < 0 || ua > 1 || ub < 0 || ub > 1 {
		return r2.Vec{}, false
	}

	return r2.Add(a.From, r2.Scale(ua, r2.Sub(a.To, a.From))), true
}

// horizontal returns the point at which the segment s crosses the
// horizontal line at height y. The returned bool is false if s does
// not cross the line between its endpoints.
func horizontal(s Segment, y float64) (r2.Vec, bool) {
	dy := s.To.Y - s.From.Y
	if dy == 0 {
		return r2.Vec{}, false
	}

	t := (y - s.From.Y) / dy
	if t < 0 || t > 1 {
		return r2.Vec{}, false
	}
	return r2.Add(s.From, r2.Scale(t, r2.Sub(s.To, s.From))), true
}

// edges returns the three edges of an obstacle rectangle that can be
// seen from the left: the top, the bottom, and the left edge.
func edges(b r2.Box) [3]Segment {
	return [3]Segment{
		{From: r2.Vec{X: b.Min.X, Y: b.Min.Y}, To: r2.Vec{X: b.Max.X, Y: b.Min.Y}},
		{From: r2.Vec{X: b.Max.X, Y: b.Max.Y}, To: r2.Vec{X: b.Min.X, Y: b.Max.Y}},
		{From: r2.Vec{X: b.Min.X, Y: b.Max.Y}, To: r2.Vec{X: b.Min.X, Y: b.Min.Y}},
	}
}
