// Package lidar implements a ray casting range sensor. A Lidar casts a
// fan of rays from a point and reports, for each ray, the distance to
// the nearest geometry it hits divided by the maximum ray length.
//
// All geometry is in screen coordinates: x grows to the right and y
// grows downward, so the ground has a larger y than the ceiling.
package lidar

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r2"
)

// MaxRotationOffset caps the orientation term added to every ray
// angle, in degrees
const MaxRotationOffset = 45.0

// World is the geometry a Lidar scans against. Upper and Lower hold
// the upper and lower rectangle of each obstacle pair.
type World struct {
	GroundY  float64
	CeilingY float64
	Upper    []r2.Box
	Lower    []r2.Box
}

// Pairs returns the obstacle pairs of the world. Upper and lower
// rectangles are each ordered by ascending left edge and matched by
// position in that order. If the two lists differ in length, the
// unmatched rectangles are dropped.
func (w World) Pairs() [][2]r2.Box {
	upper := sortedByX(w.Upper)
	lower := sortedByX(w.Lower)

	n := len(upper)
	if len(lower) < n {
		n = len(lower)
	}

	pairs := make([][2]r2.Box, n)
	for i := 0; i < n; i++ {
		pairs[i] = [2]r2.Box{upper[i], lower[i]}
	}
	return pairs
}

func sortedByX(boxes []r2.Box) []r2.Box {
	out := make([]r2.Box, len(boxes))
	copy(out, boxes)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Min.X < out[j].Min.X
	})
	return out
}

// Lidar casts rays in a 180 degree fan centred on the forward (+x)
// direction
type Lidar struct {
	rays        int
	maxDistance float64

	// endpoints holds the point at which each ray of the last scan
	// stopped. Used only for drawing.
	endpoints []r2.Vec
}

// New returns a new Lidar casting rays rays of length maxDistance
func New(rays int, maxDistance float64) (*Lidar, error) {
	if rays < 1 {
		return nil, fmt.Errorf("new: must have at least one ray")
	}
	if maxDistance <= 0 {
		return nil, fmt.Errorf("new: max distance must be positive")
	}

	return &Lidar{
		rays:        rays,
		maxDistance: maxDistance,
		endpoints:   make([]r2.Vec, rays),
	}, nil
}

// Rays returns the number of rays in each scan, which is the length of
// the observation vector
func (l *Lidar) Rays() int {
	return l.rays
}

// MaxDistance returns the length of each ray
func (l *Lidar) MaxDistance() float64 {
	return l.maxDistance
}

// Angle returns the angle of ray i in degrees, for a sensor rotated by
// rotation degrees. Ray 0 points straight up.
func (l *Lidar) Angle(i int, rotation float64) float64 {
	return -90 + float64(i)*(180/float64(l.rays)) +
		math.Min(rotation, MaxRotationOffset)
}

// Scan casts every ray from origin and returns the normalized distance
// along each. Each entry is in [0, 1], where 1 means the ray hit
// nothing within MaxDistance().
func (l *Lidar) Scan(origin r2.Vec, rotation float64, w World) []float64 {
	pairs := w.Pairs()
	out := make([]float64, l.rays)
	for i := range out {
		out[i], l.endpoints[i] = l.cast(origin, l.Angle(i, rotation), w,
			pairs)
	}
	return out
}

// Ray casts a single ray from origin at angle degrees and returns its
// normalized distance together with the point at which the ray
// stopped
func (l *Lidar) Ray(origin r2.Vec, angle float64, w World) (float64, r2.Vec) {
	return l.cast(origin, angle, w, w.Pairs())
}

// Endpoints returns the points at which each ray of the last Scan
// stopped
func (l *Lidar) Endpoints() []r2.Vec {
	out := make([]r2.Vec, len(l.endpoints))
	copy(out, l.endpoints)
	return out
}

func (l *Lidar) cast(origin r2.Vec, angle float64, w World,
	pairs [][2]r2.Box) (float64, r2.Vec) {
	rad := angle * math.Pi / 180
	dir := r2.Vec{X: math.Cos(rad), Y: math.Sin(rad)}
	ray := Segment{From: origin, To: r2.Add(origin, r2.Scale(l.maxDistance, dir))}

	best := l.maxDistance
	end := ray.To
	consider := func(p r2.Vec) {
		if d := r2.Norm(r2.Sub(p, origin)); d < best {
			best = d
			end = p
		}
	}

	if p, ok := horizontal(ray, w.GroundY); ok {
		consider(p)
	}
	if p, ok := horizontal(ray, w.CeilingY); ok {
		consider(p)
	}

	for _, pair := range pairs {
		for _, box := range pair {
			for _, edge := range edges(box) {
				if p, ok := Intersect(ray, edge); ok {
					consider(p)
				}
			}
		}
	}

	return best / l.maxDistance, end
}
