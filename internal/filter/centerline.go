package filter

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/ctessum/geom"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/tberends/heron/internal/cloud"
	"github.com/tberends/heron/internal/waterdelen"
)

// GeometryError reports a skeleton-extraction failure scoped to a single
// water body. The pipeline skips the offending polygon and continues with
// its siblings.
type GeometryError struct {
	WaterBodyID string
	Err         error
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("geometry error for waterdeel %s: %v", e.WaterBodyID, e.Err)
}

func (e *GeometryError) Unwrap() error { return e.Err }

// Centerline is an ordered polyline approximating the medial axis of a
// polygon along its principal elongation direction.
type Centerline []geom.Point

// minPolygonArea is the area below which a polygon is considered
// degenerate for skeleton extraction.
const minPolygonArea = 1e-9

// station limits bound the sampling resolution of the medial
// approximation: roughly one chord per unit of elongation, clamped so
// small and huge polygons both stay tractable.
const (
	minStations = 8
	maxStations = 256
)

// ExtractCenterlines approximates the medial axis of poly.
//
// The principal elongation direction comes from the eigenvector of the
// vertex covariance matrix with the largest eigenvalue. The polygon is
// then sampled at stations along that axis; at each station the chord
// perpendicular to the axis is intersected with every edge and the
// even-odd crossing intervals yield one midpoint per spanned interval.
// Midpoints link into branches by interval overlap between consecutive
// stations, so a forking polygon produces one polyline per branch.
//
// Degenerate input (fewer than three distinct vertices, near-zero area, or
// a shape yielding no chords) returns an error; callers wrap it in a
// GeometryError scoped to the owning water body.
func ExtractCenterlines(poly geom.Polygon) ([]Centerline, error) {
	if len(poly) == 0 || len(poly[0]) == 0 {
		return nil, errors.New("polygon has no rings")
	}
	verts := distinctVertices(poly)
	if len(verts) < 3 {
		return nil, fmt.Errorf("polygon has %d distinct vertices, need at least 3", len(verts))
	}
	if a := math.Abs(poly.Area()); a < minPolygonArea {
		return nil, fmt.Errorf("polygon area %g is below %g", a, minPolygonArea)
	}

	c, u, err := principalAxis(verts)
	if err != nil {
		return nil, err
	}
	// Perpendicular to the principal axis; (t,s) are axis-aligned
	// coordinates around the vertex centroid.
	w := geom.Point{X: -u.Y, Y: u.X}

	tMin, tMax := math.Inf(1), math.Inf(-1)
	for _, v := range verts {
		t := (v.X-c.X)*u.X + (v.Y-c.Y)*u.Y
		tMin = math.Min(tMin, t)
		tMax = math.Max(tMax, t)
	}
	span := tMax - tMin
	if span <= 0 {
		return nil, errors.New("polygon has zero extent along its principal axis")
	}
	n := int(math.Ceil(span))
	if n < minStations {
		n = minStations
	}
	if n > maxStations {
		n = maxStations
	}
	step := span / float64(n)

	var open, done []*branch
	for k := 0; k < n; k++ {
		t := tMin + (float64(k)+0.5)*step
		ints := crossIntervals(poly, c, u, w, t)
		open, done = linkBranches(open, done, ints, c, u, w, t)
	}
	done = append(done, open...)

	var lines []Centerline
	for _, br := range done {
		if len(br.pts) >= 2 {
			lines = append(lines, Centerline(br.pts))
		}
	}
	if len(lines) == 0 {
		return nil, errors.New("no centerline chords found")
	}
	return lines, nil
}

// principalAxis returns the vertex centroid and the unit eigenvector of
// the vertex covariance with the largest eigenvalue.
func principalAxis(verts []geom.Point) (c, u geom.Point, err error) {
	xs := make([]float64, len(verts))
	ys := make([]float64, len(verts))
	for i, v := range verts {
		xs[i], ys[i] = v.X, v.Y
	}
	c = geom.Point{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil)}

	var sxx, sxy, syy float64
	for i := range xs {
		dx, dy := xs[i]-c.X, ys[i]-c.Y
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}
	m := float64(len(verts) - 1)
	cov := mat.NewSymDense(2, []float64{sxx / m, sxy / m, sxy / m, syy / m})

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return c, u, errors.New("covariance eigendecomposition failed")
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	// Eigenvalues come back in ascending order; the principal direction is
	// the last column.
	u = geom.Point{X: vecs.At(0, 1), Y: vecs.At(1, 1)}
	norm := math.Hypot(u.X, u.Y)
	if norm == 0 {
		return c, u, errors.New("degenerate principal axis")
	}
	u.X /= norm
	u.Y /= norm
	return c, u, nil
}

// interval is one spanned crossing interval at a station, in s coordinates.
type interval struct {
	lo, hi, mid float64
}

// crossIntervals intersects the perpendicular chord at station t with all
// polygon edges (holes included) and pairs the crossings even-odd.
func crossIntervals(poly geom.Polygon, c, u, w geom.Point, t float64) []interval {
	var crossings []float64
	for _, ring := range poly {
		n := len(ring)
		for i := 0; i < n; i++ {
			a, b := ring[i], ring[(i+1)%n]
			ta := (a.X-c.X)*u.X + (a.Y-c.Y)*u.Y
			tb := (b.X-c.X)*u.X + (b.Y-c.Y)*u.Y
			if (ta > t) == (tb > t) || ta == tb {
				continue
			}
			sa := (a.X-c.X)*w.X + (a.Y-c.Y)*w.Y
			sb := (b.X-c.X)*w.X + (b.Y-c.Y)*w.Y
			crossings = append(crossings, sa+(t-ta)*(sb-sa)/(tb-ta))
		}
	}
	sort.Float64s(crossings)
	ints := make([]interval, 0, len(crossings)/2)
	for i := 0; i+1 < len(crossings); i += 2 {
		lo, hi := crossings[i], crossings[i+1]
		ints = append(ints, interval{lo: lo, hi: hi, mid: (lo + hi) / 2})
	}
	return ints
}

type branch struct {
	pts         []geom.Point
	lo, hi, mid float64
}

// linkBranches matches the station's intervals to the branches open at the
// previous station by interval overlap (nearest midpoint on ties).
// Unmatched intervals start new branches; unmatched branches close.
func linkBranches(open, done []*branch, ints []interval, c, u, w geom.Point, t float64) (nextOpen, nextDone []*branch) {
	used := make([]bool, len(open))
	for _, iv := range ints {
		best, bestD := -1, math.Inf(1)
		for i, br := range open {
			if used[i] || iv.lo > br.hi || br.lo > iv.hi {
				continue
			}
			if d := math.Abs(iv.mid - br.mid); d < bestD {
				bestD, best = d, i
			}
		}
		var br *branch
		if best >= 0 {
			br = open[best]
			used[best] = true
		} else {
			br = &branch{}
		}
		br.pts = append(br.pts, geom.Point{
			X: c.X + t*u.X + iv.mid*w.X,
			Y: c.Y + t*u.Y + iv.mid*w.Y,
		})
		br.lo, br.hi, br.mid = iv.lo, iv.hi, iv.mid
		nextOpen = append(nextOpen, br)
	}
	nextDone = done
	for i, br := range open {
		if !used[i] {
			nextDone = append(nextDone, br)
		}
	}
	return nextOpen, nextDone
}

// distinctVertices flattens all rings, dropping consecutive duplicates and
// the closing vertex of each ring.
func distinctVertices(poly geom.Polygon) []geom.Point {
	var out []geom.Point
	for _, ring := range poly {
		for i, v := range ring {
			if i > 0 && v == ring[i-1] {
				continue
			}
			if i == len(ring)-1 && v == ring[0] {
				continue
			}
			out = append(out, v)
		}
	}
	return out
}

// segment is one buffered centerline edge with a pre-expanded bounding box
// for the coarse check.
type segment struct {
	a, b   geom.Point
	bounds geom.Bounds
}

// CenterlineProximity keeps points within a fixed planar distance of any
// centerline branch derived from the configured water bodies.
type CenterlineProximity struct {
	distance float64
	segs     []segment
}

// NewCenterlineProximity derives centerlines for every body and buffers
// them by distance. Bodies whose skeleton extraction fails are skipped and
// reported in the returned GeometryError slice; the filter still covers
// all remaining bodies (partial failure, not fatal). A negative distance
// is a configuration error.
func NewCenterlineProximity(bodies []waterdelen.WaterBody, distance float64) (*CenterlineProximity, []*GeometryError, error) {
	if distance < 0 {
		return nil, nil, fmt.Errorf("buffer distance %g must not be negative", distance)
	}
	cp := &CenterlineProximity{distance: distance}
	var failures []*GeometryError
	for _, wb := range bodies {
		lines, err := ExtractCenterlines(wb.Geom)
		if err != nil {
			failures = append(failures, &GeometryError{WaterBodyID: wb.ID, Err: err})
			continue
		}
		for _, line := range lines {
			for i := 0; i+1 < len(line); i++ {
				cp.segs = append(cp.segs, newSegment(line[i], line[i+1], distance))
			}
		}
	}
	return cp, failures, nil
}

func newSegment(a, b geom.Point, pad float64) segment {
	return segment{a: a, b: b, bounds: geom.Bounds{
		Min: geom.Point{X: math.Min(a.X, b.X) - pad, Y: math.Min(a.Y, b.Y) - pad},
		Max: geom.Point{X: math.Max(a.X, b.X) + pad, Y: math.Max(a.Y, b.Y) + pad},
	}}
}

// Name implements Filter.
func (*CenterlineProximity) Name() string { return "centerline" }

// Segments returns the number of buffered centerline segments.
func (cp *CenterlineProximity) Segments() int { return len(cp.segs) }

// Apply implements Filter: a point survives if its distance to the nearest
// centerline segment of any branch is at most the buffer distance.
func (cp *CenterlineProximity) Apply(pts cloud.PointSet) (cloud.PointSet, error) {
	out := make(cloud.PointSet, 0, len(pts))
	for _, p := range pts {
		if cp.near(geom.Point{X: p.X, Y: p.Y}) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (cp *CenterlineProximity) near(p geom.Point) bool {
	for _, s := range cp.segs {
		if p.X < s.bounds.Min.X || p.X > s.bounds.Max.X ||
			p.Y < s.bounds.Min.Y || p.Y > s.bounds.Max.Y {
			continue
		}
		if pointSegmentDistance(p, s.a, s.b) <= cp.distance {
			return true
		}
	}
	return false
}

// pointSegmentDistance returns the planar distance from p to segment ab.
func pointSegmentDistance(p, a, b geom.Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / l2
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return math.Hypot(p.X-(a.X+t*dx), p.Y-(a.Y+t*dy))
}
