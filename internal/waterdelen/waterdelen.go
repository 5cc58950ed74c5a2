// Package waterdelen models water-body polygons ("waterdelen" in the Dutch
// BGT registry) and retrieves them from the PDOK download service.
//
// Each water body carries an identifier, a ring geometry in a planar
// projected reference system, and an optional validity interval. The
// geometry type is ctessum/geom so the rest of the pipeline can run
// containment tests and rtree lookups directly on it.
package waterdelen

import (
	"fmt"
	"time"

	"github.com/ctessum/geom"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// WaterBody is one polygon record from the geometry provider.
// ValidTo == nil means the record is open-ended.
type WaterBody struct {
	ID        string
	Geom      geom.Polygon
	ValidFrom *time.Time
	ValidTo   *time.Time
}

// Bounds returns the bounding box of the polygon.
func (wb WaterBody) Bounds() *geom.Bounds { return wb.Geom.Bounds() }

// ValidAt reports whether the record is valid at t using the half-open
// interval rule valid_from <= t < valid_to. A nil ValidFrom means the
// record has always existed.
func (wb WaterBody) ValidAt(t time.Time) bool {
	if wb.ValidFrom != nil && t.Before(*wb.ValidFrom) {
		return false
	}
	if wb.ValidTo != nil && !t.Before(*wb.ValidTo) {
		return false
	}
	return true
}

// FilterValidAt returns the subset of bodies valid at the reference date.
// A nil date disables narrowing and returns bodies unchanged.
func FilterValidAt(bodies []WaterBody, at *time.Time) []WaterBody {
	if at == nil {
		return bodies
	}
	out := make([]WaterBody, 0, len(bodies))
	for _, wb := range bodies {
		if wb.ValidAt(*at) {
			out = append(out, wb)
		}
	}
	return out
}

// Property names used by the BGT waterdeel feature collections.
const (
	propLocalID    = "lokaalID"
	propBeginTijd  = "objectBeginTijd"
	propEindTijd   = "objectEindTijd"
	propDateLayout = "2006-01-02"
)

// FromGeoJSON decodes a GeoJSON feature collection into water-body records.
// Polygon and MultiPolygon features are accepted; MultiPolygon members
// become separate records sharing the feature identifier. Features with
// other geometry types are skipped.
func FromGeoJSON(data []byte) ([]WaterBody, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode waterdeel feature collection: %w", err)
	}
	var bodies []WaterBody
	for i, f := range fc.Features {
		id := featureID(f, i)
		from, to, err := validity(f)
		if err != nil {
			return nil, fmt.Errorf("waterdeel %s: %w", id, err)
		}
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			bodies = append(bodies, WaterBody{ID: id, Geom: polygonFromOrb(g), ValidFrom: from, ValidTo: to})
		case orb.MultiPolygon:
			for j, p := range g {
				member := id
				if len(g) > 1 {
					member = fmt.Sprintf("%s/%d", id, j)
				}
				bodies = append(bodies, WaterBody{ID: member, Geom: polygonFromOrb(p), ValidFrom: from, ValidTo: to})
			}
		}
	}
	return bodies, nil
}

func featureID(f *geojson.Feature, ordinal int) string {
	if s, ok := f.Properties[propLocalID].(string); ok && s != "" {
		return s
	}
	if f.ID != nil {
		return fmt.Sprintf("%v", f.ID)
	}
	return fmt.Sprintf("feature-%d", ordinal)
}

func validity(f *geojson.Feature) (from, to *time.Time, err error) {
	if s, ok := f.Properties[propBeginTijd].(string); ok && s != "" {
		t, err := time.Parse(propDateLayout, s)
		if err != nil {
			return nil, nil, fmt.Errorf("parse %s: %w", propBeginTijd, err)
		}
		from = &t
	}
	if s, ok := f.Properties[propEindTijd].(string); ok && s != "" {
		t, err := time.Parse(propDateLayout, s)
		if err != nil {
			return nil, nil, fmt.Errorf("parse %s: %w", propEindTijd, err)
		}
		to = &t
	}
	return from, to, nil
}

func polygonFromOrb(p orb.Polygon) geom.Polygon {
	poly := make(geom.Polygon, len(p))
	for i, ring := range p {
		r := make([]geom.Point, len(ring))
		for j, pt := range ring {
			r[j] = geom.Point{X: pt[0], Y: pt[1]}
		}
		poly[i] = r
	}
	return poly
}
