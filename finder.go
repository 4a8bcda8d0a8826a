package geowarp

import (
	"fmt"
	"math"
)

// Latitude kept clear of the poles on cylindrical projections, where the
// pole maps to infinity.
const mercatorMaxLatitude = 89.9999

// conicLatitudeBand is how far from the origin parallel a conic
// projection is trusted before distortion runs away.
const conicLatitudeBand = 44.0

// tmLongitudeBand is how far from the central meridian a transverse
// cylinder is trusted. A quarter turn on each side keeps the zone well
// short of the antipodal meridian where the inverse breaks down.
const tmLongitudeBand = 90.0

// FindHandler builds the projection handler for one rendering request.
// The rendering envelope carries the map CRS; source is the system the
// data arrives in; wrap asks for a continuous map across the dateline,
// honored only on projections whose horizontal axis is periodic.
func FindHandler(renderingEnvelope Envelope, source *CRS, wrap bool) (*ProjectionHandler, error) {
	target := renderingEnvelope.CRS
	if target == nil {
		return nil, fmt.Errorf("geowarp: rendering envelope has no CRS")
	}
	if source == nil {
		return nil, fmt.Errorf("geowarp: nil source CRS")
	}
	return NewProjectionHandler(renderingEnvelope, source,
		validAreaFor(target), wrap && target.Periodic())
}

// validAreaFor returns the lon/lat envelope inside which the projection
// behaves, or nil when the whole globe projects cleanly.
func validAreaFor(target *CRS) *Envelope {
	world := MustResolveCRS(4326)
	switch target.Family {
	case FamilyMercator:
		// Any longitude projects on a normal cylinder; only the poles
		// blow up. Longitude is left unbounded so dateline-crossing
		// envelopes survive the clip.
		va := NewEnvelope(-math.MaxFloat64, -mercatorMaxLatitude,
			math.MaxFloat64, mercatorMaxLatitude, world)
		return &va
	case FamilyTransverseMercator:
		va := NewEnvelope(target.CentralMeridian-tmLongitudeBand, -90,
			target.CentralMeridian+tmLongitudeBand, 90, world)
		return &va
	case FamilyLambertConformal:
		minLat, maxLat := target.LatitudeOfOrigin-conicLatitudeBand, 90.0
		if !target.North {
			minLat, maxLat = -90, target.LatitudeOfOrigin+conicLatitudeBand
		}
		va := NewEnvelope(-179.9, minLat, 179.9, maxLat, world)
		return &va
	case FamilyPolarAzimuthal:
		minLat, maxLat := 0.0, 90.0
		if !target.North {
			minLat, maxLat = -90, 0
		}
		va := NewEnvelope(-180, minLat, 180, maxLat, world)
		return &va
	}
	return nil
}
