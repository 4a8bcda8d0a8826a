package geowarp

import (
	"fmt"
	"math"

	"github.com/wroge/wgs84"
)

// Family classifies a projection by the shape of its distortion, which is
// what decides how much of the globe can safely pass through it.
type Family int

const (
	// FamilyGeographic is a plain lon/lat axis pair, periodic in longitude.
	FamilyGeographic Family = iota
	// FamilyMercator covers normal-aspect cylindrical projections. The
	// poles are unreachable but any longitude projects.
	FamilyMercator
	// FamilyTransverseMercator covers zoned projections such as UTM,
	// usable only within a quarter turn of the central meridian.
	FamilyTransverseMercator
	// FamilyLambertConformal covers conic projections, usable in a
	// latitude band around the origin parallel.
	FamilyLambertConformal
	// FamilyPolarAzimuthal covers pole-centered projections, usable in
	// one hemisphere only.
	FamilyPolarAzimuthal
	// FamilyGeneric is anything the finder has no valid-area rule for.
	FamilyGeneric
)

func (f Family) String() string {
	switch f {
	case FamilyGeographic:
		return "geographic"
	case FamilyMercator:
		return "mercator"
	case FamilyTransverseMercator:
		return "transverse-mercator"
	case FamilyLambertConformal:
		return "lambert-conformal"
	case FamilyPolarAzimuthal:
		return "polar-azimuthal"
	}
	return "generic"
}

const (
	wgs84SemiMajor = 6378137.0
	// easeSphereRadius is the authalic sphere used by the EASE grids.
	easeSphereRadius = 6371228.0
	// webMercatorWorld is half the width of the projected world in meters.
	webMercatorWorld = math.Pi * wgs84SemiMajor
	degToRad         = math.Pi / 180
	radToDeg         = 180 / math.Pi
)

// CRS describes a coordinate reference system well enough for the
// projection handlers: which family it belongs to, where its natural
// origin sits, and whether its horizontal axis wraps around the globe.
// The actual coordinate math is delegated to the wgs84 package.
type CRS struct {
	Code             int
	Name             string
	Family           Family
	CentralMeridian  float64
	LatitudeOfOrigin float64
	North            bool

	period             float64
	worldMin, worldMax float64
	geo                wgs84.CoordinateReferenceSystem
}

func (c *CRS) String() string {
	if c == nil {
		return "EPSG:0"
	}
	return fmt.Sprintf("EPSG:%d", c.Code)
}

// IsGeographic reports whether coordinates are lon/lat degrees.
func (c *CRS) IsGeographic() bool { return c.Family == FamilyGeographic }

// Periodic reports whether the horizontal axis repeats with a fixed period,
// so that x and x+Period() address the same meridian.
func (c *CRS) Periodic() bool { return c != nil && c.period > 0 }

// Period returns the horizontal period in CRS units, or 0 when the axis
// does not wrap.
func (c *CRS) Period() float64 {
	if c == nil {
		return 0
	}
	return c.period
}

// PeriodRange returns the canonical horizontal range, e.g. [-180,180] for
// geographic systems. Only meaningful when Periodic() is true.
func (c *CRS) PeriodRange() (min, max float64) { return c.worldMin, c.worldMax }

// Equal reports whether two systems address coordinates identically.
func (c *CRS) Equal(o *CRS) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.Code == o.Code
}

// ErrUnknownCRS is returned by ResolveCRS for codes outside the registry.
var ErrUnknownCRS = fmt.Errorf("geowarp: unknown CRS code")

// ResolveCRS looks up an EPSG code. The registry carries the systems the
// renderer actually meets: geographic WGS84, the two Mercators, the UTM
// zones, the polar stereographic and EASE grids, plus a handful of named
// national systems.
func ResolveCRS(code int) (*CRS, error) {
	switch {
	case code == 4326 || code == 4230 || code == 4267 || code == 4269:
		return newGeographicCRS(code), nil
	case code == 3857 || code == 900913:
		return newMercatorCRS(code, "WGS 84 / Pseudo-Mercator"), nil
	case code == 3395:
		return newMercatorCRS(code, "WGS 84 / World Mercator"), nil
	case code >= 32601 && code <= 32660:
		return newUTMCRS(code, code-32600, true), nil
	case code >= 32701 && code <= 32760:
		return newUTMCRS(code, code-32700, false), nil
	case code == 3460:
		// Fiji 1986 / Fiji Map Grid, a wide transverse Mercator
		// straddling the antimeridian.
		return newTransverseMercatorCRS(code, "Fiji 1986 / Fiji Map Grid",
			178.75, -17, 0.99985, 2000000, 4000000), nil
	case code == 5041:
		return newPolarStereographicCRS(code, "WGS 84 / UPS North", true), nil
	case code == 5042:
		return newPolarStereographicCRS(code, "WGS 84 / UPS South", false), nil
	case code == 3408:
		return newEASEGridCRS(code, "NSIDC EASE-Grid North", true), nil
	case code == 3409:
		return newEASEGridCRS(code, "NSIDC EASE-Grid South", false), nil
	case code == 2062:
		// Madrid 1870 / Spain, Lambert conic around 40N.
		return newLambertConformalCRS(code, "Madrid 1870 (Madrid) / Spain",
			-3.688, 40), nil
	case code == 2194:
		// American Samoa, Lambert conic in the southern hemisphere.
		return newLambertConformalCRS(code, "American Samoa 1962 / Lambert",
			-170, -14.2666667), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownCRS, code)
}

// NewGenericCRS wraps an unrecognized code so a dataset can still be
// read in its native system. No transform path exists to or from it.
func NewGenericCRS(code int) *CRS {
	return &CRS{Code: code, Name: "Unknown projected system", Family: FamilyGeneric}
}

// MustResolveCRS is ResolveCRS for codes known at compile time.
func MustResolveCRS(code int) *CRS {
	c, err := ResolveCRS(code)
	if err != nil {
		panic(err)
	}
	return c
}

func newGeographicCRS(code int) *CRS {
	return &CRS{
		Code:     code,
		Name:     "Geographic lon/lat",
		Family:   FamilyGeographic,
		period:   360,
		worldMin: -180,
		worldMax: 180,
		geo:      wgs84.WGS84().LonLat(),
	}
}

func newMercatorCRS(code int, name string) *CRS {
	return &CRS{
		Code:     code,
		Name:     name,
		Family:   FamilyMercator,
		period:   2 * webMercatorWorld,
		worldMin: -webMercatorWorld,
		worldMax: webMercatorWorld,
		geo:      sphericalMercator{geographic: wgs84.WGS84().LonLat()},
	}
}

func newUTMCRS(code, zone int, north bool) *CRS {
	lon := float64(zone)*6 - 183
	falseNorthing := 0.0
	hemi := "N"
	if !north {
		falseNorthing = 10000000
		hemi = "S"
	}
	c := newTransverseMercatorCRS(code,
		fmt.Sprintf("WGS 84 / UTM zone %d%s", zone, hemi),
		lon, 0, 0.9996, 500000, falseNorthing)
	c.North = north
	return c
}

func newTransverseMercatorCRS(code int, name string, lon, lat, scale, fe, fn float64) *CRS {
	return &CRS{
		Code:             code,
		Name:             name,
		Family:           FamilyTransverseMercator,
		CentralMeridian:  lon,
		LatitudeOfOrigin: lat,
		North:            lat >= 0,
		geo:              wgs84.WGS84().TransverseMercator(lon, lat, scale, fe, fn),
	}
}

func newPolarStereographicCRS(code int, name string, north bool) *CRS {
	lat := 90.0
	if !north {
		lat = -90
	}
	return &CRS{
		Code:             code,
		Name:             name,
		Family:           FamilyPolarAzimuthal,
		LatitudeOfOrigin: lat,
		North:            north,
		geo: polarStereographic{
			geographic: wgs84.WGS84().LonLat(),
			north:      north,
			scale:      0.994,
			falseE:     2000000,
			falseN:     2000000,
		},
	}
}

func newEASEGridCRS(code int, name string, north bool) *CRS {
	lat := 90.0
	if !north {
		lat = -90
	}
	return &CRS{
		Code:             code,
		Name:             name,
		Family:           FamilyPolarAzimuthal,
		LatitudeOfOrigin: lat,
		North:            north,
		geo:              polarEqualArea{geographic: wgs84.WGS84().LonLat(), north: north},
	}
}

func newLambertConformalCRS(code int, name string, lon, lat float64) *CRS {
	return &CRS{
		Code:             code,
		Name:             name,
		Family:           FamilyLambertConformal,
		CentralMeridian:  lon,
		LatitudeOfOrigin: lat,
		North:            lat >= 0,
		geo:              lambertConformal{geographic: wgs84.WGS84().LonLat(), lon0: lon, lat0: lat},
	}
}

// The projections below are spherical forms plugged into the wgs84
// geocentric pipeline. They exist so the registry can hand out systems the
// library does not ship natively; for the handlers only the shape of the
// distortion matters, not ellipsoidal accuracy.

var (
	_ wgs84.CoordinateReferenceSystem = sphericalMercator{}
	_ wgs84.CoordinateReferenceSystem = polarStereographic{}
	_ wgs84.CoordinateReferenceSystem = polarEqualArea{}
	_ wgs84.CoordinateReferenceSystem = lambertConformal{}
)

type sphericalMercator struct {
	geographic wgs84.CoordinateReferenceSystem
}

// Contains reports the lon/lat domain the projection maps cleanly. The
// handlers guard the domain themselves through valid areas; this exists
// for the wgs84 Area contract.
func (m sphericalMercator) Contains(lon, lat float64) bool {
	return lat > -90 && lat < 90
}

func (m sphericalMercator) ToWGS84(e, n, h float64) (x, y, z float64) {
	lon := e / wgs84SemiMajor * radToDeg
	lat := (2*math.Atan(math.Exp(n/wgs84SemiMajor)) - math.Pi/2) * radToDeg
	return m.geographic.ToWGS84(lon, lat, h)
}

func (m sphericalMercator) FromWGS84(x, y, z float64) (a, b, c float64) {
	lon, lat, h := m.geographic.FromWGS84(x, y, z)
	if lat > 89.9999 {
		lat = 89.9999
	} else if lat < -89.9999 {
		lat = -89.9999
	}
	e := wgs84SemiMajor * lon * degToRad
	n := wgs84SemiMajor * math.Log(math.Tan(math.Pi/4+lat*degToRad/2))
	return e, n, h
}

type polarStereographic struct {
	geographic wgs84.CoordinateReferenceSystem
	north      bool
	scale      float64
	falseE     float64
	falseN     float64
}

func (p polarStereographic) Contains(lon, lat float64) bool {
	if p.north {
		return lat >= 0
	}
	return lat <= 0
}

func (p polarStereographic) ToWGS84(e, n, h float64) (x, y, z float64) {
	de, dn := e-p.falseE, n-p.falseN
	rho := math.Hypot(de, dn)
	t := rho / (2 * wgs84SemiMajor * p.scale)
	var lon, lat float64
	if p.north {
		lat = (math.Pi/2 - 2*math.Atan(t)) * radToDeg
		lon = math.Atan2(de, -dn) * radToDeg
	} else {
		lat = -(math.Pi/2 - 2*math.Atan(t)) * radToDeg
		lon = math.Atan2(de, dn) * radToDeg
	}
	return p.geographic.ToWGS84(lon, lat, h)
}

func (p polarStereographic) FromWGS84(x, y, z float64) (a, b, c float64) {
	lon, lat, h := p.geographic.FromWGS84(x, y, z)
	lr, fr := lon*degToRad, lat*degToRad
	var rho, e, n float64
	if p.north {
		rho = 2 * wgs84SemiMajor * p.scale * math.Tan(math.Pi/4-fr/2)
		e = p.falseE + rho*math.Sin(lr)
		n = p.falseN - rho*math.Cos(lr)
	} else {
		rho = 2 * wgs84SemiMajor * p.scale * math.Tan(math.Pi/4+fr/2)
		e = p.falseE + rho*math.Sin(lr)
		n = p.falseN + rho*math.Cos(lr)
	}
	return e, n, h
}

type polarEqualArea struct {
	geographic wgs84.CoordinateReferenceSystem
	north      bool
}

func (p polarEqualArea) Contains(lon, lat float64) bool {
	if p.north {
		return lat >= 0
	}
	return lat <= 0
}

func (p polarEqualArea) ToWGS84(e, n, h float64) (x, y, z float64) {
	rho := math.Hypot(e, n)
	s := rho / (2 * easeSphereRadius)
	if s > 1 {
		s = 1
	}
	var lon, lat float64
	if p.north {
		lat = (math.Pi/2 - 2*math.Asin(s)) * radToDeg
		lon = math.Atan2(e, -n) * radToDeg
	} else {
		lat = (2*math.Asin(s) - math.Pi/2) * radToDeg
		lon = math.Atan2(e, n) * radToDeg
	}
	return p.geographic.ToWGS84(lon, lat, h)
}

func (p polarEqualArea) FromWGS84(x, y, z float64) (a, b, c float64) {
	lon, lat, h := p.geographic.FromWGS84(x, y, z)
	lr, fr := lon*degToRad, lat*degToRad
	var rho, e, n float64
	if p.north {
		rho = 2 * easeSphereRadius * math.Sin(math.Pi/4-fr/2)
		e = rho * math.Sin(lr)
		n = -rho * math.Cos(lr)
	} else {
		rho = 2 * easeSphereRadius * math.Sin(math.Pi/4+fr/2)
		e = rho * math.Sin(lr)
		n = rho * math.Cos(lr)
	}
	return e, n, h
}

type lambertConformal struct {
	geographic wgs84.CoordinateReferenceSystem
	lon0       float64
	lat0       float64
}

// The cone is singular at the parallel antipodal to the origin.
func (l lambertConformal) Contains(lon, lat float64) bool {
	if l.lat0 >= 0 {
		return lat > -90
	}
	return lat < 90
}

func (l lambertConformal) cone() (n, f, rho0 float64) {
	f0 := l.lat0 * degToRad
	n = math.Sin(f0)
	f = math.Cos(f0) * math.Pow(math.Tan(math.Pi/4+f0/2), n) / n
	rho0 = wgs84SemiMajor * f / math.Pow(math.Tan(math.Pi/4+f0/2), n)
	return n, f, rho0
}

func (l lambertConformal) ToWGS84(e, n, h float64) (x, y, z float64) {
	cn, cf, rho0 := l.cone()
	dy := rho0 - n
	rho := math.Hypot(e, dy)
	if cn < 0 {
		rho = -rho
	}
	theta := math.Atan2(e, dy)
	lat := (2*math.Atan(math.Pow(wgs84SemiMajor*cf/rho, 1/cn)) - math.Pi/2) * radToDeg
	lon := l.lon0 + theta/cn*radToDeg
	return l.geographic.ToWGS84(lon, lat, h)
}

func (l lambertConformal) FromWGS84(x, y, z float64) (a, b, c float64) {
	lon, lat, h := l.geographic.FromWGS84(x, y, z)
	cn, cf, rho0 := l.cone()
	fr := lat * degToRad
	rho := wgs84SemiMajor * cf / math.Pow(math.Tan(math.Pi/4+fr/2), cn)
	theta := cn * (lon - l.lon0) * degToRad
	return rho * math.Sin(theta), rho0 - rho*math.Cos(theta), h
}
