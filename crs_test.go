package geowarp

import (
	"errors"
	"math"
	"testing"
)

func TestResolveCRS(t *testing.T) {
	tests := []struct {
		code     int
		family   Family
		periodic bool
	}{
		{4326, FamilyGeographic, true},
		{4269, FamilyGeographic, true},
		{3857, FamilyMercator, true},
		{900913, FamilyMercator, true},
		{3395, FamilyMercator, true},
		{32601, FamilyTransverseMercator, false},
		{32660, FamilyTransverseMercator, false},
		{32732, FamilyTransverseMercator, false},
		{3460, FamilyTransverseMercator, false},
		{5041, FamilyPolarAzimuthal, false},
		{5042, FamilyPolarAzimuthal, false},
		{3408, FamilyPolarAzimuthal, false},
		{2062, FamilyLambertConformal, false},
		{2194, FamilyLambertConformal, false},
	}
	for _, tt := range tests {
		crs, err := ResolveCRS(tt.code)
		if err != nil {
			t.Errorf("ResolveCRS(%d): %v", tt.code, err)
			continue
		}
		if crs.Code != tt.code {
			t.Errorf("ResolveCRS(%d).Code = %d", tt.code, crs.Code)
		}
		if crs.Family != tt.family {
			t.Errorf("ResolveCRS(%d).Family = %v, want %v", tt.code, crs.Family, tt.family)
		}
		if crs.Periodic() != tt.periodic {
			t.Errorf("ResolveCRS(%d).Periodic() = %v, want %v", tt.code, crs.Periodic(), tt.periodic)
		}
	}
}

func TestResolveCRSUnknown(t *testing.T) {
	_, err := ResolveCRS(99999)
	if !errors.Is(err, ErrUnknownCRS) {
		t.Fatalf("expected ErrUnknownCRS, got %v", err)
	}
}

func TestUTMCentralMeridian(t *testing.T) {
	tests := []struct {
		code  int
		lon   float64
		north bool
	}{
		{32601, -177, true},
		{32632, 9, true},
		{32660, 177, true},
		{32702, -171, false},
	}
	for _, tt := range tests {
		crs := MustResolveCRS(tt.code)
		if crs.CentralMeridian != tt.lon {
			t.Errorf("EPSG:%d central meridian = %v, want %v", tt.code, crs.CentralMeridian, tt.lon)
		}
		if crs.North != tt.north {
			t.Errorf("EPSG:%d north = %v, want %v", tt.code, crs.North, tt.north)
		}
	}
}

func TestMercatorPeriod(t *testing.T) {
	crs := MustResolveCRS(3857)
	want := 2 * math.Pi * 6378137
	if math.Abs(crs.Period()-want) > 1 {
		t.Errorf("period = %v, want %v", crs.Period(), want)
	}
	min, max := crs.PeriodRange()
	if min >= 0 || max <= 0 || max+min != 0 {
		t.Errorf("period range [%v, %v] not centered on zero", min, max)
	}
}

func TestGeographicPeriodRange(t *testing.T) {
	crs := MustResolveCRS(4326)
	min, max := crs.PeriodRange()
	if min != -180 || max != 180 {
		t.Errorf("period range = [%v, %v], want [-180, 180]", min, max)
	}
	if crs.Period() != 360 {
		t.Errorf("period = %v, want 360", crs.Period())
	}
}

func TestCRSEqual(t *testing.T) {
	a := MustResolveCRS(4326)
	b := MustResolveCRS(4326)
	c := MustResolveCRS(3857)
	if !a.Equal(b) {
		t.Error("two EPSG:4326 instances should be equal")
	}
	if a.Equal(c) {
		t.Error("EPSG:4326 should not equal EPSG:3857")
	}
	var nilCRS *CRS
	if a.Equal(nilCRS) {
		t.Error("CRS should not equal nil")
	}
	if !nilCRS.Equal(nil) {
		t.Error("nil should equal nil")
	}
}

func TestGenericCRSHasNoTransform(t *testing.T) {
	g := NewGenericCRS(29900)
	if g.Family != FamilyGeneric {
		t.Fatalf("family = %v, want generic", g.Family)
	}
	_, err := FindTransform(MustResolveCRS(4326), g)
	if !errors.Is(err, ErrNoTransform) {
		t.Fatalf("expected ErrNoTransform, got %v", err)
	}
}

func TestProjectionContains(t *testing.T) {
	merc := sphericalMercator{}
	if !merc.Contains(200, 45) {
		t.Error("a cylinder maps any longitude")
	}
	if merc.Contains(0, 90) || merc.Contains(0, -90) {
		t.Error("the poles are outside a cylinder's domain")
	}

	north := polarStereographic{north: true}
	south := polarEqualArea{north: false}
	if !north.Contains(0, 45) || north.Contains(0, -45) {
		t.Error("a north polar projection maps the northern hemisphere only")
	}
	if !south.Contains(0, -45) || south.Contains(0, 45) {
		t.Error("a south polar projection maps the southern hemisphere only")
	}

	lcc := lambertConformal{lat0: 40}
	if !lcc.Contains(0, 0) || lcc.Contains(0, -90) {
		t.Error("a north cone breaks down at the south pole only")
	}
}

func TestFijiMapGrid(t *testing.T) {
	crs := MustResolveCRS(3460)
	if crs.CentralMeridian != 178.75 {
		t.Errorf("central meridian = %v, want 178.75", crs.CentralMeridian)
	}
	if crs.LatitudeOfOrigin != -17 {
		t.Errorf("latitude of origin = %v, want -17", crs.LatitudeOfOrigin)
	}
	if crs.North {
		t.Error("Fiji grid should be a southern-hemisphere system")
	}
}
