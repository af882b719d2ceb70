package grid

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
	"github.com/ctessum/geom/proj"
	"github.com/im7mortal/UTM"
)

// AutoCRS selects the UTM zone containing the domain centre.
const AutoCRS = "auto"

// WGS84 is the geographic CRS of domain rectangles and most source catalogs.
const WGS84 = "EPSG:4326"

// metersPerDegree converts a metre resolution to degrees for geographic targets.
const metersPerDegree = 111319.49079327357

// CRS is a registered coordinate reference system.
type CRS struct {
	Code       string
	Definition string // proj4
	Geographic bool
}

var registry = map[string]CRS{
	WGS84: {
		Code:       WGS84,
		Definition: "+proj=longlat +datum=WGS84 +no_defs",
		Geographic: true,
	},
	"EPSG:3338": {
		Code:       "EPSG:3338",
		Definition: "+proj=aea +lat_1=55 +lat_2=65 +lat_0=50 +lon_0=-154 +x_0=0 +y_0=0 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs",
	},
	"EPSG:5070": {
		Code:       "EPSG:5070",
		Definition: "+proj=aea +lat_1=29.5 +lat_2=45.5 +lat_0=23 +lon_0=-96 +x_0=0 +y_0=0 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs",
	},
}

// NormalizeCode upper-cases a code and adds the EPSG authority when omitted.
func NormalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if _, err := strconv.Atoi(code); err == nil {
		return "EPSG:" + code
	}
	return code
}

// LookupCRS returns the registered CRS for an EPSG code. WGS84 UTM zones
// (EPSG:326NN north, EPSG:327NN south) are derived on demand.
func LookupCRS(code string) (CRS, error) {
	code = NormalizeCode(code)
	if c, ok := registry[code]; ok {
		return c, nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(code, "EPSG:"))
	if err != nil || !strings.HasPrefix(code, "EPSG:") {
		return CRS{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedCRS, code)
	}
	switch {
	case n > 32600 && n <= 32660:
		return utmCRS(n-32600, true), nil
	case n > 32700 && n <= 32760:
		return utmCRS(n-32700, false), nil
	}
	return CRS{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedCRS, code)
}

func utmCRS(zone int, northern bool) CRS {
	base := 32600
	def := fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84 +units=m +no_defs", zone)
	if !northern {
		base = 32700
		def = fmt.Sprintf("+proj=utm +zone=%d +south +datum=WGS84 +units=m +no_defs", zone)
	}
	return CRS{Code: fmt.Sprintf("EPSG:%d", base+zone), Definition: def}
}

// ResolveCode turns "auto" into the UTM zone of the domain centre and
// normalizes every other code.
func ResolveCode(code string, r domain.Rect) (string, error) {
	if strings.EqualFold(strings.TrimSpace(code), AutoCRS) {
		return UTMCodeFor(r)
	}
	c, err := LookupCRS(code)
	if err != nil {
		return "", err
	}
	return c.Code, nil
}

// UTMCodeFor returns the EPSG code of the UTM zone containing the centre of r.
func UTMCodeFor(r domain.Rect) (string, error) {
	lat, long := r.Center()
	northern := lat >= 0
	_, _, zone, _, err := UTM.FromLatLon(lat, long, northern)
	if err != nil {
		return "", fmt.Errorf("utm zone for %s: %w", r, err)
	}
	return utmCRS(zone, northern).Code, nil
}

// NewTransform returns a coordinate transform from src to dst.
func NewTransform(src, dst CRS) (proj.Transformer, error) {
	if src.Code == dst.Code {
		return func(x, y float64) (float64, float64, error) { return x, y, nil }, nil
	}
	srcSR, err := proj.Parse(src.Definition)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", src.Code, err)
	}
	dstSR, err := proj.Parse(dst.Definition)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", dst.Code, err)
	}
	t, err := srcSR.NewTransform(dstSR)
	if err != nil {
		return nil, fmt.Errorf("transform %s -> %s: %w", src.Code, dst.Code, err)
	}
	return t, nil
}

// PixelSize converts a metre resolution into CRS units.
func (c CRS) PixelSize(meters float64) float64 {
	if c.Geographic {
		return meters / metersPerDegree
	}
	return meters
}
