package geospatial

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// WKT for the CRS the GeoPackage standard requires in every file.
const wgs84WKT = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`

// CRS describes a coordinate reference system as PostGIS records it in
// spatial_ref_sys. Coordinates are converted by PostGIS, never in Go.
type CRS struct {
	SRID     int
	AuthName string
	AuthCode int
	Proj4    string
	WKT      string

	// Registered is true when SRID has a spatial_ref_sys row, so PostGIS can
	// transform by SRID. Otherwise the definition string is used.
	Registered bool

	// Geographic is true when coordinates are longitude/latitude degrees.
	Geographic bool

	// ToMeter is the length of one linear unit in metres (1 when geographic).
	ToMeter float64
}

var unitToMeter = map[string]float64{
	"m":      1,
	"km":     1000,
	"ft":     0.3048,
	"us-ft":  1200.0 / 3937.0,
	"yd":     0.9144,
	"us-yd":  3600.0 / 3937.0,
	"mi":     1609.344,
	"us-mi":  6336000.0 / 3937.0,
	"ind-ft": 0.30479841,
}

// NewCRS builds a CRS from its spatial_ref_sys fields.
func NewCRS(srid int, authName string, authCode int, proj4, wkt string) CRS {
	c := CRS{
		SRID:       srid,
		AuthName:   authName,
		AuthCode:   authCode,
		Proj4:      strings.TrimSpace(proj4),
		WKT:        strings.TrimSpace(wkt),
		Registered: srid != 0,
	}
	c.classify()
	return c
}

// DefinitionCRS wraps a proj4 definition that has no SRID.
func DefinitionCRS(proj4 string) CRS {
	c := CRS{Proj4: strings.TrimSpace(proj4)}
	c.classify()
	return c
}

var builtinEPSG = map[int]string{
	4326: "+proj=longlat +datum=WGS84 +no_defs",
	4269: "+proj=longlat +datum=NAD83 +no_defs",
	4258: "+proj=longlat +ellps=GRS80 +no_defs",
	3857: "+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +nadgrids=@null +wktext +no_defs",
	3395: "+proj=merc +lon_0=0 +k=1 +x_0=0 +y_0=0 +datum=WGS84 +units=m +no_defs",
}

// CRSFromEPSG builds a CRS for a well-known EPSG code when spatial_ref_sys
// has no row for it. The result is not Registered, so PostGIS converts it
// by its proj4 definition. Only EPSG:4326 carries WKT.
func CRSFromEPSG(code int) (CRS, bool) {
	def, ok := builtinEPSG[code]
	switch {
	case ok:
	case code >= 32601 && code <= 32660:
		def = fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84 +units=m +no_defs", code-32600)
	case code >= 32701 && code <= 32760:
		def = fmt.Sprintf("+proj=utm +zone=%d +south +datum=WGS84 +units=m +no_defs", code-32700)
	case code >= 26901 && code <= 26923:
		def = fmt.Sprintf("+proj=utm +zone=%d +datum=NAD83 +units=m +no_defs", code-26900)
	default:
		return CRS{}, false
	}
	c := CRS{SRID: code, AuthName: "EPSG", AuthCode: code, Proj4: def}
	if code == 4326 {
		c.WKT = wgs84WKT
	}
	c.classify()
	return c, true
}

var (
	wktUnit       = regexp.MustCompile(`(?i)UNIT\[\s*"[^"]*"\s*,\s*([0-9.eE+-]+)`)
	wktGeographic = regexp.MustCompile(`(?i)^\s*(GEOGCS|GEOGCRS|GEODCRS|GEOGRAPHICCRS)\[`)
)

// classify sets Geographic and ToMeter from the proj4 definition, or from the
// WKT when there is none.
func (c *CRS) classify() {
	c.Geographic, c.ToMeter = false, 1
	if c.Proj4 != "" {
		params := map[string]string{}
		for _, tok := range strings.Fields(c.Proj4) {
			k, v, _ := strings.Cut(strings.TrimPrefix(tok, "+"), "=")
			params[k] = v
		}
		switch params["proj"] {
		case "longlat", "latlong", "lonlat", "latlon":
			c.Geographic = true
			return
		}
		if v, ok := params["to_meter"]; ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
				c.ToMeter = f
			}
			return
		}
		if f, ok := unitToMeter[params["units"]]; ok {
			c.ToMeter = f
		}
		return
	}
	if wktGeographic.MatchString(c.WKT) {
		c.Geographic = true
		return
	}
	// The projected CRS's own linear unit follows its PROJECTION and
	// PARAMETERs, so it is the last UNIT in the text.
	if m := wktUnit.FindAllStringSubmatch(c.WKT, -1); len(m) > 0 {
		if f, err := strconv.ParseFloat(m[len(m)-1][1], 64); err == nil && f > 0 {
			c.ToMeter = f
		}
	}
}

// Known reports whether anything is known about the CRS.
func (c CRS) Known() bool {
	return c.SRID != 0 || c.Proj4 != "" || c.WKT != ""
}

// Authority returns "AUTH:CODE", or "" when there is no authority.
func (c CRS) Authority() string {
	if c.AuthName == "" || c.AuthCode == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.AuthName, c.AuthCode)
}

// Definition returns the text PostGIS accepts for an unregistered CRS: the
// proj4 string, the authority code or the WKT, in that order.
func (c CRS) Definition() string {
	switch {
	case c.Proj4 != "":
		return c.Proj4
	case c.Authority() != "":
		return c.Authority()
	}
	return c.WKT
}

// Equal reports whether two CRSs are the same system. SRIDs decide when both
// are set; otherwise the definitions are compared.
func (c CRS) Equal(o CRS) bool {
	if c.SRID != 0 && o.SRID != 0 {
		return c.SRID == o.SRID
	}
	if c.Proj4 != "" || o.Proj4 != "" {
		return c.Proj4 == o.Proj4
	}
	return c.WKT == o.WKT
}

func (c CRS) String() string {
	if a := c.Authority(); a != "" {
		return a
	}
	if c.SRID != 0 {
		return fmt.Sprintf("SRID:%d", c.SRID)
	}
	if c.Proj4 != "" {
		return c.Proj4
	}
	return "unknown"
}
