package geo

import (
	"errors"
	"fmt"
	"math"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// Positions arrive as WGS84 (EPSG:4326). Renderers working in web mercator
// can ask for EPSG:3857 output instead.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Validate checks a WGS84 pair against its bounds, inclusive.
func Validate(latitude, longitude float64) error {
	if math.IsNaN(latitude) || latitude < -90 || latitude > 90 {
		return fmt.Errorf("%w: latitude out of bounds [-90, 90]: %v", ErrInvalidCoordinates, latitude)
	}
	if math.IsNaN(longitude) || longitude < -180 || longitude > 180 {
		return fmt.Errorf("%w: longitude out of bounds [-180, 180]: %v", ErrInvalidCoordinates, longitude)
	}
	return nil
}

// IsNullIsland reports the (0, 0) fix that receivers emit when they have no lock.
func IsNullIsland(latitude, longitude float64) bool {
	return latitude == 0 && longitude == 0
}

var to3857 = wgs84.EPSG().Transform(4326, 3857)

// Project3857 converts a longitude and latitude to web mercator metres
func Project3857(longitude, latitude float64) (x, y float64) {
	x, y, _ = to3857(longitude, latitude, 0)
	return x, y
}

// Projection selects the output coordinate system for geometries.
type Projection int

const (
	WGS84 Projection = iota
	WebMercator
)

func (p Projection) xy(longitude, latitude float64) geom.XY {
	if p == WebMercator {
		x, y := Project3857(longitude, latitude)
		return geom.XY{X: x, Y: y}
	}
	return geom.XY{X: longitude, Y: latitude}
}

// Point builds a point geometry, with elevation when given.
func (p Projection) Point(longitude, latitude float64, elev ...float64) geom.Point {
	if len(elev) > 0 {
		return geom.NewPoint(geom.Coordinates{
			XY:   p.xy(longitude, latitude),
			Z:    elev[0],
			Type: geom.DimXYZ,
		})
	}
	return geom.NewPoint(geom.Coordinates{XY: p.xy(longitude, latitude)})
}
