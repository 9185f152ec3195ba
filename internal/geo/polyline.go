package geo

import (
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/geotrack/livetrack/pkg/core"
)

// LineString builds a line through trail points in order.
func (p Projection) LineString(points []core.TrailPoint) (geom.LineString, error) {
	if len(points) < 2 {
		return geom.LineString{}, fmt.Errorf("polyline must have at least 2 points, got %d", len(points))
	}

	flatCoords := make([]float64, 0, len(points)*2)
	for _, pt := range points {
		xy := p.xy(pt.Lng, pt.Lat)
		flatCoords = append(flatCoords, xy.X, xy.Y)
	}

	seq := geom.NewSequence(flatCoords, geom.DimXY)
	return geom.NewLineString(seq), nil
}

// Segment builds the two-point line of a trail segment.
func (p Projection) Segment(s core.TrailSegment) geom.LineString {
	ls, _ := p.LineString([]core.TrailPoint{s.From, s.To})
	return ls
}
