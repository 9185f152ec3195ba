package trail

import "github.com/geotrack/livetrack/pkg/core"

const (
	minOpacity = 0.05
	minWeight  = 1.0
	maxWeight  = 3.0
)

// BuildSegments turns a point sequence into fading segments. Segment i joins
// points i and i+1 and is styled by the age of its newer end: opacity runs
// from 1 down to 0.05 and weight from 3 down to 1 as that age approaches
// maxAgeMs. Fewer than two points yield no segments. The result depends only
// on its arguments.
func BuildSegments(points []core.TrailPoint, nowMs, maxAgeMs int64) []core.TrailSegment {
	if len(points) < 2 {
		return nil
	}
	segments := make([]core.TrailSegment, 0, len(points)-1)
	for i := 0; i+1 < len(points); i++ {
		f := AgeFraction(nowMs-points[i+1].TimestampMs, maxAgeMs)
		segments = append(segments, core.TrailSegment{
			From:    points[i],
			To:      points[i+1],
			Opacity: Opacity(f),
			Weight:  Weight(f),
		})
	}
	return segments
}

// AgeFraction maps an age onto [0,1]. Future timestamps count as age zero.
func AgeFraction(ageMs, maxAgeMs int64) float64 {
	if maxAgeMs <= 0 {
		return 1
	}
	f := float64(ageMs) / float64(maxAgeMs)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func Opacity(ageFraction float64) float64 {
	return max(minOpacity, 1-ageFraction*0.95)
}

func Weight(ageFraction float64) float64 {
	return max(minWeight, maxWeight-ageFraction*2)
}
