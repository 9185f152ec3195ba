// pkg/core/position.go
package core

import "time"

// PositionSample is a single telemetry report for a tracked entity.
// Samples are values and are never mutated after decoding.
type PositionSample struct {
	EntityID    string  `json:"assetId" validate:"required"`
	Latitude    float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude   float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Altitude    float64 `json:"altitude"`
	SpeedKmh    float64 `json:"speed"`
	HeadingDeg  float64 `json:"heading"`
	TimestampMs int64   `json:"timestampMs"`
	Source      string  `json:"source,omitempty"`
}

// Time returns the sample timestamp as a time.Time.
func (p PositionSample) Time() time.Time {
	return time.UnixMilli(p.TimestampMs)
}

// TrailPoint projects the sample onto the subset stored in a trail.
func (p PositionSample) TrailPoint() TrailPoint {
	return TrailPoint{Lat: p.Latitude, Lng: p.Longitude, TimestampMs: p.TimestampMs}
}
