// pkg/core/trail.go
package core

// TrailPoint is one stored vertex of an entity's movement trail.
type TrailPoint struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	TimestampMs int64   `json:"timestampMs"`
}

// TrailSegment is a render-ready pair of adjacent trail points.
// Opacity is within [0.05, 1.0] and Weight within [1.0, 3.0].
type TrailSegment struct {
	From    TrailPoint `json:"from"`
	To      TrailPoint `json:"to"`
	Opacity float64    `json:"opacity"`
	Weight  float64    `json:"weight"`
}

// EntityMarkerState is the live marker for one tracked entity.
type EntityMarkerState struct {
	EntityID     string         `json:"entityId"`
	LastPosition PositionSample `json:"lastPosition"`
	IconKind     IconKind       `json:"iconKind"`
}
