package render

import (
	"log/slog"

	"github.com/geotrack/livetrack/pkg/core"
)

// Adapter is the drawing surface fed by the engine. Calls for one entity are
// serialized; calls for different entities may be concurrent.
type Adapter interface {
	EntityCreated(core.EntityMarkerState)
	EntityUpdated(core.EntityMarkerState)
	TrailSegmentsChanged(entityID string, segments []core.TrailSegment)
	ConnectionStateChanged(connected bool)
}

// Multi fans every callback out to several adapters in order.
type Multi []Adapter

func (m Multi) EntityCreated(s core.EntityMarkerState) {
	for _, a := range m {
		a.EntityCreated(s)
	}
}

func (m Multi) EntityUpdated(s core.EntityMarkerState) {
	for _, a := range m {
		a.EntityUpdated(s)
	}
}

func (m Multi) TrailSegmentsChanged(entityID string, segments []core.TrailSegment) {
	for _, a := range m {
		a.TrailSegmentsChanged(entityID, segments)
	}
}

func (m Multi) ConnectionStateChanged(connected bool) {
	for _, a := range m {
		a.ConnectionStateChanged(connected)
	}
}

// LogAdapter writes every callback to a structured logger. Marker moves and
// trail rebuilds are logged at debug.
type LogAdapter struct {
	logger *slog.Logger
}

func NewLogAdapter(logger *slog.Logger) *LogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAdapter{logger: logger.With("component", "render")}
}

func (l *LogAdapter) EntityCreated(s core.EntityMarkerState) {
	l.logger.Info("entity created",
		"entity", s.EntityID,
		"icon", s.IconKind,
		"lat", s.LastPosition.Latitude,
		"lng", s.LastPosition.Longitude)
}

func (l *LogAdapter) EntityUpdated(s core.EntityMarkerState) {
	l.logger.Debug("entity updated",
		"entity", s.EntityID,
		"lat", s.LastPosition.Latitude,
		"lng", s.LastPosition.Longitude,
		"speed", s.LastPosition.SpeedKmh)
}

func (l *LogAdapter) TrailSegmentsChanged(entityID string, segments []core.TrailSegment) {
	l.logger.Debug("trail rebuilt", "entity", entityID, "segments", len(segments))
}

func (l *LogAdapter) ConnectionStateChanged(connected bool) {
	if connected {
		l.logger.Info("stream connected")
		return
	}
	l.logger.Warn("stream disconnected")
}
