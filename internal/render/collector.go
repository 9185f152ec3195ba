package render

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/geotrack/livetrack/internal/geo"
	"github.com/geotrack/livetrack/pkg/core"
)

// Collector keeps the latest marker and trail state in memory and exports it
// as a GeoJSON FeatureCollection. It is safe for concurrent use.
type Collector struct {
	projection geo.Projection

	mu        sync.RWMutex
	markers   map[string]core.EntityMarkerState
	segments  map[string][]core.TrailSegment
	connected bool
	creates   int
	updates   int
}

func NewCollector(projection geo.Projection) *Collector {
	return &Collector{
		projection: projection,
		markers:    make(map[string]core.EntityMarkerState),
		segments:   make(map[string][]core.TrailSegment),
	}
}

func (c *Collector) EntityCreated(s core.EntityMarkerState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markers[s.EntityID] = s
	c.creates++
}

func (c *Collector) EntityUpdated(s core.EntityMarkerState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markers[s.EntityID] = s
	c.updates++
}

func (c *Collector) TrailSegmentsChanged(entityID string, segments []core.TrailSegment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(segments) == 0 {
		delete(c.segments, entityID)
		return
	}
	c.segments[entityID] = segments
}

func (c *Collector) ConnectionStateChanged(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = connected
}

// Connected reports the last connection state seen.
func (c *Collector) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Marker returns the last state received for an entity.
func (c *Collector) Marker(entityID string) (core.EntityMarkerState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.markers[entityID]
	return s, ok
}

// Segments returns the last segment set received for an entity.
func (c *Collector) Segments(entityID string) []core.TrailSegment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]core.TrailSegment(nil), c.segments[entityID]...)
}

// Counts returns how many created and updated callbacks were received.
func (c *Collector) Counts() (created, updated int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creates, c.updates
}

// FeatureCollection renders one point feature per marker followed by one
// line feature per trail segment, both ordered by entity id.
func (c *Collector) FeatureCollection() geom.GeoJSONFeatureCollection {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.markers))
	for id := range c.markers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fc := make(geom.GeoJSONFeatureCollection, 0, len(c.markers))
	for _, id := range ids {
		m := c.markers[id]
		p := m.LastPosition
		fc = append(fc, geom.GeoJSONFeature{
			ID:       id,
			Geometry: c.projection.Point(p.Longitude, p.Latitude).AsGeometry(),
			Properties: map[string]any{
				"kind":        "marker",
				"assetId":     id,
				"icon":        string(m.IconKind),
				"speed":       p.SpeedKmh,
				"heading":     p.HeadingDeg,
				"altitude":    p.Altitude,
				"timestampMs": p.TimestampMs,
			},
		})
	}

	segIDs := make([]string, 0, len(c.segments))
	for id := range c.segments {
		segIDs = append(segIDs, id)
	}
	sort.Strings(segIDs)

	for _, id := range segIDs {
		for i, s := range c.segments[id] {
			fc = append(fc, geom.GeoJSONFeature{
				ID:       fmt.Sprintf("%s/%d", id, i),
				Geometry: c.projection.Segment(s).AsGeometry(),
				Properties: map[string]any{
					"kind":    "trail",
					"assetId": id,
					"opacity": s.Opacity,
					"weight":  s.Weight,
				},
			})
		}
	}
	return fc
}

// GeoJSON marshals the current FeatureCollection.
func (c *Collector) GeoJSON() ([]byte, error) {
	data, err := json.Marshal(c.FeatureCollection())
	if err != nil {
		return nil, fmt.Errorf("marshal feature collection: %w", err)
	}
	return data, nil
}

// Reset drops all collected state.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markers = make(map[string]core.EntityMarkerState)
	c.segments = make(map[string][]core.TrailSegment)
	c.creates, c.updates = 0, 0
}
