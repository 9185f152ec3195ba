package trail

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/geotrack/livetrack/pkg/core"
)

const (
	DefaultMaxPoints = 200
	DefaultMaxAge    = 30 * time.Minute
)

// SegmentsFunc is notified after every rebuild, while the entity is still
// locked, so notifications for one entity arrive in mutation order.
type SegmentsFunc func(entityID string, segments []core.TrailSegment)

// Option configures a Store.
type Option func(*Store)

// WithMaxPoints caps the number of points kept per entity.
func WithMaxPoints(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxPoints = n
		}
	}
}

// WithMaxAge sets the age past which a decay pass prunes points.
func WithMaxAge(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.maxAgeMs = d.Milliseconds()
		}
	}
}

// WithClock overrides the time source used to age segments.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSegmentsFunc registers the rebuild callback.
func WithSegmentsFunc(fn SegmentsFunc) Option {
	return func(s *Store) {
		s.notify = fn
	}
}

type entry struct {
	mu       sync.Mutex
	points   []core.TrailPoint
	segments []core.TrailSegment
}

// Store keeps a bounded, aging point sequence per entity. Points are kept in
// the order they were appended. Each entity is guarded by its own mutex, so
// different entities can be mutated in parallel.
type Store struct {
	maxPoints int
	maxAgeMs  int64
	now       func() time.Time
	notify    SegmentsFunc

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		maxPoints: DefaultMaxPoints,
		maxAgeMs:  DefaultMaxAge.Milliseconds(),
		now:       time.Now,
		entries:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxPoints returns the per-entity point cap.
func (s *Store) MaxPoints() int { return s.maxPoints }

// MaxAge returns the decay horizon.
func (s *Store) MaxAge() time.Duration { return time.Duration(s.maxAgeMs) * time.Millisecond }

func (s *Store) get(entityID string) *entry {
	s.mu.RLock()
	e := s.entries[entityID]
	s.mu.RUnlock()
	return e
}

func (s *Store) getOrCreate(entityID string) *entry {
	if e := s.get(entityID); e != nil {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entityID]
	if !ok {
		e = &entry{}
		s.entries[entityID] = e
	}
	return e
}

// Append adds a point at the end of the entity's trail, drops the oldest
// points beyond the cap and rebuilds segments.
func (s *Store) Append(entityID string, p core.TrailPoint) {
	e := s.getOrCreate(entityID)
	e.mu.Lock()
	defer e.mu.Unlock()
	s.push(e, p)
	s.rebuild(entityID, e, s.now().UnixMilli())
}

// BulkLoad appends historical points as if each had been appended in turn,
// with a single rebuild at the end. Callers order points oldest first.
func (s *Store) BulkLoad(entityID string, points []core.TrailPoint) {
	if len(points) == 0 {
		return
	}
	e := s.getOrCreate(entityID)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range points {
		s.push(e, p)
	}
	s.rebuild(entityID, e, s.now().UnixMilli())
}

// Backfill puts historical points in front of the trail an entity already
// has. Only points older than every held point are used, and the cap drops
// the oldest first, so live points are never displaced. Callers order points
// oldest first. It returns how many points were added.
func (s *Store) Backfill(entityID string, points []core.TrailPoint) int {
	if len(points) == 0 {
		return 0
	}
	e := s.getOrCreate(entityID)
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := int64(math.MaxInt64)
	for _, p := range e.points {
		cutoff = min(cutoff, p.TimestampMs)
	}
	older := make([]core.TrailPoint, 0, len(points))
	for _, p := range points {
		if p.TimestampMs < cutoff {
			older = append(older, p)
		}
	}
	if over := len(older) + len(e.points) - s.maxPoints; over > 0 {
		older = older[min(over, len(older)):]
	}
	if len(older) == 0 {
		return 0
	}

	e.points = append(older, e.points...)
	s.rebuild(entityID, e, s.now().UnixMilli())
	return len(older)
}

// Rebuild recomputes the entity's segments against the current time.
func (s *Store) Rebuild(entityID string) {
	e := s.get(entityID)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s.rebuild(entityID, e, s.now().UnixMilli())
}

// DecayTick prunes every point older than the max age, for every entity,
// then rebuilds each trail so surviving segments fade. It returns the number
// of points removed.
func (s *Store) DecayTick(nowMs int64) int {
	removed := 0
	for _, id := range s.Entities() {
		e := s.get(id)
		if e == nil {
			continue
		}
		e.mu.Lock()
		removed += s.prune(e, nowMs)
		s.rebuild(id, e, nowMs)
		e.mu.Unlock()
	}
	return removed
}

// Points returns a copy of the entity's points, oldest first.
func (s *Store) Points(entityID string) []core.TrailPoint {
	e := s.get(entityID)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]core.TrailPoint(nil), e.points...)
}

// Segments returns a copy of the entity's last built segments.
func (s *Store) Segments(entityID string) []core.TrailSegment {
	e := s.get(entityID)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]core.TrailSegment(nil), e.segments...)
}

// Len returns the number of points held for the entity.
func (s *Store) Len(entityID string) int {
	e := s.get(entityID)
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.points)
}

// TotalPoints sums points over all entities.
func (s *Store) TotalPoints() int {
	total := 0
	for _, id := range s.Entities() {
		total += s.Len(id)
	}
	return total
}

// Entities returns the ids with a trail, sorted.
func (s *Store) Entities() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Reset releases every trail.
func (s *Store) Reset() {
	s.mu.Lock()
	s.entries = make(map[string]*entry)
	s.mu.Unlock()
}

func (s *Store) push(e *entry, p core.TrailPoint) {
	e.points = append(e.points, p)
	if over := len(e.points) - s.maxPoints; over > 0 {
		// Copy down so the backing array does not grow without bound.
		n := copy(e.points, e.points[over:])
		clear(e.points[n:])
		e.points = e.points[:n]
	}
}

// prune removes every point strictly older than the max age. Points may be
// out of timestamp order, so the whole trail is scanned.
func (s *Store) prune(e *entry, nowMs int64) int {
	kept := e.points[:0]
	for _, p := range e.points {
		if nowMs-p.TimestampMs <= s.maxAgeMs {
			kept = append(kept, p)
		}
	}
	removed := len(e.points) - len(kept)
	clear(e.points[len(kept):])
	e.points = kept
	return removed
}

func (s *Store) rebuild(entityID string, e *entry, nowMs int64) {
	e.segments = BuildSegments(e.points, nowMs, s.maxAgeMs)
	if s.notify != nil {
		s.notify(entityID, append([]core.TrailSegment(nil), e.segments...))
	}
}
