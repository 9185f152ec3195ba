package reconciler

import (
	"log/slog"
	"sync/atomic"

	"github.com/geotrack/livetrack/internal/cache"
	"github.com/geotrack/livetrack/internal/trail"
	"github.com/geotrack/livetrack/pkg/core"
)

// IconResolver maps an entity id to its marker icon. It must not fail:
// unknown entities resolve to core.IconDefault.
type IconResolver interface {
	Icon(entityID string) core.IconKind
}

// IconResolverFunc adapts a function to IconResolver.
type IconResolverFunc func(entityID string) core.IconKind

func (f IconResolverFunc) Icon(entityID string) core.IconKind { return f(entityID) }

type defaultIcons struct{}

func (defaultIcons) Icon(string) core.IconKind { return core.IconDefault }

// Listener receives marker lifecycle signals. Calls for one entity are
// serialized and arrive in the order samples were applied.
type Listener interface {
	EntityCreated(core.EntityMarkerState)
	EntityUpdated(core.EntityMarkerState)
}

type nopListener struct{}

func (nopListener) EntityCreated(core.EntityMarkerState) {}
func (nopListener) EntityUpdated(core.EntityMarkerState) {}

// Option configures a Reconciler.
type Option func(*Reconciler)

func WithIconResolver(r IconResolver) Option {
	return func(rc *Reconciler) {
		if r != nil {
			rc.icons = r
		}
	}
}

func WithListener(l Listener) Option {
	return func(rc *Reconciler) {
		if l != nil {
			rc.listener = l
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(rc *Reconciler) {
		if l != nil {
			rc.logger = l
		}
	}
}

// Stats counts reconciler outcomes. Backfilled counts entities that were
// already live when seeded and whose trail gained history.
type Stats struct {
	Created    int64
	Updated    int64
	Seeded     int64
	Skipped    int64
	Backfilled int64
}

// Reconciler decides, per sample, whether an entity is new or known and
// keeps the marker table and trail store in step.
type Reconciler struct {
	table    *cache.EntityTable
	trails   *trail.Store
	icons    IconResolver
	listener Listener
	logger   *slog.Logger

	created    atomic.Int64
	updated    atomic.Int64
	seeded     atomic.Int64
	skipped    atomic.Int64
	backfilled atomic.Int64
}

func New(table *cache.EntityTable, trails *trail.Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		table:    table,
		trails:   trails,
		icons:    defaultIcons{},
		listener: nopListener{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply reconciles one live sample. The sample always becomes the entity's
// last position, whatever its timestamp: arrival order wins. It reports
// whether the entity was created.
func (r *Reconciler) Apply(s core.PositionSample) bool {
	e, created := r.table.Acquire(s.EntityID)
	defer e.Release()

	if created {
		state := core.EntityMarkerState{
			EntityID:     s.EntityID,
			LastPosition: s,
			IconKind:     r.icons.Icon(s.EntityID),
		}
		e.Set(state)
		r.created.Add(1)
		r.listener.EntityCreated(state)
		r.trails.Append(s.EntityID, s.TrailPoint())
		return true
	}

	state := e.State()
	state.LastPosition = s
	e.Set(state)
	r.updated.Add(1)
	r.listener.EntityUpdated(state)
	r.trails.Append(s.EntityID, s.TrailPoint())
	return false
}

// Seed creates an entity from its latest known sample with a backfilled
// trail. history must already be ordered oldest first. If live data has
// already created the entity its marker is left alone, the history older
// than its live points is put in front of its trail, and Seed reports false.
func (r *Reconciler) Seed(latest core.PositionSample, history []core.TrailPoint) bool {
	e, created := r.table.Acquire(latest.EntityID)
	defer e.Release()

	if !created {
		r.skipped.Add(1)
		points := make([]core.TrailPoint, 0, len(history)+1)
		points = append(points, history...)
		points = append(points, latest.TrailPoint())
		added := r.trails.Backfill(latest.EntityID, points)
		if added > 0 {
			r.backfilled.Add(1)
		}
		r.logger.Debug("entity already live, backfilling trail only", "entity", latest.EntityID, "added", added)
		return false
	}

	state := core.EntityMarkerState{
		EntityID:     latest.EntityID,
		LastPosition: latest,
		IconKind:     r.icons.Icon(latest.EntityID),
	}
	e.Set(state)
	r.created.Add(1)
	r.seeded.Add(1)
	r.listener.EntityCreated(state)

	points := make([]core.TrailPoint, 0, len(history)+1)
	points = append(points, history...)
	points = append(points, latest.TrailPoint())
	r.trails.BulkLoad(latest.EntityID, points)
	return true
}

// Entity returns the marker state of one entity.
func (r *Reconciler) Entity(id string) (core.EntityMarkerState, bool) {
	return r.table.Get(id)
}

// Entities returns all marker states ordered by entity id.
func (r *Reconciler) Entities() []core.EntityMarkerState {
	return r.table.Snapshot()
}

func (r *Reconciler) Count() int {
	return r.table.Len()
}

func (r *Reconciler) Stats() Stats {
	return Stats{
		Created:    r.created.Load(),
		Updated:    r.updated.Load(),
		Seeded:     r.seeded.Load(),
		Skipped:    r.skipped.Load(),
		Backfilled: r.backfilled.Load(),
	}
}

// Reset releases every marker and trail.
func (r *Reconciler) Reset() {
	r.table.Reset()
	r.trails.Reset()
}
