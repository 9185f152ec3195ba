package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/geotrack/livetrack/internal/mux"
	"github.com/geotrack/livetrack/internal/trail"
)

const (
	DefaultDecayInterval = 15 * time.Second
	Measurement          = "livetrack_session"
)

// PointWriter receives status points. *influx.Manager satisfies it.
type PointWriter interface {
	WritePoint(ctx context.Context, point *influxdb2_write.Point) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Trails     *trail.Store
	Entities   func() int
	Connected  func() bool
	MuxStats   func() mux.Stats
	AlertCount func(ctx context.Context) (int64, error)

	// Optional status outputs, written every StatusInterval.
	Sink       PointWriter
	StatusFile string

	Session        string
	DecayInterval  time.Duration
	StatusInterval time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

// Status is a point-in-time view of a running session.
type Status struct {
	Time        time.Time `json:"time"`
	Connected   bool      `json:"connected"`
	Entities    int       `json:"entities"`
	TrailPoints int       `json:"trailPoints"`
	Alerts      int64     `json:"alerts"`
	Dispatched  int64     `json:"dispatched"`
	Dropped     int64     `json:"dropped"`
	Subscribers int       `json:"subscribers"`
	Pending     int       `json:"pending"`
	Decayed     int64     `json:"decayed"`
}

// Service runs the trail decay tick and periodic status reporting.
type Service struct {
	deps      Dependencies
	logger    *slog.Logger
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}

	decayMu sync.Mutex
	decayed int64
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.DecayInterval <= 0 {
		deps.DecayInterval = DefaultDecayInterval
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		deps:   deps,
		logger: logger.With("component", "monitor"),
	}
}

// IsRunning returns whether the monitor goroutine is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Decay runs one decay tick against the trail store and returns how many
// points were removed.
func (s *Service) Decay() int {
	if s.deps.Trails == nil {
		return 0
	}
	removed := s.deps.Trails.DecayTick(s.deps.Now().UnixMilli())

	s.decayMu.Lock()
	s.decayed += int64(removed)
	s.decayMu.Unlock()

	if removed > 0 {
		s.logger.Debug("trail decay", "removed", removed)
	}
	return removed
}

// Status collects the current session status. Missing dependencies read as zero.
func (s *Service) Status(ctx context.Context) Status {
	st := Status{Time: s.deps.Now()}
	if s.deps.Connected != nil {
		st.Connected = s.deps.Connected()
	}
	if s.deps.Entities != nil {
		st.Entities = s.deps.Entities()
	}
	if s.deps.Trails != nil {
		st.TrailPoints = s.deps.Trails.TotalPoints()
	}
	if s.deps.MuxStats != nil {
		ms := s.deps.MuxStats()
		st.Dispatched = ms.Dispatched
		st.Dropped = ms.Dropped
		st.Subscribers = ms.Subscribers
		st.Pending = ms.Pending
	}
	if s.deps.AlertCount != nil {
		n, err := s.deps.AlertCount(ctx)
		if err != nil {
			s.logger.Warn("alert count unavailable", "error", err)
		}
		st.Alerts = n
	}

	s.decayMu.Lock()
	st.Decayed = s.decayed
	s.decayMu.Unlock()
	return st
}

// Point converts a status into an influx point tagged with the session name.
func (st Status) Point(session string) *influxdb2_write.Point {
	return influxdb2_write.NewPoint(
		Measurement,
		map[string]string{"session": session},
		map[string]any{
			"connected":    st.Connected,
			"entities":     st.Entities,
			"trail_points": st.TrailPoints,
			"alerts":       st.Alerts,
			"dispatched":   st.Dispatched,
			"dropped":      st.Dropped,
			"pending":      st.Pending,
			"decayed":      st.Decayed,
		},
		st.Time,
	)
}

// Report collects a status and writes it to the configured outputs.
func (s *Service) Report(ctx context.Context) (Status, error) {
	st := s.Status(ctx)

	if s.deps.StatusFile != "" {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return st, fmt.Errorf("marshal status: %w", err)
		}
		if err := os.WriteFile(s.deps.StatusFile, append(data, '\n'), 0644); err != nil {
			return st, fmt.Errorf("write status file: %w", err)
		}
	}

	if s.deps.Sink != nil {
		if err := s.deps.Sink.WritePoint(ctx, st.Point(s.deps.Session)); err != nil {
			return st, fmt.Errorf("write status point: %w", err)
		}
	}
	return st, nil
}

// Start starts the monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		s.logger.Debug("starting monitor",
			"decayInterval", s.deps.DecayInterval,
			"statusInterval", s.deps.StatusInterval)

		decay := time.NewTicker(s.deps.DecayInterval)
		defer decay.Stop()

		var statusC <-chan time.Time
		if s.deps.StatusInterval > 0 {
			status := time.NewTicker(s.deps.StatusInterval)
			defer status.Stop()
			statusC = status.C
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		for {
			select {
			case <-stop:
				return
			case <-decay.C:
				s.Decay()
			case <-statusC:
				if _, err := s.Report(ctx); err != nil {
					s.logger.Error("status report failed", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop stops the monitor and waits for its goroutine to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.isRunning = false
	s.mu.Unlock()
	<-done
}
