package mux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/geotrack/livetrack/pkg/core"
	"github.com/geotrack/livetrack/pkg/streaming"
)

// Topic names.
const (
	TopicPositions = "positions"
	TopicAlerts    = "alerts"
)

// Drop reasons reported on the dropped counter.
const (
	ReasonMalformed   = "malformed"
	ReasonUnknownType = "unknown_type"
	ReasonClosed      = "closed"
)

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("multiplexer closed")

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures a Multiplexer.
type Option func(*config)

type config struct {
	now    func() time.Time
	logged bool
}

// WithClock sets the receive-time source used for payloads without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// Logged adds debug logging for every routed event.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Stats is a point-in-time view of multiplexer counters.
type Stats struct {
	Dispatched  int64
	Dropped     int64
	Subscribers int
	Pending     int
}

// Multiplexer splits the single inbound frame stream into typed sub-streams.
// Dispatch is expected to be called from one goroutine (the transport read
// loop); concurrent calls are serialized.
type Multiplexer struct {
	logger  Logger
	decoder *streaming.Decoder
	logged  bool

	positions *topic[core.PositionSample]
	alerts    *topic[core.Alert]

	dispatchMu sync.Mutex
	closed     atomic.Bool

	dispatchedTotal atomic.Int64
	droppedTotal    atomic.Int64

	// OTEL metrics
	queueSize    metric.Int64ObservableGauge
	dispatched   metric.Int64Counter
	dropped      metric.Int64Counter
	registration metric.Registration
}

// New creates a Multiplexer.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger, opts ...Option) (*Multiplexer, error) {
	cfg := config{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &Multiplexer{
		logger:    logger,
		decoder:   streaming.NewDecoder(cfg.now),
		logged:    cfg.logged,
		positions: newTopic[core.PositionSample](TopicPositions, logger),
		alerts:    newTopic[core.Alert](TopicAlerts, logger),
	}

	mt := meter()

	var err error

	m.queueSize, err = mt.Int64ObservableGauge(
		"mux.subscriber.queue.size",
		metric.WithDescription("Events queued per subscriber"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	m.registration, err = mt.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			observe := func(topic, subscriber string, pending int) {
				o.ObserveInt64(m.queueSize, int64(pending),
					metric.WithAttributes(
						attribute.String("topic", topic),
						attribute.String("subscriber", subscriber),
					))
			}
			m.positions.observe(observe)
			m.alerts.observe(observe)
			return nil
		},
		m.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	m.dispatched, err = mt.Int64Counter(
		"mux.events.dispatched",
		metric.WithDescription("Events routed to a sub-stream"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dispatched counter: %w", err)
	}

	m.dropped, err = mt.Int64Counter(
		"mux.events.dropped",
		metric.WithDescription("Inbound frames dropped before routing"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return m, nil
}

// SubscribePositions registers a consumer of position updates.
func (m *Multiplexer) SubscribePositions(name string, fn func(core.PositionSample)) *Subscription {
	return m.positions.subscribe(name, fn)
}

// SubscribeAlerts registers a consumer of geofence and speed alerts.
func (m *Multiplexer) SubscribeAlerts(name string, fn func(core.Alert)) *Subscription {
	return m.alerts.subscribe(name, fn)
}

// Dispatch decodes one transport frame and routes it. A frame that cannot be
// decoded is dropped and counted; the returned error is informational only.
func (m *Multiplexer) Dispatch(frame []byte) error {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	if m.closed.Load() {
		m.drop(ReasonClosed)
		return ErrClosed
	}

	env, err := m.decoder.Envelope(frame)
	if err != nil {
		return m.reject(err, "", frame)
	}

	switch {
	case env.Type == streaming.TypePositionUpdated:
		sample, err := m.decoder.Position(env.Payload)
		if err != nil {
			return m.reject(err, env.Type, frame)
		}
		n := m.positions.publish(sample)
		m.routed(env.Type)
		if m.logged {
			m.logger.Debug("position routed", "entity", sample.EntityID, "subscribers", n)
		}

	case streaming.IsAlertType(env.Type):
		alert, err := m.decoder.Alert(env.Type, env.Payload)
		if err != nil {
			return m.reject(err, env.Type, frame)
		}
		n := m.alerts.publish(alert)
		m.routed(env.Type)
		if m.logged {
			m.logger.Debug("alert routed", "kind", env.Type, "entity", alert.EntityID, "subscribers", n)
		}

	default:
		return m.reject(fmt.Errorf("%w: %q", streaming.ErrUnknownType, env.Type), env.Type, frame)
	}
	return nil
}

// FrameHandler adapts Dispatch to a transport frame callback.
func (m *Multiplexer) FrameHandler() func([]byte) {
	return func(frame []byte) {
		_ = m.Dispatch(frame)
	}
}

// Stats returns current counters.
func (m *Multiplexer) Stats() Stats {
	return Stats{
		Dispatched:  m.dispatchedTotal.Load(),
		Dropped:     m.droppedTotal.Load(),
		Subscribers: m.positions.count() + m.alerts.count(),
		Pending:     m.positions.pending() + m.alerts.pending(),
	}
}

// Close detaches every subscriber and waits for their goroutines to return
// or for ctx to expire. Subsequent frames are dropped.
func (m *Multiplexer) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	if m.registration != nil {
		if err := m.registration.Unregister(); err != nil {
			m.logger.Warn("unregistering queue callback", "error", err)
		}
	}

	done := append(m.positions.closeAll(), m.alerts.closeAll()...)
	for _, d := range done {
		select {
		case <-d:
		case <-ctx.Done():
			return fmt.Errorf("waiting for subscribers: %w", ctx.Err())
		}
	}
	return nil
}

func (m *Multiplexer) routed(msgType string) {
	m.dispatchedTotal.Add(1)
	m.dispatched.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("type", msgType)))
}

func (m *Multiplexer) reject(err error, msgType string, frame []byte) error {
	reason := ReasonMalformed
	if errors.Is(err, streaming.ErrUnknownType) {
		reason = ReasonUnknownType
	}
	m.drop(reason)
	m.logger.Warn("dropping inbound frame", "reason", reason, "type", msgType, "error", err, "bytes", len(frame))
	return err
}

func (m *Multiplexer) drop(reason string) {
	m.droppedTotal.Add(1)
	m.dropped.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}
