package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/geotrack/livetrack/internal/alertlog"
	"github.com/geotrack/livetrack/internal/api"
	"github.com/geotrack/livetrack/internal/cache"
	"github.com/geotrack/livetrack/internal/config"
	"github.com/geotrack/livetrack/internal/database"
	"github.com/geotrack/livetrack/internal/history"
	"github.com/geotrack/livetrack/internal/logging"
	"github.com/geotrack/livetrack/internal/monitor"
	"github.com/geotrack/livetrack/internal/mux"
	"github.com/geotrack/livetrack/internal/reconciler"
	"github.com/geotrack/livetrack/internal/render"
	"github.com/geotrack/livetrack/internal/trail"
	"github.com/geotrack/livetrack/internal/transport"
	"github.com/geotrack/livetrack/pkg/core"
	"github.com/geotrack/livetrack/pkg/streaming"
)

// ErrRunning is returned when Run is called on a session that already ran.
var ErrRunning = errors.New("session already started")

const closeTimeout = 5 * time.Second

// AssetLister loads the asset registry used for icon resolution.
type AssetLister interface {
	Assets(ctx context.Context) ([]core.Asset, error)
}

// Options assembles a Session. Only Config is required.
type Options struct {
	Config config.Config

	// Adapter receives every marker, trail and connection change.
	// Defaults to a render.LogAdapter.
	Adapter render.Adapter
	Logger  *slog.Logger
	ZLogger *zerolog.Logger

	// History and Assets override the collaborators picked from Config.
	History history.Source
	Assets  AssetLister

	// OnAlert, when set, gets its own alert subscription.
	OnAlert func(core.Alert)

	Sink   monitor.PointWriter
	Dialer *ws.Dialer
	Now    func() time.Time
}

// Session owns one live view: the stream connection, the multiplexer and
// every per-entity structure fed by it.
type Session struct {
	cfg     config.Config
	logger  *slog.Logger
	adapter render.Adapter
	assets  AssetLister
	source  history.Source

	registry   *cache.AssetRegistry
	trails     *trail.Store
	reconciler *reconciler.Reconciler
	mux        *mux.Multiplexer
	channel    *transport.Channel
	monitor    *monitor.Service
	alerts     *alertlog.Log

	databases []*database.Manager
	subs      []*mux.Subscription

	connected atomic.Bool
	started   atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	result BootstrapStatus
}

// BootstrapStatus reports the outcome of the startup history load.
type BootstrapStatus struct {
	Done   bool
	Assets int
	Seeded int
	Failed int
	Err    error
}

// New wires a Session from its options. Nothing connects until Run.
func New(opts Options) (*Session, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	zlog := zerolog.Nop()
	if opts.ZLogger != nil {
		zlog = *opts.ZLogger
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	adapter := opts.Adapter
	if adapter == nil {
		adapter = render.NewLogAdapter(logger)
	}

	s := &Session{
		cfg:      cfg,
		logger:   logger.With("session", cfg.Session),
		adapter:  adapter,
		registry: cache.NewAssetRegistry(),
		done:     make(chan struct{}),
	}

	s.trails = trail.NewStore(
		trail.WithMaxPoints(cfg.Trail.MaxPoints),
		trail.WithMaxAge(cfg.Trail.MaxAge),
		trail.WithClock(now),
		trail.WithSegmentsFunc(adapter.TrailSegmentsChanged),
	)
	s.reconciler = reconciler.New(cache.NewEntityTable(), s.trails,
		reconciler.WithIconResolver(s.registry),
		reconciler.WithListener(adapter),
		reconciler.WithLogger(s.logger),
	)

	m, err := mux.New(logging.NewZerologAdapter(zlog.With().Str("component", "mux").Logger()), mux.WithClock(now))
	if err != nil {
		return nil, fmt.Errorf("creating multiplexer: %w", err)
	}
	s.mux = m
	s.subs = append(s.subs, m.SubscribePositions("reconciler", func(p core.PositionSample) {
		s.reconciler.Apply(p)
	}))

	if err := s.openAlerts(zlog); err != nil {
		s.abort()
		return nil, err
	}
	if opts.OnAlert != nil {
		s.subs = append(s.subs, m.SubscribeAlerts("callback", opts.OnAlert))
	}

	if err := s.openHistory(opts, zlog); err != nil {
		s.abort()
		return nil, err
	}

	s.channel = transport.New(transport.Config{
		URL:           cfg.Transport.URL,
		Backoff:       cfg.Transport.ReconnectBackoff,
		WriteWait:     cfg.Transport.WriteWait,
		SendBuffer:    cfg.Transport.SendBuffer,
		Dialer:        opts.Dialer,
		OnStateChange: s.onStateChange,
	}, m.FrameHandler(), s.logger)

	if len(cfg.AssetIDs) > 0 {
		msg, err := streaming.NewSubscribeMessage(cfg.AssetIDs)
		if err != nil {
			s.abort()
			return nil, err
		}
		s.channel.Subscribe(msg)
	}

	deps := monitor.Dependencies{
		Trails:         s.trails,
		Entities:       s.reconciler.Count,
		Connected:      s.Connected,
		MuxStats:       m.Stats,
		Sink:           opts.Sink,
		StatusFile:     cfg.Status.File,
		Session:        cfg.Session,
		DecayInterval:  cfg.Trail.DecayInterval,
		StatusInterval: cfg.Status.Interval,
		Now:            now,
		Logger:         s.logger,
	}
	if s.alerts != nil {
		deps.AlertCount = s.alerts.Count
	}
	s.monitor = monitor.NewService(deps)

	return s, nil
}

func (s *Session) openAlerts(zlog zerolog.Logger) error {
	if !s.cfg.Alerts.Enabled {
		return nil
	}
	dbm := database.NewManager(zlog.With().Str("component", "alertlog").Logger())
	if err := dbm.ConnectSqlite(s.cfg.Alerts.DSN); err != nil {
		return fmt.Errorf("opening alert log: %w", err)
	}
	s.databases = append(s.databases, dbm)

	l, err := alertlog.New(dbm.DB, s.logger)
	if err != nil {
		return err
	}
	s.alerts = l
	s.subs = append(s.subs, s.mux.SubscribeAlerts("alertlog", l.Handler()))
	return nil
}

func (s *Session) openHistory(opts Options, zlog zerolog.Logger) error {
	s.source, s.assets = opts.History, opts.Assets
	if s.source != nil && s.assets != nil {
		return nil
	}

	var client *api.Client
	if s.cfg.API.URL != "" {
		client = api.New(s.cfg.API.URL, s.cfg.API.Timeout).WithLogger(s.logger)
	}
	if s.assets == nil && client != nil && s.cfg.History.Source != "none" {
		s.assets = client
	}
	if s.source != nil {
		return nil
	}

	switch s.cfg.History.Source {
	case "api":
		if client == nil {
			return errors.New("history source api needs api.url")
		}
		s.source = client
	case "postgres":
		dbm := database.NewManager(zlog.With().Str("component", "history").Logger())
		db := s.cfg.DB
		if err := dbm.ConnectPostgres(database.Config{
			Host:     db.Host,
			Port:     db.Port,
			Username: db.Username,
			Password: db.Password,
			Database: db.Database,
			SSLMode:  db.SSLMode,
			MaxConns: s.cfg.History.Parallelism,
		}); err != nil {
			return fmt.Errorf("opening history database: %w", err)
		}
		s.databases = append(s.databases, dbm)
		s.source = history.NewDBSource(dbm.DB, s.cfg.History.Limit)
	default:
		s.source = history.None{}
	}
	return nil
}

func (s *Session) onStateChange(st transport.State) {
	connected := st == transport.Connected
	s.connected.Store(connected)
	s.adapter.ConnectionStateChanged(connected)
}

// Run connects and keeps the session live until ctx is done or Close is
// called, then tears it down. The asset registry is loaded first; the
// history bootstrap runs alongside live traffic.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer close(s.done)

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	s.loadAssets(ctx)

	if err := s.monitor.Start(); err != nil {
		return fmt.Errorf("starting monitor: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := s.channel.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, transport.ErrClosed) {
			s.logger.Error("transport stopped", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		s.bootstrap(ctx)
	}()

	<-ctx.Done()
	s.teardown()
	wg.Wait()
	s.release()
	return nil
}

func (s *Session) loadAssets(ctx context.Context) {
	if s.assets == nil {
		return
	}
	assets, err := s.assets.Assets(ctx)
	if err != nil {
		s.logger.Warn("asset registry unavailable, using default icons", "error", err)
		return
	}
	s.registry.Load(assets)
	s.logger.Info("asset registry loaded", "assets", len(assets))
}

func (s *Session) bootstrap(ctx context.Context) {
	res, err := history.Bootstrap(ctx, s.source, s.reconciler, history.BootstrapOptions{
		Window:      s.cfg.History.Window,
		Parallelism: s.cfg.History.Parallelism,
		Logger:      s.logger,
	})

	s.mu.Lock()
	s.result = BootstrapStatus{Done: true, Assets: res.Assets, Seeded: res.Seeded, Failed: res.Failures, Err: err}
	s.mu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("history bootstrap failed, continuing with live data", "error", err)
		}
		return
	}
	s.logger.Info("history bootstrap complete",
		"assets", res.Assets, "seeded", res.Seeded, "failures", res.Failures)
}

// teardown stops the decay timer, closes the stream without reconnecting
// and stops the subscribers. Per-entity state is released last.
func (s *Session) teardown() {
	s.monitor.Stop()
	s.channel.Close()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := s.mux.Close(ctx); err != nil {
		s.logger.Warn("multiplexer close", "error", err)
	}
}

// abort undoes a partially built session.
func (s *Session) abort() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	_ = s.mux.Close(ctx)
	s.release()
}

func (s *Session) release() {
	s.reconciler.Reset()
	for _, dbm := range s.databases {
		if err := dbm.Close(); err != nil {
			s.logger.Warn("closing database", "error", err)
		}
	}
	s.databases = nil
	s.logger.Info("session released")
}

// Close stops a running session and waits for teardown to finish.
func (s *Session) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-s.done
}

// Connected reports whether the stream is currently up.
func (s *Session) Connected() bool { return s.connected.Load() }

func (s *Session) Reconciler() *reconciler.Reconciler { return s.reconciler }

func (s *Session) Trails() *trail.Store { return s.trails }

func (s *Session) Registry() *cache.AssetRegistry { return s.registry }

// Alerts returns the session alert log, or nil when it is disabled.
func (s *Session) Alerts() *alertlog.Log { return s.alerts }

// Send writes a message on the stream if it is connected.
func (s *Session) Send(msg []byte) { s.channel.Send(msg) }

// Status returns the monitor's current view of the session.
func (s *Session) Status(ctx context.Context) monitor.Status {
	return s.monitor.Status(ctx)
}

// Bootstrap returns the outcome of the startup history load.
func (s *Session) Bootstrap() BootstrapStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}
