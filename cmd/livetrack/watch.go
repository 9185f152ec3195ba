package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/geotrack/livetrack/internal/config"
	"github.com/geotrack/livetrack/internal/geo"
	"github.com/geotrack/livetrack/internal/influx"
	"github.com/geotrack/livetrack/internal/logging"
	"github.com/geotrack/livetrack/internal/monitor"
	intOtel "github.com/geotrack/livetrack/internal/otel"
	"github.com/geotrack/livetrack/internal/render"
	"github.com/geotrack/livetrack/internal/session"
	"github.com/geotrack/livetrack/pkg/core"
)

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Connect to the live stream and keep markers and trails up to date",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Get()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return watch(ctx, cfg, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().String("url", "", "Websocket stream URL")
	cmd.Flags().String("history", "", "History source: api|postgres|none")
	cmd.Flags().StringSlice("assets", nil, "Only follow these asset ids")
	return cmd
}

func watch(ctx context.Context, cfg config.Config, stderr io.Writer) error {
	start := time.Now()

	if err := os.MkdirAll(cfg.LogsDir, 0755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}
	logPath := logging.LogFilePath(cfg.LogsDir, cfg.Session, start)
	logFile := logging.RotatingFile(logPath)
	defer logFile.Close()

	var otelProvider *intOtel.Provider
	if cfg.OTel.Enabled {
		p, err := intOtel.New(ctx, intOtel.Config{
			Enabled:      true,
			ServiceName:  cfg.OTel.ServiceName,
			Session:      cfg.Session,
			BatchTimeout: cfg.OTel.BatchTimeout,
			LogWriter:    logFile,
			Endpoint:     cfg.OTel.Endpoint,
			Insecure:     cfg.OTel.Insecure,
		})
		if err != nil {
			fmt.Fprintf(stderr, "otel disabled: %v\n", err)
		} else {
			otelProvider = p
			defer func() {
				sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer scancel()
				_ = otelProvider.Shutdown(sctx)
			}()
		}
	}

	var current atomic.Pointer[session.Session]
	slogManager := logging.NewSlogManager()
	if cfg.Graylog.Enabled {
		h, closer, err := logging.NewGraylogHandler(cfg.Graylog.Address, cfg.LogLevel)
		if err != nil {
			fmt.Fprintf(stderr, "graylog disabled: %v\n", err)
		} else {
			slogManager.AddHandler(h)
			defer closer.Close()
		}
	}
	slogManager.SetContextProvider(func() []slog.Attr {
		sess := current.Load()
		if sess == nil {
			return nil
		}
		return []slog.Attr{
			slog.Bool("connected", sess.Connected()),
			slog.Int("entities", sess.Reconciler().Count()),
		}
	})
	slogManager.Setup(io.MultiWriter(logFile, stderr), cfg.LogLevel, otelLogProvider(otelProvider))
	logger := slogManager.Logger()
	logger.Info("Begin logging in logs directory", "path", logPath)

	zlog := logging.NewZerolog(logFile, cfg.LogLevel)

	var sink monitor.PointWriter
	if cfg.Influx.Enabled {
		im := influx.NewManager(zlog, influx.Config{
			Enabled:    true,
			URL:        cfg.Influx.URL,
			Token:      cfg.Influx.Token,
			Org:        cfg.Influx.Org,
			Bucket:     cfg.Influx.Bucket,
			BackupPath: cfg.Influx.BackupPath,
		})
		if err := im.Connect(ctx); err != nil {
			logger.Warn("influx status output disabled", "error", err)
		} else {
			sink = im
		}
		defer im.Close()
	}

	projection := geo.WGS84
	if cfg.Render.Projection == "webmercator" {
		projection = geo.WebMercator
	}
	collector := render.NewCollector(projection)

	sess, err := session.New(session.Options{
		Config:  cfg,
		Adapter: render.Multi{render.NewLogAdapter(logger), collector},
		Logger:  logger,
		ZLogger: &zlog,
		Sink:    sink,
		OnAlert: func(a core.Alert) {
			logger.Warn("alert", "kind", a.Kind, "entity", a.EntityID, "severity", a.Severity, "message", a.Message)
		},
	})
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	current.Store(sess)

	if cfg.Render.SnapshotFile != "" {
		go snapshotLoop(ctx, collector, cfg.Render.SnapshotFile, cfg.Render.SnapshotInterval, logger)
	}

	logger.Info("watching", "url", cfg.Transport.URL, "history", cfg.History.Source, "assets", cfg.AssetIDs)
	if err := sess.Run(ctx); err != nil {
		return err
	}
	if cfg.Render.SnapshotFile != "" {
		if err := writeSnapshot(collector, cfg.Render.SnapshotFile); err != nil {
			logger.Warn("final snapshot", "error", err)
		}
	}
	if err := slogManager.Flush(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(stderr, "log flush: %v\n", err)
	}
	return nil
}

func otelLogProvider(p *intOtel.Provider) *sdklog.LoggerProvider {
	if p == nil {
		return nil
	}
	return p.LoggerProvider()
}

func snapshotLoop(ctx context.Context, c *render.Collector, path string, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeSnapshot(c, path); err != nil {
				logger.Warn("snapshot failed", "path", path, "error", err)
			}
		}
	}
}

// writeSnapshot replaces path with the collector's GeoJSON. The file is
// written next to the target and renamed so readers never see a partial file.
func writeSnapshot(c *render.Collector, path string) error {
	data, err := c.GeoJSON()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("snapshot temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
