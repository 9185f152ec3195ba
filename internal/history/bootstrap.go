package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/geotrack/livetrack/pkg/core"
)

// Seeder receives each asset's latest fix with its ordered backfill.
type Seeder interface {
	Seed(latest core.PositionSample, history []core.TrailPoint) bool
}

// BootstrapOptions tunes Bootstrap.
type BootstrapOptions struct {
	// Window is how far back history is fetched from each latest fix.
	Window time.Duration
	// Parallelism bounds concurrent history requests.
	Parallelism int
	Logger      *slog.Logger
}

// BootstrapResult summarizes a bootstrap run.
type BootstrapResult struct {
	Assets   int
	Seeded   int
	Failures int
}

// Bootstrap loads the latest fix of every asset, backfills each one's trail
// and hands both to the seeder. A failed history fetch leaves that asset with
// only its latest point; only the latest-positions call can fail the run.
func Bootstrap(ctx context.Context, src Source, seeder Seeder, opts BootstrapOptions) (BootstrapResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}

	latest, err := src.LatestPositions(ctx)
	if err != nil {
		return BootstrapResult{}, fmt.Errorf("loading latest positions: %w", err)
	}

	seen := make(map[string]bool, len(latest))
	var seeded, failures atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)
	for _, s := range latest {
		if seen[s.EntityID] {
			continue
		}
		seen[s.EntityID] = true

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var trail []core.TrailPoint
			if opts.Window > 0 {
				to := s.Time()
				samples, err := src.PositionHistory(gctx, s.EntityID, to.Add(-opts.Window), to)
				if err != nil {
					failures.Add(1)
					logger.Debug("history backfill failed", "entity", s.EntityID, "error", err)
				} else {
					trail = Trail(samples, s.TimestampMs)
				}
			}
			if seeder.Seed(s, trail) {
				seeded.Add(1)
			}
			return nil
		})
	}

	err = g.Wait()
	res := BootstrapResult{
		Assets:   len(seen),
		Seeded:   int(seeded.Load()),
		Failures: int(failures.Load()),
	}
	if err != nil {
		return res, fmt.Errorf("bootstrap interrupted: %w", err)
	}
	return res, nil
}
