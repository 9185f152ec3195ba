package history

import (
	"context"
	"sort"
	"time"

	"github.com/geotrack/livetrack/pkg/core"
)

// Source supplies the bootstrap data for a session: the latest fix of every
// asset and per-asset position history.
type Source interface {
	LatestPositions(ctx context.Context) ([]core.PositionSample, error)
	PositionHistory(ctx context.Context, assetID string, from, to time.Time) ([]core.PositionSample, error)
}

// None is a Source with no data. Sessions using it start empty and are
// populated by live traffic only.
type None struct{}

func (None) LatestPositions(context.Context) ([]core.PositionSample, error) { return nil, nil }

func (None) PositionHistory(context.Context, string, time.Time, time.Time) ([]core.PositionSample, error) {
	return nil, nil
}

// Trail orders history samples oldest first and converts them to trail
// points, keeping only samples strictly older than beforeMs so the latest
// fix is not duplicated. The input is not modified.
func Trail(samples []core.PositionSample, beforeMs int64) []core.TrailPoint {
	sorted := make([]core.PositionSample, 0, len(samples))
	for _, s := range samples {
		if s.TimestampMs < beforeMs {
			sorted = append(sorted, s)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TimestampMs < sorted[j].TimestampMs })

	points := make([]core.TrailPoint, len(sorted))
	for i, s := range sorted {
		points[i] = s.TrailPoint()
	}
	return points
}
