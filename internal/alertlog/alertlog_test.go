package alertlog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geotrack/livetrack/internal/database"
	"github.com/geotrack/livetrack/pkg/core"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	db, err := database.OpenSqlite("")
	require.NoError(t, err)
	l, err := New(db, nil)
	require.NoError(t, err)
	return l
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func alert(id string, kind core.AlertKind, at time.Time) core.Alert {
	return core.Alert{
		ID:          id,
		Kind:        kind,
		EntityID:    "VAN-1",
		Severity:    core.SeverityHigh,
		Message:     "left depot",
		CreatedAtMs: at.UnixMilli(),
	}
}

func TestRecordAndRecent(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	a := alert("a1", core.AlertGeofenceBreached, t0)
	a.GeofenceName = "Depot"
	a.Position = &core.PositionSample{Latitude: 54.9, Longitude: -1.6}
	a.Raw = json.RawMessage(`{"eventId":"a1"}`)
	_, err := l.Record(ctx, a)
	require.NoError(t, err)
	_, err = l.Record(ctx, alert("a2", core.AlertSpeedExceeded, t0.Add(time.Minute)))
	require.NoError(t, err)

	recs, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a2", recs[0].ID)
	assert.Equal(t, "a1", recs[1].ID)

	got := recs[1].Alert()
	assert.Equal(t, core.AlertGeofenceBreached, got.Kind)
	assert.Equal(t, "Depot", got.GeofenceName)
	assert.Equal(t, t0.UnixMilli(), got.CreatedAtMs)
	require.NotNil(t, got.Position)
	assert.Equal(t, 54.9, got.Position.Latitude)
	assert.JSONEq(t, `{"eventId":"a1"}`, string(got.Raw))

	recs, err = l.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRecordDuplicateIgnored(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	_, err := l.Record(ctx, alert("dup", core.AlertGeofenceExited, t0))
	require.NoError(t, err)
	_, err = l.Record(ctx, alert("dup", core.AlertGeofenceExited, t0))
	require.NoError(t, err)

	n, err := l.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRecordGeneratesID(t *testing.T) {
	l := newTestLog(t)

	id, err := l.Record(context.Background(), alert("", core.AlertSpeedExceeded, t0))
	require.NoError(t, err)
	assert.Len(t, id, 36)
}

func TestCountByKind(t *testing.T) {
	l := newTestLog(t)
	handle := l.Handler()
	handle(alert("1", core.AlertSpeedExceeded, t0))
	handle(alert("2", core.AlertSpeedExceeded, t0))
	handle(alert("3", core.AlertGeofenceBreached, t0))

	counts, err := l.CountByKind(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[core.AlertKind]int64{
		core.AlertSpeedExceeded:    2,
		core.AlertGeofenceBreached: 1,
	}, counts)
}

func TestAcknowledge(t *testing.T) {
	l := newTestLog(t)
	l.now = func() time.Time { return t0.Add(time.Hour) }
	ctx := context.Background()

	_, err := l.Record(ctx, alert("a1", core.AlertGeofenceBreached, t0))
	require.NoError(t, err)
	_, err = l.Record(ctx, alert("a2", core.AlertGeofenceBreached, t0))
	require.NoError(t, err)

	require.NoError(t, l.Acknowledge(ctx, "a1", ""))

	open, err := l.Unacknowledged(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "a2", open[0].ID)

	recs, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	for _, r := range recs {
		if r.ID == "a1" {
			assert.True(t, r.Acknowledged)
			assert.Equal(t, "operator", r.AcknowledgedBy)
			require.NotNil(t, r.AcknowledgedAt)
			assert.True(t, r.AcknowledgedAt.Equal(t0.Add(time.Hour)))
		}
	}

	assert.ErrorIs(t, l.Acknowledge(ctx, "missing", "ops"), ErrNotFound)
}
