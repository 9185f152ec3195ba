package mux

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geotrack/livetrack/pkg/core"
	"github.com/geotrack/livetrack/pkg/streaming"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) log(level, msg string, keysAndValues []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("%s: %s %v", level, msg, keysAndValues))
}

func (l *testLogger) Debug(msg string, kv ...any) { l.log("DEBUG", msg, kv) }
func (l *testLogger) Info(msg string, kv ...any)  { l.log("INFO", msg, kv) }
func (l *testLogger) Warn(msg string, kv ...any)  { l.log("WARN", msg, kv) }
func (l *testLogger) Error(msg string, kv ...any) { l.log("ERROR", msg, kv) }

func (l *testLogger) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func newTestMux(t *testing.T) (*Multiplexer, *testLogger) {
	t.Helper()
	logger := &testLogger{}
	m, err := New(logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m, logger
}

func positionFrame(id string, ts int64) []byte {
	return []byte(fmt.Sprintf(
		`{"type":"POSITION_UPDATED","payload":{"assetId":%q,"latitude":1,"longitude":2,"timestamp":%d}}`,
		id, ts))
}

// recorder collects delivered samples in order.
type recorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *recorder) add(s core.PositionSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, s.EntityID)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func TestMultiplexer_FanOutPreservesOrder(t *testing.T) {
	m, _ := newTestMux(t)

	var first, second recorder
	m.SubscribePositions("first", first.add)
	m.SubscribePositions("second", second.add)

	for i, id := range []string{"A", "B", "C"} {
		require.NoError(t, m.Dispatch(positionFrame(id, int64(i))))
	}

	want := []string{"A", "B", "C"}
	assert.Eventually(t, func() bool { return len(first.get()) == 3 && len(second.get()) == 3 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, want, first.get())
	assert.Equal(t, want, second.get())
	assert.Equal(t, int64(3), m.Stats().Dispatched)
}

func TestMultiplexer_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	m, _ := newTestMux(t)

	release := make(chan struct{})
	var slow recorder
	m.SubscribePositions("slow", func(s core.PositionSample) {
		<-release
		slow.add(s)
	})
	var fast recorder
	m.SubscribePositions("fast", fast.add)

	const n = 100
	for i := 0; i < n; i++ {
		require.NoError(t, m.Dispatch(positionFrame(fmt.Sprintf("E%d", i), int64(i))))
	}

	assert.Eventually(t, func() bool { return len(fast.get()) == n }, time.Second, 5*time.Millisecond)
	assert.Empty(t, slow.get())

	close(release)
	assert.Eventually(t, func() bool { return len(slow.get()) == n }, time.Second, 5*time.Millisecond)
	assert.Equal(t, fast.get(), slow.get())
}

func TestMultiplexer_RoutesAlerts(t *testing.T) {
	m, _ := newTestMux(t)

	var positions atomic.Int32
	m.SubscribePositions("positions", func(core.PositionSample) { positions.Add(1) })

	alerts := make(chan core.Alert, 4)
	m.SubscribeAlerts("alerts", func(a core.Alert) { alerts <- a })

	require.NoError(t, m.Dispatch([]byte(`{"type":"GEOFENCE_EXITED","payload":{"eventId":"e1","assetId":"A","geofenceName":"Yard"}}`)))
	require.NoError(t, m.Dispatch([]byte(`{"type":"SPEED_EXCEEDED","payload":{"id":"s1","assetId":"B","currentSpeedKmh":90,"limitKmh":50}}`)))

	select {
	case a := <-alerts:
		assert.Equal(t, core.AlertGeofenceExited, a.Kind)
		assert.Equal(t, "Yard", a.GeofenceName)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for geofence alert")
	}
	select {
	case a := <-alerts:
		assert.Equal(t, core.AlertSpeedExceeded, a.Kind)
		assert.Equal(t, "B", a.EntityID)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for speed alert")
	}
	assert.Equal(t, int32(0), positions.Load())
}

func TestMultiplexer_DropsMalformedFrames(t *testing.T) {
	m, logger := newTestMux(t)

	var got recorder
	m.SubscribePositions("rec", got.add)

	frames := []string{
		`not json`,
		`{"payload":{}}`,
		`{"type":"ASSET_OFFLINE","payload":{}}`,
		`{"type":"POSITION_UPDATED","payload":null}`,
		`{"type":"POSITION_UPDATED","payload":{"assetId":"A","latitude":123,"longitude":0}}`,
		`{"type":"GEOFENCE_BREACHED","payload":{"geofenceId":"g"}}`,
	}
	for _, f := range frames {
		assert.Error(t, m.Dispatch([]byte(f)), f)
	}

	require.NoError(t, m.Dispatch(positionFrame("OK", 1)))
	assert.Eventually(t, func() bool { return len(got.get()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"OK"}, got.get())

	stats := m.Stats()
	assert.Equal(t, int64(len(frames)), stats.Dropped)
	assert.Equal(t, int64(1), stats.Dispatched)
	assert.True(t, logger.contains("dropping inbound frame"))
	assert.True(t, logger.contains(ReasonUnknownType))
}

func TestMultiplexer_UnknownTypeIsWrapped(t *testing.T) {
	m, _ := newTestMux(t)

	err := m.Dispatch([]byte(`{"type":"ASSET_OFFLINE","payload":{}}`))
	assert.ErrorIs(t, err, streaming.ErrUnknownType)
}

func TestMultiplexer_PanickingSubscriberKeepsDraining(t *testing.T) {
	m, logger := newTestMux(t)

	var got recorder
	m.SubscribePositions("flaky", func(s core.PositionSample) {
		if s.EntityID == "BOOM" {
			panic("render failed")
		}
		got.add(s)
	})

	require.NoError(t, m.Dispatch(positionFrame("A", 1)))
	require.NoError(t, m.Dispatch(positionFrame("BOOM", 2)))
	require.NoError(t, m.Dispatch(positionFrame("C", 3)))

	assert.Eventually(t, func() bool { return len(got.get()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"A", "C"}, got.get())
	assert.True(t, logger.contains("subscriber panicked"))
}

func TestMultiplexer_SubscriptionClose(t *testing.T) {
	m, _ := newTestMux(t)

	var kept, closed recorder
	m.SubscribePositions("kept", kept.add)
	sub := m.SubscribePositions("closed", closed.add)
	assert.NotEmpty(t, sub.ID())
	assert.Equal(t, TopicPositions, sub.Topic())
	assert.Equal(t, "closed", sub.Name())

	require.NoError(t, m.Dispatch(positionFrame("A", 1)))
	assert.Eventually(t, func() bool { return len(closed.get()) == 1 }, time.Second, 5*time.Millisecond)

	sub.Close()
	sub.Close()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription goroutine did not exit")
	}

	require.NoError(t, m.Dispatch(positionFrame("B", 2)))
	assert.Eventually(t, func() bool { return len(kept.get()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"A"}, closed.get())
	assert.Equal(t, 1, m.Stats().Subscribers)
}

func TestMultiplexer_Close(t *testing.T) {
	m, _ := newTestMux(t)

	sub := m.SubscribePositions("rec", func(core.PositionSample) {})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Close(ctx))

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscriber still running after Close")
	}

	assert.ErrorIs(t, m.Dispatch(positionFrame("A", 1)), ErrClosed)
	assert.Equal(t, int64(1), m.Stats().Dropped)

	late := m.SubscribeAlerts("late", func(core.Alert) {})
	select {
	case <-late.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription after Close should exit immediately")
	}
}

func TestMultiplexer_FrameHandlerUsesReceiveClock(t *testing.T) {
	logger := &testLogger{}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m, err := New(logger, WithClock(func() time.Time { return at }), Logged())
	require.NoError(t, err)
	defer func() { _ = m.Close(context.Background()) }()

	samples := make(chan core.PositionSample, 1)
	m.SubscribePositions("rec", func(s core.PositionSample) { samples <- s })

	m.FrameHandler()([]byte(`{"type":"POSITION_UPDATED","payload":{"assetId":"A","latitude":1,"longitude":2}}`))

	select {
	case s := <-samples:
		assert.Equal(t, at.UnixMilli(), s.TimestampMs)
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
	assert.True(t, logger.contains("position routed"))
}

func TestMultiplexer_SplitsMixedStream(t *testing.T) {
	for _, subscribers := range []int{1, 3} {
		t.Run(fmt.Sprintf("%d subscribers", subscribers), func(t *testing.T) {
			m, _ := newTestMux(t)

			positions := make([]*recorder, subscribers)
			alerts := make([]*recorder, subscribers)
			for i := range subscribers {
				positions[i] = &recorder{}
				alerts[i] = &recorder{}
				m.SubscribePositions(fmt.Sprintf("pos-%d", i), positions[i].add)
				a := alerts[i]
				m.SubscribeAlerts(fmt.Sprintf("alert-%d", i), func(al core.Alert) {
					a.add(core.PositionSample{EntityID: al.EntityID})
				})
			}

			require.NoError(t, m.Dispatch(positionFrame("A", 1)))
			require.NoError(t, m.Dispatch([]byte(`{"type":"SPEED_EXCEEDED","payload":{"assetId":"B","currentSpeedKmh":99,"limitKmh":60}}`)))
			require.NoError(t, m.Dispatch(positionFrame("C", 3)))

			for i := range subscribers {
				p, a := positions[i], alerts[i]
				assert.Eventually(t, func() bool { return len(p.get()) == 2 && len(a.get()) == 1 },
					time.Second, 5*time.Millisecond)
				assert.Equal(t, []string{"A", "C"}, p.get())
				assert.Equal(t, []string{"B"}, a.get())
			}
		})
	}
}
