package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geotrack/livetrack/internal/config"
	"github.com/geotrack/livetrack/internal/geo"
	"github.com/geotrack/livetrack/internal/render"
	"github.com/geotrack/livetrack/pkg/core"
)

func TestWriteSnapshot(t *testing.T) {
	c := render.NewCollector(geo.WGS84)
	c.EntityCreated(core.EntityMarkerState{
		EntityID:     "TRUCK-1",
		IconKind:     core.IconVehicle,
		LastPosition: core.PositionSample{EntityID: "TRUCK-1", Latitude: 54.97, Longitude: -1.61},
	})

	path := filepath.Join(t.TempDir(), "live.geojson")
	require.NoError(t, writeSnapshot(c, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var fc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	assert.Len(t, fc.Features, 1)

	// overwrite leaves no temp files behind
	require.NoError(t, writeSnapshot(c, path))
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteSnapshot_MissingDir(t *testing.T) {
	c := render.NewCollector(geo.WGS84)
	assert.Error(t, writeSnapshot(c, filepath.Join(t.TempDir(), "nope", "live.geojson")))
}

func TestRootCommand_Config(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "livetrack.cfg.json"),
		[]byte(`{"trail": {"maxPoints": 50}}`), 0644))

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "--config-dir", dir, "--api", "http://api.example.com/v1"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "50 points")
	assert.Contains(t, out.String(), "http://api.example.com/v1")
}

func TestRootCommand_InvalidConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "livetrack.cfg.json"),
		[]byte(`{"history": {"source": "kafka"}}`), 0644))

	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"config", "--config-dir", dir})
	assert.Error(t, cmd.Execute())
}

func TestRootCommand_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range newRootCommand().Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["watch"])
	assert.True(t, names["check"])
	assert.True(t, names["config"])
}

func TestWatch_WritesSnapshot(t *testing.T) {
	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		frame := fmt.Sprintf(`{"type":"POSITION_UPDATED","payload":{"assetId":"TRUCK-1","latitude":54.97,"longitude":-1.61,"timestamp":%d}}`,
			time.Now().UnixMilli())
		_ = c.WriteMessage(ws.TextMessage, []byte(frame))
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	snapshot := filepath.Join(dir, "live.geojson")
	cfg := config.Config{
		Session:  "watch-test",
		LogLevel: "info",
		LogsDir:  filepath.Join(dir, "logs"),
		Transport: config.TransportConfig{
			URL:              "ws" + strings.TrimPrefix(srv.URL, "http"),
			ReconnectBackoff: 50 * time.Millisecond,
			WriteWait:        time.Second,
			SendBuffer:       16,
		},
		History: config.HistoryConfig{Source: "none", Parallelism: 1, Limit: 10},
		Trail:   config.TrailConfig{MaxPoints: 200, MaxAge: 30 * time.Minute, DecayInterval: time.Minute},
		Render:  config.RenderConfig{Projection: "webmercator", SnapshotFile: snapshot, SnapshotInterval: 20 * time.Millisecond},
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- watch(ctx, cfg, io.Discard) }()

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(snapshot)
		return err == nil && bytes.Contains(data, []byte("TRUCK-1"))
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not return")
	}

	logs, err := os.ReadDir(cfg.LogsDir)
	require.NoError(t, err)
	assert.NotEmpty(t, logs)
}
