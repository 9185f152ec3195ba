package influx

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectDisabled(t *testing.T) {
	m := NewManager(zerolog.Nop(), Config{})
	assert.ErrorIs(t, m.Connect(context.Background()), ErrDisabled)
}

func TestConnectFallsBackToBackupFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.lp.gz")
	m := NewManager(zerolog.Nop(), Config{
		Enabled:    true,
		URL:        "http://127.0.0.1:1",
		Org:        "geotrack",
		Bucket:     "livetrack",
		BackupPath: path,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Connect(ctx))
	assert.False(t, m.IsValid)

	at := time.UnixMilli(1_700_000_000_000)
	point := influxdb2_write.NewPoint("livetrack_session",
		map[string]string{"session": "s1"},
		map[string]any{"entities": 3, "connected": true},
		at)
	require.NoError(t, m.WritePoint(ctx, point))
	require.NoError(t, m.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)

	line := string(data)
	assert.Contains(t, line, "livetrack_session,session=s1")
	assert.Contains(t, line, "entities=3i")
	assert.Contains(t, line, "connected=true")
	assert.Contains(t, line, " 1700000000000\n")
}

func TestConnectUnreachableWithoutBackup(t *testing.T) {
	m := NewManager(zerolog.Nop(), Config{Enabled: true, URL: "http://127.0.0.1:1"})
	defer m.Close()

	assert.Error(t, m.Connect(context.Background()))
	assert.Error(t, m.WritePoint(context.Background(), influxdb2_write.NewPointWithMeasurement("x")))
}

func TestNewManagerDefaults(t *testing.T) {
	m := NewManager(zerolog.Nop(), Config{})
	assert.Equal(t, uint(500), m.cfg.BatchSize)
	assert.Equal(t, time.Second, m.cfg.FlushInterval)
	assert.Equal(t, 30, m.cfg.RetentionDays)
}
