package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFilePath(t *testing.T) {
	sessionStart := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	tests := []struct {
		name    string
		logsDir string
		session string
		want    string
	}{
		{
			name:    "basic path",
			logsDir: "livetracklogs",
			session: "livetrack",
			want:    filepath.Join("livetracklogs", "livetrack.20260212_213836.log"),
		},
		{
			name:    "relative path with dot",
			logsDir: "./livetracklogs",
			session: "livetrack",
			want:    filepath.Join(".", "livetracklogs", "livetrack.20260212_213836.log"),
		},
		{
			name:    "absolute path",
			logsDir: filepath.Join("/var", "log", "livetrack"),
			session: "ops-north",
			want:    filepath.Join("/var", "log", "livetrack", "ops-north.20260212_213836.log"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LogFilePath(tt.logsDir, tt.session, sessionStart)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livetrack.log")
	f := RotatingFile(path)

	_, err := f.Write([]byte("line\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(data))
	assert.True(t, f.Compress)
}
