package config

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geotrack/livetrack/internal/api"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"transport": { "url": "wss://stream.example.com/ws", "reconnectBackoff": "5s" },
		"subscribe": { "assetIds": ["TRUCK-1", "DRONE-7"] },
		"db": { "host": "10.0.0.1", "port": "5433" }
	}`)
	require.NoError(t, Load(dir))

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, "10.0.0.1", viper.GetString("db.host"))
	assert.Equal(t, "5433", GetDBConfig().Port)

	tc := GetTransportConfig()
	assert.Equal(t, "wss://stream.example.com/ws", tc.URL)
	assert.Equal(t, 5*time.Second, tc.ReconnectBackoff)
	assert.Equal(t, []string{"TRUCK-1", "DRONE-7"}, GetAssetIDs())
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg, err := Get()
	require.NoError(t, err)

	assert.Equal(t, "livetrack", cfg.Session)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "./livetracklogs", cfg.LogsDir)
	assert.Equal(t, 3*time.Second, cfg.Transport.ReconnectBackoff)
	assert.Equal(t, 10*time.Second, cfg.Transport.WriteWait)
	assert.Equal(t, 1024, cfg.Transport.SendBuffer)
	assert.Equal(t, "http://localhost:8080/api/v1", cfg.API.URL)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, "api", cfg.History.Source)
	assert.Equal(t, 30*time.Minute, cfg.History.Window)
	assert.Equal(t, 4, cfg.History.Parallelism)
	assert.Equal(t, 200, cfg.Trail.MaxPoints)
	assert.Equal(t, 30*time.Minute, cfg.Trail.MaxAge)
	assert.Equal(t, 15*time.Second, cfg.Trail.DecayInterval)
	assert.Empty(t, cfg.AssetIDs)
	assert.Equal(t, "geotrack", cfg.DB.Database)
	assert.True(t, cfg.Alerts.Enabled)
	assert.Equal(t, "wgs84", cfg.Render.Projection)
	assert.False(t, cfg.Influx.Enabled)
	assert.False(t, cfg.Graylog.Enabled)
	assert.Equal(t, "localhost:12201", cfg.Graylog.Address)
	assert.False(t, cfg.OTel.Enabled)
	assert.Equal(t, "livetrack", cfg.OTel.ServiceName)
	assert.Equal(t, 5*time.Second, cfg.OTel.BatchTimeout)
	assert.True(t, cfg.OTel.Insecure)
}

func TestLoad_DefaultAPIURLMatchesServerRoutes(t *testing.T) {
	t.Cleanup(viper.Reset)

	var paths []string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/positions/latest", func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`[]`))
	})
	mux.HandleFunc("GET /api/v1/assets", func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`[]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	require.NoError(t, Load(t.TempDir()))
	cfg := GetAPIConfig()

	// Keep the default path, point the host at the test server.
	base, err := url.Parse(cfg.URL)
	require.NoError(t, err)
	target, err := url.Parse(srv.URL)
	require.NoError(t, err)
	base.Host = target.Host

	client := api.New(base.String(), time.Second)
	require.NoError(t, client.Healthcheck(context.Background()))
	_, err = client.Assets(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"/api/v1/positions/latest", "/api/v1/assets"}, paths)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(t.TempDir()))
	assert.Equal(t, 200, GetTrailConfig().MaxPoints)
}

func TestLoad_MalformedFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load(writeConfig(t, `{"logLevel": `))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("LIVETRACK_TRAIL_MAXPOINTS", "50")
	t.Setenv("LIVETRACK_SUBSCRIBE_ASSETIDS", "A, B,,C")

	require.NoError(t, Load(writeConfig(t, `{"trail": {"maxPoints": 100}}`)))

	assert.Equal(t, 50, GetTrailConfig().MaxPoints)
	assert.Equal(t, []string{"A", "B", "C"}, GetAssetIDs())
}

func TestGet_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad history source", `{"history": {"source": "kafka"}}`},
		{"zero max points", `{"trail": {"maxPoints": 0}}`},
		{"negative backoff", `{"transport": {"reconnectBackoff": "-1s"}}`},
		{"relative transport url", `{"transport": {"url": "not a url"}}`},
		{"unknown projection", `{"render": {"projection": "mollweide"}}`},
		{"unknown log level", `{"logLevel": "verbose"}`},
		{"graylog without address", `{"graylog": {"enabled": true, "address": ""}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(viper.Reset)
			require.NoError(t, Load(writeConfig(t, tt.body)))

			_, err := Get()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestGetString(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	assert.Equal(t, "testValue", GetString("testKey"))
}

func TestGetInt(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testInt", 42)
	assert.Equal(t, 42, GetInt("testInt"))
}

func TestGetBool(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testBool", true)
	assert.Equal(t, true, GetBool("testBool"))
}

func TestGetOTelConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{
		"otel": {
			"enabled": true,
			"serviceName": "my-service",
			"batchTimeout": "30s",
			"endpoint": "localhost:4318",
			"insecure": false
		}
	}`)))

	oc := GetOTelConfig()
	assert.Equal(t, true, oc.Enabled)
	assert.Equal(t, "my-service", oc.ServiceName)
	assert.Equal(t, 30*time.Second, oc.BatchTimeout)
	assert.Equal(t, "localhost:4318", oc.Endpoint)
	assert.Equal(t, false, oc.Insecure)
}
