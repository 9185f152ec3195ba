package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	ConfigName = "livetrack.cfg.json"
	EnvPrefix  = "LIVETRACK"
)

// TransportConfig holds the live stream connection settings.
type TransportConfig struct {
	URL              string        `validate:"required,url"`
	ReconnectBackoff time.Duration `validate:"gt=0"`
	WriteWait        time.Duration `validate:"gt=0"`
	SendBuffer       int           `validate:"gt=0"`
}

type APIConfig struct {
	URL     string        `validate:"required,url"`
	Timeout time.Duration `validate:"gt=0"`
}

// HistoryConfig selects where the bootstrap reads latest positions and
// trail history from.
type HistoryConfig struct {
	Source      string        `validate:"oneof=api postgres none"`
	Window      time.Duration `validate:"gte=0"`
	Parallelism int           `validate:"gt=0"`
	Limit       int           `validate:"gt=0"`
}

type TrailConfig struct {
	MaxPoints     int           `validate:"gt=0"`
	MaxAge        time.Duration `validate:"gt=0"`
	DecayInterval time.Duration `validate:"gt=0"`
}

type DBConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	SSLMode  string
}

// AlertsConfig controls the session alert log. An empty DSN keeps the log
// in an in-memory sqlite database.
type AlertsConfig struct {
	Enabled bool
	DSN     string
}

type StatusConfig struct {
	Interval time.Duration `validate:"gte=0"`
	File     string
}

type RenderConfig struct {
	Projection       string        `validate:"oneof=wgs84 webmercator"`
	SnapshotFile     string
	SnapshotInterval time.Duration `validate:"gt=0"`
}

type InfluxConfig struct {
	Enabled    bool
	URL        string `validate:"omitempty,url"`
	Token      string
	Org        string
	Bucket     string
	BackupPath string
}

type GraylogConfig struct {
	Enabled bool
	Address string `validate:"required_if=Enabled true"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// Config is the full, validated configuration of one session.
type Config struct {
	Session   string `validate:"required"`
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogsDir   string
	Transport TransportConfig
	API       APIConfig
	History   HistoryConfig
	Trail     TrailConfig
	AssetIDs  []string
	DB        DBConfig
	Alerts    AlertsConfig
	Status    StatusConfig
	Render    RenderConfig
	Influx    InfluxConfig
	Graylog   GraylogConfig
	OTel      OTelConfig
}

// Load reads configuration from the JSON file in configDir, if present, and
// sets default values. Environment variables prefixed LIVETRACK_ override
// both, with dots in keys replaced by underscores.
func Load(configDir string) error {
	setDefaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(ConfigName)
	viper.SetConfigType("json")
	if configDir != "" {
		viper.AddConfigPath(configDir)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %v", err)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("session", "livetrack")
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./livetracklogs")

	viper.SetDefault("transport.url", "ws://localhost:8080/ws/tracking")
	viper.SetDefault("transport.reconnectBackoff", "3s")
	viper.SetDefault("transport.writeWait", "10s")
	viper.SetDefault("transport.sendBuffer", 1024)

	viper.SetDefault("api.url", "http://localhost:8080/api/v1")
	viper.SetDefault("api.timeout", "30s")

	viper.SetDefault("history.source", "api")
	viper.SetDefault("history.window", "30m")
	viper.SetDefault("history.parallelism", 4)
	viper.SetDefault("history.limit", 1000)

	viper.SetDefault("trail.maxPoints", 200)
	viper.SetDefault("trail.maxAge", "30m")
	viper.SetDefault("trail.decayInterval", "15s")

	viper.SetDefault("subscribe.assetIds", []string{})

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "geotrack")
	viper.SetDefault("db.sslmode", "disable")

	viper.SetDefault("alerts.enabled", true)
	viper.SetDefault("alerts.dsn", "")

	viper.SetDefault("status.interval", "10s")
	viper.SetDefault("status.file", "")

	viper.SetDefault("render.projection", "wgs84")
	viper.SetDefault("render.snapshotFile", "")
	viper.SetDefault("render.snapshotInterval", "5s")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.url", "http://localhost:8086")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "geotrack")
	viper.SetDefault("influx.bucket", "livetrack")
	viper.SetDefault("influx.backupPath", "")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "livetrack")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetTransportConfig returns the live stream settings.
func GetTransportConfig() TransportConfig {
	return TransportConfig{
		URL:              viper.GetString("transport.url"),
		ReconnectBackoff: viper.GetDuration("transport.reconnectBackoff"),
		WriteWait:        viper.GetDuration("transport.writeWait"),
		SendBuffer:       viper.GetInt("transport.sendBuffer"),
	}
}

func GetAPIConfig() APIConfig {
	return APIConfig{
		URL:     viper.GetString("api.url"),
		Timeout: viper.GetDuration("api.timeout"),
	}
}

func GetHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Source:      viper.GetString("history.source"),
		Window:      viper.GetDuration("history.window"),
		Parallelism: viper.GetInt("history.parallelism"),
		Limit:       viper.GetInt("history.limit"),
	}
}

func GetTrailConfig() TrailConfig {
	return TrailConfig{
		MaxPoints:     viper.GetInt("trail.maxPoints"),
		MaxAge:        viper.GetDuration("trail.maxAge"),
		DecayInterval: viper.GetDuration("trail.decayInterval"),
	}
}

// GetAssetIDs returns the subscription filter, dropping blanks. A comma
// separated string is accepted so the filter can come from the environment.
func GetAssetIDs() []string {
	raw := viper.GetStringSlice("subscribe.assetIds")
	var ids []string
	for _, r := range raw {
		for _, id := range strings.Split(r, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func GetDBConfig() DBConfig {
	return DBConfig{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
		SSLMode:  viper.GetString("db.sslmode"),
	}
}

func GetAlertsConfig() AlertsConfig {
	return AlertsConfig{
		Enabled: viper.GetBool("alerts.enabled"),
		DSN:     viper.GetString("alerts.dsn"),
	}
}

func GetStatusConfig() StatusConfig {
	return StatusConfig{
		Interval: viper.GetDuration("status.interval"),
		File:     viper.GetString("status.file"),
	}
}

func GetRenderConfig() RenderConfig {
	return RenderConfig{
		Projection:       strings.ToLower(viper.GetString("render.projection")),
		SnapshotFile:     viper.GetString("render.snapshotFile"),
		SnapshotInterval: viper.GetDuration("render.snapshotInterval"),
	}
}

func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:    viper.GetBool("influx.enabled"),
		URL:        viper.GetString("influx.url"),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		Bucket:     viper.GetString("influx.bucket"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetOTelConfig returns the OpenTelemetry configuration
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// Get assembles and validates the full configuration.
func Get() (Config, error) {
	cfg := Config{
		Session:   viper.GetString("session"),
		LogLevel:  strings.ToLower(viper.GetString("logLevel")),
		LogsDir:   viper.GetString("logsDir"),
		Transport: GetTransportConfig(),
		API:       GetAPIConfig(),
		History:   GetHistoryConfig(),
		Trail:     GetTrailConfig(),
		AssetIDs:  GetAssetIDs(),
		DB:        GetDBConfig(),
		Alerts:    GetAlertsConfig(),
		Status:    GetStatusConfig(),
		Render:    GetRenderConfig(),
		Influx:    GetInfluxConfig(),
		Graylog:   GetGraylogConfig(),
		OTel:      GetOTelConfig(),
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks a Config against its field constraints.
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
