package alertlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/geotrack/livetrack/pkg/core"
)

// ErrNotFound is returned when acknowledging an unknown alert.
var ErrNotFound = errors.New("alert not found")

// Record is one stored alert.
type Record struct {
	ID             string `gorm:"primaryKey"`
	AssetID        string `gorm:"index;not null"`
	Kind           string `gorm:"index;not null"`
	GeofenceID     string
	GeofenceName   string
	Severity       string
	Message        string
	SpeedKmh       float64
	LimitKmh       float64
	Latitude       *float64
	Longitude      *float64
	CreatedAt      time.Time `gorm:"index"`
	Acknowledged   bool      `gorm:"index"`
	AcknowledgedBy string
	AcknowledgedAt *time.Time
	Raw            datatypes.JSON
}

func (Record) TableName() string { return "session_alerts" }

// Alert converts the record back to the wire shape.
func (r Record) Alert() core.Alert {
	a := core.Alert{
		ID:           r.ID,
		Kind:         core.AlertKind(r.Kind),
		EntityID:     r.AssetID,
		GeofenceID:   r.GeofenceID,
		GeofenceName: r.GeofenceName,
		Severity:     core.Severity(r.Severity),
		Message:      r.Message,
		SpeedKmh:     r.SpeedKmh,
		LimitKmh:     r.LimitKmh,
		CreatedAtMs:  r.CreatedAt.UnixMilli(),
	}
	if len(r.Raw) > 0 {
		a.Raw = []byte(r.Raw)
	}
	if r.Latitude != nil && r.Longitude != nil {
		a.Position = &core.PositionSample{
			EntityID:    r.AssetID,
			Latitude:    *r.Latitude,
			Longitude:   *r.Longitude,
			TimestampMs: a.CreatedAtMs,
		}
	}
	return a
}

// Log keeps the alerts of one session. It is backed by whatever gorm
// database it is given; sessions use a private in-memory SQLite.
type Log struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// New migrates the alert table and returns a Log.
func New(db *gorm.DB, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrating alert log: %w", err)
	}
	return &Log{db: db, logger: logger, now: time.Now}, nil
}

// Record stores an alert. Alerts without an id get one; an id already
// stored is ignored.
func (l *Log) Record(ctx context.Context, a core.Alert) (string, error) {
	id := a.ID
	if id == "" {
		id = uuid.NewString()
	}
	rec := Record{
		ID:           id,
		AssetID:      a.EntityID,
		Kind:         string(a.Kind),
		GeofenceID:   a.GeofenceID,
		GeofenceName: a.GeofenceName,
		Severity:     string(a.Severity),
		Message:      a.Message,
		SpeedKmh:     a.SpeedKmh,
		LimitKmh:     a.LimitKmh,
		CreatedAt:    time.UnixMilli(a.CreatedAtMs).UTC(),
	}
	if len(a.Raw) > 0 {
		rec.Raw = datatypes.JSON(a.Raw)
	}
	if a.Position != nil {
		lat, lng := a.Position.Latitude, a.Position.Longitude
		rec.Latitude, rec.Longitude = &lat, &lng
	}

	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
	if err != nil {
		return "", fmt.Errorf("storing alert %s: %w", id, err)
	}
	return id, nil
}

// Handler returns a multiplexer callback that records every alert.
func (l *Log) Handler() func(core.Alert) {
	return func(a core.Alert) {
		if _, err := l.Record(context.Background(), a); err != nil {
			l.logger.Error("failed to record alert", "kind", a.Kind, "entity", a.EntityID, "error", err)
		}
	}
}

// Recent returns up to n alerts, newest first.
func (l *Log) Recent(ctx context.Context, n int) ([]Record, error) {
	var recs []Record
	err := l.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id").
		Limit(n).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	return recs, nil
}

// Unacknowledged returns every alert not yet acknowledged, newest first.
func (l *Log) Unacknowledged(ctx context.Context) ([]Record, error) {
	var recs []Record
	err := l.db.WithContext(ctx).
		Where("acknowledged = ?", false).
		Order("created_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("listing unacknowledged alerts: %w", err)
	}
	return recs, nil
}

// CountByKind returns the number of stored alerts per kind.
func (l *Log) CountByKind(ctx context.Context) (map[core.AlertKind]int64, error) {
	var rows []struct {
		Kind  string
		Total int64
	}
	err := l.db.WithContext(ctx).
		Model(&Record{}).
		Select("kind, COUNT(*) AS total").
		Group("kind").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting alerts: %w", err)
	}
	out := make(map[core.AlertKind]int64, len(rows))
	for _, r := range rows {
		out[core.AlertKind(r.Kind)] = r.Total
	}
	return out, nil
}

// Count returns the total number of stored alerts.
func (l *Log) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := l.db.WithContext(ctx).Model(&Record{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting alerts: %w", err)
	}
	return n, nil
}

// Acknowledge marks an alert as handled by user.
func (l *Log) Acknowledge(ctx context.Context, id, user string) error {
	if user == "" {
		user = "operator"
	}
	at := l.now().UTC()
	res := l.db.WithContext(ctx).
		Model(&Record{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"acknowledged":    true,
			"acknowledged_by": user,
			"acknowledged_at": at,
		})
	if res.Error != nil {
		return fmt.Errorf("acknowledging alert %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
