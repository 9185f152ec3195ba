package history

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/geotrack/livetrack/internal/database"
	"github.com/geotrack/livetrack/internal/geo"
	"github.com/geotrack/livetrack/pkg/core"
)

// PositionRecord mirrors the geotrack positions table for SQLite, where the
// PostGIS location column is replaced by plain latitude and longitude.
type PositionRecord struct {
	ID         uint      `gorm:"primaryKey"`
	AssetID    string    `gorm:"index:idx_positions_asset_time,priority:1;not null"`
	Latitude   float64   `gorm:"not null"`
	Longitude  float64   `gorm:"not null"`
	Altitude   *float64
	Speed      *float64
	Heading    *float64
	Accuracy   *float64
	Source     string
	Timestamp  time.Time `gorm:"index:idx_positions_asset_time,priority:2;not null"`
	ReceivedAt time.Time
	Metadata   datatypes.JSON
}

func (PositionRecord) TableName() string { return "positions" }

type positionRow struct {
	AssetID   string
	Latitude  float64
	Longitude float64
	Altitude  *float64
	Speed     *float64
	Heading   *float64
	Source    *string
	Timestamp time.Time
}

// DBSource reads bootstrap data straight from the geotrack database.
type DBSource struct {
	db      *gorm.DB
	limit   int
	columns string
	assetID string
}

// NewDBSource wraps db. limit caps the rows returned per history query;
// zero means 1000.
func NewDBSource(db *gorm.DB, limit int) *DBSource {
	if limit <= 0 {
		limit = 1000
	}
	s := &DBSource{db: db, limit: limit}
	if database.IsPostgres(db) {
		s.columns = "p.asset_id::text AS asset_id, ST_Y(p.location) AS latitude, ST_X(p.location) AS longitude, " +
			"p.altitude, p.speed, p.heading, p.source, p.timestamp"
		s.assetID = "p.asset_id::text"
	} else {
		s.columns = "p.asset_id, p.latitude, p.longitude, p.altitude, p.speed, p.heading, p.source, p.timestamp"
		s.assetID = "p.asset_id"
	}
	return s
}

// LatestPositions returns the newest row of every asset, newest first.
func (s *DBSource) LatestPositions(ctx context.Context) ([]core.PositionSample, error) {
	var rows []positionRow
	err := s.db.WithContext(ctx).
		Table("positions AS p").
		Select(s.columns).
		Where("p.timestamp = (SELECT MAX(p2.timestamp) FROM positions p2 WHERE p2.asset_id = p.asset_id)").
		Order("p.timestamp DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("querying latest positions: %w", err)
	}
	return toSamples(rows), nil
}

// PositionHistory returns an asset's rows in [from, to], oldest first,
// capped at the configured limit (the newest rows win).
func (s *DBSource) PositionHistory(ctx context.Context, assetID string, from, to time.Time) ([]core.PositionSample, error) {
	q := s.db.WithContext(ctx).
		Table("positions AS p").
		Select(s.columns).
		Where(s.assetID+" = ?", assetID)
	if !from.IsZero() {
		q = q.Where("p.timestamp >= ?", from.UTC())
	}
	if !to.IsZero() {
		q = q.Where("p.timestamp <= ?", to.UTC())
	}

	var rows []positionRow
	if err := q.Order("p.timestamp DESC").Limit(s.limit).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying history of %s: %w", assetID, err)
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return toSamples(rows), nil
}

// toSamples drops rows with out-of-range or null-island coordinates.
func toSamples(rows []positionRow) []core.PositionSample {
	out := make([]core.PositionSample, 0, len(rows))
	for _, r := range rows {
		if geo.Validate(r.Latitude, r.Longitude) != nil || geo.IsNullIsland(r.Latitude, r.Longitude) {
			continue
		}
		s := core.PositionSample{
			EntityID:    r.AssetID,
			Latitude:    r.Latitude,
			Longitude:   r.Longitude,
			TimestampMs: r.Timestamp.UnixMilli(),
		}
		if r.Altitude != nil {
			s.Altitude = *r.Altitude
		}
		if r.Speed != nil {
			s.SpeedKmh = *r.Speed
		}
		if r.Heading != nil {
			s.HeadingDeg = *r.Heading
		}
		if r.Source != nil {
			s.Source = *r.Source
		}
		out = append(out, s)
	}
	return out
}
