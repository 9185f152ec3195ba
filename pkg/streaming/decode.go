package streaming

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/geotrack/livetrack/pkg/core"
)

var (
	// ErrMalformed is wrapped by every decoding failure.
	ErrMalformed = errors.New("malformed event")
	// ErrUnknownType is returned for envelope tags no sub-stream accepts.
	ErrUnknownType = errors.New("unknown event type")
)

// positionPayload accepts both the flat position response shape and the
// processed PositionUpdated shape that nests coordinates under "position".
type positionPayload struct {
	AssetID     string           `json:"assetId"`
	EntityID    string           `json:"entityId"`
	Latitude    *float64         `json:"latitude"`
	Longitude   *float64         `json:"longitude"`
	Altitude    float64          `json:"altitude"`
	Speed       float64          `json:"speed"`
	Heading     float64          `json:"heading"`
	Timestamp   json.RawMessage  `json:"timestamp"`
	TimestampMs json.RawMessage  `json:"timestampMs"`
	Source      string           `json:"source"`
	Position    *positionPayload `json:"position"`
}

type alertPayload struct {
	ID              string           `json:"id"`
	EventID         string           `json:"eventId"`
	AssetID         string           `json:"assetId"`
	GeofenceID      string           `json:"geofenceId"`
	GeofenceName    string           `json:"geofenceName"`
	Severity        string           `json:"severity"`
	Message         string           `json:"message"`
	CurrentSpeedKmh float64          `json:"currentSpeedKmh"`
	LimitKmh        float64          `json:"limitKmh"`
	Position        *positionPayload `json:"position"`
	CreatedAt       json.RawMessage  `json:"createdAt"`
	OccurredAt      json.RawMessage  `json:"occurredAt"`
}

// Decoder turns raw envelopes into typed payloads.
type Decoder struct {
	now      func() time.Time
	validate *validator.Validate
}

// NewDecoder creates a decoder. now supplies the receive time used when a
// payload carries no timestamp; nil means time.Now.
func NewDecoder(now func() time.Time) *Decoder {
	if now == nil {
		now = time.Now
	}
	return &Decoder{
		now:      now,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Envelope decodes the outer frame.
func (d *Decoder) Envelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

// Position decodes a POSITION_UPDATED payload.
func (d *Decoder) Position(raw json.RawMessage) (core.PositionSample, error) {
	if isNull(raw) {
		return core.PositionSample{}, fmt.Errorf("%w: empty position payload", ErrMalformed)
	}
	var p positionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return core.PositionSample{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return d.sample(&p)
}

// Alert decodes an alert payload of the given kind.
func (d *Decoder) Alert(kind string, raw json.RawMessage) (core.Alert, error) {
	if !IsAlertType(kind) {
		return core.Alert{}, fmt.Errorf("%w: %q", ErrUnknownType, kind)
	}
	if isNull(raw) {
		return core.Alert{}, fmt.Errorf("%w: empty alert payload", ErrMalformed)
	}
	var p alertPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return core.Alert{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.AssetID == "" {
		return core.Alert{}, fmt.Errorf("%w: alert without assetId", ErrMalformed)
	}

	a := core.Alert{
		ID:           p.ID,
		Kind:         core.AlertKind(kind),
		EntityID:     p.AssetID,
		GeofenceID:   p.GeofenceID,
		GeofenceName: p.GeofenceName,
		Severity:     core.Severity(p.Severity),
		Message:      p.Message,
		SpeedKmh:     p.CurrentSpeedKmh,
		LimitKmh:     p.LimitKmh,
		Raw:          append(json.RawMessage(nil), raw...),
	}
	if a.ID == "" {
		a.ID = p.EventID
	}

	created, ok, err := parseTimestamp(p.CreatedAt)
	if err == nil && !ok {
		created, ok, err = parseTimestamp(p.OccurredAt)
	}
	if err != nil {
		return core.Alert{}, err
	}
	if !ok {
		created = d.now().UnixMilli()
	}
	a.CreatedAtMs = created

	if p.Position != nil {
		if p.Position.AssetID == "" && p.Position.EntityID == "" {
			p.Position.AssetID = p.AssetID
		}
		pos, err := d.sample(p.Position)
		if err != nil {
			return core.Alert{}, err
		}
		a.Position = &pos
	}
	return a, nil
}

func (d *Decoder) sample(p *positionPayload) (core.PositionSample, error) {
	id := p.AssetID
	if id == "" {
		id = p.EntityID
	}
	src := p
	if p.Position != nil {
		src = p.Position
		if id == "" {
			id = src.AssetID
		}
		if id == "" {
			id = src.EntityID
		}
	}
	if src.Latitude == nil || src.Longitude == nil {
		return core.PositionSample{}, fmt.Errorf("%w: position without coordinates", ErrMalformed)
	}

	ts, ok, err := parseTimestamp(src.TimestampMs)
	if err == nil && !ok {
		ts, ok, err = parseTimestamp(src.Timestamp)
	}
	if err != nil {
		return core.PositionSample{}, err
	}
	if !ok {
		ts = d.now().UnixMilli()
	}

	source := src.Source
	if source == "" {
		source = p.Source
	}

	s := core.PositionSample{
		EntityID:    id,
		Latitude:    *src.Latitude,
		Longitude:   *src.Longitude,
		Altitude:    src.Altitude,
		SpeedKmh:    src.Speed,
		HeadingDeg:  src.Heading,
		TimestampMs: ts,
		Source:      source,
	}
	if err := d.validate.Struct(s); err != nil {
		return core.PositionSample{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return s, nil
}

// parseTimestamp accepts an RFC3339 string or a number of epoch milliseconds.
// ok is false when the field is absent.
func parseTimestamp(raw json.RawMessage) (ms int64, ok bool, err error) {
	if isNull(raw) {
		return 0, false, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false, fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
		}
		if s == "" {
			return 0, false, nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return 0, false, fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
		}
		return t.UnixMilli(), true, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false, fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
	}
	return int64(f), true, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
