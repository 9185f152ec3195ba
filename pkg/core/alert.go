// pkg/core/alert.go
package core

import "encoding/json"

// AlertKind mirrors the transport event tag that produced the alert.
type AlertKind string

const (
	AlertGeofenceBreached AlertKind = "GEOFENCE_BREACHED"
	AlertGeofenceExited   AlertKind = "GEOFENCE_EXITED"
	AlertSpeedExceeded    AlertKind = "SPEED_EXCEEDED"
)

// Severity of an alert as reported by the server.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is a geofence or speed event surfaced to alert consumers.
type Alert struct {
	ID           string          `json:"id"`
	Kind         AlertKind       `json:"kind"`
	EntityID     string          `json:"assetId"`
	GeofenceID   string          `json:"geofenceId,omitempty"`
	GeofenceName string          `json:"geofenceName,omitempty"`
	Severity     Severity        `json:"severity,omitempty"`
	Message      string          `json:"message,omitempty"`
	SpeedKmh     float64         `json:"speedKmh,omitempty"`
	LimitKmh     float64         `json:"limitKmh,omitempty"`
	Position     *PositionSample `json:"position,omitempty"`
	CreatedAtMs  int64           `json:"createdAtMs"`

	// Raw is the payload exactly as received.
	Raw json.RawMessage `json:"-"`
}
