package streaming

import (
	"encoding/json"
	"fmt"
)

// Event type tags carried in the envelope "type" field.
const (
	TypePositionUpdated  = "POSITION_UPDATED"
	TypeGeofenceBreached = "GEOFENCE_BREACHED"
	TypeGeofenceExited   = "GEOFENCE_EXITED"
	TypeSpeedExceeded    = "SPEED_EXCEEDED"

	// TypeSubscribe is sent client to server to narrow the feed.
	TypeSubscribe = "SUBSCRIBE"
)

// Envelope wraps every message exchanged over the tracking socket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SubscribeMessage restricts the server feed to the listed assets.
// An empty list means every asset.
type SubscribeMessage struct {
	Type     string   `json:"type"`
	AssetIDs []string `json:"assetIds"`
}

// IsAlertType reports whether the tag belongs on the alert sub-stream.
func IsAlertType(t string) bool {
	switch t {
	case TypeGeofenceBreached, TypeGeofenceExited, TypeSpeedExceeded:
		return true
	}
	return false
}

// MarshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func MarshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// NewSubscribeMessage encodes a subscription filter message.
func NewSubscribeMessage(assetIDs []string) ([]byte, error) {
	if assetIDs == nil {
		assetIDs = []string{}
	}
	data, err := json.Marshal(SubscribeMessage{Type: TypeSubscribe, AssetIDs: assetIDs})
	if err != nil {
		return nil, fmt.Errorf("marshal subscribe message: %w", err)
	}
	return data, nil
}
