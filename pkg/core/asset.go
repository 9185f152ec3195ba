// pkg/core/asset.go
package core

import "strings"

// AssetType classifies a trackable asset.
type AssetType string

const (
	AssetVehicle   AssetType = "VEHICLE"
	AssetDrone     AssetType = "DRONE"
	AssetVessel    AssetType = "VESSEL"
	AssetPersonnel AssetType = "PERSONNEL"
	AssetAircraft  AssetType = "AIRCRAFT"
	AssetSensor    AssetType = "SENSOR"
)

// IconKind selects the marker representation for an entity.
type IconKind string

const (
	IconVehicle IconKind = "VEHICLE"
	IconDrone   IconKind = "DRONE"
	IconVessel  IconKind = "VESSEL"
	IconDefault IconKind = "DEFAULT"
)

// Asset is the registry record for a tracked entity.
type Asset struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Type   AssetType `json:"type"`
	Status string    `json:"status,omitempty"`
}

// IconFor maps an asset type to its marker icon. Types without a dedicated
// icon, including unknown ones, get IconDefault.
func IconFor(t AssetType) IconKind {
	switch AssetType(strings.ToUpper(string(t))) {
	case AssetVehicle:
		return IconVehicle
	case AssetDrone:
		return IconDrone
	case AssetVessel:
		return IconVessel
	default:
		return IconDefault
	}
}
