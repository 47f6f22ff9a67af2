package respond

import (
	"time"

	model "snapshot-service/models"
)

// TokenResponse access token issued for an api key
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ConfigResponse caps advertised to clients before a session is opened
type ConfigResponse struct {
	Caps              model.Caps `json:"caps"`
	DefaultExpiryDays int        `json:"default_expiry_days"`
}

// HealthResponse liveness probe payload
type HealthResponse struct {
	Status  string           `json:"status"`
	Service string           `json:"service"`
	Stats   map[string]int64 `json:"stats"`
}

// SnapshotStatusResponse status of a session, with the snapshot once finalized
type SnapshotStatusResponse struct {
	Session  *model.SessionInfo `json:"session"`
	Snapshot *model.Snapshot    `json:"snapshot,omitempty"`
}
