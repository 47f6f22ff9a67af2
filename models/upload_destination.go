package models

import "time"

// DestinationMode says where the client should write first.
type DestinationMode string

const (
	DestinationModeDirect DestinationMode = "direct"
	DestinationModeProxy  DestinationMode = "proxy"
)

// DestinationRequest asks for the write location of one file.
type DestinationRequest struct {
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	DigestHex   string `json:"digest_hex"`
}

// UploadDestination is a writable location for one file. URL is a pre-authorized
// direct write and may be empty; ProxyPath is the origin fallback and is always set.
type UploadDestination struct {
	SessionID string            `json:"session_id"`
	Path      string            `json:"path"`
	Mode      DestinationMode   `json:"mode"`
	URL       string            `json:"url,omitempty"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	ProxyPath string            `json:"proxy_path"`
	ExpiresAt time.Time         `json:"expires_at"`
}
