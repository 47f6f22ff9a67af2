package models

import "time"

// SessionStatus is the lifecycle state of a snapshot session.
type SessionStatus string

const (
	SessionStatusCreating SessionStatus = "creating" // accepting uploads
	SessionStatusActive   SessionStatus = "active"   // finalized and served
	SessionStatusExpired  SessionStatus = "expired"  // past expiry, content reclaimed
)

// Caps are the capacity limits applied to one session.
type Caps struct {
	MaxTotalBytes int64 `json:"max_total_bytes"`
	MaxFileBytes  int64 `json:"max_file_bytes"`
	MaxExpiryDays int   `json:"max_expiry_days"`
}

// UploadRecord is the latest destination issued for a path of a session.
type UploadRecord struct {
	Path        string    `json:"path"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	DigestHex   string    `json:"digest_hex"`
	StorageKey  string    `json:"storage_key"`
	IssuedAt    time.Time `json:"issued_at"`
}

// SnapshotSession is the server-side record of a snapshot, from the first upload
// negotiation until long after its content has expired.
type SnapshotSession struct {
	ID                 string                   `json:"id"`
	OwnerID            string                   `json:"owner_id"`
	Status             SessionStatus            `json:"status"`
	CreatedAt          time.Time                `json:"created_at"`
	UpdatedAt          time.Time                `json:"updated_at"`
	ExpiresAt          time.Time                `json:"expires_at"`
	FinalizedAt        *time.Time               `json:"finalized_at,omitempty"`
	ExpiryDays         int                      `json:"expiry_days"`
	PasswordSecretHash string                   `json:"password_secret_hash,omitempty"`
	IsPublic           bool                     `json:"is_public"`
	Caps               Caps                     `json:"caps"`
	Uploads            map[string]*UploadRecord `json:"uploads"`
	Files              Manifest                 `json:"files,omitempty"`
	TotalBytes         int64                    `json:"total_bytes"`
	ManifestDigest     string                   `json:"manifest_digest,omitempty"`
	ContentReclaimed   bool                     `json:"content_reclaimed"`
}

// DeclaredBytes sums the sizes of every negotiated upload.
func (s *SnapshotSession) DeclaredBytes() int64 {
	var total int64
	for _, u := range s.Uploads {
		total += u.SizeBytes
	}
	return total
}

// Protected reports whether serving requires the access secret.
func (s *SnapshotSession) Protected() bool {
	return s.PasswordSecretHash != ""
}

// SessionInfo is the view of a session returned by openSession and status queries.
type SessionInfo struct {
	ID        string        `json:"id"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	Caps      Caps          `json:"caps"`
	IsPublic  bool          `json:"is_public"`
	FileCount int           `json:"file_count"`
}

// OpenSessionRequest carries the options of a new session.
type OpenSessionRequest struct {
	ExpiryDays int    `json:"expiry_days"`
	Password   string `json:"password,omitempty"`
}

// Snapshot is the immutable result of a finalized session.
type Snapshot struct {
	ID         string        `json:"id"`
	Status     SessionStatus `json:"status"`
	TotalBytes int64         `json:"total_bytes"`
	Files      Manifest      `json:"files"`
	CreatedAt  time.Time     `json:"created_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
	URL        string        `json:"url"`
	Protected  bool          `json:"protected"`
}
