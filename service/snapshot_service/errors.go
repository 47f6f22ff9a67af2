package snapshot_service

import "errors"

var (
	ErrSessionNotFound     = errors.New("snapshot session not found")
	ErrSessionNotWritable  = errors.New("snapshot session is no longer accepting changes")
	ErrQuotaExceeded       = errors.New("snapshot quota exceeded")
	ErrSnapshotGone        = errors.New("snapshot has expired")
	ErrPasswordRequired    = errors.New("snapshot password required")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrUploadNotNegotiated = errors.New("no upload destination was issued for this path")
	ErrContentChanged      = errors.New("stored content no longer matches the snapshot manifest")
)
