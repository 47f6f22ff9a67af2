package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"snapshot-service/conf"
)

var (
	// ErrObjectNotFound no object stored under the key
	ErrObjectNotFound = errors.New("object not found")

	// ErrSizeMismatch the written stream did not have the declared length
	ErrSizeMismatch = errors.New("object size does not match declared size")

	// ErrUnsupportedStorageType unsupported storage type
	ErrUnsupportedStorageType = errors.New("unsupported storage type")
)

// ObjectInfo metadata of a stored object
type ObjectInfo struct {
	Key  string
	Size int64
}

// PresignedPut a pre-authorized write of exactly one object
type PresignedPut struct {
	URL       string
	Method    string
	Headers   map[string]string
	ExpiresAt time.Time
}

// ObjectStore stores snapshot content. Keys are "/"-separated.
type ObjectStore interface {
	// PresignPut returns a URL a client can write the object to without further
	// credentials, or nil when the backend only accepts writes through the origin.
	PresignPut(ctx context.Context, key, contentType string, size int64, ttl time.Duration) (*PresignedPut, error)
	// Put writes exactly size bytes from r.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// DeletePrefix removes every object whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	Delete(ctx context.Context, key string) error
}

// TicketSigner signs direct-write tickets for stores without native presigning.
type TicketSigner interface {
	SignUploadTicket(key, contentType string, size int64, ttl time.Duration) (string, error)
}

// New builds the object store selected by cfg.Type. blobBaseURL is the origin URL
// under which the /blob/:ticket endpoint is served.
func New(ctx context.Context, cfg conf.StorageConfig, signer TicketSigner, blobBaseURL string) (ObjectStore, error) {
	switch cfg.Type {
	case "local":
		store, err := NewLocalStore(cfg.Local.BasePath, signer, blobBaseURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "s3":
		store, err := NewS3Store(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedStorageType, cfg.Type)
	}
}
