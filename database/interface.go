package database

import (
	model "snapshot-service/models"
)

// SessionMutation modifies a session in place. Returning ErrSkipWrite keeps the
// stored record; any other error aborts the update and is returned as is.
type SessionMutation func(s *model.SnapshotSession) error

// Database interface for different database implementations
type Database interface {
	// SnapshotSession operations
	CreateSnapshotSession(session *model.SnapshotSession) error
	GetSnapshotSession(id string) (*model.SnapshotSession, error)
	// UpdateSnapshotSession runs a read-modify-write of one session. Updates of the same
	// id are serialized; updates of different ids run concurrently.
	UpdateSnapshotSession(id string, mutate SessionMutation) (*model.SnapshotSession, error)
	DeleteSnapshotSession(id string) error
	ListSnapshotSessionsByOwner(ownerID string) ([]*model.SnapshotSession, error)
	ListSnapshotSessions() ([]*model.SnapshotSession, error)

	// Counters
	SessionsCreated() int64

	// General operations
	Close() error
}

// DBType database type
type DBType string

const (
	DBTypePebble DBType = "pebble"
)

// InitDatabase initialize database with specified type
func InitDatabase(dbType DBType, config interface{}) (Database, error) {
	switch dbType {
	case DBTypePebble:
		return NewPebbleDatabase(config)
	default:
		return nil, ErrUnsupportedDBType
	}
}
