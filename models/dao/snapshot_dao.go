package dao

import (
	"fmt"
	"time"

	"snapshot-service/database"
	model "snapshot-service/models"
)

var errNoDatabase = fmt.Errorf("database not initialized")

// SnapshotDAO snapshot session DAO
type SnapshotDAO struct {
	db database.Database
}

// NewSnapshotDAO create snapshot DAO instance
func NewSnapshotDAO(db database.Database) *SnapshotDAO {
	return &SnapshotDAO{
		db: db,
	}
}

// Create store a new session
func (d *SnapshotDAO) Create(session *model.SnapshotSession) error {
	if d.db == nil {
		return errNoDatabase
	}
	return d.db.CreateSnapshotSession(session)
}

// GetByID get a session by id
func (d *SnapshotDAO) GetByID(id string) (*model.SnapshotSession, error) {
	if d.db == nil {
		return nil, errNoDatabase
	}
	return d.db.GetSnapshotSession(id)
}

// Update read-modify-write of a session
func (d *SnapshotDAO) Update(id string, mutate database.SessionMutation) (*model.SnapshotSession, error) {
	if d.db == nil {
		return nil, errNoDatabase
	}
	return d.db.UpdateSnapshotSession(id, mutate)
}

// Delete remove a session record
func (d *SnapshotDAO) Delete(id string) error {
	if d.db == nil {
		return errNoDatabase
	}
	return d.db.DeleteSnapshotSession(id)
}

// CountLive count sessions of an owner that still hold storage (creating or active)
func (d *SnapshotDAO) CountLive(ownerID string) (int, error) {
	if d.db == nil {
		return 0, errNoDatabase
	}
	sessions, err := d.db.ListSnapshotSessionsByOwner(ownerID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, s := range sessions {
		if s.Status != model.SessionStatusExpired {
			count++
		}
	}
	return count, nil
}

// ListExpired active sessions whose expiry has passed
func (d *SnapshotDAO) ListExpired(now time.Time) ([]*model.SnapshotSession, error) {
	return d.filter(func(s *model.SnapshotSession) bool {
		return s.Status == model.SessionStatusActive && !s.ExpiresAt.After(now)
	})
}

// ListAbandoned creating sessions older than maxAge
func (d *SnapshotDAO) ListAbandoned(now time.Time, maxAge time.Duration) ([]*model.SnapshotSession, error) {
	return d.filter(func(s *model.SnapshotSession) bool {
		return s.Status == model.SessionStatusCreating && now.Sub(s.CreatedAt) > maxAge
	})
}

// SessionsCreated number of sessions ever created
func (d *SnapshotDAO) SessionsCreated() int64 {
	if d.db == nil {
		return 0
	}
	return d.db.SessionsCreated()
}

func (d *SnapshotDAO) filter(keep func(*model.SnapshotSession) bool) ([]*model.SnapshotSession, error) {
	if d.db == nil {
		return nil, errNoDatabase
	}
	sessions, err := d.db.ListSnapshotSessions()
	if err != nil {
		return nil, err
	}
	matched := make([]*model.SnapshotSession, 0)
	for _, s := range sessions {
		if keep(s) {
			matched = append(matched, s)
		}
	}
	return matched, nil
}
