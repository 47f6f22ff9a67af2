package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"snapshot-service/common"
	model "snapshot-service/models"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// PebbleDatabase PebbleDB database implementation with multiple collections
type PebbleDatabase struct {
	collections map[string]*pebble.DB // Map of collection name to PebbleDB instance

	sessionLocks    common.KeyedMutex
	sessionsCreated atomic.Int64
	logger          *slog.Logger
}

// PebbleConfig PebbleDB configuration
type PebbleConfig struct {
	DataDir  string
	InMemory bool // keep every collection in memory (tests)
	Logger   *slog.Logger
}

// Collection names and their key-value formats
const (
	collectionSnapshotSession = "snapshot_session" // key: {session_id}, value: JSON(SnapshotSession)
	collectionSnapshotOwner   = "snapshot_owner"   // key: {owner_id}:{session_id}, value: {session_id}

	// System collections
	collectionCounters = "counters" // key: counter name, value: decimal count
)

// Counter keys
const (
	keySessionsCreated = "sessions_created"
)

// NewPebbleDatabase create PebbleDB database instance with multiple collections
func NewPebbleDatabase(config interface{}) (Database, error) {
	cfg, ok := config.(*PebbleConfig)
	if !ok {
		return nil, fmt.Errorf("invalid PebbleDB config type")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var memFS vfs.FS
	if cfg.InMemory {
		memFS = vfs.NewMem()
	} else if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}

	collectionNames := []string{
		collectionSnapshotSession,
		collectionSnapshotOwner,
		collectionCounters,
	}

	// Open PebbleDB for each collection
	collections := make(map[string]*pebble.DB)
	for _, name := range collectionNames {
		collectionPath := filepath.Join(cfg.DataDir, "snapshot_db", name)
		opts := &pebble.Options{}
		if memFS != nil {
			opts.FS = memFS
		}

		db, err := pebble.Open(collectionPath, opts)
		if err != nil {
			for _, openedDB := range collections {
				openedDB.Close()
			}
			return nil, fmt.Errorf("failed to open collection %s at %s: %w", name, collectionPath, err)
		}
		collections[name] = db
		logger.Debug("collection opened", "collection", name, "path", collectionPath)
	}

	pdb := &PebbleDatabase{
		collections: collections,
		logger:      logger,
	}

	if err := pdb.loadCounters(); err != nil {
		pdb.Close()
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}

	logger.Info("pebble database opened", "collections", len(collections), "in_memory", cfg.InMemory)
	return pdb, nil
}

// loadCounters load counters from counters collection
func (p *PebbleDatabase) loadCounters() error {
	val, closer, err := p.collections[collectionCounters].Get([]byte(keySessionsCreated))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	defer closer.Close()

	count, err := strconv.ParseInt(string(val), 10, 64)
	if err != nil {
		return fmt.Errorf("corrupt counter %s: %w", keySessionsCreated, err)
	}
	p.sessionsCreated.Store(count)
	return nil
}

func ownerKey(ownerID, sessionID string) []byte {
	return []byte(ownerID + ":" + sessionID)
}

// SnapshotSession operations

// CreateSnapshotSession stores a new session and indexes it by owner
func (p *PebbleDatabase) CreateSnapshotSession(session *model.SnapshotSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	// index first so a listed owner never misses a stored session
	if err := p.collections[collectionSnapshotOwner].Set(ownerKey(session.OwnerID, session.ID), []byte(session.ID), pebble.Sync); err != nil {
		return fmt.Errorf("failed to index session: %w", err)
	}
	if err := p.collections[collectionSnapshotSession].Set([]byte(session.ID), data, pebble.Sync); err != nil {
		return err
	}

	count := p.sessionsCreated.Add(1)
	return p.collections[collectionCounters].Set([]byte(keySessionsCreated), []byte(strconv.FormatInt(count, 10)), pebble.Sync)
}

// GetSnapshotSession get a session by id
func (p *PebbleDatabase) GetSnapshotSession(id string) (*model.SnapshotSession, error) {
	data, closer, err := p.collections[collectionSnapshotSession].Get([]byte(id))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	var session model.SnapshotSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// UpdateSnapshotSession read-modify-write of one session under its lock
func (p *PebbleDatabase) UpdateSnapshotSession(id string, mutate SessionMutation) (*model.SnapshotSession, error) {
	unlock := p.sessionLocks.Lock(id)
	defer unlock()

	session, err := p.GetSnapshotSession(id)
	if err != nil {
		return nil, err
	}

	if err := mutate(session); err != nil {
		if errors.Is(err, ErrSkipWrite) {
			return session, nil
		}
		return nil, err
	}

	data, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}
	if err := p.collections[collectionSnapshotSession].Set([]byte(id), data, pebble.Sync); err != nil {
		return nil, err
	}
	return session, nil
}

// DeleteSnapshotSession remove a session and its owner index entry
func (p *PebbleDatabase) DeleteSnapshotSession(id string) error {
	unlock := p.sessionLocks.Lock(id)
	defer unlock()

	session, err := p.GetSnapshotSession(id)
	if err != nil {
		return err
	}
	if err := p.collections[collectionSnapshotSession].Delete([]byte(id), pebble.Sync); err != nil {
		return err
	}
	return p.collections[collectionSnapshotOwner].Delete(ownerKey(session.OwnerID, id), pebble.Sync)
}

// ListSnapshotSessionsByOwner list every session of an owner
func (p *PebbleDatabase) ListSnapshotSessionsByOwner(ownerID string) ([]*model.SnapshotSession, error) {
	prefix := ownerID + ":"
	iter, err := p.collections[collectionSnapshotOwner].NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(ownerID + ";"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	sessions := make([]*model.SnapshotSession, 0)
	for iter.First(); iter.Valid(); iter.Next() {
		if !strings.HasPrefix(string(iter.Key()), prefix) {
			continue
		}
		session, err := p.GetSnapshotSession(string(iter.Value()))
		if errors.Is(err, ErrNotFound) {
			// dangling index entry left by an interrupted create
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, iter.Error()
}

// ListSnapshotSessions list every stored session
func (p *PebbleDatabase) ListSnapshotSessions() ([]*model.SnapshotSession, error) {
	iter, err := p.collections[collectionSnapshotSession].NewIter(nil)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	sessions := make([]*model.SnapshotSession, 0)
	for iter.First(); iter.Valid(); iter.Next() {
		var session model.SnapshotSession
		if err := json.Unmarshal(iter.Value(), &session); err != nil {
			p.logger.Warn("skipping undecodable session", "key", string(iter.Key()), "error", err)
			continue
		}
		sessions = append(sessions, &session)
	}
	return sessions, iter.Error()
}

// SessionsCreated number of sessions ever created
func (p *PebbleDatabase) SessionsCreated() int64 {
	return p.sessionsCreated.Load()
}

// Close close all database connections
func (p *PebbleDatabase) Close() error {
	var lastErr error
	for name, db := range p.collections {
		if err := db.Close(); err != nil {
			p.logger.Error("failed to close collection", "collection", name, "error", err)
			lastErr = err
		}
	}
	return lastErr
}
