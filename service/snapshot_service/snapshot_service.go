package snapshot_service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"snapshot-service/common"
	"snapshot-service/database"
	model "snapshot-service/models"
	"snapshot-service/models/dao"
	"snapshot-service/storage"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
)

// verifyConcurrency bounds parallel object verification during finalize
const verifyConcurrency = 8

// Options snapshot service settings
type Options struct {
	Caps                model.Caps
	DefaultExpiryDays   int
	MaxSessionsPerOwner int
	VerifyDigest        bool
	PresignTTL          time.Duration
	MaxCreatingAge      time.Duration
	PublicBaseURL       string // snapshot URLs are {PublicBaseURL}/s/{id}/
	APIBasePath         string // proxy paths are {APIBasePath}/snapshots/{id}/files/{path}
}

// SnapshotService snapshot session lifecycle: negotiation, uploads, finalize, serving and expiry
type SnapshotService struct {
	snapshotDAO *dao.SnapshotDAO
	store       storage.ObjectStore
	opts        Options
	logger      *slog.Logger
	now         func() time.Time

	// ownerLocks serializes quota checks with session creation per owner.
	ownerLocks common.KeyedMutex
	// uploadGates: uploads hold a session shared, finalize and sweep hold it exclusively.
	uploadGates common.KeyedMutex
}

// NewSnapshotService create snapshot service instance
func NewSnapshotService(snapshotDAO *dao.SnapshotDAO, store storage.ObjectStore, opts Options, logger *slog.Logger) *SnapshotService {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	if opts.APIBasePath == "" {
		opts.APIBasePath = "/api/v1"
	}
	return &SnapshotService{
		snapshotDAO: snapshotDAO,
		store:       store,
		opts:        opts,
		logger:      logger,
		now:         time.Now,
	}
}

// SetClock replace the time source
func (s *SnapshotService) SetClock(now func() time.Time) {
	s.now = now
}

// Caps capacity limits applied to new sessions
func (s *SnapshotService) Caps() model.Caps {
	return s.opts.Caps
}

// Stats counters exposed by the health endpoint
func (s *SnapshotService) Stats() map[string]int64 {
	return map[string]int64{"sessions_created": s.snapshotDAO.SessionsCreated()}
}

// OpenSession create a new session in creating state
func (s *SnapshotService) OpenSession(ctx context.Context, ownerID string, req model.OpenSessionRequest) (*model.SnapshotSession, error) {
	expiryDays := req.ExpiryDays
	if expiryDays == 0 {
		expiryDays = s.opts.DefaultExpiryDays
	}
	if expiryDays < 1 || expiryDays > s.opts.Caps.MaxExpiryDays {
		return nil, fmt.Errorf("%w: expiry must be between 1 and %d days", ErrInvalidRequest, s.opts.Caps.MaxExpiryDays)
	}

	var passwordHash string
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		passwordHash = string(hash)
	}

	unlock := s.ownerLocks.Lock(ownerID)
	defer unlock()

	if s.opts.MaxSessionsPerOwner > 0 {
		live, err := s.snapshotDAO.CountLive(ownerID)
		if err != nil {
			return nil, fmt.Errorf("failed to count sessions: %w", err)
		}
		if live >= s.opts.MaxSessionsPerOwner {
			return nil, fmt.Errorf("%w: %d of %d snapshots in use", ErrQuotaExceeded, live, s.opts.MaxSessionsPerOwner)
		}
	}

	now := s.now().UTC()
	session := &model.SnapshotSession{
		ID:                 strings.ReplaceAll(uuid.NewString(), "-", ""),
		OwnerID:            ownerID,
		Status:             model.SessionStatusCreating,
		CreatedAt:          now,
		UpdatedAt:          now,
		ExpiresAt:          now.Add(expiryDuration(expiryDays)),
		ExpiryDays:         expiryDays,
		PasswordSecretHash: passwordHash,
		IsPublic:           passwordHash == "",
		Caps:               s.opts.Caps,
		Uploads:            map[string]*model.UploadRecord{},
	}
	if err := s.snapshotDAO.Create(session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.InfoContext(ctx, "snapshot session opened", "session_id", session.ID, "owner", ownerID, "expiry_days", expiryDays)
	return session, nil
}

func expiryDuration(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}

// GetSession get a session owned by ownerID
func (s *SnapshotService) GetSession(ctx context.Context, ownerID, sessionID string) (*model.SnapshotSession, error) {
	session, err := s.snapshotDAO.GetByID(sessionID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if session.OwnerID != ownerID {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}

// GetUploadDestination record the intended upload of one file and return where to write it.
// Repeated calls for a path replace the earlier record.
func (s *SnapshotService) GetUploadDestination(ctx context.Context, ownerID, sessionID string, req model.DestinationRequest) (*model.UploadDestination, error) {
	path, err := common.CanonicalPath(req.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: path %q", ErrInvalidRequest, req.Path)
	}
	if req.SizeBytes < 0 || len(req.DigestHex) != common.DigestSize*2 {
		return nil, fmt.Errorf("%w: size and digest are required", ErrInvalidRequest)
	}
	if req.ContentType == "" {
		req.ContentType = common.ContentType(path)
	}

	key := common.ObjectKey(sessionID, path)
	_, err = s.snapshotDAO.Update(sessionID, func(session *model.SnapshotSession) error {
		if session.OwnerID != ownerID {
			return ErrSessionNotFound
		}
		if !session.Status.IsMutable() {
			return ErrSessionNotWritable
		}
		if req.SizeBytes > session.Caps.MaxFileBytes {
			return &model.CapExceededError{Kind: model.CapPerFile, Path: path, SizeBytes: req.SizeBytes, LimitBytes: session.Caps.MaxFileBytes}
		}
		total := session.DeclaredBytes() + req.SizeBytes
		if prev, ok := session.Uploads[path]; ok {
			total -= prev.SizeBytes
		}
		if total > session.Caps.MaxTotalBytes {
			return &model.CapExceededError{Kind: model.CapAggregate, TotalBytes: total, LimitBytes: session.Caps.MaxTotalBytes}
		}

		now := s.now().UTC()
		session.Uploads[path] = &model.UploadRecord{
			Path:        path,
			ContentType: req.ContentType,
			SizeBytes:   req.SizeBytes,
			DigestHex:   strings.ToLower(req.DigestHex),
			StorageKey:  key,
			IssuedAt:    now,
		}
		session.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, mapNotFound(err)
	}

	dest := &model.UploadDestination{
		SessionID: sessionID,
		Path:      path,
		Mode:      model.DestinationModeProxy,
		Method:    "PUT",
		ProxyPath: s.ProxyPath(sessionID, path),
		ExpiresAt: s.now().Add(s.opts.PresignTTL).UTC(),
	}

	presigned, err := s.store.PresignPut(ctx, key, req.ContentType, req.SizeBytes, s.opts.PresignTTL)
	if err != nil {
		s.logger.WarnContext(ctx, "presign failed, offering proxy upload only", "session_id", sessionID, "path", path, "error", err)
	} else if presigned != nil {
		dest.Mode = model.DestinationModeDirect
		dest.URL = presigned.URL
		dest.Method = presigned.Method
		dest.Headers = presigned.Headers
		dest.ExpiresAt = presigned.ExpiresAt.UTC()
	}
	return dest, nil
}

// ProxyPath origin path accepting the fallback upload of a file
func (s *SnapshotService) ProxyPath(sessionID, path string) string {
	return s.opts.APIBasePath + "/snapshots/" + sessionID + "/files/" + path
}

// StoreProxiedUpload write a file received through the origin
func (s *SnapshotService) StoreProxiedUpload(ctx context.Context, ownerID, sessionID, path string, body io.Reader, size int64) error {
	session, err := s.GetSession(ctx, ownerID, sessionID)
	if err != nil {
		return err
	}
	canonical, err := common.CanonicalPath(path)
	if err != nil {
		return fmt.Errorf("%w: path %q", ErrInvalidRequest, path)
	}
	return s.storeUpload(ctx, session.ID, canonical, body, size)
}

// StoreDirectUpload write a file authorized by an upload ticket for key
func (s *SnapshotService) StoreDirectUpload(ctx context.Context, key string, body io.Reader, size int64) error {
	sessionID, path, err := common.SplitObjectKey(key)
	if err != nil {
		return fmt.Errorf("%w: key %q", ErrInvalidRequest, key)
	}
	return s.storeUpload(ctx, sessionID, path, body, size)
}

func (s *SnapshotService) storeUpload(ctx context.Context, sessionID, path string, body io.Reader, size int64) error {
	release := s.uploadGates.RLock(sessionID)
	defer release()

	session, err := s.snapshotDAO.GetByID(sessionID)
	if err != nil {
		return mapNotFound(err)
	}
	if !session.Status.IsMutable() {
		return ErrSessionNotWritable
	}
	record, ok := session.Uploads[path]
	if !ok {
		return ErrUploadNotNegotiated
	}
	if size >= 0 && size != record.SizeBytes {
		return fmt.Errorf("%w: %s declared %d bytes, received %d", ErrInvalidRequest, path, record.SizeBytes, size)
	}

	if err := s.store.Put(ctx, record.StorageKey, body, record.SizeBytes, record.ContentType); err != nil {
		if errors.Is(err, storage.ErrSizeMismatch) {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return fmt.Errorf("failed to store %s: %w", path, err)
	}
	s.logger.DebugContext(ctx, "object stored", "session_id", sessionID, "path", path, "bytes", record.SizeBytes)
	return nil
}

// Finalize verify every manifest entry against storage and publish the snapshot.
// Repeating a successful finalize with the same manifest returns the same snapshot.
func (s *SnapshotService) Finalize(ctx context.Context, ownerID, sessionID string, req model.FinalizeRequest) (*model.Snapshot, error) {
	manifest := make(model.Manifest, len(req.Files))
	copy(manifest, req.Files)
	manifest.Sort()
	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if total := manifest.TotalBytes(); total != req.TotalBytes {
		return nil, fmt.Errorf("%w: total bytes %d does not match manifest sum %d", ErrInvalidRequest, req.TotalBytes, total)
	}
	manifestDigest := manifest.Digest()

	release := s.uploadGates.Lock(sessionID)
	defer release()

	var orphans []string
	session, err := s.snapshotDAO.Update(sessionID, func(session *model.SnapshotSession) error {
		if session.OwnerID != ownerID {
			return ErrSessionNotFound
		}
		switch session.Status {
		case model.SessionStatusActive:
			if session.ManifestDigest == manifestDigest {
				return database.ErrSkipWrite
			}
			return ErrSessionNotWritable
		case model.SessionStatusExpired:
			return ErrSessionNotWritable
		}

		if total := manifest.TotalBytes(); total > session.Caps.MaxTotalBytes {
			return &model.CapExceededError{Kind: model.CapAggregate, TotalBytes: total, LimitBytes: session.Caps.MaxTotalBytes}
		}
		if err := s.reconcile(ctx, session, manifest); err != nil {
			return err
		}
		if err := model.ValidateTransition(session.Status, model.SessionStatusActive); err != nil {
			return err
		}

		inManifest := make(map[string]bool, len(manifest))
		for _, e := range manifest {
			inManifest[e.Path] = true
		}
		for path, record := range session.Uploads {
			if !inManifest[path] {
				orphans = append(orphans, record.StorageKey)
				delete(session.Uploads, path)
			}
		}

		now := s.now().UTC()
		session.Status = model.SessionStatusActive
		session.Files = manifest
		session.TotalBytes = manifest.TotalBytes()
		session.ManifestDigest = manifestDigest
		session.FinalizedAt = &now
		session.ExpiresAt = now.Add(expiryDuration(session.ExpiryDays))
		session.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, mapNotFound(err)
	}

	for _, key := range orphans {
		if err := s.store.Delete(ctx, key); err != nil {
			s.logger.WarnContext(ctx, "failed to remove object left out of manifest", "key", key, "error", err)
		}
	}
	s.logger.InfoContext(ctx, "snapshot finalized", "session_id", sessionID, "files", len(session.Files), "bytes", session.TotalBytes)
	return s.SnapshotView(session), nil
}

// reconcile checks presence, size and digest of every entry
func (s *SnapshotService) reconcile(ctx context.Context, session *model.SnapshotSession, manifest model.Manifest) error {
	var (
		mu       sync.Mutex
		mismatch model.ReconciliationError
	)
	add := func(list *[]string, path string) {
		mu.Lock()
		*list = append(*list, path)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(verifyConcurrency)
	for _, entry := range manifest {
		g.Go(func() error {
			record, ok := session.Uploads[entry.Path]
			if !ok {
				add(&mismatch.Missing, entry.Path)
				return nil
			}
			info, err := s.store.Stat(gctx, record.StorageKey)
			if errors.Is(err, storage.ErrObjectNotFound) {
				add(&mismatch.Missing, entry.Path)
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to stat %s: %w", entry.Path, err)
			}
			if info.Size != entry.SizeBytes || record.SizeBytes != entry.SizeBytes {
				add(&mismatch.SizeMismatch, entry.Path)
				return nil
			}
			if record.DigestHex != entry.DigestHex {
				add(&mismatch.DigestMismatch, entry.Path)
				return nil
			}
			if !s.opts.VerifyDigest {
				return nil
			}

			rc, err := s.store.Open(gctx, record.StorageKey)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", entry.Path, err)
			}
			defer rc.Close()
			digest, _, err := common.DigestReader(rc)
			if err != nil {
				return fmt.Errorf("failed to verify %s: %w", entry.Path, err)
			}
			if digest != entry.DigestHex {
				add(&mismatch.DigestMismatch, entry.Path)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if len(mismatch.Paths()) == 0 {
		return nil
	}
	sort.Strings(mismatch.Missing)
	sort.Strings(mismatch.SizeMismatch)
	sort.Strings(mismatch.DigestMismatch)
	return &mismatch
}

// SnapshotView public view of a session
func (s *SnapshotService) SnapshotView(session *model.SnapshotSession) *model.Snapshot {
	files := session.Files
	if files == nil {
		files = model.Manifest{}
	}
	return &model.Snapshot{
		ID:         session.ID,
		Status:     session.Status,
		TotalBytes: session.TotalBytes,
		Files:      files,
		CreatedAt:  session.CreatedAt,
		ExpiresAt:  session.ExpiresAt,
		URL:        s.SnapshotURL(session.ID),
		Protected:  session.Protected(),
	}
}

// SnapshotURL shareable URL of a snapshot
func (s *SnapshotService) SnapshotURL(sessionID string) string {
	return strings.TrimRight(s.opts.PublicBaseURL, "/") + "/s/" + sessionID + "/"
}

// SessionInfo session view returned to the client
func (s *SnapshotService) SessionInfo(session *model.SnapshotSession) *model.SessionInfo {
	count := len(session.Files)
	if session.Status == model.SessionStatusCreating {
		count = len(session.Uploads)
	}
	return &model.SessionInfo{
		ID:        session.ID,
		Status:    session.Status,
		CreatedAt: session.CreatedAt,
		ExpiresAt: session.ExpiresAt,
		Caps:      session.Caps,
		IsPublic:  session.IsPublic,
		FileCount: count,
	}
}
