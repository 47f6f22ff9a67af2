package snapshot_service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	model "snapshot-service/models"

	"github.com/klauspost/compress/zip"
	"golang.org/x/crypto/bcrypt"
)

const indexFile = "index.html"

// ServedFile a snapshot file opened for serving
type ServedFile struct {
	Entry model.ManifestEntry
	Body  io.ReadCloser
}

// resolvePublished load a session that may be served to visitors
func (s *SnapshotService) resolvePublished(sessionID string) (*model.SnapshotSession, error) {
	session, err := s.snapshotDAO.GetByID(sessionID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	switch {
	case session.Status == model.SessionStatusCreating:
		return nil, ErrSessionNotFound
	case session.Status.IsTerminal(), !s.now().Before(session.ExpiresAt):
		return nil, ErrSnapshotGone
	}
	return session, nil
}

// CheckAccess verify the access secret of a protected snapshot
func (s *SnapshotService) CheckAccess(session *model.SnapshotSession, password string) error {
	if !session.Protected() {
		return nil
	}
	if password == "" {
		return ErrPasswordRequired
	}
	if err := bcrypt.CompareHashAndPassword([]byte(session.PasswordSecretHash), []byte(password)); err != nil {
		return ErrPasswordRequired
	}
	return nil
}

// OpenFile open a file of an active snapshot. Directory paths resolve to their index.html.
func (s *SnapshotService) OpenFile(ctx context.Context, sessionID, filePath, password string) (*ServedFile, error) {
	session, err := s.resolvePublished(sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.CheckAccess(session, password); err != nil {
		return nil, err
	}

	filePath = strings.Trim(filePath, "/")
	candidates := []string{filePath}
	if filePath == "" {
		candidates = []string{indexFile}
	} else if !strings.HasSuffix(filePath, ".html") {
		candidates = append(candidates, filePath+"/"+indexFile)
	}

	for _, p := range candidates {
		entry, ok := findEntry(session.Files, p)
		if !ok {
			continue
		}
		key := session.Uploads[entry.Path].StorageKey
		info, err := s.store.Stat(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", entry.Path, err)
		}
		if info.Size != entry.SizeBytes {
			s.logger.ErrorContext(ctx, "stored object differs from manifest", "session_id", sessionID, "path", entry.Path, "size", info.Size, "manifest_size", entry.SizeBytes)
			return nil, ErrContentChanged
		}
		body, err := s.store.Open(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", entry.Path, err)
		}
		return &ServedFile{Entry: entry, Body: body}, nil
	}
	return nil, ErrSessionNotFound
}

// IsDirectory reports whether dirPath/index.html exists in an active snapshot the
// visitor may read. Protected snapshots reveal nothing without the password.
func (s *SnapshotService) IsDirectory(sessionID, dirPath, password string) bool {
	session, err := s.resolvePublished(sessionID)
	if err != nil || s.CheckAccess(session, password) != nil {
		return false
	}
	_, ok := findEntry(session.Files, strings.Trim(dirPath, "/")+"/"+indexFile)
	return ok
}

func findEntry(files model.Manifest, p string) (model.ManifestEntry, bool) {
	i := sort.Search(len(files), func(i int) bool { return files[i].Path >= p })
	if i < len(files) && files[i].Path == p {
		return files[i], true
	}
	return model.ManifestEntry{}, false
}

// WriteArchive stream every file of an active snapshot as a zip archive
func (s *SnapshotService) WriteArchive(ctx context.Context, ownerID, sessionID string, w io.Writer) error {
	session, err := s.GetSession(ctx, ownerID, sessionID)
	if err != nil {
		return err
	}
	if _, err := s.resolvePublished(session.ID); err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	for _, entry := range session.Files {
		if err := s.addToArchive(ctx, zw, session, entry); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

func (s *SnapshotService) addToArchive(ctx context.Context, zw *zip.Writer, session *model.SnapshotSession, entry model.ManifestEntry) error {
	body, err := s.store.Open(ctx, session.Uploads[entry.Path].StorageKey)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", entry.Path, err)
	}
	defer body.Close()

	fw, err := zw.CreateHeader(&zip.FileHeader{
		Name:     entry.Path,
		Method:   zip.Deflate,
		Modified: *session.FinalizedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to add %s to archive: %w", entry.Path, err)
	}
	if _, err := io.Copy(fw, body); err != nil {
		return fmt.Errorf("failed to archive %s: %w", entry.Path, err)
	}
	return nil
}
