package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"snapshot-service/conf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSigner struct{}

func (stubSigner) SignUploadTicket(key, contentType string, size int64, ttl time.Duration) (string, error) {
	return fmt.Sprintf("ticket-%d", size), nil
}

func newLocal(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir(), stubSigner{}, "http://origin.test/")
	require.NoError(t, err)
	return s
}

func TestLocalStorePutStatOpen(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	require.NoError(t, s.Put(ctx, "snapshots/s1/css/a.css", strings.NewReader("body{}"), 6, "text/css"))

	info, err := s.Stat(ctx, "snapshots/s1/css/a.css")
	require.NoError(t, err)
	assert.Equal(t, int64(6), info.Size)

	rc, err := s.Open(ctx, "snapshots/s1/css/a.css")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "body{}", string(data))

	_, err = s.Stat(ctx, "snapshots/s1/missing.png")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	_, err = s.Open(ctx, "snapshots/s1/missing.png")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalStoreRejectsWrongLength(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	err := s.Put(ctx, "snapshots/s1/a.js", strings.NewReader("too long"), 3, "text/javascript")
	assert.ErrorIs(t, err, ErrSizeMismatch)
	err = s.Put(ctx, "snapshots/s1/a.js", strings.NewReader("ab"), 3, "text/javascript")
	assert.ErrorIs(t, err, ErrSizeMismatch)

	_, err = s.Stat(ctx, "snapshots/s1/a.js")
	assert.ErrorIs(t, err, ErrObjectNotFound, "failed writes leave nothing behind")
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	s := newLocal(t)
	err := s.Put(context.Background(), "../escape.txt", strings.NewReader("x"), 1, "text/plain")
	assert.Error(t, err)
}

func TestLocalStoreDeletePrefix(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)
	require.NoError(t, s.Put(ctx, "snapshots/s1/a", strings.NewReader("a"), 1, ""))
	require.NoError(t, s.Put(ctx, "snapshots/s1/b/c", strings.NewReader("c"), 1, ""))
	require.NoError(t, s.Put(ctx, "snapshots/s2/a", strings.NewReader("a"), 1, ""))

	require.NoError(t, s.DeletePrefix(ctx, "snapshots/s1/"))

	_, err := os.Stat(filepath.Join(s.basePath, "snapshots", "s1"))
	assert.True(t, os.IsNotExist(err))
	_, err = s.Stat(ctx, "snapshots/s2/a")
	assert.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "snapshots/s2/a"))
	require.NoError(t, s.Delete(ctx, "snapshots/s2/a"))
}

func TestLocalStorePresign(t *testing.T) {
	s := newLocal(t)
	put, err := s.PresignPut(context.Background(), "snapshots/s1/a", "text/plain", 42, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "http://origin.test/blob/ticket-42", put.URL)
	assert.Equal(t, "PUT", put.Method)
	assert.Equal(t, "text/plain", put.Headers["Content-Type"])

	unsigned, err := NewLocalStore(t.TempDir(), nil, "")
	require.NoError(t, err)
	put, err = unsigned.PresignPut(context.Background(), "k", "", 1, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, put)
}

func TestNewSelectsBackend(t *testing.T) {
	store, err := New(context.Background(), conf.StorageConfig{
		Type:  "local",
		Local: conf.LocalStorageConfig{BasePath: t.TempDir()},
	}, stubSigner{}, "http://x")
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, store)

	_, err = New(context.Background(), conf.StorageConfig{Type: "ftp"}, nil, "")
	assert.ErrorIs(t, err, ErrUnsupportedStorageType)
}
