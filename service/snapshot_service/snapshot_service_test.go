package snapshot_service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"snapshot-service/common"
	"snapshot-service/database"
	model "snapshot-service/models"
	"snapshot-service/models/dao"
	"snapshot-service/storage"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owner = "alice"

type fixture struct {
	svc   *SnapshotService
	store *storage.LocalStore
	clock time.Time
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	db, err := database.InitDatabase(database.DBTypePebble, &database.PebbleConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := storage.NewLocalStore(t.TempDir(), nil, "")
	require.NoError(t, err)

	opts := Options{
		Caps:                model.Caps{MaxTotalBytes: 1 << 20, MaxFileBytes: 512 << 10, MaxExpiryDays: 7},
		DefaultExpiryDays:   1,
		MaxSessionsPerOwner: 5,
		VerifyDigest:        true,
		MaxCreatingAge:      24 * time.Hour,
		PublicBaseURL:       "https://snap.test",
	}
	for _, m := range mutate {
		m(&opts)
	}

	f := &fixture{
		svc:   NewSnapshotService(dao.NewSnapshotDAO(db), store, opts, nil),
		store: store,
		clock: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	f.svc.SetClock(func() time.Time { return f.clock })
	return f
}

type localFile struct {
	path    string
	content string
}

func (l localFile) entry() model.ManifestEntry {
	return model.ManifestEntry{
		Path:        l.path,
		ContentType: common.ContentType(l.path),
		SizeBytes:   int64(len(l.content)),
		DigestHex:   common.DigestBytes([]byte(l.content)),
	}
}

func (f *fixture) open(t *testing.T) *model.SnapshotSession {
	t.Helper()
	session, err := f.svc.OpenSession(context.Background(), owner, model.OpenSessionRequest{})
	require.NoError(t, err)
	return session
}

func (f *fixture) negotiate(t *testing.T, sessionID string, file localFile) *model.UploadDestination {
	t.Helper()
	e := file.entry()
	dest, err := f.svc.GetUploadDestination(context.Background(), owner, sessionID, model.DestinationRequest{
		Path: e.Path, ContentType: e.ContentType, SizeBytes: e.SizeBytes, DigestHex: e.DigestHex,
	})
	require.NoError(t, err)
	return dest
}

func (f *fixture) upload(t *testing.T, sessionID string, file localFile) {
	t.Helper()
	f.negotiate(t, sessionID, file)
	require.NoError(t, f.svc.StoreProxiedUpload(context.Background(), owner, sessionID, file.path,
		strings.NewReader(file.content), int64(len(file.content))))
}

func manifestOf(files ...localFile) model.FinalizeRequest {
	m := make(model.Manifest, 0, len(files))
	for _, file := range files {
		m = append(m, file.entry())
	}
	m.Sort()
	return model.FinalizeRequest{Files: m, TotalBytes: m.TotalBytes()}
}

var (
	indexHTML = localFile{"index.html", "<html>hello</html>"}
	stylesCSS = localFile{"styles.css", "body{color:red}"}
	missingPN = localFile{"missing.png", "\x89PNG fake"}
)

func TestOpenSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session := f.open(t)
	assert.Equal(t, model.SessionStatusCreating, session.Status)
	assert.True(t, session.IsPublic)
	assert.Equal(t, f.clock.Add(24*time.Hour), session.ExpiresAt)
	assert.Len(t, session.ID, 32)

	protected, err := f.svc.OpenSession(ctx, owner, model.OpenSessionRequest{ExpiryDays: 3, Password: "hunter2"})
	require.NoError(t, err)
	assert.False(t, protected.IsPublic)
	assert.NotEqual(t, "hunter2", protected.PasswordSecretHash)

	_, err = f.svc.OpenSession(ctx, owner, model.OpenSessionRequest{ExpiryDays: 30})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestOpenSessionQuota(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MaxSessionsPerOwner = 2 })
	f.open(t)
	f.open(t)

	_, err := f.svc.OpenSession(context.Background(), owner, model.OpenSessionRequest{})
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	_, err = f.svc.OpenSession(context.Background(), "bob", model.OpenSessionRequest{})
	assert.NoError(t, err, "quota is per owner")
}

func TestGetUploadDestination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.open(t)

	dest := f.negotiate(t, session.ID, indexHTML)
	assert.Equal(t, model.DestinationModeProxy, dest.Mode, "local store without signer has no direct URL")
	assert.Equal(t, "/api/v1/snapshots/"+session.ID+"/files/index.html", dest.ProxyPath)

	// later destination for the same path wins, no duplicate record
	changed := localFile{"index.html", "<html>changed</html>"}
	f.negotiate(t, session.ID, changed)
	got, err := f.svc.GetSession(ctx, owner, session.ID)
	require.NoError(t, err)
	require.Len(t, got.Uploads, 1)
	assert.Equal(t, changed.entry().DigestHex, got.Uploads["index.html"].DigestHex)

	_, err = f.svc.GetUploadDestination(ctx, "bob", session.ID, model.DestinationRequest{
		Path: "a.js", SizeBytes: 1, DigestHex: indexHTML.entry().DigestHex,
	})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.svc.GetUploadDestination(ctx, owner, session.ID, model.DestinationRequest{
		Path: "../a.js", SizeBytes: 1, DigestHex: indexHTML.entry().DigestHex,
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestGetUploadDestinationEnforcesCaps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.open(t)
	digest := indexHTML.entry().DigestHex

	_, err := f.svc.GetUploadDestination(ctx, owner, session.ID, model.DestinationRequest{
		Path: "video.mp4", SizeBytes: 600 << 10, DigestHex: digest,
	})
	var capErr *model.CapExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, model.CapPerFile, capErr.Kind)

	for i := 0; i < 2; i++ {
		_, err = f.svc.GetUploadDestination(ctx, owner, session.ID, model.DestinationRequest{
			Path: fmt.Sprintf("chunk-%d.bin", i), SizeBytes: 500 << 10, DigestHex: digest,
		})
		require.NoError(t, err)
	}
	_, err = f.svc.GetUploadDestination(ctx, owner, session.ID, model.DestinationRequest{
		Path: "chunk-2.bin", SizeBytes: 100 << 10, DigestHex: digest,
	})
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, model.CapAggregate, capErr.Kind)
}

func TestConcurrentDestinationsAreAllRecorded(t *testing.T) {
	f := newFixture(t)
	session := f.open(t)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := localFile{fmt.Sprintf("assets/%02d.js", i), "x"}.entry()
			_, err := f.svc.GetUploadDestination(context.Background(), owner, session.ID, model.DestinationRequest{
				Path: e.Path, ContentType: e.ContentType, SizeBytes: e.SizeBytes, DigestHex: e.DigestHex,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := f.svc.GetSession(context.Background(), owner, session.ID)
	require.NoError(t, err)
	assert.Len(t, got.Uploads, 30)
}

func TestUploadRequiresNegotiation(t *testing.T) {
	f := newFixture(t)
	session := f.open(t)

	err := f.svc.StoreProxiedUpload(context.Background(), owner, session.ID, "index.html", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, ErrUploadNotNegotiated)

	f.negotiate(t, session.ID, indexHTML)
	err = f.svc.StoreProxiedUpload(context.Background(), owner, session.ID, "index.html", strings.NewReader("short"), 5)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestFinalizeReconciliationThenRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.open(t)

	f.upload(t, session.ID, indexHTML)
	f.negotiate(t, session.ID, missingPN) // upload dropped

	_, err := f.svc.Finalize(ctx, owner, session.ID, manifestOf(indexHTML, missingPN))
	var recErr *model.ReconciliationError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, []string{"missing.png"}, recErr.Missing)

	got, err := f.svc.GetSession(ctx, owner, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCreating, got.Status, "failed finalize leaves the session writable")

	f.upload(t, session.ID, missingPN)
	snap, err := f.svc.Finalize(ctx, owner, session.ID, manifestOf(indexHTML, missingPN))
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusActive, snap.Status)
	assert.Equal(t, "https://snap.test/s/"+session.ID+"/", snap.URL)
	require.Len(t, snap.Files, 2)
	assert.Equal(t, "index.html", snap.Files[0].Path)
	assert.Equal(t, f.clock.Add(24*time.Hour), snap.ExpiresAt)
}

func TestFinalizeDetectsCorruptContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.open(t)

	f.negotiate(t, session.ID, stylesCSS)
	tampered := strings.Repeat("x", len(stylesCSS.content))
	require.NoError(t, f.svc.StoreProxiedUpload(ctx, owner, session.ID, stylesCSS.path, strings.NewReader(tampered), int64(len(tampered))))

	_, err := f.svc.Finalize(ctx, owner, session.ID, manifestOf(stylesCSS))
	var recErr *model.ReconciliationError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, []string{"styles.css"}, recErr.DigestMismatch)
}

func TestFinalizeWithoutDigestVerification(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.VerifyDigest = false })
	ctx := context.Background()
	session := f.open(t)

	f.negotiate(t, session.ID, stylesCSS)
	tampered := strings.Repeat("x", len(stylesCSS.content))
	require.NoError(t, f.svc.StoreProxiedUpload(ctx, owner, session.ID, stylesCSS.path, strings.NewReader(tampered), int64(len(tampered))))

	_, err := f.svc.Finalize(ctx, owner, session.ID, manifestOf(stylesCSS))
	assert.NoError(t, err, "presence and size are enough when verification is off")
}

func TestFinalizeIsIdempotentAndImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.open(t)
	f.upload(t, session.ID, indexHTML)
	f.upload(t, session.ID, stylesCSS)

	first, err := f.svc.Finalize(ctx, owner, session.ID, manifestOf(indexHTML, stylesCSS))
	require.NoError(t, err)

	f.clock = f.clock.Add(time.Hour)
	second, err := f.svc.Finalize(ctx, owner, session.ID, manifestOf(stylesCSS, indexHTML))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = f.svc.Finalize(ctx, owner, session.ID, manifestOf(indexHTML))
	assert.ErrorIs(t, err, ErrSessionNotWritable)

	_, err = f.svc.GetUploadDestination(ctx, owner, session.ID, model.DestinationRequest{
		Path: "new.js", SizeBytes: 1, DigestHex: indexHTML.entry().DigestHex,
	})
	assert.ErrorIs(t, err, ErrSessionNotWritable)

	err = f.svc.StoreProxiedUpload(ctx, owner, session.ID, indexHTML.path, strings.NewReader(indexHTML.content), int64(len(indexHTML.content)))
	assert.ErrorIs(t, err, ErrSessionNotWritable)
}

func TestConcurrentFinalizeTransitionsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.open(t)
	f.upload(t, session.ID, indexHTML)

	results := make([]*model.Snapshot, 4)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := f.svc.Finalize(ctx, owner, session.ID, manifestOf(indexHTML))
			assert.NoError(t, err)
			results[i] = snap
		}(i)
	}
	wg.Wait()

	for _, r := range results[1:] {
		assert.Equal(t, results[0], r)
	}
}

func TestFinalizeRemovesObjectsOutsideManifest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.open(t)
	f.upload(t, session.ID, indexHTML)
	f.upload(t, session.ID, stylesCSS)

	_, err := f.svc.Finalize(ctx, owner, session.ID, manifestOf(indexHTML))
	require.NoError(t, err)

	_, err = f.store.Stat(ctx, common.ObjectKey(session.ID, stylesCSS.path))
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestFinalizeRejectsBadManifest(t *testing.T) {
	f := newFixture(t)
	session := f.open(t)

	req := manifestOf(indexHTML)
	req.TotalBytes++
	_, err := f.svc.Finalize(context.Background(), owner, session.ID, req)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	dup := manifestOf(indexHTML)
	dup.Files = append(dup.Files, dup.Files[0])
	dup.TotalBytes *= 2
	_, err = f.svc.Finalize(context.Background(), owner, session.ID, dup)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.svc.Finalize(context.Background(), owner, "nope", manifestOf(indexHTML))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestOpenFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session, err := f.svc.OpenSession(ctx, owner, model.OpenSessionRequest{Password: "pw"})
	require.NoError(t, err)

	docs := localFile{"docs/index.html", "<p>docs</p>"}
	f.upload(t, session.ID, indexHTML)
	f.upload(t, session.ID, docs)

	_, err = f.svc.OpenFile(ctx, session.ID, "", "pw")
	assert.ErrorIs(t, err, ErrSessionNotFound, "creating sessions are not served")

	_, err = f.svc.Finalize(ctx, owner, session.ID, manifestOf(indexHTML, docs))
	require.NoError(t, err)

	_, err = f.svc.OpenFile(ctx, session.ID, "", "")
	assert.ErrorIs(t, err, ErrPasswordRequired)
	_, err = f.svc.OpenFile(ctx, session.ID, "", "wrong")
	assert.ErrorIs(t, err, ErrPasswordRequired)

	served, err := f.svc.OpenFile(ctx, session.ID, "/", "pw")
	require.NoError(t, err)
	body, _ := io.ReadAll(served.Body)
	served.Body.Close()
	assert.Equal(t, indexHTML.content, string(body))

	served, err = f.svc.OpenFile(ctx, session.ID, "docs", "pw")
	require.NoError(t, err)
	served.Body.Close()
	assert.Equal(t, "docs/index.html", served.Entry.Path)
	assert.True(t, f.svc.IsDirectory(session.ID, "docs", "pw"))
	assert.False(t, f.svc.IsDirectory(session.ID, "docs", ""), "protected layout stays hidden")

	_, err = f.svc.OpenFile(ctx, session.ID, "nope.js", "pw")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	f.clock = f.clock.Add(48 * time.Hour)
	_, err = f.svc.OpenFile(ctx, session.ID, "", "pw")
	assert.ErrorIs(t, err, ErrSnapshotGone, "past expiry is gone even before the sweep runs")
}

func TestOpenFileRejectsObjectRewrittenAfterFinalize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.open(t)
	f.upload(t, session.ID, stylesCSS)
	_, err := f.svc.Finalize(ctx, owner, session.ID, manifestOf(stylesCSS))
	require.NoError(t, err)

	stored, err := f.svc.GetSession(ctx, owner, session.ID)
	require.NoError(t, err)
	rewritten := "body{color:blue;margin:0}"
	require.NoError(t, f.store.Put(ctx, stored.Uploads[stylesCSS.path].StorageKey,
		strings.NewReader(rewritten), int64(len(rewritten)), "text/css"))

	_, err = f.svc.OpenFile(ctx, session.ID, stylesCSS.path, "")
	assert.ErrorIs(t, err, ErrContentChanged)
}

func TestWriteArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.open(t)
	f.upload(t, session.ID, indexHTML)
	f.upload(t, session.ID, stylesCSS)
	_, err := f.svc.Finalize(ctx, owner, session.ID, manifestOf(indexHTML, stylesCSS))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.svc.WriteArchive(ctx, owner, session.ID, &buf))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	rc, err := zr.File[1].Open()
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, stylesCSS.content, string(data))

	assert.ErrorIs(t, f.svc.WriteArchive(ctx, "bob", session.ID, &buf), ErrSessionNotFound)
}
