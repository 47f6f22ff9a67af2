package snapshot_service

import (
	"context"
	"testing"
	"time"

	"snapshot-service/common"
	model "snapshot-service/models"
	"snapshot-service/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepExpiresActiveSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.open(t)
	f.upload(t, session.ID, indexHTML)
	_, err := f.svc.Finalize(ctx, owner, session.ID, manifestOf(indexHTML))
	require.NoError(t, err)

	report, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, report, "nothing is due yet")

	f.clock = f.clock.Add(25 * time.Hour)
	report, err = f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)

	got, err := f.svc.GetSession(ctx, owner, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusExpired, got.Status)
	assert.True(t, got.ContentReclaimed)

	_, err = f.store.Stat(ctx, common.ObjectKey(session.ID, indexHTML.path))
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)

	_, err = f.svc.OpenFile(ctx, session.ID, "", "")
	assert.ErrorIs(t, err, ErrSnapshotGone)

	_, err = f.svc.Finalize(ctx, owner, session.ID, manifestOf(indexHTML))
	assert.ErrorIs(t, err, ErrSessionNotWritable, "expired is terminal")

	report, err = f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Expired)
}

func TestSweepRemovesAbandonedSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale := f.open(t)
	f.upload(t, stale.ID, indexHTML)

	f.clock = f.clock.Add(23 * time.Hour)
	fresh := f.open(t)

	f.clock = f.clock.Add(2 * time.Hour)
	report, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Abandoned)

	_, err = f.svc.GetSession(ctx, owner, stale.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.store.Stat(ctx, common.ObjectKey(stale.ID, indexHTML.path))
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)

	got, err := f.svc.GetSession(ctx, owner, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCreating, got.Status)
}
