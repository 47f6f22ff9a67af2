package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadAppliesDefaults(t *testing.T) {
	p := writeConfig(t, `
auth:
  jwt_secret: s3cret
  api_keys:
    - key: KeyWithCase
      owner: alice
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "7333", cfg.Server.Port)
	assert.Equal(t, "http://localhost:7333", cfg.Server.PublicBaseURL)
	assert.Equal(t, int64(100*mb), cfg.Snapshot.MaxTotalBytes)
	assert.Equal(t, int64(25*mb), cfg.Snapshot.MaxFileBytes)
	assert.True(t, cfg.Snapshot.VerifyDigest)
	assert.Equal(t, 24*time.Hour, cfg.Lifecycle.MaxCreatingAge)
	assert.Equal(t, "@every 10m", cfg.Lifecycle.SweepSchedule)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 15*time.Minute, cfg.Storage.PresignTTL)
	require.Len(t, cfg.Auth.APIKeys, 1)
	assert.Equal(t, "KeyWithCase", cfg.Auth.APIKeys[0].Key)
	assert.Equal(t, "alice", cfg.Auth.APIKeys[0].Owner)
}

func TestLoadOverrides(t *testing.T) {
	p := writeConfig(t, `
server:
  port: "9000"
  public_base_url: https://snap.example.com/
snapshot:
  max_total_mb: 5
  max_file_mb: 1
  max_expiry_days: 3
  default_expiry_days: 10
  verify_digest: false
storage:
  type: s3
  s3:
    bucket: snaps
auth:
  jwt_secret: x
  api_keys:
    - key: k
      owner: o
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "https://snap.example.com", cfg.Server.PublicBaseURL)
	assert.Equal(t, int64(5*mb), cfg.Snapshot.MaxTotalBytes)
	assert.Equal(t, 3, cfg.Snapshot.DefaultExpiryDays)
	assert.False(t, cfg.Snapshot.VerifyDigest)
	assert.Equal(t, "snaps", cfg.Storage.S3.Bucket)
}

func TestLoadRejectsIncompleteConfig(t *testing.T) {
	_, err := Load(writeConfig(t, "server:\n  port: \"1\"\n"))
	assert.ErrorContains(t, err, "jwt_secret")

	_, err = Load(writeConfig(t, `
auth:
  jwt_secret: x
  api_keys:
    - key: k
      owner: o
storage:
  type: ftp
`))
	assert.ErrorContains(t, err, "unsupported storage type")

	_, err = Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
