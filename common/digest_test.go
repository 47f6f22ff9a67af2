package common

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct {
	after int
	read  int
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.read >= f.after {
		return 0, errors.New("disk gone")
	}
	n := len(p)
	if n > f.after-f.read {
		n = f.after - f.read
	}
	f.read += n
	return n, nil
}

func TestDigestIsDeterministic(t *testing.T) {
	content := bytes.Repeat([]byte("snapshot"), 50_000)

	first, n1, err := DigestReader(bytes.NewReader(content))
	require.NoError(t, err)
	second, n2, err := DigestReader(bytes.NewReader(content))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(len(content)), n1)
	assert.Equal(t, n1, n2)
	assert.Len(t, first, DigestSize*2)
	assert.Equal(t, DigestBytes(content), first)
}

func TestDigestDiffersOnSingleByteChange(t *testing.T) {
	a := []byte("hello world")
	b := []byte("hello worle")
	assert.NotEqual(t, DigestBytes(a), DigestBytes(b))
}

func TestDigestEmptyInput(t *testing.T) {
	d, n, err := DigestReader(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.Equal(t, DigestBytes(nil), d)
}

func TestDigestReadErrorYieldsNoDigest(t *testing.T) {
	d, _, err := DigestReader(&failingReader{after: 100})
	require.Error(t, err)
	assert.Empty(t, d)

	var ice *IntegrityComputationError
	require.ErrorAs(t, err, &ice)
}

func TestDigestFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "index.html")
	require.NoError(t, os.WriteFile(p, []byte("<html></html>"), 0o644))

	d, n, err := DigestFile(p)
	require.NoError(t, err)
	assert.Equal(t, int64(13), n)
	assert.Equal(t, DigestBytes([]byte("<html></html>")), d)

	_, _, err = DigestFile(filepath.Join(dir, "missing"))
	var ice *IntegrityComputationError
	require.ErrorAs(t, err, &ice)
	assert.Equal(t, filepath.Join(dir, "missing"), ice.Path)
}

func TestDigestingReaderMatchesDigestReader(t *testing.T) {
	content := bytes.Repeat([]byte{1, 2, 3}, 100_000)
	dr := NewDigestingReader(bytes.NewReader(content))
	_, err := io.Copy(io.Discard, dr)
	require.NoError(t, err)

	assert.Equal(t, int64(len(content)), dr.BytesRead())
	assert.Equal(t, DigestBytes(content), dr.Sum())
}
