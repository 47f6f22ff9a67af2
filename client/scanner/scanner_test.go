package scanner

import (
	"os"
	"path/filepath"
	"testing"

	model "snapshot-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSized(t *testing.T, root, rel string, size int64) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, os.Truncate(path, size))
}

func paths(candidates []model.FileCandidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.RelativePath
	}
	return out
}

func TestScanSortedWithContentTypes(t *testing.T) {
	root := t.TempDir()
	writeSized(t, root, "index.html", 2048)
	writeSized(t, root, "assets/app.js", 3072)
	writeSized(t, root, "assets/logo.png", 10)

	got, err := Scan(root, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"assets/app.js", "assets/logo.png", "index.html"}, paths(got))
	assert.Equal(t, "application/javascript; charset=utf-8", got[0].ContentType)
	assert.Equal(t, int64(3072), got[0].SizeBytes)
	assert.Equal(t, filepath.Join(root, "assets", "app.js"), got[0].AbsolutePath)
	assert.Equal(t, int64(5130), TotalBytes(got))
}

func TestScanDefaultExcludes(t *testing.T) {
	root := t.TempDir()
	writeSized(t, root, "index.html", 1)
	writeSized(t, root, ".git/HEAD", 1)
	writeSized(t, root, "img/.DS_Store", 1)
	writeSized(t, root, "Thumbs.db", 1)

	got, err := Scan(root, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"index.html"}, paths(got))

	got, err = Scan(root, Options{Exclude: []string{}})
	require.NoError(t, err)
	assert.Equal(t, []string{"index.html"}, paths(got), "an empty exclude list keeps the defaults")
}

func TestScanIncludeAndExclude(t *testing.T) {
	root := t.TempDir()
	writeSized(t, root, "index.html", 1)
	writeSized(t, root, "app.js", 1)
	writeSized(t, root, "app.js.map", 1)
	writeSized(t, root, "docs/readme.md", 1)

	got, err := Scan(root, Options{
		Include: []string{"**/*.html", "**/*.js", "**/*.map"},
		Exclude: []string{"**/*.map"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"app.js", "index.html"}, paths(got))
}

func TestScanRespectsIgnoreFiles(t *testing.T) {
	root := t.TempDir()
	writeSized(t, root, "index.html", 1)
	writeSized(t, root, "drafts/post.html", 1)
	writeSized(t, root, "debug.log", 1)
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("*.log\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".snapshotignore"), []byte("drafts/\n"), 0o644))

	got, err := Scan(root, Options{RespectIgnoreFiles: true, Exclude: []string{".gitignore", ".snapshotignore"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"index.html"}, paths(got))

	got, err = Scan(root, Options{Exclude: []string{".gitignore", ".snapshotignore"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"debug.log", "drafts/post.html", "index.html"}, paths(got))
}

func TestScanPerFileCap(t *testing.T) {
	root := t.TempDir()
	writeSized(t, root, "a.bin", 1<<20)
	writeSized(t, root, "big.bin", 6<<20)
	writeSized(t, root, "c.bin", 2<<20)

	_, err := Scan(root, Options{MaxFileBytes: 5 << 20})
	var capErr *model.CapExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, model.CapPerFile, capErr.Kind)
	assert.Equal(t, "big.bin", capErr.Path)
	assert.Equal(t, int64(6<<20), capErr.SizeBytes)
	// c.bin is walked after big.bin and never measured
	assert.Equal(t, []model.SizedPath{
		{Path: "big.bin", SizeBytes: 6 << 20},
		{Path: "a.bin", SizeBytes: 1 << 20},
	}, capErr.Largest)
}

func TestScanAggregateCap(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"1.bin", "2.bin", "3.bin", "4.bin"} {
		writeSized(t, root, name, 3<<20)
	}

	_, err := Scan(root, Options{MaxFileBytes: 5 << 20, MaxTotalBytes: 10 << 20, TopN: 2})
	var capErr *model.CapExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, model.CapAggregate, capErr.Kind)
	assert.Equal(t, int64(12<<20), capErr.TotalBytes)
	assert.Len(t, capErr.Largest, 2)
}

func TestScanEmptyDir(t *testing.T) {
	got, err := Scan(t.TempDir(), Options{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestScanInvalidPattern(t *testing.T) {
	_, err := Scan(t.TempDir(), Options{Include: []string{"[unclosed"}})
	assert.Error(t, err)
}
