// Package scanner enumerates the files of a build output and enforces size caps.
package scanner

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"snapshot-service/common"
	model "snapshot-service/models"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"
)

// ErrNoFiles the output directory holds no eligible file.
var ErrNoFiles = errors.New("no files to upload")

var (
	DefaultInclude = []string{"**"}
	DefaultExclude = []string{".git/**", "**/.DS_Store", "**/Thumbs.db"}
	IgnoreFiles    = []string{".gitignore", ".snapshotignore"}
)

// DefaultTopN number of largest files reported with a cap error
const DefaultTopN = 5

// Options scan filters and caps. Zero caps disable the corresponding check.
type Options struct {
	Include            []string
	Exclude            []string
	MaxFileBytes       int64
	MaxTotalBytes      int64
	RespectIgnoreFiles bool
	TopN               int
}

type matcher struct {
	include []string
	exclude []string
	ignores []*ignore.GitIgnore
}

func newMatcher(root string, opts Options) (*matcher, error) {
	m := &matcher{include: opts.Include, exclude: opts.Exclude}
	if len(m.include) == 0 {
		m.include = DefaultInclude
	}
	if len(m.exclude) == 0 {
		m.exclude = DefaultExclude
	}
	for _, p := range append(append([]string{}, m.include...), m.exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid glob pattern %q", p)
		}
	}
	if opts.RespectIgnoreFiles {
		for _, name := range IgnoreFiles {
			path := filepath.Join(root, name)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			gi, err := ignore.CompileIgnoreFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", name, err)
			}
			m.ignores = append(m.ignores, gi)
		}
	}
	return m, nil
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

func (m *matcher) ignored(rel string, dir bool) bool {
	if matchAny(m.exclude, rel) {
		return true
	}
	if dir && matchAny(m.exclude, rel+"/") {
		return true
	}
	for _, gi := range m.ignores {
		if gi.MatchesPath(rel) || (dir && gi.MatchesPath(rel+"/")) {
			return true
		}
	}
	return false
}

// Scan walk root and return the eligible files sorted by relative path.
// The first file over the per-file cap, or the first file pushing the total
// over the aggregate cap, stops the scan with a *model.CapExceededError.
func Scan(root string, opts Options) ([]model.FileCandidate, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	m, err := newMatcher(root, opts)
	if err != nil {
		return nil, err
	}
	topN := opts.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}

	var (
		candidates []model.FileCandidate
		seen       []model.SizedPath
		total      int64
	)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == root {
			return nil
		}
		relOS, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel := filepath.ToSlash(relOS)

		if d.IsDir() {
			if m.ignored(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || m.ignored(rel, false) || !matchAny(m.include, rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		canonical, err := common.CanonicalPath(rel)
		if err != nil {
			return fmt.Errorf("%s: %w", rel, err)
		}
		size := info.Size()
		seen = append(seen, model.SizedPath{Path: canonical, SizeBytes: size})

		if opts.MaxFileBytes > 0 && size > opts.MaxFileBytes {
			return &model.CapExceededError{
				Kind:       model.CapPerFile,
				Path:       canonical,
				SizeBytes:  size,
				LimitBytes: opts.MaxFileBytes,
				Largest:    largest(seen, topN),
			}
		}
		total += size
		if opts.MaxTotalBytes > 0 && total > opts.MaxTotalBytes {
			return &model.CapExceededError{
				Kind:       model.CapAggregate,
				TotalBytes: total,
				LimitBytes: opts.MaxTotalBytes,
				Largest:    largest(seen, topN),
			}
		}

		candidates = append(candidates, model.FileCandidate{
			AbsolutePath: path,
			RelativePath: canonical,
			SizeBytes:    size,
			ContentType:  common.ContentType(canonical),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].RelativePath < candidates[j].RelativePath })
	return candidates, nil
}

// largest the n biggest files, descending
func largest(seen []model.SizedPath, n int) []model.SizedPath {
	out := make([]model.SizedPath, len(seen))
	copy(out, seen)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SizeBytes > out[j].SizeBytes })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// TotalBytes sum of candidate sizes
func TotalBytes(candidates []model.FileCandidate) int64 {
	var total int64
	for _, c := range candidates {
		total += c.SizeBytes
	}
	return total
}
