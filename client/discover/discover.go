// Package discover locates the directory holding a finished static build.
package discover

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"snapshot-service/logger"
	model "snapshot-service/models"
)

// MarkerFile is the root document a build output must contain.
const MarkerFile = "index.html"

var (
	// ConventionalDirs build output directory names, in priority order
	ConventionalDirs = []string{"dist", "build", "out", "output", "public", "_site", "www"}

	// MonorepoContainers directories holding one sub-app per child
	MonorepoContainers = []string{"apps", "packages", "sites", "projects", "examples"}

	staticSiteDirs = []string{".", "public", "static", "site", "www", "src"}
	assetDirs      = []string{"assets", "css", "js", "static", "images", "img", "fonts"}
	assetExts      = map[string]bool{
		".css": true, ".js": true, ".mjs": true, ".png": true, ".jpg": true, ".jpeg": true,
		".gif": true, ".svg": true, ".webp": true, ".ico": true, ".woff": true, ".woff2": true,
	}
)

// MissingMarkerChoice answer to a manual selection without index.html
type MissingMarkerChoice int

const (
	ChoiceProceed MissingMarkerChoice = iota
	ChoiceReselect
	ChoiceCancel
)

// Prompter asks the user to resolve ambiguous or failed discovery.
// A false ok means the user cancelled.
type Prompter interface {
	SelectOutput(root string, candidates []string) (choice string, ok bool, err error)
	ChooseDirectory(root string) (dir string, ok bool, err error)
	ConfirmMissingMarker(dir string) (MissingMarkerChoice, error)
}

// DiscoveryError no usable output was found and nobody could be asked.
type DiscoveryError struct {
	Root   string
	Reason string
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("no build output found in %s: %s", e.Root, e.Reason)
}

// Discoverer applies the discovery steps in order; the first match wins.
type Discoverer struct {
	outputDir string
	prompter  Prompter
	logger    *slog.Logger
}

// New create a discoverer. outputDir may be empty; prompter may be nil for
// non-interactive runs.
func New(outputDir string, prompter Prompter, log *slog.Logger) *Discoverer {
	if log == nil {
		log = logger.Discard()
	}
	return &Discoverer{outputDir: outputDir, prompter: prompter, logger: log}
}

// Discover find the build output under root
func (d *Discoverer) Discover(ctx context.Context, root string) (model.BuildOutput, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return model.BuildOutput{}, fmt.Errorf("failed to resolve root: %w", err)
	}

	if d.outputDir != "" {
		dir := d.outputDir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(root, dir)
		}
		if isDir(dir) {
			return model.BuildOutput{RootPath: dir, Source: model.SourceExplicit}, nil
		}
		d.logger.WarnContext(ctx, "configured output directory does not exist, falling back to detection", "dir", dir)
	}

	for _, name := range ConventionalDirs {
		dir := filepath.Join(root, name)
		if hasMarker(dir) {
			return model.BuildOutput{RootPath: dir, Source: model.SourceConventional}, nil
		}
	}

	matches := monorepoOutputs(root)
	switch {
	case len(matches) == 1:
		return model.BuildOutput{RootPath: matches[0], Source: model.SourceMonorepo}, nil
	case len(matches) > 1:
		if d.prompter == nil {
			return model.BuildOutput{}, &DiscoveryError{
				Root:   root,
				Reason: fmt.Sprintf("%d sub-app outputs found (%s)", len(matches), strings.Join(relAll(root, matches), ", ")),
			}
		}
		choice, ok, err := d.prompter.SelectOutput(root, matches)
		if err != nil {
			return model.BuildOutput{}, err
		}
		if !ok {
			return model.BuildOutput{Cancelled: true}, nil
		}
		return model.BuildOutput{RootPath: choice, Source: model.SourceMonorepo}, nil
	}

	for _, name := range staticSiteDirs {
		dir := filepath.Join(root, name)
		if looksLikeStaticSite(dir) {
			return model.BuildOutput{RootPath: dir, Source: model.SourceStaticSite}, nil
		}
	}

	return d.manual(ctx, root)
}

func (d *Discoverer) manual(ctx context.Context, root string) (model.BuildOutput, error) {
	if d.prompter == nil {
		return model.BuildOutput{}, &DiscoveryError{Root: root, Reason: "no conventional output directory or static site detected"}
	}
	for {
		if err := ctx.Err(); err != nil {
			return model.BuildOutput{}, err
		}
		dir, ok, err := d.prompter.ChooseDirectory(root)
		if err != nil {
			return model.BuildOutput{}, err
		}
		if !ok {
			return model.BuildOutput{Cancelled: true}, nil
		}
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(root, dir)
		}
		if !isDir(dir) {
			d.logger.WarnContext(ctx, "not a directory", "dir", dir)
			continue
		}
		if hasMarker(dir) {
			return model.BuildOutput{RootPath: dir, Source: model.SourceManual}, nil
		}

		choice, err := d.prompter.ConfirmMissingMarker(dir)
		if err != nil {
			return model.BuildOutput{}, err
		}
		switch choice {
		case ChoiceProceed:
			return model.BuildOutput{RootPath: dir, Source: model.SourceManual}, nil
		case ChoiceCancel:
			return model.BuildOutput{Cancelled: true}, nil
		}
	}
}

// monorepoOutputs conventional outputs one level below the container dirs
func monorepoOutputs(root string) []string {
	var matches []string
	for _, container := range MonorepoContainers {
		entries, err := os.ReadDir(filepath.Join(root, container))
		if err != nil {
			continue
		}
		for _, app := range entries {
			if !app.IsDir() {
				continue
			}
			for _, name := range ConventionalDirs {
				dir := filepath.Join(root, container, app.Name(), name)
				if hasMarker(dir) {
					matches = append(matches, dir)
					break
				}
			}
		}
	}
	sort.Strings(matches)
	return matches
}

func looksLikeStaticSite(dir string) bool {
	if !hasMarker(dir) {
		return false
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		name := strings.ToLower(e.Name())
		if e.IsDir() {
			for _, a := range assetDirs {
				if name == a {
					return true
				}
			}
			continue
		}
		if assetExts[filepath.Ext(name)] {
			return true
		}
	}
	return false
}

func hasMarker(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, MarkerFile))
	return err == nil && info.Mode().IsRegular()
}

func isDir(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

func relAll(root string, dirs []string) []string {
	out := make([]string, len(dirs))
	for i, d := range dirs {
		if rel, err := filepath.Rel(root, d); err == nil {
			out[i] = filepath.ToSlash(rel)
		} else {
			out[i] = d
		}
	}
	return out
}

// RelativeTo display form of dir relative to root
func RelativeTo(root, dir string) string {
	return relAll(root, []string{dir})[0]
}
