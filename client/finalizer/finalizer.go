// Package finalizer assembles the manifest of an upload and commits it.
package finalizer

import (
	"context"
	"fmt"

	model "snapshot-service/models"
)

// API the finalize call of the origin
type API interface {
	Finalize(ctx context.Context, sessionID string, req model.FinalizeRequest) (*model.Snapshot, error)
}

// BuildManifest order the entries by path and reject duplicates or malformed entries
func BuildManifest(entries []model.ManifestEntry) (model.Manifest, int64, error) {
	manifest := make(model.Manifest, len(entries))
	copy(manifest, entries)
	manifest.Sort()
	if err := manifest.Validate(); err != nil {
		return nil, 0, fmt.Errorf("invalid manifest: %w", err)
	}
	return manifest, manifest.TotalBytes(), nil
}

// Finalize submit the manifest. A *model.ReconciliationError is returned unchanged so
// the caller can re-upload the named files.
func Finalize(ctx context.Context, api API, sessionID string, manifest model.Manifest, totalBytes int64) (*model.Snapshot, error) {
	snap, err := api.Finalize(ctx, sessionID, model.FinalizeRequest{Files: manifest, TotalBytes: totalBytes})
	if err != nil {
		return nil, err
	}
	if err := sameFiles(manifest, snap.Files); err != nil {
		return nil, fmt.Errorf("server published a different file set: %w", err)
	}
	return snap, nil
}

func sameFiles(want, got model.Manifest) error {
	if len(want) != len(got) {
		return fmt.Errorf("%d files submitted, %d published", len(want), len(got))
	}
	published := make(map[string]model.ManifestEntry, len(got))
	for _, e := range got {
		published[e.Path] = e
	}
	for _, e := range want {
		p, ok := published[e.Path]
		if !ok {
			return fmt.Errorf("%s missing", e.Path)
		}
		if p.DigestHex != e.DigestHex || p.SizeBytes != e.SizeBytes {
			return fmt.Errorf("%s differs", e.Path)
		}
	}
	return nil
}
