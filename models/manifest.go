package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"snapshot-service/common"
)

// ManifestEntry describes one file of a snapshot.
type ManifestEntry struct {
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	DigestHex   string `json:"digest_hex"`
}

// Manifest is the path-ordered list of entries submitted at finalize.
type Manifest []ManifestEntry

// FinalizeRequest is the body of a finalize call.
type FinalizeRequest struct {
	Files      Manifest `json:"files"`
	TotalBytes int64    `json:"total_bytes"`
}

// Sort orders the manifest by path.
func (m Manifest) Sort() {
	sort.Slice(m, func(i, j int) bool { return m[i].Path < m[j].Path })
}

// TotalBytes sums entry sizes.
func (m Manifest) TotalBytes() int64 {
	var total int64
	for _, e := range m {
		total += e.SizeBytes
	}
	return total
}

// Validate checks ordering, uniqueness and shape of every entry.
func (m Manifest) Validate() error {
	for i, e := range m {
		canonical, err := common.CanonicalPath(e.Path)
		if err != nil || canonical != e.Path {
			return fmt.Errorf("entry %d: path %q is not canonical", i, e.Path)
		}
		if e.SizeBytes < 0 {
			return fmt.Errorf("entry %s: negative size", e.Path)
		}
		if len(e.DigestHex) != common.DigestSize*2 || strings.ToLower(e.DigestHex) != e.DigestHex {
			return fmt.Errorf("entry %s: malformed digest", e.Path)
		}
		if i > 0 {
			switch prev := m[i-1].Path; {
			case prev == e.Path:
				return fmt.Errorf("duplicate path %s", e.Path)
			case prev > e.Path:
				return fmt.Errorf("entries not ordered by path at %s", e.Path)
			}
		}
	}
	return nil
}

// Digest returns the digest of the canonical JSON encoding of the manifest.
func (m Manifest) Digest() string {
	data, _ := json.Marshal(m)
	return common.DigestBytes(data)
}
