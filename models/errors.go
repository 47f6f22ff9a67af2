package models

import (
	"fmt"
	"strings"
)

// CapKind names the limit that was exceeded.
type CapKind string

const (
	CapPerFile   CapKind = "per_file"
	CapAggregate CapKind = "aggregate"
)

// SizedPath pairs a path with its size, for diagnostics.
type SizedPath struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// CapExceededError reports a per-file or aggregate capacity violation. Largest lists
// the biggest files seen before the scan stopped, largest first.
type CapExceededError struct {
	Kind       CapKind     `json:"kind"`
	Path       string      `json:"path,omitempty"`
	SizeBytes  int64       `json:"size_bytes,omitempty"`
	TotalBytes int64       `json:"total_bytes,omitempty"`
	LimitBytes int64       `json:"limit_bytes"`
	Largest    []SizedPath `json:"largest,omitempty"`
}

func (e *CapExceededError) Error() string {
	var b strings.Builder
	switch e.Kind {
	case CapPerFile:
		fmt.Fprintf(&b, "file %s is %s, over the per-file limit of %s", e.Path, HumanBytes(e.SizeBytes), HumanBytes(e.LimitBytes))
	default:
		fmt.Fprintf(&b, "build output reached %s, over the total limit of %s", HumanBytes(e.TotalBytes), HumanBytes(e.LimitBytes))
	}
	if len(e.Largest) > 0 {
		b.WriteString("; largest files:")
		for _, f := range e.Largest {
			fmt.Fprintf(&b, " %s (%s)", f.Path, HumanBytes(f.SizeBytes))
		}
	}
	return b.String()
}

// ReconciliationError lists manifest entries whose stored object could not be
// verified at finalize. The session stays writable.
type ReconciliationError struct {
	Missing        []string `json:"missing,omitempty"`
	SizeMismatch   []string `json:"size_mismatch,omitempty"`
	DigestMismatch []string `json:"digest_mismatch,omitempty"`
}

// Paths returns every offending path.
func (e *ReconciliationError) Paths() []string {
	paths := make([]string, 0, len(e.Missing)+len(e.SizeMismatch)+len(e.DigestMismatch))
	paths = append(paths, e.Missing...)
	paths = append(paths, e.SizeMismatch...)
	return append(paths, e.DigestMismatch...)
}

func (e *ReconciliationError) Error() string {
	parts := make([]string, 0, 3)
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.SizeMismatch) > 0 {
		parts = append(parts, "size mismatch: "+strings.Join(e.SizeMismatch, ", "))
	}
	if len(e.DigestMismatch) > 0 {
		parts = append(parts, "digest mismatch: "+strings.Join(e.DigestMismatch, ", "))
	}
	return "snapshot reconciliation failed (" + strings.Join(parts, "; ") + ")"
}

// HumanBytes formats a byte count with a binary unit.
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
