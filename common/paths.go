package common

import (
	"errors"
	"path"
	"strings"
)

// ErrInvalidPath is returned for relative paths that cannot be part of a snapshot.
var ErrInvalidPath = errors.New("invalid snapshot path")

// CanonicalPath normalizes a relative file path to the form used in manifests:
// forward slashes, no leading slash, no dot segments. Paths escaping the root are rejected.
func CanonicalPath(rel string) (string, error) {
	p := strings.ReplaceAll(rel, "\\", "/")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", ErrInvalidPath
		}
	}
	p = path.Clean(p)
	if p == "." || p == "" || strings.ContainsRune(p, 0) {
		return "", ErrInvalidPath
	}
	return p, nil
}

// ObjectKey returns the storage key of a snapshot file.
func ObjectKey(sessionID, canonicalPath string) string {
	return SessionPrefix(sessionID) + canonicalPath
}

// SessionPrefix returns the storage prefix holding every object of a session.
func SessionPrefix(sessionID string) string {
	return "snapshots/" + sessionID + "/"
}

// SplitObjectKey is the inverse of ObjectKey.
func SplitObjectKey(key string) (sessionID, canonicalPath string, err error) {
	rest, ok := strings.CutPrefix(key, "snapshots/")
	if !ok {
		return "", "", ErrInvalidPath
	}
	sessionID, p, ok := strings.Cut(rest, "/")
	if !ok || sessionID == "" {
		return "", "", ErrInvalidPath
	}
	canonicalPath, err = CanonicalPath(p)
	if err != nil || canonicalPath != p {
		return "", "", ErrInvalidPath
	}
	return sessionID, canonicalPath, nil
}
