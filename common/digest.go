package common

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// digestChunkSize is the read buffer used when streaming file content into the hasher.
const digestChunkSize = 64 * 1024

// DigestSize is the length in bytes of a content digest (256 bits).
const DigestSize = 32

// IntegrityComputationError is returned when content cannot be read to completion while hashing.
// No partial digest is ever returned alongside it.
type IntegrityComputationError struct {
	Path string
	Err  error
}

func (e *IntegrityComputationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to compute digest: %v", e.Err)
	}
	return fmt.Sprintf("failed to compute digest of %s: %v", e.Path, e.Err)
}

func (e *IntegrityComputationError) Unwrap() error {
	return e.Err
}

// DigestReader streams r into a BLAKE3-256 hasher and returns the lowercase hex digest
// together with the number of bytes read.
func DigestReader(r io.Reader) (string, int64, error) {
	return digest(r, "")
}

// DigestFile computes the digest of the file at path.
func DigestFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, &IntegrityComputationError{Path: path, Err: err}
	}
	defer f.Close()

	return digest(f, path)
}

func digest(r io.Reader, path string) (string, int64, error) {
	h := blake3.New()
	buf := make([]byte, digestChunkSize)
	n, err := io.CopyBuffer(h, r, buf)
	if err != nil {
		return "", 0, &IntegrityComputationError{Path: path, Err: err}
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// DigestBytes returns the hex digest of an in-memory buffer.
func DigestBytes(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// DigestingReader hashes and counts bytes as they are read from the wrapped reader.
type DigestingReader struct {
	r io.Reader
	h hash.Hash
	n int64
}

// NewDigestingReader wraps r.
func NewDigestingReader(r io.Reader) *DigestingReader {
	return &DigestingReader{r: r, h: blake3.New()}
}

func (d *DigestingReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if n > 0 {
		d.h.Write(p[:n])
		d.n += int64(n)
	}
	return n, err
}

// Sum returns the hex digest of everything read so far.
func (d *DigestingReader) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// BytesRead returns the number of bytes read so far.
func (d *DigestingReader) BytesRead() int64 {
	return d.n
}
