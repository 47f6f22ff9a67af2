package uploader

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrIntegrity the bytes sent differ from the bytes hashed before upload
	ErrIntegrity = errors.New("transmitted content does not match its digest")
	// ErrFileChanged the file changed size between scan and upload
	ErrFileChanged = errors.New("file changed since it was scanned")
	// ErrNoTransport no transport accepts the destination
	ErrNoTransport = errors.New("no transport applies to the destination")
)

// TransportFailure one failed attempt of a file upload
type TransportFailure struct {
	Transport string
	Err       error
}

// FileUploadError every transport failed for one file
type FileUploadError struct {
	Path     string
	Failures []TransportFailure
}

func (e *FileUploadError) Error() string {
	causes := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		causes[i] = f.Transport + ": " + f.Err.Error()
	}
	return fmt.Sprintf("upload of %s failed (%s)", e.Path, strings.Join(causes, "; "))
}

func (e *FileUploadError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// UploadFailedError at least one file could not be uploaded; the snapshot must not be finalized
type UploadFailedError struct {
	Files []*FileUploadError
}

func (e *UploadFailedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d file(s) failed to upload", len(e.Files))
	for _, f := range e.Files {
		b.WriteString("\n  ")
		b.WriteString(f.Error())
	}
	return b.String()
}

func (e *UploadFailedError) Unwrap() []error {
	errs := make([]error, len(e.Files))
	for i, f := range e.Files {
		errs[i] = f
	}
	return errs
}

// Paths of the failed files
func (e *UploadFailedError) Paths() []string {
	paths := make([]string, len(e.Files))
	for i, f := range e.Files {
		paths[i] = f.Path
	}
	return paths
}
