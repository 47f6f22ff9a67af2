// Package uploader uploads file candidates with a bounded worker pool and an
// ordered list of transports.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"snapshot-service/common"
	"snapshot-service/logger"
	model "snapshot-service/models"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers       = 8
	DefaultUploadTimeout = 5 * time.Minute
)

// Resolver negotiates the destination of one file
type Resolver func(ctx context.Context, req model.DestinationRequest) (*model.UploadDestination, error)

// Options executor settings
type Options struct {
	Workers       int
	UploadTimeout time.Duration // per transport attempt
	ShowProgress  bool
	Output        io.Writer // progress bar output, stderr when nil
	Logger        *slog.Logger
}

// Result files confirmed by a transport. Entries is sorted by path.
type Result struct {
	Entries          []model.ManifestEntry
	BytesTransferred int64
}

// Executor uploads files with exactly Workers goroutines
type Executor struct {
	transports []Transport
	opts       Options
	logger     *slog.Logger
}

// NewExecutor create an executor trying transports in the given order
func NewExecutor(transports []Transport, opts Options) *Executor {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = DefaultUploadTimeout
	}
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Executor{transports: transports, opts: opts, logger: log}
}

func (e *Executor) newBar(total int64) *progressbar.ProgressBar {
	out := e.opts.Output
	if !e.opts.ShowProgress {
		out = io.Discard
	}
	return progressbar.NewOptions64(
		total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription("Uploading"),
		progressbar.OptionSetWidth(50),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Run upload every candidate and return once each has succeeded or failed.
// Files failing on every transport are reported together in an *UploadFailedError;
// a destination that cannot be negotiated stops the run. The result always
// lists the files uploaded so far.
func (e *Executor) Run(ctx context.Context, candidates []model.FileCandidate, resolve Resolver) (*Result, error) {
	var total int64
	for _, c := range candidates {
		total += c.SizeBytes
	}
	bar := e.newBar(total)

	var (
		mu          sync.Mutex
		entries     = make([]model.ManifestEntry, 0, len(candidates))
		failed      []*FileUploadError
		transferred atomic.Int64
	)

	jobs := make(chan model.FileCandidate)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for _, c := range candidates {
			select {
			case jobs <- c:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for i := 0; i < e.opts.Workers; i++ {
		g.Go(func() error {
			for c := range jobs {
				if gctx.Err() != nil {
					continue
				}
				entry, err := e.uploadOne(gctx, c, resolve)
				var fileErr *FileUploadError
				switch {
				case errors.As(err, &fileErr):
					mu.Lock()
					failed = append(failed, fileErr)
					mu.Unlock()
				case err != nil:
					return err
				default:
					transferred.Add(c.SizeBytes)
					bar.Add64(c.SizeBytes)
					mu.Lock()
					entries = append(entries, entry)
					mu.Unlock()
				}
			}
			return nil
		})
	}

	err := g.Wait()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	result := &Result{Entries: entries, BytesTransferred: transferred.Load()}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return result, err
	}
	if len(failed) > 0 {
		sort.Slice(failed, func(i, j int) bool { return failed[i].Path < failed[j].Path })
		return result, &UploadFailedError{Files: failed}
	}
	bar.Finish()
	return result, nil
}

func (e *Executor) uploadOne(ctx context.Context, c model.FileCandidate, resolve Resolver) (model.ManifestEntry, error) {
	entry := model.ManifestEntry{Path: c.RelativePath, ContentType: c.ContentType, SizeBytes: c.SizeBytes}

	digest, n, err := common.DigestFile(c.AbsolutePath)
	if err != nil {
		return entry, &FileUploadError{Path: c.RelativePath, Failures: []TransportFailure{{Transport: "digest", Err: err}}}
	}
	if n != c.SizeBytes {
		return entry, &FileUploadError{Path: c.RelativePath, Failures: []TransportFailure{{Transport: "digest", Err: ErrFileChanged}}}
	}
	entry.DigestHex = digest

	dest, err := resolve(ctx, model.DestinationRequest{
		Path:        c.RelativePath,
		ContentType: c.ContentType,
		SizeBytes:   c.SizeBytes,
		DigestHex:   digest,
	})
	if err != nil {
		return entry, fmt.Errorf("failed to negotiate destination for %s: %w", c.RelativePath, err)
	}

	var failures []TransportFailure
	for _, t := range e.transports {
		if !t.Supports(dest) {
			continue
		}
		err := e.attempt(ctx, t, dest, c, digest)
		if err == nil {
			e.logger.DebugContext(ctx, "file uploaded", "path", c.RelativePath, "transport", t.Name(), "bytes", c.SizeBytes)
			return entry, nil
		}
		failures = append(failures, TransportFailure{Transport: t.Name(), Err: err})
		e.logger.WarnContext(ctx, "transport failed", "path", c.RelativePath, "transport", t.Name(), "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(failures) == 0 {
		failures = append(failures, TransportFailure{Transport: "none", Err: ErrNoTransport})
	}
	return entry, &FileUploadError{Path: c.RelativePath, Failures: failures}
}

// attempt one transport; the file is re-read so every attempt sends the full content
func (e *Executor) attempt(ctx context.Context, t Transport, dest *model.UploadDestination, c model.FileCandidate, digest string) error {
	f, err := os.Open(c.AbsolutePath)
	if err != nil {
		return &common.IntegrityComputationError{Path: c.AbsolutePath, Err: err}
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, e.opts.UploadTimeout)
	defer cancel()

	body := common.NewDigestingReader(f)
	if err := t.Send(ctx, dest, body, c.SizeBytes, c.ContentType); err != nil {
		return err
	}
	if body.BytesRead() != c.SizeBytes || body.Sum() != digest {
		return fmt.Errorf("%w: sent %d of %d bytes", ErrIntegrity, body.BytesRead(), c.SizeBytes)
	}
	return nil
}
