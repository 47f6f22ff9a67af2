// Package stage runs the whole staging workflow: build, discover, scan, upload, finalize.
package stage

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"snapshot-service/client/finalizer"
	"snapshot-service/client/negotiator"
	"snapshot-service/client/scanner"
	"snapshot-service/client/uploader"
	"snapshot-service/conf"
	"snapshot-service/logger"
	model "snapshot-service/models"
)

// maxAuthRetries automatic re-authentications per run
const maxAuthRetries = 1

// API origin calls used by the pipeline
type API interface {
	FetchCaps(ctx context.Context) (*negotiator.ServerConfig, error)
	OpenSession(ctx context.Context, req model.OpenSessionRequest) (*model.SessionInfo, error)
	GetUploadDestination(ctx context.Context, sessionID string, req model.DestinationRequest) (*model.UploadDestination, error)
	Finalize(ctx context.Context, sessionID string, req model.FinalizeRequest) (*model.Snapshot, error)
}

// Credentials re-authentication collaborator
type Credentials interface {
	Refresh(ctx context.Context) (string, error)
}

// Discoverer finds the build output
type Discoverer interface {
	Discover(ctx context.Context, root string) (model.BuildOutput, error)
}

// Uploader uploads candidates
type Uploader interface {
	Run(ctx context.Context, candidates []model.FileCandidate, resolve uploader.Resolver) (*uploader.Result, error)
}

// BuildError the build command failed
type BuildError struct {
	Command string
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build command %q failed: %v", e.Command, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Deps collaborators of a pipeline
type Deps struct {
	API         API
	Credentials Credentials
	Discoverer  Discoverer
	Uploader    Uploader
	Logger      *slog.Logger
	BuildOutput io.Writer // build command stdout/stderr, os.Stderr when nil
}

// Outcome result of a run. Cancelled runs carry nothing else.
type Outcome struct {
	Cancelled        bool
	OutputDir        string
	Snapshot         *model.Snapshot
	URL              string
	Password         string
	BytesTransferred int64
	AuthRetries      int
	Reuploaded       []string
}

// Pipeline one staging attempt with its configuration
type Pipeline struct {
	cfg  conf.StageConfig
	deps Deps
	log  *slog.Logger
}

// New create a pipeline
func New(cfg conf.StageConfig, deps Deps) *Pipeline {
	log := deps.Logger
	if log == nil {
		log = logger.Discard()
	}
	if deps.BuildOutput == nil {
		deps.BuildOutput = os.Stderr
	}
	return &Pipeline{cfg: cfg, deps: deps, log: log}
}

// uploadState files confirmed so far within the run
type uploadState struct {
	sessionID  string
	candidates []model.FileCandidate
	done       map[string]model.ManifestEntry
}

func (s *uploadState) pending() []model.FileCandidate {
	var out []model.FileCandidate
	for _, c := range s.candidates {
		if _, ok := s.done[c.RelativePath]; !ok {
			out = append(out, c)
		}
	}
	return out
}

func (s *uploadState) entries() []model.ManifestEntry {
	out := make([]model.ManifestEntry, 0, len(s.done))
	for _, e := range s.done {
		out = append(out, e)
	}
	return out
}

// Run execute the pipeline
func (p *Pipeline) Run(ctx context.Context) (*Outcome, error) {
	if p.cfg.Build && p.cfg.BuildCommand != "" {
		if err := p.runBuild(ctx); err != nil {
			return nil, err
		}
	}

	output, err := p.deps.Discoverer.Discover(ctx, p.cfg.Root)
	if err != nil {
		return nil, err
	}
	if output.Cancelled {
		return &Outcome{Cancelled: true}, nil
	}
	p.log.InfoContext(ctx, "build output selected", "dir", output.RootPath, "source", output.Source)

	serverCfg, err := p.deps.API.FetchCaps(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch server limits: %w", err)
	}
	maxFile, maxTotal := effectiveCaps(p.cfg, serverCfg.Caps)

	candidates, err := scanner.Scan(output.RootPath, scanner.Options{
		Include:            p.cfg.Include,
		Exclude:            p.cfg.Exclude,
		MaxFileBytes:       maxFile,
		MaxTotalBytes:      maxTotal,
		RespectIgnoreFiles: p.cfg.RespectIgnoreFiles,
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w in %s", scanner.ErrNoFiles, output.RootPath)
	}
	p.log.InfoContext(ctx, "files scanned", "files", len(candidates), "bytes", scanner.TotalBytes(candidates))

	password := p.cfg.Password
	if password == "" && p.cfg.GeneratePassword {
		if password, err = generatePassword(); err != nil {
			return nil, err
		}
	}

	outcome := &Outcome{OutputDir: output.RootPath, Password: password}
	state := &uploadState{candidates: candidates, done: map[string]model.ManifestEntry{}}
	reuploaded := false

	for {
		snap, err := p.attempt(ctx, state, password, outcome)
		if err == nil {
			outcome.Snapshot = snap
			outcome.URL = snap.URL
			return outcome, nil
		}

		var recErr *model.ReconciliationError
		switch {
		case errors.Is(err, negotiator.ErrAuthRequired):
			if outcome.AuthRetries >= maxAuthRetries {
				return nil, fmt.Errorf("credential rejected again after refresh: %w", negotiator.ErrAuthRequired)
			}
			outcome.AuthRetries++
			p.log.WarnContext(ctx, "credential rejected, re-authenticating")
			if _, err := p.deps.Credentials.Refresh(ctx); err != nil {
				return nil, fmt.Errorf("re-authentication failed: %w", err)
			}
		case errors.As(err, &recErr) && !reuploaded:
			reuploaded = true
			outcome.Reuploaded = recErr.Paths()
			p.log.WarnContext(ctx, "server is missing files, uploading them again", "paths", outcome.Reuploaded)
			for _, path := range outcome.Reuploaded {
				delete(state.done, path)
			}
		default:
			return nil, err
		}
	}
}

// attempt continue from wherever the previous attempt stopped
func (p *Pipeline) attempt(ctx context.Context, state *uploadState, password string, outcome *Outcome) (*model.Snapshot, error) {
	if state.sessionID == "" {
		info, err := p.deps.API.OpenSession(ctx, model.OpenSessionRequest{ExpiryDays: p.cfg.ExpiryDays, Password: password})
		if err != nil {
			return nil, err
		}
		state.sessionID = info.ID
		p.log.InfoContext(ctx, "session opened", "session_id", info.ID, "expires_at", info.ExpiresAt)
	}

	if pending := state.pending(); len(pending) > 0 {
		sessionID := state.sessionID
		res, err := p.deps.Uploader.Run(ctx, pending, func(ctx context.Context, req model.DestinationRequest) (*model.UploadDestination, error) {
			return p.deps.API.GetUploadDestination(ctx, sessionID, req)
		})
		if res != nil {
			for _, e := range res.Entries {
				state.done[e.Path] = e
			}
			outcome.BytesTransferred += res.BytesTransferred
		}
		if err != nil {
			return nil, err
		}
	}

	manifest, total, err := finalizer.BuildManifest(state.entries())
	if err != nil {
		return nil, err
	}
	return finalizer.Finalize(ctx, p.deps.API, state.sessionID, manifest, total)
}

// effectiveCaps the stricter of the configured and advertised limits
func effectiveCaps(cfg conf.StageConfig, server model.Caps) (maxFile, maxTotal int64) {
	pick := func(local, remote int64) int64 {
		if local > 0 && (remote <= 0 || local < remote) {
			return local
		}
		return remote
	}
	return pick(cfg.MaxFileBytes, server.MaxFileBytes), pick(cfg.MaxTotalBytes, server.MaxTotalBytes)
}

func (p *Pipeline) runBuild(ctx context.Context) error {
	p.log.InfoContext(ctx, "running build", "command", p.cfg.BuildCommand)
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", p.cfg.BuildCommand)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", p.cfg.BuildCommand)
	}
	cmd.Dir = p.cfg.Root
	cmd.Stdout = p.deps.BuildOutput
	cmd.Stderr = p.deps.BuildOutput
	if err := cmd.Run(); err != nil {
		return &BuildError{Command: p.cfg.BuildCommand, Err: err}
	}
	return nil
}

func generatePassword() (string, error) {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b)), nil
}
