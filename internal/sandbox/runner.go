package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"

	"neuroforge/internal/domain"
)

// containerPrefix marks every container and workspace the runner owns, so the
// reaper can find leaked ones.
const containerPrefix = "nf_"

const (
	minTimeoutSeconds = 1
	maxTimeoutSeconds = 300

	defaultNetwork          = "none"
	defaultPidsLimit        = "64"
	defaultMaxArtifactBytes = 25 << 20
)

// ErrInvalidInput marks precondition failures on a run request. Transports
// map it to a 400 instead of a runner-error result.
var ErrInvalidInput = errors.New("invalid run request")

// Runner executes untrusted programs in disposable containers.
type Runner struct {
	cli     ContainerCLI
	permits *Permits
	cfg     domain.RunnerConfig
	logger  *slog.Logger

	extraFlags []string
}

// NewRunner builds a Runner from config. Profile overrides and extra docker
// flags are resolved once at construction.
func NewRunner(cli ContainerCLI, cfg domain.RunnerConfig, logger *slog.Logger) (*Runner, error) {
	if cfg.ProfilesPath != "" {
		if err := LoadProfileOverrides(cfg.ProfilesPath); err != nil {
			return nil, err
		}
	}
	var extra []string
	if cfg.ExtraFlags != "" {
		var err error
		extra, err = shellquote.Split(cfg.ExtraFlags)
		if err != nil {
			return nil, fmt.Errorf("parse extra docker flags: %w", err)
		}
	}
	return &Runner{
		cli:        cli,
		permits:    NewPermits(cfg.MaxConcurrency),
		cfg:        cfg,
		logger:     logger,
		extraFlags: extra,
	}, nil
}

// Run executes req in a fresh container and reports the outcome. Execution
// failures (nonzero exit, timeout, runtime unavailable) come back inside the
// result; a non-nil error is reserved for invalid input and context failure.
func (r *Runner) Run(ctx context.Context, req domain.RunRequest) (*domain.RunResult, error) {
	profile, err := r.validate(req)
	if err != nil {
		return nil, err
	}

	if err := r.permits.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("acquire run permit: %w", err)
	}
	defer r.permits.Release()

	if err := r.cli.Available(); err != nil {
		return &domain.RunResult{ExitCode: 1, Stderr: fmt.Sprintf("Container runtime unavailable: %v", err)}, nil
	}

	workDir, err := os.MkdirTemp("", containerPrefix)
	if err != nil {
		return runnerError(fmt.Errorf("create workspace: %w", err)), nil
	}
	defer os.RemoveAll(workDir)

	if err := r.populateWorkspace(workDir, profile, req); err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return nil, err
		}
		return runnerError(err), nil
	}

	name := containerName()
	defer r.cli.Remove(name)

	spec := ContainerSpec{
		Name:        name,
		Image:       ResolveImage(profile, req.Language, r.cfg.Images),
		Network:     r.network(req),
		MemoryLimit: r.cfg.MemoryLimit,
		CPULimit:    r.cfg.CPULimit,
		PidsLimit:   pidsLimit(r.cfg.PidsLimit),
		TmpfsSize:   r.cfg.TmpfsSize,
		ExtraFlags:  r.extraFlags,
		PipCacheDir: r.pipCacheDir(profile),
		ShellCmd:    profile.ShellCmd(),
	}

	if err := r.cli.Create(ctx, spec); err != nil {
		return &domain.RunResult{ExitCode: 1, Stderr: err.Error()}, nil
	}
	if err := r.cli.CopyIn(ctx, name, workDir); err != nil {
		return &domain.RunResult{ExitCode: 1, Stderr: err.Error()}, nil
	}

	started := time.Now()
	status, err := r.cli.StartAttached(ctx, name, time.Duration(req.Timeout)*time.Second)
	if err != nil {
		return runnerError(err), nil
	}
	if status.TimedOut {
		r.logger.Warn("run timed out",
			"container", name, "language", req.Language, "timeout_s", req.Timeout)
		return &domain.RunResult{ExitCode: domain.ExitTimeout, Stderr: "Execution timed out."}, nil
	}

	result := &domain.RunResult{
		ExitCode: status.ExitCode,
		Stdout:   status.Stdout,
		Stderr:   status.Stderr,
	}
	r.attachArtifacts(ctx, name, result)

	r.logger.Info("run finished",
		"container", name,
		"language", req.Language,
		"exit_code", result.ExitCode,
		"duration", time.Since(started).Round(time.Millisecond),
		"artifact_bytes", len(result.ArtifactsZip))
	return result, nil
}

// validate enforces the run preconditions and resolves the language profile.
func (r *Runner) validate(req domain.RunRequest) (Profile, error) {
	if !domain.ValidLanguage(req.Language) {
		return Profile{}, fmt.Errorf("%w: unknown language %q", ErrInvalidInput, req.Language)
	}
	if req.Timeout < minTimeoutSeconds || req.Timeout > maxTimeoutSeconds {
		return Profile{}, fmt.Errorf("%w: timeout %d outside [%d, %d]",
			ErrInvalidInput, req.Timeout, minTimeoutSeconds, maxTimeoutSeconds)
	}
	for _, dep := range req.Requirements {
		if strings.TrimSpace(dep) == "" {
			return Profile{}, fmt.Errorf("%w: blank requirement entry", ErrInvalidInput)
		}
	}
	for _, dep := range req.ExtraRequirements {
		if strings.TrimSpace(dep) == "" {
			return Profile{}, fmt.Errorf("%w: blank extra requirement entry", ErrInvalidInput)
		}
	}
	profile, err := ProfileFor(req.Language)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return profile, nil
}

// populateWorkspace writes the source file, any input files, and the merged
// requirements.txt into workDir.
func (r *Runner) populateWorkspace(workDir string, profile Profile, req domain.RunRequest) error {
	if err := os.WriteFile(filepath.Join(workDir, profile.Filename), []byte(req.Code), 0o644); err != nil {
		return fmt.Errorf("write source: %w", err)
	}

	for name, data := range req.InputFiles {
		clean, err := safeRelPath(name)
		if err != nil {
			return err
		}
		dst := filepath.Join(workDir, clean)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("create input dir: %w", err)
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return fmt.Errorf("write input file %s: %w", name, err)
		}
	}

	if profile.SupportsRequirements {
		deps := mergeRequirements(req.Requirements, req.ExtraRequirements)
		if len(deps) > 0 {
			content := strings.Join(deps, "\n") + "\n"
			if err := os.WriteFile(filepath.Join(workDir, "requirements.txt"), []byte(content), 0o644); err != nil {
				return fmt.Errorf("write requirements.txt: %w", err)
			}
		}
	}
	return nil
}

// attachArtifacts copies /workspace back out, zips it, and attaches either
// the archive or an oversize note. Failures are logged and leave the result
// untouched; artifact capture never fails a successful run.
func (r *Runner) attachArtifacts(ctx context.Context, name string, result *domain.RunResult) {
	outDir, err := os.MkdirTemp("", containerPrefix+"out_")
	if err != nil {
		r.logger.Warn("artifact capture skipped", "container", name, "error", err)
		return
	}
	defer os.RemoveAll(outDir)

	if err := r.cli.CopyOut(ctx, name, outDir); err != nil {
		r.logger.Warn("artifact copy-out failed", "container", name, "error", err)
		return
	}
	// docker cp lands the workspace as a subdirectory of outDir.
	archive, manifest, err := zipDirectory(filepath.Join(outDir, "workspace"))
	if err != nil {
		r.logger.Warn("artifact archive failed", "container", name, "error", err)
		return
	}

	limit := r.cfg.MaxArtifactBytes
	if limit <= 0 {
		limit = defaultMaxArtifactBytes
	}
	if int64(len(archive)) <= limit {
		result.ArtifactsZip = archive
		return
	}
	result.ArtifactsNote = manifestNote(manifest, int64(len(archive)), limit)
}

func (r *Runner) network(req domain.RunRequest) string {
	if req.Network != "" {
		return req.Network
	}
	if r.cfg.Network != "" {
		return r.cfg.Network
	}
	return defaultNetwork
}

func (r *Runner) pipCacheDir(profile Profile) string {
	if !profile.SupportsRequirements {
		return ""
	}
	return r.cfg.PipCacheDir
}

func pidsLimit(configured string) string {
	if configured != "" {
		return configured
	}
	return defaultPidsLimit
}

// containerName yields a unique name like nf_3f2a9c81d04b.
func containerName() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return containerPrefix + id[:12]
}

// safeRelPath normalizes an input-file name and rejects absolute paths and
// parent traversal.
func safeRelPath(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: unsafe input file path %q", ErrInvalidInput, name)
	}
	return clean, nil
}

// mergeRequirements joins the two lists, trims entries, and de-duplicates
// while preserving first-seen order.
func mergeRequirements(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	var out []string
	for _, dep := range append(append([]string{}, base...), extra...) {
		dep = strings.TrimSpace(dep)
		if dep == "" {
			continue
		}
		if _, ok := seen[dep]; ok {
			continue
		}
		seen[dep] = struct{}{}
		out = append(out, dep)
	}
	return out
}

func runnerError(err error) *domain.RunResult {
	return &domain.RunResult{ExitCode: 1, Stderr: fmt.Sprintf("Runner error: %v", err)}
}

var _ domain.CodeRunner = (*Runner)(nil)
