package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// removeTimeout bounds the forced container removal used on every exit path.
const removeTimeout = 5 * time.Second

// ContainerSpec describes one disposable container to create.
type ContainerSpec struct {
	Name        string
	Image       string
	Network     string
	MemoryLimit string   // e.g. "256m"; empty = unlimited
	CPULimit    string   // e.g. "0.5"; empty = unlimited
	PidsLimit   string   // e.g. "64"; empty = unlimited
	TmpfsSize   string   // e.g. "64m"; empty = no tmpfs
	ExtraFlags  []string // operator-supplied docker flags, already shell-split
	PipCacheDir string   // host dir mounted at /root/.cache/pip; empty = none
	ShellCmd    string   // command run via bash -lc
}

// ExecStatus is the observed outcome of an attached container run.
type ExecStatus struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// ContainerCLI abstracts the Docker CLI lifecycle used by the runner so tests
// can substitute a scripted double instead of a real daemon.
type ContainerCLI interface {
	// Available reports whether the container runtime can be reached at all.
	Available() error
	// Create builds a stopped container from spec.
	Create(ctx context.Context, spec ContainerSpec) error
	// CopyIn copies the contents of srcDir into the container's /workspace.
	CopyIn(ctx context.Context, name, srcDir string) error
	// StartAttached starts the container, streams stdout/stderr to buffers,
	// and waits up to timeout for it to exit.
	StartAttached(ctx context.Context, name string, timeout time.Duration) (ExecStatus, error)
	// CopyOut copies the container's /workspace into dstDir.
	CopyOut(ctx context.Context, name, dstDir string) error
	// Remove force-removes the container. Errors are deliberately swallowed;
	// removal is best-effort cleanup that must not mask the run outcome.
	Remove(name string)
}

// lookPathFunc resolves the docker binary. Package-level so tests can force
// the runtime-missing path.
var lookPathFunc = exec.LookPath

// DockerCLI drives the local docker binary.
type DockerCLI struct{}

// NewDockerCLI returns a ContainerCLI backed by the docker binary on PATH.
func NewDockerCLI() *DockerCLI { return &DockerCLI{} }

// Available checks that the docker binary exists on PATH.
func (d *DockerCLI) Available() error {
	if _, err := lookPathFunc("docker"); err != nil {
		return fmt.Errorf("docker binary not found: %w", err)
	}
	return nil
}

// createArgs assembles the docker create argument list for spec.
func createArgs(spec ContainerSpec) []string {
	args := []string{"create", "--name", spec.Name, "--network", spec.Network}
	if spec.MemoryLimit != "" {
		args = append(args, "--memory", spec.MemoryLimit)
	}
	if spec.CPULimit != "" {
		args = append(args, "--cpus", spec.CPULimit)
	}
	if spec.PidsLimit != "" {
		args = append(args, "--pids-limit", spec.PidsLimit)
	}
	if spec.TmpfsSize != "" {
		args = append(args, "--tmpfs", fmt.Sprintf("/tmp:rw,size=%s", spec.TmpfsSize))
	}
	args = append(args, spec.ExtraFlags...)
	if spec.PipCacheDir != "" {
		args = append(args, "-v", spec.PipCacheDir+":/root/.cache/pip")
	}
	args = append(args, "--workdir", "/workspace", spec.Image, "bash", "-lc", spec.ShellCmd)
	return args
}

func (d *DockerCLI) Create(ctx context.Context, spec ContainerSpec) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "docker", createArgs(spec)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker create: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (d *DockerCLI) CopyIn(ctx context.Context, name, srcDir string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "docker", "cp", srcDir+"/.", name+":/workspace")
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker cp in: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// StartAttached runs `docker start -a` so the process's stdout and stderr are
// captured separately and its native exit code is observed. On timeout the
// container is force-removed and TimedOut is reported; the caller decides the
// exit code to surface.
func (d *DockerCLI) StartAttached(ctx context.Context, name string, timeout time.Duration) (ExecStatus, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, "docker", "start", "-a", name)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	status := ExecStatus{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return status, nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		status.TimedOut = true
		return status, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		status.ExitCode = exitErr.ExitCode()
		return status, nil
	}
	return status, fmt.Errorf("docker start: %w", err)
}

func (d *DockerCLI) CopyOut(ctx context.Context, name, dstDir string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "docker", "cp", name+":/workspace", dstDir)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker cp out: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Remove force-removes the container with a background deadline so cleanup
// still happens when the run context is already dead.
func (d *DockerCLI) Remove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "rm", "-f", name).Run()
}

// ListStale returns the names of dead containers whose name carries the
// runner prefix, used by the periodic reaper to sweep leaked containers.
// Running containers belong to an in-flight attempt and are never listed.
func (d *DockerCLI) ListStale(ctx context.Context) ([]string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "docker", staleListArgs()...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("docker ps: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	var names []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// staleListArgs assembles the docker ps argument list for the reaper sweep.
// Only non-running states are matched so an in-flight attempt's container is
// never swept out from under it.
func staleListArgs() []string {
	return []string{
		"ps", "-a",
		"--filter", "name=" + containerPrefix,
		"--filter", "status=created",
		"--filter", "status=exited",
		"--filter", "status=dead",
		"--format", "{{.Names}}",
	}
}

// Compile-time proof that DockerCLI satisfies the interface.
var _ ContainerCLI = (*DockerCLI)(nil)
