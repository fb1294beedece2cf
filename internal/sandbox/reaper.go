package sandbox

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// staleAge is how old a workspace directory must be before the reaper deems
// it leaked. Live runs hold their directories for minutes at most.
const staleAge = time.Hour

// staleLister is the slice of the container CLI the reaper needs.
type staleLister interface {
	ListStale(ctx context.Context) ([]string, error)
	Remove(name string)
}

// Reaper sweeps leaked containers and workspace directories left behind by
// crashed or killed runner processes. It is wired to a cron schedule.
type Reaper struct {
	cli    staleLister
	logger *slog.Logger
}

func NewReaper(cli staleLister, logger *slog.Logger) *Reaper {
	return &Reaper{cli: cli, logger: logger}
}

// Reap removes every leaked container and stale workspace it can find.
// Failures are logged; a sweep never aborts on the first error.
func (r *Reaper) Reap(ctx context.Context) {
	r.reapContainers(ctx)
	r.reapWorkspaces()
}

func (r *Reaper) reapContainers(ctx context.Context) {
	names, err := r.cli.ListStale(ctx)
	if err != nil {
		r.logger.Warn("container sweep failed", "error", err)
		return
	}
	for _, name := range names {
		r.cli.Remove(name)
		r.logger.Info("reaped container", "container", name)
	}
}

func (r *Reaper) reapWorkspaces() {
	entries, err := os.ReadDir(os.TempDir())
	if err != nil {
		r.logger.Warn("workspace sweep failed", "error", err)
		return
	}
	cutoff := time.Now().Add(-staleAge)
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), containerPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		dir := filepath.Join(os.TempDir(), e.Name())
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Warn("workspace removal failed", "dir", dir, "error", err)
			continue
		}
		r.logger.Info("reaped workspace", "dir", dir)
	}
}
