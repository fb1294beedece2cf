package sandbox

import (
	"context"
	"io"
	"log/slog"

	"github.com/moby/moby/client"

	"neuroforge/internal/domain"
)

// imagePuller is the slice of the Docker Engine API the warmer needs. An
// interface so tests can inject a mock instead of a real daemon.
type imagePuller interface {
	ImagePull(ctx context.Context, refStr string, options client.ImagePullOptions) (pullResponse, error)
	Close() error
}

// pullResponse is the subset of client.ImagePullResponse we use. The real
// response satisfies this (it embeds io.ReadCloser).
type pullResponse interface {
	io.ReadCloser
}

// pullerAdapter narrows *client.Client's ImagePull return type down to the
// reader the warmer drains.
type pullerAdapter struct {
	cli *client.Client
}

var _ imagePuller = (*pullerAdapter)(nil)

func (a *pullerAdapter) ImagePull(ctx context.Context, ref string, opts client.ImagePullOptions) (pullResponse, error) {
	return a.cli.ImagePull(ctx, ref, opts)
}
func (a *pullerAdapter) Close() error { return a.cli.Close() }

// newImagePullerFunc creates the Docker API client. Package-level so tests
// can inject a failing factory.
var newImagePullerFunc = func() (imagePuller, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &pullerAdapter{cli: cli}, nil
}

// ImageWarmer pre-pulls the per-language container images at startup so the
// first run of each language does not pay the pull latency.
type ImageWarmer struct {
	api    imagePuller
	logger *slog.Logger
}

// NewImageWarmer connects to the local Docker daemon using environment
// defaults (DOCKER_HOST, etc.).
func NewImageWarmer(logger *slog.Logger) (*ImageWarmer, error) {
	api, err := newImagePullerFunc()
	if err != nil {
		return nil, err
	}
	return &ImageWarmer{api: api, logger: logger}, nil
}

// WarmAll pulls the resolved image for every supported language. Pull
// failures are logged and skipped; warming is an optimization, not a
// precondition.
func (w *ImageWarmer) WarmAll(ctx context.Context, overrides map[string]string) {
	for _, lang := range domain.Languages() {
		profile, err := ProfileFor(lang)
		if err != nil {
			continue
		}
		ref := ResolveImage(profile, lang, overrides)
		if err := w.pull(ctx, ref); err != nil {
			w.logger.Warn("image warm failed", "image", ref, "error", err)
			continue
		}
		w.logger.Info("image warmed", "image", ref, "language", lang)
	}
}

// pull fetches one image and drains the progress stream to completion.
func (w *ImageWarmer) pull(ctx context.Context, ref string) error {
	resp, err := w.api.ImagePull(ctx, ref, client.ImagePullOptions{})
	if err != nil {
		return err
	}
	defer resp.Close()
	_, err = io.Copy(io.Discard, resp)
	return err
}

// Close releases the underlying Docker client.
func (w *ImageWarmer) Close() error { return w.api.Close() }
