package llm

import (
	"context"

	"neuroforge/internal/domain"
)

// LocalProvider is an offline stand-in used when no hosted backend is
// configured. A canned Response, when set, is returned for every call;
// otherwise the prompt is echoed back. Either way the agent pipeline can be
// exercised end to end without an API key.
type LocalProvider struct {
	Response string // returned verbatim when non-empty
}

// NewLocalProvider returns a LocalProvider with the given canned response.
func NewLocalProvider(response string) *LocalProvider {
	return &LocalProvider{Response: response}
}

// Generate implements domain.LLMProvider.
func (p *LocalProvider) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.Response != "" {
		return p.Response, nil
	}
	return prompt, nil
}

var _ domain.LLMProvider = (*LocalProvider)(nil)
