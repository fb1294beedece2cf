package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"neuroforge/internal/domain"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaProvider generates completions against an Ollama daemon. The
// endpoint defaults to the local daemon and can be pointed at a shared
// machine with OLLAMA_URL.
type OllamaProvider struct {
	model   string
	baseURL string
	client  *http.Client
}

// NewOllamaProvider returns an Ollama-backed LLMProvider for the given model.
func NewOllamaProvider(model string) *OllamaProvider {
	base := defaultOllamaURL
	if v, ok := lookupEnvFunc("OLLAMA_URL"); ok && v != "" {
		base = v
	}
	return &OllamaProvider{
		model:   model,
		baseURL: base,
		client:  newHTTPClient(),
	}
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

// ollamaOptions pins sampling for code output. num_predict caps the
// completion the same way max_tokens does for the hosted backends.
type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

// ollamaGenerateResponse is the non-streaming reply. Ollama reports model
// errors in-band with a 200 status, so Error must be checked.
type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// Generate implements domain.LLMProvider.
func (p *OllamaProvider) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	raw, err := marshalJSON(ollamaGenerateRequest{
		Model:  p.model,
		Prompt: prompt,
		Stream: false,
		Options: ollamaOptions{
			Temperature: codegenTemperature,
			NumPredict:  codegenMaxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("ollama marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apiError("ollama", resp)
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ollama decode: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama: %s", out.Error)
	}
	if out.Response == "" {
		return "", fmt.Errorf("ollama: empty completion from model %q", p.model)
	}
	return out.Response, nil
}

var _ domain.LLMProvider = (*OllamaProvider)(nil)
