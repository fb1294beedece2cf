// Package llm holds the model backends behind the write and repair agents.
// Every backend implements domain.LLMProvider with a single-shot Generate
// call: the agents build complete prompts and sanitize the raw completion
// themselves, so no backend streams or keeps chat state.
package llm

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Sampling settings shared by the hosted backends. Code output wants
// near-deterministic sampling, and a task's worth of code fits well under
// the token cap.
const (
	codegenTemperature = 0.2
	codegenMaxTokens   = 4096
)

// Chat-tuned models like to wrap code in prose; this keeps the completion
// bare so Sanitize has less to strip.
const codegenSystemPrompt = "You are a code generation engine. Reply with source code only, no commentary."

// Completions for large tasks can take a while, but anything past this is a
// wedged backend.
const generateTimeout = 120 * time.Second

// marshalJSON encodes request bodies. Package-level so tests can force
// encoding failures.
var marshalJSON = json.Marshal

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: generateTimeout}
}

// apiError summarizes a non-200 reply, keeping enough of the body to show
// the backend's own error message.
func apiError(backend string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("%s api: %s", backend, resp.Status)
	}
	return fmt.Errorf("%s api: %s: %s", backend, resp.Status, msg)
}
