package domain

import "context"

// LLMProvider is the model-agnostic interface for text generation.
// Implementations may be Gemini, OpenAI, local models, or mocks.
type LLMProvider interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// CodeWriter turns a task description into runnable source code.
// When language is empty the implementation detects the intended language
// from the task text. context carries optional priming text (prior tools,
// docs) retrieved from memory.
type CodeWriter interface {
	Write(ctx context.Context, task string, language Language, context string) (code string, lang Language, err error)
}

// CodeFixer repairs source code given the runtime error it produced.
type CodeFixer interface {
	Fix(ctx context.Context, code, errText string, language Language, context string) (string, error)
}

// Embedder generates vector embeddings from text using a local or remote model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// MemoryIndex is a keyed similarity store partitioned into namespaces.
// Upsert embeds text and persists it with its metadata under a fresh opaque id.
// Query returns matches ordered by decreasing similarity.
type MemoryIndex interface {
	Upsert(ctx context.Context, namespace, text string, metadata map[string]any) (string, error)
	Query(ctx context.Context, namespace, text string, topK int) ([]MemoryMatch, error)
}

// CodeRunner executes one program in an isolated sandbox. Implementations are
// the in-process Docker runner and the HTTP client for a remote runner service.
// A non-nil error means the run could not be carried out at all; execution
// failures (nonzero exit, timeout) are reported inside RunResult.
type CodeRunner interface {
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
}
