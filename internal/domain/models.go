package domain

import "time"

// =============================================================================
// Core Configuration
// =============================================================================

type Config struct {
	Gateway GatewayConfig `json:"gateway"`
	Runner  RunnerConfig  `json:"runner"`
	Kernel  KernelConfig  `json:"kernel"`
	Memory  MemoryConfig  `json:"memory"`
	Agents  AgentsConfig  `json:"agents"`
	Infra   InfraConfig   `json:"infra"`
	Retry   RetryConfig   `json:"retry"`
}

type GatewayConfig struct {
	Port      int    `json:"port"`      // Kernel API port
	AuthToken string `json:"authToken"` // When set, requires Authorization: Bearer <authToken>
}

// RunnerConfig controls the sandbox runner: container constraints, concurrency,
// and artifact capture. Zero values mean "no constraint" except where noted.
type RunnerConfig struct {
	Port             int               `json:"port"`             // Runner service port (default 8001)
	Network          string            `json:"network"`          // Docker network (default "none")
	MemoryLimit      string            `json:"memoryLimit"`      // e.g. "256m"; empty = unlimited
	CPULimit         string            `json:"cpuLimit"`         // e.g. "0.5"; empty = unlimited
	PidsLimit        string            `json:"pidsLimit"`        // default "64"
	TmpfsSize        string            `json:"tmpfsSize"`        // e.g. "64m"; empty = no tmpfs
	ExtraFlags       string            `json:"extraFlags"`       // extra docker flags, shell-split
	MaxConcurrency   int               `json:"maxConcurrency"`   // simultaneous container runs (default 4)
	MaxArtifactBytes int64             `json:"maxArtifactBytes"` // inline artifact zip cap (default 25 MiB)
	PipCacheDir      string            `json:"pipCacheDir"`      // shared pip cache mount; empty = none
	Images           map[string]string `json:"images"`           // per-language image overrides
	ProfilesPath     string            `json:"profilesPath"`     // optional profiles.yaml override file
	WarmImages       bool              `json:"warmImages"`       // pre-pull profile images at startup
}

// KernelConfig controls the orchestration loop.
type KernelConfig struct {
	MaxAttempts      int    `json:"maxAttempts"`      // write/repair cycles before giving up (default 3)
	RunnerURL        string `json:"runnerUrl"`        // remote runner endpoint; empty = in-process runner
	AutoRequirements bool   `json:"autoRequirements"` // infer python requirements from source
	DocsDir          string `json:"docsDir"`          // watched directory ingested into the docs namespace
	ReapSchedule     string `json:"reapSchedule"`     // cron spec for the container/workspace reaper
}

// MemoryConfig controls the semantic memory subsystem.
type MemoryConfig struct {
	DatabaseURL string `json:"databaseUrl"` // libsql URL, e.g. "file:neuroforge.db"
	EmbedModel  string `json:"embedModel"`  // sentence-encoder model name (default "all-minilm")
	EmbedURL    string `json:"embedUrl"`    // embedding endpoint base URL
}

type AgentsConfig struct {
	Provider     string `json:"provider"`     // "gemini" | "openai" | "ollama" | "local"
	WriterModel  string `json:"writerModel"`  // model used for code generation
	FixerModel   string `json:"fixerModel"`   // model used for code repair
	ContextLimit int    `json:"contextLimit"` // priming context budget in tokens (0 = no limit)
}

type InfraConfig struct {
	LogFormat string `json:"logFormat"` // "json" | "text"
	LogLevel  string `json:"logLevel"`
}

// RetryConfig controls retry behaviour for external LLM calls.
type RetryConfig struct {
	MaxRetries     int `json:"maxRetries"`     // Maximum retry attempts (0 = no retries)
	InitialBackoff int `json:"initialBackoff"` // Initial backoff in milliseconds
	MaxBackoff     int `json:"maxBackoff"`     // Maximum backoff in milliseconds
	Multiplier     int `json:"multiplier"`     // Backoff multiplier (e.g. 2 for exponential doubling)
}

// =============================================================================
// Languages
// =============================================================================

// Language identifies a supported programming language.
type Language string

const (
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangC          Language = "c"
	LangCPP        Language = "cpp"
	LangJava       Language = "java"
)

// Languages lists every supported language in a stable order.
func Languages() []Language {
	return []Language{LangPython, LangJavaScript, LangC, LangCPP, LangJava}
}

// ValidLanguage reports whether lang is a supported language.
func ValidLanguage(lang Language) bool {
	switch lang {
	case LangPython, LangJavaScript, LangC, LangCPP, LangJava:
		return true
	}
	return false
}

// =============================================================================
// Execution Domain
// =============================================================================

// Task is an immutable unit of work submitted by a caller.
type Task struct {
	Text        string            // natural-language description of the program to produce
	InputFiles  map[string][]byte // optional data files placed in the workspace
	TimeoutHint int               // optional seconds; 0 = use the default
}

// RunRequest is the payload for a single sandbox execution.
type RunRequest struct {
	Language          Language          `json:"language"`
	Code              string            `json:"code"`
	Timeout           int               `json:"timeout"` // seconds, [1, 300]
	Requirements      []string          `json:"requirements,omitempty"`
	ExtraRequirements []string          `json:"extra_requirements,omitempty"`
	Network           string            `json:"network,omitempty"` // overrides the configured default
	InputFiles        map[string][]byte `json:"-"`                 // decoded from files_b64 on the wire
}

// Timeout exit code, matching the shell convention for SIGKILL-after-timeout.
const ExitTimeout = 124

// RunResult is the outcome of one sandbox execution.
type RunResult struct {
	ExitCode       int      `json:"returncode"`
	Stdout         string   `json:"stdout"`
	Stderr         string   `json:"stderr"`
	InputsRequired []string `json:"inputs_required,omitempty"` // data files the program needs but lacked
	ArtifactsZip   []byte   `json:"-"`                         // zipped /workspace; nil when absent
	ArtifactsNote  string   `json:"artifacts_note,omitempty"`  // set instead of the zip when oversized
}

// TimedOut reports whether the run was killed for exceeding its wall clock.
func (r *RunResult) TimedOut() bool { return r.ExitCode == ExitTimeout }

// AttemptState is the mutable state carried through one orchestration run.
// It is owned by a single goroutine for its lifetime and passed by pointer
// between stages, never shared.
type AttemptState struct {
	TaskText       string
	Language       Language // empty until the first successful write
	Code           string
	LastResult     *RunResult
	ErrorText      string // last stderr when the last run exited nonzero
	ErrorSignature string
	Attempts       int
	Timeout        int // seconds; grows across repairs
	InputFiles     map[string][]byte
	InputsRequired []string
}

// TaskResult is the terminal payload emitted when an orchestration run ends.
type TaskResult struct {
	Language       Language `json:"language"`
	Attempts       int      `json:"attempts"`
	Stdout         string   `json:"stdout"`
	Stderr         string   `json:"stderr"`
	ExitCode       int      `json:"returncode"`
	InputsRequired []string `json:"inputs_required,omitempty"`
}

// =============================================================================
// Semantic Memory
// =============================================================================

// Memory namespaces. Records are append-only; each namespace carries its own
// metadata conventions (see the memory package).
const (
	NamespaceTools    = "tools"
	NamespaceErrors   = "errors"
	NamespaceFixes    = "fixes"
	NamespaceDocs     = "docs"
	NamespacePatterns = "patterns"
)

// MemoryMatch is one similarity-search hit from a memory namespace.
type MemoryMatch struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// MemoryRecord is a stored entry as returned by direct reads (tests, tooling).
type MemoryRecord struct {
	ID        string
	Namespace string
	Text      string
	Metadata  map[string]any
	CreatedAt time.Time
}
