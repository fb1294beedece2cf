// Package orchestrator drives the write, execute, repair cycle for one task:
// author code from the task text, run it in the sandbox, and when it fails,
// repair it with memory-primed context until it succeeds or the attempt cap
// is reached. Along the way working programs are promoted into the tools
// namespace, failures into errors, and authored repairs into fixes.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"neuroforge/internal/domain"
	"neuroforge/internal/infer"
	"neuroforge/internal/signature"
)

const (
	defaultMaxAttempts = 3

	// Initial task timeout bounds, seconds.
	minTaskTimeout = 8
	maxTaskTimeout = 300

	// Repair grows the timeout inside these bounds.
	repairTimeoutStep = 30
	repairTimeoutMin  = 60
	repairTimeoutMax  = 300

	// Host-side grace beyond the container's wall clock.
	runGraceSeconds = 60

	primingTopK = 5

	// similarErrorScore is the similarity above which a stored error counts
	// as "seen before", which suppresses the auto-install retry.
	similarErrorScore = 0.9
)

// heavyPackages take noticeably longer to install and import; their presence
// widens the adaptive timeout.
var heavyPackages = map[string]bool{
	"pandas":        true,
	"numpy":         true,
	"torch":         true,
	"opencv-python": true,
	"pdfplumber":    true,
	"tabula-py":     true,
	"openpyxl":      true,
}

// Memory is the slice of the memory store the engine records to and primes
// from. Failures on any of these are logged and swallowed; memory never
// blocks task completion.
type Memory interface {
	AddTool(ctx context.Context, name string, language domain.Language, code string, metadata map[string]any) (string, error)
	RetrieveTools(ctx context.Context, query string, topK int) ([]domain.MemoryMatch, error)
	AddError(ctx context.Context, errText, stderr, code string) (string, error)
	RetrieveSimilarErrors(ctx context.Context, errText string, topK int) ([]domain.MemoryMatch, error)
	AddFix(ctx context.Context, sig string, language domain.Language, fixedCode string, metadata map[string]any) (string, error)
	RetrieveFixes(ctx context.Context, signatureOrText string, topK int) ([]domain.MemoryMatch, error)
	RetrieveDocs(ctx context.Context, query string, topK int) ([]domain.MemoryMatch, error)
}

// ContextClipper bounds the priming context; typically a tiktoken wrapper.
type ContextClipper interface {
	Truncate(text string, limit int) string
}

// Engine runs the task state machine.
type Engine struct {
	writer       domain.CodeWriter
	fixer        domain.CodeFixer
	runner       domain.CodeRunner
	memory       Memory
	clipper      ContextClipper // nil = no clipping
	contextLimit int            // priming budget in tokens; 0 = unlimited
	cfg          domain.KernelConfig
	logger       *slog.Logger
}

// NewEngine wires an Engine. writer, fixer, runner and memory must not be nil.
func NewEngine(writer domain.CodeWriter, fixer domain.CodeFixer, runner domain.CodeRunner, memory Memory, clipper ContextClipper, contextLimit int, cfg domain.KernelConfig, logger *slog.Logger) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &Engine{
		writer:       writer,
		fixer:        fixer,
		runner:       runner,
		memory:       memory,
		clipper:      clipper,
		contextLimit: contextLimit,
		cfg:          cfg,
		logger:       logger,
	}
}

// RunTask drives one task to completion. A non-nil error means code could
// not even be authored; execution failures are reported in the result.
func (e *Engine) RunTask(ctx context.Context, task domain.Task) (*domain.TaskResult, error) {
	if strings.TrimSpace(task.Text) == "" {
		return nil, fmt.Errorf("orchestrator: task text must not be empty")
	}

	st := &domain.AttemptState{
		TaskText:   task.Text,
		InputFiles: task.InputFiles,
		Timeout:    clampInitialTimeout(task.TimeoutHint),
	}

	if err := e.write(ctx, st); err != nil {
		return nil, err
	}

	for {
		e.execute(ctx, st)
		if st.LastResult.ExitCode == 0 || len(st.InputsRequired) > 0 {
			break
		}
		if st.Attempts >= e.cfg.MaxAttempts {
			break
		}
		if err := e.repair(ctx, st); err != nil {
			e.logger.Error("repair failed, surfacing last result", "error", err, "attempts", st.Attempts)
			break
		}
	}

	result := &domain.TaskResult{
		Language:       st.Language,
		Attempts:       st.Attempts,
		Stdout:         st.LastResult.Stdout,
		Stderr:         st.LastResult.Stderr,
		ExitCode:       st.LastResult.ExitCode,
		InputsRequired: st.InputsRequired,
	}
	e.logger.Info("task finished",
		"language", result.Language,
		"attempts", result.Attempts,
		"exit_code", result.ExitCode,
		"inputs_required", len(result.InputsRequired))
	return result, nil
}

// write authors the first version of the code, primed with prior tools and
// docs. Generation failure is fatal for the run.
func (e *Engine) write(ctx context.Context, st *domain.AttemptState) error {
	code, lang, err := e.writer.Write(ctx, st.TaskText, st.Language, e.primingContext(ctx, st.TaskText))
	if err != nil {
		return fmt.Errorf("orchestrator: generate code: %w", err)
	}
	st.Code = code
	st.Language = lang
	st.Attempts++
	return nil
}

// execute runs the current code once, with at most one transparent re-run
// after auto-installing missing Python modules. It always leaves a non-nil
// st.LastResult.
func (e *Engine) execute(ctx context.Context, st *domain.AttemptState) {
	var inferred []string
	if st.Language == domain.LangPython && e.cfg.AutoRequirements {
		inferred = infer.PythonRequirements(st.Code)
	}
	timeout := adaptiveTimeout(st.Timeout, inferred)

	res := e.runOnce(ctx, st, inferred, timeout)

	if res.ExitCode != 0 && st.Language == domain.LangPython && e.cfg.AutoRequirements {
		if missing := infer.MissingPythonModules(res.Stderr); len(missing) > 0 {
			if e.seenSimilarError(ctx, res.Stderr) {
				e.logger.Info("missing module failure seen before, skipping auto-install retry")
			} else {
				merged := mergeRequirements(inferred, mapDistributions(missing))
				// Room for pip install, capped at the runner's timeout ceiling.
				retryTimeout := clamp(max(timeout, 60)+60, minTaskTimeout, maxTaskTimeout)
				e.logger.Info("auto-installing missing modules and re-running",
					"modules", missing, "timeout_s", retryTimeout)
				res = e.runOnce(ctx, st, merged, retryTimeout)
			}
		}
	}

	st.LastResult = res

	if res.ExitCode == 0 {
		st.ErrorText = ""
		st.ErrorSignature = ""
		st.InputsRequired = nil
		e.promoteTool(ctx, st)
		return
	}

	if inputs := missingInputs(res); len(inputs) > 0 {
		st.InputsRequired = inputs
		st.ErrorText = res.Stderr
		return
	}

	st.ErrorText = res.Stderr
	st.ErrorSignature = signature.Compute(res.Stderr)
	if _, err := e.memory.AddError(ctx, st.ErrorText, res.Stderr, st.Code); err != nil {
		e.logger.Warn("error record not stored", "error", err)
	}
}

// runOnce performs a single sandbox run with host-side grace beyond the
// container timeout. Infrastructure failures come back as results so the
// state machine can keep deciding.
func (e *Engine) runOnce(ctx context.Context, st *domain.AttemptState, requirements []string, timeout int) *domain.RunResult {
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout+runGraceSeconds)*time.Second)
	defer cancel()

	res, err := e.runner.Run(runCtx, domain.RunRequest{
		Language:     st.Language,
		Code:         st.Code,
		Timeout:      timeout,
		Requirements: requirements,
		InputFiles:   st.InputFiles,
	})
	if err != nil {
		e.logger.Error("runner call failed", "error", err)
		return &domain.RunResult{ExitCode: 1, Stderr: fmt.Sprintf("Runner error: %v", err)}
	}
	return res
}

// promoteTool records a confirmed-working program in the tools namespace.
func (e *Engine) promoteTool(ctx context.Context, st *domain.AttemptState) {
	meta := map[string]any{"source": "auto_promote", "success_count": 1}
	if _, err := e.memory.AddTool(ctx, "", st.Language, st.Code, meta); err != nil {
		e.logger.Warn("tool promotion not stored", "error", err)
	}
}

// repair authors a fixed version of the code, widens the timeout, and counts
// the attempt. Fix-namespace hits are advisory only; the repairer always runs.
func (e *Engine) repair(ctx context.Context, st *domain.AttemptState) error {
	if st.ErrorSignature == "" {
		st.ErrorSignature = signature.Compute(st.ErrorText)
	}

	hits, err := e.memory.RetrieveFixes(ctx, st.ErrorSignature, 0)
	if err != nil || len(hits) == 0 {
		hits, err = e.memory.RetrieveFixes(ctx, st.ErrorText, 0)
	}
	if err != nil {
		e.logger.Warn("fix lookup failed", "error", err)
	} else if len(hits) > 0 {
		e.logger.Info("prior fixes found for this failure", "count", len(hits))
	}

	fixed, err := e.fixer.Fix(ctx, st.Code, st.ErrorText, st.Language, e.primingContext(ctx, st.TaskText))
	if err != nil {
		return fmt.Errorf("orchestrator: repair code: %w", err)
	}
	st.Code = fixed

	if _, err := e.memory.AddFix(ctx, st.ErrorSignature, st.Language, fixed, nil); err != nil {
		e.logger.Warn("fix record not stored", "error", err)
	}

	st.Timeout = clamp(st.Timeout+repairTimeoutStep, repairTimeoutMin, repairTimeoutMax)
	st.Attempts++
	return nil
}

// primingContext gathers prior tools and docs relevant to the task into one
// text block, clipped to the configured token budget. Memory failures yield
// an empty context.
func (e *Engine) primingContext(ctx context.Context, taskText string) string {
	var parts []string

	tools, err := e.memory.RetrieveTools(ctx, taskText, primingTopK)
	if err != nil {
		e.logger.Warn("tool retrieval failed", "error", err)
	}
	for _, m := range tools {
		if code, ok := m.Metadata["code"].(string); ok && code != "" {
			parts = append(parts, code)
		}
	}

	docs, err := e.memory.RetrieveDocs(ctx, taskText, primingTopK)
	if err != nil {
		e.logger.Warn("doc retrieval failed", "error", err)
	}
	for _, m := range docs {
		title, _ := m.Metadata["title"].(string)
		content, _ := m.Metadata["content"].(string)
		if title == "" && content == "" {
			continue
		}
		parts = append(parts, strings.TrimSpace(title+"\n"+content))
	}

	text := strings.Join(parts, "\n\n")
	if e.clipper != nil && e.contextLimit > 0 {
		text = e.clipper.Truncate(text, e.contextLimit)
	}
	return text
}

// seenSimilarError reports whether a close-enough error is already stored,
// which means a previous auto-install retry did not resolve it.
func (e *Engine) seenSimilarError(ctx context.Context, stderr string) bool {
	matches, err := e.memory.RetrieveSimilarErrors(ctx, stderr, 1)
	if err != nil {
		e.logger.Warn("similar-error lookup failed", "error", err)
		return false
	}
	return len(matches) > 0 && matches[0].Score >= similarErrorScore
}

// missingInputs extracts the data files the program needed but lacked,
// preferring what the runner already parsed.
func missingInputs(res *domain.RunResult) []string {
	if len(res.InputsRequired) > 0 {
		return res.InputsRequired
	}
	return infer.MissingInputFiles(res.Stderr)
}

// adaptiveTimeout widens the wall clock when third-party installs are
// expected, and further for heavyweight packages.
func adaptiveTimeout(stateTimeout int, inferred []string) int {
	t := 30
	if len(inferred) > 0 {
		t += 20
	}
	for _, pkg := range inferred {
		if heavyPackages[pkg] {
			t += 20
			break
		}
	}
	return max(stateTimeout, t)
}

// mapDistributions converts module names to pip distribution names.
func mapDistributions(modules []string) []string {
	out := make([]string, 0, len(modules))
	for _, m := range modules {
		out = append(out, infer.Distribution(m))
	}
	return out
}

// mergeRequirements unions two lists preserving first-seen order.
func mergeRequirements(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	var out []string
	for _, dep := range append(append([]string{}, base...), extra...) {
		if _, ok := seen[dep]; ok {
			continue
		}
		seen[dep] = struct{}{}
		out = append(out, dep)
	}
	return out
}

func clampInitialTimeout(hint int) int {
	if hint <= 0 {
		return minTaskTimeout
	}
	return clamp(hint, minTaskTimeout, maxTaskTimeout)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
