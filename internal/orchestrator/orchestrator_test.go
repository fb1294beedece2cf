package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"neuroforge/internal/domain"
)

// =============================================================================
// Mocks
// =============================================================================

type mockWriter struct {
	code string
	lang domain.Language
	err  error
}

func (m *mockWriter) Write(_ context.Context, _ string, lang domain.Language, _ string) (string, domain.Language, error) {
	if m.err != nil {
		return "", "", m.err
	}
	out := m.lang
	if domain.ValidLanguage(lang) {
		out = lang
	}
	return m.code, out, nil
}

type mockFixer struct {
	fixes []string
	err   error
	calls int
}

func (m *mockFixer) Fix(_ context.Context, code, _ string, _ domain.Language, _ string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	if m.calls <= len(m.fixes) {
		return m.fixes[m.calls-1], nil
	}
	return code + " # fixed", nil
}

// scriptedRunner returns results in call order and records every request.
type scriptedRunner struct {
	results  []*domain.RunResult
	err      error
	requests []domain.RunRequest
}

func (m *scriptedRunner) Run(_ context.Context, req domain.RunRequest) (*domain.RunResult, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	i := len(m.requests) - 1
	if i >= len(m.results) {
		i = len(m.results) - 1
	}
	return m.results[i], nil
}

// spyMemory records calls and serves configurable results; individual ops can
// be failed to prove memory never blocks a task.
type spyMemory struct {
	tools        []domain.MemoryMatch
	docs         []domain.MemoryMatch
	similar      []domain.MemoryMatch
	fixes        []domain.MemoryMatch
	addToolCalls int
	addErrCalls  int
	addFixCalls  int
	lastToolCode string
	lastToolMeta map[string]any
	lastFixSig   string
	failAll      bool
}

func (m *spyMemory) AddTool(_ context.Context, _ string, _ domain.Language, code string, meta map[string]any) (string, error) {
	if m.failAll {
		return "", errors.New("memory down")
	}
	m.addToolCalls++
	m.lastToolCode = code
	m.lastToolMeta = meta
	return "tool-id", nil
}

func (m *spyMemory) RetrieveTools(_ context.Context, _ string, _ int) ([]domain.MemoryMatch, error) {
	if m.failAll {
		return nil, errors.New("memory down")
	}
	return m.tools, nil
}

func (m *spyMemory) AddError(_ context.Context, _, _, _ string) (string, error) {
	if m.failAll {
		return "", errors.New("memory down")
	}
	m.addErrCalls++
	return "err-id", nil
}

func (m *spyMemory) RetrieveSimilarErrors(_ context.Context, _ string, _ int) ([]domain.MemoryMatch, error) {
	if m.failAll {
		return nil, errors.New("memory down")
	}
	return m.similar, nil
}

func (m *spyMemory) AddFix(_ context.Context, sig string, _ domain.Language, _ string, _ map[string]any) (string, error) {
	if m.failAll {
		return "", errors.New("memory down")
	}
	m.addFixCalls++
	m.lastFixSig = sig
	return "fix-id", nil
}

func (m *spyMemory) RetrieveFixes(_ context.Context, _ string, _ int) ([]domain.MemoryMatch, error) {
	if m.failAll {
		return nil, errors.New("memory down")
	}
	return m.fixes, nil
}

func (m *spyMemory) RetrieveDocs(_ context.Context, _ string, _ int) ([]domain.MemoryMatch, error) {
	if m.failAll {
		return nil, errors.New("memory down")
	}
	return m.docs, nil
}

var _ Memory = (*spyMemory)(nil)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newEngine(writer domain.CodeWriter, fixer domain.CodeFixer, runner domain.CodeRunner, mem Memory, cfg domain.KernelConfig) *Engine {
	return NewEngine(writer, fixer, runner, mem, nil, 0, cfg, quietLogger())
}

func pythonWriter() *mockWriter {
	return &mockWriter{code: `print("hello world")`, lang: domain.LangPython}
}

// =============================================================================
// Trivial success
// =============================================================================

func TestRunTask_FirstAttemptSucceeds_ShouldPromoteTool(t *testing.T) {
	runner := &scriptedRunner{results: []*domain.RunResult{{ExitCode: 0, Stdout: "hello world\n"}}}
	mem := &spyMemory{}
	e := newEngine(pythonWriter(), &mockFixer{}, runner, mem, domain.KernelConfig{})

	res, err := e.RunTask(context.Background(), domain.Task{Text: "print hello world in python"})
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if res.ExitCode != 0 || res.Stdout != "hello world\n" || res.Attempts != 1 {
		t.Errorf("result = %+v", res)
	}
	if res.Language != domain.LangPython {
		t.Errorf("language = %q", res.Language)
	}
	if mem.addToolCalls != 1 {
		t.Errorf("tool promoted %d times, want 1", mem.addToolCalls)
	}
	if mem.lastToolMeta["source"] != "auto_promote" || mem.lastToolMeta["success_count"] != 1 {
		t.Errorf("promotion metadata = %+v", mem.lastToolMeta)
	}
}

func TestRunTask_EmptyTask_ShouldError(t *testing.T) {
	e := newEngine(pythonWriter(), &mockFixer{}, &scriptedRunner{}, &spyMemory{}, domain.KernelConfig{})
	if _, err := e.RunTask(context.Background(), domain.Task{Text: "  "}); err == nil {
		t.Fatal("expected error for empty task")
	}
}

func TestRunTask_GenerationFailure_ShouldBeFatal(t *testing.T) {
	w := &mockWriter{err: errors.New("model offline")}
	e := newEngine(w, &mockFixer{}, &scriptedRunner{}, &spyMemory{}, domain.KernelConfig{})
	if _, err := e.RunTask(context.Background(), domain.Task{Text: "task"}); err == nil {
		t.Fatal("expected fatal error when generation fails")
	}
}

// =============================================================================
// Repair loop
// =============================================================================

func TestRunTask_FailThenFix_ShouldSucceedOnSecondAttempt(t *testing.T) {
	runner := &scriptedRunner{results: []*domain.RunResult{
		{ExitCode: 1, Stderr: "NameError: name 'x' is not defined"},
		{ExitCode: 0, Stdout: "ok\n"},
	}}
	fixer := &mockFixer{}
	mem := &spyMemory{}
	e := newEngine(pythonWriter(), fixer, runner, mem, domain.KernelConfig{})

	res, err := e.RunTask(context.Background(), domain.Task{Text: "task"})
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if res.ExitCode != 0 || res.Attempts != 2 {
		t.Errorf("result = %+v", res)
	}
	if fixer.calls != 1 {
		t.Errorf("fixer called %d times, want 1", fixer.calls)
	}
	if mem.addErrCalls != 1 || mem.addFixCalls != 1 {
		t.Errorf("error/fix records: %d/%d, want 1/1", mem.addErrCalls, mem.addFixCalls)
	}
	if mem.lastFixSig == "" {
		t.Error("fix stored without a signature")
	}
	if mem.addToolCalls != 1 {
		t.Errorf("tool promoted %d times, want 1", mem.addToolCalls)
	}
}

func TestRunTask_PersistentFailure_ShouldStopAtMaxAttempts(t *testing.T) {
	runner := &scriptedRunner{results: []*domain.RunResult{
		{ExitCode: domain.ExitTimeout, Stderr: "Execution timed out."},
	}}
	e := newEngine(pythonWriter(), &mockFixer{}, runner, &spyMemory{}, domain.KernelConfig{MaxAttempts: 3})

	res, err := e.RunTask(context.Background(), domain.Task{Text: "loop forever"})
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}
	if res.ExitCode != domain.ExitTimeout {
		t.Errorf("exit code = %d, want %d", res.ExitCode, domain.ExitTimeout)
	}
	if len(runner.requests) != 3 {
		t.Errorf("runner called %d times, want 3", len(runner.requests))
	}
}

func TestRunTask_RepairFailure_ShouldSurfaceLastResult(t *testing.T) {
	runner := &scriptedRunner{results: []*domain.RunResult{
		{ExitCode: 1, Stderr: "SyntaxError: invalid syntax"},
	}}
	fixer := &mockFixer{err: errors.New("model offline")}
	e := newEngine(pythonWriter(), fixer, runner, &spyMemory{}, domain.KernelConfig{})

	res, err := e.RunTask(context.Background(), domain.Task{Text: "task"})
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if res.ExitCode != 1 || !strings.Contains(res.Stderr, "SyntaxError") {
		t.Errorf("result = %+v", res)
	}
	if res.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", res.Attempts)
	}
}

func TestRunTask_RepairGrowsTimeoutWithinBounds(t *testing.T) {
	runner := &scriptedRunner{results: []*domain.RunResult{
		{ExitCode: 1, Stderr: "err one"},
		{ExitCode: 1, Stderr: "err two"},
		{ExitCode: 1, Stderr: "err three"},
	}}
	e := newEngine(pythonWriter(), &mockFixer{}, runner, &spyMemory{}, domain.KernelConfig{MaxAttempts: 3})

	if _, err := e.RunTask(context.Background(), domain.Task{Text: "task"}); err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	// First run: adaptive floor 30. After one repair the state timeout is at
	// least 60; after two it is at least 90. The requests must not shrink.
	if len(runner.requests) != 3 {
		t.Fatalf("runner called %d times", len(runner.requests))
	}
	if runner.requests[1].Timeout < 60 {
		t.Errorf("second run timeout = %d, want >= 60", runner.requests[1].Timeout)
	}
	if runner.requests[2].Timeout < runner.requests[1].Timeout {
		t.Errorf("timeouts shrank: %d then %d", runner.requests[1].Timeout, runner.requests[2].Timeout)
	}
}

// =============================================================================
// Missing inputs
// =============================================================================

func TestRunTask_MissingInputFile_ShouldShortCircuitWithoutRetry(t *testing.T) {
	runner := &scriptedRunner{results: []*domain.RunResult{
		{ExitCode: 1, Stderr: "FileNotFoundError: [Errno 2] No such file or directory: 'report.pdf'"},
	}}
	fixer := &mockFixer{}
	e := newEngine(pythonWriter(), fixer, runner, &spyMemory{}, domain.KernelConfig{MaxAttempts: 3})

	res, err := e.RunTask(context.Background(), domain.Task{Text: "summarize report.pdf"})
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if len(res.InputsRequired) != 1 || res.InputsRequired[0] != "report.pdf" {
		t.Errorf("inputs_required = %v", res.InputsRequired)
	}
	if res.Attempts != 1 || fixer.calls != 0 {
		t.Errorf("should not repair: attempts=%d fixer calls=%d", res.Attempts, fixer.calls)
	}
}

func TestRunTask_RunnerProvidedInputsRequired_ShouldBePreferred(t *testing.T) {
	runner := &scriptedRunner{results: []*domain.RunResult{
		{ExitCode: 1, Stderr: "boom", InputsRequired: []string{"data.csv"}},
	}}
	e := newEngine(pythonWriter(), &mockFixer{}, runner, &spyMemory{}, domain.KernelConfig{})

	res, err := e.RunTask(context.Background(), domain.Task{Text: "task"})
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if len(res.InputsRequired) != 1 || res.InputsRequired[0] != "data.csv" {
		t.Errorf("inputs_required = %v", res.InputsRequired)
	}
}

// =============================================================================
// Auto-install retry
// =============================================================================

func TestRunTask_MissingModule_ShouldReRunOnceWithMappedRequirement(t *testing.T) {
	w := &mockWriter{code: "import cv2\nprint(cv2.__version__)", lang: domain.LangPython}
	runner := &scriptedRunner{results: []*domain.RunResult{
		{ExitCode: 1, Stderr: "ModuleNotFoundError: No module named 'cv2'"},
		{ExitCode: 0, Stdout: "4.9.0\n"},
	}}
	e := newEngine(w, &mockFixer{}, runner, &spyMemory{}, domain.KernelConfig{AutoRequirements: true})

	res, err := e.RunTask(context.Background(), domain.Task{Text: "print opencv version"})
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit = %d", res.ExitCode)
	}
	// The transparent re-run is not a new attempt.
	if res.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", res.Attempts)
	}
	if len(runner.requests) != 2 {
		t.Fatalf("runner called %d times, want 2", len(runner.requests))
	}
	retry := runner.requests[1]
	found := false
	for _, dep := range retry.Requirements {
		if dep == "opencv-python" {
			found = true
		}
	}
	if !found {
		t.Errorf("retry requirements = %v, want opencv-python", retry.Requirements)
	}
	if retry.Timeout < 120 {
		t.Errorf("retry timeout = %d, want >= 120", retry.Timeout)
	}
}

func TestRunTask_MissingModule_MaxTimeoutHint_ShouldRetryWithinRunnerBounds(t *testing.T) {
	w := &mockWriter{code: "import pandas as pd\nprint(pd.__version__)", lang: domain.LangPython}
	runner := &scriptedRunner{results: []*domain.RunResult{
		{ExitCode: 1, Stderr: "ModuleNotFoundError: No module named 'pandas'"},
		{ExitCode: 0, Stdout: "2.0\n"},
	}}
	e := newEngine(w, &mockFixer{}, runner, &spyMemory{}, domain.KernelConfig{AutoRequirements: true})

	res, err := e.RunTask(context.Background(), domain.Task{Text: "use pandas", TimeoutHint: 300})
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit = %d, stderr = %q", res.ExitCode, res.Stderr)
	}
	if len(runner.requests) != 2 {
		t.Fatalf("runner called %d times, want 2 (auto-install retry must still run)", len(runner.requests))
	}
	// The pip-install headroom never pushes past the runner's timeout ceiling.
	retry := runner.requests[1]
	if retry.Timeout > 300 {
		t.Errorf("retry timeout = %d, want <= 300", retry.Timeout)
	}
	if retry.Timeout < runner.requests[0].Timeout {
		t.Errorf("retry timeout = %d shrank below first run %d", retry.Timeout, runner.requests[0].Timeout)
	}
}

func TestRunTask_MissingModule_SeenBefore_ShouldSkipRetry(t *testing.T) {
	w := &mockWriter{code: "import nonexistent_pkg", lang: domain.LangPython}
	runner := &scriptedRunner{results: []*domain.RunResult{
		{ExitCode: 1, Stderr: "ModuleNotFoundError: No module named 'nonexistent_pkg'"},
	}}
	mem := &spyMemory{similar: []domain.MemoryMatch{{ID: "e1", Score: 0.97}}}
	e := newEngine(w, &mockFixer{}, runner, mem, domain.KernelConfig{AutoRequirements: true, MaxAttempts: 1})

	res, err := e.RunTask(context.Background(), domain.Task{Text: "task"})
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if res.ExitCode == 0 {
		t.Error("expected surfaced failure")
	}
	if len(runner.requests) != 1 {
		t.Errorf("runner called %d times, want 1 (no auto-install retry)", len(runner.requests))
	}
}

func TestRunTask_AutoRequirementsOff_ShouldNotInfer(t *testing.T) {
	w := &mockWriter{code: "import pandas as pd\nprint(1)", lang: domain.LangPython}
	runner := &scriptedRunner{results: []*domain.RunResult{{ExitCode: 0, Stdout: "1\n"}}}
	e := newEngine(w, &mockFixer{}, runner, &spyMemory{}, domain.KernelConfig{})

	if _, err := e.RunTask(context.Background(), domain.Task{Text: "task"}); err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if len(runner.requests[0].Requirements) != 0 {
		t.Errorf("requirements = %v, want none", runner.requests[0].Requirements)
	}
}

// =============================================================================
// Adaptive timeout
// =============================================================================

func TestAdaptiveTimeout_ShouldWidenForPackagesAndHeavyImports(t *testing.T) {
	cases := []struct {
		state    int
		inferred []string
		want     int
	}{
		{8, nil, 30},
		{8, []string{"requests"}, 50},
		{8, []string{"pandas"}, 70},
		{8, []string{"requests", "numpy"}, 70},
		{120, []string{"pandas"}, 120}, // state already wider
	}
	for _, c := range cases {
		if got := adaptiveTimeout(c.state, c.inferred); got != c.want {
			t.Errorf("adaptiveTimeout(%d, %v) = %d, want %d", c.state, c.inferred, got, c.want)
		}
	}
}

func TestRunTask_InferredPackages_ShouldReachRunner(t *testing.T) {
	w := &mockWriter{code: "import pandas as pd\nprint(pd.__version__)", lang: domain.LangPython}
	runner := &scriptedRunner{results: []*domain.RunResult{{ExitCode: 0, Stdout: "2.0\n"}}}
	e := newEngine(w, &mockFixer{}, runner, &spyMemory{}, domain.KernelConfig{AutoRequirements: true})

	if _, err := e.RunTask(context.Background(), domain.Task{Text: "task"}); err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	req := runner.requests[0]
	if len(req.Requirements) != 1 || req.Requirements[0] != "pandas" {
		t.Errorf("requirements = %v", req.Requirements)
	}
	if req.Timeout != 70 {
		t.Errorf("timeout = %d, want 70 (30 + packages + heavy)", req.Timeout)
	}
}

// =============================================================================
// Memory resilience and priming
// =============================================================================

func TestRunTask_MemoryDown_ShouldStillComplete(t *testing.T) {
	runner := &scriptedRunner{results: []*domain.RunResult{
		{ExitCode: 1, Stderr: "ValueError: bad"},
		{ExitCode: 0, Stdout: "ok\n"},
	}}
	mem := &spyMemory{failAll: true}
	e := newEngine(pythonWriter(), &mockFixer{}, runner, mem, domain.KernelConfig{})

	res, err := e.RunTask(context.Background(), domain.Task{Text: "task"})
	if err != nil {
		t.Fatalf("RunTask should tolerate memory failures: %v", err)
	}
	if res.ExitCode != 0 || res.Attempts != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestRunTask_RunnerInfraFailure_ShouldBecomeRunnerErrorResult(t *testing.T) {
	runner := &scriptedRunner{err: errors.New("connection refused")}
	e := newEngine(pythonWriter(), &mockFixer{err: errors.New("stop")}, runner, &spyMemory{}, domain.KernelConfig{MaxAttempts: 1})

	res, err := e.RunTask(context.Background(), domain.Task{Text: "task"})
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if res.ExitCode != 1 || !strings.HasPrefix(res.Stderr, "Runner error:") {
		t.Errorf("result = %+v", res)
	}
}

// primingWriter captures the context passed to generation.
type primingWriter struct {
	mockWriter
	seenContext string
}

func (p *primingWriter) Write(ctx context.Context, task string, lang domain.Language, priming string) (string, domain.Language, error) {
	p.seenContext = priming
	return p.mockWriter.Write(ctx, task, lang, priming)
}

func TestRunTask_ShouldPrimeWriterWithToolsAndDocs(t *testing.T) {
	mem := &spyMemory{
		tools: []domain.MemoryMatch{{ID: "t1", Score: 0.9, Metadata: map[string]any{"code": "def prior(): pass"}}},
		docs:  []domain.MemoryMatch{{ID: "d1", Score: 0.8, Metadata: map[string]any{"title": "guide", "content": "use pandas"}}},
	}
	w := &primingWriter{mockWriter: *pythonWriter()}
	runner := &scriptedRunner{results: []*domain.RunResult{{ExitCode: 0}}}
	e := newEngine(w, &mockFixer{}, runner, mem, domain.KernelConfig{})

	if _, err := e.RunTask(context.Background(), domain.Task{Text: "task"}); err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if !strings.Contains(w.seenContext, "def prior(): pass") {
		t.Errorf("priming context missing tool code: %q", w.seenContext)
	}
	if !strings.Contains(w.seenContext, "guide\nuse pandas") {
		t.Errorf("priming context missing doc: %q", w.seenContext)
	}
}

func TestRunTask_InputFiles_ShouldFlowToRunner(t *testing.T) {
	runner := &scriptedRunner{results: []*domain.RunResult{{ExitCode: 0}}}
	e := newEngine(pythonWriter(), &mockFixer{}, runner, &spyMemory{}, domain.KernelConfig{})

	task := domain.Task{Text: "task", InputFiles: map[string][]byte{"data.csv": []byte("a,b")}}
	if _, err := e.RunTask(context.Background(), task); err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if string(runner.requests[0].InputFiles["data.csv"]) != "a,b" {
		t.Errorf("input files not propagated: %+v", runner.requests[0].InputFiles)
	}
}
