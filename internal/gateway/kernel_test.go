package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"neuroforge/internal/domain"
	"neuroforge/internal/metrics"
)

// mockEngine records the task it received and serves a scripted result.
type mockEngine struct {
	result *domain.TaskResult
	err    error
	task   domain.Task
	calls  int
}

func (m *mockEngine) RunTask(_ context.Context, task domain.Task) (*domain.TaskResult, error) {
	m.calls++
	m.task = task
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newKernel(engine *mockEngine) http.Handler {
	return NewKernelAPI(engine, nil, testLogger()).Routes()
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// Liveness
// =============================================================================

func TestKernel_Root_ShouldReportRunning(t *testing.T) {
	h := newKernel(&mockEngine{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "running") {
		t.Errorf("root: %d %q", rec.Code, rec.Body.String())
	}
}

func TestKernel_Healthz_ShouldBeOK(t *testing.T) {
	h := newKernel(&mockEngine{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}
}

func TestKernel_UnknownPath_ShouldBe404(t *testing.T) {
	h := newKernel(&mockEngine{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestKernel_Metrics_ShouldServeWhenWired(t *testing.T) {
	h := NewKernelAPI(&mockEngine{}, metrics.New(), testLogger()).Routes()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("metrics: %d", rec.Code)
	}
}

// =============================================================================
// POST /run_task
// =============================================================================

func TestRunTask_ShouldWrapResultInSuccessEnvelope(t *testing.T) {
	engine := &mockEngine{result: &domain.TaskResult{
		Language: domain.LangPython, Attempts: 1, Stdout: "4\n", ExitCode: 0,
	}}
	rec := postJSON(t, newKernel(engine), "/run_task", map[string]any{"task": "print 2+2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Status string             `json:"status"`
		Result *domain.TaskResult `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Status != "success" || out.Result == nil || out.Result.Stdout != "4\n" {
		t.Errorf("response = %+v", out)
	}
	if engine.task.Text != "print 2+2" {
		t.Errorf("task text = %q", engine.task.Text)
	}
}

func TestRunTask_ShouldDecodeFilesAndTimeout(t *testing.T) {
	engine := &mockEngine{result: &domain.TaskResult{ExitCode: 0}}
	body := map[string]any{
		"task":      "sum the csv",
		"timeout":   120,
		"files_b64": map[string]string{"data.csv": base64.StdEncoding.EncodeToString([]byte("1,2"))},
	}
	rec := postJSON(t, newKernel(engine), "/run_task", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if engine.task.TimeoutHint != 120 {
		t.Errorf("timeout hint = %d", engine.task.TimeoutHint)
	}
	if string(engine.task.InputFiles["data.csv"]) != "1,2" {
		t.Errorf("input files = %v", engine.task.InputFiles)
	}
}

func TestRunTask_BadBase64_ShouldBe400(t *testing.T) {
	engine := &mockEngine{result: &domain.TaskResult{}}
	body := map[string]any{"task": "x", "files_b64": map[string]string{"f.csv": "!!!"}}
	rec := postJSON(t, newKernel(engine), "/run_task", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
	if engine.calls != 0 {
		t.Error("engine called despite invalid payload")
	}
}

func TestRunTask_EmptyTask_ShouldBe400(t *testing.T) {
	rec := postJSON(t, newKernel(&mockEngine{}), "/run_task", map[string]any{"task": " "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestRunTask_MalformedJSON_ShouldBe400(t *testing.T) {
	req := httptest.NewRequest("POST", "/run_task", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	newKernel(&mockEngine{}).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestRunTask_EngineFailure_ShouldBe500WithDetail(t *testing.T) {
	engine := &mockEngine{err: errors.New("generate code: model offline")}
	rec := postJSON(t, newKernel(engine), "/run_task", map[string]any{"task": "x"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "model offline") {
		t.Errorf("detail missing: %s", rec.Body.String())
	}
}

// =============================================================================
// POST /run_task_multipart
// =============================================================================

func TestRunTaskMultipart_ShouldCollectFieldsAndFiles(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("task", "summarize report.pdf")
	mw.WriteField("timeout", "60")
	fw, _ := mw.CreateFormFile("files", "report.pdf")
	fw.Write([]byte("%PDF-1.4"))
	mw.Close()

	engine := &mockEngine{result: &domain.TaskResult{ExitCode: 0}}
	req := httptest.NewRequest("POST", "/run_task_multipart", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	newKernel(engine).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if engine.task.Text != "summarize report.pdf" || engine.task.TimeoutHint != 60 {
		t.Errorf("task = %+v", engine.task)
	}
	if string(engine.task.InputFiles["report.pdf"]) != "%PDF-1.4" {
		t.Errorf("input files = %v", engine.task.InputFiles)
	}
}

func TestRunTaskMultipart_NestedFilename_ShouldPassThroughVerbatim(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("task", "read the data")
	fw, _ := mw.CreateFormFile("files", "data/input.csv")
	fw.Write([]byte("a,b"))
	mw.Close()

	engine := &mockEngine{result: &domain.TaskResult{ExitCode: 0}}
	req := httptest.NewRequest("POST", "/run_task_multipart", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	newKernel(engine).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if string(engine.task.InputFiles["data/input.csv"]) != "a,b" {
		t.Errorf("input files = %v, want the subdirectory name kept", engine.task.InputFiles)
	}
	if _, flattened := engine.task.InputFiles["input.csv"]; flattened {
		t.Error("filename was flattened to its base name")
	}
}

func TestRunTaskMultipart_BadTimeout_ShouldBe400(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("task", "x")
	mw.WriteField("timeout", "soon")
	mw.Close()

	req := httptest.NewRequest("POST", "/run_task_multipart", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	newKernel(&mockEngine{}).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestRunTaskMultipart_NotMultipart_ShouldBe400(t *testing.T) {
	req := httptest.NewRequest("POST", "/run_task_multipart", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	newKernel(&mockEngine{}).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}
