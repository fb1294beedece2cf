package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"neuroforge/internal/domain"
	"neuroforge/internal/metrics"
)

// maxUploadBytes caps the request body for both task endpoints.
const maxUploadBytes = 64 << 20

// TaskEngine is the slice of the orchestrator the kernel API drives.
type TaskEngine interface {
	RunTask(ctx context.Context, task domain.Task) (*domain.TaskResult, error)
}

// KernelAPI serves task submission plus liveness and metrics.
type KernelAPI struct {
	engine  TaskEngine
	metrics *metrics.Metrics
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewKernelAPI wires the kernel handler set. metrics may be nil.
func NewKernelAPI(engine TaskEngine, m *metrics.Metrics, logger *slog.Logger) *KernelAPI {
	if logger == nil {
		logger = slog.Default()
	}
	return &KernelAPI{engine: engine, metrics: m, logger: logger, nowFunc: time.Now}
}

// Routes returns the kernel API mux.
func (k *KernelAPI) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", k.handleRoot)
	mux.HandleFunc("GET /healthz", k.handleHealthz)
	mux.HandleFunc("POST /run_task", k.handleRunTask)
	mux.HandleFunc("POST /run_task_multipart", k.handleRunTaskMultipart)
	if k.metrics != nil {
		mux.Handle("GET /metrics", k.metrics.Handler())
	}
	return mux
}

func (k *KernelAPI) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "NeuroForge kernel is running."})
}

func (k *KernelAPI) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type runTaskRequest struct {
	Task     string            `json:"task"`
	Timeout  int               `json:"timeout"`
	FilesB64 map[string]string `json:"files_b64"`
}

func (k *KernelAPI) handleRunTask(w http.ResponseWriter, r *http.Request) {
	var req runTaskRequest
	body := http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return
	}

	task := domain.Task{Text: req.Task, TimeoutHint: req.Timeout}
	if len(req.FilesB64) > 0 {
		task.InputFiles = make(map[string][]byte, len(req.FilesB64))
		for name, enc := range req.FilesB64 {
			data, err := base64.StdEncoding.DecodeString(enc)
			if err != nil {
				writeDetail(w, http.StatusBadRequest, fmt.Sprintf("file %q is not valid base64", name))
				return
			}
			task.InputFiles[name] = data
		}
	}
	k.runTask(w, r, task)
}

func (k *KernelAPI) handleRunTaskMultipart(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	reader, err := r.MultipartReader()
	if err != nil {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart body: %v", err))
		return
	}

	task := domain.Task{}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart body: %v", err))
			return
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("read part %q: %v", part.FormName(), err))
			return
		}
		switch {
		case part.FileName() != "":
			if task.InputFiles == nil {
				task.InputFiles = make(map[string][]byte)
			}
			// Names pass through verbatim; the sandbox rejects unsafe
			// paths when it stages the workspace.
			task.InputFiles[part.FileName()] = data
		case part.FormName() == "task":
			task.Text = string(data)
		case part.FormName() == "timeout":
			hint, err := strconv.Atoi(strings.TrimSpace(string(data)))
			if err != nil {
				writeDetail(w, http.StatusBadRequest, "timeout must be an integer")
				return
			}
			task.TimeoutHint = hint
		}
	}
	k.runTask(w, r, task)
}

func (k *KernelAPI) runTask(w http.ResponseWriter, r *http.Request, task domain.Task) {
	if strings.TrimSpace(task.Text) == "" {
		writeDetail(w, http.StatusBadRequest, "task must not be empty")
		return
	}

	start := k.nowFunc()
	result, err := k.engine.RunTask(r.Context(), task)
	if err != nil {
		k.logger.Error("task failed before execution", "error", err)
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if k.metrics != nil {
		k.metrics.ObserveTask(result, k.nowFunc().Sub(start))
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "result": result})
}
