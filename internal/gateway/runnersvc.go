package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	invopopSchema "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"neuroforge/internal/domain"
	"neuroforge/internal/metrics"
	"neuroforge/internal/sandbox"
)

// runWireRequest is the /run payload shape. The schema compiled from it
// rejects malformed requests before any sandbox work happens.
type runWireRequest struct {
	Language          string            `json:"language" jsonschema:"enum=python,enum=javascript,enum=c,enum=cpp,enum=java"`
	Code              string            `json:"code" jsonschema:"minLength=1"`
	Timeout           int               `json:"timeout" jsonschema:"minimum=1,maximum=300"`
	Requirements      []string          `json:"requirements,omitempty"`
	ExtraRequirements []string          `json:"extra_requirements,omitempty"`
	Network           string            `json:"network,omitempty"`
	FilesB64          map[string]string `json:"files_b64,omitempty"`
}

// runWireResult is the flat response shape; remote clients must also accept
// the enveloped form, but this service emits flat.
type runWireResult struct {
	ReturnCode     int      `json:"returncode"`
	Stdout         string   `json:"stdout"`
	Stderr         string   `json:"stderr"`
	InputsRequired []string `json:"inputs_required,omitempty"`
	ArtifactsZip   string   `json:"artifacts_zip_b64,omitempty"`
	ArtifactsNote  string   `json:"artifacts_note,omitempty"`
}

// RunnerService serves sandbox executions over HTTP.
type RunnerService struct {
	runner  domain.CodeRunner
	schema  *jsonschema.Schema
	metrics *metrics.Metrics
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewRunnerService compiles the request schema and wires the handler set.
// metrics may be nil.
func NewRunnerService(runner domain.CodeRunner, m *metrics.Metrics, logger *slog.Logger) (*RunnerService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := compileRunSchema()
	if err != nil {
		return nil, fmt.Errorf("runner service schema: %w", err)
	}
	return &RunnerService{runner: runner, schema: schema, metrics: m, logger: logger, nowFunc: time.Now}, nil
}

// compileRunSchema reflects runWireRequest into a JSON Schema and compiles it.
func compileRunSchema() (*jsonschema.Schema, error) {
	reflector := invopopSchema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	raw, err := json.Marshal(reflector.Reflect(runWireRequest{}))
	if err != nil {
		return nil, err
	}
	return jsonschema.CompileString("run_request.json", string(raw))
}

// Routes returns the runner service mux.
func (s *RunnerService) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /run", s.handleRun)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

func (s *RunnerService) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *RunnerService) handleRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
		return
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return
	}
	// Language is case-insensitive on the wire.
	if obj, ok := decoded.(map[string]any); ok {
		if lang, ok := obj["language"].(string); ok {
			obj["language"] = strings.ToLower(lang)
		}
	}
	if err := s.schema.Validate(decoded); err != nil {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("invalid run request: %v", err))
		return
	}

	var wire runWireRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("invalid run request: %v", err))
		return
	}
	wire.Language = strings.ToLower(wire.Language)

	req := domain.RunRequest{
		Language:          domain.Language(wire.Language),
		Code:              wire.Code,
		Timeout:           wire.Timeout,
		Requirements:      wire.Requirements,
		ExtraRequirements: wire.ExtraRequirements,
		Network:           wire.Network,
	}
	if len(wire.FilesB64) > 0 {
		req.InputFiles = make(map[string][]byte, len(wire.FilesB64))
		for name, enc := range wire.FilesB64 {
			data, err := base64.StdEncoding.DecodeString(enc)
			if err != nil {
				writeDetail(w, http.StatusBadRequest, fmt.Sprintf("file %q is not valid base64", name))
				return
			}
			req.InputFiles[name] = data
		}
	}

	start := s.nowFunc()
	res, err := s.runner.Run(r.Context(), req)
	if err != nil {
		if errors.Is(err, sandbox.ErrInvalidInput) {
			writeDetail(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("sandbox run failed", "error", err, "language", wire.Language)
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveRun(req.Language, res.ExitCode, s.nowFunc().Sub(start))
	}

	out := runWireResult{
		ReturnCode:     res.ExitCode,
		Stdout:         res.Stdout,
		Stderr:         res.Stderr,
		InputsRequired: res.InputsRequired,
		ArtifactsNote:  res.ArtifactsNote,
	}
	if len(res.ArtifactsZip) > 0 {
		out.ArtifactsZip = base64.StdEncoding.EncodeToString(res.ArtifactsZip)
	}
	writeJSON(w, http.StatusOK, out)
}
