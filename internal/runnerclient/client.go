// Package runnerclient is the HTTP client for a remote sandbox runner service.
// It speaks the same /run contract the in-process runner serves, so the kernel
// can swap between local and remote execution through domain.CodeRunner.
package runnerclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"neuroforge/internal/domain"
)

// graceSeconds is added to the sandbox wall clock so the HTTP call outlives
// the container, not the other way around.
const graceSeconds = 60

// Client POSTs run requests to a runner service and decodes the results.
type Client struct {
	baseURL string
	client  *http.Client
}

// New returns a Client for the runner at baseURL, e.g. "http://runner:8001".
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

type runPayload struct {
	Language     domain.Language   `json:"language"`
	Code         string            `json:"code"`
	Timeout      int               `json:"timeout"`
	Requirements []string          `json:"requirements,omitempty"`
	Network      string            `json:"network,omitempty"`
	FilesB64     map[string]string `json:"files_b64,omitempty"`
}

// runReply decodes both response shapes the service may emit: the flat result
// object and the {"status": ..., "result": {...}} envelope.
type runReply struct {
	wireResult
	Result *wireResult `json:"result"`
	Detail string      `json:"detail"`
}

type wireResult struct {
	ReturnCode     *int     `json:"returncode"`
	Stdout         string   `json:"stdout"`
	Stderr         string   `json:"stderr"`
	InputsRequired []string `json:"inputs_required"`
	ArtifactsZip   string   `json:"artifacts_zip_b64"`
	ArtifactsNote  string   `json:"artifacts_note"`
}

// Run implements domain.CodeRunner over HTTP. The request deadline is the
// sandbox timeout plus a fixed grace period, tightened further by ctx.
func (c *Client) Run(ctx context.Context, req domain.RunRequest) (*domain.RunResult, error) {
	payload := runPayload{
		Language:     req.Language,
		Code:         req.Code,
		Timeout:      req.Timeout,
		Requirements: append(append([]string{}, req.Requirements...), req.ExtraRequirements...),
		Network:      req.Network,
	}
	if len(req.InputFiles) > 0 {
		payload.FilesB64 = make(map[string]string, len(req.InputFiles))
		for name, data := range req.InputFiles {
			payload.FilesB64[name] = base64.StdEncoding.EncodeToString(data)
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("runnerclient marshal: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(req.Timeout+graceSeconds)*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/run", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("runnerclient request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("runnerclient do: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("runnerclient read: %w", err)
	}

	var reply runReply
	if err := json.Unmarshal(body, &reply); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("runnerclient: %s", resp.Status)
		}
		return nil, fmt.Errorf("runnerclient decode: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if reply.Detail != "" {
			return nil, fmt.Errorf("runnerclient: %s: %s", resp.Status, reply.Detail)
		}
		return nil, fmt.Errorf("runnerclient: %s", resp.Status)
	}

	wire := reply.wireResult
	if reply.Result != nil {
		wire = *reply.Result
	}
	if wire.ReturnCode == nil {
		return nil, fmt.Errorf("runnerclient: response carries no returncode")
	}

	result := &domain.RunResult{
		ExitCode:       *wire.ReturnCode,
		Stdout:         wire.Stdout,
		Stderr:         wire.Stderr,
		InputsRequired: wire.InputsRequired,
		ArtifactsNote:  wire.ArtifactsNote,
	}
	if wire.ArtifactsZip != "" {
		zip, err := base64.StdEncoding.DecodeString(wire.ArtifactsZip)
		if err != nil {
			return nil, fmt.Errorf("runnerclient artifacts decode: %w", err)
		}
		result.ArtifactsZip = zip
	}
	return result, nil
}

var _ domain.CodeRunner = (*Client)(nil)
