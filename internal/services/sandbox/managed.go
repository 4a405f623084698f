package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ManagedRunner dispatches one verification run as a single job to a
// clustered sandbox backend, for production traffic. Interchangeable with
// LocalRunner behind the Runner interface.
type ManagedRunner struct {
	baseURL string
	client  *http.Client
}

func NewManagedRunner(baseURL string) *ManagedRunner {
	return &ManagedRunner{
		baseURL: baseURL,
		client:  &http.Client{Timeout: (maxTimeoutSeconds + 30) * time.Second},
	}
}

type managedRunRequest struct {
	ScriptBase64      string `json:"script_base64"`
	Runtime           string `json:"runtime"`
	TimeoutSeconds    int    `json:"timeout_seconds"`
	MemoryLimitMB     int    `json:"memory_limit_mb"`
	DeliverableBase64 string `json:"deliverable_base64"`
}

type managedRunResponse struct {
	Passed      bool    `json:"passed"`
	ExitCode    int     `json:"exit_code"`
	TimedOut    bool    `json:"timed_out"`
	ElapsedSecs float64 `json:"elapsed_seconds"`
	Stdout      string  `json:"stdout"`
	Stderr      string  `json:"stderr"`
}

func (r *ManagedRunner) Run(ctx context.Context, req RunRequest) (*RunOutcome, error) {
	body, err := json.Marshal(managedRunRequest{
		ScriptBase64:      base64.StdEncoding.EncodeToString(req.Script),
		Runtime:           string(req.Runtime),
		TimeoutSeconds:    req.TimeoutSeconds,
		MemoryLimitMB:     req.MemoryLimitMB,
		DeliverableBase64: base64.StdEncoding.EncodeToString(req.Deliverable),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal managed run request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/runs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build managed run request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("managed sandbox unreachable: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read managed run response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("managed sandbox returned status %d: %s", resp.StatusCode, truncate(respBody, 1024))
	}

	var out managedRunResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode managed run response: %w", err)
	}

	return &RunOutcome{
		Passed:        out.Passed,
		ExitCode:      out.ExitCode,
		TimedOut:      out.TimedOut,
		ElapsedSecs:   out.ElapsedSecs,
		StdoutSnippet: truncate([]byte(out.Stdout), surfacedOutputCapKB*1024),
		StderrSnippet: truncate([]byte(out.Stderr), surfacedOutputCapKB*1024),
	}, nil
}
