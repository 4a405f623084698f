package sandbox

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/agentmarket/engine/internal/apperr"
)

// Runtime is the closed allowlist of script-mode execution environments,
// each pinned to a specific container image in config.
type Runtime string

const (
	RuntimePython Runtime = "python"
	RuntimeNode   Runtime = "node"
	RuntimeBash   Runtime = "bash"
	RuntimeRuby   Runtime = "ruby"
)

const (
	maxScriptBytes        = 1 << 20 // 1 MB
	maxTimeoutSeconds     = 300
	maxMemoryLimitMB      = 512
	capturedOutputCapKB   = 64
	surfacedOutputCapKB   = 2
)

// ScriptCriteria is the base64-script shape of acceptance_criteria.
type ScriptCriteria struct {
	ScriptBase64   string  `json:"script_base64"`
	Runtime        Runtime `json:"runtime"`
	TimeoutSeconds int     `json:"timeout_seconds,omitempty"`
	MemoryLimitMB  int     `json:"memory_limit_mb,omitempty"`
}

// ValidateScript checks the criteria shape at proposal time so malformed
// criteria never reach a worker.
func ValidateScript(c ScriptCriteria) error {
	raw, err := base64.StdEncoding.DecodeString(c.ScriptBase64)
	if err != nil {
		return apperr.Validation("script_base64 is not valid base64")
	}
	if len(raw) > maxScriptBytes {
		return apperr.Validation("script exceeds the 1 MB size cap")
	}
	switch c.Runtime {
	case RuntimePython, RuntimeNode, RuntimeBash, RuntimeRuby:
	default:
		return apperr.Validation("unsupported runtime: " + string(c.Runtime))
	}
	if c.TimeoutSeconds < 0 || c.TimeoutSeconds > maxTimeoutSeconds {
		return apperr.Validation(fmt.Sprintf("timeout_seconds must be between 0 and %d", maxTimeoutSeconds))
	}
	if c.MemoryLimitMB < 0 || c.MemoryLimitMB > maxMemoryLimitMB {
		return apperr.Validation(fmt.Sprintf("memory_limit_mb must be between 0 and %d", maxMemoryLimitMB))
	}
	return nil
}

// RunRequest is everything a Runner needs to execute one script-mode
// verification: the script, its runtime and resource limits, and the
// deliverable to mount read-only at /input/result.json.
type RunRequest struct {
	Script         []byte
	Runtime        Runtime
	TimeoutSeconds int
	MemoryLimitMB  int
	Deliverable    []byte
}

// RunOutcome is the uniform result of one script-mode execution.
type RunOutcome struct {
	Passed        bool
	ExitCode      int
	TimedOut      bool
	ElapsedSecs   float64
	StdoutSnippet string
	StderrSnippet string
}

// Runner executes a verification script in an isolated sandbox. Two
// interchangeable backends implement it: LocalRunner (development, a local
// container runtime) and ManagedRunner (production, a clustered backend
// dispatching one job per run).
type Runner interface {
	Run(ctx context.Context, req RunRequest) (*RunOutcome, error)
}

// isolationSpec documents the sandbox hardening both backends must apply:
// no network egress, read-only root filesystem, dropped capabilities,
// non-root UID 65534, a small writable tmpfs, the deliverable mounted
// read-only as /input/result.json, the script mounted read-only-executable
// as /input/verify.
type isolationSpec struct {
	NoNetwork       bool
	ReadOnlyRootFS  bool
	DropCapabilities bool
	RunAsUID        int
	TmpfsSizeMB     int
}

var defaultIsolation = isolationSpec{
	NoNetwork:        true,
	ReadOnlyRootFS:   true,
	DropCapabilities: true,
	RunAsUID:         65534,
	TmpfsSizeMB:      64,
}

func truncate(b []byte, capBytes int) string {
	if len(b) > capBytes {
		b = b[:capBytes]
	}
	return string(b)
}
