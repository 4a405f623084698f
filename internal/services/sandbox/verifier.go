package sandbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentmarket/engine/internal/apperr"
)

// criteriaShape sniffs which verification mode a proposal's
// acceptance_criteria describes.
type criteriaShape struct {
	Tests        json.RawMessage `json:"tests"`
	ScriptBase64 string          `json:"script_base64"`
}

// Mode is the verification procedure selected by acceptance_criteria shape.
type Mode int

const (
	ModeDeclarative Mode = iota
	ModeScript
)

// DetectMode inspects criteria and returns which mode applies.
func DetectMode(criteria json.RawMessage) (Mode, error) {
	var shape criteriaShape
	if err := json.Unmarshal(criteria, &shape); err != nil {
		return 0, apperr.Validation("acceptance_criteria is not valid JSON")
	}
	switch {
	case len(shape.Tests) > 0:
		return ModeDeclarative, nil
	case shape.ScriptBase64 != "":
		return ModeScript, nil
	default:
		return 0, apperr.Validation("acceptance_criteria must contain either \"tests\" or \"script_base64\"")
	}
}

// ValidateCriteria validates acceptance_criteria at proposal time,
// regardless of mode, so malformed criteria never reach a verify call.
func ValidateCriteria(criteria json.RawMessage) error {
	mode, err := DetectMode(criteria)
	if err != nil {
		return err
	}
	switch mode {
	case ModeDeclarative:
		var c DeclarativeCriteria
		if err := json.Unmarshal(criteria, &c); err != nil {
			return apperr.Validation("malformed declarative criteria: " + err.Error())
		}
		return ValidateDeclarative(c)
	case ModeScript:
		var c ScriptCriteria
		if err := json.Unmarshal(criteria, &c); err != nil {
			return apperr.Validation("malformed script criteria: " + err.Error())
		}
		return ValidateScript(c)
	default:
		return apperr.Internal("unreachable verification mode", nil)
	}
}

// Result is the uniform outcome both modes return: a pass flag, per-test
// details (declarative mode only; script runs carry none), elapsed
// seconds, and the underlying trace where applicable.
type Result struct {
	Passed      bool         `json:"passed"`
	Tests       []TestResult `json:"tests,omitempty"`
	ElapsedSecs float64      `json:"elapsedSeconds"`
	TimedOut    bool         `json:"timedOut,omitempty"`
	ExitCode    int          `json:"exitCode,omitempty"`
	Stdout      string       `json:"stdout,omitempty"`
	Stderr      string       `json:"stderr,omitempty"`
}

// Verifier runs the verification procedure selected by acceptance_criteria.
type Verifier struct {
	runner Runner
}

func NewVerifier(runner Runner) *Verifier {
	return &Verifier{runner: runner}
}

// Verify runs the appropriate mode against deliverable and returns the
// uniform result; its ElapsedSecs is the CPU-seconds figure the caller
// charges a verification fee on.
func (v *Verifier) Verify(ctx context.Context, criteria, deliverable json.RawMessage) (*Result, error) {
	mode, err := DetectMode(criteria)
	if err != nil {
		return nil, err
	}

	switch mode {
	case ModeDeclarative:
		var c DeclarativeCriteria
		if err := json.Unmarshal(criteria, &c); err != nil {
			return nil, apperr.Validation("malformed declarative criteria: " + err.Error())
		}
		start := time.Now()
		passed, results := RunDeclarative(c, deliverable, 0, 0)
		return &Result{
			Passed:      passed,
			Tests:       results,
			ElapsedSecs: time.Since(start).Seconds(),
		}, nil

	case ModeScript:
		var c ScriptCriteria
		if err := json.Unmarshal(criteria, &c); err != nil {
			return nil, apperr.Validation("malformed script criteria: " + err.Error())
		}
		script, err := base64.StdEncoding.DecodeString(c.ScriptBase64)
		if err != nil {
			return nil, apperr.Validation("script_base64 is not valid base64")
		}
		outcome, err := v.runner.Run(ctx, RunRequest{
			Script:         script,
			Runtime:        c.Runtime,
			TimeoutSeconds: c.TimeoutSeconds,
			MemoryLimitMB:  c.MemoryLimitMB,
			Deliverable:    deliverable,
		})
		if err != nil {
			return nil, apperr.UpstreamUnavailable("sandbox execution failed", err)
		}
		return &Result{
			Passed:      outcome.Passed,
			ElapsedSecs: outcome.ElapsedSecs,
			TimedOut:    outcome.TimedOut,
			ExitCode:    outcome.ExitCode,
			Stdout:      outcome.StdoutSnippet,
			Stderr:      outcome.StderrSnippet,
		}, nil

	default:
		return nil, fmt.Errorf("unreachable mode %v", mode)
	}
}
