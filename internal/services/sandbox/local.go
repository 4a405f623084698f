package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// imageRefs maps a Runtime to its pinned container image reference,
// resolved once from config at construction.
type imageRefs struct {
	Python string
	Node   string
	Bash   string
	Ruby   string
}

// LocalRunner executes script-mode verification with the host's container
// runtime (`docker` or a compatible CLI on PATH), for local development.
// Production traffic uses ManagedRunner instead.
type LocalRunner struct {
	images imageRefs
	log    *zap.Logger
}

func NewLocalRunner(pythonImage, nodeImage, bashImage, rubyImage string, log *zap.Logger) *LocalRunner {
	return &LocalRunner{
		images: imageRefs{Python: pythonImage, Node: nodeImage, Bash: bashImage, Ruby: rubyImage},
		log:    log,
	}
}

func (r *LocalRunner) imageFor(rt Runtime) (string, error) {
	switch rt {
	case RuntimePython:
		return r.images.Python, nil
	case RuntimeNode:
		return r.images.Node, nil
	case RuntimeBash:
		return r.images.Bash, nil
	case RuntimeRuby:
		return r.images.Ruby, nil
	default:
		return "", fmt.Errorf("no pinned image for runtime %q", rt)
	}
}

// Run mounts the deliverable and script read-only into a single-use
// container, invoking the platform's standard container-isolation flags.
func (r *LocalRunner) Run(ctx context.Context, req RunRequest) (*RunOutcome, error) {
	image, err := r.imageFor(req.Runtime)
	if err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "verify-*")
	if err != nil {
		return nil, fmt.Errorf("create sandbox workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	if err := os.WriteFile(filepath.Join(workDir, "result.json"), req.Deliverable, 0o444); err != nil {
		return nil, fmt.Errorf("write deliverable: %w", err)
	}
	if err := os.WriteFile(filepath.Join(workDir, "verify"), req.Script, 0o555); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = maxTimeoutSeconds * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	memLimit := req.MemoryLimitMB
	if memLimit <= 0 {
		memLimit = maxMemoryLimitMB
	}

	args := []string{
		"run", "--rm",
		"--network", "none",
		"--read-only",
		"--cap-drop", "ALL",
		"--user", fmt.Sprintf("%d:%d", defaultIsolation.RunAsUID, defaultIsolation.RunAsUID),
		"--tmpfs", fmt.Sprintf("/tmp:size=%dm", defaultIsolation.TmpfsSizeMB),
		"--memory", fmt.Sprintf("%dm", memLimit),
		"-v", filepath.Join(workDir, "result.json") + ":/input/result.json:ro",
		"-v", filepath.Join(workDir, "verify") + ":/input/verify:ro",
		image,
		"/input/verify",
	}

	cmd := exec.CommandContext(runCtx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start).Seconds()

	timedOut := runCtx.Err() == context.DeadlineExceeded
	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else if !timedOut {
			r.log.Warn("sandbox run failed to start or exec", zap.Error(runErr))
			return nil, fmt.Errorf("sandbox execution error: %w", runErr)
		}
	}

	return &RunOutcome{
		Passed:        !timedOut && exitCode == 0,
		ExitCode:      exitCode,
		TimedOut:      timedOut,
		ElapsedSecs:   elapsed,
		StdoutSnippet: truncate(stdout.Bytes(), surfacedOutputCapKB*1024),
		StderrSnippet: truncate(stderr.Bytes(), surfacedOutputCapKB*1024),
	}, nil
}
