package review

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/issuebot/issuebot/internal/logging"
)

const (
	// DefaultTimeout bounds a whole reviewer invocation.
	DefaultTimeout = 30 * time.Minute

	// gracePeriod is how long a signalled process gets to exit before the
	// hard kill.
	gracePeriod = 5 * time.Second

	// probeTimeout bounds the availability probe.
	probeTimeout = 10 * time.Second

	// maxOutputBytes caps how much reviewer output is read.
	maxOutputBytes = 8 * 1024 * 1024
)

// Options carries per-invocation inputs.
type Options struct {
	Prompt  string
	Workdir string
	Env     []string // appended to the inherited environment
}

// RunResult is one reviewer invocation: the recomputed verdict, the raw
// verdict JSON for persistence, and usage metadata when the tool reports it.
type RunResult struct {
	Verdict      *Verdict
	Raw          string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Runner executes the configured reviewer command.
type Runner struct {
	Command []string
	Model   string
	Timeout time.Duration

	logger *slog.Logger
}

// NewRunner creates a Runner for the given argv prefix. The prompt is
// appended per invocation.
func NewRunner(command []string, model string, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{
		Command: command,
		Model:   model,
		Timeout: timeout,
		logger:  logging.WithComponent("review"),
	}
}

// Probe checks that the reviewer binary exists and answers a version query.
func (r *Runner) Probe(ctx context.Context) error {
	if len(r.Command) == 0 {
		return fmt.Errorf("%w: command is not configured", ErrReviewerUnavailable)
	}
	if _, err := exec.LookPath(r.Command[0]); err != nil {
		return fmt.Errorf("%w: %v", ErrReviewerUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.Command[0], "--version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: probe failed: %v", ErrReviewerUnavailable, err)
	}
	return nil
}

// Run invokes the reviewer and extracts its verdict. Output before or after
// the verdict object is tolerated. A tool that exits non-zero after emitting
// a complete verdict still counts; without a verdict the error is returned.
func (r *Runner) Run(ctx context.Context, opts Options) (*RunResult, error) {
	if len(r.Command) == 0 {
		return nil, fmt.Errorf("%w: command is not configured", ErrReviewerUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	args := append([]string{}, r.Command[1:]...)
	args = append(args, opts.Prompt)
	if r.Model != "" {
		args = append(args, "--model", r.Model)
	}

	cmd := exec.CommandContext(ctx, r.Command[0], args...)
	cmd.Dir = opts.Workdir
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.WaitDelay = gracePeriod
	cmd.Cancel = func() error {
		r.logger.Warn("Context cancelled, signalling reviewer",
			slog.Int("pid", cmd.Process.Pid),
			slog.Duration("grace_period", gracePeriod),
		)
		return cmd.Process.Signal(syscall.SIGTERM)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	var stderrTail strings.Builder
	cmd.Stderr = &stderrTail

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start reviewer: %w", err)
	}
	r.logger.Debug("Reviewer started",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("workdir", opts.Workdir),
	)

	data, readErr := io.ReadAll(io.LimitReader(stdout, maxOutputBytes))
	waitErr := cmd.Wait()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read reviewer output: %w", readErr)
	}

	verdict, raw, extractErr := extractVerdict(data)
	if extractErr != nil {
		if waitErr != nil {
			tail := strings.TrimSpace(stderrTail.String())
			return nil, fmt.Errorf("reviewer failed: %v: %s", waitErr, tail)
		}
		return nil, extractErr
	}
	if waitErr != nil {
		r.logger.Warn("Reviewer exited non-zero after emitting a verdict",
			slog.String("error", waitErr.Error()),
		)
	}

	result := &RunResult{Verdict: verdict, Raw: raw, Model: r.Model}
	var aux struct {
		Model string `json:"model"`
		Usage *struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal([]byte(raw), &aux); err == nil {
		if aux.Model != "" {
			result.Model = aux.Model
		}
		if aux.Usage != nil {
			result.InputTokens = aux.Usage.InputTokens
			result.OutputTokens = aux.Usage.OutputTokens
		}
	}

	r.logger.Info("Review finished",
		slog.Bool("passed", verdict.Passed),
		slog.Int("findings", len(verdict.Findings)),
		slog.String("model", result.Model),
	)
	return result, nil
}

// extractVerdict locates the first JSON object in the output that looks
// like a verdict and parses it. Surrounding prose is skipped.
func extractVerdict(data []byte) (*Verdict, string, error) {
	for i := 0; i < len(data); i++ {
		if data[i] != '{' {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(data[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			continue
		}

		var probe map[string]json.RawMessage
		if err := json.Unmarshal(raw, &probe); err != nil {
			continue
		}
		if _, ok := probe["summary"]; !ok {
			if _, ok := probe["passed"]; !ok {
				continue
			}
		}

		v, err := ParseVerdict(raw)
		if err != nil {
			continue
		}
		return v, string(raw), nil
	}
	return nil, "", ErrNoVerdict
}
