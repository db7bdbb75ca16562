// Package codegen invokes the code-generation tool as a subprocess and
// captures its streamed JSON output. The stream is line-delimited JSON; the
// first line with type "result" carries the final output, the model name,
// and token counts. Garbage lines are tolerated and discarded.
package codegen

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/issuebot/issuebot/internal/logging"
)

const (
	// DefaultTimeout bounds a whole tool invocation.
	DefaultTimeout = 30 * time.Minute

	// gracePeriod is how long a signalled process gets to exit before the
	// hard kill.
	gracePeriod = 5 * time.Second

	// defaultHeartbeatTimeout is how long the stream may stay silent before
	// the process is considered hung.
	defaultHeartbeatTimeout = 5 * time.Minute

	// defaultHeartbeatInterval is how often silence is checked.
	defaultHeartbeatInterval = 30 * time.Second

	// probeTimeout bounds the availability probe.
	probeTimeout = 10 * time.Second

	// maxLineBytes is the scanner buffer ceiling for single stream lines.
	maxLineBytes = 1024 * 1024
)

// Options carries per-invocation inputs.
type Options struct {
	Prompt  string
	Workdir string
	Env     []string // appended to the inherited environment
}

// Result is the parsed outcome of one tool invocation. Success is false
// when the process failed, reported an error result, or never produced a
// result line; the workflow treats that as a failed iteration, not a fatal
// error.
type Result struct {
	Output       string
	Model        string
	InputTokens  int64
	OutputTokens int64
	Success      bool
	Error        string
}

// Runner executes the configured code-generation command.
type Runner struct {
	Command           []string
	Model             string
	Timeout           time.Duration
	HeartbeatTimeout  time.Duration
	HeartbeatInterval time.Duration

	logger *slog.Logger
}

// NewRunner creates a Runner for the given argv prefix. The prompt and
// stream flags are appended per invocation.
func NewRunner(command []string, model string, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{
		Command:           command,
		Model:             model,
		Timeout:           timeout,
		HeartbeatTimeout:  defaultHeartbeatTimeout,
		HeartbeatInterval: defaultHeartbeatInterval,
		logger:            logging.WithComponent("codegen"),
	}
}

// Probe checks that the tool binary exists and answers a version query.
func (r *Runner) Probe(ctx context.Context) error {
	if len(r.Command) == 0 {
		return fmt.Errorf("codegen command is not configured")
	}
	if _, err := exec.LookPath(r.Command[0]); err != nil {
		return fmt.Errorf("codegen tool not found: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.Command[0], "--version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("codegen tool probe failed: %w", err)
	}
	return nil
}

// Run invokes the tool and parses its stream. The returned error covers
// setup problems only; tool-level failures are reported through Result.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	if len(r.Command) == 0 {
		return nil, fmt.Errorf("codegen command is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	args := append([]string{}, r.Command[1:]...)
	args = append(args, opts.Prompt, "--output-format", "stream-json", "--verbose")
	if r.Model != "" {
		args = append(args, "--model", r.Model)
	}

	cmd := exec.CommandContext(ctx, r.Command[0], args...)
	cmd.Dir = opts.Workdir
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.WaitDelay = gracePeriod
	cmd.Cancel = func() error {
		r.logger.Warn("Context cancelled, signalling tool",
			slog.Int("pid", cmd.Process.Pid),
			slog.Duration("grace_period", gracePeriod),
		)
		return cmd.Process.Signal(syscall.SIGTERM)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start codegen tool: %w", err)
	}
	r.logger.Debug("Codegen tool started",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("workdir", opts.Workdir),
	)

	result := &Result{}
	resultSeen := false

	var lastEventAt atomic.Int64
	lastEventAt.Store(time.Now().UnixNano())

	cmdDone := make(chan struct{})
	go r.watchHeartbeat(cmd, cmdDone, &lastEventAt)

	var wg sync.WaitGroup
	var stderrTail strings.Builder

	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, maxLineBytes)

		for scanner.Scan() {
			lastEventAt.Store(time.Now().UnixNano())

			ev, ok := parseResultLine(scanner.Text())
			if !ok || resultSeen {
				continue
			}
			resultSeen = true
			if ev.IsError {
				result.Error = ev.Result
			} else {
				result.Output = ev.Result
			}
			result.Model = ev.Model
			if ev.Usage != nil {
				result.InputTokens = ev.Usage.InputTokens
				result.OutputTokens = ev.Usage.OutputTokens
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			stderrTail.WriteString(scanner.Text())
			stderrTail.WriteString("\n")
		}
	}()

	wg.Wait()
	waitErr := cmd.Wait()
	close(cmdDone)

	switch {
	case waitErr != nil:
		result.Success = false
		if result.Error == "" {
			result.Error = waitErr.Error()
			if tail := strings.TrimSpace(stderrTail.String()); tail != "" {
				result.Error += ": " + tail
			}
		}
	case !resultSeen:
		result.Success = false
		result.Error = "tool produced no result line"
	case result.Error != "":
		result.Success = false
	default:
		result.Success = true
	}

	r.logger.Info("Codegen tool finished",
		slog.Bool("success", result.Success),
		slog.String("model", result.Model),
		slog.Int64("input_tokens", result.InputTokens),
		slog.Int64("output_tokens", result.OutputTokens),
	)
	return result, nil
}

// watchHeartbeat kills the process when the stream stays silent past the
// heartbeat timeout.
func (r *Runner) watchHeartbeat(cmd *exec.Cmd, cmdDone <-chan struct{}, lastEventAt *atomic.Int64) {
	ticker := time.NewTicker(r.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cmdDone:
			return
		case <-ticker.C:
			age := time.Since(time.Unix(0, lastEventAt.Load()))
			if age <= r.HeartbeatTimeout {
				continue
			}
			r.logger.Warn("Heartbeat timeout, killing hung tool",
				slog.Int("pid", cmd.Process.Pid),
				slog.Duration("last_event_age", age),
			)
			if err := cmd.Process.Kill(); err != nil {
				r.logger.Error("Failed to kill hung tool",
					slog.Int("pid", cmd.Process.Pid),
					slog.String("error", err.Error()),
				)
			}
			return
		}
	}
}
