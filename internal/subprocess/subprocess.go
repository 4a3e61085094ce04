// Package subprocess supervises external tools (yt-dlp, ffmpeg) for the
// pipeline. Children run without a shell and with stdin closed; their output
// is streamed line by line to hooks so progress reaches the task event log
// while the tool is still running.
package subprocess

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grillmaster/grillmaster/internal/errs"
)

// cancelPollInterval bounds how long a silent child can outlive a cancel
// request.
const cancelPollInterval = 200 * time.Millisecond

// stderrTailLimit is how much trailing stderr is kept for error messages.
const stderrTailLimit = 2000

// maxLineSize accommodates yt-dlp JSON dumps emitted as a single line.
const maxLineSize = 4 * 1024 * 1024

// Spec describes one child process run.
type Spec struct {
	// Path is the resolved binary path.
	Path string

	// Args are passed verbatim; no shell is involved.
	Args []string

	// Dir is the working directory, empty for the current one.
	Dir string

	// OnStdoutLine and OnStderrLine receive output lines with the \r?\n
	// terminator stripped. An unterminated tail is flushed at stream close.
	OnStdoutLine func(line string)
	OnStderrLine func(line string)

	// ShouldCancel is polled while the child runs; once it returns true the
	// child is killed and Run fails with a cancellation error.
	ShouldCancel func() bool
}

// Result carries the full captured output of a completed run.
type Result struct {
	Stdout string
	Stderr string
}

// Run executes the child described by spec and blocks until it exits.
// Cancellation, whether via ctx or ShouldCancel, kills the process hard;
// the tools involved do not checkpoint on SIGTERM, so there is nothing a
// graceful signal would save.
func Run(ctx context.Context, spec Spec) (*Result, error) {
	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Stdin = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", spec.Path, err)
	}

	var canceled atomic.Bool
	kill := func() {
		if canceled.CompareAndSwap(false, true) {
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		}
	}

	// Watchdog for children that go quiet: without it a cancel request
	// would only be noticed on the next output line.
	watchdogDone := make(chan struct{})
	var watchdogWG sync.WaitGroup
	if spec.ShouldCancel != nil {
		watchdogWG.Add(1)
		go func() {
			defer watchdogWG.Done()
			ticker := time.NewTicker(cancelPollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-watchdogDone:
					return
				case <-ticker.C:
					if spec.ShouldCancel() {
						kill()
						return
					}
				}
			}
		}()
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	var stdoutErr, stderrErr error
	var streamWG sync.WaitGroup
	streamWG.Add(2)
	go func() {
		defer streamWG.Done()
		stdoutErr = consumeStream(stdout, &stdoutBuf, spec.OnStdoutLine, spec.ShouldCancel, kill)
	}()
	go func() {
		defer streamWG.Done()
		stderrErr = consumeStream(stderr, &stderrBuf, spec.OnStderrLine, spec.ShouldCancel, kill)
	}()

	streamWG.Wait()
	waitErr := cmd.Wait()
	close(watchdogDone)
	watchdogWG.Wait()

	result := &Result{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()}

	if canceled.Load() {
		return nil, &errs.PipelineError{
			Step:      filepath.Base(spec.Path),
			Message:   fmt.Sprintf("Command canceled: %s", commandLine(spec)),
			Retryable: false,
			Err:       errs.ErrCanceled,
		}
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("running %s: %w", spec.Path, ctx.Err())
	}
	if waitErr != nil {
		return nil, fmt.Errorf("command failed: %s: %w: %s",
			commandLine(spec), waitErr, outputTail(result))
	}
	if streamErr := stdoutErr; streamErr != nil || stderrErr != nil {
		if streamErr == nil {
			streamErr = stderrErr
		}
		return nil, fmt.Errorf("reading output of %s: %w", commandLine(spec), streamErr)
	}
	return result, nil
}

// consumeStream copies r into buf while feeding complete lines to hook,
// checking for cancellation after every line.
func consumeStream(r io.Reader, buf *bytes.Buffer, hook func(string), shouldCancel func() bool, kill func()) error {
	tee := io.TeeReader(r, buf)
	scanner := bufio.NewScanner(tee)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if hook != nil {
			hook(scanner.Text())
		}
		if shouldCancel != nil && shouldCancel() {
			kill()
			// Keep draining so the child does not block on a full pipe.
		}
	}
	if err := scanner.Err(); err != nil {
		// A line over maxLineSize stops the scanner mid-stream. Drain the
		// rest so the child does not block on a full pipe, and let the
		// caller report the read failure.
		_, _ = io.Copy(io.Discard, tee)
		return err
	}
	return nil
}

// commandLine renders the command for error messages.
func commandLine(spec Spec) string {
	if len(spec.Args) == 0 {
		return spec.Path
	}
	return spec.Path + " " + strings.Join(spec.Args, " ")
}

// outputTail returns the tail of stderr, falling back to stdout for tools
// that report errors there.
func outputTail(result *Result) string {
	out := strings.TrimSpace(result.Stderr)
	if out == "" {
		out = strings.TrimSpace(result.Stdout)
	}
	if len(out) > stderrTailLimit {
		out = out[len(out)-stderrTailLimit:]
	}
	if out == "" {
		return "(no output)"
	}
	return out
}
