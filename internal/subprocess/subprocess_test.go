package subprocess

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grillmaster/grillmaster/internal/errs"
)

// writeScript creates an executable shell script to stand in for yt-dlp or
// ffmpeg in tests.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stub.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("captures output and feeds line hooks", func(t *testing.T) {
		script := writeScript(t, `
printf 'line one\n'
printf 'line two\r\n'
printf 'err line\n' >&2
printf 'tail without newline'
`)

		var stdoutLines, stderrLines []string
		result, err := Run(ctx, Spec{
			Path:         script,
			OnStdoutLine: func(line string) { stdoutLines = append(stdoutLines, line) },
			OnStderrLine: func(line string) { stderrLines = append(stderrLines, line) },
		})
		require.NoError(t, err)

		// CRLF is stripped and the unterminated tail is flushed.
		assert.Equal(t, []string{"line one", "line two", "tail without newline"}, stdoutLines)
		assert.Equal(t, []string{"err line"}, stderrLines)
		assert.Contains(t, result.Stdout, "line one\n")
		assert.Contains(t, result.Stderr, "err line")
	})

	t.Run("runs in the given directory", func(t *testing.T) {
		dir := t.TempDir()
		script := writeScript(t, "pwd\n")

		result, err := Run(ctx, Spec{Path: script, Dir: dir})
		require.NoError(t, err)
		assert.Contains(t, result.Stdout, filepath.Base(dir))
	})

	t.Run("nonzero exit reports command and stderr tail", func(t *testing.T) {
		script := writeScript(t, `
printf 'something went wrong\n' >&2
exit 3
`)

		_, err := Run(ctx, Spec{Path: script, Args: []string{"--flag"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), script)
		assert.Contains(t, err.Error(), "--flag")
		assert.Contains(t, err.Error(), "something went wrong")
	})

	t.Run("stderr tail falls back to stdout", func(t *testing.T) {
		script := writeScript(t, `
printf 'error on stdout\n'
exit 1
`)

		_, err := Run(ctx, Spec{Path: script})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error on stdout")
	})

	t.Run("oversized line does not block the child", func(t *testing.T) {
		// One line over the scanner limit, then more output than a pipe
		// buffer holds. Run must drain the stream, let the child exit, and
		// report the read failure instead of hanging on Wait.
		script := writeScript(t, `
head -c 5000000 /dev/zero | tr '\0' 'a'
echo
head -c 200000 /dev/zero | tr '\0' 'b'
echo
echo done
`)

		start := time.Now()
		_, err := Run(ctx, Spec{
			Path:         script,
			OnStdoutLine: func(string) {},
		})
		require.Error(t, err)
		assert.Less(t, time.Since(start), 10*time.Second, "oversized output must not deadlock Run")
		assert.Contains(t, err.Error(), "reading output")
		assert.ErrorIs(t, err, bufio.ErrTooLong)
	})

	t.Run("spawn failure is wrapped", func(t *testing.T) {
		_, err := Run(ctx, Spec{Path: "/nonexistent/dir/yt-dlp"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "starting")
	})

	t.Run("ShouldCancel kills the child", func(t *testing.T) {
		script := writeScript(t, `
printf 'started\n'
sleep 30
`)

		var sawOutput atomic.Bool
		start := time.Now()
		_, err := Run(ctx, Spec{
			Path:         script,
			OnStdoutLine: func(string) { sawOutput.Store(true) },
			ShouldCancel: func() bool { return sawOutput.Load() },
		})
		require.Error(t, err)
		assert.Less(t, time.Since(start), 10*time.Second, "kill must not wait for the sleep")

		var pe *errs.PipelineError
		require.ErrorAs(t, err, &pe)
		assert.False(t, pe.Retryable)
		assert.Contains(t, pe.Message, "Command canceled:")
		assert.True(t, errs.IsCanceled(err))
	})

	t.Run("ShouldCancel is polled without output", func(t *testing.T) {
		script := writeScript(t, "sleep 30\n")

		start := time.Now()
		_, err := Run(ctx, Spec{
			Path:         script,
			ShouldCancel: func() bool { return true },
		})
		require.Error(t, err)
		assert.Less(t, time.Since(start), 10*time.Second)
		assert.True(t, errs.IsCanceled(err))
	})

	t.Run("context cancellation stops the child", func(t *testing.T) {
		script := writeScript(t, "sleep 30\n")

		cancelCtx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(100 * time.Millisecond)
			cancel()
		}()

		start := time.Now()
		_, err := Run(cancelCtx, Spec{Path: script})
		require.Error(t, err)
		assert.Less(t, time.Since(start), 10*time.Second)
	})
}
