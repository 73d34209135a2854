// Package nagios executes Nagios-convention check plugins.
//
// A check is an external executable. Exit codes 0 and 1 mean the check
// succeeded; any other exit code means the monitored target is down. Spawn
// failures and timeouts mean the result is unknown. Combined stdout+stderr
// is parsed as `text | perfdata | perfdata | ...`.
package nagios

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"
)

// DefaultTimeout is the hard per-invocation limit unless overridden.
const DefaultTimeout = 30 * time.Second

var (
	// ErrExecutableNotFound reports that the configured plugin path does
	// not exist or is not executable.
	ErrExecutableNotFound = errors.New("plugin executable not found")

	// ErrTimeout reports that the plugin was killed after exceeding its
	// deadline.
	ErrTimeout = errors.New("plugin timed out")
)

// MonitorFailedError is the normal DOWN signal: the check ran fine and
// reported the target as critical.
type MonitorFailedError struct {
	Text string
}

func (e *MonitorFailedError) Error() string {
	return fmt.Sprintf("monitor failed: %s", e.Text)
}

// Run executes a check plugin and returns its status text and perfdata
// fields. A nil error means the check succeeded (exit code 0 or 1). A
// *MonitorFailedError means any other exit code; any other error means the
// result could not be determined.
func Run(ctx context.Context, executable string, args []string, timeout time.Duration) (string, []string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, executable, args...)
	// Killing the plugin does not close its output pipe if it forked a
	// child that inherited stdout. WaitDelay bounds how long we wait for
	// that pipe after the plugin is gone.
	cmd.WaitDelay = time.Second
	out, err := cmd.CombinedOutput()
	text, perf := parseOutput(out)

	if err == nil {
		return text, perf, nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		return "", nil, ErrTimeout
	}

	if errors.Is(err, exec.ErrWaitDelay) {
		// The plugin itself exited cleanly; only a lingering child held
		// the pipe open.
		return text, perf, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == 1 {
			// Warning still counts as reachable.
			return text, perf, nil
		}
		return "", nil, &MonitorFailedError{Text: text}
	}

	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return "", nil, fmt.Errorf("%w: %s", ErrExecutableNotFound, executable)
	}
	return "", nil, fmt.Errorf("plugin io error: %w", err)
}

// parseOutput decodes plugin output as latin-1 (every byte maps to a rune, so
// arbitrary output always yields valid UTF-8) and splits text from perfdata.
func parseOutput(out []byte) (string, []string) {
	decoded, _ := charmap.ISO8859_1.NewDecoder().Bytes(out)
	parts := strings.Split(string(decoded), "|")
	text := strings.TrimSpace(parts[0])
	perf := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		perf = append(perf, strings.TrimSpace(p))
	}
	return text, perf
}
