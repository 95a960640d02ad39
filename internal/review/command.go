package review

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// ErrTimeout is returned when a check command exceeds its timeout.
var ErrTimeout = errors.New("review command timed out")

// runCommand executes command through sh in dir and returns the exit code
// and combined output.
func runCommand(ctx context.Context, dir, command string, timeout time.Duration) (int, string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\n" + stderr.String()
	}

	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
		return -1, output, ErrTimeout
	}

	var exitErr *exec.ExitError
	if err != nil {
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), output, nil
		}
		return -1, output, err
	}
	return 0, output, nil
}
