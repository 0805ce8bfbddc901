// Package exec runs post-deployment commands on the local machine behind an
// interface that tests can replace.
package exec

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	qerrors "github.com/systmms/quickmanage/internal/errors"
)

// CommandExecutor runs one program and captures its output
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)
}

// RealCommandExecutor runs programs with os/exec
type RealCommandExecutor struct{}

// Execute runs name with args and waits for it to exit
func (r *RealCommandExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// DefaultExecutor returns the os/exec backed executor
func DefaultExecutor() CommandExecutor {
	return &RealCommandExecutor{}
}

// ExitCode extracts the exit status from an Execute error, or -1 when the
// program never ran
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Shell runs command through "sh -c". A failed command is reported as a
// CommandError carrying the exit code and trimmed stderr.
func Shell(ctx context.Context, executor CommandExecutor, command string) ([]byte, error) {
	stdout, stderr, err := executor.Execute(ctx, "sh", "-c", command)
	if err == nil {
		return stdout, nil
	}

	message := strings.TrimSpace(string(stderr))
	if message == "" {
		message = err.Error()
	}
	return stdout, qerrors.CommandError{
		Command:  command,
		ExitCode: ExitCode(err),
		Message:  message,
	}
}
