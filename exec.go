package wbdclip

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ExitError carries the stderr output of a failed external tool
type ExitError struct {
	Command string
	Stderr  string
	Err     error
}

func (err *ExitError) Error() string {
	msg := strings.TrimSpace(err.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s: %v", err.Command, err.Err)
	}
	return fmt.Sprintf("%s: %v: %s", err.Command, err.Err, msg)
}

func (err *ExitError) Unwrap() error {
	return err.Err
}

// Runner runs an external command and returns its stdout
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &ExitError{Command: name, Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}
