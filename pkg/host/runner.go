// Package host is the boundary to the host operating system: running
// network-management commands locally or over SSH, and supervising the
// long-lived daemons a hotspot session owns.
package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/davytheprogrammer/hotspot-manager/pkg/util"
)

// Runner executes a command to completion and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	LookPath(ctx context.Context, name string) (string, error)
}

// CommandError is returned when a command exits unsuccessfully.
type CommandError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %v: %s", e.Command, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// LocalRunner runs commands on this machine.
type LocalRunner struct{}

// Run executes name with args and returns stdout. Stderr is attached to the
// error on failure.
func (LocalRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	util.Logger.WithField("cmd", name).Debugf("exec %s", strings.Join(args, " "))
	out, err := cmd.Output()
	if err != nil {
		return out, &CommandError{
			Command: name + " " + strings.Join(args, " "),
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
	}
	return out, nil
}

// LookPath finds an executable in PATH.
func (LocalRunner) LookPath(_ context.Context, name string) (string, error) {
	return exec.LookPath(name)
}

// IsNotFound reports whether err means the executable does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound)
}

// singleQuote wraps a string in single quotes, escaping any embedded single quotes.
func singleQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}

// commandLine renders name and args as a shell-safe command line.
func commandLine(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, singleQuote(name))
	for _, a := range args {
		parts = append(parts, singleQuote(a))
	}
	return strings.Join(parts, " ")
}
