// Package gateway invokes the privileged OS commands that own the encrypted
// volume (cryptsetup, dmsetup, mount, umount, rm) and classifies their
// results.
//
// Secrets only ever travel through the child's standard input, one per line.
// They are never placed in argv, where other processes can read them.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Result is the raw outcome of one external command.
type Result struct {
	Command  string // Program name without elevation prefix, e.g. "cryptsetup"
	ExitCode int
	Stdout   string
	Stderr   string
}

// Detail returns the first non-empty diagnostic line, preferring stderr.
func (r Result) Detail() string {
	for _, out := range []string{r.Stderr, r.Stdout} {
		for _, line := range strings.Split(out, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				return line
			}
		}
	}
	return ""
}

// Runner executes a program and waits for it to exit.
//
// A non-zero exit status is reported through Result.ExitCode with a nil
// error. The error is reserved for programs that could not be started or
// were stopped by ctx.
type Runner interface {
	Run(ctx context.Context, name string, args []string, stdin []byte) (Result, error)
}

// Starter launches a program without waiting for it, for GUI helpers such as
// a file viewer.
type Starter interface {
	Start(ctx context.Context, name string, args []string) error
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Env is appended to the current environment. LC_ALL=C is always set so
	// diagnostics can be matched by substring.
	Env []string
}

// Run implements Runner.
func (e *ExecRunner) Run(ctx context.Context, name string, args []string, stdin []byte) (Result, error) {
	res := Result{Command: name}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(append(os.Environ(), e.Env...), "LC_ALL=C")
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		res.ExitCode = -1
		return res, err
	}
	return res, nil
}

// Start implements Starter. The child is reaped in the background.
func (e *ExecRunner) Start(ctx context.Context, name string, args []string) error {
	cmd := exec.Command(name, args...)
	cmd.Env = append(os.Environ(), e.Env...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
