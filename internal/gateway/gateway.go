package gateway

import (
	"context"
	"strings"
	"sync"
	"time"

	"SecureUSB/internal/crypto"
	"SecureUSB/internal/errors"
	"SecureUSB/internal/log"
)

// DefaultTimeout bounds a single external command.
const DefaultTimeout = 2 * time.Minute

// Elevation selects how privileged commands are run.
type Elevation string

const (
	// ElevateSudo prefixes privileged commands with sudo.
	ElevateSudo Elevation = "sudo"
	// ElevateNone runs privileged commands directly (the caller is root).
	ElevateNone Elevation = "none"
)

// ParseElevation validates a configuration value.
func ParseElevation(s string) (Elevation, error) {
	switch Elevation(strings.ToLower(s)) {
	case ElevateSudo:
		return ElevateSudo, nil
	case ElevateNone, "":
		return ElevateNone, nil
	}
	return "", errors.Input("elevation must be \"sudo\" or \"none\"")
}

// Credential yields secret bytes for the duration of a callback.
// secret.Secret implements it.
type Credential interface {
	Use(fn func(b []byte) error) error
}

// Forgetter is implemented by a Credential that caches its secret. The
// gateway calls Forget when sudo rejects the password.
type Forgetter interface {
	Forget()
}

// Command is one invocation request.
type Command struct {
	Name       string
	Args       []string
	Secrets    [][]byte // Written to stdin in order, each newline-terminated
	Privileged bool
}

// Gateway runs commands through a Runner, adding privilege elevation and a
// per-command timeout.
type Gateway struct {
	runner    Runner
	starter   Starter
	elevation Elevation
	password  Credential
	timeout   time.Duration
	logger    log.Logger

	sudoChecked    sync.Once
	passwordless bool // sudo -n works, so no password line is sent
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithElevation sets the elevation mode and the password fed to sudo.
// A nil password makes sudo run non-interactively (-n), so it fails instead
// of reading a volume passphrase as its own password. The password is also
// skipped when sudo needs none.
func WithElevation(mode Elevation, password Credential) Option {
	return func(g *Gateway) {
		g.elevation = mode
		g.password = password
	}
}

// WithTimeout sets the per-command timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithStarter sets the launcher used for unprivileged background programs.
func WithStarter(s Starter) Option {
	return func(g *Gateway) { g.starter = s }
}

// New creates a Gateway. Without options it runs commands directly with the
// default timeout.
func New(runner Runner, opts ...Option) *Gateway {
	g := &Gateway{
		runner:    runner,
		elevation: ElevateNone,
		timeout:   DefaultTimeout,
		logger:    log.With(log.String("component", "gateway")),
	}
	if s, ok := runner.(Starter); ok {
		g.starter = s
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Invoke runs cmd and returns its raw result. The error is non-nil only when
// the command could not run to completion (start failure, timeout, missing
// elevation password); it is always a ProcessError or an authentication
// error. Classify the result for everything else. No retries are made.
func (g *Gateway) Invoke(ctx context.Context, cmd Command) (Result, error) {
	name, args := cmd.Name, cmd.Args
	var stdin []byte
	defer func() { crypto.SecureZero(stdin) }()

	elevate := cmd.Privileged && g.elevation == ElevateSudo
	interactive := elevate && g.password != nil && !g.sudoPasswordless(ctx)
	if elevate {
		prefix := []string{"-S", "-k", "-p", "", "--"}
		if !interactive {
			prefix = []string{"-n", "--"}
		}
		args = append(append(prefix, name), args...)
		name = "sudo"
	}

	// sudo reads its password line first; the target command gets the rest.
	if interactive {
		err := g.password.Use(func(pw []byte) error {
			stdin = buildStdin(pw, cmd.Secrets)
			return nil
		})
		if err != nil {
			return Result{Command: cmd.Name, ExitCode: -1}, errors.Wrap(errors.ErrAuthentication, "elevation password unavailable")
		}
	} else {
		stdin = buildStdin(nil, cmd.Secrets)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := g.runner.Run(ctx, name, args, stdin)
	res.Command = cmd.Name

	// argv carries no secrets, so it is safe to log
	fields := []log.Field{
		log.String("cmd", cmd.Name),
		log.String("args", strings.Join(cmd.Args, " ")),
		log.Int("exit_code", res.ExitCode),
		log.Duration("duration", time.Since(start)),
	}
	if err != nil {
		g.logger.Warn("command did not complete", append(fields, log.Err(err))...)
		return res, errors.NewProcessError(cmd.Name, res.ExitCode, res.Detail(), err)
	}
	outcome := Classify(res)
	if interactive && outcome == ElevationFailed {
		if f, ok := g.password.(Forgetter); ok {
			f.Forget()
		}
	}
	g.logger.Debug("command finished", append(fields, log.Stringer("outcome", outcome))...)
	return res, nil
}

// sudoPasswordless reports whether sudo runs without a password, checked
// once with "sudo -n true". With NOPASSWD rules sudo -S reads nothing from
// stdin, and the password line would reach the target command instead.
func (g *Gateway) sudoPasswordless(ctx context.Context) bool {
	g.sudoChecked.Do(func() {
		if g.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		res, err := g.runner.Run(ctx, "sudo", []string{"-n", "true"}, nil)
		g.passwordless = err == nil && res.ExitCode == 0
		g.logger.Debug("sudo checked", log.Bool("passwordless", g.passwordless))
	})
	return g.passwordless
}

// Launch starts an unprivileged program without waiting for it.
func (g *Gateway) Launch(ctx context.Context, name string, args ...string) error {
	if g.starter == nil {
		return errors.NewProcessError(name, -1, "no launcher configured", nil)
	}
	if err := g.starter.Start(ctx, name, args); err != nil {
		return errors.NewProcessError(name, -1, "", err)
	}
	g.logger.Debug("launched", log.String("cmd", name))
	return nil
}

// buildStdin joins the lines in one exactly sized buffer, so no partial copy
// of a secret is left behind by slice growth.
func buildStdin(first []byte, rest [][]byte) []byte {
	n := 0
	if first != nil {
		n += len(first) + 1
	}
	for _, s := range rest {
		n += len(s) + 1
	}
	buf := make([]byte, 0, n)
	if first != nil {
		buf = append(append(buf, first...), '\n')
	}
	for _, s := range rest {
		buf = append(append(buf, s...), '\n')
	}
	return buf
}
