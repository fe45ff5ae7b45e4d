package secret

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"SecureUSB/internal/crypto"
	"SecureUSB/internal/errors"

	"golang.org/x/term"
)

// Provider supplies secrets on request.
type Provider interface {
	RequestSecret(prompt string) (*Secret, error)
}

// Terminal reads secrets from a terminal without echo. When In is not a
// terminal it reads one line instead, which is how scripts pipe a passphrase.
type Terminal struct {
	In      *os.File
	Out     io.Writer // prompts; stderr by default
	Confirm bool      // ask twice and require both entries to match

	once   sync.Once
	reader *bufio.Reader
}

// NewTerminal returns a provider on stdin/stderr.
func NewTerminal(confirm bool) *Terminal {
	return &Terminal{In: os.Stdin, Out: os.Stderr, Confirm: confirm}
}

// IsTerminal returns true if In is a terminal (not piped/redirected).
func (t *Terminal) IsTerminal() bool {
	return term.IsTerminal(int(t.In.Fd()))
}

// readLine reads one secret without echo. The returned slice is owned by the
// caller and must be wiped.
func (t *Terminal) readLine(prompt string) ([]byte, error) {
	out := t.Out
	if out == nil {
		out = os.Stderr
	}
	fmt.Fprint(out, prompt)

	if !t.IsTerminal() {
		// stdin is piped; read normally
		line, err := t.Reader().ReadBytes('\n')
		if err != nil && (err != io.EOF || len(line) == 0) {
			crypto.SecureZero(line)
			return nil, errors.NewFileError("read", "stdin", err)
		}
		return trimEOL(line), nil
	}

	// Terminal mode: disable echo
	pw, err := term.ReadPassword(int(t.In.Fd()))
	fmt.Fprintln(out) // newline after hidden input
	if err != nil {
		return nil, errors.NewFileError("read", "terminal", err)
	}
	return pw, nil
}

// RequestSecret prompts for a secret. Empty input and a failed confirmation
// are input errors.
func (t *Terminal) RequestSecret(prompt string) (*Secret, error) {
	return t.request(prompt, t.Confirm)
}

// Confirming returns a provider that shares t's input and always asks for
// confirmation.
func (t *Terminal) Confirming() Provider {
	return confirming{t}
}

type confirming struct{ t *Terminal }

func (c confirming) RequestSecret(prompt string) (*Secret, error) {
	return c.t.request(prompt, true)
}

// Reader returns the buffered reader for non-secret lines. Piped secrets are
// read from the same buffer, so both kinds of input stay in order.
func (t *Terminal) Reader() *bufio.Reader {
	t.once.Do(func() { t.reader = bufio.NewReader(t.In) })
	return t.reader
}

func (t *Terminal) request(prompt string, confirm bool) (*Secret, error) {
	pw, err := t.readLine(prompt)
	if err != nil {
		return nil, err
	}
	if len(pw) == 0 {
		return nil, errors.ErrPasswordEmpty
	}

	if confirm {
		again, err := t.readLine("Confirm " + lowerFirst(prompt))
		if err != nil {
			crypto.SecureZero(pw)
			return nil, err
		}
		match := bytes.Equal(pw, again)
		crypto.SecureZero(again)
		if !match {
			crypto.SecureZero(pw)
			return nil, errors.ErrPasswordMismatch
		}
	}

	return New(pw)
}

// Static hands out fixed secrets in order, then repeats the last one.
// It is meant for tests and non-interactive callers.
type Static struct {
	mu      sync.Mutex
	secrets [][]byte
	asked   []string
}

// NewStatic returns a provider answering with values.
func NewStatic(values ...string) *Static {
	s := &Static{}
	for _, v := range values {
		s.secrets = append(s.secrets, []byte(v))
	}
	return s
}

// RequestSecret returns the next configured value.
func (s *Static) RequestSecret(prompt string) (*Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asked = append(s.asked, prompt)
	if len(s.secrets) == 0 {
		return nil, errors.ErrPasswordEmpty
	}
	v := s.secrets[0]
	if len(s.secrets) > 1 {
		s.secrets = s.secrets[1:]
	}
	return New(append([]byte(nil), v...))
}

// Prompts returns the prompts seen so far.
func (s *Static) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.asked...)
}

func trimEOL(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte("\n"))
	return bytes.TrimSuffix(b, []byte("\r"))
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	c := s[0]
	if c >= 'A' && c <= 'Z' {
		c += 'a' - 'A'
	}
	return string(c) + s[1:]
}
