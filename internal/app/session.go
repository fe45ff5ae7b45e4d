package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"SecureUSB/internal/crypto"
	"SecureUSB/internal/envelope"
	"SecureUSB/internal/errors"
	"SecureUSB/internal/log"
	"SecureUSB/internal/secret"
	"SecureUSB/internal/vault"
	"SecureUSB/internal/viewer"
	"SecureUSB/internal/volume"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// Volume is the lifecycle surface a session needs. *volume.Controller
// implements it.
type Volume interface {
	Unlock(ctx context.Context, passphrase []byte) error
	Unmount(ctx context.Context) error
	ChangePassphrase(ctx context.Context, old, newPass []byte) error
	VerifyPassphrase(ctx context.Context, passphrase []byte) error
	Handle() volume.Handle
}

// Store is the file surface a session needs. *vault.Vault implements it.
type Store interface {
	List() ([]vault.Entry, error)
	PutFiles(ctx context.Context, src afero.Fs, paths []string) ([]string, error)
	Get(name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
	Rekey(ctx context.Context, newPass []byte) error
	Close() error
}

// Opener opens the store of a mounted volume with the envelope passphrase.
type Opener func(passphrase []byte) (Store, error)

// Shower exposes plaintext to a viewer. *viewer.Viewer implements it.
type Shower interface {
	Show(ctx context.Context, name string, data []byte) (*viewer.Exposure, error)
	Close() error
}

// Session is one interactive run over a volume.
type Session struct {
	Volume     Volume
	Open       Opener
	Viewer     Shower
	Secrets    secret.Provider // current passphrase
	NewSecrets secret.Provider // new passphrase, normally with confirmation; Secrets if nil
	Files      afero.Fs        // import source; the OS filesystem if nil
	In         io.Reader       // menu input; a *bufio.Reader is used as is
	Out        io.Writer
	Now        func() time.Time

	state    *State
	reporter *Reporter
	store    Store
	input    *bufio.Reader
	want     chan struct{}
	lines    chan string
	done     chan struct{}
	eof      bool
	logger   log.Logger
}

var errExit = errors.New("exit")

func (s *Session) init() {
	if s.Files == nil {
		s.Files = afero.NewOsFs()
	}
	if s.NewSecrets == nil {
		s.NewSecrets = s.Secrets
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	s.state = NewState()
	s.reporter = NewReporter(s.Out)
	if br, ok := s.In.(*bufio.Reader); ok {
		s.input = br
	} else {
		s.input = bufio.NewReader(s.In)
	}
	s.want = make(chan struct{})
	s.lines = make(chan string)
	s.done = make(chan struct{})
	s.logger = log.With(log.String("component", "session"))
}

// State returns the session state. It is nil before Run.
func (s *Session) State() *State {
	return s.state
}

// Run unlocks the volume and serves the menu until the user exits, input
// ends or ctx is cancelled. The volume is locked again before Run returns.
// A cancelled context is reported as ctx.Err().
func (s *Session) Run(ctx context.Context) (err error) {
	s.init()

	pass, err := s.Secrets.RequestSecret("Passphrase: ")
	if err != nil {
		return err
	}
	err = pass.Use(func(b []byte) error { return s.unlock(ctx, b) })
	pass.Destroy()
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, s.teardown(context.WithoutCancel(ctx)))
	}()

	defer close(s.done)
	go s.readLines()
	for {
		s.reporter.Printf("\n[%s]", s.state.Snapshot(s.Now()))
		s.reporter.Printf("1) list  2) import  3) open  4) delete  5) change passphrase  6) exit")
		line, ok := s.ask(ctx, "> ")
		if !ok {
			return ctx.Err()
		}

		err := s.dispatch(ctx, line)
		switch {
		case errors.Is(err, errExit):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			s.reporter.Error(err)
			if s.store == nil {
				// the volume could not be brought back after a failed rotation
				return err
			}
		}
	}
}

// readLines reads one line per request on s.want. Input is only consumed
// when the menu asks for it, so passphrase prompts can read the same input.
func (s *Session) readLines() {
	defer close(s.lines)
	for {
		select {
		case <-s.want:
		case <-s.done:
			return
		}
		line, err := s.input.ReadString('\n')
		if err != nil && line == "" {
			return
		}
		select {
		case s.lines <- line:
		case <-s.done:
			return
		}
	}
}

// ask prompts and waits for one line. It reports false on end of input or
// cancellation.
func (s *Session) ask(ctx context.Context, prompt string) (string, bool) {
	if s.eof {
		return "", false
	}
	s.reporter.Prompt(prompt)
	select {
	case s.want <- struct{}{}:
	case <-ctx.Done():
		s.reporter.Printf("")
		return "", false
	}
	select {
	case line, ok := <-s.lines:
		if !ok {
			s.eof = true
			s.reporter.Printf("")
		}
		return strings.TrimSpace(line), ok
	case <-ctx.Done():
		s.reporter.Printf("")
		return "", false
	}
}

func (s *Session) unlock(ctx context.Context, passphrase []byte) error {
	if err := s.Volume.Unlock(ctx, passphrase); err != nil {
		return err
	}
	store, err := s.Open(passphrase)
	if err != nil {
		return multierr.Append(err, s.Volume.Unmount(ctx))
	}
	s.store = store
	s.state.SetUnlocked(s.Volume.Handle(), s.Now())
	s.logger.Info("session started", log.String("mount", s.Volume.Handle().MountPath))
	return nil
}

func (s *Session) teardown(ctx context.Context) error {
	var err error
	if s.Viewer != nil {
		multierr.AppendInto(&err, s.Viewer.Close())
	}
	if s.store != nil {
		multierr.AppendInto(&err, s.store.Close())
		s.store = nil
	}
	multierr.AppendInto(&err, s.Volume.Unmount(ctx))
	s.state.SetLocked(s.Volume.Handle())
	if err == nil {
		s.reporter.Printf("Volume locked.")
	}
	s.logger.Info("session ended", log.Err(err))
	return err
}

func (s *Session) dispatch(ctx context.Context, line string) error {
	switch strings.ToLower(line) {
	case "":
		return nil
	case "1", "list", "ls":
		return s.list()
	case "2", "import", "put":
		path, ok := s.ask(ctx, "File to import: ")
		if !ok || path == "" {
			return nil
		}
		return s.importFiles(ctx, path)
	case "3", "open", "view":
		name, ok := s.ask(ctx, "File to open: ")
		if !ok || name == "" {
			return nil
		}
		return s.open(ctx, name)
	case "4", "delete", "rm":
		name, ok := s.ask(ctx, "File to delete: ")
		if !ok || name == "" {
			return nil
		}
		answer, ok := s.ask(ctx, fmt.Sprintf("Delete %s? [y/N]: ", name))
		if !ok || !isYes(answer) {
			s.reporter.Printf("Cancelled.")
			return nil
		}
		return s.delete(ctx, name)
	case "5", "passwd", "change":
		return s.changePassphrase(ctx)
	case "6", "exit", "quit", "q":
		return errExit
	}
	return errors.Input(fmt.Sprintf("unknown choice %q", line))
}

func (s *Session) list() error {
	entries, err := s.store.List()
	if err != nil {
		return err
	}
	s.state.SetFiles(len(entries))
	s.reporter.Entries(entries)
	return nil
}

func (s *Session) importFiles(ctx context.Context, pattern string) error {
	paths, err := afero.Glob(s.Files, pattern)
	if err != nil {
		return errors.Input(fmt.Sprintf("bad pattern %q", pattern))
	}
	if len(paths) == 0 {
		return errors.NewFileError("import", pattern, errors.New("no such file"))
	}

	stored, err := s.store.PutFiles(ctx, s.Files, paths)
	s.state.AddImported(len(stored))
	for _, name := range stored {
		if orig, err := envelope.OriginalName(name); err == nil {
			name = orig
		}
		s.reporter.Printf("Imported %s", name)
	}
	return err
}

func (s *Session) open(ctx context.Context, name string) error {
	data, err := s.store.Get(name)
	if err != nil {
		return err
	}
	defer crypto.SecureZero(data)

	if s.Viewer == nil {
		return errors.Input("no viewer configured")
	}
	if _, err := s.Viewer.Show(ctx, filepath.Base(name), data); err != nil {
		return err
	}
	s.state.AddOpened()
	s.reporter.Printf("Opened %s; the plaintext copy is removed shortly.", name)
	return nil
}

func (s *Session) delete(ctx context.Context, name string) error {
	if err := s.store.Delete(ctx, name); err != nil {
		return err
	}
	s.reporter.Printf("Deleted %s", name)
	return nil
}

func (s *Session) changePassphrase(ctx context.Context) error {
	old, err := s.Secrets.RequestSecret("Current passphrase: ")
	if err != nil {
		return err
	}
	defer old.Destroy()
	newPass, err := s.NewSecrets.RequestSecret("New passphrase: ")
	if err != nil {
		return err
	}
	defer newPass.Destroy()

	return old.Use(func(o []byte) error {
		return newPass.Use(func(n []byte) error {
			return s.rotate(ctx, o, n)
		})
	})
}

// rotate checks old against the key slot, then locks the volume, changes its
// key slot, unlocks it again and re-encrypts the vault under the new
// passphrase. If the key change fails the volume is unlocked with the old
// passphrase. s.store is nil afterwards only when the volume could not be
// unlocked again.
func (s *Session) rotate(ctx context.Context, old, newPass []byte) error {
	if err := volume.CheckPassphrase(old, newPass, 0); err != nil {
		return err
	}
	// the volume stays open when the current passphrase is mistyped
	if err := s.Volume.VerifyPassphrase(ctx, old); err != nil {
		return err
	}

	if err := s.store.Close(); err != nil {
		return err
	}
	s.store = nil

	if err := s.Volume.Unmount(ctx); err != nil {
		return multierr.Append(err, s.reopen(ctx, old))
	}
	s.state.SetLocked(s.Volume.Handle())

	rotErr := s.Volume.ChangePassphrase(ctx, old, newPass)
	unlockWith := newPass
	if rotErr != nil {
		unlockWith = old
	}
	if err := s.Volume.Unlock(ctx, unlockWith); err != nil {
		return multierr.Append(rotErr, err)
	}
	// files are still sealed under the old passphrase
	if err := s.reopen(ctx, old); err != nil {
		return multierr.Append(rotErr, err)
	}
	if rotErr != nil {
		return rotErr
	}

	if err := s.store.Rekey(ctx, newPass); err != nil {
		return errors.Wrap(err, "passphrase changed but files are still sealed with the old one; run rekey")
	}
	s.reporter.Printf("Passphrase changed.")
	return nil
}

func (s *Session) reopen(ctx context.Context, passphrase []byte) error {
	store, err := s.Open(passphrase)
	if err != nil {
		return err
	}
	s.store = store
	s.state.SetUnlocked(s.Volume.Handle(), s.Now())
	return nil
}

func isYes(answer string) bool {
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes"
}
