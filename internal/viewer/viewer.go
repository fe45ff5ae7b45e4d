// Package viewer hands decrypted files to an external program through short
// lived plaintext copies.
//
// Each copy lives in a private directory under a random name and is
// overwritten with random bytes and removed once its lifetime ends. The
// plaintext is on unencrypted storage while it exists; keep the lifetime as
// short as the viewing program allows.
package viewer

import (
	"context"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"SecureUSB/internal/errors"
	"SecureUSB/internal/log"
	"SecureUSB/internal/util"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// Defaults
const (
	DefaultLifetime = 5 * time.Second
	DefaultCommand  = "xdg-open"
)

// Launcher starts a program without waiting for it. *gateway.Gateway
// implements it.
type Launcher interface {
	Launch(ctx context.Context, name string, args ...string) error
}

// Options configures a Viewer.
type Options struct {
	Fs       afero.Fs      // defaults to the OS filesystem
	Dir      string        // parent of the private directory; os.TempDir() if empty
	Lifetime time.Duration // DefaultLifetime if zero
	Command  string        // DefaultCommand if empty
	Launcher Launcher      // nil only writes the file
}

// Viewer owns a private directory of plaintext exposures.
type Viewer struct {
	fs     afero.Fs
	dir    string
	opts   Options
	logger log.Logger

	mu     sync.Mutex
	live   map[*Exposure]struct{}
	closed bool
}

// New creates the private directory (mode 0700).
func New(opts Options) (*Viewer, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Dir == "" {
		opts.Dir = os.TempDir()
	}
	if opts.Lifetime <= 0 {
		opts.Lifetime = DefaultLifetime
	}
	if opts.Command == "" {
		opts.Command = DefaultCommand
	}

	dir, err := afero.TempDir(opts.Fs, opts.Dir, "secureusb-")
	if err != nil {
		return nil, errors.NewFileError("mkdir", opts.Dir, err)
	}
	if err := opts.Fs.Chmod(dir, 0o700); err != nil {
		_ = opts.Fs.RemoveAll(dir)
		return nil, errors.NewFileError("chmod", dir, err)
	}

	return &Viewer{
		fs:     opts.Fs,
		dir:    dir,
		opts:   opts,
		logger: log.With(log.String("component", "viewer")),
		live:   make(map[*Exposure]struct{}),
	}, nil
}

// Dir returns the private directory.
func (v *Viewer) Dir() string {
	return v.dir
}

// Exposure is one plaintext copy on disk.
type Exposure struct {
	path string
	size int

	once sync.Once
	stop chan struct{}
	done chan struct{}
	err  error
}

// Path returns the location of the plaintext copy.
func (e *Exposure) Path() string {
	return e.path
}

// Wait blocks until the copy has been shredded and returns the shred error.
func (e *Exposure) Wait() error {
	<-e.done
	return e.err
}

// Close shreds the copy now and waits for it.
func (e *Exposure) Close() error {
	e.once.Do(func() { close(e.stop) })
	return e.Wait()
}

// Show writes data to a fresh file named after name's extension and opens
// it with the configured command. The file is shredded after the lifetime,
// when ctx is done, or when the exposure or viewer is closed.
func (v *Viewer) Show(ctx context.Context, name string, data []byte) (*Exposure, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, errors.NewFileError("show", name, os.ErrClosed)
	}

	path := filepath.Join(v.dir, uuid.NewString()+filepath.Ext(name))
	if err := v.write(path, data); err != nil {
		return nil, err
	}

	e := &Exposure{
		path: path,
		size: len(data),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	v.live[e] = struct{}{}
	go v.expire(ctx, e)

	if v.opts.Launcher != nil {
		if err := v.opts.Launcher.Launch(ctx, v.opts.Command, path); err != nil {
			e.once.Do(func() { close(e.stop) })
			return nil, err
		}
	}
	v.logger.Debug("exposed", log.String("ext", filepath.Ext(name)), log.Duration("lifetime", v.opts.Lifetime))
	return e, nil
}

func (v *Viewer) write(path string, data []byte) error {
	f, err := v.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return errors.NewFileError("create", path, err)
	}
	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = v.fs.Remove(path)
		return errors.NewFileError("write", path, err)
	}
	return nil
}

func (v *Viewer) expire(ctx context.Context, e *Exposure) {
	timer := time.NewTimer(v.opts.Lifetime)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-e.stop:
	}

	e.err = v.shred(e.path, e.size)
	if e.err != nil {
		v.logger.Error("shred failed", log.String("path", e.path), log.Err(e.err))
	}
	v.mu.Lock()
	delete(v.live, e)
	v.mu.Unlock()
	close(e.done)
}

// shred overwrites size bytes of path with random data, syncs and removes it.
func (v *Viewer) shred(path string, size int) error {
	f, err := v.fs.OpenFile(path, os.O_WRONLY, 0)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.NewFileError("shred", path, err)
	}

	buf := util.ShredPool.Get()
	defer util.ShredPool.Put(buf)

	for remaining := size; remaining > 0 && err == nil; {
		n := min(remaining, len(buf))
		if _, err = io.ReadFull(rand.Reader, buf[:n]); err == nil {
			_, err = f.Write(buf[:n])
		}
		remaining -= n
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if rerr := v.fs.Remove(path); err == nil {
		err = rerr
	}
	if err != nil {
		return errors.NewFileError("shred", path, err)
	}
	return nil
}

// Live returns the number of copies not yet shredded.
func (v *Viewer) Live() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.live)
}

// Close shreds every live copy and removes the private directory.
func (v *Viewer) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	live := make([]*Exposure, 0, len(v.live))
	for e := range v.live {
		live = append(live, e)
	}
	v.mu.Unlock()

	var err error
	for _, e := range live {
		multierr.AppendInto(&err, e.Close())
	}
	if rerr := v.fs.RemoveAll(v.dir); rerr != nil {
		multierr.AppendInto(&err, errors.NewFileError("remove", v.dir, rerr))
	}
	return err
}
