// Package vault stores files as encrypted envelopes on a mounted volume.
//
// Every file is sealed with the envelope codec under a key derived from the
// volume passphrase and the salt in the volume header. The vault reads and
// writes through an afero.Fs rooted at the mount path.
package vault

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"SecureUSB/internal/crypto"
	"SecureUSB/internal/encoding"
	"SecureUSB/internal/envelope"
	"SecureUSB/internal/errors"
	"SecureUSB/internal/header"
	"SecureUSB/internal/log"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const (
	fileMode  = 0o600
	tmpPrefix = ".secureusb-"
	tmpSuffix = ".tmp"
)

// Remover deletes a file by its absolute path, normally with elevated
// rights. *gateway.Gateway implements it.
type Remover interface {
	Remove(ctx context.Context, path string) error
}

// Options configures a Vault.
type Options struct {
	Iterations int     // PBKDF2 iterations for a new header; crypto.DefaultIterations if zero
	Workers    int     // parallel envelope operations; runtime.NumCPU() if zero
	Remover    Remover // privileged delete; fs.Remove if nil
	Root       string  // absolute mount path, needed with Remover

	// Check must accept the passphrase before a new header is written.
	// Without it a mistyped passphrase would seal the volume on first use.
	Check func(passphrase []byte) error
}

// Entry describes one file on the volume.
type Entry struct {
	Name      string    `json:"name" yaml:"name"`
	Stored    string    `json:"stored" yaml:"stored"`
	Size      int64     `json:"size" yaml:"size"`
	ModTime   time.Time `json:"mod_time" yaml:"mod_time"`
	Encrypted bool      `json:"encrypted" yaml:"encrypted"`
}

// Vault is an open, unlocked envelope store. It is safe for concurrent use.
type Vault struct {
	fs     afero.Fs
	opts   Options
	rs     *encoding.RSCodecs
	logger log.Logger

	mu     sync.RWMutex // held exclusively while rekeying
	key    *crypto.KeyMaterial
	header *header.VolumeHeader

	namesMu sync.Mutex
	names   map[string]*sync.Mutex
}

// Open loads the volume header from fs, creating one with a fresh salt on
// first use, and derives the envelope key from passphrase. A new header is
// only written once opts.Check accepts the passphrase. A passphrase that
// does not match the header's key check fails with ErrAuthentication.
func Open(fs afero.Fs, passphrase []byte, opts Options) (*Vault, error) {
	if len(passphrase) == 0 {
		return nil, errors.ErrPasswordEmpty
	}
	if opts.Iterations == 0 {
		opts.Iterations = crypto.DefaultIterations
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	rs, err := encoding.NewRSCodecs()
	if err != nil {
		return nil, err
	}
	v := &Vault{
		fs:     fs,
		opts:   opts,
		rs:     rs,
		logger: log.With(log.String("component", "vault")),
		names:  make(map[string]*sync.Mutex),
	}

	h, created, err := v.loadHeader()
	if err != nil {
		return nil, err
	}
	if created {
		if opts.Check != nil {
			if err := opts.Check(passphrase); err != nil {
				return nil, err
			}
		}
		if h, err = header.New(opts.Iterations); err != nil {
			return nil, err
		}
	}

	key, err := h.DeriveKey(passphrase)
	if err != nil {
		return nil, err
	}
	if created {
		h.Seal(key)
		if err := v.writeHeader(h); err != nil {
			crypto.SecureZero(key)
			return nil, err
		}
		v.logger.Info("created volume header", log.Int("iterations", h.Iterations))
	} else if err := h.Verify(key); err != nil {
		crypto.SecureZero(key)
		if errors.Is(err, errors.ErrAuthentication) {
			return nil, errors.Wrap(err, "passphrase does not match the volume header")
		}
		return nil, err
	}

	v.header = h
	v.key = crypto.NewKeyMaterial(key)
	return v, nil
}

// Initialized reports whether fs holds a volume header, that is whether a
// vault was ever opened on it.
func Initialized(fs afero.Fs) (bool, error) {
	ok, err := afero.Exists(fs, abs(header.FileName))
	if err != nil {
		return false, errors.NewFileError("stat", header.FileName, err)
	}
	return ok, nil
}

func (v *Vault) loadHeader() (*header.VolumeHeader, bool, error) {
	f, err := v.fs.Open(abs(header.FileName))
	if os.IsNotExist(err) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, errors.NewFileError("open", header.FileName, err)
	}
	defer f.Close()

	res, err := header.NewReader(f, v.rs).ReadHeader()
	if err != nil {
		return nil, false, errors.NewFileError("read", header.FileName, err)
	}
	if res.DecodeError != nil {
		v.logger.Warn("volume header damaged", log.Err(res.DecodeError))
	}
	return res.Header, false, nil
}

func (v *Vault) writeHeader(h *header.VolumeHeader) error {
	if err := h.Validate(); err != nil {
		return err
	}
	return v.atomicWrite(header.FileName, func(f afero.File) error {
		_, err := header.NewWriter(f, v.rs).WriteHeader(h)
		return err
	})
}

// atomicWrite writes name through a temporary file and renames it into place.
func (v *Vault) atomicWrite(name string, write func(f afero.File) error) error {
	tmp := abs(tmpPrefix + uuid.NewString() + tmpSuffix)
	if err := v.writeSynced(tmp, name, write); err != nil {
		return err
	}
	if err := v.fs.Rename(tmp, abs(name)); err != nil {
		_ = v.fs.Remove(tmp)
		return errors.NewFileError("write", name, err)
	}
	return nil
}

// writeSynced creates path, fills it and flushes it to the device. The file
// is removed on failure; name is only used in the error.
func (v *Vault) writeSynced(path, name string, write func(f afero.File) error) error {
	f, err := v.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fileMode)
	if err != nil {
		return errors.NewFileError("create", name, err)
	}

	err = write(f)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = v.fs.Remove(path)
		return errors.NewFileError("write", name, err)
	}
	return nil
}

func (v *Vault) nameLock(stored string) *sync.Mutex {
	v.namesMu.Lock()
	defer v.namesMu.Unlock()
	m, ok := v.names[stored]
	if !ok {
		m = &sync.Mutex{}
		v.names[stored] = m
	}
	return m
}

// List returns the files at the volume root, sorted by name. The header
// record and temporary files are hidden; files that are not envelopes are
// listed with Encrypted false.
func (v *Vault) List() ([]Entry, error) {
	infos, err := afero.ReadDir(v.fs, "/")
	if err != nil {
		return nil, errors.NewFileError("list", "/", err)
	}

	var entries []Entry
	for _, fi := range infos {
		name := fi.Name()
		if fi.IsDir() || name == header.FileName || isTemp(name) {
			continue
		}
		e := Entry{Name: name, Stored: name, Size: fi.Size(), ModTime: fi.ModTime()}
		if original, err := envelope.OriginalName(name); err == nil {
			e.Name = original
			e.Encrypted = true
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Put encrypts data and stores it under name, replacing an existing
// envelope. It returns the stored file name.
func (v *Vault) Put(name string, data []byte) (string, error) {
	stored, err := envelope.Name(name)
	if err != nil {
		return "", err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	var sealed []byte
	err = v.key.Use(func(key []byte) error {
		sealed, err = envelope.Encrypt(data, key)
		return err
	})
	if err != nil {
		return "", err
	}

	lock := v.nameLock(stored)
	lock.Lock()
	defer lock.Unlock()

	err = v.atomicWrite(stored, func(f afero.File) error {
		_, err := f.Write(sealed)
		return err
	})
	if err != nil {
		return "", err
	}
	v.logger.Debug("stored", log.String("name", stored), log.Int("size", len(data)))
	return stored, nil
}

// Get decrypts the envelope for name. name may be the original or the
// stored file name.
func (v *Vault) Get(name string) ([]byte, error) {
	stored, err := envelope.Resolve(name)
	if err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.open(stored)
}

func (v *Vault) open(stored string) ([]byte, error) {
	sealed, err := afero.ReadFile(v.fs, abs(stored))
	if err != nil {
		return nil, errors.NewFileError("read", stored, err)
	}

	var plain []byte
	err = v.key.Use(func(key []byte) error {
		plain, err = envelope.Decrypt(sealed, key)
		return err
	})
	if err != nil {
		return nil, errors.NewFileError("decrypt", stored, err)
	}
	return plain, nil
}

// Export decrypts name and writes the plaintext to path on dst.
func (v *Vault) Export(name string, dst afero.Fs, path string) error {
	plain, err := v.Get(name)
	if err != nil {
		return err
	}
	defer crypto.SecureZero(plain)

	if err := afero.WriteFile(dst, path, plain, fileMode); err != nil {
		return errors.NewFileError("write", path, err)
	}
	return nil
}

// Delete removes the envelope for name.
func (v *Vault) Delete(ctx context.Context, name string) error {
	stored, err := envelope.Resolve(name)
	if err != nil {
		return err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	lock := v.nameLock(stored)
	lock.Lock()
	defer lock.Unlock()

	if _, err := v.fs.Stat(abs(stored)); err != nil {
		return errors.NewFileError("delete", stored, err)
	}

	if v.opts.Remover != nil && v.opts.Root != "" {
		err = v.opts.Remover.Remove(ctx, filepath.Join(v.opts.Root, stored))
	} else {
		err = v.fs.Remove(abs(stored))
	}
	if err != nil {
		return errors.NewFileError("delete", stored, err)
	}
	v.logger.Debug("deleted", log.String("name", stored))
	return nil
}

// Iterations returns the PBKDF2 iteration count of the open header.
func (v *Vault) Iterations() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.header.Iterations
}

// Close zeroes the envelope key. The vault cannot be used afterwards.
func (v *Vault) Close() error {
	v.key.Close()
	return nil
}

func abs(name string) string {
	return filepath.Join(string(filepath.Separator), name)
}

func isTemp(name string) bool {
	return strings.HasPrefix(name, tmpPrefix) && strings.HasSuffix(name, tmpSuffix)
}
