package vault

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"SecureUSB/internal/crypto"
	"SecureUSB/internal/envelope"
	"SecureUSB/internal/errors"
	"SecureUSB/internal/header"
	"SecureUSB/internal/log"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// PutFiles encrypts the files at paths on src into the vault, in parallel.
// Each file is stored under its base name, so two paths with the same base
// name are rejected before anything is stored. It returns the stored names of
// the files that succeeded; the error combines every failure.
func (v *Vault) PutFiles(ctx context.Context, src afero.Fs, paths []string) ([]string, error) {
	seen := make(map[string]string, len(paths))
	for _, path := range paths {
		base := filepath.Base(path)
		if first, ok := seen[base]; ok {
			return nil, errors.NewFileError("import", path,
				errors.Input(fmt.Sprintf("%s and %s would both be stored as %s", first, path, base)))
		}
		seen[base] = path
	}

	var (
		mu     sync.Mutex
		stored []string
		errs   error
	)

	p := pool.New().WithMaxGoroutines(v.opts.Workers)
	for _, path := range paths {
		p.Go(func() {
			name, err := v.putFile(ctx, src, path)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				multierr.AppendInto(&errs, err)
				return
			}
			stored = append(stored, name)
		})
	}
	p.Wait()

	v.logger.Info("imported", log.Int("count", len(stored)), log.Int("failed", len(multierr.Errors(errs))))
	return stored, errs
}

func (v *Vault) putFile(ctx context.Context, src afero.Fs, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.NewFileError("import", path, err)
	}
	data, err := afero.ReadFile(src, path)
	if err != nil {
		return "", errors.NewFileError("import", path, err)
	}
	defer crypto.SecureZero(data)
	return v.Put(filepath.Base(path), data)
}

// Rekey re-encrypts every envelope under a key derived from newPass and a
// fresh salt, then replaces the header. Nothing is replaced unless every
// envelope was re-encrypted. A crash between the renames and the header write
// leaves envelopes the old header cannot open.
func (v *Vault) Rekey(ctx context.Context, newPass []byte) error {
	if len(newPass) == 0 {
		return errors.ErrPasswordEmpty
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	h, err := header.New(v.header.Iterations)
	if err != nil {
		return err
	}
	newKey, err := h.DeriveKey(newPass)
	if err != nil {
		return err
	}
	h.Seal(newKey)
	km := crypto.NewKeyMaterial(newKey)

	entries, err := v.List()
	if err != nil {
		km.Close()
		return err
	}

	var (
		mu    sync.Mutex
		temps = make(map[string]string) // stored -> temp
	)
	p := pool.New().WithContext(ctx).WithMaxGoroutines(v.opts.Workers)
	for _, e := range entries {
		if !e.Encrypted {
			continue
		}
		p.Go(func(ctx context.Context) error {
			tmp, err := v.reseal(ctx, e.Stored, km)
			if err != nil {
				return err
			}
			mu.Lock()
			temps[e.Stored] = tmp
			mu.Unlock()
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		for _, tmp := range temps {
			_ = v.fs.Remove(tmp)
		}
		km.Close()
		return err
	}

	for stored, tmp := range temps {
		if rerr := v.fs.Rename(tmp, abs(stored)); rerr != nil {
			multierr.AppendInto(&err, errors.NewFileError("rename", stored, rerr))
		}
	}
	if err == nil {
		err = v.writeHeader(h)
	}
	if err != nil {
		km.Close()
		return err
	}

	v.key.Close()
	v.key = km
	v.header = h
	v.logger.Info("rekeyed", log.Int("count", len(temps)))
	return nil
}

// reseal decrypts stored with the current key and writes it re-encrypted
// under km to a temporary file, whose path it returns.
func (v *Vault) reseal(ctx context.Context, stored string, km *crypto.KeyMaterial) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	plain, err := v.open(stored)
	if err != nil {
		return "", err
	}
	defer crypto.SecureZero(plain)

	var sealed []byte
	err = km.Use(func(key []byte) error {
		sealed, err = envelope.Encrypt(plain, key)
		return err
	})
	if err != nil {
		return "", err
	}

	tmp := abs(tmpPrefix + "rekey-" + stored + tmpSuffix)
	err = v.writeSynced(tmp, stored, func(f afero.File) error {
		_, err := f.Write(sealed)
		return err
	})
	if err != nil {
		return "", err
	}
	return tmp, nil
}
