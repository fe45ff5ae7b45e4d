package gateway

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"SecureUSB/internal/errors"
)

// MapperDir is where device-mapper exposes unlocked volumes.
const MapperDir = "/dev/mapper"

// MapperPath returns the block device of a mapped name.
func MapperPath(name string) string {
	return filepath.Join(MapperDir, name)
}

func (g *Gateway) privileged(ctx context.Context, name string, args []string, secrets ...[]byte) (Result, Outcome, error) {
	res, err := g.Invoke(ctx, Command{Name: name, Args: args, Secrets: secrets, Privileged: true})
	if err != nil {
		return res, Failed, err
	}
	return res, Classify(res), nil
}

// unexpected turns an outcome that is not a failure by itself, but is wrong
// for the operation at hand, into a ProcessError.
func unexpected(res Result, o Outcome) error {
	if err := o.Err(res); err != nil {
		return err
	}
	return errors.NewProcessError(res.Command, res.ExitCode, fmt.Sprintf("unexpected outcome %s", o), nil)
}

func filesystemErr(res Result, o Outcome) error {
	err := unexpected(res, o)
	if errors.Kind(err) == errors.ErrProcess {
		return fmt.Errorf("%w: %w", errors.ErrFilesystem, err)
	}
	return err
}

// Open unlocks a LUKS device as name. The passphrase goes to stdin.
func (g *Gateway) Open(ctx context.Context, device, name string, passphrase []byte) error {
	res, o, err := g.privileged(ctx, "cryptsetup", []string{"open", "--type", "luks", device, name}, passphrase)
	if err != nil {
		return err
	}
	if o == OK {
		return nil
	}
	return unexpected(res, o)
}

// TestKey checks passphrase against the key slots of device without creating
// a mapping. It works while the device is open.
func (g *Gateway) TestKey(ctx context.Context, device string, passphrase []byte) error {
	res, o, err := g.privileged(ctx, "cryptsetup", []string{"open", "--test-passphrase", "--type", "luks", device}, passphrase)
	if err != nil {
		return err
	}
	if o == OK {
		return nil
	}
	return unexpected(res, o)
}

// Close removes the mapping. A mapping that is not active is not an error.
func (g *Gateway) Close(ctx context.Context, name string) error {
	res, o, err := g.privileged(ctx, "cryptsetup", []string{"close", name})
	if err != nil {
		return err
	}
	switch o {
	case OK, Inactive:
		return nil
	}
	return unexpected(res, o)
}

// Status reports whether the mapping is active.
func (g *Gateway) Status(ctx context.Context, name string) (bool, error) {
	res, o, err := g.privileged(ctx, "cryptsetup", []string{"status", name})
	if err != nil {
		return false, err
	}
	switch o {
	case Active:
		return true, nil
	case Inactive:
		return false, nil
	}
	return false, unexpected(res, o)
}

// OpenCount returns how many handles hold the mapping open. A mounted
// filesystem counts as one.
func (g *Gateway) OpenCount(ctx context.Context, name string) (int, error) {
	res, o, err := g.privileged(ctx, "dmsetup", []string{"info", "-c", "--noheadings", "-o", "open", name})
	if err != nil {
		return 0, err
	}
	if o != OK {
		return 0, unexpected(res, o)
	}
	n, err := strconv.Atoi(strings.TrimSpace(res.Stdout))
	if err != nil {
		return 0, errors.NewProcessError(res.Command, res.ExitCode, "unparseable open count", err)
	}
	return n, nil
}

// ChangeKey rewrites the key slot opened by old so it accepts newPass.
// cryptsetup reads old, new and the confirmation of new from stdin.
func (g *Gateway) ChangeKey(ctx context.Context, device string, old, newPass []byte) error {
	res, o, err := g.privileged(ctx, "cryptsetup", []string{"luksChangeKey", device}, old, newPass, newPass)
	if err != nil {
		return err
	}
	if o == OK {
		return nil
	}
	return unexpected(res, o)
}

// MakeDir creates path and its parents.
func (g *Gateway) MakeDir(ctx context.Context, path string) error {
	res, o, err := g.privileged(ctx, "mkdir", []string{"-p", "--", path})
	if err != nil {
		return err
	}
	if o == OK {
		return nil
	}
	return filesystemErr(res, o)
}

// Mount mounts source on target with the given filesystem type.
func (g *Gateway) Mount(ctx context.Context, source, target, fsType string) error {
	res, o, err := g.privileged(ctx, "mount", []string{"-t", fsType, source, target})
	if err != nil {
		return err
	}
	switch o {
	case OK:
		return nil
	case AlreadyMounted:
		return errors.Wrap(errors.ErrDeviceState, res.Detail())
	}
	return filesystemErr(res, o)
}

// Unmount unmounts target. A target that is not mounted is not an error.
func (g *Gateway) Unmount(ctx context.Context, target string, force bool) error {
	args := []string{target}
	if force {
		args = []string{"-f", target}
	}
	res, o, err := g.privileged(ctx, "umount", args)
	if err != nil {
		return err
	}
	switch o {
	case OK, NotMounted:
		return nil
	}
	return filesystemErr(res, o)
}

// Remove deletes a file.
func (g *Gateway) Remove(ctx context.Context, path string) error {
	res, o, err := g.privileged(ctx, "rm", []string{"-f", "--", path})
	if err != nil {
		return err
	}
	if o == OK {
		return nil
	}
	return filesystemErr(res, o)
}
