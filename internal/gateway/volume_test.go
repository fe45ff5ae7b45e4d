package gateway

import (
	"context"
	"testing"

	"SecureUSB/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	r := &scriptedRunner{handler: reply(0, "", "")}
	require.NoError(t, New(r).Open(ctx, "/dev/sdb1", "vault", []byte("pw")))
	c := r.last(t)
	assert.Equal(t, []string{"open", "--type", "luks", "/dev/sdb1", "vault"}, c.args)
	assert.Equal(t, "pw\n", c.stdin)

	r.handler = reply(2, "", "No key available with this passphrase.")
	err := New(r).Open(ctx, "/dev/sdb1", "vault", []byte("bad"))
	assert.True(t, errors.Is(err, errors.ErrAuthentication), "got %v", err)

	r.handler = reply(5, "", "Device vault already exists.")
	err = New(r).Open(ctx, "/dev/sdb1", "vault", []byte("pw"))
	assert.True(t, errors.Is(err, errors.ErrDeviceState), "got %v", err)
}

func TestTestKey(t *testing.T) {
	ctx := context.Background()

	r := &scriptedRunner{handler: reply(0, "", "")}
	require.NoError(t, New(r).TestKey(ctx, "/dev/sdb1", []byte("pw")))
	c := r.last(t)
	assert.Equal(t, []string{"open", "--test-passphrase", "--type", "luks", "/dev/sdb1"}, c.args)
	assert.Equal(t, "pw\n", c.stdin)

	r.handler = reply(2, "", "No key available with this passphrase.")
	err := New(r).TestKey(ctx, "/dev/sdb1", []byte("typo"))
	assert.True(t, errors.Is(err, errors.ErrAuthentication), "got %v", err)
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()

	r := &scriptedRunner{handler: reply(4, "", "Device vault is not active.")}
	assert.NoError(t, New(r).Close(ctx, "vault"))

	r.handler = reply(5, "", "Device vault is still in use.")
	assert.True(t, errors.IsBusy(New(r).Close(ctx, "vault")))
}

func TestStatus(t *testing.T) {
	ctx := context.Background()

	r := &scriptedRunner{handler: reply(0, "/dev/mapper/vault is active.", "")}
	active, err := New(r).Status(ctx, "vault")
	require.NoError(t, err)
	assert.True(t, active)

	r.handler = reply(4, "/dev/mapper/vault is inactive.", "")
	active, err = New(r).Status(ctx, "vault")
	require.NoError(t, err)
	assert.False(t, active)

	r.handler = reply(1, "", "sudo: a password is required")
	_, err = New(r).Status(ctx, "vault")
	assert.True(t, errors.IsAuthFailed(err))
}

func TestOpenCount(t *testing.T) {
	ctx := context.Background()

	r := &scriptedRunner{handler: reply(0, "  1\n", "")}
	n, err := New(r).OpenCount(ctx, "vault")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"info", "-c", "--noheadings", "-o", "open", "vault"}, r.last(t).args)

	r.handler = reply(0, "garbage", "")
	_, err = New(r).OpenCount(ctx, "vault")
	assert.True(t, errors.Is(err, errors.ErrProcess))
}

func TestMount(t *testing.T) {
	ctx := context.Background()

	r := &scriptedRunner{handler: reply(0, "", "")}
	require.NoError(t, New(r).Mount(ctx, MapperPath("vault"), "/mnt/p", "xfs"))
	assert.Equal(t, []string{"-t", "xfs", "/dev/mapper/vault", "/mnt/p"}, r.last(t).args)

	r.handler = reply(32, "", "mount: /mnt/p: wrong fs type, bad option, bad superblock on /dev/mapper/vault.")
	err := New(r).Mount(ctx, MapperPath("vault"), "/mnt/p", "xfs")
	assert.True(t, errors.Is(err, errors.ErrInvalidFilesystem))

	r.handler = reply(32, "", "mount: /mnt/p: special device does not exist.")
	err = New(r).Mount(ctx, MapperPath("vault"), "/mnt/p", "xfs")
	assert.True(t, errors.Is(err, errors.ErrFilesystem))
	assert.True(t, errors.Is(err, errors.ErrProcess))
}

func TestUnmount(t *testing.T) {
	ctx := context.Background()

	r := &scriptedRunner{handler: reply(32, "", "umount: /mnt/p: not mounted.")}
	require.NoError(t, New(r).Unmount(ctx, "/mnt/p", true))
	assert.Equal(t, []string{"-f", "/mnt/p"}, r.last(t).args)

	r.handler = reply(32, "", "umount: /mnt/p: target is busy.")
	assert.True(t, errors.IsBusy(New(r).Unmount(ctx, "/mnt/p", false)))
	assert.Equal(t, []string{"/mnt/p"}, r.last(t).args)
}

func TestChangeKey(t *testing.T) {
	ctx := context.Background()

	r := &scriptedRunner{handler: reply(0, "", "")}
	require.NoError(t, New(r).ChangeKey(ctx, "/dev/sdb1", []byte("old"), []byte("new")))
	c := r.last(t)
	assert.Equal(t, []string{"luksChangeKey", "/dev/sdb1"}, c.args)
	assert.Equal(t, "old\nnew\nnew\n", c.stdin)

	r.handler = reply(2, "", "No key available with this passphrase.")
	assert.True(t, errors.IsAuthFailed(New(r).ChangeKey(ctx, "/dev/sdb1", []byte("x"), []byte("y"))))
}

func TestMakeDirAndRemove(t *testing.T) {
	ctx := context.Background()

	r := &scriptedRunner{handler: reply(0, "", "")}
	g := New(r)
	require.NoError(t, g.MakeDir(ctx, "/mnt/p"))
	assert.Equal(t, call{name: "mkdir", args: []string{"-p", "--", "/mnt/p"}}, r.last(t))

	require.NoError(t, g.Remove(ctx, "/mnt/p/.a.enc"))
	assert.Equal(t, call{name: "rm", args: []string{"-f", "--", "/mnt/p/.a.enc"}}, r.last(t))

	r.handler = reply(1, "", "rm: cannot remove '/mnt/p/.a.enc': Read-only file system")
	assert.True(t, errors.Is(g.Remove(ctx, "/mnt/p/.a.enc"), errors.ErrFilesystem))
}
