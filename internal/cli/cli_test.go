package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"SecureUSB/internal/errors"
	"SecureUSB/internal/gateway"
	"SecureUSB/internal/secret"
	"SecureUSB/internal/volume"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDevice = "/dev/sdz1"
	testMount  = "/mnt/test"
	strongPass = "correct horse battery staple 1987!"
)

// fakeSystem plays cryptsetup, dmsetup, mount, umount and rm against an
// in-memory volume.
type fakeSystem struct {
	mu         sync.Mutex
	passphrase string
	mapped     bool
	mounted    bool
	vol        afero.Fs
	calls      []string
	launched   []string
}

func newFakeSystem(passphrase string) *fakeSystem {
	return &fakeSystem{passphrase: passphrase, vol: afero.NewMemMapFs()}
}

func (f *fakeSystem) Run(_ context.Context, name string, args []string, stdin []byte) (gateway.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, strings.Join(append([]string{name}, args...), " "))
	res := gateway.Result{Command: name}
	lines := strings.Split(string(stdin), "\n")

	switch name {
	case "cryptsetup":
		switch args[0] {
		case "status":
			if f.mapped {
				res.Stdout = "/dev/mapper/x is active."
			} else {
				res.Stdout = "/dev/mapper/x is inactive."
				res.ExitCode = 4
			}
		case "open":
			if lines[0] != f.passphrase {
				res.Stderr = "No key available with this passphrase."
				res.ExitCode = 2
				break
			}
			if args[1] != "--test-passphrase" {
				f.mapped = true
			}
		case "close":
			f.mapped = false
		case "luksChangeKey":
			if lines[0] != f.passphrase {
				res.Stderr = "No key available with this passphrase."
				res.ExitCode = 2
				break
			}
			f.passphrase = lines[1]
		}
	case "dmsetup":
		if f.mounted {
			res.Stdout = "1\n"
		} else {
			res.Stdout = "0\n"
		}
	case "mount":
		f.mounted = true
	case "umount":
		if !f.mounted {
			res.Stderr = "umount: " + testMount + ": not mounted."
			res.ExitCode = 32
			break
		}
		f.mounted = false
	case "rm":
		path := args[len(args)-1]
		_ = f.vol.Remove(strings.TrimPrefix(path, testMount))
	}
	return res, nil
}

func (f *fakeSystem) Start(_ context.Context, name string, args []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launched = append(f.launched, name+" "+strings.Join(args, " "))
	return nil
}

func (f *fakeSystem) IsMounted(string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mounted, nil
}

func (f *fakeSystem) state() (mapped, mounted bool, passphrase string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mapped, f.mounted, f.passphrase
}

// resetFlags restores every flag to its default so several command lines can
// run through the same command tree.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

type harness struct {
	t   *testing.T
	sys *fakeSystem
	fs  afero.Fs
}

func newHarness(t *testing.T, passphrase string) *harness {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("SECUREUSB_KDF_ITERATIONS", "1000")
	t.Setenv("SECUREUSB_VIEWER_LIFETIME", "50ms")

	h := &harness{t: t, sys: newFakeSystem(passphrase), fs: afero.NewMemMapFs()}

	origStdin, origRunner, origProbe, origHost, origMount := stdin, newRunner, newProbe, hostFs, mountFs
	t.Cleanup(func() {
		stdin, newRunner, newProbe, hostFs, mountFs = origStdin, origRunner, origProbe, origHost, origMount
		resetFlags(rootCmd)
	})
	newRunner = func() gateway.Runner { return h.sys }
	newProbe = func() volume.MountProbe { return h.sys }
	hostFs = h.fs
	mountFs = func(string) afero.Fs { return h.sys.vol }
	return h
}

// run executes one command line with input on stdin.
func (h *harness) run(input string, args ...string) (stdout, stderr string, code int) {
	h.t.Helper()

	r, w, err := os.Pipe()
	require.NoError(h.t, err)
	_, err = w.WriteString(input)
	require.NoError(h.t, err)
	require.NoError(h.t, w.Close())
	defer r.Close()
	stdin = r

	var out, errOut bytes.Buffer
	resetFlags(rootCmd)
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append([]string{
		"--device", testDevice,
		"--mount-path", testMount,
		"--elevation", "none",
		"--log-level", "off",
	}, args...))

	err = rootCmd.ExecuteContext(context.Background())
	if err != nil {
		printError(&errOut, err)
	}
	return out.String(), errOut.String(), ExitCode(err)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"input", errors.Input("bad"), ExitInput},
		{"auth", errors.NewVolumeError("unlock", testDevice, errors.ErrAuthentication, nil), ExitAuthentication},
		{"busy", errors.NewVolumeError("unlock", testDevice, errors.ErrBusy, nil), ExitBusy},
		{"state", errors.NewVolumeError("list", testDevice, errors.ErrDeviceState, nil), ExitDeviceState},
		{"invalid fs", fmt.Errorf("mount: %w", errors.ErrInvalidFilesystem), ExitInvalidFS},
		{"fs", errors.ErrFilesystem, ExitFilesystem},
		{"corrupt", errors.Corrupt("short"), ExitCorrupt},
		{"process", errors.NewProcessError("mount", 1, "boom", nil), ExitProcess},
		{"concurrent", errors.NewVolumeError("rotate", testDevice, errors.ErrConcurrentAccess, errors.ErrBusy), ExitConcurrentAccess},
		{"cancelled", fmt.Errorf("unlock: %w", context.Canceled), ExitInterrupted},
		{"other", errors.New("unexpected"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestUnlockStatusLock(t *testing.T) {
	h := newHarness(t, "pw")

	out, _, code := h.run("", "status", "-o", "json")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, `"state": "locked"`)

	_, stderr, code := h.run("pw\n", "unlock")
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stderr, "Unlocked "+testDevice)
	mapped, mounted, _ := h.sys.state()
	assert.True(t, mapped)
	assert.True(t, mounted)

	// already unlocked: no prompt, no second mapping
	_, stderr, code = h.run("", "unlock")
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stderr, "already unlocked")

	out, _, code = h.run("", "status")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "mounted")

	_, stderr, code = h.run("", "lock")
	require.Equal(t, ExitOK, code, stderr)
	mapped, mounted, _ = h.sys.state()
	assert.False(t, mapped)
	assert.False(t, mounted)

	_, stderr, code = h.run("", "lock")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stderr, "already locked")
}

func TestUnlockWrongPassphrase(t *testing.T) {
	h := newHarness(t, "pw")

	_, stderr, code := h.run("letmein\n", "unlock")
	assert.Equal(t, ExitAuthentication, code)
	assert.Contains(t, stderr, "Error:")
	assert.NotContains(t, stderr, "letmein")

	mapped, mounted, _ := h.sys.state()
	assert.False(t, mapped)
	assert.False(t, mounted)
}

func TestSudoPasswordAskedAgainAfterRejection(t *testing.T) {
	provider := secret.NewStatic("wrong", "right")
	sudo := &sudoPassword{provider: provider}
	defer sudo.Destroy()

	seen := func() string {
		var got string
		require.NoError(t, sudo.Use(func(b []byte) error {
			got = string(b)
			return nil
		}))
		return got
	}

	assert.Equal(t, "wrong", seen())
	assert.Equal(t, "wrong", seen(), "cached within one command")
	assert.Len(t, provider.Prompts(), 1)

	sudo.Forget()
	assert.Equal(t, "right", seen())
	assert.Len(t, provider.Prompts(), 2)
}

func TestUnlockNeedsDevice(t *testing.T) {
	h := newHarness(t, "pw")

	_, stderr, code := h.run("pw\n", "unlock", "--device=")
	assert.Equal(t, ExitInput, code)
	assert.Contains(t, stderr, "no device configured")
}

func TestBadFlags(t *testing.T) {
	h := newHarness(t, "pw")

	_, _, code := h.run("", "status", "--no-such-flag")
	assert.Equal(t, ExitInput, code)

	_, _, code = h.run("", "status", "-o", "xml")
	assert.Equal(t, ExitInput, code)

	_, _, code = h.run("", "unlock", "--mount-path", "/")
	assert.Equal(t, ExitInput, code)
}

func TestFilesRequireUnlock(t *testing.T) {
	h := newHarness(t, "pw")

	_, stderr, code := h.run("pw\n", "ls")
	assert.Equal(t, ExitDeviceState, code)
	assert.Contains(t, stderr, "run unlock first")
}

func TestFileCommands(t *testing.T) {
	h := newHarness(t, "pw")
	require.NoError(t, afero.WriteFile(h.fs, "/work/a.txt", []byte("alpha"), 0o600))
	require.NoError(t, afero.WriteFile(h.fs, "/work/b.txt", []byte("bravo"), 0o600))

	_, stderr, code := h.run("pw\n", "unlock")
	require.Equal(t, ExitOK, code, stderr)

	_, stderr, code = h.run("pw\n", "put", "/work/*.txt")
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stderr, "Stored a.txt")
	assert.Contains(t, stderr, "Stored b.txt")

	out, stderr, code := h.run("pw\n", "ls", "-o", "json")
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, out, `"name": "a.txt"`)
	assert.Contains(t, out, `"name": "b.txt"`)
	assert.NotContains(t, out, "alpha")

	_, stderr, code = h.run("pw\n", "get", "a.txt", "--to", "/work/out.txt")
	require.Equal(t, ExitOK, code, stderr)
	data, err := afero.ReadFile(h.fs, "/work/out.txt")
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))

	_, stderr, code = h.run("pw\n", "get", "a.txt", "--to", "/work/out.txt")
	assert.Equal(t, ExitInput, code, stderr)

	_, stderr, code = h.run("wrong\n", "get", "b.txt", "--to", "/work/b2.txt")
	assert.Equal(t, ExitAuthentication, code, stderr)

	_, stderr, code = h.run("pw\n", "rm", "b.txt", "-y")
	require.Equal(t, ExitOK, code, stderr)
	ok, err := afero.Exists(h.sys.vol, "/.b.txt.enc")
	require.NoError(t, err)
	assert.False(t, ok)

	_, stderr, code = h.run("n\n", "rm", "a.txt")
	assert.Equal(t, ExitInput, code, stderr)
	ok, err = afero.Exists(h.sys.vol, "/.a.txt.enc")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPutMistypedPassphraseCreatesNothing(t *testing.T) {
	h := newHarness(t, "pw")
	require.NoError(t, afero.WriteFile(h.fs, "/work/a.txt", []byte("alpha"), 0o600))

	_, stderr, code := h.run("pw\n", "unlock")
	require.Equal(t, ExitOK, code, stderr)

	_, stderr, code = h.run("pw-typo\n", "put", "/work/a.txt")
	assert.Equal(t, ExitAuthentication, code, stderr)
	assert.NotContains(t, stderr, "Stored")
	files, err := afero.ReadDir(h.sys.vol, "/")
	require.NoError(t, err)
	assert.Empty(t, files, "no header or envelope may be sealed under a rejected passphrase")

	_, stderr, code = h.run("pw\n", "put", "/work/a.txt")
	require.Equal(t, ExitOK, code, stderr)
	_, stderr, code = h.run("pw\n", "get", "a.txt", "--to", "/work/a2.txt")
	require.Equal(t, ExitOK, code, stderr)
	data, err := afero.ReadFile(h.fs, "/work/a2.txt")
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))
}

func TestPutMissingInput(t *testing.T) {
	h := newHarness(t, "pw")

	_, stderr, code := h.run("pw\n", "put", "/nope/*.txt")
	assert.Equal(t, ExitInput, code)
	assert.Contains(t, stderr, "not found")
}

func TestOpenExposesBriefly(t *testing.T) {
	h := newHarness(t, "pw")
	require.NoError(t, afero.WriteFile(h.fs, "/work/a.txt", []byte("alpha"), 0o600))

	_, stderr, code := h.run("pw\n", "unlock")
	require.Equal(t, ExitOK, code, stderr)
	_, stderr, code = h.run("pw\n", "put", "/work/a.txt")
	require.Equal(t, ExitOK, code, stderr)

	_, stderr, code = h.run("pw\n", "open", "a.txt")
	require.Equal(t, ExitOK, code, stderr)

	h.sys.mu.Lock()
	launched := append([]string(nil), h.sys.launched...)
	h.sys.mu.Unlock()
	require.Len(t, launched, 1)
	assert.True(t, strings.HasPrefix(launched[0], "xdg-open "))
	assert.True(t, strings.HasSuffix(launched[0], ".txt"))

	path := strings.TrimPrefix(launched[0], "xdg-open ")
	ok, err := afero.Exists(h.fs, path)
	require.NoError(t, err)
	assert.False(t, ok, "plaintext copy should be gone")
}

func TestPasswdRotatesAndRekeys(t *testing.T) {
	h := newHarness(t, "pw")
	require.NoError(t, afero.WriteFile(h.fs, "/work/a.txt", []byte("alpha"), 0o600))

	_, stderr, code := h.run("pw\n", "unlock")
	require.Equal(t, ExitOK, code, stderr)
	_, stderr, code = h.run("pw\n", "put", "/work/a.txt")
	require.Equal(t, ExitOK, code, stderr)
	_, stderr, code = h.run("", "lock")
	require.Equal(t, ExitOK, code, stderr)

	input := "pw\n" + strongPass + "\n" + strongPass + "\n"
	_, stderr, code = h.run(input, "passwd")
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stderr, "Volume passphrase changed")
	assert.Contains(t, stderr, "Files re-encrypted")
	assert.NotContains(t, stderr, strongPass)

	mapped, mounted, passphrase := h.sys.state()
	assert.Equal(t, strongPass, passphrase)
	assert.False(t, mapped, "volume should be locked again")
	assert.False(t, mounted)

	_, stderr, code = h.run("pw\n", "unlock")
	assert.Equal(t, ExitAuthentication, code, stderr)

	_, stderr, code = h.run(strongPass+"\n", "unlock")
	require.Equal(t, ExitOK, code, stderr)
	_, stderr, code = h.run(strongPass+"\n", "get", "a.txt", "--to", "/work/a2.txt")
	require.Equal(t, ExitOK, code, stderr)
	data, err := afero.ReadFile(h.fs, "/work/a2.txt")
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))
}

func TestPasswdMistypedCurrentKeepsVolumeMounted(t *testing.T) {
	h := newHarness(t, "pw")
	require.NoError(t, afero.WriteFile(h.fs, "/work/a.txt", []byte("alpha"), 0o600))

	_, stderr, code := h.run("pw\n", "unlock")
	require.Equal(t, ExitOK, code, stderr)
	_, stderr, code = h.run("pw\n", "put", "/work/a.txt")
	require.Equal(t, ExitOK, code, stderr)

	input := "typo pass\n" + strongPass + "\n" + strongPass + "\n"
	_, stderr, code = h.run(input, "passwd")
	assert.Equal(t, ExitAuthentication, code, stderr)
	assert.NotContains(t, stderr, "Volume passphrase changed")

	mapped, mounted, passphrase := h.sys.state()
	assert.True(t, mapped)
	assert.True(t, mounted, "a rejected passphrase must not lock the volume")
	assert.Equal(t, "pw", passphrase)

	_, stderr, code = h.run("pw\n", "get", "a.txt", "--to", "/work/a2.txt")
	require.Equal(t, ExitOK, code, stderr)
}

func TestPasswdWithoutFiles(t *testing.T) {
	h := newHarness(t, "pw")

	input := "pw\n" + strongPass + "\n" + strongPass + "\n"
	_, stderr, code := h.run(input, "passwd")
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stderr, "Volume passphrase changed")
	assert.NotContains(t, stderr, "Files re-encrypted")

	_, _, passphrase := h.sys.state()
	assert.Equal(t, strongPass, passphrase)
	ok, err := afero.Exists(h.sys.vol, "/.secureusb")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPasswdRejectsWeakAndMismatch(t *testing.T) {
	h := newHarness(t, "pw")

	_, _, code := h.run("pw\nabc\nabc\n", "passwd")
	assert.Equal(t, ExitInput, code)

	_, _, code = h.run("pw\n"+strongPass+"\nsomething else\n", "passwd")
	assert.Equal(t, ExitInput, code)

	_, _, passphrase := h.sys.state()
	assert.Equal(t, "pw", passphrase)
}

func TestConfigCommands(t *testing.T) {
	h := newHarness(t, "pw")

	out, _, code := h.run("", "config", "view")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "device: "+testDevice)
	assert.Contains(t, out, "mount_path: "+testMount)
	assert.Contains(t, out, "kdf_iterations: 1000")

	_, stderr, code := h.run("", "config", "init", "/etc/test/secureusb.yaml")
	require.Equal(t, ExitOK, code, stderr)
	data, err := afero.ReadFile(h.fs, "/etc/test/secureusb.yaml")
	require.NoError(t, err)
	assert.Contains(t, string(data), "device: "+testDevice)

	_, _, code = h.run("", "config", "init", "/etc/test/secureusb.yaml")
	assert.Equal(t, ExitInput, code)

	_, _, code = h.run("", "config", "init", "/etc/test/secureusb.yaml", "--force")
	assert.Equal(t, ExitOK, code)
}
