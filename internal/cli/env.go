package cli

import (
	"context"
	"fmt"
	"os"
	"sync"

	"SecureUSB/internal/errors"
	"SecureUSB/internal/gateway"
	"SecureUSB/internal/log"
	"SecureUSB/internal/mountinfo"
	"SecureUSB/internal/secret"
	"SecureUSB/internal/vault"
	"SecureUSB/internal/viewer"
	"SecureUSB/internal/volume"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// Seams replaced in tests.
var (
	stdin     = os.Stdin
	newRunner = func() gateway.Runner { return &gateway.ExecRunner{} }
	newProbe  = func() volume.MountProbe { return mountinfo.Probe{} }
	hostFs    = afero.NewOsFs()
	mountFs   = func(root string) afero.Fs { return afero.NewBasePathFs(afero.NewOsFs(), root) }
)

// env is everything a volume command needs, built from the loaded config.
type env struct {
	cmd   *cobra.Command
	term  *secret.Terminal
	sudo  *sudoPassword
	gw    *gateway.Gateway
	ctrl  *volume.Controller
	vcfg  volume.Config
	out   *Reporter
	close func()
}

func newEnv(cmd *cobra.Command) (*env, error) {
	if cfg == nil {
		return nil, errors.Input("configuration not loaded")
	}
	vcfg := cfg.Volume()
	if vcfg.Device == "" {
		return nil, errors.Input("no device configured; pass --device or set device in secureusb.yaml")
	}

	term := &secret.Terminal{In: stdin, Out: cmd.ErrOrStderr()}
	elevation, err := gateway.ParseElevation(cfg.Elevation)
	if err != nil {
		return nil, err
	}

	e := &env{cmd: cmd, term: term, out: NewReporter(cmd.OutOrStdout(), cmd.ErrOrStderr(), quiet)}
	var cred gateway.Credential
	if elevation == gateway.ElevateSudo && term.IsTerminal() {
		// Piped input carries volume passphrases; sudo then runs with -n.
		e.sudo = &sudoPassword{provider: term}
		cred = e.sudo
	}
	e.gw = gateway.New(newRunner(),
		gateway.WithElevation(elevation, cred),
		gateway.WithTimeout(cfg.CommandTimeout),
	)

	e.ctrl, err = volume.New(vcfg, e.gw, newProbe(), volume.WithMinPassphraseScore(cfg.MinPassphraseScore))
	if err != nil {
		return nil, err
	}
	e.vcfg = e.ctrl.Config()
	e.close = func() {
		if e.sudo != nil {
			e.sudo.Destroy()
		}
	}
	return e, nil
}

// passphrase prompts for one secret.
func (e *env) passphrase(prompt string) (*secret.Secret, error) {
	return e.term.RequestSecret(prompt)
}

// newPassphrase prompts for a secret with confirmation.
func (e *env) newPassphrase(prompt string) (*secret.Secret, error) {
	return e.term.Confirming().RequestSecret(prompt)
}

// requireMounted refreshes the controller and fails unless the volume is
// mounted.
func (e *env) requireMounted(ctx context.Context, op string) error {
	state, err := e.ctrl.Refresh(ctx)
	if err != nil {
		return err
	}
	if state != volume.Mounted {
		return errors.NewVolumeError(op, e.vcfg.Device, errors.ErrDeviceState,
			fmt.Errorf("volume is %s; run unlock first", state))
	}
	return nil
}

// openVault opens the files on the mounted volume with passphrase. The
// volume header is only created once LUKS accepts the passphrase.
func (e *env) openVault(ctx context.Context, passphrase []byte) (*vault.Vault, error) {
	return vault.Open(mountFs(e.vcfg.MountPath), passphrase, vault.Options{
		Iterations: cfg.KDFIterations,
		Workers:    cfg.Workers,
		Remover:    e.gw,
		Root:       e.vcfg.MountPath,
		Check: func(b []byte) error {
			return e.ctrl.VerifyPassphrase(ctx, b)
		},
	})
}

// withVault prompts for the passphrase, opens the vault and runs fn.
func (e *env) withVault(ctx context.Context, op string, fn func(v *vault.Vault) error) error {
	if err := e.requireMounted(ctx, op); err != nil {
		return err
	}
	pass, err := e.passphrase("Passphrase: ")
	if err != nil {
		return err
	}
	defer pass.Destroy()

	var v *vault.Vault
	if err := pass.Use(func(b []byte) error {
		v, err = e.openVault(ctx, b)
		return err
	}); err != nil {
		return err
	}
	defer v.Close()
	return fn(v)
}

func (e *env) newViewer() (*viewer.Viewer, error) {
	return viewer.New(viewer.Options{
		Fs:       hostFs,
		Dir:      cfg.Viewer.Dir,
		Lifetime: cfg.Viewer.Lifetime,
		Command:  cfg.Viewer.Command,
		Launcher: e.gw,
	})
}

// sudoPassword asks for the sudo password the first time a privileged
// command needs it.
type sudoPassword struct {
	provider secret.Provider

	mu     sync.Mutex
	secret *secret.Secret
}

// Use implements gateway.Credential.
func (s *sudoPassword) Use(fn func(b []byte) error) error {
	s.mu.Lock()
	if s.secret == nil {
		sec, err := s.provider.RequestSecret("[sudo] password: ")
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.secret = sec
		log.Debug("sudo password cached for this command")
	}
	sec := s.secret
	s.mu.Unlock()
	return sec.Use(fn)
}

// Forget implements gateway.Forgetter: a password sudo rejected is asked
// for again next time.
func (s *sudoPassword) Forget() {
	log.Debug("sudo password rejected; cache cleared")
	s.Destroy()
}

// Destroy wipes the cached password.
func (s *sudoPassword) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.secret != nil {
		s.secret.Destroy()
		s.secret = nil
	}
}
