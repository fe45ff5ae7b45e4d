package cli

import (
	"context"

	"SecureUSB/internal/errors"
	"SecureUSB/internal/log"
	"SecureUSB/internal/vault"
	"SecureUSB/internal/volume"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Unlock and mount the volume",
	Long: `Open the LUKS device and mount it. Unlocking a volume that is already
mounted succeeds without prompting twice or creating a second mapping.

Examples:
  # Prompts for the passphrase (and the sudo password, if needed)
  secureusb unlock --device /dev/sdb1

  # Read the passphrase from stdin (sudo then runs non-interactively)
  echo "$PASSPHRASE" | secureusb unlock -d /dev/sdb1`,
	Args: cobra.NoArgs,
	RunE: runUnlock,
}

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Unmount and close the volume",
	Args:  cobra.NoArgs,
	RunE:  runLock,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the actual state of the volume",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the volume passphrase and re-encrypt the files",
	Long: `Replace the LUKS key slot passphrase, then re-encrypt every file under the
new passphrase. The volume is locked for the key change and returned to the
state it was in before. Rotation is refused when another process may be using
the device.`,
	Args: cobra.NoArgs,
	RunE: runPasswd,
}

func init() {
	rootCmd.AddCommand(unlockCmd, lockCmd, statusCmd, passwdCmd)
}

func runUnlock(cmd *cobra.Command, _ []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	ctx := cmd.Context()

	state, err := e.ctrl.Refresh(ctx)
	if err != nil {
		return err
	}
	if state == volume.Mounted {
		e.out.PrintSuccess("%s is already unlocked at %s", e.vcfg.Device, e.vcfg.MountPath)
		return nil
	}

	pass, err := e.passphrase("Passphrase: ")
	if err != nil {
		return err
	}
	defer pass.Destroy()
	if err := pass.Use(func(b []byte) error { return e.ctrl.Unlock(ctx, b) }); err != nil {
		return err
	}
	e.out.PrintSuccess("Unlocked %s at %s", e.vcfg.Device, e.vcfg.MountPath)
	return nil
}

func runLock(cmd *cobra.Command, _ []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	ctx := cmd.Context()

	state, err := e.ctrl.Refresh(ctx)
	if err != nil {
		return err
	}
	if state == volume.Locked {
		e.out.PrintSuccess("%s is already locked", e.vcfg.Device)
		return nil
	}
	if err := e.ctrl.Unmount(ctx); err != nil {
		return err
	}
	e.out.PrintSuccess("Locked %s", e.vcfg.Device)
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	if _, err := e.ctrl.Refresh(cmd.Context()); err != nil {
		return err
	}
	return e.out.FormatStatus(e.ctrl.Handle(), outputFormat)
}

func runPasswd(cmd *cobra.Command, _ []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	ctx := cmd.Context()

	state, err := e.ctrl.Refresh(ctx)
	if err != nil {
		return err
	}
	wasMounted := state == volume.Mounted

	old, newPass, err := e.readRotation()
	if err != nil {
		return err
	}
	defer old.Destroy()
	defer newPass.Destroy()

	return old.Use(func(o []byte) error {
		return newPass.Use(func(n []byte) error {
			return e.rotate(ctx, o, n, wasMounted)
		})
	})
}

// rotate changes the key slot and re-encrypts the files. The files can only
// be reached through a mounted volume, so the volume is unlocked with the new
// passphrase afterwards and locked again unless it was mounted before.
func (e *env) rotate(ctx context.Context, old, newPass []byte, wasMounted bool) error {
	if err := volume.CheckPassphrase(old, newPass, cfg.MinPassphraseScore); err != nil {
		return err
	}

	// a mistyped current passphrase must fail before the volume is locked
	if err := e.ctrl.VerifyPassphrase(ctx, old); err != nil {
		return err
	}

	if wasMounted {
		if err := e.ctrl.Unmount(ctx); err != nil {
			return err
		}
	}

	if err := e.ctrl.ChangePassphrase(ctx, old, newPass); err != nil {
		if wasMounted {
			return multierr.Append(err, e.ctrl.Unlock(context.WithoutCancel(ctx), old))
		}
		return err
	}
	e.out.PrintSuccess("Volume passphrase changed")

	if err := e.ctrl.Unlock(ctx, newPass); err != nil {
		return errors.Wrap(err, "passphrase changed but the volume could not be unlocked to re-encrypt files; run rekey")
	}
	err := e.rekey(ctx, old, newPass)
	if !wasMounted {
		err = multierr.Append(err, e.ctrl.Unmount(context.WithoutCancel(ctx)))
	}
	return err
}

// rekey re-encrypts the files sealed under old with newPass. A volume that
// never had files stored has nothing to re-encrypt.
func (e *env) rekey(ctx context.Context, old, newPass []byte) error {
	ok, err := vault.Initialized(mountFs(e.vcfg.MountPath))
	if err != nil {
		return err
	}
	if !ok {
		log.Debug("no volume header; nothing to re-encrypt", log.String("device", e.vcfg.Device))
		return nil
	}

	v, err := e.openVault(ctx, old)
	if err != nil {
		return errors.Wrap(err, "files are still sealed with the previous passphrase; run rekey")
	}
	defer v.Close()

	if err := v.Rekey(ctx, newPass); err != nil {
		return errors.Wrap(err, "files are still sealed with the previous passphrase; run rekey")
	}
	log.Info("files re-encrypted", log.String("device", e.vcfg.Device))
	e.out.PrintSuccess("Files re-encrypted")
	return nil
}
