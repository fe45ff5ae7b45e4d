package cli

import (
	"fmt"
	"path/filepath"

	"SecureUSB/internal/crypto"
	"SecureUSB/internal/envelope"
	"SecureUSB/internal/errors"
	"SecureUSB/internal/vault"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List the files on the unlocked volume",
	Args:    cobra.NoArgs,
	RunE:    runList,
}

var putCmd = &cobra.Command{
	Use:   "put FILE...",
	Short: "Encrypt files onto the unlocked volume",
	Long: `Encrypt one or more files onto the volume. Each file is stored as
.<name>.enc; an existing file of the same name is replaced.

Examples:
  secureusb put report.pdf
  secureusb put 'photos/*.jpg'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPut,
}

var getCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Decrypt a file from the volume to disk",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var openCmd = &cobra.Command{
	Use:   "open NAME",
	Short: "Decrypt a file briefly and hand it to a viewer",
	Long: `Decrypt a file into a private temporary directory and start the configured
viewer on it. The plaintext copy is overwritten and removed once the viewer
lifetime has passed.`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

var rmCmd = &cobra.Command{
	Use:     "rm NAME",
	Aliases: []string{"delete"},
	Short:   "Delete a file from the volume",
	Args:    cobra.ExactArgs(1),
	RunE:    runRemove,
}

var rekeyCmd = &cobra.Command{
	Use:   "rekey",
	Short: "Re-encrypt the files after the volume passphrase changed elsewhere",
	Long: `Re-encrypt every file sealed with a previous passphrase under the current
volume passphrase. Use this when passwd was interrupted after the key slot
change, or when the LUKS passphrase was changed with another tool.`,
	Args: cobra.NoArgs,
	RunE: runRekey,
}

// Get flags
var (
	getDest string
)

func init() {
	rootCmd.AddCommand(lsCmd, putCmd, getCmd, openCmd, rmCmd, rekeyCmd)

	getCmd.Flags().StringVar(&getDest, "to", "", "destination path (default: NAME in the current directory)")
}

func runList(cmd *cobra.Command, _ []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	return e.withVault(cmd.Context(), "list", func(v *vault.Vault) error {
		entries, err := v.List()
		if err != nil {
			return err
		}
		return e.out.FormatEntries(entries, outputFormat)
	})
}

// expandInputs resolves glob patterns to regular files.
func expandInputs(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		// Expand glob patterns
		matches, err := afero.Glob(hostFs, pattern)
		if err != nil {
			return nil, errors.Input(fmt.Sprintf("invalid glob pattern %q", pattern))
		}
		if len(matches) == 0 {
			return nil, errors.NewFileError("put", pattern, errors.Input("input file not found"))
		}
		for _, match := range matches {
			info, err := hostFs.Stat(match)
			if err != nil {
				return nil, errors.NewFileError("stat", match, err)
			}
			if info.IsDir() {
				return nil, errors.NewFileError("put", match, errors.Input("is a directory"))
			}
			files = append(files, match)
		}
	}
	return files, nil
}

func runPut(cmd *cobra.Command, args []string) error {
	files, err := expandInputs(args)
	if err != nil {
		return err
	}
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	return e.withVault(cmd.Context(), "put", func(v *vault.Vault) error {
		stored, err := v.PutFiles(cmd.Context(), hostFs, files)
		for _, name := range stored {
			e.out.PrintSuccess("Stored %s", displayName(name))
		}
		return err
	})
}

func runGet(cmd *cobra.Command, args []string) error {
	name := args[0]
	dest := getDest
	if dest == "" {
		dest = filepath.Base(name)
	}

	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	if ok, _ := afero.Exists(hostFs, dest); ok {
		if !e.out.Confirm(e.term.Reader(), fmt.Sprintf("%s already exists. Overwrite?", dest)) {
			return errors.Input("operation cancelled")
		}
	}

	return e.withVault(cmd.Context(), "get", func(v *vault.Vault) error {
		if err := v.Export(name, hostFs, dest); err != nil {
			return err
		}
		e.out.PrintSuccess("Decrypted %s to %s", name, dest)
		return nil
	})
}

func runOpen(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	ctx := cmd.Context()

	return e.withVault(ctx, "open", func(v *vault.Vault) error {
		data, err := v.Get(args[0])
		if err != nil {
			return err
		}
		defer crypto.SecureZero(data)

		view, err := e.newViewer()
		if err != nil {
			return err
		}
		defer view.Close()

		exp, err := view.Show(ctx, filepath.Base(args[0]), data)
		if err != nil {
			return err
		}
		e.out.PrintSuccess("Opened %s; the plaintext copy is removed in %s", args[0], cfg.Viewer.Lifetime)
		return exp.Wait()
	})
}

func runRemove(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	if !e.out.Confirm(e.term.Reader(), fmt.Sprintf("Delete %s from the volume?", args[0])) {
		return errors.Input("operation cancelled")
	}
	return e.withVault(cmd.Context(), "delete", func(v *vault.Vault) error {
		if err := v.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		e.out.PrintSuccess("Deleted %s", args[0])
		return nil
	})
}

func runRekey(cmd *cobra.Command, _ []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	ctx := cmd.Context()

	if err := e.requireMounted(ctx, "rekey"); err != nil {
		return err
	}
	old, err := e.passphrase("Previous passphrase: ")
	if err != nil {
		return err
	}
	defer old.Destroy()
	current, err := e.passphrase("Current volume passphrase: ")
	if err != nil {
		return err
	}
	defer current.Destroy()

	return old.Use(func(o []byte) error {
		return current.Use(func(c []byte) error {
			if err := e.ctrl.VerifyPassphrase(ctx, c); err != nil {
				return err
			}
			return e.rekey(ctx, o, c)
		})
	})
}

// displayName maps a stored envelope name back to the name the user gave.
func displayName(stored string) string {
	if name, err := envelope.OriginalName(stored); err == nil {
		return name
	}
	return stored
}
