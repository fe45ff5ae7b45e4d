package cli

import (
	"SecureUSB/internal/app"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Unlock the volume and manage its files interactively",
	Long: `Unlock and mount the volume, then offer a menu to list, import, open and
delete files or change the passphrase. The volume is locked again when the
session ends, including on Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: runSession,
}

func init() {
	rootCmd.AddCommand(sessionCmd)
}

func runSession(cmd *cobra.Command, _ []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	view, err := e.newViewer()
	if err != nil {
		return err
	}
	// the session closes it too; this covers a failed unlock
	defer view.Close()

	ctx := cmd.Context()
	s := &app.Session{
		Volume: e.ctrl,
		Open: func(passphrase []byte) (app.Store, error) {
			v, err := e.openVault(ctx, passphrase)
			if err != nil {
				return nil, err
			}
			return v, nil
		},
		Viewer:     view,
		Secrets:    e.term,
		NewSecrets: e.term.Confirming(),
		Files:      hostFs,
		In:         e.term.Reader(),
		Out:        cmd.OutOrStdout(),
	}
	return s.Run(ctx)
}
