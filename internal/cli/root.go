// Package cli implements the secureusb command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"SecureUSB/internal/config"
	"SecureUSB/internal/errors"
	"SecureUSB/internal/log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set by main.go
var Version = "dev"

// Global flags
var (
	cfgFile      string
	outputFormat string
	quiet        bool
	assumeYes    bool
)

var (
	settings  *viper.Viper = config.New()
	cfg       *config.Config
	logCloser io.Closer
)

// rootCmd is the base command when called without subcommands
var rootCmd = &cobra.Command{
	Use:   "secureusb",
	Short: "Unlock, mount and manage an encrypted USB volume",
	Long: `secureusb unlocks a LUKS-encrypted USB partition, mounts it and keeps the
files on it sealed individually:
  - cryptsetup and mount run through sudo; passphrases are passed on stdin only
  - every file is stored as an AES-256-CBC envelope keyed by PBKDF2-HMAC-SHA256
  - a Reed-Solomon protected header on the volume holds the salt and a key check
  - opened files are exposed briefly in a private directory, then shredded`,
	Version:            Version,
	SilenceErrors:      true,
	SilenceUsage:       true,
	PersistentPreRunE:  loadConfig,
	PersistentPostRunE: closeLog,
}

// Execute runs the CLI and returns the process exit code.
func Execute(version string) int {
	Version = version
	rootCmd.Version = version

	// Set up signal handling for graceful cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		if _, ok := <-sigChan; !ok {
			return
		}
		fmt.Fprintln(os.Stderr, "\nCancelling, locking the volume...")
		cancel()
		if _, ok := <-sigChan; ok {
			os.Exit(ExitInterrupted)
		}
	}()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		printError(rootCmd.ErrOrStderr(), err)
	}
	return ExitCode(err)
}

func init() {
	// Disable default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errors.Input(err.Error())
	})

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./secureusb.yaml, ~/.config/secureusb/secureusb.yaml, /etc/secureusb/secureusb.yaml)")
	pf.StringVarP(&outputFormat, "output", "o", "table", "output format (table, json, yaml)")
	pf.BoolVarP(&quiet, "quiet", "q", false, "suppress output except errors")
	pf.BoolVarP(&assumeYes, "yes", "y", false, "answer yes to confirmations")

	pf.StringP("device", "d", "", "encrypted block device, e.g. /dev/sdb1")
	pf.String("mapped-name", "", "device-mapper name for the unlocked volume")
	pf.String("mount-path", "", "where the volume is mounted")
	pf.String("fs-type", "", "filesystem type inside the volume")
	pf.String("elevation", "", "how privileged commands run (sudo, none)")
	pf.Duration("timeout", 0, "timeout for each external command")
	pf.Int("workers", 0, "parallel file operations (0 = number of CPUs)")
	pf.String("log-level", "", "log level (debug, info, warn, error, off)")
	pf.String("log-file", "", "write logs to this file instead of stderr")

	// Bind flags to config keys
	bindFlagOrPanic("device", "device")
	bindFlagOrPanic("mapped_name", "mapped-name")
	bindFlagOrPanic("mount_path", "mount-path")
	bindFlagOrPanic("fs_type", "fs-type")
	bindFlagOrPanic("elevation", "elevation")
	bindFlagOrPanic("command_timeout", "timeout")
	bindFlagOrPanic("workers", "workers")
	bindFlagOrPanic("log.level", "log-level")
	bindFlagOrPanic("log.file", "log-file")
}

func bindFlagOrPanic(configKey, flagName string) {
	if err := settings.BindPFlag(configKey, rootCmd.PersistentFlags().Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	switch outputFormat {
	case "table", "json", "yaml":
	default:
		return errors.Input(fmt.Sprintf("unsupported output format: %s", outputFormat))
	}

	c, err := config.Load(settings, cfgFile)
	if err != nil {
		return err
	}
	closer, err := log.Setup(c.Log.Level, c.Log.File)
	if err != nil {
		return errors.NewFileError("open log", c.Log.File, err)
	}
	cfg, logCloser = c, closer
	log.Debug("starting", log.String("command", cmd.CommandPath()), log.String("version", Version))
	return nil
}

func closeLog(*cobra.Command, []string) error {
	if logCloser == nil {
		return nil
	}
	err := logCloser.Close()
	logCloser = nil
	return err
}
