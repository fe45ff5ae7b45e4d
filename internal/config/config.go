// Package config loads SecureUSB settings from a YAML file, SECUREUSB_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"SecureUSB/internal/crypto"
	"SecureUSB/internal/errors"
	"SecureUSB/internal/gateway"
	"SecureUSB/internal/log"
	"SecureUSB/internal/viewer"
	"SecureUSB/internal/volume"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

// FileName is the config file name searched for, without extension.
const FileName = "secureusb"

// EnvPrefix prefixes environment overrides: SECUREUSB_MOUNT_PATH,
// SECUREUSB_LOG_LEVEL, ...
const EnvPrefix = "SECUREUSB"

// Config holds every setting.
type Config struct {
	Device             string        `mapstructure:"device" yaml:"device"`
	MappedName         string        `mapstructure:"mapped_name" yaml:"mapped_name"`
	MountPath          string        `mapstructure:"mount_path" yaml:"mount_path"`
	FSType             string        `mapstructure:"fs_type" yaml:"fs_type"`
	KDFIterations      int           `mapstructure:"kdf_iterations" yaml:"kdf_iterations"`
	Elevation          string        `mapstructure:"elevation" yaml:"elevation"`
	CommandTimeout     time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	Workers            int           `mapstructure:"workers" yaml:"workers"`
	MinPassphraseScore int           `mapstructure:"min_passphrase_score" yaml:"min_passphrase_score"`
	Log                LogConfig     `mapstructure:"log" yaml:"log"`
	Viewer             ViewerConfig  `mapstructure:"viewer" yaml:"viewer"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"` // empty logs to stderr
}

// ViewerConfig controls plaintext exposure for external viewers.
type ViewerConfig struct {
	Command  string        `mapstructure:"command" yaml:"command"`
	Lifetime time.Duration `mapstructure:"lifetime" yaml:"lifetime"`
	Dir      string        `mapstructure:"dir" yaml:"dir"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	elevation := string(gateway.ElevateSudo)
	if unix.Geteuid() == 0 {
		elevation = string(gateway.ElevateNone)
	}
	return Config{
		MappedName:         volume.DefaultMappedName,
		MountPath:          volume.DefaultMountPath,
		FSType:             volume.DefaultFSType,
		KDFIterations:      crypto.DefaultIterations,
		Elevation:          elevation,
		CommandTimeout:     gateway.DefaultTimeout,
		MinPassphraseScore: 3,
		Log:                LogConfig{Level: "warn"},
		Viewer:             ViewerConfig{Command: viewer.DefaultCommand, Lifetime: viewer.DefaultLifetime},
	}
}

// New returns a viper instance with defaults, search paths and environment
// binding set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/secureusb")
	v.AddConfigPath("/etc/secureusb")

	d := Defaults()
	v.SetDefault("device", d.Device)
	v.SetDefault("mapped_name", d.MappedName)
	v.SetDefault("mount_path", d.MountPath)
	v.SetDefault("fs_type", d.FSType)
	v.SetDefault("kdf_iterations", d.KDFIterations)
	v.SetDefault("elevation", d.Elevation)
	v.SetDefault("command_timeout", d.CommandTimeout)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("min_passphrase_score", d.MinPassphraseScore)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("viewer.command", d.Viewer.Command)
	v.SetDefault("viewer.lifetime", d.Viewer.Lifetime)
	v.SetDefault("viewer.dir", d.Viewer.Dir)

	// Allow environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file (file if set, otherwise the first one found on
// the search path), applies overrides and validates the result. A missing
// file on the search path is not an error; a missing explicit file is.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || file != "" {
			return nil, errors.NewFileError("read config", file, err)
		}
		// Config file not found is OK, we'll use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Input(fmt.Sprintf("malformed config: %v", err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if used := v.ConfigFileUsed(); used != "" {
		log.Debug("config loaded", log.String("file", used))
	}
	return &cfg, nil
}

// Validate checks value ranges. The device may be empty here; commands that
// touch the volume require it through VolumeConfig.
func (c *Config) Validate() error {
	if _, err := gateway.ParseElevation(c.Elevation); err != nil {
		return err
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return errors.Input(fmt.Sprintf("log.level: %v", err))
	}
	switch {
	case c.KDFIterations < crypto.MinIterations:
		return errors.Input(fmt.Sprintf("kdf_iterations must be at least %d", crypto.MinIterations))
	case c.CommandTimeout < 0:
		return errors.Input("command_timeout cannot be negative")
	case c.Workers < 0:
		return errors.Input("workers cannot be negative")
	case c.MinPassphraseScore < 0 || c.MinPassphraseScore > 4:
		return errors.Input("min_passphrase_score must be between 0 and 4")
	case c.Viewer.Lifetime <= 0:
		return errors.Input("viewer.lifetime must be positive")
	case c.Viewer.Command == "":
		return errors.Input("viewer.command cannot be empty")
	}
	if c.Device != "" {
		return c.Volume().Validate()
	}
	return nil
}

// Volume returns the volume identity.
func (c *Config) Volume() volume.Config {
	return volume.Config{
		Device:     c.Device,
		MappedName: c.MappedName,
		MountPath:  c.MountPath,
		FSType:     c.FSType,
	}
}

// YAML renders the configuration as a config file.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// DefaultPath is where `config init` writes: $HOME/.config/secureusb.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.NewFileError("locate", "home directory", err)
	}
	return filepath.Join(home, ".config", "secureusb", FileName+".yaml"), nil
}

// WriteFile writes c to path, creating parent directories. An existing file
// is only replaced when force is set.
func WriteFile(fs afero.Fs, path string, c *Config, force bool) error {
	if !force {
		if ok, _ := afero.Exists(fs, path); ok {
			return errors.Input(fmt.Sprintf("%s already exists", path))
		}
	}
	data, err := c.YAML()
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.NewFileError("mkdir", filepath.Dir(path), err)
	}
	if err := afero.WriteFile(fs, path, data, 0o600); err != nil {
		return errors.NewFileError("write", path, err)
	}
	return nil
}
