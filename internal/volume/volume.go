// Package volume drives the lifecycle of an encrypted removable volume.
//
// A Controller moves one device through
//
//	Locked → Unlocking → Mounted → Unmounting → Locked
//
// using a Backend (normally the process gateway) for every privileged step.
// Operations on one device are serialized through Locks, so a duplicate
// trigger waits for the operation in flight and then observes its result.
//
// Failures surface as *errors.VolumeError carrying one taxonomy kind.
package volume

import (
	"context"
	"path/filepath"
	"strings"
)

// Defaults for Config fields left empty.
const (
	DefaultMappedName = "encrypted_partition"
	DefaultMountPath  = "/mnt/private_partition"
	DefaultFSType     = "xfs"
)

// State is the lifecycle state of a volume.
type State int

const (
	Locked State = iota
	Unlocking
	Mounted
	Busy // pre-check or rotation in progress
	Unmounting
	Error // teardown failed; retry Unmount
)

func (s State) String() string {
	switch s {
	case Locked:
		return "locked"
	case Unlocking:
		return "unlocking"
	case Mounted:
		return "mounted"
	case Busy:
		return "busy"
	case Unmounting:
		return "unmounting"
	case Error:
		return "error"
	}
	return "unknown"
}

// Config identifies one volume.
type Config struct {
	Device     string // block device, e.g. /dev/sdb1 (a bare "sdb1" is resolved under /dev)
	MappedName string // device-mapper name
	MountPath  string
	FSType     string
}

// withDefaults fills empty fields and resolves a bare device name.
func (c Config) withDefaults() Config {
	if c.Device != "" && !strings.HasPrefix(c.Device, "/") {
		c.Device = filepath.Join("/dev", c.Device)
	}
	if c.MappedName == "" {
		c.MappedName = DefaultMappedName
	}
	if c.MountPath == "" {
		c.MountPath = DefaultMountPath
	}
	if c.FSType == "" {
		c.FSType = DefaultFSType
	}
	return c
}

// Handle is a snapshot of a volume's identity and state.
type Handle struct {
	Device     string `json:"device" yaml:"device"`
	MappedName string `json:"mapped_name" yaml:"mapped_name"`
	MapperPath string `json:"mapper_path" yaml:"mapper_path"`
	MountPath  string `json:"mount_path" yaml:"mount_path"`
	FSType     string `json:"fs_type" yaml:"fs_type"`
	State      State  `json:"state" yaml:"state"`
}

// MarshalText renders the state by name in JSON and YAML output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Backend performs the privileged steps. *gateway.Gateway implements it.
type Backend interface {
	Open(ctx context.Context, device, name string, passphrase []byte) error
	Close(ctx context.Context, name string) error
	Status(ctx context.Context, name string) (bool, error)
	OpenCount(ctx context.Context, name string) (int, error)
	MakeDir(ctx context.Context, path string) error
	Mount(ctx context.Context, source, target, fsType string) error
	Unmount(ctx context.Context, target string, force bool) error
	ChangeKey(ctx context.Context, device string, old, newPass []byte) error
	TestKey(ctx context.Context, device string, passphrase []byte) error
}

// MountProbe reports whether a path is a mount point.
// mountinfo.Probe implements it.
type MountProbe interface {
	IsMounted(path string) (bool, error)
}
