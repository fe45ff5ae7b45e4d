package volume

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"SecureUSB/internal/errors"
)

// simDevice is an in-memory stand-in for cryptsetup, dmsetup and mount. It
// implements Backend and MountProbe.
type simDevice struct {
	mu         sync.Mutex
	passphrase string
	mappings   map[string]string // name -> device
	mounts     map[string]string // path -> source
	dirs       map[string]bool
	holders    int // extra handles on the mapping
	fsType     string

	openCalls  atomic.Int32
	openDelay  time.Duration
	failMount  error
	failClose  error
	failUmount error
	calls      []string
}

func newSim(passphrase string) *simDevice {
	return &simDevice{
		passphrase: passphrase,
		mappings:   make(map[string]string),
		mounts:     make(map[string]string),
		dirs:       make(map[string]bool),
		fsType:     DefaultFSType,
	}
}

func (s *simDevice) record(call string) {
	s.calls = append(s.calls, call)
}

func (s *simDevice) Open(ctx context.Context, device, name string, passphrase []byte) error {
	s.openCalls.Add(1)
	if s.openDelay > 0 {
		time.Sleep(s.openDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("open")
	if string(passphrase) != s.passphrase {
		return errors.Wrap(errors.ErrAuthentication, "passphrase rejected")
	}
	if _, ok := s.mappings[name]; ok {
		return errors.Wrap(errors.ErrDeviceState, "mapping already exists")
	}
	s.mappings[name] = device
	return nil
}

func (s *simDevice) Close(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("close")
	if s.failClose != nil {
		return s.failClose
	}
	if _, ok := s.mappings[name]; !ok {
		return nil
	}
	if s.holders > 0 || s.mountedFrom(mapperDir+"/"+name) {
		return errors.Wrap(errors.ErrBusy, "device is still in use")
	}
	delete(s.mappings, name)
	return nil
}

func (s *simDevice) mountedFrom(source string) bool {
	for _, src := range s.mounts {
		if src == source {
			return true
		}
	}
	return false
}

func (s *simDevice) Status(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("status")
	_, ok := s.mappings[name]
	return ok, nil
}

func (s *simDevice) OpenCount(ctx context.Context, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("opencount")
	n := s.holders
	if s.mountedFrom(mapperDir + "/" + name) {
		n++
	}
	return n, nil
}

func (s *simDevice) MakeDir(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("mkdir")
	s.dirs[path] = true
	return nil
}

func (s *simDevice) Mount(ctx context.Context, source, target, fsType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("mount")
	if s.failMount != nil {
		return s.failMount
	}
	if fsType != s.fsType {
		return errors.Wrap(errors.ErrInvalidFilesystem, "wrong fs type")
	}
	if _, ok := s.mounts[target]; ok {
		return errors.Wrap(errors.ErrDeviceState, "already mounted")
	}
	s.mounts[target] = source
	return nil
}

func (s *simDevice) Unmount(ctx context.Context, target string, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("umount")
	if s.failUmount != nil {
		return s.failUmount
	}
	delete(s.mounts, target)
	return nil
}

func (s *simDevice) ChangeKey(ctx context.Context, device string, old, newPass []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("changekey")
	if string(old) != s.passphrase {
		return errors.Wrap(errors.ErrAuthentication, "passphrase rejected")
	}
	s.passphrase = string(newPass)
	return nil
}

func (s *simDevice) TestKey(ctx context.Context, device string, passphrase []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("testkey")
	if string(passphrase) != s.passphrase {
		return errors.Wrap(errors.ErrAuthentication, "passphrase rejected")
	}
	return nil
}

func (s *simDevice) IsMounted(path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.mounts[path]
	return ok, nil
}

func (s *simDevice) mappingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mappings)
}

func (s *simDevice) history() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *simDevice) reset() {
	s.mu.Lock()
	s.calls = nil
	s.mu.Unlock()
}
