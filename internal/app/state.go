// Package app runs an interactive session over an unlocked volume.
//
// A Session unlocks the volume, opens its vault and then serves a small menu
// (list, import, open, delete, change passphrase, exit) until the user exits
// or the context is cancelled. Teardown always shreds viewer copies, closes
// the vault and locks the volume.
//
// State tracks what the session shows in its status line. All state access
// is thread-safe via sync.RWMutex.
package app

import (
	"fmt"
	"sync"
	"time"

	"SecureUSB/internal/util"
	"SecureUSB/internal/volume"
)

// State holds the session facts that persist across menu actions.
type State struct {
	mu sync.RWMutex

	handle     volume.Handle
	unlockedAt time.Time
	files      int
	opened     int
	imported   int
}

// NewState creates an empty state.
func NewState() *State {
	return &State{}
}

// SetUnlocked records a successful unlock.
func (s *State) SetUnlocked(h volume.Handle, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = h
	s.unlockedAt = at
}

// SetLocked records that the volume is no longer available.
func (s *State) SetLocked(h volume.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = h
	s.unlockedAt = time.Time{}
}

// SetFiles records the number of files from the latest listing.
func (s *State) SetFiles(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = n
}

// AddImported counts imported files.
func (s *State) AddImported(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imported += n
}

// AddOpened counts files handed to the viewer.
func (s *State) AddOpened() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened++
}

// Status is a snapshot of State.
type Status struct {
	State    volume.State
	Mount    string
	Uptime   time.Duration
	Files    int
	Imported int
	Opened   int
}

// Snapshot returns the current status.
func (s *State) Snapshot(now time.Time) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		State:    s.handle.State,
		Mount:    s.handle.MountPath,
		Files:    s.files,
		Imported: s.imported,
		Opened:   s.opened,
	}
	if !s.unlockedAt.IsZero() {
		st.Uptime = now.Sub(s.unlockedAt)
	}
	return st
}

// String renders the status line shown above the menu.
func (st Status) String() string {
	if st.State != volume.Mounted {
		return fmt.Sprintf("volume %s", st.State)
	}
	return fmt.Sprintf("%s mounted for %s, %d file(s)", st.Mount, util.Durationify(st.Uptime), st.Files)
}
