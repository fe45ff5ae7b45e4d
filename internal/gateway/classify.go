package gateway

import (
	"strings"

	"SecureUSB/internal/errors"
)

// Outcome is the typed interpretation of a Result.
type Outcome int

const (
	OK Outcome = iota
	AlreadyUnlocked
	AlreadyMounted
	Active
	Inactive
	AuthFailed
	ElevationFailed
	InvalidFilesystem
	NotMounted
	Busy
	Failed
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case AlreadyUnlocked:
		return "already-unlocked"
	case AlreadyMounted:
		return "already-mounted"
	case Active:
		return "active"
	case Inactive:
		return "inactive"
	case AuthFailed:
		return "auth-failed"
	case ElevationFailed:
		return "elevation-failed"
	case InvalidFilesystem:
		return "invalid-filesystem"
	case NotMounted:
		return "not-mounted"
	case Busy:
		return "busy"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// cryptsetup exits with 2 when no key slot accepts the passphrase.
const cryptsetupExitNoKey = 2

// Substring rules, checked in order. Elevation failures come first because
// sudo's complaint precedes anything the target command would print.
var rules = []struct {
	needles []string
	outcome Outcome
}{
	{[]string{"incorrect password attempt", "Sorry, try again", "a password is required", "a terminal is required"}, ElevationFailed},
	{[]string{"No key available with this passphrase"}, AuthFailed},
	{[]string{"already exists"}, AlreadyUnlocked},
	{[]string{"already mounted"}, AlreadyMounted},
	{[]string{"wrong fs type", "bad superblock", "unknown filesystem type"}, InvalidFilesystem},
	{[]string{"not mounted", "no mount point specified"}, NotMounted},
	{[]string{"is inactive", "is not active"}, Inactive},
	{[]string{"is active"}, Active},
	{[]string{"target is busy", "Device or resource busy", "in use"}, Busy},
}

// Classify maps a raw result to an Outcome using the exit code plus known
// diagnostic substrings. Output is matched in the C locale.
func Classify(r Result) Outcome {
	text := r.Stderr + "\n" + r.Stdout
	for _, rule := range rules {
		for _, needle := range rule.needles {
			if strings.Contains(text, needle) {
				return rule.outcome
			}
		}
	}
	if r.ExitCode == 0 {
		return OK
	}
	if r.Command == "cryptsetup" && r.ExitCode == cryptsetupExitNoKey {
		return AuthFailed
	}
	return Failed
}

// Err converts an outcome to the error taxonomy. Outcomes that are not
// failures on their own (OK, Active, Inactive, NotMounted, AlreadyMounted)
// return nil; callers decide whether they are acceptable for their
// operation.
func (o Outcome) Err(r Result) error {
	switch o {
	case OK, Active, Inactive, NotMounted, AlreadyMounted:
		return nil
	case AuthFailed:
		return errors.Wrap(errors.ErrAuthentication, "passphrase rejected")
	case ElevationFailed:
		return errors.Wrap(errors.ErrAuthentication, "privilege elevation rejected")
	case AlreadyUnlocked:
		return errors.Wrap(errors.ErrDeviceState, "mapping already exists")
	case InvalidFilesystem:
		return errors.Wrap(errors.ErrInvalidFilesystem, r.Detail())
	case Busy:
		return errors.Wrap(errors.ErrBusy, r.Detail())
	default:
		return errors.NewProcessError(r.Command, r.ExitCode, r.Detail(), nil)
	}
}
