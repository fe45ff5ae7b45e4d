package cli

import (
	"context"

	"SecureUSB/internal/errors"
)

// Exit codes, one per failure kind.
const (
	ExitOK               = 0
	ExitFailure          = 1
	ExitInput            = 2
	ExitAuthentication   = 3
	ExitBusy             = 4
	ExitDeviceState      = 5
	ExitFilesystem       = 6
	ExitInvalidFS        = 7
	ExitCorrupt          = 8
	ExitProcess          = 9
	ExitConcurrentAccess = 10
	ExitInterrupted      = 130
)

var exitCodes = map[error]int{
	errors.ErrInput:             ExitInput,
	errors.ErrAuthentication:    ExitAuthentication,
	errors.ErrBusy:              ExitBusy,
	errors.ErrDeviceState:       ExitDeviceState,
	errors.ErrFilesystem:        ExitFilesystem,
	errors.ErrInvalidFilesystem: ExitInvalidFS,
	errors.ErrCorruptEnvelope:   ExitCorrupt,
	errors.ErrProcess:           ExitProcess,
	errors.ErrConcurrentAccess:  ExitConcurrentAccess,
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	if code, ok := exitCodes[errors.Kind(err)]; ok {
		return code
	}
	return ExitFailure
}
