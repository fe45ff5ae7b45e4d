// Package errors provides typed errors for SecureUSB operations.
// Every failure kind is a sentinel so callers can use errors.Is() to tell
// them apart, and errors.As() to recover the operation context.
package errors

import (
	"errors"
	"fmt"
)

// Failure kinds. Use errors.Is(err, errors.ErrBusy) to check for a kind.
var (
	// Caller input
	ErrInput = errors.New("invalid input")

	// Credentials
	ErrAuthentication = errors.New("authentication failed")

	// Volume lifecycle
	ErrDeviceState      = errors.New("unexpected device state")
	ErrBusy             = errors.New("device busy")
	ErrConcurrentAccess = errors.New("exclusive access not guaranteed")

	// Filesystem
	ErrFilesystem        = errors.New("filesystem error")
	ErrInvalidFilesystem = fmt.Errorf("wrong or missing filesystem type: %w", ErrFilesystem)

	// Envelope and header data
	ErrCorruptEnvelope = errors.New("corrupt envelope")

	// External commands
	ErrProcess = errors.New("external command failed")
)

// Input validation errors
var (
	ErrPasswordEmpty    = fmt.Errorf("password cannot be empty: %w", ErrInput)
	ErrPasswordMismatch = fmt.Errorf("passwords do not match: %w", ErrInput)
	ErrPasswordReused   = fmt.Errorf("new password equals the current one: %w", ErrInput)
	ErrPasswordWeak     = fmt.Errorf("new password is too weak: %w", ErrInput)
	ErrInvalidName      = fmt.Errorf("invalid file name: %w", ErrInput)
)

// Crypto errors
var (
	ErrRandFailure = errors.New("crypto/rand failure")
	ErrRSDecode    = errors.New("Reed-Solomon decoding failed")
)

// kinds lists the taxonomy in match order. ErrInvalidFilesystem precedes
// ErrFilesystem because it wraps it.
var kinds = []error{
	ErrInput,
	ErrAuthentication,
	ErrConcurrentAccess,
	ErrBusy,
	ErrDeviceState,
	ErrInvalidFilesystem,
	ErrFilesystem,
	ErrCorruptEnvelope,
	ErrProcess,
}

// VolumeError represents a failed volume lifecycle operation.
// It carries both the failure kind and the underlying cause.
type VolumeError struct {
	Op     string // Operation: "unlock", "mount", "unmount", "precheck", "rotate"
	Device string // Device path or mapped name
	Kind   error  // One of the failure kind sentinels
	Err    error  // Underlying error, may be nil
}

func (e *VolumeError) Error() string {
	if e.Err != nil && errors.Is(e.Err, e.Kind) {
		// the cause already names the kind
		return fmt.Sprintf("%s %s: %v", e.Op, e.Device, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Device, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Device, e.Kind)
}

func (e *VolumeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewVolumeError creates a new VolumeError.
func NewVolumeError(op, device string, kind, err error) *VolumeError {
	return &VolumeError{Op: op, Device: device, Kind: kind, Err: err}
}

// ProcessError describes an external command that did not succeed.
// Detail is the command's trimmed diagnostic output; it never contains
// stdin content.
type ProcessError struct {
	Command  string
	ExitCode int
	Detail   string
	Err      error
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProcessError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProcess}
	}
	return []error{ErrProcess, e.Err}
}

// NewProcessError creates a new ProcessError.
func NewProcessError(command string, exitCode int, detail string, err error) *ProcessError {
	return &ProcessError{Command: command, ExitCode: exitCode, Detail: detail, Err: err}
}

// CryptoError represents an error during cryptographic operations.
type CryptoError struct {
	Op  string // Operation name: "rand", "pbkdf2", "cipher"
	Err error  // Underlying error
}

func (e *CryptoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crypto %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("crypto %s failed", e.Op)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// NewCryptoError creates a new CryptoError.
func NewCryptoError(op string, err error) *CryptoError {
	return &CryptoError{Op: op, Err: err}
}

// FileError represents an error during file operations on the volume.
type FileError struct {
	Op   string // Operation: "open", "read", "write", "stat", "rename", "remove"
	Path string // File path
	Err  error  // Underlying error
}

func (e *FileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s failed", e.Op, e.Path)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// NewFileError creates a new FileError.
func NewFileError(op, path string, err error) *FileError {
	return &FileError{Op: op, Path: path, Err: err}
}

// HeaderError represents an error in volume header parsing or validation.
type HeaderError struct {
	Field string // Header field that caused the error
	Err   error  // Underlying error
}

func (e *HeaderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("header %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("header %s invalid", e.Field)
}

func (e *HeaderError) Unwrap() error {
	return e.Err
}

// NewHeaderError creates a new HeaderError.
func NewHeaderError(field string, err error) *HeaderError {
	return &HeaderError{Field: field, Err: err}
}

// Is checks if target matches any of our sentinel errors.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Input returns an input error with the given message.
func Input(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInput)
}

// Corrupt returns a corrupt envelope error with the given message.
func Corrupt(message string) error {
	return fmt.Errorf("%s: %w", message, ErrCorruptEnvelope)
}

// Kind returns the failure kind sentinel for err, or nil when err does not
// belong to the taxonomy.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsAuthFailed checks if the error indicates a rejected credential.
func IsAuthFailed(err error) bool {
	return errors.Is(err, ErrAuthentication)
}

// IsBusy checks if the error indicates a device still in use.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}

// IsCorrupt checks if the error indicates malformed envelope or header data.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorruptEnvelope)
}
