package secvault

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per failure kind. Every error returned by this
// package matches exactly one of them with errors.Is.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("vault not found")
	ErrAlreadyExists    = errors.New("vault already exists")
	ErrNotInitialized   = errors.New("vault not initialized")
	ErrOutOfRange       = errors.New("position out of range")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrOutOfMemory      = errors.New("out of memory")
	ErrBusy             = errors.New("vault is in use")
	ErrInterrupted      = errors.New("interrupted while waiting for vault lock")
	ErrFault            = errors.New("transfer fault")
	ErrClosed           = errors.New("already closed")
)

var (
	ErrNilConfig      = errors.New("config cannot be nil")
	ErrNilKeyProvider = errors.New("key provider cannot be nil")
	ErrNoTarget       = fmt.Errorf("no vault selected: %w", ErrInvalidArgument)
)

// ErrorKind is the discriminated result reported to transports
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	KindPermissionDenied
	KindNotFound
	KindAlreadyExists
	KindNotInitialized
	KindOutOfRange
	KindInvalidArgument
	KindOutOfMemory
	KindBusy
	KindInterrupted
	KindFault
	KindClosed
	KindUnknown
)

var kindNames = map[ErrorKind]string{
	KindNone:             "none",
	KindPermissionDenied: "permission-denied",
	KindNotFound:         "not-found",
	KindAlreadyExists:    "already-exists",
	KindNotInitialized:   "not-initialized",
	KindOutOfRange:       "out-of-range",
	KindInvalidArgument:  "invalid-argument",
	KindOutOfMemory:      "out-of-memory",
	KindBusy:             "busy",
	KindInterrupted:      "interrupted",
	KindFault:            "fault",
	KindClosed:           "closed",
	KindUnknown:          "unknown",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Kind classifies err. Fault is checked first because a FaultError may also
// carry the cause reported by the caller's reader or writer.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrFault):
		return KindFault
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyExists):
		return KindAlreadyExists
	case errors.Is(err, ErrNotInitialized):
		return KindNotInitialized
	case errors.Is(err, ErrOutOfRange):
		return KindOutOfRange
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrOutOfMemory):
		return KindOutOfMemory
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.Is(err, ErrInterrupted):
		return KindInterrupted
	case errors.Is(err, ErrClosed):
		return KindClosed
	default:
		return KindUnknown
	}
}

// VaultError records a failed request and the vault it targeted
type VaultError struct {
	Op  string // "create", "set_size", "read", ...
	ID  int    // Vault id, -1 if none
	Err error  // One of the sentinel errors, possibly wrapped
}

func (e *VaultError) Error() string {
	if e.ID >= 0 {
		return fmt.Sprintf("%s vault %d: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *VaultError) Unwrap() error {
	return e.Err
}

// ValidationError represents a configuration or parameter validation error
type ValidationError struct {
	Field   string // The field or parameter that failed validation
	Value   any    // The invalid value
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap reports ErrInvalidArgument plus the underlying error, if any
func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidArgument}
	}
	return []error{ErrInvalidArgument, e.Err}
}

// FaultError reports a transfer that failed part-way. Transferred bytes have
// already been applied to the vault (write) or delivered (read).
type FaultError struct {
	Op          string // "read_from" or "write_to"
	Transferred int64  // Bytes committed before the failure
	Err         error  // Error returned by the caller's reader or writer
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s fault after %d bytes: %v", e.Op, e.Transferred, e.Err)
}

func (e *FaultError) Unwrap() []error {
	return []error{ErrFault, e.Err}
}

// Helper functions for creating structured errors

func newVaultError(op string, id int, err error) error {
	return &VaultError{Op: op, ID: id, Err: err}
}

// NewValidationError creates a new validation error
func NewValidationError(field string, value any, message string) error {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsFaultError checks if an error is a partial transfer fault
func IsFaultError(err error) bool {
	var fe *FaultError
	return errors.As(err, &fe)
}
