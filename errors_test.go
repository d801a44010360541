package secvault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindNone},
		{"permission", newVaultError("get_size", 1, ErrPermissionDenied), KindPermissionDenied},
		{"not found", newVaultError("open", 1, ErrNotFound), KindNotFound},
		{"exists", ErrAlreadyExists, KindAlreadyExists},
		{"not initialized", fmt.Errorf("wrapped: %w", ErrNotInitialized), KindNotInitialized},
		{"out of range", ErrOutOfRange, KindOutOfRange},
		{"validation", NewValidationError("size", 0, "bad"), KindInvalidArgument},
		{"no target", ErrNoTarget, KindInvalidArgument},
		{"memory", ErrOutOfMemory, KindOutOfMemory},
		{"busy", ErrBusy, KindBusy},
		{"interrupted", fmt.Errorf("%w: %w", ErrInterrupted, context.Canceled), KindInterrupted},
		{"fault", &FaultError{Op: "read_from", Err: io.ErrUnexpectedEOF}, KindFault},
		{"fault wrapping out of range", &FaultError{Op: "write_to", Err: ErrOutOfRange}, KindFault},
		{"closed", ErrClosed, KindClosed},
		{"foreign", errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Fatalf("Kind(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorKind_String(t *testing.T) {
	if got := KindPermissionDenied.String(); got != "permission-denied" {
		t.Fatalf("String() = %q", got)
	}
	if got := ErrorKind(200).String(); got != "unknown" {
		t.Fatalf("String() of out-of-range kind = %q", got)
	}
}

func TestVaultError(t *testing.T) {
	err := newVaultError("set_size", 3, ErrOutOfMemory)
	if got, want := err.Error(), "set_size vault 3: out of memory"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatal("VaultError does not unwrap to its cause")
	}

	var ve *VaultError
	if !errors.As(err, &ve) || ve.Op != "set_size" || ve.ID != 3 {
		t.Fatalf("errors.As = %+v", ve)
	}

	noID := newVaultError("open_control", -1, ErrClosed)
	if got, want := noID.Error(), "open_control: already closed"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("key", 3, "invalid key size")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatal("ValidationError does not match ErrInvalidArgument")
	}
	if !IsValidationError(newVaultError("change_key", 2, err)) {
		t.Fatal("IsValidationError does not see through VaultError")
	}
	if !strings.Contains(err.Error(), "key: invalid key size") {
		t.Fatalf("Error() = %q", err)
	}

	cause := errors.New("cause")
	wrapped := &ValidationError{Field: "parallel", Message: "bad", Err: cause}
	if !errors.Is(wrapped, cause) || !errors.Is(wrapped, ErrInvalidArgument) {
		t.Fatal("ValidationError with Err does not unwrap to both errors")
	}
}

func TestFaultError(t *testing.T) {
	cause := errors.New("disk gone")
	err := newVaultError("write_to", 1, &FaultError{Op: "write_to", Transferred: 42, Err: cause})

	if !errors.Is(err, ErrFault) || !errors.Is(err, cause) {
		t.Fatal("FaultError does not unwrap to ErrFault and its cause")
	}
	if !IsFaultError(err) {
		t.Fatal("IsFaultError = false")
	}

	var fe *FaultError
	if !errors.As(err, &fe) || fe.Transferred != 42 {
		t.Fatalf("errors.As = %+v", fe)
	}
	if !strings.Contains(fe.Error(), "after 42 bytes") {
		t.Fatalf("Error() = %q", fe)
	}
}
