package dberrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorTypeString(t *testing.T) {
	tests := []struct {
		typ  ErrorType
		want string
	}{
		{ErrorTypeAlreadyDisposed, "AlreadyDisposed"},
		{ErrorTypeMissingParameter, "MissingParameter"},
		{ErrorTypeNativeCallFailed, "NativeCallFailed"},
		{ErrorType(999), "ErrorType(999)"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.typ.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsThroughWrapping(t *testing.T) {
	cause := errors.New("isc_dsql_error")
	err := fmt.Errorf("prepare: %w", NativeCallFailed("prepareStatement", cause))

	if !Is(err, ErrorTypeNativeCallFailed) {
		t.Fatal("expected wrapped error to classify as NativeCallFailed")
	}
	if !IsNativeCallFailed(err) {
		t.Fatal("IsNativeCallFailed returned false")
	}
	if IsAlreadyDisposed(err) {
		t.Fatal("IsAlreadyDisposed returned true for a native error")
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause is not reachable through Unwrap")
	}
	if TypeOf(err) != ErrorTypeNativeCallFailed {
		t.Fatalf("TypeOf = %v", TypeOf(err))
	}
	if TypeOf(cause) != ErrorTypeUnknown {
		t.Fatalf("TypeOf(plain) = %v", TypeOf(cause))
	}
}

func TestErrorMessage(t *testing.T) {
	err := AlreadyDisposed("transaction")
	if err.Error() != "transaction is already disposed" {
		t.Errorf("unexpected message %q", err.Error())
	}
	wrapped := Wrap(ErrorTypeNotOpen, "cursor", errors.New("closed"))
	if wrapped.Error() != "cursor: closed" {
		t.Errorf("unexpected message %q", wrapped.Error())
	}
}
