package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestCoreErrorWrapAndUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapError(ErrTransportError, "probing peer p1", cause)

	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to satisfy errors.Is")
	}

	kind, ok := KindOf(err)
	if !ok || kind != ErrTransportError {
		t.Fatalf("KindOf() = (%v, %v), want (%v, true)", kind, ok, ErrTransportError)
	}

	wrapped := fmt.Errorf("download chunk 3: %w", err)
	kind, ok = KindOf(wrapped)
	if !ok || kind != ErrTransportError {
		t.Fatalf("KindOf() through fmt.Errorf wrap = (%v, %v), want (%v, true)", kind, ok, ErrTransportError)
	}
}

func TestKindOfNonCoreError(t *testing.T) {
	if _, ok := KindOf(errors.New("plain error")); ok {
		t.Fatal("KindOf() on a non-CoreError should report false")
	}
}
