package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestDriverError_Error_WithAndWithoutWrapped(t *testing.T) {
	e := NewDriverError(ErrTimeout, "wait timed out", nil)
	if e.Error() != "TIMEOUT: wait timed out" {
		t.Errorf("got %q", e.Error())
	}

	wrapped := NewDriverError(ErrConnection, "dial failed", errors.New("eof"))
	if wrapped.Error() != "CONNECTION: dial failed: eof" {
		t.Errorf("got %q", wrapped.Error())
	}
}

func TestDriverError_WithHelpers(t *testing.T) {
	e := NewDriverError(ErrElementNotFound, "not found", nil).
		WithSelector("#submit").
		WithOp("DOM.resolveNode").
		WithObjectID("obj-1").
		WithBlocked("#overlay")

	if e.Selector != "#submit" || e.Op != "DOM.resolveNode" || e.ObjectID != "obj-1" || e.Blocked != "#overlay" {
		t.Errorf("fields not attached correctly: %+v", e)
	}
}

func TestIsKind_MatchesDirectAndWrapped(t *testing.T) {
	de := NewDriverError(ErrStaleElement, "stale", nil)
	wrapped := fmt.Errorf("step failed: %w", de)

	if !IsKind(de, ErrStaleElement) {
		t.Error("expected direct match")
	}
	if !IsKind(wrapped, ErrStaleElement) {
		t.Error("expected match through fmt.Errorf wrapping")
	}
	if IsKind(wrapped, ErrTimeout) {
		t.Error("expected no match for a different kind")
	}
	if IsKind(errors.New("plain"), ErrTimeout) {
		t.Error("expected no match for a non-DriverError")
	}
}

func TestAsDriverError_NilForPlainError(t *testing.T) {
	if AsDriverError(errors.New("plain")) != nil {
		t.Error("expected nil for a plain error")
	}
	if AsDriverError(nil) != nil {
		t.Error("expected nil for a nil error")
	}
}

func TestIsStaleObjectMessage(t *testing.T) {
	if !IsStaleObjectMessage("Could not find object with given id") {
		t.Error("expected known message to match")
	}
	if IsStaleObjectMessage("some unrelated error") {
		t.Error("expected unknown message not to match")
	}
}
