package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	err := ErrInvalidTransition("run-1", "pending", "completed")
	want := "run run-1 cannot transition from pending to completed: the phase state machine forbids this move"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := ErrOptimisticLockFailed("run-1", "planning")
	wrapped := fmt.Errorf("transition: %w", err)

	if !stderrors.Is(wrapped, &Error{Code: CodeOptimisticLockFailed}) {
		t.Error("expected Is to match by code through wrapping")
	}
	if stderrors.Is(wrapped, &Error{Code: CodeRunNotFound}) {
		t.Error("expected Is not to match a different code")
	}
}

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", ErrForbiddenSource("phase.transitioned", "worker"))
	if !IsCode(err, CodeForbiddenSource) {
		t.Error("IsCode should find wrapped conductor error")
	}
	if IsCode(stderrors.New("plain"), CodeForbiddenSource) {
		t.Error("IsCode should be false for plain errors")
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := ErrRetryableExternal(cause)
	if !stderrors.Is(err, cause) {
		t.Error("expected cause to be reachable via Unwrap")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{ErrRunNotFound("r"), 404},
		{ErrInvalidTransition("r", "a", "b"), 409},
		{ErrOptimisticLockFailed("r", "a"), 409},
		{ErrForbiddenSource("t", "s"), 403},
		{ErrValidation("bad"), 400},
		{ErrRetryableExternal(nil), 503},
		{ErrNotImplemented("label"), 500},
	}
	for _, tc := range cases {
		if got := tc.err.HTTPStatus(); got != tc.want {
			t.Errorf("%s: HTTPStatus() = %d, want %d", tc.err.Code, got, tc.want)
		}
	}
}

func TestWithCausePreservesCode(t *testing.T) {
	base := ErrValidation("missing field")
	withCause := base.WithCause(stderrors.New("inner"))
	if withCause.Code != base.Code {
		t.Errorf("WithCause changed code: %s", withCause.Code)
	}
	if withCause.Cause == nil {
		t.Error("WithCause dropped cause")
	}
}
