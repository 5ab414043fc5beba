package retrackerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOf_ClassifiedError(t *testing.T) {
	err := New(Validation, "bad input")
	if KindOf(err) != Validation {
		t.Errorf("KindOf = %v, want %v", KindOf(err), Validation)
	}
}

func TestKindOf_UnclassifiedErrorDefaultsToTerminal(t *testing.T) {
	err := fmt.Errorf("some raw error")
	if KindOf(err) != Terminal {
		t.Errorf("KindOf = %v, want %v", KindOf(err), Terminal)
	}
}

func TestKindOf_UnwrapsThroughStandardWrapping(t *testing.T) {
	inner := New(Transient, "connection refused")
	wrapped := fmt.Errorf("dial: %w", inner)
	if KindOf(wrapped) != Transient {
		t.Errorf("KindOf = %v, want %v", KindOf(wrapped), Transient)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{Transient, true},
		{Terminal, false},
		{Validation, false},
		{NotFound, false},
		{Fatal, false},
	}
	for _, c := range cases {
		err := New(c.kind, "x")
		if got := IsRetryable(err); got != c.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", c.kind, got, c.want)
		}
	}
}

func TestWrap_PreservesCauseAndMessage(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(Transient, cause, "send email")

	if err.Kind != Transient {
		t.Errorf("Kind = %v, want %v", err.Kind, Transient)
	}
	if !errors.Is(err, cause) {
		t.Error("expected Wrap's error chain to contain the original cause")
	}
}

func TestWrapf_FormatsMessage(t *testing.T) {
	err := Wrapf(Validation, errors.New("x"), "invalid schedule %q", "* * * * *")
	if err.Message != `invalid schedule "* * * * *"` {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestError_StringIncludesKindAndCause(t *testing.T) {
	err := Wrap(Terminal, errors.New("boom"), "script threw")
	msg := err.Error()
	if msg == "" {
		t.Fatal("expected a non-empty error string")
	}
	if !strings.Contains(msg, string(Terminal)) || !strings.Contains(msg, "boom") {
		t.Errorf("Error() = %q, want it to include the kind and the cause", msg)
	}
}
