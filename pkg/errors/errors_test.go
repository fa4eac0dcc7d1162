package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := Wrap(fmt.Errorf("disk full"), CodeSinkWrite, "result write failed").
		WithContext("table", "port_stay_time").
		WithContext("rows", 12)

	want := "[E402] result write failed (rows=12, table=port_stay_time): disk full"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(nil, CodeSourceQuery, "x"); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
	if err := Wrapf(nil, CodeSourceQuery, "x %d", 1); err != nil {
		t.Errorf("Wrapf(nil) = %v, want nil", err)
	}
}

func TestCodes(t *testing.T) {
	base := SourceQuery(context.DeadlineExceeded, 9300001)
	wrapped := fmt.Errorf("worker 3: %w", base)

	if !IsCode(wrapped, CodeSourceQuery) {
		t.Error("IsCode through fmt wrapping")
	}
	if got := GetCode(wrapped); got != CodeSourceQuery {
		t.Errorf("GetCode = %s", got)
	}
	if got := GetCode(errors.New("plain")); got != CodeUnknown {
		t.Errorf("GetCode(plain) = %s, want %s", got, CodeUnknown)
	}
	if !errors.Is(wrapped, context.DeadlineExceeded) {
		t.Error("cause not reachable through Unwrap")
	}
	if !errors.Is(wrapped, New(CodeSourceQuery, "other message")) {
		t.Error("errors.Is should match on code")
	}
	if errors.Is(wrapped, New(CodeSinkWrite, "")) {
		t.Error("errors.Is matched a different code")
	}
}

func TestFormatStack(t *testing.T) {
	s := New(CodeReconstruct, "x").FormatStack()
	if !strings.Contains(s, "TestFormatStack") {
		t.Errorf("stack does not name the caller:\n%s", s)
	}
}

func TestMultiError(t *testing.T) {
	var m MultiError
	if m.Combined() != nil {
		t.Fatal("empty MultiError should combine to nil")
	}

	first := errors.New("close sink")
	m.Add(nil)
	m.Add(first)
	if m.Combined() != first {
		t.Error("single error should be returned as is")
	}

	m.Add(errors.New("close queue"))
	err := m.Combined()
	if !strings.Contains(err.Error(), "2 errors occurred") {
		t.Errorf("Combined() = %q", err)
	}
}
