package kernel

import (
	"errors"
	"testing"
)

func TestKernelError(t *testing.T) {
	err := &Error{
		Module:  "foo",
		Message: "error message",
	}

	if err.Error() != err.Message {
		t.Fatalf("expected to err.Error() to return %q; got %q", err.Message, err.Error())
	}
}

func TestKernelErrorWrap(t *testing.T) {
	var (
		template = &Error{Module: "foo", Message: "port write failed"}
		cause    = errors.New("bus error")
	)

	err := template.Wrap(cause)

	if exp, got := "port write failed: bus error", err.Error(); got != exp {
		t.Fatalf("expected err.Error() to return %q; got %q", exp, got)
	}

	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped error to unwrap to its cause")
	}

	if !errors.Is(err, template) {
		t.Fatal("expected wrapped error to match its template")
	}

	if errors.Is(err, &Error{Module: "bar", Message: "port write failed"}) {
		t.Fatal("expected errors from different modules not to match")
	}

	if template.Err != nil {
		t.Fatal("expected Wrap not to modify the template error")
	}
}
