// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestActionableError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *ActionableError
		want string
	}{
		{
			name: "operation only",
			err:  &ActionableError{Operation: "resolve python runtime"},
			want: "failed to resolve python runtime",
		},
		{
			name: "with resource",
			err:  &ActionableError{Operation: "create virtual environment", Resource: ".venv"},
			want: "failed to create virtual environment: .venv",
		},
		{
			name: "with cause",
			err:  &ActionableError{Operation: "run migrations", Cause: errors.New("exit status 1")},
			want: "failed to run migrations: exit status 1",
		},
		{
			name: "resource and cause",
			err: &ActionableError{
				Operation: "install dependencies",
				Resource:  "requirements.txt",
				Cause:     errors.New("pip exited with status 1"),
			},
			want: "failed to install dependencies: requirements.txt: pip exited with status 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestActionableError_UnwrapsCause(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("connection refused")
	err := fmt.Errorf("preflight: %w", &ActionableError{Operation: "reach database", Cause: sentinel})

	if !errors.Is(err, sentinel) {
		t.Error("errors.Is should reach the cause through the actionable error")
	}
	var ae *ActionableError
	if !errors.As(err, &ae) || ae.Operation != "reach database" {
		t.Errorf("errors.As = %v, want the actionable error", ae)
	}
	if (&ActionableError{Operation: "x"}).Unwrap() != nil {
		t.Error("Unwrap() should be nil without a cause")
	}
}

func TestActionableError_Format(t *testing.T) {
	t.Parallel()

	err := &ActionableError{
		Operation:   "build image",
		Resource:    "inkboard:latest",
		Suggestions: []string{"Start the docker daemon", "Pass --engine podman"},
		Cause:       fmt.Errorf("engine: %w", errors.New("daemon not running")),
	}

	short := err.Format(false)
	for _, want := range []string{
		"failed to build image: inkboard:latest",
		"• Start the docker daemon",
		"• Pass --engine podman",
	} {
		if !strings.Contains(short, want) {
			t.Errorf("Format(false) missing %q:\n%s", want, short)
		}
	}
	if strings.Contains(short, "Error chain:") {
		t.Error("Format(false) should not include the error chain")
	}

	long := err.Format(true)
	for _, want := range []string{"Error chain:", "1. engine: daemon not running", "2. daemon not running"} {
		if !strings.Contains(long, want) {
			t.Errorf("Format(true) missing %q:\n%s", want, long)
		}
	}
}

func TestErrorContext_BuildError(t *testing.T) {
	t.Parallel()

	if err := NewErrorContext().WithResource("inkboot.cue").BuildError(); err != nil {
		t.Errorf("BuildError() without operation = %v, want nil", err)
	}

	base := NewErrorContext().
		WithOperation("load config").
		WithResource("inkboot.cue").
		WithSuggestion("Run 'inkboot config init'")

	first := base.Wrap(errors.New("first")).Build()
	second := base.Wrap(errors.New("second")).Build()
	if first.Cause.Error() == second.Cause.Error() {
		t.Error("a reused context should carry the latest cause")
	}
	if first.Resource != "inkboot.cue" || len(first.Suggestions) != 1 {
		t.Errorf("Build() = %+v, want resource and one suggestion", first)
	}
}

func TestErrorContext_WithIssue(t *testing.T) {
	t.Parallel()

	err := NewErrorContext().
		WithOperation("run migrations").
		WithIssue(MigrationFailedId).
		Wrap(errors.New("exit status 1")).
		Build()

	if got := err.Issue(); got == nil || got.Slug() != "migration-failed" {
		t.Fatalf("Issue() = %v, want migration-failed entry", got)
	}
	if formatted := err.Format(false); !strings.Contains(formatted, "inkboot issue migration-failed") {
		t.Errorf("Format() = %q, want pointer to issue command", formatted)
	}

	plain := &ActionableError{Operation: "build image"}
	if plain.Issue() != nil {
		t.Error("Issue() should be nil when no catalog entry is attached")
	}
	if strings.Contains(plain.Format(true), "inkboot issue") {
		t.Error("Format() should not point at the issue command without an entry")
	}
}
