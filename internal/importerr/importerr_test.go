// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package importerr

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
)

func TestProblemImportError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ProblemImportError
		want string
	}{
		{
			name: "with underlying error",
			err: &ProblemImportError{
				Message: "cannot fetch problem",
				Err:     fmt.Errorf("connection refused"),
			},
			want: "cannot fetch problem: connection refused",
		},
		{
			name: "without underlying error",
			err: &ProblemImportError{
				Message: "duplicate problem code",
				Err:     nil,
			},
			want: "duplicate problem code",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProblemImportError_Unwrap(t *testing.T) {
	underlying := fmt.Errorf("underlying error")
	err := &ProblemImportError{Message: "test", Err: underlying}

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}

	noErr := &ProblemImportError{Message: "test"}
	if got := noErr.Unwrap(); got != nil {
		t.Errorf("Unwrap() = %v, want nil", got)
	}
}

func TestConstructors(t *testing.T) {
	underlying := fmt.Errorf("boom")

	tests := []struct {
		name        string
		constructor func() *ProblemImportError
		wantKind    Kind
		wantHasErr  bool
	}{
		{
			name:        "NewConfigError",
			constructor: func() *ProblemImportError { return NewConfigError("m", "c", "f", underlying) },
			wantKind:    KindConfig,
			wantHasErr:  true,
		},
		{
			name:        "NewNetworkError",
			constructor: func() *ProblemImportError { return NewNetworkError("m", "c", "f", underlying) },
			wantKind:    KindNetwork,
			wantHasErr:  true,
		},
		{
			name:        "NewArchiveError",
			constructor: func() *ProblemImportError { return NewArchiveError("m", "c", "f", underlying) },
			wantKind:    KindArchive,
			wantHasErr:  true,
		},
		{
			name:        "NewDescriptorError",
			constructor: func() *ProblemImportError { return NewDescriptorError("m", "c", "f", underlying) },
			wantKind:    KindDescriptor,
			wantHasErr:  true,
		},
		{
			name:        "NewDuplicateError",
			constructor: func() *ProblemImportError { return NewDuplicateError("m", "c", "f") },
			wantKind:    KindDuplicate,
			wantHasErr:  false,
		},
		{
			name:        "NewCheckerError",
			constructor: func() *ProblemImportError { return NewCheckerError("m", "c", "f", underlying) },
			wantKind:    KindChecker,
			wantHasErr:  true,
		},
		{
			name:        "NewDependencyError",
			constructor: func() *ProblemImportError { return NewDependencyError("m", "c", "f") },
			wantKind:    KindDependency,
			wantHasErr:  false,
		},
		{
			name:        "NewInternalError",
			constructor: func() *ProblemImportError { return NewInternalError("m", "c", "f", underlying) },
			wantKind:    KindInternal,
			wantHasErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.constructor()
			if got.Message != "m" || got.Cause != "c" || got.Fix != "f" {
				t.Errorf("unexpected fields: %+v", got)
			}
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", got.Kind, tt.wantKind)
			}
			if (got.Err != nil) != tt.wantHasErr {
				t.Errorf("has underlying error = %v, want %v", got.Err != nil, tt.wantHasErr)
			}
		})
	}
}

func TestErrorChain(t *testing.T) {
	sentinel := fmt.Errorf("sentinel")
	wrapped := fmt.Errorf("wrapped: %w", sentinel)
	domainErr := NewNetworkError("fetch failed", "c", "f", wrapped)

	if !errors.Is(domainErr, sentinel) {
		t.Error("errors.Is should find sentinel error in chain")
	}

	var target *ProblemImportError
	if !errors.As(domainErr, &target) {
		t.Fatal("errors.As should extract ProblemImportError")
	}
	if target.Kind != KindNetwork {
		t.Errorf("Kind = %q, want %q", target.Kind, KindNetwork)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		err  *ProblemImportError
		want []string
	}{
		{
			name: "full error",
			err: &ProblemImportError{
				Message: "package not ready",
				Cause:   "latest package state is PENDING",
				Fix:     "wait for Polygon to finish building the package",
			},
			want: []string{"Error: package not ready", "Cause: latest package state is PENDING", "Fix:   wait for Polygon to finish building the package"},
		},
		{
			name: "message only",
			err:  &ProblemImportError{Message: "internal error"},
			want: []string{"Error: internal error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Format(true)
			for _, substr := range tt.want {
				if !strings.Contains(got, substr) {
					t.Errorf("Format() missing %q, got: %s", substr, got)
				}
			}
		})
	}
}

func TestFormat_NoColorEnv(t *testing.T) {
	old := os.Getenv("NO_COLOR")
	defer func() {
		if old != "" {
			os.Setenv("NO_COLOR", old)
		} else {
			os.Unsetenv("NO_COLOR")
		}
	}()
	os.Setenv("NO_COLOR", "1")

	err := &ProblemImportError{Message: "test", Cause: "c", Fix: "f"}
	got := err.Format(false)
	if strings.Contains(got, "\x1b[") {
		t.Error("Format() output contains ANSI codes despite NO_COLOR being set")
	}
}

func TestToJSON(t *testing.T) {
	err := NewDuplicateError("problem code already in use", "another ProblemSource claims this code", "choose a different problem_code")
	got := err.ToJSON()

	if got.Error != err.Message || got.Cause != err.Cause || got.Fix != err.Fix {
		t.Errorf("ToJSON() = %+v, want fields to match source error", got)
	}
	if got.Code != KindDuplicate {
		t.Errorf("Code = %q, want %q", got.Code, KindDuplicate)
	}
}

func TestFatal_NilDoesNothing(t *testing.T) {
	Fatal(nil, false)
}
