// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package importerr provides the single structured error type used across
// the Polygon problem importer.
//
// ProblemImportError carries three levels of information: what went wrong
// (Message), why it happened (Cause), and how an operator can fix it (Fix).
// Every domain failure in the importer — a bad Polygon response, a missing
// problem.xml, a malformed test descriptor, a duplicate problem code — is
// one of these, tagged with a Kind used for metrics labeling and for the
// Code field of the JSON error envelope returned by pkg/importapi.
// Infrastructure failures (disk I/O, HTTP transport, subprocess exit codes,
// database constraint violations) are left as their native Go error type
// and are never wrapped into a ProblemImportError.
package importerr

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Kind classifies a ProblemImportError for metrics labeling and API responses.
type Kind string

const (
	KindConfig     Kind = "config"
	KindNetwork    Kind = "network"
	KindArchive    Kind = "archive"
	KindDescriptor Kind = "descriptor"
	KindDuplicate  Kind = "duplicate"
	KindChecker    Kind = "checker"
	KindDependency Kind = "dependency"
	KindInternal   Kind = "internal"
)

// ProblemImportError represents a domain failure with structured context.
//
// It provides three levels of information:
//   - Message: what went wrong (user-facing error description)
//   - Cause: why it happened (diagnostic information)
//   - Fix: how to fix it (actionable suggestion)
//
// ProblemImportError wraps an optional underlying error for errors.Is/As
// compatibility.
type ProblemImportError struct {
	// Message describes what went wrong in user-friendly language.
	Message string

	// Cause explains why the error occurred (diagnostic information).
	Cause string

	// Fix provides an actionable suggestion on how to resolve the error.
	Fix string

	// Kind classifies the error for metrics and the JSON error envelope.
	Kind Kind

	// Err is the underlying error that caused this error (optional).
	Err error
}

// Error implements the error interface.
func (e *ProblemImportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap implements error unwrapping for compatibility with errors.Is and errors.As.
func (e *ProblemImportError) Unwrap() error {
	return e.Err
}

func newf(kind Kind, msg, cause, fix string, err error) *ProblemImportError {
	return &ProblemImportError{
		Message: msg,
		Cause:   cause,
		Fix:     fix,
		Kind:    kind,
		Err:     err,
	}
}

// NewConfigError reports a missing or invalid configuration value
// (API credentials, pandoc path, language table).
func NewConfigError(msg, cause, fix string, err error) *ProblemImportError {
	return newf(KindConfig, msg, cause, fix, err)
}

// NewNetworkError reports a bad response from the Polygon API: non-OK
// status, malformed body, or a package that is not READY.
func NewNetworkError(msg, cause, fix string, err error) *ProblemImportError {
	return newf(KindNetwork, msg, cause, fix, err)
}

// NewArchiveError reports a missing problem.xml or a referenced archive
// member that does not exist.
func NewArchiveError(msg, cause, fix string, err error) *ProblemImportError {
	return newf(KindArchive, msg, cause, fix, err)
}

// NewDescriptorError reports a malformed testset, checker, or interactor
// configuration in problem.xml.
func NewDescriptorError(msg, cause, fix string, err error) *ProblemImportError {
	return newf(KindDescriptor, msg, cause, fix, err)
}

// NewDuplicateError reports a problem_code already claimed by another
// ProblemSource.
func NewDuplicateError(msg, cause, fix string) *ProblemImportError {
	return newf(KindDuplicate, msg, cause, fix, nil)
}

// NewCheckerError reports a missing or unrecognized checker/interactor
// source.
func NewCheckerError(msg, cause, fix string, err error) *ProblemImportError {
	return newf(KindChecker, msg, cause, fix, err)
}

// NewDependencyError reports a batch dependency graph that is forward,
// self-referencing, or targets an unknown/each-test group.
func NewDependencyError(msg, cause, fix string) *ProblemImportError {
	return newf(KindDependency, msg, cause, fix, nil)
}

// NewInternalError reports an unexpected condition that indicates a bug.
func NewInternalError(msg, cause, fix string, err error) *ProblemImportError {
	return newf(KindInternal, msg, cause, fix, err)
}

// Color definitions for error formatting.
var (
	colorError = color.New(color.FgRed, color.Bold)
	colorCause = color.New(color.FgYellow)
	colorFix   = color.New(color.FgGreen)
)

// Format returns a formatted error message for terminal display.
//
// Empty Cause or Fix fields are omitted from the output.
func (e *ProblemImportError) Format(noColor bool) string {
	originalNoColor := color.NoColor
	defer func() { color.NoColor = originalNoColor }()

	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}

	var out strings.Builder
	out.WriteString(colorError.Sprint("Error: "))
	out.WriteString(e.Message)
	out.WriteString("\n")

	if e.Cause != "" {
		out.WriteString(colorCause.Sprint("Cause: "))
		out.WriteString(e.Cause)
		out.WriteString("\n")
	}

	if e.Fix != "" {
		out.WriteString(colorFix.Sprint("Fix:   "))
		out.WriteString(e.Fix)
		out.WriteString("\n")
	}

	return out.String()
}

// JSON represents a ProblemImportError in the JSON envelope returned by
// pkg/importapi and printed by cmd/polyimport --json.
type JSON struct {
	Error string `json:"error"`
	Cause string `json:"cause,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Code  Kind   `json:"code"`
}

// ToJSON converts the error to its JSON-serializable form.
func (e *ProblemImportError) ToJSON() JSON {
	return JSON{
		Error: e.Message,
		Cause: e.Cause,
		Fix:   e.Fix,
		Code:  e.Kind,
	}
}

// Fatal prints err to stderr and exits the process. It is used only by
// cmd/polyimport's CLI leaf; library code never calls os.Exit.
func Fatal(err error, jsonOutput bool) {
	if err == nil {
		return
	}

	if pe, ok := err.(*ProblemImportError); ok {
		if jsonOutput {
			enc := json.NewEncoder(os.Stderr)
			enc.SetIndent("", "  ")
			_ = enc.Encode(pe.ToJSON())
		} else {
			fmt.Fprint(os.Stderr, pe.Format(false))
		}
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
