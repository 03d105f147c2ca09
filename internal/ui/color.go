// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package ui prints the handful of status lines cmd/polyimport needs:
// a completed/failed import result, and a job's status report. Colors
// are disabled via --no-color or when fatih/color detects a non-TTY or
// NO_COLOR.
package ui

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

var (
	green = color.New(color.FgGreen)
	red   = color.New(color.FgRed)
	bold  = color.New(color.Bold)
)

// InitColors configures global color output based on the --no-color flag.
// Call once, early in main(), before any of the printers below run.
func InitColors(noColor bool) {
	color.NoColor = noColor
}

// Successf prints a green "import succeeded" style line with a
// checkmark prefix.
func Successf(format string, args ...any) {
	_, _ = green.Printf("✓ "+format+"\n", args...)
}

// Errorf prints a red "import failed" style line with an X prefix.
func Errorf(format string, args ...any) {
	_, _ = red.Printf("✗ "+format+"\n", args...)
}

// Header prints a bold title line with an underline, e.g. for a
// `polyimport status` report's "ProblemSource 42" banner.
func Header(text string) {
	_, _ = bold.Println(text)
	fmt.Println(strings.Repeat("=", len(text)))
}

// SubHeader prints a bold line without an underline, e.g. the
// "Imports:" section label in a status report.
func SubHeader(text string) {
	_, _ = bold.Println(text)
}

// Label returns a bold-formatted field label for inline use, e.g.
// fmt.Printf("%s %s\n", ui.Label("Problem Code:"), code).
func Label(text string) string {
	return bold.Sprint(text)
}
