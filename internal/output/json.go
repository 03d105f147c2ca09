// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package output renders --json results for cmd/polyimport: import
// summaries, status reports, and the HTTP handlers in pkg/importapi all
// go through JSON/JSONTo so every machine-readable response is indented
// the same way.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// JSON writes data as pretty-printed JSON to stdout. This is what
// --json output in cmd/polyimport subcommands calls once a result is
// ready to print.
func JSON(data any) error {
	return JSONTo(os.Stdout, data)
}

// JSONTo writes data as pretty-printed JSON to w. pkg/importapi's HTTP
// handlers use this to write responses to an http.ResponseWriter; CLI
// commands and tests use JSON/os.Stdout.
func JSONTo(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("JSON encoding failed: %w", err)
	}
	return nil
}
