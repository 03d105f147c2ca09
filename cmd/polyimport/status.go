// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kraklabs/polyimport/internal/importerr"
	"github.com/kraklabs/polyimport/internal/joblock"
	"github.com/kraklabs/polyimport/internal/output"
	"github.com/kraklabs/polyimport/internal/ui"
)

// statusResult is the --json shape for the status command.
type statusResult struct {
	ProblemSourceID int64          `json:"problem_source_id"`
	PolygonID       int64          `json:"polygon_id"`
	ProblemCode     string         `json:"problem_code"`
	Realized        bool           `json:"realized"`
	LockHeld        bool           `json:"lock_held"`
	LockHolderPID   int            `json:"lock_holder_pid,omitempty"`
	LockDuration    string         `json:"lock_duration,omitempty"`
	Imports         []importRecord `json:"imports"`
	Timestamp       time.Time      `json:"timestamp"`
}

type importRecord struct {
	ImportID  int64  `json:"import_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func runStatusCmd(args []string, globals GlobalFlags) {
	fs := pflag.NewFlagSet("status", pflag.ExitOnError)
	sourceID := fs.Int64("source-id", 0, "ProblemSource id to inspect")

	fs.Usage = func() {
		fmt.Fprint(os.Stderr, "Usage: polyimport status --source-id <id>\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *sourceID == 0 {
		importerr.Fatal(fmt.Errorf("--source-id is required"), globals.JSON)
	}

	ctx := context.Background()
	a, err := newApp(ctx, globals)
	if err != nil {
		importerr.Fatal(err, globals.JSON)
	}
	defer a.close()

	src, err := a.store.GetProblemSourceByID(ctx, *sourceID)
	if err != nil {
		importerr.Fatal(err, globals.JSON)
	}
	if src == nil {
		importerr.Fatal(fmt.Errorf("no ProblemSource with id %d", *sourceID), globals.JSON)
	}

	imports, err := a.store.ListImports(ctx, *sourceID)
	if err != nil {
		importerr.Fatal(err, globals.JSON)
	}

	lock, err := joblock.New(a.cfg.Store.DataDir, *sourceID)
	if err != nil {
		importerr.Fatal(err, globals.JSON)
	}
	lockStatus, err := lock.CurrentStatus()
	if err != nil {
		importerr.Fatal(err, globals.JSON)
	}

	result := statusResult{
		ProblemSourceID: src.ID,
		PolygonID:       src.PolygonID,
		ProblemCode:     src.ProblemCode,
		Realized:        src.Problem != nil,
		LockHeld:        lockStatus.Held,
		Timestamp:       time.Now(),
	}
	if lockStatus.Held {
		result.LockHolderPID = lockStatus.PID
		result.LockDuration = joblock.FormatDuration(lockStatus.Duration)
	}
	for _, imp := range imports {
		result.Imports = append(result.Imports, importRecord{
			ImportID:  imp.ID,
			Status:    string(imp.Status),
			Error:     imp.Error,
			CreatedAt: imp.CreatedAt.Format(time.RFC3339),
			UpdatedAt: imp.UpdatedAt.Format(time.RFC3339),
		})
	}

	if globals.JSON {
		if err := output.JSON(result); err != nil {
			importerr.Fatal(err, true)
		}
		return
	}
	printStatus(result)
}

func printStatus(result statusResult) {
	ui.Header(fmt.Sprintf("ProblemSource %d", result.ProblemSourceID))
	fmt.Printf("%s %d\n", ui.Label("Polygon ID:"), result.PolygonID)
	fmt.Printf("%s %s\n", ui.Label("Problem Code:"), result.ProblemCode)
	fmt.Printf("%s %v\n", ui.Label("Realized:"), result.Realized)
	if result.LockHeld {
		fmt.Printf("%s running (pid %d, %s)\n", ui.Label("Lock:"), result.LockHolderPID, result.LockDuration)
	} else {
		fmt.Printf("%s idle\n", ui.Label("Lock:"))
	}

	fmt.Println()
	ui.SubHeader("Imports:")
	if len(result.Imports) == 0 {
		fmt.Println("  (none)")
		return
	}
	for _, imp := range result.Imports {
		line := fmt.Sprintf("  #%d  %-10s  %s", imp.ImportID, imp.Status, imp.CreatedAt)
		if imp.Error != "" {
			line += "  " + imp.Error
		}
		fmt.Println(line)
	}
}
