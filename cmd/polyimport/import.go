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
	"github.com/kraklabs/polyimport/internal/jobrunner"
	"github.com/kraklabs/polyimport/internal/joblock"
	"github.com/kraklabs/polyimport/internal/judgehost"
	"github.com/kraklabs/polyimport/internal/output"
	"github.com/kraklabs/polyimport/internal/ui"
	"github.com/kraklabs/polyimport/pkg/importapi"
	"github.com/kraklabs/polyimport/pkg/importjob"
)

// importResult is the --json shape for both `import` and `retrigger`.
type importResult struct {
	ProblemSourceID int64  `json:"problem_source_id"`
	ImportID        int64  `json:"import_id"`
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
}

func runImport(args []string, globals GlobalFlags) {
	fs := pflag.NewFlagSet("import", pflag.ExitOnError)
	polygonID := fs.Int64("polygon-id", 0, "Polygon problem id to import")
	code := fs.String("code", "", "problem_code to assign if this is a new ProblemSource")
	author := fs.String("author", "operator", "Username recorded as the import's author")

	fs.Usage = func() {
		fmt.Fprint(os.Stderr, "Usage: polyimport import --polygon-id <id> --code <code>\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *polygonID == 0 {
		importerr.Fatal(fmt.Errorf("--polygon-id is required"), globals.JSON)
	}

	ctx := context.Background()
	a, err := newApp(ctx, globals)
	if err != nil {
		importerr.Fatal(err, globals.JSON)
	}
	defer a.close()

	profile := judgehost.ProfileRef{ID: 1, Username: *author}

	candidate := *code
	if candidate == "" {
		var suggestErr error
		candidate, suggestErr = importapi.SuggestProblemCode(ctx, fmt.Sprintf("polygon-%d", *polygonID), func(ctx context.Context, c string) (bool, error) {
			return a.store.ProblemCodeInUse(ctx, c, 0)
		})
		if suggestErr != nil {
			importerr.Fatal(suggestErr, globals.JSON)
		}
	}
	if ierr := importapi.ValidateProblemCode(ctx, candidate, func(ctx context.Context, c string) (bool, error) {
		return a.store.ProblemCodeInUse(ctx, c, 0)
	}); ierr != nil {
		importerr.Fatal(ierr, globals.JSON)
	}

	src, err := a.store.GetOrCreateProblemSource(ctx, *polygonID, profile, candidate)
	if err != nil {
		importerr.Fatal(err, globals.JSON)
	}

	runImportPipeline(ctx, a, src.ID, profile, globals)
}

// runImportPipeline acquires the per-ProblemSource lock, dispatches the
// job, and drives a progress bar (or --json output) to completion. It
// is the one-shot, in-process analogue of pkg/importapi's
// dispatch+poll pair: there is no separate host process here for the
// CLI to poll, so this call blocks until the job finishes.
func runImportPipeline(ctx context.Context, a *app, sourceID int64, profile judgehost.ProfileRef, globals GlobalFlags) {
	lock, err := joblock.New(a.cfg.Store.DataDir, sourceID)
	if err != nil {
		importerr.Fatal(err, globals.JSON)
	}
	acquired, err := lock.TryAcquire()
	if err != nil {
		importerr.Fatal(err, globals.JSON)
	}
	if !acquired {
		importerr.Fatal(fmt.Errorf("another import is already running for ProblemSource %d", sourceID), globals.JSON)
	}
	defer lock.Release()

	src, err := a.store.GetProblemSourceByID(ctx, sourceID)
	if err != nil {
		importerr.Fatal(err, globals.JSON)
	}

	imp, err := a.store.CreateImport(ctx, sourceID, profile)
	if err != nil {
		importerr.Fatal(err, globals.JSON)
	}

	params := importjob.Params{Source: src, ImportID: imp.ID, Author: profile}
	pool := jobrunner.NewPool(1)
	progressCfg := NewProgressConfig(globals)
	spinner := NewSpinner(progressCfg, "Starting import")

	jobID := pool.Submit(ctx, func(ctx context.Context, r jobrunner.Reporter) error {
		return importjob.Run(ctx, params, a.host(), a.jobConfig(), r)
	})

	stopPolling := make(chan struct{})
	if spinner != nil {
		go func() {
			ticker := time.NewTicker(100 * time.Millisecond)
			defer ticker.Stop()
			lastStage := ""
			for {
				select {
				case <-stopPolling:
					return
				case <-ticker.C:
					env, ok := pool.Status(jobID)
					if ok && env.Stage != "" && env.Stage != lastStage {
						lastStage = env.Stage
						spinner.Describe(phaseDescription(env.Stage))
					}
				}
			}
		}()
	}

	finalEnv, _ := pool.Wait(ctx, jobID)
	close(stopPolling)
	if spinner != nil {
		_ = spinner.Finish()
	}

	result := importResult{ProblemSourceID: sourceID, ImportID: imp.ID, Status: string(finalEnv.Status), Error: finalEnv.Error}

	if globals.JSON {
		_ = output.JSON(result)
	} else if finalEnv.Status == jobrunner.StatusSuccess {
		ui.Successf("Import %d for ProblemSource %d completed.", imp.ID, sourceID)
	} else {
		ui.Errorf("Import %d for ProblemSource %d failed: %s", imp.ID, sourceID, finalEnv.Error)
	}

	if finalEnv.Status != jobrunner.StatusSuccess {
		os.Exit(1)
	}
}
