// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/kraklabs/polyimport/internal/importerr"
	"github.com/kraklabs/polyimport/internal/judgehost"
)

func runRetrigger(args []string, globals GlobalFlags) {
	fs := pflag.NewFlagSet("retrigger", pflag.ExitOnError)
	sourceID := fs.Int64("source-id", 0, "ProblemSource id to re-run")
	author := fs.String("author", "operator", "Username recorded as the import's author")

	fs.Usage = func() {
		fmt.Fprint(os.Stderr, "Usage: polyimport retrigger --source-id <id>\n")
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

	if src.Problem != nil {
		allowed, err := a.authz.CanEditProblem(ctx, judgehost.ProfileRef{ID: 1, Username: *author}, *src.Problem)
		if err != nil {
			importerr.Fatal(err, globals.JSON)
		}
		if !allowed {
			importerr.Fatal(fmt.Errorf("not permitted to edit problem %s", src.Problem.Code), globals.JSON)
		}
	}

	runImportPipeline(ctx, a, src.ID, judgehost.ProfileRef{ID: 1, Username: *author}, globals)
}
