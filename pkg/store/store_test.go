// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package store

import (
	"context"
	"testing"

	"github.com/kraklabs/polyimport/internal/judgehost"
	"github.com/kraklabs/polyimport/pkg/polygonmodel"
)

func openTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(context.Background(), Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestGetOrCreateProblemSource_CreatesOnce(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()
	author := judgehost.ProfileRef{ID: 1, Username: "alice"}

	src1, err := b.GetOrCreateProblemSource(ctx, 555, author, "aplusb")
	if err != nil {
		t.Fatalf("GetOrCreateProblemSource() error = %v", err)
	}
	if src1.ID == 0 {
		t.Error("expected a non-zero id")
	}
	if src1.Problem != nil || src1.MainSubmission != nil {
		t.Error("freshly created source should have no realized problem")
	}

	src2, err := b.GetOrCreateProblemSource(ctx, 555, author, "aplusb")
	if err != nil {
		t.Fatalf("GetOrCreateProblemSource() second call error = %v", err)
	}
	if src2.ID != src1.ID {
		t.Errorf("expected idempotent lookup, got id %d then %d", src1.ID, src2.ID)
	}
}

func TestGetProblemSourceByID_NotFound(t *testing.T) {
	b := openTestBackend(t)
	src, err := b.GetProblemSourceByID(context.Background(), 9999)
	if err != nil {
		t.Fatalf("GetProblemSourceByID() error = %v", err)
	}
	if src != nil {
		t.Errorf("expected nil for missing id, got %+v", src)
	}
}

func TestSetRealizedProblem_PersistsAcrossLookup(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()
	author := judgehost.ProfileRef{ID: 2, Username: "bob"}

	src, err := b.GetOrCreateProblemSource(ctx, 42, author, "sorting")
	if err != nil {
		t.Fatalf("GetOrCreateProblemSource() error = %v", err)
	}

	tx, err := b.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx() error = %v", err)
	}
	submission := &judgehost.SubmissionRef{ID: 77}
	if err := tx.SetRealizedProblem(ctx, src.ID, judgehost.ProblemRef{ID: 10, Code: "sorting"}, submission, "abc123"); err != nil {
		t.Fatalf("SetRealizedProblem() error = %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	reloaded, err := b.GetProblemSourceByID(ctx, src.ID)
	if err != nil {
		t.Fatalf("GetProblemSourceByID() error = %v", err)
	}
	if reloaded.Problem == nil || reloaded.Problem.ID != 10 {
		t.Errorf("Problem = %+v, want id 10", reloaded.Problem)
	}
	if reloaded.MainSubmission == nil || reloaded.MainSubmission.ID != 77 {
		t.Errorf("MainSubmission = %+v, want id 77", reloaded.MainSubmission)
	}
	if reloaded.MainSourceSHA1 != "abc123" {
		t.Errorf("MainSourceSHA1 = %q, want abc123", reloaded.MainSourceSHA1)
	}
}

func TestProblemCodeInUse_DetectsOtherSourcesOnly(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()
	author := judgehost.ProfileRef{ID: 8, Username: "henry"}

	first, err := b.GetOrCreateProblemSource(ctx, 100, author, "shared")
	if err != nil {
		t.Fatalf("GetOrCreateProblemSource() error = %v", err)
	}
	second, err := b.GetOrCreateProblemSource(ctx, 101, author, "unique")
	if err != nil {
		t.Fatalf("GetOrCreateProblemSource() error = %v", err)
	}

	inUse, err := b.ProblemCodeInUse(ctx, "shared", second.ID)
	if err != nil {
		t.Fatalf("ProblemCodeInUse() error = %v", err)
	}
	if !inUse {
		t.Error("expected \"shared\" to be reported in use by another source")
	}

	inUse, err = b.ProblemCodeInUse(ctx, "shared", first.ID)
	if err != nil {
		t.Fatalf("ProblemCodeInUse() error = %v", err)
	}
	if inUse {
		t.Error("expected a source's own code not to count as in use")
	}

	inUse, err = b.ProblemCodeInUse(ctx, "unclaimed", first.ID)
	if err != nil {
		t.Fatalf("ProblemCodeInUse() error = %v", err)
	}
	if inUse {
		t.Error("expected an unclaimed code to report false")
	}
}

func TestCreateImport_DefaultsToProcessing(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()
	author := judgehost.ProfileRef{ID: 3, Username: "carol"}

	src, err := b.GetOrCreateProblemSource(ctx, 1, author, "dp1")
	if err != nil {
		t.Fatalf("GetOrCreateProblemSource() error = %v", err)
	}

	imp, err := b.CreateImport(ctx, src.ID, author)
	if err != nil {
		t.Fatalf("CreateImport() error = %v", err)
	}
	if imp.Status != polygonmodel.ImportProcessing {
		t.Errorf("Status = %q, want %q", imp.Status, polygonmodel.ImportProcessing)
	}
	if imp.Log != "" || imp.Error != "" {
		t.Error("new import should have empty log and error")
	}
}

func TestAppendLog_Accumulates(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()
	author := judgehost.ProfileRef{ID: 4, Username: "dave"}

	src, _ := b.GetOrCreateProblemSource(ctx, 2, author, "graphs")
	imp, err := b.CreateImport(ctx, src.ID, author)
	if err != nil {
		t.Fatalf("CreateImport() error = %v", err)
	}

	if err := b.AppendLog(ctx, imp.ID, "fetching package"); err != nil {
		t.Fatalf("AppendLog() error = %v", err)
	}
	if err := b.AppendLog(ctx, imp.ID, "extracting archive"); err != nil {
		t.Fatalf("AppendLog() error = %v", err)
	}

	reloaded, err := b.GetImport(ctx, imp.ID)
	if err != nil {
		t.Fatalf("GetImport() error = %v", err)
	}
	want := "fetching package\nextracting archive\n"
	if reloaded.Log != want {
		t.Errorf("Log = %q, want %q", reloaded.Log, want)
	}
}

func TestFinish_RecordsStatusAndError(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()
	author := judgehost.ProfileRef{ID: 5, Username: "erin"}

	src, _ := b.GetOrCreateProblemSource(ctx, 3, author, "flows")
	imp, err := b.CreateImport(ctx, src.ID, author)
	if err != nil {
		t.Fatalf("CreateImport() error = %v", err)
	}

	tx, err := b.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx() error = %v", err)
	}
	if err := tx.Finish(ctx, imp.ID, polygonmodel.ImportFailed, "checker compile failed"); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	reloaded, err := b.GetImport(ctx, imp.ID)
	if err != nil {
		t.Fatalf("GetImport() error = %v", err)
	}
	if reloaded.Status != polygonmodel.ImportFailed {
		t.Errorf("Status = %q, want %q", reloaded.Status, polygonmodel.ImportFailed)
	}
	if reloaded.Error != "checker compile failed" {
		t.Errorf("Error = %q, want %q", reloaded.Error, "checker compile failed")
	}
}

func TestListImports_NewestFirst(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()
	author := judgehost.ProfileRef{ID: 6, Username: "frank"}

	src, _ := b.GetOrCreateProblemSource(ctx, 4, author, "trees")
	first, err := b.CreateImport(ctx, src.ID, author)
	if err != nil {
		t.Fatalf("CreateImport() error = %v", err)
	}
	second, err := b.CreateImport(ctx, src.ID, author)
	if err != nil {
		t.Fatalf("CreateImport() error = %v", err)
	}

	list, err := b.ListImports(ctx, src.ID)
	if err != nil {
		t.Fatalf("ListImports() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("expected newest-first order, got ids %d, %d", list[0].ID, list[1].ID)
	}
}

func TestTxRollback_DiscardsChanges(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()
	author := judgehost.ProfileRef{ID: 7, Username: "gina"}

	src, _ := b.GetOrCreateProblemSource(ctx, 5, author, "strings")
	imp, err := b.CreateImport(ctx, src.ID, author)
	if err != nil {
		t.Fatalf("CreateImport() error = %v", err)
	}

	tx, err := b.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx() error = %v", err)
	}
	if err := tx.Finish(ctx, imp.ID, polygonmodel.ImportCompleted, ""); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	reloaded, err := b.GetImport(ctx, imp.ID)
	if err != nil {
		t.Fatalf("GetImport() error = %v", err)
	}
	if reloaded.Status != polygonmodel.ImportProcessing {
		t.Errorf("Status after rollback = %q, want still %q", reloaded.Status, polygonmodel.ImportProcessing)
	}
}
