// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package importjob is the import orchestrator: it runs the fixed
// download → testsets → assets → statements → assembly pipeline for one
// ProblemSource, reporting named stages to a jobrunner.Reporter and
// capturing a per-run log, then records the outcome — status, error,
// and log — against the ProblemSourceImport row in pkg/store.
package importjob

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kraklabs/polyimport/internal/importerr"
	"github.com/kraklabs/polyimport/internal/jobrunner"
	"github.com/kraklabs/polyimport/internal/judgehost"
	"github.com/kraklabs/polyimport/internal/metrics"
	"github.com/kraklabs/polyimport/internal/retry"
	"github.com/kraklabs/polyimport/pkg/assembler"
	"github.com/kraklabs/polyimport/pkg/assets"
	"github.com/kraklabs/polyimport/pkg/pkgarchive"
	"github.com/kraklabs/polyimport/pkg/polygonapi"
	"github.com/kraklabs/polyimport/pkg/polygonmodel"
	"github.com/kraklabs/polyimport/pkg/statement"
	"github.com/kraklabs/polyimport/pkg/store"
	"github.com/kraklabs/polyimport/pkg/testset"
)

// Stage keys reported to the jobrunner.Reporter, in the fixed order
// the pipeline runs them. A CLI or UI layer translates these into the
// human-readable names it displays.
const (
	StageDownload   = "download"
	StageTestsets   = "testsets"
	StageAssets     = "assets"
	StageStatements = "statements"
	StageAssembly   = "assembly"
)

// Host groups everything Run needs beyond the Polygon package itself:
// the host judge capabilities assembler.Assemble uses, and this
// importer's own bookkeeping store.
type Host struct {
	Assembler assembler.Host
	Store     *store.Backend
	Polygon   *polygonapi.Client
}

// Config carries the per-invocation settings that don't belong to any
// one host capability.
type Config struct {
	PandocPath string
	LanguageOf func(polygonLanguage string) (code string, ok bool)
	Retry      retry.Config

	// ScratchBase is the parent directory for each job's temp directory;
	// empty uses the OS default (os.MkdirTemp's own default).
	ScratchBase string
}

// Params identifies one import attempt.
type Params struct {
	Source   *polygonmodel.ProblemSource
	ImportID int64
	Author   judgehost.ProfileRef
}

// Run executes one import attempt end to end and always records its
// outcome against ProblemSourceImport before returning. The returned
// error, if any, is also the error jobrunner.Pool records in the job's
// Envelope — callers submitting Run as a jobrunner.Func do not need to
// additionally persist status themselves.
func Run(ctx context.Context, params Params, host Host, cfg Config, r jobrunner.Reporter) error {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	metrics.JobStarted()
	start := time.Now()

	runErr := runPipeline(ctx, params, host, cfg, r, logger)

	metrics.ObserveStage(time.Since(start))
	if runErr != nil {
		metrics.JobFailed(runErr)
		logger.Error("import.failed", "error", runErr)
	} else {
		metrics.JobSucceeded()
		logger.Info("import.completed")
	}

	if appendErr := host.Store.AppendLog(ctx, params.ImportID, logBuf.String()); appendErr != nil {
		return fmt.Errorf("append import log: %w", appendErr)
	}

	status := polygonmodel.ImportCompleted
	errMsg := ""
	if runErr != nil {
		status = polygonmodel.ImportFailed
		errMsg = runErr.Error()
	}
	tx, err := host.Store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin bookkeeping tx: %w", err)
	}
	if err := tx.Finish(ctx, params.ImportID, status, errMsg); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("finish import record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import finish: %w", err)
	}

	return runErr
}

// runPipeline runs the five sequential stages. On the way out, a failed
// run always removes its own upload directory; the orphan file sweep
// and the removal of sibling upload directories run only once the
// assets stage has succeeded, whether the run then fails or not.
func runPipeline(ctx context.Context, params Params, host Host, cfg Config, r jobrunner.Reporter, logger *slog.Logger) (err error) {
	src := params.Source

	if !polygonmodel.ValidProblemCode(src.ProblemCode) {
		return importerr.NewConfigError(
			"invalid problem code",
			fmt.Sprintf("%q does not match the required character class", src.ProblemCode),
			"problem codes are lowercase letters and digits only, up to 20 characters",
			nil,
		)
	}
	if src.Problem == nil {
		inUse, err := host.Store.ProblemCodeInUse(ctx, src.ProblemCode, src.ID)
		if err != nil {
			return fmt.Errorf("check problem code uniqueness: %w", err)
		}
		if inUse {
			return importerr.NewDuplicateError(
				"problem code already in use",
				fmt.Sprintf("another problem source already claims %q", src.ProblemCode),
				"choose a different problem_code",
			)
		}
	}

	tempDir, err := os.MkdirTemp(cfg.ScratchBase, "polyimport-")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	uploadID, err := randomHex(8)
	if err != nil {
		return fmt.Errorf("generate upload id: %w", err)
	}

	var archivePath string
	var assetsResult *assets.Result

	defer func() {
		// The general sweep (unexpected top-level files, sibling
		// upload_id dirs) only runs once the assets stage has told us
		// what this run's expected set actually is. A failure before
		// that point (a download or testset error) leaves a prior
		// successful import's files untouched instead of deleting them
		// against an incomplete expected set.
		if assetsResult != nil {
			expected := expectedDataFiles(archivePath, assetsResult)
			if cerr := cleanupDataDir(host.Assembler.Media, src.ProblemCode, expected); cerr != nil {
				logger.Warn("cleanup.data_dir.failed", "error", cerr)
			}
			if cerr := cleanupSiblingUploads(host.Assembler.Media, src.ProblemCode, uploadID); cerr != nil {
				logger.Warn("cleanup.sibling_uploads.failed", "error", cerr)
			}
		}
		if err != nil {
			if cerr := removeUploadDir(host.Assembler.Media, src.ProblemCode, uploadID); cerr != nil {
				logger.Warn("cleanup.upload_dir.failed", "error", cerr)
			}
		}
	}()

	r.Report(StageDownload)
	logger.Info("stage.download.start", "polygon_id", src.PolygonID)
	packagePath := filepath.Join(tempDir, "package.zip")
	if err := downloadPackage(ctx, host.Polygon, src.PolygonID, packagePath, logger); err != nil {
		return err
	}

	archive, err := pkgarchive.Open(packagePath)
	if err != nil {
		return err
	}
	defer archive.Close()

	descriptor, err := archive.ParseDescriptor()
	if err != nil {
		return err
	}
	logger.Info("stage.download.complete")

	r.Report(StageTestsets)
	logger.Info("stage.testsets.start")
	archivePath = filepath.Join(tempDir, testset.ArchiveName(descriptor.Revision, time.Now()))
	tsResult, err := buildTestArchive(archive, descriptor, archivePath, logger)
	if err != nil {
		return err
	}
	logger.Info("stage.testsets.complete", "tests", len(tsResult.TestCases))

	r.Report(StageAssets)
	logger.Info("stage.assets.start")
	assetsResult, err = assets.Stage(archive, descriptor, tempDir)
	if err != nil {
		return err
	}
	logger.Info("stage.assets.complete")

	r.Report(StageStatements)
	logger.Info("stage.statements.start")
	statements, err := statement.Build(ctx, archive, descriptor, statement.Options{
		PandocPath:  cfg.PandocPath,
		LanguageOf:  cfg.LanguageOf,
		Media:       host.Assembler.Media,
		ProblemCode: src.ProblemCode,
		UploadID:    uploadID,
		ImageCache:  make(map[string]string),
		Retry:       cfg.Retry,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	logger.Info("stage.statements.complete", "count", len(statements))

	r.Report(StageAssembly)
	logger.Info("stage.assembly.start")
	result, err := assembler.Assemble(ctx, assembler.Input{
		ProblemCode:            src.ProblemCode,
		Author:                 params.Author,
		Archive:                archive,
		Descriptor:             descriptor,
		Testset:                tsResult,
		Assets:                 assetsResult,
		Statements:             statements,
		ArchivePath:            archivePath,
		StagedDir:              tempDir,
		PreviousMainSourceSHA1: src.MainSourceSHA1,
		PreviousMainSubmission: src.MainSubmission,
		Now:                    time.Now(),
	}, host.Assembler, logger)
	if err != nil {
		return err
	}
	logger.Info("stage.assembly.complete", "problem_id", result.Problem.ID)

	tx, err := host.Store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin realized-problem tx: %w", err)
	}
	if err := tx.SetRealizedProblem(ctx, src.ID, result.Problem, result.Submission, result.MainSourceSHA1); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record realized problem: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit realized problem: %w", err)
	}

	return nil
}

// downloadPackage fetches the Polygon problem's latestPackage-revision
// "linux"-type package and saves it to destPath. Polygon generates a
// separate package entry per type ("windows", "linux", ...) for the
// same revision, so the candidate must be filtered by both Revision
// and Type before downloading — a revision match alone can select a
// non-linux package whose id SavePackage's fixed type=linux parameter
// was never generated against, which Polygon rejects.
func downloadPackage(ctx context.Context, client *polygonapi.Client, polygonID int64, destPath string, logger *slog.Logger) error {
	problem, err := client.GetProblem(ctx, polygonID)
	if err != nil {
		return err
	}
	if problem.LatestPackage == nil {
		return importerr.NewNetworkError(
			"no packages available",
			fmt.Sprintf("Polygon problem %d has no generated packages", polygonID),
			"generate a package for this problem in Polygon and retry",
			nil,
		)
	}
	latestRevision := *problem.LatestPackage

	packages, err := client.GetPackages(ctx, polygonID)
	if err != nil {
		return err
	}

	var linux *polygonapi.Package
	for i, p := range packages {
		if p.Revision == latestRevision && p.Type == "linux" {
			linux = &packages[i]
			break
		}
	}
	if linux == nil {
		return importerr.NewNetworkError(
			"no linux package for the latest revision",
			fmt.Sprintf("Polygon problem %d revision %d has no linux-type package", polygonID, latestRevision),
			"only a Standard package may have been generated for the latest revision; generate a Full package",
			nil,
		)
	}
	if linux.State != "READY" {
		return importerr.NewNetworkError(
			"latest package is not ready",
			fmt.Sprintf("package %d (revision %d) is in state %q", linux.ID, linux.Revision, linux.State),
			"wait for Polygon to finish generating the package and retry",
			nil,
		)
	}

	if latestRevision != problem.Revision {
		logger.Warn("polygon.package.stale_revision", "latest_package_revision", latestRevision, "problem_revision", problem.Revision)
	}

	logger.Info("polygon.package.selected", "package_id", linux.ID, "revision", linux.Revision)
	return client.SavePackage(ctx, polygonID, linux.ID, destPath, func(written int64) {})
}

// buildTestArchive writes the generated test ZIP to archivePath and
// returns the test_cases manifest entries testset.Build produced.
func buildTestArchive(archive *pkgarchive.Reader, descriptor *pkgarchive.Descriptor, archivePath string, logger *slog.Logger) (*testset.Result, error) {
	out, err := os.Create(archivePath)
	if err != nil {
		return nil, importerr.NewInternalError("create test archive", err.Error(), "check disk space on the job scratch directory", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	result, buildErr := testset.Build(archive, descriptor, zw, logger)
	closeErr := zw.Close()
	if buildErr != nil {
		return nil, buildErr
	}
	if closeErr != nil {
		return nil, importerr.NewInternalError("finalize test archive", closeErr.Error(), "", closeErr)
	}
	return result, nil
}

// expectedDataFiles is the set of top-level filenames the cleanup pass
// must not remove from the problem data directory.
func expectedDataFiles(archivePath string, assetsResult *assets.Result) map[string]bool {
	expected := map[string]bool{"init.yml": true}
	if archivePath != "" {
		expected[filepath.Base(archivePath)] = true
	}
	if assetsResult != nil {
		for _, f := range assetsResult.StagedFiles {
			expected[f] = true
		}
	}
	return expected
}

func problemDataDir(media judgehost.MediaStore, code string) string {
	return media.Path(filepath.Join("problems", code))
}

// cleanupDataDir removes top-level files in the problem data directory
// that are not in expected. Upload directories are left to
// cleanupSiblingUploads/removeUploadDir.
func cleanupDataDir(media judgehost.MediaStore, code string, expected map[string]bool) error {
	dir := problemDataDir(media, code)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() || expected[e.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// cleanupSiblingUploads removes every upload_id directory under the
// problem's data directory other than currentUploadID.
func cleanupSiblingUploads(media judgehost.MediaStore, code, currentUploadID string) error {
	dir := problemDataDir(media, code)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == currentUploadID {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func removeUploadDir(media judgehost.MediaStore, code, uploadID string) error {
	return os.RemoveAll(filepath.Join(problemDataDir(media, code), uploadID))
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
