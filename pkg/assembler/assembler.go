// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package assembler merges a parsed Polygon package into the host
// judge's problem row: it selects the main statement, normalizes limits
// and points, upserts the problem and its translations/solution inside
// one host transaction, attaches the generated test archive, stages
// supporting files, writes init.yml, and finally decides whether the
// package's main correct solution needs a fresh submission or a
// rejudge of the one already on file.
package assembler

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kraklabs/polyimport/internal/importerr"
	"github.com/kraklabs/polyimport/internal/judgehost"
	"github.com/kraklabs/polyimport/pkg/assets"
	"github.com/kraklabs/polyimport/pkg/pkgarchive"
	"github.com/kraklabs/polyimport/pkg/polygonmodel"
	"github.com/kraklabs/polyimport/pkg/statement"
	"github.com/kraklabs/polyimport/pkg/testset"
)

// Host groups the host judge capabilities the assembler needs, each the
// narrowest interface in internal/judgehost that covers its step.
type Host struct {
	Problems     judgehost.ProblemStore
	Translations judgehost.TranslationStore
	Solutions    judgehost.SolutionStore
	Judging      judgehost.Judging
	Media        judgehost.MediaStore
	Config       judgehost.ConfigReader
	Tx           judgehost.Transactor
}

// Input is everything C1-C5 produced for one import attempt.
type Input struct {
	ProblemCode string
	Author      judgehost.ProfileRef
	Archive     *pkgarchive.Reader
	Descriptor  *pkgarchive.Descriptor
	Testset     *testset.Result
	Assets      *assets.Result
	Statements  []statement.Statement

	// ArchivePath is the on-disk path of the generated test ZIP, ready
	// for judgehost.ProblemStore.AttachDataArchive.
	ArchivePath string

	// StagedDir holds the checker/interactor/testlib.h files assets.Stage
	// copied out of the archive, named by their basenames in
	// Assets.StagedFiles.
	StagedDir string

	// PreviousMainSourceSHA1 is the sha1 recorded against the
	// ProblemSource on a prior import, empty if this is the first one.
	PreviousMainSourceSHA1 string

	// PreviousMainSubmission is the submission that sha1 was judged
	// under, nil if this is the first import.
	PreviousMainSubmission *judgehost.SubmissionRef

	Now time.Time
}

// Result is what changed in the host judge, for the caller to persist
// against its own ProblemSource bookkeeping.
type Result struct {
	Problem judgehost.ProblemRef

	// Submission is nil if the package has no main solution, or its
	// source was unsupported or undecodable.
	Submission *judgehost.SubmissionRef

	// MainSourceSHA1 is the sha1 of the source text backing Submission;
	// empty when Submission is nil.
	MainSourceSHA1 string
}

// Assemble runs the nine merge steps and the main-solution rejudge
// check. The merge (problem upsert through init.yml staging) happens
// before the rejudge dispatch, matching the original importer's order:
// filesystem moves only occur once the host transaction has committed.
func Assemble(ctx context.Context, in Input, host Host, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	main, others := selectMainStatement(ctx, in.Statements, host.Config, logger)

	tests := in.Descriptor.Judging.TestsetByName("tests")
	if tests == nil {
		return nil, importerr.NewDescriptorError(
			"problem has no tests testset",
			`assembler requires the "tests" testset parsed by C3`,
			"this indicates a bug: C3 should have already rejected the package",
			nil,
		)
	}
	timeLimit := float64(tests.TimeLimitMillis) / 1000
	memoryLimit := clampMemoryKB(ctx, tests.MemoryLimitBytes/1024, host.Config, logger)

	testCases := in.Testset.TestCases
	partial, points := normalizeTotalPoints(testCases)

	tutorial := joinTutorials(main, others)

	translations := make([]judgehost.Translation, 0, len(others))
	for _, s := range others {
		translations = append(translations, judgehost.Translation{
			Language:    s.Language,
			Name:        s.Name,
			Description: s.Description,
		})
	}

	props := judgehost.ProblemProperties{
		Code:         in.ProblemCode,
		Name:         main.Name,
		TimeLimit:    timeLimit,
		MemoryLimit:  memoryLimit,
		Description:  main.Description,
		Partial:      partial,
		Points:       points,
		Translations: translations,
		Tutorial:     tutorial,
	}

	var problem judgehost.ProblemRef
	err := host.Tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		problem, err = host.Problems.UpsertByCode(ctx, props, in.Author)
		if err != nil {
			return fmt.Errorf("upsert problem: %w", err)
		}
		if err := host.Translations.ReplaceTranslations(ctx, problem, translations); err != nil {
			return fmt.Errorf("replace translations: %w", err)
		}
		if err := host.Solutions.ReplaceSolutions(ctx, problem, tutorial, in.Now); err != nil {
			return fmt.Errorf("replace solutions: %w", err)
		}
		if err := host.Problems.AttachDataArchive(ctx, problem, in.ArchivePath); err != nil {
			return fmt.Errorf("attach data archive: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := stageSupportingFiles(ctx, host.Media, in); err != nil {
		return nil, err
	}
	if err := writeInitYML(ctx, host.Media, in, problem); err != nil {
		return nil, err
	}

	submission, sha1sum, err := rejudgeMainSolution(ctx, in, host, problem, logger)
	if err != nil {
		return nil, err
	}

	return &Result{Problem: problem, Submission: submission, MainSourceSHA1: sha1sum}, nil
}

// selectMainStatement returns the statement matching the host's default
// language, falling back to the first, plus every other statement in
// their original order (used both for translations and for the
// tutorial join, which includes the main statement's tutorial too).
func selectMainStatement(ctx context.Context, statements []statement.Statement, cfg judgehost.ConfigReader, logger *slog.Logger) (statement.Statement, []statement.Statement) {
	defaultLang, err := cfg.DefaultLanguage(ctx)
	if err != nil {
		logger.Warn("assembler.default_language.lookup_failed", "error", err)
	}

	mainIdx := 0
	found := false
	if defaultLang != "" {
		for i, s := range statements {
			if s.Language == defaultLang {
				mainIdx = i
				found = true
				break
			}
		}
	}
	if !found {
		logger.Info("assembler.main_statement.fallback", "default_language", defaultLang, "used", statements[mainIdx].Language)
	}

	main := statements[mainIdx]
	others := make([]statement.Statement, 0, len(statements)-1)
	for i, s := range statements {
		if i != mainIdx {
			others = append(others, s)
		}
	}
	return main, others
}

func clampMemoryKB(ctx context.Context, kb int64, cfg judgehost.ConfigReader, logger *slog.Logger) int {
	min, max, ok, err := cfg.MemoryLimitBoundsKB(ctx)
	if err != nil {
		logger.Warn("assembler.memory_limit_bounds.lookup_failed", "error", err)
		return int(kb)
	}
	if !ok {
		return int(kb)
	}
	if kb < int64(min) {
		return min
	}
	if kb > int64(max) {
		return max
	}
	return int(kb)
}

// normalizeTotalPoints sums the normalized points testset.Build already
// assigned to each test item. A zero total is Polygon's convention for
// "no explicit scoring configured": the problem becomes non-partial,
// the total is forced to 1, and the last test item is mutated in place
// to carry that single point.
func normalizeTotalPoints(items []polygonmodel.TestItem) (partial bool, points float64) {
	var total int64
	for _, item := range items {
		switch {
		case item.Single != nil:
			total += item.Single.Points
		case item.Batch != nil:
			total += item.Batch.Points
		}
	}
	if total != 0 {
		return true, float64(total)
	}
	if len(items) > 0 {
		last := &items[len(items)-1]
		if last.Single != nil {
			last.Single.Points = 1
		} else if last.Batch != nil {
			last.Batch.Points = 1
		}
	}
	return false, 1
}

func joinTutorials(main statement.Statement, others []statement.Statement) string {
	all := make([]string, 0, 1+len(others))
	if main.Tutorial != "" {
		all = append(all, main.Tutorial)
	}
	for _, s := range others {
		if s.Tutorial != "" {
			all = append(all, s.Tutorial)
		}
	}
	return strings.Join(all, "\n\n----\n\n")
}

func problemDataPath(code, name string) string {
	return filepath.Join("problems", code, name)
}

func stageSupportingFiles(ctx context.Context, media judgehost.MediaStore, in Input) error {
	for _, name := range in.Assets.StagedFiles {
		data, err := os.ReadFile(filepath.Join(in.StagedDir, name))
		if err != nil {
			return importerr.NewInternalError(
				fmt.Sprintf("read staged asset %q", name),
				err.Error(),
				"check that C4 staged this file before the assembler ran",
				err,
			)
		}
		if err := media.Save(ctx, problemDataPath(in.ProblemCode, name), data); err != nil {
			return importerr.NewInternalError(fmt.Sprintf("save staged asset %q", name), err.Error(), "", err)
		}
	}
	return nil
}

func writeInitYML(ctx context.Context, media judgehost.MediaStore, in Input, problem judgehost.ProblemRef) error {
	unbuffered := in.Assets.Unbuffered
	cfg := polygonmodel.ProblemConfig{
		Archive:          filepath.Base(in.ArchivePath),
		TestCases:        in.Testset.TestCases,
		PretestTestCases: in.Testset.PretestTestCases,
		Checker:          in.Assets.Checker,
		Interactive:      in.Assets.Grader,
		Unbuffered:       &unbuffered,
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return importerr.NewInternalError("encode init.yml", err.Error(), "", err)
	}
	if err := media.Save(ctx, problemDataPath(in.ProblemCode, "init.yml"), data); err != nil {
		return importerr.NewInternalError("write init.yml", err.Error(), "", err)
	}
	return nil
}

// rejudgeMainSolution implements spec's post-commit rejudge check. An
// unsupported compiler or undecodable source is a warning, not a
// failure: the import has already succeeded by this point.
func rejudgeMainSolution(ctx context.Context, in Input, host Host, problem judgehost.ProblemRef, logger *slog.Logger) (*judgehost.SubmissionRef, string, error) {
	main := in.Descriptor.MainSolution()
	if main == nil {
		logger.Warn("assembler.main_solution.missing")
		return nil, "", nil
	}

	raw, err := in.Archive.ReadAll(main.Source.Path)
	if err != nil {
		return nil, "", err
	}
	if !utf8.Valid(raw) {
		logger.Warn("assembler.main_solution.not_utf8", "path", main.Source.Path)
		return nil, "", nil
	}
	source := string(raw)

	supported, err := host.Judging.SupportedLanguages(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("list supported languages: %w", err)
	}
	lang := judgehost.JudgeLanguage(main.Source.Type)
	if !containsLanguage(supported, lang) {
		logger.Warn("assembler.main_solution.unsupported_language", "language", main.Source.Type)
		return nil, "", nil
	}

	sum := sha1Hex(raw)
	if sum == in.PreviousMainSourceSHA1 && in.PreviousMainSubmission != nil {
		logger.Info("assembler.main_solution.unchanged")
		existing := in.PreviousMainSubmission
		if err := host.Judging.ForceRejudge(ctx, *existing); err != nil {
			return nil, "", fmt.Errorf("force rejudge main solution: %w", err)
		}
		return existing, sum, nil
	}

	logger.Info("assembler.main_solution.changed")
	submission, err := host.Judging.CreateSubmission(ctx, problem, lang, source, in.Author)
	if err != nil {
		return nil, "", fmt.Errorf("create main solution submission: %w", err)
	}
	if err := host.Judging.ForceJudge(ctx, submission); err != nil {
		return nil, "", fmt.Errorf("force judge main solution: %w", err)
	}
	return &submission, sum, nil
}

func containsLanguage(langs []judgehost.JudgeLanguage, want judgehost.JudgeLanguage) bool {
	for _, l := range langs {
		if l == want {
			return true
		}
	}
	return false
}

func sha1Hex(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}
