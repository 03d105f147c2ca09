// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package judgehost defines the narrow boundary between the Polygon
// problem importer and the surrounding judge application. The judge
// (HTTP views, auth, submission execution, web UI) is an external
// collaborator: this package declares only the operations the importer
// needs from it, never an implementation. A host application wires its
// own concrete types into pkg/importjob and pkg/assembler by satisfying
// these interfaces.
package judgehost

import (
	"context"
	"time"
)

// ProfileRef identifies the judge user who owns an import or authored a
// submission.
type ProfileRef struct {
	ID       int64
	Username string
}

// ProblemRef identifies a problem row in the host judge.
type ProblemRef struct {
	ID   int64
	Code string
}

// SubmissionRef identifies a submission row in the host judge.
type SubmissionRef struct {
	ID int64
}

// Translation is one non-main-language statement to persist against a
// problem.
type Translation struct {
	Language    string
	Name        string
	Description string // Markdown body.
}

// ProblemProperties is what the assembler writes to the host's problem
// row, mirroring the data model the surrounding judge exposes for a
// problem.
type ProblemProperties struct {
	Code         string
	Name         string
	TimeLimit    float64 // seconds
	MemoryLimit  int     // KB
	Description  string  // Markdown body of the main statement.
	Partial      bool
	Points       float64
	Group        string
	Translations []Translation
	Tutorial     string // empty if no tutorial content was merged.
}

// ProblemStore is the subset of problem persistence the assembler needs.
type ProblemStore interface {
	// UpsertByCode creates or updates the problem identified by
	// props.Code, returning its reference. Allowed languages are
	// extended (never shrunk) to include every registered language;
	// author is added to the problem's author set if absent; if the
	// problem has no type assigned, the first (uncategorized) type is
	// assigned.
	UpsertByCode(ctx context.Context, props ProblemProperties, author ProfileRef) (ProblemRef, error)

	// AttachDataArchive associates the generated test ZIP (identified
	// by its on-disk path) with the problem's data row, replacing any
	// previous archive.
	AttachDataArchive(ctx context.Context, problem ProblemRef, archivePath string) error
}

// TranslationStore replaces a problem's non-main-language statements.
type TranslationStore interface {
	// ReplaceTranslations deletes all existing translations for problem
	// and inserts the given set, in one step.
	ReplaceTranslations(ctx context.Context, problem ProblemRef, translations []Translation) error
}

// SolutionStore replaces a problem's stored editorial solution.
type SolutionStore interface {
	// ReplaceSolutions deletes any existing solution for problem and,
	// if tutorial is non-empty, inserts a new one: non-public and
	// time-stamped at insertion.
	ReplaceSolutions(ctx context.Context, problem ProblemRef, tutorial string, at time.Time) error
}

// JudgeLanguage names a compiler/language accepted by the judge, as used
// in the main-solution re-judge check.
type JudgeLanguage string

// Judging dispatches submissions for grading.
type Judging interface {
	// SupportedLanguages returns the compiler table the host judge
	// currently accepts.
	SupportedLanguages(ctx context.Context) ([]JudgeLanguage, error)

	// CreateSubmission records a new submission of source under
	// language against problem, authored by author, and returns its
	// reference. It does not itself enqueue judging.
	CreateSubmission(ctx context.Context, problem ProblemRef, language JudgeLanguage, source string, author ProfileRef) (SubmissionRef, error)

	// ForceJudge enqueues a first-time grading run for submission.
	ForceJudge(ctx context.Context, submission SubmissionRef) error

	// ForceRejudge enqueues a re-grading run for an existing submission
	// whose source has not changed.
	ForceRejudge(ctx context.Context, submission SubmissionRef) error
}

// MediaStore is the host's content-addressed blob storage used for
// statement images, the staged checker/interactor files and init.yml.
// The generated test archive goes through ProblemStore.AttachDataArchive
// instead.
type MediaStore interface {
	// Save writes data at path, creating parent directories lazily.
	Save(ctx context.Context, path string, data []byte) error

	// Exists reports whether path has already been saved.
	Exists(ctx context.Context, path string) (bool, error)

	// ListDir lists the immediate children of a directory path (used by
	// C7's sibling-upload cleanup sweep).
	ListDir(ctx context.Context, path string) ([]string, error)

	// Path returns the on-disk path backing path, for staging
	// filesystem artifacts (checker.cpp, testlib.h) directly.
	Path(path string) string

	// PublicURL returns the URL at which path is served.
	PublicURL(path string) string
}

// ConfigReader exposes host-side configuration the assembler needs but
// does not own: the default statement language and configured
// memory-limit bounds.
type ConfigReader interface {
	DefaultLanguage(ctx context.Context) (string, error)
	MemoryLimitBoundsKB(ctx context.Context) (min, max int, ok bool, err error)
	RegisteredLanguages(ctx context.Context) ([]string, error)
}

// Transactor lets the assembler run its merge-into-problem steps as one
// atomic unit against the host's own database. The host implementation
// begins a transaction, runs fn, and commits on success or rolls back if
// fn returns an error; fn must perform all of its ProblemStore,
// TranslationStore and SolutionStore calls using the ctx it is given,
// not the ambient one, so the host can bind them to the transaction.
// The assembler calls Judging.CreateSubmission after fn returns, outside
// the transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Authorizer checks the two permission predicates C8 requires before
// dispatching an import or retrigger.
type Authorizer interface {
	// CanImportProblems reports whether profile holds the "import
	// problems" capability.
	CanImportProblems(ctx context.Context, profile ProfileRef) (bool, error)

	// CanEditProblem reports whether profile is an editor of problem.
	// Only consulted when a ProblemSource already has a realized
	// problem.
	CanEditProblem(ctx context.Context, profile ProfileRef, problem ProblemRef) (bool, error)
}
