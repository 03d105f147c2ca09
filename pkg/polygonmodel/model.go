// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package polygonmodel defines the data shapes shared across the
// importer: the persistent ProblemSource/ProblemSourceImport records,
// and ProblemConfig, the manifest serialized to init.yml. These are
// plain structs with explicit optional pointer fields and JSON tags, the
// same convention the rest of this codebase uses for entity shapes —
// no behavior lives here beyond JSON encoding and the problem_code
// character-class check every caller needs.
package polygonmodel

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/kraklabs/polyimport/internal/judgehost"
)

// ProblemCodePattern is the character class problem_code must match.
var ProblemCodePattern = regexp.MustCompile(`^[a-z0-9]+$`)

// MaxProblemCodeLength is the maximum length of a problem_code.
const MaxProblemCodeLength = 20

// ValidProblemCode reports whether code is a legal problem_code: it
// matches ProblemCodePattern and is no longer than MaxProblemCodeLength.
func ValidProblemCode(code string) bool {
	return len(code) > 0 && len(code) <= MaxProblemCodeLength && ProblemCodePattern.MatchString(code)
}

// ImportStatus is the lifecycle state of one ProblemSourceImport attempt.
type ImportStatus string

const (
	ImportProcessing ImportStatus = "Processing"
	ImportCompleted  ImportStatus = "Completed"
	ImportFailed     ImportStatus = "Failed"
)

// ProblemSource is the persistent record of one Polygon import target.
// polygon_id and problem_code are each unique; problem_code additionally
// must satisfy ValidProblemCode.
type ProblemSource struct {
	ID        int64
	PolygonID int64
	Author    judgehost.ProfileRef

	// ProblemCode must satisfy ValidProblemCode.
	ProblemCode string

	// Problem is nil until the first successful import.
	Problem *judgehost.ProblemRef

	// MainSubmission is nil until a main-tagged solution has been
	// submitted.
	MainSubmission *judgehost.SubmissionRef

	// MainSourceSHA1 is the sha1 of the source text last submitted as
	// MainSubmission, empty if MainSubmission is nil. pkg/assembler
	// compares the incoming main solution's hash against this value to
	// decide between a force-judge of a freshly created submission and a
	// force-rejudge of the existing one.
	MainSourceSHA1 string

	CreatedAt time.Time
}

// ProblemSourceImport is one attempt to run an import for a
// ProblemSource. Listing is newest-first by CreatedAt.
type ProblemSourceImport struct {
	ID              int64
	ProblemSourceID int64
	Author          judgehost.ProfileRef
	Status          ImportStatus
	Log             string
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BatchEntry is one {in,out} pair inside a Batch test item.
type BatchEntry struct {
	In  string `json:"in"`
	Out string `json:"out"`
}

// SingleTest is a standalone test case with its own point value.
type SingleTest struct {
	In     string `json:"in"`
	Out    string `json:"out"`
	Points int64  `json:"points"`
}

// BatchTest is a complete-group of tests sharing one collective score.
// Dependencies names earlier batch indexes (within the same testset)
// that must pass first.
type BatchTest struct {
	Batched      []BatchEntry `json:"batched"`
	Points       int64        `json:"points"`
	Dependencies []int        `json:"dependencies,omitempty"`
}

// TestItem is the tagged-variant test_cases entry: exactly one of
// Single or Batch is set. It marshals to the flat shape the judge
// expects — {in,out,points} or {batched,points,dependencies?} — with no
// wrapper or tag field, matching Polygon's heterogeneous test list.
type TestItem struct {
	Single *SingleTest
	Batch  *BatchTest
}

// MarshalJSON implements json.Marshaler.
func (t TestItem) MarshalJSON() ([]byte, error) {
	switch {
	case t.Single != nil && t.Batch == nil:
		return json.Marshal(t.Single)
	case t.Batch != nil && t.Single == nil:
		return json.Marshal(t.Batch)
	default:
		return nil, fmt.Errorf("polygonmodel: TestItem must have exactly one of Single or Batch set")
	}
}

// UnmarshalJSON implements json.Unmarshaler, distinguishing the two
// variants by the presence of a "batched" field.
func (t *TestItem) UnmarshalJSON(data []byte) error {
	var probe struct {
		Batched json.RawMessage `json:"batched"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Batched != nil {
		var b BatchTest
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		t.Batch = &b
		t.Single = nil
		return nil
	}
	var s SingleTest
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t.Single = &s
	t.Batch = nil
	return nil
}

// CheckerArgs is the nested args object of a checker config entry.
type CheckerArgs struct {
	Files    []string `json:"files"`
	Feedback bool     `json:"feedback"`
	Lang     string   `json:"lang"`
	Type     string   `json:"type"`
}

// Checker configures the testlib checker staged by pkg/assets.
type Checker struct {
	Args CheckerArgs `json:"args"`
	Name string      `json:"name"`
}

// Grader configures the testlib interactor staged by pkg/assets. Unlike
// Checker, its fields are flat (no nested args object).
type Grader struct {
	Files    []string `json:"files"`
	Feedback bool     `json:"feedback"`
	Lang     string   `json:"lang"`
	Type     string   `json:"type"`
}

// ProblemConfig is the manifest JSON-serialized to init.yml. Exactly one
// of Checker or Interactive is set once the checker/interactor stage has
// run; null fields are omitted from the encoded form via the omitempty
// tags below.
type ProblemConfig struct {
	Archive          string     `json:"archive"`
	TestCases        []TestItem `json:"test_cases"`
	PretestTestCases []TestItem `json:"pretest_test_cases,omitempty"`
	Checker          *Checker   `json:"checker,omitempty"`
	Interactive      *Grader    `json:"interactive,omitempty"`
	Unbuffered       *bool      `json:"unbuffered,omitempty"`
	Hints            []string   `json:"hints,omitempty"`
}
