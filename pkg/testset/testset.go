// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package testset turns a problem package's "tests"/"pretests" testset
// descriptors into the generated test ZIP and the test_cases /
// pretest_test_cases entries of ProblemConfig: per-test extraction
// under canonical names, grouping into scored batches, and points
// normalization to integers.
package testset

import (
	"archive/zip"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/kraklabs/polyimport/internal/importerr"
	"github.com/kraklabs/polyimport/pkg/pkgarchive"
	"github.com/kraklabs/polyimport/pkg/polygonmodel"
)

// Result is the per-testset outcome of Build.
type Result struct {
	TestCases        []polygonmodel.TestItem
	PretestTestCases []polygonmodel.TestItem
}

// Build enumerates the package's "tests" testset (required) and
// "pretests" testset (optional) into outZip, returning the test_cases
// manifest entries for each.
func Build(archive *pkgarchive.Reader, descriptor *pkgarchive.Descriptor, outZip *zip.Writer, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	for _, ts := range descriptor.Judging.Testsets {
		if ts.Name != "tests" && ts.Name != "pretests" {
			logger.Warn("testset.unrecognized", "name", ts.Name)
		}
	}

	tests := descriptor.Judging.TestsetByName("tests")
	if tests == nil || len(tests.Tests) == 0 {
		return nil, importerr.NewDescriptorError(
			"problem has no tests",
			`the "tests" testset is missing or empty`,
			"every problem package must declare at least one test",
			nil,
		)
	}
	testCases, err := processTestset(archive, tests, outZip, logger)
	if err != nil {
		return nil, err
	}

	var pretestCases []polygonmodel.TestItem
	if pretests := descriptor.Judging.TestsetByName("pretests"); pretests != nil {
		if len(pretests.Tests) == 0 {
			return nil, importerr.NewDescriptorError(
				"pretests testset is empty",
				`the "pretests" testset is declared but has no tests`,
				"remove the empty pretests testset or populate it",
				nil,
			)
		}
		pretestCases, err = processTestset(archive, pretests, outZip, logger)
		if err != nil {
			return nil, err
		}
	}

	return &Result{TestCases: testCases, PretestTestCases: pretestCases}, nil
}

// groupEntry is a complete-group group's scoring and dependency data.
type groupEntry struct {
	points       float64
	dependencies []string
}

func buildGroupTable(ts *pkgarchive.Testset) (map[string]*groupEntry, error) {
	table := make(map[string]*groupEntry)
	for _, g := range ts.Groups {
		if g.PointsPolicy == "each-test" {
			continue
		}
		deps := make([]string, 0, len(g.Dependencies))
		for _, d := range g.Dependencies {
			deps = append(deps, d.Group)
		}
		table[g.Name] = &groupEntry{points: g.Points, dependencies: deps}
	}

	for name, g := range table {
		for _, dep := range g.dependencies {
			if _, ok := table[dep]; !ok {
				return nil, importerr.NewDescriptorError(
					fmt.Sprintf("group %q depends on unknown group %q", name, dep),
					"dependency targets must be complete-group groups declared in the same testset",
					"fix the dependency in problem.xml or remove it",
					nil,
				)
			}
		}
	}
	return table, nil
}

// digitWidth returns the zero-padding width for n test filenames:
// minimum 2 digits, widening only once n itself needs more than 2
// (n >= 100), matching Python's "%02d" minimum-width formatting.
func digitWidth(n int) int {
	w := 2
	for d := 100; d <= n; d *= 10 {
		w++
	}
	return w
}

func processTestset(archive *pkgarchive.Reader, ts *pkgarchive.Testset, outZip *zip.Writer, logger *slog.Logger) ([]polygonmodel.TestItem, error) {
	groupTable, err := buildGroupTable(ts)
	if err != nil {
		return nil, err
	}

	width := digitWidth(len(ts.Tests))
	var items []polygonmodel.TestItem
	var rawPoints []float64
	groupItemIndex := make(map[string]int)
	var batchOrder []string

	for i, test := range ts.Tests {
		idx := i + 1
		canonicalIn := fmt.Sprintf("%s-%0*d.inp", ts.Name, width, idx)
		canonicalOut := fmt.Sprintf("%s-%0*d.out", ts.Name, width, idx)

		if err := copyMember(archive, outZip, fmt.Sprintf(ts.InputPathPattern, idx), canonicalIn); err != nil {
			return nil, err
		}
		if err := copyMember(archive, outZip, fmt.Sprintf(ts.AnswerPathPattern, idx), canonicalOut); err != nil {
			return nil, err
		}

		if group, ok := groupTable[test.Group]; ok && test.Group != "" {
			entry := polygonmodel.BatchEntry{In: canonicalIn, Out: canonicalOut}
			if pos, seen := groupItemIndex[test.Group]; seen {
				items[pos].Batch.Batched = append(items[pos].Batch.Batched, entry)
				continue
			}

			pos := len(items)
			items = append(items, polygonmodel.TestItem{Batch: &polygonmodel.BatchTest{Batched: []polygonmodel.BatchEntry{entry}}})
			rawPoints = append(rawPoints, group.points)
			groupItemIndex[test.Group] = pos
			batchOrder = append(batchOrder, test.Group)
			continue
		}

		if len(ts.Groups) > 0 && test.Points <= 0 {
			return nil, importerr.NewDescriptorError(
				fmt.Sprintf("%s test %d has no group and no points", ts.Name, idx),
				"this testset uses groups, so every non-grouped test must declare points > 0",
				"add a points attribute to the test in problem.xml",
				nil,
			)
		}

		items = append(items, polygonmodel.TestItem{Single: &polygonmodel.SingleTest{In: canonicalIn, Out: canonicalOut}})
		rawPoints = append(rawPoints, test.Points)
	}

	if err := resolveDependencies(items, groupTable, groupItemIndex, batchOrder); err != nil {
		return nil, err
	}

	normalized := normalizePoints(rawPoints)
	for i := range items {
		if items[i].Single != nil {
			items[i].Single.Points = normalized[i]
		} else {
			items[i].Batch.Points = normalized[i]
		}
	}

	return items, nil
}

func resolveDependencies(items []polygonmodel.TestItem, table map[string]*groupEntry, groupItemIndex map[string]int, order []string) error {
	for _, groupName := range order {
		pos := groupItemIndex[groupName]
		group := table[groupName]

		deps := make([]int, 0, len(group.dependencies))
		for _, depName := range group.dependencies {
			depPos, ok := groupItemIndex[depName]
			if !ok {
				return importerr.NewDescriptorError(
					fmt.Sprintf("group %q dependency %q has no tests", groupName, depName),
					"a group dependency must itself contain at least one test to form a batch",
					"populate the dependency group with tests or remove the dependency",
					nil,
				)
			}
			if depPos >= pos {
				return importerr.NewDescriptorError(
					fmt.Sprintf("group %q has a forward or self dependency on %q", groupName, depName),
					"batch dependencies must reference an earlier batch in the same testset",
					"reorder the groups in problem.xml or fix the dependency",
					nil,
				)
			}
			deps = append(deps, depPos)
		}
		if len(deps) > 0 {
			items[pos].Batch.Dependencies = deps
		}
	}
	return nil
}

// normalizePoints scales a set of point values to integers, preserving
// relative weights: if any value is non-integral, every value is
// multiplied by 100 and divided by their gcd; otherwise values are cast
// to int64 directly.
func normalizePoints(points []float64) []int64 {
	fractional := false
	for _, p := range points {
		if p != float64(int64(p)) {
			fractional = true
			break
		}
	}

	out := make([]int64, len(points))
	if !fractional {
		for i, p := range points {
			out[i] = int64(p)
		}
		return out
	}

	scaled := make([]int64, len(points))
	for i, p := range points {
		scaled[i] = int64(p * 100)
	}

	g := big.NewInt(0)
	tmp := new(big.Int)
	for _, v := range scaled {
		if v == 0 {
			continue
		}
		tmp.SetInt64(v)
		g.GCD(nil, nil, g, tmp)
	}
	if g.Sign() == 0 {
		g.SetInt64(1)
	}

	for i, v := range scaled {
		out[i] = v / g.Int64()
	}
	return out
}

func copyMember(archive *pkgarchive.Reader, outZip *zip.Writer, srcName, destName string) error {
	rc, err := archive.Open(srcName)
	if err != nil {
		return err
	}
	defer rc.Close()

	w, err := outZip.Create(destName)
	if err != nil {
		return importerr.NewInternalError("create test archive entry", err.Error(), "", err)
	}
	if _, err := io.Copy(w, rc); err != nil {
		return importerr.NewInternalError(fmt.Sprintf("write test archive entry %q", destName), err.Error(), "", err)
	}
	return nil
}

// ArchiveName returns the generated test ZIP's filename, embedding the
// descriptor revision and the job's start time.
func ArchiveName(revision int, at time.Time) string {
	return fmt.Sprintf("tests-r%d-%d.zip", revision, at.Unix())
}
