// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package testset

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kraklabs/polyimport/internal/importerr"
	"github.com/kraklabs/polyimport/pkg/pkgarchive"
)

func writeArchive(t *testing.T, members map[string]string) *pkgarchive.Reader {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pkg.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("os.Create() error = %v", err)
	}
	zw := zip.NewWriter(f)
	for name, content := range members {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("Create(%q) error = %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write %q error = %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zw.Close() error = %v", err)
	}
	f.Close()

	r, err := pkgarchive.Open(path)
	if err != nil {
		t.Fatalf("pkgarchive.Open() error = %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func members(n int, pattern string, answerPattern string) map[string]string {
	m := map[string]string{}
	for i := 1; i <= n; i++ {
		m[fmt.Sprintf(pattern, i)] = "in"
		m[fmt.Sprintf(answerPattern, i)] = "out"
	}
	return m
}

func TestBuild_SimpleNoGroups(t *testing.T) {
	archive := writeArchive(t, members(3, "tests/%02d", "tests/%02d.a"))

	d := &pkgarchive.Descriptor{
		Judging: pkgarchive.Judging{
			Testsets: []pkgarchive.Testset{
				{
					Name:              "tests",
					InputPathPattern:  "tests/%02d",
					AnswerPathPattern: "tests/%02d.a",
					Tests: []pkgarchive.Test{
						{Points: 10},
						{Points: 20},
						{Points: 30},
					},
				},
			},
		},
	}

	var outBuf bytes.Buffer
	outZip := zip.NewWriter(&outBuf)

	result, err := Build(archive, d, outZip, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if err := outZip.Close(); err != nil {
		t.Fatalf("outZip.Close() error = %v", err)
	}

	if len(result.TestCases) != 3 {
		t.Fatalf("len(TestCases) = %d, want 3", len(result.TestCases))
	}
	for i, want := range []int64{10, 20, 30} {
		if result.TestCases[i].Single == nil || result.TestCases[i].Single.Points != want {
			t.Errorf("TestCases[%d] = %+v, want points %d", i, result.TestCases[i], want)
		}
	}
	if len(result.PretestTestCases) != 0 {
		t.Errorf("PretestTestCases = %+v, want empty", result.PretestTestCases)
	}
}

func TestDigitWidth(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{0, 2},
		{1, 2},
		{9, 2},
		{10, 2},
		{15, 2},
		{99, 2},
		{100, 3},
		{999, 3},
		{1000, 4},
	}
	for _, tt := range tests {
		if got := digitWidth(tt.n); got != tt.want {
			t.Errorf("digitWidth(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestBuild_DoubleDigitTestCountUsesTwoDigitNames(t *testing.T) {
	const n = 12
	archive := writeArchive(t, members(n, "tests/%02d", "tests/%02d.a"))

	tests := make([]pkgarchive.Test, n)
	for i := range tests {
		tests[i] = pkgarchive.Test{Points: 1}
	}
	d := &pkgarchive.Descriptor{
		Judging: pkgarchive.Judging{
			Testsets: []pkgarchive.Testset{
				{
					Name:              "tests",
					InputPathPattern:  "tests/%02d",
					AnswerPathPattern: "tests/%02d.a",
					Tests:             tests,
				},
			},
		},
	}

	var outBuf bytes.Buffer
	outZip := zip.NewWriter(&outBuf)
	if _, err := Build(archive, d, outZip, nil); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if err := outZip.Close(); err != nil {
		t.Fatalf("outZip.Close() error = %v", err)
	}

	r, err := zip.NewReader(bytes.NewReader(outBuf.Bytes()), int64(outBuf.Len()))
	if err != nil {
		t.Fatalf("zip.NewReader() error = %v", err)
	}
	names := make(map[string]bool, len(r.File))
	for _, f := range r.File {
		names[f.Name] = true
	}
	if !names["tests-10.inp"] {
		t.Errorf("expected tests-10.inp in archive, got names: %v", names)
	}
	if names["tests-010.inp"] {
		t.Errorf("found tests-010.inp, width should stay 2 digits until n >= 100: %v", names)
	}
}

func TestBuild_EachTestGroupTestWithoutPointsIsError(t *testing.T) {
	archive := writeArchive(t, members(4, "tests/%02d", "tests/%02d.a"))

	d := &pkgarchive.Descriptor{
		Judging: pkgarchive.Judging{
			Testsets: []pkgarchive.Testset{
				{
					Name:              "tests",
					InputPathPattern:  "tests/%02d",
					AnswerPathPattern: "tests/%02d.a",
					Tests: []pkgarchive.Test{
						{Group: "samples"},
						{Group: "main"},
						{Group: "main"},
						{Points: 5},
					},
					Groups: []pkgarchive.Group{
						{Name: "samples", Points: 0, PointsPolicy: "each-test"},
						{Name: "main", Points: 50, PointsPolicy: "complete-group",
							Dependencies: []pkgarchive.Dependency{{Group: "samples"}}},
					},
				},
			},
		},
	}

	var outBuf bytes.Buffer
	outZip := zip.NewWriter(&outBuf)

	// samples is each-test, so its test is bucketed as individual; with
	// no declared points and groups enabled, that is a descriptor error.
	_, err := Build(archive, d, outZip, nil)
	if err == nil {
		t.Fatal("expected a descriptor error for a zero-point each-test test")
	}
	pe, ok := err.(*importerr.ProblemImportError)
	if !ok || pe.Kind != importerr.KindDescriptor {
		t.Errorf("err = %v, want KindDescriptor ProblemImportError", err)
	}
}

func TestBuild_GroupsBatchHappyPath(t *testing.T) {
	archive := writeArchive(t, members(3, "tests/%02d", "tests/%02d.a"))

	d := &pkgarchive.Descriptor{
		Judging: pkgarchive.Judging{
			Testsets: []pkgarchive.Testset{
				{
					Name:              "tests",
					InputPathPattern:  "tests/%02d",
					AnswerPathPattern: "tests/%02d.a",
					Tests: []pkgarchive.Test{
						{Group: "main"},
						{Group: "main"},
						{Group: "bonus"},
					},
					Groups: []pkgarchive.Group{
						{Name: "main", Points: 50, PointsPolicy: "complete-group"},
						{Name: "bonus", Points: 50, PointsPolicy: "complete-group",
							Dependencies: []pkgarchive.Dependency{{Group: "main"}}},
					},
				},
			},
		},
	}

	var outBuf bytes.Buffer
	outZip := zip.NewWriter(&outBuf)

	result, err := Build(archive, d, outZip, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	outZip.Close()

	if len(result.TestCases) != 2 {
		t.Fatalf("len(TestCases) = %d, want 2 batches", len(result.TestCases))
	}
	main := result.TestCases[0]
	if main.Batch == nil || len(main.Batch.Batched) != 2 {
		t.Errorf("main batch = %+v", main)
	}
	bonus := result.TestCases[1]
	if bonus.Batch == nil || len(bonus.Batch.Dependencies) != 1 || bonus.Batch.Dependencies[0] != 0 {
		t.Errorf("bonus batch dependencies = %+v, want [0]", bonus.Batch)
	}
}

func TestBuild_ForwardDependencyIsError(t *testing.T) {
	archive := writeArchive(t, members(2, "tests/%02d", "tests/%02d.a"))

	d := &pkgarchive.Descriptor{
		Judging: pkgarchive.Judging{
			Testsets: []pkgarchive.Testset{
				{
					Name:              "tests",
					InputPathPattern:  "tests/%02d",
					AnswerPathPattern: "tests/%02d.a",
					Tests: []pkgarchive.Test{
						{Group: "a"},
						{Group: "b"},
					},
					Groups: []pkgarchive.Group{
						{Name: "a", Points: 10, PointsPolicy: "complete-group",
							Dependencies: []pkgarchive.Dependency{{Group: "b"}}},
						{Name: "b", Points: 10, PointsPolicy: "complete-group"},
					},
				},
			},
		},
	}

	var outBuf bytes.Buffer
	outZip := zip.NewWriter(&outBuf)
	_, err := Build(archive, d, outZip, nil)
	if err == nil {
		t.Fatal("expected a forward-dependency error")
	}
	pe, ok := err.(*importerr.ProblemImportError)
	if !ok || pe.Kind != importerr.KindDescriptor {
		t.Errorf("err = %v, want KindDescriptor ProblemImportError", err)
	}
}

func TestBuild_EmptyTestsIsFatal(t *testing.T) {
	archive := writeArchive(t, nil)
	d := &pkgarchive.Descriptor{
		Judging: pkgarchive.Judging{
			Testsets: []pkgarchive.Testset{{Name: "tests"}},
		},
	}

	var outBuf bytes.Buffer
	outZip := zip.NewWriter(&outBuf)
	_, err := Build(archive, d, outZip, nil)
	if err == nil {
		t.Fatal("expected an error for an empty tests testset")
	}
}

func TestNormalizePoints_FractionalScalesByGCD(t *testing.T) {
	got := normalizePoints([]float64{0.5, 1.5, 2})
	want := []int64{1, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %d, want %d (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestNormalizePoints_IntegersPassThrough(t *testing.T) {
	got := normalizePoints([]float64{10, 20, 30})
	want := []int64{10, 20, 30}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestArchiveName_EmbedsRevisionAndTimestamp(t *testing.T) {
	at := time.Unix(1700000000, 0)
	got := ArchiveName(3, at)
	want := "tests-r3-1700000000.zip"
	if got != want {
		t.Errorf("ArchiveName() = %q, want %q", got, want)
	}
}
