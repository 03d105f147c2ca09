// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package statement

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kraklabs/polyimport/internal/importerr"
	"github.com/kraklabs/polyimport/internal/judgehost"
	"github.com/kraklabs/polyimport/internal/retry"
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

// fakePandoc writes an executable shell script standing in for pandoc:
// it just copies its input .tex to the requested -o path, verbatim.
// This exercises every bit of plumbing (temp dirs, filter flag, argument
// parsing) without depending on a real pandoc binary being installed.
func fakePandoc(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pandoc.sh")
	script := `#!/bin/sh
out=""
in=""
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift 2 ;;
    --lua-filter=*) shift ;;
    -t) shift 2 ;;
    *) in="$1"; shift ;;
  esac
done
cp "$in" "$out"
`
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("WriteFile(fake pandoc) error = %v", err)
	}
	return path
}

type fakeMedia struct {
	saved map[string][]byte
}

func newFakeMedia() *fakeMedia { return &fakeMedia{saved: make(map[string][]byte)} }

func (m *fakeMedia) Save(ctx context.Context, path string, data []byte) error {
	m.saved[path] = data
	return nil
}
func (m *fakeMedia) Exists(ctx context.Context, path string) (bool, error) {
	_, ok := m.saved[path]
	return ok, nil
}
func (m *fakeMedia) ListDir(ctx context.Context, path string) ([]string, error) { return nil, nil }
func (m *fakeMedia) Path(path string) string                                   { return path }
func (m *fakeMedia) PublicURL(path string) string                              { return "https://judge.example/media/" + path }

var _ judgehost.MediaStore = (*fakeMedia)(nil)

func englishOnly(lang string) (string, bool) {
	if lang == "english" {
		return "en", true
	}
	return lang, false
}

func testOptions(t *testing.T, media judgehost.MediaStore) Options {
	return Options{
		PandocPath:  fakePandoc(t),
		LanguageOf:  englishOnly,
		Media:       media,
		ProblemCode: "aplusb",
		UploadID:    "up1",
		ImageCache:  make(map[string]string),
		Retry:       retry.Config{MaxRetries: 1},
	}
}

func TestBuild_NoStatementBlocksYieldsPlaceholder(t *testing.T) {
	archive := writeArchive(t, nil)
	d := &pkgarchive.Descriptor{Names: []pkgarchive.Name{{Language: "english", Value: "A Plus B"}}}

	got, err := Build(context.Background(), archive, d, testOptions(t, newFakeMedia()))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(got) != 1 || got[0].Name != "A Plus B" {
		t.Errorf("Build() = %+v, want single placeholder named A Plus B", got)
	}
}

func TestBuild_ConvertsLegendAndSections(t *testing.T) {
	props := `{
		"legend": "legend text",
		"input": "input text",
		"output": "output text",
		"sampleTests": [{"input": "1 2", "output": "3"}]
	}`
	archive := writeArchive(t, map[string]string{
		"statements/english/problem-properties.json": props,
	})
	d := &pkgarchive.Descriptor{
		Names: []pkgarchive.Name{{Language: "english", Value: "A Plus B"}},
		Statements: []pkgarchive.Statement{
			{Type: "application/x-tex", Language: "english", Path: "statements/english/problem.tex"},
		},
	}

	got, err := Build(context.Background(), archive, d, testOptions(t, newFakeMedia()))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(Build()) = %d, want 1", len(got))
	}
	s := got[0]
	if s.Language != "en" || s.Name != "A Plus B" {
		t.Errorf("Statement = %+v", s)
	}
	for _, want := range []string{"legend text", "## Input", "input text", "## Output", "output text", "## Samples", "### Input 1", "### Output 1"} {
		if !strings.Contains(s.Description, want) {
			t.Errorf("Description missing %q, got:\n%s", want, s.Description)
		}
	}
}

func TestBuild_UnrecognizedLanguageRetainedAsIs(t *testing.T) {
	props := `{"legend": "texte"}`
	archive := writeArchive(t, map[string]string{
		"statements/french/problem-properties.json": props,
	})
	d := &pkgarchive.Descriptor{
		Names: []pkgarchive.Name{{Language: "french", Value: "A Plus B"}},
		Statements: []pkgarchive.Statement{
			{Type: "application/x-tex", Language: "french", Path: "statements/french/problem.tex"},
		},
	}

	got, err := Build(context.Background(), archive, d, testOptions(t, newFakeMedia()))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(got) != 1 || got[0].Language != "french" {
		t.Errorf("Build() = %+v, want language retained as \"french\"", got)
	}
}

func TestBuild_DuplicateLanguageSkipped(t *testing.T) {
	props := `{"legend": "legend text"}`
	archive := writeArchive(t, map[string]string{
		"statements/english/problem-properties.json":  props,
		"statements/english2/problem-properties.json": props,
	})
	d := &pkgarchive.Descriptor{
		Names: []pkgarchive.Name{{Language: "english", Value: "A Plus B"}},
		Statements: []pkgarchive.Statement{
			{Type: "application/x-tex", Language: "english", Path: "statements/english/problem.tex"},
			{Type: "application/x-tex", Language: "english", Path: "statements/english2/problem.tex"},
		},
	}

	got, err := Build(context.Background(), archive, d, testOptions(t, newFakeMedia()))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("len(Build()) = %d, want 1 (second duplicate language skipped)", len(got))
	}
}

func TestBuild_MissingPropertiesIsDescriptorError(t *testing.T) {
	archive := writeArchive(t, nil)
	d := &pkgarchive.Descriptor{
		Statements: []pkgarchive.Statement{
			{Type: "application/x-tex", Language: "english", Path: "statements/english/problem.tex"},
		},
	}

	_, err := Build(context.Background(), archive, d, testOptions(t, newFakeMedia()))
	pe, ok := err.(*importerr.ProblemImportError)
	if !ok || pe.Kind != importerr.KindDescriptor {
		t.Errorf("err = %v, want KindDescriptor ProblemImportError", err)
	}
}

func TestProcessImages_DedupesRepeatedImage(t *testing.T) {
	archive := writeArchive(t, map[string]string{
		"statements/english/img.png": "fake-bytes",
	})
	media := newFakeMedia()
	opts := testOptions(t, media)

	text := "see ![image](img.png) and again ![image](img.png)"
	got, err := processImages(context.Background(), archive, "statements/english", text, opts)
	if err != nil {
		t.Fatalf("processImages() error = %v", err)
	}
	if len(media.saved) != 1 {
		t.Errorf("len(media.saved) = %d, want 1 (same bytes deduped)", len(media.saved))
	}
	if strings.Contains(got, "img.png") {
		t.Errorf("processImages() did not rewrite all occurrences: %s", got)
	}
}

func TestProcessImages_RewritesImgTag(t *testing.T) {
	archive := writeArchive(t, map[string]string{
		"statements/english/diagram.png": "diagram-bytes",
	})
	opts := testOptions(t, newFakeMedia())

	text := `<img src="diagram.png" width="200">`
	got, err := processImages(context.Background(), archive, "statements/english", text, opts)
	if err != nil {
		t.Fatalf("processImages() error = %v", err)
	}
	if !strings.Contains(got, "https://judge.example/media/problems/aplusb/up1/") {
		t.Errorf("processImages() = %q, want a rewritten media URL", got)
	}
}

func TestSectionHeadings_FallsBackToEnglish(t *testing.T) {
	h := sectionHeadings("klingon")
	if h != headingTable["en"] {
		t.Errorf("sectionHeadings(unknown) = %+v, want English fallback", h)
	}
}

func TestIsTransientExecError(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"resource temporarily unavailable", true},
		{"too many open files", true},
		{"exit status 1", false},
		{"", false},
	}
	for _, tt := range tests {
		var err error
		if tt.msg != "" {
			err = &testError{tt.msg}
		}
		if got := isTransientExecError(err); got != tt.want {
			t.Errorf("isTransientExecError(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
