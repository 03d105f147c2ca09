// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package pkgarchive opens a downloaded Polygon problem package (a ZIP
// archive) and parses its problem.xml descriptor into a Descriptor
// tree. Every downstream component (testset, asset, and statement
// parsing) reads archive members through Reader and reads structure
// through Descriptor; neither type mutates the underlying file.
package pkgarchive

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"

	"github.com/kraklabs/polyimport/internal/importerr"
)

// Reader provides random read access into a problem package by member
// name.
type Reader struct {
	zr   *zip.ReadCloser
	path string
	// index maps archive member name to its *zip.File for O(1) lookups;
	// zip.Reader itself only offers a linear scan.
	index map[string]*zip.File
}

// Open opens the ZIP archive at path.
func Open(path string) (*Reader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, importerr.NewArchiveError(
			"open problem package",
			err.Error(),
			"the downloaded package may be truncated or not a valid ZIP file",
			err,
		)
	}

	index := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		index[f.Name] = f
	}

	return &Reader{zr: zr, path: path, index: index}, nil
}

// Close releases the archive's file handle.
func (r *Reader) Close() error { return r.zr.Close() }

// Has reports whether name exists as a member of the archive.
func (r *Reader) Has(name string) bool {
	_, ok := r.index[name]
	return ok
}

// Open returns a reader over the archive member name. The caller must
// Close the returned ReadCloser. A missing member is a ProblemImportError.
func (r *Reader) Open(name string) (io.ReadCloser, error) {
	f, ok := r.index[name]
	if !ok {
		return nil, importerr.NewArchiveError(
			fmt.Sprintf("archive member %q not found", name),
			"the package descriptor references a file the archive does not contain",
			"the Polygon package may be stale or incomplete; regenerate it",
			nil,
		)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, importerr.NewArchiveError(fmt.Sprintf("open archive member %q", name), err.Error(), "", err)
	}
	return rc, nil
}

// ReadAll is a convenience wrapper that reads the entire contents of
// member name into memory.
func (r *Reader) ReadAll(name string) ([]byte, error) {
	rc, err := r.Open(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Descriptor is the parsed problem.xml tree, covering every element the
// importer consumes.
type Descriptor struct {
	XMLName  xml.Name  `xml:"problem"`
	Revision int       `xml:"revision,attr"`
	Names    []Name    `xml:"names>name"`
	Statements []Statement `xml:"statements>statement"`
	Judging  Judging   `xml:"judging"`
	Checker  *Checker  `xml:"assets>checkers>checker"`
	Interactor *Interactor `xml:"assets>interactors>interactor"`
	Solutions []Solution `xml:"assets>solutions>solution"`
	Tags     []Tag     `xml:"tags>tag"`
}

// Name is one <name language="..." value="..."/> entry.
type Name struct {
	Language string `xml:"language,attr"`
	Value    string `xml:"value,attr"`
}

// Statement is one <statement type="..." language="..." path="..."/>
// entry; only type="application/x-tex" entries are used by C5.
type Statement struct {
	Type     string `xml:"type,attr"`
	Language string `xml:"language,attr"`
	Path     string `xml:"path,attr"`
	Charset  string `xml:"charset,attr"`
}

// Judging wraps the <testset> entries, named "tests" and optionally
// "pretests".
type Judging struct {
	Testsets []Testset `xml:"testset"`
}

// TestsetByName returns the testset named name, or nil if absent.
func (j Judging) TestsetByName(name string) *Testset {
	for i := range j.Testsets {
		if j.Testsets[i].Name == name {
			return &j.Testsets[i]
		}
	}
	return nil
}

// Testset is one <testset name="tests|pretests"> block.
type Testset struct {
	Name               string  `xml:"name,attr"`
	TimeLimitMillis    int64   `xml:"time-limit"`
	MemoryLimitBytes   int64   `xml:"memory-limit"`
	InputPathPattern   string  `xml:"input-path-pattern"`
	AnswerPathPattern  string  `xml:"answer-path-pattern"`
	Tests              []Test  `xml:"tests>test"`
	Groups             []Group `xml:"groups>group"`
}

// Test is one <test points="..." group="..."/> entry. Index within its
// Testset (1-based) is assigned by the caller during enumeration, since
// the XML itself carries no explicit index.
type Test struct {
	Points float64 `xml:"points,attr"`
	Group  string  `xml:"group,attr"`
}

// Group is one <group name="..." points="..." points-policy="..."> with
// its dependency list.
type Group struct {
	Name           string       `xml:"name,attr"`
	Points         float64      `xml:"points,attr"`
	PointsPolicy   string       `xml:"points-policy,attr"`
	Dependencies   []Dependency `xml:"dependencies>dependency"`
}

// Dependency is one <dependency group="..."/> inside a group.
type Dependency struct {
	Group string `xml:"group,attr"`
}

// Checker is the <checker type="testlib"><source path="..."/></checker>
// element.
type Checker struct {
	Type   string `xml:"type,attr"`
	Source Source `xml:"source"`
}

// Interactor is the <interactor><source path="..."/></interactor>
// element.
type Interactor struct {
	Source Source `xml:"source"`
}

// Source is a <source type="..." path="..."/> reference shared by
// checkers, interactors, and solutions.
type Source struct {
	Type string `xml:"type,attr"`
	Path string `xml:"path,attr"`
}

// Solution is one <solution tag="main|..."><source .../></solution>
// entry.
type Solution struct {
	Tag    string `xml:"tag,attr"`
	Source Source `xml:"source"`
}

// MainSolution returns the solution tagged "main", or nil if absent.
func (d *Descriptor) MainSolution() *Solution {
	for i := range d.Solutions {
		if d.Solutions[i].Tag == "main" {
			return &d.Solutions[i]
		}
	}
	return nil
}

// Tag is one <tag value="..."/> entry under <tags>.
type Tag struct {
	Value string `xml:"value,attr"`
}

// HasTag reports whether any tag in tags has the given value.
func HasTag(tags []Tag, value string) bool {
	for _, t := range tags {
		if t.Value == value {
			return true
		}
	}
	return false
}

// ParseDescriptor parses the problem.xml member of the archive.
func (r *Reader) ParseDescriptor() (*Descriptor, error) {
	data, err := r.ReadAll("problem.xml")
	if err != nil {
		return nil, err
	}

	var d Descriptor
	if err := xml.Unmarshal(data, &d); err != nil {
		return nil, importerr.NewDescriptorError(
			"parse problem.xml",
			err.Error(),
			"the package's problem.xml is malformed or from an unsupported Polygon schema version",
			err,
		)
	}
	return &d, nil
}
