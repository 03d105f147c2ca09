// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package assets selects and stages the problem's checker or
// interactor: the interactor is preferred when present, otherwise a
// testlib checker is required. Both require files/testlib.h.
package assets

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kraklabs/polyimport/internal/importerr"
	"github.com/kraklabs/polyimport/pkg/pkgarchive"
	"github.com/kraklabs/polyimport/pkg/polygonmodel"
)

const testlibMember = "files/testlib.h"

// Result is the outcome of Select/Stage: exactly one of Checker or
// Grader is set, and StagedFiles lists the basenames copied into the
// job's temp directory.
type Result struct {
	Checker      *polygonmodel.Checker
	Grader       *polygonmodel.Grader
	Unbuffered   bool
	StagedFiles  []string
}

// Stage selects the checker or interactor from descriptor, copies its
// source and testlib.h into tempDir, and returns the ProblemConfig
// fragment describing it.
func Stage(archive *pkgarchive.Reader, descriptor *pkgarchive.Descriptor, tempDir string) (*Result, error) {
	feedback := !pkgarchive.HasTag(descriptor.Tags, "hide_checker_comment")

	if descriptor.Interactor != nil {
		return stageInteractor(archive, descriptor.Interactor, tempDir, feedback)
	}

	if descriptor.Checker != nil && descriptor.Checker.Type == "testlib" {
		return stageChecker(archive, descriptor.Checker, tempDir, feedback)
	}

	return nil, importerr.NewDescriptorError(
		"no checker or interactor found",
		`problem.xml declares neither an <interactor> nor a testlib <checker>`,
		"every problem must have a testlib checker or interactor",
		nil,
	)
}

func stageInteractor(archive *pkgarchive.Reader, in *pkgarchive.Interactor, tempDir string, feedback bool) (*Result, error) {
	if !strings.HasSuffix(in.Source.Path, ".cpp") {
		return nil, importerr.NewDescriptorError(
			"interactor source is not a .cpp file",
			fmt.Sprintf("source path %q", in.Source.Path),
			"Polygon interactors must be C++ sources",
			nil,
		)
	}

	staged, err := stageFiles(archive, tempDir, in.Source.Path, testlibMember)
	if err != nil {
		return nil, err
	}

	return &Result{
		Grader: &polygonmodel.Grader{
			Files:    staged,
			Feedback: feedback,
			Lang:     in.Source.Type,
			Type:     "testlib",
		},
		Unbuffered:  true,
		StagedFiles: staged,
	}, nil
}

func stageChecker(archive *pkgarchive.Reader, c *pkgarchive.Checker, tempDir string, feedback bool) (*Result, error) {
	if !strings.HasSuffix(c.Source.Path, ".cpp") {
		return nil, importerr.NewDescriptorError(
			"checker source is not a .cpp file",
			fmt.Sprintf("source path %q", c.Source.Path),
			"Polygon testlib checkers must be C++ sources",
			nil,
		)
	}

	staged, err := stageFiles(archive, tempDir, c.Source.Path, testlibMember)
	if err != nil {
		return nil, err
	}

	return &Result{
		Checker: &polygonmodel.Checker{
			Args: polygonmodel.CheckerArgs{
				Files:    staged,
				Feedback: feedback,
				Lang:     c.Source.Type,
				Type:     "testlib",
			},
			Name: filepath.Base(c.Source.Path),
		},
		StagedFiles: staged,
	}, nil
}

// stageFiles copies each archive member into tempDir under its
// basename, returning the basenames in the same order.
func stageFiles(archive *pkgarchive.Reader, tempDir string, members ...string) ([]string, error) {
	names := make([]string, 0, len(members))
	for _, member := range members {
		if !archive.Has(member) {
			return nil, importerr.NewDescriptorError(
				fmt.Sprintf("required asset %q missing from package", member),
				"",
				"the Polygon package is incomplete",
				nil,
			)
		}

		base := filepath.Base(member)
		if err := copyToTempDir(archive, member, filepath.Join(tempDir, base)); err != nil {
			return nil, err
		}
		names = append(names, base)
	}
	return names, nil
}

func copyToTempDir(archive *pkgarchive.Reader, member, destPath string) error {
	rc, err := archive.Open(member)
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return importerr.NewInternalError("stage asset file", err.Error(), "check disk space and permissions on the job scratch directory", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return importerr.NewInternalError(fmt.Sprintf("copy asset %q", member), err.Error(), "", err)
	}
	return nil
}
