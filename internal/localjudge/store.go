// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package localjudge is a self-contained judgehost implementation for
// cmd/polyimport's standalone mode: running an import without a real
// judge application behind it, for trying out the pipeline or driving
// it from a script. It persists the minimal problem/submission state
// pkg/assembler needs to a single JSON file, guarded by one mutex; the
// host judge a real deployment wires in instead is expected to have its
// own database and its own transaction semantics.
package localjudge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kraklabs/polyimport/internal/judgehost"
)

type problemRecord struct {
	ID           int64
	Code         string
	Name         string
	TimeLimit    float64
	MemoryLimit  int
	Description  string
	Partial      bool
	Points       float64
	Group        string
	Translations []judgehost.Translation
	Tutorial     string
	DataArchive  string
	AuthorIDs    map[int64]bool
	Languages    map[string]bool
}

type submissionRecord struct {
	ID        int64
	ProblemID int64
	Language  string
	Source    string
	AuthorID  int64
}

type state struct {
	NextProblemID    int64
	NextSubmissionID int64
	Problems         map[string]*problemRecord // keyed by code
	Submissions      map[int64]*submissionRecord
}

func newState() state {
	return state{Problems: map[string]*problemRecord{}, Submissions: map[int64]*submissionRecord{}}
}

// Store implements judgehost.ProblemStore, judgehost.TranslationStore,
// judgehost.SolutionStore, judgehost.Judging, judgehost.ConfigReader,
// and judgehost.Transactor over one JSON-backed state file.
type Store struct {
	mu   sync.Mutex
	path string
	st   state

	defaultLanguage    string
	memoryMinKB        int
	memoryMaxKB        int
	registeredLanguage []string
	mediaRoot          string
	mediaURL           string
}

// Options configures a Store's ConfigReader answers; these mirror the
// fields cmd/polyimport reads out of polyimport.yaml.
type Options struct {
	DefaultLanguage     string
	MemoryMinKB         int
	MemoryMaxKB         int
	RegisteredLanguages []string
}

// Open loads path if it exists, or starts from an empty state. path's
// parent directory is created lazily on first Save.
func Open(path string, opts Options) (*Store, error) {
	s := &Store{
		path:               path,
		st:                 newState(),
		defaultLanguage:    opts.DefaultLanguage,
		memoryMinKB:        opts.MemoryMinKB,
		memoryMaxKB:        opts.MemoryMaxKB,
		registeredLanguage: opts.RegisteredLanguages,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read local judge state: %w", err)
	}
	if err := json.Unmarshal(data, &s.st); err != nil {
		return nil, fmt.Errorf("parse local judge state: %w", err)
	}
	if s.st.Problems == nil {
		s.st.Problems = map[string]*problemRecord{}
	}
	if s.st.Submissions == nil {
		s.st.Submissions = map[int64]*submissionRecord{}
	}
	return s, nil
}

// save writes the current state to path atomically (write to a temp
// file in the same directory, then rename).
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.st, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// UpsertByCode implements judgehost.ProblemStore.
func (s *Store) UpsertByCode(ctx context.Context, props judgehost.ProblemProperties, author judgehost.ProfileRef) (judgehost.ProblemRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.st.Problems[props.Code]
	if !ok {
		s.st.NextProblemID++
		rec = &problemRecord{ID: s.st.NextProblemID, Code: props.Code, AuthorIDs: map[int64]bool{}, Languages: map[string]bool{}}
		s.st.Problems[props.Code] = rec
	}

	rec.Name = props.Name
	rec.TimeLimit = props.TimeLimit
	rec.MemoryLimit = props.MemoryLimit
	rec.Description = props.Description
	rec.Partial = props.Partial
	rec.Points = props.Points
	rec.Group = props.Group
	rec.AuthorIDs[author.ID] = true
	for _, lang := range s.registeredLanguage {
		rec.Languages[lang] = true
	}

	if err := s.save(); err != nil {
		return judgehost.ProblemRef{}, err
	}
	return judgehost.ProblemRef{ID: rec.ID, Code: rec.Code}, nil
}

// AttachDataArchive implements judgehost.ProblemStore. The archive is
// copied out of the caller's (about to be deleted) scratch directory
// into mediaRoot/problems/<code>/<basename>, the same problem data
// directory pkg/assembler writes every other asset into.
func (s *Store) AttachDataArchive(ctx context.Context, problem judgehost.ProblemRef, archivePath string) error {
	data, err := os.ReadFile(archivePath)
	if err != nil {
		return fmt.Errorf("read generated archive: %w", err)
	}

	dest := filepath.Join(s.mediaRoot, "problems", problem.Code, filepath.Base(archivePath))
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return err
	}
	if err := os.WriteFile(dest, data, 0640); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.st.Problems[problem.Code]; ok {
		rec.DataArchive = dest
	}
	return s.save()
}

// ReplaceTranslations implements judgehost.TranslationStore.
func (s *Store) ReplaceTranslations(ctx context.Context, problem judgehost.ProblemRef, translations []judgehost.Translation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.st.Problems[problem.Code]
	if !ok {
		return fmt.Errorf("unknown problem %q", problem.Code)
	}
	rec.Translations = translations
	return s.save()
}

// ReplaceSolutions implements judgehost.SolutionStore. at is accepted
// for interface compatibility but not separately persisted: this
// adapter only tracks whether a tutorial exists, not its insertion
// time.
func (s *Store) ReplaceSolutions(ctx context.Context, problem judgehost.ProblemRef, tutorial string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.st.Problems[problem.Code]
	if !ok {
		return fmt.Errorf("unknown problem %q", problem.Code)
	}
	rec.Tutorial = tutorial
	return s.save()
}

// SupportedLanguages implements judgehost.Judging.
func (s *Store) SupportedLanguages(ctx context.Context) ([]judgehost.JudgeLanguage, error) {
	langs := make([]judgehost.JudgeLanguage, 0, len(s.registeredLanguage))
	for _, l := range s.registeredLanguage {
		langs = append(langs, judgehost.JudgeLanguage(l))
	}
	return langs, nil
}

// CreateSubmission implements judgehost.Judging.
func (s *Store) CreateSubmission(ctx context.Context, problem judgehost.ProblemRef, language judgehost.JudgeLanguage, source string, author judgehost.ProfileRef) (judgehost.SubmissionRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.NextSubmissionID++
	id := s.st.NextSubmissionID
	s.st.Submissions[id] = &submissionRecord{ID: id, ProblemID: problem.ID, Language: string(language), Source: source, AuthorID: author.ID}
	if err := s.save(); err != nil {
		return judgehost.SubmissionRef{}, err
	}
	return judgehost.SubmissionRef{ID: id}, nil
}

// ForceJudge implements judgehost.Judging. No sandbox runs here
// (running solutions is explicitly out of scope); this adapter does
// nothing and returns nil.
func (s *Store) ForceJudge(ctx context.Context, submission judgehost.SubmissionRef) error {
	return nil
}

// ForceRejudge implements judgehost.Judging, same no-op rationale as
// ForceJudge.
func (s *Store) ForceRejudge(ctx context.Context, submission judgehost.SubmissionRef) error {
	return nil
}

// DefaultLanguage implements judgehost.ConfigReader.
func (s *Store) DefaultLanguage(ctx context.Context) (string, error) {
	return s.defaultLanguage, nil
}

// MemoryLimitBoundsKB implements judgehost.ConfigReader.
func (s *Store) MemoryLimitBoundsKB(ctx context.Context) (min, max int, ok bool, err error) {
	if s.memoryMinKB == 0 && s.memoryMaxKB == 0 {
		return 0, 0, false, nil
	}
	return s.memoryMinKB, s.memoryMaxKB, true, nil
}

// RegisteredLanguages implements judgehost.ConfigReader.
func (s *Store) RegisteredLanguages(ctx context.Context) ([]string, error) {
	return s.registeredLanguage, nil
}

// WithTx implements judgehost.Transactor. There is no real database
// underneath this adapter, so atomicity is approximated by snapshotting
// the in-memory state before fn runs and, if fn fails, restoring it and
// rewriting the state file from the snapshot, since the calls inside fn
// have already saved their changes to disk.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	snapshot := cloneState(s.st)
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.st = snapshot
		saveErr := s.save()
		s.mu.Unlock()
		if saveErr != nil {
			return fmt.Errorf("%w (restoring local judge state: %v)", err, saveErr)
		}
		return err
	}
	return nil
}

func cloneState(st state) state {
	data, err := json.Marshal(st)
	if err != nil {
		return newState()
	}
	clone := newState()
	_ = json.Unmarshal(data, &clone)
	return clone
}

// SetMediaRoot tells the store where AttachDataArchive should copy
// generated archives. Separate from Options because it mirrors the
// FileMedia root a caller wires up alongside this Store, not a
// judgehost.ConfigReader answer.
func (s *Store) SetMediaRoot(root string) {
	s.mediaRoot = root
}
