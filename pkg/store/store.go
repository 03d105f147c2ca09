// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package store is the importer's own bookkeeping persistence: the
// ProblemSource and ProblemSourceImport rows pkg/importjob reads and
// writes as a job runs. It is deliberately separate from the host
// judge's database (internal/judgehost is the boundary to that); this
// package only tracks which Polygon problems have been imported before
// and the history of import attempts against each.
//
// Backend is backed by database/sql over modernc.org/sqlite, following
// the pattern used throughout the wider judge stack for embedding a
// pure-Go SQL engine without cgo.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver.

	"github.com/kraklabs/polyimport/internal/judgehost"
	"github.com/kraklabs/polyimport/pkg/polygonmodel"
)

// Backend owns the sqlite connection pool backing the importer's
// bookkeeping tables.
type Backend struct {
	db *sql.DB
}

// Config configures where and how Backend opens its database.
type Config struct {
	// DataDir is the directory holding polyimport.db. Defaults to
	// ~/.polyimport/data.
	DataDir string
}

// Open opens (creating if necessary) the sqlite database under
// cfg.DataDir and ensures its schema exists.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	dataDir := cfg.DataDir
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		dataDir = filepath.Join(home, ".polyimport", "data")
	}
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := filepath.Join(dataDir, "polyimport.db") + "?_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway.

	b := &Backend{db: db}
	if err := b.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS polygon_problem_source (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			polygon_id INTEGER NOT NULL UNIQUE,
			author_id INTEGER NOT NULL,
			author_username TEXT NOT NULL,
			problem_code TEXT NOT NULL,
			problem_id INTEGER,
			main_submission_id INTEGER,
			main_source_sha1 TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS polygon_problem_source_import (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			problem_source_id INTEGER NOT NULL REFERENCES polygon_problem_source(id),
			author_id INTEGER NOT NULL,
			author_username TEXT NOT NULL,
			status TEXT NOT NULL,
			log TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_import_by_source ON polygon_problem_source_import(problem_source_id, created_at DESC)`,
	}
	for _, s := range stmts {
		if _, err := b.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying connection pool.
func (b *Backend) Close() error { return b.db.Close() }

// Tx wraps one database/sql transaction so callers can group a
// multi-statement bookkeeping update atomically, e.g. marking an import
// Completed and recording the realized problem/submission in one
// commit.
type Tx struct {
	tx *sql.Tx
}

// BeginTx starts a new transaction.
func (b *Backend) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback aborts the transaction. Safe to call after a successful
// Commit; returns sql.ErrTxDone in that case, which callers may ignore.
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// GetOrCreateProblemSource returns the ProblemSource row for
// polygonID, creating it if absent. A freshly created row has no
// Problem or MainSubmission yet.
func (b *Backend) GetOrCreateProblemSource(ctx context.Context, polygonID int64, author judgehost.ProfileRef, problemCode string) (*polygonmodel.ProblemSource, error) {
	src, err := b.GetProblemSourceByPolygonID(ctx, polygonID)
	if err != nil {
		return nil, err
	}
	if src != nil {
		return src, nil
	}

	now := timeNow()
	res, err := b.db.ExecContext(ctx, `
		INSERT INTO polygon_problem_source (polygon_id, author_id, author_username, problem_code, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		polygonID, author.ID, author.Username, problemCode, now)
	if err != nil {
		return nil, fmt.Errorf("insert problem source: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return &polygonmodel.ProblemSource{
		ID:          id,
		PolygonID:   polygonID,
		Author:      author,
		ProblemCode: problemCode,
		CreatedAt:   now,
	}, nil
}

// GetProblemSourceByPolygonID looks up a ProblemSource by its Polygon
// problem id. Returns (nil, nil) if none exists.
func (b *Backend) GetProblemSourceByPolygonID(ctx context.Context, polygonID int64) (*polygonmodel.ProblemSource, error) {
	return b.scanProblemSource(ctx, `WHERE polygon_id = ?`, polygonID)
}

// GetProblemSourceByID looks up a ProblemSource by its own id. Returns
// (nil, nil) if none exists.
func (b *Backend) GetProblemSourceByID(ctx context.Context, id int64) (*polygonmodel.ProblemSource, error) {
	return b.scanProblemSource(ctx, `WHERE id = ?`, id)
}

func (b *Backend) scanProblemSource(ctx context.Context, where string, arg any) (*polygonmodel.ProblemSource, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, polygon_id, author_id, author_username, problem_code, problem_id, main_submission_id, main_source_sha1, created_at
		FROM polygon_problem_source `+where, arg)

	var src polygonmodel.ProblemSource
	var problemID, submissionID sql.NullInt64
	if err := row.Scan(&src.ID, &src.PolygonID, &src.Author.ID, &src.Author.Username, &src.ProblemCode, &problemID, &submissionID, &src.MainSourceSHA1, &src.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan problem source: %w", err)
	}
	if problemID.Valid {
		src.Problem = &judgehost.ProblemRef{ID: problemID.Int64, Code: src.ProblemCode}
	}
	if submissionID.Valid {
		src.MainSubmission = &judgehost.SubmissionRef{ID: submissionID.Int64}
	}
	return &src, nil
}

// SetRealizedProblem records the host problem and main-solution
// submission a ProblemSource resolved to, inside tx. sourceSHA1 is the
// sha1 of the main solution source backing submission; pass "" alongside
// a nil submission.
func (t *Tx) SetRealizedProblem(ctx context.Context, sourceID int64, problem judgehost.ProblemRef, submission *judgehost.SubmissionRef, sourceSHA1 string) error {
	var submissionID sql.NullInt64
	if submission != nil {
		submissionID = sql.NullInt64{Int64: submission.ID, Valid: true}
	}
	_, err := t.tx.ExecContext(ctx, `
		UPDATE polygon_problem_source SET problem_id = ?, main_submission_id = ?, main_source_sha1 = ? WHERE id = ?`,
		problem.ID, submissionID, sourceSHA1, sourceID)
	if err != nil {
		return fmt.Errorf("update problem source: %w", err)
	}
	return nil
}

// ProblemCodeInUse reports whether problemCode is already claimed by a
// ProblemSource other than excludeSourceID, used to fail fast before
// dispatching the rest of an import when a source's problem has not
// yet been realized.
func (b *Backend) ProblemCodeInUse(ctx context.Context, problemCode string, excludeSourceID int64) (bool, error) {
	var count int
	err := b.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM polygon_problem_source WHERE problem_code = ? AND id != ?`,
		problemCode, excludeSourceID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check problem code in use: %w", err)
	}
	return count > 0, nil
}

// CreateImport inserts a new ProblemSourceImport row in Processing
// status.
func (b *Backend) CreateImport(ctx context.Context, sourceID int64, author judgehost.ProfileRef) (*polygonmodel.ProblemSourceImport, error) {
	now := timeNow()
	res, err := b.db.ExecContext(ctx, `
		INSERT INTO polygon_problem_source_import (problem_source_id, author_id, author_username, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sourceID, author.ID, author.Username, polygonmodel.ImportProcessing, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert import: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &polygonmodel.ProblemSourceImport{
		ID:              id,
		ProblemSourceID: sourceID,
		Author:          author,
		Status:          polygonmodel.ImportProcessing,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// AppendLog appends a line to an import's running log.
func (b *Backend) AppendLog(ctx context.Context, importID int64, line string) error {
	_, err := b.db.ExecContext(ctx, `
		UPDATE polygon_problem_source_import
		SET log = log || ?, updated_at = ?
		WHERE id = ?`,
		line+"\n", timeNow(), importID)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// Finish marks an import Completed or Failed, recording errMsg when
// status is Failed.
func (t *Tx) Finish(ctx context.Context, importID int64, status polygonmodel.ImportStatus, errMsg string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE polygon_problem_source_import
		SET status = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		status, errMsg, timeNow(), importID)
	if err != nil {
		return fmt.Errorf("finish import: %w", err)
	}
	return nil
}

// GetImport fetches a single ProblemSourceImport by id. Returns (nil,
// nil) if none exists.
func (b *Backend) GetImport(ctx context.Context, id int64) (*polygonmodel.ProblemSourceImport, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, problem_source_id, author_id, author_username, status, log, error, created_at, updated_at
		FROM polygon_problem_source_import WHERE id = ?`, id)
	return scanImport(row)
}

// ListImports returns an import history for sourceID, most recent
// first.
func (b *Backend) ListImports(ctx context.Context, sourceID int64) ([]*polygonmodel.ProblemSourceImport, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, problem_source_id, author_id, author_username, status, log, error, created_at, updated_at
		FROM polygon_problem_source_import WHERE problem_source_id = ? ORDER BY created_at DESC`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list imports: %w", err)
	}
	defer rows.Close()

	var out []*polygonmodel.ProblemSourceImport
	for rows.Next() {
		imp, err := scanImport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, imp)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanImport(s scanner) (*polygonmodel.ProblemSourceImport, error) {
	var imp polygonmodel.ProblemSourceImport
	if err := s.Scan(&imp.ID, &imp.ProblemSourceID, &imp.Author.ID, &imp.Author.Username, &imp.Status, &imp.Log, &imp.Error, &imp.CreatedAt, &imp.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan import: %w", err)
	}
	return &imp, nil
}

// timeNow is a seam so callers requiring a fixed clock in tests can
// wrap Backend; production code simply reads the system clock.
var timeNow = func() time.Time { return time.Now().UTC() }
