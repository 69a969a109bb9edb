package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/ocrsweep/internal/core/domain"
	"github.com/vietddude/ocrsweep/internal/infra/storage"
)

type runRow struct {
	ID          uuid.UUID     `db:"id"`
	DocumentID  uuid.UUID     `db:"document_id"`
	Pipeline    string        `db:"pipeline"`
	AttemptNo   int           `db:"attempt_no"`
	ParentRunID uuid.NullUUID `db:"parent_run_id"`
	Status      string        `db:"status"`
	ErrorKind   sql.NullString `db:"error_kind"`
	ErrorDetail sql.NullString `db:"error_detail"`
	OutPath     sql.NullString `db:"out_path"`
	RetryAfterS sql.NullInt64  `db:"retry_after_s"`
	CreatedAt   time.Time      `db:"created_at"`
	StartedAt   time.Time      `db:"started_at"`
	FinishedAt  sql.NullTime   `db:"finished_at"`
}

func (r runRow) toDomain() *domain.Run {
	run := &domain.Run{
		ID:          r.ID,
		DocumentID:  r.DocumentID,
		Pipeline:    r.Pipeline,
		AttemptNo:   r.AttemptNo,
		Status:      domain.RunStatus(r.Status),
		ErrorKind:   domain.ErrorKind(r.ErrorKind.String),
		ErrorDetail: r.ErrorDetail.String,
		OutPath:     r.OutPath.String,
		RetryAfterS: int(r.RetryAfterS.Int64),
		CreatedAt:   r.CreatedAt,
		StartedAt:   r.StartedAt,
	}
	if r.ParentRunID.Valid {
		id := r.ParentRunID.UUID
		run.ParentRunID = &id
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time
		run.FinishedAt = &t
	}
	return run
}

const runColumns = `id, document_id, pipeline, attempt_no, parent_run_id, status,
	error_kind, error_detail, out_path, retry_after_s, created_at, started_at, finished_at`

// LastRun returns the newest run for (document, pipeline), or nil.
func (l *Ledger) LastRun(ctx context.Context, docID uuid.UUID, pipeline string) (*domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE document_id = $1 AND pipeline = $2
		ORDER BY attempt_no DESC
		LIMIT 1
	`
	var row runRow
	err := l.db.GetContext(ctx, &row, query, docID, pipeline)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last run: %w", err)
	}
	return row.toDomain(), nil
}

// LastSuccessfulRun returns the newest done run for the document, or nil.
func (l *Ledger) LastSuccessfulRun(ctx context.Context, docID uuid.UUID) (*domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE document_id = $1 AND status = 'done'
		ORDER BY finished_at DESC
		LIMIT 1
	`
	var row runRow
	err := l.db.GetContext(ctx, &row, query, docID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last successful run: %w", err)
	}
	return row.toDomain(), nil
}

// BeginRun opens a new attempt inside one transaction. The document row
// is locked first so two slots can never derive the same attempt_no.
func (l *Ledger) BeginRun(ctx context.Context, docID uuid.UUID, pipeline string, parentRunID *uuid.UUID) (*domain.Run, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var locked uuid.UUID
	err = tx.GetContext(ctx, &locked, `SELECT id FROM documents WHERE id = $1 FOR UPDATE`, docID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock document: %w", err)
	}

	var prev int
	err = tx.GetContext(ctx, &prev,
		`SELECT COALESCE(MAX(attempt_no), 0) FROM runs WHERE document_id = $1 AND pipeline = $2`,
		docID, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to derive attempt number: %w", err)
	}

	var parent uuid.NullUUID
	if parentRunID != nil {
		parent = uuid.NullUUID{UUID: *parentRunID, Valid: true}
	}

	var row runRow
	err = tx.GetContext(ctx, &row, `
		INSERT INTO runs (id, document_id, pipeline, attempt_no, parent_run_id, status, created_at, started_at)
		VALUES ($1, $2, $3, $4, $5, 'processing', NOW(), NOW())
		RETURNING `+runColumns,
		uuid.New(), docID, pipeline, prev+1, parent)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit run: %w", err)
	}
	return row.toDomain(), nil
}

// CompleteRun sets the terminal state exactly once. The guard on
// finished_at enforces the one-way transition in the database itself.
func (l *Ledger) CompleteRun(ctx context.Context, runID uuid.UUID, status domain.RunStatus, opts storage.CompleteOptions) error {
	if !status.Terminal() {
		return fmt.Errorf("complete_run requires a terminal status, got %q", status)
	}

	res, err := l.db.ExecContext(ctx, `
		UPDATE runs
		SET status        = $2,
		    error_kind    = NULLIF($3, ''),
		    error_detail  = NULLIF($4, ''),
		    out_path      = NULLIF($5, ''),
		    retry_after_s = NULLIF($6, 0),
		    finished_at   = NOW()
		WHERE id = $1 AND finished_at IS NULL
	`, runID, string(status), string(opts.ErrorKind), opts.ErrorDetail, opts.OutPath, int(opts.RetryAfter/time.Second))
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := l.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM runs WHERE id = $1)`, runID); err != nil {
			return fmt.Errorf("failed to check run: %w", err)
		}
		if !exists {
			return storage.ErrRunNotFound
		}
		return storage.ErrRunTerminal
	}
	return nil
}

// MarkSkipped appends a skipped run for the document at sourcePath.
func (l *Ledger) MarkSkipped(ctx context.Context, sourcePath, pipeline string) error {
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO runs (id, document_id, pipeline, attempt_no, status, created_at, started_at, finished_at)
		SELECT $1, d.id, $3, COALESCE(MAX(r.attempt_no), 0) + 1, 'skipped', NOW(), NOW(), NOW()
		FROM documents d
		LEFT JOIN runs r ON r.document_id = d.id AND r.pipeline = $3
		WHERE d.source_path = $2
		GROUP BY d.id
	`, uuid.New(), sourcePath, pipeline)
	if err != nil {
		return fmt.Errorf("failed to mark document skipped: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrDocumentNotFound
	}
	return nil
}

// pruneVictims selects superseded terminal runs past retention. The
// newest attempt per (document, pipeline) never qualifies.
const pruneVictims = `
	SELECT r.id FROM runs r
	WHERE r.pipeline = $1
	  AND r.finished_at IS NOT NULL
	  AND r.finished_at < $2
	  AND r.attempt_no < (
		SELECT MAX(r2.attempt_no) FROM runs r2
		WHERE r2.document_id = r.document_id AND r2.pipeline = r.pipeline
	  )`

// PruneRuns deletes superseded runs that finished before olderThan.
func (l *Ledger) PruneRuns(ctx context.Context, pipeline string, olderThan time.Time) (int64, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Detach retry lineage pointing at victims before deleting them.
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET parent_run_id = NULL WHERE parent_run_id IN (`+pruneVictims+`)`,
		pipeline, olderThan); err != nil {
		return 0, fmt.Errorf("failed to detach pruned parents: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM run_steps WHERE run_id IN (`+pruneVictims+`)`,
		pipeline, olderThan); err != nil {
		return 0, fmt.Errorf("failed to prune run steps: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM runs WHERE id IN (`+pruneVictims+`)`,
		pipeline, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return deleted, nil
}

// CountByOutcome aggregates the latest run per document under a pipeline.
func (l *Ledger) CountByOutcome(ctx context.Context, pipeline string, maxAttempts int) (storage.OutcomeCounts, error) {
	query := `
		SELECT status, COALESCE(error_kind, '') AS error_kind, attempt_no
		FROM (
			SELECT DISTINCT ON (document_id) status, error_kind, attempt_no
			FROM runs
			WHERE pipeline = $1
			ORDER BY document_id, attempt_no DESC
		) latest
	`
	rows, err := l.db.QueryxContext(ctx, query, pipeline)
	if err != nil {
		return storage.OutcomeCounts{}, fmt.Errorf("failed to count outcomes: %w", err)
	}
	defer rows.Close()

	var counts storage.OutcomeCounts
	for rows.Next() {
		var status, kind string
		var attemptNo int
		if err := rows.Scan(&status, &kind, &attemptNo); err != nil {
			return storage.OutcomeCounts{}, err
		}
		switch domain.RunStatus(status) {
		case domain.RunStatusDone:
			counts.Done++
		case domain.RunStatusFailed:
			counts.Failed++
			if domain.ErrorKind(kind) == domain.ErrorKindUnknown && maxAttempts > 0 && attemptNo >= maxAttempts {
				counts.Unreviewed++
			}
		case domain.RunStatusSkipped:
			counts.Skipped++
		default:
			counts.InFlight++
		}
	}
	return counts, rows.Err()
}
