package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vietddude/ocrsweep/internal/core/domain"
)

// MarkStep appends an observational sub-event to a run.
func (l *Ledger) MarkStep(ctx context.Context, runID uuid.UUID, name string, status domain.StepStatus, errorDetail string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO run_steps (run_id, name, status, error_detail, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NOW())
	`, runID, name, string(status), errorDetail)
	if err != nil {
		return fmt.Errorf("failed to mark step: %w", err)
	}
	return nil
}
