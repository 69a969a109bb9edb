package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vietddude/ocrsweep/internal/core/domain"
)

// UpsertDocument creates or refreshes a document by source path. The
// fingerprint is always written with the latest scan's value; a row is
// never deleted here.
func (l *Ledger) UpsertDocument(ctx context.Context, doc *domain.Document) (uuid.UUID, error) {
	docType := doc.DocType
	if docType == "" {
		docType = domain.DocTypeUnknown
	}

	query := `
		INSERT INTO documents (id, source_path, fingerprint, file_size, doc_type, pipeline, run_tag, discovered_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NOW(), NOW())
		ON CONFLICT (source_path) DO UPDATE SET
			fingerprint = EXCLUDED.fingerprint,
			file_size   = EXCLUDED.file_size,
			pipeline    = EXCLUDED.pipeline,
			run_tag     = EXCLUDED.run_tag,
			updated_at  = NOW()
		RETURNING id
	`

	var id uuid.UUID
	err := l.db.QueryRowxContext(ctx, query,
		uuid.New(), doc.SourcePath, doc.Fingerprint, doc.FileSize, docType, doc.Pipeline, doc.RunTag,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert document: %w", err)
	}
	return id, nil
}
