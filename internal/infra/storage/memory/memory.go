// Package memory is an in-process ledger used when no database URL is
// configured, and by tests. Semantics mirror the Postgres ledger.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/ocrsweep/internal/core/domain"
	"github.com/vietddude/ocrsweep/internal/infra/storage"
)

// Ledger keeps everything in maps guarded by one mutex.
type Ledger struct {
	mu      sync.Mutex
	docs    map[uuid.UUID]*domain.Document
	byPath  map[string]uuid.UUID
	runs    map[uuid.UUID]*domain.Run
	byDoc   map[uuid.UUID][]uuid.UUID // insertion order
	steps   []domain.StepRecord
	stepSeq int64
}

// NewLedger creates an empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{
		docs:   make(map[uuid.UUID]*domain.Document),
		byPath: make(map[string]uuid.UUID),
		runs:   make(map[uuid.UUID]*domain.Run),
		byDoc:  make(map[uuid.UUID][]uuid.UUID),
	}
}

func (l *Ledger) UpsertDocument(ctx context.Context, doc *domain.Document) (uuid.UUID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if id, ok := l.byPath[doc.SourcePath]; ok {
		existing := l.docs[id]
		existing.Fingerprint = doc.Fingerprint
		existing.FileSize = doc.FileSize
		existing.Pipeline = doc.Pipeline
		existing.RunTag = doc.RunTag
		if doc.DocType != "" {
			existing.DocType = doc.DocType
		}
		existing.UpdatedAt = now
		return id, nil
	}

	id := uuid.New()
	cp := *doc
	cp.ID = id
	if cp.DocType == "" {
		cp.DocType = domain.DocTypeUnknown
	}
	cp.DiscoveredAt = now
	cp.UpdatedAt = now
	l.docs[id] = &cp
	l.byPath[cp.SourcePath] = id
	return id, nil
}

func (l *Ledger) LastRun(ctx context.Context, docID uuid.UUID, pipeline string) (*domain.Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var last *domain.Run
	for _, rid := range l.byDoc[docID] {
		r := l.runs[rid]
		if r.Pipeline != pipeline {
			continue
		}
		if last == nil || r.AttemptNo > last.AttemptNo {
			last = r
		}
	}
	if last == nil {
		return nil, nil
	}
	cp := *last
	return &cp, nil
}

func (l *Ledger) LastSuccessfulRun(ctx context.Context, docID uuid.UUID) (*domain.Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var last *domain.Run
	for _, rid := range l.byDoc[docID] {
		r := l.runs[rid]
		if r.Status != domain.RunStatusDone {
			continue
		}
		if last == nil || (r.FinishedAt != nil && last.FinishedAt != nil && r.FinishedAt.After(*last.FinishedAt)) {
			last = r
		}
	}
	if last == nil {
		return nil, nil
	}
	cp := *last
	return &cp, nil
}

func (l *Ledger) BeginRun(ctx context.Context, docID uuid.UUID, pipeline string, parentRunID *uuid.UUID) (*domain.Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.docs[docID]; !ok {
		return nil, storage.ErrDocumentNotFound
	}

	attempt := 0
	for _, rid := range l.byDoc[docID] {
		r := l.runs[rid]
		if r.Pipeline == pipeline && r.AttemptNo > attempt {
			attempt = r.AttemptNo
		}
	}

	now := time.Now()
	run := &domain.Run{
		ID:          uuid.New(),
		DocumentID:  docID,
		Pipeline:    pipeline,
		AttemptNo:   attempt + 1,
		ParentRunID: parentRunID,
		Status:      domain.RunStatusProcessing,
		CreatedAt:   now,
		StartedAt:   now,
	}
	l.runs[run.ID] = run
	l.byDoc[docID] = append(l.byDoc[docID], run.ID)
	cp := *run
	return &cp, nil
}

func (l *Ledger) CompleteRun(ctx context.Context, runID uuid.UUID, status domain.RunStatus, opts storage.CompleteOptions) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	run, ok := l.runs[runID]
	if !ok {
		return storage.ErrRunNotFound
	}
	if run.Status.Terminal() {
		return storage.ErrRunTerminal
	}

	now := time.Now()
	run.Status = status
	run.ErrorKind = opts.ErrorKind
	run.ErrorDetail = opts.ErrorDetail
	run.OutPath = opts.OutPath
	run.RetryAfterS = int(opts.RetryAfter / time.Second)
	run.FinishedAt = &now
	return nil
}

func (l *Ledger) MarkSkipped(ctx context.Context, sourcePath, pipeline string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	docID, ok := l.byPath[sourcePath]
	if !ok {
		return storage.ErrDocumentNotFound
	}

	attempt := 0
	for _, rid := range l.byDoc[docID] {
		r := l.runs[rid]
		if r.Pipeline == pipeline && r.AttemptNo > attempt {
			attempt = r.AttemptNo
		}
	}

	now := time.Now()
	run := &domain.Run{
		ID:         uuid.New(),
		DocumentID: docID,
		Pipeline:   pipeline,
		AttemptNo:  attempt + 1,
		Status:     domain.RunStatusSkipped,
		CreatedAt:  now,
		StartedAt:  now,
		FinishedAt: &now,
	}
	l.runs[run.ID] = run
	l.byDoc[docID] = append(l.byDoc[docID], run.ID)
	return nil
}

func (l *Ledger) MarkStep(ctx context.Context, runID uuid.UUID, name string, status domain.StepStatus, errorDetail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.runs[runID]; !ok {
		return storage.ErrRunNotFound
	}
	l.stepSeq++
	l.steps = append(l.steps, domain.StepRecord{
		ID:          l.stepSeq,
		RunID:       runID,
		Name:        name,
		Status:      status,
		ErrorDetail: errorDetail,
		CreatedAt:   time.Now(),
	})
	return nil
}

func (l *Ledger) CountByOutcome(ctx context.Context, pipeline string, maxAttempts int) (storage.OutcomeCounts, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var counts storage.OutcomeCounts
	for docID := range l.docs {
		var last *domain.Run
		for _, rid := range l.byDoc[docID] {
			r := l.runs[rid]
			if r.Pipeline != pipeline {
				continue
			}
			if last == nil || r.AttemptNo > last.AttemptNo {
				last = r
			}
		}
		if last == nil {
			continue
		}
		switch last.Status {
		case domain.RunStatusDone:
			counts.Done++
		case domain.RunStatusFailed:
			counts.Failed++
			if last.ErrorKind == domain.ErrorKindUnknown && maxAttempts > 0 && last.AttemptNo >= maxAttempts {
				counts.Unreviewed++
			}
		case domain.RunStatusSkipped:
			counts.Skipped++
		default:
			counts.InFlight++
		}
	}
	return counts, nil
}

func (l *Ledger) PruneRuns(ctx context.Context, pipeline string, olderThan time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	maxAttempt := make(map[uuid.UUID]int)
	for _, r := range l.runs {
		if r.Pipeline == pipeline && r.AttemptNo > maxAttempt[r.DocumentID] {
			maxAttempt[r.DocumentID] = r.AttemptNo
		}
	}

	victims := make(map[uuid.UUID]bool)
	for id, r := range l.runs {
		if r.Pipeline == pipeline && r.FinishedAt != nil && r.FinishedAt.Before(olderThan) &&
			r.AttemptNo < maxAttempt[r.DocumentID] {
			victims[id] = true
		}
	}
	if len(victims) == 0 {
		return 0, nil
	}

	for _, r := range l.runs {
		if r.ParentRunID != nil && victims[*r.ParentRunID] {
			r.ParentRunID = nil
		}
	}

	kept := l.steps[:0]
	for _, s := range l.steps {
		if !victims[s.RunID] {
			kept = append(kept, s)
		}
	}
	l.steps = kept

	for id := range victims {
		docID := l.runs[id].DocumentID
		delete(l.runs, id)
		ids := l.byDoc[docID][:0]
		for _, rid := range l.byDoc[docID] {
			if rid != id {
				ids = append(ids, rid)
			}
		}
		l.byDoc[docID] = ids
	}
	return int64(len(victims)), nil
}

// Runs returns every run for a document under a pipeline, ordered by
// attempt number. Test helper.
func (l *Ledger) Runs(docID uuid.UUID, pipeline string) []domain.Run {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.Run
	for _, rid := range l.byDoc[docID] {
		r := l.runs[rid]
		if r.Pipeline == pipeline {
			out = append(out, *r)
		}
	}
	return out
}

// Steps returns recorded steps for a run. Test helper.
func (l *Ledger) Steps(runID uuid.UUID) []domain.StepRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.StepRecord
	for _, s := range l.steps {
		if s.RunID == runID {
			out = append(out, s)
		}
	}
	return out
}

// DocumentID returns the id for a source path. Test helper.
func (l *Ledger) DocumentID(path string) (uuid.UUID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byPath[path]
	return id, ok
}

func (l *Ledger) Close() error { return nil }
