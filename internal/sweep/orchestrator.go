package sweep

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/ocrsweep/internal/artifact"
	"github.com/vietddude/ocrsweep/internal/core/domain"
	"github.com/vietddude/ocrsweep/internal/discovery"
	"github.com/vietddude/ocrsweep/internal/engine"
	"github.com/vietddude/ocrsweep/internal/infra/storage"
	"github.com/vietddude/ocrsweep/internal/metrics"
)

// BackoffQueue parks documents until their backoff window elapses.
// Optional; a nil queue just means wait decisions surface only in logs.
type BackoffQueue interface {
	Push(ctx context.Context, sourcePath string, eligibleAt time.Time) error
	Remove(ctx context.Context, sourcePath string) error
}

// Config holds the per-sweep settings.
type Config struct {
	InputRoot string
	OutRoot   string
	Recursive bool
	Limit     int
	Pipeline  string
	RunTag    string
	PromptID  string

	// RequirePersistence makes any ledger failure fatal to the sweep.
	// Set on passes that exist purely to update the ledger (requeue).
	RequirePersistence bool
}

// Orchestrator runs one sweep over the backlog. Each engine owns one
// isolated session; the pool size is the number of engines.
type Orchestrator struct {
	cfg     Config
	policy  Policy
	ledger  storage.Ledger
	engines []engine.Engine
	writer  *artifact.Writer
	queue   BackoffQueue
	log     *slog.Logger
}

// New creates an orchestrator. At least one engine is required.
func New(cfg Config, policy Policy, ledger storage.Ledger, engines []engine.Engine, writer *artifact.Writer, queue BackoffQueue, log *slog.Logger) *Orchestrator {
	if policy.RetryKinds == nil {
		policy.RetryKinds = DefaultRetryKinds()
	}
	return &Orchestrator{
		cfg:     cfg,
		policy:  policy,
		ledger:  ledger,
		engines: engines,
		writer:  writer,
		queue:   queue,
		log:     log,
	}
}

// Run discovers candidates under the input root and processes the
// eligible ones.
func (o *Orchestrator) Run(ctx context.Context) (domain.Summary, error) {
	candidates, err := discovery.Collect(ctx, discovery.Options{
		Root:      o.cfg.InputRoot,
		Recursive: o.cfg.Recursive,
		Limit:     o.cfg.Limit,
	}, o.log)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("discovery failed: %w", err)
	}
	return o.run(ctx, candidates)
}

// RunOnly processes exactly the given source paths, bypassing
// discovery. Used by the requeue pass.
func (o *Orchestrator) RunOnly(ctx context.Context, paths []string) (domain.Summary, error) {
	var candidates []discovery.Candidate
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			o.log.Warn("requeued path vanished", "path", p, "error", err)
			continue
		}
		rel, err := filepath.Rel(o.cfg.InputRoot, p)
		if err != nil || filepath.IsAbs(rel) {
			rel = filepath.Base(p)
		}
		candidates = append(candidates, discovery.Candidate{
			Path:    p,
			RelPath: rel,
			Name:    filepath.Base(p),
			Size:    fi.Size(),
		})
	}
	return o.run(ctx, candidates)
}

func (o *Orchestrator) run(ctx context.Context, candidates []discovery.Candidate) (domain.Summary, error) {
	var (
		summary  domain.Summary
		inflight = make(map[uuid.UUID]bool)

		// Worker outcomes land here; merged after the pool drains so
		// the dispatch loop never shares summary with the workers.
		mu       sync.Mutex
		outcomes domain.Summary
	)

	slots := make(chan engine.Engine, len(o.engines))
	for _, e := range o.engines {
		slots <- e
	}

	g := new(errgroup.Group)
	g.SetLimit(len(o.engines))

	dispatched := 0
	for _, cand := range candidates {
		if ctx.Err() != nil {
			break
		}

		fp, err := discovery.Fingerprint(cand.Path)
		if err != nil {
			o.log.Warn("failed to fingerprint file, skipping", "path", cand.Path, "error", err)
			summary.Skipped++
			continue
		}

		docID, last, lastDone, err := o.preflight(ctx, cand, fp)
		if err != nil {
			if o.cfg.RequirePersistence {
				return summary, fmt.Errorf("ledger unavailable: %w", err)
			}
			o.log.Error("ledger error during pre-flight, skipping document", "path", cand.Path, "error", err)
			summary.Skipped++
			continue
		}

		d := Decide(last, lastDone, o.policy, time.Now())
		switch d.Action {
		case ActionSkip:
			o.log.Debug("skipping document", "path", cand.Path, "reason", d.Reason)
			summary.Skipped++

		case ActionWait:
			o.log.Info("document under backoff", "path", cand.Path, "wait", d.WaitFor.Round(time.Second))
			summary.Waiting++
			if o.queue != nil {
				if err := o.queue.Push(ctx, cand.Path, time.Now().Add(d.WaitFor)); err != nil {
					o.log.Warn("failed to park document in retry queue", "path", cand.Path, "error", err)
				}
			}

		case ActionProcess:
			// Single-flight per document across the whole sweep,
			// independent of pool size.
			if inflight[docID] {
				summary.Skipped++
				continue
			}
			inflight[docID] = true
			dispatched++

			cand, docID, fp, d := cand, docID, fp, d
			g.Go(func() error {
				eng := <-slots
				defer func() { slots <- eng }()

				outcome, err := o.processOne(ctx, eng, docID, cand, fp, d)
				mu.Lock()
				outcomes.Processed++
				if outcome == metrics.OutcomeSuccess {
					outcomes.Succeeded++
				} else {
					outcomes.Failed++
				}
				mu.Unlock()
				if err != nil && o.cfg.RequirePersistence {
					return err
				}
				return nil
			})
		}
	}

	metrics.SweepBacklog.Set(float64(dispatched))
	err := g.Wait()

	summary.Processed = outcomes.Processed
	summary.Succeeded = outcomes.Succeeded
	summary.Failed = outcomes.Failed

	o.log.Info("sweep finished",
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"waiting", summary.Waiting,
	)
	return summary, err
}

// preflight upserts the document and loads the history the retry
// controller needs.
func (o *Orchestrator) preflight(ctx context.Context, cand discovery.Candidate, fp string) (uuid.UUID, *domain.Run, *domain.Run, error) {
	docID, err := o.ledger.UpsertDocument(ctx, &domain.Document{
		SourcePath:  cand.Path,
		Fingerprint: fp,
		FileSize:    cand.Size,
		Pipeline:    o.cfg.Pipeline,
		RunTag:      o.cfg.RunTag,
	})
	if err != nil {
		return uuid.Nil, nil, nil, err
	}

	last, err := o.ledger.LastRun(ctx, docID, o.cfg.Pipeline)
	if err != nil {
		return uuid.Nil, nil, nil, err
	}

	var lastDone *domain.Run
	if last == nil || last.Status != domain.RunStatusDone {
		lastDone, err = o.ledger.LastSuccessfulRun(ctx, docID)
		if err != nil {
			return uuid.Nil, nil, nil, err
		}
	} else {
		lastDone = last
	}
	return docID, last, lastDone, nil
}

// processOne executes a single attempt: begin the run, invoke the
// engine (with one bounded in-run recovery), write artifacts, and
// commit the terminal state. A panic fails this document only.
func (o *Orchestrator) processOne(ctx context.Context, eng engine.Engine, docID uuid.UUID, cand discovery.Candidate, fp string, d Decision) (outcome string, err error) {
	rec := metrics.NewRecorder(cand.Name)

	run, err := o.ledger.BeginRun(ctx, docID, o.cfg.Pipeline, d.ParentRunID)
	if err != nil {
		o.log.Error("failed to begin run", "path", cand.Path, "error", err)
		rec.Finish(metrics.OutcomeError, "begin_run: "+err.Error())
		rec.Log(o.log)
		return metrics.OutcomeError, err
	}

	defer func() {
		if r := recover(); r != nil {
			detail := fmt.Sprintf("panic: %v", r)
			o.log.Error("attempt panicked", "path", cand.Path, "attempt", run.AttemptNo, "panic", r)
			_ = o.ledger.CompleteRun(ctx, run.ID, domain.RunStatusFailed, storage.CompleteOptions{
				ErrorKind:   domain.ErrorKindUnknown,
				ErrorDetail: detail,
			})
			metrics.FailuresTotal.WithLabelValues(string(domain.ErrorKindUnknown)).Inc()
			rec.Finish(metrics.OutcomeError, detail)
			rec.Log(o.log)
			outcome = metrics.OutcomeError
		}
	}()

	o.step(ctx, run.ID, domain.StepEngineStart, domain.StepStarted, "")

	recovered := false
	for {
		result, perr := eng.Process(ctx, cand.Path, o.cfg.PromptID)
		if perr == nil {
			return o.commitSuccess(ctx, run, cand, fp, result, rec)
		}

		kind := engine.Classify(perr)
		o.log.Warn("attempt failed",
			"path", cand.Path, "attempt", run.AttemptNo, "kind", kind, "error", perr)

		// One bounded in-place recovery for transient failures; this
		// is independent of the cross-run retry budget.
		if kind == domain.ErrorKindTransient && !recovered {
			recovered = true
			rec.Attempts++
			o.step(ctx, run.ID, domain.StepRecoverRefresh, domain.StepStarted, "")
			if rerr := eng.Recover(ctx); rerr != nil {
				o.log.Warn("session recovery failed", "path", cand.Path, "error", rerr)
				o.step(ctx, run.ID, domain.StepRecoverRefresh, domain.StepFailed, rerr.Error())
			} else {
				o.step(ctx, run.ID, domain.StepRecoverRefresh, domain.StepDone, "")
			}
			continue
		}

		return o.commitFailure(ctx, run, cand, kind, perr, rec)
	}
}

func (o *Orchestrator) commitSuccess(ctx context.Context, run *domain.Run, cand discovery.Candidate, fp string, result *engine.Result, rec *metrics.Recorder) (string, error) {
	meta := map[string]any{
		"source_path": cand.Path,
		"rel_path":    cand.RelPath,
		"file_name":   cand.Name,
		"fingerprint": fp,
		"prompt_id":   o.cfg.PromptID,
		"run_tag":     o.cfg.RunTag,
		"pipeline":    o.cfg.Pipeline,
		"document_id": run.DocumentID.String(),
		"run_id":      run.ID.String(),
		"attempt_no":  run.AttemptNo,
		"metrics":     rec,
	}

	// The artifact must exist before the ledger says done.
	paths, werr := o.writer.Write(cand.RelPath, cand.Name, result.Text, result.Data, meta)
	if werr != nil {
		kind := classifyArtifactError(werr)
		o.step(ctx, run.ID, domain.StepWriteArtifacts, domain.StepFailed, werr.Error())
		return o.commitFailure(ctx, run, cand, kind, werr, rec)
	}
	o.step(ctx, run.ID, domain.StepWriteArtifacts, domain.StepDone, "")

	if cerr := o.ledger.CompleteRun(ctx, run.ID, domain.RunStatusDone, storage.CompleteOptions{OutPath: paths.BaseDir}); cerr != nil {
		o.log.Error("failed to commit done run", "path", cand.Path, "run_id", run.ID, "error", cerr)
		rec.Finish(metrics.OutcomeError, "complete_run: "+cerr.Error())
		rec.Log(o.log)
		return metrics.OutcomeError, cerr
	}
	o.step(ctx, run.ID, domain.StepEngineFinish, domain.StepDone, "")

	if o.queue != nil {
		_ = o.queue.Remove(ctx, cand.Path)
	}

	rec.Finish(metrics.OutcomeSuccess, "")
	rec.Log(o.log)
	return metrics.OutcomeSuccess, nil
}

func (o *Orchestrator) commitFailure(ctx context.Context, run *domain.Run, cand discovery.Candidate, kind domain.ErrorKind, cause error, rec *metrics.Recorder) (string, error) {
	o.step(ctx, run.ID, domain.StepEngineFinish, domain.StepFailed, cause.Error())

	delay := o.policy.Delay(run.AttemptNo)
	cerr := o.ledger.CompleteRun(ctx, run.ID, domain.RunStatusFailed, storage.CompleteOptions{
		ErrorKind:   kind,
		ErrorDetail: cause.Error(),
		RetryAfter:  delay,
	})
	if cerr != nil {
		o.log.Error("failed to commit failed run", "path", cand.Path, "run_id", run.ID, "error", cerr)
	}

	metrics.FailuresTotal.WithLabelValues(string(kind)).Inc()

	if o.queue != nil && o.policy.RetryKinds[kind] && delay > 0 &&
		(o.policy.MaxAttempts == 0 || run.AttemptNo < o.policy.MaxAttempts) {
		if qerr := o.queue.Push(ctx, cand.Path, time.Now().Add(delay)); qerr != nil {
			o.log.Warn("failed to park document in retry queue", "path", cand.Path, "error", qerr)
		}
	}

	rec.Finish(metrics.OutcomeError, cause.Error())
	rec.Log(o.log)
	return metrics.OutcomeError, cerr
}

func (o *Orchestrator) step(ctx context.Context, runID uuid.UUID, name string, status domain.StepStatus, detail string) {
	if err := o.ledger.MarkStep(ctx, runID, name, status, detail); err != nil {
		o.log.Debug("failed to record step", "run_id", runID, "step", name, "error", err)
	}
}

// classifyArtifactError maps artifact I/O failures onto the taxonomy:
// permission and missing-path problems will not fix themselves, the
// rest (disk pressure, transient fs errors) may.
func classifyArtifactError(err error) domain.ErrorKind {
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
		return domain.ErrorKindPermanent
	}
	return domain.ErrorKindTransient
}
