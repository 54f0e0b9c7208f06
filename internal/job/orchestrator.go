// Package job is the orchestration core: it owns the persisted job record,
// supervises the toolbox process and guarantees that cancellation wins every
// race against natural completion.
package job

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/MATXBY/m4brew/internal/event"
	"github.com/MATXBY/m4brew/internal/history"
	"github.com/MATXBY/m4brew/internal/scan"
	"github.com/MATXBY/m4brew/internal/store"

	"github.com/rs/zerolog/log"
)

var (
	ErrMissingRoot = errors.New("root folder is required")
	ErrJobActive   = errors.New("a job is still active")
)

// Config wires the orchestrator to the task invocation and its documents.
type Config struct {
	Shell      string
	Script     string
	JobFile    string
	OutputFile string

	// Escalation waits of the termination sequence.
	InterruptWait time.Duration
	TermWait      time.Duration
	ExitWait      time.Duration
}

type Orchestrator struct {
	cfg    Config
	doc    *store.Document[Record]
	ledger *history.Ledger
	bus    event.Bus
	procs  ProcessGroups
	subres SubResourceKiller

	mu  sync.Mutex // serializes start/cancel/clear decisions
	run *activeRun
}

// activeRun tracks the background execution attached to the current job.
// termOnce makes the termination sequence idempotent across the foreground
// cancel path and the background poll.
type activeRun struct {
	id       string
	pgid     int
	termOnce sync.Once
	done     chan struct{}
}

func NewOrchestrator(cfg Config, ledger *history.Ledger, bus event.Bus, procs ProcessGroups, subres SubResourceKiller) *Orchestrator {
	if cfg.InterruptWait <= 0 {
		cfg.InterruptWait = 5 * time.Second
	}
	if cfg.TermWait <= 0 {
		cfg.TermWait = 5 * time.Second
	}
	if cfg.ExitWait <= 0 {
		cfg.ExitWait = 10 * time.Second
	}
	return &Orchestrator{
		cfg:    cfg,
		doc:    store.NewDocument[Record](cfg.JobFile, normalizeRecord),
		ledger: ledger,
		bus:    bus,
		procs:  procs,
		subres: subres,
	}
}

// Start launches a new run unless one is already active. The single-job
// check reads the persisted record, not memory, so it holds across
// controller restarts. When a job is active its record is returned
// unchanged with no error.
func (o *Orchestrator) Start(ctx context.Context, mode Mode, dryRun bool, params Params) (Record, error) {
	if params.RootFolder == "" {
		return Record{}, ErrMissingRoot
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if cur, ok := o.doc.Load(); ok && cur.Status.Active() {
		return cur, nil
	}

	now := time.Now()
	rec := Record{
		ID:      newJobID(now),
		Status:  StatusRunning,
		Mode:    mode,
		DryRun:  dryRun,
		Params:  params,
		Started: now,
		Updated: now,
		Total:   scan.EstimateTotal(params.RootFolder, string(mode)),
	}
	if err := o.doc.Save(rec); err != nil {
		return Record{}, err
	}

	run := &activeRun{id: rec.ID, done: make(chan struct{})}
	o.run = run
	go o.execute(rec, run)

	log.Info().Str("job_id", rec.ID).Str("mode", string(mode)).Bool("dry_run", dryRun).
		Int("total", rec.Total).Msg("job started")
	_ = o.bus.Publish(ctx, event.JobEvent{
		Type:  event.EventJobStarted,
		JobID: rec.ID, Mode: string(mode), DryRun: dryRun, Total: rec.Total,
	})
	return rec, nil
}

// Status returns a read-only view of the current job. A record stuck on
// "running" whose process group is gone (controller crashed mid-run) is
// reported with a derived terminal status; the persisted document is never
// touched from this path.
func (o *Orchestrator) Status() (Record, bool) {
	rec, ok := o.doc.Load()
	if !ok {
		return Record{}, false
	}

	if rec.Status == StatusRunning && !o.attached(rec.ID) &&
		rec.PGID != 0 && !o.procs.Alive(rec.PGID) {
		if rec.ExitCode != nil && *rec.ExitCode == 0 {
			rec.Status = StatusFinished
		} else {
			rec.Status = StatusFailed
		}
		rec.PGID = 0
	}
	return rec, true
}

// RequestCancel marks the job canceling and synchronously starts the
// termination sequence. It is a no-op on anything but a running or
// canceling job. The intent is persisted before any signaling so it
// survives even if the background execution never gets scheduled again.
func (o *Orchestrator) RequestCancel(ctx context.Context) (Record, bool) {
	o.mu.Lock()
	rec, ok := o.doc.Load()
	if !ok || !rec.Status.Active() {
		o.mu.Unlock()
		return rec, false
	}

	rec.CancelRequested = true
	rec.Status = StatusCanceling
	rec.Updated = time.Now()
	if err := o.doc.Save(rec); err != nil {
		log.Error().Err(err).Str("job_id", rec.ID).Msg("persist cancel request")
	}
	run := o.run
	o.mu.Unlock()

	log.Info().Str("job_id", rec.ID).Msg("cancel requested")

	if run != nil && run.id == rec.ID {
		// The spawn may not have recorded its process group yet; only consume
		// the shared once with a real pgid. If the wait expires first, the
		// background reconcile starts termination as soon as the pgid is
		// known.
		if pgid := o.waitPGID(run, 2*time.Second); pgid > 0 {
			run.termOnce.Do(func() { o.terminate(ctx, rec.ID, pgid) })
		}
		return rec, true
	}

	// Orphaned run from a previous controller instance: no background
	// execution will finalize it, so do the whole shutdown inline. The
	// finalize re-checks the persisted record under the lock so concurrent
	// cancels of the same orphan produce exactly one history entry.
	o.terminate(ctx, rec.ID, rec.PGID)
	o.awaitGone(rec.PGID)

	o.mu.Lock()
	cur, ok := o.doc.Load()
	if !ok || !cur.Status.Active() {
		// A concurrent cancel finalized the record first.
		o.mu.Unlock()
		if !ok {
			return rec, true
		}
		return cur, true
	}
	cur.PGID = 0
	applyCancel(&cur)
	cur.Updated = time.Now()
	if err := o.doc.Save(cur); err != nil {
		log.Error().Err(err).Str("job_id", cur.ID).Msg("finalize canceled job")
	}
	o.mu.Unlock()
	o.recordCompletion(cur, o.Output())
	return cur, true
}

// Clear removes the job record and the output capture. Rejected while a job
// is active.
func (o *Orchestrator) Clear() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if rec, ok := o.doc.Load(); ok && rec.Status.Active() {
		return ErrJobActive
	}
	if err := o.doc.Delete(); err != nil {
		return err
	}
	if err := os.Remove(o.cfg.OutputFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Output returns the raw capture of the current or most recent run.
func (o *Orchestrator) Output() string {
	raw, err := os.ReadFile(o.cfg.OutputFile)
	if err != nil {
		return ""
	}
	return string(raw)
}

func (o *Orchestrator) waitPGID(run *activeRun, timeout time.Duration) int {
	deadline := time.Now().Add(timeout)
	for {
		o.mu.Lock()
		pgid := run.pgid
		o.mu.Unlock()
		if pgid != 0 || time.Now().After(deadline) {
			return pgid
		}
		select {
		case <-run.done:
			return 0
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (o *Orchestrator) attached(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run != nil && o.run.id == id
}

func (o *Orchestrator) detach(run *activeRun) {
	o.mu.Lock()
	if o.run == run {
		o.run = nil
	}
	o.mu.Unlock()
}

// applyCancel forces the canceled outcome onto a record. The summary is
// overridden even when the task's own summary claimed success: once
// cancellation was requested the run must never be reported as finished.
func applyCancel(r *Record) {
	r.Status = StatusCanceled
	code := CancelExitCode
	r.ExitCode = &code
	summary := map[string]any{"success": false, "reason": "canceled"}
	if r.RuntimeSeconds != nil {
		summary["runtime_seconds"] = *r.RuntimeSeconds
	}
	r.Summary = summary
}

// recordCompletion appends the history entry and publishes the terminal
// event. Called exactly once per finished run.
func (o *Orchestrator) recordCompletion(rec Record, output string) {
	exitCode := 0
	if rec.ExitCode != nil {
		exitCode = *rec.ExitCode
	}

	if err := o.ledger.Append(history.Entry{
		Timestamp:  time.Now(),
		Mode:       string(rec.Mode),
		DryRun:     rec.DryRun,
		RootFolder: rec.Params.RootFolder,
		AudioMode:  rec.Params.AudioMode,
		Bitrate:    rec.Params.Bitrate,
		ExitCode:   exitCode,
		Summary:    rec.Summary,
		Output:     output,
	}); err != nil {
		log.Error().Err(err).Str("job_id", rec.ID).Msg("append history entry")
	}

	eventType := event.EventJobFinished
	switch rec.Status {
	case StatusFailed:
		eventType = event.EventJobFailed
	case StatusCanceled:
		eventType = event.EventJobCanceled
	}
	_ = o.bus.Publish(context.Background(), event.JobEvent{
		Type:     eventType,
		JobID:    rec.ID,
		Mode:     string(rec.Mode),
		DryRun:   rec.DryRun,
		Current:  rec.Current,
		Total:    rec.Total,
		ExitCode: exitCode,
	})
}
