package job

import (
	"context"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// terminate runs the escalating shutdown sequence: sub-resource cleanup,
// then SIGINT, SIGTERM and finally SIGKILL against the whole process group.
// Every step is best-effort and failures are swallowed; SIGKILL is the
// backstop.
func (o *Orchestrator) terminate(ctx context.Context, jobID string, pgid int) {
	if o.subres != nil {
		if err := o.subres.KillSubResources(ctx, jobID); err != nil {
			log.Warn().Err(err).Str("job_id", jobID).Msg("sub-resource cleanup failed")
		}
	}
	if pgid <= 0 {
		return
	}

	steps := []struct {
		sig  syscall.Signal
		wait time.Duration
	}{
		{syscall.SIGINT, o.cfg.InterruptWait},
		{syscall.SIGTERM, o.cfg.TermWait},
	}
	for _, step := range steps {
		if err := o.procs.Signal(pgid, step.sig); err != nil {
			log.Debug().Err(err).Int("pgid", pgid).Stringer("signal", step.sig).Msg("signal failed")
		}
		if o.waitGone(pgid, step.wait) {
			return
		}
	}

	log.Warn().Int("pgid", pgid).Str("job_id", jobID).Msg("task ignored graceful signals, killing")
	_ = o.procs.Signal(pgid, syscall.SIGKILL)
}

// waitGone polls group liveness up to timeout.
func (o *Orchestrator) waitGone(pgid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !o.procs.Alive(pgid) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return !o.procs.Alive(pgid)
}

// awaitGone bounds the final exit wait for runs with no attached background
// execution, issuing an unconditional kill when the deadline passes.
func (o *Orchestrator) awaitGone(pgid int) {
	if pgid <= 0 {
		return
	}
	if !o.waitGone(pgid, o.cfg.ExitWait) {
		_ = o.procs.Signal(pgid, syscall.SIGKILL)
	}
}
