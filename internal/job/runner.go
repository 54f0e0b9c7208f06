package job

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/MATXBY/m4brew/internal/event"
	"github.com/MATXBY/m4brew/internal/progress"

	"github.com/rs/zerolog/log"
)

// execute is the background execution attached to one run: spawn the script
// in its own process group, stream its combined output through the parser,
// then finalize the record and the history ledger. It is the sole writer of
// progress fields; the only foreign write it must respect is the persisted
// cancel_requested flag, re-read before each save.
func (o *Orchestrator) execute(rec Record, run *activeRun) {
	defer close(run.done)
	defer o.detach(run)

	out, err := os.Create(o.cfg.OutputFile)
	if err != nil {
		o.failEarly(rec, fmt.Errorf("open output capture: %w", err))
		return
	}
	defer out.Close()

	header := runHeader(rec)
	_, _ = out.WriteString(header)
	capture := []byte(header)

	cmd := exec.Command(o.cfg.Shell, o.cfg.Script)
	cmd.Env = append(os.Environ(),
		"MODE="+string(rec.Mode),
		"DRY_RUN="+strconv.FormatBool(rec.DryRun),
		"ROOT_FOLDER="+rec.Params.RootFolder,
		"AUDIO_MODE="+rec.Params.AudioMode,
		"BITRATE="+strconv.Itoa(rec.Params.Bitrate),
		"JOB_ID="+rec.ID,
	)
	// Own process group so the script's whole descendant tree can be
	// signaled as one unit.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		o.failEarly(rec, fmt.Errorf("stdout pipe: %w", err))
		return
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		o.failEarly(rec, fmt.Errorf("start task: %w", err))
		return
	}

	pgid := cmd.Process.Pid
	o.mu.Lock()
	run.pgid = pgid
	o.mu.Unlock()

	rec.PGID = pgid
	rec.Updated = time.Now()
	// A cancel may already have been persisted between the initial save and
	// the spawn; carry it, and start termination here since the foreground
	// path had no pgid to signal yet.
	if persisted, ok := o.doc.Load(); ok && persisted.CancelRequested {
		rec.CancelRequested = true
		rec.Status = StatusCanceling
		run.termOnce.Do(func() { o.terminate(context.Background(), rec.ID, pgid) })
	}
	_ = o.doc.Save(rec)

	parser := &progress.Parser{}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		_, _ = out.WriteString(line + "\n")
		capture = append(capture, line...)
		capture = append(capture, '\n')

		changed := parser.Feed(line)

		// Reconcile with the persisted record: a cancel recorded by the
		// foreground path must not be clobbered by this write, and seeing
		// it here is the background trigger for termination.
		if persisted, ok := o.doc.Load(); ok && persisted.CancelRequested && !rec.CancelRequested {
			rec.CancelRequested = true
			rec.Status = StatusCanceling
			run.termOnce.Do(func() { o.terminate(context.Background(), rec.ID, pgid) })
		}

		if changed {
			rec.Current = parser.Current
			rec.CurrentLabel = parser.CurrentLabel
			rec.CurrentPath = parser.CurrentPath
			_ = o.bus.Publish(context.Background(), event.JobEvent{
				Type:    event.EventJobProgress,
				JobID:   rec.ID,
				Mode:    string(rec.Mode),
				Current: rec.Current,
				Total:   rec.Total,
				Label:   rec.CurrentLabel,
			})
		}
		rec.Updated = time.Now()
		_ = o.doc.Save(rec)
	}
	if err := scanner.Err(); err != nil {
		diag := "ERROR: reading task output: " + err.Error() + "\n"
		_, _ = out.WriteString(diag)
		capture = append(capture, diag...)
	}

	exitCode := o.waitExit(cmd, pgid)

	// Finalization is serialized with the foreground decisions so a cancel
	// persisted after the last output line still wins, and so this write
	// can never follow a foreground finalize.
	o.mu.Lock()
	if persisted, ok := o.doc.Load(); ok && persisted.CancelRequested {
		rec.CancelRequested = true
	}

	runtime := int64(time.Since(rec.Started).Seconds())
	rec.RuntimeSeconds = &runtime
	rec.ExitCode = &exitCode
	rec.PGID = 0
	rec.Current = parser.Current
	rec.CurrentLabel = parser.CurrentLabel
	rec.CurrentPath = parser.CurrentPath

	if rec.CancelRequested {
		applyCancel(&rec)
	} else {
		if summary := progress.ExtractSummary(string(capture)); summary != nil {
			summary["runtime_seconds"] = runtime
			rec.Summary = summary
		}
		if exitCode == 0 {
			rec.Status = StatusFinished
			if rec.Total > 0 {
				rec.Current = rec.Total
			}
		} else {
			rec.Status = StatusFailed
		}
	}
	rec.Updated = time.Now()
	if err := o.doc.Save(rec); err != nil {
		log.Error().Err(err).Str("job_id", rec.ID).Msg("persist final record")
	}
	o.mu.Unlock()

	log.Info().Str("job_id", rec.ID).Str("status", string(rec.Status)).
		Int("exit_code", exitCode).Int64("runtime_seconds", runtime).Msg("job finished")
	o.recordCompletion(rec, string(capture))
}

// waitExit waits for the process with a deadline; if the task lingers after
// its output stream closed, the group is killed outright.
func (o *Orchestrator) waitExit(cmd *exec.Cmd, pgid int) int {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(o.cfg.ExitWait):
		log.Warn().Int("pgid", pgid).Msg("task did not exit after output closed, killing")
		_ = o.procs.Signal(pgid, syscall.SIGKILL)
		err = <-done
	}

	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// failEarly finalizes a run that never produced a supervised process.
func (o *Orchestrator) failEarly(rec Record, cause error) {
	log.Error().Err(cause).Str("job_id", rec.ID).Msg("task setup failed")

	diag := runHeader(rec) + "ERROR: " + cause.Error() + "\n"
	_ = os.WriteFile(o.cfg.OutputFile, []byte(diag), 0o644)

	code := -1
	runtime := int64(time.Since(rec.Started).Seconds())
	rec.Status = StatusFailed
	rec.ExitCode = &code
	rec.RuntimeSeconds = &runtime
	rec.PGID = 0
	rec.Updated = time.Now()

	o.mu.Lock()
	if persisted, ok := o.doc.Load(); ok && persisted.CancelRequested {
		rec.CancelRequested = true
	}
	if rec.CancelRequested {
		applyCancel(&rec)
	}
	_ = o.doc.Save(rec)
	o.mu.Unlock()
	o.recordCompletion(rec, diag)
}

// runHeader reproduces the capture preamble the original panel printed at
// the top of every run.
func runHeader(rec Record) string {
	return fmt.Sprintf("[%s] Running MODE=%s DRY_RUN=%t\nROOT_FOLDER=%s\nAUDIO_MODE=%s\nBITRATE=%d\n\n",
		rec.Started.Format("2006-01-02 15:04:05"),
		rec.Mode, rec.DryRun,
		rec.Params.RootFolder, rec.Params.AudioMode, rec.Params.Bitrate)
}
