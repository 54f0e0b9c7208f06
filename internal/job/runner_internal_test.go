package job

import (
	"context"
	"errors"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/MATXBY/m4brew/internal/event"
	"github.com/MATXBY/m4brew/internal/history"

	"github.com/stretchr/testify/require"
)

type nopProcs struct{}

func (nopProcs) Signal(int, syscall.Signal) error { return nil }
func (nopProcs) Alive(int) bool                   { return false }

type nopKiller struct{}

func (nopKiller) KillSubResources(context.Context, string) error { return nil }

func TestFailEarlyHonorsPersistedCancel(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ledger := history.NewLedger(filepath.Join(dir, "history.jsonl"), 10)
	o := NewOrchestrator(Config{
		JobFile:    filepath.Join(dir, "job.json"),
		OutputFile: filepath.Join(dir, "output.log"),
	}, ledger, event.NewBus(), nopProcs{}, nopKiller{})

	rec := Record{ID: "job-x", Status: StatusRunning, Mode: ModeConvert, Started: time.Now()}
	require.NoError(t, o.doc.Save(rec))

	// A cancel persisted after the run started but before the spawn failed;
	// the in-memory record handed to the finalize does not carry it.
	persisted := rec
	persisted.CancelRequested = true
	persisted.Status = StatusCanceling
	require.NoError(t, o.doc.Save(persisted))

	o.failEarly(rec, errors.New("spawn failed"))

	final, ok := o.doc.Load()
	require.True(t, ok)
	require.Equal(t, StatusCanceled, final.Status)
	require.NotNil(t, final.ExitCode)
	require.Equal(t, CancelExitCode, *final.ExitCode)

	entries := ledger.ReadAll()
	require.Len(t, entries, 1)
	require.Equal(t, CancelExitCode, entries[0].ExitCode)
}

func TestFailEarlyWithoutCancelRecordsFailure(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ledger := history.NewLedger(filepath.Join(dir, "history.jsonl"), 10)
	o := NewOrchestrator(Config{
		JobFile:    filepath.Join(dir, "job.json"),
		OutputFile: filepath.Join(dir, "output.log"),
	}, ledger, event.NewBus(), nopProcs{}, nopKiller{})

	rec := Record{ID: "job-y", Status: StatusRunning, Mode: ModeCleanup, Started: time.Now()}
	require.NoError(t, o.doc.Save(rec))

	o.failEarly(rec, errors.New("spawn failed"))

	final, ok := o.doc.Load()
	require.True(t, ok)
	require.Equal(t, StatusFailed, final.Status)
	require.NotNil(t, final.ExitCode)
	require.Equal(t, -1, *final.ExitCode)
	require.Contains(t, o.Output(), "ERROR: spawn failed")
}
