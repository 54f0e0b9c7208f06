package job_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/MATXBY/m4brew/internal/event"
	"github.com/MATXBY/m4brew/internal/history"
	"github.com/MATXBY/m4brew/internal/job"
	"github.com/MATXBY/m4brew/internal/sys"

	"github.com/stretchr/testify/require"
)

type stubProcs struct{ alive bool }

func (s stubProcs) Signal(int, syscall.Signal) error { return nil }
func (s stubProcs) Alive(int) bool                   { return s.alive }

type recordingKiller struct {
	mu   sync.Mutex
	jobs []string
}

func (k *recordingKiller) KillSubResources(_ context.Context, jobID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.jobs = append(k.jobs, jobID)
	return nil
}

func (k *recordingKiller) killed() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.jobs...)
}

type fixture struct {
	orch   *job.Orchestrator
	ledger *history.Ledger
	killer *recordingKiller
	dir    string
	root   string
}

func newFixture(t *testing.T, script string, procs job.ProcessGroups) *fixture {
	t.Helper()
	dir := t.TempDir()

	scriptPath := filepath.Join(dir, "task.sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0o755))

	root := filepath.Join(dir, "library")
	require.NoError(t, os.MkdirAll(root, 0o755))

	ledger := history.NewLedger(filepath.Join(dir, "history.jsonl"), 10)
	killer := &recordingKiller{}
	orch := job.NewOrchestrator(job.Config{
		Shell:         "/bin/sh",
		Script:        scriptPath,
		JobFile:       filepath.Join(dir, "job.json"),
		OutputFile:    filepath.Join(dir, "output.log"),
		InterruptWait: 2 * time.Second,
		TermWait:      2 * time.Second,
		ExitWait:      5 * time.Second,
	}, ledger, event.NewBus(), procs, killer)

	return &fixture{orch: orch, ledger: ledger, killer: killer, dir: dir, root: root}
}

func (f *fixture) params() job.Params {
	return job.Params{RootFolder: f.root, AudioMode: "match", Bitrate: 64}
}

func waitTerminal(t *testing.T, orch *job.Orchestrator) job.Record {
	t.Helper()
	var rec job.Record
	require.Eventually(t, func() bool {
		var ok bool
		rec, ok = orch.Status()
		return ok && rec.Status.Terminal()
	}, 15*time.Second, 50*time.Millisecond, "job never reached a terminal status")
	return rec
}

func TestStartRejectsMissingRoot(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "#!/bin/sh\ntrue\n", stubProcs{})

	_, err := f.orch.Start(context.Background(), job.ModeConvert, false, job.Params{})
	require.ErrorIs(t, err, job.ErrMissingRoot)

	_, ok := f.orch.Status()
	require.False(t, ok, "rejected start must not create a record")
}

func TestRunToCompletion(t *testing.T) {
	t.Parallel()
	script := `#!/bin/sh
echo "[12:00:01] BOOK: Alpha"
echo "[12:00:02] PATH: /lib/Alpha"
echo "----------------------------------------"
echo 'RESULT: {"success":false,"converted":0}'
echo 'RESULT: {"success":true,"converted":1}'
`
	f := newFixture(t, script, sys.Groups{})

	// One pending book so the advisory total is non-zero.
	bookDir := filepath.Join(f.root, "Author", "Alpha")
	require.NoError(t, os.MkdirAll(bookDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bookDir, "01.mp3"), []byte("x"), 0o644))

	rec, err := f.orch.Start(context.Background(), job.ModeConvert, false, f.params())
	require.NoError(t, err)
	require.Equal(t, job.StatusRunning, rec.Status)
	require.Equal(t, 1, rec.Total)
	require.NotEmpty(t, rec.ID)

	final := waitTerminal(t, f.orch)
	require.Equal(t, job.StatusFinished, final.Status)
	require.NotNil(t, final.ExitCode)
	require.Equal(t, 0, *final.ExitCode)
	require.Equal(t, final.Total, final.Current)
	require.Equal(t, "Alpha", final.CurrentLabel)
	require.Equal(t, "/lib/Alpha", final.CurrentPath)
	require.NotNil(t, final.RuntimeSeconds)

	// The last summary sentinel wins and runtime is merged in.
	require.NotNil(t, final.Summary)
	require.Equal(t, true, final.Summary["success"])
	require.Equal(t, float64(1), final.Summary["converted"])
	require.Contains(t, final.Summary, "runtime_seconds")

	entries := f.ledger.ReadAll()
	require.Len(t, entries, 1)
	require.Equal(t, "convert", entries[0].Mode)
	require.Equal(t, 0, entries[0].ExitCode)
	require.Contains(t, entries[0].Output, "Running MODE=convert")
	require.Contains(t, entries[0].Output, "BOOK: Alpha")

	require.Contains(t, f.orch.Output(), "BOOK: Alpha")
}

func TestStartWhileActiveReturnsExisting(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "#!/bin/sh\nsleep 30\n", sys.Groups{})

	first, err := f.orch.Start(context.Background(), job.ModeConvert, false, f.params())
	require.NoError(t, err)

	second, err := f.orch.Start(context.Background(), job.ModeCleanup, true, f.params())
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID, "no second job may be created")
	require.Equal(t, job.ModeConvert, second.Mode, "existing record is returned unchanged")

	_, ok := f.orch.RequestCancel(context.Background())
	require.True(t, ok)
	waitTerminal(t, f.orch)
	require.Len(t, f.ledger.ReadAll(), 1, "only one run may ever have existed")
}

func TestCancelOverridesTaskSuccess(t *testing.T) {
	t.Parallel()
	script := `#!/bin/sh
echo 'RESULT: {"success":true,"converted":99}'
sleep 30
`
	f := newFixture(t, script, sys.Groups{})

	rec, err := f.orch.Start(context.Background(), job.ModeConvert, false, f.params())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		cur, ok := f.orch.Status()
		return ok && cur.PGID != 0
	}, 10*time.Second, 50*time.Millisecond, "process group never recorded")

	canceled, ok := f.orch.RequestCancel(context.Background())
	require.True(t, ok)
	require.True(t, canceled.CancelRequested)

	final := waitTerminal(t, f.orch)
	require.Equal(t, job.StatusCanceled, final.Status)
	require.NotNil(t, final.ExitCode)
	require.Equal(t, job.CancelExitCode, *final.ExitCode)
	require.Equal(t, false, final.Summary["success"])
	require.Equal(t, "canceled", final.Summary["reason"])

	require.Equal(t, []string{rec.ID}, f.killer.killed())

	entries := f.ledger.ReadAll()
	require.Len(t, entries, 1)
	require.Equal(t, job.CancelExitCode, entries[0].ExitCode)
}

func TestCancelImmediatelyAfterStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "#!/bin/sh\nsleep 30\n", sys.Groups{})

	_, err := f.orch.Start(context.Background(), job.ModeConvert, false, f.params())
	require.NoError(t, err)

	// No wait for the process group: the cancel may race the spawn and must
	// still stop the task promptly.
	_, ok := f.orch.RequestCancel(context.Background())
	require.True(t, ok)

	final := waitTerminal(t, f.orch)
	require.Equal(t, job.StatusCanceled, final.Status)
	require.Len(t, f.ledger.ReadAll(), 1)
}

// gatedKiller blocks inside the termination sequence until released, holding
// concurrent cancels open at the same point.
type gatedKiller struct {
	entered chan struct{}
	release chan struct{}
}

func (k *gatedKiller) KillSubResources(context.Context, string) error {
	k.entered <- struct{}{}
	<-k.release
	return nil
}

func TestConcurrentCancelOfOrphanedRunRecordsOnce(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ledger := history.NewLedger(filepath.Join(dir, "history.jsonl"), 10)
	killer := &gatedKiller{entered: make(chan struct{}, 2), release: make(chan struct{})}
	orch := job.NewOrchestrator(job.Config{
		Shell:         "/bin/sh",
		Script:        filepath.Join(dir, "task.sh"),
		JobFile:       filepath.Join(dir, "job.json"),
		OutputFile:    filepath.Join(dir, "output.log"),
		InterruptWait: 100 * time.Millisecond,
		TermWait:      100 * time.Millisecond,
		ExitWait:      200 * time.Millisecond,
	}, ledger, event.NewBus(), stubProcs{alive: false}, killer)

	// A running record with no attached execution, plus the capture its dead
	// run left behind.
	stale := job.Record{
		ID:      "job-orphan",
		Status:  job.StatusRunning,
		Mode:    job.ModeConvert,
		Started: time.Now().Add(-time.Hour),
		PGID:    999999,
	}
	raw, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "job.json"), raw, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "output.log"), []byte("BOOK: Orphan\n"), 0o644))

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = orch.RequestCancel(context.Background())
		}(i)
	}
	// Both cancels must be in flight before either can finalize.
	<-killer.entered
	<-killer.entered
	close(killer.release)
	wg.Wait()

	require.True(t, results[0])
	require.True(t, results[1])

	rec, ok := orch.Status()
	require.True(t, ok)
	require.Equal(t, job.StatusCanceled, rec.Status)

	entries := ledger.ReadAll()
	require.Len(t, entries, 1, "a completed run is recorded exactly once")
	require.Equal(t, job.CancelExitCode, entries[0].ExitCode)
	require.Contains(t, entries[0].Output, "BOOK: Orphan")
}

func TestCancelWithoutActiveJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "#!/bin/sh\ntrue\n", stubProcs{})

	_, ok := f.orch.RequestCancel(context.Background())
	require.False(t, ok)
	require.Empty(t, f.killer.killed())
}

func TestFailedRunRecorded(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "#!/bin/sh\necho boom\nexit 3\n", sys.Groups{})

	_, err := f.orch.Start(context.Background(), job.ModeCorrect, true, f.params())
	require.NoError(t, err)

	final := waitTerminal(t, f.orch)
	require.Equal(t, job.StatusFailed, final.Status)
	require.NotNil(t, final.ExitCode)
	require.Equal(t, 3, *final.ExitCode)
	require.Nil(t, final.Summary)

	entries := f.ledger.ReadAll()
	require.Len(t, entries, 1)
	require.Equal(t, 3, entries[0].ExitCode)
	require.True(t, entries[0].DryRun)
}

func TestClearGuardsActiveJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "#!/bin/sh\nsleep 30\n", sys.Groups{})

	_, err := f.orch.Start(context.Background(), job.ModeConvert, false, f.params())
	require.NoError(t, err)
	require.ErrorIs(t, f.orch.Clear(), job.ErrJobActive)

	rec, ok := f.orch.Status()
	require.True(t, ok, "rejected clear must leave the record in place")
	require.Equal(t, job.StatusRunning, rec.Status)

	_, ok = f.orch.RequestCancel(context.Background())
	require.True(t, ok)
	waitTerminal(t, f.orch)

	require.NoError(t, f.orch.Clear())
	_, ok = f.orch.Status()
	require.False(t, ok)
	_, err = os.Stat(filepath.Join(f.dir, "output.log"))
	require.True(t, os.IsNotExist(err), "clear must remove the output capture")
}

func TestStatusDerivesTerminalAfterCrash(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "#!/bin/sh\ntrue\n", stubProcs{alive: false})

	// A record left behind by a controller that died mid-run: persisted as
	// running with a process group that no longer resolves.
	stale := job.Record{
		ID:      "job-stale",
		Status:  job.StatusRunning,
		Mode:    job.ModeConvert,
		Started: time.Now().Add(-time.Hour),
		Updated: time.Now().Add(-time.Hour),
		PGID:    999999,
	}
	raw, err := json.Marshal(stale)
	require.NoError(t, err)
	jobFile := filepath.Join(f.dir, "job.json")
	require.NoError(t, os.WriteFile(jobFile, raw, 0o644))

	rec, ok := f.orch.Status()
	require.True(t, ok)
	require.Equal(t, job.StatusFailed, rec.Status, "no exit code means the run cannot be trusted")
	require.Zero(t, rec.PGID)

	// The derivation is display-only: the document on disk still says running.
	onDisk, err := os.ReadFile(jobFile)
	require.NoError(t, err)
	var persisted job.Record
	require.NoError(t, json.Unmarshal(onDisk, &persisted))
	require.Equal(t, job.StatusRunning, persisted.Status)
}

func TestStatusDerivesFinishedWithZeroExitCode(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "#!/bin/sh\ntrue\n", stubProcs{alive: false})

	zero := 0
	stale := job.Record{
		ID:       "job-stale",
		Status:   job.StatusRunning,
		Mode:     job.ModeCleanup,
		PGID:     999999,
		ExitCode: &zero,
	}
	raw, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "job.json"), raw, 0o644))

	rec, ok := f.orch.Status()
	require.True(t, ok)
	require.Equal(t, job.StatusFinished, rec.Status)
}
