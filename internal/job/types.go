package job

import (
	"context"
	"fmt"
	"strconv"
	"syscall"
	"time"
)

type Mode string

const (
	ModeConvert Mode = "convert"
	ModeCorrect Mode = "correct"
	ModeCleanup Mode = "cleanup"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeConvert, ModeCorrect, ModeCleanup:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

type Status string

const (
	StatusRunning   Status = "running"
	StatusCanceling Status = "canceling"
	StatusFinished  Status = "finished"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Active reports whether a job in this status still owns the single job slot.
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusCanceling
}

func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusCanceled
}

// Params are passed through to the script; the orchestrator does not
// interpret them beyond requiring a root folder.
type Params struct {
	RootFolder string `json:"root_folder"`
	AudioMode  string `json:"audio_mode"`
	Bitrate    int    `json:"bitrate"`
}

// Record is the single persisted job document. Once Status reaches a
// terminal value the record is immutable until Clear removes it.
type Record struct {
	ID              string         `json:"id"`
	Status          Status         `json:"status"`
	CancelRequested bool           `json:"cancel_requested"`
	Mode            Mode           `json:"mode"`
	DryRun          bool           `json:"dry_run"`
	Params          Params         `json:"params"`
	Started         time.Time      `json:"started"`
	Updated         time.Time      `json:"updated"`
	Current         int            `json:"current"`
	Total           int            `json:"total"`
	CurrentLabel    string         `json:"current_label,omitempty"`
	CurrentPath     string         `json:"current_path,omitempty"`
	PGID            int            `json:"pgid,omitempty"`
	ExitCode        *int           `json:"exit_code,omitempty"`
	RuntimeSeconds  *int64         `json:"runtime_seconds,omitempty"`
	Summary         map[string]any `json:"summary,omitempty"`
}

// CancelExitCode is recorded for canceled jobs regardless of how the task
// actually exited (128 + SIGINT).
const CancelExitCode = 130

// normalizeRecord clears the freshness field so a record that changed only
// its Updated timestamp is not rewritten by the document store.
func normalizeRecord(r Record) Record {
	r.Updated = time.Time{}
	return r
}

func newJobID(now time.Time) string {
	return "job-" + strconv.FormatInt(now.UnixNano(), 36)
}

// ProcessGroups abstracts process-group signaling so termination can be
// exercised against stubs.
type ProcessGroups interface {
	Signal(pgid int, sig syscall.Signal) error
	Alive(pgid int) bool
}

// SubResourceKiller tears down external resources the task labeled with the
// job id, such as helper containers.
type SubResourceKiller interface {
	KillSubResources(ctx context.Context, jobID string) error
}
