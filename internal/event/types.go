package event

import "time"

type EventType string

const (
	EventJobStarted  EventType = "job.started"
	EventJobProgress EventType = "job.progress"
	EventJobFinished EventType = "job.finished"
	EventJobFailed   EventType = "job.failed"
	EventJobCanceled EventType = "job.canceled"
)

// JobEvent is the single event shape carried on the bus; Type selects the
// subscribers it is delivered to.
type JobEvent struct {
	Type      EventType
	Timestamp time.Time

	JobID    string
	Mode     string
	DryRun   bool
	Current  int
	Total    int
	Label    string
	ExitCode int
}
