package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/MATXBY/m4brew/internal/job"
	"github.com/MATXBY/m4brew/internal/settings"

	"github.com/danielgtaylor/huma/v2"
)

type JobsHandler struct {
	orch     *job.Orchestrator
	settings *settings.Service
}

func NewJobsHandler(orch *job.Orchestrator, settings *settings.Service) *JobsHandler {
	return &JobsHandler{orch: orch, settings: settings}
}

// Shared types

type StartJobInput struct {
	Body struct {
		Mode   string `json:"mode" enum:"convert,correct,cleanup" doc:"Toolbox pass to run"`
		DryRun bool   `json:"dry_run,omitempty" doc:"Report planned changes without applying them"`
	}
}

type JobBody struct {
	ID              string         `json:"id" doc:"Job ID"`
	Status          string         `json:"status" doc:"Job status (running, canceling, finished, failed, canceled)"`
	CancelRequested bool           `json:"cancel_requested" doc:"Whether cancellation has been requested"`
	Mode            string         `json:"mode" doc:"Toolbox pass"`
	DryRun          bool           `json:"dry_run" doc:"Dry-run flag"`
	RootFolder      string         `json:"root_folder" doc:"Library root the run operates on"`
	AudioMode       string         `json:"audio_mode" doc:"Audio channel mode"`
	Bitrate         int            `json:"bitrate" doc:"Target bitrate in kbps"`
	Started         time.Time      `json:"started" doc:"Start time"`
	Updated         time.Time      `json:"updated" doc:"Last progress update"`
	Current         int            `json:"current" doc:"Items completed so far"`
	Total           int            `json:"total" doc:"Advisory total item count (0 when unknown)"`
	CurrentLabel    string         `json:"current_label,omitempty" doc:"Label of the item being processed"`
	CurrentPath     string         `json:"current_path,omitempty" doc:"Path of the item being processed"`
	ExitCode        *int           `json:"exit_code,omitempty" doc:"Task exit code once finished"`
	RuntimeSeconds  *int64         `json:"runtime_seconds,omitempty" doc:"Run duration in seconds"`
	Summary         map[string]any `json:"summary,omitempty" doc:"Summary payload parsed from the task output"`
}

func newJobBody(rec job.Record) JobBody {
	return JobBody{
		ID:              rec.ID,
		Status:          string(rec.Status),
		CancelRequested: rec.CancelRequested,
		Mode:            string(rec.Mode),
		DryRun:          rec.DryRun,
		RootFolder:      rec.Params.RootFolder,
		AudioMode:       rec.Params.AudioMode,
		Bitrate:         rec.Params.Bitrate,
		Started:         rec.Started,
		Updated:         rec.Updated,
		Current:         rec.Current,
		Total:           rec.Total,
		CurrentLabel:    rec.CurrentLabel,
		CurrentPath:     rec.CurrentPath,
		ExitCode:        rec.ExitCode,
		RuntimeSeconds:  rec.RuntimeSeconds,
		Summary:         rec.Summary,
	}
}

type JobOutput struct {
	Body JobBody
}

type JobOutputLogOutput struct {
	Body struct {
		Output string `json:"output" doc:"Raw captured task output"`
	}
}

type StatusBody struct {
	Status string `json:"status" doc:"Operation result"`
}

type StatusOutput struct {
	Body StatusBody
}

// Handlers

func (h *JobsHandler) Start(ctx context.Context, input *StartJobInput) (*JobOutput, error) {
	mode, err := job.ParseMode(input.Body.Mode)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	s := h.settings.Get()
	rec, err := h.orch.Start(ctx, mode, input.Body.DryRun, job.Params{
		RootFolder: s.RootFolder,
		AudioMode:  s.AudioMode,
		Bitrate:    s.Bitrate,
	})
	if errors.Is(err, job.ErrMissingRoot) {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	if err != nil {
		return nil, huma.Error500InternalServerError(err.Error())
	}

	return &JobOutput{Body: newJobBody(rec)}, nil
}

func (h *JobsHandler) Get(_ context.Context, _ *struct{}) (*JobOutput, error) {
	rec, ok := h.orch.Status()
	if !ok {
		return nil, huma.Error404NotFound("no job on record")
	}
	return &JobOutput{Body: newJobBody(rec)}, nil
}

func (h *JobsHandler) Cancel(ctx context.Context, _ *struct{}) (*JobOutput, error) {
	rec, ok := h.orch.RequestCancel(ctx)
	if !ok {
		return nil, huma.Error409Conflict("no active job to cancel")
	}
	return &JobOutput{Body: newJobBody(rec)}, nil
}

func (h *JobsHandler) Clear(_ context.Context, _ *struct{}) (*StatusOutput, error) {
	if err := h.orch.Clear(); err != nil {
		if errors.Is(err, job.ErrJobActive) {
			return nil, huma.Error409Conflict(err.Error())
		}
		return nil, huma.Error500InternalServerError(err.Error())
	}
	return &StatusOutput{Body: StatusBody{Status: "cleared"}}, nil
}

func (h *JobsHandler) Output(_ context.Context, _ *struct{}) (*JobOutputLogOutput, error) {
	out := &JobOutputLogOutput{}
	out.Body.Output = h.orch.Output()
	return out, nil
}
