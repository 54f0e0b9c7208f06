package handlers

import (
	"context"
	"time"

	"github.com/MATXBY/m4brew/internal/history"

	"github.com/danielgtaylor/huma/v2"
)

type HistoryHandler struct {
	ledger *history.Ledger
}

func NewHistoryHandler(ledger *history.Ledger) *HistoryHandler {
	return &HistoryHandler{ledger: ledger}
}

type ListHistoryInput struct {
	Limit int `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Max results"`
}

type HistoryEntryBody struct {
	Timestamp  time.Time      `json:"timestamp" doc:"Completion time"`
	Mode       string         `json:"mode" doc:"Toolbox pass"`
	DryRun     bool           `json:"dry_run" doc:"Dry-run flag"`
	RootFolder string         `json:"root_folder" doc:"Library root of the run"`
	AudioMode  string         `json:"audio_mode" doc:"Audio channel mode"`
	Bitrate    int            `json:"bitrate" doc:"Target bitrate in kbps"`
	ExitCode   int            `json:"exit_code" doc:"Task exit code"`
	Summary    map[string]any `json:"summary,omitempty" doc:"Parsed run summary"`
	Output     string         `json:"output,omitempty" doc:"Full captured output"`
}

type ListHistoryOutput struct {
	Body []HistoryEntryBody
}

// List returns the most recent runs, newest first.
func (h *HistoryHandler) List(_ context.Context, input *ListHistoryInput) (*ListHistoryOutput, error) {
	entries := h.ledger.ReadAll()

	body := make([]HistoryEntryBody, 0, len(entries))
	for i := len(entries) - 1; i >= 0 && len(body) < input.Limit; i-- {
		e := entries[i]
		body = append(body, HistoryEntryBody{
			Timestamp:  e.Timestamp,
			Mode:       e.Mode,
			DryRun:     e.DryRun,
			RootFolder: e.RootFolder,
			AudioMode:  e.AudioMode,
			Bitrate:    e.Bitrate,
			ExitCode:   e.ExitCode,
			Summary:    e.Summary,
			Output:     e.Output,
		})
	}
	return &ListHistoryOutput{Body: body}, nil
}

func (h *HistoryHandler) Clear(_ context.Context, _ *struct{}) (*StatusOutput, error) {
	if err := h.ledger.Clear(); err != nil {
		return nil, huma.Error500InternalServerError(err.Error())
	}
	return &StatusOutput{Body: StatusBody{Status: "cleared"}}, nil
}
