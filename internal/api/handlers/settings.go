package handlers

import (
	"context"

	"github.com/MATXBY/m4brew/internal/settings"

	"github.com/danielgtaylor/huma/v2"
)

type SettingsHandler struct {
	svc *settings.Service
}

func NewSettingsHandler(svc *settings.Service) *SettingsHandler {
	return &SettingsHandler{svc: svc}
}

type SettingsBody struct {
	RootFolder string `json:"root_folder" doc:"Absolute path to the audiobook library"`
	AudioMode  string `json:"audio_mode" enum:"match,mono,stereo" doc:"Audio channel mode"`
	Bitrate    int    `json:"bitrate" doc:"Target bitrate in kbps (32, 64, 96, 128, 160, 192)"`
	LastMode   string `json:"last_mode,omitempty" doc:"Mode of the most recent run"`
	LastDryRun bool   `json:"last_dry_run,omitempty" doc:"Dry-run flag of the most recent run"`
}

type SettingsOutput struct {
	Body SettingsBody
}

type UpdateSettingsInput struct {
	Body struct {
		RootFolder string `json:"root_folder,omitempty" doc:"Absolute path to the audiobook library"`
		AudioMode  string `json:"audio_mode,omitempty" doc:"Audio channel mode"`
		Bitrate    int    `json:"bitrate,omitempty" doc:"Target bitrate in kbps"`
	}
}

func newSettingsBody(s settings.Settings) SettingsBody {
	return SettingsBody{
		RootFolder: s.RootFolder,
		AudioMode:  s.AudioMode,
		Bitrate:    s.Bitrate,
		LastMode:   s.LastMode,
		LastDryRun: s.LastDryRun,
	}
}

func (h *SettingsHandler) Get(_ context.Context, _ *struct{}) (*SettingsOutput, error) {
	return &SettingsOutput{Body: newSettingsBody(h.svc.Get())}, nil
}

// Update clamps unknown values to the current settings rather than failing,
// matching the behavior of the original settings form.
func (h *SettingsHandler) Update(_ context.Context, input *UpdateSettingsInput) (*SettingsOutput, error) {
	updated, err := h.svc.Update(settings.Settings{
		RootFolder: input.Body.RootFolder,
		AudioMode:  input.Body.AudioMode,
		Bitrate:    input.Body.Bitrate,
	})
	if err != nil {
		return nil, huma.Error500InternalServerError(err.Error())
	}
	return &SettingsOutput{Body: newSettingsBody(updated)}, nil
}
