// Package settings persists operator preferences for the toolbox runs.
package settings

import (
	"strings"

	"github.com/MATXBY/m4brew/internal/store"
)

type Settings struct {
	RootFolder string `json:"root_folder"`
	AudioMode  string `json:"audio_mode"`
	Bitrate    int    `json:"bitrate"`
	LastMode   string `json:"last_mode,omitempty"`
	LastDryRun bool   `json:"last_dry_run,omitempty"`
}

var (
	AllowedBitrates   = []int{32, 64, 96, 128, 160, 192}
	AllowedAudioModes = []string{"match", "mono", "stereo"}
)

func Defaults() Settings {
	return Settings{
		RootFolder: "/audiobooks",
		AudioMode:  "match",
		Bitrate:    64,
	}
}

// Service owns the persisted settings document.
type Service struct {
	doc *store.Document[Settings]
}

func NewService(path string) *Service {
	return &Service{doc: store.NewDocument[Settings](path, nil)}
}

// Get returns the stored settings, falling back to defaults field by field
// when the document is missing or partially filled.
func (s *Service) Get() Settings {
	cur, ok := s.doc.Load()
	if !ok {
		return Defaults()
	}
	def := Defaults()
	if cur.RootFolder == "" {
		cur.RootFolder = def.RootFolder
	}
	if !allowedAudioMode(cur.AudioMode) {
		cur.AudioMode = def.AudioMode
	}
	if !allowedBitrate(cur.Bitrate) {
		cur.Bitrate = def.Bitrate
	}
	return cur
}

// Update clamps the incoming values to known-safe options and persists the
// result. Invalid fields keep their current value rather than erroring.
func (s *Service) Update(in Settings) (Settings, error) {
	cur := s.Get()

	root := strings.TrimSpace(in.RootFolder)
	if root != "" && strings.HasPrefix(root, "/") {
		cur.RootFolder = root
	}
	if allowedAudioMode(in.AudioMode) {
		cur.AudioMode = in.AudioMode
	}
	if allowedBitrate(in.Bitrate) {
		cur.Bitrate = in.Bitrate
	}

	if err := s.doc.Save(cur); err != nil {
		return cur, err
	}
	return cur, nil
}

// RememberRun records the last-used mode and dry-run choice so the control
// surface can preselect them.
func (s *Service) RememberRun(mode string, dryRun bool) error {
	cur := s.Get()
	cur.LastMode = mode
	cur.LastDryRun = dryRun
	return s.doc.Save(cur)
}

func allowedAudioMode(mode string) bool {
	for _, m := range AllowedAudioModes {
		if m == mode {
			return true
		}
	}
	return false
}

func allowedBitrate(b int) bool {
	for _, v := range AllowedBitrates {
		if v == b {
			return true
		}
	}
	return false
}
