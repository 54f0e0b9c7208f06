package config

import (
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Paths     PathsConfig     `koanf:"paths"`
	Task      TaskConfig      `koanf:"task"`
	History   HistoryConfig   `koanf:"history"`
	Terminate TerminateConfig `koanf:"terminate"`
	Logging   LoggingConfig   `koanf:"logging"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// PathsConfig locates the persisted documents. Individual files default to
// well-known names under ConfigDir when not set explicitly.
type PathsConfig struct {
	ConfigDir    string `koanf:"config_dir"`
	JobFile      string `koanf:"job_file"`
	SettingsFile string `koanf:"settings_file"`
	HistoryFile  string `koanf:"history_file"`
	OutputFile   string `koanf:"output_file"`
}

type TaskConfig struct {
	Shell        string `koanf:"shell"`
	Script       string `koanf:"script"`
	ContainerCLI string `koanf:"container_cli"`
}

type HistoryConfig struct {
	MaxEntries int `koanf:"max_entries"`
}

// TerminateConfig holds the escalation waits of the cancellation sequence,
// as duration strings.
type TerminateConfig struct {
	InterruptWait string `koanf:"interrupt_wait"`
	TermWait      string `koanf:"term_wait"`
	ExitWait      string `koanf:"exit_wait"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Load reads config from TOML file (if provided) then overlays env vars.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, err
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, err
		}
	}

	// Env vars: M4B_SERVER_PORT -> server.port. Empty values are skipped so
	// they never shadow TOML settings.
	if err := k.Load(env.ProviderWithValue("M4B_", ".", func(key, value string) (string, interface{}) {
		if value == "" {
			return "", nil
		}
		mapped := strings.Replace(
			strings.ToLower(strings.TrimPrefix(key, "M4B_")),
			"_", ".", -1,
		)
		return mapped, value
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Paths.FillDefaults()
	return &cfg, nil
}

// FillDefaults derives unset document paths from ConfigDir.
func (p *PathsConfig) FillDefaults() {
	if p.ConfigDir == "" {
		p.ConfigDir = "/config"
	}
	if p.JobFile == "" {
		p.JobFile = filepath.Join(p.ConfigDir, "job.json")
	}
	if p.SettingsFile == "" {
		p.SettingsFile = filepath.Join(p.ConfigDir, "settings.json")
	}
	if p.HistoryFile == "" {
		p.HistoryFile = filepath.Join(p.ConfigDir, "history.jsonl")
	}
	if p.OutputFile == "" {
		p.OutputFile = filepath.Join(p.ConfigDir, "output.log")
	}
}
