package config

import (
	"github.com/knadh/koanf/v2"
)

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"server.host": "0.0.0.0",
		"server.port": 8080,

		"paths.config_dir": "/config",

		"task.shell":         "/bin/bash",
		"task.script":        "/scripts/m4b-toolbox.sh",
		"task.container_cli": "docker",

		"history.max_entries": 100,

		"terminate.interrupt_wait": "5s",
		"terminate.term_wait":      "5s",
		"terminate.exit_wait":      "10s",

		"logging.level":  "info",
		"logging.format": "pretty",
	}

	for key, val := range defaults {
		k.Set(key, val)
	}
	return nil
}
