package cmd

import (
	"context"
	"fmt"

	"github.com/MATXBY/m4brew/internal/config"
	"github.com/MATXBY/m4brew/internal/server"
	"github.com/urfave/cli/v3"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the controller and its HTTP control surface",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config-dir",
				Usage:   "Directory holding job, settings and history documents",
				Sources: cli.EnvVars("M4BREW_CONFIG_DIR"),
			},
			&cli.StringFlag{
				Name:    "script",
				Usage:   "Path to the toolbox script invoked per run",
				Sources: cli.EnvVars("M4BREW_TASK_SCRIPT"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if v := cmd.String("config-dir"); v != "" {
				cfg.Paths.ConfigDir = v
				cfg.Paths.FillDefaults()
			}
			if v := cmd.String("script"); v != "" {
				cfg.Task.Script = v
			}
			if v := cmd.String("log-level"); v != "" {
				cfg.Logging.Level = v
			}

			return server.Run(ctx, cfg)
		},
	}
}
