package cmd

import (
	"context"
	"fmt"

	"github.com/MATXBY/m4brew/internal/config"
	"github.com/MATXBY/m4brew/internal/scan"
	"github.com/MATXBY/m4brew/internal/settings"
	"github.com/urfave/cli/v3"
)

func scanCmd() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Print the advisory work-item count for a mode without starting a run",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "mode",
				Usage: "Toolbox pass (convert, correct, cleanup)",
				Value: "convert",
			},
			&cli.StringFlag{
				Name:  "root",
				Usage: "Library root (defaults to the persisted settings value)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			root := cmd.String("root")
			if root == "" {
				root = settings.NewService(cfg.Paths.SettingsFile).Get().RootFolder
			}
			if root == "" {
				return fmt.Errorf("no library root configured")
			}

			total := scan.EstimateTotal(root, cmd.String("mode"))
			fmt.Printf("%s: %d item(s) pending under %s\n", cmd.String("mode"), total, root)
			return nil
		},
	}
}
