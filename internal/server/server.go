// Package server is the composition root: it wires the orchestrator, its
// documents and the HTTP control surface together for the serve command.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MATXBY/m4brew/internal/api"
	"github.com/MATXBY/m4brew/internal/config"
	"github.com/MATXBY/m4brew/internal/containers"
	"github.com/MATXBY/m4brew/internal/event"
	"github.com/MATXBY/m4brew/internal/history"
	"github.com/MATXBY/m4brew/internal/job"
	"github.com/MATXBY/m4brew/internal/settings"
	"github.com/MATXBY/m4brew/internal/sys"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Run(ctx context.Context, cfg *config.Config) error {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}
	log.Debug().Str("level", cfg.Logging.Level).Msg("log level configured")

	if err := os.MkdirAll(cfg.Paths.ConfigDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	bus := event.NewBus()
	ledger := history.NewLedger(cfg.Paths.HistoryFile, cfg.History.MaxEntries)
	settingsSvc := settings.NewService(cfg.Paths.SettingsFile)

	orch := job.NewOrchestrator(job.Config{
		Shell:         cfg.Task.Shell,
		Script:        cfg.Task.Script,
		JobFile:       cfg.Paths.JobFile,
		OutputFile:    cfg.Paths.OutputFile,
		InterruptWait: parseWait(cfg.Terminate.InterruptWait, 5*time.Second),
		TermWait:      parseWait(cfg.Terminate.TermWait, 5*time.Second),
		ExitWait:      parseWait(cfg.Terminate.ExitWait, 10*time.Second),
	}, ledger, bus, sys.Groups{}, containers.Killer{Binary: cfg.Task.ContainerCLI})

	setupSubscribers(bus, settingsSvc)

	e := echo.New()
	e.HideBanner = true

	api.SetupRouter(e, api.RouterConfig{
		Orchestrator: orch,
		Settings:     settingsSvc,
		Ledger:       ledger,
		Version:      "1.0.0",
	})

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Info().Str("addr", addr).Str("script", cfg.Task.Script).Msg("control surface listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	return nil
}

// setupSubscribers attaches the cross-cutting bus handlers: remembering the
// last-used run options and logging lifecycle transitions.
func setupSubscribers(bus event.Bus, settingsSvc *settings.Service) {
	bus.Subscribe(event.EventJobStarted, func(_ context.Context, e event.JobEvent) error {
		return settingsSvc.RememberRun(e.Mode, e.DryRun)
	})

	bus.Subscribe(event.EventJobProgress, func(_ context.Context, e event.JobEvent) error {
		log.Debug().Str("job_id", e.JobID).
			Int("current", e.Current).Int("total", e.Total).
			Str("label", e.Label).Msg("job progress")
		return nil
	})

	for _, t := range []event.EventType{event.EventJobFinished, event.EventJobFailed, event.EventJobCanceled} {
		eventType := t
		bus.Subscribe(eventType, func(_ context.Context, e event.JobEvent) error {
			log.Info().Str("job_id", e.JobID).Str("event", string(eventType)).
				Int("exit_code", e.ExitCode).Msg("job completed")
			return nil
		})
	}
}

func parseWait(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
