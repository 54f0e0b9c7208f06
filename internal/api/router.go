package api

import (
	"net/http"

	"github.com/MATXBY/m4brew/internal/api/handlers"
	"github.com/MATXBY/m4brew/internal/history"
	"github.com/MATXBY/m4brew/internal/job"
	"github.com/MATXBY/m4brew/internal/settings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humaecho"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

type RouterConfig struct {
	Orchestrator *job.Orchestrator
	Settings     *settings.Service
	Ledger       *history.Ledger
	Version      string
}

func SetupRouter(e *echo.Echo, cfg RouterConfig) {
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})

	v1 := e.Group("/api/v1")
	config := huma.DefaultConfig("m4brew API", cfg.Version)
	config.Servers = []*huma.Server{{URL: "/api/v1"}}
	config.Info.Description = "Control surface for the m4b audiobook toolbox"

	api := humaecho.NewWithGroup(e, v1, config)

	jobsHandler := handlers.NewJobsHandler(cfg.Orchestrator, cfg.Settings)
	huma.Register(api, huma.Operation{
		OperationID:   "job-start",
		Method:        http.MethodPost,
		Path:          "/job",
		Summary:       "Start a toolbox run",
		Tags:          []string{"Job"},
		DefaultStatus: http.StatusCreated,
	}, jobsHandler.Start)

	huma.Register(api, huma.Operation{
		OperationID: "job-get",
		Method:      http.MethodGet,
		Path:        "/job",
		Summary:     "Get the current job record",
		Tags:        []string{"Job"},
	}, jobsHandler.Get)

	huma.Register(api, huma.Operation{
		OperationID: "job-cancel",
		Method:      http.MethodPost,
		Path:        "/job/cancel",
		Summary:     "Cancel the running job",
		Tags:        []string{"Job"},
	}, jobsHandler.Cancel)

	huma.Register(api, huma.Operation{
		OperationID: "job-clear",
		Method:      http.MethodDelete,
		Path:        "/job",
		Summary:     "Clear the finished job record",
		Tags:        []string{"Job"},
	}, jobsHandler.Clear)

	huma.Register(api, huma.Operation{
		OperationID: "job-output",
		Method:      http.MethodGet,
		Path:        "/job/output",
		Summary:     "Get the raw captured task output",
		Tags:        []string{"Job"},
	}, jobsHandler.Output)

	historyHandler := handlers.NewHistoryHandler(cfg.Ledger)
	huma.Register(api, huma.Operation{
		OperationID: "history-list",
		Method:      http.MethodGet,
		Path:        "/history",
		Summary:     "List past runs, newest first",
		Tags:        []string{"History"},
	}, historyHandler.List)

	huma.Register(api, huma.Operation{
		OperationID: "history-clear",
		Method:      http.MethodDelete,
		Path:        "/history",
		Summary:     "Clear the run history",
		Tags:        []string{"History"},
	}, historyHandler.Clear)

	settingsHandler := handlers.NewSettingsHandler(cfg.Settings)
	huma.Register(api, huma.Operation{
		OperationID: "settings-get",
		Method:      http.MethodGet,
		Path:        "/settings",
		Summary:     "Get toolbox settings",
		Tags:        []string{"Settings"},
	}, settingsHandler.Get)

	huma.Register(api, huma.Operation{
		OperationID: "settings-update",
		Method:      http.MethodPut,
		Path:        "/settings",
		Summary:     "Update toolbox settings",
		Tags:        []string{"Settings"},
	}, settingsHandler.Update)
}
