package app

import (
	"log/slog"
	"net/http"

	"tabletop-session-service/internal/config"
	"tabletop-session-service/internal/observability"
	"tabletop-session-service/internal/registry"
)

// App aggregates the long-lived pieces of one server process.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Sweeper       *registry.Sweeper
	Observability *observability.Runtime
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, sweeper *registry.Sweeper, runtime *observability.Runtime) *App {
	return &App{Config: cfg, Logger: logger, Server: server, Sweeper: sweeper, Observability: runtime}
}
