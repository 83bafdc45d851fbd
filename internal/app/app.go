package app

import (
	"context"
	"net/http"

	"github.com/go-redis/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/xpanvictor/cortado/internal/config"
	"github.com/xpanvictor/cortado/internal/live/instructions"
	"github.com/xpanvictor/cortado/internal/server"
	"github.com/xpanvictor/cortado/pkg/Logger"
)

// App represents the relay with all its dependencies
type App struct {
	Config   *config.Settings
	Logger   *Logger.Logger
	RC       *redis.Client
	Registry *prometheus.Registry

	Files        *instructions.FileStore
	Cache        *instructions.CachedStore
	Instructions instructions.Source
	Upstream     *http.Client
	ServerDeps   server.Dependencies
}

// NewApp wires the relay. rc may be nil, in which case pages are read from
// disk on every request.
func NewApp(ctx context.Context, cfg *config.Settings, logger *Logger.Logger, rc *redis.Client) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: Logger.OrNop(logger),
		RC:     rc,
	}

	if err := app.setupDependencies(ctx); err != nil {
		return nil, err
	}

	return app, nil
}

func (a *App) setupDependencies(ctx context.Context) error {
	// 1. instruction source, cached when redis is configured
	a.Files = instructions.NewFileStore(a.Config.Server.InstructionDir)
	a.Instructions = a.Files
	if a.RC != nil {
		a.Cache = instructions.NewCachedStore(a.Files, a.RC, a.Config.Server.Redis.TTL, a.Logger)
		a.Instructions = a.Cache
	}

	// 2. upstream analytics client
	upstream, err := server.NewUpstreamClient(ctx, a.Config.Server.UpstreamAuth)
	if err != nil {
		return err
	}
	a.Upstream = upstream
	if a.Config.Server.UpstreamURL == "" {
		a.Logger.Warn("server.upstream_url not set, /api/data-agent/stream will answer 503")
	}

	// 3. metrics registry
	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.ServerDeps = server.NewServerDependencies(
		a.Instructions,
		a.Config.Server.UpstreamURL,
		a.Upstream,
		a.Config.Server.AllowedOrigins,
		a.Registry,
		a.Logger,
	)
	return nil
}

// Handler returns the relay's HTTP handler.
func (a *App) Handler() http.Handler {
	return server.NewHandler(a.ServerDeps)
}

// WatchInstructions keeps the cache coherent with the instruction directory
// until ctx ends. Without a cache it returns immediately.
func (a *App) WatchInstructions(ctx context.Context) error {
	if a.Cache == nil {
		return nil
	}
	return a.Cache.Watch(ctx, nil)
}
