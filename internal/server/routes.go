package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/xpanvictor/cortado/internal/handlers"
	"github.com/xpanvictor/cortado/internal/live/instructions"
	"github.com/xpanvictor/cortado/internal/metrics"
	"github.com/xpanvictor/cortado/pkg/Logger"
)

type Dependencies struct {
	Instructions   instructions.Source
	UpstreamURL    string
	Upstream       *http.Client
	AllowedOrigins []string
	Metrics        *metrics.Relay
	Gatherer       prometheus.Gatherer
	Logger         *Logger.Logger
}

func NewServerDependencies(
	source instructions.Source,
	upstreamURL string,
	upstream *http.Client,
	allowedOrigins []string,
	reg *prometheus.Registry,
	logger *Logger.Logger,
) Dependencies {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return Dependencies{
		Instructions:   source,
		UpstreamURL:    upstreamURL,
		Upstream:       upstream,
		AllowedOrigins: allowedOrigins,
		Metrics:        metrics.NewRelay(reg),
		Gatherer:       reg,
		Logger:         logger,
	}
}

func InitializeRoutes(r *gin.Engine, dep Dependencies) {
	r.Use(handlers.RequestLogger(dep.Logger), handlers.RequestMetrics(dep.Metrics))

	r.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, handlers.HealthResponse{Status: "ok"})
	})

	ih := handlers.NewInstructionHandler(dep.Instructions, dep.Logger)
	ah := handlers.NewAgentHandler(dep.UpstreamURL, dep.Upstream, dep.Metrics, dep.Logger)

	api := r.Group("/api")
	api.GET("/system-instructions/:page", ih.GetInstructions)
	api.POST("/data-agent/stream", ah.Stream)

	gatherer := dep.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// NewHandler builds the relay: a gin engine with its routes, behind CORS.
func NewHandler(dep Dependencies) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	InitializeRoutes(r, dep)

	origins := dep.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(r)
}
