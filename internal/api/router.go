package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/miradorstack/mirador-forecast/internal/config"
)

// NewRouter builds the gateway's HTTP surface.
func NewRouter(cfg config.ServerConfig, svc Forecaster, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	initValidators()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(accessLog(logger, "/healthz", "/readyz"))
	r.Use(cors.New(corsConfig(logger, cfg.AllowedOrigins)))
	r.Use(observe())

	h := handlers{svc: svc, logger: logger}
	r.GET("/", h.root)
	r.GET("/healthz", h.liveness)
	r.GET("/readyz", h.readiness)

	api := r.Group("/api", rateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst))
	api.GET("/predictions", h.listPredictions)
	api.POST("/predictions", h.createPrediction)
	api.POST("/predictions/:id/resolve", h.resolvePrediction)
	api.GET("/stats/leaderboard", h.leaderboard)
	api.GET("/stats/categories", h.categories)
	api.GET("/dashboard", h.dashboard)
	api.GET("/ratings", h.ratingSchemes)
	api.GET("/ratings/:scheme", h.ratings)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorBody{Detail: "Not Found"})
	})
	return r
}
