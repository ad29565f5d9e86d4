package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/miradorstack/mirador-forecast/internal/models"
)

// Forecaster is the service surface the HTTP handlers depend on.
type Forecaster interface {
	ListPredictions(ctx context.Context, status, category string) ([]models.PredictionView, error)
	CreatePrediction(ctx context.Context, in models.PredictionCreate) (models.PredictionView, error)
	ResolvePrediction(ctx context.Context, id int64, outcome int) (models.PredictionView, error)
	Leaderboard(ctx context.Context) (models.LeaderboardView, error)
	Dashboard(ctx context.Context, status, category string) (models.Dashboard, error)
	CategoryInsights(ctx context.Context) ([]models.CategoryCalibration, error)
	Ratings(name string) (models.SchemeView, error)
	RatingSchemes() []string
	Ping(ctx context.Context) error
}

type handlers struct {
	svc    Forecaster
	logger *slog.Logger
}

func (h handlers) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Prediction gateway is running"})
}

func (h handlers) liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h handlers) readiness(c *gin.Context) {
	if err := h.svc.Ping(c.Request.Context()); err != nil {
		h.logger.Warn("readiness probe failed", slog.Any("error", err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "detail": "Network error or server unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h handlers) listPredictions(c *gin.Context) {
	views, err := h.svc.ListPredictions(c.Request.Context(), c.Query("status"), c.Query("category"))
	if err != nil {
		presentError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h handlers) createPrediction(c *gin.Context) {
	var in models.PredictionCreate
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorBody{Detail: bindingMessage(err)})
		return
	}
	view, err := h.svc.CreatePrediction(c.Request.Context(), in)
	if err != nil {
		presentError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h handlers) resolvePrediction(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusUnprocessableEntity, errorBody{Detail: "Prediction id must be a positive integer"})
		return
	}
	var in models.PredictionResolve
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorBody{Detail: bindingMessage(err)})
		return
	}
	view, err := h.svc.ResolvePrediction(c.Request.Context(), id, *in.Outcome)
	if err != nil {
		presentError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h handlers) leaderboard(c *gin.Context) {
	board, err := h.svc.Leaderboard(c.Request.Context())
	if err != nil {
		presentError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, board)
}

func (h handlers) categories(c *gin.Context) {
	out, err := h.svc.CategoryInsights(c.Request.Context())
	if err != nil {
		presentError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h handlers) dashboard(c *gin.Context) {
	out, err := h.svc.Dashboard(c.Request.Context(), c.Query("status"), c.Query("category"))
	if err != nil {
		presentError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h handlers) ratingSchemes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"schemes": h.svc.RatingSchemes()})
}

func (h handlers) ratings(c *gin.Context) {
	out, err := h.svc.Ratings(c.Param("scheme"))
	if err != nil {
		presentError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
