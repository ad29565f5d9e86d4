package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/miradorstack/mirador-forecast/internal/repo"
	"github.com/miradorstack/mirador-forecast/internal/services"
	"github.com/miradorstack/mirador-forecast/internal/utils"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	Detail string `json:"detail"`
}

func statusFor(err error) int {
	var apiErr *repo.APIError
	switch {
	case errors.Is(err, services.ErrInvalidInput), errors.Is(err, services.ErrConflict):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repo.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	case errors.As(err, &apiErr) && apiErr.StatusCode >= http.StatusInternalServerError:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func presentError(c *gin.Context, logger *slog.Logger, err error) {
	status := statusFor(err)
	fallback := http.StatusText(status)
	if status == http.StatusBadGateway {
		fallback = "Network error or server unavailable"
	}
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(c.Request.Context(), "request failed",
			slog.String("request_id", c.GetString(requestIDKey)),
			slog.Any("error", err))
	}
	c.JSON(status, errorBody{Detail: utils.UserMessage(err, fallback)})
}
