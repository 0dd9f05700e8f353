package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sectorlabs/sectorsim/internal/models"
)

// errorKind names the taxonomy bucket an error belongs to.
func errorKind(err error) string {
	switch {
	case errors.Is(err, models.ErrValidation):
		return "validation"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrContention):
		return "contention"
	case errors.Is(err, models.ErrState):
		return "state"
	case errors.Is(err, models.ErrStorage):
		return "storage"
	default:
		return "internal"
	}
}

// httpStatus maps error kinds to HTTP statuses.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrContention), errors.Is(err, models.ErrState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the failure envelope {success, error, reason}.
func respondError(c *gin.Context, err error) {
	c.JSON(httpStatus(err), gin.H{
		"success": false,
		"error":   errorKind(err),
		"reason":  err.Error(),
	})
}
