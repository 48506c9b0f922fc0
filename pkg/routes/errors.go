package routes

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/jgirmay/pulse/pkg/errors"
	"github.com/jgirmay/pulse/pkg/replication"
	"github.com/jgirmay/pulse/pkg/services/attendance"
	"github.com/jgirmay/pulse/pkg/services/presence"
	"github.com/jgirmay/pulse/pkg/visibility"
)

// retryAfterSeconds is sent with every retryable failure
const retryAfterSeconds = 1

// toAppError maps service errors onto the API error envelope
func toAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, presence.ErrInvalidInput):
		return apperrors.Validation("invalid presence request", err.Error())
	case errors.Is(err, presence.ErrStoreUnavailable):
		return apperrors.Unavailable("presence store", "")
	case errors.Is(err, attendance.ErrInvalidInput):
		return apperrors.Validation("invalid attendance request", err.Error())
	case errors.Is(err, attendance.ErrInvalidTransition):
		return apperrors.Conflict(err.Error())
	case errors.Is(err, visibility.ErrMarkerUnavailable):
		return apperrors.Unavailable("transaction marker", "")
	case errors.Is(err, replication.ErrTableNotAllowed):
		return apperrors.Validation("shape request rejected", err.Error())
	case errors.Is(err, replication.ErrUpstream):
		return apperrors.BadGateway("replication upstream unavailable", "")
	default:
		return apperrors.Unavailable("database", "")
	}
}

func respondError(c *gin.Context, err error) {
	respondAppError(c, toAppError(err), err)
}

// respondAppError answers with appErr and records the underlying err for the request log
func respondAppError(c *gin.Context, appErr *apperrors.AppError, err error) {
	_ = c.Error(err)
	if appErr.Retryable {
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	c.AbortWithStatusJSON(appErr.Status, appErr)
}

func respondValidation(c *gin.Context, err error) {
	appErr := apperrors.Validation("invalid request body", err.Error())
	_ = c.Error(err)
	c.AbortWithStatusJSON(appErr.Status, appErr)
}
