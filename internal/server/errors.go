package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	providerdomain "github.com/smallbiznis/waplink/internal/provider/domain"
	sessiondomain "github.com/smallbiznis/waplink/internal/session/domain"
	"go.uber.org/zap"
)

// AbortWithError records the error for the middleware to translate.
func AbortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// ErrorHandlingMiddleware turns domain errors into HTTP responses with
// a stable machine-readable code. Responses carry only the canned
// per-code message; error detail (gateway URLs, driver text) stays in
// the logs.
func ErrorHandlingMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		status, code, message := mapError(err)
		if status >= http.StatusInternalServerError {
			log.Error("request failed",
				zap.String("path", c.FullPath()),
				zap.Error(err))
		} else {
			log.Debug("request rejected",
				zap.String("path", c.FullPath()),
				zap.String("code", code),
				zap.Error(err))
		}
		c.JSON(status, gin.H{
			"error":   code,
			"message": message,
		})
	}
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, sessiondomain.ErrInvalidRequest),
		errors.Is(err, providerdomain.ErrUnknownProvider),
		errors.Is(err, providerdomain.ErrInvalidConfig):
		return http.StatusBadRequest, "invalid_request", "invalid request"
	case errors.Is(err, sessiondomain.ErrInvalidSignature):
		return http.StatusUnauthorized, "unauthorized", "unauthorized"
	case errors.Is(err, sessiondomain.ErrForbidden):
		return http.StatusForbidden, "forbidden", "forbidden"
	case errors.Is(err, sessiondomain.ErrQuotaExceeded):
		return http.StatusForbidden, "quota_exceeded", "session quota exceeded"
	case errors.Is(err, sessiondomain.ErrNotFound),
		errors.Is(err, providerdomain.ErrRemoteNotFound):
		return http.StatusNotFound, "not_found", "not found"
	case errors.Is(err, sessiondomain.ErrConflict):
		return http.StatusConflict, "conflict", "already exists"
	case errors.Is(err, providerdomain.ErrConfigurationMissing):
		return http.StatusServiceUnavailable, "configuration_missing", "gateway not configured"
	case errors.Is(err, providerdomain.ErrRemoteUnavailable):
		return http.StatusBadGateway, "gateway_unavailable", "gateway unavailable"
	default:
		return http.StatusInternalServerError, "internal", "internal error"
	}
}
