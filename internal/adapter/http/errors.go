package http

import (
	"errors"
	"net/http"

	"github.com/couchcryptid/alertify-service/internal/domain"
	"github.com/gin-gonic/gin"
)

// statusFor maps a service error to an HTTP status.
func statusFor(caller domain.Caller, err error) int {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPermissionDenied):
		if caller.Role == domain.RoleAnonymous {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrStatusConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorBody renders err for the caller. Validation failures always carry the
// field. Operators see the cause; everyone else gets generic.
func errorBody(caller domain.Caller, err error, generic string) gin.H {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return gin.H{"error": verr.Error(), "field": verr.Field}
	}
	if caller.Role.IsOperator() {
		return gin.H{"error": err.Error()}
	}
	if errors.Is(err, domain.ErrPermissionDenied) {
		return gin.H{"error": domain.ErrPermissionDenied.Error()}
	}
	return gin.H{"error": generic}
}

func (a *API) fail(c *gin.Context, err error, generic string) {
	caller := callerFrom(c)
	status := statusFor(caller, err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			"path", c.Request.URL.Path, "status", status, "role", caller.Role,
			"request_id", c.GetString(requestIDKey), "error", err)
	}
	c.AbortWithStatusJSON(status, errorBody(caller, err, generic))
}
