package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tutorflow/internal/lifecycle"
	"tutorflow/internal/model"
)

// statusFor maps the error taxonomy onto screen-facing status codes. Stale
// state is checked before server rejections because it wraps them.
func statusFor(err error) (int, string) {
	var (
		stale *model.StaleStateError
		trans *model.TransitionError
		se    *model.ServerRejectedError
		ne    *model.NetworkError
		de    *model.DecodeError
	)
	switch {
	case errors.Is(err, errUnknownSession):
		return http.StatusNotFound, "unknown_session"
	case errors.Is(err, model.ErrSessionClosed):
		return http.StatusGone, "session_closed"
	case errors.As(err, &stale):
		return http.StatusConflict, "stale_state"
	case errors.Is(err, lifecycle.ErrOperationPending):
		return http.StatusConflict, "operation_pending"
	case errors.Is(err, model.ErrInvalidRating), errors.Is(err, lifecycle.ErrInvalidBooking), errors.As(err, &trans):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, lifecycle.ErrStudentOnly):
		return http.StatusForbidden, "forbidden"
	case errors.As(err, &se):
		if se.StatusCode >= 500 {
			return http.StatusBadGateway, "backend_error"
		}
		return se.StatusCode, "backend_rejected"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "backend_timeout"
	case errors.As(err, &ne):
		return http.StatusBadGateway, "backend_unreachable"
	case errors.As(err, &de):
		return http.StatusBadGateway, "backend_bad_response"
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) fail(c *gin.Context, err error) {
	status, kind := statusFor(err)
	if status >= 500 {
		s.logger.Printf("gateway.%s %s %s: %v", kind, c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "kind": kind})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "kind": "invalid_request"})
}
