package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hupe1980/speakmesh/core"
	"github.com/hupe1980/speakmesh/logging"
)

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidInput), errors.Is(err, core.ErrInvalidThreadID):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrTurnInProgress):
		return http.StatusConflict
	case errors.Is(err, core.ErrThreadNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError writes err as JSON. Internal details of 5xx errors are
// logged, not returned.
func (s *Server) abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logging.FromContextOr(c.Request.Context(), s.logger).Error("Request failed", "error", err.Error())
		msg = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, errorBody{Error: msg})
}

func (s *Server) badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: msg})
}
