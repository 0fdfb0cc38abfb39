package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/safetrip/internal/api/middleware"
	"github.com/timmy/safetrip/internal/domain"
)

// statusFor maps an error kind to an HTTP status.
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalid:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// publicMessage returns the innermost message of a kinded error chain.
func publicMessage(err error) string {
	for {
		var de *domain.Error
		if !errors.As(err, &de) || de.Err == nil {
			break
		}
		err = de.Err
	}
	return err.Error()
}

// respondError writes err as {"error": message}. Server-side failures are
// logged and hidden behind a generic message.
func respondError(c *gin.Context, err error) {
	status := statusFor(domain.KindOf(err))
	if status >= http.StatusInternalServerError {
		middleware.GetLogger(c).WithError(err).Error("Request failed")
		c.JSON(status, gin.H{"error": http.StatusText(status)})
		return
	}
	c.JSON(status, gin.H{"error": publicMessage(err)})
}
