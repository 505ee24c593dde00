package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AutoFlowLabs/ios-bridge/internal/apperr"
)

// statusFor maps an error kind to a REST status code (spec.md §7).
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindConfiguration, apperr.KindProtocol:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindBadState:
		return http.StatusConflict
	case apperr.KindRateLimited, apperr.KindCapExceeded:
		return http.StatusTooManyRequests
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error body with the status its kind maps to.
func fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	c.JSON(statusFor(kind), gin.H{"error": err.Error(), "kind": string(kind)})
}
