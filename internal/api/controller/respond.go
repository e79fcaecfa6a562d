package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/containerd/errdefs"
	"github.com/gin-gonic/gin"

	"github.com/bassista/go_courses/internal/cache"
)

// statusFor maps a failed result to an HTTP status using the error class of its cause.
// Unclassified store failures are reported as 502 since the cache only relays them.
func statusFor(res cache.Result) int {
	switch {
	case res.Success:
		return http.StatusOK
	case errdefs.IsInvalidArgument(res.Cause):
		return http.StatusBadRequest
	case errdefs.IsNotFound(res.Cause):
		return http.StatusNotFound
	case errdefs.IsUnavailable(res.Cause):
		return http.StatusServiceUnavailable
	case errors.Is(res.Cause, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func respondResult(c *gin.Context, okStatus int, res cache.Result) {
	if res.Success {
		c.JSON(okStatus, res)
		return
	}
	c.JSON(statusFor(res), res)
}

func invalid(msg string) cache.Result {
	return cache.Result{Error: msg, Cause: errdefs.ErrInvalidArgument}
}

func failed(err error) cache.Result {
	return cache.Result{Error: err.Error(), Cause: err}
}
