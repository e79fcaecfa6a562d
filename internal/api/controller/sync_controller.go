package controller

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bassista/go_courses/internal/cache"
	"github.com/bassista/go_courses/internal/logger"
)

type syncStore interface {
	cache.SyncControl
	State() cache.State
}

// SyncController exposes the mirror state and its synchronization controls.
type SyncController struct {
	// ctx bounds the subscription; it must outlive the request that opens it.
	ctx   context.Context
	store syncStore
}

func NewSyncController(ctx context.Context, store syncStore) *SyncController {
	return &SyncController{ctx: ctx, store: store}
}

// State handles GET /courses/state.
func (sc *SyncController) State(c *gin.Context) {
	c.JSON(http.StatusOK, sc.store.State())
}

// Fetch handles POST /courses/fetch.
func (sc *SyncController) Fetch(c *gin.Context) {
	respondResult(c, http.StatusOK, sc.store.FetchOnce(c.Request.Context()))
}

// Subscribe handles POST /courses/subscription.
func (sc *SyncController) Subscribe(c *gin.Context) {
	if _, err := sc.store.InitSubscription(sc.ctx); err != nil {
		logger.WithComponent("sync-controller").Errorf("cannot open subscription: %v", err)
		respondResult(c, http.StatusOK, failed(err))
		return
	}
	respondResult(c, http.StatusOK, cache.Result{Success: true})
}

// Unsubscribe handles DELETE /courses/subscription.
func (sc *SyncController) Unsubscribe(c *gin.Context) {
	sc.store.StopSubscription()
	respondResult(c, http.StatusOK, cache.Result{Success: true})
}

// ClearError handles DELETE /courses/error.
func (sc *SyncController) ClearError(c *gin.Context) {
	sc.store.ClearError()
	respondResult(c, http.StatusOK, cache.Result{Success: true})
}
