package route

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bassista/go_courses/internal/api/controller"
	"github.com/bassista/go_courses/internal/api/middleware"
	"github.com/bassista/go_courses/internal/cache"
)

// NewSyncRouter sets up the routes controlling how the course mirror is kept up to
// date. ctx bounds subscriptions opened through the API.
func NewSyncRouter(ctx context.Context, timeout time.Duration, group *gin.RouterGroup, store cache.CourseStore) {
	sc := controller.NewSyncController(ctx, store)
	g := group.Group("/courses", middleware.RequestTimeout(timeout))

	g.GET("state", sc.State)
	g.POST("fetch", sc.Fetch)
	g.POST("subscription", sc.Subscribe)
	g.DELETE("subscription", sc.Unsubscribe)
	g.DELETE("error", sc.ClearError)
}
