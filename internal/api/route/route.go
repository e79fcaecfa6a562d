package route

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bassista/go_courses/internal/app"
)

func SetupRoutes(r *gin.Engine, appCtx *app.App) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "UP",
		})
	})

	if appCtx.Metrics != nil {
		r.GET("/metrics", gin.WrapH(appCtx.Metrics.Handler()))
	}

	apiRouter := r.Group("/api")
	timeout := appCtx.Config.Server.RequestTimeout

	NewCourseRouter(timeout, apiRouter, appCtx.Courses)
	NewSyncRouter(appCtx.BaseCtx, timeout, apiRouter, appCtx.Courses)
	NewConfigurationRouter(timeout, apiRouter, appCtx.Config)
}
