package route

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bassista/go_courses/internal/api/controller"
	"github.com/bassista/go_courses/internal/api/middleware"
	"github.com/bassista/go_courses/internal/cache"
)

// NewCourseRouter sets up course read and mutation routes.
func NewCourseRouter(timeout time.Duration, group *gin.RouterGroup, store cache.CourseStore) {
	cc := controller.NewCourseController(store)
	cc.RegisterRoutes(group.Group("", middleware.RequestTimeout(timeout)))
}
