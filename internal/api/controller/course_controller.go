package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/bassista/go_courses/internal/cache"
	"github.com/bassista/go_courses/internal/logger"
)

func init() {
	// course payloads are opaque; integers must reach the store as sent
	binding.EnableDecoderUseNumber = true
}

type courseStore interface {
	cache.ReadOnlyStore
	cache.CourseWriter
}

// CourseController handles course endpoints. List, create and delete go through
// the generic CRUD controller.
type CourseController struct {
	crud  *CrudController[cache.Course]
	store courseStore
}

func NewCourseController(store courseStore) *CourseController {
	return &CourseController{
		crud: &CrudController[cache.Course]{
			Service:   &CourseCrudService{Store: store},
			BindError: cache.MsgInvalidCourseData,
		},
		store: store,
	}
}

// RegisterRoutes registers every course endpoint on rg.
func (cc *CourseController) RegisterRoutes(rg *gin.RouterGroup) {
	cc.crud.RegisterCrudRoutes(rg, "course")
	rg.GET("/courses/active", cc.ActiveCourses)
	rg.GET("/course/code/:codigo", cc.CourseByCode)
	rg.PATCH("/course/:id", cc.UpdateCourse)
	rg.POST("/course/:id/toggle", cc.ToggleCourse)
}

// ActiveCourses handles GET /courses/active.
func (cc *CourseController) ActiveCourses(c *gin.Context) {
	c.JSON(http.StatusOK, cc.store.Active())
}

// CourseByCode handles GET /course/code/:codigo.
func (cc *CourseController) CourseByCode(c *gin.Context) {
	codigo := c.Param("codigo")
	course, ok := cc.store.ByCode(codigo)
	if !ok {
		logger.WithComponent("course-controller").Debugf("course with codigo %s not found", codigo)
		c.JSON(http.StatusNotFound, gin.H{"error": "course not found"})
		return
	}
	c.JSON(http.StatusOK, course)
}

// UpdateCourse handles PATCH /course/:id with a partial JSON object.
func (cc *CourseController) UpdateCourse(c *gin.Context) {
	id := c.Param("id")
	logger.WithComponent("course-controller").Debugf("PATCH /course/%s handler called", id)

	var patch cache.Fields
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondResult(c, http.StatusOK, invalid(cache.MsgInvalidPayload))
		return
	}
	respondResult(c, http.StatusOK, cc.store.UpdateCourse(c.Request.Context(), id, patch))
}

type toggleRequest struct {
	Estado any `json:"estado"`
}

// ToggleCourse handles POST /course/:id/toggle. Any JSON value is accepted for
// estado and coerced with JavaScript truthiness.
func (cc *CourseController) ToggleCourse(c *gin.Context) {
	id := c.Param("id")
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondResult(c, http.StatusOK, invalid(cache.MsgInvalidPayload))
		return
	}
	respondResult(c, http.StatusOK, cc.store.ToggleCourse(c.Request.Context(), id, cache.Truthy(req.Estado)))
}
