package controller

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bassista/go_courses/internal/cache"
)

// CrudService defines the minimal interface required for CRUD operations.
type CrudService[T any] interface {
	All() []T
	Add(ctx context.Context, item T) cache.Result
	Remove(ctx context.Context, id string) cache.Result
}

// CrudController provides generic CRUD handlers for resources backed by the cache.
type CrudController[T any] struct {
	Service CrudService[T]
	// BindError is the result message for a body that is not valid JSON for T.
	BindError string
}

// RegisterCrudRoutes registers CRUD endpoints for a resource on the given router group.
func (cc *CrudController[T]) RegisterCrudRoutes(rg *gin.RouterGroup, resource string) {
	rg.GET("/"+resource+"s", cc.GetAll)
	rg.POST("/"+resource, cc.Create)
	rg.DELETE("/"+resource+"/:id", cc.Delete)
}

// GetAll handles GET requests to list all resources.
func (cc *CrudController[T]) GetAll(c *gin.Context) {
	c.JSON(http.StatusOK, cc.Service.All())
}

// Create handles POST requests to create a resource.
func (cc *CrudController[T]) Create(c *gin.Context) {
	var item T
	if err := c.ShouldBindJSON(&item); err != nil {
		msg := cc.BindError
		if msg == "" {
			msg = "invalid payload"
		}
		respondResult(c, http.StatusCreated, invalid(msg))
		return
	}
	respondResult(c, http.StatusCreated, cc.Service.Add(c.Request.Context(), item))
}

// Delete handles DELETE requests to remove a resource by id.
func (cc *CrudController[T]) Delete(c *gin.Context) {
	respondResult(c, http.StatusOK, cc.Service.Remove(c.Request.Context(), c.Param("id")))
}
