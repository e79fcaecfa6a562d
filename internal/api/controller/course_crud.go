package controller

import (
	"context"

	"github.com/bassista/go_courses/internal/cache"
)

// CourseCrudService implements CrudService for courses.
type CourseCrudService struct {
	Store courseStore
}

func (s *CourseCrudService) All() []cache.Course {
	return s.Store.All()
}

func (s *CourseCrudService) Add(ctx context.Context, item cache.Course) cache.Result {
	return s.Store.AddCourse(ctx, cache.Fields(item))
}

func (s *CourseCrudService) Remove(ctx context.Context, id string) cache.Result {
	return s.Store.DeleteCourse(ctx, id)
}
