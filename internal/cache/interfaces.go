package cache

import "context"

// ReadOnlyStore is the minimal cache API for read-only controllers.
type ReadOnlyStore interface {
	All() []Course
	Active() []Course
	ByCode(codigo string) (Course, bool)
	State() State
}

// CourseWriter is the cache API needed by course mutation handlers.
type CourseWriter interface {
	AddCourse(ctx context.Context, data Fields) Result
	UpdateCourse(ctx context.Context, id string, patch Fields) Result
	ToggleCourse(ctx context.Context, id string, estado bool) Result
	DeleteCourse(ctx context.Context, id string) Result
}

// Refresher is what the refresh scheduler needs.
type Refresher interface {
	HasSubscription() bool
	FetchOnce(ctx context.Context) Result
}

// SyncControl drives how the mirror is kept up to date.
type SyncControl interface {
	Refresher
	InitSubscription(ctx context.Context) (*Subscription, error)
	StopSubscription()
	ClearError()
}

// CourseStore is the cache contract the application container exposes.
type CourseStore interface {
	ReadOnlyStore
	CourseWriter
	SyncControl
}

var _ CourseStore = (*CourseRepository)(nil)
