package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bassista/go_courses/internal/cache"
	"github.com/bassista/go_courses/internal/config"
	"github.com/bassista/go_courses/internal/docstore"
	"github.com/bassista/go_courses/internal/logger"
	"github.com/bassista/go_courses/internal/metrics"
)

// App is the application container (immutable dependencies + lifecycle context).
// It is not a request context; handlers should still use gin's request context,
// except for the subscription which must outlive the request that opened it.
type App struct {
	Config  *config.Config
	Client  docstore.Client
	Courses cache.CourseStore
	// Metrics is nil when metrics are disabled.
	Metrics *metrics.Recorder

	BaseCtx context.Context
	Cancel  context.CancelFunc

	refreshDone  <-chan struct{}
	shutdownOnce sync.Once
}

func New(cfg *config.Config, client docstore.Client, courses cache.CourseStore, rec *metrics.Recorder) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if client == nil {
		return nil, errors.New("document store client is nil")
	}
	if courses == nil {
		return nil, errors.New("course store is nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		Config:  cfg,
		Client:  client,
		Courses: courses,
		Metrics: rec,
		BaseCtx: ctx,
		Cancel:  cancel,
	}, nil
}

// StartSync populates the course mirror according to sync.mode and starts the
// periodic refresh when an interval is configured.
func (a *App) StartSync() error {
	switch a.Config.Sync.Mode {
	case config.SyncModeFetch:
		if res := a.Courses.FetchOnce(a.BaseCtx); !res.Success {
			return fmt.Errorf("initial fetch failed: %s", res.Error)
		}
		logger.WithComponent("app").Info("courses loaded with a one-shot fetch")
	default:
		if _, err := a.Courses.InitSubscription(a.BaseCtx); err != nil {
			return fmt.Errorf("cannot open course subscription: %w", err)
		}
	}

	a.refreshDone = cache.StartRefreshScheduler(a.BaseCtx, a.Courses, a.Config.Sync.RefreshInterval)
	return nil
}

// Shutdown stops the subscription and the refresh scheduler, then closes the
// store client. It is safe to call more than once.
func (a *App) Shutdown() {
	if a == nil || a.Cancel == nil {
		return
	}
	a.shutdownOnce.Do(func() {
		a.Courses.StopSubscription()
		a.Cancel()
		if a.refreshDone != nil {
			<-a.refreshDone
		}
		if err := a.Client.Close(); err != nil {
			logger.WithComponent("app").Warnf("error closing document store: %v", err)
		}
		logger.WithComponent("app").Info("application stopped")
	})
}
