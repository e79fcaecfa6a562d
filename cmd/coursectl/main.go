// Command coursectl inspects and edits the course collection directly through the
// configured document store, using the same cache the server runs.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bassista/go_courses/internal/cache"
	"github.com/bassista/go_courses/internal/config"
	"github.com/bassista/go_courses/internal/docstore"
	"github.com/bassista/go_courses/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(os.Stdout, openFromConfig)
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// openFromConfig loads the server configuration from configDir and opens the
// configured store.
func openFromConfig(ctx context.Context, configDir string, opts ...cache.Option) (*cache.CourseRepository, func(), error) {
	var paths []string
	if configDir != "" {
		paths = append(paths, configDir)
	}
	cfg, err := config.LoadConfig(paths...)
	if err != nil {
		return nil, nil, err
	}
	logger.ApplyLevel(cfg.Misc.LogLevel)

	client, err := docstore.NewClientFromConfig(ctx, cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	repo, err := cache.NewCourseRepository(client, cfg.Store.Collection, opts...)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	closeFn := func() {
		repo.StopSubscription()
		if err := client.Close(); err != nil {
			logger.WithComponent("coursectl").Warnf("error closing store: %v", err)
		}
	}
	return repo, closeFn, nil
}
