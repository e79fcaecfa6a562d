package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"syscall"

	"github.com/enrichman/httpgrace"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bassista/go_courses/internal/api/middleware"
	route "github.com/bassista/go_courses/internal/api/route"
	appctx "github.com/bassista/go_courses/internal/app"
	"github.com/bassista/go_courses/internal/cache"
	"github.com/bassista/go_courses/internal/config"
	"github.com/bassista/go_courses/internal/docstore"
	"github.com/bassista/go_courses/internal/logger"
	"github.com/bassista/go_courses/internal/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithComponent("main").Fatalf("configuration error: %v", err)
	}

	if !logger.ApplyLevel(cfg.Misc.LogLevel) {
		logger.WithComponent("main").Warnf("invalid log level '%s', keeping '%s'", cfg.Misc.LogLevel, logger.Logger.GetLevel())
	}
	logger.WithComponent("main").Infof("store driver: %s, collection: %s, sync mode: %s",
		cfg.Store.Driver, cfg.Store.Collection, cfg.Sync.Mode)
	logger.WithComponent("main").Infof("App will run on port: %d", cfg.Server.Port)

	client, err := docstore.NewClientFromConfig(context.Background(), cfg.Store)
	if err != nil {
		logger.WithComponent("main").Fatalf("cannot init document store: %v", err)
	}

	var rec *metrics.Recorder
	var opts []cache.Option
	if cfg.Misc.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if rec, err = metrics.NewRecorder(reg); err != nil {
			logger.WithComponent("main").Fatalf("cannot init metrics: %v", err)
		}
		opts = append(opts, cache.WithObserver(rec))
	}

	courses, err := cache.NewCourseRepository(client, cfg.Store.Collection, opts...)
	if err != nil {
		logger.WithComponent("main").Fatalf("cannot init course repository: %v", err)
	}

	app, err := appctx.New(cfg, client, courses, rec)
	if err != nil {
		logger.WithComponent("main").Fatalf("cannot init app: %v", err)
	}
	defer app.Shutdown()

	if err := app.StartSync(); err != nil {
		app.Shutdown()
		logger.WithComponent("main").Fatalf("cannot start course sync: %v", err)
	}

	gin.SetMode(cfg.Misc.GinMode)
	gin.DefaultWriter = logger.Logger.Writer()
	gin.DefaultErrorWriter = logger.Logger.Writer()

	r := gin.New()
	r.Use(middleware.HoneybadgerMiddleware(logger.Logger, cfg.Misc.HoneybadgerAPIKey, cfg.Misc.HoneybadgerEnv))
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware(cfg.Server.CORSAllowedOrigins))
	r.Use(middleware.MetricsMiddleware(rec))
	route.SetupRoutes(r, app)

	srv := createGraceHttpServer(app.BaseCtx, "main-server", cfg.Server, r)
	if err := srv.ListenAndServe(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithComponent("main").Error(err)
	}
}

func createGraceHttpServer(ctx context.Context, name string, serverConfig config.ServerConfig, r *gin.Engine) *httpgrace.Server {
	slogLogger := slog.New(slog.NewTextHandler(logger.Logger.Writer(), nil))

	return httpgrace.NewServer(r,
		httpgrace.WithTimeout(serverConfig.ShutDownTimeout),
		httpgrace.WithSignals(syscall.SIGTERM, syscall.SIGINT),
		httpgrace.WithLogger(slogLogger),
		httpgrace.WithBeforeShutdown(func() {
			logger.WithComponent("http").Infof("Shutting down %s server....", name)
		}),
		httpgrace.WithServerOptions(
			httpgrace.WithReadTimeout(serverConfig.ReadTimeout),
			httpgrace.WithWriteTimeout(serverConfig.WriteTimeout),
			httpgrace.WithIdleTimeout(serverConfig.IdleTimeout),
			func(srv *http.Server) {
				srv.BaseContext = func(_ net.Listener) context.Context {
					return ctx
				}
			},
			func(srv *http.Server) {
				srv.ErrorLog = log.New(logger.Logger.Writer(), fmt.Sprintf("[%s] ", name), log.LstdFlags)
			},
		),
	)
}
