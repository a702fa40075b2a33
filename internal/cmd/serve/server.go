package serve

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chirino/vaulthalla/internal/cliserver"
	"github.com/chirino/vaulthalla/internal/config"
	"github.com/chirino/vaulthalla/internal/dispatch"
	"github.com/chirino/vaulthalla/internal/janitor"
	"github.com/chirino/vaulthalla/internal/lifecycle"
	"github.com/chirino/vaulthalla/internal/metrics"
	"github.com/chirino/vaulthalla/internal/runtime"
	"github.com/chirino/vaulthalla/internal/sync"
	"github.com/chirino/vaulthalla/internal/waiver"
)

// StartServer wires a Runtime together with every background service and
// external surface the daemon exposes, and returns a function that shuts
// all of it down in reverse order. Mirrors the reference daemon's
// StartServer in shape (gin router, metrics, background workers, graceful
// shutdown) but wires vaulthalla's components instead of memory-service's.
func StartServer(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	metrics.Init(prometheus.Labels{"service": "vaulthalla"})

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("building runtime: %w", err)
	}

	sweeper := lifecycle.New(rt.Sessions, rt.Tokens, rt.Store, lifecycle.LogNotifier{},
		cfg.LifecycleSweepInterval, cfg.UnauthSessionTimeout, cfg.IdleSessionTimeout)

	syncCtl := sync.New(rt.Store, rt, cfg.SyncDefaultInterval, cfg.SyncWorkerPoolSize)

	trashJanitor := janitor.New(rt.Store, rt, cfg.JanitorSweepInterval, cfg.TrashRetention, 100, 0)

	waivers := waiver.New(rt.Store, rt)

	dispatcher := dispatch.New(rt.Store, rt.Sessions, rt.Tokens, rt.Auth, rt, syncCtl, waivers)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(accessLogMiddleware())
	router.Use(corsMiddleware(cfg.CORSOrigins))
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	dispatcher.Mount(router)

	dispatchListener, err := startMuxedServer(cfg.Listener, router)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("starting dispatch listener: %w", err)
	}
	log.Info("dispatch endpoint listening", "addr", dispatchListener.Addr)

	managementAddr, closeManagement, err := startManagementServer(cfg.ManagementListener)
	if err != nil {
		_ = dispatchListener.Close(ctx)
		_ = rt.Close()
		return nil, fmt.Errorf("starting management listener: %w", err)
	}
	log.Info("management endpoint listening", "addr", managementAddr)

	admin := cliserver.New(cfg.AdminSocketPath, cfg.AdminSocketGroup, rt.Store, syncCtl)
	if err := admin.Start(ctx); err != nil {
		_ = closeManagement(ctx)
		_ = dispatchListener.Close(ctx)
		_ = rt.Close()
		return nil, fmt.Errorf("starting admin socket: %w", err)
	}
	log.Info("admin socket listening", "path", cfg.AdminSocketPath)

	bgCtx, cancelBackground := context.WithCancel(ctx)
	go syncCtl.Run(bgCtx)
	go sweeper.Run(bgCtx)
	go trashJanitor.Run(bgCtx)

	markReady()

	return func(shutdownCtx context.Context) error {
		cancelBackground()
		admin.Stop()

		var firstErr error
		recordErr := func(err error) {
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		recordErr(closeManagement(shutdownCtx))
		recordErr(dispatchListener.Close(shutdownCtx))
		recordErr(rt.Close())
		return firstErr
	}, nil
}
