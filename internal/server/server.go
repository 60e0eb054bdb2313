package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/strefethen/tunegate/internal/api"
	"github.com/strefethen/tunegate/internal/audit"
	"github.com/strefethen/tunegate/internal/auth"
	"github.com/strefethen/tunegate/internal/config"
	"github.com/strefethen/tunegate/internal/db"
	"github.com/strefethen/tunegate/internal/media"
	"github.com/strefethen/tunegate/internal/metrics"
	"github.com/strefethen/tunegate/internal/openapi"
	"github.com/strefethen/tunegate/internal/system"
	"github.com/strefethen/tunegate/internal/youtube"
)

// requestLoggerMiddleware logs all incoming HTTP requests.
// The chi wrapper keeps http.Hijacker available for websocket upgrades.
func requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)

		status := wrapped.Status()
		if status == 0 {
			status = http.StatusOK
		}
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, status, time.Since(start).Round(time.Millisecond))
	})
}

// Options controls server wiring.
type Options struct {
	// Media replaces the yt-dlp backend (for tests).
	Media media.Service
	// DisablePruneJob skips the audit retention job (for tests).
	DisablePruneJob bool
}

// NewHandler builds the HTTP handler and returns a shutdown function.
func NewHandler(cfg config.Config, options Options) (http.Handler, func(context.Context) error, error) {
	log.Printf("Using database: %s", cfg.SQLiteDBPath)
	dbPair, err := db.Init(cfg.SQLiteDBPath)
	if err != nil {
		return nil, nil, err
	}

	mediaService := options.Media
	if mediaService == nil {
		ytdlpService, err := media.NewYtdlpService(cfg, nil)
		if err != nil {
			dbPair.Close()
			return nil, nil, err
		}
		mediaService = ytdlpService
	}

	var serviceMetrics *metrics.Metrics
	if cfg.MetricsEnabled {
		serviceMetrics = metrics.New()
		mediaService = metrics.InstrumentMedia(mediaService, serviceMetrics)
	}

	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(requestLoggerMiddleware)
	router.Use(api.RequestIDMiddleware)
	router.Use(api.RecovererMiddleware)
	if serviceMetrics != nil {
		router.Use(serviceMetrics.Middleware)
	}
	router.Use(auth.Middleware(cfg))

	// Create audit service
	auditService := audit.NewService(cfg, dbPair, nil)
	if serviceMetrics != nil {
		auditService.OnDrop(serviceMetrics.AuditDropped)
	}
	auditService.Start()
	if !options.DisablePruneJob {
		if err := auditService.StartPruneJob(); err != nil {
			auditService.Stop()
			dbPair.Close()
			return nil, nil, err
		}
	}
	audit.RegisterRoutes(router, auditService)

	systemService := system.NewService(cfg, dbPair, nil, auditService)
	system.RegisterRoutes(router, systemService)
	openapi.RegisterRoutes(router)

	pairingStore := auth.NewPairingStore(5 * time.Minute)
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	pairingStore.StartCleanup(shutdownCtx, time.Minute)
	auth.RegisterRoutes(router, pairingStore, cfg, auditService)

	youtube.RegisterRoutes(router, mediaService, auditService, youtube.Options{
		TrustedProxies: cfg.TrustedProxies,
		SplitErrors:    cfg.MediaSplitErrors,
	})

	if serviceMetrics != nil {
		router.Handle("/metrics", serviceMetrics.Handler())
	}

	shutdown := func(ctx context.Context) error {
		if ctx == nil {
			ctx = context.Background()
		}
		shutdownCancel()
		auditService.StopPruneJob()

		// Drain accepted audit entries before the database goes away.
		drained := make(chan struct{})
		go func() {
			auditService.Stop()
			close(drained)
		}()
		select {
		case <-drained:
		case <-ctx.Done():
			log.Printf("Audit queue not drained before shutdown deadline (dropped so far: %d)", auditService.Dropped())
			return fmt.Errorf("audit drain: %w", ctx.Err())
		}

		return dbPair.Close()
	}

	return router, shutdown, nil
}
