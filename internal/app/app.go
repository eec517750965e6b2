// Package app wires the catalog gateway service.
package app

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/catalog-sync/internal/domain/blob"
	"github.com/xenking/catalog-sync/internal/gateway"
	"github.com/xenking/catalog-sync/internal/storage/cloudinary"
	"github.com/xenking/catalog-sync/internal/storage/localfs"
	"github.com/xenking/catalog-sync/internal/storage/memory"
	"github.com/xenking/catalog-sync/internal/storage/postgres"
	redisstore "github.com/xenking/catalog-sync/internal/storage/redis"
	"github.com/xenking/catalog-sync/pkg/health"
	"github.com/xenking/catalog-sync/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("backend", cfg.Backend),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	healthSvc := health.New(lg.Named("health"))
	healthSvc.AddLiveness("goroutines", time.Second, health.GoroutineCountCheck(100_000))

	backends, cleanup, err := openBackends(ctx, g, lg, cfg, healthSvc)
	if err != nil {
		return err
	}
	defer cleanup()

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)

	blobs, err := openBlobs(cfg.Blobs, lg, mux)
	if err != nil {
		return err
	}
	backends.Blobs = blobs

	origins := httpmiddleware.NewOriginPolicy(cfg.Origins)
	gw, err := gateway.New(backends, gateway.Options{
		Locale:          cfg.AppLocale(),
		DefaultPhotoURL: cfg.DefaultPhotoURL,
		CheckOrigin:     origins.CheckOrigin,
		ReadLimit:       cfg.Gateway.ReadLimit,
		WriteTimeout:    cfg.Gateway.WriteTimeout,
		PingInterval:    cfg.Gateway.PingInterval,
		MeterProvider:   m.MeterProvider(),
		TracerProvider:  m.TracerProvider(),
	}, lg.Named("gateway"))
	if err != nil {
		return errors.Wrap(err, "create gateway")
	}
	mux.Handle("/ws", gw)

	limiter := httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
		Match:  httpmiddleware.UpgradesOnly,
	})

	// No read or write timeouts: upgraded connections live as long as the
	// device stays connected and are kept alive with pings.
	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(origins),
			limiter.Middleware(),
			httpmiddleware.Instrument("catalog-sync", m),
			httpmiddleware.LogRequests(),
		),
	}

	g.Go(func() error { return limiter.Run(ctx) })
	g.Go(func() error { return healthSvc.Run(ctx, 10*time.Second) })
	g.Go(func() error {
		// Graceful shutdown: wait for cancellation, drain, then stop.
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	healthSvc.SetReady(true)
	return g.Wait()
}

// openBackends connects the auth provider and realtime store selected by
// cfg. Change feeds are started on g.
func openBackends(ctx context.Context, g *errgroup.Group, lg *zap.Logger, cfg *Config, h *health.Health) (gateway.Backends, func(), error) {
	var (
		backends gateway.Backends
		closers  []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Backend == BackendMemory {
		lg.Warn("Using in-memory backend, data is lost on restart")
		auth := memory.NewAuthenticator(cfg.Password.Params(), cfg.Session.TTL)
		g.Go(func() error { return auth.Watch(ctx, cfg.Session.CheckInterval) })
		backends.Auth = auth
		backends.Store = memory.NewRealtimeStore()
		return backends, cleanup, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return backends, cleanup, errors.Wrap(err, "create db pool")
	}
	closers = append(closers, pool.Close)
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		cleanup()
		return backends, nil, errors.Wrap(err, "run migrations")
	}
	h.AddReadiness("postgres", 5*time.Second, health.PingCheck(pool))
	auth := postgres.NewAuthenticator(pool, cfg.Password.Params(), cfg.Session.TTL, lg.Named("auth"))
	g.Go(func() error { return auth.Watch(ctx, cfg.Session.CheckInterval) })
	backends.Auth = auth

	switch cfg.Backend {
	case BackendRedis:
		rdb, err := redisstore.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			cleanup()
			return backends, nil, errors.Wrap(err, "connect to redis")
		}
		closers = append(closers, func() { _ = rdb.Close() })
		store := redisstore.NewRealtimeStore(rdb, cfg.RedisPrefix, lg.Named("realtime"))
		closers = append(closers, store.Close)
		h.AddReadiness("redis", 3*time.Second, health.PingCheck(store))
		g.Go(func() error { return store.Listen(ctx) })
		backends.Store = store
	default:
		store := postgres.NewRealtimeStore(pool, lg.Named("realtime"))
		closers = append(closers, store.Close)
		g.Go(func() error { return store.Listen(ctx) })
		backends.Store = store
	}
	return backends, cleanup, nil
}

// openBlobs returns the Cloudinary store when configured. Otherwise blobs
// are kept on disk and served from mux under the base URL path.
func openBlobs(cfg BlobConfig, lg *zap.Logger, mux *http.ServeMux) (blob.Store, error) {
	if cfg.Cloudinary.Enabled() {
		lg.Info("Storing images on Cloudinary", zap.String("cloud", cfg.Cloudinary.CloudName))
		s, err := cloudinary.NewBlobStore(cfg.Cloudinary, lg.Named("blobs"))
		if err != nil {
			return nil, errors.Wrap(err, "create cloudinary store")
		}
		return s, nil
	}

	s, err := localfs.NewBlobStore(cfg.Dir, cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create local blob store")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse blob base url")
	}
	prefix := strings.TrimRight(u.Path, "/") + "/"
	if prefix == "/" {
		return nil, errors.Errorf("blob base url %q has no path to serve blobs from", cfg.BaseURL)
	}
	mux.Handle(prefix, http.StripPrefix(prefix, http.FileServer(http.Dir(s.Root()))))
	lg.Info("Storing images on disk", zap.String("dir", s.Root()), zap.String("path", prefix))
	return s, nil
}
