package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"listingsync/internal/cache"
	"listingsync/internal/config"
	"listingsync/internal/feed"
	"listingsync/internal/handler"
	"listingsync/internal/identity"
	"listingsync/internal/metrics"
	"listingsync/internal/middleware"
	"listingsync/internal/repository"
	"listingsync/internal/router"
	"listingsync/internal/service"
	"listingsync/internal/snapshot"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting listingsync...")

	// Load configuration
	cfg := config.MustLoad()
	log.Printf("Environment: %s", cfg.App.Environment)
	if cfg.App.AdminKey == "" && cfg.App.IsProduction() {
		log.Println("Warning: ADMIN_KEY is not set, admin API is disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Listing store
	repo, err := openStore(cfg.Store)
	if err != nil {
		log.Fatalf("Failed to initialize %s store: %v", cfg.Store.Type, err)
	}
	defer repo.Close()

	// Identity resolution
	memoStore, closeCache := openCache(cfg.Cache)
	defer closeCache()

	resolver, closeResolver, err := openResolver(cfg.Identity)
	if err != nil {
		log.Fatalf("Failed to initialize %s identity resolver: %v", cfg.Identity.Type, err)
	}
	defer closeResolver()
	memo := identity.NewMemo(resolver, memoStore)

	// Services
	listings := service.NewListingService(repo, memo, m)
	reconciler := service.NewReconciler(repo, memo, m)
	ingestor := service.NewIngestor(service.IngestorConfig{
		AppID:     cfg.Feed.AppID,
		LogEvents: cfg.Feed.LogEvents,
	}, listings, reconciler, m)

	dialer := feed.NewWSDialer(feed.WSDialerConfig{
		URL:              cfg.Feed.URL,
		HandshakeTimeout: cfg.Feed.HandshakeTimeout,
		PingInterval:     cfg.Feed.PingInterval,
		PongTimeout:      cfg.Feed.PongTimeout,
	})
	loop := feed.NewLoop(dialer, ingestor, feed.LoopConfig{
		MaxInFlight:    cfg.Feed.MaxInFlight,
		HandlerTimeout: cfg.Feed.HandlerTimeout,
		RedialDelay:    cfg.Feed.RedialDelay,
	}, m)

	sweeper := service.NewEvictionSweeper(repo, service.EvictionConfig{
		Horizon:      cfg.Eviction.Horizon,
		Interval:     cfg.Eviction.Interval,
		StartupDelay: cfg.Eviction.StartupDelay,
		Timeout:      service.DefaultEvictionConfig().Timeout,
	}, m)

	var refresher *service.SnapshotRefresher
	if cfg.Snapshot.Enabled {
		priority, err := cfg.Snapshot.PriorityItems()
		if err != nil {
			log.Fatalf("Failed to load priority items: %v", err)
		}
		client := snapshot.NewClient(snapshot.Config{
			BaseURL: cfg.Snapshot.BaseURL,
			Token:   cfg.Snapshot.Token,
			Timeout: cfg.Snapshot.Timeout,
		})
		refresher = service.NewSnapshotRefresher(repo, client, service.SnapshotConfig{
			AppID:             cfg.Feed.AppID,
			BatchSize:         cfg.Snapshot.BatchSize,
			PriorityBatchSize: cfg.Snapshot.PriorityBatchSize,
			RequestDelay:      cfg.Snapshot.RequestDelay,
			RateLimitBackoff:  cfg.Snapshot.RateLimitBackoff,
			IdleDelay:         cfg.Snapshot.IdleDelay,
			ReloadInterval:    cfg.Snapshot.ReloadInterval,
			Priority:          priority,
		}, m)
	}

	// Background tasks
	sup := service.NewSupervisor(cfg.App.TaskRestartDelay, m)
	sup.Go(ctx, service.Task{Name: "feed", Run: loop.Run})
	sup.Go(ctx, service.Task{Name: "eviction", Run: sweeper.Run})
	if refresher != nil {
		sup.Go(ctx, service.Task{Name: "snapshot", Run: refresher.Run})
	}

	// Initialize handlers
	healthHandler := handler.New(cfg.App.Name, cfg.App.Version,
		handler.ReadyCheck{Name: "feed", Check: func(context.Context) error {
			if state := loop.State(); state != feed.Connected {
				return fmt.Errorf("feed is %s", state)
			}
			return nil
		}},
		handler.ReadyCheck{Name: "store", Check: func(ctx context.Context) error {
			_, err := repo.GetStats(ctx)
			return err
		}},
	)

	sections := map[string]func(context.Context) interface{}{
		"feed":     func(context.Context) interface{} { return loop.Stats() },
		"ingestor": func(context.Context) interface{} { return ingestor.Stats() },
		"eviction": func(context.Context) interface{} { return sweeper.Stats() },
		"tasks":    func(context.Context) interface{} { return sup.Status() },
		"identity": func(ctx context.Context) interface{} {
			return map[string]interface{}{"type": cfg.Identity.Type, "memoized": memo.Len(ctx)}
		},
	}
	adminCfg := handler.AdminConfig{
		Store:     repo,
		StoreType: cfg.Store.Type,
		Evictor:   sweeper,
		Sections:  sections,
	}
	if refresher != nil {
		sections["snapshot"] = func(context.Context) interface{} { return refresher.Stats() }
		adminCfg.Refresh = func(ctx context.Context) (interface{}, error) {
			res, err := refresher.RunOnce(ctx)
			return res, err
		}
	}

	r := router.New(router.Config{
		Handler:      healthHandler,
		ItemHandler:  handler.NewItemHandler(listings),
		AdminHandler: handler.NewAdminHandler(adminCfg),
		AdminAuth:    middleware.NewAdminAuth(cfg.App.AdminKey),
		Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on %s", cfg.Server.Address())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Tasks observe ctx; the feed loop waits for in-flight frames before returning.
	done := make(chan struct{})
	go func() {
		sup.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Println("Timed out waiting for background tasks")
	}

	log.Println("Stopped")
	fmt.Println("Goodbye!")
}

func openStore(cfg config.StoreConfig) (repository.ListingRepository, error) {
	switch cfg.Type {
	case "mongodb", "mongo":
		return repository.NewMongoListingRepository(cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
	case "postgres", "postgresql":
		return repository.NewPostgresListingRepository(cfg.PostgresDSN())
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, err
		}
		return repository.NewSQLiteListingRepository(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// openCache falls back to memory when Redis is unreachable; the memo is
// a lookup accelerator and the service runs without it.
func openCache(cfg config.CacheConfig) (cache.Cache, func()) {
	if cfg.Type != "redis" {
		log.Println("Identity memo: in-memory")
		return cache.NewMemoryCache(), func() {}
	}

	rc, err := cache.NewRedisCache(cache.RedisConfig{
		Addr:      cfg.RedisAddress(),
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		KeyPrefix: cfg.RedisKeyPrefix,
	})
	if err != nil {
		log.Printf("Warning: Redis connection failed, using in-memory memo: %v", err)
		return cache.NewMemoryCache(), func() {}
	}
	return rc, func() { rc.Close() }
}

func openResolver(cfg config.IdentityConfig) (identity.Resolver, func(), error) {
	switch cfg.Type {
	case "http":
		log.Printf("Identity resolver: %s", cfg.BaseURL)
		return identity.NewHTTPResolver(cfg.BaseURL, cfg.Timeout), func() {}, nil
	case "mysql":
		r, err := identity.NewMySQLResolver(cfg.DSN())
		if err != nil {
			return nil, nil, err
		}
		log.Println("Identity resolver: MySQL catalog")
		return r, func() { r.Close() }, nil
	case "passthrough", "":
		return identity.Passthrough{}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown identity type %q", cfg.Type)
	}
}
