// Command modelcached runs the model result cache daemon: the management
// API plus the background maintenance loops.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/meshforge/modelcache/pkg/cache"
	"github.com/meshforge/modelcache/pkg/cache/api"
	"github.com/meshforge/modelcache/pkg/cache/similarity"
	"github.com/meshforge/modelcache/pkg/observability"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	logger := observability.NewLogger("modelcached")

	cfg, err := cache.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("Config load failed", map[string]interface{}{"error": err.Error()})
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Daemon exited with error", map[string]interface{}{"error": err.Error()})
	}
}

func run(cfg cache.Config, logger observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()

	engine, err := similarity.NewEngine(cfg.Similarity)
	if err != nil {
		return err
	}

	metricsClient := observability.NewPrometheusMetricsClient(prometheus.DefaultRegisterer, "modelcache")
	defer metricsClient.Close()
	store := cache.NewResilientStore(cache.NewSQLStore(db), logger.WithPrefix("store"), metricsClient)
	artifacts := cache.NewDiskArtifactStore(cfg.ArtifactRoot)

	tracker := cache.NewAccessTracker(store, cfg.TrackerFlushInterval, cfg.TrackerBatchSize, logger.WithPrefix("tracker"), metricsClient)
	tracker.Start(ctx)

	index := cache.NewIndex(store, artifacts, engine, tracker, cfg.CandidateLimit, logger.WithPrefix("index"))
	policy := cache.NewEvictionPolicy(store, artifacts, cfg, logger.WithPrefix("eviction"))
	index.SetCleaner(policy)

	history := cache.NewRedisHistory(redisClient)
	collector := cache.NewCollector(store, history, cfg, logger.WithPrefix("metrics"))
	index.SetRecorder(collector)

	warmer := cache.NewWarmupEngine(store, artifacts, engine, tracker, cfg, logger.WithPrefix("warmup"))
	health := cache.NewHealthMonitor(store, policy, collector, logger.WithPrefix("health"))

	scheduler := cache.NewScheduler(policy, warmer, collector, cfg, logger.WithPrefix("scheduler"))
	scheduler.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	api.NewHandler(index, policy, warmer, collector, health, logger.WithPrefix("api")).Register(router)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Management API listening", map[string]interface{}{"addr": cfg.ListenAddr})
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	scheduler.Stop()
	if err := tracker.Stop(shutdownCtx); err != nil {
		logger.Error("Tracker drain failed", map[string]interface{}{"error": err.Error()})
	}
	cancel()

	logger.Info("Shutdown complete", nil)
	return nil
}
