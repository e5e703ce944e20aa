package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pulsegrid/pulsegrid/internal/alerts"
	"github.com/pulsegrid/pulsegrid/internal/api"
	"github.com/pulsegrid/pulsegrid/internal/api/handlers"
	"github.com/pulsegrid/pulsegrid/internal/broadcast"
	"github.com/pulsegrid/pulsegrid/internal/config"
	"github.com/pulsegrid/pulsegrid/internal/db"
	"github.com/pulsegrid/pulsegrid/internal/incidents"
	"github.com/pulsegrid/pulsegrid/internal/metrics"
	"github.com/pulsegrid/pulsegrid/internal/probes"
	"github.com/pulsegrid/pulsegrid/internal/queue"
	"github.com/pulsegrid/pulsegrid/internal/scheduler"
	"github.com/pulsegrid/pulsegrid/internal/status"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	database, err := db.NewConnection(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()
	database.SetMaxOpenConns(cfg.Database.MaxConnections)
	database.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	if err := db.Migrate(database); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	repo := db.NewRepository(database)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	queues := make(map[string]queue.Queue)
	for _, name := range queue.QueueNames() {
		queues[name] = queue.NewRedisQueue(redisClient, name, cfg.Scheduler.LeaseWindow)
	}

	collector := metrics.NewCollector()

	publisher := broadcast.NewRedisPublisher(redisClient, logger)
	broadcaster := broadcast.NewBroadcaster(publisher, logger)
	incidentSvc := incidents.NewService(repo, broadcaster, collector, logger)
	alertEngine := alerts.NewEngine(repo, alerts.NewRouter(), collector, logger)
	engine := status.NewEngine(repo, logger, alertEngine, incidentSvc, broadcaster)

	probeSvc := probes.NewService(repo, engine, collector, logger, cfg.Probes.LeaseWindow, cfg.Probes.HeartbeatWindow)
	sched := scheduler.NewScheduler(repo, queues, probeSvc, collector, logger, cfg.Scheduler)

	handler := handlers.NewHandler(repo, probeSvc, incidentSvc, sched, engine, broadcaster, logger)
	server := api.NewServer(cfg, handler, probeSvc, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	logger.Info("API server started", zap.String("port", cfg.Server.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server exited")
}
