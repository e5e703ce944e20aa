package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pulsegrid/pulsegrid/internal/alerts"
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

	ctx, cancel := context.WithCancel(context.Background())

	go sched.Run(ctx)
	go alertEngine.RunEscalations(ctx, cfg.Alerts.EscalationInterval)
	go func() {
		ticker := time.NewTicker(cfg.Probes.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeSvc.SweepStale()
			}
		}
	}()

	logger.Info("Scheduler started", zap.Duration("tick", cfg.Scheduler.TickInterval))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down scheduler...")
	cancel()
	logger.Info("Scheduler stopped")
}
