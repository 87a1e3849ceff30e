package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"ops-gateway/internal/alerts"
	"ops-gateway/internal/api"
	"ops-gateway/internal/auth"
	"ops-gateway/internal/broadcast"
	"ops-gateway/internal/config"
	"ops-gateway/internal/db"
	"ops-gateway/internal/dispatch"
	"ops-gateway/internal/executors"
	"ops-gateway/internal/health"
	"ops-gateway/internal/logging"
	"ops-gateway/internal/models"
	"ops-gateway/internal/proxy"
	"ops-gateway/internal/ratelimit"
	"ops-gateway/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Config load failed:", err)
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		log.Fatal("Logger init failed:", err)
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence is optional; without DB_DSN the gateway runs in-memory.
	var dbConn *db.DB
	if cfg.DB.DSN != "" {
		dbConn, err = db.New(cfg.DB.DSN)
		if err != nil {
			log.Fatal("DB connect failed:", err)
		}
		defer dbConn.Close()
	}

	hub := broadcast.NewHub(logger)

	registry := executors.NewRegistry()
	executors.RegisterDefaults(registry, cfg)

	storeOpts := []store.Option{
		store.WithDefaults(cfg.Dispatch.DefaultTimeout, cfg.Dispatch.MaxRetries),
		store.WithChangeFunc(func(event string, task *models.Task) {
			hub.Publish("tasks", event, task)
		}),
	}
	if dbConn != nil {
		storeOpts = append(storeOpts, store.WithRecorder(dbConn))
	}
	st := store.New(registry, logger, storeOpts...)

	dispatcher := dispatch.New(st, registry, logger, cfg.Dispatch.QueueSize, cfg.Dispatch.MaxWorkers)
	var wg sync.WaitGroup
	dispatcher.Start(&wg)

	poller := health.New(cfg.Services, cfg.Health.ProbePath, cfg.Health.Interval, cfg.Health.ProbeTimeout, hub, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Run(rootCtx)
	}()

	proxyRouter, err := proxy.New(cfg.Services, logger)
	if err != nil {
		log.Fatal("Proxy setup failed:", err)
	}

	alertLog := alerts.NewLog(200)
	var consumer *alerts.Consumer
	if cfg.Kafka.Broker != "" {
		opts := []alerts.Option{
			alerts.WithCriticalHandler(func(alert models.Alert) {
				task, err := st.Enqueue(store.EnqueueRequest{
					Type:     models.TaskRemediate,
					Priority: models.PriorityCritical,
					Payload: map[string]any{
						"service": alert.Service,
						"reason":  alert.Message,
					},
				})
				if err != nil {
					logger.Errorf("Escalate alert %s failed: %v", alert.ID, err)
					return
				}
				dispatcher.DispatchNow(task)
			}),
		}
		if dbConn != nil {
			opts = append(opts, alerts.WithSink(dbConn))
		}
		if notifier := alerts.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.RatePerSecond, logger); notifier != nil {
			opts = append(opts, alerts.WithNotifier(notifier))
		}
		consumer = alerts.NewConsumer(alerts.Config{
			Broker:  cfg.Kafka.Broker,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, alertLog, hub, logger, opts...)
		consumer.Start(rootCtx, &wg)
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}
	limiter := ratelimit.New(rdb, cfg.RateLimit.Requests, cfg.RateLimit.Window, logger)

	verifier := auth.NewVerifier(cfg.Auth.Secret)
	handler := api.NewHandler(st, registry, dispatcher, poller, proxyRouter, hub, alertLog, logger)
	if dbConn != nil {
		handler.WithArchive(dbConn)
	}
	router := api.NewRouter(handler, verifier, limiter, logger, cfg)

	srv := &http.Server{Addr: cfg.API.Port, Handler: router}
	go func() {
		logger.Infof("API started on %s", cfg.API.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("API run failed: %v", err)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	logger.Infof("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP shutdown failed: %v", err)
	}

	cancel()
	if consumer != nil {
		consumer.Close()
	}
	dispatcher.Stop()
	hub.Close()
	wg.Wait()
	logger.Infof("Service stopped")
}
