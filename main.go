package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"costudy/config"
	"costudy/internal/cache"
	"costudy/internal/service"
	"costudy/internal/store"
	"costudy/internal/transport/rest"
	"costudy/internal/transport/ws"
	"costudy/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("no .env file found")
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg := config.Load()
	ctx := context.Background()

	// MongoDB connection
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		logrus.WithError(err).Fatal("failed to connect to MongoDB")
	}
	defer mongoClient.Disconnect(ctx)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mongoClient.Ping(pingCtx, nil); err != nil {
		logrus.WithError(err).Fatal("failed to ping MongoDB")
	}
	logrus.Info("connected to MongoDB")

	// Redis connection
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		logrus.WithError(err).Fatal("failed to ping Redis")
	}
	logrus.Info("connected to Redis")

	// Document store and caches
	st := store.NewMongo(mongoClient, "costudy")
	presence := cache.NewPresenceCache(rdb)

	// WebSocket hub
	wsHub := ws.NewHub()

	// Services
	tokens := service.NewTokens(cfg.JWTSecret)
	registry := service.NewRegistry(st, presence, cfg.StaleTimeout, nil)
	authority := service.NewAuthority(st)
	timers := service.NewTimerEngine(st, service.TimerDurations{
		Work:               cfg.WorkDuration,
		Break:              cfg.BreakDuration,
		LongBreak:          cfg.LongBreakDuration,
		CyclesPerLongBreak: cfg.CyclesPerLong,
	})
	rooms := service.NewRooms(st, presence, registry, authority, timers, nil)
	monitor := service.NewInactivityMonitor(rooms, authority, wsHub, cfg.RoomCheckInterval, cfg.ConfirmationWindow, nil)
	if err := monitor.Run(ctx); err != nil {
		logrus.WithError(err).Fatal("failed to start inactivity monitor")
	}
	defer monitor.Stop()

	// Relay store changes to connected clients
	relay := ws.NewRelay(rooms, wsHub)
	if err := relay.Start(); err != nil {
		logrus.WithError(err).Fatal("failed to start room relay")
	}
	defer relay.Stop()

	// Background sweeps (reap, dedupe, recount)
	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	sweeper := worker.NewServer(redisOpt, rooms, registry, "1m")
	sweeper.Start()
	defer sweeper.Shutdown()

	// Router
	container := &rest.Container{
		Tokens:   tokens,
		Rooms:    rooms,
		Registry: registry,
		Timers:   timers,
		Monitor:  monitor,
		WSHub:    wsHub,
	}
	router := rest.NewRouter(container)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		logrus.WithField("port", cfg.HTTPPort).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("ListenAndServe")
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Fatal("server forced to shutdown")
	}

	logrus.Info("server exited")
}
