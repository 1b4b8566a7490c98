// Package worker runs the asynq consumer and scheduler for the periodic
// room sweeps.
package worker

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"costudy/internal/service"
	"costudy/internal/tasks"
)

// Server wraps the asynq worker and the periodic scheduler.
type Server struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	handler   *SweepHandler
	log       *logrus.Entry
}

func NewServer(redisOpt asynq.RedisClientOpt, rooms *service.Rooms, registry *service.Registry, sweepEvery string) *Server {
	log := logrus.WithField("component", "worker")

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 4,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.WithError(err).WithField("task_type", task.Type()).Error("task failed")
		}),
	})

	scheduler := asynq.NewScheduler(redisOpt, nil)
	if _, err := scheduler.Register("@every "+sweepEvery, tasks.NewSweepAllTask()); err != nil {
		log.WithError(err).Fatal("failed to register sweep schedule")
	}

	return &Server{
		server:    server,
		scheduler: scheduler,
		handler:   NewSweepHandler(rooms, registry, asynq.NewClient(redisOpt)),
		log:       log,
	}
}

// Start runs the worker and the scheduler. Call from separate goroutine
// per component or let Start spin them up; it returns immediately.
func (s *Server) Start() {
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeSweepAll, s.handler.ProcessSweepAll)
	mux.HandleFunc(tasks.TypeRoomSweep, s.handler.ProcessRoomSweep)

	go func() {
		if err := s.server.Run(mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			s.log.WithError(err).Fatal("worker server stopped")
		}
	}()
	go func() {
		if err := s.scheduler.Run(); err != nil {
			s.log.WithError(err).Fatal("scheduler stopped")
		}
	}()
	s.log.Info("worker and scheduler started")
}

// Shutdown stops the scheduler and drains the worker.
func (s *Server) Shutdown() {
	s.scheduler.Shutdown()
	s.server.Shutdown()
	s.handler.Close()
	s.log.Info("worker shut down")
}
