package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"costudy/internal/service"
	"costudy/internal/tasks"
)

// SweepHandler executes the room maintenance tasks: staleness reaping,
// duplicate-name cleanup and the participant-count recompute. All three
// are idempotent, so retries are safe.
type SweepHandler struct {
	rooms    *service.Rooms
	registry *service.Registry
	client   *asynq.Client
	log      *logrus.Entry
}

func NewSweepHandler(rooms *service.Rooms, registry *service.Registry, client *asynq.Client) *SweepHandler {
	return &SweepHandler{
		rooms:    rooms,
		registry: registry,
		client:   client,
		log:      logrus.WithField("component", "sweep"),
	}
}

func (h *SweepHandler) Close() {
	if err := h.client.Close(); err != nil {
		h.log.WithError(err).Warn("asynq client close failed")
	}
}

// ProcessSweepAll enqueues one RoomSweep per live room.
func (h *SweepHandler) ProcessSweepAll(ctx context.Context, t *asynq.Task) error {
	ids, err := h.rooms.RoomIDs(ctx)
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}
	for _, id := range ids {
		task, err := tasks.NewRoomSweepTask(id)
		if err != nil {
			return err
		}
		if _, err := h.client.EnqueueContext(ctx, task); err != nil {
			h.log.WithError(err).WithField("room", id).Warn("enqueue room sweep failed")
		}
	}
	return nil
}

// ProcessRoomSweep runs the maintenance passes for one room. A room that
// disappeared since enqueue is not an error.
func (h *SweepHandler) ProcessRoomSweep(ctx context.Context, t *asynq.Task) error {
	var payload tasks.RoomSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("bad sweep payload: %v: %w", err, asynq.SkipRetry)
	}

	reaped, err := h.registry.ReapStale(ctx, payload.RoomID)
	if err != nil {
		if errors.Is(err, service.ErrRoomNotFound) {
			return nil
		}
		return fmt.Errorf("reap %s: %w", payload.RoomID, err)
	}
	if reaped > 0 {
		h.log.WithFields(logrus.Fields{"room": payload.RoomID, "reaped": reaped}).Info("reaped stale participants")
	}

	if err := h.registry.CleanupDuplicateNames(ctx, payload.RoomID); err != nil && !errors.Is(err, service.ErrRoomNotFound) {
		h.log.WithError(err).WithField("room", payload.RoomID).Warn("duplicate cleanup failed")
	}
	if err := h.registry.RecountParticipants(ctx, payload.RoomID); err != nil && !errors.Is(err, service.ErrRoomNotFound) {
		h.log.WithError(err).WithField("room", payload.RoomID).Warn("recount failed")
	}
	return nil
}
