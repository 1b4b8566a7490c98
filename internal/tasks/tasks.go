// Package tasks defines the background task types shared between the
// scheduler and the worker.
package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// TypeRoomSweep reaps stale participants, cleans duplicate names and
	// recomputes the denormalized count for one room.
	TypeRoomSweep = "room:sweep"
	// TypeSweepAll fans a RoomSweep out over every live room. Enqueued
	// periodically by the scheduler.
	TypeSweepAll = "rooms:sweep_all"
)

type RoomSweepPayload struct {
	RoomID string `json:"roomId"`
}

func NewRoomSweepTask(roomID string) (*asynq.Task, error) {
	payload, err := json.Marshal(RoomSweepPayload{RoomID: roomID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRoomSweep, payload), nil
}

func NewSweepAllTask() *asynq.Task {
	return asynq.NewTask(TypeSweepAll, nil)
}
