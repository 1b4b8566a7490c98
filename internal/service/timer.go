package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"costudy/internal/model"
	"costudy/internal/store"
)

// TimerDurations configures the pomodoro intervals.
type TimerDurations struct {
	Work               time.Duration
	Break              time.Duration
	LongBreak          time.Duration
	CyclesPerLongBreak int
}

func DefaultTimerDurations() TimerDurations {
	return TimerDurations{
		Work:               25 * time.Minute,
		Break:              5 * time.Minute,
		LongBreak:          15 * time.Minute,
		CyclesPerLongBreak: 4,
	}
}

// TimerEngine drives the shared countdown. The stored timer is a snapshot
// anchored to a server timestamp; clients reconstruct the remaining time
// locally and nobody writes continuously. All transitions are host-gated
// except AutoAdvance, which any observer may trigger idempotently.
type TimerEngine struct {
	store     store.Store
	durations TimerDurations
	log       *logrus.Entry
}

func NewTimerEngine(st store.Store, durations TimerDurations) *TimerEngine {
	if durations.CyclesPerLongBreak <= 0 {
		durations.CyclesPerLongBreak = 4
	}
	return &TimerEngine{
		store:     st,
		durations: durations,
		log:       logrus.WithField("component", "timer"),
	}
}

// Initial is the timer a freshly created room carries: work mode, full
// duration, not running.
func (e *TimerEngine) Initial() model.Timer {
	return model.Timer{
		TimeLeft:    e.seconds(model.ModeWork),
		IsRunning:   false,
		Mode:        model.ModeWork,
		Cycle:       0,
		IsAutoCycle: true,
	}
}

func (e *TimerEngine) seconds(mode model.TimerMode) int {
	switch mode {
	case model.ModeBreak:
		return int(e.durations.Break / time.Second)
	case model.ModeLongBreak:
		return int(e.durations.LongBreak / time.Second)
	default:
		return int(e.durations.Work / time.Second)
	}
}

func (e *TimerEngine) restMode(cycle int) model.TimerMode {
	if cycle > 0 && cycle%e.durations.CyclesPerLongBreak == 0 {
		return model.ModeLongBreak
	}
	return model.ModeBreak
}

// mutate runs a host-gated timer transition inside one room transaction.
// The host check happens in the same transaction as the write, so a
// concurrent host transfer cannot slip between check and commit.
func (e *TimerEngine) mutate(ctx context.Context, roomID, actorID string, fn func(t *model.Timer, now time.Time) error) error {
	err := e.store.Transact(ctx, RoomPath(roomID), func(tx store.Tx) error {
		doc, err := tx.Get(RoomPath(roomID))
		if err != nil {
			return err
		}
		room, err := decodeRoom(doc)
		if err != nil {
			return err
		}
		if room.HostID != actorID {
			return ErrNotHost
		}
		if err := fn(&room.Timer, tx.Now()); err != nil {
			return err
		}
		tx.Put(RoomPath(roomID), encode(room))
		return nil
	})
	return mapNotFound(err, ErrRoomNotFound)
}

// Start begins or resumes the countdown in whichever mode is current.
func (e *TimerEngine) Start(ctx context.Context, roomID, actorID string) error {
	return e.mutate(ctx, roomID, actorID, func(t *model.Timer, now time.Time) error {
		if t.IsRunning {
			return fmt.Errorf("%w: already running", ErrInvalidTransition)
		}
		if t.RestPending() {
			return fmt.Errorf("%w: rest pending, start the break or resume focus", ErrInvalidTransition)
		}
		if t.TimeLeft <= 0 {
			t.TimeLeft = e.seconds(t.Mode)
		}
		t.IsRunning = true
		t.StartTime = &now
		t.PausedAt = nil
		return nil
	})
}

// Pause stops the countdown, snapshotting the effective remainder so the
// stored value does not go stale.
func (e *TimerEngine) Pause(ctx context.Context, roomID, actorID string) error {
	return e.mutate(ctx, roomID, actorID, func(t *model.Timer, now time.Time) error {
		if !t.IsRunning {
			return fmt.Errorf("%w: not running", ErrInvalidTransition)
		}
		t.TimeLeft = t.EffectiveTimeLeft(now)
		t.IsRunning = false
		t.StartTime = nil
		t.PausedAt = &now
		return nil
	})
}

// FinishFocus cuts the work interval short, independent of remaining
// time, and parks the timer until the host picks break or more focus.
func (e *TimerEngine) FinishFocus(ctx context.Context, roomID, actorID string) error {
	return e.mutate(ctx, roomID, actorID, func(t *model.Timer, now time.Time) error {
		if t.Mode != model.ModeWork || t.RestPending() {
			return fmt.Errorf("%w: no focus interval to finish", ErrInvalidTransition)
		}
		t.Cycle++
		t.TimeLeft = model.RestPendingTimeLeft
		t.IsRunning = false
		t.StartTime = nil
		t.PausedAt = nil
		return nil
	})
}

// StartRest leaves the rest-pending state into a running break with a
// fresh full duration.
func (e *TimerEngine) StartRest(ctx context.Context, roomID, actorID string) error {
	return e.mutate(ctx, roomID, actorID, func(t *model.Timer, now time.Time) error {
		if !t.RestPending() {
			return fmt.Errorf("%w: no rest pending", ErrInvalidTransition)
		}
		t.Mode = e.restMode(t.Cycle)
		t.TimeLeft = e.seconds(t.Mode)
		t.IsRunning = true
		t.StartTime = &now
		t.PausedAt = nil
		return nil
	})
}

// ResumeFocus skips the pending break and starts a fresh work interval.
func (e *TimerEngine) ResumeFocus(ctx context.Context, roomID, actorID string) error {
	return e.mutate(ctx, roomID, actorID, func(t *model.Timer, now time.Time) error {
		if !t.RestPending() {
			return fmt.Errorf("%w: no rest pending", ErrInvalidTransition)
		}
		t.Mode = model.ModeWork
		t.TimeLeft = e.seconds(model.ModeWork)
		t.IsRunning = true
		t.StartTime = &now
		t.PausedAt = nil
		return nil
	})
}

// EndSession resets the timer to its initial state and zeroes the cycle
// count.
func (e *TimerEngine) EndSession(ctx context.Context, roomID, actorID string) error {
	return e.mutate(ctx, roomID, actorID, func(t *model.Timer, now time.Time) error {
		auto := t.IsAutoCycle
		*t = e.Initial()
		t.IsAutoCycle = auto
		return nil
	})
}

// SetAutoCycle toggles unattended work/break cycling.
func (e *TimerEngine) SetAutoCycle(ctx context.Context, roomID, actorID string, enabled bool) error {
	return e.mutate(ctx, roomID, actorID, func(t *model.Timer, now time.Time) error {
		t.IsAutoCycle = enabled
		return nil
	})
}

// AutoAdvance moves a running auto-cycle timer that hit zero into its
// successor mode. Any client may call it once it observes an effective
// time of zero; concurrent callers produce exactly one transition because
// the loser's retry observes the already re-anchored timer and no-ops.
func (e *TimerEngine) AutoAdvance(ctx context.Context, roomID string) (bool, error) {
	advanced := false
	err := store.RetryTransact(ctx, e.store, RoomPath(roomID), func(tx store.Tx) error {
		advanced = false
		doc, err := tx.Get(RoomPath(roomID))
		if err != nil {
			return err
		}
		room, err := decodeRoom(doc)
		if err != nil {
			return err
		}
		t := &room.Timer
		now := tx.Now()
		if !t.IsRunning || !t.IsAutoCycle || t.EffectiveTimeLeft(now) > 0 {
			return nil
		}

		if t.Mode == model.ModeWork {
			t.Cycle++
			t.Mode = e.restMode(t.Cycle)
		} else {
			t.Mode = model.ModeWork
		}
		t.TimeLeft = e.seconds(t.Mode)
		t.StartTime = &now
		t.PausedAt = nil

		tx.Put(RoomPath(roomID), encode(room))
		advanced = true
		return nil
	})
	if err != nil {
		return false, mapNotFound(err, ErrRoomNotFound)
	}
	if advanced {
		e.log.WithField("room", roomID).Debug("timer auto-advanced")
	}
	return advanced, nil
}
