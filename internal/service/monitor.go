package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"costudy/internal/store"
)

const (
	EventInactivityCheck  = "inactivity_check"
	EventInactivityCancel = "inactivity_cancel"
)

// InactivityMonitor periodically asks each room's host to confirm the
// room is still in use and auto-terminates rooms whose host does not
// answer within the confirmation window. Checks are anchored to the
// room's creation time modulo the interval, so reconnects and host
// handoffs never reset the cadence.
type InactivityMonitor struct {
	rooms     *Rooms
	authority *Authority
	notifier  Notifier

	checkInterval time.Duration
	window        time.Duration
	now           Clock

	mu      sync.Mutex
	watches map[string]*roomWatch
	stopped bool
	unsub   func()
	log     *logrus.Entry
}

// roomWatch carries the per-room timers. gen invalidates callbacks from
// timers that were already retired when they fired.
type roomWatch struct {
	createdAt time.Time
	gen       int
	check     *time.Timer
	deadline  *time.Timer
}

func NewInactivityMonitor(rooms *Rooms, authority *Authority, notifier Notifier, checkInterval, window time.Duration, now Clock) *InactivityMonitor {
	if now == nil {
		now = time.Now
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &InactivityMonitor{
		rooms:         rooms,
		authority:     authority,
		notifier:      notifier,
		checkInterval: checkInterval,
		window:        window,
		now:           now,
		watches:       make(map[string]*roomWatch),
		log:           logrus.WithField("component", "inactivity"),
	}
}

// Run picks up existing rooms and then follows the store subscription:
// new rooms start a watch, deleted rooms retire theirs.
func (m *InactivityMonitor) Run(ctx context.Context) error {
	rooms, err := m.rooms.ListOpen(ctx, 0)
	if err != nil {
		return err
	}
	for _, room := range rooms {
		m.Track(room.ID, room.CreatedAt)
	}

	unsub, err := m.rooms.Watch(func(ev store.Event) {
		roomID, isRoom := RoomIDFromPath(ev.Doc.Path)
		if !isRoom {
			return
		}
		switch ev.Kind {
		case store.EventPut:
			doc := ev.Doc
			room, err := decodeRoom(&doc)
			if err != nil {
				return
			}
			m.Track(room.ID, room.CreatedAt)
		case store.EventDelete:
			m.Untrack(roomID)
		}
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.unsub = unsub
	m.mu.Unlock()
	return nil
}

// Stop retires every watch and the subscription.
func (m *InactivityMonitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	unsub := m.unsub
	m.unsub = nil
	for id, w := range m.watches {
		m.retireLocked(id, w)
	}
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Track starts (or keeps) the periodic check for a room. Idempotent so
// the subscription can call it for every room update.
func (m *InactivityMonitor) Track(roomID string, createdAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	if _, ok := m.watches[roomID]; ok {
		return
	}
	w := &roomWatch{createdAt: createdAt}
	m.watches[roomID] = w
	m.scheduleCheckLocked(roomID, w)
}

// Untrack retires a room's timers. A retired watch must never fire an
// auto-terminate against a room it no longer governs.
func (m *InactivityMonitor) Untrack(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.watches[roomID]; ok {
		m.retireLocked(roomID, w)
	}
}

func (m *InactivityMonitor) retireLocked(roomID string, w *roomWatch) {
	w.gen++
	if w.check != nil {
		w.check.Stop()
		w.check = nil
	}
	if w.deadline != nil {
		w.deadline.Stop()
		w.deadline = nil
	}
	delete(m.watches, roomID)
}

// scheduleCheckLocked arms the next check at the next interval boundary
// measured from the room's creation time.
func (m *InactivityMonitor) scheduleCheckLocked(roomID string, w *roomWatch) {
	elapsed := m.now().Sub(w.createdAt)
	wait := m.checkInterval - (elapsed % m.checkInterval)
	gen := w.gen
	w.check = time.AfterFunc(wait, func() { m.onCheck(roomID, gen) })
}

func (m *InactivityMonitor) onCheck(roomID string, gen int) {
	m.mu.Lock()
	w, ok := m.watches[roomID]
	if !ok || w.gen != gen {
		m.mu.Unlock()
		return
	}
	w.deadline = time.AfterFunc(m.window, func() { m.onExpire(roomID, gen) })
	m.mu.Unlock()

	m.log.WithField("room", roomID).Info("inactivity check sent to host")
	m.notifier.NotifyHost(roomID, EventInactivityCheck, map[string]interface{}{
		"windowSeconds": int(m.window / time.Second),
	})
}

func (m *InactivityMonitor) onExpire(roomID string, gen int) {
	m.mu.Lock()
	w, ok := m.watches[roomID]
	if !ok || w.gen != gen {
		m.mu.Unlock()
		return
	}
	m.retireLocked(roomID, w)
	m.mu.Unlock()

	m.log.WithField("room", roomID).Warn("inactivity window expired, terminating room")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Destroys the room outright; no host handoff on this path.
	if err := m.rooms.End(ctx, roomID, "", true); err != nil {
		m.log.WithError(err).WithField("room", roomID).Error("auto-terminate failed")
	}
}

// Confirm is the host's answer to a pending check. It validates host
// authority against the store, cancels the countdown and arms the next
// periodic check.
func (m *InactivityMonitor) Confirm(ctx context.Context, roomID, participantID string) error {
	isHost, err := m.authority.Validate(ctx, roomID, participantID)
	if err != nil {
		return err
	}
	if !isHost {
		return ErrNotHost
	}

	m.mu.Lock()
	w, ok := m.watches[roomID]
	if ok {
		w.gen++
		if w.deadline != nil {
			w.deadline.Stop()
			w.deadline = nil
		}
		if w.check != nil {
			w.check.Stop()
			w.check = nil
		}
		m.scheduleCheckLocked(roomID, w)
	}
	m.mu.Unlock()

	if ok {
		m.notifier.NotifyRoom(roomID, EventInactivityCancel, nil)
	}
	return nil
}

// Pending reports whether a confirmation countdown is open for the room.
func (m *InactivityMonitor) Pending(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watches[roomID]
	return ok && w.deadline != nil
}
