package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"costudy/internal/cache"
	"costudy/internal/model"
	"costudy/internal/store"
)

// Rooms owns the room lifecycle: creation with atomic host election,
// lookup, the leave/transfer orchestration, and deletion.
type Rooms struct {
	store     store.Store
	presence  cache.PresenceCache
	registry  *Registry
	authority *Authority
	timers    *TimerEngine
	now       Clock
	log       *logrus.Entry
}

func NewRooms(st store.Store, presence cache.PresenceCache, registry *Registry, authority *Authority, timers *TimerEngine, now Clock) *Rooms {
	if now == nil {
		now = time.Now
	}
	return &Rooms{
		store:     st,
		presence:  presence,
		registry:  registry,
		authority: authority,
		timers:    timers,
		now:       now,
		log:       logrus.WithField("component", "rooms"),
	}
}

// Create makes a room whose first participant becomes host atomically
// with the room itself.
func (s *Rooms) Create(ctx context.Context, title, displayName string) (*model.Room, *model.Participant, error) {
	roomID := newRoomID()
	var (
		room *model.Room
		host *model.Participant
	)
	err := s.store.Transact(ctx, RoomPath(roomID), func(tx store.Tx) error {
		now := tx.Now()
		host = &model.Participant{
			ID:           newParticipantID(),
			RoomID:       roomID,
			Name:         displayName,
			Active:       true,
			JoinedAt:     now,
			LastActivity: now,
		}
		room = &model.Room{
			ID:                roomID,
			Title:             title,
			CreatedAt:         now,
			ParticipantsCount: 1,
			Timer:             s.timers.Initial(),
			Game:              model.Game{Status: model.GameIdle},
		}
		s.authority.ElectInitialHost(tx, room, host)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if err := s.presence.Touch(ctx, roomID, host.ID, s.now()); err != nil {
		s.log.WithError(err).WithField("room", roomID).Warn("presence touch failed")
	}
	s.log.WithFields(logrus.Fields{"room": roomID, "host": host.ID}).Info("room created")
	return room, host, nil
}

// Get returns the room by id.
func (s *Rooms) Get(ctx context.Context, roomID string) (*model.Room, error) {
	doc, err := s.store.Get(ctx, RoomPath(roomID))
	if err != nil {
		return nil, mapNotFound(err, ErrRoomNotFound)
	}
	return decodeRoom(doc)
}

// ListOpen returns rooms for the lobby, oldest first.
func (s *Rooms) ListOpen(ctx context.Context, limit int) ([]*model.Room, error) {
	docs, err := s.store.Query(ctx, RoomsPrefix, "createdAt", 0)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Room, 0, len(docs))
	for i := range docs {
		if _, isRoom := RoomIDFromPath(docs[i].Path); !isRoom {
			continue
		}
		room, err := decodeRoom(&docs[i])
		if err != nil {
			s.log.WithError(err).Warn("skipping malformed room")
			continue
		}
		out = append(out, room)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// End deletes the room and every participant record under it. The host
// check runs inside the deleting transaction. force bypasses it for the
// inactivity monitor's auto-terminate path, which destroys the room
// outright instead of handing it off.
func (s *Rooms) End(ctx context.Context, roomID, actorID string, force bool) error {
	err := s.store.Transact(ctx, RoomPath(roomID), func(tx store.Tx) error {
		doc, err := tx.Get(RoomPath(roomID))
		if err != nil {
			return err
		}
		room, err := decodeRoom(doc)
		if err != nil {
			return err
		}
		if !force && room.HostID != actorID {
			return ErrNotHost
		}
		participants, err := tx.List(ParticipantsPrefix(roomID))
		if err != nil {
			return err
		}
		for _, p := range participants {
			tx.Delete(p.Path)
		}
		tx.Delete(RoomPath(roomID))
		return nil
	})
	if err != nil {
		return mapNotFound(err, ErrRoomNotFound)
	}

	if err := s.presence.Clear(ctx, roomID); err != nil {
		s.log.WithError(err).WithField("room", roomID).Warn("presence clear failed")
	}
	s.log.WithFields(logrus.Fields{"room": roomID, "forced": force}).Info("room ended")
	return nil
}

// LeaveResult describes how a leave resolved.
type LeaveResult struct {
	NewHostID string `json:"newHostId,omitempty"`
	RoomEnded bool   `json:"roomEnded"`
}

// Leave removes the participant. A leaving host first hands authority to
// the best successor; when nobody is left to take over, the room is
// deleted. A failed transfer aborts the leave so the room never loses its
// host.
func (s *Rooms) Leave(ctx context.Context, roomID, participantID string) (*LeaveResult, error) {
	p, err := s.registry.Get(ctx, roomID, participantID)
	if err != nil {
		return nil, err
	}

	if !p.IsHost {
		err := s.registry.Leave(ctx, roomID, participantID)
		if err == nil {
			return &LeaveResult{}, nil
		}
		if !errors.Is(err, ErrParticipantIsHost) {
			return nil, err
		}
		// A transfer crowned this participant between the read above and
		// the delete. They leave as the host they now are.
	}

	newHostID, err := s.authority.Transfer(ctx, roomID, participantID)
	if err != nil {
		return nil, err
	}
	if newHostID == "" {
		// Last one out: transfer wrote nothing, the room is finished.
		if err := s.End(ctx, roomID, participantID, false); err != nil {
			return nil, err
		}
		if err := s.presence.Remove(ctx, roomID, participantID); err != nil {
			s.log.WithError(err).WithField("room", roomID).Warn("presence remove failed")
		}
		return &LeaveResult{RoomEnded: true}, nil
	}

	if err := s.presence.Remove(ctx, roomID, participantID); err != nil {
		s.log.WithError(err).WithField("room", roomID).Warn("presence remove failed")
	}
	return &LeaveResult{NewHostID: newHostID}, nil
}

// RoomIDs lists ids of all live rooms; the background sweep iterates it.
func (s *Rooms) RoomIDs(ctx context.Context) ([]string, error) {
	docs, err := s.store.List(ctx, RoomsPrefix)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, d := range docs {
		if id, isRoom := RoomIDFromPath(d.Path); isRoom {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Watch subscribes to every change under the rooms collection.
func (s *Rooms) Watch(fn func(store.Event)) (func(), error) {
	return s.store.Subscribe(RoomsPrefix, fn)
}
