package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"costudy/internal/cache"
	"costudy/internal/model"
	"costudy/internal/store"
)

// Registry tracks who is in a room. It assigns a stable participant
// identity that survives reloads and reaps entries that stopped
// heartbeating, without ever deleting on reload or disconnect: explicit
// leave is the only user-driven deletion path.
type Registry struct {
	store        store.Store
	presence     cache.PresenceCache
	staleTimeout time.Duration
	now          Clock
	log          *logrus.Entry
}

func NewRegistry(st store.Store, presence cache.PresenceCache, staleTimeout time.Duration, now Clock) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		store:        st,
		presence:     presence,
		staleTimeout: staleTimeout,
		now:          now,
		log:          logrus.WithField("component", "registry"),
	}
}

// Join attaches a participant to the room and returns the record whose ID
// the client must persist for future reloads. Resolution order: reuse the
// stored id if its document is still present and active, fall back to an
// active participant with the same display name (local storage was
// cleared), otherwise create a fresh record.
func (r *Registry) Join(ctx context.Context, roomID, displayName, storedID string) (*model.Participant, error) {
	var joined *model.Participant
	err := store.RetryTransact(ctx, r.store, RoomPath(roomID), func(tx store.Tx) error {
		joined = nil
		if _, err := r.getRoom(tx, roomID); err != nil {
			return err
		}

		if storedID != "" {
			doc, err := tx.Get(ParticipantPath(roomID, storedID))
			switch {
			case err == nil:
				p, err := decodeParticipant(doc)
				if err != nil {
					return err
				}
				if p.Active {
					p.LastActivity = tx.Now()
					tx.Put(ParticipantPath(roomID, p.ID), encode(p))
					joined = p
					return nil
				}
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		participants, err := r.listTx(tx, roomID)
		if err != nil {
			return err
		}
		for _, p := range participants {
			if p.Active && p.Name == displayName {
				p.LastActivity = tx.Now()
				tx.Put(ParticipantPath(roomID, p.ID), encode(p))
				joined = p
				return nil
			}
		}

		now := tx.Now()
		p := &model.Participant{
			ID:           newParticipantID(),
			RoomID:       roomID,
			Name:         displayName,
			IsHost:       false,
			Active:       true,
			JoinedAt:     now,
			LastActivity: now,
		}
		tx.Put(ParticipantPath(roomID, p.ID), encode(p))
		joined = p
		return nil
	})
	if err != nil {
		return nil, mapNotFound(err, ErrRoomNotFound)
	}

	if err := r.presence.Touch(ctx, roomID, joined.ID, r.now()); err != nil {
		r.log.WithError(err).WithField("room", roomID).Warn("presence touch failed")
	}
	return joined, nil
}

// Leave removes the participant document outright. Reload, crash and tab
// close never reach this path. A participant who holds host authority at
// delete time is refused with ErrParticipantIsHost even if the caller read
// a non-host record moments earlier: a concurrent transfer may have
// crowned them, and deleting the record would leave the room's hostId
// dangling.
func (r *Registry) Leave(ctx context.Context, roomID, participantID string) error {
	err := r.store.Transact(ctx, RoomPath(roomID), func(tx store.Tx) error {
		doc, err := tx.Get(ParticipantPath(roomID, participantID))
		if err != nil {
			return err
		}
		p, err := decodeParticipant(doc)
		if err != nil {
			return err
		}
		if p.IsHost {
			return ErrParticipantIsHost
		}
		tx.Delete(ParticipantPath(roomID, participantID))
		return nil
	})
	if err != nil {
		return mapNotFound(err, ErrParticipantNotFound)
	}
	if err := r.presence.Remove(ctx, roomID, participantID); err != nil {
		r.log.WithError(err).WithField("room", roomID).Warn("presence remove failed")
	}
	return nil
}

// Heartbeat refreshes the participant's liveness. Failures are logged and
// swallowed; a missed heartbeat must never interrupt the session.
func (r *Registry) Heartbeat(ctx context.Context, roomID, participantID string) {
	now := r.now()
	if err := r.presence.Touch(ctx, roomID, participantID, now); err != nil {
		r.log.WithError(err).WithField("room", roomID).Warn("presence touch failed")
	}

	err := store.RetryTransact(ctx, r.store, RoomPath(roomID), func(tx store.Tx) error {
		doc, err := tx.Get(ParticipantPath(roomID, participantID))
		if err != nil {
			return err
		}
		p, err := decodeParticipant(doc)
		if err != nil {
			return err
		}
		p.LastActivity = tx.Now()
		tx.Put(ParticipantPath(roomID, p.ID), encode(p))
		return nil
	})
	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"room":        roomID,
			"participant": participantID,
		}).Warn("heartbeat persist failed")
	}
}

// ReapStale deletes participants whose last heartbeat exceeded the
// timeout. The current host is exempt: a host may be legitimately idle
// while watching the timer, and host liveness belongs to the inactivity
// monitor.
func (r *Registry) ReapStale(ctx context.Context, roomID string) (int, error) {
	seen, err := r.presence.All(ctx, roomID)
	if err != nil {
		r.log.WithError(err).WithField("room", roomID).Warn("presence read failed, falling back to stored lastActivity")
		seen = nil
	}

	reaped := 0
	err = store.RetryTransact(ctx, r.store, RoomPath(roomID), func(tx store.Tx) error {
		reaped = 0
		room, err := r.getRoom(tx, roomID)
		if err != nil {
			return err
		}
		participants, err := r.listTx(tx, roomID)
		if err != nil {
			return err
		}
		cutoff := tx.Now().Add(-r.staleTimeout)
		for _, p := range participants {
			if p.ID == room.HostID {
				continue
			}
			last := p.LastActivity
			if hb, ok := seen[p.ID]; ok && hb.After(last) {
				last = hb
			}
			if last.Before(cutoff) {
				tx.Delete(ParticipantPath(roomID, p.ID))
				reaped++
			}
		}
		return nil
	})
	if err != nil {
		return 0, mapNotFound(err, ErrRoomNotFound)
	}
	return reaped, nil
}

// CleanupDuplicateNames removes older active entries sharing a display
// name, keeping the most recently active one. It runs as a secondary
// idempotent sweep, never inline in Join, so a just-created legitimate
// entry cannot be deleted by a read-after-write race.
func (r *Registry) CleanupDuplicateNames(ctx context.Context, roomID string) error {
	err := store.RetryTransact(ctx, r.store, RoomPath(roomID), func(tx store.Tx) error {
		room, err := r.getRoom(tx, roomID)
		if err != nil {
			return err
		}
		participants, err := r.listTx(tx, roomID)
		if err != nil {
			return err
		}
		byName := make(map[string][]*model.Participant)
		for _, p := range participants {
			if p.Active {
				byName[p.Name] = append(byName[p.Name], p)
			}
		}
		for _, group := range byName {
			if len(group) < 2 {
				continue
			}
			sort.Slice(group, func(i, j int) bool {
				if !group[i].LastActivity.Equal(group[j].LastActivity) {
					return group[i].LastActivity.After(group[j].LastActivity)
				}
				return group[i].ID < group[j].ID
			})
			for _, dup := range group[1:] {
				if dup.ID == room.HostID {
					continue
				}
				tx.Delete(ParticipantPath(roomID, dup.ID))
			}
		}
		return nil
	})
	return mapNotFound(err, ErrRoomNotFound)
}

// RecountParticipants recomputes the denormalized participant count on the
// room document and mirrors it into the presence cache. Eventually
// consistent by design; the participant collection stays authoritative.
func (r *Registry) RecountParticipants(ctx context.Context, roomID string) error {
	count := 0
	err := store.RetryTransact(ctx, r.store, RoomPath(roomID), func(tx store.Tx) error {
		room, err := r.getRoom(tx, roomID)
		if err != nil {
			return err
		}
		participants, err := r.listTx(tx, roomID)
		if err != nil {
			return err
		}
		count = 0
		for _, p := range participants {
			if p.Active {
				count++
			}
		}
		if room.ParticipantsCount == count {
			return nil
		}
		room.ParticipantsCount = count
		tx.Put(RoomPath(roomID), encode(room))
		return nil
	})
	if err != nil {
		return mapNotFound(err, ErrRoomNotFound)
	}
	if err := r.presence.SetCount(ctx, roomID, count); err != nil {
		r.log.WithError(err).WithField("room", roomID).Warn("count cache update failed")
	}
	return nil
}

// List returns the room's active participants ordered by joinedAt
// ascending, ties broken by id. The same ordering feeds host succession.
func (r *Registry) List(ctx context.Context, roomID string) ([]*model.Participant, error) {
	docs, err := r.store.List(ctx, ParticipantsPrefix(roomID))
	if err != nil {
		return nil, err
	}
	out := make([]*model.Participant, 0, len(docs))
	for i := range docs {
		p, err := decodeParticipant(&docs[i])
		if err != nil {
			r.log.WithError(err).Warn("skipping malformed participant")
			continue
		}
		if p.Active {
			out = append(out, p)
		}
	}
	sortParticipants(out)
	return out, nil
}

// Get returns a single participant record.
func (r *Registry) Get(ctx context.Context, roomID, participantID string) (*model.Participant, error) {
	doc, err := r.store.Get(ctx, ParticipantPath(roomID, participantID))
	if err != nil {
		return nil, mapNotFound(err, ErrParticipantNotFound)
	}
	return decodeParticipant(doc)
}

func (r *Registry) getRoom(tx store.Tx, roomID string) (*model.Room, error) {
	doc, err := tx.Get(RoomPath(roomID))
	if err != nil {
		return nil, err
	}
	return decodeRoom(doc)
}

func (r *Registry) listTx(tx store.Tx, roomID string) ([]*model.Participant, error) {
	docs, err := tx.List(ParticipantsPrefix(roomID))
	if err != nil {
		return nil, err
	}
	out := make([]*model.Participant, 0, len(docs))
	for i := range docs {
		p, err := decodeParticipant(&docs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sortParticipants(out)
	return out, nil
}

func sortParticipants(ps []*model.Participant) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].JoinedAt.Equal(ps[j].JoinedAt) {
			return ps[i].JoinedAt.Before(ps[j].JoinedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}

func mapNotFound(err error, sentinel error) error {
	if errors.Is(err, store.ErrNotFound) {
		return sentinel
	}
	return err
}
