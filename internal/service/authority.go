package service

import (
	"context"
	"errors"
	"sort"

	"github.com/sirupsen/logrus"

	"costudy/internal/model"
	"costudy/internal/store"
)

// Authority elects, transfers and validates the single host per room.
// Invariant: at most one participant per room carries isHost at any
// committed state; transient violations are confined to a transaction.
type Authority struct {
	store store.Store
	log   *logrus.Entry
}

func NewAuthority(st store.Store) *Authority {
	return &Authority{
		store: st,
		log:   logrus.WithField("component", "authority"),
	}
}

// ElectInitialHost flags the participant as host and points the room at
// it. It runs inside the room-creation transaction, never on its own, so
// room and host come into existence atomically.
func (a *Authority) ElectInitialHost(tx store.Tx, room *model.Room, p *model.Participant) {
	p.IsHost = true
	room.HostID = p.ID
	tx.Put(RoomPath(room.ID), encode(room))
	tx.Put(ParticipantPath(room.ID, p.ID), encode(p))
}

// Transfer hands host authority to the best successor in a single
// transaction: flag the winner, delete the outgoing host's record, repoint
// the room. Returns "" with no writes when no candidate exists; the caller
// is then responsible for deleting the room. On any error the outgoing
// host keeps the room so that "some host exists" is preserved.
func (a *Authority) Transfer(ctx context.Context, roomID, outgoingHostID string) (string, error) {
	var winnerID string
	err := a.store.Transact(ctx, RoomPath(roomID), func(tx store.Tx) error {
		winnerID = ""
		roomDoc, err := tx.Get(RoomPath(roomID))
		if err != nil {
			return err
		}
		room, err := decodeRoom(roomDoc)
		if err != nil {
			return err
		}
		// A repeated leave (second tab, retried request) arrives with a
		// stale outgoing id after authority already moved on. There is
		// nothing left to transfer; crowning another successor here would
		// commit two host-flagged participants.
		if room.HostID != outgoingHostID {
			return ErrNotHost
		}
		if _, err := tx.Get(ParticipantPath(roomID, outgoingHostID)); err != nil {
			return mapNotFound(err, ErrParticipantNotFound)
		}

		docs, err := tx.List(ParticipantsPrefix(roomID))
		if err != nil {
			return err
		}
		var candidates []*model.Participant
		for i := range docs {
			p, err := decodeParticipant(&docs[i])
			if err != nil {
				return err
			}
			if p.ID != outgoingHostID && p.Active {
				candidates = append(candidates, p)
			}
		}
		if len(candidates) == 0 {
			return nil
		}

		winner, err := pickSuccessor(candidates)
		if err != nil {
			return err
		}

		winner.IsHost = true
		room.HostID = winner.ID
		tx.Put(ParticipantPath(roomID, winner.ID), encode(winner))
		tx.Delete(ParticipantPath(roomID, outgoingHostID))
		tx.Put(RoomPath(roomID), encode(room))
		winnerID = winner.ID
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAllCandidatesAreHosts) {
			a.log.WithFields(logrus.Fields{
				"room": roomID,
				"host": outgoingHostID,
			}).Error("host transfer found only isHost-flagged candidates; aborting leave")
		}
		return "", mapNotFound(err, ErrRoomNotFound)
	}
	if winnerID != "" {
		a.log.WithFields(logrus.Fields{
			"room":     roomID,
			"outgoing": outgoingHostID,
			"new_host": winnerID,
		}).Info("host transferred")
	}
	return winnerID, nil
}

// pickSuccessor filters out candidates already flagged as host (a flag on
// a non-host candidate means the single-host invariant broke elsewhere)
// and picks the earliest joiner, ties broken by id.
func pickSuccessor(candidates []*model.Participant) (*model.Participant, error) {
	valid := make([]*model.Participant, 0, len(candidates))
	for _, p := range candidates {
		if !p.IsHost {
			valid = append(valid, p)
		}
	}
	if len(valid) == 0 {
		return nil, ErrAllCandidatesAreHosts
	}
	sort.Slice(valid, func(i, j int) bool {
		if !valid[i].JoinedAt.Equal(valid[j].JoinedAt) {
			return valid[i].JoinedAt.Before(valid[j].JoinedAt)
		}
		return valid[i].ID < valid[j].ID
	})
	return valid[0], nil
}

// Validate reports whether the claimed participant is the room's host at
// read time. Callers gating a privileged write must still re-check inside
// the write's own transaction; this read is advisory.
func (a *Authority) Validate(ctx context.Context, roomID, claimedHostID string) (bool, error) {
	doc, err := a.store.Get(ctx, RoomPath(roomID))
	if err != nil {
		return false, mapNotFound(err, ErrRoomNotFound)
	}
	room, err := decodeRoom(doc)
	if err != nil {
		return false, err
	}
	return room.HostID == claimedHostID && claimedHostID != "", nil
}
