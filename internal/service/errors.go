package service

import "errors"

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrNotHost             = errors.New("not the room host")
	ErrInvalidToken        = errors.New("invalid or expired token")
	ErrInvalidTransition   = errors.New("invalid timer transition")

	// ErrParticipantIsHost means a plain leave reached a participant who
	// holds host authority; the departure must go through the transfer
	// flow instead.
	ErrParticipantIsHost = errors.New("participant holds host authority")

	// ErrAllCandidatesAreHosts means every host-succession candidate was
	// already flagged as host. That is a data inconsistency elsewhere;
	// guessing a winner would hide the bug, so the transfer fails loudly
	// and the outgoing host stays in the room.
	ErrAllCandidatesAreHosts = errors.New("all succession candidates are flagged as host")
)
