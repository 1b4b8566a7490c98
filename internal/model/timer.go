package model

import "time"

type TimerMode string

const (
	ModeWork      TimerMode = "work"
	ModeBreak     TimerMode = "break"
	ModeLongBreak TimerMode = "longBreak"
)

type TimerState string

const (
	TimerInit        TimerState = "init"
	TimerFocus       TimerState = "focus"
	TimerPaused      TimerState = "paused"
	TimerRestPending TimerState = "restPending"
	TimerRest        TimerState = "rest"
)

// RestPendingTimeLeft marks a finished work interval whose break has not
// started yet. It is an internal sentinel, never a clock reading.
const RestPendingTimeLeft = -1

// Timer is the shared countdown embedded in a room. TimeLeft is only
// accurate at the moment StartTime was set; nobody decrements it
// continuously. Readers derive the displayed value via EffectiveTimeLeft.
type Timer struct {
	TimeLeft    int        `json:"timeLeft" bson:"timeLeft"`
	IsRunning   bool       `json:"isRunning" bson:"isRunning"`
	Mode        TimerMode  `json:"mode" bson:"mode"`
	Cycle       int        `json:"cycle" bson:"cycle"`
	StartTime   *time.Time `json:"startTime,omitempty" bson:"startTime,omitempty"`
	PausedAt    *time.Time `json:"pausedAt,omitempty" bson:"pausedAt,omitempty"`
	IsAutoCycle bool       `json:"isAutoCycle" bson:"isAutoCycle"`
}

// EffectiveTimeLeft returns the seconds remaining as of now, subtracting
// the elapsed wall-clock time since StartTime when running. Never negative.
func (t *Timer) EffectiveTimeLeft(now time.Time) int {
	left := t.TimeLeft
	if t.IsRunning && t.StartTime != nil {
		left -= int(now.Sub(*t.StartTime) / time.Second)
	}
	if left < 0 {
		return 0
	}
	return left
}

// RestPending reports whether a work interval finished and its break has
// not been started yet.
func (t *Timer) RestPending() bool {
	return !t.IsRunning && t.TimeLeft == RestPendingTimeLeft
}

// State derives the coarse state-machine position for display.
func (t *Timer) State() TimerState {
	switch {
	case t.RestPending():
		return TimerRestPending
	case t.IsRunning && t.Mode == ModeWork:
		return TimerFocus
	case t.IsRunning:
		return TimerRest
	case t.PausedAt != nil:
		return TimerPaused
	default:
		return TimerInit
	}
}
