package app

import (
	"time"

	"github.com/challenwang408408/challenwang-braiwave/internal/db"
	"github.com/challenwang408408/challenwang-braiwave/internal/protocol"
)

// EngineEventMsg wraps an event from the protocol engine.
type EngineEventMsg struct {
	Event protocol.Event
}

// EventsClosedMsg is sent when the engine's event stream ends.
type EventsClosedMsg struct{}

// StartResultMsg carries the outcome of a start attempt.
type StartResultMsg struct {
	Err error
}

// StopResultMsg carries the outcome of a stop.
type StopResultMsg struct {
	Err error
}

// ReplayResultMsg carries the outcome of a replay.
type ReplayResultMsg struct {
	Session *db.Session
	Err     error
}

// ReplayAvailableMsg reports whether a completed session can be replayed.
type ReplayAvailableMsg struct {
	Available bool
}

// EnhancedMsg carries the result of a readability, correctness or ask AI call.
type EnhancedMsg struct {
	Title string
	Text  string
	Err   error
}

// CopiedMsg carries the result of a clipboard write.
type CopiedMsg struct {
	Auto bool
	Err  error
}

// TimerTickMsg advances the elapsed-time display. Ticks from an older
// timer are ignored.
type TimerTickMsg struct {
	Gen  int
	Time time.Time
}

// ClearNoticeMsg clears the notice line unless a newer notice replaced it.
type ClearNoticeMsg struct {
	Seq int
}
