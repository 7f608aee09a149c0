// Package recorder coordinates live recording and replay of stored sessions
// over a shared protocol engine.
package recorder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/challenwang408408/challenwang-braiwave/internal/db"
	"github.com/challenwang408408/challenwang-braiwave/internal/protocol"
)

var (
	// ErrBusy is returned when another recording, stop or replay is in progress.
	ErrBusy = errors.New("busy")
	// ErrStoreUnavailable is returned by replay when there is no session store.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrNoSession is returned by replay when no completed session exists.
	ErrNoSession = errors.New("no completed session to replay")
	// ErrReplayAborted wraps the send failure that interrupted a replay.
	ErrReplayAborted = errors.New("replay aborted")
)

// Mode is the shared activity state. At most one of recording, stopping and
// replaying is active at a time.
type Mode int

const (
	ModeIdle Mode = iota
	ModeRecording
	ModeStopping
	ModeReplaying
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeRecording:
		return "recording"
	case ModeStopping:
		return "stopping"
	case ModeReplaying:
		return "replaying"
	default:
		return "unknown"
	}
}

// Runtime is the context shared by the controller and the replayer.
type Runtime struct {
	mu   sync.Mutex
	mode Mode
}

// Mode returns the current mode.
func (r *Runtime) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// transition moves from one mode to another, failing if the current mode
// is not from.
func (r *Runtime) transition(from, to Mode) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode != from {
		return false
	}
	r.mode = to
	return true
}

func (r *Runtime) set(m Mode) {
	r.mu.Lock()
	r.mode = m
	r.mu.Unlock()
}

// Sender is the part of the protocol engine used to reach the backend.
type Sender interface {
	SendControl(cmd protocol.Command) error
	SendAudio(frame []byte) error
	IsOpen() bool
}

// SessionStore is the part of the session store used for recording and replay.
type SessionStore interface {
	CreateSession() (int64, error)
	AppendChunk(sessionID int64, c db.Chunk)
	CompleteSession(sessionID int64, durationMs int64) error
	DeleteSession(sessionID int64) error
	LatestCompletedSession() (*db.Session, error)
	SessionChunks(sessionID int64) ([]db.Chunk, error)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
