// Package db provides the local SQLite session store used for replay.
package db

import "time"

// Session status values.
const (
	StatusRecording = "recording"
	StatusCompleted = "completed"
)

// Chunk kinds.
const (
	KindStart = "start"
	KindAudio = "audio"
	KindStop  = "stop"
)

// Fixed capture format for every stored session.
const (
	SampleRate   = 24000
	ChannelCount = 1
)

// Session represents one recording attempt.
type Session struct {
	ID           int64
	CreatedAt    time.Time
	Status       string
	SampleRate   int
	ChannelCount int
	DurationMs   int64
}

// Chunk is one persisted wire event of a session.
type Chunk struct {
	ID         int64
	SessionID  int64
	Seq        int
	DeltaMs    float64
	Kind       string
	Payload    []byte
	ByteLength int
}

// SessionInfo is a session together with its stored chunk totals.
type SessionInfo struct {
	Session
	Chunks       int
	PayloadBytes int64
}

// Quota bounds what the store retains.
type Quota struct {
	MaxSessions int
	MaxBytes    int64
}

// DefaultQuota keeps five sessions and at most 100 MiB of audio.
var DefaultQuota = Quota{MaxSessions: 5, MaxBytes: 100 * 1024 * 1024}
