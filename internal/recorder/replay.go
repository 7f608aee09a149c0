package recorder

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/challenwang408408/challenwang-braiwave/internal/db"
	"github.com/challenwang408408/challenwang-braiwave/internal/metrics"
	"github.com/challenwang408408/challenwang-braiwave/internal/protocol"
)

const (
	defaultReplaySettle = 200 * time.Millisecond
	defaultReplayPoll   = 100 * time.Millisecond
)

// ReplayerOptions configures a Replayer. A nil Store disables replay.
type ReplayerOptions struct {
	Runtime *Runtime
	Sender  Sender
	Store   SessionStore
	Model   string
	Settle  time.Duration
	Poll    time.Duration
	// Pacing reproduces the recorded frame timing instead of sending as
	// fast as the channel accepts.
	Pacing  bool
	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics
}

// Replayer resends the latest stored session through the live protocol path.
type Replayer struct {
	rt      *Runtime
	sender  Sender
	store   SessionStore
	model   string
	settle  time.Duration
	poll    time.Duration
	pacing  bool
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewReplayer creates a replayer sharing rt with the recording controller.
func NewReplayer(opts ReplayerOptions) *Replayer {
	if opts.Runtime == nil {
		opts.Runtime = &Runtime{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Settle == 0 {
		opts.Settle = defaultReplaySettle
	}
	if opts.Poll <= 0 {
		opts.Poll = defaultReplayPoll
	}
	return &Replayer{
		rt:      opts.Runtime,
		sender:  opts.Sender,
		store:   opts.Store,
		model:   opts.Model,
		settle:  opts.Settle,
		poll:    opts.Poll,
		pacing:  opts.Pacing,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
}

// Available reports whether a completed session exists to replay.
func (r *Replayer) Available() bool {
	if r.store == nil {
		return false
	}
	sess, err := r.store.LatestCompletedSession()
	if err != nil {
		r.log.Warnw("failed to look up latest session", "error", err)
		return false
	}
	return sess != nil
}

// ReplayLatest sends the latest completed session: start_recording, every
// audio chunk in seq order, then stop_recording. It returns the replayed
// session.
func (r *Replayer) ReplayLatest(ctx context.Context) (sess *db.Session, err error) {
	if r.store == nil {
		return nil, ErrStoreUnavailable
	}
	if !r.rt.transition(ModeIdle, ModeReplaying) {
		return nil, ErrBusy
	}
	defer r.rt.set(ModeIdle)
	defer func() {
		if err != nil {
			r.metrics.ReplayFinished("error")
		} else {
			r.metrics.ReplayFinished("ok")
		}
	}()

	sess, err = r.store.LatestCompletedSession()
	if err != nil {
		return nil, fmt.Errorf("load latest session: %w", err)
	}
	if sess == nil {
		return nil, ErrNoSession
	}
	chunks, err := r.store.SessionChunks(sess.ID)
	if err != nil {
		return nil, fmt.Errorf("load session %d chunks: %w", sess.ID, err)
	}

	if err := r.waitOpen(ctx); err != nil {
		return nil, err
	}

	r.log.Infow("replay started", "session", sess.ID, "chunks", len(chunks), "pacing", r.pacing)
	if err := r.sender.SendControl(protocol.StartRecording(r.model)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReplayAborted, err)
	}
	if err := sleep(ctx, r.settle); err != nil {
		return nil, err
	}

	began := time.Now()
	sent := 0
	for _, c := range chunks {
		if c.Kind != db.KindAudio {
			continue
		}
		if r.pacing {
			due := time.Duration(c.DeltaMs * float64(time.Millisecond))
			if err := sleep(ctx, due-time.Since(began)); err != nil {
				return nil, err
			}
		}
		if err := r.sender.SendAudio(c.Payload); err != nil {
			return nil, fmt.Errorf("%w after %d chunks: %w", ErrReplayAborted, sent, err)
		}
		sent++
	}

	if err := r.sender.SendControl(protocol.StopRecording()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReplayAborted, err)
	}
	r.log.Infow("replay finished", "session", sess.ID, "chunks", sent)
	return sess, nil
}

// waitOpen polls until the channel is open or ctx is done.
func (r *Replayer) waitOpen(ctx context.Context) error {
	for !r.sender.IsOpen() {
		if err := sleep(ctx, r.poll); err != nil {
			return fmt.Errorf("wait for connection: %w", err)
		}
	}
	return nil
}
