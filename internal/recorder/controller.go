package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/challenwang408408/challenwang-braiwave/internal/capture"
	"github.com/challenwang408408/challenwang-braiwave/internal/db"
	"github.com/challenwang408408/challenwang-braiwave/internal/metrics"
	"github.com/challenwang408408/challenwang-braiwave/internal/protocol"
)

const (
	defaultStopDrain  = 100 * time.Millisecond
	defaultStopSettle = 500 * time.Millisecond
)

// ControllerOptions configures a Controller. Store may be nil, in which case
// recordings are sent but not kept.
type ControllerOptions struct {
	Runtime      *Runtime
	Device       capture.Device
	Sender       Sender
	Store        SessionStore
	Model        string
	FrameSamples int
	StopDrain    time.Duration
	StopSettle   time.Duration
	Logger       *zap.SugaredLogger
	Metrics      *metrics.Metrics
}

// Controller runs the live recording lifecycle.
type Controller struct {
	rt         *Runtime
	device     capture.Device
	sender     Sender
	store      SessionStore
	model      string
	stopDrain  time.Duration
	stopSettle time.Duration
	log        *zap.SugaredLogger
	metrics    *metrics.Metrics
	pipeline   *capture.Pipeline

	streamMu sync.Mutex
	stream   capture.Stream

	// Session bookkeeping; owned by the controller alone.
	mu        sync.Mutex
	sessionID int64
	nextSeq   int
	startedAt time.Time
	// stopDone is closed when the most recent Stop returns.
	stopDone chan struct{}
}

// NewController creates an idle controller.
func NewController(opts ControllerOptions) *Controller {
	if opts.Runtime == nil {
		opts.Runtime = &Runtime{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.StopDrain == 0 {
		opts.StopDrain = defaultStopDrain
	}
	if opts.StopSettle == 0 {
		opts.StopSettle = defaultStopSettle
	}
	c := &Controller{
		rt:         opts.Runtime,
		device:     opts.Device,
		sender:     opts.Sender,
		store:      opts.Store,
		model:      opts.Model,
		stopDrain:  opts.StopDrain,
		stopSettle: opts.StopSettle,
		log:        opts.Logger,
		metrics:    opts.Metrics,
	}
	c.pipeline = capture.NewPipeline(opts.FrameSamples, c, opts.Metrics)
	return c
}

// Recording reports whether a recording is active. It is already false
// while the controller is stopping.
func (c *Controller) Recording() bool {
	return c.rt.Mode() == ModeRecording
}

// Start checks the microphone, opens the capture stream on first use,
// opens a session and tells the backend to start recording.
func (c *Controller) Start() error {
	if !c.rt.transition(ModeIdle, ModeRecording) {
		return ErrBusy
	}
	started := false
	defer func() {
		if !started {
			c.rt.set(ModeIdle)
		}
	}()

	if err := c.device.Check(); err != nil {
		return err
	}
	if err := c.ensureStream(); err != nil {
		return err
	}

	c.openSession()
	if err := c.sender.SendControl(protocol.StartRecording(c.model)); err != nil {
		c.discardSession()
		return err
	}

	c.mu.Lock()
	c.startedAt = time.Now()
	c.mu.Unlock()
	c.pipeline.Activate()
	started = true

	c.log.Infow("recording started", "model", c.model)
	return nil
}

func (c *Controller) ensureStream() error {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	if c.stream != nil {
		return nil
	}
	stream, err := c.device.Open(c.pipeline.Process)
	if err != nil {
		return err
	}
	c.stream = stream
	return nil
}

func (c *Controller) openSession() {
	if c.store == nil {
		return
	}
	id, err := c.store.CreateSession()
	if err != nil {
		c.log.Warnw("failed to create session, recording will not be kept", "error", err)
		return
	}
	c.mu.Lock()
	c.sessionID = id
	c.nextSeq = 1
	c.mu.Unlock()
}

func (c *Controller) discardSession() {
	c.mu.Lock()
	id := c.sessionID
	c.sessionID = 0
	c.mu.Unlock()
	if id == 0 {
		return
	}
	if err := c.store.DeleteSession(id); err != nil {
		c.log.Warnw("failed to delete aborted session", "session", id, "error", err)
	}
}

// OnFrame sends one captured frame and appends it to the current session.
// A frame the channel rejects is neither sent nor stored.
func (c *Controller) OnFrame(frame []byte) {
	if err := c.sender.SendAudio(frame); err != nil {
		c.metrics.FrameDropped()
		c.log.Debugw("dropping frame", "bytes", len(frame), "error", err)
		return
	}

	c.mu.Lock()
	id := c.sessionID
	seq := c.nextSeq
	c.nextSeq++
	deltaMs := float64(time.Since(c.startedAt)) / float64(time.Millisecond)
	c.mu.Unlock()

	if id == 0 {
		return
	}
	c.store.AppendChunk(id, db.Chunk{
		Seq:     seq,
		DeltaMs: deltaMs,
		Kind:    db.KindAudio,
		Payload: frame,
	})
}

// Stop drains in-flight capture, flushes the partial frame, tells the
// backend to stop and completes the session.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.rt.transition(ModeRecording, ModeStopping) {
		c.mu.Unlock()
		return ErrBusy
	}
	done := make(chan struct{})
	c.stopDone = done
	duration := time.Since(c.startedAt)
	c.mu.Unlock()
	defer close(done)
	defer c.rt.set(ModeIdle)

	sleep(ctx, c.stopDrain)
	c.pipeline.Flush()
	sleep(ctx, c.stopSettle)

	sendErr := c.sender.SendControl(protocol.StopRecording())

	c.mu.Lock()
	id := c.sessionID
	c.sessionID = 0
	c.startedAt = time.Time{}
	c.mu.Unlock()

	if id != 0 {
		if err := c.store.CompleteSession(id, duration.Milliseconds()); err != nil {
			c.log.Warnw("failed to complete session", "session", id, "error", err)
		}
	}

	c.log.Infow("recording stopped", "duration", duration, "session", id)
	if sendErr != nil {
		return fmt.Errorf("stop recording: %w", sendErr)
	}
	return nil
}

// Finish ends the recording before shutdown. An active recording is
// stopped; a stop already in progress is waited for so its session is
// completed before the store goes away.
func (c *Controller) Finish(ctx context.Context) error {
	if c.Recording() {
		if err := c.Stop(ctx); !errors.Is(err, ErrBusy) {
			return err
		}
	}
	c.mu.Lock()
	done := c.stopDone
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the capture stream.
func (c *Controller) Close() error {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	if c.stream == nil {
		return nil
	}
	err := c.stream.Close()
	c.stream = nil
	return err
}
