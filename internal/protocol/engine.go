package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/challenwang408408/challenwang-braiwave/internal/metrics"
)

// ErrNotOpen is returned by sends while the channel is not open for writing.
var ErrNotOpen = errors.New("channel not open")

const (
	defaultReconnectDelay   = time.Second
	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 10 * time.Second
	maxMessageSize          = 1 << 20
)

// EventKind identifies what an Event reports.
type EventKind int

const (
	// EventOpened: the channel opened and the engine is idle.
	EventOpened EventKind = iota
	// EventClosed: the channel closed; a reconnect follows after the delay.
	EventClosed
	// EventState: the backend reported a new status.
	EventState
	// EventTranscript: the transcript changed.
	EventTranscript
	// EventRemoteError: the backend sent an error message.
	EventRemoteError
)

// Event is delivered to collaborators in the order the engine observed it.
type Event struct {
	Kind       EventKind
	State      State
	Transcript string
	Err        error
	// TurnComplete is set when the backend went idle.
	TurnComplete bool
	// StopTimer is set when the elapsed-time display should stop.
	StopTimer bool
}

// Options configures an Engine.
type Options struct {
	URL              string
	HandshakeTimeout time.Duration
	ReconnectDelay   time.Duration
	Logger           *zap.SugaredLogger
	Metrics          *metrics.Metrics
	// EventBuffer is the capacity of the events channel. Defaults to 64.
	EventBuffer int
}

// Engine owns a single websocket to the backend, keeps it connected and
// turns incoming messages into state, transcript and events.
type Engine struct {
	url            string
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	log            *zap.SugaredLogger
	metrics        *metrics.Metrics
	events         chan Event

	mu         sync.Mutex
	conn       *websocket.Conn
	state      State
	transcript strings.Builder

	writeMu sync.Mutex
}

// NewEngine creates a disconnected engine. Call Run to connect.
func NewEngine(opts Options) *Engine {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	return &Engine{
		url: opts.URL,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		reconnectDelay: opts.ReconnectDelay,
		log:            opts.Logger,
		metrics:        opts.Metrics,
		events:         make(chan Event, opts.EventBuffer),
		state:          StateDisconnected,
	}
}

// Events returns the event stream. It is closed when Run returns.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Run connects and reconnects until ctx is cancelled. Reconnection is
// unconditional, with a fixed delay between attempts. Run must be called once.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.events)
	defer e.setState(StateDisconnected)

	for {
		e.setState(StateConnecting)
		err := e.connectAndServe(ctx)
		if ctx.Err() != nil {
			return nil
		}

		e.setState(StateDisconnected)
		e.log.Infow("connection closed, reconnecting", "url", e.url, "delay", e.reconnectDelay, "error", err)
		e.emit(ctx, Event{Kind: EventClosed, State: StateDisconnected, Err: err})

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(e.reconnectDelay):
		}
		e.metrics.Reconnect()
	}
}

func (e *Engine) connectAndServe(ctx context.Context) error {
	conn, resp, err := e.dialer.DialContext(ctx, e.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", e.url, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", e.url, err)
	}
	conn.SetReadLimit(maxMessageSize)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()
	defer e.detach(conn)

	e.setState(StateIdle)
	e.log.Infow("connection opened", "url", e.url)
	e.emit(ctx, Event{Kind: EventOpened, State: StateIdle})

	return e.readLoop(ctx, conn)
}

func (e *Engine) detach(conn *websocket.Conn) {
	e.mu.Lock()
	if e.conn == conn {
		e.conn = nil
	}
	e.mu.Unlock()
	conn.Close()
}

func (e *Engine) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.TextMessage {
			e.log.Debugw("ignoring non-text message", "type", mt, "bytes", len(data))
			continue
		}
		e.handle(ctx, data)
	}
}

// handle applies one structured message. Malformed or unknown messages are
// logged and dropped.
func (e *Engine) handle(ctx context.Context, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		e.log.Warnw("malformed message", "error", err)
		return
	}
	e.metrics.MessageReceived(msg.Type)

	switch msg.Type {
	case MsgStatus:
		st, ok := ParseState(msg.Status)
		if !ok {
			e.log.Warnw("unknown status", "status", msg.Status)
			return
		}
		e.setState(st)
		e.emit(ctx, Event{
			Kind:         EventState,
			State:        st,
			TurnComplete: st == StateIdle,
			StopTimer:    st == StateIdle || st == StateGenerating,
		})

	case MsgText:
		e.mu.Lock()
		if msg.IsNewResponse {
			e.transcript.Reset()
		}
		e.transcript.WriteString(msg.Content)
		transcript := e.transcript.String()
		e.mu.Unlock()
		e.emit(ctx, Event{
			Kind:       EventTranscript,
			Transcript: transcript,
			StopTimer:  msg.IsNewResponse,
		})

	case MsgError:
		e.log.Warnw("remote error", "content", msg.Content)
		e.setState(StateIdle)
		e.emit(ctx, Event{
			Kind:  EventRemoteError,
			State: StateIdle,
			Err:   &RemoteError{Message: msg.Content},
		})

	default:
		e.log.Debugw("ignoring unknown message type", "type", msg.Type)
	}
}

func (e *Engine) emit(ctx context.Context, ev Event) {
	select {
	case e.events <- ev:
	case <-ctx.Done():
	}
}

func (e *Engine) setState(st State) {
	e.mu.Lock()
	e.state = st
	e.mu.Unlock()
	e.metrics.SetConnectionState(int(st))
}

// State returns the current connection state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// IsOpen reports whether the channel is open for writing.
func (e *Engine) IsOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil
}

// Transcript returns the accumulated transcript.
func (e *Engine) Transcript() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transcript.String()
}

// ResetTranscript clears the accumulated transcript.
func (e *Engine) ResetTranscript() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transcript.Reset()
}

// SendControl encodes cmd as JSON and sends it as a text message.
func (e *Engine) SendControl(cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	if err := e.write(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Type, err)
	}
	return nil
}

// SendAudio sends one PCM frame as a binary message.
func (e *Engine) SendAudio(frame []byte) error {
	if err := e.write(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("send audio: %w", err)
	}
	e.metrics.FrameSent()
	return nil
}

func (e *Engine) write(messageType int, data []byte) error {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(messageType, data)
}
