package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/challenwang408408/challenwang-braiwave/internal/capture"
	"github.com/challenwang408408/challenwang-braiwave/internal/db"
	"github.com/challenwang408408/challenwang-braiwave/internal/enhance"
	"github.com/challenwang408408/challenwang-braiwave/internal/protocol"
	"github.com/challenwang408408/challenwang-braiwave/internal/recorder"
)

type fakeRecorder struct {
	mu       sync.Mutex
	startErr error
	stopErr  error
	starts   int
	stops    int
}

func (r *fakeRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	return r.startErr
}

func (r *fakeRecorder) Stop(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return r.stopErr
}

func (r *fakeRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops
}

type fakeReplayer struct {
	available bool
	err       error
}

func (r *fakeReplayer) Available() bool { return r.available }

func (r *fakeReplayer) ReplayLatest(context.Context) (*db.Session, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &db.Session{ID: 1, Status: db.StatusCompleted}, nil
}

type fakeEnhancer struct{}

func (fakeEnhancer) Readability(_ context.Context, text string, _ io.Writer) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", enhance.ErrEmptyText
	}
	return "readable: " + text, nil
}

func (fakeEnhancer) Correctness(_ context.Context, text string, _ io.Writer) (string, error) {
	return "correct: " + text, nil
}

func (fakeEnhancer) AskAI(_ context.Context, text string) (string, error) {
	return "answer: " + text, nil
}

type fakeEngine struct {
	resets int
}

func (e *fakeEngine) ResetTranscript() { e.resets++ }

type fakeClipboard struct {
	mu   sync.Mutex
	err  error
	text []string
}

func (c *fakeClipboard) write(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = append(c.text, text)
	return c.err
}

func (c *fakeClipboard) writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.text...)
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

type fixture struct {
	rec    *fakeRecorder
	replay *fakeReplayer
	engine *fakeEngine
	clip   *fakeClipboard
	clock  *clock
}

func newTestModel(mod func(*Options)) (Model, *fixture) {
	f := &fixture{
		rec:    &fakeRecorder{},
		replay: &fakeReplayer{},
		engine: &fakeEngine{},
		clip:   &fakeClipboard{},
		clock:  &clock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)},
	}
	opts := Options{
		Engine:   f.engine,
		Recorder: f.rec,
		Replayer: f.replay,
		Enhancer: fakeEnhancer{},
		Copy:     f.clip.write,
		AutoCopy: true,
		Now:      f.clock.Now,
	}
	if mod != nil {
		mod(&opts)
	}
	m := New(opts)
	m.width = 80
	m.height = 24
	return m, f
}

// drain runs cmd and every command it batches, collecting the messages
// produced within a short window. Ticks fire too late to be collected.
func drain(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	out := make(chan tea.Msg, 64)
	var run func(tea.Cmd)
	run = func(c tea.Cmd) {
		if c == nil {
			return
		}
		go func() {
			msg := c()
			if batch, ok := msg.(tea.BatchMsg); ok {
				for _, c := range batch {
					run(c)
				}
				return
			}
			out <- msg
		}()
	}
	run(cmd)

	var msgs []tea.Msg
	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case msg := <-out:
			msgs = append(msgs, msg)
		case <-deadline:
			return msgs
		}
	}
}

func find[T tea.Msg](msgs []tea.Msg) (T, bool) {
	for _, msg := range msgs {
		if v, ok := msg.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func applyUpdate(m Model, msg tea.Msg) (Model, tea.Cmd) {
	updated, cmd := m.Update(msg)
	return updated.(Model), cmd
}

func pressKey(m Model, key string) (Model, tea.Cmd) {
	return applyUpdate(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)})
}

// startRecording presses Space and feeds back the start result.
func startRecording(t *testing.T, m Model) Model {
	t.Helper()
	m, cmd := pressKey(m, KeySpace)
	res, ok := find[StartResultMsg](drain(cmd))
	if !ok {
		t.Fatal("space did not start recording")
	}
	m, _ = applyUpdate(m, res)
	return m
}

func TestNewModel(t *testing.T) {
	m := New(Options{})
	if m.state != protocol.StateDisconnected {
		t.Errorf("state = %v, want disconnected", m.state)
	}
	if m.recording || m.replaying || m.stopping {
		t.Error("new model should be idle")
	}
	if got := m.View(); got != "Initializing..." {
		t.Errorf("view before size = %q", got)
	}
}

func TestOpenedEvent(t *testing.T) {
	m, f := newTestModel(nil)

	m, cmd := applyUpdate(m, EngineEventMsg{Event: protocol.Event{Kind: protocol.EventOpened, State: protocol.StateIdle}})
	if !m.open || m.state != protocol.StateIdle {
		t.Errorf("open = %v, state = %v", m.open, m.state)
	}
	drain(cmd)
	if starts, _ := f.rec.counts(); starts != 0 {
		t.Errorf("starts = %d without auto start", starts)
	}

	m, _ = applyUpdate(m, EngineEventMsg{Event: protocol.Event{Kind: protocol.EventClosed, State: protocol.StateDisconnected}})
	if m.open || m.state != protocol.StateDisconnected {
		t.Errorf("after close: open = %v, state = %v", m.open, m.state)
	}
	if m.notice != "" {
		t.Errorf("notice = %q, want none while idle", m.notice)
	}
}

func TestConnectionLostWhileRecording(t *testing.T) {
	m, _ := newTestModel(nil)
	m.open = true
	m = startRecording(t, m)

	m, _ = applyUpdate(m, EngineEventMsg{Event: protocol.Event{Kind: protocol.EventClosed, State: protocol.StateDisconnected}})
	if !m.recording {
		t.Error("recording should continue until stopped")
	}
	if m.noticeLevel != noticeWarning || !strings.Contains(m.notice, "Connection lost") {
		t.Errorf("notice = %q (level %v)", m.notice, m.noticeLevel)
	}
}

func TestAutoStartOnce(t *testing.T) {
	m, f := newTestModel(func(o *Options) { o.AutoStart = true })

	opened := EngineEventMsg{Event: protocol.Event{Kind: protocol.EventOpened, State: protocol.StateIdle}}
	m, cmd := applyUpdate(m, opened)
	res, ok := find[StartResultMsg](drain(cmd))
	if !ok {
		t.Fatal("auto start did not run")
	}
	m, _ = applyUpdate(m, res)
	if !m.recording {
		t.Fatal("should be recording after auto start")
	}

	// A reconnect does not start a second recording.
	m.recording = false
	_, cmd = applyUpdate(m, opened)
	drain(cmd)
	if starts, _ := f.rec.counts(); starts != 1 {
		t.Errorf("starts = %d, want 1", starts)
	}
}

func TestSpaceStartsAndStops(t *testing.T) {
	m, f := newTestModel(nil)
	m.transcript = "old text"
	m.enhanced = "old enhanced"

	m = startRecording(t, m)
	if !m.recording || !m.timerRunning {
		t.Fatalf("recording = %v, timer = %v", m.recording, m.timerRunning)
	}
	if m.transcript != "" || m.enhanced != "" {
		t.Error("start should clear previous text")
	}
	if f.engine.resets != 1 {
		t.Errorf("engine resets = %d, want 1", f.engine.resets)
	}

	m, cmd := pressKey(m, KeySpace)
	if m.recording || !m.stopping {
		t.Fatalf("after stop key: recording = %v, stopping = %v", m.recording, m.stopping)
	}
	if m.timerRunning {
		t.Error("timer should stop on stop")
	}
	msgs := drain(cmd)
	res, ok := find[StopResultMsg](msgs)
	if !ok {
		t.Fatal("no stop result")
	}
	m, cmd = applyUpdate(m, res)
	if m.stopping {
		t.Error("should be idle after stop result")
	}
	if _, ok := find[ReplayAvailableMsg](drain(cmd)); !ok {
		t.Error("stop should refresh replay availability")
	}
	if starts, stops := f.rec.counts(); starts != 1 || stops != 1 {
		t.Errorf("starts = %d, stops = %d", starts, stops)
	}
}

func TestSpaceIgnoredWhileBusy(t *testing.T) {
	m, f := newTestModel(nil)
	m.replaying = true
	_, cmd := pressKey(m, KeySpace)
	drain(cmd)

	m.replaying = false
	m.stopping = true
	_, cmd = pressKey(m, KeySpace)
	drain(cmd)

	if starts, stops := f.rec.counts(); starts != 0 || stops != 0 {
		t.Errorf("starts = %d, stops = %d, want none", starts, stops)
	}
}

func TestStartErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"capability", capture.ErrNoDevice, capture.Describe(capture.ErrNoDevice)},
		{"not connected", protocol.ErrNotOpen, "Not connected to the server, try again once connected"},
		{"other", errors.New("write: broken pipe"), "Failed to start recording, please retry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestModel(nil)
			m, _ = applyUpdate(m, StartResultMsg{Err: tt.err})
			if m.recording {
				t.Error("should not be recording")
			}
			if m.notice != tt.want || m.noticeLevel != noticeError {
				t.Errorf("notice = %q (level %d), want %q", m.notice, m.noticeLevel, tt.want)
			}
		})
	}

	m, _ := newTestModel(nil)
	m, _ = applyUpdate(m, StartResultMsg{Err: recorder.ErrBusy})
	if m.notice != "" {
		t.Errorf("busy start should be silent, got %q", m.notice)
	}
}

func TestElapsedTimer(t *testing.T) {
	m, f := newTestModel(nil)
	m = startRecording(t, m)
	gen := m.timerGen

	f.clock.now = f.clock.now.Add(65 * time.Second)
	m, cmd := applyUpdate(m, TimerTickMsg{Gen: gen})
	if m.elapsed != 65*time.Second {
		t.Errorf("elapsed = %v, want 65s", m.elapsed)
	}
	if cmd == nil {
		t.Error("running timer should schedule the next tick")
	}
	if got := formatElapsed(m.elapsed); got != "01:05" {
		t.Errorf("formatElapsed = %q", got)
	}

	m, _ = applyUpdate(m, TimerTickMsg{Gen: gen - 1})
	if m.elapsed != 65*time.Second {
		t.Error("stale tick should be ignored")
	}

	f.clock.now = f.clock.now.Add(5 * time.Second)
	m, _ = applyUpdate(m, EngineEventMsg{Event: protocol.Event{Kind: protocol.EventState, State: protocol.StateGenerating, StopTimer: true}})
	if m.timerRunning {
		t.Error("generating should stop the timer")
	}
	if m.elapsed != 70*time.Second {
		t.Errorf("elapsed = %v, want 70s", m.elapsed)
	}

	f.clock.now = f.clock.now.Add(5 * time.Second)
	m, cmd = applyUpdate(m, TimerTickMsg{Gen: gen})
	if m.elapsed != 70*time.Second || cmd != nil {
		t.Error("stopped timer should not advance")
	}
}

func TestTranscriptEvents(t *testing.T) {
	m, _ := newTestModel(nil)
	m.timerRunning = true

	m, _ = applyUpdate(m, EngineEventMsg{Event: protocol.Event{Kind: protocol.EventTranscript, Transcript: "He"}})
	if m.transcript != "He" || !m.timerRunning {
		t.Errorf("transcript = %q, timer = %v", m.transcript, m.timerRunning)
	}
	m, _ = applyUpdate(m, EngineEventMsg{Event: protocol.Event{Kind: protocol.EventTranscript, Transcript: "Hello", StopTimer: true}})
	if m.transcript != "Hello" || m.timerRunning {
		t.Errorf("transcript = %q, timer = %v", m.transcript, m.timerRunning)
	}
}

func TestTurnCompleteAutoCopies(t *testing.T) {
	m, f := newTestModel(nil)
	m.transcript = "Hello world"

	m, cmd := applyUpdate(m, EngineEventMsg{Event: protocol.Event{Kind: protocol.EventState, State: protocol.StateIdle, TurnComplete: true, StopTimer: true}})
	msgs := drain(cmd)
	copied, ok := find[CopiedMsg](msgs)
	if !ok || !copied.Auto {
		t.Fatalf("expected auto copy, got %v", msgs)
	}
	if _, ok := find[ReplayAvailableMsg](msgs); !ok {
		t.Error("turn complete should refresh replay availability")
	}
	if got := f.clip.writes(); len(got) != 1 || got[0] != "Hello world" {
		t.Errorf("clipboard = %q", got)
	}

	m, _ = applyUpdate(m, copied)
	if !strings.Contains(m.notice, "copied") {
		t.Errorf("notice = %q", m.notice)
	}
}

func TestAutoCopyFailureNotice(t *testing.T) {
	m, _ := newTestModel(nil)
	m, _ = applyUpdate(m, CopiedMsg{Auto: true, Err: errors.New("no clipboard utility")})
	if !strings.Contains(m.notice, "press y") {
		t.Errorf("notice = %q", m.notice)
	}
}

func TestNoAutoCopy(t *testing.T) {
	turnDone := EngineEventMsg{Event: protocol.Event{Kind: protocol.EventState, State: protocol.StateIdle, TurnComplete: true}}

	m, f := newTestModel(func(o *Options) { o.AutoCopy = false })
	m.transcript = "Hello"
	_, cmd := applyUpdate(m, turnDone)
	drain(cmd)

	m, g := newTestModel(nil)
	m.transcript = "   "
	_, cmd = applyUpdate(m, turnDone)
	drain(cmd)

	if len(f.clip.writes()) != 0 || len(g.clip.writes()) != 0 {
		t.Error("clipboard should not be written")
	}
}

func TestRemoteError(t *testing.T) {
	m, _ := newTestModel(nil)
	m.state = protocol.StateGenerating

	m, cmd := applyUpdate(m, EngineEventMsg{Event: protocol.Event{
		Kind:  protocol.EventRemoteError,
		State: protocol.StateIdle,
		Err:   &protocol.RemoteError{Message: "quota exceeded"},
	}})
	if m.state != protocol.StateIdle {
		t.Errorf("state = %v, want idle", m.state)
	}
	if m.notice != "quota exceeded" || m.noticeLevel != noticeError {
		t.Errorf("notice = %q", m.notice)
	}
	if _, ok := find[ReplayAvailableMsg](drain(cmd)); !ok {
		t.Error("error should refresh replay availability")
	}

	m, _ = applyUpdate(m, EngineEventMsg{Event: protocol.Event{Kind: protocol.EventRemoteError, Err: &protocol.RemoteError{}}})
	if m.notice != "An error occurred" {
		t.Errorf("notice = %q", m.notice)
	}
}

func TestReplayKey(t *testing.T) {
	m, f := newTestModel(nil)

	m, _ = pressKey(m, KeyReplay)
	if m.replaying || m.notice != "No recording to replay" {
		t.Errorf("replaying = %v, notice = %q", m.replaying, m.notice)
	}

	f.replay.available = true
	m, _ = applyUpdate(m, ReplayAvailableMsg{Available: true})
	m.transcript = "old"
	m, cmd := pressKey(m, KeyReplay)
	if !m.replaying || m.transcript != "" {
		t.Fatalf("replaying = %v, transcript = %q", m.replaying, m.transcript)
	}
	if f.engine.resets != 1 {
		t.Errorf("engine resets = %d", f.engine.resets)
	}

	// Recording is blocked while the replay runs.
	m2, cmd2 := pressKey(m, KeySpace)
	drain(cmd2)
	if m2.recording {
		t.Error("space should not record during replay")
	}

	res, ok := find[ReplayResultMsg](drain(cmd))
	if !ok {
		t.Fatal("no replay result")
	}
	m, _ = applyUpdate(m, res)
	if m.replaying {
		t.Error("replay should finish")
	}
	if !strings.Contains(m.notice, "Replay sent") {
		t.Errorf("notice = %q", m.notice)
	}
}

func TestReplayKeyWhileRecording(t *testing.T) {
	m, _ := newTestModel(nil)
	m.replayAvailable = true
	m.recording = true

	m, _ = pressKey(m, KeyReplay)
	if m.replaying {
		t.Error("replay should not start while recording")
	}
	if m.notice != "Stop recording before replaying" {
		t.Errorf("notice = %q", m.notice)
	}
}

func TestReplayErrors(t *testing.T) {
	tests := []struct {
		err   error
		want  string
		level noticeLevel
	}{
		{recorder.ErrNoSession, "No recording to replay", noticeWarning},
		{recorder.ErrStoreUnavailable, "Session storage is unavailable", noticeWarning},
		{errors.Join(recorder.ErrReplayAborted, protocol.ErrNotOpen), "Replay failed: ", noticeError},
	}
	for _, tt := range tests {
		m, _ := newTestModel(nil)
		m.replaying = true
		m, _ = applyUpdate(m, ReplayResultMsg{Err: tt.err})
		if m.replaying {
			t.Error("replay flag should clear")
		}
		if !strings.HasPrefix(m.notice, tt.want) || m.noticeLevel != tt.level {
			t.Errorf("%v: notice = %q (level %d)", tt.err, m.notice, m.noticeLevel)
		}
	}
}

func TestEnhanceKeys(t *testing.T) {
	tests := []struct {
		key   string
		title string
		text  string
	}{
		{KeyReadability, "READABILITY", "readable: um hello"},
		{KeyCorrectness, "CORRECTNESS", "correct: um hello"},
		{KeyAskAI, "ASK AI", "answer: um hello"},
	}
	for _, tt := range tests {
		m, _ := newTestModel(nil)
		m.transcript = "um hello"

		m, cmd := pressKey(m, tt.key)
		if !m.enhancing {
			t.Fatalf("%s: should be enhancing", tt.key)
		}
		// A second press while busy is ignored.
		if _, again := pressKey(m, tt.key); again != nil {
			t.Errorf("%s: second press should be ignored", tt.key)
		}

		res, ok := find[EnhancedMsg](drain(cmd))
		if !ok {
			t.Fatalf("%s: no result", tt.key)
		}
		m, _ = applyUpdate(m, res)
		if m.enhancing || m.enhancedTitle != tt.title || m.enhanced != tt.text {
			t.Errorf("%s: title = %q, text = %q", tt.key, m.enhancedTitle, m.enhanced)
		}
	}
}

func TestEnhanceEmptyTranscript(t *testing.T) {
	m, _ := newTestModel(nil)
	m, cmd := pressKey(m, KeyReadability)
	res, ok := find[EnhancedMsg](drain(cmd))
	if !ok {
		t.Fatal("no result")
	}
	m, _ = applyUpdate(m, res)
	if m.notice != "No transcript to enhance" || m.enhanced != "" {
		t.Errorf("notice = %q, enhanced = %q", m.notice, m.enhanced)
	}
}

func TestCopyKey(t *testing.T) {
	m, f := newTestModel(nil)
	m, _ = pressKey(m, KeyCopy)
	if m.notice != "Nothing to copy" {
		t.Errorf("notice = %q", m.notice)
	}

	m.transcript = "copy me"
	m, cmd := pressKey(m, KeyCopy)
	res, ok := find[CopiedMsg](drain(cmd))
	if !ok || res.Auto {
		t.Fatal("expected manual copy result")
	}
	m, _ = applyUpdate(m, res)
	if m.notice != "Copied to clipboard" {
		t.Errorf("notice = %q", m.notice)
	}
	if got := f.clip.writes(); len(got) != 1 || got[0] != "copy me" {
		t.Errorf("clipboard = %q", got)
	}
}

func TestClearNotice(t *testing.T) {
	m, _ := newTestModel(nil)
	m, _ = applyUpdate(m, CopiedMsg{})
	first := m.noticeSeq
	m, _ = pressKey(m, KeyCopy)

	m, _ = applyUpdate(m, ClearNoticeMsg{Seq: first})
	if m.notice == "" {
		t.Error("stale clear should keep the newer notice")
	}
	m, _ = applyUpdate(m, ClearNoticeMsg{Seq: m.noticeSeq})
	if m.notice != "" {
		t.Errorf("notice = %q, want cleared", m.notice)
	}
}

func TestEventsClosed(t *testing.T) {
	events := make(chan protocol.Event, 1)
	m, _ := newTestModel(func(o *Options) { o.Events = events })
	m.open = true

	events <- protocol.Event{Kind: protocol.EventState, State: protocol.StateConnected}
	msg := waitForEventCmd(events)()
	m, _ = applyUpdate(m, msg)
	if m.state != protocol.StateConnected {
		t.Errorf("state = %v", m.state)
	}

	close(events)
	msg = waitForEventCmd(events)()
	if _, ok := msg.(EventsClosedMsg); !ok {
		t.Fatalf("msg = %T, want EventsClosedMsg", msg)
	}
	m, _ = applyUpdate(m, msg)
	if m.open || m.state != protocol.StateDisconnected {
		t.Error("closed stream should read as disconnected")
	}
}

func TestQuit(t *testing.T) {
	m, _ := newTestModel(nil)
	_, cmd := pressKey(m, KeyQuit)
	if cmd == nil {
		t.Fatal("quit should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestView(t *testing.T) {
	m, _ := newTestModel(nil)

	view := m.View()
	for _, want := range []string{"BRAINWAVE", "DISCONNECTED", "TRANSCRIPT", "Connecting to server", "00:00", "Quit"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	m.open = true
	m.state = protocol.StateIdle
	m.recording = true
	m.transcript = "the quick brown fox"
	m.enhancedTitle = "READABILITY"
	m.enhanced = "The quick brown fox."
	m.replayAvailable = true
	view = m.View()
	for _, want := range []string{"IDLE", "REC", "the quick brown fox", "READABILITY", "The quick brown fox.", "Replay", "Stop"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if n := len(strings.Split(view, "\n")); n > m.height {
		t.Errorf("view has %d lines, height %d", n, m.height)
	}
}

func TestWrapText(t *testing.T) {
	got := wrapText("one two three four", 9)
	want := []string{"one two", "three", "four"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("wrapText = %q, want %q", got, want)
	}
	if got := wrapText("", 10); len(got) != 1 || got[0] != "" {
		t.Errorf("wrapText empty = %q", got)
	}
	if got := wrapText("a\nb", 10); len(got) != 2 {
		t.Errorf("wrapText paragraphs = %q", got)
	}
}
