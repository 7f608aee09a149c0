package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/challenwang408408/challenwang-braiwave/internal/capture"
	"github.com/challenwang408408/challenwang-braiwave/internal/db"
	"github.com/challenwang408408/challenwang-braiwave/internal/enhance"
	"github.com/challenwang408408/challenwang-braiwave/internal/protocol"
	"github.com/challenwang408408/challenwang-braiwave/internal/recorder"
	"github.com/challenwang408408/challenwang-braiwave/internal/ui"

	tea "github.com/charmbracelet/bubbletea"
)

const noticeTimeout = 5 * time.Second

// Recorder starts and stops live recordings.
type Recorder interface {
	Start() error
	Stop(ctx context.Context) error
}

// Replayer resends the latest stored session.
type Replayer interface {
	Available() bool
	ReplayLatest(ctx context.Context) (*db.Session, error)
}

// Enhancer runs the text enhancement calls.
type Enhancer interface {
	Readability(ctx context.Context, text string, w io.Writer) (string, error)
	Correctness(ctx context.Context, text string, w io.Writer) (string, error)
	AskAI(ctx context.Context, text string) (string, error)
}

// TranscriptResetter clears the transcript the engine accumulates.
type TranscriptResetter interface {
	ResetTranscript()
}

// Options wires the model to the rest of the client. Replayer and Enhancer
// may be nil.
type Options struct {
	Context   context.Context
	Events    <-chan protocol.Event
	Engine    TranscriptResetter
	Recorder  Recorder
	Replayer  Replayer
	Enhancer  Enhancer
	Copy      func(text string) error
	AutoCopy  bool
	AutoStart bool
	Logger    *zap.SugaredLogger
	Now       func() time.Time
}

type noticeLevel int

const (
	noticeInfo noticeLevel = iota
	noticeSuccess
	noticeWarning
	noticeError
)

// Model is the root bubbletea model for the brainwave TUI.
type Model struct {
	opts Options

	// Connection state
	state protocol.State
	open  bool

	// Recording state
	recording   bool
	stopping    bool
	replaying   bool
	autoStarted bool

	// Elapsed timer
	timerRunning bool
	timerGen     int
	timerStart   time.Time
	elapsed      time.Duration

	// Text
	transcript    string
	enhanced      string
	enhancedTitle string
	enhancing     bool

	replayAvailable bool

	// Notice line
	notice      string
	noticeLevel noticeLevel
	noticeSeq   int

	width  int
	height int
}

// New creates a model in its initial state.
func New(opts Options) Model {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Copy == nil {
		opts.Copy = clipboard.WriteAll
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return Model{
		opts:  opts,
		state: protocol.StateDisconnected,
	}
}

// Init starts listening for engine events and checks for a replayable session.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		waitForEventCmd(m.opts.Events),
		checkReplayCmd(m.opts.Replayer),
	)
}

// waitForEventCmd blocks until the next engine event.
func waitForEventCmd(events <-chan protocol.Event) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return EventsClosedMsg{}
		}
		return EngineEventMsg{Event: ev}
	}
}

// checkReplayCmd refreshes the replay availability flag.
func checkReplayCmd(r Replayer) tea.Cmd {
	if r == nil {
		return nil
	}
	return func() tea.Msg {
		return ReplayAvailableMsg{Available: r.Available()}
	}
}

func startCmd(r Recorder) tea.Cmd {
	return func() tea.Msg {
		return StartResultMsg{Err: r.Start()}
	}
}

func stopCmd(ctx context.Context, r Recorder) tea.Cmd {
	return func() tea.Msg {
		return StopResultMsg{Err: r.Stop(ctx)}
	}
}

func replayCmd(ctx context.Context, r Replayer) tea.Cmd {
	return func() tea.Msg {
		sess, err := r.ReplayLatest(ctx)
		return ReplayResultMsg{Session: sess, Err: err}
	}
}

// enhanceCmd runs one enhancement call. The TUI shows the final text, so
// nothing is streamed.
func enhanceCmd(ctx context.Context, e Enhancer, key, text string) tea.Cmd {
	return func() tea.Msg {
		var (
			title string
			out   string
			err   error
		)
		switch key {
		case KeyReadability:
			title = "READABILITY"
			out, err = e.Readability(ctx, text, nil)
		case KeyCorrectness:
			title = "CORRECTNESS"
			out, err = e.Correctness(ctx, text, nil)
		default:
			title = "ASK AI"
			out, err = e.AskAI(ctx, text)
		}
		return EnhancedMsg{Title: title, Text: out, Err: err}
	}
}

func copyCmd(copyFn func(string) error, text string, auto bool) tea.Cmd {
	return func() tea.Msg {
		return CopiedMsg{Auto: auto, Err: copyFn(text)}
	}
}

func timerTickCmd(gen int) tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TimerTickMsg{Gen: gen, Time: t}
	})
}

// clearNoticeCmd fires after a delay to clear the notice line.
func clearNoticeCmd(seq int) tea.Cmd {
	return tea.Tick(noticeTimeout, func(time.Time) tea.Msg {
		return ClearNoticeMsg{Seq: seq}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case EngineEventMsg:
		cmd := m.handleEvent(msg.Event)
		return m, tea.Batch(cmd, waitForEventCmd(m.opts.Events))

	case EventsClosedMsg:
		m.open = false
		m.state = protocol.StateDisconnected
		return m, nil

	case StartResultMsg:
		if msg.Err == nil {
			m.recording = true
			return m, tea.Batch(m.startTimer(), m.setNotice(noticeInfo, "Recording..."))
		}
		if errors.Is(msg.Err, recorder.ErrBusy) {
			return m, nil
		}
		m.opts.Logger.Warnw("start recording failed", "error", msg.Err)
		return m, m.setNotice(noticeError, startErrorText(msg.Err))

	case StopResultMsg:
		m.stopping = false
		cmds := []tea.Cmd{checkReplayCmd(m.opts.Replayer)}
		if msg.Err != nil && !errors.Is(msg.Err, recorder.ErrBusy) {
			m.opts.Logger.Warnw("stop recording failed", "error", msg.Err)
			cmds = append(cmds, m.setNotice(noticeError, "Failed to send stop: "+msg.Err.Error()))
		}
		return m, tea.Batch(cmds...)

	case ReplayResultMsg:
		m.replaying = false
		cmds := []tea.Cmd{checkReplayCmd(m.opts.Replayer)}
		switch {
		case msg.Err == nil:
			cmds = append(cmds, m.setNotice(noticeSuccess, "Replay sent, waiting for transcription"))
		case errors.Is(msg.Err, recorder.ErrBusy):
		case errors.Is(msg.Err, recorder.ErrNoSession):
			cmds = append(cmds, m.setNotice(noticeWarning, "No recording to replay"))
		case errors.Is(msg.Err, recorder.ErrStoreUnavailable):
			cmds = append(cmds, m.setNotice(noticeWarning, "Session storage is unavailable"))
		default:
			m.opts.Logger.Warnw("replay failed", "error", msg.Err)
			cmds = append(cmds, m.setNotice(noticeError, "Replay failed: "+msg.Err.Error()))
		}
		return m, tea.Batch(cmds...)

	case ReplayAvailableMsg:
		m.replayAvailable = msg.Available
		return m, nil

	case EnhancedMsg:
		m.enhancing = false
		if msg.Err != nil {
			if errors.Is(msg.Err, enhance.ErrEmptyText) {
				return m, m.setNotice(noticeWarning, "No transcript to enhance")
			}
			m.opts.Logger.Warnw("enhancement failed", "title", msg.Title, "error", msg.Err)
			return m, m.setNotice(noticeError, "Enhancement failed: "+msg.Err.Error())
		}
		m.enhancedTitle = msg.Title
		m.enhanced = msg.Text
		return m, nil

	case CopiedMsg:
		return m, m.copyNotice(msg)

	case TimerTickMsg:
		if !m.timerRunning || msg.Gen != m.timerGen {
			return m, nil
		}
		m.elapsed = m.opts.Now().Sub(m.timerStart)
		return m, timerTickCmd(m.timerGen)

	case ClearNoticeMsg:
		if msg.Seq == m.noticeSeq {
			m.notice = ""
		}
		return m, nil
	}

	return m, nil
}

// handleEvent processes an engine event and returns any resulting command.
func (m *Model) handleEvent(ev protocol.Event) tea.Cmd {
	switch ev.Kind {
	case protocol.EventOpened:
		m.open = true
		m.state = protocol.StateIdle
		if m.opts.AutoStart && !m.autoStarted && m.idle() {
			m.autoStarted = true
			return m.beginRecording()
		}

	case protocol.EventClosed:
		m.open = false
		m.state = protocol.StateDisconnected
		if m.recording {
			return m.setNotice(noticeWarning, "Connection lost, audio is not reaching the server. Press Space to stop")
		}

	case protocol.EventState:
		m.state = ev.State
		if ev.StopTimer {
			m.stopTimer()
		}
		if ev.TurnComplete {
			cmds := []tea.Cmd{checkReplayCmd(m.opts.Replayer)}
			if m.opts.AutoCopy && strings.TrimSpace(m.transcript) != "" {
				cmds = append(cmds, copyCmd(m.opts.Copy, m.transcript, true))
			}
			return tea.Batch(cmds...)
		}

	case protocol.EventTranscript:
		m.transcript = ev.Transcript
		if ev.StopTimer {
			m.stopTimer()
		}

	case protocol.EventRemoteError:
		m.state = protocol.StateIdle
		text := "An error occurred"
		var remote *protocol.RemoteError
		if errors.As(ev.Err, &remote) && remote.Message != "" {
			text = remote.Message
		}
		return tea.Batch(m.setNotice(noticeError, text), checkReplayCmd(m.opts.Replayer))
	}

	return nil
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		return m, tea.Quit

	case KeySpace:
		if m.recording {
			m.recording = false
			m.stopping = true
			m.stopTimer()
			return m, tea.Batch(
				stopCmd(m.opts.Context, m.opts.Recorder),
				m.setNotice(noticeInfo, "Recording stopped, processing..."),
			)
		}
		if !m.idle() {
			return m, nil
		}
		return m, m.beginRecording()

	case KeyReplay:
		switch {
		case m.recording || m.stopping:
			return m, m.setNotice(noticeWarning, "Stop recording before replaying")
		case m.replaying || m.opts.Replayer == nil:
			return m, nil
		case !m.replayAvailable:
			return m, m.setNotice(noticeWarning, "No recording to replay")
		}
		m.replaying = true
		m.clearText()
		return m, tea.Batch(
			replayCmd(m.opts.Context, m.opts.Replayer),
			m.setNotice(noticeInfo, "Replaying last recording..."),
		)

	case KeyReadability, KeyCorrectness, KeyAskAI:
		if m.opts.Enhancer == nil || m.enhancing {
			return m, nil
		}
		m.enhancing = true
		return m, enhanceCmd(m.opts.Context, m.opts.Enhancer, msg.String(), m.transcript)

	case KeyCopy:
		if strings.TrimSpace(m.transcript) == "" {
			return m, m.setNotice(noticeWarning, "Nothing to copy")
		}
		return m, copyCmd(m.opts.Copy, m.transcript, false)
	}

	return m, nil
}

func (m *Model) idle() bool {
	return !m.recording && !m.stopping && !m.replaying
}

// beginRecording clears the previous text and asks the recorder to start.
func (m *Model) beginRecording() tea.Cmd {
	m.clearText()
	return startCmd(m.opts.Recorder)
}

func (m *Model) clearText() {
	m.transcript = ""
	m.enhanced = ""
	m.enhancedTitle = ""
	if m.opts.Engine != nil {
		m.opts.Engine.ResetTranscript()
	}
}

func (m *Model) startTimer() tea.Cmd {
	m.timerGen++
	m.timerRunning = true
	m.timerStart = m.opts.Now()
	m.elapsed = 0
	return timerTickCmd(m.timerGen)
}

func (m *Model) stopTimer() {
	if !m.timerRunning {
		return
	}
	m.timerRunning = false
	m.elapsed = m.opts.Now().Sub(m.timerStart)
}

func (m *Model) setNotice(level noticeLevel, text string) tea.Cmd {
	m.noticeSeq++
	m.notice = text
	m.noticeLevel = level
	return clearNoticeCmd(m.noticeSeq)
}

func (m *Model) copyNotice(msg CopiedMsg) tea.Cmd {
	switch {
	case msg.Auto && msg.Err == nil:
		return m.setNotice(noticeSuccess, "Transcription complete, text copied to clipboard")
	case msg.Auto:
		m.opts.Logger.Infow("auto-copy failed", "error", msg.Err)
		return m.setNotice(noticeSuccess, "Transcription complete. Auto-copy failed, press y to copy")
	case msg.Err == nil:
		return m.setNotice(noticeSuccess, "Copied to clipboard")
	default:
		return m.setNotice(noticeError, "Copy failed: "+msg.Err.Error())
	}
}

func startErrorText(err error) string {
	switch {
	case errors.Is(err, protocol.ErrNotOpen):
		return "Not connected to the server, try again once connected"
	case capture.IsCapability(err):
		return capture.Describe(err)
	default:
		return "Failed to start recording, please retry"
	}
}

func formatElapsed(d time.Duration) string {
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string

	sections = append(sections, m.renderHeader())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))

	transcriptH, enhancedH := m.panelHeights()
	sections = append(sections, m.renderTranscript(transcriptH))

	if enhancedH > 0 {
		sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))
		sections = append(sections, m.renderEnhanced(enhancedH))
	}

	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))

	if m.notice != "" {
		sections = append(sections, m.renderNotice())
	}

	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

// panelHeights splits the content area between transcript and enhanced text.
func (m Model) panelHeights() (int, int) {
	// Reserve: header(1) + dividers(2) + notice(1) + footer(1)
	content := max(4, m.height-5)
	if m.enhanced == "" && !m.enhancing {
		return content, 0
	}
	enhanced := max(2, content/3)
	// One more line for the extra divider.
	return max(2, content-enhanced-1), enhanced
}

func (m Model) renderHeader() string {
	title := ui.TitleStyle.Render("BRAINWAVE")
	state := ui.StateStyle(m.state).Render(" " + strings.ToUpper(m.state.String()))

	var activity string
	switch {
	case m.recording:
		activity = ui.RecordingDotStyle.Render("● REC")
	case m.stopping:
		activity = ui.SpinnerStyle.Render("◌ STOPPING")
	case m.replaying:
		activity = ui.ReplayingDotStyle.Render("↻ REPLAY")
	default:
		activity = ui.IdleDotStyle.Render("○ IDLE")
	}

	timer := ui.TimerStyle.Render(formatElapsed(m.elapsed))

	var replay string
	if m.replayAvailable {
		replay = ui.DimStyle.Render("  replay ready")
	}

	left := title + state
	right := activity + "  " + timer + replay
	gap := max(1, m.width-lipgloss.Width(left)-lipgloss.Width(right))
	return left + strings.Repeat(" ", gap) + right
}

func (m Model) renderTranscript(height int) string {
	lines := []string{ui.PanelTitleStyle.Render("TRANSCRIPT")}

	body := height - 1
	switch {
	case m.transcript != "":
		wrapped := wrapText(m.transcript, max(10, m.width-2))
		if len(wrapped) > body {
			wrapped = wrapped[len(wrapped)-body:]
		}
		for _, l := range wrapped {
			lines = append(lines, "  "+l)
		}
	case !m.open:
		lines = append(lines, ui.DimStyle.Render("  Connecting to server..."))
	default:
		lines = append(lines, ui.DimStyle.Render("  Press Space to start recording"))
	}

	return padLines(lines, height)
}

func (m Model) renderEnhanced(height int) string {
	title := m.enhancedTitle
	if title == "" {
		title = "ENHANCED"
	}
	lines := []string{ui.PanelTitleStyle.Render(title)}
	if m.enhancing {
		lines[0] += ui.SpinnerStyle.Render(" ...")
	}
	if m.enhanced != "" {
		wrapped := wrapText(m.enhanced, max(10, m.width-2))
		if len(wrapped) > height-1 {
			wrapped = wrapped[:height-1]
		}
		for _, l := range wrapped {
			lines = append(lines, "  "+l)
		}
	}
	return padLines(lines, height)
}

func (m Model) renderNotice() string {
	switch m.noticeLevel {
	case noticeError:
		return ui.ErrorStyle.Render("Error: ") + ui.ErrorTextStyle.Render(m.notice)
	case noticeWarning:
		return ui.WarningTextStyle.Render(m.notice)
	case noticeSuccess:
		return ui.SuccessTextStyle.Render(m.notice)
	default:
		return ui.InfoTextStyle.Render(m.notice)
	}
}

func (m Model) renderFooter() string {
	var parts []string

	if m.recording {
		parts = append(parts, ui.FooterKeyStyle.Render("Space")+ui.FooterDescStyle.Render(" Stop"))
	} else {
		parts = append(parts, ui.FooterKeyStyle.Render("Space")+ui.FooterDescStyle.Render(" Record"))
	}
	if m.replayAvailable {
		parts = append(parts, ui.FooterKeyStyle.Render("p")+ui.FooterDescStyle.Render(" Replay"))
	}
	if m.opts.Enhancer != nil {
		parts = append(parts, ui.FooterKeyStyle.Render("r")+ui.FooterDescStyle.Render(" Readability"))
		parts = append(parts, ui.FooterKeyStyle.Render("c")+ui.FooterDescStyle.Render(" Correctness"))
		parts = append(parts, ui.FooterKeyStyle.Render("a")+ui.FooterDescStyle.Render(" Ask AI"))
	}
	parts = append(parts, ui.FooterKeyStyle.Render("y")+ui.FooterDescStyle.Render(" Copy"))
	parts = append(parts, ui.FooterKeyStyle.Render("q")+ui.FooterDescStyle.Render(" Quit"))

	return strings.Join(parts, "  ")
}

// Helpers

func padLines(lines []string, height int) string {
	for len(lines) < height {
		lines = append(lines, "")
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	return strings.Join(lines, "\n")
}

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var current string
		for _, word := range strings.Fields(paragraph) {
			if current == "" {
				current = word
			} else if lipgloss.Width(current)+1+lipgloss.Width(word) <= width {
				current += " " + word
			} else {
				lines = append(lines, current)
				current = word
			}
		}
		lines = append(lines, current)
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}
