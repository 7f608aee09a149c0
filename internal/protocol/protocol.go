// Package protocol provides the message types and the connection engine for
// talking to the transcription backend over a websocket.
package protocol

import "fmt"

// Outgoing command types.
const (
	CmdStartRecording = "start_recording"
	CmdStopRecording  = "stop_recording"
)

// Incoming message types.
const (
	MsgStatus = "status"
	MsgText   = "text"
	MsgError  = "error"
)

// Command is a structured control message sent to the backend.
type Command struct {
	Type  string `json:"type"`
	Model string `json:"model,omitempty"`
}

// StartRecording builds a start_recording command for model.
func StartRecording(model string) Command {
	return Command{Type: CmdStartRecording, Model: model}
}

// StopRecording builds a stop_recording command.
func StopRecording() Command {
	return Command{Type: CmdStopRecording}
}

// Message is a structured message received from the backend.
type Message struct {
	Type          string `json:"type"`
	Status        string `json:"status,omitempty"`
	Content       string `json:"content,omitempty"`
	IsNewResponse bool   `json:"isNewResponse,omitempty"`
}

// State is the connection state held by the Engine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateIdle
	StateConnected
	StateGenerating
)

var stateNames = map[State]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateIdle:         "idle",
	StateConnected:    "connected",
	StateGenerating:   "generating",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState maps a wire status string to a State. Disconnected is a local
// state only and is never accepted from the server.
func ParseState(s string) (State, bool) {
	for st, name := range stateNames {
		if st != StateDisconnected && name == s {
			return st, true
		}
	}
	return StateDisconnected, false
}

// RemoteError is an error reported by the backend through an error message.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote error: " + e.Message
}
