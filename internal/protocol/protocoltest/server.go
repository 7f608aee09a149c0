// Package protocoltest provides a fake transcription backend for tests.
package protocoltest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/challenwang408408/challenwang-braiwave/internal/protocol"
)

// Received is one message the fake backend read from a client.
type Received struct {
	Type int
	Data []byte
}

// Command decodes a text message as a control command.
func (r Received) Command() (protocol.Command, bool) {
	if r.Type != websocket.TextMessage {
		return protocol.Command{}, false
	}
	var cmd protocol.Command
	if err := json.Unmarshal(r.Data, &cmd); err != nil {
		return protocol.Command{}, false
	}
	return cmd, true
}

// Server is a websocket backend that records everything it receives.
type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	// OnMessage, if set, is called for every received message. Replies
	// written with Send from inside it are delivered in order.
	OnMessage func(s *Server, r Received)

	mu       sync.Mutex
	conn     *websocket.Conn
	conns    int
	received []Received
	writeMu  sync.Mutex
}

// NewServer starts a fake backend and stops it when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(func() {
		s.DropConnections()
		s.srv.Close()
	})
	return s
}

// URL returns the ws:// address of the backend.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.conns++
	s.mu.Unlock()

	defer conn.Close()
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		rec := Received{Type: mt, Data: data}
		s.mu.Lock()
		s.received = append(s.received, rec)
		onMessage := s.OnMessage
		s.mu.Unlock()
		if onMessage != nil {
			onMessage(s, rec)
		}
	}
}

// Connections returns how many clients have connected so far.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

// WaitConnections blocks until at least n clients have connected.
func (s *Server) WaitConnections(t testing.TB, n int, timeout time.Duration) {
	t.Helper()
	waitFor(t, timeout, func() bool { return s.Connections() >= n }, "connections")
}

// Send writes msg as JSON to the current client.
func (s *Server) Send(t testing.TB, msg protocol.Message) {
	t.Helper()
	conn := s.current(t)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		t.Errorf("send: %v", err)
	}
}

// SendRaw writes a text message verbatim to the current client.
func (s *Server) SendRaw(t testing.TB, data string) {
	t.Helper()
	conn := s.current(t)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
		t.Errorf("send: %v", err)
	}
}

// current waits briefly for a client, since the client can observe the
// handshake before the handler has registered the connection.
func (s *Server) current(t testing.TB) *websocket.Conn {
	t.Helper()
	var conn *websocket.Conn
	waitFor(t, time.Second, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		conn = s.conn
		return conn != nil
	}, "client connection")
	return conn
}

// DropConnections closes the current client connection.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Received returns a copy of everything received so far.
func (s *Server) Received() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Received, len(s.received))
	copy(out, s.received)
	return out
}

// WaitReceived blocks until at least n messages have been received.
func (s *Server) WaitReceived(t testing.TB, n int, timeout time.Duration) []Received {
	t.Helper()
	waitFor(t, timeout, func() bool { return len(s.Received()) >= n }, "messages")
	return s.Received()
}

func waitFor(t testing.TB, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
