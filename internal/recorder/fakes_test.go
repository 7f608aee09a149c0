package recorder

import (
	"sync"

	"github.com/challenwang408408/challenwang-braiwave/internal/capture"
	"github.com/challenwang408408/challenwang-braiwave/internal/protocol"
)

// fakeDevice hands the registered callback back to the test.
type fakeDevice struct {
	mu       sync.Mutex
	checkErr error
	openErr  error
	opens    int
	checks   int
	onBlock  func([]float32)
	closed   bool
}

func (d *fakeDevice) Check() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checks++
	return d.checkErr
}

func (d *fakeDevice) Open(onBlock func([]float32)) (capture.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.opens++
	d.onBlock = onBlock
	return d, nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// push delivers one block the way a device callback would.
func (d *fakeDevice) push(block []float32) {
	d.mu.Lock()
	cb := d.onBlock
	d.mu.Unlock()
	cb(block)
}

type sent struct {
	cmd   *protocol.Command
	audio []byte
}

// fakeSender records sends and can be told to fail.
type fakeSender struct {
	mu sync.Mutex
	// open gates every send. failAfter, when positive, rejects every
	// send after that many successful audio frames.
	open      bool
	failAfter int
	audioSent int
	log       []sent
	// stopGate, when set, holds stop commands until it is closed.
	stopGate chan struct{}
}

func (s *fakeSender) SendControl(cmd protocol.Command) error {
	if cmd.Type == protocol.CmdStopRecording && s.stopGate != nil {
		<-s.stopGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return protocol.ErrNotOpen
	}
	s.log = append(s.log, sent{cmd: &cmd})
	return nil
}

func (s *fakeSender) SendAudio(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open || (s.failAfter > 0 && s.audioSent >= s.failAfter) {
		return protocol.ErrNotOpen
	}
	s.audioSent++
	s.log = append(s.log, sent{audio: frame})
	return nil
}

func (s *fakeSender) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *fakeSender) setOpen(open bool) {
	s.mu.Lock()
	s.open = open
	s.mu.Unlock()
}

func (s *fakeSender) history() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sent, len(s.log))
	copy(out, s.log)
	return out
}
