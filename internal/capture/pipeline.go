// Package capture converts normalized float samples from an input device
// into fixed-size 16-bit PCM frames.
package capture

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/challenwang408408/challenwang-braiwave/internal/metrics"
)

const (
	// SampleRate is the fixed target rate of every emitted frame.
	SampleRate = 24000
	// FrameSamples is the size of a full frame: one second at SampleRate.
	FrameSamples = 24000
)

// FrameSink receives every emitted frame. Each frame is a fresh slice the
// sink may keep.
type FrameSink interface {
	OnFrame(frame []byte)
}

// Pipeline accumulates converted samples and slices them into frames.
// Process is safe to call from the device callback goroutine; frames are
// delivered to the sink in capture order.
type Pipeline struct {
	mu           sync.Mutex
	frameSamples int
	buf          []int16
	active       bool
	sink         FrameSink
	metrics      *metrics.Metrics
}

// NewPipeline creates an inactive pipeline. frameSamples <= 0 selects FrameSamples.
func NewPipeline(frameSamples int, sink FrameSink, m *metrics.Metrics) *Pipeline {
	if frameSamples <= 0 {
		frameSamples = FrameSamples
	}
	return &Pipeline{
		frameSamples: frameSamples,
		buf:          make([]int16, 0, frameSamples),
		sink:         sink,
		metrics:      m,
	}
}

// Activate clears any leftover samples and starts accepting blocks.
func (p *Pipeline) Activate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = p.buf[:0]
	p.active = true
}

// Active reports whether blocks are currently accepted.
func (p *Pipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Process converts one input block and emits every full frame it completes.
// Blocks arriving while inactive are discarded.
func (p *Pipeline) Process(block []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}

	for _, x := range block {
		p.buf = append(p.buf, toPCM(x))
	}
	for len(p.buf) >= p.frameSamples {
		p.emit(p.buf[:p.frameSamples])
		n := copy(p.buf, p.buf[p.frameSamples:])
		p.buf = p.buf[:n]
	}
}

// Flush deactivates the pipeline and emits whatever remains buffered as one
// final, possibly short, frame.
func (p *Pipeline) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = false
	if len(p.buf) > 0 {
		p.emit(p.buf)
	}
	p.buf = p.buf[:0]
}

// Buffered returns the number of samples waiting for the next frame.
func (p *Pipeline) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

func (p *Pipeline) emit(samples []int16) {
	p.metrics.FrameEmitted()
	if p.sink != nil {
		p.sink.OnFrame(EncodePCM(samples))
	}
}

// toPCM scales to 16-bit, floors and clamps. NaN maps to silence.
func toPCM(x float32) int16 {
	v := math.Floor(float64(x) * 32767)
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// EncodePCM encodes samples as little-endian 16-bit PCM into a new slice.
func EncodePCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodePCM is the inverse of EncodePCM. A trailing odd byte is ignored.
func DecodePCM(frame []byte) []int16 {
	out := make([]int16, len(frame)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(frame[i*2:]))
	}
	return out
}
