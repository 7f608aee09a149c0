package capture

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Device is a microphone source.
type Device interface {
	// Check verifies that capture is possible without opening a stream.
	Check() error
	// Open starts delivering blocks of normalized mono samples to onBlock.
	// The block slice is only valid for the duration of the call.
	Open(onBlock func(block []float32)) (Stream, error)
}

// Stream is an open capture stream.
type Stream interface {
	Close() error
}

// PortAudioDevice captures from the system default input device.
type PortAudioDevice struct {
	SampleRate int
	Channels   int
	BlockSize  int

	mu          sync.Mutex
	initialized bool
}

// NewPortAudioDevice returns a device that opens the default input at sampleRate.
func NewPortAudioDevice(sampleRate, channels, blockSize int) *PortAudioDevice {
	return &PortAudioDevice{SampleRate: sampleRate, Channels: channels, BlockSize: blockSize}
}

func (d *PortAudioDevice) init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: %v", ErrNoAudioAPI, err)
	}
	d.initialized = true
	return nil
}

// Check initializes PortAudio and makes sure a default input device exists
// that supports the requested channel count.
func (d *PortAudioDevice) Check() error {
	if err := d.init(); err != nil {
		return err
	}
	info, err := portaudio.DefaultInputDevice()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	if info == nil {
		return ErrNoDevice
	}
	if info.MaxInputChannels < d.Channels {
		return fmt.Errorf("%w: %s has %d input channels", ErrConstraints, info.Name, info.MaxInputChannels)
	}
	return nil
}

// Open opens and starts a stream on the default input device.
func (d *PortAudioDevice) Open(onBlock func(block []float32)) (Stream, error) {
	if err := d.init(); err != nil {
		return nil, err
	}

	stream, err := portaudio.OpenDefaultStream(d.Channels, 0, float64(d.SampleRate), d.BlockSize,
		func(in []float32) { onBlock(in) })
	if err != nil {
		return nil, classify(err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, classify(err)
	}
	return &portAudioStream{dev: d, stream: stream}, nil
}

type portAudioStream struct {
	dev    *PortAudioDevice
	stream *portaudio.Stream
}

func (s *portAudioStream) Close() error {
	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()

	s.dev.mu.Lock()
	if s.dev.initialized {
		portaudio.Terminate()
		s.dev.initialized = false
	}
	s.dev.mu.Unlock()

	if stopErr != nil {
		return stopErr
	}
	return closeErr
}

// classify maps PortAudio errors onto the capability taxonomy. Host errors
// not covered below are how the OS reports refused microphone access.
func classify(err error) error {
	var paErr portaudio.Error
	if errors.As(err, &paErr) {
		switch paErr {
		case portaudio.NotInitialized:
			return fmt.Errorf("%w: %v", ErrNoAudioAPI, err)
		case portaudio.InvalidDevice:
			return fmt.Errorf("%w: %v", ErrNoDevice, err)
		case portaudio.DeviceUnavailable:
			return fmt.Errorf("%w: %v", ErrDeviceBusy, err)
		case portaudio.InvalidSampleRate, portaudio.InvalidChannelCount, portaudio.SampleFormatNotSupported:
			return fmt.Errorf("%w: %v", ErrConstraints, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
}
