// Package export writes stored sessions out as audio files.
package export

import (
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/challenwang408408/challenwang-braiwave/internal/capture"
	"github.com/challenwang408408/challenwang-braiwave/internal/db"
)

// WriteWAV concatenates the audio chunks in seq order (chunks must already
// be sorted) into a 16-bit mono WAV stream. It returns the sample count.
func WriteWAV(w io.WriteSeeker, chunks []db.Chunk, sampleRate int) (int, error) {
	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)
	format := &audio.Format{NumChannels: 1, SampleRate: sampleRate}

	// An empty write emits the header so sessions without audio still
	// produce a valid file.
	if err := enc.Write(&audio.IntBuffer{Format: format, SourceBitDepth: 16}); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	total := 0
	for _, c := range chunks {
		if c.Kind != db.KindAudio || len(c.Payload) == 0 {
			continue
		}
		samples := capture.DecodePCM(c.Payload)
		buf := &audio.IntBuffer{
			Format:         format,
			Data:           make([]int, len(samples)),
			SourceBitDepth: 16,
		}
		for i, s := range samples {
			buf.Data[i] = int(s)
		}
		if err := enc.Write(buf); err != nil {
			enc.Close()
			return total, fmt.Errorf("write chunk %d: %w", c.Seq, err)
		}
		total += len(samples)
	}

	if err := enc.Close(); err != nil {
		return total, fmt.Errorf("finalize wav: %w", err)
	}
	return total, nil
}

// WriteWAVFile writes the chunks to a new file at path.
func WriteWAVFile(path string, chunks []db.Chunk, sampleRate int) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	n, err := WriteWAV(f, chunks, sampleRate)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", path, cerr)
	}
	return n, err
}
