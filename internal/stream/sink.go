package stream

import (
	"context"
	"time"

	"github.com/lexiqai/interview-gateway/internal/audio"
	"github.com/lexiqai/interview-gateway/internal/tts"
)

// frameSize is 20ms of μ-law audio at 8kHz
const frameSize = 160

// Sink plays synthesized audio to the socket in real time. Audio is staged in a
// ring buffer and released one frame per frame duration.
type Sink struct {
	buffer *audio.RingBuffer
	send   func(frame []byte) error
	clear  func()
	after  func(time.Duration) <-chan time.Time
}

// NewSink creates a sink that writes frames with send and signals dropped audio with clear
func NewSink(bufferSize int, send func(frame []byte) error, clear func()) *Sink {
	if bufferSize < frameSize*2 {
		bufferSize = frameSize * 2
	}
	return &Sink{
		buffer: audio.NewRingBuffer(bufferSize),
		send:   send,
		clear:  clear,
		after:  time.After,
	}
}

// Play blocks until chunk has been sent at playback pace or ctx is done
func (s *Sink) Play(ctx context.Context, chunk *tts.AudioChunk) error {
	pending := chunk.Data
	frame := make([]byte, frameSize)

	for len(pending) > 0 || !s.buffer.IsEmpty() {
		n := s.buffer.Write(pending)
		pending = pending[n:]

		read := s.buffer.Read(frame)
		if read > 0 {
			if err := s.send(frame[:read]); err != nil {
				s.buffer.Clear()
				return err
			}
		}

		select {
		case <-ctx.Done():
			s.buffer.Clear()
			return ctx.Err()
		case <-s.after(audio.MulawDuration(read)):
		}
	}
	return nil
}

// Flush drops staged audio and tells the client to drop what it has buffered
func (s *Sink) Flush() {
	s.buffer.Clear()
	if s.clear != nil {
		s.clear()
	}
}
