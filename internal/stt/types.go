package stt

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable is returned when the engine cannot be used at all in this
// environment (missing credentials, unsupported runtime).
var ErrUnavailable = errors.New("speech recognition unavailable")

// Fragment is one piece of recognized text
type Fragment struct {
	// Text is the transcribed text
	Text string

	// IsFinal indicates the engine will not revise this text any further
	IsFinal bool

	// Confidence is the confidence score (0.0 to 1.0) if available
	Confidence float64

	// StartTime is the start time of the utterance in seconds
	StartTime float64

	// Duration is the duration of the utterance in seconds
	Duration float64
}

// ErrorKind classifies recognition faults by how the listener should react
type ErrorKind int

const (
	// ErrorFatal ends the session
	ErrorFatal ErrorKind = iota
	// ErrorNoSpeech means nothing was heard for a while; listening continues
	ErrorNoSpeech
	// ErrorNetwork means the stream dropped; capture should be restarted
	ErrorNetwork
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorNoSpeech:
		return "no-speech"
	case ErrorNetwork:
		return "network"
	default:
		return "fatal"
	}
}

// EngineError is an asynchronous fault reported by a running capture
type EngineError struct {
	Kind ErrorKind
	Err  error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s recognition error: %v", e.Kind, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// FragmentFunc receives fragments in arrival order
type FragmentFunc func(Fragment)

// ErrorFunc receives classified faults
type ErrorFunc func(*EngineError)

// Engine is the interface for speech-to-text engines. Capture may be started
// and stopped many times on one engine; callbacks registered by a capture are
// never invoked after StopCapture returns.
type Engine interface {
	// StartCapture opens a recognition stream and begins delivering results
	StartCapture(ctx context.Context, onFragment FragmentFunc, onError ErrorFunc) error

	// StopCapture closes the current stream; it is a no-op when not capturing
	StopCapture() error

	// SendAudio feeds caller audio; it is dropped while not capturing
	SendAudio(audioData []byte) error

	// Close releases the engine for good
	Close() error
}
