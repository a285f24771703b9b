package tts

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when synthesis cannot run at all (missing credentials, no voice).
var ErrUnavailable = errors.New("speech synthesis unavailable")

// ErrAssetNotFound is returned by PlayAsset when the named recording does not exist.
var ErrAssetNotFound = errors.New("audio asset not found")

// AudioChunk represents a chunk of audio data ready for streaming
type AudioChunk struct {
	Data       []byte // Raw audio data (PCMU)
	SampleRate int    // Sample rate in Hz (8000 for PCMU)
	Channels   int    // Number of channels (1 for mono)
}

// Utterance is one piece of agent speech
type Utterance struct {
	Text string
	// Voice selects the synthesis voice; empty means the engine default
	Voice string
}

// Engine is the interface for text-to-speech engines
type Engine interface {
	// Speak synthesizes the utterance and blocks until it has been played
	Speak(ctx context.Context, u Utterance) error

	// Cancel interrupts any ongoing synthesis or playback
	Cancel() error
}

// AssetPlayer is implemented by engines that can play prerecorded audio
type AssetPlayer interface {
	// PlayAsset plays the named recording and blocks until it has been played
	PlayAsset(ctx context.Context, name string) error
}

// Sink receives synthesized audio for one connection
type Sink interface {
	// Play queues the chunk and blocks until it has been played out
	Play(ctx context.Context, chunk *AudioChunk) error

	// Flush drops audio that has not been played yet
	Flush()
}
