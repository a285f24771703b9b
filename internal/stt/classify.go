package stt

import (
	"errors"
	"strings"

	"github.com/lexiqai/interview-gateway/internal/resilience"
)

var noSpeechMarkers = []string{
	"no-speech",
	"no speech",
	"did not receive audio",
	"no audio",
	"net-0001",
}

// Classify maps an engine failure onto the reaction the listener should take.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorFatal
	}
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Kind
	}
	if errors.Is(err, ErrUnavailable) {
		return ErrorFatal
	}
	// An open breaker rejects calls until its reset timeout; restarting later can succeed
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return ErrorNetwork
	}

	msg := strings.ToLower(err.Error())
	if resilience.ContainsAny(msg, noSpeechMarkers) {
		return ErrorNoSpeech
	}
	if resilience.IsRetryableNetworkError(err) || strings.Contains(msg, "network") {
		return ErrorNetwork
	}
	return ErrorFatal
}

// NewEngineError wraps err with its classification.
func NewEngineError(err error) *EngineError {
	return &EngineError{Kind: Classify(err), Err: err}
}
