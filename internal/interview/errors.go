package interview

import "errors"

var (
	// ErrInvalidConfiguration rejects a session at Start
	ErrInvalidConfiguration = errors.New("invalid interview configuration")

	// ErrEngineUnavailable means a speech engine is missing or unusable
	ErrEngineUnavailable = errors.New("speech engine unavailable")

	// ErrFatalRecognition ends the session after an unrecoverable STT fault
	ErrFatalRecognition = errors.New("fatal recognition fault")

	// ErrPlayback ends the session when speech cannot be played, even with the fallback voice
	ErrPlayback = errors.New("speech playback failed")

	// ErrSessionEnded is returned when appending to a finalized transcript
	ErrSessionEnded = errors.New("session ended")
)
