package interview

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-gateway/internal/config"
	"github.com/lexiqai/interview-gateway/internal/observability"
	"github.com/lexiqai/interview-gateway/internal/stt"
	"github.com/lexiqai/interview-gateway/internal/tts"
)

// Role attributes a transcript entry to one party
type Role string

const (
	RoleAgent Role = "agent"
	RoleUser  Role = "user"
)

// Speaker is the single "who is active" field of a session.
// At most one party is ever active; handoffs pass through SpeakerNone.
type Speaker int

const (
	SpeakerNone Speaker = iota
	SpeakerAgent
	SpeakerUser
)

func (s Speaker) String() string {
	switch s {
	case SpeakerAgent:
		return "agent"
	case SpeakerUser:
		return "user"
	default:
		return "none"
	}
}

// Reason is why a session ended
type Reason string

const (
	ReasonCompleted Reason = "completed"
	ReasonTimedOut  Reason = "timed-out"
	ReasonError     Reason = "error"
	ReasonUserEnded Reason = "user-ended"
)

// State is the turn protocol state
type State int

const (
	StateIdle State = iota
	StateGreeting
	StateSpeaking
	StateListening
	StateClosing
	StateComplete
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGreeting:
		return "greeting"
	case StateSpeaking:
		return "speaking"
	case StateListening:
		return "listening"
	case StateClosing:
		return "closing"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen
func (s State) Terminal() bool {
	return s == StateComplete || s == StateError
}

// Config describes one interview attempt
type Config struct {
	// Questions are asked in order; the slice is copied at Start
	Questions []string

	// Interviewer selects the voice and greeting recording
	Interviewer Interviewer

	// TimeLimitSeconds is the hard limit on the whole session
	TimeLimitSeconds int

	// CallID links the session to its stored response record (optional)
	CallID string
}

// Engines are the speech collaborators of a session
type Engines struct {
	STT stt.Engine
	TTS tts.Engine
}

// Options tune session timing. Zero values fall back to DefaultOptions.
type Options struct {
	// SilenceWindow is how long the respondent must stay quiet after final text
	SilenceWindow time.Duration

	// RestartBackoff is the first delay before restarting recognition after a network fault
	RestartBackoff time.Duration

	// MaxRestartBackoff caps the exponential restart delay
	MaxRestartBackoff time.Duration

	// MaxRestarts bounds restarts within one listening turn
	MaxRestarts int

	// AnswerTimeout force-advances a listening turn after this long without any fragment
	AnswerTimeout time.Duration

	// Tick is the watchdog and progress interval
	Tick time.Duration

	// Now overrides the clock used for elapsed time
	Now func() time.Time

	// OnEvent is subscribed before the session begins, so it observes every event
	OnEvent Handler

	Logger  *zerolog.Logger
	Metrics *observability.Metrics
}

// DefaultOptions returns the timing used in production
func DefaultOptions() Options {
	return Options{
		SilenceWindow:     2000 * time.Millisecond,
		RestartBackoff:    1000 * time.Millisecond,
		MaxRestartBackoff: 8 * time.Second,
		MaxRestarts:       5,
		AnswerTimeout:     60 * time.Second,
		Tick:              250 * time.Millisecond,
		Now:               time.Now,
	}
}

// OptionsFromConfig derives session timing from service configuration
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.SilenceWindow = cfg.SilenceWindow()
	opts.RestartBackoff = cfg.RestartBackoff()
	opts.MaxRestarts = cfg.RecognitionMaxRestarts
	opts.AnswerTimeout = cfg.AnswerTimeout()
	opts.Tick = cfg.WatchdogTick()
	return opts
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SilenceWindow <= 0 {
		o.SilenceWindow = d.SilenceWindow
	}
	if o.RestartBackoff <= 0 {
		o.RestartBackoff = d.RestartBackoff
	}
	if o.MaxRestartBackoff < o.RestartBackoff {
		o.MaxRestartBackoff = o.RestartBackoff * 8
	}
	if o.MaxRestarts <= 0 {
		o.MaxRestarts = d.MaxRestarts
	}
	if o.AnswerTimeout <= 0 {
		o.AnswerTimeout = d.AnswerTimeout
	}
	if o.Tick <= 0 {
		o.Tick = d.Tick
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

// Outcome is the terminal snapshot of a session
type Outcome struct {
	SessionID      string
	CallID         string
	Transcript     []Entry
	Duration       time.Duration
	Reason         Reason
	Err            error
	QuestionsAsked int
	EndedAt        time.Time
}

// FormattedTranscript renders the transcript in its stored form
func (o Outcome) FormattedTranscript() string {
	return formatEntries(o.Transcript)
}
