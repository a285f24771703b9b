package interview

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-gateway/internal/observability"
	"github.com/lexiqai/interview-gateway/internal/stt"
)

const (
	inboxSize              = 64
	defaultInterviewerName = "Tina"
)

// message is anything posted to a session's loop
type message interface{}

type msgSpeechDone struct {
	gen uint64
	err error
}

type msgFragment struct {
	turn     uint64
	seq      uint64
	fragment stt.Fragment
}

type msgRecognitionError struct {
	turn uint64
	seq  uint64
	err  *stt.EngineError
}

type msgSilence struct {
	turn uint64
	seq  uint64
}

type msgRestart struct {
	turn uint64
	seq  uint64
}

type msgAnswerTimeout struct {
	gen uint64
	seq uint64
}

type msgEnd struct {
	reason Reason
	reply  chan Outcome
}

// Session runs one interview. All state transitions happen on a single loop
// goroutine; engine completions, timers and End requests are posted to it.
type Session struct {
	id      string
	cfg     Config
	engines Engines
	opts    Options
	logger  zerolog.Logger
	metrics *observability.Metrics

	bus        *Bus
	clock      *Stopwatch
	transcript *Transcript
	rec        *recognizer

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan message
	done   chan struct{}

	mu      sync.RWMutex
	state   State
	index   int
	speaker Speaker

	// owned by the loop
	gen          uint64
	speech       *speech
	speakCancel  context.CancelFunc
	pendingAgent *Entry
	answerTimer  *time.Timer
	answerSeq    uint64
	finished     bool
	outcome      Outcome
}

// Start validates cfg and begins the interview on its own goroutine.
func Start(ctx context.Context, cfg Config, engines Engines, opts Options) (*Session, error) {
	if len(cfg.Questions) == 0 {
		return nil, fmt.Errorf("%w: no questions", ErrInvalidConfiguration)
	}
	questions := make([]string, len(cfg.Questions))
	for i, q := range cfg.Questions {
		q = strings.TrimSpace(q)
		if q == "" {
			return nil, fmt.Errorf("%w: question %d is blank", ErrInvalidConfiguration, i)
		}
		questions[i] = q
	}
	cfg.Questions = questions

	if cfg.TimeLimitSeconds <= 0 {
		return nil, fmt.Errorf("%w: time limit must be positive, got %d", ErrInvalidConfiguration, cfg.TimeLimitSeconds)
	}
	if engines.STT == nil {
		return nil, fmt.Errorf("%w: no speech recognition engine", ErrEngineUnavailable)
	}
	if engines.TTS == nil {
		return nil, fmt.Errorf("%w: no speech synthesis engine", ErrEngineUnavailable)
	}
	if cfg.Interviewer.Name == "" {
		cfg.Interviewer.Name = defaultInterviewerName
	}

	opts = opts.withDefaults()
	id := uuid.NewString()

	var logger zerolog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("session_id", id).Logger()
	} else {
		logger = observability.WithSession(id, cfg.CallID)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewSessionMetrics(id)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:         id,
		cfg:        cfg,
		engines:    engines,
		opts:       opts,
		logger:     logger,
		metrics:    metrics,
		bus:        NewBus(),
		clock:      NewStopwatch(time.Duration(cfg.TimeLimitSeconds)*time.Second, opts.Now),
		transcript: &Transcript{},
		ctx:        sessionCtx,
		cancel:     cancel,
		inbox:      make(chan message, inboxSize),
		done:       make(chan struct{}),
	}
	s.rec = newRecognizer(engines.STT, opts, s.post, logger, metrics)

	if opts.OnEvent != nil {
		s.bus.Subscribe(opts.OnEvent)
	}

	s.clock.Start()
	metrics.RecordSessionStart()
	logger.Info().
		Int("questions", len(questions)).
		Str("interviewer", cfg.Interviewer.Name).
		Int("time_limit_seconds", cfg.TimeLimitSeconds).
		Msg("Interview session started")

	go s.run()
	return s, nil
}

func (s *Session) run() {
	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	s.publish(Event{Kind: EventStarted})
	s.greet()

	for !s.finished {
		select {
		case m := <-s.inbox:
			s.handle(m)
		case <-ticker.C:
			s.tick()
		case <-s.ctx.Done():
			s.logger.Info().Msg("Session context cancelled")
			s.finalize(ReasonUserEnded, nil)
		}
	}
}

func (s *Session) handle(m message) {
	switch m := m.(type) {
	case msgEnd:
		s.finalize(m.reason, nil)
		m.reply <- s.outcome
	case msgSpeechDone:
		s.onSpeechDone(m)
	case msgFragment:
		s.onFragment(m)
	case msgRecognitionError:
		s.onRecognitionError(m)
	case msgSilence:
		s.onSilence(m)
	case msgRestart:
		s.onRestart(m)
	case msgAnswerTimeout:
		s.onAnswerTimeout(m)
	}
}

// post hands m to the loop; it is dropped once the session has ended
func (s *Session) post(m message) {
	select {
	case s.inbox <- m:
	case <-s.done:
	}
}

// tick is the watchdog: the time limit preempts whatever turn is running
func (s *Session) tick() {
	if s.clock.Expired() {
		s.logger.Info().Dur("elapsed", s.clock.Elapsed()).Msg("Time limit reached")
		s.finalize(ReasonTimedOut, nil)
		return
	}
	s.publish(Event{Kind: EventTick})
}

// End finalizes the session and returns its outcome. Only the first call has
// an effect; later calls return the same outcome.
func (s *Session) End(reason Reason) Outcome {
	reply := make(chan Outcome, 1)
	select {
	case s.inbox <- msgEnd{reason: reason, reply: reply}:
	case <-s.done:
		return s.outcome
	}
	select {
	case o := <-reply:
		return o
	case <-s.done:
		return s.outcome
	}
}

// finalize stops all outstanding work, seals the transcript and publishes ended.
// No event is published after ended.
func (s *Session) finalize(reason Reason, cause error) {
	if s.finished {
		return
	}
	s.finished = true

	s.rec.disarm()
	s.stopAnswerTimer()
	if s.speakCancel != nil {
		s.speakCancel()
		s.speakCancel = nil
	}
	if err := s.engines.TTS.Cancel(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to cancel speech")
	}
	s.speech = nil
	s.handoff(SpeakerNone)

	s.commitPendingAgent()
	s.transcript.Seal()
	duration := s.clock.Stop()

	s.mu.Lock()
	s.state = StateComplete
	s.mu.Unlock()

	entries := s.transcript.Entries()
	asked := 0
	for _, e := range entries {
		if e.Role == RoleAgent {
			asked++
		}
	}
	s.outcome = Outcome{
		SessionID:      s.id,
		CallID:         s.cfg.CallID,
		Transcript:     entries,
		Duration:       duration,
		Reason:         reason,
		Err:            cause,
		QuestionsAsked: asked,
		EndedAt:        time.Now(),
	}

	s.metrics.RecordSessionEnd(string(reason))
	s.publish(Event{Kind: EventEnded, Reason: reason, Err: cause})
	s.bus.Close()
	s.cancel()

	event := s.logger.Info()
	if cause != nil {
		event = s.logger.Error().Err(cause)
	}
	event.
		Str("reason", string(reason)).
		Dur("duration", duration).
		Int("transcript_entries", len(entries)).
		Msg("Interview session ended")

	close(s.done)
}

func (s *Session) publish(e Event) {
	e.SessionID = s.id
	e.Index = s.index
	e.Elapsed = s.clock.Elapsed()
	e.Progress = s.clock.Progress()
	e.At = time.Now()
	s.bus.Publish(e)
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) setIndex(i int) {
	s.mu.Lock()
	s.index = i
	s.mu.Unlock()
}

// handoff moves the single active-speaker field
func (s *Session) handoff(to Speaker) {
	s.mu.Lock()
	from := s.speaker
	s.speaker = to
	s.mu.Unlock()
	if from != to {
		s.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("Speaker handoff")
	}
}

func (s *Session) commit(e Entry) {
	if err := s.transcript.Append(e); err != nil {
		return
	}
	entry := e
	s.publish(Event{Kind: EventTranscriptUpdated, Entry: &entry, Text: e.Content})
}

func (s *Session) commitPendingAgent() {
	if s.pendingAgent == nil {
		return
	}
	s.commit(*s.pendingAgent)
	s.pendingAgent = nil
}

// startAnswerTimer (re)starts the inactivity deadline of the listening turn
func (s *Session) startAnswerTimer(gen uint64) {
	s.stopAnswerTimer()
	seq := s.answerSeq
	s.answerTimer = time.AfterFunc(s.opts.AnswerTimeout, func() {
		s.post(msgAnswerTimeout{gen: gen, seq: seq})
	})
}

func (s *Session) stopAnswerTimer() {
	s.answerSeq++
	if s.answerTimer != nil {
		s.answerTimer.Stop()
		s.answerTimer = nil
	}
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id }

// CallID returns the call the session was started for
func (s *Session) CallID() string { return s.cfg.CallID }

// Questions returns a copy of the question list
func (s *Session) Questions() []string {
	out := make([]string, len(s.cfg.Questions))
	copy(out, s.cfg.Questions)
	return out
}

// State returns the current protocol state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Index returns the question cursor
func (s *Session) Index() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index
}

// Active returns which party currently holds the turn
func (s *Session) Active() Speaker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speaker
}

// Elapsed returns session time; it stops advancing once the session ends
func (s *Session) Elapsed() time.Duration {
	return s.clock.Elapsed()
}

// Progress returns elapsed/limit clamped to [0,1]
func (s *Session) Progress() float64 {
	return s.clock.Progress()
}

// Transcript returns the entries committed so far
func (s *Session) Transcript() []Entry {
	return s.transcript.Entries()
}

// Subscribe registers fn for the given event kinds, or all kinds when none are given.
// Events published before the call are not replayed; use Options.OnEvent to see them all.
func (s *Session) Subscribe(fn Handler, kinds ...EventKind) (unsubscribe func()) {
	return s.bus.Subscribe(fn, kinds...)
}

// Done is closed once the session has ended
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Outcome returns the terminal snapshot once the session has ended
func (s *Session) Outcome() (Outcome, bool) {
	select {
	case <-s.done:
		return s.outcome, true
	default:
		return Outcome{}, false
	}
}
