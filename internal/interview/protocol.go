package interview

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lexiqai/interview-gateway/internal/stt"
	"github.com/lexiqai/interview-gateway/internal/tts"
)

// Turn protocol: greeting -> speaking(i) -> listening(i) -> speaking(i+1) ... -> closing -> complete.
// Every function here runs on the session loop.

type speechKind int

const (
	speechGreeting speechKind = iota
	speechQuestion
	speechClosing
)

func (k speechKind) String() string {
	switch k {
	case speechGreeting:
		return "greeting"
	case speechQuestion:
		return "question"
	default:
		return "closing"
	}
}

// speech is one agent utterance together with how it is rendered
type speech struct {
	kind  speechKind
	text  string
	voice string
	asset string

	// fallback is set once the engine default voice is in use
	fallback bool
}

// retry returns the next rendering to try after a playback failure, or nil.
// A recording falls back to synthesis; a voice falls back to the engine default.
func (sp *speech) retry() *speech {
	switch {
	case sp.asset != "":
		return &speech{kind: sp.kind, text: sp.text, voice: sp.voice}
	case sp.voice != "" && !sp.fallback:
		return &speech{kind: sp.kind, text: sp.text, fallback: true}
	default:
		return nil
	}
}

func (s *Session) greet() {
	s.setState(StateGreeting)

	interviewer := s.cfg.Interviewer
	sp := &speech{kind: speechGreeting, text: interviewer.Greeting(), voice: interviewer.Voice}
	if _, ok := s.engines.TTS.(tts.AssetPlayer); ok && interviewer.GreetingAsset != "" {
		sp.asset = interviewer.GreetingAsset
	}
	s.beginAgentTurn(sp)
}

func (s *Session) ask(i int) {
	s.setState(StateSpeaking)
	question := s.cfg.Questions[i]
	s.pendingAgent = &Entry{Role: RoleAgent, Content: question}
	s.beginAgentTurn(&speech{kind: speechQuestion, text: question, voice: s.cfg.Interviewer.Voice})
}

func (s *Session) closeInterview() {
	s.setState(StateClosing)
	s.beginAgentTurn(&speech{kind: speechClosing, text: ClosingRemark, voice: s.cfg.Interviewer.Voice})
}

// beginAgentTurn disarms recognition before any playback starts
func (s *Session) beginAgentTurn(sp *speech) {
	s.rec.disarm()
	s.handoff(SpeakerAgent)
	s.publish(Event{Kind: EventAgentTurnBegan, Text: sp.text})
	s.play(sp)
}

func (s *Session) play(sp *speech) {
	s.gen++
	gen := s.gen
	s.speech = sp

	ctx, cancel := context.WithCancel(s.ctx)
	s.speakCancel = cancel

	engine := s.engines.TTS
	go func() {
		var err error
		if player, ok := engine.(tts.AssetPlayer); ok && sp.asset != "" {
			err = player.PlayAsset(ctx, sp.asset)
		} else {
			err = engine.Speak(ctx, tts.Utterance{Text: sp.text, Voice: sp.voice})
		}
		s.post(msgSpeechDone{gen: gen, err: err})
	}()
}

func (s *Session) onSpeechDone(m msgSpeechDone) {
	if m.gen != s.gen || s.speech == nil {
		return
	}
	if s.speakCancel != nil {
		s.speakCancel()
		s.speakCancel = nil
	}
	sp := s.speech

	if m.err != nil {
		if next := sp.retry(); next != nil {
			s.logger.Warn().
				Err(m.err).
				Str("speech", sp.kind.String()).
				Bool("fallback_voice", next.fallback).
				Msg("Playback failed, retrying")
			s.play(next)
			return
		}
		s.metrics.RecordError("playback_failed", "tts")
		if errors.Is(m.err, tts.ErrUnavailable) {
			s.fail(fmt.Errorf("%w: %w", ErrEngineUnavailable, m.err))
			return
		}
		s.fail(fmt.Errorf("%w: %w", ErrPlayback, m.err))
		return
	}

	s.speech = nil
	s.handoff(SpeakerNone)
	s.publish(Event{Kind: EventAgentTurnEnded, Text: sp.text})
	s.metrics.RecordTurn(string(RoleAgent), "spoken")

	switch sp.kind {
	case speechGreeting:
		s.ask(0)
	case speechQuestion:
		s.listen()
	case speechClosing:
		s.finalize(ReasonCompleted, nil)
	}
}

// listen arms recognition only after the question has been played
func (s *Session) listen() {
	s.setState(StateListening)
	s.gen++
	gen := s.gen

	s.handoff(SpeakerUser)
	s.publish(Event{Kind: EventUserTurnBegan})
	s.metrics.RecordListenStart()
	s.startAnswerTimer(gen)

	if err := s.rec.arm(s.ctx, gen); err != nil {
		s.recognitionFault(stt.NewEngineError(err))
	}
}

func (s *Session) listening() bool {
	return s.state == StateListening && !s.finished
}

func (s *Session) onFragment(m msgFragment) {
	if !s.listening() || !s.rec.owns(m.turn, m.seq) {
		return
	}
	s.rec.fragment(m.fragment)

	text := strings.TrimSpace(m.fragment.Text)
	if text == "" {
		return
	}
	// The respondent is still talking; only inactivity forces the turn on
	s.startAnswerTimer(m.turn)
	if !m.fragment.IsFinal {
		s.publish(Event{Kind: EventInterim, Text: text})
	}
}

func (s *Session) onSilence(m msgSilence) {
	if !s.listening() || !s.rec.silenceElapsed(m) {
		return
	}
	s.completeAnswer(s.rec.answer())
}

// onAnswerTimeout force-advances a turn that went quiet for AnswerTimeout
// without the silence window closing it. Text already finalized is kept as the answer.
func (s *Session) onAnswerTimeout(m msgAnswerTimeout) {
	if !s.listening() || m.gen != s.gen || m.seq != s.answerSeq {
		return
	}
	answer := s.rec.answer()
	s.logger.Info().
		Int("index", s.index).
		Bool("partial_answer", answer != "").
		Msg("Answer timeout, advancing")
	s.completeAnswer(answer)
}

// completeAnswer ends the listening turn and advances the cursor by one.
// An empty answer commits only the question.
func (s *Session) completeAnswer(answer string) {
	s.rec.disarm()
	s.stopAnswerTimer()
	s.handoff(SpeakerNone)

	s.commitPendingAgent()
	outcome := "skipped"
	if answer != "" {
		s.commit(Entry{Role: RoleUser, Content: answer})
		outcome = "answered"
	}
	s.publish(Event{Kind: EventUserTurnEnded, Text: answer})
	s.metrics.RecordTurn(string(RoleUser), outcome)

	s.advance()
}

func (s *Session) advance() {
	next := s.index + 1
	s.setIndex(next)
	if next < len(s.cfg.Questions) {
		s.ask(next)
		return
	}
	s.closeInterview()
}

func (s *Session) onRecognitionError(m msgRecognitionError) {
	if !s.listening() || !s.rec.owns(m.turn, m.seq) {
		return
	}
	s.recognitionFault(m.err)
}

// recognitionFault absorbs transient faults; anything else ends the session
func (s *Session) recognitionFault(err *stt.EngineError) {
	s.metrics.RecordRecognitionError(err.Kind.String())

	switch err.Kind {
	case stt.ErrorNoSpeech:
		s.logger.Debug().Err(err).Msg("No speech detected, still listening")
		return
	case stt.ErrorNetwork:
		s.logger.Warn().Err(err).Msg("Recognition connection lost")
		if restartErr := s.rec.scheduleRestart(); restartErr != nil {
			s.fail(fmt.Errorf("%w: %v: %w", ErrFatalRecognition, restartErr, err))
		}
		return
	}

	if errors.Is(err, stt.ErrUnavailable) {
		s.fail(fmt.Errorf("%w: %w", ErrEngineUnavailable, err))
		return
	}
	s.fail(fmt.Errorf("%w: %w", ErrFatalRecognition, err))
}

func (s *Session) onRestart(m msgRestart) {
	if !s.listening() || !s.rec.restartDue(m) {
		return
	}
	if err := s.rec.resume(s.ctx); err != nil {
		s.recognitionFault(stt.NewEngineError(err))
		return
	}
	s.logger.Info().Msg("Recognition restarted")
}

// fail passes through the error state on the way to completion
func (s *Session) fail(err error) {
	s.setState(StateError)
	s.finalize(ReasonError, err)
}
