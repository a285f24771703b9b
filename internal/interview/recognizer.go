package interview

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-gateway/internal/observability"
	"github.com/lexiqai/interview-gateway/internal/resilience"
	"github.com/lexiqai/interview-gateway/internal/stt"
)

const restartBackoffMultiplier = 2.0

// recognizer turns the engine's fragment stream into one answer per listening
// turn. It is owned by the session loop: every method runs on that goroutine,
// and engine callbacks and timers reach it only as posted messages tagged with
// the turn generation and a capture or timer sequence.
type recognizer struct {
	engine  stt.Engine
	opts    Options
	post    func(message)
	logger  zerolog.Logger
	metrics *observability.Metrics

	turn      uint64
	armed     bool
	capturing bool

	// sequences invalidate callbacks and timers from superseded captures
	captureSeq uint64
	silenceSeq uint64
	restartSeq uint64

	finals    []string
	lastFinal string
	restarts  int
	// resumed is set until the first final after a restart
	resumed bool

	silence *time.Timer
	restart *time.Timer
}

func newRecognizer(engine stt.Engine, opts Options, post func(message), logger zerolog.Logger, metrics *observability.Metrics) *recognizer {
	return &recognizer{
		engine:  engine,
		opts:    opts,
		post:    post,
		logger:  logger,
		metrics: metrics,
	}
}

// arm starts a fresh listening turn; the previous turn's text is discarded
func (r *recognizer) arm(ctx context.Context, turn uint64) error {
	r.disarm()
	r.turn = turn
	r.armed = true
	r.finals = nil
	r.lastFinal = ""
	r.restarts = 0
	r.resumed = false
	return r.start(ctx)
}

func (r *recognizer) start(ctx context.Context) error {
	r.captureSeq++
	turn, seq := r.turn, r.captureSeq

	err := r.engine.StartCapture(ctx,
		func(f stt.Fragment) {
			r.post(msgFragment{turn: turn, seq: seq, fragment: f})
		},
		func(err *stt.EngineError) {
			r.post(msgRecognitionError{turn: turn, seq: seq, err: err})
		},
	)
	if err != nil {
		return err
	}
	r.capturing = true
	return nil
}

// disarm stops capture and all turn timers. It is safe to call repeatedly.
func (r *recognizer) disarm() {
	r.stopTimers()
	r.stopCapture()
	r.armed = false
}

func (r *recognizer) stopCapture() {
	r.captureSeq++
	if !r.capturing {
		return
	}
	r.capturing = false
	if err := r.engine.StopCapture(); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to stop recognition")
	}
}

func (r *recognizer) stopTimers() {
	r.silenceSeq++
	r.restartSeq++
	if r.silence != nil {
		r.silence.Stop()
		r.silence = nil
	}
	if r.restart != nil {
		r.restart.Stop()
		r.restart = nil
	}
}

func (r *recognizer) owns(turn, seq uint64) bool {
	return r.armed && r.turn == turn && r.captureSeq == seq
}

// fragment buffers final text and restarts the silence window.
// The first final after a restart is dropped when it repeats the last one
// buffered; engines resend it after reconnecting.
func (r *recognizer) fragment(f stt.Fragment) {
	text := strings.TrimSpace(f.Text)
	if f.IsFinal && text != "" {
		replayed := r.resumed && text == r.lastFinal
		r.resumed = false
		if !replayed {
			r.finals = append(r.finals, text)
			r.lastFinal = text
		}
	}
	if len(r.finals) > 0 {
		r.resetSilence()
	}
}

func (r *recognizer) resetSilence() {
	if r.silence != nil {
		r.silence.Stop()
	}
	r.silenceSeq++
	turn, seq := r.turn, r.silenceSeq
	r.silence = time.AfterFunc(r.opts.SilenceWindow, func() {
		r.post(msgSilence{turn: turn, seq: seq})
	})
}

func (r *recognizer) silenceElapsed(m msgSilence) bool {
	return r.armed && r.turn == m.turn && r.silenceSeq == m.seq && len(r.finals) > 0
}

// answer joins the buffered final text
func (r *recognizer) answer() string {
	return strings.Join(r.finals, " ")
}

// scheduleRestart drops the broken capture and restarts it after a backoff.
// Buffered text survives; resume re-opens the silence window.
func (r *recognizer) scheduleRestart() error {
	r.stopCapture()
	r.stopTimers()

	if r.restarts >= r.opts.MaxRestarts {
		return fmt.Errorf("recognition did not recover after %d restarts", r.restarts)
	}

	delay := resilience.CalculateBackoff(r.restarts, r.opts.RestartBackoff, r.opts.MaxRestartBackoff, restartBackoffMultiplier)
	r.restarts++

	turn, seq := r.turn, r.restartSeq
	r.restart = time.AfterFunc(delay, func() {
		r.post(msgRestart{turn: turn, seq: seq})
	})

	r.logger.Info().
		Int("attempt", r.restarts).
		Dur("backoff", delay).
		Msg("Scheduling recognition restart")
	return nil
}

func (r *recognizer) restartDue(m msgRestart) bool {
	return r.armed && r.turn == m.turn && r.restartSeq == m.seq
}

// resume restarts capture after a scheduled backoff. Buffered text gets a
// fresh silence window so a turn that was already answered can still close.
func (r *recognizer) resume(ctx context.Context) error {
	r.restart = nil
	if r.metrics != nil {
		r.metrics.RecordRecognitionRestart()
	}
	if err := r.start(ctx); err != nil {
		return err
	}
	r.resumed = true
	if len(r.finals) > 0 {
		r.resetSilence()
	}
	return nil
}
