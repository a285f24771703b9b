package interview

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/interview-gateway/internal/stt"
	"github.com/lexiqai/interview-gateway/internal/tts"
)

// captureScript drives one StartCapture call. n counts captures from 1.
type captureScript func(n int, c *fakeCapture)

type fakeCapture struct {
	engine *fakeSTT
	id     int
}

// Final delivers a final fragment if this capture is still live
func (c *fakeCapture) Final(text string) { c.emit(stt.Fragment{Text: text, IsFinal: true}) }

// Interim delivers an interim fragment if this capture is still live
func (c *fakeCapture) Interim(text string) { c.emit(stt.Fragment{Text: text}) }

func (c *fakeCapture) emit(f stt.Fragment) {
	fn, _, ok := c.engine.callbacks(c.id)
	if ok {
		fn(f)
	}
}

// Fail reports an engine error if this capture is still live
func (c *fakeCapture) Fail(err error) {
	_, fn, ok := c.engine.callbacks(c.id)
	if ok {
		fn(stt.NewEngineError(err))
	}
}

type fakeSTT struct {
	mu         sync.Mutex
	script     captureScript
	startErr   func(n int) error
	capturing  bool
	current    int
	starts     int
	stops      int
	onFragment stt.FragmentFunc
	onError    stt.ErrorFunc
}

func (f *fakeSTT) StartCapture(ctx context.Context, onFragment stt.FragmentFunc, onError stt.ErrorFunc) error {
	f.mu.Lock()
	f.starts++
	n := f.starts
	if f.startErr != nil {
		if err := f.startErr(n); err != nil {
			f.mu.Unlock()
			return err
		}
	}
	f.capturing = true
	f.current = n
	f.onFragment = onFragment
	f.onError = onError
	script := f.script
	f.mu.Unlock()

	if script != nil {
		go script(n, &fakeCapture{engine: f, id: n})
	}
	return nil
}

func (f *fakeSTT) StopCapture() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.capturing {
		f.stops++
	}
	f.capturing = false
	f.onFragment = nil
	f.onError = nil
	return nil
}

func (f *fakeSTT) SendAudio([]byte) error { return nil }

func (f *fakeSTT) Close() error { return f.StopCapture() }

func (f *fakeSTT) callbacks(id int) (stt.FragmentFunc, stt.ErrorFunc, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.capturing || f.current != id {
		return nil, nil, false
	}
	return f.onFragment, f.onError, true
}

func (f *fakeSTT) Capturing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capturing
}

func (f *fakeSTT) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

type fakeTTS struct {
	mu       sync.Mutex
	stt      *fakeSTT
	spoken   []tts.Utterance
	overlap  bool
	cancels  int
	fail     func(u tts.Utterance) error
	block    bool
	blocking chan struct{}
}

func (f *fakeTTS) Speak(ctx context.Context, u tts.Utterance) error {
	f.mu.Lock()
	if f.stt != nil && f.stt.Capturing() {
		f.overlap = true
	}
	f.spoken = append(f.spoken, u)
	fail, block := f.fail, f.block
	f.mu.Unlock()

	if fail != nil {
		if err := fail(u); err != nil {
			return err
		}
	}
	if block {
		if f.blocking != nil {
			select {
			case f.blocking <- struct{}{}:
			default:
			}
		}
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeTTS) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return nil
}

func (f *fakeTTS) Spoken() []tts.Utterance {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]tts.Utterance, len(f.spoken))
	copy(out, f.spoken)
	return out
}

func (f *fakeTTS) Overlapped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overlap
}

// assetTTS adds greeting recordings to fakeTTS
type assetTTS struct {
	*fakeTTS
	assetErr error
	assets   []string
}

func (a *assetTTS) PlayAsset(ctx context.Context, name string) error {
	a.mu.Lock()
	a.assets = append(a.assets, name)
	a.mu.Unlock()
	return a.assetErr
}

// eventLog records every event a session publishes
type eventLog struct {
	mu     sync.Mutex
	events []Event
	ended  chan struct{}
}

func newEventLog() *eventLog {
	return &eventLog{ended: make(chan struct{})}
}

func (l *eventLog) handle(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
	if e.Kind == EventEnded {
		close(l.ended)
	}
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

func (l *eventLog) kinds() []EventKind {
	var out []EventKind
	for _, e := range l.all() {
		if e.Kind != EventTick {
			out = append(out, e.Kind)
		}
	}
	return out
}

func (l *eventLog) of(kind EventKind) []Event {
	var out []Event
	for _, e := range l.all() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) waitEnded(t *testing.T) {
	t.Helper()
	select {
	case <-l.ended:
	case <-time.After(3 * time.Second):
		t.Fatal("ended event was not delivered")
	}
}

// fakeClock is a settable time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testOptions(log *eventLog) Options {
	logger := zerolog.Nop()
	return Options{
		SilenceWindow:     30 * time.Millisecond,
		RestartBackoff:    10 * time.Millisecond,
		MaxRestartBackoff: 40 * time.Millisecond,
		MaxRestarts:       3,
		AnswerTimeout:     2 * time.Second,
		Tick:              5 * time.Millisecond,
		OnEvent:           log.handle,
		Logger:            &logger,
	}
}

// answering answers the nth capture with "answer n"
func answering(n int, c *fakeCapture) {
	c.Interim("um")
	c.Final(answerText(n))
}

func answerText(n int) string {
	return "answer " + string(rune('0'+n))
}

func newEngines(script captureScript) (*fakeSTT, *fakeTTS) {
	recog := &fakeSTT{script: script}
	synth := &fakeTTS{stt: recog}
	return recog, synth
}

func waitDone(t *testing.T, s *Session) Outcome {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not end; state=%s index=%d", s.State(), s.Index())
	}
	outcome, ok := s.Outcome()
	require.True(t, ok)
	return outcome
}

func waitCapturing(t *testing.T, recog *fakeSTT) {
	t.Helper()
	require.Eventually(t, recog.Capturing, 2*time.Second, time.Millisecond)
}
