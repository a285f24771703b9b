package stt

import (
	"context"
	"errors"
	"testing"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-gateway/internal/config"
)

func newTestEngine(apiKey string) *DeepgramEngine {
	return NewDeepgramEngine(&config.Config{
		DeepgramAPIKey:             apiKey,
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
	}, zerolog.Nop())
}

func TestDeepgramEngine_MissingKey(t *testing.T) {
	engine := newTestEngine("")
	err := engine.StartCapture(context.Background(), func(Fragment) {}, func(*EngineError) {})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable, got %v", err)
	}
}

func TestDeepgramEngine_Closed(t *testing.T) {
	engine := newTestEngine("key")
	if err := engine.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	err := engine.StartCapture(context.Background(), func(Fragment) {}, func(*EngineError) {})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable after close, got %v", err)
	}
}

func TestDeepgramEngine_SendAudioWithoutCapture(t *testing.T) {
	engine := newTestEngine("key")
	if err := engine.SendAudio([]byte{0xFF}); err != nil {
		t.Errorf("Expected audio to be dropped silently, got %v", err)
	}
}

func TestDeepgramEngine_HandleMessage(t *testing.T) {
	engine := newTestEngine("key")
	var got []Fragment
	c := &capture{onFragment: func(f Fragment) { got = append(got, f) }}

	engine.handleMessage(c, &msginterfaces.MessageResponse{
		IsFinal: true,
		Channel: msginterfaces.Channel{Alternatives: []msginterfaces.Alternative{{
			Transcript: "hello there",
			Confidence: 0.9,
			Words: []msginterfaces.Word{
				{Start: 1.0, End: 1.4},
				{Start: 1.5, End: 2.0},
			},
		}}},
	})
	// Empty transcripts are not fragments
	engine.handleMessage(c, &msginterfaces.MessageResponse{
		Channel: msginterfaces.Channel{Alternatives: []msginterfaces.Alternative{{Transcript: ""}}},
	})
	engine.handleMessage(c, nil)

	if len(got) != 1 {
		t.Fatalf("Expected 1 fragment, got %d", len(got))
	}
	f := got[0]
	if f.Text != "hello there" || !f.IsFinal {
		t.Errorf("Unexpected fragment %+v", f)
	}
	if f.StartTime != 1.0 || f.Duration != 1.0 {
		t.Errorf("Expected timing from words (1.0, 1.0), got (%v, %v)", f.StartTime, f.Duration)
	}
}

func TestCapture_StoppedDropsCallbacks(t *testing.T) {
	fragments, errs := 0, 0
	c := &capture{
		onFragment: func(Fragment) { fragments++ },
		onError:    func(*EngineError) { errs++ },
	}
	c.fragment(Fragment{Text: "a"})
	c.stopped.Store(true)
	c.fragment(Fragment{Text: "b"})
	c.fail(NewEngineError(errors.New("boom")))

	if fragments != 1 || errs != 0 {
		t.Errorf("Expected 1 fragment and no errors, got %d and %d", fragments, errs)
	}
}
