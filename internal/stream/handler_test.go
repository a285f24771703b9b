package stream

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/interview-gateway/internal/calls"
	"github.com/lexiqai/interview-gateway/internal/config"
	"github.com/lexiqai/interview-gateway/internal/interview"
	"github.com/lexiqai/interview-gateway/internal/observability"
	"github.com/lexiqai/interview-gateway/internal/responses"
	"github.com/lexiqai/interview-gateway/internal/stt"
	"github.com/lexiqai/interview-gateway/internal/tts"
)

// echoSTT turns audio into one final fragment. Audio that arrives just before
// a capture starts is answered once the capture is open.
type echoSTT struct {
	mu         sync.Mutex
	onFragment stt.FragmentFunc
	pending    bool
}

func (e *echoSTT) StartCapture(ctx context.Context, onFragment stt.FragmentFunc, onError stt.ErrorFunc) error {
	e.mu.Lock()
	e.onFragment = onFragment
	pending := e.pending
	e.pending = false
	e.mu.Unlock()
	if pending {
		go func() { _ = e.SendAudio(nil) }()
	}
	return nil
}

func (e *echoSTT) StopCapture() error {
	e.mu.Lock()
	e.onFragment = nil
	e.mu.Unlock()
	return nil
}

func (e *echoSTT) SendAudio(data []byte) error {
	e.mu.Lock()
	fn := e.onFragment
	if fn == nil {
		e.pending = true
	}
	e.mu.Unlock()
	if fn != nil {
		fn(stt.Fragment{Text: "my answer", IsFinal: true})
	}
	return nil
}

func (e *echoSTT) Close() error { return e.StopCapture() }

// sinkTTS plays a short tone for every utterance
type sinkTTS struct {
	sink tts.Sink
}

func (s *sinkTTS) Speak(ctx context.Context, u tts.Utterance) error {
	return s.sink.Play(ctx, &tts.AudioChunk{Data: bytes.Repeat([]byte{0xFF}, 320), SampleRate: 8000, Channels: 1})
}

func (s *sinkTTS) Cancel() error {
	s.sink.Flush()
	return nil
}

func fakeEngines(sink tts.Sink, logger zerolog.Logger, metrics *observability.Metrics) interview.Engines {
	return interview.Engines{STT: &echoSTT{}, TTS: &sinkTTS{sink: sink}}
}

type harness struct {
	server  *httptest.Server
	service *calls.Service
	store   *responses.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &config.Config{
		DefaultTimeLimitSeconds: 60,
		AudioBufferSize:         4096,
	}
	store := responses.NewMemoryStore()
	service := calls.NewService(cfg, store, nil, zerolog.Nop())

	handler := NewHandler(cfg, service, fakeEngines)
	handler.options = func() interview.Options {
		logger := zerolog.Nop()
		return interview.Options{
			SilenceWindow: 20 * time.Millisecond,
			AnswerTimeout: 2 * time.Second,
			Tick:          10 * time.Millisecond,
			Logger:        &logger,
		}
	}

	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		_ = service.Shutdown(context.Background())
		server.Close()
	})
	return &harness{server: server, service: service, store: store}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (h *harness) register(t *testing.T) string {
	t.Helper()
	resp, err := h.service.Register(context.Background(), calls.RegisterRequest{InterviewID: "iv-1"})
	require.NoError(t, err)
	return resp.CallID
}

func startMessage(callID string, questions ...string) Message {
	return Message{
		Event: EventStart,
		Start: &Start{
			StreamSid: "MZ1",
			CallID:    callID,
			Interview: calls.Interview{Questions: questions},
		},
	}
}

// readUntilClosed collects messages, answering each user turn with one media frame
func readUntilClosed(t *testing.T, conn *websocket.Conn, answer bool) ([]Message, *websocket.CloseError) {
	t.Helper()
	var out []Message
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			closeErr, ok := err.(*websocket.CloseError)
			if !ok {
				t.Fatalf("read failed: %v", err)
			}
			return out, closeErr
		}
		out = append(out, msg)

		if answer && msg.Event == EventSession && msg.Session.Kind == string(interview.EventUserTurnBegan) {
			payload := base64.StdEncoding.EncodeToString([]byte{0x7F, 0x7F})
			require.NoError(t, conn.WriteJSON(Message{Event: EventMedia, StreamSid: "MZ1", Media: &Media{Payload: payload}}))
		}
	}
}

func sessionKinds(msgs []Message) []string {
	var out []string
	for _, m := range msgs {
		if m.Event == EventSession && m.Session.Kind != string(interview.EventTick) {
			out = append(out, m.Session.Kind)
		}
	}
	return out
}

func TestHandler_FullInterview(t *testing.T) {
	h := newHarness(t)
	callID := h.register(t)
	conn := h.dial(t)

	require.NoError(t, conn.WriteJSON(Message{Event: EventConnected}))
	require.NoError(t, conn.WriteJSON(startMessage(callID, "Tell me about yourself")))

	msgs, closeErr := readUntilClosed(t, conn, true)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, "completed", closeErr.Text)

	kinds := sessionKinds(msgs)
	require.NotEmpty(t, kinds)
	assert.Equal(t, string(interview.EventStarted), kinds[0])
	assert.Equal(t, string(interview.EventEnded), kinds[len(kinds)-1])

	var entries []string
	media := 0
	for _, m := range msgs {
		switch {
		case m.Event == EventMedia:
			media++
			assert.Equal(t, "MZ1", m.StreamSid)
		case m.Event == EventSession && m.Session.Kind == string(interview.EventTranscriptUpdated):
			entries = append(entries, m.Session.Role+": "+m.Session.Text)
		}
	}
	assert.Equal(t, []string{"agent: Tell me about yourself", "user: my answer"}, entries)
	assert.Greater(t, media, 0)

	require.Eventually(t, func() bool {
		resp, err := h.store.GetResponseByCallID(context.Background(), callID)
		return err == nil && resp.IsEnded
	}, 3*time.Second, 10*time.Millisecond)
	resp, err := h.store.GetResponseByCallID(context.Background(), callID)
	require.NoError(t, err)
	assert.Equal(t, "completed", resp.EndReason)
	assert.Equal(t, "agent: Tell me about yourself\nuser: my answer", resp.Details.Transcript)
}

func TestHandler_UnknownCall(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	require.NoError(t, conn.WriteJSON(startMessage("call_missing", "Q1")))
	msgs, closeErr := readUntilClosed(t, conn, false)

	require.Len(t, msgs, 1)
	assert.Equal(t, EventError, msgs[0].Event)
	assert.Contains(t, msgs[0].Error, "not found")
	assert.Equal(t, websocket.CloseInternalServerErr, closeErr.Code)
}

func TestHandler_InvalidInterview(t *testing.T) {
	h := newHarness(t)
	callID := h.register(t)
	conn := h.dial(t)

	require.NoError(t, conn.WriteJSON(startMessage(callID)))
	msgs, _ := readUntilClosed(t, conn, false)

	require.Len(t, msgs, 1)
	assert.Equal(t, EventError, msgs[0].Event)
	assert.Contains(t, msgs[0].Error, "no questions")
}

func TestHandler_StopEndsCall(t *testing.T) {
	h := newHarness(t)
	callID := h.register(t)
	conn := h.dial(t)

	require.NoError(t, conn.WriteJSON(startMessage(callID, "Q1", "Q2")))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Event == EventSession && msg.Session.Kind == string(interview.EventUserTurnBegan) {
			break
		}
	}
	require.NoError(t, conn.WriteJSON(Message{Event: EventStop, StreamSid: "MZ1"}))

	require.Eventually(t, func() bool {
		resp, err := h.store.GetResponseByCallID(context.Background(), callID)
		return err == nil && resp.IsEnded
	}, 3*time.Second, 10*time.Millisecond)
	resp, err := h.store.GetResponseByCallID(context.Background(), callID)
	require.NoError(t, err)
	assert.Equal(t, "user-ended", resp.EndReason)
	assert.Equal(t, "agent: Q1", resp.Details.Transcript)
}

func TestHandler_DisconnectEndsCall(t *testing.T) {
	h := newHarness(t)
	callID := h.register(t)
	conn := h.dial(t)

	require.NoError(t, conn.WriteJSON(startMessage(callID, "Q1")))
	require.Eventually(t, func() bool { return h.service.ActiveSessions() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		resp, err := h.store.GetResponseByCallID(context.Background(), callID)
		return err == nil && resp.IsEnded && resp.EndReason == "user-ended"
	}, 3*time.Second, 10*time.Millisecond)
}
