package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-gateway/internal/config"
	"github.com/lexiqai/interview-gateway/internal/observability"
	"github.com/lexiqai/interview-gateway/internal/resilience"
)

// capture is one recognition stream. Callbacks are dropped once stopped is set.
type capture struct {
	onFragment FragmentFunc
	onError    ErrorFunc
	cancel     context.CancelFunc
	stopped    atomic.Bool
}

func (c *capture) fragment(f Fragment) {
	if !c.stopped.Load() {
		c.onFragment(f)
	}
}

func (c *capture) fail(err *EngineError) {
	if !c.stopped.Load() {
		c.onError(err)
	}
}

// messageCallbackHandler implements the LiveMessageCallback interface
// It embeds the default handler and overrides only the methods we need to customize
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	engine  *DeepgramEngine
	capture *capture
}

// Message routes transcription results to the active capture
func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.engine.handleMessage(m.capture, message)
	return nil
}

// Error classifies Deepgram errors and reports them to the active capture
func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if errorResponse == nil {
		return nil
	}
	err := fmt.Errorf("deepgram %s: %s", errorResponse.ErrCode,
		strings.TrimSpace(errorResponse.ErrMsg+" "+errorResponse.Description))

	m.engine.circuitBreaker.RecordResult(false)
	observability.IncrementCircuitBreakerFailures("deepgram")

	engineErr := NewEngineError(err)
	m.engine.logger.Warn().Err(err).Str("kind", engineErr.Kind.String()).Msg("Deepgram error")
	m.capture.fail(engineErr)
	return nil
}

// DeepgramEngine implements Engine using Deepgram's streaming API
type DeepgramEngine struct {
	config         *config.Config
	logger         zerolog.Logger
	circuitBreaker *resilience.CircuitBreaker

	mu      sync.Mutex
	client  *listenClient.WSCallback
	current *capture
	closed  bool
}

// NewDeepgramEngine creates a Deepgram engine; no connection is made until StartCapture
func NewDeepgramEngine(cfg *config.Config, logger zerolog.Logger) *DeepgramEngine {
	circuitBreaker := resilience.NewCircuitBreaker(
		"deepgram",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	).OnStateChange(func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
	})

	return &DeepgramEngine{
		config:         cfg,
		logger:         logger.With().Str("component", "deepgram").Logger(),
		circuitBreaker: circuitBreaker,
	}
}

// StartCapture opens a new Deepgram live transcription stream
func (d *DeepgramEngine) StartCapture(ctx context.Context, onFragment FragmentFunc, onError ErrorFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("deepgram engine closed: %w", ErrUnavailable)
	}
	if d.current != nil {
		return fmt.Errorf("deepgram capture is already active")
	}
	if d.config.DeepgramAPIKey == "" {
		return fmt.Errorf("missing Deepgram API key: %w", ErrUnavailable)
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.config.DeepgramModel,
		Language:       d.config.DeepgramLanguage,
		Punctuate:      true,
		InterimResults: true,
		SmartFormat:    true,
		VadEvents:      true,
		Encoding:       "mulaw", // G.711 PCMU from the stream client
		Channels:       1,
		SampleRate:     8000,
	}

	captureCtx, cancel := context.WithCancel(ctx)
	c := &capture{onFragment: onFragment, onError: onError, cancel: cancel}
	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		engine:                 d,
		capture:                c,
	}

	err := d.circuitBreaker.Call(func() error {
		client, err := listenClient.NewWSUsingCallback(
			captureCtx,
			d.config.DeepgramAPIKey,
			&interfaces.ClientOptions{EnableKeepAlive: true},
			tOptions,
			callback,
		)
		if err != nil {
			return fmt.Errorf("failed to create Deepgram client: %w", err)
		}
		if !client.Connect() {
			return resilience.NewRetryableError(errors.New("failed to connect to Deepgram: network unavailable"))
		}
		d.client = client
		return nil
	})
	if err != nil {
		cancel()
		return err
	}

	d.current = c
	d.logger.Debug().
		Str("model", d.config.DeepgramModel).
		Str("language", d.config.DeepgramLanguage).
		Msg("Deepgram capture started")
	return nil
}

// handleMessage converts Deepgram results into fragments
func (d *DeepgramEngine) handleMessage(c *capture, msg *msginterfaces.MessageResponse) {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return
	}

	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return
	}

	startTime := msg.Start
	duration := msg.Duration
	if len(alt.Words) > 0 && duration == 0 {
		// Fallback: calculate duration from words if not provided
		startTime = alt.Words[0].Start
		duration = alt.Words[len(alt.Words)-1].End - startTime
	}

	c.fragment(Fragment{
		Text:       alt.Transcript,
		IsFinal:    msg.IsFinal,
		Confidence: alt.Confidence,
		StartTime:  startTime,
		Duration:   duration,
	})
}

// SendAudio forwards audio to the live stream; it is dropped while not capturing
func (d *DeepgramEngine) SendAudio(audioData []byte) error {
	d.mu.Lock()
	client := d.client
	c := d.current
	d.mu.Unlock()

	if client == nil || c == nil {
		return nil
	}

	err := d.circuitBreaker.Call(func() error {
		if _, err := client.Write(audioData); err != nil {
			return fmt.Errorf("failed to send audio to Deepgram: %w", err)
		}
		return nil
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		observability.IncrementCircuitBreakerFailures("deepgram")
		// A failed write means the socket is gone; let the listener restart it
		c.fail(&EngineError{Kind: ErrorNetwork, Err: err})
	}
	return err
}

// StopCapture finishes the current stream and silences its callbacks
func (d *DeepgramEngine) StopCapture() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current == nil {
		return nil
	}

	d.current.stopped.Store(true)
	if d.client != nil {
		d.client.Finish()
	}
	d.current.cancel()
	d.current = nil
	d.client = nil

	d.logger.Debug().Msg("Deepgram capture stopped")
	return nil
}

// Close stops any capture and rejects further use
func (d *DeepgramEngine) Close() error {
	if err := d.StopCapture(); err != nil {
		return err
	}
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}
