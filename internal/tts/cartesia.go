package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-gateway/internal/audio"
	"github.com/lexiqai/interview-gateway/internal/config"
	"github.com/lexiqai/interview-gateway/internal/observability"
	"github.com/lexiqai/interview-gateway/internal/resilience"
)

const (
	defaultCartesiaURL     = "https://api.cartesia.ai/tts/bytes"
	cartesiaVersion        = "2024-06-10"
	cartesiaSampleRate     = 24000 // Cartesia raw PCM output rate
	cartesiaRequestTimeout = 30 * time.Second
)

// CartesiaRequest represents the request payload for Cartesia TTS API
type CartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        CartesiaVoice        `json:"voice"`
	OutputFormat CartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language,omitempty"`
}

// CartesiaVoice selects a voice by ID
type CartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

// CartesiaOutputFormat describes the raw audio Cartesia returns
type CartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// CartesiaEngine implements Engine and AssetPlayer using Cartesia's TTS API.
// Audio is converted to PCMU and handed to the connection's Sink.
type CartesiaEngine struct {
	config         *config.Config
	apiURL         string
	httpClient     *http.Client
	sink           Sink
	metrics        *observability.Metrics
	logger         zerolog.Logger
	circuitBreaker *resilience.CircuitBreaker
	assets         *AssetLibrary

	mu     sync.Mutex
	cancel context.CancelFunc
}

// CartesiaOption customizes a CartesiaEngine
type CartesiaOption func(*CartesiaEngine)

// WithAPIURL overrides the synthesis endpoint
func WithAPIURL(url string) CartesiaOption {
	return func(c *CartesiaEngine) { c.apiURL = url }
}

// WithHTTPClient overrides the HTTP client used for synthesis
func WithHTTPClient(client *http.Client) CartesiaOption {
	return func(c *CartesiaEngine) { c.httpClient = client }
}

// WithMetrics attaches per-session metrics
func WithMetrics(m *observability.Metrics) CartesiaOption {
	return func(c *CartesiaEngine) { c.metrics = m }
}

// NewCartesiaEngine creates a Cartesia engine that plays into sink
func NewCartesiaEngine(cfg *config.Config, sink Sink, logger zerolog.Logger, opts ...CartesiaOption) *CartesiaEngine {
	c := &CartesiaEngine{
		config:     cfg,
		apiURL:     defaultCartesiaURL,
		httpClient: &http.Client{Timeout: cartesiaRequestTimeout},
		sink:       sink,
		logger:     logger.With().Str("component", "cartesia").Logger(),
		circuitBreaker: resilience.NewCircuitBreaker(
			"cartesia",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		).OnStateChange(func(name string, from, to resilience.CircuitState) {
			observability.UpdateCircuitBreakerState(name, int(to))
		}),
		assets: NewAssetLibrary(cfg.GreetingAssetDir),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Speak synthesizes the utterance and blocks until the sink has played it
func (c *CartesiaEngine) Speak(ctx context.Context, u Utterance) error {
	voice := u.Voice
	if voice == "" {
		voice = c.config.CartesiaVoiceID
	}
	if c.config.CartesiaAPIKey == "" || voice == "" {
		return ErrUnavailable
	}

	ctx, done := c.begin(ctx)
	defer done()

	if c.metrics != nil {
		c.metrics.RecordTTSStart()
	}
	err := c.speak(ctx, u.Text, voice)
	if c.metrics != nil {
		c.metrics.RecordTTSEnd(err == nil)
	}
	return err
}

func (c *CartesiaEngine) speak(ctx context.Context, text, voice string) error {
	var pcm []byte
	err := c.circuitBreaker.Call(func() error {
		var err error
		pcm, err = c.synthesize(ctx, text, voice)
		return err
	})
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			observability.IncrementCircuitBreakerFailures("cartesia")
		}
		return err
	}

	// Cartesia outputs PCM at 24kHz, stream clients expect PCMU at 8kHz
	pcmu, err := audio.ConvertPCMToPCMU(pcm, cartesiaSampleRate, audio.MulawSampleRate)
	if err != nil {
		return fmt.Errorf("failed to convert audio format: %w", err)
	}

	c.logger.Debug().
		Int("pcm_bytes", len(pcm)).
		Int("pcmu_bytes", len(pcmu)).
		Str("voice", voice).
		Msg("Synthesized utterance")

	return c.sink.Play(ctx, &AudioChunk{Data: pcmu, SampleRate: audio.MulawSampleRate, Channels: 1})
}

func (c *CartesiaEngine) synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	reqBody := CartesiaRequest{
		ModelID:    c.config.CartesiaModelID,
		Transcript: text,
		Voice:      CartesiaVoice{Mode: "id", ID: voice},
		OutputFormat: CartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: cartesiaSampleRate,
		},
		Language: "en",
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.config.CartesiaAPIKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("cartesia API returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio response: %w", err)
	}
	if len(audioData) == 0 {
		return nil, errors.New("cartesia returned empty audio data")
	}
	return audioData, nil
}

// PlayAsset plays a prerecorded WAV from the greeting asset directory
func (c *CartesiaEngine) PlayAsset(ctx context.Context, name string) error {
	chunk, err := c.assets.Load(name)
	if err != nil {
		return err
	}

	ctx, done := c.begin(ctx)
	defer done()
	return c.sink.Play(ctx, chunk)
}

// Cancel interrupts synthesis and drops queued audio
func (c *CartesiaEngine) Cancel() error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.sink.Flush()
	return nil
}

// begin registers a cancellable playback; only one is tracked at a time
func (c *CartesiaEngine) begin(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	return ctx, func() {
		cancel()
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
	}
}
