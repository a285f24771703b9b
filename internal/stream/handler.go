package stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-gateway/internal/calls"
	"github.com/lexiqai/interview-gateway/internal/config"
	"github.com/lexiqai/interview-gateway/internal/interview"
	"github.com/lexiqai/interview-gateway/internal/observability"
	"github.com/lexiqai/interview-gateway/internal/stt"
	"github.com/lexiqai/interview-gateway/internal/tts"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	// Origin checks are left to the fronting proxy
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// EngineFactory builds the speech engines for one connection; TTS audio goes to sink
type EngineFactory func(sink tts.Sink, logger zerolog.Logger, metrics *observability.Metrics) interview.Engines

// DefaultEngines uses Deepgram for recognition and Cartesia for synthesis
func DefaultEngines(cfg *config.Config) EngineFactory {
	return func(sink tts.Sink, logger zerolog.Logger, metrics *observability.Metrics) interview.Engines {
		return interview.Engines{
			STT: stt.NewDeepgramEngine(cfg, logger),
			TTS: tts.NewCartesiaEngine(cfg, sink, logger, tts.WithMetrics(metrics)),
		}
	}
}

// Handler serves the interview media socket
type Handler struct {
	config     *config.Config
	service    *calls.Service
	newEngines EngineFactory
	options    func() interview.Options
}

// NewHandler creates a media socket handler
func NewHandler(cfg *config.Config, service *calls.Service, engines EngineFactory) *Handler {
	return &Handler{
		config:     cfg,
		service:    service,
		newEngines: engines,
		options:    func() interview.Options { return interview.OptionsFromConfig(cfg) },
	}
}

// ServeHTTP upgrades the request and runs the connection until the call ends
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		logger := observability.GetLogger()
		logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	// Hijacked connections keep the server's read deadline
	_ = conn.SetReadDeadline(time.Time{})

	correlationID := observability.NewCorrelationID()
	c := &connection{
		handler: h,
		conn:    conn,
		logger:  observability.WithCorrelationID(correlationID),
		metrics: observability.NewSessionMetrics(correlationID),
	}
	c.run()
}

// connection is one media socket. Reads happen on run's goroutine; writes are
// serialized by writeMu since session events, audio frames and the read loop all write.
type connection struct {
	handler *Handler
	conn    *websocket.Conn
	logger  zerolog.Logger
	metrics *observability.Metrics

	writeMu   sync.Mutex
	mu        sync.RWMutex
	streamSid string
	session   *interview.Session
	engines   interview.Engines
	closeOnce sync.Once
}

func (c *connection) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.shutdown()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Error().Err(err).Msg("Failed to parse stream message")
			continue
		}

		switch msg.Event {
		case EventConnected:
			c.logger.Debug().Msg("Stream connected")

		case EventStart:
			if err := c.start(ctx, msg); err != nil {
				c.logger.Error().Err(err).Msg("Failed to start interview")
				c.writeJSON(Message{Event: EventError, StreamSid: c.sid(), Error: err.Error()})
				c.close(websocket.CloseInternalServerErr, "interview could not start")
				return
			}

		case EventMedia:
			if msg.Media != nil {
				c.handleMedia(msg.Media)
			}

		case EventStop:
			c.logger.Info().Msg("Stream stopped by client")
			if session := c.currentSession(); session != nil {
				session.End(interview.ReasonUserEnded)
			}
			return

		default:
			c.logger.Debug().Str("event", msg.Event).Msg("Unknown stream event")
		}
	}
}

func (c *connection) start(ctx context.Context, msg Message) error {
	if c.currentSession() != nil {
		return errors.New("interview already started on this stream")
	}
	if msg.Start == nil {
		return errors.New("start event has no payload")
	}

	sid := msg.Start.StreamSid
	if sid == "" {
		sid = msg.StreamSid
	}
	c.mu.Lock()
	c.streamSid = sid
	c.logger = c.logger.With().Str("stream_sid", sid).Str("call_id", msg.Start.CallID).Logger()
	c.mu.Unlock()

	sink := NewSink(c.handler.config.AudioBufferSize, c.sendAudio, c.sendClear)
	engines := c.handler.newEngines(sink, c.logger, c.metrics)

	opts := c.handler.options()
	opts.OnEvent = c.forward
	opts.Metrics = c.metrics
	logger := c.logger
	opts.Logger = &logger

	session, err := c.handler.service.StartSession(ctx, msg.Start.CallID, msg.Start.Interview, engines, opts)
	if err != nil {
		if engines.STT != nil {
			_ = engines.STT.Close()
		}
		return err
	}

	c.mu.Lock()
	c.session = session
	c.engines = engines
	c.mu.Unlock()

	c.logger.Info().Str("session_id", session.ID()).Msg("Interview started on stream")
	return nil
}

func (c *connection) handleMedia(media *Media) {
	data, err := base64.StdEncoding.DecodeString(media.data())
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to decode media payload")
		return
	}

	c.mu.RLock()
	recognizer := c.engines.STT
	c.mu.RUnlock()
	if recognizer == nil || len(data) == 0 {
		return
	}

	c.metrics.RecordAudioBytes("in", int64(len(data)))
	if err := recognizer.SendAudio(data); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to forward audio to recognizer")
		c.metrics.RecordError("stt_send_error", "stream")
	}
}

// forward relays session events to the client; the socket closes after ended
func (c *connection) forward(e interview.Event) {
	c.writeJSON(Message{Event: EventSession, StreamSid: c.sid(), Session: newSessionEvent(e)})
	if e.Kind == interview.EventEnded {
		c.close(websocket.CloseNormalClosure, string(e.Reason))
	}
}

func (c *connection) sendAudio(frame []byte) error {
	c.metrics.RecordAudioBytes("out", int64(len(frame)))
	return c.writeJSON(Message{
		Event:     EventMedia,
		StreamSid: c.sid(),
		Media:     &Media{Payload: base64.StdEncoding.EncodeToString(frame)},
	})
}

func (c *connection) sendClear() {
	_ = c.writeJSON(Message{Event: EventClear, StreamSid: c.sid()})
}

func (c *connection) writeJSON(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(msg)
}

// close sends a close frame and closes the socket, which ends the read loop
func (c *connection) close(code int, text string) {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeTimeout))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}

// shutdown ends the session if the socket went away first and releases the engines
func (c *connection) shutdown() {
	c.mu.RLock()
	session := c.session
	engines := c.engines
	c.mu.RUnlock()

	if session != nil {
		session.End(interview.ReasonUserEnded)
	}
	if engines.STT != nil {
		if err := engines.STT.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to close recognizer")
		}
	}
	c.close(websocket.CloseNormalClosure, "")
}

func (c *connection) sid() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streamSid
}

func (c *connection) currentSession() *interview.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}
