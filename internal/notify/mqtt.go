package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-gateway/internal/config"
	"github.com/lexiqai/interview-gateway/internal/responses"
)

const (
	publishQoS     = 1
	publishTimeout = 5 * time.Second
	disconnectMs   = 250
)

// ErrPublishTimeout is returned when the broker does not acknowledge a publish in time
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// Payload is the JSON body of a call lifecycle event
type Payload struct {
	Event       string              `json:"event"`
	CallID      string              `json:"call_id"`
	InterviewID string              `json:"interview_id"`
	IsEnded     bool                `json:"is_ended"`
	IsAnalysed  bool                `json:"is_analysed"`
	Duration    int                 `json:"duration"`
	EndReason   string              `json:"end_reason,omitempty"`
	Analytics   responses.Analytics `json:"analytics,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
}

// NewPayload builds the event body from a stored response
func NewPayload(event string, resp responses.Response, now time.Time) Payload {
	p := Payload{
		Event:       event,
		CallID:      resp.CallID,
		InterviewID: resp.InterviewID,
		IsEnded:     resp.IsEnded,
		IsAnalysed:  resp.IsAnalysed,
		Duration:    resp.Duration,
		EndReason:   resp.EndReason,
		Timestamp:   now.UTC(),
	}
	if event == EventAnalysed {
		p.Analytics = resp.Analytics
	}
	return p
}

// MQTTNotifier publishes call lifecycle events to an MQTT broker
type MQTTNotifier struct {
	client paho.Client
	prefix string
	logger zerolog.Logger
}

// NewMQTTNotifier connects to the configured broker. The client reconnects on its own afterwards.
func NewMQTTNotifier(cfg *config.Config, logger zerolog.Logger) (*MQTTNotifier, error) {
	if cfg.MQTTBrokerURL == "" {
		return nil, fmt.Errorf("MQTT_BROKER_URL is not set")
	}
	logger = logger.With().Str("component", "notify").Logger()

	opts := paho.NewClientOptions().
		AddBroker(cfg.MQTTBrokerURL).
		SetClientID(cfg.MQTTClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Error().Err(err).Msg("MQTT connection lost")
	})
	opts.SetOnConnectHandler(func(_ paho.Client) {
		logger.Info().Str("broker", cfg.MQTTBrokerURL).Msg("MQTT connected")
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		// ConnectRetry keeps trying in the background; publishes queue until then
		logger.Warn().Str("broker", cfg.MQTTBrokerURL).Msg("MQTT broker not reachable yet")
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	return newMQTTNotifier(client, cfg.MQTTTopicPrefix, logger), nil
}

func newMQTTNotifier(client paho.Client, prefix string, logger zerolog.Logger) *MQTTNotifier {
	return &MQTTNotifier{client: client, prefix: prefix, logger: logger}
}

// Notify publishes event for resp on <prefix>/calls/<call_id>/<event>
func (n *MQTTNotifier) Notify(ctx context.Context, event string, resp responses.Response) error {
	body, err := json.Marshal(NewPayload(event, resp, time.Now()))
	if err != nil {
		return err
	}

	topic := TopicCall(n.prefix, resp.CallID, event)
	token := n.client.Publish(topic, publishQoS, false, body)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}

	n.logger.Debug().Str("topic", topic).Msg("Call event published")
	return nil
}

// Close disconnects from the broker
func (n *MQTTNotifier) Close() {
	n.client.Disconnect(disconnectMs)
}
