package analytics

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lexiqai/interview-gateway/internal/config"
	"github.com/lexiqai/interview-gateway/internal/observability"
	"github.com/lexiqai/interview-gateway/internal/resilience"
)

const (
	// ServiceName is the fully qualified analytics service, also used for health checks
	ServiceName = "interview.analytics.v1.AnalyticsService"

	scoreMethod = "/" + ServiceName + "/ScoreTranscript"
	breakerName = "analytics"
)

// ErrEmptyTranscript is returned when there is nothing to score
var ErrEmptyTranscript = errors.New("transcript is empty")

// Request is one transcript to score
type Request struct {
	CallID      string
	InterviewID string
	Questions   []string
	Transcript  string
}

// Result is the analytics document returned by the scoring service
type Result map[string]any

// Scorer produces analytics for a finished call
type Scorer interface {
	Score(ctx context.Context, req Request) (Result, error)
}

// Client calls the analytics service over gRPC. Payloads are google.protobuf.Struct
// so the gateway carries no generated stubs.
type Client struct {
	config         *config.Config
	conn           *grpc.ClientConn
	health         healthpb.HealthClient
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
	mu             sync.RWMutex
	closed         bool
}

// NewClient creates a client for cfg.AnalyticsURL. The connection is established lazily.
func NewClient(cfg *config.Config, logger zerolog.Logger) (*Client, error) {
	var opts []grpc.DialOption
	if cfg.AnalyticsTLSEnabled {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	// Keepalive settings for long-lived connections
	opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
		Time:                30 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}))

	conn, err := grpc.NewClient(cfg.AnalyticsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create analytics client for %s: %w", cfg.AnalyticsURL, err)
	}

	cb := resilience.NewCircuitBreaker(
		breakerName,
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	).OnStateChange(func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
		logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
	})

	return &Client{
		config:         cfg,
		conn:           conn,
		health:         healthpb.NewHealthClient(conn),
		circuitBreaker: cb,
		logger:         logger.With().Str("component", "analytics").Logger(),
	}, nil
}

// Score sends the transcript for scoring. The question list is echoed back in
// the result under mainInterviewQuestions.
func (c *Client) Score(ctx context.Context, req Request) (Result, error) {
	if req.Transcript == "" {
		return nil, ErrEmptyTranscript
	}
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("analytics client is closed")
	}

	payload, err := buildPayload(req)
	if err != nil {
		return nil, err
	}

	retryConfig := &resilience.RetryConfig{
		MaxAttempts:       c.config.RetryMaxAttempts,
		InitialBackoff:    time.Duration(c.config.RetryInitialBackoff) * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}

	start := time.Now()
	resp := &structpb.Struct{}
	err = c.circuitBreaker.Call(func() error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, time.Duration(c.config.AnalyticsTimeout)*time.Second)
			defer cancel()
			return c.conn.Invoke(callCtx, scoreMethod, payload, resp)
		}, retryConfig, isRetryableStatus)
	})
	observability.RecordAnalyticsRequest(err == nil)
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			observability.IncrementCircuitBreakerFailures(breakerName)
		}
		return nil, fmt.Errorf("failed to score transcript for %s: %w", req.CallID, err)
	}

	result := Result(resp.AsMap())
	questions := make([]any, len(req.Questions))
	for i, q := range req.Questions {
		questions[i] = q
	}
	result["mainInterviewQuestions"] = questions

	c.logger.Info().
		Str("call_id", req.CallID).
		Dur("latency", time.Since(start)).
		Msg("Transcript scored")
	return result, nil
}

func buildPayload(req Request) (*structpb.Struct, error) {
	questions := make([]any, len(req.Questions))
	for i, q := range req.Questions {
		questions[i] = q
	}
	payload, err := structpb.NewStruct(map[string]any{
		"call_id":      req.CallID,
		"interview_id": req.InterviewID,
		"questions":    questions,
		"transcript":   req.Transcript,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build analytics request: %w", err)
	}
	return payload, nil
}

// HealthCheck reports whether the analytics service is serving
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return false, fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return false, nil
	}

	// A serving probe closes a tripped breaker so scoring resumes before the reset timeout
	if state, requests, failures, rate := c.circuitBreaker.GetStats(); state != resilience.StateClosed {
		c.logger.Info().
			Str("breaker_state", state.String()).
			Int64("requests", requests).
			Int64("failures", failures).
			Float64("failure_rate", rate).
			Msg("Analytics service serving again, closing breaker")
		c.circuitBreaker.Reset()
	}
	return true, nil
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// isRetryableStatus retries transient gRPC codes and plain network errors
func isRetryableStatus(err error) bool {
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return true
		case codes.Unknown:
			return resilience.IsRetryableNetworkError(err)
		default:
			return false
		}
	}
	return resilience.IsRetryableNetworkError(err)
}
