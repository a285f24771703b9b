package analytics

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lexiqai/interview-gateway/internal/config"
	"github.com/lexiqai/interview-gateway/internal/resilience"
)

// fakeScorer is a server-side analytics implementation
type fakeScorer struct {
	mu       sync.Mutex
	requests []map[string]any
	failures int
}

func (f *fakeScorer) score(in *structpb.Struct) (*structpb.Struct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, in.AsMap())
	if f.failures > 0 {
		f.failures--
		return nil, status.Error(codes.Unavailable, "warming up")
	}
	return structpb.NewStruct(map[string]any{"overallScore": 82.0, "communication": map[string]any{"score": 7.0}})
}

func (f *fakeScorer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func startServer(t *testing.T, scorer *fakeScorer) (string, *health.Server) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := grpc.NewServer()
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "ScoreTranscript",
			Handler: func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				in := &structpb.Struct{}
				if err := dec(in); err != nil {
					return nil, err
				}
				return scorer.score(in)
			},
		}},
	}, scorer)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)

	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)
	return lis.Addr().String(), healthServer
}

func testConfig(addr string) *config.Config {
	return &config.Config{
		AnalyticsURL:               addr,
		AnalyticsTimeout:           5,
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
		RetryMaxAttempts:           3,
		RetryInitialBackoff:        1,
	}
}

func newTestClient(t *testing.T, addr string) *Client {
	t.Helper()
	client, err := NewClient(testConfig(addr), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClient_Score(t *testing.T) {
	scorer := &fakeScorer{}
	addr, _ := startServer(t, scorer)
	client := newTestClient(t, addr)

	result, err := client.Score(context.Background(), Request{
		CallID:      "call_1",
		InterviewID: "iv-1",
		Questions:   []string{"Q1", "Q2"},
		Transcript:  "agent: Q1\nuser: A1",
	})
	require.NoError(t, err)
	assert.Equal(t, 82.0, result["overallScore"])
	assert.Equal(t, []any{"Q1", "Q2"}, result["mainInterviewQuestions"])

	require.Equal(t, 1, scorer.calls())
	sent := scorer.requests[0]
	assert.Equal(t, "call_1", sent["call_id"])
	assert.Equal(t, "agent: Q1\nuser: A1", sent["transcript"])
	assert.Equal(t, []any{"Q1", "Q2"}, sent["questions"])
}

func TestClient_ScoreRetriesUnavailable(t *testing.T) {
	scorer := &fakeScorer{failures: 2}
	addr, _ := startServer(t, scorer)
	client := newTestClient(t, addr)

	_, err := client.Score(context.Background(), Request{CallID: "call_1", Transcript: "agent: hi"})
	require.NoError(t, err)
	assert.Equal(t, 3, scorer.calls())
}

func TestClient_ScoreGivesUp(t *testing.T) {
	scorer := &fakeScorer{failures: 10}
	addr, _ := startServer(t, scorer)
	client := newTestClient(t, addr)

	_, err := client.Score(context.Background(), Request{CallID: "call_1", Transcript: "agent: hi"})
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Equal(t, 3, scorer.calls())
}

func TestClient_EmptyTranscript(t *testing.T) {
	client := newTestClient(t, "127.0.0.1:1")
	_, err := client.Score(context.Background(), Request{CallID: "call_1"})
	assert.ErrorIs(t, err, ErrEmptyTranscript)
}

func TestClient_HealthCheck(t *testing.T) {
	addr, healthServer := startServer(t, &fakeScorer{})
	client := newTestClient(t, addr)

	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	ok, err := client.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	ok, err = client.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_HealthCheckClosesBreaker(t *testing.T) {
	addr, healthServer := startServer(t, &fakeScorer{})
	client := newTestClient(t, addr)

	for i := 0; i < testConfig(addr).CircuitBreakerMaxFailures; i++ {
		client.circuitBreaker.RecordResult(false)
	}
	require.Equal(t, resilience.StateOpen, client.circuitBreaker.GetState())

	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	ok, err := client.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, resilience.StateOpen, client.circuitBreaker.GetState())

	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	ok, err = client.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, resilience.StateClosed, client.circuitBreaker.GetState())

	_, err = client.Score(context.Background(), Request{CallID: "call_1", Transcript: "agent: Q1\nuser: yes"})
	assert.NoError(t, err)
}

func TestIsRetryableStatus(t *testing.T) {
	assert.True(t, isRetryableStatus(status.Error(codes.Unavailable, "x")))
	assert.True(t, isRetryableStatus(status.Error(codes.DeadlineExceeded, "x")))
	assert.False(t, isRetryableStatus(status.Error(codes.InvalidArgument, "x")))
	assert.False(t, isRetryableStatus(status.Error(codes.Unknown, "bad transcript")))
	assert.True(t, isRetryableStatus(status.Error(codes.Unknown, "connection reset by peer")))
}
