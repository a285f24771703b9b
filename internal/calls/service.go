package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/lexiqai/interview-gateway/internal/analytics"
	"github.com/lexiqai/interview-gateway/internal/config"
	"github.com/lexiqai/interview-gateway/internal/interview"
	"github.com/lexiqai/interview-gateway/internal/resilience"
	"github.com/lexiqai/interview-gateway/internal/responses"
)

const finishTimeout = 2 * time.Minute

var (
	// ErrInvalidRequest is returned for malformed registration or start parameters
	ErrInvalidRequest = errors.New("invalid call request")

	// ErrCallEnded is returned when a session is started for a call that already ended
	ErrCallEnded = errors.New("call already ended")

	// ErrCallActive is returned when a call already has a running session
	ErrCallActive = errors.New("call already has an active session")
)

// RegisterRequest registers a respondent for an interview
type RegisterRequest struct {
	InterviewID string `json:"interview_id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
}

// Interview is the per-call interview definition supplied when the stream starts
type Interview struct {
	InterviewID     string   `json:"interview_id"`
	Questions       []string `json:"questions"`
	Interviewer     string   `json:"interviewer"`
	DurationMinutes int      `json:"duration_minutes"`
}

// Notifier receives call lifecycle events after they are persisted
type Notifier interface {
	Notify(ctx context.Context, event string, resp responses.Response) error
}

// Lifecycle events passed to a Notifier
const (
	EventEnded    = "ended"
	EventAnalysed = "analysed"
)

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithNotifier publishes ended and analysed events to n
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) {
		s.notifier = n
	}
}

// Service owns call registration, session start and the post-call pipeline
type Service struct {
	config   *config.Config
	store    responses.Store
	scorer   analytics.Scorer
	catalog  interview.Catalog
	notifier Notifier
	logger   zerolog.Logger

	mu       sync.Mutex
	active   map[string]*interview.Session
	pipeline sync.WaitGroup
	analyses singleflight.Group
}

// NewService creates a call service. scorer may be nil, in which case calls are never analysed.
func NewService(cfg *config.Config, store responses.Store, scorer analytics.Scorer, logger zerolog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		config:  cfg,
		store:   store,
		scorer:  scorer,
		catalog: interview.NewCatalog(cfg),
		logger:  logger.With().Str("component", "calls").Logger(),
		active:  make(map[string]*interview.Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register issues a call ID and creates the response record for it
func (s *Service) Register(ctx context.Context, req RegisterRequest) (responses.Response, error) {
	if strings.TrimSpace(req.InterviewID) == "" {
		return responses.Response{}, fmt.Errorf("%w: interview_id is required", ErrInvalidRequest)
	}

	callID := NewCallID()
	resp, err := s.store.CreateResponse(ctx, responses.NewResponse{
		InterviewID: req.InterviewID,
		CallID:      callID,
		Name:        strings.TrimSpace(req.Name),
		Email:       strings.TrimSpace(req.Email),
	})
	if err != nil {
		return responses.Response{}, fmt.Errorf("failed to register call: %w", err)
	}

	s.logger.Info().Str("call_id", callID).Str("interview_id", req.InterviewID).Msg("Call registered")
	return resp, nil
}

// NewCallID returns a fresh call identifier
func NewCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Get returns the stored response. An ended call that has not been analysed is
// analysed first; analytics already stored are returned as they are.
func (s *Service) Get(ctx context.Context, callID string) (responses.Response, error) {
	resp, err := s.store.GetResponseByCallID(ctx, callID)
	if err != nil {
		return responses.Response{}, err
	}
	if !resp.IsEnded || resp.IsAnalysed || s.scorer == nil {
		return resp, nil
	}

	analysed, err := s.analyse(ctx, callID)
	if err != nil {
		s.logger.Warn().Err(err).Str("call_id", callID).Msg("Analytics unavailable, returning stored response")
		return resp, nil
	}
	return analysed, nil
}

// StartSession starts the interview for a registered call. The session ends when
// ctx is cancelled; its outcome is persisted and analysed in the background.
func (s *Service) StartSession(ctx context.Context, callID string, iv Interview, engines interview.Engines, opts interview.Options) (*interview.Session, error) {
	if callID == "" {
		return nil, fmt.Errorf("%w: call_id is required", ErrInvalidRequest)
	}
	resp, err := s.store.GetResponseByCallID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if resp.IsEnded {
		return nil, fmt.Errorf("%w: %s", ErrCallEnded, callID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[callID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrCallActive, callID)
	}

	limit := iv.DurationMinutes * 60
	if limit <= 0 {
		limit = s.config.DefaultTimeLimitSeconds
	}

	session, err := interview.Start(ctx, interview.Config{
		Questions:        iv.Questions,
		Interviewer:      s.catalog.Find(iv.Interviewer),
		TimeLimitSeconds: limit,
		CallID:           callID,
	}, engines, opts)
	if err != nil {
		return nil, err
	}

	s.active[callID] = session
	s.pipeline.Add(1)
	go s.watch(session)
	return session, nil
}

func (s *Service) watch(session *interview.Session) {
	defer s.pipeline.Done()
	<-session.Done()

	s.mu.Lock()
	delete(s.active, session.CallID())
	s.mu.Unlock()

	outcome, _ := session.Outcome()
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()
	s.finish(ctx, outcome, session.Questions())
}

// finish persists the outcome and then analyses it
func (s *Service) finish(ctx context.Context, outcome interview.Outcome, questions []string) {
	logger := s.logger.With().Str("call_id", outcome.CallID).Str("session_id", outcome.SessionID).Logger()

	patch := responses.Patch{
		IsEnded:   responses.Bool(true),
		Duration:  responses.Int(int(outcome.Duration.Round(time.Second) / time.Second)),
		EndReason: responses.String(string(outcome.Reason)),
		Details: &responses.Details{
			Transcript: outcome.FormattedTranscript(),
			Questions:  questions,
		},
	}
	var saved responses.Response
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		var err error
		saved, err = s.store.SaveResponse(ctx, patch, outcome.CallID)
		return err
	}, resilience.DefaultRetryConfig(), isRetryableStoreError)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to save call outcome")
		return
	}
	logger.Info().
		Str("reason", string(outcome.Reason)).
		Int("entries", len(outcome.Transcript)).
		Msg("Call outcome saved")
	s.notify(ctx, EventEnded, saved)

	if s.scorer == nil || len(outcome.Transcript) == 0 {
		return
	}
	if _, err := s.analyse(ctx, outcome.CallID); err != nil {
		logger.Warn().Err(err).Msg("Call analysis failed")
	}
}

// analyse scores a stored call once; concurrent requests for the same call share one run
func (s *Service) analyse(ctx context.Context, callID string) (responses.Response, error) {
	v, err, _ := s.analyses.Do(callID, func() (any, error) {
		resp, err := s.store.GetResponseByCallID(ctx, callID)
		if err != nil {
			return responses.Response{}, err
		}
		if resp.IsAnalysed && resp.Analytics != nil {
			return resp, nil
		}

		result, err := s.scorer.Score(ctx, analytics.Request{
			CallID:      callID,
			InterviewID: resp.InterviewID,
			Questions:   resp.Details.Questions,
			Transcript:  resp.Details.Transcript,
		})
		if err != nil {
			return responses.Response{}, err
		}

		saved, err := s.store.SaveResponse(ctx, responses.Patch{
			IsAnalysed: responses.Bool(true),
			Analytics:  responses.Analytics(result),
		}, callID)
		if err != nil {
			return responses.Response{}, err
		}
		s.notify(ctx, EventAnalysed, saved)
		return saved, nil
	})
	if err != nil {
		return responses.Response{}, err
	}
	return v.(responses.Response), nil
}

func (s *Service) notify(ctx context.Context, event string, resp responses.Response) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, resp); err != nil {
		s.logger.Warn().Err(err).Str("call_id", resp.CallID).Str("event", event).Msg("Failed to publish call event")
	}
}

// ActiveSessions returns the number of running sessions
func (s *Service) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Shutdown ends every running session and waits for their outcomes to be saved
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	sessions := make([]*interview.Session, 0, len(s.active))
	for _, session := range s.active {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		session.End(interview.ReasonUserEnded)
	}

	done := make(chan struct{})
	go func() {
		s.pipeline.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isRetryableStoreError(err error) bool {
	if errors.Is(err, responses.ErrNotFound) {
		return false
	}
	return resilience.IsRetryableNetworkError(err)
}
