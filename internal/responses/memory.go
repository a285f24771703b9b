package responses

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps responses in process memory. It is used when no database is configured.
type MemoryStore struct {
	mu        sync.RWMutex
	responses map[string]Response
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{responses: make(map[string]Response)}
}

func (s *MemoryStore) CreateResponse(ctx context.Context, r NewResponse) (Response, error) {
	if r.CallID == "" {
		return Response{}, fmt.Errorf("call ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.responses[r.CallID]; ok {
		return Response{}, fmt.Errorf("%w: %s", ErrDuplicate, r.CallID)
	}
	now := time.Now().UTC()
	resp := Response{
		InterviewID: r.InterviewID,
		CallID:      r.CallID,
		Name:        strings.TrimSpace(r.Name),
		Email:       strings.TrimSpace(r.Email),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.responses[r.CallID] = resp
	return resp, nil
}

func (s *MemoryStore) SaveResponse(ctx context.Context, patch Patch, callID string) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, ok := s.responses[callID]
	if !ok {
		return Response{}, fmt.Errorf("%w: %s", ErrNotFound, callID)
	}
	patch.apply(&resp)
	resp.UpdatedAt = time.Now().UTC()
	s.responses[callID] = resp
	return resp, nil
}

func (s *MemoryStore) GetResponseByCallID(ctx context.Context, callID string) (Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resp, ok := s.responses[callID]
	if !ok {
		return Response{}, fmt.Errorf("%w: %s", ErrNotFound, callID)
	}
	return resp, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() {}
