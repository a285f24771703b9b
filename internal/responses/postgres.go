package responses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const responseColumns = `interview_id, call_id, name, email, is_ended, is_analysed, duration,
	end_reason, tab_switch_count, details, analytics, created_at, updated_at`

// PostgresStore persists responses in PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects a pool to dsn
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the schema if it does not exist
func (s *PostgresStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS responses (
			call_id TEXT PRIMARY KEY,
			interview_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			is_ended BOOLEAN NOT NULL DEFAULT FALSE,
			is_analysed BOOLEAN NOT NULL DEFAULT FALSE,
			duration INTEGER NOT NULL DEFAULT 0,
			end_reason TEXT NOT NULL DEFAULT '',
			tab_switch_count INTEGER NOT NULL DEFAULT 0,
			details JSONB NOT NULL DEFAULT '{}'::jsonb,
			analytics JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_responses_interview ON responses(interview_id, created_at);`,
	}
	for _, q := range queries {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateResponse(ctx context.Context, r NewResponse) (Response, error) {
	if r.CallID == "" {
		return Response{}, fmt.Errorf("call ID is required")
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO responses(call_id, interview_id, name, email)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (call_id) DO NOTHING
		RETURNING `+responseColumns,
		r.CallID, r.InterviewID, strings.TrimSpace(r.Name), strings.TrimSpace(r.Email))

	resp, err := scanResponse(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Response{}, fmt.Errorf("%w: %s", ErrDuplicate, r.CallID)
	}
	return resp, err
}

func (s *PostgresStore) SaveResponse(ctx context.Context, patch Patch, callID string) (Response, error) {
	details, err := jsonArg(patch.Details, patch.Details != nil)
	if err != nil {
		return Response{}, err
	}
	analytics, err := jsonArg(patch.Analytics, patch.Analytics != nil)
	if err != nil {
		return Response{}, err
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE responses SET
			is_ended = COALESCE($2, is_ended),
			is_analysed = COALESCE($3, is_analysed),
			duration = COALESCE($4, duration),
			end_reason = COALESCE($5, end_reason),
			tab_switch_count = COALESCE($6, tab_switch_count),
			details = COALESCE($7::jsonb, details),
			analytics = COALESCE($8::jsonb, analytics),
			updated_at = NOW()
		WHERE call_id = $1
		RETURNING `+responseColumns,
		callID, patch.IsEnded, patch.IsAnalysed, patch.Duration, patch.EndReason,
		patch.TabSwitchCount, details, analytics)

	resp, err := scanResponse(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Response{}, fmt.Errorf("%w: %s", ErrNotFound, callID)
	}
	return resp, err
}

func (s *PostgresStore) GetResponseByCallID(ctx context.Context, callID string) (Response, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+responseColumns+` FROM responses WHERE call_id=$1`, callID)
	resp, err := scanResponse(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Response{}, fmt.Errorf("%w: %s", ErrNotFound, callID)
	}
	return resp, err
}

func scanResponse(row pgx.Row) (Response, error) {
	var out Response
	var detailsRaw []byte
	var analyticsRaw []byte
	err := row.Scan(
		&out.InterviewID,
		&out.CallID,
		&out.Name,
		&out.Email,
		&out.IsEnded,
		&out.IsAnalysed,
		&out.Duration,
		&out.EndReason,
		&out.TabSwitchCount,
		&detailsRaw,
		&analyticsRaw,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if err != nil {
		return Response{}, err
	}
	if len(detailsRaw) > 0 {
		if err := json.Unmarshal(detailsRaw, &out.Details); err != nil {
			return Response{}, fmt.Errorf("decode details: %w", err)
		}
	}
	if len(analyticsRaw) > 0 {
		if err := json.Unmarshal(analyticsRaw, &out.Analytics); err != nil {
			return Response{}, fmt.Errorf("decode analytics: %w", err)
		}
	}
	return out, nil
}

// jsonArg encodes v as a jsonb parameter, or NULL when unset
func jsonArg(v any, set bool) (*string, error) {
	if !set {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	s := string(raw)
	return &s, nil
}
