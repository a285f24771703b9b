package responses

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists responses in a local SQLite file
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dsn and runs migrations. A sqlite:// prefix is stripped.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	dsn = strings.TrimPrefix(dsn, "sqlite://")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS responses (
			call_id TEXT PRIMARY KEY,
			interview_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			is_ended INTEGER NOT NULL DEFAULT 0,
			is_analysed INTEGER NOT NULL DEFAULT 0,
			duration INTEGER NOT NULL DEFAULT 0,
			end_reason TEXT NOT NULL DEFAULT '',
			tab_switch_count INTEGER NOT NULL DEFAULT 0,
			details TEXT NOT NULL DEFAULT '{}',
			analytics TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_responses_interview ON responses(interview_id, created_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() {
	_ = s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) CreateResponse(ctx context.Context, r NewResponse) (Response, error) {
	if r.CallID == "" {
		return Response{}, fmt.Errorf("call ID is required")
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO responses (call_id, interview_id, name, email, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.CallID, r.InterviewID, strings.TrimSpace(r.Name), strings.TrimSpace(r.Email), now, now)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return Response{}, fmt.Errorf("%w: %s", ErrDuplicate, r.CallID)
		}
		return Response{}, fmt.Errorf("failed to insert response: %w", err)
	}
	return s.GetResponseByCallID(ctx, r.CallID)
}

func (s *SQLiteStore) SaveResponse(ctx context.Context, patch Patch, callID string) (Response, error) {
	details, err := jsonArg(patch.Details, patch.Details != nil)
	if err != nil {
		return Response{}, err
	}
	analytics, err := jsonArg(patch.Analytics, patch.Analytics != nil)
	if err != nil {
		return Response{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE responses SET
			is_ended = COALESCE(?, is_ended),
			is_analysed = COALESCE(?, is_analysed),
			duration = COALESCE(?, duration),
			end_reason = COALESCE(?, end_reason),
			tab_switch_count = COALESCE(?, tab_switch_count),
			details = COALESCE(?, details),
			analytics = COALESCE(?, analytics),
			updated_at = ?
		WHERE call_id = ?`,
		patch.IsEnded, patch.IsAnalysed, patch.Duration, patch.EndReason, patch.TabSwitchCount,
		details, analytics, time.Now().UTC(), callID)
	if err != nil {
		return Response{}, fmt.Errorf("failed to update response: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return Response{}, fmt.Errorf("%w: %s", ErrNotFound, callID)
	}
	return s.GetResponseByCallID(ctx, callID)
}

func (s *SQLiteStore) GetResponseByCallID(ctx context.Context, callID string) (Response, error) {
	var out Response
	var details string
	var analytics sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT interview_id, call_id, name, email, is_ended, is_analysed, duration,
			end_reason, tab_switch_count, details, analytics, created_at, updated_at
		FROM responses WHERE call_id = ?`, callID).Scan(
		&out.InterviewID,
		&out.CallID,
		&out.Name,
		&out.Email,
		&out.IsEnded,
		&out.IsAnalysed,
		&out.Duration,
		&out.EndReason,
		&out.TabSwitchCount,
		&details,
		&analytics,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Response{}, fmt.Errorf("%w: %s", ErrNotFound, callID)
	}
	if err != nil {
		return Response{}, err
	}

	if details != "" {
		if err := json.Unmarshal([]byte(details), &out.Details); err != nil {
			return Response{}, fmt.Errorf("decode details: %w", err)
		}
	}
	if analytics.Valid && analytics.String != "" {
		if err := json.Unmarshal([]byte(analytics.String), &out.Analytics); err != nil {
			return Response{}, fmt.Errorf("decode analytics: %w", err)
		}
	}
	return out, nil
}
