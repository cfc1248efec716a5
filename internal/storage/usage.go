// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/promptlab/internal/model"
)

// =============================================================================
// USAGE STORE (SQLITE)
// =============================================================================

// UsageStore holds append-only usage records in SQLite. Billing and quota
// enforcement both read from here, so aggregation happens in SQL.
type UsageStore struct {
	db *sql.DB
}

const usageSchema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	conversation_id   TEXT NOT NULL,
	provider          TEXT NOT NULL,
	model             TEXT NOT NULL,
	ts                INTEGER NOT NULL,
	prompt_tokens     INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	cost_cents        REAL NOT NULL,
	latency_ms        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_user_ts ON usage_records(user_id, ts);
CREATE INDEX IF NOT EXISTS idx_usage_conversation ON usage_records(conversation_id);
`

// OpenUsageStore opens (or creates) the usage database at path.
func OpenUsageStore(path string) (*UsageStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage database: %w", err)
	}

	// Single writer; SQLite serializes writes anyway and this avoids
	// SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(usageSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create usage schema: %w", err)
	}

	return &UsageStore{db: db}, nil
}

// Close closes the underlying database.
func (s *UsageStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// APPEND
// =============================================================================

// Append inserts a usage record.
func (s *UsageStore) Append(ctx context.Context, rec *model.UsageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records
			(id, user_id, conversation_id, provider, model, ts,
			 prompt_tokens, completion_tokens, cost_cents, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.ConversationID, rec.Provider, rec.Model,
		rec.Timestamp.UnixNano(), rec.PromptTokens, rec.CompletionTokens,
		rec.CostCents, rec.LatencyMs,
	)
	if err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}
	return nil
}

// =============================================================================
// AGGREGATION
// =============================================================================

// Summarize aggregates a user's usage in [from, to).
func (s *UsageStore) Summarize(ctx context.Context, userID string, from, to time.Time) (*model.UsageSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(cost_cents), 0)
		FROM usage_records
		WHERE user_id = ? AND ts >= ? AND ts < ?`,
		userID, from.UnixNano(), to.UnixNano(),
	)

	summary := &model.UsageSummary{UserID: userID, From: from, To: to}
	if err := row.Scan(&summary.Requests, &summary.PromptTokens, &summary.CompletionTokens, &summary.CostCents); err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}
	return summary, nil
}

// AggregateByModel groups a user's usage in [from, to) per provider/model,
// ordered by descending cost. Used for invoice line items.
func (s *UsageStore) AggregateByModel(ctx context.Context, userID string, from, to time.Time) ([]model.InvoiceLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, model, COUNT(*),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(cost_cents), 0)
		FROM usage_records
		WHERE user_id = ? AND ts >= ? AND ts < ?
		GROUP BY provider, model
		ORDER BY SUM(cost_cents) DESC`,
		userID, from.UnixNano(), to.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	defer rows.Close()

	var lines []model.InvoiceLine
	for rows.Next() {
		var line model.InvoiceLine
		if err := rows.Scan(&line.Provider, &line.Model, &line.Requests,
			&line.PromptTokens, &line.CompletionTokens, &line.AmountCents); err != nil {
			return nil, fmt.Errorf("failed to scan usage line: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// Recent returns a user's most recent usage records, newest first.
func (s *UsageStore) Recent(ctx context.Context, userID string, limit int) ([]*model.UsageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, conversation_id, provider, model, ts,
		       prompt_tokens, completion_tokens, cost_cents, latency_ms
		FROM usage_records
		WHERE user_id = ?
		ORDER BY ts DESC
		LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []*model.UsageRecord
	for rows.Next() {
		var rec model.UsageRecord
		var ts int64
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ConversationID,
			&rec.Provider, &rec.Model, &ts,
			&rec.PromptTokens, &rec.CompletionTokens, &rec.CostCents, &rec.LatencyMs); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		rec.Timestamp = time.Unix(0, ts)
		records = append(records, &rec)
	}
	return records, rows.Err()
}
