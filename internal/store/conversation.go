// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pdiddy/bot-engine/pkg/types"
)

// Append records one conversation context. A record with an existing uid
// replaces the previous one.
func (s *Store) Append(ctx context.Context, rec types.ConversationContext) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding context: %w", err)
	}
	tags, _ := json.Marshal(append(append([]string{}, rec.KnowledgeTags...), rec.EnrichmentTags...))
	err = s.exec(ctx, s.db,
		`INSERT INTO contexts (uid, session_id, ts, knowledge_id, tags, record)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			session_id = excluded.session_id,
			ts = excluded.ts,
			knowledge_id = excluded.knowledge_id,
			tags = excluded.tags,
			record = excluded.record`,
		rec.UID, rec.SessionID, rec.Timestamp.UnixNano(), rec.KnowledgeID, string(tags), string(data),
	)
	if err != nil {
		return fmt.Errorf("appending context %s: %w", rec.UID, err)
	}
	return nil
}

// QuerySession returns up to limit contexts of sessionID recorded at or
// after since, newest first. A limit of zero or less returns all of them.
func (s *Store) QuerySession(ctx context.Context, sessionID string, since time.Time, limit int) ([]types.ConversationContext, error) {
	query := `SELECT record FROM contexts WHERE session_id = ? AND ts >= ? ORDER BY ts DESC, uid DESC`
	args := []any{sessionID, since.UnixNano()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryContexts(ctx, query, args...)
}

// QueryTags returns the contexts of sessionID recorded at or after since
// whose knowledge or enrichment tags share at least one of tags, newest
// first.
func (s *Store) QueryTags(ctx context.Context, sessionID string, since time.Time, tags []string) ([]types.ConversationContext, error) {
	all, err := s.queryContexts(ctx,
		`SELECT record FROM contexts WHERE session_id = ? AND ts >= ? ORDER BY ts DESC, uid DESC`,
		sessionID, since.UnixNano())
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, rec := range all {
		if sharesTag(rec, tags) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) queryContexts(ctx context.Context, query string, args ...any) ([]types.ConversationContext, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying contexts: %w", err)
	}
	defer rows.Close()

	var out []types.ConversationContext
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning context: %w", err)
		}
		var rec types.ConversationContext
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decoding context: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func sharesTag(rec types.ConversationContext, tags []string) bool {
	for _, t := range tags {
		if contains(rec.KnowledgeTags, t) || contains(rec.EnrichmentTags, t) {
			return true
		}
	}
	return false
}

// LoadState returns the in-flight conversation state of sessionID, or nil
// when there is none.
func (s *Store) LoadState(ctx context.Context, sessionID string) (*types.ConversationState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT state FROM conversation_states WHERE session_id = ?`), sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading state of %s: %w", sessionID, err)
	}
	var st types.ConversationState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("decoding state of %s: %w", sessionID, err)
	}
	return &st, nil
}

// SaveState stores st as the in-flight state of its session, replacing any
// previous one.
func (s *Store) SaveState(ctx context.Context, st types.ConversationState) error {
	if st.SessionID == "" {
		return fmt.Errorf("saving state: empty session id")
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	err = s.exec(ctx, s.db,
		`INSERT INTO conversation_states (session_id, knowledge_id, kind, updated_at, state)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			knowledge_id = excluded.knowledge_id,
			kind = excluded.kind,
			updated_at = excluded.updated_at,
			state = excluded.state`,
		st.SessionID, st.KnowledgeID, string(st.Kind), st.UpdatedAt.UnixNano(), string(data),
	)
	if err != nil {
		return fmt.Errorf("saving state of %s: %w", st.SessionID, err)
	}
	return nil
}

// DeleteState clears the in-flight state of sessionID.
func (s *Store) DeleteState(ctx context.Context, sessionID string) error {
	if err := s.exec(ctx, s.db, `DELETE FROM conversation_states WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("deleting state of %s: %w", sessionID, err)
	}
	return nil
}

// AppendLog records the audit log of one turn.
func (s *Store) AppendLog(ctx context.Context, l types.ConversationLog) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encoding conversation log: %w", err)
	}
	err = s.exec(ctx, s.db,
		`INSERT INTO conversation_logs (uid, session_id, ts, knowledge_id, nif, record)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET record = excluded.record, nif = excluded.nif`,
		l.UID, l.SessionID, l.Timestamp.UnixNano(), l.KnowledgeID, boolInt(l.NIF), string(data),
	)
	if err != nil {
		return fmt.Errorf("appending conversation log %s: %w", l.UID, err)
	}
	return nil
}

// RecentLogs returns the last limit logs of sessionID, newest first.
func (s *Store) RecentLogs(ctx context.Context, sessionID string, limit int) ([]types.ConversationLog, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT record FROM conversation_logs WHERE session_id = ? ORDER BY ts DESC, uid DESC LIMIT ?`),
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversation logs: %w", err)
	}
	defer rows.Close()

	var out []types.ConversationLog
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning conversation log: %w", err)
		}
		var l types.ConversationLog
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			return nil, fmt.Errorf("decoding conversation log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
