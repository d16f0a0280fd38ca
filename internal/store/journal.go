package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xingyang1991/nightfall/internal/providers"
	"github.com/xingyang1991/nightfall/spec"
)

// Journal backs the pocket and whispers tools with SQLite.
type Journal struct{ s *Store }

var _ providers.Journal = Journal{}

func (s *Store) Journal() Journal { return Journal{s: s} }

// PocketEntry is one saved ending.
type PocketEntry struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Action    spec.Action `json:"action,omitempty"`
	Query     string      `json:"query,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

func (j Journal) AppendPocket(ctx context.Context, a spec.PocketAppendArgs) (spec.AppendResult, error) {
	if a.SessionID == "" || strings.TrimSpace(a.Title) == "" {
		return spec.AppendResult{}, fmt.Errorf("%w: sessionId and title required", spec.ErrInvalidArgument)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return spec.AppendResult{}, err
	}
	if _, err := j.s.db.ExecContext(ctx,
		`INSERT INTO pocket_entries (id, session_id, title, action, query, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(), a.SessionID, a.Title, string(a.Action), a.Query, j.s.stamp(),
	); err != nil {
		return spec.AppendResult{}, err
	}
	total, err := j.count(ctx, "pocket_entries", a.SessionID)
	if err != nil {
		return spec.AppendResult{}, err
	}
	return spec.AppendResult{ID: id.String(), Total: total}, nil
}

func (j Journal) AppendWhisper(ctx context.Context, a spec.WhisperAppendArgs) (spec.AppendResult, error) {
	if a.SessionID == "" || strings.TrimSpace(a.Text) == "" {
		return spec.AppendResult{}, fmt.Errorf("%w: sessionId and text required", spec.ErrInvalidArgument)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return spec.AppendResult{}, err
	}
	if _, err := j.s.db.ExecContext(ctx,
		`INSERT INTO whisper_entries (id, session_id, text, created_at) VALUES (?, ?, ?, ?)`,
		id.String(), a.SessionID, a.Text, j.s.stamp(),
	); err != nil {
		return spec.AppendResult{}, err
	}
	total, err := j.count(ctx, "whisper_entries", a.SessionID)
	if err != nil {
		return spec.AppendResult{}, err
	}
	return spec.AppendResult{ID: id.String(), Total: total}, nil
}

// table is always one of the two journal tables named in this file.
func (j Journal) count(ctx context.Context, table, sessionID string) (int, error) {
	var n int
	err := j.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// Pocket lists a session's saved endings, oldest first.
func (j Journal) Pocket(ctx context.Context, sessionID string) ([]PocketEntry, error) {
	rows, err := j.s.db.QueryContext(ctx,
		`SELECT id, title, action, query, created_at FROM pocket_entries WHERE session_id = ? ORDER BY created_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PocketEntry
	for rows.Next() {
		var e PocketEntry
		var action, stamp string
		if err := rows.Scan(&e.ID, &e.Title, &action, &e.Query, &stamp); err != nil {
			return nil, err
		}
		e.Action = spec.Action(action)
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, stamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Whispers lists a session's whisper texts, oldest first.
func (j Journal) Whispers(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := j.s.db.QueryContext(ctx,
		`SELECT text FROM whisper_entries WHERE session_id = ? ORDER BY created_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, err
		}
		out = append(out, text)
	}
	return out, rows.Err()
}
