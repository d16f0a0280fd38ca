package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/xingyang1991/nightfall/internal/audit"
)

// AuditSink returns an audit.Sink writing into this store. Closing the sink
// leaves the store open.
func (s *Store) AuditSink() audit.Sink { return auditSink{s: s} }

type auditSink struct{ s *Store }

func (a auditSink) Write(ctx context.Context, rec audit.Record) error {
	if rec.Event == nil {
		return fmt.Errorf("audit record %d has no event", rec.Seq)
	}
	data, err := json.Marshal(rec.Event)
	if err != nil {
		return err
	}
	_, err = a.s.db.ExecContext(ctx,
		`INSERT INTO audit_records (seq, at, trace_id, session_id, kind, data) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Seq, rec.At.UTC().Format(time.RFC3339Nano), rec.TraceID, rec.SessionID, string(rec.Event.Kind()), string(data),
	)
	return err
}

func (auditSink) Close() error { return nil }

// AuditTail returns the last n stored records, oldest first. n <= 0 returns
// everything.
func (s *Store) AuditTail(ctx context.Context, n int) ([]audit.Record, error) {
	q := `SELECT seq, at, trace_id, session_id, kind, data FROM audit_records ORDER BY id DESC`
	args := []any{}
	if n > 0 {
		q += ` LIMIT ?`
		args = append(args, n)
	}
	recs, err := s.queryAudit(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	slices.Reverse(recs)
	return recs, nil
}

// AuditTrace returns every stored record of one trace in write order.
func (s *Store) AuditTrace(ctx context.Context, traceID string) ([]audit.Record, error) {
	return s.queryAudit(ctx,
		`SELECT seq, at, trace_id, session_id, kind, data FROM audit_records WHERE trace_id = ? ORDER BY id`,
		traceID,
	)
}

// AuditSession returns every stored record of one session in write order.
func (s *Store) AuditSession(ctx context.Context, sessionID string) ([]audit.Record, error) {
	return s.queryAudit(ctx,
		`SELECT seq, at, trace_id, session_id, kind, data FROM audit_records WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
}

func (s *Store) queryAudit(ctx context.Context, q string, args ...any) ([]audit.Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []audit.Record
	for rows.Next() {
		rec, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanAudit(rows *sql.Rows) (audit.Record, error) {
	var seq uint64
	var at, traceID, sessionID, kind, data string
	if err := rows.Scan(&seq, &at, &traceID, &sessionID, &kind, &data); err != nil {
		return audit.Record{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return audit.Record{}, fmt.Errorf("audit record %d: bad timestamp: %w", seq, err)
	}
	ev, err := audit.DecodeEvent(audit.Kind(kind), []byte(data))
	if err != nil {
		return audit.Record{}, err
	}
	return audit.Record{Seq: seq, At: ts, TraceID: traceID, SessionID: sessionID, Event: ev}, nil
}
