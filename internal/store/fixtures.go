package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/xingyang1991/nightfall/internal/toolbus"
	"github.com/xingyang1991/nightfall/spec"
)

// Fixtures persists recorded tool results for replay runs.
type Fixtures struct{ s *Store }

var _ toolbus.Fixtures = Fixtures{}

func (s *Store) Fixtures() Fixtures { return Fixtures{s: s} }

func (f Fixtures) Load(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var result string
	err := f.s.db.QueryRowContext(ctx, `SELECT result FROM tool_fixtures WHERE key = ?`, key).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(result), true, nil
}

// Save stores result under key, replacing an earlier recording.
func (f Fixtures) Save(ctx context.Context, key string, tool spec.ToolName, args, result json.RawMessage) error {
	_, err := f.s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tool_fixtures (key, tool, args, result, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		key, string(tool), string(args), string(result), f.s.stamp(),
	)
	return err
}

// Count returns how many fixtures are stored per tool.
func (f Fixtures) Count(ctx context.Context) (map[spec.ToolName]int, error) {
	rows, err := f.s.db.QueryContext(ctx, `SELECT tool, COUNT(*) FROM tool_fixtures GROUP BY tool`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[spec.ToolName]int{}
	for rows.Next() {
		var (
			tool string
			n    int
		)
		if err := rows.Scan(&tool, &n); err != nil {
			return nil, err
		}
		out[spec.ToolName(tool)] = n
	}
	return out, rows.Err()
}
