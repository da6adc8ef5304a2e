package sources

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-opsdash/pkg/poll"
	"github.com/rs/zerolog"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// RowScanner turns the current row into a T.
type RowScanner[T any] func(rows *sql.Rows) (T, error)

// SQLQueryConfig describes a polled SQL query.
type SQLQueryConfig struct {
	Name  string
	Query string
	Args  []any
	TTL   time.Duration
}

// SQLQuery polls a SQL query and caches its rows.
type SQLQuery[T any] struct {
	*poll.Item[[]T]
	logger zerolog.Logger
}

// NewSQLQuery creates a polled query. The database handle is managed by the
// caller.
func NewSQLQuery[T any](cfg *SQLQueryConfig, db Querier, scan RowScanner[T], logger zerolog.Logger, opts ...poll.Option) (*SQLQuery[T], error) {
	if cfg == nil {
		return nil, errors.New("sql query config cannot be nil")
	}
	if db == nil {
		return nil, errors.New("sql querier cannot be nil")
	}
	if scan == nil {
		return nil, errors.New("row scanner cannot be nil")
	}
	if cfg.Query == "" {
		return nil, fmt.Errorf("sql query %q has no query text", cfg.Name)
	}

	q := &SQLQuery[T]{
		logger: logger.With().Str("component", "SQLQuery").Str("query_name", cfg.Name).Logger(),
	}
	args := append([]any(nil), cfg.Args...)
	fetch := func(ctx context.Context) ([]T, error) {
		return q.run(ctx, db, cfg.Query, args, scan)
	}

	item, err := poll.New[[]T]("sql/"+cfg.Name, cfg.TTL, fetch, append([]poll.Option{poll.WithLogger(logger)}, opts...)...)
	if err != nil {
		return nil, err
	}
	q.Item = item
	return q, nil
}

func (q *SQLQuery[T]) run(ctx context.Context, db Querier, query string, args []any, scan RowScanner[T]) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sql query: %w", err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		row, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("sql scan row %d: %w", len(out), err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sql rows: %w", err)
	}
	q.logger.Debug().Int("row_count", len(out)).Msg("SQL query completed.")
	return out, nil
}

// ScanMap is a RowScanner for queries whose columns are only known at run
// time, such as those read from configuration. Byte slices are returned as
// strings so the rows encode cleanly as JSON.
func ScanMap(rows *sql.Rows) (map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	row := make(map[string]any, len(columns))
	for i, col := range columns {
		if b, ok := values[i].([]byte); ok {
			row[col] = string(b)
			continue
		}
		row[col] = values[i]
	}
	return row, nil
}
