package db

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Handle runs queries written with '?' placeholders against either the pool
// or an open transaction, rebinding them for the active driver.
type Handle struct {
	q      Querier
	driver Driver
}

func (h Handle) Driver() Driver { return h.driver }

func (h Handle) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return h.q.ExecContext(ctx, Rebind(h.driver, query), args...)
}

func (h Handle) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return h.q.QueryContext(ctx, Rebind(h.driver, query), args...)
}

func (h Handle) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return h.q.QueryRowContext(ctx, Rebind(h.driver, query), args...)
}

// ForUpdate is the row-lock suffix for SELECTs inside a transaction.
// SQLite serializes writers, so it has none.
func (h Handle) ForUpdate() string {
	if h.driver == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// Rebind rewrites '?' placeholders to '$n' for postgres.
func Rebind(driver Driver, query string) string {
	if driver != DriverPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Unix converts t for a nullable BIGINT column.
func Unix(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

// FromUnix is the inverse of Unix.
func FromUnix(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(n.Int64, 0).UTC()
}
