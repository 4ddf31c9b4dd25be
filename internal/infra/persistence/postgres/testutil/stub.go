// Package testutil provides a normalized stub database for postgres store tests.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"
)

// StubConn records normalized statements and keeps table rows in memory.
// It understands the small SQL dialect the preference store emits: INSERT
// with an optional ON CONFLICT(cols) upsert, SELECT and DELETE with
// equality predicates joined by AND, and CREATE TABLE (recorded only).
type StubConn struct {
	mu         sync.Mutex
	Execs      []string
	Tables     map[string][]map[string]any
	FailExec   bool
	FailPing   bool
	RowsErr    error
	FailTables map[string]bool
}

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("stubpg%d", time.Now().UnixNano())
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) { return stubTx{}, nil }

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	verb := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(verb, "INSERT INTO"):
		table, cols, err := parseInsert(query)
		if err != nil {
			return nil, err
		}
		if c.FailTables[table] {
			return nil, fmt.Errorf("exec fail for %s", table)
		}
		if len(cols) != len(args) {
			return nil, fmt.Errorf("column/arg mismatch for %s", table)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = normalize(args[i].Value)
		}
		if target := parseConflict(query); len(target) > 0 {
			match := make(map[string]any, len(target))
			for _, col := range target {
				match[col] = row[col]
			}
			c.Tables[table] = reject(c.Tables[table], match)
		}
		c.Tables[table] = append(c.Tables[table], row)
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(verb, "DELETE FROM"):
		table, where, err := parseFromWhere(query, "delete from ")
		if err != nil {
			return nil, err
		}
		match, err := bind(where, args)
		if err != nil {
			return nil, err
		}
		before := len(c.Tables[table])
		c.Tables[table] = reject(c.Tables[table], match)
		return driver.RowsAffected(int64(before - len(c.Tables[table]))), nil
	}
	return driver.RowsAffected(0), nil
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cols, table, where, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables[table] {
		return nil, fmt.Errorf("query fail for %s", table)
	}
	match, err := bind(where, args)
	if err != nil {
		return nil, err
	}
	var values [][]driver.Value
	for _, row := range c.Tables[table] {
		if !matches(row, match) {
			continue
		}
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	return &stubRows{cols: cols, rows: values, err: c.RowsErr}, nil
}

// Rows returns a copy of the rows stored in table.
func (c *StubConn) Rows(table string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.Tables[table]...)
}

type stubTx struct{}

func (stubTx) Commit() error   { return nil }
func (stubTx) Rollback() error { return nil }

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

// byte slices are copied so callers cannot mutate stored rows.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return append([]byte(nil), b...)
	}
	return v
}

func equalValues(a, b any) bool {
	ab, aok := a.([]byte)
	bb, bok := b.([]byte)
	if aok || bok {
		return aok && bok && string(ab) == string(bb)
	}
	return a == b
}

func matches(row, match map[string]any) bool {
	for col, want := range match {
		if !equalValues(row[col], want) {
			return false
		}
	}
	return true
}

func reject(rows []map[string]any, match map[string]any) []map[string]any {
	var kept []map[string]any
	for _, row := range rows {
		if matches(row, match) {
			continue
		}
		kept = append(kept, row)
	}
	return kept
}

var (
	conflictPattern  = regexp.MustCompile(`(?i)on\s+conflict\s*\(([^)]*)\)`)
	predicatePattern = regexp.MustCompile(`^(\w+)\s*=\s*\$(\d+)$`)
	andPattern       = regexp.MustCompile(`(?i)\s+and\s+`)
)

func parseInsert(query string) (string, []string, error) {
	up := strings.ToUpper(query)
	intoIdx := strings.Index(up, "INTO ")
	if intoIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	rest := strings.TrimSpace(query[intoIdx+len("INTO "):])
	open := strings.Index(rest, "(")
	closeIdx := strings.Index(rest, ")")
	if open == -1 || closeIdx == -1 || closeIdx <= open {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	table := strings.ToLower(strings.TrimSpace(rest[:open]))
	return table, splitColumns(rest[open+1 : closeIdx]), nil
}

func parseConflict(query string) []string {
	m := conflictPattern.FindStringSubmatch(query)
	if m == nil {
		return nil
	}
	return splitColumns(m[1])
}

// parseFromWhere splits "<prefix>table WHERE preds" into table and predicates.
func parseFromWhere(query, prefix string) (string, []string, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	if !strings.HasPrefix(lower, prefix) {
		return "", nil, fmt.Errorf("cannot parse: %s", query)
	}
	rest := strings.TrimSpace(strings.TrimSpace(query)[len(prefix):])
	whereIdx := strings.Index(strings.ToLower(rest), " where ")
	if whereIdx == -1 {
		return strings.ToLower(strings.Fields(rest)[0]), nil, nil
	}
	table := strings.ToLower(strings.TrimSpace(rest[:whereIdx]))
	return table, splitPredicates(rest[whereIdx+len(" where "):]), nil
}

func parseSelect(query string) ([]string, string, []string, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	if !strings.HasPrefix(lower, "select ") {
		return nil, "", nil, fmt.Errorf("cannot parse select: %s", query)
	}
	fromIdx := strings.Index(lower, " from ")
	if fromIdx == -1 {
		return nil, "", nil, fmt.Errorf("cannot parse select: %s", query)
	}
	trimmed := strings.TrimSpace(query)
	cols := splitColumns(trimmed[len("select "):fromIdx])
	table, where, err := parseFromWhere(trimmed[fromIdx+1:], "from ")
	if err != nil {
		return nil, "", nil, err
	}
	return cols, table, where, nil
}

func splitPredicates(raw string) []string {
	if idx := strings.Index(strings.ToLower(raw), " order by "); idx != -1 {
		raw = raw[:idx]
	}
	parts := andPattern.Split(strings.TrimSpace(raw), -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// bind resolves "col = $n" predicates against positional args.
func bind(preds []string, args []driver.NamedValue) (map[string]any, error) {
	match := make(map[string]any, len(preds))
	for _, p := range preds {
		m := predicatePattern.FindStringSubmatch(p)
		if m == nil {
			return nil, fmt.Errorf("unsupported predicate %q", p)
		}
		var n int
		if _, err := fmt.Sscanf(m[2], "%d", &n); err != nil || n < 1 || n > len(args) {
			return nil, fmt.Errorf("predicate %q has no argument", p)
		}
		match[strings.ToLower(m[1])] = args[n-1].Value
	}
	return match, nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}
