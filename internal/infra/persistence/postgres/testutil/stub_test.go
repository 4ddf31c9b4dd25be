package testutil

import (
	"context"
	"database/sql/driver"
	"testing"
)

func TestStubDBUpsertsQueriesAndDeletes(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	upsert := "INSERT INTO preferences(scope,key,payload) VALUES($1,$2,$3) ON CONFLICT(scope,key) DO UPDATE SET payload=EXCLUDED.payload"
	for _, args := range [][]driver.NamedValue{
		{{Value: "app"}, {Value: "k"}, {Value: []byte("1")}},
		{{Value: "app"}, {Value: "k"}, {Value: []byte("2")}},
		{{Value: "other"}, {Value: "k"}, {Value: []byte("3")}},
	} {
		if _, err := conn.ExecContext(ctx, upsert, args); err != nil {
			t.Fatalf("ExecContext insert: %v", err)
		}
	}
	if n := len(conn.Rows("preferences")); n != 2 {
		t.Fatalf("expected 2 rows after upsert, got %d", n)
	}

	rows, err := conn.QueryContext(ctx, "SELECT payload FROM preferences WHERE scope = $1 AND key = $2",
		[]driver.NamedValue{{Value: "app"}, {Value: "k"}})
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	dest := make([]driver.Value, 1)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(dest[0].([]byte)) != "2" {
		t.Fatalf("unexpected row values: %v", dest)
	}

	res, err := conn.ExecContext(ctx, "DELETE FROM preferences WHERE scope = $1 AND key = $2",
		[]driver.NamedValue{{Value: "other"}, {Value: "k"}})
	if err != nil {
		t.Fatalf("ExecContext delete: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Fatalf("expected one row deleted, got %d", n)
	}
}

func TestStubDBRejectsUnsupportedPredicates(t *testing.T) {
	_, conn := NewStubDB()
	if _, err := conn.QueryContext(context.Background(), "SELECT a FROM t WHERE a > $1", []driver.NamedValue{{Value: 1}}); err == nil {
		t.Fatalf("expected unsupported predicate error")
	}
	if _, err := conn.QueryContext(context.Background(), "SELECT a FROM t WHERE a = $2", []driver.NamedValue{{Value: 1}}); err == nil {
		t.Fatalf("expected missing argument error")
	}
}
