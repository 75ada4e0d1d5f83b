package db

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

func TestRebind(t *testing.T) {
	cases := []struct {
		dialect Dialect
		in      string
		want    string
	}{
		{DialectMySQL, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = ? AND b = ?"},
		{DialectPostgres, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{DialectPostgres, "SELECT '?' FROM t WHERE a = ?", "SELECT '?' FROM t WHERE a = $1"},
		{DialectPostgres, "SELECT 1", "SELECT 1"},
	}
	for _, tc := range cases {
		if got := Rebind(tc.dialect, tc.in); got != tc.want {
			t.Fatalf("Rebind(%s, %q) = %q, want %q", tc.dialect, tc.in, got, tc.want)
		}
	}
}

func TestUniqueViolation(t *testing.T) {
	myErr := fmt.Errorf("exec failed: %w", &mysql.MySQLError{
		Number:  1062,
		Message: "Duplicate entry 'sort' for key 'algorithms.uk_algorithms_name'",
	})
	if key, ok := UniqueViolation(myErr); !ok || key != "algorithms.uk_algorithms_name" {
		t.Fatalf("unexpected mysql result: %q %v", key, ok)
	}

	pgErr := fmt.Errorf("exec failed: %w", &pq.Error{Code: "23505", Constraint: "uk_algorithms_name"})
	if key, ok := UniqueViolation(pgErr); !ok || key != "uk_algorithms_name" {
		t.Fatalf("unexpected postgres result: %q %v", key, ok)
	}

	if _, ok := UniqueViolation(fmt.Errorf("boom")); ok {
		t.Fatal("plain error is not a unique violation")
	}
}

func TestIsNoRowsThroughWrap(t *testing.T) {
	if !IsNoRows(fmt.Errorf("scan failed: %w", sql.ErrNoRows)) {
		t.Fatal("expected wrapped ErrNoRows to be detected")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(&Config{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatal("expected unsupported driver error")
	}
	if _, err := Open(&Config{Driver: "mysql"}); err == nil {
		t.Fatal("expected empty DSN error")
	}
}

func TestManagerSwap(t *testing.T) {
	first := NewWithDB(nil, DialectMySQL)
	second := NewWithDB(nil, DialectPostgres)
	m := NewManager(first)
	if prev := m.Swap(second); prev != first {
		t.Fatal("expected previous database from swap")
	}
	if got := m.Current(); got.Dialect() != DialectPostgres {
		t.Fatalf("unexpected current database: %v", got)
	}
	var nilManager *Manager
	if nilManager.Current() != nil {
		t.Fatal("expected nil from nil manager")
	}
}
