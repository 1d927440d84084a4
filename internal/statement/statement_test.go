package statement

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		kind     string
		parsed   bool
		readOnly bool
	}{
		{"select", "SELECT 1 AS n", "SELECT", true, true},
		{"select with comment", "/* hi */ select a from t", "SELECT", true, true},
		{"insert", "INSERT INTO t (a) VALUES (1)", "INSERT", true, false},
		{"ddl", "CREATE TABLE t (a int)", "DDL", true, false},
		{"show", "SHOW TABLES", "SHOW", true, true},
		{"garbage", "garbage sql", "GARBAGE", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := Classify(tt.text)
			if info.Type != tt.kind {
				t.Fatalf("Type = %q, want %q", info.Type, tt.kind)
			}
			if info.Parsed != tt.parsed {
				t.Fatalf("Parsed = %v, want %v", info.Parsed, tt.parsed)
			}
			if info.ReadOnly != tt.readOnly {
				t.Fatalf("ReadOnly = %v, want %v", info.ReadOnly, tt.readOnly)
			}
			if !info.Parsed && info.Normalized != "" {
				t.Fatalf("Normalized = %q for an unparsed statement", info.Normalized)
			}
		})
	}
}

func TestClassifyTables(t *testing.T) {
	info := Classify("select o.id from sales.orders o join customers c on o.cid = c.id")

	if !info.Parsed {
		t.Fatal("expected the statement to parse")
	}
	if want := []string{"customers", "sales.orders"}; !reflect.DeepEqual(info.Tables, want) {
		t.Fatalf("Tables = %v, want %v", info.Tables, want)
	}
	if !strings.Contains(info.Normalized, "from sales.orders as o") {
		t.Fatalf("Normalized = %q", info.Normalized)
	}
}

func TestIsReadOnly(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"select * from t", true},
		{"delete from t", false},
		{"drop table t", false},
		{"WITH x AS (SELECT 1) SELECT * FROM x", true},
		{"WITH x AS (SELECT 1) INSERT INTO t SELECT * FROM x", false},
		{"WITH d AS (DELETE FROM t RETURNING *) SELECT * FROM d", false},
		{"WITH x AS (SELECT 'delete' AS w) SELECT * FROM x", true},
		{"WITH x AS (SELECT 1)", false},
		{"EXPLAIN SELECT 1", true},
		{"EXPLAIN QUERY PLAN SELECT * FROM t", true},
		{"EXPLAIN ANALYZE SELECT 1", true},
		{"EXPLAIN ANALYZE DELETE FROM t", false},
		{"EXPLAIN (ANALYZE, FORMAT JSON) UPDATE t SET a = 1", false},
		{"EXPLAIN", false},
		{"SELECT 1; SELECT 2;", true},
		{"SELECT 1; DROP TABLE t", false},
		{"   ", false},
	}

	for _, tt := range tests {
		if got := IsReadOnly(tt.text); got != tt.want {
			t.Errorf("IsReadOnly(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}

	if got := Classify("explain select 1").Type; got != "EXPLAIN" {
		t.Fatalf("Type = %q, want EXPLAIN", got)
	}
}

func TestExplainTarget(t *testing.T) {
	target, err := ExplainTarget("  SELECT a FROM t;  ")
	if err != nil {
		t.Fatalf("ExplainTarget: %v", err)
	}
	if target != "SELECT a FROM t" {
		t.Fatalf("target = %q", target)
	}

	tests := []struct {
		text string
		want error
	}{
		{"SELECT 1; CREATE TABLE t AS SELECT 42 AS v", ErrMultipleStatements},
		{"ANALYZE INSERT INTO t VALUES (1)", ErrNestedExplain},
		{"explain analyze delete from t", ErrNestedExplain},
		{" ; ", ErrEmptyStatement},
	}
	for _, tt := range tests {
		if _, err := ExplainTarget(tt.text); !errors.Is(err, tt.want) {
			t.Errorf("ExplainTarget(%q) error = %v, want %v", tt.text, err, tt.want)
		}
	}
}
