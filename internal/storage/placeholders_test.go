package storage

import (
	"reflect"
	"testing"
)

func TestConvertPlaceholdersBasic(t *testing.T) {
	sql, args, err := ConvertPlaceholders(
		"SELECT * FROM cells WHERE status = $1 AND priority <= $2",
		[]interface{}{"open", 2},
	)
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	if sql != "SELECT * FROM cells WHERE status = ? AND priority <= ?" {
		t.Errorf("unexpected SQL: %s", sql)
	}
	if !reflect.DeepEqual(args, []interface{}{"open", 2}) {
		t.Errorf("unexpected args: %v", args)
	}
}

func TestConvertPlaceholdersReordered(t *testing.T) {
	sql, args, err := ConvertPlaceholders(
		"UPDATE cells SET assignee = $2 WHERE id = $1",
		[]interface{}{"cell-1", "drone"},
	)
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	if sql != "UPDATE cells SET assignee = ? WHERE id = ?" {
		t.Errorf("unexpected SQL: %s", sql)
	}
	if !reflect.DeepEqual(args, []interface{}{"drone", "cell-1"}) {
		t.Errorf("args not reordered to call order: %v", args)
	}
}

func TestConvertPlaceholdersRepeated(t *testing.T) {
	_, args, err := ConvertPlaceholders(
		"SELECT * FROM deps WHERE cell_id = $1 OR depends_on_id = $1",
		[]interface{}{"cell-9"},
	)
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	if !reflect.DeepEqual(args, []interface{}{"cell-9", "cell-9"}) {
		t.Errorf("repeated placeholder should duplicate arg: %v", args)
	}
}

func TestConvertPlaceholdersAnyExpansion(t *testing.T) {
	sql, args, err := ConvertPlaceholders(
		"SELECT id FROM cells WHERE status = ANY($1) AND project_key = $2",
		[]interface{}{[]string{"open", "blocked"}, "proj"},
	)
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	want := "SELECT id FROM cells WHERE status IN (?, ?) AND project_key = ?"
	if sql != want {
		t.Errorf("SQL = %q, want %q", sql, want)
	}
	if !reflect.DeepEqual(args, []interface{}{"open", "blocked", "proj"}) {
		t.Errorf("unexpected args: %v", args)
	}
}

func TestConvertPlaceholdersAnyEmptySlice(t *testing.T) {
	sql, args, err := ConvertPlaceholders(
		"SELECT id FROM cells WHERE id = ANY($1)",
		[]interface{}{[]string{}},
	)
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	if sql != "SELECT id FROM cells WHERE id IN (SELECT NULL WHERE 0)" {
		t.Errorf("empty slice should produce match-nothing predicate, got %q", sql)
	}
	if len(args) != 0 {
		t.Errorf("empty slice should contribute no args, got %v", args)
	}
}

func TestConvertPlaceholdersAnyNonSlice(t *testing.T) {
	_, _, err := ConvertPlaceholders(
		"SELECT id FROM cells WHERE id = ANY($1)",
		[]interface{}{"not-a-slice"},
	)
	if err == nil {
		t.Fatal("expected error for ANY with non-slice arg")
	}
}

func TestConvertPlaceholdersOutOfRange(t *testing.T) {
	_, _, err := ConvertPlaceholders("SELECT $2", []interface{}{"one"})
	if err == nil {
		t.Fatal("expected error for out-of-range placeholder")
	}
}

func TestConvertPlaceholdersQuotedLiteralUntouched(t *testing.T) {
	sql, args, err := ConvertPlaceholders(
		"SELECT '$1 literal' FROM cells WHERE id = $1",
		[]interface{}{"cell-1"},
	)
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	if sql != "SELECT '$1 literal' FROM cells WHERE id = ?" {
		t.Errorf("literal should be untouched: %q", sql)
	}
	if !reflect.DeepEqual(args, []interface{}{"cell-1"}) {
		t.Errorf("unexpected args: %v", args)
	}
}

func TestConvertPlaceholdersInt64Slice(t *testing.T) {
	sql, args, err := ConvertPlaceholders(
		"DELETE FROM reservations WHERE id = ANY($1)",
		[]interface{}{[]int64{3, 7}},
	)
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	if sql != "DELETE FROM reservations WHERE id IN (?, ?)" {
		t.Errorf("unexpected SQL: %q", sql)
	}
	if !reflect.DeepEqual(args, []interface{}{int64(3), int64(7)}) {
		t.Errorf("unexpected args: %v", args)
	}
}
