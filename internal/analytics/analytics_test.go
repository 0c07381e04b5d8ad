package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/untoldecay/waggle/internal/schema"
	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/storage/sqlite"
	"github.com/untoldecay/waggle/internal/types"
)

func setupTestDB(t *testing.T) storage.Adapter {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := sqlite.New(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := schema.Migrate(context.Background(), store, nil); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return store
}

func TestBuilderClauseOrder(t *testing.T) {
	// Methods called out of clause order; the rendered SQL must not be.
	q, err := NewBuilder().
		OrderBy("events DESC").
		Limit(10).
		Having("COUNT(*) > ?", 5).
		From("events").
		GroupBy("actor").
		Where("project_key = ?", "proj").
		Where("type != ?", "noise").
		Select("actor", "COUNT(*) AS events").
		WithName("busy").
		WithDescription("who is writing").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := "SELECT actor, COUNT(*) AS events FROM events" +
		" WHERE project_key = ? AND type != ?" +
		" GROUP BY actor HAVING COUNT(*) > ?" +
		" ORDER BY events DESC LIMIT 10"
	if q.SQL != want {
		t.Fatalf("sql mismatch:\n got: %s\nwant: %s", q.SQL, want)
	}
	if len(q.Parameters) != 3 || q.Parameters[0] != "proj" || q.Parameters[1] != "noise" || q.Parameters[2] != 5 {
		t.Fatalf("parameters out of call order: %v", q.Parameters)
	}
	if q.Name != "busy" || q.Description != "who is writing" {
		t.Fatalf("labels lost: %+v", q)
	}
}

func TestBuilderDefaultsAndValidation(t *testing.T) {
	if _, err := NewBuilder().Select("x").Build(); err == nil {
		t.Fatal("expected error for missing FROM")
	}

	q, err := NewBuilder().From("cells").Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if q.SQL != "SELECT * FROM cells" {
		t.Fatalf("empty select should render *, got %s", q.SQL)
	}
}

func TestRunCollectsRows(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	seed := []struct{ id, status, assignee string }{
		{"wag-1", "open", "muncher"},
		{"wag-2", "open", "scout"},
		{"wag-3", "closed", "muncher"},
	}
	for _, row := range seed {
		if _, err := store.ExecContext(ctx,
			`INSERT INTO cells (id, title, status, assignee) VALUES (?, ?, ?, ?)`,
			row.id, "title "+row.id, row.status, row.assignee); err != nil {
			t.Fatalf("seed cells: %v", err)
		}
	}

	q, err := NewBuilder().
		Select("status", "COUNT(*) AS cells").
		From("cells").
		Where("deleted_at IS NULL").
		GroupBy("status").
		OrderBy("cells DESC", "status").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	res, err := Run(ctx, store, q)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Columns) != 2 || res.Columns[0] != "status" || res.Columns[1] != "cells" {
		t.Fatalf("columns = %v", res.Columns)
	}
	if res.RowCount != 2 || len(res.Rows) != 2 {
		t.Fatalf("want 2 grouped rows, got %d", res.RowCount)
	}
	if res.Rows[0][0] != "open" || res.Rows[0][1] != int64(2) {
		t.Fatalf("first row = %v", res.Rows[0])
	}
	if res.Rows[1][0] != "closed" || res.Rows[1][1] != int64(1) {
		t.Fatalf("second row = %v", res.Rows[1])
	}
	if res.ExecutionTimeMs < 0 {
		t.Fatalf("negative execution time %d", res.ExecutionTimeMs)
	}
}

func TestRunSurfacesSQLErrors(t *testing.T) {
	store := setupTestDB(t)
	q := &Query{Name: "broken", SQL: "SELECT nope FROM no_such_table"}
	if _, err := Run(context.Background(), store, q); err == nil {
		t.Fatal("expected error for bad SQL")
	}
}

func TestBuiltinQueriesRunOnLiveSchema(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	catalog := Builtin()
	for _, name := range catalog.Names() {
		q, err := catalog.Get(name)
		if err != nil {
			t.Fatalf("Get(%s): %v", name, err)
		}
		if _, err := Run(ctx, store, q); err != nil {
			t.Errorf("builtin %s does not run: %v", name, err)
		}
	}
}

func TestFormatTableAligns(t *testing.T) {
	res := &QueryResult{
		Columns:         []string{"agent", "events"},
		Rows:            [][]interface{}{{"muncher", int64(42)}, {"scout-7", int64(3)}},
		RowCount:        2,
		ExecutionTimeMs: 1,
	}

	want := "agent    events\n" +
		"-------  ------\n" +
		"muncher  42\n" +
		"scout-7  3\n" +
		"\n2 rows (1 ms)\n"
	if got := res.FormatTable(); got != want {
		t.Fatalf("table mismatch:\n got:\n%s\nwant:\n%s", got, want)
	}
}

func TestFormatTableSingularFooter(t *testing.T) {
	res := &QueryResult{Columns: []string{"n"}, Rows: [][]interface{}{{int64(1)}}, RowCount: 1}
	if got := res.FormatTable(); !strings.Contains(got, "1 row (") {
		t.Fatalf("footer should read 1 row, got:\n%s", got)
	}
}

func TestFormatCSVQuoting(t *testing.T) {
	res := &QueryResult{
		Columns: []string{"a", "b", "c"},
		Rows: [][]interface{}{
			{`say "hi"`, "x,y", nil},
			{"line1\nline2", int64(7), 1.5},
		},
		RowCount: 2,
	}

	got, err := res.FormatCSV()
	if err != nil {
		t.Fatalf("FormatCSV: %v", err)
	}
	want := "a,b,c\n" +
		"\"say \"\"hi\"\"\",\"x,y\",\n" +
		"\"line1\nline2\",7,1.5\n"
	if got != want {
		t.Fatalf("csv mismatch:\n got: %q\nwant: %q", got, want)
	}
}

func TestFormatJSONAndJSONL(t *testing.T) {
	res := &QueryResult{
		Columns:         []string{"status", "cells"},
		Rows:            [][]interface{}{{"open", int64(2)}, {"closed", int64(1)}},
		RowCount:        2,
		ExecutionTimeMs: 3,
	}

	compact, err := res.FormatJSON()
	if err != nil {
		t.Fatalf("FormatJSON: %v", err)
	}
	if strings.Contains(compact, "\n") || strings.Contains(compact, "  ") {
		t.Fatalf("expected compact JSON, got %q", compact)
	}
	var round QueryResult
	if err := json.Unmarshal([]byte(compact), &round); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if round.RowCount != 2 || len(round.Rows) != 2 {
		t.Fatalf("round trip lost rows: %+v", round)
	}

	jsonl, err := res.FormatJSONL()
	if err != nil {
		t.Fatalf("FormatJSONL: %v", err)
	}
	lines := strings.Split(strings.TrimRight(jsonl, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("want 2 jsonl lines, got %d: %q", len(lines), jsonl)
	}
	var first map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line 1: %v", err)
	}
	if first["status"] != "open" || first["cells"] != float64(2) {
		t.Fatalf("line 1 = %v", first)
	}
}

func TestCatalogLoadGetNames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "analytics.toml")
	content := `
[queries.stale-cells]
description = "Cells untouched for a week"
sql = """
SELECT id, title, updated_at
FROM cells
WHERE status != 'closed' AND datetime(updated_at) < datetime('now', '-7 days')
ORDER BY updated_at
"""

[queries.thread-sizes]
description = "Messages per thread"
sql = "SELECT thread_id, COUNT(*) AS messages FROM messages GROUP BY thread_id"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	names := c.Names()
	if len(names) != 2 || names[0] != "stale-cells" || names[1] != "thread-sizes" {
		t.Fatalf("names = %v", names)
	}

	q, err := c.Get("stale-cells")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if q.Name != "stale-cells" || !strings.Contains(q.SQL, "FROM cells") {
		t.Fatalf("query = %+v", q)
	}
	if q.Description != "Cells untouched for a week" {
		t.Fatalf("description = %q", q.Description)
	}

	if _, err := c.Get("no-such-query"); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("missing query: want ErrNotFound, got %v", err)
	}
}

func TestCatalogMissingFile(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.toml"))
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("want ErrNotFound for missing file, got %v", err)
	}
}

func TestCatalogMergeShadows(t *testing.T) {
	user := &Catalog{Queries: map[string]SavedQuery{
		"cells-by-status": {Description: "mine", SQL: "SELECT 1"},
		"custom":          {SQL: "SELECT 2"},
	}}
	merged := Builtin().Merge(user)

	q, err := merged.Get("cells-by-status")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if q.Description != "mine" {
		t.Fatalf("user entry should shadow builtin, got %q", q.Description)
	}
	if _, err := merged.Get("custom"); err != nil {
		t.Fatalf("merged catalog lost user entry: %v", err)
	}
	if _, err := merged.Get("events-by-type"); err != nil {
		t.Fatalf("merged catalog lost builtin: %v", err)
	}
}

func TestCatalogRunsAgainstStore(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	if _, err := store.ExecContext(ctx,
		`INSERT INTO cells (id, title, status, assignee) VALUES ('wag-9', 'hunt', 'open', 'muncher')`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	q, err := Builtin().Get("open-by-assignee")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	res, err := Run(ctx, store, q)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.RowCount != 1 || res.Rows[0][0] != "muncher" || res.Rows[0][1] != int64(1) {
		t.Fatalf("rows = %v", res.Rows)
	}
}
