package sqlite

import (
	"context"
	"testing"
)

// Memory full-text search rides on FTS5. The ncruces embed build ships it,
// but a driver upgrade could silently drop the extension; probe for it.
func TestFTS5Available(t *testing.T) {
	ctx := context.Background()
	store, err := New(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	db := store.UnderlyingDB()

	// Every :memory: open in this process shares one named DB.
	if _, err := db.Exec("DROP TABLE IF EXISTS fts_probe"); err != nil {
		t.Fatalf("drop probe table: %v", err)
	}
	if _, err := db.Exec("CREATE VIRTUAL TABLE fts_probe USING fts5(content)"); err != nil {
		t.Fatalf("FTS5 is not available: %v", err)
	}
	if _, err := db.Exec("INSERT INTO fts_probe(content) VALUES('hello world')"); err != nil {
		t.Fatalf("insert into FTS5 table: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM fts_probe WHERE fts_probe MATCH 'hello'").Scan(&count); err != nil {
		t.Fatalf("match query: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 match, got %d", count)
	}
}
