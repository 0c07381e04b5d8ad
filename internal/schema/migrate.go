package schema

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/untoldecay/waggle/internal/debug"
	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/types"
)

// Migration is a named data migration. Migrations run in list order after
// the structural reconcile, each at most once per database, recorded in
// schema_migrations.
type Migration struct {
	Name string
	Func func(ctx context.Context, q storage.Querier) error
}

var migrationsList = []Migration{
	{"seed_default_config", migrateSeedDefaultConfig},
	{"entity_name_key_backfill", migrateEntityNameKeyBackfill},
}

// Migrate reconciles the live database against the declared layout, then
// runs pending named migrations. Everything happens inside one EXCLUSIVE
// transaction on a dedicated connection so concurrent processes opening
// the same store serialize instead of racing check-then-modify steps.
//
// Structural reconcile rules, per declared table:
//   - table missing: create it
//   - column missing: ALTER TABLE ADD COLUMN with a constant default
//   - column type mismatch, table empty or marked ephemeral: recreate
//   - column type mismatch with data: refuse with SchemaDriftError
//   - extra live columns: kept (old writers may still need them)
func Migrate(ctx context.Context, db storage.Adapter, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := db.UnderlyingConn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire migration connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	// Foreign keys must toggle outside any transaction; scoped to this
	// connection. Recreates would otherwise cascade deletes.
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("failed to disable foreign keys for migration: %w", err)
	}
	defer func() { _, _ = conn.ExecContext(context.Background(), "PRAGMA foreign_keys = ON") }()

	if _, err := conn.ExecContext(ctx, "BEGIN EXCLUSIVE"); err != nil {
		return fmt.Errorf("failed to acquire exclusive migration lock: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if _, err := conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
    name TEXT PRIMARY KEY,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	for _, table := range Tables {
		if err := reconcileTable(ctx, conn, table, logger); err != nil {
			return err
		}
	}

	for _, stmt := range rawObjects {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema object: %w", err)
		}
	}

	for _, m := range migrationsList {
		var applied int
		err := conn.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, m.Name).Scan(&applied)
		if err != nil {
			return fmt.Errorf("failed to check migration %s: %w", m.Name, err)
		}
		if applied > 0 {
			continue
		}
		if err := m.Func(ctx, conn); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
		if _, err := conn.ExecContext(ctx,
			`INSERT INTO schema_migrations (name) VALUES (?)`, m.Name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.Name, err)
		}
		logger.Info("applied migration", "name", m.Name)
	}

	if err := verifyDeclared(ctx, conn); err != nil {
		return fmt.Errorf("post-migration verification failed: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	committed = true

	if err := db.Checkpoint(ctx); err != nil {
		logger.Warn("post-migration checkpoint failed", "error", err)
	}
	return nil
}

// reconcileTable brings one live table in line with its declaration.
func reconcileTable(ctx context.Context, conn *sql.Conn, table *Table, logger *slog.Logger) error {
	exists, err := tableExists(ctx, conn, table.Name)
	if err != nil {
		return err
	}
	if !exists {
		return createTable(ctx, conn, table)
	}

	live, err := tableColumns(ctx, conn, table.Name)
	if err != nil {
		return err
	}

	var missing []Column
	drifted := ""
	for _, col := range table.Columns {
		liveType, ok := live[col.Name]
		if !ok {
			missing = append(missing, col)
			continue
		}
		if !typesCompatible(col.Type, liveType) {
			drifted = fmt.Sprintf("column %s is %s, declared %s", col.Name, liveType, col.Type)
			break
		}
	}
	for name := range live {
		if _, ok := table.column(name); !ok {
			debug.Logf("schema: table %s carries undeclared column %s\n", table.Name, name)
		}
	}

	if drifted != "" {
		rows, err := rowCount(ctx, conn, table.Name)
		if err != nil {
			return err
		}
		if rows > 0 && !table.RecreateOnDrift {
			logger.Error("schema drift on populated table", "table", table.Name, "rows", rows, "drift", drifted)
			return &types.SchemaDriftError{Table: table.Name, Rows: rows}
		}
		logger.Warn("recreating drifted table", "table", table.Name, "rows", rows, "drift", drifted)
		if _, err := conn.ExecContext(ctx, "DROP TABLE "+table.Name); err != nil {
			return fmt.Errorf("failed to drop drifted table %s: %w", table.Name, err)
		}
		return createTable(ctx, conn, table)
	}

	for _, col := range missing {
		stmt := addColumnSQL(table.Name, col)
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add column %s.%s: %w", table.Name, col.Name, err)
		}
		logger.Info("added column", "table", table.Name, "column", col.Name)
	}

	for _, stmt := range table.IndexSQL() {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", table.Name, err)
		}
	}
	return nil
}

func createTable(ctx context.Context, conn *sql.Conn, table *Table) error {
	if _, err := conn.ExecContext(ctx, table.CreateSQL()); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table.Name, err)
	}
	for _, stmt := range table.IndexSQL() {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", table.Name, err)
		}
	}
	return nil
}

// addColumnSQL renders an ALTER TABLE ADD COLUMN. SQLite rejects
// non-constant defaults here, so CURRENT_TIMESTAMP and friends are
// replaced by a constant of the column's type; NOT NULL columns always
// get a default so existing rows stay valid.
func addColumnSQL(tableName string, col Column) string {
	def := col.Default
	if !isConstantDefault(def) || (def == "" && col.NotNull) {
		switch col.Type {
		case ColInteger:
			def = "0"
		case ColReal:
			def = "0.0"
		case ColBlob:
			def = "X''"
		case ColTime:
			def = "'1970-01-01 00:00:00'"
		default:
			def = "''"
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "ALTER TABLE %s ADD COLUMN %s %s", tableName, col.Name, col.Type)
	if col.NotNull {
		b.WriteString(" NOT NULL")
	}
	if def != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(def)
	}
	return b.String()
}

func isConstantDefault(def string) bool {
	if def == "" {
		return true
	}
	switch strings.ToUpper(def) {
	case "CURRENT_TIMESTAMP", "CURRENT_TIME", "CURRENT_DATE":
		return false
	}
	return true
}

func tableExists(ctx context.Context, q storage.Querier, name string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}
	return count > 0, nil
}

// tableColumns returns the live column name -> declared type map.
func tableColumns(ctx context.Context, q storage.Querier, name string) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", name))
	if err != nil {
		return nil, fmt.Errorf("failed to introspect table %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }()

	cols := make(map[string]string)
	for rows.Next() {
		var cid int
		var colName, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan table_info for %s: %w", name, err)
		}
		cols[colName] = colType
	}
	return cols, rows.Err()
}

func rowCount(ctx context.Context, q storage.Querier, name string) (int64, error) {
	var n int64
	// #nosec G201 -- table names come from the declared schema, not input
	err := q.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", name)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", name, err)
	}
	return n, nil
}

// typesCompatible compares a declared type against the live declared
// type, tolerant of spelling (INT vs INTEGER) by comparing affinity.
func typesCompatible(declared ColType, live string) bool {
	return affinity(string(declared)) == affinity(live)
}

// affinity follows SQLite's type affinity rules, with DATETIME kept
// distinct from plain numerics so time columns are not silently
// reinterpreted.
func affinity(typeName string) string {
	t := strings.ToUpper(strings.TrimSpace(typeName))
	switch {
	case t == "DATETIME" || t == "TIMESTAMP":
		return "DATETIME"
	case strings.Contains(t, "INT"):
		return "INTEGER"
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return "TEXT"
	case strings.Contains(t, "BLOB"), t == "":
		return "BLOB"
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return "REAL"
	default:
		return "NUMERIC"
	}
}

// verifyDeclared re-introspects every declared table and confirms all
// declared columns are present. Run after reconcile, before commit.
func verifyDeclared(ctx context.Context, conn *sql.Conn) error {
	for _, table := range Tables {
		live, err := tableColumns(ctx, conn, table.Name)
		if err != nil {
			return err
		}
		if len(live) == 0 {
			return fmt.Errorf("table %s missing after reconcile", table.Name)
		}
		for _, col := range table.Columns {
			if _, ok := live[col.Name]; !ok {
				return fmt.Errorf("column %s.%s missing after reconcile", table.Name, col.Name)
			}
		}
	}
	return nil
}

// migrateSeedDefaultConfig seeds store-level defaults on first open.
func migrateSeedDefaultConfig(ctx context.Context, q storage.Querier) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO config (key, value) VALUES
    ('mail.max_inbox_limit', '5'),
    ('reservation.default_ttl_seconds', '3600'),
    ('lock.default_ttl_seconds', '300'),
    ('deferred.poll_ms', '100'),
    ('memory.halflife_days', '90')`)
	if err != nil {
		return fmt.Errorf("failed to seed default config: %w", err)
	}
	return nil
}

// migrateEntityNameKeyBackfill fills name_key for entity rows written
// before the dedup key existed.
func migrateEntityNameKeyBackfill(ctx context.Context, q storage.Querier) error {
	_, err := q.ExecContext(ctx,
		`UPDATE entities SET name_key = lower(name) WHERE name_key = '' OR name_key IS NULL`)
	if err != nil {
		return fmt.Errorf("failed to backfill entity name keys: %w", err)
	}
	return nil
}
