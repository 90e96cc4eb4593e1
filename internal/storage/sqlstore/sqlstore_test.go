package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"testing"
	"testing/fstest"

	"github.com/go-sql-driver/mysql"
)

func TestReadMigrationsOrdered(t *testing.T) {
	plan, err := loadPlan()
	if err != nil {
		t.Fatalf("loadPlan: %v", err)
	}
	if len(plan) < 2 {
		t.Fatalf("expected at least two migrations, got %d", len(plan))
	}
	if plan[0].version != "0001" || plan[1].version != "0002" {
		t.Fatalf("unexpected order: %s, %s", plan[0].version, plan[1].version)
	}
	for _, m := range plan {
		if len(m.statements) == 0 || len(m.checksum) != 64 {
			t.Fatalf("migration %s is incomplete: %+v", m.name, m)
		}
	}
}

func TestReadMigrationsRejectsDuplicateVersions(t *testing.T) {
	fsys := fstest.MapFS{
		"0001_a.sql": {Data: []byte("CREATE TABLE a (x INT);")},
		"0001_b.sql": {Data: []byte("CREATE TABLE b (x INT);")},
	}
	if _, err := readMigrations(fsys); err == nil {
		t.Fatalf("expected duplicate version error")
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("-- leaderboard\nCREATE TABLE a (x INT);\n\n ;CREATE INDEX i ON a (x);  ")
	if len(got) != 2 || got[0] != "CREATE TABLE a (x INT)" || got[1] != "CREATE INDEX i ON a (x)" {
		t.Fatalf("unexpected statements %q", got)
	}
	if v := versionOf("0003_add_column.sql"); v != "0003" {
		t.Fatalf("versionOf = %q", v)
	}
	if v := versionOf("0004.sql"); v != "0004" {
		t.Fatalf("versionOf = %q", v)
	}
}

func TestOpenSQLiteAppliesMigrationsOnce(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "detris.db")
	db, err := Open(ctx, Config{Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	first, err := AppliedVersions(ctx, db)
	if err != nil {
		t.Fatalf("applied versions: %v", err)
	}
	db.Close()

	db, err = Open(ctx, Config{Driver: "sqlite3", DSN: dsn})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	again, err := AppliedVersions(ctx, db)
	if err != nil {
		t.Fatalf("applied versions: %v", err)
	}
	if len(first) == 0 || !slices.Equal(first, again) {
		t.Fatalf("migrations applied %v then %v", first, again)
	}

	if _, err := db.ExecContext(ctx, `UPDATE schema_migrations SET checksum = 'tampered' WHERE version = '0001'`); err != nil {
		t.Fatalf("tamper checksum: %v", err)
	}
	if err := Migrate(ctx, db); err == nil {
		t.Fatalf("expected checksum drift to be reported")
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations WHERE checksum = 'tampered'`); err != nil {
		t.Fatalf("restore: %v", err)
	}

	insert := `INSERT INTO submissions (id, agent_id, seed, proof_digest, public_key, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, insert, "s1", "a", 1, "d", "k", "pending", 1, 1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err = db.ExecContext(ctx, insert, "s1", "a", 1, "d", "k", "pending", 1, 1)
	if !IsUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "postgres", DSN: "x"}); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
	if _, err := Open(context.Background(), Config{Driver: "mysql"}); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}

func TestIsUniqueViolationMySQL(t *testing.T) {
	dup := fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	if !IsUniqueViolation(dup) {
		t.Fatalf("1062 should be a unique violation")
	}
	if IsUniqueViolation(&mysql.MySQLError{Number: 1213}) {
		t.Fatalf("deadlock is not a unique violation")
	}
	if IsUniqueViolation(errors.New("connection refused")) || IsUniqueViolation(nil) {
		t.Fatalf("unrelated errors are not unique violations")
	}
}
