package store

import (
	"database/sql"
	"fmt"

	"autotool/internal/logging"
)

// Migration adds a column to a table created by an older schema.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists columns added after the first release.
var pendingMigrations = []Migration{
	{"memories", "hits", "INTEGER DEFAULT 0"},
	{"memories", "vectorizer", "TEXT DEFAULT ''"},
	{"subtasks", "attempts", "INTEGER DEFAULT 1"},
	{"subtasks", "duration_ms", "INTEGER DEFAULT 0"},
}

// RunMigrations applies pendingMigrations to db. Tables that do not exist
// are skipped; they are created with every column by their owners.
func RunMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "RunMigrations")
	defer timer.Stop()

	applied := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %s.%s failed: %w", m.Table, m.Column, err)
		}
		logging.Store("Applied migration: %s.%s", m.Table, m.Column)
		applied++
	}
	logging.StoreDebug("Migrations complete: %d applied", applied)
	return nil
}

func tableExists(db *sql.DB, table string) bool {
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
	return err == nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false
		}
		if name == column {
			return true
		}
	}
	return false
}
