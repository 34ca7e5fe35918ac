package store

import (
	"database/sql"
	"fmt"

	"casewise/internal/logging"
)

// Migration defines an additive column migration for databases created by
// an older build. Destructive schema changes are not supported; the
// result history must survive upgrades intact.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists columns added after the initial schema.
var pendingMigrations = []Migration{
	// Attempt tracking was added after the first release; old rows
	// default to attempt 1.
	{"task_results", "attempt", "INTEGER NOT NULL DEFAULT 1"},
	// Remediation hints were originally folded into producer_output.
	{"validation_attempts", "remediation_hint", "TEXT"},
}

// RunMigrations applies additive schema migrations to an existing
// database. Missing tables are skipped quietly: initialize() creates them
// with the current schema.
func RunMigrations(db *sql.DB) error {
	applied := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			continue
		}

		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			logging.Get(logging.CategoryStore).Warn("Migration failed (may already exist): %s.%s: %v", m.Table, m.Column, err)
			continue
		}
		applied++
		logging.Store("Migration applied: added %s.%s", m.Table, m.Column)
	}

	logging.StoreDebug("Schema migrations complete: applied=%d", applied)
	return nil
}

func tableExists(db *sql.DB, table string) bool {
	row := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, table)
	var name string
	return row.Scan(&name) == nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
