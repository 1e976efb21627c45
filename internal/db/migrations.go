package db

import (
	"database/sql"
	"fmt"
)

// addColumn runs ddl unless table already has column.
func addColumn(db *sql.DB, table, column, ddl string) error {
	found, err := hasColumn(db, table, column)
	if err != nil {
		return err
	}
	if found {
		return nil
	}
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("db: add %s.%s: %w", table, column, err)
	}
	return nil
}

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, err
	}
	defer rows.Close()

	var found bool
	for rows.Next() {
		var cid int
		var cname, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if rows.Scan(&cid, &cname, &ctype, &notnull, &dflt, &pk) == nil && cname == column {
			found = true
		}
	}
	return found, rows.Err()
}
