package denylist

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore keeps both tables in a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Init creates the tables.
func (s *SQLiteStore) Init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usercache (
		name TEXT PRIMARY KEY,
		identity TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS blacklist (
		identity TEXT PRIMARY KEY
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create denylist tables: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadIdentityCache() (map[string]Identity, error) {
	entries := make(map[string]Identity)
	rows, err := s.db.Query(`SELECT name, identity FROM usercache`)
	if err != nil {
		return entries, fmt.Errorf("query identity cache: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return entries, fmt.Errorf("scan identity cache row: %w", err)
		}
		id, err := ParseIdentity(raw)
		if err != nil {
			continue
		}
		entries[NormalizeName(name)] = id
	}
	if err := rows.Err(); err != nil {
		return entries, fmt.Errorf("iterate identity cache: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) SaveIdentityCache(entries map[string]Identity) error {
	return s.overwrite("usercache", func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT OR REPLACE INTO usercache(name, identity) VALUES(?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for name, id := range entries {
			if _, err := stmt.Exec(NormalizeName(name), id.String()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) LoadDenylist() ([]Identity, error) {
	rows, err := s.db.Query(`SELECT identity FROM blacklist`)
	if err != nil {
		return nil, fmt.Errorf("query denylist: %w", err)
	}
	defer rows.Close()

	var ids []Identity
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan denylist row: %w", err)
		}
		id, err := ParseIdentity(raw)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate denylist: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) SaveDenylist(ids []Identity) error {
	return s.overwrite("blacklist", func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO blacklist(identity) VALUES(?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, id := range ids {
			if _, err := stmt.Exec(id.String()); err != nil {
				return err
			}
		}
		return nil
	})
}

// overwrite empties table and refills it inside one transaction.
func (s *SQLiteStore) overwrite(table string, fill func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin %s transaction: %w", table, err)
	}
	if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear %s: %w", table, err)
	}
	if err := fill(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("write %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", table, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
