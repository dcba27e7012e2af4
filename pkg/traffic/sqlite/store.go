// Package sqlite archives exported traffic log documents into a SQLite
// database for offline diagnostics.
package sqlite

import (
	"database/sql"

	"github.com/mouliraj56/webSerial-modbus/pkg/traffic"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Store persists traffic entries.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if needed initializes) an archive database.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS traffic (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		bytes TEXT,
		detail TEXT,
		recorded_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_traffic_seq ON traffic(seq);
	`
	_, err := s.db.Exec(query)
	return err
}

// Archive inserts an exported document. Entries already archived (same id)
// are skipped so repeated exports are safe.
func (s *Store) Archive(doc traffic.Export) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO traffic (id, seq, kind, bytes, detail, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, e := range doc.Entries {
		if _, err := stmt.Exec(e.ID, e.Seq, string(e.Kind), e.Bytes, e.Detail, e.Timestamp); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Recent returns the most recently archived entries, newest first.
func (s *Store) Recent(limit int) ([]traffic.Entry, error) {
	rows, err := s.db.Query(`SELECT id, seq, kind, bytes, detail, recorded_at FROM traffic ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []traffic.Entry
	for rows.Next() {
		var e traffic.Entry
		var kind string
		if err := rows.Scan(&e.ID, &e.Seq, &kind, &e.Bytes, &e.Detail, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Kind = traffic.Kind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
