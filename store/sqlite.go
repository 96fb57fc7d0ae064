/*
Package store implements persistence backends for template sets.

Each backend keeps one encoded template set per scope, where the scope is
normally the id of the user the templates belong to.
*/
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite stores template sets in a local SQLite database
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens, creating if necessary, the database in file
func NewSQLite(file string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_busy_timeout=5000", file))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err = db.Exec("CREATE TABLE IF NOT EXISTS template_set (scope TEXT PRIMARY KEY NOT NULL, data BLOB NOT NULL, updated INTEGER NOT NULL)"); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{
		db: db,
	}, nil
}

// Save replaces the template set stored for scope
func (s *SQLite) Save(ctx context.Context, scope string, data []byte) error {
	if _, err := s.db.ExecContext(ctx, "INSERT OR REPLACE INTO template_set (scope, data, updated) VALUES (?, ?, ?)", scope, data, time.Now().Unix()); err != nil {
		return err
	}
	return nil
}

// Load returns the template set stored for scope, or nil if there is none
func (s *SQLite) Load(ctx context.Context, scope string) ([]byte, error) {
	var data []byte
	switch err := s.db.QueryRowContext(ctx, "SELECT data FROM template_set WHERE scope = ?", scope).Scan(&data); err {
	case sql.ErrNoRows:
		return nil, nil
	case nil:
		return data, nil
	default:
		return nil, err
	}
}

// Scopes returns every scope with a stored template set
func (s *SQLite) Scopes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT scope FROM template_set ORDER BY scope")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scopes []string
	for rows.Next() {
		var scope string
		if err := rows.Scan(&scope); err != nil {
			return nil, err
		}
		scopes = append(scopes, scope)
	}
	return scopes, rows.Err()
}

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}
