// Package catalog keeps a small SQLite registry of tenants and their index
// stats. It is a derived cache maintained on install: the persisted artifact
// pair stays the source of truth, the catalog only answers existence and
// listing queries without touching blob storage.
//
// The driver is modernc.org/sqlite, a pure Go SQLite implementation, so the
// build needs no cgo.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrUnknownTenant is returned when a tenant has no catalog entry.
var ErrUnknownTenant = errors.New("unknown tenant")

// Entry describes one tenant's indexed state.
type Entry struct {
	UserID    string
	Count     int
	BatchID   string
	UpdatedAt time.Time
}

// Catalog is a SQLite-backed tenant registry.
type Catalog struct {
	db *sql.DB
}

// Open opens (and if needed initializes) a catalog database at the given
// path. Use ":memory:" for an ephemeral catalog.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS tenants (
			user_id    TEXT PRIMARY KEY,
			item_count INTEGER NOT NULL,
			batch_id   TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init catalog schema: %w", err)
	}

	return &Catalog{db: db}, nil
}

// Upsert records a tenant's freshly installed index.
func (c *Catalog) Upsert(ctx context.Context, userID string, count int, batchID string) error {
	const q = `
		INSERT INTO tenants (user_id, item_count, batch_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			item_count = excluded.item_count,
			batch_id   = excluded.batch_id,
			updated_at = excluded.updated_at`

	_, err := c.db.ExecContext(ctx, q, userID, count, batchID, time.Now().UTC())
	return err
}

// Get returns a tenant's entry, or ErrUnknownTenant.
func (c *Catalog) Get(ctx context.Context, userID string) (*Entry, error) {
	const q = `SELECT user_id, item_count, batch_id, updated_at FROM tenants WHERE user_id = ?`

	var e Entry
	err := c.db.QueryRowContext(ctx, q, userID).Scan(&e.UserID, &e.Count, &e.BatchID, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownTenant
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// List returns all tenants ordered by user id.
func (c *Catalog) List(ctx context.Context) ([]Entry, error) {
	const q = `SELECT user_id, item_count, batch_id, updated_at FROM tenants ORDER BY user_id`

	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.UserID, &e.Count, &e.BatchID, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes a tenant's entry. Deleting an unknown tenant is not an
// error.
func (c *Catalog) Delete(ctx context.Context, userID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM tenants WHERE user_id = ?`, userID)
	return err
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}
