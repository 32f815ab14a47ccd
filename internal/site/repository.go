// internal/site/repository.go
//
// Query helpers for the `site` table.
//
// Context
// -------
// The tenant loader calls BySlug once per cache miss.  The directory page
// calls WithBackend.  CreateMeta bootstraps a fresh install: the first
// request to /create on an unknown host becomes the meta site, and every
// later attempt gets ErrMetaExists.
package site

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var (
	// ErrNotFound is returned when no site carries the slug.
	ErrNotFound = errors.New("site not found")
	// ErrMetaExists guards the single-meta-site invariant.
	ErrMetaExists = errors.New("meta site already exists")
)

const selectColumns = `
        SELECT id, slug, label, backend_id, params, created_at, updated_at
        FROM   site`

// BySlug fetches a single site row.
func BySlug(ctx context.Context, db sqlx.QueryerContext, slug string) (*Record, error) {
	q := selectColumns + `
        WHERE  slug = ?
        LIMIT  1`
	var rec Record
	if err := sqlx.GetContext(ctx, db, &rec, q, slug); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("site %q: %w", slug, err)
	}
	return &rec, nil
}

// WithBackend lists every non-meta site, ordered by label.
func WithBackend(ctx context.Context, db sqlx.QueryerContext) ([]Record, error) {
	q := selectColumns + `
        WHERE  backend_id IS NOT NULL
        ORDER BY label, slug`
	var rows []Record
	if err := sqlx.SelectContext(ctx, db, &rows, q); err != nil {
		return nil, fmt.Errorf("site list: %w", err)
	}
	return rows, nil
}

// MetaExists reports whether the meta site has been created.
func MetaExists(ctx context.Context, db sqlx.QueryerContext) (bool, error) {
	var n int
	if err := sqlx.GetContext(ctx, db, &n,
		`SELECT COUNT(*) FROM site WHERE backend_id IS NULL`); err != nil {
		return false, fmt.Errorf("site meta lookup: %w", err)
	}
	return n > 0, nil
}

// CreateMeta inserts the meta site.  The existence check and the insert
// share one transaction holding a locking read on the backend_id IS NULL
// range.
func CreateMeta(ctx context.Context, db *sqlx.DB, slug, label string) (rec *Record, err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("site meta tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var ids []int64
	if err = tx.SelectContext(ctx, &ids,
		`SELECT id FROM site WHERE backend_id IS NULL FOR UPDATE`); err != nil {
		return nil, fmt.Errorf("site meta lock: %w", err)
	}
	if len(ids) > 0 {
		err = ErrMetaExists
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO site (slug, label, backend_id, params) VALUES (?, ?, NULL, ?)`,
		slug, label, "{}")
	if err != nil {
		return nil, fmt.Errorf("site meta insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("site meta insert id: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("site meta commit: %w", err)
	}
	return &Record{ID: id, Slug: slug, Label: label, Params: []byte("{}")}, nil
}
