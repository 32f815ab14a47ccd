// internal/message/store.go
//
// MySQL implementation of Repository on top of sqlx.
//
// Notes
// -----
//   - Every query is scoped by site_id, so a message id from one site can
//     never touch another site's rows.
//   - InSite locks the `site` row with SELECT … FOR UPDATE under READ
//     COMMITTED.  Every throttle confirmation for the site serialises on
//     that lock and reads rows committed before it was granted.
//   - Text and created_at are immutable after insert; Save only updates
//     the publication columns.
//   - Finalize and DeletePending only touch rows still pending, so a
//     decided message survives a racing rollback.
package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

const selectColumns = `
    SELECT id, site_id, created_at, identity, text, closed, approved,
           backend_id, backend_receipt
    FROM   message`

// Store satisfies Repository.
type Store struct {
	db *sqlx.DB
	q  sqlx.ExtContext
	tx *sqlx.Tx
}

var _ Repository = (*Store)(nil)

// NewStore wraps a control-plane pool.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, q: db}
}

// Find returns the site's messages matching f.
func (s *Store) Find(ctx context.Context, siteID int64, f Filter) ([]Message, error) {
	where := []string{"site_id = ?"}
	args := []any{siteID}

	if f.Closed != nil {
		where = append(where, "closed = ?")
		args = append(args, *f.Closed)
	}
	switch {
	case f.Undecided:
		where = append(where, "approved IS NULL")
	case f.Approved != nil:
		where = append(where, "approved = ?")
		args = append(args, *f.Approved)
	}
	if f.Identity != "" {
		where = append(where, "identity = ?")
		args = append(args, f.Identity)
	}
	if !f.After.IsZero() {
		where = append(where, "created_at > ?")
		args = append(args, f.After)
	}
	if f.Live {
		where = append(where, "closed = 1 AND (approved IS NULL OR approved = 1)")
	}

	q := selectColumns + "\n    WHERE  " + strings.Join(where, "\n      AND  ")
	if f.Order == NewestFirst {
		q += "\n    ORDER BY created_at DESC, id DESC"
	} else {
		q += "\n    ORDER BY created_at ASC, id ASC"
	}
	if f.Limit > 0 {
		q += "\n    LIMIT ?"
		args = append(args, f.Limit)
	}

	var out []Message
	if err := sqlx.SelectContext(ctx, s.q, &out, q, args...); err != nil {
		return nil, fmt.Errorf("message find: %w", err)
	}
	return out, nil
}

// Get fetches one message of the site.
func (s *Store) Get(ctx context.Context, siteID, id int64) (*Message, error) {
	q := selectColumns + `
    WHERE  id = ? AND site_id = ?
    LIMIT  1`
	var m Message
	if err := sqlx.GetContext(ctx, s.q, &m, q, id, siteID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("message get %d: %w", id, err)
	}
	return &m, nil
}

// Save inserts or updates m.
func (s *Store) Save(ctx context.Context, m *Message) error {
	if m.ID == 0 {
		res, err := s.q.ExecContext(ctx, `
            INSERT INTO message
                   (site_id, created_at, identity, text, closed, approved,
                    backend_id, backend_receipt)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.SiteID, m.CreatedAt, m.Identity, m.Text, m.Closed, m.Approved,
			m.BackendID, m.BackendReceipt)
		if err != nil {
			return fmt.Errorf("message insert: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("message insert id: %w", err)
		}
		m.ID = id
		return nil
	}

	_, err := s.q.ExecContext(ctx, `
        UPDATE message
        SET    closed = ?, approved = ?, backend_id = ?, backend_receipt = ?
        WHERE  id = ? AND site_id = ?`,
		m.Closed, m.Approved, m.BackendID, m.BackendReceipt, m.ID, m.SiteID)
	if err != nil {
		return fmt.Errorf("message update %d: %w", m.ID, err)
	}
	return nil
}

// pendingClause matches a row still reserved for a publish attempt.
const pendingClause = `closed = 1 AND approved IS NULL AND backend_id IS NULL`

// Finalize records a successful publish of a pending m.  It reports false,
// leaving the row alone, when m is gone or no longer pending.
func (s *Store) Finalize(ctx context.Context, m *Message) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
        UPDATE message
        SET    approved = 1, backend_id = ?, backend_receipt = ?
        WHERE  id = ? AND site_id = ? AND `+pendingClause,
		m.BackendID, m.BackendReceipt, m.ID, m.SiteID)
	if err != nil {
		return false, fmt.Errorf("message finalize %d: %w", m.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("message finalize %d: %w", m.ID, err)
	}
	if n == 1 {
		m.Closed = true
		m.Approved = BoolPtr(true)
	}
	return n == 1, nil
}

// DeletePending rolls back a pending m.  It reports false when m is gone
// or has already been decided.
func (s *Store) DeletePending(ctx context.Context, m *Message) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM message WHERE id = ? AND site_id = ? AND `+pendingClause,
		m.ID, m.SiteID)
	if err != nil {
		return false, fmt.Errorf("message delete %d: %w", m.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("message delete %d: %w", m.ID, err)
	}
	return n == 1, nil
}

// CloseIfOpen is the per-message optimistic lock used by moderation.
func (s *Store) CloseIfOpen(ctx context.Context, siteID, id int64, approved bool) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
        UPDATE message
        SET    closed = 1, approved = ?
        WHERE  id = ? AND site_id = ? AND closed = 0`,
		approved, id, siteID)
	if err != nil {
		return false, fmt.Errorf("message close %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("message close %d: %w", id, err)
	}
	return n == 1, nil
}

// Reopen returns m to the moderation queue.
func (s *Store) Reopen(ctx context.Context, m *Message) error {
	if _, err := s.q.ExecContext(ctx, `
        UPDATE message
        SET    closed = 0, approved = NULL
        WHERE  id = ? AND site_id = ?`,
		m.ID, m.SiteID); err != nil {
		return fmt.Errorf("message reopen %d: %w", m.ID, err)
	}
	m.Closed = false
	m.Approved = nil
	return nil
}

// InSite runs fn inside a transaction holding the site row lock.  Nested
// calls reuse the outer transaction.
func (s *Store) InSite(ctx context.Context, siteID int64, fn func(Repository) error) (err error) {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("message tx begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked int64
	if err = tx.GetContext(ctx, &locked,
		`SELECT id FROM site WHERE id = ? FOR UPDATE`, siteID); err != nil {
		return fmt.Errorf("message tx lock site %d: %w", siteID, err)
	}

	if err = fn(&Store{db: s.db, q: tx, tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("message tx commit: %w", err)
	}
	return nil
}
