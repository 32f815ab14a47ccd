// internal/acl/store.go
//
// Site ownership queries.
//
// Context
// -------
// Ownership is the only permission in treehole.  It lives in one table:
//
//	site_owner (site_id, user_id)
//
// Moderation handlers ask a single question, "does user X own site Y?",
// answered by IsOwner.  Owners lists the user ids for display.
//
// Notes
// -----
// Helpers accept sqlx.QueryerContext so callers may pass a *sqlx.DB or a
// *sqlx.Tx.
package acl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// IsOwner reports whether userID owns siteID.
func IsOwner(ctx context.Context, db sqlx.QueryerContext, siteID, userID int64) (bool, error) {
	const q = `SELECT 1
                 FROM site_owner
                WHERE site_id = ? AND user_id = ?
                LIMIT 1`

	var one int
	err := sqlx.GetContext(ctx, db, &one, q, siteID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acl owner %d/%d: %w", siteID, userID, err)
	}
	return true, nil
}

// Owners returns the owner user ids of siteID in ascending order.
func Owners(ctx context.Context, db sqlx.QueryerContext, siteID int64) ([]int64, error) {
	const q = `SELECT user_id
                 FROM site_owner
                WHERE site_id = ?
                ORDER BY user_id`

	ids := make([]int64, 0, 4)
	if err := sqlx.SelectContext(ctx, db, &ids, q, siteID); err != nil {
		return nil, fmt.Errorf("acl owners %d: %w", siteID, err)
	}
	return ids, nil
}

// AddOwner grants userID ownership of siteID.  Granting twice is a no-op.
func AddOwner(ctx context.Context, db sqlx.ExecerContext, siteID, userID int64) error {
	const q = `INSERT IGNORE INTO site_owner (site_id, user_id) VALUES (?, ?)`
	if _, err := db.ExecContext(ctx, q, siteID, userID); err != nil {
		return fmt.Errorf("acl add owner %d/%d: %w", siteID, userID, err)
	}
	return nil
}
