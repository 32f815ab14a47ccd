package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned by ByID for a missing row.
var ErrNotFound = errors.New("backend not found")

// Record mirrors one row in the `backend` table.  Params is the kind's
// JSON configuration, opaque to everything but its factory.
type Record struct {
	ID     int64  `db:"id"`
	Kind   string `db:"kind"`
	Params []byte `db:"params"`
}

// ByID fetches a backend row.
func ByID(ctx context.Context, db sqlx.QueryerContext, id int64) (*Record, error) {
	const q = `
        SELECT id, kind, params
        FROM   backend
        WHERE  id = ?
        LIMIT  1`
	var rec Record
	if err := sqlx.GetContext(ctx, db, &rec, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("backend %d: %w", id, err)
	}
	return &rec, nil
}

var validate = validator.New()

// DecodeParams unmarshals rec.Params into dst and validates its struct
// tags.  Factories use it for their params types.
func DecodeParams(rec Record, dst any) error {
	if len(rec.Params) == 0 {
		rec.Params = []byte("{}")
	}
	if err := json.Unmarshal(rec.Params, dst); err != nil {
		return fmt.Errorf("params: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("params: %w", err)
	}
	return nil
}
