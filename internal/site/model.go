package site

import "time"

// Record mirrors one row in the persistent `site` table.
//
//   - BackendID – NULL for the meta site, the directory of all others.
//     At most one such row exists.
//   - Params    – JSON blob; the `access` key holds the ordered rule list
//     parsed by internal/access.
type Record struct {
	ID        int64     `db:"id"        json:"id"`
	Slug      string    `db:"slug"      json:"slug"`
	Label     string    `db:"label"     json:"label"`
	BackendID *int64    `db:"backend_id" json:"-"`
	Params    []byte    `db:"params"    json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"-"`
}

// IsMeta reports whether r is the directory site.
func (r *Record) IsMeta() bool { return r.BackendID == nil }
