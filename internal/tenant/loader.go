package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/treehole/internal/access"
	"github.com/yanizio/treehole/internal/backend"
	"github.com/yanizio/treehole/internal/site"
)

// Loader turns slug → *Tenant.  Steps:
//
//  1. Fetch site row.
//  2. Parse the access rules.  Bad rules are logged and the tenant still
//     loads with a policy that rejects everyone.
//  3. Fetch and open the backend row through the registry.  An unknown
//     kind or invalid params fail the load.
type Loader struct {
	DB       *sqlx.DB
	Registry *backend.Registry
	Logger   *zap.SugaredLogger
}

// Load satisfies LoadFunc.
func (l *Loader) Load(ctx context.Context, slug string) (*Tenant, error) {
	log := l.Logger
	if log == nil {
		log = zap.S()
	}

	// 1. site row
	rec, err := site.BySlug(ctx, l.DB, slug)
	if err != nil {
		if errors.Is(err, site.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	// 2. access rules
	pol, err := access.NewPolicy(rec.ID, rec.Params)
	if err != nil {
		log.Errorw("site access rules invalid, rejecting all submissions",
			"slug", slug, "err", err)
	}

	t := &Tenant{Site: *rec, Policy: pol}
	if rec.IsMeta() {
		return t, nil
	}

	// 3. backend
	brec, err := backend.ByID(ctx, l.DB, *rec.BackendID)
	if err != nil {
		return nil, fmt.Errorf("site %q: %w", slug, err)
	}
	inst, err := l.Registry.Open(*brec)
	if err != nil {
		return nil, fmt.Errorf("site %q: %w", slug, err)
	}
	t.Backend = inst
	return t, nil
}
