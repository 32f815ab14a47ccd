// internal/auth/context.go
//
// Authenticated user id carried in context.Context.
//
// Context
// -------
// The session middleware verifies the signed cookie and calls WithUser.
// Owner checks read it back with UserID.  Anonymous submitters never have
// a user id; only moderation needs one.
//
//	ctx = auth.WithUser(ctx, 123)
//	id, ok := auth.UserID(ctx) // 123, true
package auth

import "context"

type userKey struct{}

// WithUser returns a new context carrying userID.
func WithUser(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserID extracts the user id from ctx.  It returns (0, false) when no
// user is set.
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userKey{}).(int64)
	return id, ok
}
