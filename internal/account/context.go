package account

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const identityContextKey contextKey = "account_identity"

// Identity is the authenticated caller, taken from a verified access token
type Identity struct {
	AccountID uuid.UUID
	Email     string
}

// WithIdentity returns a context carrying the authenticated identity
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFromContext extracts the authenticated identity from the request context
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(Identity)
	return id, ok
}
