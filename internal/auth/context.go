package auth

import (
	"context"

	"github.com/af-corp/inkwell/internal/types"
)

type contextKey string

const identityContextKey contextKey = "inkwell_identity"

// Identity is the authenticated caller of a request.
type Identity struct {
	KeyID string
	Actor types.Actor
}

func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(*Identity)
	return id, ok && id != nil
}
