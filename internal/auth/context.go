// ABOUTME: Authenticated identity propagated through request contexts.
// ABOUTME: Provides WithAuth/FromContext for handlers downstream of the middleware.

package auth

import (
	"context"
)

// Identity is the authenticated caller extracted from a verified token.
type Identity struct {
	// Subject is the token's sub claim.
	Subject string
}

// identityKey is the key type for storing an Identity in context.Context.
type identityKey struct{}

// WithAuth returns a new context with the Identity attached.
func WithAuth(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not
// present.
func FromContext(ctx context.Context) *Identity {
	val := ctx.Value(identityKey{})
	if val == nil {
		return nil
	}
	id, ok := val.(*Identity)
	if !ok {
		return nil
	}
	return id
}
