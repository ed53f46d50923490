// ABOUTME: Identity type and context propagation for request handlers
// ABOUTME: Provides WithIdentity/FromContext; a request without identity is a guest

package auth

import (
	"context"
)

// GuestName is the display name shown for anonymous connections.
const GuestName = "Guest"

// Identity is who a connection or request acts as. The zero value is an anonymous guest.
type Identity struct {
	UserID      string
	DisplayName string
	AvatarRef   string
}

// Anonymous returns the guest identity.
func Anonymous() Identity {
	return Identity{}
}

// IdentityFromClaims builds an authenticated identity, falling back to the user id for the name.
func IdentityFromClaims(c Claims) Identity {
	name := c.Name
	if name == "" {
		name = c.Subject
	}
	return Identity{UserID: c.Subject, DisplayName: name, AvatarRef: c.Picture}
}

// IsAuthenticated reports whether the identity carries a verified user id.
func (i Identity) IsAuthenticated() bool {
	return i.UserID != ""
}

// Name returns the display name, or GuestName for anonymous identities.
func (i Identity) Name() string {
	if !i.IsAuthenticated() {
		return GuestName
	}
	if i.DisplayName == "" {
		return i.UserID
	}
	return i.DisplayName
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the identity attached.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the identity from the context, returning a guest if none is present.
func FromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}
