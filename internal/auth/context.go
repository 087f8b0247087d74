package auth

import (
	"context"
	"errors"
)

var ErrNoIdentity = errors.New("auth: no identity in context")

// Identity is the authenticated caller. UserID owns every extension, session
// and schedule the caller creates.
type Identity struct {
	UserID string
	Role   string
}

type identityKey struct{}

func WithIdentity(ctx context.Context, userID, role string) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{UserID: userID, Role: role})
}

// IdentityFrom returns the caller stored by RequireAccessToken.
func IdentityFrom(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}

func UserID(ctx context.Context) (string, error) {
	id, err := IdentityFrom(ctx)
	return id.UserID, err
}

func Role(ctx context.Context) (string, error) {
	id, err := IdentityFrom(ctx)
	if err != nil {
		return "", err
	}
	if id.Role == "" {
		return "", errors.New("auth: role not in context")
	}
	return id.Role, nil
}
