package utils

import (
	"context"
	"errors"
	"time"
)

type contextKey string

const (
	ContextUserIDKey   contextKey = "userID"
	ContextIdentityKey contextKey = "identity"
)

// ErrSessionExpired is returned by token verifiers when a token was valid but
// is past its expiry.
var ErrSessionExpired = errors.New("session expired")

// Identity is what the auth middleware knows about the caller.
type Identity struct {
	UserID    string
	Email     string
	Role      string
	TokenID   string
	ExpiresAt time.Time
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, ContextIdentityKey, id)
	return context.WithValue(ctx, ContextUserIDKey, id.UserID)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ContextIdentityKey).(Identity)
	return id, ok
}

func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID := ctx.Value(ContextUserIDKey)
	userIDStr, ok := userID.(string)
	return userIDStr, ok && userIDStr != ""
}
