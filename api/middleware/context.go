package middleware

import (
	"context"

	"github.com/angelmondragon/lostfound-backend/internal/policy"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"
	ctxRole   contextKey = "actor_role"
)

const (
	roleAdmin = "admin"
	roleUser  = "user"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

// ActorFromContext returns the actor resolved by Auth.
func ActorFromContext(ctx context.Context) (policy.Actor, bool) {
	return policy.ActorFromContext(ctx)
}

// WithActor seeds ctx the way Auth does. Handlers under test use it to skip
// token parsing.
func WithActor(ctx context.Context, actor policy.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	role := roleUser
	if actor.Admin {
		role = roleAdmin
	}
	ctx = policy.WithActor(ctx, actor)
	ctx = context.WithValue(ctx, ctxUserID, actor.ID.String())
	return context.WithValue(ctx, ctxRole, role)
}
