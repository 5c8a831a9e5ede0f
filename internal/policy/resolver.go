package policy

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/angelmondragon/lostfound-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lostfound-backend/pkg/errors"
)

// ErrNoProfile is returned by a RoleLookup when the account has no profile row.
var ErrNoProfile = errors.New("profile not found")

// RoleLookup reads one profile's role outside of any caller-scoped query.
type RoleLookup interface {
	LookupRole(ctx context.Context, id uuid.UUID) (enums.ProfileRole, error)
}

// Resolver turns an authenticated account id into an Actor.
type Resolver struct {
	roles RoleLookup
}

func NewResolver(roles RoleLookup) (*Resolver, error) {
	if roles == nil {
		return nil, errors.New("role lookup is required")
	}
	return &Resolver{roles: roles}, nil
}

// Resolve loads the actor for accountID. An account without a profile resolves
// to a plain user actor so it can still reach its own rows.
func (r *Resolver) Resolve(ctx context.Context, accountID uuid.UUID) (Actor, error) {
	if accountID == uuid.Nil {
		return Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing account")
	}
	role, err := r.roles.LookupRole(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNoProfile) {
			return Actor{ID: accountID}, nil
		}
		return Actor{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve actor role")
	}
	return Actor{ID: accountID, Admin: role == enums.ProfileRoleAdmin}, nil
}

type ctxKey struct{}

// WithActor stores the actor on ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// ActorFromContext returns the actor stored by WithActor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	a, ok := ctx.Value(ctxKey{}).(Actor)
	return a, ok
}
