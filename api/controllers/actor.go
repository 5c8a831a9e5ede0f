package controllers

import (
	"net/http"

	"github.com/angelmondragon/lostfound-backend/api/middleware"
	"github.com/angelmondragon/lostfound-backend/internal/policy"
	pkgerrors "github.com/angelmondragon/lostfound-backend/pkg/errors"
)

func requireActor(r *http.Request) (policy.Actor, error) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok || !actor.Authenticated() {
		return policy.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return actor, nil
}

func unavailable(name string) error {
	return pkgerrors.New(pkgerrors.CodeInternal, name+" service unavailable")
}
