package controllers

import (
	"net/http"

	"github.com/angelmondragon/lostfound-backend/api/responses"
	"github.com/angelmondragon/lostfound-backend/api/validators"
	"github.com/angelmondragon/lostfound-backend/internal/accounts"
	"github.com/angelmondragon/lostfound-backend/pkg/logger"
)

// AdminDeleteAccount removes an account and everything it owns.
func AdminDeleteAccount(svc accounts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("accounts"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		counts, err := svc.Delete(r.Context(), actor, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, counts)
	}
}
