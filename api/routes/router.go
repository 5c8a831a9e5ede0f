package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/lostfound-backend/api/controllers"
	"github.com/angelmondragon/lostfound-backend/api/middleware"
	"github.com/angelmondragon/lostfound-backend/internal/accounts"
	"github.com/angelmondragon/lostfound-backend/internal/auth"
	"github.com/angelmondragon/lostfound-backend/internal/claims"
	"github.com/angelmondragon/lostfound-backend/internal/items"
	"github.com/angelmondragon/lostfound-backend/internal/messages"
	"github.com/angelmondragon/lostfound-backend/internal/notifications"
	"github.com/angelmondragon/lostfound-backend/internal/profiles"
	"github.com/angelmondragon/lostfound-backend/internal/storage"
	"github.com/angelmondragon/lostfound-backend/pkg/auth/session"
	"github.com/angelmondragon/lostfound-backend/pkg/config"
	"github.com/angelmondragon/lostfound-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/lostfound-backend/pkg/redis"
)

type sessionManager interface {
	session.AccessSessionChecker
	Rotate(ctx context.Context, accountID uuid.UUID, oldAccessID, provided string) (string, string, error)
	Revoke(ctx context.Context, accessID string) error
}

type redisStore interface {
	pkgredis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Dependencies carries everything the router mounts. Nil services produce
// handlers that answer with an internal error.
type Dependencies struct {
	Config    *config.Config
	Logger    *logger.Logger
	Gatherer  prometheus.Gatherer
	Readiness map[string]controllers.Pinger
	Redis     redisStore
	Sessions  sessionManager
	Actors    middleware.ActorResolver

	Auth          auth.Service
	Register      auth.RegisterService
	Profiles      profiles.Service
	Items         items.Service
	Claims        claims.Service
	Messages      messages.Service
	Notifications notifications.Service
	Accounts      accounts.Service
	Storage       storage.Service
	Realtime      http.Handler
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginEmailLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthRateLimit.RegisterWindow,
		cfg.AuthRateLimit.RegisterIPLimit,
		cfg.AuthRateLimit.RegisterEmailLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, deps.Readiness, logg))
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/storage/{bucket}/*", controllers.ServeObject(deps.Storage, logg))

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.AuthRateLimit(loginPolicy, deps.Redis, logg)).Post("/login", controllers.AuthLogin(deps.Auth, logg))
		r.With(middleware.AuthRateLimit(registerPolicy, deps.Redis, logg)).Post("/register", controllers.AuthRegister(deps.Register, deps.Auth, logg))
		r.Post("/logout", controllers.AuthLogout(deps.Sessions, cfg.JWT, logg))
		r.Post("/refresh", controllers.AuthRefresh(deps.Sessions, cfg.JWT, logg))
	})

	authenticate := middleware.Auth(cfg.JWT, deps.Sessions, deps.Actors, logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authenticate)
		r.Use(middleware.Idempotency(deps.Redis, logg))

		r.Route("/profiles", func(r chi.Router) {
			r.Get("/handle/{handle}", controllers.GetProfileByHandle(deps.Profiles, logg))
			r.Get("/{id}", controllers.GetProfile(deps.Profiles, logg))
		})

		r.Route("/me", func(r chi.Router) {
			r.Get("/", controllers.GetMe(deps.Profiles, logg))
			r.Patch("/", controllers.UpdateMe(deps.Profiles, logg))
			r.Put("/avatar", controllers.UploadAvatar(deps.Storage, logg))
			r.Get("/stats", controllers.MyDashboard(deps.Items, logg))
		})

		r.Route("/items", func(r chi.Router) {
			r.Get("/", controllers.ListItems(deps.Items, logg))
			r.Post("/", controllers.CreateItem(deps.Items, logg))
			r.Get("/search", controllers.SearchItems(deps.Items, logg))
			r.Get("/{id}", controllers.GetItem(deps.Items, logg))
			r.Patch("/{id}", controllers.UpdateItem(deps.Items, logg))
			r.Patch("/{id}/status", controllers.SetItemStatus(deps.Items, logg))
			r.Get("/{id}/claims", controllers.ListItemClaims(deps.Claims, logg))
			r.Post("/{id}/claims", controllers.CreateClaim(deps.Claims, logg))
		})

		r.Route("/claims", func(r chi.Router) {
			r.Get("/", controllers.ListMyClaims(deps.Claims, logg))
			r.Post("/{id}/approve", controllers.DecideClaim(deps.Claims, claims.Approve, logg))
			r.Post("/{id}/reject", controllers.DecideClaim(deps.Claims, claims.Reject, logg))
		})

		r.Route("/messages", func(r chi.Router) {
			r.Post("/", controllers.SendMessage(deps.Messages, logg))
			r.Post("/{id}/read", controllers.MarkMessageRead(deps.Messages, logg))
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", controllers.ListConversations(deps.Messages, logg))
			r.Get("/{itemId}/{otherId}", controllers.GetConversation(deps.Messages, logg))
			r.Post("/{itemId}/{otherId}/read", controllers.MarkConversationRead(deps.Messages, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
			r.Get("/unread-count", controllers.UnreadNotificationCount(deps.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
			r.Post("/{id}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
		})

		r.Route("/storage/{bucket}", func(r chi.Router) {
			r.Post("/", controllers.UploadObject(deps.Storage, logg))
			r.Delete("/*", controllers.DeleteObject(deps.Storage, logg))
		})

		if deps.Realtime != nil {
			r.Handle("/realtime", deps.Realtime)
		}
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(authenticate)
		r.Use(middleware.RequireAdmin(logg))

		r.Get("/profiles", controllers.AdminListProfiles(deps.Profiles, logg))
		r.Patch("/profiles/{id}/role", controllers.AdminSetRole(deps.Profiles, logg))
		r.Delete("/accounts/{id}", controllers.AdminDeleteAccount(deps.Accounts, logg))
		r.Delete("/items/{id}", controllers.AdminDeleteItem(deps.Items, logg))
		r.Patch("/items/{id}/status", controllers.SetItemStatus(deps.Items, logg))
		r.Get("/claims", controllers.AdminListClaims(deps.Claims, logg))
	})

	return r
}
