package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/lostfound-backend/api/controllers"
	"github.com/angelmondragon/lostfound-backend/internal/items"
	"github.com/angelmondragon/lostfound-backend/internal/policy"
	pkgAuth "github.com/angelmondragon/lostfound-backend/pkg/auth"
	"github.com/angelmondragon/lostfound-backend/pkg/auth/session"
	"github.com/angelmondragon/lostfound-backend/pkg/config"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	"github.com/angelmondragon/lostfound-backend/pkg/enums"
	"github.com/angelmondragon/lostfound-backend/pkg/logger"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubSessionManager struct{}

func (stubSessionManager) HasSession(ctx context.Context, accessID string) (bool, error) {
	return true, nil
}

func (stubSessionManager) Rotate(ctx context.Context, accountID uuid.UUID, oldAccessID, provided string) (string, string, error) {
	return "", "", nil
}

func (stubSessionManager) Revoke(ctx context.Context, accessID string) error {
	return nil
}

type stubResolver struct {
	admins map[uuid.UUID]bool
}

func (s stubResolver) Resolve(ctx context.Context, accountID uuid.UUID) (policy.Actor, error) {
	return policy.Actor{ID: accountID, Admin: s.admins[accountID]}, nil
}

type memoryRedis struct {
	mu     sync.Mutex
	data   map[string]string
	counts map[string]int64
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{data: map[string]string{}, counts: map[string]int64{}}
}

func (m *memoryRedis) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryRedis) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryRedis) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

func (m *memoryRedis) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[scope]++
	return m.counts[scope] <= limit, m.counts[scope], nil
}

type stubItems struct {
	createFn func(ctx context.Context, actor policy.Actor, input items.CreateInput) (*models.Item, error)
	listFn   func(ctx context.Context, actor policy.Actor, params items.ListParams) (*items.ListResult, error)
	deleteFn func(ctx context.Context, actor policy.Actor, id uuid.UUID) error
}

func (s *stubItems) Create(ctx context.Context, actor policy.Actor, input items.CreateInput) (*models.Item, error) {
	return s.createFn(ctx, actor, input)
}

func (s *stubItems) Get(context.Context, policy.Actor, uuid.UUID) (*items.ItemWithPoster, error) {
	return nil, nil
}

func (s *stubItems) List(ctx context.Context, actor policy.Actor, params items.ListParams) (*items.ListResult, error) {
	return s.listFn(ctx, actor, params)
}

func (s *stubItems) Search(context.Context, policy.Actor, items.SearchParams) ([]items.ItemWithPoster, error) {
	return nil, nil
}

func (s *stubItems) Recent(context.Context, policy.Actor) ([]items.ItemWithPoster, error) {
	return nil, nil
}

func (s *stubItems) Update(context.Context, policy.Actor, uuid.UUID, items.UpdateInput) (*models.Item, error) {
	return nil, nil
}

func (s *stubItems) SetStatus(context.Context, policy.Actor, uuid.UUID, string) (*models.Item, error) {
	return nil, nil
}

func (s *stubItems) Delete(ctx context.Context, actor policy.Actor, id uuid.UUID) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, actor, id)
	}
	return nil
}

func (s *stubItems) Stats(context.Context, policy.Actor) (*items.Stats, error) {
	return &items.Stats{}, nil
}

type harness struct {
	cfg     *config.Config
	handler http.Handler
	redis   *memoryRedis
	items   *stubItems
	admin   uuid.UUID
}

func newHarness(t *testing.T, readiness map[string]controllers.Pinger) *harness {
	t.Helper()
	cfg := &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "lostfound", ExpirationMinutes: 10},
		AuthRateLimit: config.AuthRateLimitConfig{
			LoginWindow:  time.Minute,
			LoginIPLimit: 2,
		},
	}
	h := &harness{
		cfg:   cfg,
		redis: newMemoryRedis(),
		items: &stubItems{},
		admin: uuid.New(),
	}
	h.handler = NewRouter(Dependencies{
		Config:    cfg,
		Logger:    logger.Nop(),
		Gatherer:  prometheus.NewRegistry(),
		Readiness: readiness,
		Redis:     h.redis,
		Sessions:  stubSessionManager{},
		Actors:    stubResolver{admins: map[uuid.UUID]bool{h.admin: true}},
		Items:     h.items,
	})
	return h
}

func (h *harness) token(t *testing.T, accountID uuid.UUID) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(h.cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		AccountID: accountID,
		JTI:       session.NewAccessID(),
	})
	require.NoError(t, err)
	return token
}

func (h *harness) do(t *testing.T, method, path, body, token string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	h := newHarness(t, map[string]controllers.Pinger{"db": stubPinger{}})
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/health/live", "", "", nil).Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/health/ready", "", "", nil).Code)

	failing := newHarness(t, map[string]controllers.Pinger{"redis": stubPinger{err: fmt.Errorf("down")}})
	assert.Equal(t, http.StatusServiceUnavailable, failing.do(t, http.MethodGet, "/health/ready", "", "", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/metrics", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/api/v1/items", "", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/api/admin/v1/claims", "", "", nil).Code)
}

func TestListItemsPassesFilters(t *testing.T) {
	h := newHarness(t, nil)
	user := uuid.New()
	var got items.ListParams
	var gotActor policy.Actor
	h.items.listFn = func(ctx context.Context, actor policy.Actor, params items.ListParams) (*items.ListResult, error) {
		got = params
		gotActor = actor
		return &items.ListResult{Items: []items.ItemWithPoster{}, Cursor: "next"}, nil
	}

	rec := h.do(t, http.MethodGet, "/api/v1/items?kind=found&q=backpack&limit=5", "", h.token(t, user), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "found", got.Kind)
	assert.Equal(t, "backpack", got.Query)
	assert.Equal(t, 5, got.Limit)
	assert.Equal(t, user, gotActor.ID)

	var envelope struct {
		NextCursor string `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "next", envelope.NextCursor)
}

func TestCreateItemIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	user := uuid.New()
	calls := 0
	h.items.createFn = func(ctx context.Context, actor policy.Actor, input items.CreateInput) (*models.Item, error) {
		calls++
		return &models.Item{ID: uuid.New(), UserID: actor.ID, Title: input.Title, Kind: enums.ItemKindFound, Status: enums.ItemStatusActive}, nil
	}
	body := `{"title":"<b>Blue Backpack</b>","category":"bags","location":"Library","kind":"found"}`
	headers := map[string]string{"Idempotency-Key": "create-1"}

	first := h.do(t, http.MethodPost, "/api/v1/items", body, h.token(t, user), headers)
	require.Equal(t, http.StatusCreated, first.Code)
	second := h.do(t, http.MethodPost, "/api/v1/items", body, h.token(t, user), headers)
	require.Equal(t, http.StatusCreated, second.Code)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Contains(t, first.Body.String(), `"title":"Blue Backpack"`)
}

func TestCreateItemRequiresIdempotencyKey(t *testing.T) {
	h := newHarness(t, nil)
	body := `{"title":"Keys","category":"keys","location":"Gym","kind":"lost"}`
	rec := h.do(t, http.MethodPost, "/api/v1/items", body, h.token(t, uuid.New()), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	h := newHarness(t, nil)
	deleted := uuid.Nil
	h.items.deleteFn = func(ctx context.Context, actor policy.Actor, id uuid.UUID) error {
		deleted = id
		return nil
	}
	target := uuid.New()

	rec := h.do(t, http.MethodDelete, "/api/admin/v1/items/"+target.String(), "", h.token(t, uuid.New()), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, uuid.Nil, deleted)

	rec = h.do(t, http.MethodDelete, "/api/admin/v1/items/"+target.String(), "", h.token(t, h.admin), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, target, deleted)
}

func TestLoginIsRateLimited(t *testing.T) {
	h := newHarness(t, nil)
	var last int
	for i := 0; i < 3; i++ {
		last = h.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"a@b.co","password":"x"}`, "", nil).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestUnconfiguredServiceAnswersInternalError(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/api/v1/notifications", "", h.token(t, uuid.New()), nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
