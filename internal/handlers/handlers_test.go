package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventhub/pulse/internal/analytics"
	"eventhub/pulse/internal/scheduler"
	"eventhub/pulse/internal/store"
	"eventhub/pulse/internal/websocket"
	"eventhub/pulse/pkg/auth"
	"eventhub/pulse/pkg/cache"
)

var (
	testSecret       = []byte("test-secret")
	testServiceToken = "svc-token"
)

type stubSource struct {
	failCounts bool
}

func (s *stubSource) CountEvents(_ context.Context, _ store.CountFilter) (int, error) {
	if s.failCounts {
		return 0, errors.New("db down")
	}
	return 10, nil
}

func (s *stubSource) CountUsers(_ context.Context, _ store.CountFilter) (int, error) {
	return 25, nil
}

func (s *stubSource) CountRegistrations(_ context.Context, _ store.CountFilter) (int, error) {
	return 40, nil
}

func (s *stubSource) CountUpcomingEvents(_ context.Context, _ time.Time) (int, error) {
	return 5, nil
}

func (s *stubSource) AverageEventCapacity(_ context.Context) (int, error) { return 80, nil }

func (s *stubSource) TopEventsByRegistrations(_ context.Context, _ int) ([]store.EventRank, error) {
	return nil, nil
}

func (s *stubSource) RegistrationsPerDay(_ context.Context, _, _ time.Time) ([]store.SeriesPoint, error) {
	return nil, nil
}

func (s *stubSource) UsersCreatedPerMonth(_ context.Context, _ int, _ time.Time) ([]store.SeriesPoint, error) {
	return nil, nil
}

func (s *stubSource) EventFillDistribution(_ context.Context, _ time.Time) (store.FillDistribution, error) {
	return store.FillDistribution{}, nil
}

func (s *stubSource) RecentRegistrations(_ context.Context, _ int) ([]store.RecentRegistration, error) {
	return nil, nil
}

func (s *stubSource) RecentEvents(_ context.Context, _ int) ([]store.RecentEvent, error) {
	return nil, nil
}

type recordingBroadcaster struct {
	frames []string
}

func (b *recordingBroadcaster) BroadcastToGroup(_, msgType string, _ interface{}) {
	b.frames = append(b.frames, msgType)
}

type testEnv struct {
	router      *gin.Engine
	cache       *cache.Cache
	broadcaster *recordingBroadcaster
}

func newTestEnv(t *testing.T, source analytics.Source, snapshot websocket.SnapshotFunc) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	if snapshot == nil {
		snapshot = func(_ context.Context) (*analytics.Snapshot, error) {
			return &analytics.Snapshot{
				Timestamp: time.Now().UTC(),
				Counters:  map[string]int{analytics.CounterTotalEvents: 10},
				Health:    analytics.SystemHealth{Status: "healthy", Goroutines: 8},
			}, nil
		}
	}

	c := cache.New(cache.MetricsHooks{})
	broadcaster := &recordingBroadcaster{}
	sched := scheduler.New(logger, nil, broadcaster, func(ctx context.Context) (*analytics.Snapshot, error) {
		return snapshot(ctx)
	}, time.Hour, time.Hour)
	t.Cleanup(sched.Stop)

	hub := websocket.NewHub(logger, nil)

	h := New(logger, nil, hub, c, source, sched, snapshot, testSecret)
	router := gin.New()
	h.RegisterRoutes(router, testServiceToken)

	return &testEnv{router: router, cache: c, broadcaster: broadcaster}
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := auth.GenerateJWT("u-1", "Admin", "admin@example.com", auth.RoleAdmin, testSecret)
	require.NoError(t, err)
	return token
}

func userToken(t *testing.T) string {
	t.Helper()
	token, err := auth.GenerateJWT("u-2", "User", "user@example.com", "USER", testSecret)
	require.NoError(t, err)
	return token
}

func doRequest(env *testEnv, method, path, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func TestDashboardAnalyticsRequiresAdmin(t *testing.T) {
	env := newTestEnv(t, &stubSource{}, nil)

	w := doRequest(env, http.MethodGet, "/dashboard/analytics", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(env, http.MethodGet, "/dashboard/analytics", userToken(t), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(env, http.MethodGet, "/dashboard/analytics", adminToken(t), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var snap analytics.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, 10, snap.Counters[analytics.CounterTotalEvents])
}

func TestDashboardAnalyticsUnavailable(t *testing.T) {
	failing := func(_ context.Context) (*analytics.Snapshot, error) {
		return nil, errors.New("store unavailable")
	}
	env := newTestEnv(t, &stubSource{}, failing)

	w := doRequest(env, http.MethodGet, "/dashboard/analytics", adminToken(t), nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "analytics temporarily unavailable")
}

func TestFooterStatsPublic(t *testing.T) {
	env := newTestEnv(t, &stubSource{}, nil)

	w := doRequest(env, http.MethodGet, "/stats/footer", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 10, stats["total_events"])
	assert.Equal(t, 5, stats["upcoming_events"])
	assert.Equal(t, 25, stats["total_users"])
	assert.NotContains(t, stats, "total_registrations")
}

func TestFooterStatsAdminIncludesRegistrations(t *testing.T) {
	env := newTestEnv(t, &stubSource{}, nil)

	w := doRequest(env, http.MethodGet, "/stats/footer/admin", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(env, http.MethodGet, "/stats/footer/admin", adminToken(t), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 40, stats["total_registrations"])
	assert.Contains(t, stats, "today_registrations")
}

func TestFooterStatsCached(t *testing.T) {
	source := &stubSource{}
	env := newTestEnv(t, source, nil)

	w := doRequest(env, http.MethodGet, "/stats/footer", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// A store outage inside the TTL is invisible; the cached bundle serves.
	source.failCounts = true
	w = doRequest(env, http.MethodGet, "/stats/footer", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNotifyDomainEvent(t *testing.T) {
	env := newTestEnv(t, &stubSource{}, nil)

	body, _ := json.Marshal(map[string]interface{}{
		"kind":    analytics.EventRegistrationCreated,
		"payload": map[string]interface{}{"event_title": "Go Conference"},
	})

	w := doRequest(env, http.MethodPost, "/internal/events", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(env, http.MethodPost, "/internal/events", testServiceToken, body)
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, env.broadcaster.frames, 1)
	assert.Equal(t, websocket.TypeNewRegistration, env.broadcaster.frames[0])
}

func TestNotifyDomainEventRejectsMissingKind(t *testing.T) {
	env := newTestEnv(t, &stubSource{}, nil)

	body := []byte(`{"payload": {}}`)
	w := doRequest(env, http.MethodPost, "/internal/events", testServiceToken, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClearCache(t *testing.T) {
	env := newTestEnv(t, &stubSource{}, nil)

	// Warm the footer cache, then clear it through the admin endpoint.
	doRequest(env, http.MethodGet, "/stats/footer", "", nil)
	require.Equal(t, 1, env.cache.Len())

	w := doRequest(env, http.MethodPost, "/admin/cache/clear", userToken(t), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(env, http.MethodPost, "/admin/cache/clear", adminToken(t), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.cache.Len())
}

func TestSystemHealth(t *testing.T) {
	env := newTestEnv(t, &stubSource{}, nil)

	w := doRequest(env, http.MethodGet, "/admin/system/health", adminToken(t), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var health analytics.SystemHealth
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 8, health.Goroutines)
}

func TestWebSocketRejectsInvalidToken(t *testing.T) {
	env := newTestEnv(t, &stubSource{}, nil)

	w := doRequest(env, http.MethodGet, "/ws", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(env, http.MethodGet, "/ws?token=not-a-jwt", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t, &stubSource{}, nil)

	w := doRequest(env, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
