package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replyguard/internal/config"
	"replyguard/internal/cooldown"
	"replyguard/internal/dispatch"
	"replyguard/internal/history"
	"replyguard/internal/logging"
	"replyguard/internal/model"
	"replyguard/internal/storage"
)

type testEnv struct {
	cfg    *config.Config
	server *Server
	store  *storage.MemoryStore
	cache  *cooldown.MemoryCache
	hist   *history.Store
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Messages = config.MessagesConfig{
		FallbackOpen:   "we will get back to you",
		FallbackClosed: "we are closed",
		ResetAck:       "thanks",
	}
	env := &testEnv{
		cfg:   cfg,
		store: storage.NewMemory(),
		cache: cooldown.NewMemoryCache(),
		hist:  history.NewStore(50),
		now:   time.Date(2025, 3, 3, 2, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return env.now }
	ctrl := cooldown.NewController(env.store, env.cache, cooldown.Options{Clock: clock})
	d, err := dispatch.New(cfg, ctrl, env.hist, logging.Discard())
	require.NoError(t, err)
	d.WithClock(clock)

	env.server = NewServer(Deps{
		Config:     config.NewStaticManager(cfg),
		Dispatcher: d,
		Controller: ctrl,
		Cache:      env.cache,
		Evictor:    cooldown.NewEvictor(env.cache, time.Minute, 10*time.Minute, clock, logging.Discard()),
		Store:      env.store,
		History:    env.hist,
		Version:    "test",
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func webhookBody(responseID, userID, intent string) string {
	return `{
		"responseId": "` + responseID + `",
		"session": "projects/demo/agent/sessions/sess-1",
		"queryResult": {"queryText": "hello?", "intent": {"displayName": "` + intent + `"}},
		"originalDetectIntentRequest": {"source": "line", "payload": {"data": {"source": {"userId": "` + userID + `"}}}}
	}`
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestWebhookRepliesOncePerWindow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/webhook", webhookBody("r1", "U100", "Default Fallback Intent"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "we will get back to you", decodeBody(t, rec)["fulfillmentText"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodPost, "/webhook", webhookBody("r2", "U100", "Default Fallback Intent"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	stored, err := env.store.GetCooldown(context.Background(), "U100")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(1), stored.TotalFallbacks)
}

func TestWebhookResetIntentRepliesDuringCooldown(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, "/webhook", webhookBody("r1", "U200", "Default Fallback Intent"))
	rec := env.do(t, http.MethodPost, "/webhook", webhookBody("r2", "U200", "Reset Cooldown"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "thanks", decodeBody(t, rec)["fulfillmentText"])

	stored, err := env.store.GetCooldown(context.Background(), "U200")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.CooldownResetCount)
}

func TestWebhookUnknownIntentIsSilent(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/webhook", webhookBody("r1", "U300", "Order Status"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
	assert.Equal(t, 0, env.cache.Len())
}

func TestWebhookRejectsBadBodies(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/webhook", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/webhook", "{nope").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodGet, "/webhook", "").Code)
}

func TestStatusReportsCooldownSettings(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SaveStatus(context.Background(), model.ServiceStatus{Status: model.StatusOnline}))
	env.do(t, http.MethodPost, "/webhook", webhookBody("r1", "U100", "Default Fallback Intent"))

	rec := env.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "5m0s", resp.Cooldown.Window)
	assert.Equal(t, 1, resp.Cooldown.CacheEntries)
	assert.Equal(t, 1, resp.HistorySize)
	require.NotNil(t, resp.Service)
	assert.Equal(t, model.StatusOnline, resp.Service.Status)
}

func TestDecisionsFilters(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/webhook", webhookBody("r1", "U1", "Default Fallback Intent"))
	env.do(t, http.MethodPost, "/webhook", webhookBody("r2", "U2", "Default Fallback Intent"))
	env.do(t, http.MethodPost, "/webhook", webhookBody("r3", "U1", "Default Fallback Intent"))

	body := decodeBody(t, env.do(t, http.MethodGet, "/decisions", ""))
	assert.EqualValues(t, 3, body["count"])

	body = decodeBody(t, env.do(t, http.MethodGet, "/decisions?limit=1", ""))
	assert.EqualValues(t, 1, body["count"])

	body = decodeBody(t, env.do(t, http.MethodGet, "/decisions?user_id=U1", ""))
	assert.EqualValues(t, 2, body["count"])

	rec := env.do(t, http.MethodGet, "/decisions?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCooldownLookup(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/webhook", webhookBody("r1", "U9", "Default Fallback Intent"))

	rec := env.do(t, http.MethodGet, "/cooldown/U9", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "users/U9", body["key"])
	assert.Contains(t, body, "cache")
	assert.Contains(t, body, "record")

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/cooldown/nobody", "").Code)
}

func TestAdminSweepRemovesStaleEntries(t *testing.T) {
	env := newTestEnv(t)
	env.cache.Put("old", model.CacheEntry{Timestamp: env.now.Add(-time.Hour), LastUpdated: env.now.Add(-time.Hour)})
	env.cache.Put("fresh", model.CacheEntry{Timestamp: env.now, LastUpdated: env.now})

	rec := env.do(t, http.MethodPost, "/admin/sweep", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["removed"])
	assert.Equal(t, 1, env.cache.Len())
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "replyguard_")
}

func TestRequestIDIsPropagated(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestStatusReportsSettingsInEffectAfterReload(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Cooldown.Window = config.Duration(time.Minute)
	env.cfg.Cooldown.SweepInterval = config.Duration(time.Hour)
	env.cfg.Cooldown.Coalesce = true

	var resp statusResponse
	require.NoError(t, json.Unmarshal(env.do(t, http.MethodGet, "/status", "").Body.Bytes(), &resp))
	assert.Equal(t, "5m0s", resp.Cooldown.Window)
	assert.Equal(t, "1m0s", resp.Cooldown.SweepInterval)
	assert.Equal(t, "10m0s", resp.Cooldown.CacheRetention)
	assert.Equal(t, "3s", resp.Cooldown.StoreTimeout)
	assert.False(t, resp.Cooldown.Coalesce)
}

func TestStartClosesDoneAfterShutdown(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.API.Addr = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	_, done := Start(ctx, Deps{Config: config.NewStaticManager(cfg), Logger: logging.Discard()})

	select {
	case <-done:
		t.Fatal("done closed before shutdown")
	default:
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
