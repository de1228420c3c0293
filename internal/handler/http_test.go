package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tournament-registry/internal/cache"
	"github.com/tournament-registry/internal/config"
	"github.com/tournament-registry/internal/domain"
	"github.com/tournament-registry/internal/override"
	"github.com/tournament-registry/internal/reconcile"
	"github.com/tournament-registry/internal/service"
	"github.com/tournament-registry/internal/websocket"
)

type stubFetcher struct {
	records []domain.RawItem
	err     error
}

func (s *stubFetcher) FetchRecords(context.Context) ([]domain.RawItem, error) {
	return s.records, s.err
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func item(orderID int64, email, first, last, product string, day int) domain.RawItem {
	return domain.RawItem{
		OrderID:     orderID,
		OrderDate:   time.Date(2025, 2, day, 10, 0, 0, 0, time.UTC),
		Payer:       domain.Payer{FirstName: first, LastName: last, Email: email},
		ProductName: product,
	}
}

type testServer struct {
	router  http.Handler
	fetcher *stubFetcher
	source  *override.Source
}

func setupServer(t *testing.T, pinger Pinger) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := cache.New(cache.NewMemoryStore(), logger)

	fetcher := &stubFetcher{records: []domain.RawItem{
		item(1, "zoe@example.org", "Zoé", "Étienne", "Tableau 1", 3),
		item(2, "ana@example.org", "Ana", "Dupont", "Tableau 1", 1),
		item(3, "luc@example.org", "Luc", "Fabre", "Tableau 3", 2),
	}}
	source := override.NewSource(nil, c, logger)

	svc := service.NewRegistrationService(service.Dependencies{
		Fetcher:    fetcher,
		Reconciler: reconcile.New(reconcile.ByEmail, logger),
		Overrides:  source,
		Cache:      c,
	},
		&config.CacheConfig{PlayersTTL: 10 * time.Minute, StatsTTL: 10 * time.Minute},
		&config.RefreshConfig{RateLimitWindow: 60 * time.Second},
		logger,
	)
	hub := websocket.NewHub(logger)
	svc.SetNotifier(hub)

	h := NewHandler(svc, hub, source, pinger, logger)
	return &testServer{router: h.Router(), fetcher: fetcher, source: source}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthAndReady(t *testing.T) {
	ts := setupServer(t, stubPinger{})
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/ready", "").Code)

	down := setupServer(t, stubPinger{err: errors.New("connection refused")})
	rec := down.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", decode[APIResponse](t, rec).Code)
}

func TestGetPlayersBeforeRefresh(t *testing.T) {
	ts := setupServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/api/players", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]json.RawMessage](t, rec)
	assert.JSONEq(t, `[]`, string(body["players"]))
	assert.JSONEq(t, `false`, string(body["fromCache"]))
	assert.NotContains(t, body, "lastUpdated")
	assert.Contains(t, body, "warning")
}

func TestRefreshThenList(t *testing.T) {
	ts := setupServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[domain.RefreshResult](t, rec)
	assert.True(t, result.Success)
	assert.Contains(t, result.Message, "3 joueurs")

	rec = ts.do(t, http.MethodGet, "/api/players", "")
	resp := decode[domain.PlayersResponse](t, rec)
	require.Len(t, resp.Players, 3)
	assert.True(t, resp.FromCache)
	assert.Equal(t, []string{"Dupont", "Étienne", "Fabre"}, []string{
		resp.Players[0].LastName, resp.Players[1].LastName, resp.Players[2].LastName,
	})

	rec = ts.do(t, http.MethodGet, "/api/players?sort=registrationDate&order=desc", "")
	resp = decode[domain.PlayersResponse](t, rec)
	assert.Equal(t, "Étienne", resp.Players[0].LastName)

	rec = ts.do(t, http.MethodGet, "/api/players?category=500-1199", "")
	resp = decode[domain.PlayersResponse](t, rec)
	require.Len(t, resp.Players, 1)
	assert.Equal(t, "Fabre", resp.Players[0].LastName)
}

func TestGetPlayersRejectsBadParams(t *testing.T) {
	ts := setupServer(t, nil)

	for _, path := range []string{
		"/api/players?sort=email",
		"/api/players?order=sideways",
		"/api/players?category=open",
	} {
		rec := ts.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, "BAD_REQUEST", decode[APIResponse](t, rec).Code, path)
	}
}

func TestRefreshRateLimited(t *testing.T) {
	ts := setupServer(t, nil)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/refresh", "").Code)

	rec := ts.do(t, http.MethodPost, "/api/refresh", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	body := decode[APIResponse](t, rec)
	assert.False(t, body.Success)
	assert.Equal(t, "RATE_LIMITED", body.Code)
	assert.Contains(t, body.Error, "Veuillez attendre")
}

func TestRefreshErrors(t *testing.T) {
	t.Run("classified", func(t *testing.T) {
		ts := setupServer(t, nil)
		ts.fetcher.err = domain.Unauthorized("HelloAsso authentication failed")

		rec := ts.do(t, http.MethodPost, "/api/refresh", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "UNAUTHORIZED", decode[APIResponse](t, rec).Code)
	})

	t.Run("upstream unreachable", func(t *testing.T) {
		ts := setupServer(t, nil)
		ts.fetcher.err = domain.Transport("HelloAsso", errors.New("connection refused"))

		rec := ts.do(t, http.MethodPost, "/api/refresh", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		result := decode[domain.RefreshResult](t, rec)
		assert.False(t, result.Success)
		assert.NotEmpty(t, result.Message)
	})

	t.Run("unclassified", func(t *testing.T) {
		ts := setupServer(t, nil)
		ts.fetcher.err = errors.New("boom")

		rec := ts.do(t, http.MethodPost, "/api/refresh", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		result := decode[domain.RefreshResult](t, rec)
		assert.False(t, result.Success)
	})
}

func TestStatsAndCategories(t *testing.T) {
	ts := setupServer(t, nil)
	ts.do(t, http.MethodPost, "/api/refresh", "")

	rec := ts.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[domain.StatsResponse](t, rec)
	assert.Equal(t, 3, stats.TotalPlayers)
	assert.Len(t, stats.ByCategory, len(domain.Categories))
	assert.False(t, stats.FromCache)

	stats = decode[domain.StatsResponse](t, ts.do(t, http.MethodGet, "/api/stats", ""))
	assert.True(t, stats.FromCache)

	rec = ts.do(t, http.MethodGet, "/api/categories", "")
	var cats []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cats))
	require.Len(t, cats, len(domain.Categories))
	assert.Equal(t, "500-799", cats[0]["id"])
}

func TestPlayersByCategory(t *testing.T) {
	ts := setupServer(t, nil)
	ts.do(t, http.MethodPost, "/api/refresh", "")

	rec := ts.do(t, http.MethodGet, "/api/players/by-category", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Categories []service.CategoryGroup `json:"categories"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Categories, len(domain.Categories))
	assert.Len(t, body.Categories[0].Players, 2)
	assert.Empty(t, body.Categories[1].Players)
}

func TestPutOverride(t *testing.T) {
	ts := setupServer(t, nil)
	ts.do(t, http.MethodPost, "/api/refresh", "")

	id := reconcile.PlayerID("ana@example.org")
	rec := ts.do(t, http.MethodPut, "/api/overrides/"+id, `{"licenseNumber":"12-3456","officialPoints":640}`)
	require.Equal(t, http.StatusOK, rec.Code)

	table := ts.source.Load(context.Background())
	require.Contains(t, table, id)
	assert.Equal(t, "123456", *table[id].LicenseNumber)

	resp := decode[domain.PlayersResponse](t, ts.do(t, http.MethodGet, "/api/players", ""))
	assert.Equal(t, id, resp.Players[0].ID)
	assert.Equal(t, 640, *resp.Players[0].OfficialPoints)
	assert.Equal(t, "123456", resp.Players[0].LicenseNumber)

	rec = ts.do(t, http.MethodPut, "/api/overrides/"+id, `{"licenseNumber":"12"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/overrides/"+id, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/overrides", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[APIResponse](t, rec).Success)
}

func TestWebSocketStats(t *testing.T) {
	ts := setupServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/api/ws/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_connections":0`)
}

func TestCORSPreflight(t *testing.T) {
	ts := setupServer(t, nil)
	rec := ts.do(t, http.MethodOptions, "/api/refresh", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
