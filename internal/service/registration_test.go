package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tournament-registry/internal/cache"
	"github.com/tournament-registry/internal/config"
	"github.com/tournament-registry/internal/domain"
	"github.com/tournament-registry/internal/fftt"
	"github.com/tournament-registry/internal/override"
	"github.com/tournament-registry/internal/reconcile"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

type fakeFetcher struct {
	records []domain.RawItem
	err     error
	calls   int
}

func (f *fakeFetcher) FetchRecords(context.Context) ([]domain.RawItem, error) {
	f.calls++
	return f.records, f.err
}

type fakeRankings struct {
	rankings map[string]*domain.Ranking
	failed   int
}

func (f *fakeRankings) LookupMany(_ context.Context, licenses []string) (map[string]*domain.Ranking, fftt.LookupReport) {
	out := make(map[string]*domain.Ranking)
	for _, l := range licenses {
		out[l] = f.rankings[l]
	}
	return out, fftt.LookupReport{Requested: len(licenses), Failed: f.failed}
}

type staticOverrides override.Table

func (s staticOverrides) Load(context.Context) override.Table { return override.Table(s) }

type recordingNotifier struct {
	snapshots []domain.PlayersSnapshot
}

func (r *recordingNotifier) BroadcastPlayersUpdated(s domain.PlayersSnapshot) {
	r.snapshots = append(r.snapshots, s)
}

type testService struct {
	svc      *RegistrationService
	cache    *cache.Cache
	clock    *fakeClock
	fetcher  *fakeFetcher
	notifier *recordingNotifier
}

func registration(orderID int64, email, first, product string, fields ...domain.CustomField) domain.RawItem {
	return domain.RawItem{
		OrderID:      orderID,
		OrderDate:    time.Date(2025, 2, int(orderID%28)+1, 9, 0, 0, 0, time.UTC),
		Payer:        domain.Payer{FirstName: first, LastName: "Martin", Email: email},
		ProductName:  product,
		CustomFields: fields,
	}
}

func defaultRecords() []domain.RawItem {
	return []domain.RawItem{
		registration(1, "ana@example.org", "Ana", "Tableau 1"),
		registration(1, "ana@example.org", "Ana", "obligatoire - informations complémentaires",
			domain.CustomField{Name: "Licence", Answer: "123456"},
			domain.CustomField{Name: "Club", Answer: "tt lyon"},
		),
		registration(2, "bob@example.org", "Bob", "Tableau 2"),
	}
}

func newTestService(t *testing.T, deps Dependencies) *testService {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := cache.New(cache.NewMemoryStore(), logger, cache.WithClock(clock.Now))

	fetcher, _ := deps.Fetcher.(*fakeFetcher)
	if deps.Fetcher == nil {
		fetcher = &fakeFetcher{records: defaultRecords()}
		deps.Fetcher = fetcher
	}
	if deps.Reconciler == nil {
		deps.Reconciler = reconcile.New(reconcile.ByEmail, logger)
	}
	notifier := &recordingNotifier{}
	deps.Notifier = notifier
	deps.Cache = c

	cacheCfg := &config.CacheConfig{PlayersTTL: 10 * time.Minute, StatsTTL: 10 * time.Minute}
	refreshCfg := &config.RefreshConfig{RateLimitWindow: 60 * time.Second, GroupBy: config.GroupByEmail}

	return &testService{
		svc:      NewRegistrationService(deps, cacheCfg, refreshCfg, logger),
		cache:    c,
		clock:    clock,
		fetcher:  fetcher,
		notifier: notifier,
	}
}

func TestPlayersEmptyBeforeFirstRefresh(t *testing.T) {
	ts := newTestService(t, Dependencies{})

	resp := ts.svc.Players(context.Background())
	assert.Empty(t, resp.Players)
	assert.NotNil(t, resp.Players)
	assert.False(t, resp.FromCache)
	assert.Nil(t, resp.LastUpdated)
	assert.Equal(t, msgNoDataYet, resp.Warning)
	assert.Zero(t, ts.fetcher.calls, "reads never fetch upstream")
}

func TestRefreshThenRead(t *testing.T) {
	ts := newTestService(t, Dependencies{})
	ctx := context.Background()

	result, err := ts.svc.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "Données rafraîchies avec succès (2 joueurs)", result.Message)
	assert.Equal(t, ts.clock.Now(), result.Timestamp)

	resp := ts.svc.Players(ctx)
	require.Len(t, resp.Players, 2)
	assert.True(t, resp.FromCache)
	assert.Empty(t, resp.Warning)
	require.NotNil(t, resp.LastUpdated)
	assert.Equal(t, "TT LYON", *resp.Players[0].Club)

	require.Len(t, ts.notifier.snapshots, 1)
	assert.Len(t, ts.notifier.snapshots[0].Players, 2)
}

func TestRefreshIsRateLimited(t *testing.T) {
	ts := newTestService(t, Dependencies{})
	ctx := context.Background()

	_, err := ts.svc.Refresh(ctx)
	require.NoError(t, err)

	ts.clock.Advance(15 * time.Second)
	_, err = ts.svc.Refresh(ctx)
	require.Error(t, err)

	derr, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindRateLimited, derr.Kind)
	assert.True(t, derr.Retryable)
	assert.Equal(t, 45*time.Second, derr.RetryAfter)
	assert.Equal(t, "Veuillez attendre 45 secondes avant de rafraîchir", derr.Message)
	assert.Equal(t, 1, ts.fetcher.calls)

	ts.clock.Advance(44*time.Second + 500*time.Millisecond)
	_, err = ts.svc.Refresh(ctx)
	derr, _ = domain.AsError(err)
	require.NotNil(t, derr)
	assert.Equal(t, "Veuillez attendre 1 seconde avant de rafraîchir", derr.Message)

	ts.clock.Advance(time.Second)
	_, err = ts.svc.Refresh(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, ts.fetcher.calls)
}

func TestRefreshFailureKinds(t *testing.T) {
	t.Run("classified errors propagate", func(t *testing.T) {
		ts := newTestService(t, Dependencies{Fetcher: &fakeFetcher{err: domain.Unauthorized("denied")}})

		_, err := ts.svc.Refresh(context.Background())
		assert.Equal(t, domain.KindUnauthorized, domain.KindOf(err))
	})

	t.Run("exhausted transient errors become a failure result", func(t *testing.T) {
		for _, cause := range []error{
			domain.Transport("HelloAsso", errors.New("connection refused")),
			domain.Transport("HelloAsso", context.DeadlineExceeded),
			domain.Upstream("HelloAsso API error: bad gateway", http.StatusBadGateway, "HELLOASSO_API_ERROR"),
		} {
			ts := newTestService(t, Dependencies{Fetcher: &fakeFetcher{err: cause}})

			result, err := ts.svc.Refresh(context.Background())
			require.NoError(t, err, "cause %v", cause)
			assert.False(t, result.Success)
			assert.Equal(t, msgRefreshFailed, result.Message)
		}
	})

	t.Run("other errors become a failure result", func(t *testing.T) {
		ts := newTestService(t, Dependencies{Fetcher: &fakeFetcher{err: errors.New("decode failure")}})

		result, err := ts.svc.Refresh(context.Background())
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, msgRefreshFailed, result.Message)
		assert.Empty(t, ts.notifier.snapshots)
	})
}

func TestReadFallsBackToLastGood(t *testing.T) {
	ts := newTestService(t, Dependencies{})
	ctx := context.Background()

	_, err := ts.svc.Refresh(ctx)
	require.NoError(t, err)

	ts.fetcher.err = errors.New("upstream down")
	ts.clock.Advance(2 * time.Minute)
	result, err := ts.svc.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, result.Success)

	resp := ts.svc.Players(ctx)
	assert.Len(t, resp.Players, 2)
	assert.True(t, resp.FromCache)
	assert.Equal(t, msgStaleData, resp.Warning)
}

func TestReadAfterExpiryServesLastGood(t *testing.T) {
	ts := newTestService(t, Dependencies{})
	ctx := context.Background()

	ts.svc.RunScheduled(ctx)
	ts.clock.Advance(11 * time.Minute)

	resp := ts.svc.Players(ctx)
	assert.Len(t, resp.Players, 2)
	assert.Equal(t, msgStaleData, resp.Warning)
}

func TestRunScheduled(t *testing.T) {
	ts := newTestService(t, Dependencies{})
	ctx := context.Background()

	res := ts.svc.RunScheduled(ctx)
	assert.Equal(t, "Refreshed 2 players", res.Result)
	assert.Equal(t, 2, res.Players)
	assert.Empty(t, res.Error)

	// no rate limit on the scheduled path
	res = ts.svc.RunScheduled(ctx)
	assert.Equal(t, 2, res.Players)

	ts.fetcher.err = domain.ServiceUnavailable("HelloAsso API unreachable")
	res = ts.svc.RunScheduled(ctx)
	assert.Equal(t, "Failed", res.Result)
	assert.Contains(t, res.Error, "unreachable")
}

func TestEnrichment(t *testing.T) {
	rankings := &fakeRankings{rankings: map[string]*domain.Ranking{
		"123456": {LicenseNumber: "123456", Club: "TT ANNECY", ClubCode: "08740012", Points: 812},
	}}
	ts := newTestService(t, Dependencies{Rankings: rankings})
	ctx := context.Background()

	ts.svc.RunScheduled(ctx)
	resp := ts.svc.Players(ctx)
	require.Len(t, resp.Players, 2)

	ana := resp.Players[0]
	assert.Equal(t, "TT ANNECY", *ana.Club)
	assert.Equal(t, "08740012", *ana.ClubCode)
	assert.Equal(t, 812, *ana.OfficialPoints)
	assert.Empty(t, resp.Warning)

	bob := resp.Players[1]
	assert.Nil(t, bob.Club)
	assert.Nil(t, bob.OfficialPoints)
}

func TestEnrichmentDegradedWarning(t *testing.T) {
	ts := newTestService(t, Dependencies{Rankings: &fakeRankings{failed: 1}})
	ctx := context.Background()

	ts.svc.RunScheduled(ctx)
	resp := ts.svc.Players(ctx)
	assert.Len(t, resp.Players, 2)
	assert.Equal(t, msgEnrichmentFail, resp.Warning)
}

func TestOverridesApplied(t *testing.T) {
	anaID := reconcile.PlayerID("ana@example.org")
	overrides := staticOverrides{anaID: {OfficialPoints: domain.IntPtr(999)}}
	ts := newTestService(t, Dependencies{Overrides: overrides})
	ctx := context.Background()

	ts.svc.RunScheduled(ctx)
	resp := ts.svc.Players(ctx)
	require.Len(t, resp.Players, 2)
	assert.Equal(t, anaID, resp.Players[0].ID)
	assert.Equal(t, 999, *resp.Players[0].OfficialPoints)
	assert.Equal(t, "TT LYON", *resp.Players[0].Club)
}
