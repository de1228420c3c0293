package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tournament-registry/internal/cache"
	"github.com/tournament-registry/internal/config"
	"github.com/tournament-registry/internal/domain"
	"github.com/tournament-registry/internal/fftt"
	"github.com/tournament-registry/internal/override"
	"github.com/tournament-registry/internal/reconcile"
)

// User-facing messages
const (
	msgRefreshed       = "Données rafraîchies avec succès (%d joueurs)"
	msgRefreshFailed   = "Erreur lors du rafraîchissement des données"
	msgEnrichmentFail  = "Les données de club et points n'ont pas pu être récupérées"
	msgStaleData       = "Données en cache (mise à jour impossible)"
	msgNoDataYet       = "Aucune donnée disponible pour le moment"
	msgRefreshCooldown = "Veuillez attendre %d seconde%s avant de rafraîchir"
)

// RecordFetcher reads raw registration records from the platform
type RecordFetcher interface {
	FetchRecords(ctx context.Context) ([]domain.RawItem, error)
}

// RankingLookup resolves federation rankings for license numbers
type RankingLookup interface {
	LookupMany(ctx context.Context, licenses []string) (map[string]*domain.Ranking, fftt.LookupReport)
}

// OverrideSource supplies the current correction table
type OverrideSource interface {
	Load(ctx context.Context) override.Table
}

// Notifier is told about every freshly written snapshot
type Notifier interface {
	BroadcastPlayersUpdated(snapshot domain.PlayersSnapshot)
}

// Dependencies groups the collaborators of RegistrationService. Rankings and
// Notifier are optional.
type Dependencies struct {
	Fetcher    RecordFetcher
	Reconciler *reconcile.Reconciler
	Rankings   RankingLookup
	Overrides  OverrideSource
	Cache      *cache.Cache
	Notifier   Notifier
}

// RegistrationService runs the refresh pipeline and serves the cached views
type RegistrationService struct {
	fetcher    RecordFetcher
	reconciler *reconcile.Reconciler
	rankings   RankingLookup
	overrides  OverrideSource
	cache      *cache.Cache
	limiter    *cache.RateLimiter
	notifier   Notifier
	cacheCfg   *config.CacheConfig
	refreshCfg *config.RefreshConfig
	logger     *slog.Logger
}

// NewRegistrationService creates a new registration service
func NewRegistrationService(
	deps Dependencies,
	cacheCfg *config.CacheConfig,
	refreshCfg *config.RefreshConfig,
	logger *slog.Logger,
) *RegistrationService {
	return &RegistrationService{
		fetcher:    deps.Fetcher,
		reconciler: deps.Reconciler,
		rankings:   deps.Rankings,
		overrides:  deps.Overrides,
		cache:      deps.Cache,
		limiter:    cache.NewRateLimiter(deps.Cache),
		notifier:   deps.Notifier,
		cacheCfg:   cacheCfg,
		refreshCfg: refreshCfg,
		logger:     logger,
	}
}

// SetNotifier attaches a notifier after construction
func (s *RegistrationService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Players returns the cached player list with overrides applied. It never
// calls upstream: on a miss it serves the last good snapshot, or an empty
// list with a warning.
func (s *RegistrationService) Players(ctx context.Context) domain.PlayersResponse {
	snapshot, ok := cache.Get[domain.PlayersSnapshot](ctx, s.cache, cache.KeyPlayers)
	warning := snapshot.Warning

	if !ok {
		snapshot, ok = cache.GetRaw[domain.PlayersSnapshot](ctx, s.cache, cache.KeyPlayersLastGood)
		if !ok {
			return domain.PlayersResponse{
				Players: []domain.Player{},
				Warning: msgNoDataYet,
			}
		}
		warning = msgStaleData
	}

	players := override.Apply(snapshot.Players, s.loadOverrides(ctx))
	lastUpdated := snapshot.LastUpdated
	return domain.PlayersResponse{
		Players:     players,
		FromCache:   true,
		LastUpdated: &lastUpdated,
		Warning:     warning,
	}
}

// Refresh rebuilds the snapshot on demand, at most once per rate-limit window
func (s *RegistrationService) Refresh(ctx context.Context) (domain.RefreshResult, error) {
	decision := s.limiter.CheckAndMark(ctx, cache.KeyRefreshLimit, s.refreshCfg.RateLimitWindow)
	if !decision.Allowed {
		secs := decision.RetryAfterSeconds()
		plural := ""
		if secs > 1 {
			plural = "s"
		}
		return domain.RefreshResult{}, domain.RateLimited(
			fmt.Sprintf(msgRefreshCooldown, secs, plural),
			decision.RetryAfter,
		)
	}

	s.cache.Delete(ctx, cache.KeyPlayers, cache.KeyStats)

	snapshot, err := s.rebuild(ctx)
	if err != nil {
		// client-facing errors propagate; transient upstream failures that
		// outlived the retry budget are reported as a failed refresh
		if _, ok := domain.AsError(err); ok && !domain.IsRetryable(err) {
			return domain.RefreshResult{}, err
		}
		s.logger.Error("refresh failed", "error", err)
		return domain.RefreshResult{
			Success:   false,
			Message:   msgRefreshFailed,
			Timestamp: s.cache.Now(),
		}, nil
	}

	return domain.RefreshResult{
		Success:   true,
		Message:   fmt.Sprintf(msgRefreshed, len(snapshot.Players)),
		Timestamp: snapshot.LastUpdated,
	}, nil
}

// RunScheduled is the unattended variant of Refresh: no rate limit, and
// failures are reported in the result instead of returned.
func (s *RegistrationService) RunScheduled(ctx context.Context) domain.JobResult {
	s.logger.Info("scheduled refresh started")

	snapshot, err := s.rebuild(ctx)
	if err != nil {
		s.logger.Error("scheduled refresh failed", "error", err)
		return domain.JobResult{Result: "Failed", Error: err.Error()}
	}

	n := len(snapshot.Players)
	s.logger.Info("scheduled refresh completed", "players", n)
	return domain.JobResult{Result: fmt.Sprintf("Refreshed %d players", n), Players: n}
}

// rebuild runs fetch, reconcile, enrich and override, then writes the snapshot
func (s *RegistrationService) rebuild(ctx context.Context) (domain.PlayersSnapshot, error) {
	start := time.Now()

	records, err := s.fetcher.FetchRecords(ctx)
	if err != nil {
		return domain.PlayersSnapshot{}, fmt.Errorf("fetching registrations: %w", err)
	}

	players := s.reconciler.Reconcile(records)

	var warning string
	if s.rankings != nil {
		if !s.enrich(ctx, players) {
			warning = msgEnrichmentFail
		}
	}

	players = override.Apply(players, s.loadOverrides(ctx))

	snapshot := domain.PlayersSnapshot{
		Players:     players,
		LastUpdated: s.cache.Now(),
		Warning:     warning,
	}

	cache.Set(ctx, s.cache, cache.KeyPlayers, snapshot, s.cacheCfg.PlayersTTL)
	cache.SetRaw(ctx, s.cache, cache.KeyPlayersLastGood, snapshot)
	s.cache.Delete(ctx, cache.KeyStats)

	if s.notifier != nil {
		s.notifier.BroadcastPlayersUpdated(snapshot)
	}

	s.logger.Info("snapshot rebuilt",
		"records", len(records),
		"players", len(players),
		"duration", time.Since(start),
	)
	return snapshot, nil
}

// enrich fills club, club code and points from federation rankings in place.
// It reports false when any lookup failed.
func (s *RegistrationService) enrich(ctx context.Context, players []domain.Player) bool {
	licenses := make([]string, 0, len(players))
	for _, p := range players {
		if p.LicenseNumber != "" {
			licenses = append(licenses, p.LicenseNumber)
		}
	}
	if len(licenses) == 0 {
		return true
	}

	rankings, report := s.rankings.LookupMany(ctx, licenses)
	for i := range players {
		r := rankings[players[i].LicenseNumber]
		if r == nil {
			continue
		}
		if r.Club != "" {
			club := r.Club
			players[i].Club = &club
		}
		players[i].ClubCode = domain.StringPtr(r.ClubCode)
		points := r.Points
		players[i].OfficialPoints = &points
	}

	if report.Degraded() {
		s.logger.Warn("federation enrichment degraded", "failed", report.Failed, "requested", report.Requested)
		return false
	}
	return true
}

func (s *RegistrationService) loadOverrides(ctx context.Context) override.Table {
	if s.overrides == nil {
		return nil
	}
	return s.overrides.Load(ctx)
}
