package service

import (
	"context"
	"sort"
	"time"

	"github.com/tournament-registry/internal/cache"
	"github.com/tournament-registry/internal/domain"
)

const topClubs = 10

// Stats returns tournament statistics. A fresh cached copy is served as is;
// otherwise they are computed from the current player view and cached. With
// no player data at all, the last computed statistics are served instead.
func (s *RegistrationService) Stats(ctx context.Context) domain.StatsResponse {
	if stats, ok := cache.Get[domain.TournamentStats](ctx, s.cache, cache.KeyStats); ok {
		return domain.StatsResponse{TournamentStats: stats, FromCache: true}
	}

	view := s.Players(ctx)
	if view.LastUpdated == nil {
		if stale, ok := cache.GetRaw[domain.TournamentStats](ctx, s.cache, cache.KeyStatsLastGood); ok {
			return domain.StatsResponse{TournamentStats: stale, FromCache: true}
		}
		return domain.StatsResponse{TournamentStats: ComputeStats(nil, s.cache.Now())}
	}

	stats := ComputeStats(view.Players, s.cache.Now())
	cache.Set(ctx, s.cache, cache.KeyStats, stats, s.cacheCfg.StatsTTL)
	cache.SetRaw(ctx, s.cache, cache.KeyStatsLastGood, stats)

	return domain.StatsResponse{TournamentStats: stats}
}

// ComputeStats aggregates players: every category in rank order (zero counts
// included), the ten largest clubs and registrations per UTC day.
func ComputeStats(players []domain.Player, now time.Time) domain.TournamentStats {
	perCategory := make(map[domain.CategoryID]int, len(domain.Categories))
	perClub := make(map[string]int)
	perDay := make(map[string]int)

	for _, p := range players {
		for _, c := range p.Categories {
			perCategory[c]++
		}

		club := domain.UnknownClub
		if p.Club != nil && *p.Club != "" {
			club = *p.Club
		}
		perClub[club]++

		perDay[p.RegistrationDate.UTC().Format(time.DateOnly)]++
	}

	byCategory := make([]domain.CategoryCount, 0, len(domain.Categories))
	for _, c := range domain.Categories {
		byCategory = append(byCategory, domain.CategoryCount{
			CategoryID: c.ID,
			Label:      c.Label,
			Count:      perCategory[c.ID],
		})
	}

	byClub := make([]domain.ClubCount, 0, len(perClub))
	for club, n := range perClub {
		byClub = append(byClub, domain.ClubCount{Club: club, Count: n})
	}
	sort.Slice(byClub, func(i, j int) bool {
		if byClub[i].Count != byClub[j].Count {
			return byClub[i].Count > byClub[j].Count
		}
		return byClub[i].Club < byClub[j].Club
	})
	if len(byClub) > topClubs {
		byClub = byClub[:topClubs]
	}

	timeline := make([]domain.DailyCount, 0, len(perDay))
	for date, n := range perDay {
		timeline = append(timeline, domain.DailyCount{Date: date, Count: n})
	}
	sort.Slice(timeline, func(i, j int) bool {
		return timeline[i].Date < timeline[j].Date
	})

	return domain.TournamentStats{
		TotalPlayers:         len(players),
		ByCategory:           byCategory,
		ByClub:               byClub,
		RegistrationTimeline: timeline,
		LastUpdated:          now,
	}
}
