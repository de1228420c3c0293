// Package reconcile turns registration line items into deduplicated players.
package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tournament-registry/internal/config"
	"github.com/tournament-registry/internal/domain"
)

// Strategy selects how items are grouped into players
type Strategy string

const (
	// ByEmail folds every order of one payer into a single player
	ByEmail Strategy = config.GroupByEmail
	// ByOrder yields one player per order. Legacy mode, kept for data
	// registered before repeat registrants were merged.
	ByOrder Strategy = config.GroupByOrder
)

// Reconciler groups raw items into players
type Reconciler struct {
	strategy Strategy
	logger   *slog.Logger
}

// New creates a reconciler; an unknown strategy falls back to ByEmail
func New(strategy Strategy, logger *slog.Logger) *Reconciler {
	if strategy != ByOrder {
		strategy = ByEmail
	}
	return &Reconciler{strategy: strategy, logger: logger}
}

// Strategy returns the grouping strategy in use
func (r *Reconciler) Strategy() Strategy {
	return r.strategy
}

type group struct {
	key   string
	items []domain.RawItem
}

// Reconcile groups items and builds one player per group. Groups without a
// category or a first name are dropped. The output is ordered by
// registration date, then id.
func (r *Reconciler) Reconcile(items []domain.RawItem) []domain.Player {
	var (
		groups  []*group
		byKey   = make(map[string]*group)
		skipped int
	)

	for _, item := range items {
		if item.OrderID == 0 {
			skipped++
			continue
		}
		key := r.groupKey(item)
		g, ok := byKey[key]
		if !ok {
			g = &group{key: key}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.items = append(g.items, item)
	}

	players := make([]domain.Player, 0, len(groups))
	dropped := 0
	for _, g := range groups {
		p, ok := r.build(g)
		if !ok {
			dropped++
			continue
		}
		players = append(players, p)
	}

	sort.SliceStable(players, func(i, j int) bool {
		a, b := players[i], players[j]
		if !a.RegistrationDate.Equal(b.RegistrationDate) {
			return a.RegistrationDate.Before(b.RegistrationDate)
		}
		return a.ID < b.ID
	})

	r.logger.Debug("reconciled registrations",
		"strategy", string(r.strategy),
		"items", len(items),
		"groups", len(groups),
		"players", len(players),
		"dropped", dropped,
		"skipped", skipped,
	)
	return players
}

func (r *Reconciler) groupKey(item domain.RawItem) string {
	orderKey := strconv.FormatInt(item.OrderID, 10)
	if r.strategy == ByOrder {
		return orderKey
	}
	email := strings.ToLower(strings.TrimSpace(item.Payer.Email))
	if email == "" {
		return "order:" + orderKey
	}
	return email
}

// PlayerID derives the stable identifier of a group key
func PlayerID(groupKey string) string {
	sum := sha256.Sum256([]byte(groupKey))
	return hex.EncodeToString(sum[:])
}

func (r *Reconciler) build(g *group) (domain.Player, bool) {
	p := domain.Player{ID: PlayerID(g.key)}

	seen := make(map[domain.CategoryID]bool)
	var earliest time.Time

	for _, item := range g.items {
		setFirst(&p.FirstName, item.Payer.FirstName)
		setFirst(&p.LastName, item.Payer.LastName)
		setFirst(&p.Email, item.Payer.Email)

		if !item.OrderDate.IsZero() && (earliest.IsZero() || item.OrderDate.Before(earliest)) {
			earliest = item.OrderDate
		}

		if id, ok := domain.MatchCategory(item.ProductName); ok && !seen[id] {
			seen[id] = true
			p.Categories = append(p.Categories, id)
		}

		r.applyFields(&p, item.CustomFields)
	}

	if len(p.Categories) == 0 || p.FirstName == "" {
		return domain.Player{}, false
	}

	sort.SliceStable(p.Categories, func(i, j int) bool {
		return domain.CategoryRank(p.Categories[i]) < domain.CategoryRank(p.Categories[j])
	})
	p.RegistrationDate = earliest.UTC()
	return p, true
}

// applyFields extracts license, club and points answers. Values already set
// by an earlier item are kept.
func (r *Reconciler) applyFields(p *domain.Player, fields []domain.CustomField) {
	for _, f := range fields {
		name := strings.ToLower(strings.TrimSpace(f.Name))
		answer := strings.TrimSpace(f.Answer)

		switch {
		case strings.Contains(name, "licence") || strings.Contains(name, "license"):
			if p.LicenseNumber != "" {
				continue
			}
			if license, ok := domain.CleanLicenseNumber(answer); ok {
				p.LicenseNumber = license
			}
		case strings.Contains(name, "club"):
			if p.Club != nil || answer == "" {
				continue
			}
			if r.strategy == ByEmail {
				answer = strings.ToUpper(answer)
			}
			p.Club = &answer
		case strings.Contains(name, "points"):
			if p.OfficialPoints != nil {
				continue
			}
			if n, ok := leadingInt(answer); ok {
				p.OfficialPoints = &n
			}
		}
	}
}

func setFirst(dst *string, v string) {
	if *dst == "" {
		*dst = strings.TrimSpace(v)
	}
}

// leadingInt parses an optional sign followed by digits, ignoring any trailing text
func leadingInt(s string) (int, bool) {
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
