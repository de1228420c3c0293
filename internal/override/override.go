// Package override applies manual corrections on top of reconciled players.
package override

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tournament-registry/internal/cache"
	"github.com/tournament-registry/internal/domain"
)

// Table maps player ids to sparse corrections
type Table map[string]domain.Override

// Apply returns copies of players with the matching corrections applied.
// Only fields present in an override replace the reconciled value, so
// applying a table twice gives the same result as applying it once.
func Apply(players []domain.Player, table Table) []domain.Player {
	out := make([]domain.Player, len(players))
	for i, p := range players {
		out[i] = ApplyOne(p, table[p.ID])
	}
	return out
}

// ApplyOne patches a single player
func ApplyOne(p domain.Player, o domain.Override) domain.Player {
	p = p.Clone()
	if o.LicenseNumber != nil {
		p.LicenseNumber = *o.LicenseNumber
	}
	if o.Club != nil {
		club := *o.Club
		p.Club = &club
	}
	if o.OfficialPoints != nil {
		points := *o.OfficialPoints
		p.OfficialPoints = &points
	}
	return p
}

// Merge layers top over base field by field
func Merge(base, top Table) Table {
	out := make(Table, len(base)+len(top))
	for id, o := range base {
		out[id] = o
	}
	for id, o := range top {
		cur := out[id]
		if o.LicenseNumber != nil {
			cur.LicenseNumber = o.LicenseNumber
		}
		if o.Club != nil {
			cur.Club = o.Club
		}
		if o.OfficialPoints != nil {
			cur.OfficialPoints = o.OfficialPoints
		}
		out[id] = cur
	}
	return out
}

// LoadFile reads a YAML or JSON override table. An empty path yields an empty table.
func LoadFile(path string) (Table, error) {
	if path == "" {
		return Table{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading overrides file: %w", err)
	}

	table := Table{}
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parsing overrides file: %w", err)
	}
	return table, nil
}

// Source combines the static table with corrections kept in the raw cache
// layer under the overrides key. Cached entries win.
type Source struct {
	static Table
	cache  *cache.Cache
	logger *slog.Logger
}

// NewSource creates an override source
func NewSource(static Table, c *cache.Cache, logger *slog.Logger) *Source {
	if static == nil {
		static = Table{}
	}
	return &Source{static: static, cache: c, logger: logger}
}

// Load returns the effective table
func (s *Source) Load(ctx context.Context) Table {
	stored, ok := cache.GetRaw[Table](ctx, s.cache, cache.KeyOverrides)
	if !ok {
		return Merge(s.static, nil)
	}
	return Merge(s.static, stored)
}

// Put stores a correction in the raw layer, merged over any existing one for the id
func (s *Source) Put(ctx context.Context, id string, o domain.Override) cache.Status {
	stored, _ := cache.GetRaw[Table](ctx, s.cache, cache.KeyOverrides)
	stored = Merge(stored, Table{id: o})

	status := cache.SetRaw(ctx, s.cache, cache.KeyOverrides, stored)
	if status.OK() {
		s.logger.Info("override stored", "player_id", id)
	}
	return status
}
