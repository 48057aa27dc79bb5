package services

import (
	"context"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/go-loyalty-backend/internal/domain"
	"github.com/tbourn/go-loyalty-backend/internal/repo"
)

// TierSource yields the current tier table. Implementations are consulted on
// every computation so configuration changes apply without a restart.
type TierSource interface {
	Tiers(ctx context.Context, db *gorm.DB) ([]domain.Tier, error)
}

// Setting keys look like tier.<name>.min_points and tier.<name>.multiplier.
const (
	tierKeyPrefix     = "tier."
	tierMinSuffix     = ".min_points"
	tierMultiplierKey = ".multiplier"
)

// SettingsTierSource reads tiers from the settings table, falling back to
// Defaults for anything not overridden there.
type SettingsTierSource struct {
	Defaults []domain.Tier
}

// StaticTiers is a TierSource that always returns the same table.
type StaticTiers []domain.Tier

// Tiers implements TierSource.
func (s StaticTiers) Tiers(context.Context, *gorm.DB) ([]domain.Tier, error) { return s, nil }

// Tiers implements TierSource.
func (s *SettingsTierSource) Tiers(ctx context.Context, db *gorm.DB) ([]domain.Tier, error) {
	byName := make(map[string]*domain.Tier, len(s.Defaults))
	order := make([]string, 0, len(s.Defaults))
	for _, t := range s.Defaults {
		t := t
		byName[t.Name] = &t
		order = append(order, t.Name)
	}

	rows, err := repo.GetSettings(ctx, db, tierKeyPrefix)
	if err != nil {
		return nil, err
	}
	for key, val := range rows {
		rest := strings.TrimPrefix(key, tierKeyPrefix)
		var name string
		var isMin bool
		switch {
		case strings.HasSuffix(rest, tierMinSuffix):
			name, isMin = strings.TrimSuffix(rest, tierMinSuffix), true
		case strings.HasSuffix(rest, tierMultiplierKey):
			name = strings.TrimSuffix(rest, tierMultiplierKey)
		default:
			continue
		}
		if name == "" {
			continue
		}
		t, ok := byName[name]
		if !ok {
			t = &domain.Tier{Name: name, MinLifetime: -1, Multiplier: decimal.NewFromInt(1)}
			byName[name] = t
			order = append(order, name)
		}
		val = strings.TrimSpace(val)
		if isMin {
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil || n < 0 {
				logger(ctx).Warn().Str("key", key).Str("value", val).Msg("ignoring invalid tier threshold")
				continue
			}
			t.MinLifetime = n
		} else {
			m, err := decimal.NewFromString(val)
			if err != nil || !m.IsPositive() {
				logger(ctx).Warn().Str("key", key).Str("value", val).Msg("ignoring invalid tier multiplier")
				continue
			}
			t.Multiplier = m
		}
	}

	out := make([]domain.Tier, 0, len(order))
	for _, name := range order {
		// a tier only known through a multiplier key has no threshold
		if t := byName[name]; t.MinLifetime >= 0 {
			out = append(out, *t)
		}
	}
	return out, nil
}

// ParseTiers builds a tier table from "name:min" thresholds and optional
// "name:multiplier" pairs, both comma separated.
func ParseTiers(thresholds, multipliers string) ([]domain.Tier, error) {
	mult := map[string]decimal.Decimal{}
	for _, pair := range splitPairs(multipliers) {
		m, err := decimal.NewFromString(pair[1])
		if err != nil || !m.IsPositive() {
			return nil, ErrValidation
		}
		mult[pair[0]] = m
	}
	var out []domain.Tier
	for _, pair := range splitPairs(thresholds) {
		n, err := strconv.ParseInt(pair[1], 10, 64)
		if err != nil || n < 0 {
			return nil, ErrValidation
		}
		m, ok := mult[pair[0]]
		if !ok {
			m = decimal.NewFromInt(1)
		}
		out = append(out, domain.Tier{Name: pair[0], MinLifetime: n, Multiplier: m})
	}
	return out, nil
}

func splitPairs(s string) [][2]string {
	var out [][2]string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, ":")
		if !ok {
			out = append(out, [2]string{strings.TrimSpace(part), ""})
			continue
		}
		out = append(out, [2]string{strings.TrimSpace(k), strings.TrimSpace(v)})
	}
	return out
}
