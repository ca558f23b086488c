// Package badge evaluates unlock criteria against user aggregates and
// records badge unlocks exactly once.
package badge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/progression-engine/internal/domain"
	"github.com/progression-engine/internal/store"
)

// Evaluator holds the badge registry and checks criteria whenever a
// matching trigger fires. Criteria are monotonic functions of monotonic
// state, so repeated evaluation can never unlock a badge twice, and the
// store-level conditional insert enforces it even under retries.
type Evaluator struct {
	registry []domain.Badge
	logger   *slog.Logger
}

// NewEvaluator creates an evaluator pre-loaded with the default
// registry.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{registry: defaultRegistry(), logger: logger}
}

// Registry returns a copy of all registered badges.
func (e *Evaluator) Registry() []domain.Badge {
	out := make([]domain.Badge, len(e.registry))
	copy(out, e.registry)
	return out
}

// Get returns a badge template by ID.
func (e *Evaluator) Get(badgeID string) (domain.Badge, error) {
	for _, b := range e.registry {
		if b.ID == badgeID {
			return b, nil
		}
	}
	return domain.Badge{}, fmt.Errorf("badge %q: %w", badgeID, domain.ErrBadgeNotFound)
}

// Evaluate checks every badge whose trigger is in triggers against the
// user's current aggregates and records any new unlocks. Already
// unlocked badges are never re-evaluated.
func (e *Evaluator) Evaluate(ctx context.Context, s store.Store, u *domain.User, triggers map[domain.BadgeTrigger]bool) ([]domain.UserBadge, error) {
	if len(triggers) == 0 {
		return nil, nil
	}

	owned, err := s.ListUserBadges(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("listing user badges: %w", err)
	}
	ownedSet := make(map[string]bool, len(owned))
	for _, ub := range owned {
		ownedSet[ub.BadgeID] = true
	}

	agg, err := e.aggregates(ctx, s, u)
	if err != nil {
		return nil, err
	}

	var unlocked []domain.UserBadge
	for _, b := range e.registry {
		if !triggers[b.Trigger] || ownedSet[b.ID] {
			continue
		}
		if !b.Met(agg) {
			continue
		}

		ub := domain.UserBadge{
			UserID:     u.ID,
			BadgeID:    b.ID,
			UnlockedAt: time.Now(),
		}
		created, err := s.InsertUserBadge(ctx, ub)
		if err != nil {
			return nil, fmt.Errorf("recording badge unlock: %w", err)
		}
		if !created {
			continue
		}

		unlocked = append(unlocked, ub)
		e.logger.Info("badge unlocked", "user_id", u.ID, "badge_id", b.ID, "tier", string(b.Tier))
	}
	return unlocked, nil
}

func (e *Evaluator) aggregates(ctx context.Context, s store.Store, u *domain.User) (domain.UserAggregates, error) {
	agg := domain.UserAggregates{
		TotalXP: u.TotalXP,
		Level:   u.Level,
	}

	quests, err := s.CountCompletedQuests(ctx, u.ID)
	if err != nil {
		return agg, fmt.Errorf("counting completed quests: %w", err)
	}
	agg.QuestsCompleted = quests

	skills, err := s.CountUnlockedSkills(ctx, u.ID)
	if err != nil {
		return agg, fmt.Errorf("counting unlocked skills: %w", err)
	}
	agg.SkillsUnlocked = skills

	return agg, nil
}
