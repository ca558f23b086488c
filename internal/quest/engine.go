// Package quest implements the per-(user, quest) state machine:
// available -> active -> completed, with monotonic objective progress
// and at-most-once reward delivery.
package quest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/progression-engine/internal/domain"
	"github.com/progression-engine/internal/ledger"
	"github.com/progression-engine/internal/store"
)

// Engine drives quest state transitions. It never mutates user quest
// rows outside the store handle it is given, so callers control the
// transactional scope.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates a quest engine.
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{logger: logger}
}

// AdvanceResult reports the outcome of advancing one or more quest
// objectives.
type AdvanceResult struct {
	UserQuest  *domain.UserQuest
	Completion *domain.QuestCompletion // non-nil when this call completed the quest
}

// Start transitions a quest from available to active for the user.
// It is rejected with ErrInvalidTransition if the quest was already
// started or the user's level is below the quest's requirement.
func (e *Engine) Start(ctx context.Context, s store.Store, u *domain.User, questID string) (*domain.UserQuest, error) {
	q, err := s.GetQuest(ctx, questID)
	if err != nil {
		return nil, err
	}

	existing, err := s.GetUserQuest(ctx, u.ID, questID)
	if err != nil {
		return nil, fmt.Errorf("loading user quest: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("quest %q already %s: %w", questID, existing.Status, domain.ErrInvalidTransition)
	}

	if u.Level < q.RequiredLevel {
		return nil, fmt.Errorf("quest %q requires level %d, user is level %d: %w",
			questID, q.RequiredLevel, u.Level, domain.ErrInvalidTransition)
	}

	uq := &domain.UserQuest{
		UserID:     u.ID,
		QuestID:    questID,
		Status:     domain.QuestActive,
		Objectives: make([]domain.ObjectiveProgress, len(q.Objectives)),
		StartedAt:  time.Now(),
	}
	for i, obj := range q.Objectives {
		uq.Objectives[i] = domain.ObjectiveProgress{
			ObjectiveID: obj.ID,
			Progress:    0,
			Target:      obj.TargetValue,
			Optional:    obj.Optional,
		}
	}

	if err := s.PutUserQuest(ctx, uq); err != nil {
		return nil, fmt.Errorf("storing user quest: %w", err)
	}

	e.logger.Info("quest started", "user_id", u.ID, "quest_id", questID)
	return uq, nil
}

// AdvanceObjective increments an objective of an active quest by delta
// (capped at the objective's target). When all non-optional objectives
// reach their targets the quest transitions to completed and the XP
// reward is granted through the ledger exactly once.
//
// Advancing a quest that is already completed is a benign no-op: the
// unchanged state is returned and no reward is re-triggered. Negative
// deltas and advances on never-started quests are rejected with
// ErrInvalidTransition.
func (e *Engine) AdvanceObjective(ctx context.Context, s store.Store, led *ledger.Ledger, u *domain.User, questID, objectiveID string, delta int64) (*AdvanceResult, error) {
	if delta < 0 {
		return nil, fmt.Errorf("objective progress cannot decrease (delta %d): %w", delta, domain.ErrInvalidTransition)
	}

	q, err := s.GetQuest(ctx, questID)
	if err != nil {
		return nil, err
	}

	uq, err := s.GetUserQuest(ctx, u.ID, questID)
	if err != nil {
		return nil, fmt.Errorf("loading user quest: %w", err)
	}
	if uq == nil {
		return nil, fmt.Errorf("quest %q has not been started: %w", questID, domain.ErrInvalidTransition)
	}

	if uq.Status == domain.QuestCompleted {
		// Terminal state; duplicate progress events are not fatal.
		return &AdvanceResult{UserQuest: uq}, nil
	}

	op := uq.FindObjective(objectiveID)
	if op == nil {
		return nil, fmt.Errorf("objective %q in quest %q: %w", objectiveID, questID, domain.ErrObjectiveNotFound)
	}

	op.Progress = min(op.Progress+delta, op.Target)

	result := &AdvanceResult{UserQuest: uq}
	if uq.ObjectivesMet() && !uq.RewardGranted {
		completion, err := e.complete(ctx, s, led, u, q, uq)
		if err != nil {
			return nil, err
		}
		result.Completion = completion
	}

	if err := s.PutUserQuest(ctx, uq); err != nil {
		return nil, fmt.Errorf("storing user quest: %w", err)
	}
	return result, nil
}

// AdvanceByTargetType advances every matching objective of every active
// quest the user has. This is the consolidated entry point for implicit
// quest progress (quiz completions, lessons, practice) so no feature
// needs its own side channel into quest state.
func (e *Engine) AdvanceByTargetType(ctx context.Context, s store.Store, led *ledger.Ledger, u *domain.User, targetType string, delta int64) ([]domain.QuestCompletion, error) {
	if delta <= 0 {
		return nil, nil
	}

	active, err := s.ListActiveUserQuests(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("listing active quests: %w", err)
	}

	var completions []domain.QuestCompletion
	for i := range active {
		uq := &active[i]
		q, err := s.GetQuest(ctx, uq.QuestID)
		if err != nil {
			return nil, err
		}

		advanced := false
		for _, obj := range q.Objectives {
			if obj.TargetType != targetType {
				continue
			}
			op := uq.FindObjective(obj.ID)
			if op == nil {
				continue
			}
			op.Progress = min(op.Progress+delta, op.Target)
			advanced = true
		}
		if !advanced {
			continue
		}

		if uq.ObjectivesMet() && !uq.RewardGranted {
			completion, err := e.complete(ctx, s, led, u, q, uq)
			if err != nil {
				return nil, err
			}
			completions = append(completions, *completion)
		}

		if err := s.PutUserQuest(ctx, uq); err != nil {
			return nil, fmt.Errorf("storing user quest: %w", err)
		}
	}
	return completions, nil
}

// complete marks the quest completed and grants its reward. The
// RewardGranted flag is the at-most-once guard: callers only invoke
// complete when it is still false, and it flips in the same store
// scope as the reward event.
func (e *Engine) complete(ctx context.Context, s store.Store, led *ledger.Ledger, u *domain.User, q *domain.Quest, uq *domain.UserQuest) (*domain.QuestCompletion, error) {
	now := time.Now()
	uq.Status = domain.QuestCompleted
	uq.CompletedAt = &now
	uq.RewardGranted = true

	if q.XPReward > 0 {
		meta := map[string]any{"quest_id": q.ID}
		if _, err := led.Append(ctx, s, u, q.XPReward, domain.ActionQuestReward, meta); err != nil {
			return nil, fmt.Errorf("granting quest reward: %w", err)
		}
	}

	e.logger.Info("quest completed",
		"user_id", u.ID,
		"quest_id", q.ID,
		"xp_reward", q.XPReward,
	)
	return &domain.QuestCompletion{
		QuestID:  q.ID,
		Name:     q.Name,
		XPReward: q.XPReward,
	}, nil
}

// Available lists quest templates the user can start right now: level
// requirement met and not already started.
func (e *Engine) Available(ctx context.Context, s store.Store, u *domain.User) ([]domain.Quest, error) {
	all, err := s.ListQuests(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing quests: %w", err)
	}

	var available []domain.Quest
	for _, q := range all {
		if u.Level < q.RequiredLevel {
			continue
		}
		uq, err := s.GetUserQuest(ctx, u.ID, q.ID)
		if err != nil {
			return nil, fmt.Errorf("loading user quest: %w", err)
		}
		if uq == nil {
			available = append(available, q)
		}
	}
	return available, nil
}
