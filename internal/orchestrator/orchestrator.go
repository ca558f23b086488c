// Package orchestrator applies inbound progression actions: it routes
// each action through the ledger, quest, skill tree and badge engines
// in a single per-user store scope and assembles the consolidated
// result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/progression-engine/internal/badge"
	"github.com/progression-engine/internal/config"
	"github.com/progression-engine/internal/domain"
	"github.com/progression-engine/internal/ledger"
	"github.com/progression-engine/internal/level"
	"github.com/progression-engine/internal/quest"
	"github.com/progression-engine/internal/redis"
	"github.com/progression-engine/internal/skilltree"
	"github.com/progression-engine/internal/store"
	"github.com/progression-engine/internal/websocket"
)

// Orchestrator is the single entry point for progression mutations.
// All engines run inside one store.WithUser scope per action, so every
// write of an action commits atomically and concurrent actions for the
// same user are serialized.
type Orchestrator struct {
	store    store.Store
	cfg      *config.ProgressionConfig
	resolver *level.Resolver
	ledger   *ledger.Ledger
	quests   *quest.Engine
	skills   *skilltree.Engine
	badges   *badge.Evaluator
	logger   *slog.Logger

	hub         *websocket.Hub
	leaderboard *redis.LeaderboardService
}

// New creates an orchestrator with engines built from the progression
// configuration.
func New(s store.Store, cfg *config.ProgressionConfig, logger *slog.Logger) (*Orchestrator, error) {
	resolver, err := level.NewResolver(cfg.LevelThresholds)
	if err != nil {
		return nil, fmt.Errorf("building level resolver: %w", err)
	}

	return &Orchestrator{
		store:    s,
		cfg:      cfg,
		resolver: resolver,
		ledger:   ledger.New(logger),
		quests:   quest.NewEngine(logger),
		skills:   skilltree.NewEngine(logger),
		badges:   badge.NewEvaluator(logger),
		logger:   logger,
	}, nil
}

// SetHub attaches the WebSocket hub for progression broadcasts.
func (o *Orchestrator) SetHub(hub *websocket.Hub) {
	o.hub = hub
}

// SetLeaderboard attaches the Redis leaderboard projection.
func (o *Orchestrator) SetLeaderboard(lb *redis.LeaderboardService) {
	o.leaderboard = lb
}

// Store exposes the underlying store for read-only handlers.
func (o *Orchestrator) Store() store.Store {
	return o.store
}

// Resolver exposes the level resolver for read-only handlers.
func (o *Orchestrator) Resolver() *level.Resolver {
	return o.resolver
}

// Badges exposes the badge evaluator's registry.
func (o *Orchestrator) Badges() *badge.Evaluator {
	return o.badges
}

// Quests exposes the quest engine for read-only handlers.
func (o *Orchestrator) Quests() *quest.Engine {
	return o.quests
}

// Skills exposes the skill tree engine for read-only handlers.
func (o *Orchestrator) Skills() *skilltree.Engine {
	return o.skills
}

// ApplyAction validates and applies one progression action. Unknown
// action kinds are rejected. When the store reports a version conflict
// the whole action is retried once against fresh state; a second
// conflict is surfaced to the caller.
func (o *Orchestrator) ApplyAction(ctx context.Context, action *domain.Action) (*domain.ProgressionResult, error) {
	if action.UserID == "" {
		return nil, fmt.Errorf("action without user_id: %w", domain.ErrInvalidRequest)
	}
	switch action.Kind {
	case domain.ActionQuizCompleted, domain.ActionLessonCompleted,
		domain.ActionQuestObjective, domain.ActionSkillPractice,
		domain.ActionDailyLogin, domain.ActionCodeReviewSubmitted:
	default:
		return nil, fmt.Errorf("action kind %q: %w", action.Kind, domain.ErrUnknownActionKind)
	}

	result, err := o.applyOnce(ctx, action)
	if errors.Is(err, domain.ErrStoreConflict) {
		o.logger.Warn("version conflict applying action, retrying",
			"user_id", action.UserID,
			"action_kind", string(action.Kind),
		)
		result, err = o.applyOnce(ctx, action)
	}
	if err != nil {
		return nil, err
	}

	o.publish(ctx, result)
	return result, nil
}

func (o *Orchestrator) applyOnce(ctx context.Context, action *domain.Action) (*domain.ProgressionResult, error) {
	var result *domain.ProgressionResult
	err := o.store.WithUser(ctx, action.UserID, func(ctx context.Context, s store.Store) error {
		r, err := o.apply(ctx, s, action)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// apply runs inside the per-user store scope.
func (o *Orchestrator) apply(ctx context.Context, s store.Store, action *domain.Action) (*domain.ProgressionResult, error) {
	u, err := s.GetUser(ctx, action.UserID)
	if err != nil {
		return nil, err
	}

	result := &domain.ProgressionResult{UserID: u.ID}

	// Delivery is at-least-once from Kafka; the idempotency key makes
	// application at-most-once, so the combination is exactly-once.
	if action.IdempotencyKey != "" {
		first, err := s.MarkActionApplied(ctx, u.ID, action.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("recording idempotency key: %w", err)
		}
		if !first {
			info := o.resolver.Resolve(u.TotalXP)
			result.Duplicate = true
			result.TotalXP = u.TotalXP
			result.Level = u.Level
			result.XPIntoLevel = info.XPIntoLevel
			result.XPForNextLevel = info.XPForNextLevel
			o.logger.Debug("duplicate action skipped",
				"user_id", u.ID,
				"idempotency_key", action.IdempotencyKey,
			)
			return result, nil
		}
	}

	xpBefore := u.TotalXP

	switch action.Kind {
	case domain.ActionQuizCompleted, domain.ActionLessonCompleted,
		domain.ActionDailyLogin, domain.ActionCodeReviewSubmitted:
		if err := o.applyFlatXP(ctx, s, u, action); err != nil {
			return nil, err
		}
		completions, err := o.quests.AdvanceByTargetType(ctx, s, o.ledger, u, targetTypeFor(action.Kind), 1)
		if err != nil {
			return nil, err
		}
		result.CompletedQuests = completions

	case domain.ActionQuestObjective:
		if action.QuestID == "" || action.ObjectiveID == "" {
			return nil, fmt.Errorf("quest_objective action requires quest_id and objective_id: %w", domain.ErrInvalidRequest)
		}
		delta := action.Amount
		if delta == 0 {
			delta = 1
		}
		advance, err := o.quests.AdvanceObjective(ctx, s, o.ledger, u, action.QuestID, action.ObjectiveID, delta)
		if err != nil {
			return nil, err
		}
		if advance.Completion != nil {
			result.CompletedQuests = append(result.CompletedQuests, *advance.Completion)
		}

	case domain.ActionSkillPractice:
		if action.NodeID == "" {
			return nil, fmt.Errorf("skill_practice action requires node_id: %w", domain.ErrInvalidRequest)
		}
		amount := action.Amount
		if amount == 0 {
			amount = 1
		}
		// Practice validates the node and path, so it runs before the XP
		// award: a rejected action must leave no XP event behind.
		practice, err := o.skills.RecordPractice(ctx, s, u, action.NodeID, amount)
		if err != nil {
			return nil, err
		}
		result.Progress = practice

		if err := o.applyFlatXP(ctx, s, u, action); err != nil {
			return nil, err
		}

		completions, err := o.quests.AdvanceByTargetType(ctx, s, o.ledger, u, targetTypeFor(action.Kind), 1)
		if err != nil {
			return nil, err
		}
		result.CompletedQuests = completions
	}

	result.XPAwarded = u.TotalXP - xpBefore

	recomp := o.resolver.Recompute(u.Level, u.TotalXP)
	result.TotalXP = u.TotalXP
	result.Level = recomp.Info.Level
	result.LeveledUp = recomp.LeveledUp
	result.PreviousLevel = recomp.PreviousLevel
	result.XPIntoLevel = recomp.Info.XPIntoLevel
	result.XPForNextLevel = recomp.Info.XPForNextLevel

	if err := s.UpdateUserProgress(ctx, u.ID, u.TotalXP, recomp.Info.Level, u.Version); err != nil {
		return nil, err
	}
	u.Level = recomp.Info.Level

	unlocked, err := o.badges.Evaluate(ctx, s, u, o.triggersFor(result))
	if err != nil {
		return nil, err
	}
	result.UnlockedBadges = unlocked

	o.logger.Info("action applied",
		"user_id", u.ID,
		"action_kind", string(action.Kind),
		"xp_awarded", result.XPAwarded,
		"total_xp", result.TotalXP,
		"level", result.Level,
		"leveled_up", result.LeveledUp,
	)
	return result, nil
}

// applyFlatXP awards the policy's flat XP for the action kind, if any.
func (o *Orchestrator) applyFlatXP(ctx context.Context, s store.Store, u *domain.User, action *domain.Action) error {
	award := o.cfg.AwardFor(action.Kind)
	if award <= 0 {
		return nil
	}
	if _, err := o.ledger.Append(ctx, s, u, award, action.Kind, action.Metadata); err != nil {
		return err
	}
	return nil
}

// triggersFor derives badge triggers from what the action changed.
func (o *Orchestrator) triggersFor(result *domain.ProgressionResult) map[domain.BadgeTrigger]bool {
	triggers := make(map[domain.BadgeTrigger]bool, 3)
	if result.XPAwarded > 0 {
		triggers[domain.TriggerXPChange] = true
	}
	if len(result.CompletedQuests) > 0 {
		triggers[domain.TriggerQuestCompleted] = true
	}
	if result.Progress != nil && len(result.Progress.UnlockedNodes) > 0 {
		triggers[domain.TriggerSkillUnlocked] = true
	}
	return triggers
}

// targetTypeFor maps an action kind to the objective target type it
// advances.
func targetTypeFor(kind domain.ActionKind) string {
	switch kind {
	case domain.ActionQuizCompleted:
		return "quiz"
	case domain.ActionLessonCompleted:
		return "lesson"
	case domain.ActionCodeReviewSubmitted:
		return "code_review"
	case domain.ActionDailyLogin:
		return "login"
	case domain.ActionSkillPractice:
		return "practice"
	default:
		return ""
	}
}

// publish projects the result to Redis and the WebSocket hub. Both are
// best-effort: the durable state is already committed.
func (o *Orchestrator) publish(ctx context.Context, result *domain.ProgressionResult) {
	if result.Duplicate {
		return
	}

	if o.leaderboard != nil && result.XPAwarded > 0 {
		if err := o.leaderboard.SetScore(ctx, redis.ScopeGlobal, result.UserID, result.TotalXP); err != nil {
			o.logger.Error("updating global leaderboard", "user_id", result.UserID, "error", err)
		}
		if u, err := o.store.GetUser(ctx, result.UserID); err == nil && u.SkillPath != "" {
			if err := o.leaderboard.SetScore(ctx, redis.ScopePath(u.SkillPath), result.UserID, result.TotalXP); err != nil {
				o.logger.Error("updating path leaderboard", "user_id", result.UserID, "error", err)
			}
		}
	}

	if o.hub != nil {
		o.hub.BroadcastProgression(result)
	}
}

// StartQuest transitions a quest to active for the user within a
// per-user store scope.
func (o *Orchestrator) StartQuest(ctx context.Context, userID, questID string) (*domain.UserQuest, error) {
	var uq *domain.UserQuest
	err := o.store.WithUser(ctx, userID, func(ctx context.Context, s store.Store) error {
		u, err := s.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		uq, err = o.quests.Start(ctx, s, u, questID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return uq, nil
}

// ChooseSkillPath sets the user's active skill path. Switching away
// from a path keeps its accumulated progress; practice just cannot
// target it until it is chosen again.
func (o *Orchestrator) ChooseSkillPath(ctx context.Context, userID, pathID string) error {
	return o.store.WithUser(ctx, userID, func(ctx context.Context, s store.Store) error {
		u, err := s.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if _, err := s.GetSkillPath(ctx, pathID); err != nil {
			return err
		}
		return s.SetUserSkillPath(ctx, u.ID, pathID)
	})
}

// Snapshot assembles a read-only view of the user's progression.
func (o *Orchestrator) Snapshot(ctx context.Context, userID string) (*domain.ProgressionSnapshot, error) {
	u, err := o.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	info := o.resolver.Resolve(u.TotalXP)

	quests, err := o.store.ListUserQuests(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing user quests: %w", err)
	}
	badges, err := o.store.ListUserBadges(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing user badges: %w", err)
	}
	skills, err := o.skills.PathProgress(ctx, o.store, u)
	if err != nil {
		return nil, err
	}

	return &domain.ProgressionSnapshot{
		User:   *u,
		Info:   info,
		Quests: quests,
		Skills: skills,
		Badges: badges,
	}, nil
}
