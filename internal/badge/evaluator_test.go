package badge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/progression-engine/internal/domain"
	"github.com/progression-engine/internal/store"
)

func newTestEvaluator(t *testing.T) (*Evaluator, *store.MemStore, *domain.User) {
	t.Helper()
	s := store.NewMemStore()
	u := &domain.User{ID: "u1", Username: "tester", Level: 1}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	return NewEvaluator(slog.New(slog.NewTextHandler(io.Discard, nil))), s, u
}

func TestEvaluateXPMilestone(t *testing.T) {
	eval, s, u := newTestEvaluator(t)
	u.TotalXP = 150

	unlocked, err := eval.Evaluate(context.Background(), s, u, map[domain.BadgeTrigger]bool{
		domain.TriggerXPChange: true,
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(unlocked) != 1 {
		t.Fatalf("len(unlocked) = %d, want 1", len(unlocked))
	}
	if unlocked[0].BadgeID != "first_steps" {
		t.Errorf("unlocked badge = %q, want first_steps", unlocked[0].BadgeID)
	}
}

func TestEvaluateNeverUnlocksTwice(t *testing.T) {
	eval, s, u := newTestEvaluator(t)
	u.TotalXP = 150
	ctx := context.Background()
	triggers := map[domain.BadgeTrigger]bool{domain.TriggerXPChange: true}

	if _, err := eval.Evaluate(ctx, s, u, triggers); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	unlocked, err := eval.Evaluate(ctx, s, u, triggers)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(unlocked) != 0 {
		t.Errorf("re-evaluation unlocked %v, want none", unlocked)
	}

	owned, err := s.ListUserBadges(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListUserBadges() error = %v", err)
	}
	if len(owned) != 1 {
		t.Errorf("len(owned) = %d, want 1", len(owned))
	}
}

func TestEvaluateQuestTrigger(t *testing.T) {
	eval, s, u := newTestEvaluator(t)
	ctx := context.Background()

	now := time.Now()
	uq := &domain.UserQuest{
		UserID:      u.ID,
		QuestID:     "q1",
		Status:      domain.QuestCompleted,
		StartedAt:   now,
		CompletedAt: &now,
		UpdatedAt:   now,
	}
	if err := s.PutUserQuest(ctx, uq); err != nil {
		t.Fatalf("PutUserQuest() error = %v", err)
	}

	unlocked, err := eval.Evaluate(ctx, s, u, map[domain.BadgeTrigger]bool{
		domain.TriggerQuestCompleted: true,
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(unlocked) != 1 || unlocked[0].BadgeID != "quest_novice" {
		t.Errorf("unlocked = %v, want quest_novice only", unlocked)
	}
}

func TestEvaluateIgnoresUnmatchedTriggers(t *testing.T) {
	eval, s, u := newTestEvaluator(t)
	u.TotalXP = 150

	// XP milestone is met, but only the skill trigger fired.
	unlocked, err := eval.Evaluate(context.Background(), s, u, map[domain.BadgeTrigger]bool{
		domain.TriggerSkillUnlocked: true,
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(unlocked) != 0 {
		t.Errorf("unlocked = %v, want none", unlocked)
	}
}

func TestEvaluateNoTriggers(t *testing.T) {
	eval, s, u := newTestEvaluator(t)
	u.TotalXP = 150

	unlocked, err := eval.Evaluate(context.Background(), s, u, nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if unlocked != nil {
		t.Errorf("Evaluate(nil triggers) = %v, want nil", unlocked)
	}
}

func TestGetUnknownBadge(t *testing.T) {
	eval, _, _ := newTestEvaluator(t)
	_, err := eval.Get("nope")
	if !errors.Is(err, domain.ErrBadgeNotFound) {
		t.Errorf("Get(nope) error = %v, want ErrBadgeNotFound", err)
	}
}

func TestRegistryIsACopy(t *testing.T) {
	eval, _, _ := newTestEvaluator(t)
	reg := eval.Registry()
	if len(reg) == 0 {
		t.Fatal("Registry() is empty")
	}
	reg[0].ID = "mutated"
	if eval.registry[0].ID == "mutated" {
		t.Error("mutating the returned registry changed internal state")
	}
}
