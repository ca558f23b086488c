package quest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/progression-engine/internal/domain"
	"github.com/progression-engine/internal/ledger"
	"github.com/progression-engine/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSetup(t *testing.T) (*Engine, *ledger.Ledger, *store.MemStore, *domain.User) {
	t.Helper()
	s := store.NewMemStore()
	u := &domain.User{ID: "u1", Username: "tester", Level: 1}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	return NewEngine(discardLogger()), ledger.New(discardLogger()), s, u
}

func seedQuest(t *testing.T, s *store.MemStore, q domain.Quest) {
	t.Helper()
	if err := s.CreateQuest(context.Background(), q); err != nil {
		t.Fatalf("CreateQuest(%q) error = %v", q.ID, err)
	}
}

func introQuest() domain.Quest {
	return domain.Quest{
		ID:       "intro",
		Name:     "Intro",
		Type:     domain.QuestTypeOnboarding,
		XPReward: 100,
		Objectives: []domain.Objective{
			{ID: "obj_quiz", TargetType: "quiz", TargetValue: 1},
			{ID: "obj_lesson", TargetType: "lesson", TargetValue: 1},
		},
	}
}

func TestStartCreatesActiveQuest(t *testing.T) {
	eng, _, s, u := newTestSetup(t)
	seedQuest(t, s, introQuest())

	uq, err := eng.Start(context.Background(), s, u, "intro")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if uq.Status != domain.QuestActive {
		t.Errorf("Status = %q, want %q", uq.Status, domain.QuestActive)
	}
	if len(uq.Objectives) != 2 {
		t.Fatalf("len(Objectives) = %d, want 2", len(uq.Objectives))
	}
	for _, op := range uq.Objectives {
		if op.Progress != 0 {
			t.Errorf("objective %q Progress = %d, want 0", op.ObjectiveID, op.Progress)
		}
	}
}

func TestStartUnknownQuest(t *testing.T) {
	eng, _, s, u := newTestSetup(t)
	if _, err := eng.Start(context.Background(), s, u, "missing"); !errors.Is(err, domain.ErrQuestNotFound) {
		t.Errorf("Start(missing) error = %v, want ErrQuestNotFound", err)
	}
}

func TestStartRejectsRestart(t *testing.T) {
	eng, _, s, u := newTestSetup(t)
	seedQuest(t, s, introQuest())
	ctx := context.Background()

	if _, err := eng.Start(ctx, s, u, "intro"); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	if _, err := eng.Start(ctx, s, u, "intro"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("second Start() error = %v, want ErrInvalidTransition", err)
	}
}

func TestStartEnforcesLevelGate(t *testing.T) {
	eng, _, s, u := newTestSetup(t)
	q := introQuest()
	q.ID = "gated"
	q.RequiredLevel = 3
	seedQuest(t, s, q)

	if _, err := eng.Start(context.Background(), s, u, "gated"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Start(gated) at level 1 error = %v, want ErrInvalidTransition", err)
	}
}

func TestAdvanceObjectiveRejectsNegativeDelta(t *testing.T) {
	eng, led, s, u := newTestSetup(t)
	seedQuest(t, s, introQuest())
	ctx := context.Background()
	if _, err := eng.Start(ctx, s, u, "intro"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	_, err := eng.AdvanceObjective(ctx, s, led, u, "intro", "obj_quiz", -1)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("AdvanceObjective(delta=-1) error = %v, want ErrInvalidTransition", err)
	}
}

func TestAdvanceObjectiveRequiresStart(t *testing.T) {
	eng, led, s, u := newTestSetup(t)
	seedQuest(t, s, introQuest())

	_, err := eng.AdvanceObjective(context.Background(), s, led, u, "intro", "obj_quiz", 1)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("AdvanceObjective before Start error = %v, want ErrInvalidTransition", err)
	}
}

func TestAdvanceObjectiveUnknownObjective(t *testing.T) {
	eng, led, s, u := newTestSetup(t)
	seedQuest(t, s, introQuest())
	ctx := context.Background()
	if _, err := eng.Start(ctx, s, u, "intro"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	_, err := eng.AdvanceObjective(ctx, s, led, u, "intro", "nope", 1)
	if !errors.Is(err, domain.ErrObjectiveNotFound) {
		t.Errorf("AdvanceObjective(unknown) error = %v, want ErrObjectiveNotFound", err)
	}
}

func TestAdvanceObjectiveCapsAtTarget(t *testing.T) {
	eng, led, s, u := newTestSetup(t)
	q := domain.Quest{
		ID:       "grind",
		Name:     "Grind",
		XPReward: 50,
		Objectives: []domain.Objective{
			{ID: "count", TargetType: "quiz", TargetValue: 5},
			{ID: "other", TargetType: "lesson", TargetValue: 1},
		},
	}
	seedQuest(t, s, q)
	ctx := context.Background()
	if _, err := eng.Start(ctx, s, u, "grind"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	res, err := eng.AdvanceObjective(ctx, s, led, u, "grind", "count", 100)
	if err != nil {
		t.Fatalf("AdvanceObjective() error = %v", err)
	}
	op := res.UserQuest.FindObjective("count")
	if op.Progress != 5 {
		t.Errorf("Progress = %d, want capped at 5", op.Progress)
	}
	if res.Completion != nil {
		t.Error("quest completed with an unmet objective remaining")
	}
}

func TestQuestCompletesWhenAllObjectivesMet(t *testing.T) {
	eng, led, s, u := newTestSetup(t)
	seedQuest(t, s, introQuest())
	ctx := context.Background()
	if _, err := eng.Start(ctx, s, u, "intro"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	res, err := eng.AdvanceObjective(ctx, s, led, u, "intro", "obj_quiz", 1)
	if err != nil {
		t.Fatalf("AdvanceObjective(quiz) error = %v", err)
	}
	if res.Completion != nil {
		t.Fatal("quest completed after one of two objectives")
	}
	if u.TotalXP != 0 {
		t.Fatalf("TotalXP = %d before completion, want 0", u.TotalXP)
	}

	res, err = eng.AdvanceObjective(ctx, s, led, u, "intro", "obj_lesson", 1)
	if err != nil {
		t.Fatalf("AdvanceObjective(lesson) error = %v", err)
	}
	if res.Completion == nil {
		t.Fatal("quest did not complete with all objectives met")
	}
	if res.Completion.XPReward != 100 {
		t.Errorf("Completion.XPReward = %d, want 100", res.Completion.XPReward)
	}
	if res.UserQuest.Status != domain.QuestCompleted {
		t.Errorf("Status = %q, want %q", res.UserQuest.Status, domain.QuestCompleted)
	}
	if u.TotalXP != 100 {
		t.Errorf("TotalXP = %d after completion, want 100", u.TotalXP)
	}
}

func TestOptionalObjectivesDoNotBlockCompletion(t *testing.T) {
	eng, led, s, u := newTestSetup(t)
	q := domain.Quest{
		ID:       "bonus",
		Name:     "Bonus",
		XPReward: 40,
		Objectives: []domain.Objective{
			{ID: "required", TargetType: "quiz", TargetValue: 1},
			{ID: "extra", TargetType: "practice", TargetValue: 10, Optional: true},
		},
	}
	seedQuest(t, s, q)
	ctx := context.Background()
	if _, err := eng.Start(ctx, s, u, "bonus"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	res, err := eng.AdvanceObjective(ctx, s, led, u, "bonus", "required", 1)
	if err != nil {
		t.Fatalf("AdvanceObjective() error = %v", err)
	}
	if res.Completion == nil {
		t.Error("quest did not complete with only the optional objective unmet")
	}
}

func TestCompletedQuestAdvanceIsBenignNoOp(t *testing.T) {
	eng, led, s, u := newTestSetup(t)
	seedQuest(t, s, introQuest())
	ctx := context.Background()
	if _, err := eng.Start(ctx, s, u, "intro"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := eng.AdvanceObjective(ctx, s, led, u, "intro", "obj_quiz", 1); err != nil {
		t.Fatalf("AdvanceObjective(quiz) error = %v", err)
	}
	if _, err := eng.AdvanceObjective(ctx, s, led, u, "intro", "obj_lesson", 1); err != nil {
		t.Fatalf("AdvanceObjective(lesson) error = %v", err)
	}
	xpAfterCompletion := u.TotalXP

	// Duplicate progress events after completion must not fail and must
	// not re-grant the reward.
	res, err := eng.AdvanceObjective(ctx, s, led, u, "intro", "obj_quiz", 1)
	if err != nil {
		t.Fatalf("AdvanceObjective after completion error = %v", err)
	}
	if res.Completion != nil {
		t.Error("completed quest reported a second completion")
	}
	if u.TotalXP != xpAfterCompletion {
		t.Errorf("TotalXP = %d after duplicate advance, want %d", u.TotalXP, xpAfterCompletion)
	}
}

func TestAdvanceByTargetTypeSweepsActiveQuests(t *testing.T) {
	eng, led, s, u := newTestSetup(t)
	seedQuest(t, s, introQuest())
	q2 := domain.Quest{
		ID:       "marathon",
		Name:     "Marathon",
		XPReward: 200,
		Objectives: []domain.Objective{
			{ID: "quizzes", TargetType: "quiz", TargetValue: 3},
		},
	}
	seedQuest(t, s, q2)
	ctx := context.Background()
	if _, err := eng.Start(ctx, s, u, "intro"); err != nil {
		t.Fatalf("Start(intro) error = %v", err)
	}
	if _, err := eng.Start(ctx, s, u, "marathon"); err != nil {
		t.Fatalf("Start(marathon) error = %v", err)
	}

	completions, err := eng.AdvanceByTargetType(ctx, s, led, u, "quiz", 1)
	if err != nil {
		t.Fatalf("AdvanceByTargetType() error = %v", err)
	}
	if len(completions) != 0 {
		t.Fatalf("completions = %d, want 0", len(completions))
	}

	intro, err := s.GetUserQuest(ctx, u.ID, "intro")
	if err != nil {
		t.Fatalf("GetUserQuest(intro) error = %v", err)
	}
	if got := intro.FindObjective("obj_quiz").Progress; got != 1 {
		t.Errorf("intro quiz progress = %d, want 1", got)
	}
	marathon, err := s.GetUserQuest(ctx, u.ID, "marathon")
	if err != nil {
		t.Fatalf("GetUserQuest(marathon) error = %v", err)
	}
	if got := marathon.FindObjective("quizzes").Progress; got != 1 {
		t.Errorf("marathon quiz progress = %d, want 1", got)
	}

	// Two more quizzes complete the marathon quest.
	if _, err := eng.AdvanceByTargetType(ctx, s, led, u, "quiz", 1); err != nil {
		t.Fatalf("AdvanceByTargetType() error = %v", err)
	}
	completions, err = eng.AdvanceByTargetType(ctx, s, led, u, "quiz", 1)
	if err != nil {
		t.Fatalf("AdvanceByTargetType() error = %v", err)
	}
	if len(completions) != 1 || completions[0].QuestID != "marathon" {
		t.Fatalf("completions = %+v, want marathon completed", completions)
	}
	if u.TotalXP != 200 {
		t.Errorf("TotalXP = %d, want 200", u.TotalXP)
	}
}

func TestAvailableFiltersStartedAndGated(t *testing.T) {
	eng, _, s, u := newTestSetup(t)
	seedQuest(t, s, introQuest())
	gated := introQuest()
	gated.ID = "gated"
	gated.RequiredLevel = 5
	seedQuest(t, s, gated)
	ctx := context.Background()

	available, err := eng.Available(ctx, s, u)
	if err != nil {
		t.Fatalf("Available() error = %v", err)
	}
	if len(available) != 1 || available[0].ID != "intro" {
		t.Fatalf("Available() = %+v, want [intro]", available)
	}

	if _, err := eng.Start(ctx, s, u, "intro"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	available, err = eng.Available(ctx, s, u)
	if err != nil {
		t.Fatalf("Available() error = %v", err)
	}
	if len(available) != 0 {
		t.Fatalf("Available() after start = %+v, want empty", available)
	}
}
