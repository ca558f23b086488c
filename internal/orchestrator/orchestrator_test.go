package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/progression-engine/internal/config"
	"github.com/progression-engine/internal/domain"
	"github.com/progression-engine/internal/store"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.MemStore, *domain.User) {
	t.Helper()
	s := store.NewMemStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	orch, err := New(s, &config.DefaultConfig().Progression, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	u := &domain.User{ID: "u1", Username: "tester", Level: 1}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	return orch, s, u
}

func TestApplyActionAwardsPolicyXP(t *testing.T) {
	orch, s, _ := newTestOrchestrator(t)

	res, err := orch.ApplyAction(context.Background(), &domain.Action{
		UserID: "u1",
		Kind:   domain.ActionQuizCompleted,
	})
	if err != nil {
		t.Fatalf("ApplyAction() error = %v", err)
	}
	if res.XPAwarded != 50 {
		t.Errorf("XPAwarded = %d, want 50", res.XPAwarded)
	}
	if res.TotalXP != 50 {
		t.Errorf("TotalXP = %d, want 50", res.TotalXP)
	}
	if res.Level != 1 || res.LeveledUp {
		t.Errorf("Level/LeveledUp = %d/%v, want 1/false", res.Level, res.LeveledUp)
	}

	u, err := s.GetUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if u.TotalXP != 50 {
		t.Errorf("persisted TotalXP = %d, want 50", u.TotalXP)
	}
}

func TestApplyActionLevelsUpAtBoundary(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	if _, err := orch.ApplyAction(ctx, &domain.Action{UserID: "u1", Kind: domain.ActionQuizCompleted}); err != nil {
		t.Fatalf("ApplyAction() error = %v", err)
	}
	res, err := orch.ApplyAction(ctx, &domain.Action{UserID: "u1", Kind: domain.ActionQuizCompleted})
	if err != nil {
		t.Fatalf("ApplyAction() error = %v", err)
	}

	// 100 XP crosses the first threshold.
	if res.TotalXP != 100 {
		t.Fatalf("TotalXP = %d, want 100", res.TotalXP)
	}
	if !res.LeveledUp || res.Level != 2 || res.PreviousLevel != 1 {
		t.Errorf("level transition = %d->%d leveledUp=%v, want 1->2 true",
			res.PreviousLevel, res.Level, res.LeveledUp)
	}
}

func TestApplyActionRejectsUnknownKind(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)

	_, err := orch.ApplyAction(context.Background(), &domain.Action{UserID: "u1", Kind: "teleported"})
	if !errors.Is(err, domain.ErrUnknownActionKind) {
		t.Errorf("ApplyAction(teleported) error = %v, want ErrUnknownActionKind", err)
	}
}

func TestApplyActionRejectsMissingUser(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)

	_, err := orch.ApplyAction(context.Background(), &domain.Action{UserID: "ghost", Kind: domain.ActionQuizCompleted})
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("ApplyAction(ghost) error = %v, want ErrUserNotFound", err)
	}
}

func TestApplyActionIdempotency(t *testing.T) {
	orch, s, _ := newTestOrchestrator(t)
	ctx := context.Background()

	action := &domain.Action{
		UserID:         "u1",
		Kind:           domain.ActionQuizCompleted,
		IdempotencyKey: "req-1",
	}

	first, err := orch.ApplyAction(ctx, action)
	if err != nil {
		t.Fatalf("ApplyAction() error = %v", err)
	}
	if first.Duplicate {
		t.Fatal("first application flagged as duplicate")
	}

	second, err := orch.ApplyAction(ctx, action)
	if err != nil {
		t.Fatalf("ApplyAction() redelivery error = %v", err)
	}
	if !second.Duplicate {
		t.Error("redelivery not flagged as duplicate")
	}
	if second.XPAwarded != 0 {
		t.Errorf("redelivery XPAwarded = %d, want 0", second.XPAwarded)
	}

	u, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if u.TotalXP != 50 {
		t.Errorf("TotalXP after redelivery = %d, want 50", u.TotalXP)
	}
}

func TestQuestFlowThroughActions(t *testing.T) {
	orch, s, _ := newTestOrchestrator(t)
	ctx := context.Background()

	err := s.CreateQuest(ctx, domain.Quest{
		ID: "starter", Name: "Starter", Type: domain.QuestTypeOnboarding, XPReward: 100,
		Objectives: []domain.Objective{
			{ID: "one_quiz", TargetType: "quiz", TargetValue: 1},
			{ID: "one_lesson", TargetType: "lesson", TargetValue: 1},
		},
	})
	if err != nil {
		t.Fatalf("CreateQuest() error = %v", err)
	}

	uq, err := orch.StartQuest(ctx, "u1", "starter")
	if err != nil {
		t.Fatalf("StartQuest() error = %v", err)
	}
	if uq.Status != domain.QuestActive {
		t.Fatalf("quest status = %q, want active", uq.Status)
	}

	if _, err := orch.ApplyAction(ctx, &domain.Action{UserID: "u1", Kind: domain.ActionQuizCompleted}); err != nil {
		t.Fatalf("ApplyAction(quiz) error = %v", err)
	}

	res, err := orch.ApplyAction(ctx, &domain.Action{UserID: "u1", Kind: domain.ActionLessonCompleted})
	if err != nil {
		t.Fatalf("ApplyAction(lesson) error = %v", err)
	}
	if len(res.CompletedQuests) != 1 || res.CompletedQuests[0].QuestID != "starter" {
		t.Fatalf("CompletedQuests = %v, want starter", res.CompletedQuests)
	}

	// 50 quiz + 30 lesson + 100 reward
	if res.TotalXP != 180 {
		t.Errorf("TotalXP = %d, want 180", res.TotalXP)
	}
	if res.XPAwarded != 130 {
		t.Errorf("lesson action XPAwarded = %d, want 130 (flat + quest reward)", res.XPAwarded)
	}
}

func TestSkillPracticeFlow(t *testing.T) {
	orch, s, _ := newTestOrchestrator(t)
	ctx := context.Background()

	if err := s.CreateSkillPath(ctx, domain.SkillPath{ID: "backend", Name: "Backend"}); err != nil {
		t.Fatalf("CreateSkillPath() error = %v", err)
	}
	if err := s.CreateSkillNode(ctx, domain.SkillNode{ID: "http-basics", PathID: "backend", Name: "HTTP", Threshold: 2}); err != nil {
		t.Fatalf("CreateSkillNode() error = %v", err)
	}

	if err := orch.ChooseSkillPath(ctx, "u1", "backend"); err != nil {
		t.Fatalf("ChooseSkillPath() error = %v", err)
	}

	res, err := orch.ApplyAction(ctx, &domain.Action{
		UserID: "u1",
		Kind:   domain.ActionSkillPractice,
		NodeID: "http-basics",
		Amount: 2,
	})
	if err != nil {
		t.Fatalf("ApplyAction(skill_practice) error = %v", err)
	}
	if res.XPAwarded != 10 {
		t.Errorf("XPAwarded = %d, want 10", res.XPAwarded)
	}
	if res.Progress == nil {
		t.Fatal("Progress is nil")
	}
	if len(res.Progress.UnlockedNodes) != 1 || res.Progress.UnlockedNodes[0] != "http-basics" {
		t.Errorf("UnlockedNodes = %v, want [http-basics]", res.Progress.UnlockedNodes)
	}

	// First skill unlock earns the corresponding badge.
	found := false
	for _, b := range res.UnlockedBadges {
		if b.BadgeID == "skill_spark" {
			found = true
		}
	}
	if !found {
		t.Errorf("UnlockedBadges = %v, want skill_spark", res.UnlockedBadges)
	}
}

func TestRejectedSkillPracticeLeavesNoTrace(t *testing.T) {
	orch, s, _ := newTestOrchestrator(t)
	ctx := context.Background()

	if err := s.CreateSkillPath(ctx, domain.SkillPath{ID: "backend", Name: "Backend"}); err != nil {
		t.Fatalf("CreateSkillPath() error = %v", err)
	}
	if err := s.CreateSkillNode(ctx, domain.SkillNode{ID: "http-basics", PathID: "backend", Name: "HTTP", Threshold: 5}); err != nil {
		t.Fatalf("CreateSkillNode() error = %v", err)
	}

	// No skill path chosen: practice is rejected.
	_, err := orch.ApplyAction(ctx, &domain.Action{
		UserID: "u1",
		Kind:   domain.ActionSkillPractice,
		NodeID: "http-basics",
	})
	if !errors.Is(err, domain.ErrPathMismatch) {
		t.Fatalf("ApplyAction() error = %v, want ErrPathMismatch", err)
	}

	// A failed action must not be partially applied.
	sum, err := s.SumXP(ctx, "u1")
	if err != nil {
		t.Fatalf("SumXP() error = %v", err)
	}
	if sum != 0 {
		t.Errorf("event log sum after rejected action = %d, want 0", sum)
	}
	u, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if u.TotalXP != 0 {
		t.Errorf("TotalXP after rejected action = %d, want 0", u.TotalXP)
	}

	// Unknown nodes are rejected the same way.
	_, err = orch.ApplyAction(ctx, &domain.Action{
		UserID: "u1",
		Kind:   domain.ActionSkillPractice,
		NodeID: "missing",
	})
	if !errors.Is(err, domain.ErrNodeNotFound) {
		t.Fatalf("ApplyAction(missing node) error = %v, want ErrNodeNotFound", err)
	}
	if sum, err := s.SumXP(ctx, "u1"); err != nil || sum != 0 {
		t.Errorf("SumXP() = %d, %v after rejected action, want 0, nil", sum, err)
	}
}

func TestSkillPracticeRequiresNodeID(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)

	_, err := orch.ApplyAction(context.Background(), &domain.Action{
		UserID: "u1",
		Kind:   domain.ActionSkillPractice,
	})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("ApplyAction without node_id error = %v, want ErrInvalidRequest", err)
	}
}

func TestChooseSkillPathRejectsUnknownPath(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)

	err := orch.ChooseSkillPath(context.Background(), "u1", "nope")
	if !errors.Is(err, domain.ErrPathNotFound) {
		t.Errorf("ChooseSkillPath(nope) error = %v, want ErrPathNotFound", err)
	}
}

func TestBadgeUnlockInResult(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	var last *domain.ProgressionResult
	for i := 0; i < 2; i++ {
		res, err := orch.ApplyAction(ctx, &domain.Action{UserID: "u1", Kind: domain.ActionQuizCompleted})
		if err != nil {
			t.Fatalf("ApplyAction() error = %v", err)
		}
		last = res
	}

	// 100 XP crosses the first_steps milestone.
	if len(last.UnlockedBadges) != 1 || last.UnlockedBadges[0].BadgeID != "first_steps" {
		t.Errorf("UnlockedBadges = %v, want [first_steps]", last.UnlockedBadges)
	}
}

func TestSnapshot(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	if _, err := orch.ApplyAction(ctx, &domain.Action{UserID: "u1", Kind: domain.ActionQuizCompleted}); err != nil {
		t.Fatalf("ApplyAction() error = %v", err)
	}

	snap, err := orch.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.User.TotalXP != 50 {
		t.Errorf("snapshot TotalXP = %d, want 50", snap.User.TotalXP)
	}
	if snap.Info.Level != 1 || snap.Info.XPIntoLevel != 50 {
		t.Errorf("snapshot level info = %+v, want level 1 with 50 into level", snap.Info)
	}
}

func TestConcurrentActionsLoseNoUpdates(t *testing.T) {
	orch, s, _ := newTestOrchestrator(t)
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := orch.ApplyAction(ctx, &domain.Action{UserID: "u1", Kind: domain.ActionQuizCompleted})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent ApplyAction() error = %v", err)
		}
	}

	u, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if u.TotalXP != n*50 {
		t.Errorf("TotalXP = %d, want %d", u.TotalXP, n*50)
	}

	sum, err := s.SumXP(ctx, "u1")
	if err != nil {
		t.Fatalf("SumXP() error = %v", err)
	}
	if sum != u.TotalXP {
		t.Errorf("event log sum = %d, cached total = %d; want equal", sum, u.TotalXP)
	}
}
