// Package content seeds the starter quest and skill path catalog.
// Seeding is insert-if-absent so restarts never clobber live data.
package content

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/progression-engine/internal/domain"
	"github.com/progression-engine/internal/store"
)

// SeedDefaults installs the built-in quests and skill paths.
func SeedDefaults(ctx context.Context, s store.Store, logger *slog.Logger) error {
	for _, q := range defaultQuests() {
		if err := s.CreateQuest(ctx, q); err != nil {
			return fmt.Errorf("seeding quest %q: %w", q.ID, err)
		}
	}

	for _, p := range defaultPaths() {
		if err := s.CreateSkillPath(ctx, p); err != nil {
			return fmt.Errorf("seeding skill path %q: %w", p.ID, err)
		}
	}
	for _, n := range defaultNodes() {
		if err := s.CreateSkillNode(ctx, n); err != nil {
			return fmt.Errorf("seeding skill node %q: %w", n.ID, err)
		}
	}

	logger.Info("default content seeded")
	return nil
}

func defaultQuests() []domain.Quest {
	return []domain.Quest{
		{
			ID:          "intro_to_learning",
			Name:        "Intro to Learning",
			Description: "Finish your first quiz and your first lesson",
			Type:        domain.QuestTypeOnboarding,
			XPReward:    100,
			Objectives: []domain.Objective{
				{ID: "first_quiz", Description: "Complete a quiz", TargetType: "quiz", TargetValue: 1},
				{ID: "first_lesson", Description: "Complete a lesson", TargetType: "lesson", TargetValue: 1},
			},
		},
		{
			ID:          "daily_warmup",
			Name:        "Daily Warm-up",
			Description: "Log in and complete a quiz today",
			Type:        domain.QuestTypeDaily,
			XPReward:    25,
			Objectives: []domain.Objective{
				{ID: "login", Description: "Log in", TargetType: "login", TargetValue: 1},
				{ID: "one_quiz", Description: "Complete a quiz", TargetType: "quiz", TargetValue: 1},
			},
		},
		{
			ID:            "quiz_marathon",
			Name:          "Quiz Marathon",
			Description:   "Complete ten quizzes in a week",
			Type:          domain.QuestTypeWeekly,
			XPReward:      200,
			RequiredLevel: 2,
			Objectives: []domain.Objective{
				{ID: "ten_quizzes", Description: "Complete 10 quizzes", TargetType: "quiz", TargetValue: 10},
			},
		},
		{
			ID:            "reviewer_in_training",
			Name:          "Reviewer in Training",
			Description:   "Submit five code reviews, with extra credit for practice",
			Type:          domain.QuestTypeMastery,
			XPReward:      300,
			RequiredLevel: 3,
			Objectives: []domain.Objective{
				{ID: "five_reviews", Description: "Submit 5 code reviews", TargetType: "code_review", TargetValue: 5},
				{ID: "bonus_practice", Description: "Practice 20 times", TargetType: "practice", TargetValue: 20, Optional: true},
			},
		},
	}
}

func defaultPaths() []domain.SkillPath {
	return []domain.SkillPath{
		{ID: "backend", Name: "Backend Engineering", Description: "Servers, data stores and APIs"},
		{ID: "frontend", Name: "Frontend Engineering", Description: "Interfaces and interaction"},
	}
}

func defaultNodes() []domain.SkillNode {
	return []domain.SkillNode{
		// Backend path: http-basics gates rest-apis, which gates the rest.
		{ID: "http-basics", PathID: "backend", Name: "HTTP Basics", Threshold: 50},
		{ID: "rest-apis", PathID: "backend", Name: "REST APIs", Threshold: 80, Prereqs: []string{"http-basics"}},
		{ID: "sql-fundamentals", PathID: "backend", Name: "SQL Fundamentals", Threshold: 60, Prereqs: []string{"http-basics"}},
		{ID: "message-queues", PathID: "backend", Name: "Message Queues", Threshold: 100, Prereqs: []string{"rest-apis", "sql-fundamentals"}},

		// Frontend path
		{ID: "html-css", PathID: "frontend", Name: "HTML & CSS", Threshold: 50},
		{ID: "javascript", PathID: "frontend", Name: "JavaScript", Threshold: 80, Prereqs: []string{"html-css"}},
		{ID: "component-design", PathID: "frontend", Name: "Component Design", Threshold: 100, Prereqs: []string{"javascript"}},
	}
}
