package domain

import "time"

// ActionKind identifies the kind of progression-relevant user action.
// The set is closed: the orchestrator dispatches exhaustively and
// rejects unknown kinds rather than silently ignoring them.
type ActionKind string

const (
	ActionQuizCompleted       ActionKind = "quiz_completed"
	ActionLessonCompleted     ActionKind = "lesson_completed"
	ActionQuestObjective      ActionKind = "quest_objective"
	ActionSkillPractice       ActionKind = "skill_practice"
	ActionDailyLogin          ActionKind = "daily_login"
	ActionCodeReviewSubmitted ActionKind = "code_review_submitted"

	// ActionQuestReward is the kind recorded on XP events created by the
	// quest engine when a quest completes. It is not accepted as an
	// inbound action.
	ActionQuestReward ActionKind = "quest_reward"
)

// XPEvent is an immutable record of XP earned by a user. Total XP for a
// user equals the sum of all event amounts; the cached User.TotalXP is
// an optimization, never a separate source of truth.
type XPEvent struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Amount    int64          `json:"amount"`
	Kind      ActionKind     `json:"action_kind"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// LevelInfo describes a user's position within the level curve.
type LevelInfo struct {
	Level          int   `json:"level"`
	XPIntoLevel    int64 `json:"xp_into_level"`
	XPForNextLevel int64 `json:"xp_for_next_level"` // 0 at the top level
}

// Action is an inbound progression event from one of the action
// sources (quiz subsystem, quest triggers, skill practice).
type Action struct {
	UserID         string         `json:"user_id"`
	Kind           ActionKind     `json:"kind"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	QuestID        string         `json:"quest_id,omitempty"`
	ObjectiveID    string         `json:"objective_id,omitempty"`
	NodeID         string         `json:"node_id,omitempty"`
	Amount         int64          `json:"amount,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ProgressionResult is the consolidated outcome of one applied action,
// handed to the presentation layer as-is.
type ProgressionResult struct {
	UserID          string            `json:"user_id"`
	Duplicate       bool              `json:"duplicate,omitempty"`
	XPAwarded       int64             `json:"xp_awarded"`
	TotalXP         int64             `json:"total_xp"`
	Level           int               `json:"level"`
	LeveledUp       bool              `json:"leveled_up"`
	PreviousLevel   int               `json:"previous_level,omitempty"`
	XPIntoLevel     int64             `json:"xp_into_level"`
	XPForNextLevel  int64             `json:"xp_for_next_level"`
	CompletedQuests []QuestCompletion `json:"completed_quests,omitempty"`
	Progress        *PracticeResult   `json:"skill_progress,omitempty"`
	UnlockedBadges  []UserBadge       `json:"unlocked_badges,omitempty"`
}

// QuestCompletion reports a quest that transitioned to completed during
// an action, with the reward that was granted for it.
type QuestCompletion struct {
	QuestID  string `json:"quest_id"`
	Name     string `json:"name"`
	XPReward int64  `json:"xp_reward"`
}

// ProgressionSnapshot is a read-only view of everything a user has
// earned so far.
type ProgressionSnapshot struct {
	User   User                `json:"user"`
	Info   LevelInfo           `json:"level_info"`
	Quests []UserQuest         `json:"quests,omitempty"`
	Skills []UserSkillProgress `json:"skills,omitempty"`
	Badges []UserBadge         `json:"badges,omitempty"`
}

// PracticeResult reports the outcome of a skill practice event.
type PracticeResult struct {
	NodeID        string   `json:"node_id"`
	Progress      int64    `json:"progress"`
	Target        int64    `json:"target"`
	UnlockedNodes []string `json:"unlocked_nodes,omitempty"`
}
