package domain

import "time"

// QuestStatus is the per-user quest state. Transitions are monotonic:
// available -> active -> completed, with completed terminal.
type QuestStatus string

const (
	QuestAvailable QuestStatus = "available"
	QuestActive    QuestStatus = "active"
	QuestCompleted QuestStatus = "completed"
)

// QuestType groups quests in listings.
type QuestType string

const (
	QuestTypeOnboarding QuestType = "onboarding"
	QuestTypeDaily      QuestType = "daily"
	QuestTypeWeekly     QuestType = "weekly"
	QuestTypeMastery    QuestType = "mastery"
)

// Objective is a single measurable sub-goal within a quest template.
// TargetType names the counted event ("quiz", "lesson", "practice",
// "code_review", or a custom trigger advanced explicitly).
type Objective struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	TargetType  string `json:"target_type"`
	TargetValue int64  `json:"target_value"`
	Optional    bool   `json:"optional,omitempty"`
}

// Quest is an immutable quest template. Objectives are never redefined
// once the quest is published.
type Quest struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	Type          QuestType   `json:"quest_type"`
	XPReward      int64       `json:"xp_reward"`
	RequiredLevel int         `json:"required_level"`
	Objectives    []Objective `json:"objectives"`
	CreatedAt     time.Time   `json:"created_at"`
}

// ObjectiveProgress tracks one objective of a started quest.
type ObjectiveProgress struct {
	ObjectiveID string `json:"objective_id"`
	Progress    int64  `json:"progress"`
	Target      int64  `json:"target"`
	Optional    bool   `json:"optional,omitempty"`
}

// UserQuest is the per-(user, quest) state machine instance.
// RewardGranted guards the quest reward against double delivery.
type UserQuest struct {
	UserID        string              `json:"user_id"`
	QuestID       string              `json:"quest_id"`
	Status        QuestStatus         `json:"status"`
	Objectives    []ObjectiveProgress `json:"objectives"`
	RewardGranted bool                `json:"reward_granted"`
	StartedAt     time.Time           `json:"started_at"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// ObjectivesMet reports whether every non-optional objective has
// reached its target.
func (uq *UserQuest) ObjectivesMet() bool {
	for _, op := range uq.Objectives {
		if op.Optional {
			continue
		}
		if op.Progress < op.Target {
			return false
		}
	}
	return true
}

// FindObjective returns a pointer to the progress entry for the given
// objective ID, or nil if the quest has no such objective.
func (uq *UserQuest) FindObjective(objectiveID string) *ObjectiveProgress {
	for i := range uq.Objectives {
		if uq.Objectives[i].ObjectiveID == objectiveID {
			return &uq.Objectives[i]
		}
	}
	return nil
}
