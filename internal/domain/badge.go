package domain

import "time"

// BadgeTier represents a badge's difficulty level.
type BadgeTier string

const (
	TierBronze   BadgeTier = "bronze"
	TierSilver   BadgeTier = "silver"
	TierGold     BadgeTier = "gold"
	TierPlatinum BadgeTier = "platinum"
)

// BadgeTrigger names the category of change that can make a badge's
// criteria true. The evaluator only re-checks badges whose trigger
// matches the change just applied.
type BadgeTrigger string

const (
	TriggerXPChange       BadgeTrigger = "xp_change"
	TriggerQuestCompleted BadgeTrigger = "quest_completed"
	TriggerSkillUnlocked  BadgeTrigger = "skill_unlocked"
)

// BadgeRequirement is the closed set of aggregates a badge criteria can
// test. All are monotonic functions of monotonic state, which makes
// badge evaluation idempotent by construction.
type BadgeRequirement string

const (
	RequireTotalXP         BadgeRequirement = "total_xp"
	RequireLevel           BadgeRequirement = "level"
	RequireQuestsCompleted BadgeRequirement = "quests_completed"
	RequireSkillsUnlocked  BadgeRequirement = "skills_unlocked"
)

// Badge is an unlockable template. Title badges double as display
// titles in the presentation layer.
type Badge struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Tier        BadgeTier        `json:"tier"`
	Trigger     BadgeTrigger     `json:"trigger"`
	Requirement BadgeRequirement `json:"requirement"`
	Threshold   int64            `json:"threshold"`
	Title       bool             `json:"title,omitempty"`
}

// Met reports whether the badge's criteria hold for the given
// aggregates.
func (b Badge) Met(agg UserAggregates) bool {
	switch b.Requirement {
	case RequireTotalXP:
		return agg.TotalXP >= b.Threshold
	case RequireLevel:
		return int64(agg.Level) >= b.Threshold
	case RequireQuestsCompleted:
		return int64(agg.QuestsCompleted) >= b.Threshold
	case RequireSkillsUnlocked:
		return int64(agg.SkillsUnlocked) >= b.Threshold
	default:
		return false
	}
}

// UserBadge records a badge unlock. The record is written once and
// never revoked or re-evaluated.
type UserBadge struct {
	UserID     string    `json:"user_id"`
	BadgeID    string    `json:"badge_id"`
	UnlockedAt time.Time `json:"unlocked_at"`
}
