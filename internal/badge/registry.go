package badge

import "github.com/progression-engine/internal/domain"

func defaultRegistry() []domain.Badge {
	return []domain.Badge{

		// XP milestones

		{
			ID: "first_steps", Name: "First Steps",
			Description: "Earn your first 100 XP",
			Tier:        domain.TierBronze,
			Trigger:     domain.TriggerXPChange,
			Requirement: domain.RequireTotalXP, Threshold: 100,
		},
		{
			ID: "dedicated_learner", Name: "Dedicated Learner",
			Description: "Earn 1,000 XP",
			Tier:        domain.TierSilver,
			Trigger:     domain.TriggerXPChange,
			Requirement: domain.RequireTotalXP, Threshold: 1000,
		},
		{
			ID: "knowledge_seeker", Name: "Knowledge Seeker",
			Description: "Earn 5,000 XP",
			Tier:        domain.TierGold,
			Trigger:     domain.TriggerXPChange,
			Requirement: domain.RequireTotalXP, Threshold: 5000,
		},
		{
			ID: "grandmaster", Name: "Grandmaster",
			Description: "Reach the top of the level curve",
			Tier:        domain.TierPlatinum,
			Trigger:     domain.TriggerXPChange,
			Requirement: domain.RequireLevel, Threshold: 10,
			Title: true,
		},
		{
			ID: "rising_star", Name: "Rising Star",
			Description: "Reach level 5",
			Tier:        domain.TierSilver,
			Trigger:     domain.TriggerXPChange,
			Requirement: domain.RequireLevel, Threshold: 5,
			Title: true,
		},

		// Quest completions

		{
			ID: "quest_novice", Name: "Quest Novice",
			Description: "Complete your first quest",
			Tier:        domain.TierBronze,
			Trigger:     domain.TriggerQuestCompleted,
			Requirement: domain.RequireQuestsCompleted, Threshold: 1,
		},
		{
			ID: "quest_adept", Name: "Quest Adept",
			Description: "Complete 10 quests",
			Tier:        domain.TierSilver,
			Trigger:     domain.TriggerQuestCompleted,
			Requirement: domain.RequireQuestsCompleted, Threshold: 10,
		},
		{
			ID: "quest_legend", Name: "Quest Legend",
			Description: "Complete 50 quests",
			Tier:        domain.TierGold,
			Trigger:     domain.TriggerQuestCompleted,
			Requirement: domain.RequireQuestsCompleted, Threshold: 50,
			Title: true,
		},

		// Skill mastery

		{
			ID: "skill_spark", Name: "Skill Spark",
			Description: "Unlock your first skill node",
			Tier:        domain.TierBronze,
			Trigger:     domain.TriggerSkillUnlocked,
			Requirement: domain.RequireSkillsUnlocked, Threshold: 1,
		},
		{
			ID: "branching_out", Name: "Branching Out",
			Description: "Unlock 5 skill nodes",
			Tier:        domain.TierSilver,
			Trigger:     domain.TriggerSkillUnlocked,
			Requirement: domain.RequireSkillsUnlocked, Threshold: 5,
		},
		{
			ID: "tree_topper", Name: "Tree Topper",
			Description: "Unlock 15 skill nodes",
			Tier:        domain.TierGold,
			Trigger:     domain.TriggerSkillUnlocked,
			Requirement: domain.RequireSkillsUnlocked, Threshold: 15,
			Title: true,
		},
	}
}
