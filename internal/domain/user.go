package domain

import "time"

// User represents a learner in the system. TotalXP and Level are cached
// derivations of the XP event log; Version guards conditional updates.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	TotalXP   int64     `json:"total_xp"`
	Level     int       `json:"level"`
	SkillPath string    `json:"skill_path,omitempty"`
	Version   int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserInfo is a lightweight user information struct used for caching.
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// LeaderboardEntry is one ranked row of an XP leaderboard.
type LeaderboardEntry struct {
	Rank     int64  `json:"rank"`
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	Score    int64  `json:"score"`
}

// UserAggregates holds the monotonic counters badge criteria are
// evaluated against.
type UserAggregates struct {
	TotalXP         int64 `json:"total_xp"`
	Level           int   `json:"level"`
	QuestsCompleted int   `json:"quests_completed"`
	SkillsUnlocked  int   `json:"skills_unlocked"`
}
