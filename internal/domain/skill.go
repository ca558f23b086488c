package domain

import "time"

// SkillPath is a chosen specialization holding a prerequisite graph of
// skill nodes. A user practices nodes only within their active path.
type SkillPath struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SkillNode belongs to exactly one path. Prereqs reference node IDs in
// the same path; Threshold is the practice total required before the
// node can unlock.
type SkillNode struct {
	ID        string    `json:"id"`
	PathID    string    `json:"path_id"`
	Name      string    `json:"name"`
	Threshold int64     `json:"threshold"`
	Prereqs   []string  `json:"prereqs,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UserSkillProgress tracks a user's practice against one node.
// Progress is monotonically non-decreasing and capped at Target.
type UserSkillProgress struct {
	UserID     string     `json:"user_id"`
	NodeID     string     `json:"node_id"`
	PathID     string     `json:"path_id"`
	Progress   int64      `json:"progress"`
	Target     int64      `json:"target"`
	UnlockedAt *time.Time `json:"unlocked_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Unlocked reports whether the node has been unlocked.
func (p *UserSkillProgress) Unlocked() bool {
	return p.UnlockedAt != nil
}
