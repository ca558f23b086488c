// Package store defines the durable-storage boundary of the
// progression engine. The Postgres implementation lives in
// internal/postgres; MemStore backs tests and the in-memory dev mode.
package store

import (
	"context"

	"github.com/progression-engine/internal/domain"
)

// Store is the persistence contract the engines operate through.
//
// Reads of per-user rows that do not exist yet (a quest the user never
// started, a node never practiced) return (nil, nil) rather than an
// error; missing templates return the typed not-found errors from the
// domain package.
type Store interface {
	// Users
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	CreateUser(ctx context.Context, u *domain.User) error
	// UpdateUserProgress writes the cached XP total and level. The
	// write is conditional on expectedVersion and returns
	// domain.ErrStoreConflict when another writer got there first.
	UpdateUserProgress(ctx context.Context, userID string, totalXP int64, level int, expectedVersion int64) error
	ListUserIDs(ctx context.Context) ([]string, error)
	SetUserSkillPath(ctx context.Context, userID, pathID string) error

	// XP events (append-only)
	AppendXPEvent(ctx context.Context, ev domain.XPEvent) error
	SumXP(ctx context.Context, userID string) (int64, error)

	// Quest templates and per-user quest state
	GetQuest(ctx context.Context, questID string) (*domain.Quest, error)
	ListQuests(ctx context.Context) ([]domain.Quest, error)
	CreateQuest(ctx context.Context, q domain.Quest) error
	GetUserQuest(ctx context.Context, userID, questID string) (*domain.UserQuest, error)
	PutUserQuest(ctx context.Context, uq *domain.UserQuest) error
	ListUserQuests(ctx context.Context, userID string) ([]domain.UserQuest, error)
	ListActiveUserQuests(ctx context.Context, userID string) ([]domain.UserQuest, error)
	CountCompletedQuests(ctx context.Context, userID string) (int, error)

	// Skill tree
	GetSkillNode(ctx context.Context, nodeID string) (*domain.SkillNode, error)
	GetSkillPath(ctx context.Context, pathID string) (*domain.SkillPath, error)
	ListSkillPaths(ctx context.Context) ([]domain.SkillPath, error)
	ListPathNodes(ctx context.Context, pathID string) ([]domain.SkillNode, error)
	CreateSkillPath(ctx context.Context, p domain.SkillPath) error
	CreateSkillNode(ctx context.Context, n domain.SkillNode) error
	GetUserSkillProgress(ctx context.Context, userID, nodeID string) (*domain.UserSkillProgress, error)
	PutUserSkillProgress(ctx context.Context, p *domain.UserSkillProgress) error
	ListUserSkillProgress(ctx context.Context, userID, pathID string) ([]domain.UserSkillProgress, error)
	CountUnlockedSkills(ctx context.Context, userID string) (int, error)

	// Badges. InsertUserBadge is conditional: it reports whether the
	// record was created, and never duplicates an existing unlock.
	ListUserBadges(ctx context.Context, userID string) ([]domain.UserBadge, error)
	InsertUserBadge(ctx context.Context, ub domain.UserBadge) (bool, error)

	// MarkActionApplied records an idempotency key and reports whether
	// it was seen for the first time.
	MarkActionApplied(ctx context.Context, userID, key string) (bool, error)

	// WithUser runs fn against a store view holding exclusive access to
	// the user's mutating state. All writes inside fn commit together
	// or not at all; concurrent WithUser calls for the same user are
	// serialized, while different users never block each other.
	WithUser(ctx context.Context, userID string, fn func(ctx context.Context, s Store) error) error
}
