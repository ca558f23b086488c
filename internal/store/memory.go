package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/progression-engine/internal/domain"
)

// MemStore is a mutex-guarded in-memory Store. It backs the test
// harness and the -store=memory development mode. Per-user exclusivity
// is a keyed mutex; unlike the Postgres store there is no rollback, so
// WithUser offers serialization but not atomicity on failure.
type MemStore struct {
	mu sync.RWMutex

	users      map[string]*domain.User
	events     map[string][]domain.XPEvent
	quests     map[string]domain.Quest
	userQuests map[string]map[string]*domain.UserQuest
	paths      map[string]domain.SkillPath
	nodes      map[string]domain.SkillNode
	skills     map[string]map[string]*domain.UserSkillProgress
	badges     map[string]map[string]domain.UserBadge
	applied    map[string]map[string]bool

	lockMu    sync.Mutex
	userLocks map[string]*sync.Mutex
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		users:      make(map[string]*domain.User),
		events:     make(map[string][]domain.XPEvent),
		quests:     make(map[string]domain.Quest),
		userQuests: make(map[string]map[string]*domain.UserQuest),
		paths:      make(map[string]domain.SkillPath),
		nodes:      make(map[string]domain.SkillNode),
		skills:     make(map[string]map[string]*domain.UserSkillProgress),
		badges:     make(map[string]map[string]domain.UserBadge),
		applied:    make(map[string]map[string]bool),
		userLocks:  make(map[string]*sync.Mutex),
	}
}

func (m *MemStore) userLock(userID string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.userLocks[userID] = l
	}
	return l
}

// WithUser serializes mutating work per user via a keyed mutex.
func (m *MemStore) WithUser(ctx context.Context, userID string, fn func(ctx context.Context, s Store) error) error {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()
	return fn(ctx, m)
}

func cloneUser(u *domain.User) *domain.User {
	cp := *u
	return &cp
}

// GetUser returns a copy of the stored user.
func (m *MemStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return cloneUser(u), nil
}

// CreateUser stores a new user record.
func (m *MemStore) CreateUser(ctx context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = cp.CreatedAt
	m.users[u.ID] = &cp
	return nil
}

// UpdateUserProgress applies the cached totals if the version matches.
func (m *MemStore) UpdateUserProgress(ctx context.Context, userID string, totalXP int64, level int, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	if u.Version != expectedVersion {
		return domain.ErrStoreConflict
	}
	u.TotalXP = totalXP
	u.Level = level
	u.Version++
	u.UpdatedAt = time.Now()
	return nil
}

// SetUserSkillPath sets the user's active skill path.
func (m *MemStore) SetUserSkillPath(ctx context.Context, userID, pathID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.SkillPath = pathID
	u.UpdatedAt = time.Now()
	return nil
}

// ListUserIDs returns all user IDs in stable order.
func (m *MemStore) ListUserIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// AppendXPEvent appends to the user's immutable event log.
func (m *MemStore) AppendXPEvent(ctx context.Context, ev domain.XPEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.UserID] = append(m.events[ev.UserID], ev)
	return nil
}

// SumXP sums all event amounts for the user.
func (m *MemStore) SumXP(ctx context.Context, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, ev := range m.events[userID] {
		total += ev.Amount
	}
	return total, nil
}

// GetQuest returns a quest template.
func (m *MemStore) GetQuest(ctx context.Context, questID string) (*domain.Quest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quests[questID]
	if !ok {
		return nil, domain.ErrQuestNotFound
	}
	cp := q
	cp.Objectives = append([]domain.Objective(nil), q.Objectives...)
	return &cp, nil
}

// ListQuests returns all quest templates in stable order.
func (m *MemStore) ListQuests(ctx context.Context) ([]domain.Quest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Quest, 0, len(m.quests))
	for _, q := range m.quests {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateQuest stores a quest template.
func (m *MemStore) CreateQuest(ctx context.Context, q domain.Quest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	m.quests[q.ID] = q
	return nil
}

func cloneUserQuest(uq *domain.UserQuest) *domain.UserQuest {
	cp := *uq
	cp.Objectives = append([]domain.ObjectiveProgress(nil), uq.Objectives...)
	if uq.CompletedAt != nil {
		t := *uq.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// GetUserQuest returns the user's quest state, or (nil, nil) if the
// quest was never started.
func (m *MemStore) GetUserQuest(ctx context.Context, userID, questID string) (*domain.UserQuest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	uq, ok := m.userQuests[userID][questID]
	if !ok {
		return nil, nil
	}
	return cloneUserQuest(uq), nil
}

// PutUserQuest upserts the user's quest state.
func (m *MemStore) PutUserQuest(ctx context.Context, uq *domain.UserQuest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userQuests[uq.UserID] == nil {
		m.userQuests[uq.UserID] = make(map[string]*domain.UserQuest)
	}
	cp := cloneUserQuest(uq)
	cp.UpdatedAt = time.Now()
	m.userQuests[uq.UserID][uq.QuestID] = cp
	return nil
}

// ListUserQuests returns all quest states for the user.
func (m *MemStore) ListUserQuests(ctx context.Context, userID string) ([]domain.UserQuest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.UserQuest, 0, len(m.userQuests[userID]))
	for _, uq := range m.userQuests[userID] {
		out = append(out, *cloneUserQuest(uq))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestID < out[j].QuestID })
	return out, nil
}

// ListActiveUserQuests returns the user's quests in the active state.
func (m *MemStore) ListActiveUserQuests(ctx context.Context, userID string) ([]domain.UserQuest, error) {
	all, err := m.ListUserQuests(ctx, userID)
	if err != nil {
		return nil, err
	}
	var active []domain.UserQuest
	for _, uq := range all {
		if uq.Status == domain.QuestActive {
			active = append(active, uq)
		}
	}
	return active, nil
}

// CountCompletedQuests counts the user's completed quests.
func (m *MemStore) CountCompletedQuests(ctx context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, uq := range m.userQuests[userID] {
		if uq.Status == domain.QuestCompleted {
			n++
		}
	}
	return n, nil
}

// GetSkillNode returns a skill node template.
func (m *MemStore) GetSkillNode(ctx context.Context, nodeID string) (*domain.SkillNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[nodeID]
	if !ok {
		return nil, domain.ErrNodeNotFound
	}
	cp := n
	cp.Prereqs = append([]string(nil), n.Prereqs...)
	return &cp, nil
}

// GetSkillPath returns a skill path template.
func (m *MemStore) GetSkillPath(ctx context.Context, pathID string) (*domain.SkillPath, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.paths[pathID]
	if !ok {
		return nil, domain.ErrPathNotFound
	}
	cp := p
	return &cp, nil
}

// ListSkillPaths returns all skill paths in stable order.
func (m *MemStore) ListSkillPaths(ctx context.Context) ([]domain.SkillPath, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.SkillPath, 0, len(m.paths))
	for _, p := range m.paths {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListPathNodes returns all nodes of a path in stable order.
func (m *MemStore) ListPathNodes(ctx context.Context, pathID string) ([]domain.SkillNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.SkillNode
	for _, n := range m.nodes {
		if n.PathID == pathID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateSkillPath stores a skill path.
func (m *MemStore) CreateSkillPath(ctx context.Context, p domain.SkillPath) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	m.paths[p.ID] = p
	return nil
}

// CreateSkillNode stores a skill node.
func (m *MemStore) CreateSkillNode(ctx context.Context, n domain.SkillNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	m.nodes[n.ID] = n
	return nil
}

func cloneSkillProgress(p *domain.UserSkillProgress) *domain.UserSkillProgress {
	cp := *p
	if p.UnlockedAt != nil {
		t := *p.UnlockedAt
		cp.UnlockedAt = &t
	}
	return &cp
}

// GetUserSkillProgress returns the user's progress on a node, or
// (nil, nil) if the node was never practiced.
func (m *MemStore) GetUserSkillProgress(ctx context.Context, userID, nodeID string) (*domain.UserSkillProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.skills[userID][nodeID]
	if !ok {
		return nil, nil
	}
	return cloneSkillProgress(p), nil
}

// PutUserSkillProgress upserts the user's node progress.
func (m *MemStore) PutUserSkillProgress(ctx context.Context, p *domain.UserSkillProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.skills[p.UserID] == nil {
		m.skills[p.UserID] = make(map[string]*domain.UserSkillProgress)
	}
	cp := cloneSkillProgress(p)
	cp.UpdatedAt = time.Now()
	m.skills[p.UserID][p.NodeID] = cp
	return nil
}

// ListUserSkillProgress returns the user's progress rows for a path.
func (m *MemStore) ListUserSkillProgress(ctx context.Context, userID, pathID string) ([]domain.UserSkillProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.UserSkillProgress
	for _, p := range m.skills[userID] {
		if p.PathID == pathID {
			out = append(out, *cloneSkillProgress(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

// CountUnlockedSkills counts the user's unlocked nodes across paths.
func (m *MemStore) CountUnlockedSkills(ctx context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.skills[userID] {
		if p.UnlockedAt != nil {
			n++
		}
	}
	return n, nil
}

// ListUserBadges returns the user's badge unlocks in stable order.
func (m *MemStore) ListUserBadges(ctx context.Context, userID string) ([]domain.UserBadge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.UserBadge, 0, len(m.badges[userID]))
	for _, ub := range m.badges[userID] {
		out = append(out, ub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BadgeID < out[j].BadgeID })
	return out, nil
}

// InsertUserBadge records an unlock once; repeated inserts are no-ops.
func (m *MemStore) InsertUserBadge(ctx context.Context, ub domain.UserBadge) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.badges[ub.UserID] == nil {
		m.badges[ub.UserID] = make(map[string]domain.UserBadge)
	}
	if _, exists := m.badges[ub.UserID][ub.BadgeID]; exists {
		return false, nil
	}
	m.badges[ub.UserID][ub.BadgeID] = ub
	return true, nil
}

// MarkActionApplied records an idempotency key, reporting first sight.
func (m *MemStore) MarkActionApplied(ctx context.Context, userID, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applied[userID] == nil {
		m.applied[userID] = make(map[string]bool)
	}
	if m.applied[userID][key] {
		return false, nil
	}
	m.applied[userID][key] = true
	return true, nil
}
