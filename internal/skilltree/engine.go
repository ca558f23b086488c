// Package skilltree tracks practice progress against skill nodes and
// unlocks them once their threshold and prerequisite gates are met.
package skilltree

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/progression-engine/internal/domain"
	"github.com/progression-engine/internal/store"
)

// Engine owns per-user skill progress. Unlocking is idempotent: a node
// that is already unlocked is never unlocked again.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates a skill tree engine.
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{logger: logger}
}

// RecordPractice adds practice points to a node in the user's active
// path, then re-evaluates unlocks across the whole path. Practice on a
// node outside the user's chosen path is rejected with ErrPathMismatch;
// negative amounts are rejected because progress is monotonic.
func (e *Engine) RecordPractice(ctx context.Context, s store.Store, u *domain.User, nodeID string, amount int64) (*domain.PracticeResult, error) {
	if amount < 0 {
		return nil, fmt.Errorf("practice progress cannot decrease (amount %d): %w", amount, domain.ErrInvalidTransition)
	}

	node, err := s.GetSkillNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if u.SkillPath == "" || node.PathID != u.SkillPath {
		return nil, fmt.Errorf("node %q belongs to path %q, user's path is %q: %w",
			nodeID, node.PathID, u.SkillPath, domain.ErrPathMismatch)
	}

	progress, err := s.GetUserSkillProgress(ctx, u.ID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("loading skill progress: %w", err)
	}
	if progress == nil {
		progress = &domain.UserSkillProgress{
			UserID: u.ID,
			NodeID: nodeID,
			PathID: node.PathID,
			Target: node.Threshold,
		}
	}

	progress.Progress = min(progress.Progress+amount, progress.Target)
	if err := s.PutUserSkillProgress(ctx, progress); err != nil {
		return nil, fmt.Errorf("storing skill progress: %w", err)
	}

	unlocked, err := e.evaluatePath(ctx, s, u, node.PathID)
	if err != nil {
		return nil, err
	}

	return &domain.PracticeResult{
		NodeID:        nodeID,
		Progress:      progress.Progress,
		Target:        progress.Target,
		UnlockedNodes: unlocked,
	}, nil
}

// evaluatePath unlocks every node in the path whose prerequisites are
// all unlocked and whose own threshold is met. One unlock can satisfy
// another node's prerequisite, so the sweep repeats until it reaches a
// fixpoint.
func (e *Engine) evaluatePath(ctx context.Context, s store.Store, u *domain.User, pathID string) ([]string, error) {
	nodes, err := s.ListPathNodes(ctx, pathID)
	if err != nil {
		return nil, fmt.Errorf("listing path nodes: %w", err)
	}

	rows, err := s.ListUserSkillProgress(ctx, u.ID, pathID)
	if err != nil {
		return nil, fmt.Errorf("listing skill progress: %w", err)
	}
	byNode := make(map[string]*domain.UserSkillProgress, len(rows))
	for i := range rows {
		byNode[rows[i].NodeID] = &rows[i]
	}

	var unlocked []string
	for {
		changed := false
		for _, node := range nodes {
			row := byNode[node.ID]
			if row != nil && row.Unlocked() {
				continue
			}

			var progress int64
			if row != nil {
				progress = row.Progress
			}
			if progress < node.Threshold {
				continue
			}
			if !e.prereqsUnlocked(node, byNode) {
				continue
			}

			if row == nil {
				row = &domain.UserSkillProgress{
					UserID: u.ID,
					NodeID: node.ID,
					PathID: pathID,
					Target: node.Threshold,
				}
				byNode[node.ID] = row
			}
			now := time.Now()
			row.UnlockedAt = &now
			if err := s.PutUserSkillProgress(ctx, row); err != nil {
				return nil, fmt.Errorf("storing unlock: %w", err)
			}

			unlocked = append(unlocked, node.ID)
			changed = true
			e.logger.Info("skill node unlocked", "user_id", u.ID, "node_id", node.ID, "path_id", pathID)
		}
		if !changed {
			return unlocked, nil
		}
	}
}

func (e *Engine) prereqsUnlocked(node domain.SkillNode, byNode map[string]*domain.UserSkillProgress) bool {
	for _, prereq := range node.Prereqs {
		row := byNode[prereq]
		if row == nil || !row.Unlocked() {
			return false
		}
	}
	return true
}

// PathProgress returns the user's progress rows for their active path,
// materializing zero-progress rows for nodes never practiced so the
// presentation layer sees the whole tree.
func (e *Engine) PathProgress(ctx context.Context, s store.Store, u *domain.User) ([]domain.UserSkillProgress, error) {
	if u.SkillPath == "" {
		return nil, nil
	}

	nodes, err := s.ListPathNodes(ctx, u.SkillPath)
	if err != nil {
		return nil, fmt.Errorf("listing path nodes: %w", err)
	}
	rows, err := s.ListUserSkillProgress(ctx, u.ID, u.SkillPath)
	if err != nil {
		return nil, fmt.Errorf("listing skill progress: %w", err)
	}

	byNode := make(map[string]domain.UserSkillProgress, len(rows))
	for _, row := range rows {
		byNode[row.NodeID] = row
	}

	out := make([]domain.UserSkillProgress, 0, len(nodes))
	for _, node := range nodes {
		if row, ok := byNode[node.ID]; ok {
			out = append(out, row)
			continue
		}
		out = append(out, domain.UserSkillProgress{
			UserID: u.ID,
			NodeID: node.ID,
			PathID: node.PathID,
			Target: node.Threshold,
		})
	}
	return out, nil
}
