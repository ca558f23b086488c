// Package worker runs the periodic reconciliation loop: it re-derives
// each user's XP total and level from the event log, repairs any cache
// drift, and rebuilds the Redis leaderboard projection.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/progression-engine/internal/config"
	"github.com/progression-engine/internal/level"
	"github.com/progression-engine/internal/redis"
	"github.com/progression-engine/internal/store"
)

// ReconcileWorker periodically checks cached user totals against the
// authoritative event log. The event log is the source of truth; the
// cached columns and the Redis sorted sets are projections of it.
type ReconcileWorker struct {
	store       store.Store
	leaderboard *redis.LeaderboardService
	resolver    *level.Resolver
	config      *config.ReconcileConfig
	logger      *slog.Logger
	stopCh      chan struct{}
	doneCh      chan struct{}
	mu          sync.Mutex
	running     bool
}

// NewReconcileWorker creates a new reconciliation worker
func NewReconcileWorker(
	s store.Store,
	leaderboard *redis.LeaderboardService,
	resolver *level.Resolver,
	cfg *config.ReconcileConfig,
	logger *slog.Logger,
) *ReconcileWorker {
	return &ReconcileWorker{
		store:       s,
		leaderboard: leaderboard,
		resolver:    resolver,
		config:      cfg,
		logger:      logger,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the background reconciliation process
func (w *ReconcileWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	// Fresh channels each start so the worker can be restarted after a
	// Stop has closed the previous pair.
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	w.logger.Info("reconcile worker started", "interval", w.config.Interval)

	go w.run(ctx, stopCh, doneCh)
	return nil
}

// Stop stops the background reconciliation process
func (w *ReconcileWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	close(stopCh)
	<-doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("reconcile worker stopped")
	return nil
}

// run is the main worker loop
func (w *ReconcileWorker) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			w.reconcileAll(ctx)
		}
	}
}

// reconcileAll runs one reconciliation cycle over every user
func (w *ReconcileWorker) reconcileAll(ctx context.Context) {
	w.logger.Info("starting reconcile cycle")
	startTime := time.Now()

	userIDs, err := w.store.ListUserIDs(ctx)
	if err != nil {
		w.logger.Error("failed to list users for reconcile", "error", err)
		return
	}

	repairedCount := 0
	errorCount := 0
	scores := make(map[string]int64, len(userIDs))

	for _, userID := range userIDs {
		repaired, totalXP, err := w.reconcileUser(ctx, userID)
		if err != nil {
			w.logger.Error("failed to reconcile user",
				"user_id", userID,
				"error", err,
			)
			errorCount++
			continue
		}
		if repaired {
			repairedCount++
		}
		scores[userID] = totalXP
	}

	if w.leaderboard != nil && len(scores) > 0 {
		if err := w.leaderboard.BatchSetScores(ctx, redis.ScopeGlobal, scores); err != nil {
			w.logger.Error("failed to rebuild leaderboard", "error", err)
		}
	}

	duration := time.Since(startTime)
	w.logger.Info("reconcile cycle completed",
		"duration", duration,
		"users", len(userIDs),
		"repaired", repairedCount,
		"errors", errorCount,
	)
}

// reconcileUser re-derives one user's totals from the event log and
// repairs the cached columns if they drifted. It runs inside the user's
// store scope so it never races an in-flight action.
func (w *ReconcileWorker) reconcileUser(ctx context.Context, userID string) (repaired bool, totalXP int64, err error) {
	err = w.store.WithUser(ctx, userID, func(ctx context.Context, s store.Store) error {
		u, err := s.GetUser(ctx, userID)
		if err != nil {
			return err
		}

		authoritative, err := s.SumXP(ctx, userID)
		if err != nil {
			return err
		}
		totalXP = authoritative

		derivedLevel := w.resolver.Resolve(authoritative).Level
		if u.TotalXP == authoritative && u.Level == derivedLevel {
			return nil
		}

		w.logger.Warn("cache drift detected",
			"user_id", userID,
			"cached_xp", u.TotalXP,
			"authoritative_xp", authoritative,
			"cached_level", u.Level,
			"derived_level", derivedLevel,
		)
		if err := s.UpdateUserProgress(ctx, userID, authoritative, derivedLevel, u.Version); err != nil {
			return err
		}
		repaired = true
		return nil
	})
	return repaired, totalXP, err
}

// RebuildLeaderboards repopulates the Redis projections from stored
// totals. Called at startup so a flushed Redis recovers.
func (w *ReconcileWorker) RebuildLeaderboards(ctx context.Context) error {
	if w.leaderboard == nil {
		return nil
	}

	w.logger.Info("rebuilding leaderboards from store")

	userIDs, err := w.store.ListUserIDs(ctx)
	if err != nil {
		return err
	}

	global := make(map[string]int64, len(userIDs))
	byPath := make(map[string]map[string]int64)

	for _, userID := range userIDs {
		u, err := w.store.GetUser(ctx, userID)
		if err != nil {
			w.logger.Error("failed to load user for rebuild", "user_id", userID, "error", err)
			continue
		}
		global[u.ID] = u.TotalXP
		if u.SkillPath != "" {
			if byPath[u.SkillPath] == nil {
				byPath[u.SkillPath] = make(map[string]int64)
			}
			byPath[u.SkillPath][u.ID] = u.TotalXP
		}
	}

	if len(global) > 0 {
		if err := w.leaderboard.BatchSetScores(ctx, redis.ScopeGlobal, global); err != nil {
			return err
		}
	}
	for pathID, scores := range byPath {
		if err := w.leaderboard.BatchSetScores(ctx, redis.ScopePath(pathID), scores); err != nil {
			w.logger.Error("failed to rebuild path leaderboard", "path_id", pathID, "error", err)
		}
	}

	w.logger.Info("leaderboards rebuilt", "users", len(global), "paths", len(byPath))
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *ReconcileWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single reconcile cycle (useful for manual triggers)
func (w *ReconcileWorker) RunOnce(ctx context.Context) {
	w.reconcileAll(ctx)
}
