// Package redis keeps XP leaderboards in Redis sorted sets. Scores are
// a projection of the cached user totals; the reconciliation worker
// rebuilds them from the event log.
package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/progression-engine/internal/config"
	"github.com/progression-engine/internal/domain"
)

// Leaderboard scopes
const (
	ScopeGlobal = "global"
)

// ScopePath returns the leaderboard scope for a single skill path.
func ScopePath(pathID string) string {
	return "path:" + pathID
}

// LeaderboardService provides Redis-based leaderboard operations
type LeaderboardService struct {
	client *redis.Client
	logger *slog.Logger
}

// NewLeaderboardService creates a new Redis leaderboard service
func NewLeaderboardService(cfg *config.RedisConfig, logger *slog.Logger) (*LeaderboardService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &LeaderboardService{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (s *LeaderboardService) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client
func (s *LeaderboardService) Client() *redis.Client {
	return s.client
}

// leaderboardKey returns the Redis key for a scope's sorted set
func (s *LeaderboardService) leaderboardKey(scope string) string {
	return fmt.Sprintf("xp:leaderboard:%s", scope)
}

// userInfoKey returns the Redis key for the user info cache
func (s *LeaderboardService) userInfoKey(userID string) string {
	return fmt.Sprintf("user:%s:info", userID)
}

// SetScore sets a user's XP score in the scope's leaderboard
func (s *LeaderboardService) SetScore(ctx context.Context, scope, userID string, totalXP int64) error {
	key := s.leaderboardKey(scope)
	err := s.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(totalXP),
		Member: userID,
	}).Err()
	if err != nil {
		return fmt.Errorf("setting score: %w", err)
	}
	return nil
}

// IncrementScore increments a user's score by the given delta
func (s *LeaderboardService) IncrementScore(ctx context.Context, scope, userID string, delta int64) (int64, error) {
	key := s.leaderboardKey(scope)
	newScore, err := s.client.ZIncrBy(ctx, key, float64(delta), userID).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing score: %w", err)
	}
	return int64(newScore), nil
}

// RemoveUser removes a user from the scope's leaderboard
func (s *LeaderboardService) RemoveUser(ctx context.Context, scope, userID string) error {
	key := s.leaderboardKey(scope)
	err := s.client.ZRem(ctx, key, userID).Err()
	if err != nil {
		return fmt.Errorf("removing user: %w", err)
	}
	return nil
}

// GetTopN returns the top N users from the leaderboard (descending order)
func (s *LeaderboardService) GetTopN(ctx context.Context, scope string, n int) ([]domain.LeaderboardEntry, error) {
	key := s.leaderboardKey(scope)
	results, err := s.client.ZRevRangeWithScores(ctx, key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, len(results))
	for i, result := range results {
		entries[i] = domain.LeaderboardEntry{
			Rank:   int64(i + 1),
			UserID: result.Member.(string),
			Score:  int64(result.Score),
		}
	}
	return entries, nil
}

// GetUserRank returns a user's rank and score
func (s *LeaderboardService) GetUserRank(ctx context.Context, scope, userID string) (*domain.LeaderboardEntry, error) {
	key := s.leaderboardKey(scope)

	// Use pipeline to get both rank and score
	pipe := s.client.Pipeline()
	rankCmd := pipe.ZRevRank(ctx, key, userID)
	scoreCmd := pipe.ZScore(ctx, key, userID)
	_, err := pipe.Exec(ctx)

	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("getting user rank: %w", err)
	}

	rank, err := rankCmd.Result()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("getting rank result: %w", err)
	}

	score, err := scoreCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("getting score result: %w", err)
	}

	return &domain.LeaderboardEntry{
		Rank:   rank + 1, // Convert 0-indexed to 1-indexed
		UserID: userID,
		Score:  int64(score),
	}, nil
}

// GetAroundUser returns users around a specific user's rank
func (s *LeaderboardService) GetAroundUser(ctx context.Context, scope, userID string, count int) ([]domain.LeaderboardEntry, error) {
	// First, get the user's rank
	userEntry, err := s.GetUserRank(ctx, scope, userID)
	if err != nil {
		return nil, err
	}

	// Calculate range around the user
	start := userEntry.Rank - int64(count) - 1 // -1 because rank is 1-indexed
	if start < 0 {
		start = 0
	}
	end := userEntry.Rank + int64(count) - 1 // -1 because rank is 1-indexed

	return s.GetRange(ctx, scope, int(start), int(end))
}

// GetRange returns users within a specific rank range (0-indexed)
func (s *LeaderboardService) GetRange(ctx context.Context, scope string, start, end int) ([]domain.LeaderboardEntry, error) {
	key := s.leaderboardKey(scope)
	results, err := s.client.ZRevRangeWithScores(ctx, key, int64(start), int64(end)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting range: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, len(results))
	for i, result := range results {
		entries[i] = domain.LeaderboardEntry{
			Rank:   int64(start + i + 1), // Convert to 1-indexed rank
			UserID: result.Member.(string),
			Score:  int64(result.Score),
		}
	}
	return entries, nil
}

// GetCount returns the total number of users in the leaderboard
func (s *LeaderboardService) GetCount(ctx context.Context, scope string) (int64, error) {
	key := s.leaderboardKey(scope)
	count, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}

// SetUserInfo caches user information for leaderboard hydration
func (s *LeaderboardService) SetUserInfo(ctx context.Context, userID, username string) error {
	key := s.userInfoKey(userID)
	err := s.client.HSet(ctx, key, "username", username).Err()
	if err != nil {
		return fmt.Errorf("setting user info: %w", err)
	}
	return nil
}

// GetUserInfo retrieves cached user information
func (s *LeaderboardService) GetUserInfo(ctx context.Context, userID string) (*domain.UserInfo, error) {
	key := s.userInfoKey(userID)
	result, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("getting user info: %w", err)
	}

	if len(result) == 0 {
		return nil, domain.ErrUserNotFound
	}

	return &domain.UserInfo{
		ID:       userID,
		Username: result["username"],
	}, nil
}

// Hydrate fills in usernames from the info cache. Entries without a
// cached username are left as-is.
func (s *LeaderboardService) Hydrate(ctx context.Context, entries []domain.LeaderboardEntry) {
	for i := range entries {
		info, err := s.GetUserInfo(ctx, entries[i].UserID)
		if err != nil {
			continue
		}
		entries[i].Username = info.Username
	}
}

// BatchSetScores sets multiple scores using pipelining. The reconcile
// worker uses this to rebuild a scope from authoritative totals.
func (s *LeaderboardService) BatchSetScores(ctx context.Context, scope string, scores map[string]int64) error {
	key := s.leaderboardKey(scope)
	pipe := s.client.Pipeline()

	for userID, totalXP := range scores {
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(totalXP),
			Member: userID,
		})
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("batch setting scores: %w", err)
	}
	return nil
}
