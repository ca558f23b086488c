// Package postgres is the durable Store implementation. WithUser runs
// its callback inside a transaction holding a row lock on the user, so
// all writes of one action commit together and concurrent actions for
// the same user serialize at the database.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/progression-engine/internal/config"
	"github.com/progression-engine/internal/domain"
	"github.com/progression-engine/internal/store"
)

// dbtx is the query surface shared by *pgxpool.Pool and pgx.Tx, letting
// every Repository method run both pooled and inside a WithUser
// transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	db     dbtx
	logger *slog.Logger
}

var _ store.Store = (*Repository)(nil)

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		db:     pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Pool returns the underlying connection pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(64) PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			email VARCHAR(255),
			total_xp BIGINT NOT NULL DEFAULT 0,
			level INT NOT NULL DEFAULT 1,
			skill_path VARCHAR(64) DEFAULT '',
			version BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS xp_events (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			amount BIGINT NOT NULL,
			action_kind VARCHAR(40) NOT NULL,
			metadata JSONB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS quests (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT,
			quest_type VARCHAR(20) NOT NULL,
			xp_reward BIGINT NOT NULL DEFAULT 0,
			required_level INT NOT NULL DEFAULT 1,
			objectives JSONB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS user_quests (
			user_id VARCHAR(64) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			quest_id VARCHAR(64) NOT NULL REFERENCES quests(id) ON DELETE CASCADE,
			status VARCHAR(20) NOT NULL,
			objectives JSONB NOT NULL,
			reward_granted BOOLEAN NOT NULL DEFAULT FALSE,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, quest_id)
		)`,
		`CREATE TABLE IF NOT EXISTS skill_paths (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS skill_nodes (
			id VARCHAR(64) PRIMARY KEY,
			path_id VARCHAR(64) NOT NULL REFERENCES skill_paths(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			threshold BIGINT NOT NULL,
			prereqs JSONB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS user_skill_progress (
			user_id VARCHAR(64) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			node_id VARCHAR(64) NOT NULL REFERENCES skill_nodes(id) ON DELETE CASCADE,
			path_id VARCHAR(64) NOT NULL,
			progress BIGINT NOT NULL DEFAULT 0,
			target BIGINT NOT NULL,
			unlocked_at TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, node_id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_badges (
			user_id VARCHAR(64) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			badge_id VARCHAR(64) NOT NULL,
			unlocked_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, badge_id)
		)`,
		`CREATE TABLE IF NOT EXISTS applied_actions (
			user_id VARCHAR(64) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			idempotency_key VARCHAR(128) NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, idempotency_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_xp_events_user ON xp_events(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_user_quests_status ON user_quests(user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_skill_nodes_path ON skill_nodes(path_id)`,
		`CREATE INDEX IF NOT EXISTS idx_user_skill_progress_path ON user_skill_progress(user_id, path_id)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// WithUser runs fn in a transaction holding a FOR UPDATE lock on the
// user's row. Everything fn writes commits atomically.
func (r *Repository) WithUser(ctx context.Context, userID string, fn func(ctx context.Context, s store.Store) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var id string
	err = tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrUserNotFound
		}
		return fmt.Errorf("locking user row: %w", err)
	}

	scoped := &Repository{
		pool:   r.pool,
		db:     tx,
		logger: r.logger,
	}
	if err := fn(ctx, scoped); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID
func (r *Repository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT id, username, COALESCE(email, ''), total_xp, level, COALESCE(skill_path, ''), version, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	var u domain.User
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.TotalXP,
		&u.Level,
		&u.SkillPath,
		&u.Version,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return &u, nil
}

// CreateUser inserts a new user record
func (r *Repository) CreateUser(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (id, username, email, total_xp, level, skill_path, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`
	now := time.Now()
	if !u.CreatedAt.IsZero() {
		now = u.CreatedAt
	}
	_, err := r.db.Exec(ctx, query,
		u.ID, u.Username, u.Email, u.TotalXP, u.Level, u.SkillPath, u.Version, now,
	)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// UpdateUserProgress writes the cached XP total and level, guarded by
// the version column.
func (r *Repository) UpdateUserProgress(ctx context.Context, userID string, totalXP int64, level int, expectedVersion int64) error {
	query := `
		UPDATE users
		SET total_xp = $1, level = $2, version = version + 1, updated_at = $3
		WHERE id = $4 AND version = $5
	`
	tag, err := r.db.Exec(ctx, query, totalXP, level, time.Now(), userID, expectedVersion)
	if err != nil {
		return fmt.Errorf("updating user progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
			return fmt.Errorf("checking user existence: %w", err)
		}
		if !exists {
			return domain.ErrUserNotFound
		}
		return domain.ErrStoreConflict
	}
	return nil
}

// SetUserSkillPath sets the user's active skill path
func (r *Repository) SetUserSkillPath(ctx context.Context, userID, pathID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET skill_path = $1, updated_at = $2 WHERE id = $3`,
		pathID, time.Now(), userID,
	)
	if err != nil {
		return fmt.Errorf("setting skill path: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// ListUserIDs returns all user IDs
func (r *Repository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing user ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// AppendXPEvent appends to the immutable XP event log
func (r *Repository) AppendXPEvent(ctx context.Context, ev domain.XPEvent) error {
	var metadataJSON []byte
	var err error
	if ev.Metadata != nil {
		metadataJSON, err = json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata: %w", err)
		}
	}

	query := `
		INSERT INTO xp_events (id, user_id, amount, action_kind, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.db.Exec(ctx, query,
		ev.ID, ev.UserID, ev.Amount, string(ev.Kind), metadataJSON, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending xp event: %w", err)
	}
	return nil
}

// SumXP sums all XP event amounts for a user
func (r *Repository) SumXP(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM xp_events WHERE user_id = $1`,
		userID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing xp events: %w", err)
	}
	return total, nil
}

// GetQuest retrieves a quest template by ID
func (r *Repository) GetQuest(ctx context.Context, questID string) (*domain.Quest, error) {
	query := `
		SELECT id, name, COALESCE(description, ''), quest_type, xp_reward, required_level, objectives, created_at
		FROM quests
		WHERE id = $1
	`
	var q domain.Quest
	var objectivesJSON []byte
	err := r.db.QueryRow(ctx, query, questID).Scan(
		&q.ID,
		&q.Name,
		&q.Description,
		&q.Type,
		&q.XPReward,
		&q.RequiredLevel,
		&objectivesJSON,
		&q.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrQuestNotFound
		}
		return nil, fmt.Errorf("getting quest: %w", err)
	}
	if err := json.Unmarshal(objectivesJSON, &q.Objectives); err != nil {
		return nil, fmt.Errorf("unmarshaling objectives: %w", err)
	}
	return &q, nil
}

// ListQuests retrieves all quest templates
func (r *Repository) ListQuests(ctx context.Context) ([]domain.Quest, error) {
	query := `
		SELECT id, name, COALESCE(description, ''), quest_type, xp_reward, required_level, objectives, created_at
		FROM quests
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing quests: %w", err)
	}
	defer rows.Close()

	var quests []domain.Quest
	for rows.Next() {
		var q domain.Quest
		var objectivesJSON []byte
		err := rows.Scan(
			&q.ID,
			&q.Name,
			&q.Description,
			&q.Type,
			&q.XPReward,
			&q.RequiredLevel,
			&objectivesJSON,
			&q.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning quest: %w", err)
		}
		if err := json.Unmarshal(objectivesJSON, &q.Objectives); err != nil {
			return nil, fmt.Errorf("unmarshaling objectives: %w", err)
		}
		quests = append(quests, q)
	}
	return quests, nil
}

// CreateQuest stores a quest template, ignoring duplicates
func (r *Repository) CreateQuest(ctx context.Context, q domain.Quest) error {
	objectivesJSON, err := json.Marshal(q.Objectives)
	if err != nil {
		return fmt.Errorf("marshaling objectives: %w", err)
	}

	createdAt := q.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO quests (id, name, description, quest_type, xp_reward, required_level, objectives, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = r.db.Exec(ctx, query,
		q.ID, q.Name, q.Description, string(q.Type), q.XPReward, q.RequiredLevel, objectivesJSON, createdAt,
	)
	if err != nil {
		return fmt.Errorf("creating quest: %w", err)
	}
	return nil
}

// GetUserQuest retrieves the user's quest state, or (nil, nil) if never
// started
func (r *Repository) GetUserQuest(ctx context.Context, userID, questID string) (*domain.UserQuest, error) {
	query := `
		SELECT user_id, quest_id, status, objectives, reward_granted, started_at, completed_at, updated_at
		FROM user_quests
		WHERE user_id = $1 AND quest_id = $2
	`
	uq, err := scanUserQuest(r.db.QueryRow(ctx, query, userID, questID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting user quest: %w", err)
	}
	return uq, nil
}

func scanUserQuest(row pgx.Row) (*domain.UserQuest, error) {
	var uq domain.UserQuest
	var objectivesJSON []byte
	err := row.Scan(
		&uq.UserID,
		&uq.QuestID,
		&uq.Status,
		&objectivesJSON,
		&uq.RewardGranted,
		&uq.StartedAt,
		&uq.CompletedAt,
		&uq.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(objectivesJSON, &uq.Objectives); err != nil {
		return nil, fmt.Errorf("unmarshaling objective progress: %w", err)
	}
	return &uq, nil
}

// PutUserQuest upserts the user's quest state
func (r *Repository) PutUserQuest(ctx context.Context, uq *domain.UserQuest) error {
	objectivesJSON, err := json.Marshal(uq.Objectives)
	if err != nil {
		return fmt.Errorf("marshaling objective progress: %w", err)
	}

	query := `
		INSERT INTO user_quests (user_id, quest_id, status, objectives, reward_granted, started_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, quest_id)
		DO UPDATE SET status = $3, objectives = $4, reward_granted = $5, completed_at = $7, updated_at = $8
	`
	_, err = r.db.Exec(ctx, query,
		uq.UserID, uq.QuestID, string(uq.Status), objectivesJSON, uq.RewardGranted,
		uq.StartedAt, uq.CompletedAt, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("storing user quest: %w", err)
	}
	return nil
}

// ListUserQuests retrieves all quest states for a user
func (r *Repository) ListUserQuests(ctx context.Context, userID string) ([]domain.UserQuest, error) {
	query := `
		SELECT user_id, quest_id, status, objectives, reward_granted, started_at, completed_at, updated_at
		FROM user_quests
		WHERE user_id = $1
		ORDER BY quest_id
	`
	return r.queryUserQuests(ctx, query, userID)
}

// ListActiveUserQuests retrieves the user's active quests
func (r *Repository) ListActiveUserQuests(ctx context.Context, userID string) ([]domain.UserQuest, error) {
	query := `
		SELECT user_id, quest_id, status, objectives, reward_granted, started_at, completed_at, updated_at
		FROM user_quests
		WHERE user_id = $1 AND status = 'active'
		ORDER BY quest_id
	`
	return r.queryUserQuests(ctx, query, userID)
}

func (r *Repository) queryUserQuests(ctx context.Context, query string, args ...any) ([]domain.UserQuest, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing user quests: %w", err)
	}
	defer rows.Close()

	var quests []domain.UserQuest
	for rows.Next() {
		uq, err := scanUserQuest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user quest: %w", err)
		}
		quests = append(quests, *uq)
	}
	return quests, nil
}

// CountCompletedQuests counts the user's completed quests
func (r *Repository) CountCompletedQuests(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_quests WHERE user_id = $1 AND status = 'completed'`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting completed quests: %w", err)
	}
	return count, nil
}

// GetSkillNode retrieves a skill node by ID
func (r *Repository) GetSkillNode(ctx context.Context, nodeID string) (*domain.SkillNode, error) {
	query := `
		SELECT id, path_id, name, threshold, prereqs, created_at
		FROM skill_nodes
		WHERE id = $1
	`
	var n domain.SkillNode
	var prereqsJSON []byte
	err := r.db.QueryRow(ctx, query, nodeID).Scan(
		&n.ID,
		&n.PathID,
		&n.Name,
		&n.Threshold,
		&prereqsJSON,
		&n.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNodeNotFound
		}
		return nil, fmt.Errorf("getting skill node: %w", err)
	}
	if len(prereqsJSON) > 0 {
		if err := json.Unmarshal(prereqsJSON, &n.Prereqs); err != nil {
			return nil, fmt.Errorf("unmarshaling prereqs: %w", err)
		}
	}
	return &n, nil
}

// GetSkillPath retrieves a skill path by ID
func (r *Repository) GetSkillPath(ctx context.Context, pathID string) (*domain.SkillPath, error) {
	query := `
		SELECT id, name, COALESCE(description, ''), created_at
		FROM skill_paths
		WHERE id = $1
	`
	var p domain.SkillPath
	err := r.db.QueryRow(ctx, query, pathID).Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPathNotFound
		}
		return nil, fmt.Errorf("getting skill path: %w", err)
	}
	return &p, nil
}

// ListSkillPaths retrieves all skill paths
func (r *Repository) ListSkillPaths(ctx context.Context) ([]domain.SkillPath, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, COALESCE(description, ''), created_at FROM skill_paths ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing skill paths: %w", err)
	}
	defer rows.Close()

	var paths []domain.SkillPath
	for rows.Next() {
		var p domain.SkillPath
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning skill path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// ListPathNodes retrieves all nodes of a path
func (r *Repository) ListPathNodes(ctx context.Context, pathID string) ([]domain.SkillNode, error) {
	query := `
		SELECT id, path_id, name, threshold, prereqs, created_at
		FROM skill_nodes
		WHERE path_id = $1
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, pathID)
	if err != nil {
		return nil, fmt.Errorf("listing path nodes: %w", err)
	}
	defer rows.Close()

	var nodes []domain.SkillNode
	for rows.Next() {
		var n domain.SkillNode
		var prereqsJSON []byte
		err := rows.Scan(&n.ID, &n.PathID, &n.Name, &n.Threshold, &prereqsJSON, &n.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning skill node: %w", err)
		}
		if len(prereqsJSON) > 0 {
			if err := json.Unmarshal(prereqsJSON, &n.Prereqs); err != nil {
				return nil, fmt.Errorf("unmarshaling prereqs: %w", err)
			}
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// CreateSkillPath stores a skill path, ignoring duplicates
func (r *Repository) CreateSkillPath(ctx context.Context, p domain.SkillPath) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO skill_paths (id, name, description, created_at) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
		p.ID, p.Name, p.Description, createdAt,
	)
	if err != nil {
		return fmt.Errorf("creating skill path: %w", err)
	}
	return nil
}

// CreateSkillNode stores a skill node, ignoring duplicates
func (r *Repository) CreateSkillNode(ctx context.Context, n domain.SkillNode) error {
	prereqsJSON, err := json.Marshal(n.Prereqs)
	if err != nil {
		return fmt.Errorf("marshaling prereqs: %w", err)
	}
	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO skill_nodes (id, path_id, name, threshold, prereqs, created_at) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		n.ID, n.PathID, n.Name, n.Threshold, prereqsJSON, createdAt,
	)
	if err != nil {
		return fmt.Errorf("creating skill node: %w", err)
	}
	return nil
}

// GetUserSkillProgress retrieves the user's node progress, or (nil, nil)
// if never practiced
func (r *Repository) GetUserSkillProgress(ctx context.Context, userID, nodeID string) (*domain.UserSkillProgress, error) {
	query := `
		SELECT user_id, node_id, path_id, progress, target, unlocked_at, updated_at
		FROM user_skill_progress
		WHERE user_id = $1 AND node_id = $2
	`
	var p domain.UserSkillProgress
	err := r.db.QueryRow(ctx, query, userID, nodeID).Scan(
		&p.UserID, &p.NodeID, &p.PathID, &p.Progress, &p.Target, &p.UnlockedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting skill progress: %w", err)
	}
	return &p, nil
}

// PutUserSkillProgress upserts the user's node progress
func (r *Repository) PutUserSkillProgress(ctx context.Context, p *domain.UserSkillProgress) error {
	query := `
		INSERT INTO user_skill_progress (user_id, node_id, path_id, progress, target, unlocked_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, node_id)
		DO UPDATE SET progress = $4, target = $5, unlocked_at = $6, updated_at = $7
	`
	_, err := r.db.Exec(ctx, query,
		p.UserID, p.NodeID, p.PathID, p.Progress, p.Target, p.UnlockedAt, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("storing skill progress: %w", err)
	}
	return nil
}

// ListUserSkillProgress retrieves the user's progress rows for a path
func (r *Repository) ListUserSkillProgress(ctx context.Context, userID, pathID string) ([]domain.UserSkillProgress, error) {
	query := `
		SELECT user_id, node_id, path_id, progress, target, unlocked_at, updated_at
		FROM user_skill_progress
		WHERE user_id = $1 AND path_id = $2
		ORDER BY node_id
	`
	rows, err := r.db.Query(ctx, query, userID, pathID)
	if err != nil {
		return nil, fmt.Errorf("listing skill progress: %w", err)
	}
	defer rows.Close()

	var out []domain.UserSkillProgress
	for rows.Next() {
		var p domain.UserSkillProgress
		err := rows.Scan(&p.UserID, &p.NodeID, &p.PathID, &p.Progress, &p.Target, &p.UnlockedAt, &p.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning skill progress: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// CountUnlockedSkills counts the user's unlocked nodes across paths
func (r *Repository) CountUnlockedSkills(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_skill_progress WHERE user_id = $1 AND unlocked_at IS NOT NULL`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unlocked skills: %w", err)
	}
	return count, nil
}

// ListUserBadges retrieves the user's badge unlocks
func (r *Repository) ListUserBadges(ctx context.Context, userID string) ([]domain.UserBadge, error) {
	query := `
		SELECT user_id, badge_id, unlocked_at
		FROM user_badges
		WHERE user_id = $1
		ORDER BY badge_id
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing user badges: %w", err)
	}
	defer rows.Close()

	var badges []domain.UserBadge
	for rows.Next() {
		var ub domain.UserBadge
		if err := rows.Scan(&ub.UserID, &ub.BadgeID, &ub.UnlockedAt); err != nil {
			return nil, fmt.Errorf("scanning user badge: %w", err)
		}
		badges = append(badges, ub)
	}
	return badges, nil
}

// InsertUserBadge records an unlock once; the conditional insert makes
// repeated unlocks no-ops
func (r *Repository) InsertUserBadge(ctx context.Context, ub domain.UserBadge) (bool, error) {
	query := `
		INSERT INTO user_badges (user_id, badge_id, unlocked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, badge_id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query, ub.UserID, ub.BadgeID, ub.UnlockedAt)
	if err != nil {
		return false, fmt.Errorf("inserting user badge: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkActionApplied records an idempotency key, reporting first sight
func (r *Repository) MarkActionApplied(ctx context.Context, userID, key string) (bool, error) {
	query := `
		INSERT INTO applied_actions (user_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (user_id, idempotency_key) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query, userID, key)
	if err != nil {
		return false, fmt.Errorf("recording idempotency key: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
