package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/progression-engine/internal/domain"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Reconcile   ReconcileConfig   `yaml:"reconcile"`
	Progression ProgressionConfig `yaml:"progression"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	GroupID       string        `yaml:"group_id"`
	Enabled       bool          `yaml:"enabled"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// ReconcileConfig holds reconciliation worker configuration
type ReconcileConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
	Enabled   bool          `yaml:"enabled"`
}

// ProgressionConfig holds the level curve and XP award policy. Both are
// configuration inputs, not hard-coded constants: deployments tune the
// curve without code changes.
type ProgressionConfig struct {
	// LevelThresholds[i] is the cumulative XP required to hold level
	// i+1. The first entry must be 0 (everyone is at least level 1) and
	// entries must be strictly increasing.
	LevelThresholds []int64 `yaml:"level_thresholds"`

	// XPPolicy maps an inbound action kind to the XP it awards.
	XPPolicy map[string]int64 `yaml:"xp_policy"`

	// LeaderboardSize caps leaderboard reads.
	LeaderboardSize int `yaml:"leaderboard_size"`
}

// AwardFor returns the XP award for an action kind, or 0 if the policy
// does not award flat XP for it.
func (p *ProgressionConfig) AwardFor(kind domain.ActionKind) int64 {
	return p.XPPolicy[string(kind)]
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration invariants that defaults cannot repair.
func (c *Config) Validate() error {
	t := c.Progression.LevelThresholds
	if len(t) == 0 {
		return fmt.Errorf("progression: level_thresholds must not be empty")
	}
	if t[0] != 0 {
		return fmt.Errorf("progression: first level threshold must be 0, got %d", t[0])
	}
	for i := 1; i < len(t); i++ {
		if t[i] <= t[i-1] {
			return fmt.Errorf("progression: level thresholds must be strictly increasing (index %d: %d <= %d)", i, t[i], t[i-1])
		}
	}
	return nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 50
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 5
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "progression-actions"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "progression-consumer"
	}
	if c.Kafka.RetryAttempts == 0 {
		c.Kafka.RetryAttempts = 3
	}
	if c.Kafka.RetryDelay == 0 {
		c.Kafka.RetryDelay = 1 * time.Second
	}

	// Reconcile defaults
	if c.Reconcile.Interval == 0 {
		c.Reconcile.Interval = 30 * time.Minute
	}
	if c.Reconcile.BatchSize == 0 {
		c.Reconcile.BatchSize = 500
	}

	// Progression defaults
	if len(c.Progression.LevelThresholds) == 0 {
		c.Progression.LevelThresholds = DefaultLevelThresholds()
	}
	if len(c.Progression.XPPolicy) == 0 {
		c.Progression.XPPolicy = DefaultXPPolicy()
	}
	if c.Progression.LeaderboardSize == 0 {
		c.Progression.LeaderboardSize = 100
	}
}

// DefaultLevelThresholds returns the built-in level curve: cumulative
// XP required for levels 1 through 10.
func DefaultLevelThresholds() []int64 {
	return []int64{0, 100, 250, 500, 1000, 1750, 2750, 4000, 5500, 7500}
}

// DefaultXPPolicy returns the built-in per-action XP awards. Actions
// absent from the policy award no flat XP (quest objectives earn their
// reward on quest completion instead).
func DefaultXPPolicy() map[string]int64 {
	return map[string]int64{
		string(domain.ActionQuizCompleted):       50,
		string(domain.ActionLessonCompleted):     30,
		string(domain.ActionSkillPractice):       10,
		string(domain.ActionDailyLogin):          10,
		string(domain.ActionCodeReviewSubmitted): 40,
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Reconcile.Enabled = true
	return cfg
}
