package main

import (
	"fmt"
	"os"
	"time"

	"algohub/internal/algorithm/buildbot"
	"algohub/internal/algorithm/language"
	"algohub/internal/algorithm/sandbox/engine"
	"algohub/internal/algorithm/service"
	"algohub/internal/algorithm/testbot"
	"algohub/internal/common/cache"
	"algohub/internal/common/db"
	"algohub/internal/common/mq"
	"algohub/internal/common/storage"
	"algohub/pkg/utils/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultGRPCAddr        = "0.0.0.0:9090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 3 * time.Minute
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	storeMemory = "memory"
	storeSQL    = "sql"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// GRPCConfig holds the health server settings.
type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

// StoreConfig selects the metadata store.
type StoreConfig struct {
	// Backend is "memory" or "sql".
	Backend  string        `yaml:"backend"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
	EmptyTTL time.Duration `yaml:"emptyTTL"`
}

// WorkspaceConfig holds the build directory layout.
type WorkspaceConfig struct {
	Root          string `yaml:"root"`
	ExecutableExt string `yaml:"executableExt"`
}

// LockConfig configures the cross-instance lock. It needs redis.
type LockConfig struct {
	Distributed bool          `yaml:"distributed"`
	Prefix      string        `yaml:"prefix"`
	TTL         time.Duration `yaml:"ttl"`
	Retry       time.Duration `yaml:"retry"`
}

// EventsConfig enables lifecycle events on kafka.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Topic   string `yaml:"topic"`
}

// ArchiveConfig enables artifact archiving to object storage.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Prefix  string `yaml:"prefix"`
}

// AppConfig holds the algorithm-service configuration.
type AppConfig struct {
	Server ServerConfig  `yaml:"server"`
	GRPC   GRPCConfig    `yaml:"grpc"`
	Logger logger.Config `yaml:"logger"`

	Store     StoreConfig                  `yaml:"store"`
	Database  db.Config                    `yaml:"database"`
	Redis     *cache.RedisConfig           `yaml:"redis"`
	MinIO     storage.MinIOConfig          `yaml:"minio"`
	Kafka     mq.KafkaConfig               `yaml:"kafka"`
	Events    EventsConfig                 `yaml:"events"`
	Archive   ArchiveConfig                `yaml:"archive"`
	Lock      LockConfig                   `yaml:"lock"`
	Workspace WorkspaceConfig              `yaml:"workspace"`
	Engine    engine.Config                `yaml:"engine"`
	Build     buildbot.Config              `yaml:"build"`
	Run       testbot.Config               `yaml:"run"`
	Lifecycle service.LifecycleConfig      `yaml:"lifecycle"`
	IDs       service.IDConfig             `yaml:"ids"`
	Languages map[string]language.Override `yaml:"languages"`
}

// loadYAML reads path, expanding ${VAR} references from the environment.
// A .env file next to the working directory is loaded first when present.
func loadYAML(path string, out interface{}) error {
	_ = godotenv.Load()
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *AppConfig) validate() error {
	switch c.Store.Backend {
	case "", storeMemory:
	case storeSQL:
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for the sql store")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Lock.Distributed && (c.Redis == nil || c.Redis.Addr == "") {
		return fmt.Errorf("redis addr is required for distributed locks")
	}
	if c.Events.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when events are enabled")
	}
	if c.Archive.Enabled && c.MinIO.Bucket == "" {
		return fmt.Errorf("minio bucket is required when archiving is enabled")
	}
	if _, err := service.ParseFailurePolicy(string(c.Lifecycle.UpdateFailurePolicy)); err != nil {
		return err
	}
	return nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = defaultHTTPAddr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = defaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = defaultWriteTimeout
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = defaultIdleTimeout
	}
	if c.GRPC.Addr == "" {
		c.GRPC.Addr = defaultGRPCAddr
	}
	if c.Store.Backend == "" {
		c.Store.Backend = storeMemory
	}
	if c.Store.CacheTTL == 0 {
		c.Store.CacheTTL = 5 * time.Minute
	}
	if c.Store.EmptyTTL == 0 {
		c.Store.EmptyTTL = 30 * time.Second
	}
	if c.Workspace.Root == "" {
		c.Workspace.Root = "data/workspaces"
	}
	if c.Events.Topic == "" {
		c.Events.Topic = "algorithm.lifecycle"
	}
	if c.Redis != nil {
		c.Redis.ApplyDefaults()
	}
}
