package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/DarbotLM/Detris/internal/challenge"
	xerrors "github.com/DarbotLM/Detris/internal/errors"
	"github.com/DarbotLM/Detris/internal/storage"
	"github.com/DarbotLM/Detris/internal/storage/sqlstore"
	"github.com/DarbotLM/Detris/internal/submission"
	"github.com/DarbotLM/Detris/pkg/logger"
)

// EnvPrefix 是所有环境变量覆盖项的公共前缀。
const EnvPrefix = "DETRIS_"

// 支持的后端驱动。
const (
	DriverMemory   = "memory"
	DriverMySQL    = sqlstore.DriverMySQL
	DriverSQLite   = sqlstore.DriverSQLite
	DriverRedis    = "redis"
	DriverRabbitMQ = "rabbitmq"
	DriverBadger   = "badger"
)

// Config 描述了 detrisd 在启动阶段需要加载的全部配置。
type Config struct {
	Log         logger.Config     `yaml:"log" json:"log" envPrefix:"LOG_"`
	Engine      EngineConfig      `yaml:"engine" json:"engine" envPrefix:"ENGINE_"`
	Leaderboard StoreConfig       `yaml:"leaderboard" json:"leaderboard" envPrefix:"LEADERBOARD_"`
	Submissions SubmissionsConfig `yaml:"submissions" json:"submissions" envPrefix:"SUBMISSIONS_"`
	Queue       QueueConfig       `yaml:"queue" json:"queue" envPrefix:"QUEUE_"`
	Artifacts   ArtifactsConfig   `yaml:"artifacts" json:"artifacts" envPrefix:"ARTIFACTS_"`
	Server      ServerConfig      `yaml:"server" json:"server" envPrefix:"SERVER_"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics" envPrefix:"METRICS_"`
	Alerts      AlertsConfig      `yaml:"alerts" json:"alerts" envPrefix:"ALERTS_"`
	Runtime     RuntimeConfig     `yaml:"runtime" json:"runtime" envPrefix:"RUNTIME_"`
}

// EngineConfig 控制挑战生成与验证的默认参数。
type EngineConfig struct {
	DefaultDifficulty float64 `yaml:"default_difficulty" json:"default_difficulty" env:"DEFAULT_DIFFICULTY"`
	DefaultPolicy     string  `yaml:"default_policy" json:"default_policy" env:"DEFAULT_POLICY"`
	Attempts          int     `yaml:"attempts" json:"attempts" env:"ATTEMPTS"`
	SampleRate        float64 `yaml:"sample_rate" json:"sample_rate" env:"SAMPLE_RATE"`
	// SignerKey 是十六进制 secp256k1 私钥，仅用于 play 命令。
	SignerKey string `yaml:"signer_key" json:"signer_key" env:"SIGNER_KEY"`
}

// StoreConfig 描述关系型存储；memory 驱动不需要 DSN。
type StoreConfig struct {
	Driver       string `yaml:"driver" json:"driver" env:"DRIVER"`
	DSN          string `yaml:"dsn" json:"dsn" env:"DSN"`
	PingAttempts int    `yaml:"ping_attempts" json:"ping_attempts" env:"PING_ATTEMPTS"`
}

// SQL 转换为 sqlstore 连接配置。
func (s StoreConfig) SQL() sqlstore.Config {
	return sqlstore.Config{Driver: s.Driver, DSN: s.DSN, PingAttempts: s.PingAttempts}
}

// SubmissionsConfig 控制提交状态存储与重试策略。
type SubmissionsConfig struct {
	Store      StoreConfig `yaml:"store" json:"store" envPrefix:"STORE_"`
	MaxRetries int         `yaml:"max_retries" json:"max_retries" env:"MAX_RETRIES"`
}

// QueueConfig 选择提交队列的实现。
type QueueConfig struct {
	Driver   string                      `yaml:"driver" json:"driver" env:"DRIVER"`
	Size     int                         `yaml:"size" json:"size" env:"SIZE"`
	Workers  int                         `yaml:"workers" json:"workers" env:"WORKERS"`
	Redis    submission.RedisQueueConfig `yaml:"redis" json:"redis" envPrefix:"REDIS_"`
	RabbitMQ submission.RabbitMQConfig   `yaml:"rabbitmq" json:"rabbitmq" envPrefix:"RABBITMQ_"`
}

// ArtifactsConfig 选择证明文件的存储方式。
type ArtifactsConfig struct {
	Driver string               `yaml:"driver" json:"driver" env:"DRIVER"`
	Badger storage.BadgerConfig `yaml:"badger" json:"badger" envPrefix:"BADGER_"`
}

// ServerConfig 控制 API 服务的监听地址。
type ServerConfig struct {
	Address string `yaml:"address" json:"address" env:"ADDRESS"`
}

// MetricsConfig 控制独立的指标端口，为空时指标挂载在 API 服务上。
type MetricsConfig struct {
	Address string `yaml:"address" json:"address" env:"ADDRESS"`
}

// AlertsConfig 控制提交拒绝与失败告警。
type AlertsConfig struct {
	MinSeverity string        `yaml:"min_severity" json:"min_severity" env:"MIN_SEVERITY"`
	Suppress    time.Duration `yaml:"suppress" json:"suppress" env:"SUPPRESS"`
	WebhookURL  string        `yaml:"webhook_url" json:"webhook_url" env:"WEBHOOK_URL"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `yaml:"data_dir" json:"data_dir" env:"DATA_DIR"`
}

// Load 解析指定路径的 YAML 或 JSON 配置文件，随后应用默认值与环境变量覆盖。
// path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	var cfg Config
	baseDir := "."
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取配置文件失败")
		}
		if err := decode(path, content, &cfg); err != nil {
			return nil, err
		}
		baseDir = filepath.Dir(path)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析环境变量失败")
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(path string, content []byte, cfg *Config) error {
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, cfg)
	case ".json":
		err = json.Unmarshal(content, cfg)
	default:
		return xerrors.New(xerrors.CodeInitializationFailure, fmt.Sprintf("不支持的配置文件格式: %s", path))
	}
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析配置失败")
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Service == "" {
		c.Log.Service = "detrisd"
	}

	if c.Engine.DefaultPolicy == "" {
		c.Engine.DefaultPolicy = string(challenge.DefaultPolicy)
	}
	if c.Engine.Attempts <= 0 {
		c.Engine.Attempts = 5
	}
	if c.Engine.SampleRate == 0 {
		c.Engine.SampleRate = 1
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Leaderboard.Driver == "" {
		c.Leaderboard.Driver = DriverMemory
	}
	if c.Leaderboard.Driver == DriverSQLite && c.Leaderboard.DSN == "" {
		c.Leaderboard.DSN = filepath.Join(c.Runtime.DataDir, "detris.db")
	}
	if c.Submissions.Store.Driver == "" {
		c.Submissions.Store.Driver = DriverMemory
	}
	if c.Submissions.Store.Driver == DriverSQLite && c.Submissions.Store.DSN == "" {
		c.Submissions.Store.DSN = filepath.Join(c.Runtime.DataDir, "detris.db")
	}
	if c.Submissions.MaxRetries <= 0 {
		c.Submissions.MaxRetries = 3
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = DriverMemory
	}
	if c.Queue.Size <= 0 {
		c.Queue.Size = 256
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 4
	}

	if c.Artifacts.Driver == "" {
		c.Artifacts.Driver = DriverMemory
	}
	if c.Artifacts.Driver == DriverBadger && !c.Artifacts.Badger.InMemory {
		if c.Artifacts.Badger.Path == "" {
			c.Artifacts.Badger.Path = filepath.Join(c.Runtime.DataDir, "artifacts")
		} else if !filepath.IsAbs(c.Artifacts.Badger.Path) {
			c.Artifacts.Badger.Path = filepath.Join(baseDir, c.Artifacts.Badger.Path)
		}
	}

	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Alerts.MinSeverity == "" {
		c.Alerts.MinSeverity = string(xerrors.SeverityWarning)
	}
}

// Validate 检查驱动与数值参数是否合法。
func (c *Config) Validate() error {
	check := func(field, value string, allowed ...string) error {
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("%s 必须是 %s 之一，当前为 %q", field, strings.Join(allowed, "|"), value),
			xerrors.WithMetadata("field", field))
	}
	if err := check("leaderboard.driver", c.Leaderboard.Driver, DriverMemory, DriverMySQL, DriverSQLite); err != nil {
		return err
	}
	if err := check("submissions.store.driver", c.Submissions.Store.Driver, DriverMemory, DriverMySQL, DriverSQLite); err != nil {
		return err
	}
	if err := check("queue.driver", c.Queue.Driver, DriverMemory, DriverRedis, DriverRabbitMQ); err != nil {
		return err
	}
	if err := check("artifacts.driver", c.Artifacts.Driver, DriverMemory, DriverBadger); err != nil {
		return err
	}
	if err := check("alerts.min_severity", c.Alerts.MinSeverity,
		string(xerrors.SeverityInfo), string(xerrors.SeverityWarning), string(xerrors.SeverityCritical)); err != nil {
		return err
	}
	if _, err := challenge.LookupPolicy(challenge.PolicyID(c.Engine.DefaultPolicy)); err != nil {
		return err
	}
	if d := c.Engine.DefaultDifficulty; math.IsNaN(d) || d < 0 || d > 1 {
		return xerrors.New(xerrors.CodeInvalidArgument, "engine.default_difficulty 必须位于 [0, 1]",
			xerrors.WithMetadata("field", "engine.default_difficulty"))
	}
	if r := c.Engine.SampleRate; math.IsNaN(r) || r <= 0 || r > 1 {
		return xerrors.New(xerrors.CodeInvalidArgument, "engine.sample_rate 必须位于 (0, 1]",
			xerrors.WithMetadata("field", "engine.sample_rate"))
	}
	return nil
}
