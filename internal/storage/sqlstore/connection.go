package sqlstore

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

const (
	// DriverMySQL 使用 go-sql-driver/mysql。
	DriverMySQL = "mysql"
	// DriverSQLite 使用纯 Go 实现的 modernc.org/sqlite。
	DriverSQLite = "sqlite"
)

// Config 描述数据库连接参数，未填写的连接池参数按驱动取默认值。
type Config struct {
	Driver          string        `yaml:"driver" json:"driver" env:"DRIVER"`
	DSN             string        `yaml:"dsn" json:"dsn" env:"DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
	// PingAttempts 是启动时等待数据库就绪的最大尝试次数。
	PingAttempts int `yaml:"ping_attempts" json:"ping_attempts" env:"PING_ATTEMPTS"`
}

// normalize 解析驱动别名并补齐连接池默认值。
func (c Config) normalize() (Config, error) {
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case DriverMySQL:
		c.Driver = DriverMySQL
	case DriverSQLite, "sqlite3":
		c.Driver = DriverSQLite
	default:
		return c, fmt.Errorf("不支持的数据库驱动: %q", c.Driver)
	}
	if strings.TrimSpace(c.DSN) == "" {
		return c, fmt.Errorf("%s DSN 不能为空", c.Driver)
	}

	if c.Driver == DriverSQLite {
		// SQLite 同一时刻只允许一个写者。
		c.MaxOpenConns, c.MaxIdleConns = 1, 1
	} else {
		c.MaxOpenConns = cmp.Or(max(c.MaxOpenConns, 0), 20)
		c.MaxIdleConns = cmp.Or(max(c.MaxIdleConns, 0), 10)
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	c.PingAttempts = cmp.Or(max(c.PingAttempts, 0), 1)
	return c, nil
}

// Open 建立连接、等待数据库就绪并执行全部迁移。
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 %s 失败: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := ping(ctx, db, cfg.PingAttempts); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("无法连接到 %s: %w", cfg.Driver, err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ping 以线性退避重试，适配容器中数据库晚于服务启动的情况。
func ping(ctx context.Context, db *sql.DB, attempts int) error {
	var err error
	for i := 1; i <= attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i) * 500 * time.Millisecond):
		}
	}
	return err
}
