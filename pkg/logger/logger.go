// Package logger 提供进程级的 slog 日志与独立的审计日志。
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config describes how the application logger should behave.
type Config struct {
	Level       string      `yaml:"level" json:"level" env:"LEVEL"`
	Format      string      `yaml:"format" json:"format" env:"FORMAT"`
	OutputPaths []string    `yaml:"output_paths" json:"output_paths" env:"OUTPUTS" envSeparator:","`
	AddSource   bool        `yaml:"add_source" json:"add_source" env:"ADD_SOURCE"`
	Service     string      `yaml:"service" json:"service" env:"SERVICE"`
	Audit       AuditConfig `yaml:"audit" json:"audit" envPrefix:"AUDIT_"`
}

// AuditConfig controls audit log output behaviour.
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled" env:"ENABLED"`
	Path       string `yaml:"path" json:"path" env:"PATH"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days" env:"MAX_AGE_DAYS"`
}

const (
	defaultService    = "detris"
	defaultMaxSizeMB  = 64
	defaultMaxBackups = 10
	defaultMaxAgeDays = 30
)

type state struct {
	base    *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
}

var (
	mu      sync.RWMutex
	current *state
)

// Init configures the global logger instances. Calling it again replaces the
// previous configuration and closes the files it opened.
func Init(cfg Config) error {
	next, err := build(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	prev := current
	current = next
	mu.Unlock()
	if prev != nil {
		return closeAll(prev.closers)
	}
	return nil
}

func build(cfg Config) (*state, error) {
	st := &state{}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: cfg.AddSource}
	handler, closers, err := buildHandler(cfg.Format, cfg.OutputPaths, opts)
	if err != nil {
		return nil, err
	}
	st.closers = append(st.closers, closers...)

	service := cfg.Service
	if service == "" {
		service = defaultService
	}
	st.base = slog.New(handler).With(slog.String("service", service))
	st.audit = st.base.With(slog.Bool("audit", true))

	if cfg.Audit.Enabled {
		writer, err := newAuditWriter(cfg.Audit)
		if err != nil {
			_ = closeAll(st.closers)
			return nil, err
		}
		st.closers = append(st.closers, writer)
		st.audit = slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo})).
			With(slog.String("service", service))
	}
	return st, nil
}

func buildHandler(format string, outputs []string, opts *slog.HandlerOptions) (slog.Handler, []io.Closer, error) {
	var (
		writers []io.Writer
		closers []io.Closer
	)
	for _, out := range outputs {
		writer, closer, err := openWriter(out)
		if err != nil {
			_ = closeAll(closers)
			return nil, nil, err
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		writers = append(writers, writer)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stdout
	case 1:
		writer = writers[0]
	default:
		writer = io.MultiWriter(writers...)
	}

	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(writer, opts), closers, nil
	}
	return slog.NewJSONHandler(writer, opts), closers, nil
}

func newAuditWriter(cfg AuditConfig) (*rotatingWriter, error) {
	if cfg.Path == "" {
		return nil, errors.New("audit log path cannot be empty when enabled")
	}
	size, backups, age := cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays
	if size <= 0 {
		size = defaultMaxSizeMB
	}
	if backups <= 0 {
		backups = defaultMaxBackups
	}
	if age <= 0 {
		age = defaultMaxAgeDays
	}
	return newRotatingWriter(cfg.Path, size, backups, age)
}

func openWriter(path string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(path) {
	case "", "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, file, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func closeAll(closers []io.Closer) error {
	var err error
	for _, c := range closers {
		err = errors.Join(err, c.Close())
	}
	return err
}

func loaded() *state {
	mu.RLock()
	st := current
	mu.RUnlock()
	if st != nil {
		return st
	}
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		st, err := build(Config{})
		if err != nil {
			st = &state{base: slog.Default(), audit: slog.Default()}
		}
		current = st
	}
	return current
}

// L returns the structured logger instance.
func L() *slog.Logger {
	return loaded().base
}

// Audit returns the audit logger.
func Audit() *slog.Logger {
	return loaded().audit
}

// Sync closes the files opened by Init. Later records go to stdout until
// Init is called again.
func Sync() error {
	mu.Lock()
	st := current
	current = nil
	mu.Unlock()
	if st == nil {
		return nil
	}
	return closeAll(st.closers)
}

// Named returns a child logger tagged with the provided component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

type ctxKey struct{}

// IntoContext 将请求级日志器放入上下文。
func IntoContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext 返回上下文中的日志器，没有时返回全局日志器。
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return L()
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
