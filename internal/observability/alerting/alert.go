// Package alerting 将提交处理中的拒绝与失败事件路由到日志或外部 Webhook。
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	xerrors "github.com/DarbotLM/Detris/internal/errors"
	"github.com/DarbotLM/Detris/pkg/logger"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code         xerrors.Code      `json:"code"`
	Message      string            `json:"message"`
	Severity     xerrors.Severity  `json:"severity"`
	SubmissionID string            `json:"submission_id"`
	AgentID      string            `json:"agent_id"`
	Attempts     int               `json:"attempts"`
	MaxRetries   int               `json:"max_retries"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// Dispatcher 接收事件。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// Notifier 是一个具名的投递目标。
type Notifier interface {
	Dispatcher
	Name() string
}

var severityRank = map[xerrors.Severity]int{
	xerrors.SeverityInfo:     0,
	xerrors.SeverityWarning:  1,
	xerrors.SeverityCritical: 2,
}

// Router 按严重程度过滤事件，并在抑制窗口内合并同一智能体的同类告警。
type Router struct {
	notifiers   []Notifier
	minSeverity xerrors.Severity
	window      time.Duration
	now         func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// RouterOption 配置 Router。
type RouterOption func(*Router)

// WithMinSeverity 丢弃低于该级别的事件。
func WithMinSeverity(sev xerrors.Severity) RouterOption {
	return func(r *Router) {
		if _, ok := severityRank[sev]; ok {
			r.minSeverity = sev
		}
	}
}

// WithSuppressWindow 设置同一 (code, agent) 组合的最小告警间隔。
func WithSuppressWindow(d time.Duration) RouterOption {
	return func(r *Router) { r.window = max(d, 0) }
}

// NewRouter 创建路由器，nil 通知器会被忽略。
func NewRouter(notifiers []Notifier, opts ...RouterOption) *Router {
	r := &Router{
		minSeverity: xerrors.SeverityInfo,
		now:         time.Now,
		lastSent:    make(map[string]time.Time),
	}
	for _, n := range notifiers {
		if n != nil {
			r.notifiers = append(r.notifiers, n)
		}
	}
	slices.SortFunc(r.notifiers, func(a, b Notifier) int {
		switch {
		case a.Name() < b.Name():
			return -1
		case a.Name() > b.Name():
			return 1
		}
		return 0
	})
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Notify 并发投递到全部通知器，返回所有失败的合并错误。
func (r *Router) Notify(ctx context.Context, event Event) error {
	if r == nil || len(r.notifiers) == 0 || !r.admit(event) {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now()
	}

	errs := make([]error, len(r.notifiers))
	var g errgroup.Group
	for i, n := range r.notifiers {
		g.Go(func() error {
			if err := n.Notify(ctx, event); err != nil {
				errs[i] = fmt.Errorf("notifier %s: %w", n.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (r *Router) admit(event Event) bool {
	if severityRank[event.Severity] < severityRank[r.minSeverity] {
		return false
	}
	if r.window <= 0 {
		return true
	}
	key := string(event.Code) + "|" + event.AgentID
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	// 过期记录不再参与抑制，顺手清理，避免按智能体无限增长
	for k, last := range r.lastSent {
		if now.Sub(last) >= r.window {
			delete(r.lastSent, k)
		}
	}
	if _, ok := r.lastSent[key]; ok {
		return false
	}
	r.lastSent[key] = now
	return true
}

// LogNotifier 将告警写入审计日志。
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	log := logger.Audit()
	if n != nil && n.Logger != nil {
		log = n.Logger
	}
	level := slog.LevelWarn
	if event.Severity == xerrors.SeverityCritical {
		level = slog.LevelError
	}
	attrs := []slog.Attr{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("submission_id", event.SubmissionID),
		slog.String("agent_id", event.AgentID),
		slog.Int("attempts", event.Attempts),
		slog.Int("max_retries", event.MaxRetries),
		slog.Time("occurred_at", event.OccurredAt),
	}
	for _, key := range slices.Sorted(maps.Keys(event.Metadata)) {
		attrs = append(attrs, slog.String("meta."+key, event.Metadata[key]))
	}
	log.LogAttrs(ctx, level, event.Message, attrs...)
	return nil
}

// WebhookNotifier 以 JSON POST 的形式把事件推送到外部地址。
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.URL == "" {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook 返回状态 %d", resp.StatusCode)
	}
	return nil
}
