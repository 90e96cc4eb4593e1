package submission

import (
	"context"
	"encoding/hex"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	xerrors "github.com/DarbotLM/Detris/internal/errors"
	"github.com/DarbotLM/Detris/internal/leaderboard"
	"github.com/DarbotLM/Detris/internal/observability/alerting"
	"github.com/DarbotLM/Detris/internal/observability/metrics"
	"github.com/DarbotLM/Detris/internal/proofs/learning"
	"github.com/DarbotLM/Detris/internal/storage"
	"github.com/DarbotLM/Detris/pkg/logger"
)

// Leaderboard 定义了处理器所需的排行榜能力：完整验证并在通过后上榜。
type Leaderboard interface {
	Submit(ctx context.Context, pol learning.Proof, publicKey []byte) (leaderboard.Entry, error)
}

// Processor 负责从队列消费提交并交给排行榜验证。
type Processor struct {
	board       Leaderboard
	store       Store
	artifacts   storage.ArtifactStore
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(board Leaderboard, store Store, artifacts storage.ArtifactStore, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		board:       board,
		store:       store,
		artifacts:   artifacts,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动提交处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置提交消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, id string) error {
	if p.store == nil || p.board == nil || p.artifacts == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	sub, err := p.store.Claim(ctx, id)
	if err != nil {
		if stdErrors.Is(err, ErrSubmissionNotFound) || stdErrors.Is(err, ErrSubmissionCompleted) || stdErrors.Is(err, ErrSubmissionExhausted) {
			p.logDebug("跳过提交", slog.String("submission_id", id), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取提交失败", slog.Any("error", err), slog.String("submission_id", id))
		p.emitAlert(ctx, &Submission{ID: id}, CodeSubmissionProcessing, err, "claim")
		return err
	}
	metrics.ObserveSubmission(string(StatusVerifying))

	pol, err := storage.LoadPoL(ctx, p.artifacts, sub.ID)
	if err != nil {
		return p.handleFailure(ctx, sub, err)
	}
	publicKey, err := hex.DecodeString(sub.PublicKey)
	if err != nil {
		return p.handleFailure(ctx, sub, xerrors.Wrap(xerrors.CodeMalformedInput, err, "解析公钥失败"))
	}

	entry, err := p.board.Submit(ctx, pol, publicKey)
	var rejected *leaderboard.RejectedError
	switch {
	case stdErrors.As(err, &rejected):
		failures := make([]string, 0, len(rejected.Failures))
		for _, f := range rejected.Failures {
			failures = append(failures, f.String())
		}
		return p.reject(ctx, sub, leaderboard.CodeSubmissionRejected, failures)
	case stdErrors.Is(err, leaderboard.ErrDuplicateEntry):
		return p.reject(ctx, sub, leaderboard.CodeDuplicateEntry, []string{err.Error()})
	case err != nil:
		return p.handleFailure(ctx, sub, err)
	}

	if err := p.store.MarkAccepted(ctx, sub.ID, entry.ID); err != nil {
		// 条目已上榜，不再重投。
		logger.L().Error("标记提交通过状态失败",
			slog.Any("error", err),
			slog.String("submission_id", sub.ID),
			slog.String("entry_id", entry.ID))
		return xerrors.Wrap(CodeSubmissionProcessing, err, fmt.Sprintf("提交 %s 已上榜但状态未更新", sub.ID))
	}
	metrics.ObserveSubmission(string(StatusAccepted))
	logger.Audit().Info("提交验证通过",
		slog.String("submission_id", sub.ID),
		slog.String("agent_id", sub.AgentID),
		slog.String("entry_id", entry.ID),
		slog.Float64("slope", entry.Improvement.Slope),
	)
	return nil
}

func (p *Processor) reject(ctx context.Context, sub *Submission, code xerrors.Code, failures []string) error {
	if err := p.store.MarkRejected(ctx, sub.ID, code, failures); err != nil {
		logger.L().Error("标记提交拒绝状态失败", slog.Any("error", err), slog.String("submission_id", sub.ID))
		return err
	}
	metrics.ObserveSubmission(string(StatusRejected))
	logger.Audit().Warn("提交验证未通过",
		slog.String("submission_id", sub.ID),
		slog.String("agent_id", sub.AgentID),
		slog.String("error_code", string(code)),
		slog.Any("failures", failures),
	)
	cause := xerrors.New(code, fmt.Sprintf("%d verification failure(s)", len(failures)),
		xerrors.WithMetadata("failures", strconv.Itoa(len(failures))))
	p.emitAlert(ctx, sub, code, cause, "rejected")
	return nil
}

func (p *Processor) handleFailure(ctx context.Context, sub *Submission, procErr error) error {
	code := xerrors.CodeOf(procErr)
	if code == xerrors.CodeUnknown {
		code = CodeSubmissionProcessing
	}
	retryable := xerrors.RetryableError(procErr)
	terminal := sub.Attempts >= sub.MaxRetries || !retryable

	if storeErr := p.store.MarkFailed(ctx, sub.ID, code, procErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记提交失败状态出错", slog.Any("error", storeErr), slog.String("submission_id", sub.ID))
		return storeErr
	}
	metrics.ObserveSubmission(string(StatusFailed))
	logger.Audit().Warn("提交处理失败",
		slog.String("submission_id", sub.ID),
		slog.String("agent_id", sub.AgentID),
		slog.Bool("terminal", terminal),
		slog.String("error", procErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", sub.Attempts),
		slog.Int("max_retries", sub.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
	}
	p.emitAlert(ctx, sub, code, procErr, stage)

	if !terminal {
		if pubErr := p.producer.Publish(ctx, sub.ID); pubErr != nil {
			return xerrors.Wrap(CodeSubmissionPublish, pubErr, fmt.Sprintf("提交 %s 重投失败", sub.ID))
		}
		p.logDebug("提交已重新排队", slog.String("submission_id", sub.ID), slog.Int("attempts", sub.Attempts))
	}
	return nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		p.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, sub *Submission, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || sub == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	metadata := map[string]string{
		"stage": stage,
	}
	if v, ok := xerrors.MetadataOf(cause, "failures"); ok {
		metadata["failures"] = v
	}
	event := alerting.Event{
		Code:         code,
		Message:      message,
		Severity:     attrs.Severity,
		SubmissionID: sub.ID,
		AgentID:      sub.AgentID,
		Attempts:     sub.Attempts,
		MaxRetries:   sub.MaxRetries,
		Metadata:     metadata,
		OccurredAt:   time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("submission_id", sub.ID),
			slog.String("stage", stage),
		)
	}
}
