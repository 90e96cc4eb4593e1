package submission

import (
	"context"
	"encoding/hex"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "github.com/DarbotLM/Detris/internal/errors"
	"github.com/DarbotLM/Detris/internal/observability/metrics"
	"github.com/DarbotLM/Detris/internal/proofs"
	"github.com/DarbotLM/Detris/internal/proofs/learning"
	"github.com/DarbotLM/Detris/internal/storage"
	"github.com/DarbotLM/Detris/pkg/logger"
)

// Request 描述一次提交请求。ID 为空时自动生成，非空时同 ID 的重复提交是幂等的。
type Request struct {
	ID        string
	Proof     learning.Proof
	PublicKey string
}

// Service 负责提交的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	artifacts  storage.ArtifactStore
	maxRetries int
}

// NewService 构造提交服务。
func NewService(store Store, producer Producer, artifacts storage.ArtifactStore, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, artifacts: artifacts, maxRetries: maxRetries}
}

// Submit 保存证明并将提交推送到队列，验证在 Processor 中异步完成。
func (s *Service) Submit(ctx context.Context, req Request) (*Submission, error) {
	if s.store == nil || s.producer == nil || s.artifacts == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "提交服务未初始化")
	}
	pol := req.Proof
	if strings.TrimSpace(pol.AgentID) == "" {
		return nil, xerrors.New(CodeSubmissionValidation, "agent_id 不能为空")
	}
	if len(pol.Attempts) == 0 {
		return nil, xerrors.New(CodeSubmissionValidation, "证明至少需要一次尝试")
	}
	publicKey, err := proofs.ParsePublicKey(req.PublicKey)
	if err != nil {
		return nil, xerrors.Wrap(CodeSubmissionValidation, err, "公钥无效")
	}
	digest, err := pol.Digest()
	if err != nil {
		return nil, xerrors.Wrap(CodeSubmissionValidation, err, "计算证明摘要失败")
	}

	id := strings.TrimSpace(req.ID)
	if id != "" {
		existing, err := s.store.Get(ctx, id)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrSubmissionNotFound) {
			return nil, err
		}
	} else {
		id = uuid.NewString()
	}

	if err := storage.SavePoL(ctx, s.artifacts, id, pol); err != nil {
		return nil, err
	}
	sub := &Submission{
		ID:          id,
		AgentID:     pol.AgentID,
		Seed:        pol.Challenge.Seed,
		ProofDigest: digest.String(),
		PublicKey:   hex.EncodeToString(publicKey),
		Status:      StatusPending,
		MaxRetries:  s.maxRetries,
	}
	if err := s.store.Create(ctx, sub); err != nil {
		if stdErrors.Is(err, ErrSubmissionConflict) {
			existing, getErr := s.store.Get(ctx, id)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrSubmissionNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, id); err != nil {
		logger.FromContext(ctx).Error("提交入队失败", slog.Any("error", err), slog.String("submission_id", id))
		wrapped := xerrors.Wrap(CodeSubmissionPublish, err, "发布提交到队列失败")
		_ = s.store.MarkFailed(ctx, id, CodeSubmissionPublish, wrapped.Error(), true)
		metrics.ObserveSubmission(string(StatusFailed))
		return nil, wrapped
	}
	metrics.ObserveSubmission(string(StatusPending))
	logger.Audit().Info("提交入队成功",
		slog.String("submission_id", id),
		slog.String("agent_id", sub.AgentID),
		slog.Int64("seed", sub.Seed),
		slog.String("proof_digest", sub.ProofDigest),
		slog.Int("max_retries", sub.MaxRetries),
	)
	return sub, nil
}

// Get 返回指定提交的状态。
func (s *Service) Get(ctx context.Context, id string) (*Submission, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "提交存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的提交列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Submission, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "提交存储未初始化")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats 返回符合过滤条件的提交统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "提交存储未初始化")
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// Close 释放资源。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	if s.artifacts != nil {
		errs = append(errs, s.artifacts.Close())
	}
	return stdErrors.Join(errs...)
}

// WaitUntilDone 在指定超时时间内轮询提交状态，直到得到最终结论。
func (s *Service) WaitUntilDone(ctx context.Context, id string, interval time.Duration) (*Submission, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sub, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if sub.Done() {
			return sub, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
