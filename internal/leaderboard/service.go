package leaderboard

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "github.com/DarbotLM/Detris/internal/errors"
	"github.com/DarbotLM/Detris/internal/observability/metrics"
	"github.com/DarbotLM/Detris/internal/proofs/learning"
	"github.com/DarbotLM/Detris/pkg/logger"
)

// Service 负责验证提交并维护排行榜。写入经由单一互斥锁串行化，
// 查询直接访问存储。
type Service struct {
	writeMu sync.Mutex
	store   Store
	now     func() time.Time
	log     *slog.Logger
}

// ServiceOption 定制 Service。
type ServiceOption func(*Service)

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger 指定日志实例。
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService 构造排行榜服务。
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.log == nil {
		s.log = logger.Named("leaderboard")
	}
	return s
}

// Submit 完整验证证明，通过后追加到排行榜。未通过的证明返回 *RejectedError。
func (s *Service) Submit(ctx context.Context, pol learning.Proof, publicKey []byte) (Entry, error) {
	if s == nil || s.store == nil {
		return Entry{}, xerrors.New(xerrors.CodeInitializationFailure, "排行榜服务未初始化")
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, xerrors.Wrap(xerrors.CodeTimeout, err, "提交已取消")
	}

	started := time.Now()
	result := learning.Verify(pol, publicKey)
	metrics.ObserveVerification(result.Valid, time.Since(started))
	if !result.Valid {
		logger.Audit().Warn("leaderboard submission rejected",
			slog.String("agent_id", pol.AgentID),
			slog.Int64("seed", pol.Challenge.Seed),
			slog.Int("failures", len(result.Failures)))
		return Entry{}, &RejectedError{Failures: result.Failures}
	}

	digest, err := pol.Digest()
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{
		ID:          uuid.NewString(),
		ProofDigest: digest.String(),
		AgentID:     pol.AgentID,
		Seed:        pol.Challenge.Seed,
		Difficulty:  pol.Challenge.Difficulty,
		Policy:      string(pol.Challenge.Policy),
		Attempts:    len(pol.Attempts),
		Scores:      append([]float64(nil), pol.Scores...),
		Improvement: pol.Improvement,
		PublicKey:   hex.EncodeToString(publicKey),
	}

	s.writeMu.Lock()
	entry.SubmittedAt = s.now().UTC()
	err = s.store.Append(ctx, entry)
	s.writeMu.Unlock()
	if err != nil {
		return Entry{}, err
	}

	logger.Audit().Info("leaderboard entry appended",
		slog.String("entry_id", entry.ID),
		slog.String("agent_id", entry.AgentID),
		slog.Int64("seed", entry.Seed),
		slog.Float64("slope", entry.Improvement.Slope),
		slog.String("proof_digest", entry.ProofDigest))
	s.log.Debug("entry appended", slog.String("entry_id", entry.ID))
	if n, err := s.store.Count(ctx); err == nil {
		metrics.SetLeaderboardEntries(n)
	}
	return entry, nil
}

// Rankings 返回排名，默认按斜率降序。
func (s *Service) Rankings(ctx context.Context, opts ...QueryOption) ([]Entry, error) {
	if s == nil || s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "排行榜服务未初始化")
	}
	return s.store.Rankings(ctx, buildQueryOptions(opts))
}

// Count 返回排行榜中的记录数。
func (s *Service) Count(ctx context.Context) (int, error) {
	if s == nil || s.store == nil {
		return 0, xerrors.New(xerrors.CodeInitializationFailure, "排行榜服务未初始化")
	}
	return s.store.Count(ctx)
}
