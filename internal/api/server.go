package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/DarbotLM/Detris/internal/challenge"
	xerrors "github.com/DarbotLM/Detris/internal/errors"
	"github.com/DarbotLM/Detris/internal/leaderboard"
	"github.com/DarbotLM/Detris/internal/observability/metrics"
	"github.com/DarbotLM/Detris/internal/storage"
	"github.com/DarbotLM/Detris/internal/submission"
	"github.com/DarbotLM/Detris/pkg/logger"
)

// PublicKeyHeader 携带提交者的十六进制 secp256k1 公钥。
const PublicKeyHeader = "X-Detris-Public-Key"

const maxBodyBytes = 8 << 20

// Server 负责暴露 REST 接口，供外部提交证明与查询排行榜。
type Server struct {
	addr        string
	submissions *submission.Service
	board       *leaderboard.Service
	difficulty  float64
	metrics     bool
}

// Option 调整 Server 的可选参数。
type Option func(*Server)

// WithDefaultDifficulty 设置挑战查询未指定 difficulty 时使用的难度。
func WithDefaultDifficulty(d float64) Option {
	return func(s *Server) {
		s.difficulty = d
	}
}

// WithMetricsEndpoint 控制是否在 API 端口上挂载 /metrics。
func WithMetricsEndpoint(enabled bool) Option {
	return func(s *Server) {
		s.metrics = enabled
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, submissions *submission.Service, board *leaderboard.Service, opts ...Option) *Server {
	s := &Server{addr: addr, submissions: submissions, board: board, metrics: true}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回注册了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/submissions", instrument("submissions", http.HandlerFunc(s.handleSubmissions)))
	mux.Handle("/api/v1/submissions/", instrument("submission_detail", http.HandlerFunc(s.handleSubmissionDetail)))
	mux.Handle("/api/v1/rankings", instrument("rankings", http.HandlerFunc(s.handleRankings)))
	mux.Handle("/api/v1/challenges/", instrument("challenge_detail", http.HandlerFunc(s.handleChallenge)))
	if s.metrics {
		mux.Handle("/metrics", metrics.Handler())
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateSubmission(w, r)
	case http.MethodGet:
		s.handleListSubmissions(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleCreateSubmission 接收 PoL 并异步验证，立即返回 202。
func (s *Server) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	if s.submissions == nil {
		http.Error(w, "提交服务未初始化", http.StatusServiceUnavailable)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "读取请求体失败", http.StatusBadRequest)
		return
	}
	pol, err := storage.DecodePoL(body)
	if err != nil {
		writeError(w, err)
		return
	}

	sub, err := s.submissions.Submit(r.Context(), submission.Request{
		ID:        strings.TrimSpace(r.URL.Query().Get("id")),
		Proof:     pol,
		PublicKey: r.Header.Get(PublicKeyHeader),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sub)
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	if s.submissions == nil {
		http.Error(w, "提交服务未初始化", http.StatusServiceUnavailable)
		return
	}
	query := r.URL.Query()
	opts := []submission.ListOption{submission.WithLimit(intParam(query.Get("limit"), 0))}
	if offset := intParam(query.Get("offset"), 0); offset > 0 {
		opts = append(opts, submission.WithOffset(offset))
	}
	if agentID := strings.TrimSpace(query.Get("agent_id")); agentID != "" {
		opts = append(opts, submission.WithAgent(agentID))
	}
	if raw := query.Get("seed"); raw != "" {
		seed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "seed 参数无效", http.StatusBadRequest)
			return
		}
		opts = append(opts, submission.WithSeed(seed))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []submission.Status
		for _, part := range strings.Split(raw, ",") {
			status := submission.Status(strings.TrimSpace(part))
			if !submission.IsValidStatus(status) {
				http.Error(w, "status 参数无效", http.StatusBadRequest)
				return
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, submission.WithStatuses(statuses...))
	}
	if raw := query.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "since 参数必须是 RFC3339 时间", http.StatusBadRequest)
			return
		}
		opts = append(opts, submission.WithUpdatedBetween(since, time.Time{}))
	}
	if query.Get("order") == "asc" {
		opts = append(opts, submission.WithOldestFirst())
	}

	items, err := s.submissions.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.submissions.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "stats": stats})
}

func (s *Server) handleSubmissionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.submissions == nil {
		http.Error(w, "提交服务未初始化", http.StatusServiceUnavailable)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/submissions/"), "/")
	if id == "" {
		http.Error(w, "缺少提交 ID", http.StatusBadRequest)
		return
	}
	sub, err := s.submissions.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.board == nil {
		http.Error(w, "排行榜未初始化", http.StatusServiceUnavailable)
		return
	}
	query := r.URL.Query()
	var opts []leaderboard.QueryOption
	if raw := query.Get("seed"); raw != "" {
		seed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "seed 参数无效", http.StatusBadRequest)
			return
		}
		opts = append(opts, leaderboard.WithSeed(seed))
	}
	if agentID := strings.TrimSpace(query.Get("agent_id")); agentID != "" {
		opts = append(opts, leaderboard.WithAgent(agentID))
	}
	if limit := intParam(query.Get("limit"), 0); limit > 0 {
		opts = append(opts, leaderboard.WithLimit(limit))
	}

	entries, err := s.board.Rankings(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// challengeView 是挑战的只读表示，初始盘面使用线格式文本。
type challengeView struct {
	Seed          int64                  `json:"seed"`
	Difficulty    float64                `json:"difficulty"`
	MaxMoves      int                    `json:"max_moves"`
	ScoringPolicy string                 `json:"scoring_policy"`
	Constraints   []challenge.Constraint `json:"constraints"`
	InitialGrid   string                 `json:"initial_grid"`
	InitialCommit string                 `json:"initial_commit"`
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/challenges/"), "/")
	seed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		http.Error(w, "seed 参数无效", http.StatusBadRequest)
		return
	}
	query := r.URL.Query()
	difficulty := s.difficulty
	if v := query.Get("difficulty"); v != "" {
		difficulty, err = strconv.ParseFloat(v, 64)
		if err != nil {
			http.Error(w, "difficulty 参数无效", http.StatusBadRequest)
			return
		}
	}
	ch, err := challenge.Generate(seed, difficulty, challenge.WithPolicy(challenge.PolicyID(query.Get("policy"))))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, challengeView{
		Seed:          ch.Seed,
		Difficulty:    ch.Difficulty,
		MaxMoves:      ch.MaxMoves,
		ScoringPolicy: string(ch.Policy),
		Constraints:   ch.Constraints,
		InitialGrid:   storage.EncodeGrid(ch.Initial.Board),
		InitialCommit: ch.InitialCommit().String(),
	})
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError 按错误码注册的 HTTP 状态写出错误。
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, xerrors.HTTPStatus(err), errorResponse{Code: string(xerrors.CodeOf(err)), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

// statusRecorder 记录处理器写出的状态码。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 为处理器记录请求次数与耗时。
func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		reqLog := logger.Named("api").With(
			slog.String("handler", name),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		next.ServeHTTP(rec, r.WithContext(logger.IntoContext(r.Context(), reqLog)))
		elapsed := time.Since(started)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, elapsed)
		if rec.status >= http.StatusInternalServerError {
			reqLog.Error("请求处理失败", slog.Int("status", rec.status), slog.Duration("elapsed", elapsed))
		}
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
