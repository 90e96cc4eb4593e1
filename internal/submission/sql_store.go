package submission

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	xerrors "github.com/DarbotLM/Detris/internal/errors"
	"github.com/DarbotLM/Detris/internal/storage/sqlstore"
)

// SQLStore 使用 MySQL 或 SQLite 记录提交状态。
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore 基于已迁移的连接创建 SQLStore。
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const submissionColumns = `id, agent_id, seed, proof_digest, public_key, status, attempts, max_retries,
        failures, entry_id, last_error, error_code, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*Submission, error) {
	var (
		s         Submission
		failures  sql.NullString
		entryID   sql.NullString
		lastError sql.NullString
		errorCode sql.NullString
	)
	if err := row.Scan(&s.ID, &s.AgentID, &s.Seed, &s.ProofDigest, &s.PublicKey, &s.Status,
		&s.Attempts, &s.MaxRetries, &failures, &entryID, &lastError, &errorCode,
		&s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if failures.Valid && strings.TrimSpace(failures.String) != "" {
		if err := json.Unmarshal([]byte(failures.String), &s.Failures); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析提交失败原因失败")
		}
	}
	s.EntryID = entryID.String
	s.LastError = lastError.String
	s.ErrorCode = errorCode.String
	return &s, nil
}

// Create 插入新的提交记录。
func (s *SQLStore) Create(ctx context.Context, sub *Submission) error {
	if sub == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "submission 不能为空")
	}
	if strings.TrimSpace(sub.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "提交 ID 不能为空")
	}

	now := time.Now().Unix()
	if sub.CreatedAt == 0 {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `INSERT INTO submissions (`+submissionColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, NULL, NULL, ?, ?)`,
		sub.ID, sub.AgentID, sub.Seed, sub.ProofDigest, sub.PublicKey, sub.Status,
		sub.Attempts, sub.MaxRetries, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		if sqlstore.IsUniqueViolation(err) {
			return ErrSubmissionConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入提交失败")
	}
	return nil
}

// Get 查询指定提交。
func (s *SQLStore) Get(ctx context.Context, id string) (*Submission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubmissionNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询提交失败")
	}
	return sub, nil
}

// Claim 将提交标记为验证中并返回最新状态。
func (s *SQLStore) Claim(ctx context.Context, id string) (*Submission, error) {
	const updateStmt = `UPDATE submissions SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = NULL, error_code = NULL
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`

	res, err := s.db.ExecContext(ctx, updateStmt,
		StatusVerifying,
		time.Now().Unix(),
		id,
		StatusPending,
		StatusFailed,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新提交状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	sub, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if affected == 0 {
		switch sub.Status {
		case StatusAccepted, StatusRejected:
			return sub, ErrSubmissionCompleted
		case StatusVerifying:
			return sub, ErrSubmissionConflict
		default:
			if sub.Attempts >= sub.MaxRetries {
				return sub, ErrSubmissionExhausted
			}
			return sub, ErrSubmissionConflict
		}
	}
	return sub, nil
}

func (s *SQLStore) update(ctx context.Context, id, stmt string, args ...any) error {
	res, err := s.db.ExecContext(ctx, stmt, append(args, id)...)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新提交失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrSubmissionNotFound
	}
	return nil
}

// MarkAccepted 将提交标记为已上榜。
func (s *SQLStore) MarkAccepted(ctx context.Context, id, entryID string) error {
	return s.update(ctx, id, `UPDATE submissions SET status = ?, entry_id = ?, failures = NULL, last_error = NULL,
        error_code = NULL, updated_at = ? WHERE id = ?`,
		StatusAccepted, entryID, time.Now().Unix())
}

// MarkRejected 将提交标记为验证失败。
func (s *SQLStore) MarkRejected(ctx context.Context, id string, code xerrors.Code, failures []string) error {
	encoded, err := json.Marshal(failures)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化失败原因失败")
	}
	return s.update(ctx, id, `UPDATE submissions SET status = ?, failures = ?, error_code = ?, last_error = NULL,
        updated_at = ? WHERE id = ?`,
		StatusRejected, string(encoded), string(code), time.Now().Unix())
}

// MarkFailed 将提交标记为处理失败，并在必要时终止重试。
func (s *SQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	stmt := `UPDATE submissions SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`
	if terminal {
		stmt = `UPDATE submissions SET status = ?, last_error = ?, error_code = ?, updated_at = ?,
        attempts = CASE WHEN attempts < max_retries THEN max_retries ELSE attempts END WHERE id = ?`
	}
	return s.update(ctx, id, stmt, StatusFailed, lastError, string(code), time.Now().Unix())
}

// List 返回符合过滤条件的提交。
func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]*Submission, error) {
	opts.normalize()

	query := `SELECT ` + submissionColumns + ` FROM submissions`
	clause, args := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询提交列表失败")
	}
	defer rows.Close()

	out := make([]*Submission, 0, opts.Limit)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析提交记录失败")
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历提交失败")
	}
	return out, nil
}

// Stats 返回符合过滤条件的提交聚合信息。
func (s *SQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.normalize()

	query := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS verifying,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS accepted,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS rejected,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM submissions`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{string(StatusPending), string(StatusVerifying), string(StatusAccepted),
		string(StatusRejected), string(StatusFailed)}
	args = append(args, filterArgs...)

	var stats Stats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Verifying,
		&stats.Accepted,
		&stats.Rejected,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询提交统计失败")
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 5)
	args := make([]any, 0, 6)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, opts.AgentID)
	}
	if opts.Seed != nil {
		conditions = append(conditions, "seed = ?")
		args = append(args, *opts.Seed)
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*SQLStore)(nil)
