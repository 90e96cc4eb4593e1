package leaderboard

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	xerrors "github.com/DarbotLM/Detris/internal/errors"
	"github.com/DarbotLM/Detris/internal/storage/sqlstore"
)

// SQLStore 将排行榜保存在 MySQL 或 SQLite 中。
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore 基于已迁移的连接创建 SQLStore。
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const entryColumns = `id, proof_digest, agent_id, seed, difficulty, policy, attempts, scores,
        slope, pct_improvement, initial_score, final_score, best_score, mean_score,
        public_key, submitted_at`

// Append 实现 Store 接口。
func (s *SQLStore) Append(ctx context.Context, entry Entry) error {
	scores, err := json.Marshal(entry.Scores)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化成绩失败")
	}
	imp := entry.Improvement
	_, err = s.db.ExecContext(ctx, `INSERT INTO leaderboard_entries (`+entryColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ProofDigest, entry.AgentID, entry.Seed, entry.Difficulty, entry.Policy,
		entry.Attempts, string(scores), imp.Slope, imp.PctImprovement, imp.Initial, imp.Final,
		imp.Best, imp.Mean, entry.PublicKey, entry.SubmittedAt.UnixNano())
	if err != nil {
		if sqlstore.IsUniqueViolation(err) {
			return ErrDuplicateEntry
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入排行榜失败")
	}
	return nil
}

// Rankings 实现 Store 接口。
func (s *SQLStore) Rankings(ctx context.Context, opts QueryOptions) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if opts.Seed != nil {
		where = append(where, "seed = ?")
		args = append(args, *opts.Seed)
	}
	if opts.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, opts.AgentID)
	}
	query := `SELECT ` + entryColumns + ` FROM leaderboard_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY slope DESC, best_score DESC, submitted_at ASC, id ASC LIMIT ?"
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询排行榜失败")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历排行榜失败")
	}
	return out, nil
}

// Count 实现 Store 接口。
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leaderboard_entries`).Scan(&n); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计排行榜失败")
	}
	return n, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e         Entry
		scores    string
		submitted int64
	)
	if err := rows.Scan(&e.ID, &e.ProofDigest, &e.AgentID, &e.Seed, &e.Difficulty, &e.Policy,
		&e.Attempts, &scores, &e.Improvement.Slope, &e.Improvement.PctImprovement,
		&e.Improvement.Initial, &e.Improvement.Final, &e.Improvement.Best, &e.Improvement.Mean,
		&e.PublicKey, &submitted); err != nil {
		return Entry{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析排行榜记录失败")
	}
	if err := json.Unmarshal([]byte(scores), &e.Scores); err != nil {
		return Entry{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("记录 %s 的成绩无法解析", e.ID))
	}
	e.SubmittedAt = time.Unix(0, submitted).UTC()
	return e, nil
}
