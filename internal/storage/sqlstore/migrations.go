package sqlstore

import (
	"bufio"
	"cmp"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/DarbotLM/Detris/deploy/migrations"
)

// migration 是一个按版本号排序的 SQL 文件。
type migration struct {
	version    string
	name       string
	checksum   string
	statements []string
}

var loadPlan = sync.OnceValues(func() ([]migration, error) {
	return readMigrations(migrations.Files)
})

const createLedger = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version VARCHAR(32) NOT NULL PRIMARY KEY,
    checksum VARCHAR(64) NOT NULL,
    applied_at BIGINT NOT NULL
)`

// Migrate 依次执行尚未应用的迁移。已应用迁移的内容被修改时返回错误，
// 避免两个实例在不同的表结构上运行。
func Migrate(ctx context.Context, db *sql.DB) error {
	plan, err := loadPlan()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, createLedger); err != nil {
		return fmt.Errorf("创建 schema_migrations 表失败: %w", err)
	}
	applied, err := appliedChecksums(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range plan {
		sum, ok := applied[m.version]
		if ok {
			if sum != m.checksum {
				return fmt.Errorf("迁移 %s 已应用但内容发生变化", m.name)
			}
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

// AppliedVersions 返回已记录的迁移版本，按版本号升序。
func AppliedVersions(ctx context.Context, db *sql.DB) ([]string, error) {
	applied, err := appliedChecksums(ctx, db)
	if err != nil {
		return nil, err
	}
	versions := make([]string, 0, len(applied))
	for v := range applied {
		versions = append(versions, v)
	}
	slices.Sort(versions)
	return versions, nil
}

func appliedChecksums(ctx context.Context, db *sql.DB) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("查询 schema_migrations 失败: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var version, sum string
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, fmt.Errorf("解析 schema_migrations 失败: %w", err)
		}
		out[version] = sum
	}
	return out, rows.Err()
}

func apply(ctx context.Context, db *sql.DB, m migration) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启迁移事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i, stmt := range m.statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("迁移 %s 第 %d 条语句失败: %w", m.name, i+1, err)
		}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, checksum, applied_at) VALUES (?, ?, ?)`,
		m.version, m.checksum, time.Now().Unix()); err != nil {
		return fmt.Errorf("记录迁移 %s 失败: %w", m.name, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("提交迁移 %s 失败: %w", m.name, err)
	}
	return nil
}

func readMigrations(fsys fs.FS) ([]migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("读取迁移目录失败: %w", err)
	}
	out := make([]migration, 0, len(names))
	seen := make(map[string]string, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("读取迁移文件 %s 失败: %w", name, err)
		}
		version := versionOf(name)
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("迁移 %s 与 %s 版本号重复", name, prev)
		}
		seen[version] = name
		statements := splitStatements(string(content))
		if len(statements) == 0 {
			continue
		}
		sum := sha256.Sum256(content)
		out = append(out, migration{
			version:    version,
			name:       name,
			checksum:   hex.EncodeToString(sum[:]),
			statements: statements,
		})
	}
	slices.SortFunc(out, func(a, b migration) int { return cmp.Compare(a.version, b.version) })
	return out, nil
}

// splitStatements 去掉整行注释后按分号切分语句。
func splitStatements(content string) []string {
	var (
		buf strings.Builder
		out []string
	)
	flush := func() {
		if stmt := strings.TrimSpace(buf.String()); stmt != "" {
			out = append(out, stmt)
		}
		buf.Reset()
	}
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for {
			idx := strings.IndexByte(line, ';')
			if idx < 0 {
				break
			}
			buf.WriteString(line[:idx])
			flush()
			line = line[idx+1:]
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	flush()
	return out
}

// versionOf 取文件名中第一个下划线之前的部分作为版本号。
func versionOf(name string) string {
	base := strings.TrimSuffix(path.Base(name), ".sql")
	if v, _, ok := strings.Cut(base, "_"); ok && v != "" {
		return v
	}
	return base
}
