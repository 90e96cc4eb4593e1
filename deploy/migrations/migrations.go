package migrations

import "embed"

// Files 暴露排行榜与提交队列的 SQL 迁移文件，MySQL 与 SQLite 共用同一套语句。
//
//go:embed *.sql
var Files embed.FS
