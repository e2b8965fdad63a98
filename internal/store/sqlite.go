// 包 store 提供存储实现（SQLite），包含映射表、本地内容表与同步历史的迁移/写入/查询/清理。
// 映射表是多个编排器之间唯一共享的可变状态，所有写入均为单条 SQL（CAS），不做先读后写。
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite 封装 *sql.DB，基于 modernc.org/sqlite（纯 Go 实现）。
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite 打开 SQLite 数据库并执行自动迁移。
// 同一文件可被多个进程（多个编排器）同时打开，WAL + busy_timeout 保证写入串行化。
func OpenSQLite(path string) (*SQLite, error) {
	// 说明：modernc sqlite 的 DSN 可直接使用文件路径，或以 'file:...' 前缀表示
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLite{db: db, now: func() time.Time { return time.Now().UTC() }}
	for _, p := range []string{`PRAGMA busy_timeout = 5000`, `PRAGMA journal_mode = WAL`} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// Ping 检查数据库可用。
func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Reset 清空全部业务数据表（不删除数据库文件）。
func (s *SQLite) Reset(ctx context.Context) error {
	for _, t := range []string{"sync_mappings", "posts", "categories", "tags", "media", "sync_runs"} {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+t); err != nil {
			return fmt.Errorf("delete %s: %w", t, err)
		}
	}
	return nil
}

// migrate 执行建表语句，保持幂等。
func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sync_mappings (
            entity_type TEXT NOT NULL,
            local_id TEXT NOT NULL,
            remote_id INTEGER,
            sync_status TEXT NOT NULL,
            last_synced_at TIMESTAMP,
            last_error TEXT,
            local_modified_at TIMESTAMP,
            fingerprint TEXT,
            direction TEXT,
            attempts INTEGER NOT NULL DEFAULT 0,
            claimed_at TIMESTAMP,
            version INTEGER NOT NULL DEFAULT 1,
            updated_at TIMESTAMP,
            PRIMARY KEY (entity_type, local_id)
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_mappings_remote ON sync_mappings(entity_type, remote_id);`,
		`CREATE INDEX IF NOT EXISTS idx_sync_mappings_status ON sync_mappings(entity_type, sync_status);`,
		`CREATE TABLE IF NOT EXISTS posts (
            id TEXT PRIMARY KEY,
            title TEXT,
            content TEXT,
            excerpt TEXT,
            slug TEXT,
            status TEXT,
            author TEXT,
            category_ids TEXT,
            tag_ids TEXT,
            featured_media_id TEXT,
            published_at TIMESTAMP,
            updated_at TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS categories (
            id TEXT PRIMARY KEY,
            name TEXT,
            slug TEXT,
            description TEXT,
            parent_id TEXT,
            updated_at TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS tags (
            id TEXT PRIMARY KEY,
            name TEXT,
            slug TEXT,
            description TEXT,
            updated_at TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS media (
            id TEXT PRIMARY KEY,
            title TEXT,
            alt_text TEXT,
            caption TEXT,
            mime_type TEXT,
            file_name TEXT,
            source_url TEXT,
            data BLOB,
            updated_at TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS sync_runs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            scope TEXT,
            entity_type TEXT,
            started_at TIMESTAMP,
            finished_at TIMESTAMP,
            created INTEGER,
            updated INTEGER,
            unchanged INTEGER,
            skipped INTEGER,
            failed INTEGER,
            aborted INTEGER
        );`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("exec migrate: %w", err)
		}
	}
	return nil
}

// isUniqueViolation 识别唯一约束冲突（modernc 以错误文本体现）。
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// nullTime 将零值时间写为 NULL，非零值统一为 UTC。
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timeOf(nt sql.NullTime) time.Time {
	if !nt.Valid {
		return time.Time{}
	}
	return nt.Time.UTC()
}

func nowOr(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}
