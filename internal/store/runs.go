package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go-press-sync/internal/model"
)

// RecordRun 写入一次同步历史，返回自增 id。
func (s *SQLite) RecordRun(ctx context.Context, r model.Run) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO sync_runs(scope, entity_type, started_at, finished_at,
        created, updated, unchanged, skipped, failed, aborted)
        VALUES(?,?,?,?,?,?,?,?,?,?)`,
		r.Scope, r.EntityType, nullTime(r.StartedAt), nullTime(r.FinishedAt),
		r.Created, r.Updated, r.Unchanged, r.Skipped, r.Failed, r.Aborted)
	if err != nil {
		return 0, fmt.Errorf("insert sync run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sync run id: %w", err)
	}
	return id, nil
}

// LastSuccessfulRun 返回 scope 下最近一次无失败、无中止的同步；没有时返回 nil。
func (s *SQLite) LastSuccessfulRun(ctx context.Context, scope string) (*model.Run, error) {
	var r model.Run
	var started, finished sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT id, COALESCE(scope,''), COALESCE(entity_type,''), started_at, finished_at,
        created, updated, unchanged, skipped, failed, aborted
        FROM sync_runs WHERE scope = ? AND failed = 0 AND aborted = 0 ORDER BY id DESC LIMIT 1`, scope).
		Scan(&r.ID, &r.Scope, &r.EntityType, &started, &finished, &r.Created, &r.Updated, &r.Unchanged, &r.Skipped, &r.Failed, &r.Aborted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last successful run: %w", err)
	}
	r.StartedAt = timeOf(started)
	r.FinishedAt = timeOf(finished)
	return &r, nil
}

// PruneRuns 只保留最近 keep 条同步历史。
func (s *SQLite) PruneRuns(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_runs WHERE id NOT IN (SELECT id FROM sync_runs ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return fmt.Errorf("prune sync runs: %w", err)
	}
	return nil
}
