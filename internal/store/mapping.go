package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go-press-sync/internal/model"
)

// ErrConflict 表示 CAS 写入失败：记录已被其他写入者插入或修改，
// 或目标远端 id 已关联到另一条本地实体。调用方应重新读取后再决定。
var ErrConflict = errors.New("mapping conflict")

const mappingCols = `entity_type, local_id, remote_id, sync_status, last_synced_at, COALESCE(last_error,''),
    local_modified_at, COALESCE(fingerprint,''), COALESCE(direction,''), attempts, claimed_at, version, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMapping(r rowScanner) (model.Mapping, error) {
	var m model.Mapping
	var remoteID sql.NullInt64
	var lastSynced, localModified, claimed, updated sql.NullTime
	if err := r.Scan(&m.EntityType, &m.LocalID, &remoteID, &m.Status, &lastSynced, &m.LastError,
		&localModified, &m.Fingerprint, &m.Direction, &m.Attempts, &claimed, &m.Version, &updated); err != nil {
		return m, err
	}
	m.RemoteID = remoteID.Int64
	m.LastSyncedAt = timeOf(lastSynced)
	m.LocalModifiedAt = timeOf(localModified)
	m.ClaimedAt = timeOf(claimed)
	m.UpdatedAt = timeOf(updated)
	return m, nil
}

func nullRemote(id int64) sql.NullInt64 {
	if id <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: id, Valid: true}
}

// Find 按本地 id 查找映射；不存在时返回 nil。
func (s *SQLite) Find(ctx context.Context, t model.EntityType, localID string) (*model.Mapping, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mappingCols+` FROM sync_mappings WHERE entity_type = ? AND local_id = ?`, t, localID)
	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find mapping %s/%s: %w", t, localID, err)
	}
	return &m, nil
}

// FindByRemote 按远端 id 查找映射；不存在时返回 nil。
func (s *SQLite) FindByRemote(ctx context.Context, t model.EntityType, remoteID int64) (*model.Mapping, error) {
	if remoteID <= 0 {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+mappingCols+` FROM sync_mappings WHERE entity_type = ? AND remote_id = ?`, t, remoteID)
	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find mapping %s#%d: %w", t, remoteID, err)
	}
	return &m, nil
}

// Upsert 以 CAS 方式写入映射并返回写入后的记录（含新的 Version）。
//   - Version == 0：仅当 (entity_type, local_id) 与 (entity_type, remote_id) 都不存在时插入
//   - Version > 0：仅当库中版本一致时更新，版本号 +1
//
// 两种情况下冲突都返回 ErrConflict。
func (s *SQLite) Upsert(ctx context.Context, m model.Mapping) (model.Mapping, error) {
	if m.EntityType == "" || m.LocalID == "" {
		return m, errors.New("mapping.entity_type and mapping.local_id required")
	}
	if m.Status == "" {
		m.Status = model.SyncPending
	}
	m.UpdatedAt = s.now()
	if m.Version == 0 {
		res, err := s.db.ExecContext(ctx, `INSERT INTO sync_mappings(entity_type, local_id, remote_id, sync_status, last_synced_at,
            last_error, local_modified_at, fingerprint, direction, attempts, claimed_at, version, updated_at)
            VALUES(?,?,?,?,?,?,?,?,?,?,?,1,?)
            ON CONFLICT DO NOTHING`,
			m.EntityType, m.LocalID, nullRemote(m.RemoteID), m.Status, nullTime(m.LastSyncedAt),
			m.LastError, nullTime(m.LocalModifiedAt), m.Fingerprint, m.Direction, m.Attempts, nullTime(m.ClaimedAt), m.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return m, ErrConflict
			}
			return m, fmt.Errorf("insert mapping %s/%s: %w", m.EntityType, m.LocalID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return m, ErrConflict
		}
		m.Version = 1
		return m, nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sync_mappings SET remote_id = ?, sync_status = ?, last_synced_at = ?, last_error = ?,
        local_modified_at = ?, fingerprint = ?, direction = ?, attempts = ?, claimed_at = ?, version = version + 1, updated_at = ?
        WHERE entity_type = ? AND local_id = ? AND version = ?`,
		nullRemote(m.RemoteID), m.Status, nullTime(m.LastSyncedAt), m.LastError, nullTime(m.LocalModifiedAt),
		m.Fingerprint, m.Direction, m.Attempts, nullTime(m.ClaimedAt), m.UpdatedAt,
		m.EntityType, m.LocalID, m.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return m, ErrConflict
		}
		return m, fmt.Errorf("update mapping %s/%s: %w", m.EntityType, m.LocalID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return m, ErrConflict
	}
	m.Version++
	return m, nil
}

// ListPending 返回待推送的映射。
func (s *SQLite) ListPending(ctx context.Context, t model.EntityType) ([]model.Mapping, error) {
	return s.ListByStatus(ctx, t, model.SyncPending)
}

// ListByStatus 返回指定状态的映射，按更新时间先后排序。
func (s *SQLite) ListByStatus(ctx context.Context, t model.EntityType, st model.SyncStatus) ([]model.Mapping, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+mappingCols+` FROM sync_mappings
        WHERE entity_type = ? AND sync_status = ? ORDER BY rowid`, t, st)
	if err != nil {
		return nil, fmt.Errorf("query mappings %s/%s: %w", t, st, err)
	}
	defer rows.Close()
	var out []model.Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mappings: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mappings: %w", err)
	}
	return out, nil
}

// MarkDirty 将已存在的映射置为 pending（推送方向），使下一轮推送重新处理该实体。
// 映射不存在时返回 false（未映射的实体本来就会被推送）。
func (s *SQLite) MarkDirty(ctx context.Context, t model.EntityType, localID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE sync_mappings SET sync_status = ?, direction = ?, version = version + 1, updated_at = ?
        WHERE entity_type = ? AND local_id = ?`, model.SyncPending, model.DirectionPush, s.now(), t, localID)
	if err != nil {
		return false, fmt.Errorf("mark dirty %s/%s: %w", t, localID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Counts 统计某实体种类各同步状态的映射数量。
func (s *SQLite) Counts(ctx context.Context, t model.EntityType) (model.MappingCounts, error) {
	var c model.MappingCounts
	rows, err := s.db.QueryContext(ctx, `SELECT sync_status, COUNT(1) FROM sync_mappings WHERE entity_type = ? GROUP BY sync_status`, t)
	if err != nil {
		return c, fmt.Errorf("count mappings %s: %w", t, err)
	}
	defer rows.Close()
	for rows.Next() {
		var st model.SyncStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return c, fmt.Errorf("scan mapping counts: %w", err)
		}
		switch st {
		case model.SyncSynced:
			c.Synced = n
		case model.SyncPending:
			c.Pending = n
		case model.SyncError:
			c.Error = n
		}
	}
	if err := rows.Err(); err != nil {
		return c, fmt.Errorf("iterate mapping counts: %w", err)
	}
	return c, nil
}
