// 包 engine 为同步引擎的入口：把配置、本地存储、远端适配器、编排器、
// 快照构建器、统计与指标组装在一起，供 HTTP 接口、命令行与轮询器调用。
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-press-sync/internal/backup"
	"go-press-sync/internal/config"
	"go-press-sync/internal/content"
	"go-press-sync/internal/errs"
	"go-press-sync/internal/fetch"
	"go-press-sync/internal/health"
	"go-press-sync/internal/logx"
	"go-press-sync/internal/metrics"
	"go-press-sync/internal/model"
	"go-press-sync/internal/reconcile"
	"go-press-sync/internal/remote"
	"go-press-sync/internal/store"
)

var (
	// ErrSyncDisabled 表示站点关闭了同步（sync_enabled=false）。
	ErrSyncDisabled = errors.New("sync disabled for this site")
	// ErrCommentsDisabled 表示站点未开启评论管理。
	ErrCommentsDisabled = errors.New("comment moderation disabled for this site")
	// ErrNotMapped 表示实体尚无映射记录，无需标记。
	ErrNotMapped = errors.New("entity has no mapping")
)

// keepRuns 为保留的同步历史条数。
const keepRuns = 500

// Engine 可被多个 goroutine 并发调用；并发的同步由映射表的 CAS 保证不重复创建。
type Engine struct {
	cfg     *config.Config
	store   *store.SQLite
	http    *fetch.Client
	remote  *remote.Client
	orch    *reconcile.Orchestrator
	backups *backup.Builder
	health  *health.Reporter
	metrics *metrics.Metrics

	// period 返回定时备份间隔，测试中替换。
	period func(config.Backup) (time.Duration, error)
}

// New 按配置组装引擎。m 为 nil 时新建指标集合。
func New(cfg *config.Config, db *store.SQLite, m *metrics.Metrics) (*Engine, error) {
	if m == nil {
		m = metrics.New()
	}
	hc, err := fetch.New(fetch.Options{
		ProxyHTTP:  cfg.Proxy.HTTP,
		ProxyHTTPS: cfg.Proxy.HTTPS,
		Timeout:    cfg.Concurrency.RequestTimeout + 5*time.Second,
		Retry:      cfg.Concurrency.Retry,
	})
	if err != nil {
		return nil, fmt.Errorf("http client: %w", err)
	}
	rc := remote.New(hc, remote.Options{
		Timeout:           cfg.Concurrency.RequestTimeout,
		RequestsPerSecond: cfg.Concurrency.RequestsPerSecond,
		Observer:          m.ObserveRequest,
	})
	orch := reconcile.New(rc, db, db, reconcile.Options{
		Retry:           cfg.Concurrency.Retry,
		ClaimLease:      cfg.Concurrency.ClaimLease,
		BreakerFailures: cfg.Concurrency.BreakerFailures,
		PageSize:        cfg.Concurrency.PageSize,
		Normalizer: content.Normalizer{
			ExcerptLength:  cfg.Content.ExcerptLength,
			StripSelectors: cfg.Content.StripSelectors,
		},
		OnResult: m.ObserveResult,
	})
	return &Engine{
		cfg:     cfg,
		store:   db,
		http:    hc,
		remote:  rc,
		orch:    orch,
		backups: backup.NewBuilder(rc, 3),
		health:  health.New(rc, db, hc),
		metrics: m,
		period:  config.Backup.Period,
	}, nil
}

// Close 释放空闲连接。存储由调用方关闭。
func (e *Engine) Close() { e.http.CloseIdleConnections() }

// Ping 检查本地存储是否可用。
func (e *Engine) Ping(ctx context.Context) error { return e.store.Ping(ctx) }

// Metrics 返回指标集合。
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// Connection 返回 scope 对应的站点连接。
func (e *Engine) Connection(scope string) (config.Connection, error) {
	return e.cfg.Connection(scope)
}

// TestConnection 探测给定连接（可为尚未保存的配置），不修改任何状态。
func (e *Engine) TestConnection(ctx context.Context, conn config.Connection) model.ConnectionStatus {
	return e.health.Probe(ctx, conn)
}

// TriggerSync 执行一轮同步；types 为空表示全部种类。
// 未配置的 scope 得到全部种类中止的报告且不发出请求；关闭同步的站点返回 ErrSyncDisabled。
func (e *Engine) TriggerSync(ctx context.Context, scope string, types ...model.EntityType) (*model.Report, error) {
	conn, err := e.cfg.Connection(scope)
	if err != nil {
		logx.Warnf("同步未执行：%v", err)
		conn = config.Connection{Name: scope}
	} else if !conn.SyncEnabled {
		return nil, ErrSyncDisabled
	}
	entity := "all"
	if len(types) == 0 {
		types = model.AllEntityTypes
	} else if len(types) == 1 {
		entity = string(types[0])
	}
	rep := e.orch.Sync(ctx, conn, types...)
	e.metrics.ObserveReport(rep)
	e.record(rep, entity)
	return rep, nil
}

// record 写入同步历史。调用方的 ctx 可能已取消，这里使用独立的短超时。
func (e *Engine) record(rep *model.Report, entity string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := e.store.RecordRun(ctx, model.RunFromReport(rep, entity)); err != nil {
		logx.Warnf("写入同步历史失败：%v", err)
		return
	}
	if err := e.store.PruneRuns(ctx, keepRuns); err != nil {
		logx.Warnf("清理同步历史失败：%v", err)
	}
}

// GetStats 返回看板统计。未配置的 scope 仍返回本地计数，连接状态为未配置。
func (e *Engine) GetStats(ctx context.Context, scope string) (model.Stats, error) {
	conn, err := e.cfg.Connection(scope)
	if err != nil {
		conn = config.Connection{Name: scope}
	}
	return e.health.Stats(ctx, conn)
}

// CreateBackup 拉取远端全量快照；是否落盘由调用方决定（见 SaveBackup）。
func (e *Engine) CreateBackup(ctx context.Context, scope string) (model.Snapshot, error) {
	conn, err := e.cfg.Connection(scope)
	if err != nil {
		return model.Snapshot{}, err
	}
	snap, err := e.backups.Build(ctx, conn)
	if err != nil {
		return snap, err
	}
	e.metrics.ObserveSnapshot(snap)
	return snap, nil
}

// SaveBackup 将快照写入 dir（为空时使用站点配置的备份目录），并按保留数清理旧文件。
func (e *Engine) SaveBackup(snap model.Snapshot, dir string) (string, error) {
	keep := e.cfg.Site.Backup.Keep
	if dir == "" {
		dir = e.cfg.Site.Backup.Dir
	}
	path, err := backup.WriteFile(snap, dir)
	if err != nil {
		return "", errs.Mark(err, errs.ErrLocalPersistence)
	}
	if n, err := backup.Prune(dir, keep); err != nil {
		logx.Warnf("清理旧备份失败：%v", err)
	} else if n > 0 {
		logx.Infof("已清理旧备份 %d 个", n)
	}
	return path, nil
}

// MarkDirty 将已映射的本地实体标记为待推送。
func (e *Engine) MarkDirty(ctx context.Context, t model.EntityType, localID string) error {
	ok, err := e.store.MarkDirty(ctx, t, localID)
	if err != nil {
		return errs.Mark(err, errs.ErrLocalPersistence)
	}
	if !ok {
		return fmt.Errorf("%s/%s: %w", t, localID, ErrNotMapped)
	}
	return nil
}

func (e *Engine) commentsConn(scope string) (config.Connection, error) {
	conn, err := e.cfg.Connection(scope)
	if err != nil {
		return conn, err
	}
	if !conn.Sync.Comments {
		return conn, ErrCommentsDisabled
	}
	return conn, nil
}

// ListComments 拉取一页评论，status 为空时返回远端默认（已批准）。
func (e *Engine) ListComments(ctx context.Context, scope string, status string, page int) (remote.Page[remote.Comment], error) {
	conn, err := e.commentsConn(scope)
	if err != nil {
		return remote.Page[remote.Comment]{}, err
	}
	f := remote.ListFilter{Page: page, PerPage: 50, OrderBy: "date", Order: "desc"}
	if status != "" {
		f.Status = []string{status}
	}
	return e.remote.ListComments(ctx, conn, f)
}

// ModerateComment 修改评论审核状态。
func (e *Engine) ModerateComment(ctx context.Context, scope string, id int64, status string) (remote.Comment, error) {
	conn, err := e.commentsConn(scope)
	if err != nil {
		return remote.Comment{}, err
	}
	c, err := e.remote.ModerateComment(ctx, conn, id, status)
	if err == nil {
		logx.Infof("评论已审核：id=%d status=%s", id, status)
	}
	return c, err
}
