// 包 health 汇总同步状态供看板展示：连接探测、本地/远端计数、映射状态、
// 最近一次成功同步与站点订阅最新发布时间。只读，不修改任何状态。
package health

import (
	"context"
	"time"

	"go-press-sync/internal/config"
	"go-press-sync/internal/errs"
	"go-press-sync/internal/feeds"
	"go-press-sync/internal/fetch"
	"go-press-sync/internal/logx"
	"go-press-sync/internal/model"
	"go-press-sync/internal/remote"
)

// Remote 为统计使用的远端调用，由 *remote.Client 实现。
type Remote interface {
	Probe(ctx context.Context, conn config.Connection) (remote.ProbeResult, error)
	Count(ctx context.Context, conn config.Connection, resource string) (int, error)
}

// Store 为统计使用的本地查询，由 *store.SQLite 实现。
type Store interface {
	Count(ctx context.Context, t model.EntityType) (int, error)
	Counts(ctx context.Context, t model.EntityType) (model.MappingCounts, error)
	LastSuccessfulRun(ctx context.Context, scope string) (*model.Run, error)
}

// Reporter 计算统计。feeds 为 nil 时不探测站点订阅。
type Reporter struct {
	remote Remote
	store  Store
	feeds  *fetch.Client
	now    func() time.Time
}

// New 创建统计器。
func New(r Remote, s Store, feedClient *fetch.Client) *Reporter {
	return &Reporter{remote: r, store: s, feeds: feedClient, now: func() time.Time { return time.Now().UTC() }}
}

// Probe 探测连接；未配置时不发起请求。
func (r *Reporter) Probe(ctx context.Context, conn config.Connection) model.ConnectionStatus {
	res, err := r.remote.Probe(ctx, conn)
	if err != nil {
		logx.Warnf("连接探测失败：%s %s", conn, errs.Kind(err))
	}
	return model.ConnectionStatus{OK: res.OK, Message: res.Message, Identity: res.Identity}
}

// Stats 返回 conn 对应站点的统计。本地存储错误返回 ErrLocalPersistence；远端不可达时远端计数为 -1。
func (r *Reporter) Stats(ctx context.Context, conn config.Connection) (model.Stats, error) {
	st := model.Stats{
		Scope:      conn.Name,
		Connection: r.Probe(ctx, conn),
		Entities:   make(map[model.EntityType]model.EntityStats, len(model.AllEntityTypes)),
	}
	for _, t := range model.AllEntityTypes {
		es := model.EntityStats{Remote: -1}
		var err error
		if es.Local, err = r.store.Count(ctx, t); err != nil {
			return st, errs.Wrapf(err, errs.ErrLocalPersistence, "count local %s", t)
		}
		if es.Mappings, err = r.store.Counts(ctx, t); err != nil {
			return st, errs.Wrapf(err, errs.ErrLocalPersistence, "count mappings %s", t)
		}
		if st.Connection.OK {
			if n, err := r.remote.Count(ctx, conn, t.Resource()); err == nil {
				es.Remote = n
			} else {
				logx.Debugf("远端计数失败：%s %v", t, err)
			}
		}
		st.Entities[t] = es
	}
	run, err := r.store.LastSuccessfulRun(ctx, conn.Name)
	if err != nil {
		return st, errs.Wrapf(err, errs.ErrLocalPersistence, "last successful run")
	}
	if run != nil {
		at := run.FinishedAt
		st.LastSuccessfulAt = &at
	}
	if r.feeds != nil && st.Connection.OK {
		if it, err := feeds.Latest(ctx, r.feeds, conn.BaseURL); err == nil {
			at := it.Published
			st.FeedLatestAt = &at
		} else {
			logx.Debugf("站点订阅不可用：%v", err)
		}
	}
	st.UpdatedAt = r.now()
	return st, nil
}
