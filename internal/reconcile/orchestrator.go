// 包 reconcile 为同步编排器：按实体种类在本地仓库与远端之间双向对账。
//   - 每个种类先拉取（远端 → 本地）再推送（本地 → 远端），远端时间戳优先
//   - 同一种类内条目串行处理，条目之间检查取消；全量同步时四个种类并发
//   - 引用未能解析的条目（引用的实体尚未映射）在所有种类完成后于同一轮内补齐一次
//   - 映射表是唯一共享的可变状态，所有写入走 CAS，推送创建前先抢占认领
//   - 单条失败只记录为结果，不中止整轮；仅首个列表调用的配置/连接/认证错误中止该种类
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"go-press-sync/internal/config"
	"go-press-sync/internal/content"
	"go-press-sync/internal/errs"
	"go-press-sync/internal/fetch"
	"go-press-sync/internal/logx"
	"go-press-sync/internal/model"
	"go-press-sync/internal/remote"
	"go-press-sync/internal/store"
)

// Remote 为编排器使用的远端操作子集，由 *remote.Client 实现。
type Remote interface {
	ListPosts(ctx context.Context, conn config.Connection, f remote.ListFilter) (remote.Page[remote.Post], error)
	CreatePost(ctx context.Context, conn config.Connection, in remote.PostInput) (remote.Post, error)
	UpdatePost(ctx context.Context, conn config.Connection, id int64, in remote.PostInput) (remote.Post, error)

	ListCategories(ctx context.Context, conn config.Connection, f remote.ListFilter) (remote.Page[remote.Category], error)
	CreateCategory(ctx context.Context, conn config.Connection, in remote.TermInput) (remote.Category, error)
	UpdateCategory(ctx context.Context, conn config.Connection, id int64, in remote.TermInput) (remote.Category, error)

	ListTags(ctx context.Context, conn config.Connection, f remote.ListFilter) (remote.Page[remote.Tag], error)
	CreateTag(ctx context.Context, conn config.Connection, in remote.TermInput) (remote.Tag, error)
	UpdateTag(ctx context.Context, conn config.Connection, id int64, in remote.TermInput) (remote.Tag, error)

	ListMedia(ctx context.Context, conn config.Connection, f remote.ListFilter) (remote.Page[remote.Media], error)
	UploadMedia(ctx context.Context, conn config.Connection, up remote.MediaUpload) (remote.Media, error)
	UpdateMedia(ctx context.Context, conn config.Connection, id int64, in remote.MediaInput) (remote.Media, error)
}

// Repository 为本地内容仓库，由 *store.SQLite 实现。
type Repository interface {
	ListPosts(ctx context.Context) ([]model.Post, error)
	GetPost(ctx context.Context, id string) (*model.Post, error)
	SavePost(ctx context.Context, p model.Post) error

	ListCategories(ctx context.Context) ([]model.Category, error)
	GetCategory(ctx context.Context, id string) (*model.Category, error)
	SaveCategory(ctx context.Context, c model.Category) error

	ListTags(ctx context.Context) ([]model.Tag, error)
	GetTag(ctx context.Context, id string) (*model.Tag, error)
	SaveTag(ctx context.Context, t model.Tag) error

	ListMedia(ctx context.Context) ([]model.Media, error)
	GetMedia(ctx context.Context, id string) (*model.Media, error)
	SaveMedia(ctx context.Context, m model.Media) error
}

// MappingStore 为映射表，Upsert 冲突时返回 store.ErrConflict。
type MappingStore interface {
	Find(ctx context.Context, t model.EntityType, localID string) (*model.Mapping, error)
	FindByRemote(ctx context.Context, t model.EntityType, remoteID int64) (*model.Mapping, error)
	Upsert(ctx context.Context, m model.Mapping) (model.Mapping, error)
	ListByStatus(ctx context.Context, t model.EntityType, st model.SyncStatus) ([]model.Mapping, error)
}

// Options 为编排器参数，零值字段使用默认值。
type Options struct {
	// Retry 为幂等调用（列表/更新）在连接类错误上的额外重试次数；创建从不重试。
	Retry int
	// ClaimLease 为推送创建认领的租期，过期的认领可被接管。
	ClaimLease time.Duration
	// BreakerFailures 为同一种类连续连接失败多少次后熔断剩余条目。
	BreakerFailures int
	PageSize        int
	Normalizer      content.Normalizer
	Backoff         func(i int) time.Duration
	Now             func() time.Time
	// OnResult 在每条结果产生时回调（用于指标），须并发安全。
	OnResult func(model.SyncResult)
}

// Orchestrator 本身无可变状态，可被多个 goroutine 并发调用。
type Orchestrator struct {
	remote Remote
	repo   Repository
	maps   MappingStore
	opts   Options
}

// New 创建编排器并填充默认参数。
func New(r Remote, repo Repository, maps MappingStore, opts Options) *Orchestrator {
	if opts.ClaimLease <= 0 {
		opts.ClaimLease = 10 * time.Minute
	}
	if opts.BreakerFailures <= 0 {
		opts.BreakerFailures = 5
	}
	if opts.PageSize <= 0 || opts.PageSize > 100 {
		opts.PageSize = 100
	}
	if opts.Backoff == nil {
		opts.Backoff = fetch.Backoff
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Orchestrator{remote: r, repo: repo, maps: maps, opts: opts}
}

// SyncEntityType 对单个实体种类执行一轮同步。
func (o *Orchestrator) SyncEntityType(ctx context.Context, conn config.Connection, t model.EntityType) *model.Report {
	return o.Sync(ctx, conn, t)
}

// SyncAll 对全部实体种类执行一轮同步（种类间并发）。
func (o *Orchestrator) SyncAll(ctx context.Context, conn config.Connection) *model.Report {
	return o.Sync(ctx, conn, model.AllEntityTypes...)
}

// Sync 并发执行给定种类的同步并合并结果；结果按种类顺序排列。
// 未配置连接时不发起任何请求，所有种类记为中止。
func (o *Orchestrator) Sync(ctx context.Context, conn config.Connection, types ...model.EntityType) *model.Report {
	rep := &model.Report{Scope: conn.Name, StartedAt: o.opts.Now(), Results: []model.SyncResult{}}
	abort := func(t model.EntityType, err error) {
		if rep.Aborted == nil {
			rep.Aborted = make(map[model.EntityType]string)
		}
		rep.Aborted[t] = fmt.Sprintf("%s: %v", errs.Kind(err), err)
	}
	if !conn.Configured() {
		err := errs.ConfigurationMissing(conn.Name)
		for _, t := range types {
			abort(t, err)
		}
		rep.FinishedAt = o.opts.Now()
		return rep
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		passes  = make(map[model.EntityType]*pass, len(types))
		aborted = make(map[model.EntityType]error)
	)
	for _, t := range types {
		if !conn.Enabled(t) {
			logx.Infof("跳过未启用同步的种类：%s", t)
			continue
		}
		wg.Add(1)
		go func(t model.EntityType) {
			defer wg.Done()
			p, err := o.syncKind(ctx, conn, t)
			mu.Lock()
			defer mu.Unlock()
			passes[t] = p
			if err != nil {
				aborted[t] = err
			}
		}(t)
	}
	wg.Wait()

	// 此时各种类的实体都已映射，文章对分类/标签、子分类对父分类的引用可以解析
	for _, t := range types {
		if p := passes[t]; p != nil {
			p.settleDeferred(ctx)
		}
	}
	for _, t := range types {
		if p := passes[t]; p != nil {
			rep.Results = append(rep.Results, p.out...)
		}
		if err, ok := aborted[t]; ok {
			abort(t, err)
		}
	}
	rep.FinishedAt = o.opts.Now()
	c := rep.Counts()
	logx.Infof("同步完成：scope=%s 新建=%d 更新=%d 未变=%d 跳过=%d 失败=%d 中止=%d 耗时=%s",
		rep.Scope, c[model.OutcomeCreated], c[model.OutcomeUpdated], c[model.OutcomeUnchanged],
		c[model.OutcomeSkipped], c[model.OutcomeFailed], len(rep.Aborted), rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
	return rep
}

// syncKind 执行单个种类的拉取与推送；返回的错误表示该种类被中止。
// 引用未能解析的条目暂存在 pass 中，由 settleDeferred 补齐后再输出结果。
func (o *Orchestrator) syncKind(ctx context.Context, conn config.Connection, t model.EntityType) (*pass, error) {
	p := o.newPass(conn, t)
	h := p.handler()
	if err := p.pull(ctx, h); err != nil {
		logx.Errorf("中止 %s 同步：%v", t, err)
		return p, err
	}
	if err := ctx.Err(); err != nil {
		return p, err
	}
	if err := p.push(ctx, h); err != nil {
		logx.Errorf("中止 %s 推送：%v", t, err)
		return p, err
	}
	return p, ctx.Err()
}

func (p *pass) emit(r model.SyncResult) {
	r.EntityType = p.kind
	r.Timestamp = p.o.opts.Now()
	if r.Outcome == model.OutcomeFailed {
		logx.Warnf("同步失败：%s local=%s remote=%d dir=%s err=%s", p.kind, r.LocalID, r.RemoteID, r.Direction, r.Message)
	}
	if p.o.opts.OnResult != nil {
		p.o.opts.OnResult(r)
	}
	p.out = append(p.out, r)
}

// errCircuitOpen 表示熔断器已打开，该种类剩余的远端调用直接失败。
var errCircuitOpen = errors.New("circuit open: remote failing repeatedly")

// pass 为单个种类一轮同步的上下文：连接、熔断器、引用翻译与结果。
type pass struct {
	o    *Orchestrator
	conn config.Connection
	kind model.EntityType
	cb   *gobreaker.CircuitBreaker

	out    []model.SyncResult
	pulls  []deferredPull
	pushes []deferredPush
}

// deferredPull 为首次处理时引用未能解析的远端条目及其结果。
type deferredPull struct {
	it  item
	res model.SyncResult
}

// deferredPush 为首次推送时引用未能解析的本地实体及其结果。
type deferredPush struct {
	l   local
	res model.SyncResult
}

func (o *Orchestrator) newPass(conn config.Connection, t model.EntityType) *pass {
	threshold := uint32(o.opts.BreakerFailures)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(t),
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= threshold },
		// 只有连接类错误计入熔断；远端校验失败属于单条问题
		IsSuccessful: func(err error) bool { return err == nil || !errors.Is(err, errs.ErrConnection) },
		OnStateChange: func(name string, from, to gobreaker.State) {
			logx.Warnf("熔断器状态变化：%s %s -> %s", name, from, to)
		},
	})
	return &pass{o: o, conn: conn, kind: t, cb: cb}
}

// once 经熔断器执行一次远端调用，不重试。
func (p *pass) once(ctx context.Context, fn func(context.Context) error) error {
	_, err := p.cb.Execute(func() (interface{}, error) { return nil, fn(ctx) })
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errs.Mark(errCircuitOpen, errs.ErrConnection)
	}
	return err
}

// idempotent 执行幂等远端调用：连接类错误按线性回退重试，熔断或取消时立即返回。
func (p *pass) idempotent(ctx context.Context, fn func(context.Context) error) error {
	for i := 0; ; i++ {
		err := p.once(ctx, fn)
		if err == nil || !errs.Retryable(err) || errors.Is(err, errCircuitOpen) || i >= p.o.opts.Retry {
			return err
		}
		logx.Debugf("重试 %s 调用（第 %d 次）：%v", p.kind, i+1, err)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(p.o.opts.Backoff(i)):
		}
	}
}

func (p *pass) pull(ctx context.Context, h handler) error {
	for page := 1; ; page++ {
		if ctx.Err() != nil {
			return nil
		}
		items, more, err := h.list(ctx, page, p.o.opts.PageSize)
		if err != nil {
			if page == 1 && errs.AbortsPass(err) {
				return err
			}
			p.emit(model.SyncResult{Outcome: model.OutcomeFailed, Direction: model.DirectionPull,
				Message: fmt.Sprintf("list page %d: %v", page, err)})
			return nil
		}
		for _, it := range items {
			if ctx.Err() != nil {
				return nil
			}
			res, unresolved := p.pullOne(ctx, h, it)
			if unresolved {
				p.pulls = append(p.pulls, deferredPull{it: it, res: res})
				continue
			}
			p.emit(res)
		}
		if !more {
			return nil
		}
	}
}

// settleDeferred 对引用未能解析的条目再处理一次，然后输出合并后的结果。
// 仍未解析的引用留待下一轮：拉取侧映射保持 pending，推送侧本地水位保持为零。
func (p *pass) settleDeferred(ctx context.Context) {
	if len(p.pulls) == 0 && len(p.pushes) == 0 {
		return
	}
	h := p.handler()
	for _, d := range p.pulls {
		if ctx.Err() == nil {
			again, _ := p.pullOne(ctx, h, d.it)
			d.res = settle(d.res, again)
		}
		p.emit(d.res)
	}
	for _, d := range p.pushes {
		if ctx.Err() == nil {
			if m, err := p.o.maps.Find(ctx, p.kind, d.l.ID); err == nil && m != nil && m.Linked() {
				again, _ := p.update(ctx, h, d.l, *m, model.SyncResult{LocalID: d.l.ID, Direction: model.DirectionPush})
				d.res = settle(d.res, again)
			}
		}
		p.emit(d.res)
	}
	p.pulls, p.pushes = nil, nil
}

// settle 合并同一条目在同一轮内的两次处理结果：保留首次的结果类型，消息以第二次为准；
// 第二次失败时报告失败。
func settle(first, again model.SyncResult) model.SyncResult {
	switch again.Outcome {
	case model.OutcomeFailed:
		return again
	case model.OutcomeUpdated:
		first.Message = again.Message
	}
	return first
}

// remoteNewer 判断远端是否比上次同步新：有修改时间的种类比较时间，否则比较指纹。
func remoteNewer(m model.Mapping, it item) bool {
	if !it.Modified.IsZero() {
		return it.Modified.After(m.LastSyncedAt)
	}
	return it.Fingerprint != m.Fingerprint
}

func (p *pass) stamp(it item) time.Time {
	if it.Modified.IsZero() {
		return p.o.opts.Now()
	}
	return it.Modified
}

// pullOne 处理单个远端条目；第二个返回值表示仍有引用未能解析。
func (p *pass) pullOne(ctx context.Context, h handler, it item) (model.SyncResult, bool) {
	res := model.SyncResult{RemoteID: it.RemoteID, Direction: model.DirectionPull}
	m, err := p.o.maps.FindByRemote(ctx, p.kind, it.RemoteID)
	if err != nil {
		return fail(res, errs.Wrapf(err, errs.ErrLocalPersistence, "find mapping")), false
	}
	if m == nil {
		// 推送创建与关联之间远端实体已可见，此时拉取会产生重复的本地实体
		busy, err := p.createsInDoubt(ctx, h, it)
		if err != nil {
			return fail(res, errs.Wrapf(err, errs.ErrLocalPersistence, "list claims")), false
		}
		if busy {
			res.Outcome = model.OutcomeSkipped
			res.Message = "deferred: a create of this kind is in flight"
			return res, false
		}
		// 先插入认领行再写本地，保证同一远端实体只对应一个本地 id
		claim, err := p.o.maps.Upsert(ctx, model.Mapping{
			EntityType: p.kind,
			LocalID:    uuid.NewString(),
			RemoteID:   it.RemoteID,
			Status:     model.SyncPending,
			Direction:  model.DirectionPull,
			ClaimedAt:  p.o.opts.Now(),
			Attempts:   1,
		})
		if errors.Is(err, store.ErrConflict) {
			res.Outcome = model.OutcomeSkipped
			res.Message = "remote entity claimed by a concurrent pass"
			return res, false
		}
		if err != nil {
			return fail(res, errs.Wrapf(err, errs.ErrLocalPersistence, "insert mapping")), false
		}
		return p.applyRemote(ctx, h, claim, it, model.OutcomeCreated, res)
	}
	res.LocalID = m.LocalID
	retrying := m.Status != model.SyncSynced && m.Direction == model.DirectionPull
	if !retrying && !remoteNewer(*m, it) {
		res.Outcome = model.OutcomeUnchanged
		return res, false
	}
	return p.applyRemote(ctx, h, *m, it, model.OutcomeUpdated, res)
}

// createsInDoubt 报告 it 是否可能正是某个推送认领在远端创建的实体：
// 认领尚未关联远端、可能已到达远端，且本地 slug 与 it 相同。远端条目没有 slug 时无法区分，一律视为可能。
func (p *pass) createsInDoubt(ctx context.Context, h handler, it item) (bool, error) {
	claims := make(map[string]bool)
	for _, st := range []model.SyncStatus{model.SyncPending, model.SyncError} {
		ms, err := p.o.maps.ListByStatus(ctx, p.kind, st)
		if err != nil {
			return false, err
		}
		for _, m := range ms {
			if !m.Linked() && m.Direction == model.DirectionPush && !m.ClaimedAt.IsZero() {
				claims[m.LocalID] = true
			}
		}
	}
	if len(claims) == 0 {
		return false, nil
	}
	if it.Slug == "" {
		return true, nil
	}
	locals, err := h.locals(ctx)
	if err != nil {
		return false, err
	}
	for _, l := range locals {
		if claims[l.ID] && (l.Slug == "" || strings.EqualFold(l.Slug, it.Slug)) {
			return true, nil
		}
	}
	return false, nil
}

func (p *pass) applyRemote(ctx context.Context, h handler, m model.Mapping, it item, outcome model.Outcome, res model.SyncResult) (model.SyncResult, bool) {
	res.LocalID = m.LocalID
	stamp := p.stamp(it)
	d, err := h.apply(ctx, m.LocalID, it, stamp)
	if err != nil {
		err = errs.Wrapf(err, errs.ErrLocalPersistence, "write local %s %s", p.kind, m.LocalID)
		p.markError(ctx, m, model.DirectionPull, err, false)
		return fail(res, err), false
	}
	m.Status = model.SyncSynced
	if d.unresolved > 0 {
		// 引用尚未映射：保持待处理，同轮补齐或下一轮重试
		m.Status = model.SyncPending
	}
	m.LastSyncedAt = stamp
	m.LocalModifiedAt = stamp
	m.Fingerprint = it.Fingerprint
	m.Direction = model.DirectionPull
	m.LastError = ""
	m.Attempts = 0
	m.ClaimedAt = time.Time{}
	if _, err := p.o.maps.Upsert(ctx, m); err != nil {
		if errors.Is(err, store.ErrConflict) {
			res.Outcome = model.OutcomeSkipped
			res.Message = "mapping changed by a concurrent pass"
			return res, false
		}
		return fail(res, errs.Wrapf(err, errs.ErrLocalPersistence, "update mapping")), false
	}
	res.Outcome = outcome
	res.Message = d.message()
	return res, d.unresolved > 0
}

func (p *pass) push(ctx context.Context, h handler) error {
	locals, err := h.locals(ctx)
	if err != nil {
		return errs.Wrapf(err, errs.ErrLocalPersistence, "list local %s", p.kind)
	}
	for _, l := range locals {
		if ctx.Err() != nil {
			return nil
		}
		res, ok, unresolved := p.pushOne(ctx, h, l)
		switch {
		case unresolved:
			p.pushes = append(p.pushes, deferredPush{l: l, res: res})
		case ok:
			p.emit(res)
		}
	}
	return nil
}

// pushOne 处理单个本地实体；不需要推送时第二个返回值为 false，第三个表示仍有引用未能解析。
func (p *pass) pushOne(ctx context.Context, h handler, l local) (model.SyncResult, bool, bool) {
	res := model.SyncResult{LocalID: l.ID, Direction: model.DirectionPush}
	m, err := p.o.maps.Find(ctx, p.kind, l.ID)
	if err != nil {
		return fail(res, errs.Wrapf(err, errs.ErrLocalPersistence, "find mapping")), true, false
	}
	switch {
	case m == nil || !m.Linked():
		res, unresolved := p.create(ctx, h, l, m, res)
		return res, true, unresolved
	case m.Direction == model.DirectionPull && m.Status != model.SyncSynced:
		// 由拉取侧负责重试，远端优先
		return res, false, false
	case m.Status != model.SyncSynced || l.UpdatedAt.After(m.LocalModifiedAt):
		res, unresolved := p.update(ctx, h, l, *m, res)
		return res, true, unresolved
	}
	return res, false, false
}

func (p *pass) create(ctx context.Context, h handler, l local, m *model.Mapping, res model.SyncResult) (model.SyncResult, bool) {
	now := p.o.opts.Now()
	var (
		claim model.Mapping
		err   error
		adopt bool
	)
	if m == nil {
		claim, err = p.o.maps.Upsert(ctx, model.Mapping{
			EntityType: p.kind,
			LocalID:    l.ID,
			Status:     model.SyncPending,
			Direction:  model.DirectionPush,
			ClaimedAt:  now,
			Attempts:   1,
		})
	} else {
		if m.Status == model.SyncPending && !m.ClaimedAt.IsZero() && now.Sub(m.ClaimedAt) < p.o.opts.ClaimLease {
			res.Outcome = model.OutcomeSkipped
			res.Message = "create claimed by a concurrent pass"
			return res, false
		}
		// 认领时间非零说明上次创建可能已到达远端，先尝试按 slug 认领已有实体
		adopt = !m.ClaimedAt.IsZero()
		c := *m
		c.Status = model.SyncPending
		c.Direction = model.DirectionPush
		c.ClaimedAt = now
		c.Attempts++
		claim, err = p.o.maps.Upsert(ctx, c)
	}
	if errors.Is(err, store.ErrConflict) {
		res.Outcome = model.OutcomeSkipped
		res.Message = "create claimed by a concurrent pass"
		return res, false
	}
	if err != nil {
		return fail(res, errs.Wrapf(err, errs.ErrLocalPersistence, "claim mapping")), false
	}

	if adopt && l.Slug != "" {
		if linked, ok := p.adopt(ctx, h, l, claim); ok {
			res, unresolved := p.update(ctx, h, l, linked, res)
			if res.Outcome == model.OutcomeUpdated {
				res.Message = joinMessage(fmt.Sprintf("adopted existing remote entity #%d", linked.RemoteID), res.Message)
			}
			return res, unresolved
		}
	}

	created, d, err := h.create(ctx, l.ID)
	if err != nil {
		p.markError(ctx, claim, model.DirectionPush, err, errors.Is(err, errs.ErrConnection))
		return fail(res, err), false
	}
	res.RemoteID = created.RemoteID
	claim.RemoteID = created.RemoteID
	claim.Status = model.SyncSynced
	claim.LastSyncedAt = p.stamp(created)
	claim.Fingerprint = created.Fingerprint
	claim.LocalModifiedAt = l.UpdatedAt
	if d.unresolved > 0 {
		// 引用尚未映射：保持本地为脏，同轮补推或下一轮推送补齐
		claim.LocalModifiedAt = time.Time{}
	}
	claim.LastError = ""
	claim.Attempts = 0
	claim.ClaimedAt = time.Time{}
	if _, err := p.o.maps.Upsert(ctx, claim); err != nil {
		logx.Errorf("远端已创建 %s #%d，但映射写入失败：%v", p.kind, created.RemoteID, err)
		return fail(res, errs.Wrapf(err, errs.ErrLocalPersistence, "link created remote #%d", created.RemoteID)), false
	}
	res.Outcome = model.OutcomeCreated
	res.Message = d.message()
	return res, d.unresolved > 0
}

// adopt 按 slug 查找远端已有实体并关联到认领行；找不到或已被关联时返回 false。
func (p *pass) adopt(ctx context.Context, h handler, l local, claim model.Mapping) (model.Mapping, bool) {
	found, ok, err := h.findBySlug(ctx, l.Slug)
	if err != nil || !ok {
		if err != nil {
			logx.Warnf("按 slug 查找远端 %s 失败：%v", p.kind, err)
		}
		return claim, false
	}
	if other, err := p.o.maps.FindByRemote(ctx, p.kind, found.RemoteID); err != nil || other != nil {
		return claim, false
	}
	claim.RemoteID = found.RemoteID
	linked, err := p.o.maps.Upsert(ctx, claim)
	if err != nil {
		return claim, false
	}
	logx.Infof("认领远端已有 %s #%d（slug=%s）", p.kind, found.RemoteID, l.Slug)
	return linked, true
}

func (p *pass) update(ctx context.Context, h handler, l local, m model.Mapping, res model.SyncResult) (model.SyncResult, bool) {
	res.RemoteID = m.RemoteID
	updated, d, err := h.update(ctx, l.ID, m.RemoteID)
	if err != nil {
		p.markError(ctx, m, model.DirectionPush, err, false)
		return fail(res, err), false
	}
	m.Status = model.SyncSynced
	m.LastSyncedAt = p.stamp(updated)
	m.Fingerprint = updated.Fingerprint
	m.LocalModifiedAt = l.UpdatedAt
	if d.unresolved > 0 {
		m.LocalModifiedAt = time.Time{}
	}
	m.Direction = model.DirectionPush
	m.LastError = ""
	m.Attempts = 0
	m.ClaimedAt = time.Time{}
	if _, err := p.o.maps.Upsert(ctx, m); err != nil {
		if errors.Is(err, store.ErrConflict) {
			res.Outcome = model.OutcomeSkipped
			res.Message = "mapping changed by a concurrent pass"
			return res, false
		}
		return fail(res, errs.Wrapf(err, errs.ErrLocalPersistence, "update mapping")), false
	}
	res.Outcome = model.OutcomeUpdated
	res.Message = d.message()
	return res, d.unresolved > 0
}

// markError 将映射置为 error；keepClaim 为真时保留认领时间，下一轮先尝试认领而不是直接创建。
func (p *pass) markError(ctx context.Context, m model.Mapping, dir model.Direction, cause error, keepClaim bool) {
	m.Status = model.SyncError
	m.LastError = cause.Error()
	m.Direction = dir
	m.Attempts++
	if !keepClaim {
		m.ClaimedAt = time.Time{}
	}
	if _, err := p.o.maps.Upsert(ctx, m); err != nil && !errors.Is(err, store.ErrConflict) {
		logx.Errorf("写入映射错误状态失败：%s %s: %v", p.kind, m.LocalID, err)
	}
}

func fail(res model.SyncResult, err error) model.SyncResult {
	res.Outcome = model.OutcomeFailed
	res.Message = fmt.Sprintf("%s: %v", errs.Kind(err), err)
	return res
}
