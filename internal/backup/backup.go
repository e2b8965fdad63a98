// 包 backup 负责远端站点的全量快照：
// - 并发拉取 posts/categories/tags/media/users 的全部分页与 settings
// - 单个集合失败时降级为空集合并记录告警，快照标记为 partial
// - 快照以带缩进的 JSON 写入备份目录
// 快照不读写映射表。
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"go-press-sync/internal/config"
	"go-press-sync/internal/errs"
	"go-press-sync/internal/logx"
	"go-press-sync/internal/model"
	"go-press-sync/internal/remote"
)

// Source 为快照使用的只读远端调用，由 *remote.Client 实现。
type Source interface {
	ListRaw(ctx context.Context, conn config.Connection, resource string, f remote.ListFilter) (remote.Page[json.RawMessage], error)
	GetRaw(ctx context.Context, conn config.Connection, resource string) (json.RawMessage, error)
}

// Collections 为快照包含的分页集合，顺序即写入顺序。
var Collections = []string{"posts", "categories", "tags", "media", "users"}

const perPage = 100

// Builder 构建快照；Concurrency 为同时拉取的集合数。
type Builder struct {
	src         Source
	concurrency int
	now         func() time.Time
}

// NewBuilder 创建快照构建器。
func NewBuilder(src Source, concurrency int) *Builder {
	return &Builder{src: src, concurrency: max(1, concurrency), now: func() time.Time { return time.Now().UTC() }}
}

// collector 汇总并发拉取的集合与告警。
type collector struct {
	mu    sync.Mutex
	items map[string][]json.RawMessage
	warn  error
}

func (c *collector) put(resource string, items []json.RawMessage) {
	c.mu.Lock()
	c.items[resource] = items
	c.mu.Unlock()
}

func (c *collector) fail(resource string, err error) {
	err = errs.Wrapf(err, errs.ErrPartialBackup, "backup %s", resource)
	logx.Warnf("备份集合失败，按空集合处理：%s 错误=%v", resource, err)
	c.mu.Lock()
	c.warn = multierr.Append(c.warn, err)
	c.mu.Unlock()
}

// Build 拉取远端全量数据。仅在连接未配置时返回错误；
// 集合级失败体现在 Snapshot.Partial 与 Snapshot.Warnings 中。
func (b *Builder) Build(ctx context.Context, conn config.Connection) (model.Snapshot, error) {
	if !conn.Configured() {
		return model.Snapshot{}, errs.ConfigurationMissing(conn.Name)
	}
	snap := model.Snapshot{ID: uuid.NewString(), CapturedAt: b.now(), SourceURL: conn.BaseURL}
	col := &collector{items: make(map[string][]json.RawMessage, len(Collections))}

	sem := make(chan struct{}, b.concurrency)
	var wg sync.WaitGroup
	for _, res := range Collections {
		wg.Add(1)
		sem <- struct{}{}
		go func(res string) {
			defer wg.Done()
			defer func() { <-sem }()
			items, err := b.all(ctx, conn, res)
			if err != nil {
				col.fail(res, err)
				return
			}
			col.put(res, items)
		}(res)
	}
	settings, err := b.src.GetRaw(ctx, conn, "settings")
	if err != nil {
		col.fail("settings", err)
		settings = json.RawMessage(`{}`)
	}
	wg.Wait()

	snap.Collections = model.Collections{
		Posts:      nonNil(col.items["posts"]),
		Categories: nonNil(col.items["categories"]),
		Tags:       nonNil(col.items["tags"]),
		Media:      nonNil(col.items["media"]),
		Users:      nonNil(col.items["users"]),
		Settings:   settings,
	}
	for _, w := range multierr.Errors(col.warn) {
		snap.Warnings = append(snap.Warnings, w.Error())
	}
	snap.Partial = len(snap.Warnings) > 0
	snap.SizeBytes = size(snap)
	logx.Infof("快照完成：id=%s 文章=%d 分类=%d 标签=%d 媒体=%d 用户=%d 大小=%dB partial=%v",
		snap.ID, len(snap.Collections.Posts), len(snap.Collections.Categories), len(snap.Collections.Tags),
		len(snap.Collections.Media), len(snap.Collections.Users), snap.SizeBytes, snap.Partial)
	return snap, nil
}

// all 顺序拉取某集合的全部分页。
func (b *Builder) all(ctx context.Context, conn config.Connection, resource string) ([]json.RawMessage, error) {
	var out []json.RawMessage
	f := remote.ListFilter{PerPage: perPage, Context: "edit"}
	if resource == "posts" {
		f.Status = []string{"any"}
	}
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f.Page = page
		pg, err := b.src.ListRaw(ctx, conn, resource, f)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		out = append(out, pg.Items...)
		if !pg.More() {
			return out, nil
		}
	}
}

func nonNil(items []json.RawMessage) []json.RawMessage {
	if items == nil {
		return []json.RawMessage{}
	}
	return items
}

// size 返回快照 JSON 编码后的字节数（不含 size_bytes 自身的位数变化）。
func size(s model.Snapshot) int64 {
	b, err := json.Marshal(s)
	if err != nil {
		return 0
	}
	return int64(len(b))
}

// FileName 返回快照的备份文件名。
func FileName(s model.Snapshot) string {
	return fmt.Sprintf("backup-%s-%s.json", s.CapturedAt.UTC().Format("20060102T150405Z"), s.ID)
}

// WriteFile 将快照写入 dir（带缩进格式），返回文件路径。
func WriteFile(s model.Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName(s))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		return "", fmt.Errorf("encode json to %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return path, nil
}

// ReadFile 读取备份文件。
func ReadFile(path string) (model.Snapshot, error) {
	var s model.Snapshot
	b, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("decode %s: %w", path, err)
	}
	return s, nil
}

// Prune 仅保留 dir 中最新的 keep 个备份文件（文件名以时间戳排序），返回删除数量。
func Prune(dir string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	files, err := filepath.Glob(filepath.Join(dir, "backup-*.json"))
	if err != nil {
		return 0, fmt.Errorf("glob %s: %w", dir, err)
	}
	if len(files) <= keep {
		return 0, nil
	}
	slices.Sort(files)
	var removed int
	var errList error
	for _, f := range files[:len(files)-keep] {
		if err := os.Remove(f); err != nil {
			errList = multierr.Append(errList, fmt.Errorf("remove %s: %w", f, err))
			continue
		}
		removed++
	}
	return removed, errList
}
