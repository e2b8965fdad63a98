// 包 feeds 负责站点公开订阅的发现与解析，供统计报告展示"站点最新发布"：
// - DiscoverFeed：基于常见路径与 HTML <link> 自动发现订阅
// - ParseFeed：使用 gofeed 解析 RSS/Atom/JSON Feed 并归一化
// - Latest：返回订阅中最新条目
package feeds

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"go-press-sync/internal/fetch"
	"go-press-sync/internal/logx"
)

// ErrNoFeed 表示站点未发布可识别的订阅。
var ErrNoFeed = errors.New("no feed discovered")

// DiscoverFeed 依次尝试常见订阅端点，失败后解析首页 <link rel=alternate>。
func DiscoverFeed(ctx context.Context, cl *fetch.Client, site string) (string, error) {
	candidates := []string{
		joinURLDir(site, "feed/"),
		joinURL(site, "/?feed=rss2"),
		joinURLDir(site, "feed/atom/"),
		joinURLDir(site, "feed.xml"),
		joinURLDir(site, "index.xml"),
	}
	for _, u := range candidates {
		logx.Debugf("探测候选订阅：%s", u)
		if probeFeed(ctx, cl, u) {
			return u, nil
		}
	}
	resp, err := cl.Get(ctx, site)
	if err != nil {
		return "", fmt.Errorf("GET site %s: %w", site, err)
	}
	defer resp.Body.Close()
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var found string
	doc.Find("link[rel~=alternate]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		t := strings.ToLower(s.AttrOr("type", ""))
		href := s.AttrOr("href", "")
		if href != "" && (strings.Contains(t, "rss") || strings.Contains(t, "atom") || strings.Contains(t, "json")) {
			found = joinURL(site, href)
			return false
		}
		return true
	})
	if found != "" && probeFeed(ctx, cl, found) {
		logx.Debugf("从 <link> 发现订阅：%s", found)
		return found, nil
	}
	return "", fmt.Errorf("%w for %s", ErrNoFeed, site)
}

// probeFeed 粗略探测 URL 是否为订阅（根据 Content-Type 与内容嗅探）。
func probeFeed(ctx context.Context, cl *fetch.Client, feedURL string) bool {
	prCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	resp, err := cl.Get(prCtx, feedURL)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	head, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	lb := bytes.ToLower(head)
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	switch {
	case strings.Contains(ct, "rss"), strings.Contains(ct, "atom"), strings.Contains(ct, "xml"):
		return !bytes.Contains(lb, []byte("<html"))
	case strings.Contains(ct, "json"):
		return bytes.Contains(lb, []byte("jsonfeed.org/version"))
	}
	return bytes.Contains(lb, []byte("<rss")) || bytes.Contains(lb, []byte("<feed")) || bytes.Contains(lb, []byte("<rdf"))
}

// joinURL 将相对路径解析为绝对 URL。
func joinURL(base, ref string) string {
	if strings.HasPrefix(ref, "http") {
		return ref
	}
	u, err := url.Parse(base)
	if err != nil {
		return base + ref
	}
	ru, err := url.Parse(ref)
	if err != nil {
		return base + ref
	}
	return u.ResolveReference(ru).String()
}

// joinURLDir 将 base 视为目录进行相对拼接（适配子路径站点，如 https://host/blog）。
func joinURLDir(base, ref string) string {
	u, err := url.Parse(base)
	if err != nil {
		return strings.TrimRight(base, "/") + "/" + strings.TrimPrefix(ref, "/")
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	ru, err := url.Parse(strings.TrimPrefix(ref, "/"))
	if err != nil {
		return u.String() + strings.TrimPrefix(ref, "/")
	}
	return u.ResolveReference(ru).String()
}

// Item 为订阅条目的归一化结果。
type Item struct {
	Title     string
	Link      string
	Author    string
	Published time.Time
	Updated   time.Time
}

// ParseFeed 从订阅地址解析并返回归一化后的条目（最多返回 max 条，0 表示不限制）。
func ParseFeed(ctx context.Context, cl *fetch.Client, feedURL string, max int) ([]Item, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 25*time.Second)
	defer cancel()
	// gofeed 不直接接收自定义 http.Client，因此先用共享客户端抓取后再交给 gofeed 解析
	resp, err := cl.Get(reqCtx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("GET feed %s: %w", feedURL, err)
	}
	defer resp.Body.Close()
	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}
	items := make([]Item, 0, len(feed.Items))
	for _, it := range feed.Items {
		items = append(items, Item{
			Title:     strings.TrimSpace(it.Title),
			Link:      strings.TrimSpace(it.Link),
			Author:    authorName(it),
			Published: pickTime(it.PublishedParsed, it.UpdatedParsed),
			Updated:   pickTime(it.UpdatedParsed, it.PublishedParsed),
		})
		if max > 0 && len(items) >= max {
			break
		}
	}
	return items, nil
}

// Latest 发现站点订阅并返回发布时间最新的条目。
func Latest(ctx context.Context, cl *fetch.Client, site string) (Item, error) {
	feedURL, err := DiscoverFeed(ctx, cl, site)
	if err != nil {
		return Item{}, err
	}
	items, err := ParseFeed(ctx, cl, feedURL, 0)
	if err != nil {
		return Item{}, err
	}
	var best Item
	for _, it := range items {
		if it.Published.After(best.Published) {
			best = it
		}
	}
	if best.Published.IsZero() {
		return Item{}, fmt.Errorf("%w: feed %s has no dated items", ErrNoFeed, feedURL)
	}
	return best, nil
}

func pickTime(a, b *time.Time) time.Time {
	if a != nil {
		return a.UTC()
	}
	if b != nil {
		return b.UTC()
	}
	return time.Time{}
}

func authorName(it *gofeed.Item) string {
	if it.Author != nil {
		if it.Author.Name != "" {
			return it.Author.Name
		}
		return it.Author.Email
	}
	return ""
}
