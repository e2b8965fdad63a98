// 包 remote 为远端 CMS REST API 的适配器（纯 I/O 边界，无业务逻辑）：
// - 每个方法显式接收 config.Connection，不做任何全局配置查找
// - 每次请求按用户名/密钥构造 Basic 认证头，不缓存凭据
// - 网络错误、非 2xx、响应体畸形分别标记为不同的错误类别（见 errs）
// - 从不在内部重试，重试由编排器负责
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"go-press-sync/internal/config"
	"go-press-sync/internal/errs"
	"go-press-sync/internal/fetch"
)

// maxBody 限制单个响应体大小，避免异常响应耗尽内存。
const maxBody = 32 << 20

// Observer 在每次请求结束后被调用（用于指标）；status 为 0 表示未收到响应。
type Observer func(method, resource string, status int, elapsed time.Duration)

// Client 为无状态适配器；唯一的共享对象是并发安全的限速器与 HTTP 连接池。
type Client struct {
	http    *fetch.Client
	timeout time.Duration
	limiter *rate.Limiter
	observe Observer
}

// Options 为适配器构造参数。
type Options struct {
	// Timeout 为单次调用的超时；超时视为该条目的暂时性失败。
	Timeout time.Duration
	// RequestsPerSecond 为出站请求速率上限，0 表示不限。
	RequestsPerSecond float64
	Observer          Observer
}

// New 基于共享的 fetch.Client 创建适配器。
func New(hc *fetch.Client, opts Options) *Client {
	c := &Client{http: hc, timeout: opts.Timeout, observe: opts.Observer}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c
}

// Page 为一页列表结果，Total/TotalPages 来自响应头。
type Page[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// More 报告是否还有下一页。
func (p Page[T]) More() bool { return p.Page < p.TotalPages }

// ListFilter 为列表查询条件。
type ListFilter struct {
	Page          int
	PerPage       int
	Status        []string
	Search        string
	Slug          string
	ModifiedAfter time.Time
	OrderBy       string
	Order         string
	Context       string // view|edit
	Post          int64  // 仅评论：按文章过滤
}

func (f ListFilter) values() url.Values {
	q := url.Values{}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	q.Set("page", strconv.Itoa(page))
	if f.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(min(f.PerPage, 100)))
	}
	if len(f.Status) > 0 {
		q.Set("status", strings.Join(f.Status, ","))
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	if f.Slug != "" {
		q.Set("slug", f.Slug)
	}
	if !f.ModifiedAfter.IsZero() {
		q.Set("modified_after", f.ModifiedAfter.UTC().Format(time.RFC3339))
	}
	if f.OrderBy != "" {
		q.Set("orderby", f.OrderBy)
	}
	if f.Order != "" {
		q.Set("order", f.Order)
	}
	if f.Context != "" {
		q.Set("context", f.Context)
	}
	if f.Post > 0 {
		q.Set("post", strconv.FormatInt(f.Post, 10))
	}
	return q
}

// request 描述一次出站调用。
type request struct {
	method      string
	resource    string // 例如 "posts"、"posts/12"
	query       url.Values
	body        []byte
	contentType string
	extra       http.Header
}

// response 为已读取的响应。
type response struct {
	status int
	header http.Header
	body   []byte
}

// do 执行一次请求并完成错误分类。每个调用恰好发出一次 HTTP 请求。
func (c *Client) do(ctx context.Context, conn config.Connection, r request) (*response, error) {
	if !conn.Configured() {
		return nil, errs.ConfigurationMissing(conn.Name)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errs.Wrapf(err, errs.ErrConnection, "rate limit wait %s %s", r.method, r.resource)
		}
	}
	u := conn.APIRoot() + "/" + strings.TrimLeft(r.resource, "/")
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return nil, fmt.Errorf("new request %s %s: %w", r.method, r.resource, err)
	}
	req.SetBasicAuth(conn.Username, conn.Secret)
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	for k, vs := range r.extra {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.emit(r, 0, start)
		return nil, errs.Wrapf(err, errs.ErrConnection, "%s %s", r.method, r.resource)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	c.emit(r, resp.StatusCode, start)
	if err != nil {
		return nil, errs.Wrapf(err, errs.ErrConnection, "read body %s %s", r.method, r.resource)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newStatusError(r.method, r.resource, resp.StatusCode, b)
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: b}, nil
}

func (c *Client) emit(r request, status int, start time.Time) {
	if c.observe == nil {
		return
	}
	res := r.resource
	if i := strings.IndexByte(res, '/'); i >= 0 {
		res = res[:i]
	}
	c.observe(r.method, res, status, time.Since(start))
}

// validator 由线上载荷类型实现，用于检查必填字段。
type validator interface {
	validate() error
}

func decode(resource string, b []byte, v any) error {
	if err := json.Unmarshal(b, v); err != nil {
		return errs.Wrapf(err, errs.ErrMalformedResponse, "decode %s", resource)
	}
	if vv, ok := v.(validator); ok {
		if err := vv.validate(); err != nil {
			return errs.Wrapf(err, errs.ErrMalformedResponse, "validate %s", resource)
		}
	}
	return nil
}

// list 拉取一页并解析分页响应头。
func list[T any](ctx context.Context, c *Client, conn config.Connection, resource string, f ListFilter) (Page[T], error) {
	resp, err := c.do(ctx, conn, request{method: http.MethodGet, resource: resource, query: f.values()})
	if err != nil {
		return Page[T]{}, err
	}
	var items []T
	if err := json.Unmarshal(resp.body, &items); err != nil {
		return Page[T]{}, errs.Wrapf(err, errs.ErrMalformedResponse, "decode %s list", resource)
	}
	for i := range items {
		if v, ok := any(&items[i]).(validator); ok {
			if err := v.validate(); err != nil {
				return Page[T]{}, errs.Wrapf(err, errs.ErrMalformedResponse, "validate %s item %d", resource, i)
			}
		}
	}
	p := Page[T]{Items: items, Page: max(f.Page, 1)}
	p.Total, _ = strconv.Atoi(resp.header.Get("X-WP-Total"))
	p.TotalPages, _ = strconv.Atoi(resp.header.Get("X-WP-TotalPages"))
	if p.TotalPages == 0 && len(items) > 0 {
		p.TotalPages = p.Page
	}
	return p, nil
}

// one 发送请求并解析单个对象。
func one[T any](ctx context.Context, c *Client, conn config.Connection, r request) (T, error) {
	var out T
	resp, err := c.do(ctx, conn, r)
	if err != nil {
		return out, err
	}
	if err := decode(r.resource, resp.body, &out); err != nil {
		return out, err
	}
	return out, nil
}

func jsonRequest(method, resource string, payload any) (request, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return request{}, fmt.Errorf("encode %s payload: %w", resource, err)
	}
	return request{method: method, resource: resource, body: b, contentType: "application/json"}, nil
}

// remove 执行 DELETE；force=true 时永久删除，否则移入回收站（仅文章支持）。
func (c *Client) remove(ctx context.Context, conn config.Connection, resource string, id int64, force bool) (bool, error) {
	q := url.Values{}
	q.Set("force", strconv.FormatBool(force))
	resp, err := c.do(ctx, conn, request{method: http.MethodDelete, resource: fmt.Sprintf("%s/%d", resource, id), query: q})
	if err != nil {
		return false, err
	}
	var body struct {
		Deleted *bool  `json:"deleted"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return false, errs.Wrapf(err, errs.ErrMalformedResponse, "decode delete %s/%d", resource, id)
	}
	if body.Deleted != nil {
		return *body.Deleted, nil
	}
	return body.Status == "trash", nil
}

// Count 返回某资源的总数（读取 X-WP-Total，per_page=1）。
func (c *Client) Count(ctx context.Context, conn config.Connection, resource string) (int, error) {
	f := ListFilter{PerPage: 1}
	if resource == "posts" {
		f.Status = []string{"any"}
	}
	resp, err := c.do(ctx, conn, request{method: http.MethodGet, resource: resource, query: f.values()})
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(resp.header.Get("X-WP-Total"))
	if err != nil {
		return 0, errs.Wrapf(err, errs.ErrMalformedResponse, "parse X-WP-Total for %s", resource)
	}
	return n, nil
}

// ListRaw 拉取一页原始 JSON 对象（供备份使用，保持远端载荷原样）。
func (c *Client) ListRaw(ctx context.Context, conn config.Connection, resource string, f ListFilter) (Page[json.RawMessage], error) {
	p, err := list[rawItem](ctx, c, conn, resource, f)
	if err != nil {
		return Page[json.RawMessage]{}, err
	}
	out := Page[json.RawMessage]{Page: p.Page, Total: p.Total, TotalPages: p.TotalPages}
	out.Items = make([]json.RawMessage, 0, len(p.Items))
	for _, it := range p.Items {
		out.Items = append(out.Items, it.raw)
	}
	return out, nil
}

// GetRaw 读取单个原始 JSON 资源（例如 settings）。
func (c *Client) GetRaw(ctx context.Context, conn config.Connection, resource string) (json.RawMessage, error) {
	resp, err := c.do(ctx, conn, request{method: http.MethodGet, resource: resource})
	if err != nil {
		return nil, err
	}
	if !json.Valid(resp.body) {
		return nil, errs.Newf(errs.ErrMalformedResponse, "invalid json from %s", resource)
	}
	return json.RawMessage(resp.body), nil
}

// rawItem 保留原始字节，同时校验存在 id 字段。
type rawItem struct {
	raw json.RawMessage
	id  int64
}

func (r *rawItem) UnmarshalJSON(b []byte) error {
	var probe struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return err
	}
	r.id = probe.ID
	r.raw = append(json.RawMessage(nil), b...)
	return nil
}

func (r *rawItem) validate() error { return requireID(r.id) }
