// 包 fetch 封装 HTTP 客户端（代理/超时/客户端标识），
// 供远端适配器（单次请求，不重试）与站点订阅探测（带重试的 GET）共用。
package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// DefaultUserAgent 为固定客户端标识，随每个出站请求发送。
const DefaultUserAgent = "go-press-sync/1.0"

// Client 为共享连接池的 HTTP 客户端，可安全地被多个 goroutine 并发使用。
type Client struct {
	http      *http.Client
	retry     int
	userAgent string
}

// Options 为客户端构造参数。
type Options struct {
	ProxyHTTP  string
	ProxyHTTPS string
	Timeout    time.Duration
	Retry      int
	UserAgent  string
}

// New 创建客户端，支持 http/https 代理与基础超时配置。
func New(opts Options) (*Client, error) {
	for _, p := range []string{opts.ProxyHTTP, opts.ProxyHTTPS} {
		if p == "" {
			continue
		}
		if _, err := url.Parse(p); err != nil {
			return nil, fmt.Errorf("parse proxy %s: %w", p, err)
		}
	}
	transport := &http.Transport{
		Proxy: func(req *http.Request) (*url.URL, error) {
			if req.URL.Scheme == "https" && opts.ProxyHTTPS != "" {
				return url.Parse(opts.ProxyHTTPS)
			}
			if req.URL.Scheme == "http" && opts.ProxyHTTP != "" {
				return url.Parse(opts.ProxyHTTP)
			}
			return http.ProxyFromEnvironment(req)
		},
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConnsPerHost:   8,
	}
	cl := &http.Client{Transport: transport}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	cl.Timeout = opts.Timeout
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	return &Client{http: cl, retry: opts.Retry, userAgent: ua}, nil
}

// UserAgent 返回客户端标识。
func (c *Client) UserAgent() string { return c.userAgent }

// Do 执行单次请求，不做任何重试；未设置 User-Agent 时补上固定标识。
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.http.Do(req)
}

// CloseIdleConnections 关闭连接池中的空闲连接。
func (c *Client) CloseIdleConnections() { c.http.CloseIdleConnections() }

// Get 请求带简单线性回退重试，仅用于幂等的只读抓取（如站点订阅）。
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error
	attempts := c.retry + 1
	for i := 0; i < attempts; i++ {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if reqErr != nil {
			lastErr = fmt.Errorf("new request: %w", reqErr)
			break
		}
		resp, err := c.Do(req)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}
		if err == nil {
			lastErr = fmt.Errorf("http status: %s", resp.Status)
			if resp.Body != nil {
				resp.Body.Close()
			}
		} else {
			lastErr = err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(Backoff(i)):
		}
	}
	return nil, lastErr
}

// Backoff 返回第 i 次失败后的等待时间（线性回退）。
func Backoff(i int) time.Duration {
	return time.Duration(i+1) * 300 * time.Millisecond
}
