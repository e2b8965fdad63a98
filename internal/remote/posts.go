package remote

import (
	"context"
	"fmt"
	"net/http"

	"go-press-sync/internal/config"
)

// ListPosts 拉取一页文章。
func (c *Client) ListPosts(ctx context.Context, conn config.Connection, f ListFilter) (Page[Post], error) {
	return list[Post](ctx, c, conn, "posts", f)
}

// GetPost 读取单篇文章（edit 上下文）。
func (c *Client) GetPost(ctx context.Context, conn config.Connection, id int64) (Post, error) {
	return one[Post](ctx, c, conn, request{
		method:   http.MethodGet,
		resource: fmt.Sprintf("posts/%d", id),
		query:    ListFilter{Context: "edit"}.values(),
	})
}

// CreatePost 创建文章。
func (c *Client) CreatePost(ctx context.Context, conn config.Connection, in PostInput) (Post, error) {
	r, err := jsonRequest(http.MethodPost, "posts", normalizePost(in))
	if err != nil {
		return Post{}, err
	}
	return one[Post](ctx, c, conn, r)
}

// UpdatePost 更新文章。
func (c *Client) UpdatePost(ctx context.Context, conn config.Connection, id int64, in PostInput) (Post, error) {
	r, err := jsonRequest(http.MethodPut, fmt.Sprintf("posts/%d", id), normalizePost(in))
	if err != nil {
		return Post{}, err
	}
	return one[Post](ctx, c, conn, r)
}

// DeletePost 删除文章；force=false 时移入回收站。
func (c *Client) DeletePost(ctx context.Context, conn config.Connection, id int64, force bool) (bool, error) {
	return c.remove(ctx, conn, "posts", id, force)
}

// normalizePost 保证列表字段编码为 [] 而不是 null。
func normalizePost(in PostInput) PostInput {
	if in.Categories == nil {
		in.Categories = []int64{}
	}
	if in.Tags == nil {
		in.Tags = []int64{}
	}
	return in
}
