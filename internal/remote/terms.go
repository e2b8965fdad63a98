package remote

import (
	"context"
	"fmt"
	"net/http"

	"go-press-sync/internal/config"
)

// ListCategories 拉取一页分类。
func (c *Client) ListCategories(ctx context.Context, conn config.Connection, f ListFilter) (Page[Category], error) {
	return list[Category](ctx, c, conn, "categories", f)
}

// GetCategory 读取单个分类。
func (c *Client) GetCategory(ctx context.Context, conn config.Connection, id int64) (Category, error) {
	return one[Category](ctx, c, conn, request{method: http.MethodGet, resource: fmt.Sprintf("categories/%d", id)})
}

// CreateCategory 创建分类。
func (c *Client) CreateCategory(ctx context.Context, conn config.Connection, in TermInput) (Category, error) {
	r, err := jsonRequest(http.MethodPost, "categories", in)
	if err != nil {
		return Category{}, err
	}
	return one[Category](ctx, c, conn, r)
}

// UpdateCategory 更新分类。
func (c *Client) UpdateCategory(ctx context.Context, conn config.Connection, id int64, in TermInput) (Category, error) {
	r, err := jsonRequest(http.MethodPut, fmt.Sprintf("categories/%d", id), in)
	if err != nil {
		return Category{}, err
	}
	return one[Category](ctx, c, conn, r)
}

// DeleteCategory 删除分类（分类不支持回收站，远端要求 force=true）。
func (c *Client) DeleteCategory(ctx context.Context, conn config.Connection, id int64, force bool) (bool, error) {
	return c.remove(ctx, conn, "categories", id, force)
}

// ListTags 拉取一页标签。
func (c *Client) ListTags(ctx context.Context, conn config.Connection, f ListFilter) (Page[Tag], error) {
	return list[Tag](ctx, c, conn, "tags", f)
}

// GetTag 读取单个标签。
func (c *Client) GetTag(ctx context.Context, conn config.Connection, id int64) (Tag, error) {
	return one[Tag](ctx, c, conn, request{method: http.MethodGet, resource: fmt.Sprintf("tags/%d", id)})
}

// CreateTag 创建标签。
func (c *Client) CreateTag(ctx context.Context, conn config.Connection, in TermInput) (Tag, error) {
	in.Parent = nil
	r, err := jsonRequest(http.MethodPost, "tags", in)
	if err != nil {
		return Tag{}, err
	}
	return one[Tag](ctx, c, conn, r)
}

// UpdateTag 更新标签。
func (c *Client) UpdateTag(ctx context.Context, conn config.Connection, id int64, in TermInput) (Tag, error) {
	in.Parent = nil
	r, err := jsonRequest(http.MethodPut, fmt.Sprintf("tags/%d", id), in)
	if err != nil {
		return Tag{}, err
	}
	return one[Tag](ctx, c, conn, r)
}

// DeleteTag 删除标签。
func (c *Client) DeleteTag(ctx context.Context, conn config.Connection, id int64, force bool) (bool, error) {
	return c.remove(ctx, conn, "tags", id, force)
}
