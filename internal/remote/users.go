package remote

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/cockroachdb/errors"

	"go-press-sync/internal/config"
	"go-press-sync/internal/errs"
)

// ListUsers 拉取一页用户（只读）。
func (c *Client) ListUsers(ctx context.Context, conn config.Connection, f ListFilter) (Page[User], error) {
	return list[User](ctx, c, conn, "users", f)
}

// CurrentUser 返回凭据对应的用户。
func (c *Client) CurrentUser(ctx context.Context, conn config.Connection) (User, error) {
	return one[User](ctx, c, conn, request{
		method:   http.MethodGet,
		resource: "users/me",
		query:    ListFilter{Context: "edit"}.values(),
	})
}

// ListComments 拉取一页评论。
func (c *Client) ListComments(ctx context.Context, conn config.Connection, f ListFilter) (Page[Comment], error) {
	return list[Comment](ctx, c, conn, "comments", f)
}

// ModerateComment 修改评论状态（approved/hold/spam/trash）。
func (c *Client) ModerateComment(ctx context.Context, conn config.Connection, id int64, status string) (Comment, error) {
	if !slices.Contains(CommentStatuses, status) {
		return Comment{}, errs.Newf(errs.ErrRemoteValidation, "unsupported comment status %q", status)
	}
	r, err := jsonRequest(http.MethodPut, fmt.Sprintf("comments/%d", id), map[string]string{"status": status})
	if err != nil {
		return Comment{}, err
	}
	return one[Comment](ctx, c, conn, r)
}

// GetSettings 读取站点设置。
func (c *Client) GetSettings(ctx context.Context, conn config.Connection) (Settings, error) {
	return one[Settings](ctx, c, conn, request{method: http.MethodGet, resource: "settings"})
}

// Probe 仅用于校验凭据，不产生副作用；返回的错误保留类别标记。
func (c *Client) Probe(ctx context.Context, conn config.Connection) (ProbeResult, error) {
	u, err := c.CurrentUser(ctx, conn)
	if err != nil {
		msg := "连接失败：" + errs.Kind(err)
		if se, ok := AsStatusError(err); ok {
			msg = fmt.Sprintf("%s（HTTP %d）", msg, se.StatusCode)
		} else if errors.Is(err, errs.ErrConfigurationMissing) {
			msg = "未配置站点连接"
		}
		return ProbeResult{OK: false, Message: msg}, err
	}
	identity := u.Name
	if identity == "" {
		identity = u.Slug
	}
	return ProbeResult{OK: true, Message: "连接成功", Identity: identity}, nil
}
