package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path"

	"go-press-sync/internal/config"
)

// ListMedia 拉取一页媒体。
func (c *Client) ListMedia(ctx context.Context, conn config.Connection, f ListFilter) (Page[Media], error) {
	return list[Media](ctx, c, conn, "media", f)
}

// GetMedia 读取单个媒体。
func (c *Client) GetMedia(ctx context.Context, conn config.Connection, id int64) (Media, error) {
	return one[Media](ctx, c, conn, request{method: http.MethodGet, resource: fmt.Sprintf("media/%d", id)})
}

// UploadMedia 以 multipart/form-data 上传二进制内容及元数据。
func (c *Client) UploadMedia(ctx context.Context, conn config.Connection, up MediaUpload) (Media, error) {
	if len(up.Data) == 0 {
		return Media{}, errors.New("upload media: empty payload")
	}
	name := path.Base(up.FileName)
	if name == "." || name == "/" || name == "" {
		name = "upload.bin"
	}
	mimeType := up.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", mimeType)
	fw, err := mw.CreatePart(h)
	if err != nil {
		return Media{}, fmt.Errorf("create file part: %w", err)
	}
	if _, err := fw.Write(up.Data); err != nil {
		return Media{}, fmt.Errorf("write file part: %w", err)
	}
	for k, v := range map[string]string{"title": up.Title, "alt_text": up.AltText, "caption": up.Caption} {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return Media{}, fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return Media{}, fmt.Errorf("close multipart: %w", err)
	}
	return one[Media](ctx, c, conn, request{
		method:      http.MethodPost,
		resource:    "media",
		body:        buf.Bytes(),
		contentType: mw.FormDataContentType(),
	})
}

// UpdateMedia 更新媒体元数据（不替换二进制内容）。
func (c *Client) UpdateMedia(ctx context.Context, conn config.Connection, id int64, in MediaInput) (Media, error) {
	r, err := jsonRequest(http.MethodPut, fmt.Sprintf("media/%d", id), in)
	if err != nil {
		return Media{}, err
	}
	return one[Media](ctx, c, conn, r)
}

// DeleteMedia 删除媒体（远端要求 force=true）。
func (c *Client) DeleteMedia(ctx context.Context, conn config.Connection, id int64, force bool) (bool, error) {
	return c.remove(ctx, conn, "media", id, force)
}
