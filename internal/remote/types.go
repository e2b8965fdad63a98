package remote

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// 远端载荷按种类建模：必填字段在 validate 中检查，未知字段在解码时丢弃。

// Time 解析远端的 GMT 时间（无时区后缀视为 UTC），null/空串为零值。
type Time struct {
	time.Time
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}

func (t *Time) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("time: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timeLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time = v.UTC()
			return nil
		}
	}
	return fmt.Errorf("time: unsupported format %q", s)
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format("2006-01-02T15:04:05"))
}

// Rendered 为 {raw, rendered} 形式的富文本字段；edit 上下文才有 raw。
type Rendered struct {
	Raw      string `json:"raw,omitempty"`
	Rendered string `json:"rendered"`
}

// Text 优先返回原始文本。
func (r Rendered) Text() string {
	if r.Raw != "" {
		return r.Raw
	}
	return r.Rendered
}

func requireID(id int64) error {
	if id <= 0 {
		return errors.New("missing required field id")
	}
	return nil
}

// Post 为远端文章。
type Post struct {
	ID            int64    `json:"id"`
	Date          Time     `json:"date_gmt"`
	Modified      Time     `json:"modified_gmt"`
	Slug          string   `json:"slug"`
	Status        string   `json:"status"`
	Link          string   `json:"link"`
	Title         Rendered `json:"title"`
	Content       Rendered `json:"content"`
	Excerpt       Rendered `json:"excerpt"`
	Author        int64    `json:"author"`
	FeaturedMedia int64    `json:"featured_media"`
	Categories    []int64  `json:"categories"`
	Tags          []int64  `json:"tags"`
}

func (p *Post) validate() error { return requireID(p.ID) }

// PostInput 为创建/更新文章的载荷。Status 必须使用远端词汇。
type PostInput struct {
	Title         string  `json:"title"`
	Content       string  `json:"content"`
	Excerpt       string  `json:"excerpt"`
	Slug          string  `json:"slug,omitempty"`
	Status        string  `json:"status"`
	Date          *Time   `json:"date_gmt,omitempty"`
	FeaturedMedia int64   `json:"featured_media"`
	Categories    []int64 `json:"categories"`
	Tags          []int64 `json:"tags"`
}

// Category 为远端分类。
type Category struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	Parent      int64  `json:"parent"`
	Count       int    `json:"count"`
	Link        string `json:"link"`
}

func (c *Category) validate() error {
	if err := requireID(c.ID); err != nil {
		return err
	}
	if c.Name == "" {
		return errors.New("missing required field name")
	}
	return nil
}

// Tag 为远端标签。
type Tag struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	Count       int    `json:"count"`
	Link        string `json:"link"`
}

func (t *Tag) validate() error {
	if err := requireID(t.ID); err != nil {
		return err
	}
	if t.Name == "" {
		return errors.New("missing required field name")
	}
	return nil
}

// TermInput 为分类/标签的创建与更新载荷；标签忽略 Parent。
type TermInput struct {
	Name        string `json:"name"`
	Slug        string `json:"slug,omitempty"`
	Description string `json:"description"`
	Parent      *int64 `json:"parent,omitempty"`
}

// Media 为远端媒体。
type Media struct {
	ID        int64    `json:"id"`
	Date      Time     `json:"date_gmt"`
	Modified  Time     `json:"modified_gmt"`
	Slug      string   `json:"slug"`
	Title     Rendered `json:"title"`
	AltText   string   `json:"alt_text"`
	Caption   Rendered `json:"caption"`
	MimeType  string   `json:"mime_type"`
	MediaType string   `json:"media_type"`
	SourceURL string   `json:"source_url"`
}

func (m *Media) validate() error { return requireID(m.ID) }

// MediaUpload 为上传载荷：二进制内容 + 元数据。
type MediaUpload struct {
	FileName string
	MimeType string
	Data     []byte
	Title    string
	AltText  string
	Caption  string
}

// MediaInput 为媒体元数据更新载荷。
type MediaInput struct {
	Title   string `json:"title"`
	AltText string `json:"alt_text"`
	Caption string `json:"caption"`
}

// User 为远端用户（只读）。
type User struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	Link        string `json:"link"`
}

func (u *User) validate() error { return requireID(u.ID) }

// Comment 为远端评论。
type Comment struct {
	ID         int64    `json:"id"`
	Post       int64    `json:"post"`
	Parent     int64    `json:"parent"`
	AuthorName string   `json:"author_name"`
	Date       Time     `json:"date_gmt"`
	Content    Rendered `json:"content"`
	Status     string   `json:"status"`
}

func (c *Comment) validate() error { return requireID(c.ID) }

// CommentStatuses 为审核可用的评论状态。
var CommentStatuses = []string{"approved", "hold", "spam", "trash"}

// Settings 为站点设置（只读快照所需字段）。
type Settings struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	URL             string `json:"url"`
	Timezone        string `json:"timezone"`
	DateFormat      string `json:"date_format"`
	PostsPerPage    int    `json:"posts_per_page"`
	DefaultCategory int64  `json:"default_category"`
}

// ProbeResult 为连接探测结果。
type ProbeResult struct {
	OK       bool   `json:"ok"`
	Message  string `json:"message"`
	Identity string `json:"identity,omitempty"`
}
