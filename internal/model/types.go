// 包 model 定义同步引擎的数据模型：本地内容、映射记录、同步结果、快照与统计。
package model

import (
	"time"
)

// EntityType 为参与同步的实体种类。
type EntityType string

const (
	EntityPost     EntityType = "post"
	EntityCategory EntityType = "category"
	EntityTag      EntityType = "tag"
	EntityMedia    EntityType = "media"
)

// AllEntityTypes 为全量同步的固定顺序。
var AllEntityTypes = []EntityType{EntityPost, EntityCategory, EntityTag, EntityMedia}

// ParseEntityType 解析实体种类（接受单复数）。
func ParseEntityType(s string) (EntityType, bool) {
	switch s {
	case "post", "posts":
		return EntityPost, true
	case "category", "categories":
		return EntityCategory, true
	case "tag", "tags":
		return EntityTag, true
	case "media":
		return EntityMedia, true
	}
	return "", false
}

// Resource 返回远端 REST 集合名。
func (t EntityType) Resource() string {
	switch t {
	case EntityCategory:
		return "categories"
	case EntityTag:
		return "tags"
	case EntityMedia:
		return "media"
	}
	return "posts"
}

// LocalStatus 为本地内容的生命周期状态。
type LocalStatus string

const (
	StatusDraft     LocalStatus = "draft"
	StatusReview    LocalStatus = "review"
	StatusPublished LocalStatus = "published"
	StatusScheduled LocalStatus = "scheduled"
	StatusArchived  LocalStatus = "archived"
)

// Post 为本地文章。
type Post struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	Content         string      `json:"content"`
	Excerpt         string      `json:"excerpt"`
	Slug            string      `json:"slug"`
	Status          LocalStatus `json:"status"`
	Author          string      `json:"author"`
	CategoryIDs     []string    `json:"category_ids"`
	TagIDs          []string    `json:"tag_ids"`
	FeaturedMediaID string      `json:"featured_media_id,omitempty"`
	PublishedAt     time.Time   `json:"published_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Category 为本地分类。
type Category struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	ParentID    string    `json:"parent_id,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Tag 为本地标签。
type Tag struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Media 为本地媒体。Data 为空时表示仅有元数据（例如从远端拉取的条目）。
type Media struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	AltText   string    `json:"alt_text"`
	Caption   string    `json:"caption"`
	MimeType  string    `json:"mime_type"`
	FileName  string    `json:"file_name"`
	SourceURL string    `json:"source_url"`
	Data      []byte    `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}
