package model

import (
	"encoding/json"
	"time"
)

// Snapshot 为远端系统某一时刻的完整导出，创建后不再修改。
type Snapshot struct {
	ID          string      `json:"id"`
	CapturedAt  time.Time   `json:"captured_at"`
	SourceURL   string      `json:"source_url"`
	Collections Collections `json:"entity_collections"`
	SizeBytes   int64       `json:"size_bytes"`
	Partial     bool        `json:"partial"`
	Warnings    []string    `json:"warnings,omitempty"`
}

// Collections 保存远端原始载荷（按种类），快照不做本地化转换。
type Collections struct {
	Posts      []json.RawMessage `json:"posts"`
	Categories []json.RawMessage `json:"categories"`
	Tags       []json.RawMessage `json:"tags"`
	Media      []json.RawMessage `json:"media"`
	Users      []json.RawMessage `json:"users"`
	Settings   json.RawMessage   `json:"settings"`
}

// ConnectionStatus 为连接探测结果。
type ConnectionStatus struct {
	OK       bool   `json:"ok"`
	Message  string `json:"message"`
	Identity string `json:"identity,omitempty"`
}

// MappingCounts 为某一实体种类的映射状态统计。
type MappingCounts struct {
	Synced  int `json:"synced"`
	Pending int `json:"pending"`
	Error   int `json:"error"`
}

// EntityStats 为某一实体种类的统计。Remote 为 -1 表示远端不可达。
type EntityStats struct {
	Local    int           `json:"local"`
	Remote   int           `json:"remote"`
	Mappings MappingCounts `json:"mappings"`
}

// Stats 为统计汇总：连接状态、各种类计数、最近一次成功同步。
type Stats struct {
	Scope            string                     `json:"scope"`
	Connection       ConnectionStatus           `json:"connection"`
	Entities         map[EntityType]EntityStats `json:"entities"`
	LastSuccessfulAt *time.Time                 `json:"last_successful_at,omitempty"`
	FeedLatestAt     *time.Time                 `json:"feed_latest_at,omitempty"`
	UpdatedAt        time.Time                  `json:"updated_at"`
}
