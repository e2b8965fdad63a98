package model

import (
	"time"
)

// SyncStatus 为映射记录的同步状态。
type SyncStatus string

const (
	SyncSynced  SyncStatus = "synced"
	SyncPending SyncStatus = "pending"
	SyncError   SyncStatus = "error"
)

// Direction 为一次同步尝试的方向。
type Direction string

const (
	DirectionPull Direction = "pull"
	DirectionPush Direction = "push"
)

// Mapping 为本地实体与远端实体的持久化关联。
// RemoteID 为 0 表示尚未推送到远端。Version 为 CAS 令牌，0 表示新记录。
type Mapping struct {
	EntityType      EntityType `json:"entity_type"`
	LocalID         string     `json:"local_id"`
	RemoteID        int64      `json:"remote_id,omitempty"`
	Status          SyncStatus `json:"sync_status"`
	LastSyncedAt    time.Time  `json:"last_synced_at"`
	LastError       string     `json:"last_error,omitempty"`
	LocalModifiedAt time.Time  `json:"local_modified_at"`
	Fingerprint     string     `json:"fingerprint,omitempty"`
	Direction       Direction  `json:"direction,omitempty"`
	Attempts        int        `json:"attempts"`
	ClaimedAt       time.Time  `json:"claimed_at"`
	Version         int64      `json:"version"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Linked 报告映射是否已关联远端实体。
func (m *Mapping) Linked() bool { return m != nil && m.RemoteID > 0 }

// Outcome 为单条同步结果。
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Outcomes 为结果统计的固定顺序。
var Outcomes = []Outcome{OutcomeCreated, OutcomeUpdated, OutcomeUnchanged, OutcomeSkipped, OutcomeFailed}

// SyncResult 为一次条目级同步操作的结果，仅在请求生命周期内存在。
type SyncResult struct {
	EntityType EntityType `json:"entity_type"`
	LocalID    string     `json:"local_id,omitempty"`
	RemoteID   int64      `json:"remote_id,omitempty"`
	Outcome    Outcome    `json:"outcome"`
	Direction  Direction  `json:"direction"`
	Message    string     `json:"message,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Report 汇总一轮同步的全部结果。
// Aborted 记录在处理任何条目之前就中止的实体种类及原因。
type Report struct {
	Scope      string                `json:"scope"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Results    []SyncResult          `json:"results"`
	Aborted    map[EntityType]string `json:"aborted,omitempty"`
}

// Count 返回指定结果类型的数量。
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Counts 返回全部结果类型的数量。
func (r *Report) Counts() map[Outcome]int {
	out := make(map[Outcome]int, len(Outcomes))
	for _, o := range Outcomes {
		out[o] = 0
	}
	for _, res := range r.Results {
		out[res.Outcome]++
	}
	return out
}

// Failed 返回失败的条目。
func (r *Report) Failed() []SyncResult {
	var out []SyncResult
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			out = append(out, res)
		}
	}
	return out
}

// Succeeded 报告整轮是否无中止、无失败；部分成功由调用方自行判断。
func (r *Report) Succeeded() bool {
	return len(r.Aborted) == 0 && r.Count(OutcomeFailed) == 0
}

// Run 为一次同步的历史记录，用于统计"最近一次成功同步"。
type Run struct {
	ID         int64     `json:"id"`
	Scope      string    `json:"scope"`
	EntityType string    `json:"entity_type"` // 单一种类或 "all"
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Unchanged  int       `json:"unchanged"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Aborted    bool      `json:"aborted"`
}

// RunFromReport 由同步报告生成历史记录。
func RunFromReport(rep *Report, entity string) Run {
	c := rep.Counts()
	return Run{
		Scope:      rep.Scope,
		EntityType: entity,
		StartedAt:  rep.StartedAt,
		FinishedAt: rep.FinishedAt,
		Created:    c[OutcomeCreated],
		Updated:    c[OutcomeUpdated],
		Unchanged:  c[OutcomeUnchanged],
		Skipped:    c[OutcomeSkipped],
		Failed:     c[OutcomeFailed],
		Aborted:    len(rep.Aborted) > 0,
	}
}
