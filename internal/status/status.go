// 包 status 负责本地生命周期状态与远端状态之间的双向映射（纯函数，无 I/O）。
// 未知取值一律回退到最保守的 draft，并通过 Check* 返回可观测的告警错误。
package status

import (
	"go-press-sync/internal/errs"
	"go-press-sync/internal/model"
)

// Remote 为远端（线上协议）使用的状态词汇。
type Remote string

const (
	RemoteDraft   Remote = "draft"
	RemotePending Remote = "pending"
	RemotePublish Remote = "publish"
	RemoteFuture  Remote = "future"
	RemotePrivate Remote = "private"
)

var toRemote = map[model.LocalStatus]Remote{
	model.StatusDraft:     RemoteDraft,
	model.StatusReview:    RemotePending,
	model.StatusPublished: RemotePublish,
	model.StatusScheduled: RemoteFuture,
	model.StatusArchived:  RemotePrivate,
}

var toLocal = map[Remote]model.LocalStatus{
	RemoteDraft:   model.StatusDraft,
	RemotePending: model.StatusReview,
	RemotePublish: model.StatusPublished,
	RemoteFuture:  model.StatusScheduled,
	RemotePrivate: model.StatusArchived,
}

// ToRemote 将本地状态映射为远端状态；未知值回退为 draft。
func ToRemote(s model.LocalStatus) Remote {
	r, _ := CheckRemote(s)
	return r
}

// ToLocal 将远端状态映射为本地状态；未知值回退为 draft。
func ToLocal(s Remote) model.LocalStatus {
	l, _ := CheckLocal(s)
	return l
}

// CheckRemote 同 ToRemote，但在回退时返回 ErrUnmappedStatus 标记的错误。
func CheckRemote(s model.LocalStatus) (Remote, error) {
	if r, ok := toRemote[s]; ok {
		return r, nil
	}
	return RemoteDraft, errs.Newf(errs.ErrUnmappedStatus, "local status %q has no remote counterpart, using %q", s, RemoteDraft)
}

// CheckLocal 同 ToLocal，但在回退时返回 ErrUnmappedStatus 标记的错误。
func CheckLocal(s Remote) (model.LocalStatus, error) {
	if l, ok := toLocal[s]; ok {
		return l, nil
	}
	return model.StatusDraft, errs.Newf(errs.ErrUnmappedStatus, "remote status %q has no local counterpart, using %q", s, model.StatusDraft)
}

// LocalStatuses 返回全部本地状态。
func LocalStatuses() []model.LocalStatus {
	return []model.LocalStatus{
		model.StatusDraft, model.StatusReview, model.StatusPublished,
		model.StatusScheduled, model.StatusArchived,
	}
}
