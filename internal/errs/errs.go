// 包 errs 定义同步引擎的错误分类：
// - 以 cockroachdb/errors 的 Mark 机制给错误打上类别标记
// - 调用方通过 errors.Is 判断类别，而不依赖具体错误类型
// - 提供 Retryable/AbortsPass 等传播策略判断
package errs

import (
	"context"

	"github.com/cockroachdb/errors"
)

// 错误类别哨兵。只用作 Mark 的参照，不直接返回给调用方。
var (
	ErrConfigurationMissing = errors.New("configuration missing")
	ErrConnection           = errors.New("connection error")
	ErrAuthentication       = errors.New("authentication error")
	ErrRemoteValidation     = errors.New("remote validation error")
	ErrRemoteStatus         = errors.New("remote status error")
	ErrMalformedResponse    = errors.New("malformed response")
	ErrLocalPersistence     = errors.New("local persistence error")
	ErrUnmappedStatus       = errors.New("unmapped status")
	ErrPartialBackup        = errors.New("partial backup")
)

// Mark 给 err 打上类别标记；err 为 nil 时返回 nil。
func Mark(err error, kind error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, kind)
}

// Newf 创建带类别标记的新错误。
func Newf(kind error, format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), kind)
}

// Wrapf 包装 err 并打上类别标记。
func Wrapf(err error, kind error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrapf(err, format, args...), kind)
}

// ConfigurationMissing 表示找不到 scope 对应的连接配置。
func ConfigurationMissing(scope string) error {
	err := Newf(ErrConfigurationMissing, "no connection configuration for scope %q", scope)
	return errors.WithHint(err, "set SITE.url/username/secret in settings.yaml or PRESS_SYNC_* env vars")
}

// Kind 返回错误类别的短名，用于日志、结果消息与指标标签。
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfigurationMissing):
		return "configuration_missing"
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrRemoteValidation):
		return "remote_validation"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrRemoteStatus):
		return "remote_status"
	case errors.Is(err, ErrLocalPersistence):
		return "local_persistence"
	case errors.Is(err, ErrUnmappedStatus):
		return "unmapped_status"
	case errors.Is(err, ErrPartialBackup):
		return "partial_backup"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}

// Is 按类别标记判断 err 是否属于 kind。标准库的 errors.Is 看不到 Mark 打的标记，
// 包外判断类别统一走这里。
func Is(err, kind error) bool { return errors.Is(err, kind) }

// Retryable 报告错误是否为暂时性故障（网络/超时/远端 5xx、429）。
// 认证失败不可重试，需要人工介入。
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthentication) {
		return false
	}
	return errors.Is(err, ErrConnection)
}

// AbortsPass 报告错误在一轮同步开始时出现是否应中止整轮。
func AbortsPass(err error) bool {
	return errors.Is(err, ErrConfigurationMissing) ||
		errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrAuthentication)
}

// Hints 返回错误链上附带的修复提示。
func Hints(err error) []string {
	return errors.GetAllHints(err)
}
