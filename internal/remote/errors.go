package remote

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"

	"go-press-sync/internal/errs"
)

// StatusError 为远端返回的非 2xx 响应。Code/Message 取自远端错误体（若可解析）。
type StatusError struct {
	Method     string
	Resource   string
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s %s: %d %s (%s)", e.Method, e.Resource, e.StatusCode, msg, e.Code)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Resource, e.StatusCode, msg)
}

// newStatusError 构造并按状态码打上类别标记：
// 401/403 认证；408/429/5xx 连接（可由调用方重试）；其余 4xx 载荷校验。
func newStatusError(method, resource string, code int, body []byte) error {
	se := &StatusError{Method: method, Resource: resource, StatusCode: code}
	var wp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &wp) == nil {
		se.Code = wp.Code
		se.Message = strings.TrimSpace(wp.Message)
	}
	err := errs.Mark(se, errs.ErrRemoteStatus)
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errs.Mark(err, errs.ErrAuthentication)
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return errs.Mark(err, errs.ErrConnection)
	default:
		return errs.Mark(err, errs.ErrRemoteValidation)
	}
}

// AsStatusError 从错误链中提取 StatusError。
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
