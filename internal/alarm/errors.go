package alarm

import (
	"errors"
	"fmt"
)

// ErrorKind 注册失败的分类
type ErrorKind string

const (
	KindPermissionDenied ErrorKind = "permission_denied"
	KindInvalidRequest   ErrorKind = "invalid_request"
	KindScheduleFailed   ErrorKind = "schedule_failed"
	KindCancelFailed     ErrorKind = "cancel_failed"
)

// 哨兵错误，配合 errors.Is 使用
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidRequest   = errors.New("invalid alarm request")
	ErrScheduleFailed   = errors.New("alarm schedule failed")
	ErrCancelFailed     = errors.New("alarm cancel failed")
)

// AlarmError 返回给调用方的类型化错误，注册器从不内部重试
type AlarmError struct {
	Kind       ErrorKind
	TaskID     string
	Permission string // 仅 KindPermissionDenied
	Err        error
}

func (e *AlarmError) Error() string {
	switch {
	case e.Kind == KindPermissionDenied:
		return fmt.Sprintf("alarm %s: %s not granted", e.TaskID, e.Permission)
	case e.Err != nil:
		return fmt.Sprintf("alarm %s: %s: %v", e.TaskID, e.Kind, e.Err)
	default:
		return fmt.Sprintf("alarm %s: %s", e.TaskID, e.Kind)
	}
}

func (e *AlarmError) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, ErrPermissionDenied) 等按分类匹配
func (e *AlarmError) Is(target error) bool {
	switch target {
	case ErrPermissionDenied:
		return e.Kind == KindPermissionDenied
	case ErrInvalidRequest:
		return e.Kind == KindInvalidRequest
	case ErrScheduleFailed:
		return e.Kind == KindScheduleFailed
	case ErrCancelFailed:
		return e.Kind == KindCancelFailed
	}
	return false
}

// KindOf 提取错误分类，非 AlarmError 返回空
func KindOf(err error) ErrorKind {
	var ae *AlarmError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}
