package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"

	"alarmd/pkg/circuitbreaker"
)

// StatusError 表示远端返回了非预期的 HTTP 状态码
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return "unexpected http status " + strconv.Itoa(e.Code)
}

// ErrRedirectLimit 重定向次数用尽
var ErrRedirectLimit = errors.New("redirect limit exceeded")

// ClassifyError 把错误归类为指标标签
func ClassifyError(err error) string {
	if err == nil {
		return "success"
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return "json_decode_error"
	}

	if errors.Is(err, ErrRedirectLimit) {
		return "redirect_limit"
	}
	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		return "circuit_open"
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Code == 401 || statusErr.Code == 403:
			return "unauthorized"
		case statusErr.Code == 404:
			return "not_found"
		case statusErr.Code >= 500:
			return "server_error"
		default:
			return "client_error"
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "context_canceled"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "network_timeout"
		}
		return "network_error"
	}
	return "unknown_error"
}
