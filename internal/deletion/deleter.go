// Package deletion 闹钟界面"标记完成"使用的远程删除：至多一次、尽力而为。
// 它不依赖主界面的 API 客户端，失败时静默放弃，不重试。
package deletion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"alarmd/internal/credential"
	"alarmd/internal/dismissal"
	"alarmd/pkg/circuitbreaker"
	"alarmd/pkg/logger"
	"alarmd/pkg/metrics"
	"alarmd/pkg/trace"
	"alarmd/pkg/util"

	"go.uber.org/zap"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxRedirects = 5
)

// TaskDeleter 两个调用点（标记完成、删除广播接收器）共用的接口。
// 调用方不等待结果：删除总是在独立的 goroutine 中执行。
type TaskDeleter interface {
	Go(taskID string)
	GoFrom(ctx context.Context, taskID string)
}

type Deleter struct {
	baseURL      string
	httpClient   *http.Client
	mirror       credential.Mirror
	dismiss      dismissal.Signaler
	maxRedirects int
	breaker      *circuitbreaker.CircuitBreaker
	logger       *zap.Logger
	wg           sync.WaitGroup
}

func NewDeleter(baseURL string, mirror credential.Mirror, dismiss dismissal.Signaler, logger *zap.Logger) *Deleter {
	return &Deleter{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   newHTTPClient(DefaultTimeout),
		mirror:       mirror,
		dismiss:      dismiss,
		maxRedirects: DefaultMaxRedirects,
		logger:       logger,
	}
}

// WithTimeout 设置单次请求的连接/读取超时
func (d *Deleter) WithTimeout(timeout time.Duration) *Deleter {
	d.httpClient = newHTTPClient(timeout)
	return d
}

// WithBreaker 任务服务连续故障时熔断，熔断期间的删除直接放弃
func (d *Deleter) WithBreaker(cb *circuitbreaker.CircuitBreaker) *Deleter {
	d.breaker = cb
	return d
}

// newHTTPClient 不自动跟随重定向，由 DeleteTask 手动处理（保留 DELETE 方法和认证头）
func newHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: timeout}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
			MaxIdleConns:          4,
			IdleConnTimeout:       30 * time.Second,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Go 在后台执行删除，生命周期独立于调用方（例如已经关闭的闹钟界面）
func (d *Deleter) Go(taskID string) {
	d.GoFrom(context.Background(), taskID)
}

// GoFrom 同 Go，但沿用 ctx 中的 trace_id；ctx 取消不会中断删除
func (d *Deleter) GoFrom(ctx context.Context, taskID string) {
	detached := trace.Ensure(context.WithoutCancel(ctx))
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.DeleteTask(detached, taskID)
	}()
}

// Wait 等待所有后台删除结束（优雅退出用）
func (d *Deleter) Wait() {
	d.wg.Wait()
}

// DeleteTask 发送 DELETE，手动跟随最多 maxRedirects 次重定向；任何失败都静默放弃。
// 结束后总是广播关闭信号，让仍在展示的同一任务闹钟关闭。
func (d *Deleter) DeleteTask(ctx context.Context, taskID string) {
	log := logger.WithTrace(ctx, d.logger).With(zap.String("task_id", taskID))
	defer d.dismiss.SignalDismiss()
	defer func() {
		if r := recover(); r != nil {
			log.Error("Task deletion panic recovered", zap.Any("panic", r))
		}
	}()

	start := time.Now()
	requests, err := d.attempt(ctx, taskID)
	status := util.ClassifyError(err)
	metrics.RecordTaskDeletion(status, time.Since(start))

	if err != nil {
		log.Warn("Remote task deletion abandoned",
			zap.String("status", status),
			zap.Int("requests", requests),
			zap.Error(err),
		)
		return
	}
	log.Info("Remote task deleted", zap.Int("requests", requests))
}

func (d *Deleter) attempt(ctx context.Context, taskID string) (int, error) {
	if d.breaker == nil {
		return d.deleteWithRedirects(ctx, taskID)
	}

	var (
		requests int
		reqErr   error
	)
	err := d.breaker.Execute(func() error {
		requests, reqErr = d.deleteWithRedirects(ctx, taskID)
		if tripsBreaker(reqErr) {
			return reqErr
		}
		return nil
	})
	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		return 0, err
	}
	return requests, reqErr
}

// tripsBreaker 只有服务端故障计入熔断，4xx 和重定向用尽不算
func tripsBreaker(err error) bool {
	switch util.ClassifyError(err) {
	case "server_error", "timeout", "network_timeout", "network_error":
		return true
	}
	return false
}

// TaskURL 任务的规范删除地址
func (d *Deleter) TaskURL(taskID string) string {
	return d.baseURL + "/tasks?id=" + url.QueryEscape(taskID)
}

func (d *Deleter) deleteWithRedirects(ctx context.Context, taskID string) (int, error) {
	target, err := url.Parse(d.TaskURL(taskID))
	if err != nil {
		return 0, fmt.Errorf("invalid task url: %w", err)
	}
	token := d.mirror.Read(ctx)

	requests := 0
	for hop := 0; ; hop++ {
		requests++
		resp, err := d.do(ctx, target, token)
		if err != nil {
			return requests, err
		}
		drain(resp)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return requests, nil
		case isRedirect(resp.StatusCode):
			if hop >= d.maxRedirects {
				return requests, util.ErrRedirectLimit
			}
			location := resp.Header.Get("Location")
			if location == "" {
				return requests, fmt.Errorf("redirect %d without Location: %w", resp.StatusCode, &util.StatusError{Code: resp.StatusCode})
			}
			next, err := target.Parse(location)
			if err != nil {
				return requests, fmt.Errorf("invalid redirect location %q: %w", location, err)
			}
			target = next
		default:
			return requests, &util.StatusError{Code: resp.StatusCode}
		}
	}
}

func (d *Deleter) do(ctx context.Context, target *url.URL, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if traceID := trace.FromContext(ctx); traceID != "" {
		req.Header.Set(trace.HeaderName, traceID)
	}
	return d.httpClient.Do(req)
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
