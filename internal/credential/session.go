package credential

import (
	"context"
	"sync/atomic"
)

type sessionKey struct{}

// WithSessionToken 把调用方的会话 token 放进 context，注册闹钟前据此刷新镜像
func WithSessionToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, sessionKey{}, token)
}

// SessionToken 读取 context 中的会话 token
func SessionToken(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	token, _ := ctx.Value(sessionKey{}).(string)
	return token
}

// SessionStore 登录、登出时更新当前会话
type SessionStore interface {
	Acquire(ctx context.Context, token string)
	Clear(ctx context.Context)
}

// Session 进程内的权威会话 token，登录/登出同时写镜像
type Session struct {
	token  atomic.Value
	mirror Mirror
}

func NewSession(mirror Mirror) *Session {
	s := &Session{mirror: mirror}
	s.token.Store("")
	return s
}

// Acquire 登录或校验成功
func (s *Session) Acquire(ctx context.Context, token string) {
	s.token.Store(token)
	s.mirror.Write(ctx, token)
}

// Clear 登出
func (s *Session) Clear(ctx context.Context) {
	s.token.Store("")
	s.mirror.Clear(ctx)
}

// Token 作为 alarm.TokenSource 使用：请求自带的 token 优先，否则取最近一次登录的 token
func (s *Session) Token(ctx context.Context) string {
	if token := SessionToken(ctx); token != "" {
		return token
	}
	return s.token.Load().(string)
}
