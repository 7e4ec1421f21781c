// Package dismissal 单主题、非持久的"关闭当前闹钟"广播。
// 发送时没有订阅者的信号直接丢失。
package dismissal

import "sync"

// Signaler 任何组件都可以调用，没有展示时是 no-op
type Signaler interface {
	SignalDismiss()
}

type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan struct{})}
}

// SignalDismiss 非阻塞地通知当前所有订阅者
func (b *Bus) SignalDismiss() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
			// 已有未读信号，合并
		}
	}
}

// Subscribe 返回信号 channel 和取消订阅函数（可重复调用）
func (b *Bus) Subscribe() (<-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan struct{}, 1)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Subscribers 当前订阅者数量
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
