package events

import (
	"context"
	"log/slog"
	"sync"
)

const subscriberBuffer = 16

// Hub 按用户分组的进程内订阅中心
// 订阅者消费过慢时丢弃事件，客户端收到后续事件会重新拉取完整列表
type Hub struct {
	mu   sync.RWMutex
	subs map[uint]map[chan Event]struct{}
}

// NewHub 创建订阅中心
func NewHub() *Hub {
	return &Hub{subs: make(map[uint]map[chan Event]struct{})}
}

// Subscribe 订阅某个用户的事件，返回的 cancel 必须调用以释放资源
func (h *Hub) Subscribe(ownerID uint) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if h.subs[ownerID] == nil {
		h.subs[ownerID] = make(map[chan Event]struct{})
	}
	h.subs[ownerID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[ownerID], ch)
			if len(h.subs[ownerID]) == 0 {
				delete(h.subs, ownerID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish 非阻塞地推送给该用户的所有订阅者
func (h *Hub) Publish(ctx context.Context, e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[e.OwnerID] {
		select {
		case ch <- e:
		default:
			slog.WarnContext(ctx, "Dropping event for slow subscriber",
				"type", e.Type,
				"owner_id", e.OwnerID,
				"entry_id", e.EntryID)
		}
	}
}

// Subscribers 返回某个用户当前的订阅数
func (h *Hub) Subscribers(ownerID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[ownerID])
}
