// Package events 分发购买记录变更事件：进程内订阅（SSE 实时推送）与可选的 AMQP 投递
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Type 事件类型
type Type string

const (
	EntryCreated Type = "entry.created"
	EntryDeleted Type = "entry.deleted"
)

// Event 记录变更事件，只携带 id，订阅方需重新读取列表
type Event struct {
	Type      Type      `json:"type"`
	OwnerID   uint      `json:"owner_id"`
	EntryID   uint      `json:"entry_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent 创建事件
func NewEvent(t Type, ownerID, entryID uint) Event {
	return Event{
		Type:      t,
		OwnerID:   ownerID,
		EntryID:   entryID,
		Timestamp: time.Now(),
	}
}

// ToJSON 序列化事件
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher 事件发布接口，发布失败不影响已提交的写操作
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Multi 依次发布到多个 Publisher
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, e)
		}
	}
}

// Nop 不做任何事
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
