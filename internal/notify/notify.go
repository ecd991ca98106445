package notify

import (
	"context"
	"sync"
	"time"
)

// Notification 一次要投递的提醒。
type Notification struct {
	SessionID   string
	TriggerID   string // 空串表示会话本人提醒
	ObserverID  string
	AmbulanceID string
	Recipient   string // 投递目标的可读描述（手机标签或观察者本人）
	ETA         *time.Time
	ArrivedAt   *time.Time
}

// Channel 提醒投递通道。投递失败时触发器保持未完成，下一轮扫描重试，
// 语义为至少一次投递、恰好一次计账。
type Channel interface {
	Deliver(ctx context.Context, n Notification) error
}

// PhoneDirectory 手机号目录（账号模块实现），把 phone id 换成可读描述。
type PhoneDirectory interface {
	Describe(ctx context.Context, phoneID string) (string, error)
}

// keyedMutex 按触发器 id 串行化投递，防止同一触发器被并发重复投递。
type keyedMutex struct {
	locks sync.Map
}

func (k *keyedMutex) Lock(key string) *sync.Mutex {
	v, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu
}
