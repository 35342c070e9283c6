package device

import "sync"

// StateCache 保存最近一次成功解码的设备状态快照
type StateCache struct {
	mu       sync.RWMutex
	snapshot StatusSnapshot
}

// NewStateCache 创建状态缓存
func NewStateCache() *StateCache {
	return &StateCache{}
}

// Read 返回当前缓存的快照，无I/O
func (c *StateCache) Read() StatusSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Apply 仅在新快照与当前快照逐项不同时替换，返回是否发生了变化。
// 返回值是对外推送通知的唯一依据，缓存本身不发通知。
func (c *StateCache) Apply(snapshot StatusSnapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot.Equal(snapshot) {
		return false
	}

	c.snapshot = snapshot
	return true
}
