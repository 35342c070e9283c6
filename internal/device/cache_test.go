package device

import (
	"testing"
	"time"
)

// TestCacheApplyDetectsChange 测试缓存变化检测
func TestCacheApplyDetectsChange(t *testing.T) {
	cache := NewStateCache()

	first := DecodeStatus(0b0011)
	if !cache.Apply(first) {
		t.Error("首次写入非零状态应视为变化")
	}

	// 相同状态不应视为变化
	same := DecodeStatus(0b0011)
	if cache.Apply(same) {
		t.Error("相同状态不应视为变化")
	}

	changed := DecodeStatus(0b0111)
	if !cache.Apply(changed) {
		t.Error("状态变化未被检测到")
	}

	got := cache.Read()
	if !got.Equal(changed) {
		t.Errorf("缓存内容不匹配，期望%v，实际%v", changed.States, got.States)
	}
}

// TestCacheReadIsCopy 测试读取返回的是副本
func TestCacheReadIsCopy(t *testing.T) {
	cache := NewStateCache()
	cache.Apply(DecodeStatus(0b0001))

	snapshot := cache.Read()
	snapshot.States[0] = false

	if !cache.Read().Get(SwitchAlpha) {
		t.Error("修改读取结果不应影响缓存内容")
	}
}

// TestCacheKeepsTimestampOnEqual 测试相同状态不替换快照
func TestCacheKeepsTimestampOnEqual(t *testing.T) {
	cache := NewStateCache()

	first := DecodeStatus(0b0010)
	cache.Apply(first)
	stored := cache.Read()

	time.Sleep(time.Millisecond)
	cache.Apply(DecodeStatus(0b0010))

	if !cache.Read().UpdatedAt.Equal(stored.UpdatedAt) {
		t.Error("状态未变化时不应替换快照")
	}
}
