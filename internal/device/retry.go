package device

import (
	"sync"
	"time"

	"github.com/wfunc/switch-bridge/internal/config"
)

// RetryController 跟踪连续失败次数并计算重连退避间隔
type RetryController struct {
	mu sync.Mutex

	failureResetInterval time.Duration
	maxFailureThreshold  int
	minRetryInterval     time.Duration
	maxRetryInterval     time.Duration

	failureCount int
	lastFailure  time.Time
	backoff      time.Duration

	// 测试时可替换
	now func() time.Time
}

// NewRetryController 创建重试控制器
func NewRetryController(cfg *config.SerialConfig) *RetryController {
	return &RetryController{
		failureResetInterval: cfg.FailureResetInterval,
		maxFailureThreshold:  cfg.MaxFailureThreshold,
		minRetryInterval:     cfg.MinRetryInterval,
		maxRetryInterval:     cfg.MaxRetryInterval,
		backoff:              cfg.MinRetryInterval,
		now:                  time.Now,
	}
}

// RecordFailure 记录一次失败并更新失败时间
func (r *RetryController) RecordFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failureCount++
	r.lastFailure = r.now()
}

// MaybeReset 距上次失败超过重置间隔后清零失败计数
func (r *RetryController) MaybeReset() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastFailure.IsZero() {
		return false
	}
	if r.now().Sub(r.lastFailure) <= r.failureResetInterval {
		return false
	}

	r.failureCount = 0
	r.lastFailure = time.Time{}
	return true
}

// ShouldForceDisconnect 失败计数达到阈值时为真。
// 调用方必须将链路标记为断开并调用ResetFailures。
func (r *RetryController) ShouldForceDisconnect() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failureCount >= r.maxFailureThreshold
}

// ResetFailures 清零失败计数
func (r *RetryController) ResetFailures() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failureCount = 0
	r.lastFailure = time.Time{}
}

// FailureCount 返回当前连续失败次数
func (r *RetryController) FailureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failureCount
}

// NextBackoff 返回当前退避间隔，随后加倍，上限为max_retry_interval
func (r *RetryController) NextBackoff() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	interval := r.backoff
	r.backoff = r.backoff * 2
	if r.backoff > r.maxRetryInterval {
		r.backoff = r.maxRetryInterval
	}
	return interval
}

// ResetBackoff 重连成功后恢复到最小间隔
func (r *RetryController) ResetBackoff() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backoff = r.minRetryInterval
}
