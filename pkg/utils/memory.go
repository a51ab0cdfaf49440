package utils

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrMemoryOutOfBounds 内存越界
// 批处理循环中此错误必须向上传播并中止整轮任务，不得按单条错误吞掉
var ErrMemoryOutOfBounds = errors.New("memory usage out of bounds")

// MemoryGuard 批处理内存保险丝
// 按"堆内存使用量 / 配置上限"的百分比判断，超限立即报错
type MemoryGuard struct {
	limitMB    uint64
	maxPercent float64
}

// NewMemoryGuard 创建内存保险丝
// limitMB <= 0 表示不启用
func NewMemoryGuard(limitMB uint64, maxPercent float64) *MemoryGuard {
	if maxPercent <= 0 {
		maxPercent = 80
	}
	return &MemoryGuard{limitMB: limitMB, maxPercent: maxPercent}
}

// Check 检查当前堆内存
func (g *MemoryGuard) Check() error {
	if g == nil || g.limitMB == 0 {
		return nil
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	usedMB := m.HeapAlloc / 1024 / 1024
	boundMB := float64(g.limitMB) * g.maxPercent / 100

	if float64(usedMB) > boundMB {
		return fmt.Errorf("%w: used %dMB, bound %.0fMB (%.0f%% of %dMB)",
			ErrMemoryOutOfBounds, usedMB, boundMB, g.maxPercent, g.limitMB)
	}
	return nil
}
