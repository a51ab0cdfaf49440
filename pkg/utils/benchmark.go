package utils

import (
	"log"
	"time"
)

// Benchmark 批处理吞吐统计
// 每轮批处理单独构造一个实例注入使用，不共享进程级状态
type Benchmark struct {
	name       string
	breakpoint int

	count   int
	started time.Time
	lastLog time.Time
}

// NewBenchmark 创建统计器
// breakpoint: 每处理多少条打印一次检查点日志
func NewBenchmark(name string, breakpoint int) *Benchmark {
	if breakpoint <= 0 {
		breakpoint = 10
	}
	return &Benchmark{name: name, breakpoint: breakpoint}
}

// Start 开始计时
func (b *Benchmark) Start() {
	now := time.Now()
	b.started = now
	b.lastLog = now
	b.count = 0
}

// Tick 记录一条处理完成，按 breakpoint 打印检查点
func (b *Benchmark) Tick() {
	b.count++
	if b.count%b.breakpoint == 0 {
		now := time.Now()
		log.Printf("[Benchmark] %s: 已处理 %d 条，本段耗时 %v",
			b.name, b.count, now.Sub(b.lastLog).Round(time.Millisecond))
		b.lastLog = now
	}
}

// Count 当前已处理条数
func (b *Benchmark) Count() int {
	return b.count
}

// Summary 打印最终汇总 (总数/总耗时/平均)
func (b *Benchmark) Summary() {
	elapsed := time.Since(b.started)
	avg := time.Duration(0)
	if b.count > 0 {
		avg = elapsed / time.Duration(b.count)
	}
	log.Printf("[Benchmark] %s: 完成 %d 条，总耗时 %v，平均 %v/条",
		b.name, b.count, elapsed.Round(time.Millisecond), avg.Round(time.Microsecond))
}
