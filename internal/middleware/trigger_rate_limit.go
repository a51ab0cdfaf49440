package middleware

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// ==================== 触发限流中间件 ====================

// 手动触发接口按 (店铺, 触发类型) 维度限流，防止误操作打爆批处理

type triggerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newTriggerLimiter(limit rate.Limit, burst int) *triggerLimiter {
	return &triggerLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (l *triggerLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = limiter
	}
	return limiter.Allow()
}

// 每店铺每 5 分钟 1 次，突发 1
var globalTriggerLimiter = newTriggerLimiter(rate.Limit(1.0/300), 1)

// TriggerRateLimit 手动触发限流中间件
// kind: 触发类型 (rebuild / sync)，与 store_id 组合为限流 key
func TriggerRateLimit(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		storeID := c.Query("store_id")
		if storeID == "" {
			storeID = c.PostForm("store_id")
		}

		key := fmt.Sprintf("%s:%s", kind, storeID)
		if !globalTriggerLimiter.allow(key) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    429,
				"message": "触发过于频繁，请稍后重试",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
