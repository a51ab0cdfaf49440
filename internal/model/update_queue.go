package model

import (
	"time"

	"github.com/lib/pq"
)

// ==================== 队列状态与动作 ====================

const (
	QueueStatusNew        = "new"
	QueueStatusProcessing = "processing"
	QueueStatusDone       = "done"
)

const (
	QueueActionUpsert = "upsert"
	QueueActionDelete = "delete"
)

// UpdateQueue 更新队列条目
// 解耦请求路径与批处理：失效服务只写一行队列记录，
// 队列处理器负责合并同店铺同动作的 ID 集合后再分片下发
//
// 生命周期: new → processing (认领, 记 StartedAt) → done (下发完成, 记 CompletedAt)
type UpdateQueue struct {
	BaseModel
	StoreID        int64         `gorm:"index;not null"`
	Action         string        `gorm:"size:10;index;not null"` // upsert / delete
	ProductIDs     pq.Int64Array `gorm:"type:bigint[]"`
	ProductIDCount int           `gorm:"default:0"`
	Status         string        `gorm:"size:15;index;default:new"`
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

func (UpdateQueue) TableName() string {
	return "nosto_update_queue"
}
