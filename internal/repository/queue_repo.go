package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"nosto_indexer_v1_202609/internal/model"
)

// ==================== 接口定义 ====================

// UpdateQueueRepository 更新队列仓储接口
type UpdateQueueRepository interface {
	Create(ctx context.Context, entry *model.UpdateQueue) error
	GetByID(ctx context.Context, id int64) (*model.UpdateQueue, error)

	// ClaimNew 认领一批 new 状态条目：标记 processing 并记录 StartedAt
	ClaimNew(ctx context.Context, limit int) ([]model.UpdateQueue, error)

	// MarkDone 下发完成：标记 done 并记录 CompletedAt
	MarkDone(ctx context.Context, ids []int64) error

	// Requeue 下发失败回退：条目退回 new，可被下一轮重新认领
	Requeue(ctx context.Context, ids []int64) error

	ListByStatus(ctx context.Context, status string, limit int) ([]model.UpdateQueue, error)
	ListRecent(ctx context.Context, limit int) ([]model.UpdateQueue, error)

	// CleanupDone 清理 before 之前完成的条目，返回删除行数
	CleanupDone(ctx context.Context, before time.Time) (int64, error)
}

// ==================== 仓储实现 ====================

type updateQueueRepo struct {
	db *gorm.DB
}

// NewUpdateQueueRepository 创建更新队列仓储
func NewUpdateQueueRepository(db *gorm.DB) UpdateQueueRepository {
	return &updateQueueRepo{db: db}
}

func (r *updateQueueRepo) Create(ctx context.Context, entry *model.UpdateQueue) error {
	entry.ProductIDCount = len(entry.ProductIDs)
	if entry.Status == "" {
		entry.Status = model.QueueStatusNew
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *updateQueueRepo) GetByID(ctx context.Context, id int64) (*model.UpdateQueue, error) {
	var entry model.UpdateQueue
	err := r.db.WithContext(ctx).First(&entry, id).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *updateQueueRepo) ClaimNew(ctx context.Context, limit int) ([]model.UpdateQueue, error) {
	if limit <= 0 {
		limit = 100
	}

	var entries []model.UpdateQueue
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("status = ?", model.QueueStatusNew).
			Order("id ASC").
			Limit(limit).
			Find(&entries).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		now := time.Now()
		ids := make([]int64, 0, len(entries))
		for i := range entries {
			ids = append(ids, entries[i].ID)
			entries[i].Status = model.QueueStatusProcessing
			entries[i].StartedAt = &now
		}

		return tx.Model(&model.UpdateQueue{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":     model.QueueStatusProcessing,
				"started_at": now,
			}).Error
	})

	return entries, err
}

func (r *updateQueueRepo) MarkDone(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&model.UpdateQueue{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"status":       model.QueueStatusDone,
			"completed_at": now,
		}).Error
}

func (r *updateQueueRepo) Requeue(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&model.UpdateQueue{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"status":     model.QueueStatusNew,
			"started_at": nil,
		}).Error
}

func (r *updateQueueRepo) ListByStatus(ctx context.Context, status string, limit int) ([]model.UpdateQueue, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []model.UpdateQueue
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("id ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *updateQueueRepo) ListRecent(ctx context.Context, limit int) ([]model.UpdateQueue, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []model.UpdateQueue
	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *updateQueueRepo) CleanupDone(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND completed_at < ?", model.QueueStatusDone, before).
		Delete(&model.UpdateQueue{})
	return result.RowsAffected, result.Error
}
