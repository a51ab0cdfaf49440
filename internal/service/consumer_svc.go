package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"nosto_indexer_v1_202609/internal/model"
	"nosto_indexer_v1_202609/internal/repository"
	"nosto_indexer_v1_202609/pkg/bulk"
	"nosto_indexer_v1_202609/pkg/utils"
)

// ==================== 分片消费 ====================

// ChunkConsumer 队列分片的消费入口
// upsert 分片走 标脏 → 重建 → 同步 全链路；delete 分片标记软删除后清理。
// 调度器是至少一次投递，整条链路幂等：重复标脏/重建一个干净条目不产生差异
type ChunkConsumer struct {
	storeRepo     repository.StoreRepository
	indexRepo     repository.ProductIndexRepository
	invalidateSvc *InvalidateService
	rebuildSvc    *RebuildService
	syncSvc       *SyncService
}

// NewChunkConsumer 创建分片消费者
func NewChunkConsumer(
	storeRepo repository.StoreRepository,
	indexRepo repository.ProductIndexRepository,
	invalidateSvc *InvalidateService,
	rebuildSvc *RebuildService,
	syncSvc *SyncService,
) *ChunkConsumer {
	return &ChunkConsumer{
		storeRepo:     storeRepo,
		indexRepo:     indexRepo,
		invalidateSvc: invalidateSvc,
		rebuildSvc:    rebuildSvc,
		syncSvc:       syncSvc,
	}
}

// Handle 消费一个分片
// 返回 error 会触发调度器重投；未绑定账号不算失败 (重投也不会好转)，
// 内存越界照常返回以中断当前消费
func (c *ChunkConsumer) Handle(ctx context.Context, chunk bulk.Chunk) error {
	store, err := c.storeRepo.GetByID(ctx, chunk.StoreID)
	if err != nil {
		return fmt.Errorf("加载店铺 %d 失败: %w", chunk.StoreID, err)
	}

	switch chunk.Action {
	case model.QueueActionUpsert:
		return c.handleUpsert(ctx, store, chunk)
	case model.QueueActionDelete:
		return c.handleDelete(ctx, store, chunk)
	default:
		// 动作不识别属于编程错误，重投无意义
		log.Printf("[Consumer] 丢弃未知动作分片 (batch=%s action=%s)", chunk.BatchID, chunk.Action)
		return nil
	}
}

func (c *ChunkConsumer) handleUpsert(ctx context.Context, store *model.Store, chunk bulk.Chunk) error {
	touched, err := c.invalidateSvc.InvalidateOrCreate(ctx, chunk.ProductIDs, store)
	if err != nil {
		return fmt.Errorf("标脏失败: %w", err)
	}
	if len(touched) == 0 {
		return nil
	}

	// 重建与同步都收窄到本分片标脏的商品 (子品已重定向到父品)，
	// 分片之外的条目留给 cron 扫描
	if _, err := c.rebuildSvc.RebuildDirtyProducts(ctx, store, touched); err != nil {
		if errors.Is(err, utils.ErrMemoryOutOfBounds) {
			return err
		}
		return fmt.Errorf("重建失败: %w", err)
	}

	if err := c.syncSvc.SyncIndexedProducts(ctx, store, touched); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// 未绑定账号的店铺只重建不上行，cron 扫描在绑定后补偿
			log.Printf("[Consumer] %v，跳过同步 (batch=%s)", err, chunk.BatchID)
			return nil
		}
		return err
	}
	return nil
}

func (c *ChunkConsumer) handleDelete(ctx context.Context, store *model.Store, chunk bulk.Chunk) error {
	if err := c.indexRepo.MarkDeletedByProductIDs(ctx, chunk.ProductIDs, store.ID); err != nil {
		return fmt.Errorf("标记删除失败: %w", err)
	}

	if err := c.syncSvc.PurgeDeletedProducts(ctx, store); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			log.Printf("[Consumer] %v，删除条目保留待清理 (batch=%s)", err, chunk.BatchID)
			return nil
		}
		return err
	}
	return nil
}
