package service

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/google/uuid"

	"nosto_indexer_v1_202609/internal/model"
	"nosto_indexer_v1_202609/internal/repository"
	"nosto_indexer_v1_202609/pkg/bulk"
)

// ==================== 队列服务 ====================

const (
	queueChunkSize  = 100
	queueClaimLimit = 100
)

// QueueService 更新队列服务
// 入队只写一行记录，处理时合并同店铺同动作的条目后分片下发，
// 把请求路径与批处理彻底解耦
type QueueService struct {
	queueRepo  repository.UpdateQueueRepository
	dispatcher bulk.Dispatcher
	chunkSize  int
}

// NewQueueService 创建队列服务
func NewQueueService(queueRepo repository.UpdateQueueRepository, dispatcher bulk.Dispatcher) *QueueService {
	return &QueueService{
		queueRepo:  queueRepo,
		dispatcher: dispatcher,
		chunkSize:  queueChunkSize,
	}
}

// Enqueue 创建一条队列记录 (状态 new)
func (s *QueueService) Enqueue(ctx context.Context, storeID int64, action string, productIDs []int64) error {
	if action != model.QueueActionUpsert && action != model.QueueActionDelete {
		return fmt.Errorf("未知的队列动作: %s", action)
	}
	ids := dedupeIDs(productIDs)
	if len(ids) == 0 {
		return nil
	}

	return s.queueRepo.Create(ctx, &model.UpdateQueue{
		StoreID:    storeID,
		Action:     action,
		ProductIDs: ids,
		Status:     model.QueueStatusNew,
	})
}

// ProcessQueue 认领并处理一批队列条目
// 同店铺同动作的条目合并去重后分片下发，减少重复劳动。
// 按合并组结算：下发成功的组立即标 done，失败的组退回 new
// 等下一轮重新认领，一个组的失败不拖累其他组
func (s *QueueService) ProcessQueue(ctx context.Context) error {
	entries, err := s.queueRepo.ClaimNew(ctx, queueClaimLimit)
	if err != nil {
		return fmt.Errorf("认领队列条目失败: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	// 合并：key = (store, action)，组内记 ID 并集和来源条目
	type mergeKey struct {
		storeID int64
		action  string
	}
	type mergeGroup struct {
		productIDs []int64
		entryIDs   []int64
	}
	merged := make(map[mergeKey]*mergeGroup)

	for i := range entries {
		key := mergeKey{storeID: entries[i].StoreID, action: entries[i].Action}
		grp, ok := merged[key]
		if !ok {
			grp = &mergeGroup{}
			merged[key] = grp
		}
		grp.productIDs = append(grp.productIDs, entries[i].ProductIDs...)
		grp.entryIDs = append(grp.entryIDs, entries[i].ID)
	}

	var firstErr error
	doneCount := 0

	for key, grp := range merged {
		if err := s.publish(ctx, key.storeID, key.action, dedupeIDs(grp.productIDs)); err != nil {
			log.Printf("[Queue] 下发失败，条目退回 new (store=%d action=%s): %v", key.storeID, key.action, err)
			if rqErr := s.queueRepo.Requeue(ctx, grp.entryIDs); rqErr != nil {
				log.Printf("[Queue] 条目退回失败 (store=%d action=%s): %v", key.storeID, key.action, rqErr)
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if err := s.queueRepo.MarkDone(ctx, grp.entryIDs); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("标记完成失败: %w", err)
			}
			continue
		}
		doneCount += len(grp.entryIDs)
	}

	if doneCount > 0 {
		log.Printf("[Queue] 处理完成 %d 条队列记录", doneCount)
	}
	return firstErr
}

// publish 分片下发：同一批分片共享一个 batch ID
func (s *QueueService) publish(ctx context.Context, storeID int64, action string, productIDs []int64) error {
	batchID := uuid.NewString()

	for offset := 0; offset < len(productIDs); offset += s.chunkSize {
		end := offset + s.chunkSize
		if end > len(productIDs) {
			end = len(productIDs)
		}

		chunk := bulk.Chunk{
			BatchID:    batchID,
			StoreID:    storeID,
			Action:     action,
			ProductIDs: productIDs[offset:end],
		}
		if err := s.dispatcher.Publish(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
