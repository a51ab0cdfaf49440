package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"

	"nosto_indexer_v1_202609/internal/model"
	"nosto_indexer_v1_202609/internal/repository"
	"nosto_indexer_v1_202609/pkg/nosto"
	"nosto_indexer_v1_202609/pkg/utils"
)

// ==================== 同步服务 ====================

// Nosto API 的实际批量上限
const syncBatchSize = 50

// ErrAccountNotFound 店铺未绑定 Nosto 账号，该店铺的同步整体中止
var ErrAccountNotFound = errors.New("店铺未绑定 Nosto 账号")

// NostoAPI 外部推荐平台接口抽象
type NostoAPI interface {
	Upsert(ctx context.Context, account nosto.Account, products []*nosto.Product) error
	Delete(ctx context.Context, account nosto.Account, productIDs []int64) error
}

// SyncService 上行同步服务
// 消费 out-of-sync 条目分批推给 Nosto；采用 "fire and mark" 策略：
// 无论单批 API 调用成败，批内条目一律标记 inSync，失败项依赖
// 后续目录变更或 cron 对账重新标脏来补偿，避免坏数据无限重试
type SyncService struct {
	indexRepo   repository.ProductIndexRepository
	accountRepo repository.AccountRepository
	api         NostoAPI
	guard       *utils.MemoryGuard
	batchSize   int
}

// NewSyncService 创建同步服务
func NewSyncService(
	indexRepo repository.ProductIndexRepository,
	accountRepo repository.AccountRepository,
	api NostoAPI,
	guard *utils.MemoryGuard,
) *SyncService {
	return &SyncService{
		indexRepo:   indexRepo,
		accountRepo: accountRepo,
		api:         api,
		guard:       guard,
		batchSize:   syncBatchSize,
	}
}

// SyncIndexedProducts 同步店铺的 out-of-sync 条目，随后清理软删除条目
// productIDs 非空时收窄到指定商品 (队列分片消费场景)；
// 内存越界与未绑定账号之外的错误不向上传播
func (s *SyncService) SyncIndexedProducts(ctx context.Context, store *model.Store, productIDs []int64) error {
	account, err := s.resolveAccount(ctx, store)
	if err != nil {
		return err
	}

	lastID := int64(0)
	for {
		if err := s.guard.Check(); err != nil {
			return err
		}

		entries, err := s.indexRepo.ListOutOfSyncByStore(ctx, repository.IndexFilter{
			StoreID:    store.ID,
			ProductIDs: productIDs,
			AfterID:    lastID,
			Limit:      s.batchSize,
		})
		if err != nil {
			return fmt.Errorf("扫描待同步条目失败: %w", err)
		}
		if len(entries) == 0 {
			break
		}

		s.pushBatch(ctx, store, account, entries)

		lastID = entries[len(entries)-1].ID
		if len(entries) < s.batchSize {
			break
		}
	}

	return s.purgeDeleted(ctx, store, account)
}

// pushBatch 推送单批并无条件标记 inSync
func (s *SyncService) pushBatch(ctx context.Context, store *model.Store, account nosto.Account, entries []model.ProductIndex) {
	payloads := make([]*nosto.Product, 0, len(entries))
	entryIDs := make([]int64, 0, len(entries))

	for i := range entries {
		entryIDs = append(entryIDs, entries[i].ID)

		p, err := nosto.Deserialize(entries[i].ProductData)
		if err != nil {
			// 快照缺失/损坏的条目没有可推的内容，仍随批标记，等待下次标脏重建
			log.Printf("[Sync] 条目快照不可用，跳过推送 (entry=%d): %v", entries[i].ID, err)
			continue
		}
		payloads = append(payloads, p)
	}

	if err := s.api.Upsert(ctx, account, payloads); err != nil {
		// 打了就标记：API 失败只记日志，重试责任交给后续标脏循环
		log.Printf("[Sync] upsert 失败 (store=%d batch=%d): %v", store.ID, len(payloads), err)
	}

	if err := s.indexRepo.MarkInSyncByIDs(ctx, entryIDs); err != nil {
		log.Printf("[Sync] 标记 inSync 失败 (store=%d): %v", store.ID, err)
	}
}

// PurgeDeletedProducts 清理软删除条目
// 先把删除操作送到 Nosto (尽力而为)，随后物理删除本地行
func (s *SyncService) PurgeDeletedProducts(ctx context.Context, store *model.Store) error {
	account, err := s.resolveAccount(ctx, store)
	if err != nil {
		return err
	}
	return s.purgeDeleted(ctx, store, account)
}

func (s *SyncService) purgeDeleted(ctx context.Context, store *model.Store, account nosto.Account) error {
	for {
		if err := s.guard.Check(); err != nil {
			return err
		}

		// 行会被物理删除，始终从头扫
		entries, err := s.indexRepo.ListDeletedByStore(ctx, repository.IndexFilter{
			StoreID: store.ID,
			Limit:   s.batchSize,
		})
		if err != nil {
			return fmt.Errorf("扫描删除条目失败: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}

		productIDs := make([]int64, 0, len(entries))
		entryIDs := make([]int64, 0, len(entries))
		for i := range entries {
			productIDs = append(productIDs, entries[i].ProductID)
			entryIDs = append(entryIDs, entries[i].ID)
		}

		if err := s.api.Delete(ctx, account, productIDs); err != nil {
			log.Printf("[Sync] delete 失败 (store=%d batch=%d): %v", store.ID, len(productIDs), err)
		}

		if err := s.indexRepo.Delete(ctx, entryIDs); err != nil {
			return fmt.Errorf("清除条目失败: %w", err)
		}
		log.Printf("[Sync] 已清除 %d 个删除条目 (store=%d)", len(entryIDs), store.ID)
	}
}

func (s *SyncService) resolveAccount(ctx context.Context, store *model.Store) (nosto.Account, error) {
	account, err := s.accountRepo.GetByStoreID(ctx, store.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nosto.Account{}, fmt.Errorf("%w (store=%d)", ErrAccountNotFound, store.ID)
		}
		return nosto.Account{}, fmt.Errorf("加载账号失败: %w", err)
	}
	return nosto.Account{
		AccountID: account.AccountID,
		APIToken:  account.APIToken,
		Domain:    account.Domain,
	}, nil
}
