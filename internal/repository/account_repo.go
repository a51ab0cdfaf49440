package repository

import (
	"context"

	"gorm.io/gorm"

	"nosto_indexer_v1_202609/internal/model"
)

// AccountRepository Nosto 账号绑定仓储接口
type AccountRepository interface {
	// GetByStoreID 返回店铺绑定的正常状态账号，未绑定时返回 gorm.ErrRecordNotFound
	GetByStoreID(ctx context.Context, storeID int64) (*model.NostoAccount, error)
	Save(ctx context.Context, account *model.NostoAccount) error
}

type accountRepo struct {
	db *gorm.DB
}

// NewAccountRepository 创建账号仓储
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepo{db: db}
}

func (r *accountRepo) GetByStoreID(ctx context.Context, storeID int64) (*model.NostoAccount, error) {
	var account model.NostoAccount
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND status = ?", storeID, 1).
		First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepo) Save(ctx context.Context, account *model.NostoAccount) error {
	return r.db.WithContext(ctx).Save(account).Error
}
