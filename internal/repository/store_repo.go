package repository

import (
	"context"

	"gorm.io/gorm"

	"nosto_indexer_v1_202609/internal/model"
)

// StoreRepository 店铺仓储接口
type StoreRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Store, error)
	GetByCode(ctx context.Context, code string) (*model.Store, error)
	ListActive(ctx context.Context) ([]model.Store, error)
}

type storeRepo struct {
	db *gorm.DB
}

// NewStoreRepository 创建店铺仓储
func NewStoreRepository(db *gorm.DB) StoreRepository {
	return &storeRepo{db: db}
}

func (r *storeRepo) GetByID(ctx context.Context, id int64) (*model.Store, error) {
	var store model.Store
	err := r.db.WithContext(ctx).First(&store, id).Error
	if err != nil {
		return nil, err
	}
	return &store, nil
}

func (r *storeRepo) GetByCode(ctx context.Context, code string) (*model.Store, error) {
	var store model.Store
	err := r.db.WithContext(ctx).
		Where("code = ?", code).
		First(&store).Error
	if err != nil {
		return nil, err
	}
	return &store, nil
}

func (r *storeRepo) ListActive(ctx context.Context) ([]model.Store, error) {
	var stores []model.Store
	err := r.db.WithContext(ctx).
		Where("status = ?", 1).
		Order("id ASC").
		Find(&stores).Error
	return stores, err
}
