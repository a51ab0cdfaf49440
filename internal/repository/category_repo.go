package repository

import (
	"context"

	"gorm.io/gorm"

	"nosto_indexer_v1_202609/internal/model"
)

// CategoryRepository 类目仓储接口
type CategoryRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Category, error)
	GetByIDs(ctx context.Context, ids []int64) (map[int64]model.Category, error)
}

type categoryRepo struct {
	db *gorm.DB
}

// NewCategoryRepository 创建类目仓储
func NewCategoryRepository(db *gorm.DB) CategoryRepository {
	return &categoryRepo{db: db}
}

func (r *categoryRepo) GetByID(ctx context.Context, id int64) (*model.Category, error) {
	var category model.Category
	err := r.db.WithContext(ctx).First(&category, id).Error
	if err != nil {
		return nil, err
	}
	return &category, nil
}

func (r *categoryRepo) GetByIDs(ctx context.Context, ids []int64) (map[int64]model.Category, error) {
	result := make(map[int64]model.Category, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var categories []model.Category
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&categories).Error
	if err != nil {
		return nil, err
	}

	for _, c := range categories {
		result[c.ID] = c
	}
	return result, nil
}
