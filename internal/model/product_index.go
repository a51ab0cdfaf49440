package model

import (
	"gorm.io/datatypes"
)

// ProductIndex 商品索引条目 (核心实体)
// 以 (ProductID, StoreID) 为自然键，缓存最近一次构建的打标快照，
// 并用两个独立布尔位驱动 重建 → 上行同步 两级流水
//
// 状态语义：
//   - IsDirty=true:   快照可能过期，上行同步前必须重建
//   - InSync=false:   快照尚未确认送达 Nosto，属于下一批同步候选
//   - IsDeleted=true: 商品已不满足索引条件，等待删除操作发送后物理清除
type ProductIndex struct {
	BaseModel
	ProductID int64 `gorm:"uniqueIndex:idx_index_product_store;not null"`
	StoreID   int64 `gorm:"uniqueIndex:idx_index_product_store;not null"`

	// ProductData 序列化后的打标快照 (schema-tagged JSON)，未构建时为 null
	ProductData datatypes.JSON `gorm:"type:jsonb"`

	IsDirty   bool `gorm:"default:false;index"`
	InSync    bool `gorm:"default:false;index"`
	IsDeleted bool `gorm:"default:false;index"`
}

func (ProductIndex) TableName() string {
	return "nosto_product_index"
}
