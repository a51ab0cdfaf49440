package model

import (
	"time"

	"gorm.io/datatypes"
)

// ==================== 商品类型与状态 ====================

const (
	ProductTypeSimple       = "simple"
	ProductTypeConfigurable = "configurable"
	ProductTypeBundle       = "bundle"
	ProductTypeGrouped      = "grouped"
)

const (
	ProductStatusEnabled  = 1
	ProductStatusDisabled = 2
)

const (
	VisibilityNotVisible = 1 // 不可单独展示 (通常为 configurable 子品)
	VisibilityCatalog    = 4 // 目录与搜索可见
)

// IsComposite 是否为组合商品 (父品吞并子品的索引)
func IsCompositeType(t string) bool {
	switch t {
	case ProductTypeConfigurable, ProductTypeBundle, ProductTypeGrouped:
		return true
	}
	return false
}

// ==================== 目录镜像 ====================

// CatalogProduct 目录商品镜像
// 索引管道的读模型：平台目录在本库中的扁平快照，EAV 属性收敛到 Attributes JSON
type CatalogProduct struct {
	BaseModel
	Type       string `gorm:"size:20;default:simple;index"`
	SKU        string `gorm:"size:100;index"`
	Name       string `gorm:"size:255"`
	URLKey     string `gorm:"size:255"`
	Status     int    `gorm:"default:1;index"` // 1:启用, 2:停用
	Visibility int    `gorm:"default:4"`

	// --- 价格 ---
	Price        float64 `gorm:"default:0"`
	ListPrice    float64 `gorm:"default:0"` // 划线价，0 表示与 Price 相同
	SpecialPrice float64 `gorm:"default:0"` // 促销价，0 表示无促销

	// --- 库存 ---
	InStock  bool `gorm:"default:false"`
	Quantity int  `gorm:"default:0"`

	// --- 描述与品牌 ---
	Description      string `gorm:"type:text"`
	ShortDescription string `gorm:"type:text"`
	Brand            string `gorm:"size:100"`
	PublishedAt      time.Time

	// --- EAV 属性快照 (AttributeSource 的数据来源) ---
	Attributes datatypes.JSON `gorm:"type:jsonb"`
}

func (CatalogProduct) TableName() string {
	return "catalog_products"
}

// ProductStoreLink 商品-店铺分配关系
type ProductStoreLink struct {
	ID        int64 `gorm:"primary_key;AUTO_INCREMENT"`
	ProductID int64 `gorm:"uniqueIndex:idx_product_store_link;not null"`
	StoreID   int64 `gorm:"uniqueIndex:idx_product_store_link;not null"`
}

func (ProductStoreLink) TableName() string {
	return "catalog_product_store"
}

// ProductCategoryLink 商品-类目关系
type ProductCategoryLink struct {
	ID         int64 `gorm:"primary_key;AUTO_INCREMENT"`
	ProductID  int64 `gorm:"uniqueIndex:idx_product_category_link;not null"`
	CategoryID int64 `gorm:"uniqueIndex:idx_product_category_link;not null"`
}

func (ProductCategoryLink) TableName() string {
	return "catalog_product_category"
}

// ProductRelation 组合商品父子关系
// 子品的目录变更必须重定向到父品的索引条目
type ProductRelation struct {
	ID       int64 `gorm:"primary_key;AUTO_INCREMENT"`
	ParentID int64 `gorm:"index;not null"`
	ChildID  int64 `gorm:"index;not null"`
}

func (ProductRelation) TableName() string {
	return "catalog_product_relation"
}

// TierPrice 客户组阶梯价
type TierPrice struct {
	ID              int64   `gorm:"primary_key;AUTO_INCREMENT"`
	ProductID       int64   `gorm:"index:idx_tier_product_store;not null"`
	StoreID         int64   `gorm:"index:idx_tier_product_store"`
	CustomerGroupID int64   `gorm:"index"`
	Price           float64 `gorm:"not null"`
}

func (TierPrice) TableName() string {
	return "catalog_tier_price"
}

// CatalogRulePrice 目录价格规则的当前生效价
// 行级阶梯价表达不了促销规则折扣，变体价格取两者与默认价的最小值
type CatalogRulePrice struct {
	ID              int64   `gorm:"primary_key;AUTO_INCREMENT"`
	ProductID       int64   `gorm:"index:idx_rule_product_store;not null"`
	StoreID         int64   `gorm:"index:idx_rule_product_store"`
	CustomerGroupID int64   `gorm:"index"`
	RulePrice       float64 `gorm:"not null"`
}

func (CatalogRulePrice) TableName() string {
	return "catalog_rule_price"
}

// CustomerGroup 客户组
// ID 0 约定为默认组 (未登录访客)
type CustomerGroup struct {
	ID   int64  `gorm:"primary_key"`
	Code string `gorm:"size:50;not null"`
}

func (CustomerGroup) TableName() string {
	return "customer_groups"
}
