package model

import (
	"github.com/lib/pq"
)

// Store 店铺视图 (Store View)
// 一个站点可以有多个 Store，商品按 Store 维度独立打标/索引
type Store struct {
	BaseModel
	Code         string `gorm:"size:50;uniqueIndex;not null"`
	Name         string `gorm:"size:100"`
	BaseURL      string `gorm:"size:255"`
	CurrencyCode string `gorm:"size:5"`
	Language     string `gorm:"size:10"`
	Status       int    `gorm:"default:1;index"` // 0:停用, 1:正常

	// --- 打标配置 (商家在后台按 Store 配置) ---
	Tag1Attributes   pq.StringArray `gorm:"type:text[]"` // tag1 对应的属性 code 列表
	Tag2Attributes   pq.StringArray `gorm:"type:text[]"`
	Tag3Attributes   pq.StringArray `gorm:"type:text[]"`
	CustomAttributes pq.StringArray `gorm:"type:text[]"` // 额外导出的自定义属性 code
	BrandAttribute   string         `gorm:"size:50"`     // 品牌属性 code，空则使用商品 Brand 字段
}

func (Store) TableName() string {
	return "stores"
}
