package nosto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ==================== 常量 ====================

// SchemaVersion 快照序列化格式版本
// 反序列化遇到未知版本时按"内容不同"处理，强制触发一次重新同步
const SchemaVersion = "v1"

const (
	AvailabilityInStock      = "InStock"
	AvailabilityOutOfStock   = "OutOfStock"
	AvailabilityDiscontinued = "Discontinued"
)

// ==================== 值对象 ====================

// CategoryPath 类目路径值对象，形如 "/Outdoor/Boats/Canoes"
type CategoryPath struct {
	Path string `json:"path"`
}

// NewCategoryPath 构造类目路径，空路径非法
func NewCategoryPath(path string) (CategoryPath, error) {
	if path == "" {
		return CategoryPath{}, errors.New("category path must not be empty")
	}
	return CategoryPath{Path: path}, nil
}

// SKU 子品快照 (configurable 的启用子品，每个独立定价/独立可售)
type SKU struct {
	ID             int64             `json:"id"`
	Name           string            `json:"name"`
	Price          float64           `json:"price"`
	ListPrice      float64           `json:"list_price"`
	Availability   string            `json:"availability"`
	InventoryLevel int               `json:"inventory_level"`
	CustomFields   map[string]string `json:"custom_fields,omitempty"`
}

// Variation 客户组变体快照
type Variation struct {
	ID           string  `json:"id"` // 客户组 code
	Price        float64 `json:"price"`
	ListPrice    float64 `json:"list_price"`
	Availability string  `json:"availability"`
}

// Product 打标快照 (Tagging Representation)
// 构建完成后不可变，只能通过整体重建产生新值
type Product struct {
	Schema            string         `json:"schema"`
	ProductID         int64          `json:"product_id"`
	Name              string         `json:"name"`
	URL               string         `json:"url"`
	Price             float64        `json:"price"`
	ListPrice         float64        `json:"list_price"`
	PriceCurrencyCode string         `json:"price_currency_code"`
	Availability      string         `json:"availability"`
	Tag1              []string       `json:"tag1,omitempty"`
	Tag2              []string       `json:"tag2,omitempty"`
	Tag3              []string       `json:"tag3,omitempty"`
	Categories        []CategoryPath `json:"categories,omitempty"`
	Description       string         `json:"description,omitempty"`
	Brand             string         `json:"brand,omitempty"`
	DatePublished     string         `json:"date_published,omitempty"`
	SKUs              []SKU          `json:"skus,omitempty"`
	Variations        []Variation    `json:"variations,omitempty"`

	CustomFields map[string]string `json:"custom_fields,omitempty"`
}

// ==================== 序列化 ====================

// Serialize 序列化为 schema-tagged JSON
func (p *Product) Serialize() ([]byte, error) {
	p.Schema = SchemaVersion
	return json.Marshal(p)
}

// Deserialize 反序列化快照
// 数据为空、损坏或版本不识别都返回错误，调用方按"内容不同"处理而非中断
func Deserialize(data []byte) (*Product, error) {
	if len(data) == 0 {
		return nil, errors.New("empty product data")
	}
	var p Product
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("corrupt product data: %w", err)
	}
	if p.Schema != SchemaVersion {
		return nil, fmt.Errorf("unknown product data schema %q", p.Schema)
	}
	return &p, nil
}
