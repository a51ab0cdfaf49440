package model

// Category 类目
// PathIDs 为根到当前节点的 ID 链，形如 "1/2/7"；Level <= 1 的节点为根节点，
// 不出现在导出的类目路径中
type Category struct {
	BaseModel
	ParentID int64  `gorm:"index"`
	Level    int    `gorm:"default:0;index"`
	PathIDs  string `gorm:"size:255"`
	Name     string `gorm:"size:100"`
	Enabled  bool   `gorm:"default:true"`
}

func (Category) TableName() string {
	return "catalog_categories"
}
