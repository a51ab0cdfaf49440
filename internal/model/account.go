package model

// NostoAccount Nosto 商户账号绑定
// 一个 Store 至多绑定一个账号，未绑定的 Store 不参与同步
type NostoAccount struct {
	BaseModel
	StoreID   int64  `gorm:"uniqueIndex;not null"`
	Store     *Store `gorm:"foreignKey:StoreID"`
	AccountID string `gorm:"size:100;not null"` // Nosto 侧商户标识
	APIToken  string `gorm:"size:255"`          // products API token
	Domain    string `gorm:"size:255"`          // 绑定时登记的店铺域名
	Status    int    `gorm:"default:1;index"`   // 0:解绑, 1:正常
}

func (NostoAccount) TableName() string {
	return "nosto_accounts"
}
