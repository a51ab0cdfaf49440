package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nosto_indexer_v1_202609/internal/model"
	"nosto_indexer_v1_202609/internal/repository"
	"nosto_indexer_v1_202609/pkg/nosto"
)

func setupBuilderTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}

	err = db.AutoMigrate(
		&model.Store{}, &model.CatalogProduct{}, &model.ProductStoreLink{},
		&model.ProductCategoryLink{}, &model.ProductRelation{}, &model.Category{},
		&model.TierPrice{}, &model.CatalogRulePrice{}, &model.CustomerGroup{},
	)
	if err != nil {
		t.Fatalf("数据库迁移失败: %v", err)
	}

	return db
}

func newTestBuilder(db *gorm.DB) *BuilderService {
	return NewBuilderService(
		repository.NewCatalogRepository(db),
		repository.NewCategoryRepository(db),
	)
}

func seedStore(t *testing.T, db *gorm.DB, code string) *model.Store {
	store := &model.Store{
		Code:         code,
		Name:         "测试店铺",
		BaseURL:      "https://shop.example.com",
		CurrencyCode: "EUR",
		Status:       1,
	}
	if err := db.Create(store).Error; err != nil {
		t.Fatalf("写入店铺失败: %v", err)
	}
	return store
}

func seedProduct(t *testing.T, db *gorm.DB, p *model.CatalogProduct) *model.CatalogProduct {
	if p.Status == 0 {
		p.Status = model.ProductStatusEnabled
	}
	if p.Visibility == 0 {
		p.Visibility = model.VisibilityCatalog
	}
	if p.Type == "" {
		p.Type = model.ProductTypeSimple
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("写入商品失败: %v", err)
	}
	return p
}

func assignToStore(t *testing.T, db *gorm.DB, productID, storeID int64) {
	if err := db.Create(&model.ProductStoreLink{ProductID: productID, StoreID: storeID}).Error; err != nil {
		t.Fatalf("写入店铺分配失败: %v", err)
	}
}

func TestBuilder_DisabledProductFiltered(t *testing.T) {
	db := setupBuilderTestDB(t)
	builder := newTestBuilder(db)
	ctx := context.Background()

	store := seedStore(t, db, "main")
	product := seedProduct(t, db, &model.CatalogProduct{Name: "off", Status: model.ProductStatusDisabled})
	assignToStore(t, db, product.ID, store.ID)

	_, err := builder.Build(ctx, product, store)
	var filtered *FilteredProductError
	if !errors.As(err, &filtered) {
		t.Fatalf("停用商品应返回 FilteredProductError, got %v", err)
	}
	if filtered.ProductID != product.ID {
		t.Fatalf("错误携带的商品 ID = %d, want %d", filtered.ProductID, product.ID)
	}
}

func TestBuilder_UnassignedProductFiltered(t *testing.T) {
	db := setupBuilderTestDB(t)
	builder := newTestBuilder(db)
	ctx := context.Background()

	store := seedStore(t, db, "main")
	product := seedProduct(t, db, &model.CatalogProduct{Name: "stray"})
	// 故意不分配到店铺

	_, err := builder.Build(ctx, product, store)
	var filtered *FilteredProductError
	if !errors.As(err, &filtered) {
		t.Fatalf("未分配商品应返回 FilteredProductError, got %v", err)
	}
}

func TestBuilder_EmptyBundleNonBuildable(t *testing.T) {
	db := setupBuilderTestDB(t)
	builder := newTestBuilder(db)
	ctx := context.Background()

	store := seedStore(t, db, "main")
	bundle := seedProduct(t, db, &model.CatalogProduct{Name: "empty-bundle", Type: model.ProductTypeBundle})
	assignToStore(t, db, bundle.ID, store.ID)

	_, err := builder.Build(ctx, bundle, store)
	var nonBuildable *NonBuildableProductError
	if !errors.As(err, &nonBuildable) {
		t.Fatalf("无子品 bundle 应返回 NonBuildableProductError, got %v", err)
	}
}

func TestBuilder_BasicSnapshot(t *testing.T) {
	db := setupBuilderTestDB(t)
	builder := newTestBuilder(db)
	ctx := context.Background()

	store := seedStore(t, db, "main")
	product := seedProduct(t, db, &model.CatalogProduct{
		Name:        "Canoe",
		URLKey:      "canoe",
		Price:       200,
		ListPrice:   250,
		InStock:     true,
		Quantity:    5,
		Brand:       "Acme",
		Description: "一条好船",
		PublishedAt: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
	})
	assignToStore(t, db, product.ID, store.ID)

	p, err := builder.Build(ctx, product, store)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if p.Name != "Canoe" || p.Brand != "Acme" {
		t.Fatalf("快照基础字段错误: %+v", p)
	}
	if p.URL != "https://shop.example.com/canoe" {
		t.Fatalf("URL = %s", p.URL)
	}
	if p.Price != 200 || p.ListPrice != 250 {
		t.Fatalf("价格 = %v/%v, want 200/250", p.Price, p.ListPrice)
	}
	if p.PriceCurrencyCode != "EUR" {
		t.Fatalf("币种 = %s", p.PriceCurrencyCode)
	}
	if p.Availability != nosto.AvailabilityInStock {
		t.Fatalf("可售状态 = %s", p.Availability)
	}
	if p.DatePublished != "2026-03-15" {
		t.Fatalf("发布日期 = %s", p.DatePublished)
	}
	// 可售商品带 add-to-cart 标签
	if len(p.Tag1) != 1 || p.Tag1[0] != "add-to-cart" {
		t.Fatalf("Tag1 = %v, want [add-to-cart]", p.Tag1)
	}
}

func TestBuilder_Availability(t *testing.T) {
	db := setupBuilderTestDB(t)
	builder := newTestBuilder(db)
	ctx := context.Background()

	store := seedStore(t, db, "main")

	hidden := seedProduct(t, db, &model.CatalogProduct{
		Name: "hidden", InStock: true, Visibility: model.VisibilityNotVisible,
	})
	assignToStore(t, db, hidden.ID, store.ID)

	p, err := builder.Build(ctx, hidden, store)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if p.Availability != nosto.AvailabilityDiscontinued {
		t.Fatalf("不可见商品可售状态 = %s, want Discontinued", p.Availability)
	}
	for _, tag := range p.Tag1 {
		if tag == "add-to-cart" {
			t.Fatal("不可见商品不应带 add-to-cart 标签")
		}
	}

	outOfStock := seedProduct(t, db, &model.CatalogProduct{Name: "oos", InStock: false})
	assignToStore(t, db, outOfStock.ID, store.ID)

	p, err = builder.Build(ctx, outOfStock, store)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if p.Availability != nosto.AvailabilityOutOfStock {
		t.Fatalf("缺货商品可售状态 = %s, want OutOfStock", p.Availability)
	}
}

func TestBuilder_PriceResolution(t *testing.T) {
	db := setupBuilderTestDB(t)
	builder := newTestBuilder(db)
	ctx := context.Background()

	store := seedStore(t, db, "main")
	product := seedProduct(t, db, &model.CatalogProduct{
		Name: "deal", Price: 100, SpecialPrice: 90, InStock: true,
	})
	assignToStore(t, db, product.ID, store.ID)

	// 默认组规则价低于促销价时胜出
	db.Create(&model.CatalogRulePrice{ProductID: product.ID, StoreID: store.ID, CustomerGroupID: 0, RulePrice: 85})

	p, err := builder.Build(ctx, product, store)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if p.Price != 85 {
		t.Fatalf("最终价 = %v, want 85 (规则价最低)", p.Price)
	}
	// 划线价为空时回落到基础价
	if p.ListPrice != 100 {
		t.Fatalf("划线价 = %v, want 100", p.ListPrice)
	}
}

func TestBuilder_TagsAndCustomFields(t *testing.T) {
	db := setupBuilderTestDB(t)
	builder := newTestBuilder(db)
	ctx := context.Background()

	store := seedStore(t, db, "main")
	store.Tag1Attributes = []string{"season"}
	store.Tag2Attributes = []string{"fit"}
	store.CustomAttributes = []string{"fabric", "color"} // color 与默认集合重复
	store.BrandAttribute = "manufacturer"
	if err := db.Save(store).Error; err != nil {
		t.Fatalf("更新店铺配置失败: %v", err)
	}

	product := seedProduct(t, db, &model.CatalogProduct{
		Name:    "shirt",
		Price:   10,
		InStock: true,
		Brand:   "fallback-brand",
		Attributes: []byte(`{
			"season": "spring, summer",
			"fit": "slim",
			"color": "blue",
			"fabric": "cotton",
			"manufacturer": "Acme Mills"
		}`),
	})
	assignToStore(t, db, product.ID, store.ID)

	p, err := builder.Build(ctx, product, store)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	// 多选属性按逗号拆分，可售商品追加 add-to-cart
	wantTag1 := []string{"spring", "summer", "add-to-cart"}
	if len(p.Tag1) != len(wantTag1) {
		t.Fatalf("Tag1 = %v, want %v", p.Tag1, wantTag1)
	}
	for i := range wantTag1 {
		if p.Tag1[i] != wantTag1[i] {
			t.Fatalf("Tag1 = %v, want %v", p.Tag1, wantTag1)
		}
	}
	if len(p.Tag2) != 1 || p.Tag2[0] != "slim" {
		t.Fatalf("Tag2 = %v", p.Tag2)
	}

	// 自定义属性 = 默认集合 + 商家配置，去重
	if p.CustomFields["color"] != "blue" || p.CustomFields["fabric"] != "cotton" {
		t.Fatalf("CustomFields = %v", p.CustomFields)
	}
	if _, ok := p.CustomFields["size"]; ok {
		t.Fatal("商品没有 size 属性，不应出现在 CustomFields")
	}

	// 品牌走配置的属性 code
	if p.Brand != "Acme Mills" {
		t.Fatalf("Brand = %s, want Acme Mills", p.Brand)
	}
}

func TestBuilder_CorruptAttributesDoNotBreakBuild(t *testing.T) {
	db := setupBuilderTestDB(t)
	builder := newTestBuilder(db)
	ctx := context.Background()

	store := seedStore(t, db, "main")
	product := seedProduct(t, db, &model.CatalogProduct{
		Name:       "broken-attrs",
		Price:      10,
		InStock:    true,
		Brand:      "Acme",
		Attributes: []byte(`{invalid json`),
	})
	assignToStore(t, db, product.ID, store.ID)

	p, err := builder.Build(ctx, product, store)
	if err != nil {
		t.Fatalf("属性 JSON 损坏不应阻断构建: %v", err)
	}
	if p.Brand != "Acme" {
		t.Fatalf("Brand = %s, want 回落商品字段", p.Brand)
	}
}

func TestBuilder_Categories(t *testing.T) {
	db := setupBuilderTestDB(t)
	builder := newTestBuilder(db)
	ctx := context.Background()

	store := seedStore(t, db, "main")
	product := seedProduct(t, db, &model.CatalogProduct{Name: "boat", Price: 10, InStock: true})
	assignToStore(t, db, product.ID, store.ID)

	// 类目树: root(1) / Outdoor(2) / Boats(7)，外加一条中间停用的路径
	root := model.Category{Name: "Root", Level: 1, Enabled: true}
	db.Create(&root)
	outdoor := model.Category{ParentID: root.ID, Name: "Outdoor", Level: 2, Enabled: true}
	db.Create(&outdoor)
	boats := model.Category{ParentID: outdoor.ID, Name: "Boats", Level: 3, Enabled: true}
	db.Create(&boats)
	hidden := model.Category{ParentID: root.ID, Name: "Hidden", Level: 2, Enabled: false}
	db.Create(&hidden)
	sale := model.Category{ParentID: hidden.ID, Name: "Sale", Level: 3, Enabled: true}
	db.Create(&sale)

	setPath := func(c *model.Category, ids string) {
		db.Model(&model.Category{}).Where("id = ?", c.ID).Update("path_ids", ids)
	}
	setPath(&boats, fmt.Sprintf("%d/%d/%d", root.ID, outdoor.ID, boats.ID))
	setPath(&sale, fmt.Sprintf("%d/%d/%d", root.ID, hidden.ID, sale.ID))

	db.Create(&model.ProductCategoryLink{ProductID: product.ID, CategoryID: boats.ID})
	db.Create(&model.ProductCategoryLink{ProductID: product.ID, CategoryID: sale.ID})

	p, err := builder.Build(ctx, product, store)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	// 停用祖先的路径整条作废，根节点不出现在路径中
	if len(p.Categories) != 1 {
		t.Fatalf("类目路径数 = %d, want 1: %+v", len(p.Categories), p.Categories)
	}
	if p.Categories[0].Path != "/Outdoor/Boats" {
		t.Fatalf("路径 = %s, want /Outdoor/Boats", p.Categories[0].Path)
	}
}

func TestBuilder_ConfigurableSKUs(t *testing.T) {
	db := setupBuilderTestDB(t)
	builder := newTestBuilder(db)
	ctx := context.Background()

	store := seedStore(t, db, "main")
	parent := seedProduct(t, db, &model.CatalogProduct{
		Name: "parent", Type: model.ProductTypeConfigurable, Price: 50, InStock: true,
	})
	assignToStore(t, db, parent.ID, store.ID)

	childOn := seedProduct(t, db, &model.CatalogProduct{
		Name: "child-s", Price: 45, InStock: true, Quantity: 3,
		Visibility: model.VisibilityNotVisible,
	})
	childOff := seedProduct(t, db, &model.CatalogProduct{
		Name: "child-m", Price: 48, Status: model.ProductStatusDisabled,
	})
	db.Create(&model.ProductRelation{ParentID: parent.ID, ChildID: childOn.ID})
	db.Create(&model.ProductRelation{ParentID: parent.ID, ChildID: childOff.ID})

	p, err := builder.Build(ctx, parent, store)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if len(p.SKUs) != 1 {
		t.Fatalf("SKU 数 = %d, want 1 (仅启用子品)", len(p.SKUs))
	}
	sku := p.SKUs[0]
	if sku.ID != childOn.ID || sku.Price != 45 || sku.InventoryLevel != 3 {
		t.Fatalf("SKU 字段错误: %+v", sku)
	}
	if sku.Availability != nosto.AvailabilityInStock {
		t.Fatalf("SKU 可售状态 = %s", sku.Availability)
	}
}

func TestBuilder_CustomerGroupVariations(t *testing.T) {
	db := setupBuilderTestDB(t)
	builder := newTestBuilder(db)
	ctx := context.Background()

	store := seedStore(t, db, "main")
	product := seedProduct(t, db, &model.CatalogProduct{Name: "vip-deal", Price: 100, InStock: true})
	assignToStore(t, db, product.ID, store.ID)

	db.Create(&model.CustomerGroup{ID: 1, Code: "wholesale"})
	db.Create(&model.CustomerGroup{ID: 2, Code: "retail"})

	// wholesale: 阶梯价 80 与规则价 75 取最低
	db.Create(&model.TierPrice{ProductID: product.ID, StoreID: store.ID, CustomerGroupID: 1, Price: 80})
	db.Create(&model.CatalogRulePrice{ProductID: product.ID, StoreID: store.ID, CustomerGroupID: 1, RulePrice: 75})

	p, err := builder.Build(ctx, product, store)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if len(p.Variations) != 2 {
		t.Fatalf("变体数 = %d, want 2", len(p.Variations))
	}
	// 固定按组 code 排序: retail < wholesale
	if p.Variations[0].ID != "retail" || p.Variations[1].ID != "wholesale" {
		t.Fatalf("变体排序错误: %+v", p.Variations)
	}
	if p.Variations[0].Price != 100 {
		t.Fatalf("retail 价 = %v, want 100 (无组专属价)", p.Variations[0].Price)
	}
	if p.Variations[1].Price != 75 {
		t.Fatalf("wholesale 价 = %v, want 75 (规则价最低)", p.Variations[1].Price)
	}
}

func TestBuilder_ObserverHooks(t *testing.T) {
	db := setupBuilderTestDB(t)
	builder := newTestBuilder(db)
	ctx := context.Background()

	store := seedStore(t, db, "main")
	product := seedProduct(t, db, &model.CatalogProduct{Name: "hooked", Price: 10, InStock: true})
	assignToStore(t, db, product.ID, store.ID)

	hook := &countingObserver{}
	builder.SetObserver(hook)

	if _, err := builder.Build(ctx, product, store); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if hook.products != 1 {
		t.Fatalf("ProductBuilt 调用次数 = %d, want 1", hook.products)
	}
}

type countingObserver struct {
	products   int
	skus       int
	variations int
}

func (o *countingObserver) ProductBuilt(*nosto.Product)     { o.products++ }
func (o *countingObserver) SKUBuilt(*nosto.SKU)             { o.skus++ }
func (o *countingObserver) VariationBuilt(*nosto.Variation) { o.variations++ }
