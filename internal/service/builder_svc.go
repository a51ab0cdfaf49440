package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"nosto_indexer_v1_202609/internal/model"
	"nosto_indexer_v1_202609/internal/repository"
	"nosto_indexer_v1_202609/pkg/nosto"
)

// ==================== 错误类型 ====================

// FilteredProductError 商品被业务规则排除在打标之外 (停用、未分配到店铺等)
// 批处理中按单条跳过处理，只记日志
type FilteredProductError struct {
	ProductID int64
	Reason    string
}

func (e *FilteredProductError) Error() string {
	return fmt.Sprintf("商品 %d 被过滤: %s", e.ProductID, e.Reason)
}

// NonBuildableProductError 商品类型无法构建快照 (如没有任何子品的 bundle)
type NonBuildableProductError struct {
	ProductID int64
	Reason    string
}

func (e *NonBuildableProductError) Error() string {
	return fmt.Sprintf("商品 %d 无法构建: %s", e.ProductID, e.Reason)
}

// ParentCategoryDisabledError 类目路径中存在停用的中间节点
// 该条类目路径被跳过，其余路径继续导出
type ParentCategoryDisabledError struct {
	CategoryID int64
}

func (e *ParentCategoryDisabledError) Error() string {
	return fmt.Sprintf("类目 %d 的上级类目已停用", e.CategoryID)
}

// ==================== 属性源 ====================

// AttributeSource 按属性 code 取值的能力抽象
// 屏蔽平台侧 EAV 反射式属性解析，这里由商品的属性 JSON 快照提供
type AttributeSource interface {
	Get(code string) (string, bool)
}

type jsonAttributeSource struct {
	values map[string]interface{}
}

// NewAttributeSource 从商品属性 JSON 构造属性源
// JSON 损坏时返回空源，属性解析失败不阻断构建
func NewAttributeSource(raw []byte) AttributeSource {
	src := &jsonAttributeSource{values: map[string]interface{}{}}
	if len(raw) == 0 {
		return src
	}
	if err := json.Unmarshal(raw, &src.values); err != nil {
		log.Printf("[Builder] 商品属性 JSON 解析失败，按无属性处理: %v", err)
		src.values = map[string]interface{}{}
	}
	return src
}

func (s *jsonAttributeSource) Get(code string) (string, bool) {
	v, ok := s.values[code]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, t != ""
	case float64:
		// JSON 数字统一是 float64，整数去掉小数部分
		if t == math.Trunc(t) {
			return fmt.Sprintf("%d", int64(t)), true
		}
		return fmt.Sprintf("%g", t), true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	default:
		return fmt.Sprintf("%v", t), true
	}
}

// ==================== 构建扩展点 ====================

// BuildObserver 快照构建完成后的扩展钩子
// 外部代码可在此补充字段；默认空实现，不构成控制流依赖
type BuildObserver interface {
	ProductBuilt(p *nosto.Product)
	SKUBuilt(s *nosto.SKU)
	VariationBuilt(v *nosto.Variation)
}

type noopObserver struct{}

func (noopObserver) ProductBuilt(*nosto.Product)     {}
func (noopObserver) SKUBuilt(*nosto.SKU)             {}
func (noopObserver) VariationBuilt(*nosto.Variation) {}

// ==================== 构建服务 ====================

// 所有商品默认导出的自定义属性 code，商家配置在此基础上扩展
var defaultCustomAttributes = []string{"color", "size", "material"}

// BuilderService 快照构建服务
// (商品, 店铺) → 打标快照 的纯转换，不落库
type BuilderService struct {
	catalogRepo  repository.CatalogRepository
	categoryRepo repository.CategoryRepository
	observer     BuildObserver
}

// NewBuilderService 创建构建服务
func NewBuilderService(catalogRepo repository.CatalogRepository, categoryRepo repository.CategoryRepository) *BuilderService {
	return &BuilderService{
		catalogRepo:  catalogRepo,
		categoryRepo: categoryRepo,
		observer:     noopObserver{},
	}
}

// SetObserver 注入构建扩展钩子
func (s *BuilderService) SetObserver(o BuildObserver) {
	if o != nil {
		s.observer = o
	}
}

// Build 构建商品在指定店铺下的打标快照
func (s *BuilderService) Build(ctx context.Context, product *model.CatalogProduct, store *model.Store) (*nosto.Product, error) {
	// 1. 过滤规则：停用 / 未分配到店铺 的商品不参与打标
	if product.Status == model.ProductStatusDisabled {
		return nil, &FilteredProductError{ProductID: product.ID, Reason: "商品已停用"}
	}
	assigned, err := s.catalogRepo.IsAssignedToStore(ctx, product.ID, store.ID)
	if err != nil {
		return nil, fmt.Errorf("查询店铺分配关系失败: %w", err)
	}
	if !assigned {
		return nil, &FilteredProductError{ProductID: product.ID, Reason: "未分配到该店铺"}
	}

	// 2. bundle 必须有子品，否则无法表达
	if product.Type == model.ProductTypeBundle {
		childCount, err := s.catalogRepo.CountChildren(ctx, product.ID)
		if err != nil {
			return nil, fmt.Errorf("查询子品数量失败: %w", err)
		}
		if childCount == 0 {
			return nil, &NonBuildableProductError{ProductID: product.ID, Reason: "bundle 没有任何子品"}
		}
	}

	attrs := NewAttributeSource(product.Attributes)
	finalPrice, listPrice := s.resolvePrices(ctx, product, store)

	p := &nosto.Product{
		ProductID:         product.ID,
		Name:              product.Name,
		URL:               buildProductURL(store.BaseURL, product.URLKey),
		Price:             finalPrice,
		ListPrice:         listPrice,
		PriceCurrencyCode: store.CurrencyCode,
		Availability:      s.buildAvailability(product),
		Description:       product.Description,
		Brand:             s.resolveBrand(product, store, attrs),
	}

	if !product.PublishedAt.IsZero() {
		p.DatePublished = product.PublishedAt.Format("2006-01-02")
	}

	// 3. 标签组
	p.Tag1 = s.resolveTags(store.Tag1Attributes, attrs)
	p.Tag2 = s.resolveTags(store.Tag2Attributes, attrs)
	p.Tag3 = s.resolveTags(store.Tag3Attributes, attrs)
	if s.isSaleable(product) {
		p.Tag1 = append(p.Tag1, "add-to-cart")
	}

	// 4. 自定义属性：默认集合 + 商家配置，去重
	p.CustomFields = s.resolveCustomFields(store, attrs)

	// 5. 类目路径
	p.Categories = s.buildCategories(ctx, product)

	// 6. 子品 (仅 configurable 展开为 SKU 列表)
	if product.Type == model.ProductTypeConfigurable {
		skus, err := s.buildSKUs(ctx, product, store)
		if err != nil {
			return nil, err
		}
		p.SKUs = skus
	}

	// 7. 客户组变体
	variations, err := s.buildVariations(ctx, product, store, finalPrice, listPrice, p.Availability)
	if err != nil {
		return nil, err
	}
	p.Variations = variations

	s.observer.ProductBuilt(p)
	return p, nil
}

// ==================== 价格 ====================

// resolvePrices 解析最终价与划线价
// 最终价取 基础价/促销价/默认组规则价 的最小值；划线价为空时回落到基础价
func (s *BuilderService) resolvePrices(ctx context.Context, product *model.CatalogProduct, store *model.Store) (finalPrice, listPrice float64) {
	finalPrice = product.Price
	if product.SpecialPrice > 0 && product.SpecialPrice < finalPrice {
		finalPrice = product.SpecialPrice
	}

	// 默认客户组 (ID 0) 的目录规则价
	rulePrice, err := s.catalogRepo.GetRulePrice(ctx, product.ID, 0, store.ID)
	if err != nil {
		log.Printf("[Builder] 查询规则价失败 (product=%d): %v", product.ID, err)
	} else if rulePrice > 0 && rulePrice < finalPrice {
		finalPrice = rulePrice
	}

	listPrice = product.ListPrice
	if listPrice <= 0 {
		listPrice = product.Price
	}
	return finalPrice, listPrice
}

// ==================== 可售性 ====================

// buildAvailability 可售状态
// 店铺分配与库存独立判断；不可单独展示的商品视为 Discontinued
func (s *BuilderService) buildAvailability(product *model.CatalogProduct) string {
	if product.Visibility == model.VisibilityNotVisible {
		return nosto.AvailabilityDiscontinued
	}
	if product.InStock {
		return nosto.AvailabilityInStock
	}
	return nosto.AvailabilityOutOfStock
}

func (s *BuilderService) isSaleable(product *model.CatalogProduct) bool {
	return product.Status == model.ProductStatusEnabled &&
		product.InStock &&
		product.Visibility != model.VisibilityNotVisible
}

// ==================== 标签与属性 ====================

func (s *BuilderService) resolveTags(codes []string, attrs AttributeSource) []string {
	var tags []string
	for _, code := range codes {
		value, ok := attrs.Get(code)
		if !ok {
			continue
		}
		// 多选属性约定用逗号分隔
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				tags = append(tags, part)
			}
		}
	}
	return tags
}

func (s *BuilderService) resolveBrand(product *model.CatalogProduct, store *model.Store, attrs AttributeSource) string {
	if store.BrandAttribute != "" {
		if value, ok := attrs.Get(store.BrandAttribute); ok {
			return value
		}
	}
	return product.Brand
}

func (s *BuilderService) resolveCustomFields(store *model.Store, attrs AttributeSource) map[string]string {
	codes := make([]string, 0, len(defaultCustomAttributes)+len(store.CustomAttributes))
	codes = append(codes, defaultCustomAttributes...)
	codes = append(codes, store.CustomAttributes...)

	seen := make(map[string]struct{}, len(codes))
	fields := make(map[string]string)
	for _, code := range codes {
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		if value, ok := attrs.Get(code); ok {
			fields[code] = value
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// ==================== 类目 ====================

// buildCategories 导出商品关联的全部类目路径
// 单条路径解析失败 (含上级类目停用) 只记日志跳过，不阻断整体构建
func (s *BuilderService) buildCategories(ctx context.Context, product *model.CatalogProduct) []nosto.CategoryPath {
	categoryIDs, err := s.catalogRepo.ListCategoryIDs(ctx, product.ID)
	if err != nil {
		log.Printf("[Builder] 查询商品类目失败 (product=%d): %v", product.ID, err)
		return nil
	}

	var paths []nosto.CategoryPath
	for _, id := range categoryIDs {
		path, err := s.buildCategoryPath(ctx, id)
		if err != nil {
			log.Printf("[Builder] 类目路径解析失败 (product=%d category=%d): %v", product.ID, id, err)
			continue
		}
		paths = append(paths, path)
	}
	return paths
}

// buildCategoryPath 沿 ID 链逐级解析类目名称
// 跳过 Level <= 1 的根节点；中间节点停用时整条路径作废
func (s *BuilderService) buildCategoryPath(ctx context.Context, categoryID int64) (nosto.CategoryPath, error) {
	category, err := s.categoryRepo.GetByID(ctx, categoryID)
	if err != nil {
		return nosto.CategoryPath{}, err
	}

	chainIDs := parsePathIDs(category.PathIDs)
	chain, err := s.categoryRepo.GetByIDs(ctx, chainIDs)
	if err != nil {
		return nosto.CategoryPath{}, err
	}

	var names []string
	for _, id := range chainIDs {
		node, ok := chain[id]
		if !ok {
			continue
		}
		if node.Level <= 1 {
			continue
		}
		if !node.Enabled {
			return nosto.CategoryPath{}, &ParentCategoryDisabledError{CategoryID: node.ID}
		}
		names = append(names, node.Name)
	}

	return nosto.NewCategoryPath("/" + strings.Join(names, "/"))
}

func parsePathIDs(pathIDs string) []int64 {
	var ids []int64
	for _, part := range strings.Split(pathIDs, "/") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var id int64
		if _, err := fmt.Sscanf(part, "%d", &id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// ==================== SKU ====================

// buildSKUs 为 configurable 的每个启用子品构建独立定价/独立可售的 SKU
func (s *BuilderService) buildSKUs(ctx context.Context, parent *model.CatalogProduct, store *model.Store) ([]nosto.SKU, error) {
	children, err := s.catalogRepo.ListEnabledChildren(ctx, parent.ID)
	if err != nil {
		return nil, fmt.Errorf("查询启用子品失败: %w", err)
	}

	skus := make([]nosto.SKU, 0, len(children))
	for i := range children {
		child := &children[i]
		childFinal, childList := s.resolvePrices(ctx, child, store)

		availability := nosto.AvailabilityOutOfStock
		if child.InStock {
			availability = nosto.AvailabilityInStock
		}

		sku := nosto.SKU{
			ID:             child.ID,
			Name:           child.Name,
			Price:          childFinal,
			ListPrice:      childList,
			Availability:   availability,
			InventoryLevel: child.Quantity,
			CustomFields:   s.resolveCustomFields(store, NewAttributeSource(child.Attributes)),
		}
		s.observer.SKUBuilt(&sku)
		skus = append(skus, sku)
	}
	return skus, nil
}

// ==================== 客户组变体 ====================

// buildVariations 为每个客户组构建变体
// 变体价取 该组阶梯价 / 该组规则价 / 默认最终价 的最小值：
// 促销规则折扣是行级阶梯价表达不了的，必须并入比较
func (s *BuilderService) buildVariations(ctx context.Context, product *model.CatalogProduct, store *model.Store, finalPrice, listPrice float64, availability string) ([]nosto.Variation, error) {
	groups, err := s.catalogRepo.ListCustomerGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询客户组失败: %w", err)
	}
	if len(groups) == 0 {
		return nil, nil
	}

	tiers, err := s.catalogRepo.ListTierPrices(ctx, product.ID, store.ID)
	if err != nil {
		return nil, fmt.Errorf("查询阶梯价失败: %w", err)
	}
	tierByGroup := make(map[int64]float64, len(tiers))
	for _, t := range tiers {
		if cur, ok := tierByGroup[t.CustomerGroupID]; !ok || t.Price < cur {
			tierByGroup[t.CustomerGroupID] = t.Price
		}
	}

	variations := make([]nosto.Variation, 0, len(groups))
	for _, group := range groups {
		price := finalPrice

		if tier, ok := tierByGroup[group.ID]; ok && tier > 0 && tier < price {
			price = tier
		}

		rulePrice, err := s.catalogRepo.GetRulePrice(ctx, product.ID, group.ID, store.ID)
		if err != nil {
			log.Printf("[Builder] 查询客户组规则价失败 (product=%d group=%d): %v", product.ID, group.ID, err)
		} else if rulePrice > 0 && rulePrice < price {
			price = rulePrice
		}

		v := nosto.Variation{
			ID:           group.Code,
			Price:        price,
			ListPrice:    listPrice,
			Availability: availability,
		}
		s.observer.VariationBuilt(&v)
		variations = append(variations, v)
	}

	// 固定按组 code 排序，保证同一状态下构建结果稳定
	sort.Slice(variations, func(i, j int) bool {
		return variations[i].ID < variations[j].ID
	})
	return variations, nil
}

// ==================== 辅助函数 ====================

func buildProductURL(baseURL, urlKey string) string {
	base := strings.TrimRight(baseURL, "/")
	if urlKey == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(urlKey, "/")
}
