package service

import (
	"context"

	"keyshop/internal/model"
	"keyshop/internal/repository"

	"gorm.io/gorm"
)

// CatalogService 目录查询（只读）
// 库存数每次调用都实时统计，不做缓存：买家下单前看到的库存
// 必须反映最新已提交状态，否则展示和售罄判定会脱节
type CatalogService struct {
	db          *gorm.DB
	productRepo *repository.ProductRepository
	keyRepo     *repository.KeyRepository
}

func NewCatalogService(db *gorm.DB) *CatalogService {
	return &CatalogService{
		db:          db,
		productRepo: repository.NewProductRepository(db),
		keyRepo:     repository.NewKeyRepository(db),
	}
}

// ProductWithStock 商品及其当前可售库存
type ProductWithStock struct {
	Product        *model.Product `json:"product"`
	AvailableStock int64          `json:"available_stock"`
}

func (s *CatalogService) ListCategories(ctx context.Context) ([]string, error) {
	return s.productRepo.ListCategories(ctx)
}

func (s *CatalogService) ListProducts(ctx context.Context, category string) ([]ProductWithStock, error) {
	products, err := s.productRepo.ListByCategory(ctx, category)
	if err != nil {
		return nil, err
	}
	return s.withStock(ctx, products)
}

// ListAllProducts 全量商品列表（管理端面板用）
func (s *CatalogService) ListAllProducts(ctx context.Context) ([]ProductWithStock, error) {
	products, err := s.productRepo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return s.withStock(ctx, products)
}

func (s *CatalogService) withStock(ctx context.Context, products []*model.Product) ([]ProductWithStock, error) {
	result := make([]ProductWithStock, 0, len(products))
	for _, p := range products {
		stock, err := s.keyRepo.CountAvailable(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		result = append(result, ProductWithStock{Product: p, AvailableStock: stock})
	}
	return result, nil
}
