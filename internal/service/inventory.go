package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/domain"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/store"
)

func (s *Service) ListMaterials(ctx context.Context) ([]domain.Material, error) {
	return s.repo.ListMaterials(ctx)
}

func (s *Service) GetMaterial(ctx context.Context, id string) (domain.Material, error) {
	material, err := s.repo.GetMaterial(ctx, id)
	if err != nil {
		return domain.Material{}, err
	}
	return *material, nil
}

func (s *Service) CreateMaterial(ctx context.Context, req domain.MaterialCreateRequest) (domain.Material, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Material{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Unit = strings.TrimSpace(req.Unit)

	if req.Name == "" {
		return domain.Material{}, store.ErrInvalid
	}
	if req.InitialStock < 0 || req.PurchasePrice < 0 {
		return domain.Material{}, store.ErrInvalid
	}
	if req.Unit == "" {
		req.Unit = "cái"
	}

	created, err := s.repo.CreateMaterial(ctx, domain.Material{
		SKU:            req.SKU,
		Name:           req.Name,
		Unit:           req.Unit,
		Stock:          req.InitialStock,
		PurchasePrice:  req.PurchasePrice,
		RetailPrice:    req.RetailPrice,
		WholesalePrice: req.WholesalePrice,
	})
	if err != nil {
		return domain.Material{}, err
	}

	s.logAudit(ctx, "material_create", "material", created.ID, fmt.Sprintf("name=%s,stock=%d", created.Name, created.Stock))
	s.invalidateAlerts(ctx)
	return *created, nil
}

// AdjustMaterialStock is the manual stock correction path (goods received,
// stocktake). Sale and production movements go through their own flows.
func (s *Service) AdjustMaterialStock(ctx context.Context, id string, delta int) (domain.Material, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Material{}, err
	}
	if delta == 0 {
		return domain.Material{}, store.ErrInvalid
	}

	if _, err := s.repo.AdjustMaterialStock(ctx, id, delta); err != nil {
		return domain.Material{}, err
	}

	material, err := s.repo.GetMaterial(ctx, id)
	if err != nil {
		return domain.Material{}, err
	}

	s.logAudit(ctx, "material_adjust", "material", id, fmt.Sprintf("delta=%d,stock=%d", delta, material.Stock))
	s.invalidateAlerts(ctx)
	return *material, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)

	if req.Name == "" || req.InitialStock < 0 || req.CostPrice < 0 || req.RetailPrice < 0 {
		return domain.Product{}, store.ErrInvalid
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		SKU:            req.SKU,
		Name:           req.Name,
		Stock:          req.InitialStock,
		CostPrice:      req.CostPrice,
		RetailPrice:    req.RetailPrice,
		WholesalePrice: req.WholesalePrice,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("name=%s,stock=%d", created.Name, created.Stock))
	return *created, nil
}

// CommitmentDrift reports materials whose committed counter disagrees with
// the recomputed sum over open production orders. A non-empty result means a
// past multi-step sequence was interrupted and the counter needs repair.
type CommitmentDrift struct {
	MaterialID   string `json:"material_id"`
	MaterialName string `json:"material_name"`
	Counter      int    `json:"counter"`
	Recomputed   int    `json:"recomputed"`
}

func (s *Service) ReconcileCommitments(ctx context.Context) ([]CommitmentDrift, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	materials, err := s.repo.ListMaterials(ctx)
	if err != nil {
		return nil, err
	}

	drifts := make([]CommitmentDrift, 0)
	for _, material := range materials {
		open, err := s.repo.SumOpenCommitments(ctx, material.ID)
		if err != nil {
			return nil, err
		}
		if open != material.CommittedQuantity {
			drifts = append(drifts, CommitmentDrift{
				MaterialID:   material.ID,
				MaterialName: material.Name,
				Counter:      material.CommittedQuantity,
				Recomputed:   open,
			})
		}
	}
	return drifts, nil
}
