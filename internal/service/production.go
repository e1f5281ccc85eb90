package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/domain"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/store"
)

// CreateProductionOrder reserves materials for the full order quantity. The
// availability check here produces the aggregated shortage message; the store
// re-verifies each line atomically, so a concurrent taker still cannot push a
// commitment past stock.
func (s *Service) CreateProductionOrder(ctx context.Context, req domain.ProductionOrderCreateRequest) (domain.ProductionOrder, error) {
	if req.QuantityProduced < 1 {
		return domain.ProductionOrder{}, fmt.Errorf("%w: số lượng sản xuất phải lớn hơn 0", store.ErrInvalid)
	}

	bom, err := s.repo.GetBOM(ctx, req.BOMID)
	if err != nil {
		return domain.ProductionOrder{}, err
	}

	// Duplicate references to the same material sum into one commitment.
	perMaterial := make(map[string]int, len(bom.Materials))
	materialIDs := make([]string, 0, len(bom.Materials))
	for _, line := range bom.Materials {
		if _, seen := perMaterial[line.MaterialID]; !seen {
			materialIDs = append(materialIDs, line.MaterialID)
		}
		perMaterial[line.MaterialID] += line.Quantity
	}

	commitments := make([]domain.MaterialCommitment, 0, len(materialIDs))
	shortages := make([]string, 0)
	var materialsCost int64

	for _, materialID := range materialIDs {
		material, err := s.repo.GetMaterial(ctx, materialID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				shortages = append(shortages, fmt.Sprintf("vật tư %s không tồn tại", materialID))
				continue
			}
			return domain.ProductionOrder{}, err
		}

		need := perMaterial[materialID] * req.QuantityProduced
		available := material.Stock - material.CommittedQuantity
		if need > available {
			shortages = append(shortages, fmt.Sprintf("%s: cần %d, có %d", material.Name, need, available))
			continue
		}

		cost := material.PurchasePrice * int64(need)
		materialsCost += cost
		commitments = append(commitments, domain.MaterialCommitment{
			MaterialID:    material.ID,
			MaterialName:  material.Name,
			Quantity:      need,
			EstimatedCost: cost,
		})
	}

	if len(shortages) > 0 {
		return domain.ProductionOrder{}, fmt.Errorf("%w: không đủ vật tư: %s", store.ErrInsufficientStock, strings.Join(shortages, "; "))
	}
	if len(commitments) == 0 {
		return domain.ProductionOrder{}, fmt.Errorf("%w: định mức không có vật tư", store.ErrInvalid)
	}

	totalCost := materialsCost
	for _, extra := range req.AdditionalCosts {
		if extra.Amount < 0 {
			return domain.ProductionOrder{}, store.ErrInvalid
		}
		totalCost += extra.Amount
	}

	created, err := s.repo.CreateProductionOrder(ctx, domain.ProductionOrder{
		BOMID:              bom.ID,
		ProductName:        bom.ProductName,
		ProductSKU:         bom.ProductSKU,
		QuantityProduced:   req.QuantityProduced,
		Status:             domain.OrderStatusPending,
		MaterialsCost:      materialsCost,
		AdditionalCosts:    req.AdditionalCosts,
		TotalCost:          totalCost,
		CommittedMaterials: commitments,
	})
	if err != nil {
		return domain.ProductionOrder{}, err
	}

	s.logAudit(ctx, "production_order_create", "production_order", created.ID, fmt.Sprintf("bom=%s,qty=%d,total=%d", bom.ID, req.QuantityProduced, totalCost))
	s.invalidateAlerts(ctx)
	s.emit(ctx, "Lệnh sản xuất", fmt.Sprintf("Đã tạo lệnh sản xuất %s (%d x %s)", created.ID, created.QuantityProduced, created.ProductName), "success")
	return *created, nil
}

func (s *Service) GetProductionOrder(ctx context.Context, id string) (domain.ProductionOrder, error) {
	order, err := s.repo.GetProductionOrder(ctx, id)
	if err != nil {
		return domain.ProductionOrder{}, err
	}
	return *order, nil
}

func (s *Service) ListProductionOrders(ctx context.Context, status string, limit int) ([]domain.ProductionOrder, error) {
	return s.repo.ListProductionOrders(ctx, status, limit)
}

func canTransition(from string, to string) bool {
	switch from {
	case domain.OrderStatusPending:
		return to == domain.OrderStatusInProduction || to == domain.OrderStatusCancelled
	case domain.OrderStatusInProduction:
		return to == domain.OrderStatusCompleted || to == domain.OrderStatusCancelled
	}
	return false
}

// SetProductionOrderStatus handles pending -> in_production and cancellation.
// Completion moves stock, so it has its own entry point and is rejected here.
func (s *Service) SetProductionOrderStatus(ctx context.Context, id string, status string) (domain.ProductionOrder, error) {
	if status == domain.OrderStatusCompleted {
		return domain.ProductionOrder{}, fmt.Errorf("%w: hoàn thành lệnh qua thao tác hoàn thành", store.ErrInvalid)
	}

	order, err := s.repo.GetProductionOrder(ctx, id)
	if err != nil {
		return domain.ProductionOrder{}, err
	}
	if !canTransition(order.Status, status) {
		return domain.ProductionOrder{}, fmt.Errorf("%w: không thể chuyển trạng thái %s sang %s", store.ErrInvalid, order.Status, status)
	}

	if status == domain.OrderStatusCancelled {
		if err := s.repo.ReleaseProductionCommitments(ctx, id); err != nil {
			return domain.ProductionOrder{}, err
		}
	}

	updated, err := s.repo.SetProductionOrderStatus(ctx, id, status, time.Now().UTC())
	if err != nil {
		return domain.ProductionOrder{}, err
	}

	s.logAudit(ctx, "production_order_status", "production_order", id, fmt.Sprintf("from=%s,to=%s", order.Status, status))
	s.invalidateAlerts(ctx)
	if status == domain.OrderStatusCancelled {
		s.emit(ctx, "Lệnh sản xuất", fmt.Sprintf("Đã hủy lệnh %s, vật tư đã được giải phóng", id), "info")
	}
	return *updated, nil
}

// CompleteProductionOrder deducts the committed materials, releases the
// commitments, credits finished-product stock and records the optional cost
// analysis. The steps run in a fixed order; a crash mid-way leaves partial
// movement that ReconcileCommitments surfaces later.
func (s *Service) CompleteProductionOrder(ctx context.Context, id string, actual *domain.ActualCosts) (domain.ProductionOrder, error) {
	order, err := s.repo.GetProductionOrder(ctx, id)
	if err != nil {
		return domain.ProductionOrder{}, err
	}
	if !canTransition(order.Status, domain.OrderStatusCompleted) {
		return domain.ProductionOrder{}, fmt.Errorf("%w: không thể hoàn thành lệnh ở trạng thái %s", store.ErrInvalid, order.Status)
	}

	for _, line := range order.CommittedMaterials {
		if _, err := s.repo.AdjustMaterialStock(ctx, line.MaterialID, -line.Quantity); err != nil {
			if !errors.Is(err, store.ErrInsufficientStock) {
				return domain.ProductionOrder{}, err
			}
			// Stock shrank below the commitment after the order was placed.
			// Drain what remains rather than aborting a physical production
			// run that already happened.
			material, getErr := s.repo.GetMaterial(ctx, line.MaterialID)
			if getErr != nil {
				return domain.ProductionOrder{}, getErr
			}
			if material.Stock > 0 {
				if _, err := s.repo.AdjustMaterialStock(ctx, line.MaterialID, -material.Stock); err != nil {
					return domain.ProductionOrder{}, err
				}
			}
			log.Printf("[service] WARN: order %s deducted %d/%d of material %s", id, material.Stock, line.Quantity, line.MaterialID)
			s.emit(ctx, "Cảnh báo tồn kho", fmt.Sprintf("Vật tư %s chỉ còn %d khi cần trừ %d", line.MaterialName, material.Stock, line.Quantity), "warning")
		}
	}

	if err := s.repo.ReleaseProductionCommitments(ctx, id); err != nil {
		return domain.ProductionOrder{}, err
	}

	if err := s.creditFinishedProduct(ctx, *order); err != nil {
		return domain.ProductionOrder{}, err
	}

	if actual != nil {
		analysis := buildCostAnalysis(*order, *actual)
		if err := s.repo.SaveProductionCostAnalysis(ctx, id, *actual, analysis); err != nil {
			return domain.ProductionOrder{}, err
		}
	}

	updated, err := s.repo.SetProductionOrderStatus(ctx, id, domain.OrderStatusCompleted, time.Now().UTC())
	if err != nil {
		return domain.ProductionOrder{}, err
	}

	s.logAudit(ctx, "production_order_complete", "production_order", id, fmt.Sprintf("qty=%d,product=%s", order.QuantityProduced, order.ProductName))
	s.invalidateAlerts(ctx)
	s.emit(ctx, "Lệnh sản xuất", fmt.Sprintf("Hoàn thành lệnh %s, nhập kho %d %s", id, order.QuantityProduced, order.ProductName), "success")
	return *updated, nil
}

func (s *Service) creditFinishedProduct(ctx context.Context, order domain.ProductionOrder) error {
	if order.ProductSKU != "" {
		product, err := s.repo.FindProductBySKU(ctx, order.ProductSKU)
		if err == nil {
			_, err = s.repo.AdjustProductStock(ctx, product.ID, order.QuantityProduced)
			return err
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}

	unitCost := order.TotalCost
	if order.QuantityProduced > 0 {
		unitCost = order.TotalCost / int64(order.QuantityProduced)
	}
	_, err := s.repo.CreateProduct(ctx, domain.Product{
		SKU:       order.ProductSKU,
		Name:      order.ProductName,
		Stock:     order.QuantityProduced,
		CostPrice: unitCost,
	})
	return err
}

func buildCostAnalysis(order domain.ProductionOrder, actual domain.ActualCosts) domain.CostAnalysis {
	actualByMaterial := make(map[string]domain.ActualCostLine, len(actual.Materials))
	for _, line := range actual.Materials {
		actualByMaterial[line.MaterialID] = line
	}

	analysis := domain.CostAnalysis{
		Materials:  make([]domain.CostVariance, 0, len(order.CommittedMaterials)),
		Additional: make([]domain.CostVariance, 0, len(order.AdditionalCosts)),
	}

	for _, commitment := range order.CommittedMaterials {
		actualCost := commitment.EstimatedCost
		if line, ok := actualByMaterial[commitment.MaterialID]; ok {
			actualCost = line.ActualCost
		}
		analysis.Materials = append(analysis.Materials, costVariance(commitment.MaterialName, commitment.EstimatedCost, actualCost))
		analysis.EstimatedTotal += commitment.EstimatedCost
		analysis.ActualTotal += actualCost
	}

	actualByLabel := make(map[string]int64, len(actual.AdditionalCosts))
	for _, extra := range actual.AdditionalCosts {
		actualByLabel[extra.Label] = extra.Amount
	}
	for _, extra := range order.AdditionalCosts {
		actualAmount := extra.Amount
		if amount, ok := actualByLabel[extra.Label]; ok {
			actualAmount = amount
		}
		analysis.Additional = append(analysis.Additional, costVariance(extra.Label, extra.Amount, actualAmount))
		analysis.EstimatedTotal += extra.Amount
		analysis.ActualTotal += actualAmount
	}

	analysis.Variance = analysis.ActualTotal - analysis.EstimatedTotal
	if analysis.EstimatedTotal != 0 {
		analysis.VariancePct = float64(analysis.Variance) / float64(analysis.EstimatedTotal) * 100
	}
	return analysis
}

func costVariance(label string, estimated int64, actual int64) domain.CostVariance {
	variance := domain.CostVariance{
		Label:     label,
		Estimated: estimated,
		Actual:    actual,
		Variance:  actual - estimated,
	}
	if estimated != 0 {
		variance.VariancePct = float64(variance.Variance) / float64(estimated) * 100
	}
	return variance
}

func (s *Service) CreateBOM(ctx context.Context, req domain.BOMCreateRequest) (domain.BOM, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.BOM{}, err
	}

	req.ProductName = strings.TrimSpace(req.ProductName)
	req.ProductSKU = strings.ToUpper(strings.TrimSpace(req.ProductSKU))
	if req.ProductName == "" || len(req.Materials) == 0 {
		return domain.BOM{}, store.ErrInvalid
	}

	seen := make(map[string]bool, len(req.Materials))
	for _, line := range req.Materials {
		if line.Quantity < 1 {
			return domain.BOM{}, fmt.Errorf("%w: định mức vật tư phải lớn hơn 0", store.ErrInvalid)
		}
		if seen[line.MaterialID] {
			return domain.BOM{}, fmt.Errorf("%w: vật tư %s bị lặp trong định mức", store.ErrInvalid, line.MaterialID)
		}
		seen[line.MaterialID] = true
		if _, err := s.repo.GetMaterial(ctx, line.MaterialID); err != nil {
			return domain.BOM{}, fmt.Errorf("vật tư %s: %w", line.MaterialID, err)
		}
	}

	created, err := s.repo.CreateBOM(ctx, domain.BOM{
		ProductName: req.ProductName,
		ProductSKU:  req.ProductSKU,
		Materials:   req.Materials,
		Notes:       req.Notes,
	})
	if err != nil {
		return domain.BOM{}, err
	}

	s.logAudit(ctx, "bom_create", "bom", created.ID, fmt.Sprintf("product=%s,lines=%d", created.ProductName, len(created.Materials)))
	return *created, nil
}

func (s *Service) ListBOMs(ctx context.Context) ([]domain.BOM, error) {
	return s.repo.ListBOMs(ctx)
}
