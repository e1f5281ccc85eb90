package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/cache"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/domain"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/store"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/store/memory"
)

func newTestService(repo store.Repository) *Service {
	settings := domain.AlertSettings{
		LowStockThresholdPct:      20,
		CriticalStockThresholdPct: 10,
		EnableStockAlerts:         true,
		EnableDebtAlerts:          true,
	}
	return New(repo, cache.NoopAlertCache{}, nil, settings, "PS", time.Second)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func seedMaterial(t *testing.T, repo store.Repository, name string, stock int, price int64) *domain.Material {
	t.Helper()
	material, err := repo.CreateMaterial(context.Background(), domain.Material{
		Name:          name,
		Unit:          "cái",
		Stock:         stock,
		PurchasePrice: price,
	})
	if err != nil {
		t.Fatalf("seed material %s: %v", name, err)
	}
	return material
}

func seedBOM(t *testing.T, repo store.Repository, sku string, lines []domain.BOMLine) *domain.BOM {
	t.Helper()
	bom, err := repo.CreateBOM(context.Background(), domain.BOM{
		ProductName: "Pin Khối Test",
		ProductSKU:  sku,
		Materials:   lines,
	})
	if err != nil {
		t.Fatalf("seed bom: %v", err)
	}
	return bom
}

func TestCreateProductionOrderCommitsWithoutDeducting(t *testing.T) {
	repo := memory.New()
	svc := newTestService(repo)
	ctx := adminCtx()

	cell := seedMaterial(t, repo, "Cell Pin", 100, 25000)
	bom := seedBOM(t, repo, "TP-TEST", []domain.BOMLine{{MaterialID: cell.ID, Quantity: 2}})

	order, err := svc.CreateProductionOrder(ctx, domain.ProductionOrderCreateRequest{
		BOMID:            bom.ID,
		QuantityProduced: 10,
	})
	if err != nil {
		t.Fatalf("create production order: %v", err)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status, got %s", order.Status)
	}
	if order.MaterialsCost != 25000*20 {
		t.Fatalf("unexpected materials cost %d", order.MaterialsCost)
	}

	got, err := repo.GetMaterial(ctx, cell.ID)
	if err != nil {
		t.Fatalf("get material: %v", err)
	}
	if got.Stock != 100 {
		t.Fatalf("creation must not move stock, got %d", got.Stock)
	}
	if got.CommittedQuantity != 20 {
		t.Fatalf("expected committed 20, got %d", got.CommittedQuantity)
	}
}

func TestCreateProductionOrderSumsDuplicateLines(t *testing.T) {
	repo := memory.New()
	svc := newTestService(repo)
	ctx := adminCtx()

	cell := seedMaterial(t, repo, "Cell Pin", 100, 25000)
	bom := seedBOM(t, repo, "TP-TEST", []domain.BOMLine{
		{MaterialID: cell.ID, Quantity: 6},
		{MaterialID: cell.ID, Quantity: 6},
	})

	// Both references count against the same pool: 120 needed, 100 on hand.
	_, err := svc.CreateProductionOrder(ctx, domain.ProductionOrderCreateRequest{
		BOMID:            bom.ID,
		QuantityProduced: 10,
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock for summed duplicates, got %v", err)
	}
	if !strings.Contains(err.Error(), "cần 120, có 100") {
		t.Fatalf("expected summed requirement in message, got %q", err.Error())
	}

	got, _ := repo.GetMaterial(ctx, cell.ID)
	if got.CommittedQuantity != 0 {
		t.Fatalf("failed order must not commit, got %d", got.CommittedQuantity)
	}

	// With enough stock the duplicates merge into one commitment.
	if _, err := repo.AdjustMaterialStock(ctx, cell.ID, 30); err != nil {
		t.Fatalf("restock: %v", err)
	}
	order, err := svc.CreateProductionOrder(ctx, domain.ProductionOrderCreateRequest{
		BOMID:            bom.ID,
		QuantityProduced: 10,
	})
	if err != nil {
		t.Fatalf("create production order: %v", err)
	}
	if len(order.CommittedMaterials) != 1 || order.CommittedMaterials[0].Quantity != 120 {
		t.Fatalf("expected single merged commitment of 120, got %+v", order.CommittedMaterials)
	}

	got, _ = repo.GetMaterial(ctx, cell.ID)
	if got.CommittedQuantity != 120 {
		t.Fatalf("expected committed 120, got %d", got.CommittedQuantity)
	}
}

func TestCreateProductionOrderAggregatesShortages(t *testing.T) {
	repo := memory.New()
	svc := newTestService(repo)
	ctx := adminCtx()

	cell := seedMaterial(t, repo, "Cell Pin", 5, 25000)
	bms := seedMaterial(t, repo, "Mạch BMS", 100, 35000)
	niken := seedMaterial(t, repo, "Kẽm Niken", 3, 8000)
	bom := seedBOM(t, repo, "TP-TEST", []domain.BOMLine{
		{MaterialID: cell.ID, Quantity: 2},
		{MaterialID: bms.ID, Quantity: 1},
		{MaterialID: niken.ID, Quantity: 1},
	})

	_, err := svc.CreateProductionOrder(ctx, domain.ProductionOrderCreateRequest{
		BOMID:            bom.ID,
		QuantityProduced: 10,
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	if !strings.Contains(err.Error(), "cần 20, có 5") || !strings.Contains(err.Error(), "cần 10, có 3") {
		t.Fatalf("expected aggregated shortages per material, got %q", err.Error())
	}

	// The failed order must not leave partial commitments behind.
	for _, id := range []string{cell.ID, bms.ID, niken.ID} {
		got, err := repo.GetMaterial(ctx, id)
		if err != nil {
			t.Fatalf("get material: %v", err)
		}
		if got.CommittedQuantity != 0 {
			t.Fatalf("material %s has stray commitment %d", id, got.CommittedQuantity)
		}
	}
}

func TestCancelProductionOrderReleasesCommitments(t *testing.T) {
	repo := memory.New()
	svc := newTestService(repo)
	ctx := adminCtx()

	cell := seedMaterial(t, repo, "Cell Pin", 50, 25000)
	bom := seedBOM(t, repo, "TP-TEST", []domain.BOMLine{{MaterialID: cell.ID, Quantity: 3}})

	order, err := svc.CreateProductionOrder(ctx, domain.ProductionOrderCreateRequest{BOMID: bom.ID, QuantityProduced: 5})
	if err != nil {
		t.Fatalf("create production order: %v", err)
	}

	cancelled, err := svc.SetProductionOrderStatus(ctx, order.ID, domain.OrderStatusCancelled)
	if err != nil {
		t.Fatalf("cancel order: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	got, err := repo.GetMaterial(ctx, cell.ID)
	if err != nil {
		t.Fatalf("get material: %v", err)
	}
	if got.Stock != 50 || got.CommittedQuantity != 0 {
		t.Fatalf("cancel must release commitment without moving stock, got stock=%d committed=%d", got.Stock, got.CommittedQuantity)
	}

	if _, err := svc.SetProductionOrderStatus(ctx, order.ID, domain.OrderStatusCancelled); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected invalid transition from cancelled, got %v", err)
	}
}

func TestCompleteProductionOrderMovesStock(t *testing.T) {
	repo := memory.New()
	svc := newTestService(repo)
	ctx := adminCtx()

	cell := seedMaterial(t, repo, "Cell Pin", 100, 25000)
	bom := seedBOM(t, repo, "TP-TEST", []domain.BOMLine{{MaterialID: cell.ID, Quantity: 2}})

	order, err := svc.CreateProductionOrder(ctx, domain.ProductionOrderCreateRequest{BOMID: bom.ID, QuantityProduced: 10})
	if err != nil {
		t.Fatalf("create production order: %v", err)
	}

	if _, err := svc.CompleteProductionOrder(ctx, order.ID, nil); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("completion from pending must be rejected, got %v", err)
	}

	if _, err := svc.SetProductionOrderStatus(ctx, order.ID, domain.OrderStatusInProduction); err != nil {
		t.Fatalf("start production: %v", err)
	}

	completed, err := svc.CompleteProductionOrder(ctx, order.ID, nil)
	if err != nil {
		t.Fatalf("complete order: %v", err)
	}
	if completed.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected completed, got %s", completed.Status)
	}

	got, err := repo.GetMaterial(ctx, cell.ID)
	if err != nil {
		t.Fatalf("get material: %v", err)
	}
	if got.Stock != 80 || got.CommittedQuantity != 0 {
		t.Fatalf("expected stock=80 committed=0, got stock=%d committed=%d", got.Stock, got.CommittedQuantity)
	}

	product, err := repo.FindProductBySKU(ctx, "TP-TEST")
	if err != nil {
		t.Fatalf("finished product missing: %v", err)
	}
	if product.Stock != 10 {
		t.Fatalf("expected finished stock 10, got %d", product.Stock)
	}
}

func TestCompleteProductionOrderRecordsCostAnalysis(t *testing.T) {
	repo := memory.New()
	svc := newTestService(repo)
	ctx := adminCtx()

	cell := seedMaterial(t, repo, "Cell Pin", 100, 25000)
	bom := seedBOM(t, repo, "TP-TEST", []domain.BOMLine{{MaterialID: cell.ID, Quantity: 2}})

	order, err := svc.CreateProductionOrder(ctx, domain.ProductionOrderCreateRequest{
		BOMID:            bom.ID,
		QuantityProduced: 10,
		AdditionalCosts:  []domain.AdditionalCost{{Label: "điện", Amount: 50000}},
	})
	if err != nil {
		t.Fatalf("create production order: %v", err)
	}
	if _, err := svc.SetProductionOrderStatus(ctx, order.ID, domain.OrderStatusInProduction); err != nil {
		t.Fatalf("start production: %v", err)
	}

	completed, err := svc.CompleteProductionOrder(ctx, order.ID, &domain.ActualCosts{
		Materials: []domain.ActualCostLine{
			{MaterialID: cell.ID, ActualCost: 550000, ActualQuantityUsed: 21},
		},
		AdditionalCosts: []domain.AdditionalCost{{Label: "điện", Amount: 60000}},
	})
	if err != nil {
		t.Fatalf("complete order: %v", err)
	}
	if completed.CostAnalysis == nil {
		t.Fatalf("expected cost analysis to be recorded")
	}

	analysis := completed.CostAnalysis
	if analysis.EstimatedTotal != 550000 {
		t.Fatalf("expected estimated total 550000, got %d", analysis.EstimatedTotal)
	}
	if analysis.ActualTotal != 610000 {
		t.Fatalf("expected actual total 610000, got %d", analysis.ActualTotal)
	}
	if analysis.Variance != 60000 {
		t.Fatalf("expected variance 60000, got %d", analysis.Variance)
	}

	// Informational only: the analysis must not have moved extra stock.
	got, err := repo.GetMaterial(ctx, cell.ID)
	if err != nil {
		t.Fatalf("get material: %v", err)
	}
	if got.Stock != 80 {
		t.Fatalf("cost analysis moved stock: %d", got.Stock)
	}
}

func TestCommitmentConservation(t *testing.T) {
	repo := memory.New()
	svc := newTestService(repo)
	ctx := adminCtx()

	cell := seedMaterial(t, repo, "Cell Pin", 100, 25000)
	bom := seedBOM(t, repo, "TP-TEST", []domain.BOMLine{{MaterialID: cell.ID, Quantity: 2}})

	first, err := svc.CreateProductionOrder(ctx, domain.ProductionOrderCreateRequest{BOMID: bom.ID, QuantityProduced: 5})
	if err != nil {
		t.Fatalf("create first order: %v", err)
	}
	if _, err := svc.CreateProductionOrder(ctx, domain.ProductionOrderCreateRequest{BOMID: bom.ID, QuantityProduced: 10}); err != nil {
		t.Fatalf("create second order: %v", err)
	}

	drifts, err := svc.ReconcileCommitments(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(drifts) != 0 {
		t.Fatalf("expected no drift with two open orders, got %+v", drifts)
	}

	if _, err := svc.SetProductionOrderStatus(ctx, first.ID, domain.OrderStatusCancelled); err != nil {
		t.Fatalf("cancel first order: %v", err)
	}

	drifts, err = svc.ReconcileCommitments(ctx)
	if err != nil {
		t.Fatalf("reconcile after cancel: %v", err)
	}
	if len(drifts) != 0 {
		t.Fatalf("expected no drift after cancel, got %+v", drifts)
	}
}

func TestCreateBOMRejectsUnknownMaterial(t *testing.T) {
	repo := memory.New()
	svc := newTestService(repo)

	_, err := svc.CreateBOM(adminCtx(), domain.BOMCreateRequest{
		ProductName: "Pin Khối Test",
		Materials:   []domain.BOMLine{{MaterialID: "mat-missing", Quantity: 1}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown material, got %v", err)
	}
}
