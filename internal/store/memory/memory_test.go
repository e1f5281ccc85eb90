package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/domain"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/store"
)

func TestAdjustMaterialStockNeverGoesNegative(t *testing.T) {
	s := New()
	ctx := context.Background()

	material, err := s.CreateMaterial(ctx, domain.Material{Name: "Cell Pin", Stock: 5})
	if err != nil {
		t.Fatalf("create material: %v", err)
	}

	next, err := s.AdjustMaterialStock(ctx, material.ID, -3)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if next != 2 {
		t.Fatalf("expected 2, got %d", next)
	}

	if _, err := s.AdjustMaterialStock(ctx, material.ID, -3); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	got, _ := s.GetMaterial(ctx, material.ID)
	if got.Stock != 2 {
		t.Fatalf("failed adjust must not change stock, got %d", got.Stock)
	}

	if _, err := s.AdjustMaterialStock(ctx, "mat-missing", 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAdjustMaterialStockConcurrent(t *testing.T) {
	s := New()
	ctx := context.Background()

	material, err := s.CreateMaterial(ctx, domain.Material{Name: "Cell Pin", Stock: 10})
	if err != nil {
		t.Fatalf("create material: %v", err)
	}

	var wg sync.WaitGroup
	successes := make(chan struct{}, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AdjustMaterialStock(ctx, material.ID, -1); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	won := 0
	for range successes {
		won++
	}
	if won != 10 {
		t.Fatalf("expected exactly 10 successful decrements, got %d", won)
	}
	got, _ := s.GetMaterial(ctx, material.ID)
	if got.Stock != 0 {
		t.Fatalf("expected stock 0, got %d", got.Stock)
	}
}

func TestCreateProductionOrderAllOrNothing(t *testing.T) {
	s := New()
	ctx := context.Background()

	a, _ := s.CreateMaterial(ctx, domain.Material{Name: "A", Stock: 10})
	b, _ := s.CreateMaterial(ctx, domain.Material{Name: "B", Stock: 2})

	_, err := s.CreateProductionOrder(ctx, domain.ProductionOrder{
		QuantityProduced: 1,
		CommittedMaterials: []domain.MaterialCommitment{
			{MaterialID: a.ID, Quantity: 5},
			{MaterialID: b.ID, Quantity: 5},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	gotA, _ := s.GetMaterial(ctx, a.ID)
	if gotA.CommittedQuantity != 0 {
		t.Fatalf("failed order must not commit anything, got %d", gotA.CommittedQuantity)
	}
}

func TestCreateProductionOrderAccumulatesDuplicateLines(t *testing.T) {
	s := New()
	ctx := context.Background()

	material, _ := s.CreateMaterial(ctx, domain.Material{Name: "Cell Pin", Stock: 100})

	// Two lines of 60 against stock 100 must fail together, not pass one at
	// a time.
	_, err := s.CreateProductionOrder(ctx, domain.ProductionOrder{
		QuantityProduced: 1,
		CommittedMaterials: []domain.MaterialCommitment{
			{MaterialID: material.ID, Quantity: 60},
			{MaterialID: material.ID, Quantity: 60},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock for duplicate lines, got %v", err)
	}

	got, _ := s.GetMaterial(ctx, material.ID)
	if got.CommittedQuantity != 0 {
		t.Fatalf("failed order must not commit, got %d", got.CommittedQuantity)
	}
}

func TestReleaseProductionCommitmentsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	material, _ := s.CreateMaterial(ctx, domain.Material{Name: "A", Stock: 10})
	order, err := s.CreateProductionOrder(ctx, domain.ProductionOrder{
		QuantityProduced: 1,
		CommittedMaterials: []domain.MaterialCommitment{
			{MaterialID: material.ID, Quantity: 4},
		},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.ReleaseProductionCommitments(ctx, order.ID); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}

	got, _ := s.GetMaterial(ctx, material.ID)
	if got.CommittedQuantity != 0 {
		t.Fatalf("expected committed 0, got %d", got.CommittedQuantity)
	}
	if got.Stock != 10 {
		t.Fatalf("release must not move stock, got %d", got.Stock)
	}
}

func TestMaterialsDeductedLockSingleWinner(t *testing.T) {
	s := New()
	ctx := context.Background()

	order, err := s.CreateRepairOrder(ctx, domain.RepairOrder{
		CustomerName: "Anh Minh",
		DeviceName:   "Pin 36V",
	})
	if err != nil {
		t.Fatalf("create repair order: %v", err)
	}

	var wg sync.WaitGroup
	wins := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.AcquireMaterialsDeductedLock(ctx, order.ID, time.Now().UTC())
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one lock winner, got %d", won)
	}

	if err := s.ReleaseMaterialsDeductedLock(ctx, order.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err := s.AcquireMaterialsDeductedLock(ctx, order.ID, time.Now().UTC())
	if err != nil || !ok {
		t.Fatalf("expected reacquire after release, ok=%v err=%v", ok, err)
	}
}

func TestUpdateRepairOrderPreservesLockFields(t *testing.T) {
	s := New()
	ctx := context.Background()

	order, _ := s.CreateRepairOrder(ctx, domain.RepairOrder{CustomerName: "Anh Minh", DeviceName: "Pin 36V"})
	if _, err := s.AcquireMaterialsDeductedLock(ctx, order.ID, time.Now().UTC()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	edited := *order
	edited.Status = domain.RepairStatusCompleted
	edited.MaterialsDeducted = false
	edited.MaterialsDeductedAt = nil

	updated, err := s.UpdateRepairOrder(ctx, edited)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.MaterialsDeducted || updated.MaterialsDeductedAt == nil {
		t.Fatalf("plain updates must not clear the deduction lock")
	}
}

func TestNextSaleSequenceIsPerPrefixAndDay(t *testing.T) {
	s := New()
	ctx := context.Background()

	today := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	tomorrow := today.Add(24 * time.Hour)

	for want := 1; want <= 3; want++ {
		seq, err := s.NextSaleSequence(ctx, "PS", today)
		if err != nil {
			t.Fatalf("sequence: %v", err)
		}
		if seq != want {
			t.Fatalf("expected %d, got %d", want, seq)
		}
	}

	seq, _ := s.NextSaleSequence(ctx, "PS", tomorrow)
	if seq != 1 {
		t.Fatalf("expected day rollover to restart at 1, got %d", seq)
	}
	seq, _ = s.NextSaleSequence(ctx, "HD", today)
	if seq != 1 {
		t.Fatalf("expected independent prefix counter, got %d", seq)
	}
}

func TestCreateSaleRejectsDuplicateCode(t *testing.T) {
	s := New()
	ctx := context.Background()

	sale := domain.Sale{
		Code:  "PS20260831-0001",
		Items: []domain.SaleItem{{ItemID: "x", Type: domain.SaleItemProduct, Quantity: 1}},
	}
	if _, err := s.CreateSale(ctx, sale); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := s.CreateSale(ctx, sale); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on duplicate code, got %v", err)
	}
}

func TestDeleteCashTransactionsFilter(t *testing.T) {
	s := New()
	ctx := context.Background()

	entries := []domain.CashTransaction{
		{ID: "ct-1", Type: domain.CashTypeIncome, Amount: 100, SaleID: "sale-1"},
		{ID: "ct-2", Type: domain.CashTypeIncome, Amount: 200, SaleID: "sale-1"},
		{ID: "ct-3", Type: domain.CashTypeIncome, Amount: 300, WorkOrderID: "ro-1"},
		{ID: "ct-4", Type: domain.CashTypeExpense, Amount: 400},
	}
	for _, entry := range entries {
		if _, err := s.UpsertCashTransaction(ctx, entry); err != nil {
			t.Fatalf("seed entry %s: %v", entry.ID, err)
		}
	}

	if _, err := s.DeleteCashTransactions(ctx, domain.CashTransactionFilter{}); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("empty filter must be rejected, got %v", err)
	}

	removed, err := s.DeleteCashTransactions(ctx, domain.CashTransactionFilter{SaleID: "sale-1"})
	if err != nil {
		t.Fatalf("delete by sale: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}

	remaining, err := s.ListCashTransactions(ctx, domain.CashTransactionFilter{}, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining, got %d", len(remaining))
	}
}

func TestUpsertCashTransactionRevisesInPlace(t *testing.T) {
	s := New()
	ctx := context.Background()

	entry := domain.CashTransaction{ID: "ct-sale-1-sale", Type: domain.CashTypeIncome, Amount: 100, SaleID: "sale-1"}
	if _, err := s.UpsertCashTransaction(ctx, entry); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	entry.Amount = 250
	if _, err := s.UpsertCashTransaction(ctx, entry); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.ListCashTransactions(ctx, domain.CashTransactionFilter{ID: entry.ID}, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Amount != 250 {
		t.Fatalf("expected single revised entry, got %+v", got)
	}
}

func TestSeededStoreHasConsistentBOM(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	boms, err := s.ListBOMs(ctx)
	if err != nil {
		t.Fatalf("list boms: %v", err)
	}
	if len(boms) == 0 {
		t.Fatalf("expected seeded bom")
	}
	for _, bom := range boms {
		for _, line := range bom.Materials {
			if _, err := s.GetMaterial(ctx, line.MaterialID); err != nil {
				t.Fatalf("seed bom references missing material %s: %v", line.MaterialID, err)
			}
		}
	}
}
