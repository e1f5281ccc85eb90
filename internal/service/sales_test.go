package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/domain"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/store"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/store/memory"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/xid"
)

func seedProduct(t *testing.T, repo store.Repository, name string, stock int, price int64) *domain.Product {
	t.Helper()
	product, err := repo.CreateProduct(context.Background(), domain.Product{
		Name:        name,
		Stock:       stock,
		RetailPrice: price,
	})
	if err != nil {
		t.Fatalf("seed product %s: %v", name, err)
	}
	return product
}

func TestCreateSaleDeductsStockAndWritesLedger(t *testing.T) {
	repo := memory.New()
	svc := newTestService(repo)
	ctx := adminCtx()

	product := seedProduct(t, repo, "Pin Khối 12V", 10, 550000)
	material := seedMaterial(t, repo, "Dây Điện", 50, 3000)

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items: []domain.SaleItem{
			{ItemID: product.ID, Type: domain.SaleItemProduct, Name: product.Name, Quantity: 2, UnitPrice: 550000},
			{ItemID: material.ID, Type: domain.SaleItemMaterial, Name: material.Name, Quantity: 5, UnitPrice: 5000},
		},
		Customer:      "Anh Tuấn",
		PaymentMethod: "cash",
		PaidAmount:    1125000,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	if sale.Total != 1125000 {
		t.Fatalf("expected total 1125000, got %d", sale.Total)
	}
	if sale.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid status, got %s", sale.PaymentStatus)
	}

	wantCode := fmt.Sprintf("PS%s-0001", time.Now().UTC().Format("20060102"))
	if sale.Code != wantCode {
		t.Fatalf("expected code %s, got %s", wantCode, sale.Code)
	}

	gotProduct, _ := repo.GetProduct(ctx, product.ID)
	if gotProduct.Stock != 8 {
		t.Fatalf("expected product stock 8, got %d", gotProduct.Stock)
	}
	gotMaterial, _ := repo.GetMaterial(ctx, material.ID)
	if gotMaterial.Stock != 45 {
		t.Fatalf("expected material stock 45, got %d", gotMaterial.Stock)
	}

	entries, err := repo.ListCashTransactions(ctx, domain.CashTransactionFilter{SaleID: sale.ID}, 10)
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(entries))
	}
	if entries[0].ID != xid.Derived("ct", sale.ID, "sale") {
		t.Fatalf("ledger entry must use deterministic id, got %s", entries[0].ID)
	}
	if entries[0].Type != domain.CashTypeIncome || entries[0].Amount != 1125000 {
		t.Fatalf("unexpected ledger entry %+v", entries[0])
	}
}

func TestCreateSaleDrainsShortLineToZero(t *testing.T) {
	repo := memory.New()
	svc := newTestService(repo)
	ctx := adminCtx()

	product := seedProduct(t, repo, "Pin Khối 12V", 3, 550000)

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items:      []domain.SaleItem{{ItemID: product.ID, Type: domain.SaleItemProduct, Name: product.Name, Quantity: 5, UnitPrice: 550000}},
		PaidAmount: 2750000,
	})
	if err != nil {
		t.Fatalf("an oversold line must not block the sale: %v", err)
	}
	if sale.ID == "" {
		t.Fatalf("expected persisted sale")
	}

	got, _ := repo.GetProduct(ctx, product.ID)
	if got.Stock != 0 {
		t.Fatalf("expected drained stock 0, got %d", got.Stock)
	}
}

func TestSaleCodesUniqueUnderConcurrency(t *testing.T) {
	repo := memory.New()
	svc := newTestService(repo)
	ctx := adminCtx()

	product := seedProduct(t, repo, "Pin Khối 12V", 1000, 550000)

	const sessions = 20
	var wg sync.WaitGroup
	codes := make(chan string, sessions)
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
				Items:      []domain.SaleItem{{ItemID: product.ID, Type: domain.SaleItemProduct, Name: product.Name, Quantity: 1, UnitPrice: 550000}},
				PaidAmount: 550000,
			})
			if err != nil {
				t.Errorf("concurrent sale failed: %v", err)
				return
			}
			codes <- sale.Code
		}()
	}
	wg.Wait()
	close(codes)

	seen := make(map[string]bool, sessions)
	for code := range codes {
		if seen[code] {
			t.Fatalf("duplicate sale code %s", code)
		}
		seen[code] = true
	}
	if len(seen) != sessions {
		t.Fatalf("expected %d unique codes, got %d", sessions, len(seen))
	}
}

func TestUpdateSalePaymentSettlesDebt(t *testing.T) {
	repo := memory.New()
	svc := newTestService(repo)
	ctx := adminCtx()

	product := seedProduct(t, repo, "Pin Khối 12V", 10, 550000)

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items:    []domain.SaleItem{{ItemID: product.ID, Type: domain.SaleItemProduct, Name: product.Name, Quantity: 1, UnitPrice: 550000}},
		Customer: "Chị Hoa",
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if sale.PaymentStatus != domain.PaymentStatusDebt {
		t.Fatalf("expected debt status, got %s", sale.PaymentStatus)
	}

	receivables, err := svc.ListReceivables(ctx)
	if err != nil {
		t.Fatalf("list receivables: %v", err)
	}
	if len(receivables) != 1 || receivables[0].ID != sale.ID {
		t.Fatalf("expected sale in receivables, got %+v", receivables)
	}

	partial, err := svc.UpdateSalePayment(ctx, sale.ID, domain.SalePaymentUpdateRequest{PaidAmount: 200000})
	if err != nil {
		t.Fatalf("partial settle: %v", err)
	}
	if partial.PaymentStatus != domain.PaymentStatusPartial {
		t.Fatalf("expected partial, got %s", partial.PaymentStatus)
	}

	if _, err := svc.UpdateSalePayment(ctx, sale.ID, domain.SalePaymentUpdateRequest{PaidAmount: 100000}); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("paid amount must not decrease, got %v", err)
	}

	settled, err := svc.UpdateSalePayment(ctx, sale.ID, domain.SalePaymentUpdateRequest{PaidAmount: 550000})
	if err != nil {
		t.Fatalf("full settle: %v", err)
	}
	if settled.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid, got %s", settled.PaymentStatus)
	}

	// Repeated settlements revise the single ledger entry in place.
	entries, err := repo.ListCashTransactions(ctx, domain.CashTransactionFilter{SaleID: sale.ID}, 10)
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one ledger entry after settlements, got %d", len(entries))
	}
	if entries[0].Amount != 550000 {
		t.Fatalf("expected revised amount 550000, got %d", entries[0].Amount)
	}
}

func TestDeleteSaleRestoresStockAndClearsLedger(t *testing.T) {
	repo := memory.New()
	svc := newTestService(repo)
	ctx := adminCtx()

	product := seedProduct(t, repo, "Pin Khối 12V", 10, 550000)

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items:      []domain.SaleItem{{ItemID: product.ID, Type: domain.SaleItemProduct, Name: product.Name, Quantity: 4, UnitPrice: 550000}},
		PaidAmount: 2200000,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	if err := svc.DeleteSale(ctx, sale.ID); err != nil {
		t.Fatalf("delete sale: %v", err)
	}

	got, _ := repo.GetProduct(ctx, product.ID)
	if got.Stock != 10 {
		t.Fatalf("expected restored stock 10, got %d", got.Stock)
	}

	entries, err := repo.ListCashTransactions(ctx, domain.CashTransactionFilter{SaleID: sale.ID}, 10)
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected ledger cleared, got %d entries", len(entries))
	}

	if _, err := svc.GetSale(ctx, sale.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected sale gone, got %v", err)
	}
}

func TestDeleteSaleRequiresAdmin(t *testing.T) {
	repo := memory.New()
	svc := newTestService(repo)

	product := seedProduct(t, repo, "Pin Khối 12V", 10, 550000)
	sale, err := svc.CreateSale(adminCtx(), domain.SaleCreateRequest{
		Items:      []domain.SaleItem{{ItemID: product.ID, Type: domain.SaleItemProduct, Name: product.Name, Quantity: 1, UnitPrice: 550000}},
		PaidAmount: 550000,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	staffCtx := WithActor(context.Background(), domain.Actor{Username: "staff", Role: "staff"})
	if err := svc.DeleteSale(staffCtx, sale.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for staff, got %v", err)
	}
}
