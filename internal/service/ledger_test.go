package service

import (
	"errors"
	"testing"

	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/domain"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/store"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/store/memory"
)

func TestManualCashTransactionValidation(t *testing.T) {
	svc := newTestService(memory.New())
	ctx := adminCtx()

	if _, err := svc.CreateCashTransaction(ctx, domain.CashTransaction{Type: "transfer", Amount: 100}); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected invalid type rejected, got %v", err)
	}
	if _, err := svc.CreateCashTransaction(ctx, domain.CashTransaction{Type: domain.CashTypeExpense, Amount: 0}); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected zero amount rejected, got %v", err)
	}
	if _, err := svc.CreateCashTransaction(ctx, domain.CashTransaction{Type: domain.CashTypeIncome, Amount: 100, SaleID: "sale-1"}); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected linked entry rejected on manual path, got %v", err)
	}

	created, err := svc.CreateCashTransaction(ctx, domain.CashTransaction{
		Type:    domain.CashTypeExpense,
		Amount:  1500000,
		Contact: "Chủ nhà",
		Notes:   "Tiền thuê mặt bằng",
	})
	if err != nil {
		t.Fatalf("create manual entry: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected generated id")
	}
}

func TestCashSummaryBalances(t *testing.T) {
	svc := newTestService(memory.New())
	ctx := adminCtx()

	if _, err := svc.CreateCashTransaction(ctx, domain.CashTransaction{Type: domain.CashTypeIncome, Amount: 900000, Contact: "Khách lẻ"}); err != nil {
		t.Fatalf("income entry: %v", err)
	}
	if _, err := svc.CreateCashTransaction(ctx, domain.CashTransaction{Type: domain.CashTypeExpense, Amount: 250000, Contact: "Nhà cung cấp"}); err != nil {
		t.Fatalf("expense entry: %v", err)
	}

	summary, err := svc.CashSummary(ctx)
	if err != nil {
		t.Fatalf("cash summary: %v", err)
	}
	if summary.Income != 900000 || summary.Expense != 250000 || summary.Balance != 650000 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestDeleteCashTransactionRequiresAdmin(t *testing.T) {
	svc := newTestService(memory.New())
	ctx := adminCtx()

	created, err := svc.CreateCashTransaction(ctx, domain.CashTransaction{Type: domain.CashTypeIncome, Amount: 100000})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}

	staffCtx := WithActor(ctx, domain.Actor{Username: "staff", Role: "staff"})
	if err := svc.DeleteCashTransaction(staffCtx, created.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	if err := svc.DeleteCashTransaction(ctx, created.ID); err != nil {
		t.Fatalf("delete entry: %v", err)
	}
	if err := svc.DeleteCashTransaction(ctx, created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found on repeat delete, got %v", err)
	}
}
