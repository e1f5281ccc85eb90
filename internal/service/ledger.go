package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/domain"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/store"
)

func (s *Service) ListCashTransactions(ctx context.Context, filter domain.CashTransactionFilter, limit int) ([]domain.CashTransaction, error) {
	return s.repo.ListCashTransactions(ctx, filter, limit)
}

// CreateCashTransaction records a manual ledger entry (rent, utilities, cash
// injections). Entries derived from sales and repairs are written by their
// own flows and never through here.
func (s *Service) CreateCashTransaction(ctx context.Context, entry domain.CashTransaction) (domain.CashTransaction, error) {
	if entry.Type != domain.CashTypeIncome && entry.Type != domain.CashTypeExpense {
		return domain.CashTransaction{}, fmt.Errorf("%w: loại phiếu %q", store.ErrInvalid, entry.Type)
	}
	if entry.Amount < 1 {
		return domain.CashTransaction{}, fmt.Errorf("%w: số tiền phải lớn hơn 0", store.ErrInvalid)
	}
	if entry.SaleID != "" || entry.WorkOrderID != "" {
		return domain.CashTransaction{}, fmt.Errorf("%w: phiếu thủ công không gắn với hóa đơn hay phiếu sửa chữa", store.ErrInvalid)
	}

	entry.ID = ""
	entry.Contact = strings.TrimSpace(entry.Contact)

	created, err := s.repo.UpsertCashTransaction(ctx, entry)
	if err != nil {
		return domain.CashTransaction{}, err
	}

	s.logAudit(ctx, "cash_transaction_create", "cash_transaction", created.ID, fmt.Sprintf("type=%s,amount=%d", created.Type, created.Amount))
	return *created, nil
}

func (s *Service) DeleteCashTransaction(ctx context.Context, id string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}

	removed, err := s.repo.DeleteCashTransactions(ctx, domain.CashTransactionFilter{ID: id})
	if err != nil {
		return err
	}
	if removed == 0 {
		return store.ErrNotFound
	}

	s.logAudit(ctx, "cash_transaction_delete", "cash_transaction", id, "")
	return nil
}

func (s *Service) CashSummary(ctx context.Context) (domain.CashSummary, error) {
	entries, err := s.repo.ListCashTransactions(ctx, domain.CashTransactionFilter{}, 10000)
	if err != nil {
		return domain.CashSummary{}, err
	}

	var summary domain.CashSummary
	for _, entry := range entries {
		switch entry.Type {
		case domain.CashTypeIncome:
			summary.Income += entry.Amount
		case domain.CashTypeExpense:
			summary.Expense += entry.Amount
		}
	}
	summary.Balance = summary.Income - summary.Expense
	return summary, nil
}
