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
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/xid"
)

const saleCodeAttempts = 3

// CreateSale records the sale first, then moves stock, then syncs the cash
// ledger. The sale row is the source of truth; stock lines that cannot cover
// the sold quantity are drained to zero with a warning rather than blocking
// the counter.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	if len(req.Items) == 0 {
		return domain.Sale{}, fmt.Errorf("%w: hóa đơn không có dòng hàng", store.ErrInvalid)
	}

	var subtotal int64
	for _, item := range req.Items {
		if item.Quantity < 1 || item.UnitPrice < 0 {
			return domain.Sale{}, store.ErrInvalid
		}
		if item.Type != domain.SaleItemProduct && item.Type != domain.SaleItemMaterial {
			return domain.Sale{}, fmt.Errorf("%w: loại dòng hàng %q", store.ErrInvalid, item.Type)
		}
		subtotal += item.UnitPrice * int64(item.Quantity)
	}
	if req.Discount < 0 || req.Discount > subtotal {
		return domain.Sale{}, fmt.Errorf("%w: chiết khấu không hợp lệ", store.ErrInvalid)
	}

	total := subtotal - req.Discount
	paid := req.PaidAmount
	if paid < 0 {
		return domain.Sale{}, store.ErrInvalid
	}
	if paid > total {
		paid = total
	}

	now := time.Now().UTC()
	sale := domain.Sale{
		Date:          now,
		Items:         req.Items,
		Subtotal:      subtotal,
		Discount:      req.Discount,
		Total:         total,
		Customer:      strings.TrimSpace(req.Customer),
		PaymentMethod: req.PaymentMethod,
		PaymentStatus: derivePaymentStatus(paid, total),
		PaidAmount:    paid,
		DueDate:       req.DueDate,
		CreatedAt:     now,
	}

	created, err := s.createSaleWithCode(ctx, sale, now)
	if err != nil {
		return domain.Sale{}, err
	}

	s.deductSaleStock(ctx, *created)

	if created.PaidAmount > 0 {
		s.syncSaleLedger(ctx, *created)
	}

	s.logAudit(ctx, "sale_create", "sale", created.ID, fmt.Sprintf("code=%s,total=%d,status=%s", created.Code, created.Total, created.PaymentStatus))
	s.invalidateAlerts(ctx)
	s.emit(ctx, "Bán hàng", fmt.Sprintf("Đã tạo hóa đơn %s (%d đ)", created.Code, created.Total), "success")
	return *created, nil
}

// createSaleWithCode allocates a per-day sequence and retries a bounded
// number of times when two sessions land on the same code.
func (s *Service) createSaleWithCode(ctx context.Context, sale domain.Sale, day time.Time) (*domain.Sale, error) {
	var lastErr error
	for attempt := 0; attempt < saleCodeAttempts; attempt++ {
		seq, err := s.repo.NextSaleSequence(ctx, s.salePrefix, day)
		if err != nil {
			return nil, err
		}
		sale.Code = fmt.Sprintf("%s%s-%04d", s.salePrefix, day.Format("20060102"), seq)
		sale.ID = ""

		created, err := s.repo.CreateSale(ctx, sale)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("allocate sale code after %d attempts: %w", saleCodeAttempts, lastErr)
}

func (s *Service) deductSaleStock(ctx context.Context, sale domain.Sale) {
	for _, item := range sale.Items {
		adjust := s.repo.AdjustMaterialStock
		if item.Type == domain.SaleItemProduct {
			adjust = s.repo.AdjustProductStock
		}

		_, err := adjust(ctx, item.ItemID, -item.Quantity)
		if err == nil {
			continue
		}
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("[service] WARN: sale %s references missing %s %s", sale.ID, item.Type, item.ItemID)
			s.emit(ctx, "Cảnh báo kho", fmt.Sprintf("Không tìm thấy %s trong kho, bỏ qua trừ tồn", item.Name), "warning")
			continue
		}
		if !errors.Is(err, store.ErrInsufficientStock) {
			log.Printf("[service] WARN: sale %s failed to deduct %s %s: %v", sale.ID, item.Type, item.ItemID, err)
			continue
		}

		remaining := s.drainRemainingStock(ctx, item)
		log.Printf("[service] WARN: sale %s drained %s %s to zero (wanted %d, had %d)", sale.ID, item.Type, item.ItemID, item.Quantity, remaining)
		s.emit(ctx, "Cảnh báo kho", fmt.Sprintf("%s chỉ còn %d khi bán %d, tồn kho đã về 0", item.Name, remaining, item.Quantity), "warning")
	}
}

func (s *Service) drainRemainingStock(ctx context.Context, item domain.SaleItem) int {
	if item.Type == domain.SaleItemProduct {
		product, err := s.repo.GetProduct(ctx, item.ItemID)
		if err != nil {
			return 0
		}
		if product.Stock > 0 {
			_, _ = s.repo.AdjustProductStock(ctx, item.ItemID, -product.Stock)
		}
		return product.Stock
	}

	material, err := s.repo.GetMaterial(ctx, item.ItemID)
	if err != nil {
		return 0
	}
	if material.Stock > 0 {
		_, _ = s.repo.AdjustMaterialStock(ctx, item.ItemID, -material.Stock)
	}
	return material.Stock
}

// syncSaleLedger upserts the sale's single income entry under its
// deterministic id, so replays update amount in place.
func (s *Service) syncSaleLedger(ctx context.Context, sale domain.Sale) {
	_, err := s.repo.UpsertCashTransaction(ctx, domain.CashTransaction{
		ID:       xid.Derived("ct", sale.ID, "sale"),
		Type:     domain.CashTypeIncome,
		Date:     sale.Date,
		Amount:   sale.PaidAmount,
		Contact:  sale.Customer,
		SaleID:   sale.ID,
		Category: "sale",
		Notes:    fmt.Sprintf("Thu tiền hóa đơn %s", sale.Code),
	})
	if err != nil {
		log.Printf("[service] WARN: failed to sync ledger for sale %s: %v", sale.ID, err)
		s.emit(ctx, "Sổ quỹ", fmt.Sprintf("Chưa ghi được sổ quỹ cho hóa đơn %s", sale.Code), "warning")
	}
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, limit)
}

// ListReceivables returns sales still carrying debt, oldest due first.
func (s *Service) ListReceivables(ctx context.Context) ([]domain.Sale, error) {
	return s.repo.ListDebtSales(ctx)
}

// UpdateSalePayment settles (part of) a receivable. Paid amount only moves
// up; the ledger entry is re-upserted with the new cumulative amount.
func (s *Service) UpdateSalePayment(ctx context.Context, id string, req domain.SalePaymentUpdateRequest) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}

	if req.PaidAmount < sale.PaidAmount {
		return domain.Sale{}, fmt.Errorf("%w: số tiền đã thu không được giảm", store.ErrInvalid)
	}
	paid := req.PaidAmount
	if paid > sale.Total {
		paid = sale.Total
	}

	sale.PaidAmount = paid
	sale.PaymentStatus = derivePaymentStatus(paid, sale.Total)
	if req.PaymentStatus != "" && req.PaymentStatus != sale.PaymentStatus {
		return domain.Sale{}, fmt.Errorf("%w: trạng thái %q không khớp số tiền đã thu", store.ErrInvalid, req.PaymentStatus)
	}

	updated, err := s.repo.UpdateSale(ctx, *sale)
	if err != nil {
		return domain.Sale{}, err
	}

	if updated.PaidAmount > 0 {
		s.syncSaleLedger(ctx, *updated)
	}

	s.logAudit(ctx, "sale_payment_update", "sale", id, fmt.Sprintf("paid=%d,status=%s", updated.PaidAmount, updated.PaymentStatus))
	if updated.PaymentStatus == domain.PaymentStatusPaid {
		s.emit(ctx, "Công nợ", fmt.Sprintf("Hóa đơn %s đã thanh toán đủ", updated.Code), "success")
	}
	return *updated, nil
}

// DeleteSale voids a sale: stock comes back, linked ledger entries go away,
// then the sale row is removed. Restock failures degrade to warnings so a
// half-missing catalog cannot wedge the void.
func (s *Service) DeleteSale(ctx context.Context, id string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}

	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return err
	}

	for _, item := range sale.Items {
		adjust := s.repo.AdjustMaterialStock
		if item.Type == domain.SaleItemProduct {
			adjust = s.repo.AdjustProductStock
		}
		if _, err := adjust(ctx, item.ItemID, item.Quantity); err != nil {
			log.Printf("[service] WARN: void of sale %s could not restock %s %s: %v", id, item.Type, item.ItemID, err)
		}
	}

	removed, err := s.repo.DeleteCashTransactions(ctx, domain.CashTransactionFilter{SaleID: id})
	if err != nil {
		log.Printf("[service] WARN: void of sale %s could not clear ledger: %v", id, err)
	}

	if err := s.repo.DeleteSale(ctx, id); err != nil {
		return err
	}

	s.logAudit(ctx, "sale_delete", "sale", id, fmt.Sprintf("code=%s,ledger_removed=%d", sale.Code, removed))
	s.invalidateAlerts(ctx)
	s.emit(ctx, "Bán hàng", fmt.Sprintf("Đã hủy hóa đơn %s, tồn kho được hoàn lại", sale.Code), "info")
	return nil
}

func derivePaymentStatus(paid int64, total int64) string {
	switch {
	case paid >= total:
		return domain.PaymentStatusPaid
	case paid > 0:
		return domain.PaymentStatusPartial
	default:
		return domain.PaymentStatusDebt
	}
}
