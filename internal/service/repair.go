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

var repairStatuses = map[string]bool{
	domain.RepairStatusReceived:        true,
	domain.RepairStatusDiagnosing:      true,
	domain.RepairStatusWaitingApproval: true,
	domain.RepairStatusRepairing:       true,
	domain.RepairStatusCompleted:       true,
	domain.RepairStatusReturned:        true,
	domain.RepairStatusCancelled:       true,
}

func isTerminalRepairStatus(status string) bool {
	return status == domain.RepairStatusReturned || status == domain.RepairStatusCancelled
}

// isPaymentOnlyPatch reports whether the patch touches nothing but payment
// fields. Only such patches may land on a returned ticket.
func isPaymentOnlyPatch(patch domain.RepairOrder) bool {
	return patch.Status == "" &&
		patch.CustomerName == "" &&
		patch.CustomerPhone == "" &&
		patch.DeviceName == "" &&
		patch.IssueDescription == "" &&
		patch.MaterialsUsed == nil &&
		patch.LaborCost == 0 &&
		patch.Total == 0 &&
		(patch.PaymentStatus != "" || patch.PartialPaymentAmount > 0)
}

func (s *Service) CreateRepairOrder(ctx context.Context, req domain.RepairOrderCreateRequest) (domain.RepairOrder, error) {
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.DeviceName = strings.TrimSpace(req.DeviceName)
	if req.CustomerName == "" || req.DeviceName == "" {
		return domain.RepairOrder{}, fmt.Errorf("%w: thiếu tên khách hàng hoặc thiết bị", store.ErrInvalid)
	}
	if req.DepositAmount < 0 {
		return domain.RepairOrder{}, store.ErrInvalid
	}

	order := domain.RepairOrder{
		CustomerName:     req.CustomerName,
		CustomerPhone:    strings.TrimSpace(req.CustomerPhone),
		DeviceName:       req.DeviceName,
		IssueDescription: strings.TrimSpace(req.IssueDescription),
		Status:           domain.RepairStatusReceived,
		PaymentStatus:    domain.PaymentStatusUnpaid,
		DepositAmount:    req.DepositAmount,
	}
	if req.DepositAmount > 0 {
		order.PaymentStatus = domain.PaymentStatusPartial
	}

	created, err := s.repo.CreateRepairOrder(ctx, order)
	if err != nil {
		return domain.RepairOrder{}, err
	}

	if created.DepositAmount > 0 {
		s.upsertRepairLedger(ctx, *created, "deposit", created.DepositAmount, fmt.Sprintf("Đặt cọc sửa chữa %s", created.DeviceName))
	}

	s.logAudit(ctx, "repair_order_create", "repair_order", created.ID, fmt.Sprintf("customer=%s,deposit=%d", created.CustomerName, created.DepositAmount))
	s.emit(ctx, "Sửa chữa", fmt.Sprintf("Đã nhận %s của %s", created.DeviceName, created.CustomerName), "success")
	return *created, nil
}

func (s *Service) GetRepairOrder(ctx context.Context, id string) (domain.RepairOrder, error) {
	order, err := s.repo.GetRepairOrder(ctx, id)
	if err != nil {
		return domain.RepairOrder{}, err
	}
	return *order, nil
}

func (s *Service) ListRepairOrders(ctx context.Context, status string, limit int) ([]domain.RepairOrder, error) {
	if status != "" && !repairStatuses[status] {
		return nil, fmt.Errorf("%w: trạng thái %q", store.ErrInvalid, status)
	}
	return s.repo.ListRepairOrders(ctx, status, limit)
}

// UpdateRepairOrder applies the edit and runs the side effects the edit
// implies: material deduction when the device goes back to the customer,
// restoration when a deducted ticket is cancelled, and ledger settlement
// when payment fields move.
func (s *Service) UpdateRepairOrder(ctx context.Context, id string, patch domain.RepairOrder) (domain.RepairOrder, error) {
	existing, err := s.repo.GetRepairOrder(ctx, id)
	if err != nil {
		return domain.RepairOrder{}, err
	}
	if isTerminalRepairStatus(existing.Status) {
		// A returned ticket can still collect money; everything else is frozen.
		if existing.Status != domain.RepairStatusReturned || !isPaymentOnlyPatch(patch) {
			return domain.RepairOrder{}, fmt.Errorf("%w: phiếu %s đã kết thúc", store.ErrInvalid, id)
		}
	}
	if patch.Status != "" && !repairStatuses[patch.Status] {
		return domain.RepairOrder{}, fmt.Errorf("%w: trạng thái %q", store.ErrInvalid, patch.Status)
	}

	next := *existing
	if patch.CustomerName != "" {
		next.CustomerName = strings.TrimSpace(patch.CustomerName)
	}
	if patch.CustomerPhone != "" {
		next.CustomerPhone = strings.TrimSpace(patch.CustomerPhone)
	}
	if patch.DeviceName != "" {
		next.DeviceName = strings.TrimSpace(patch.DeviceName)
	}
	if patch.IssueDescription != "" {
		next.IssueDescription = patch.IssueDescription
	}
	if patch.Status != "" {
		next.Status = patch.Status
	}
	if patch.MaterialsUsed != nil {
		next.MaterialsUsed = patch.MaterialsUsed
	}
	if patch.LaborCost > 0 {
		next.LaborCost = patch.LaborCost
	}
	if patch.Total > 0 {
		next.Total = patch.Total
	}
	if patch.PaymentStatus != "" {
		next.PaymentStatus = patch.PaymentStatus
	}
	if patch.PartialPaymentAmount > 0 {
		next.PartialPaymentAmount = patch.PartialPaymentAmount
	}

	deductNow := next.Status == domain.RepairStatusReturned && len(next.MaterialsUsed) > 0
	if deductNow {
		if err := s.deductRepairMaterials(ctx, id, next.MaterialsUsed); err != nil {
			return domain.RepairOrder{}, err
		}
	}

	if next.Status == domain.RepairStatusCancelled && existing.MaterialsDeducted {
		s.restoreRepairMaterials(ctx, id, existing.MaterialsUsed)
	}

	updated, err := s.repo.UpdateRepairOrder(ctx, next)
	if err != nil {
		return domain.RepairOrder{}, err
	}

	s.settleRepairLedger(ctx, *updated)

	s.logAudit(ctx, "repair_order_update", "repair_order", id, fmt.Sprintf("status=%s,payment=%s", updated.Status, updated.PaymentStatus))
	s.invalidateAlerts(ctx)
	return *updated, nil
}

// deductRepairMaterials deducts each used material exactly once. The lock
// acquire is the atomic gate: losing it means another writer already
// deducted, which is a silent success. Every line runs even after a failure
// so the caller sees all problems at once; any failure compensates the lines
// already deducted and reverts the lock so a corrected ticket can retry.
func (s *Service) deductRepairMaterials(ctx context.Context, orderID string, lines []domain.RepairMaterial) error {
	acquired, err := s.repo.AcquireMaterialsDeductedLock(ctx, orderID, time.Now().UTC())
	if err != nil {
		return err
	}
	if !acquired {
		log.Printf("[service] INFO: repair order %s materials already deducted, skipping", orderID)
		return nil
	}

	type deduction struct {
		materialID string
		quantity   int
	}
	done := make([]deduction, 0, len(lines))
	var failures []error

	for _, line := range lines {
		if line.Quantity < 1 {
			continue
		}
		material, err := s.resolveRepairMaterial(ctx, line)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				ref := line.MaterialName
				if ref == "" {
					ref = line.MaterialID
				}
				failures = append(failures, fmt.Errorf("%w: vật tư %q không tồn tại", store.ErrNotFound, ref))
			} else {
				failures = append(failures, err)
			}
			continue
		}

		if _, err := s.repo.AdjustMaterialStock(ctx, material.ID, -line.Quantity); err != nil {
			if errors.Is(err, store.ErrInsufficientStock) {
				failures = append(failures, fmt.Errorf("%w: không đủ vật tư %s: cần %d, có %d", store.ErrInsufficientStock, material.Name, line.Quantity, material.Stock))
			} else {
				failures = append(failures, err)
			}
			continue
		}
		done = append(done, deduction{materialID: material.ID, quantity: line.Quantity})
	}

	if len(failures) > 0 {
		for _, d := range done {
			if _, err := s.repo.AdjustMaterialStock(ctx, d.materialID, d.quantity); err != nil {
				log.Printf("[service] WARN: repair order %s compensation failed for material %s: %v", orderID, d.materialID, err)
			}
		}
		if err := s.repo.ReleaseMaterialsDeductedLock(ctx, orderID); err != nil {
			log.Printf("[service] WARN: repair order %s could not revert deduction lock: %v", orderID, err)
		}
		return errors.Join(failures...)
	}

	s.emit(ctx, "Sửa chữa", fmt.Sprintf("Đã trừ %d vật tư cho phiếu %s", len(done), orderID), "success")
	return nil
}

// resolveRepairMaterial prefers the id reference; older tickets only carry a
// name and are matched case-insensitively.
func (s *Service) resolveRepairMaterial(ctx context.Context, line domain.RepairMaterial) (*domain.Material, error) {
	if line.MaterialID != "" {
		return s.repo.GetMaterial(ctx, line.MaterialID)
	}
	if strings.TrimSpace(line.MaterialName) == "" {
		return nil, store.ErrNotFound
	}
	return s.repo.FindMaterialByName(ctx, line.MaterialName)
}

func (s *Service) restoreRepairMaterials(ctx context.Context, orderID string, lines []domain.RepairMaterial) {
	for _, line := range lines {
		if line.Quantity < 1 {
			continue
		}
		material, err := s.resolveRepairMaterial(ctx, line)
		if err != nil {
			log.Printf("[service] WARN: repair order %s restore skipped %q: %v", orderID, line.MaterialName, err)
			continue
		}
		if _, err := s.repo.AdjustMaterialStock(ctx, material.ID, line.Quantity); err != nil {
			log.Printf("[service] WARN: repair order %s restore failed for %s: %v", orderID, material.ID, err)
		}
	}
	if err := s.repo.ReleaseMaterialsDeductedLock(ctx, orderID); err != nil {
		log.Printf("[service] WARN: repair order %s could not release deduction lock: %v", orderID, err)
	}
	s.emit(ctx, "Sửa chữa", fmt.Sprintf("Đã hoàn vật tư cho phiếu %s", orderID), "info")
}

// settleRepairLedger keeps the ticket's ledger entries in sync with its
// payment fields. Entries use deterministic ids keyed by ticket and purpose,
// so replays revise amounts instead of duplicating income, and an entry whose
// condition no longer holds is removed.
func (s *Service) settleRepairLedger(ctx context.Context, order domain.RepairOrder) {
	if order.DepositAmount > 0 {
		s.upsertRepairLedger(ctx, order, "deposit", order.DepositAmount, fmt.Sprintf("Đặt cọc sửa chữa %s", order.DeviceName))
	} else {
		s.removeRepairLedger(ctx, order.ID, "deposit")
	}

	// The final payment only exists once the device is back with the customer.
	var final int64
	if order.Status == domain.RepairStatusReturned {
		switch order.PaymentStatus {
		case domain.PaymentStatusPaid:
			final = order.Total - order.DepositAmount
		case domain.PaymentStatusPartial:
			final = order.PartialPaymentAmount
		}
	}
	if final > 0 {
		s.upsertRepairLedger(ctx, order, "final", final, fmt.Sprintf("Thu tiền sửa chữa %s", order.DeviceName))
	} else {
		s.removeRepairLedger(ctx, order.ID, "final")
	}
}

func (s *Service) removeRepairLedger(ctx context.Context, orderID string, purpose string) {
	if _, err := s.repo.DeleteCashTransactions(ctx, domain.CashTransactionFilter{ID: xid.Derived("ct", orderID, purpose)}); err != nil {
		log.Printf("[service] WARN: failed to clear ledger for repair order %s (%s): %v", orderID, purpose, err)
	}
}

func (s *Service) upsertRepairLedger(ctx context.Context, order domain.RepairOrder, purpose string, amount int64, notes string) {
	_, err := s.repo.UpsertCashTransaction(ctx, domain.CashTransaction{
		ID:          xid.Derived("ct", order.ID, purpose),
		Type:        domain.CashTypeIncome,
		Date:        time.Now().UTC(),
		Amount:      amount,
		Contact:     order.CustomerName,
		WorkOrderID: order.ID,
		Category:    "repair",
		Notes:       notes,
	})
	if err != nil {
		log.Printf("[service] WARN: failed to sync ledger for repair order %s (%s): %v", order.ID, purpose, err)
		s.emit(ctx, "Sổ quỹ", fmt.Sprintf("Chưa ghi được sổ quỹ cho phiếu %s", order.ID), "warning")
	}
}

// DeleteRepairOrder removes the ticket. A ticket that already consumed
// materials puts them back first, and every linked ledger entry goes with it.
func (s *Service) DeleteRepairOrder(ctx context.Context, id string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}

	order, err := s.repo.GetRepairOrder(ctx, id)
	if err != nil {
		return err
	}

	if order.MaterialsDeducted {
		s.restoreRepairMaterials(ctx, id, order.MaterialsUsed)
	}

	removed, err := s.repo.DeleteCashTransactions(ctx, domain.CashTransactionFilter{WorkOrderID: id})
	if err != nil {
		log.Printf("[service] WARN: delete of repair order %s could not clear ledger: %v", id, err)
	}

	if err := s.repo.DeleteRepairOrder(ctx, id); err != nil {
		return err
	}

	s.logAudit(ctx, "repair_order_delete", "repair_order", id, fmt.Sprintf("customer=%s,ledger_removed=%d", order.CustomerName, removed))
	s.invalidateAlerts(ctx)
	s.emit(ctx, "Sửa chữa", fmt.Sprintf("Đã xóa phiếu %s", id), "info")
	return nil
}
