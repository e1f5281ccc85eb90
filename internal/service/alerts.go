package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/domain"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/xid"
)

const alertSnapshotKey = "alerts:snapshot"

// Notifications builds the alert feed the dashboard polls: low and critical
// material stock plus overdue receivables. The snapshot is cached briefly so
// polling does not recompute availability on every request.
func (s *Service) Notifications(ctx context.Context) ([]domain.Notification, error) {
	if cached, ok, err := s.alerts.Get(ctx, alertSnapshotKey); err == nil && ok {
		return cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: alert cache read failed: %v", err)
	}

	alerts := make([]domain.Notification, 0, 16)

	if s.settings.EnableStockAlerts {
		stockAlerts, err := s.stockAlerts(ctx)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, stockAlerts...)
	}

	if s.settings.EnableDebtAlerts {
		debtAlerts, err := s.debtAlerts(ctx)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, debtAlerts...)
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		return severityRank(alerts[i].Severity) > severityRank(alerts[j].Severity)
	})

	if err := s.alerts.Set(ctx, alertSnapshotKey, alerts, s.alertTTL); err != nil {
		log.Printf("[service] WARN: alert cache write failed: %v", err)
	}
	return alerts, nil
}

// stockAlerts grades each material by the share of stock not reserved by
// open production orders. Availability at or under the critical threshold is
// critical, at or under the low threshold is high.
func (s *Service) stockAlerts(ctx context.Context) ([]domain.Notification, error) {
	materials, err := s.repo.ListMaterials(ctx)
	if err != nil {
		return nil, err
	}

	alerts := make([]domain.Notification, 0, len(materials))
	for _, material := range materials {
		if material.Stock <= 0 {
			alerts = append(alerts, domain.Notification{
				ID:        xid.Derived("alert", "stock", material.ID),
				Type:      "low_stock",
				Severity:  "critical",
				Title:     "Hết vật tư",
				Message:   fmt.Sprintf("%s đã hết hàng", material.Name),
				ActionURL: "/materials/" + material.ID,
				Data:      map[string]any{"material_id": material.ID, "stock": material.Stock},
			})
			continue
		}

		available := material.Stock - material.CommittedQuantity
		pct := float64(available) / float64(material.Stock) * 100

		var severity string
		switch {
		case pct <= s.settings.CriticalStockThresholdPct:
			severity = "critical"
		case pct <= s.settings.LowStockThresholdPct:
			severity = "high"
		default:
			continue
		}

		alerts = append(alerts, domain.Notification{
			ID:        xid.Derived("alert", "stock", material.ID),
			Type:      "low_stock",
			Severity:  severity,
			Title:     "Sắp hết vật tư",
			Message:   fmt.Sprintf("%s còn %d/%d khả dụng (%.0f%%)", material.Name, available, material.Stock, pct),
			ActionURL: "/materials/" + material.ID,
			Data: map[string]any{
				"material_id": material.ID,
				"stock":       material.Stock,
				"committed":   material.CommittedQuantity,
				"available":   available,
			},
		})
	}
	return alerts, nil
}

func (s *Service) debtAlerts(ctx context.Context) ([]domain.Notification, error) {
	sales, err := s.repo.ListDebtSales(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	alerts := make([]domain.Notification, 0, len(sales))
	for _, sale := range sales {
		outstanding := sale.Total - sale.PaidAmount
		if outstanding <= 0 {
			continue
		}

		severity := "medium"
		title := "Công nợ"
		if sale.DueDate != nil && sale.DueDate.Before(now) {
			severity = "high"
			title = "Công nợ quá hạn"
		}

		alerts = append(alerts, domain.Notification{
			ID:        xid.Derived("alert", "debt", sale.ID),
			Type:      "receivable",
			Severity:  severity,
			Title:     title,
			Message:   fmt.Sprintf("Hóa đơn %s của %s còn nợ %d đ", sale.Code, sale.Customer, outstanding),
			ActionURL: "/sales/" + sale.ID,
			Data:      map[string]any{"sale_id": sale.ID, "outstanding": outstanding},
		})
	}
	return alerts, nil
}

func severityRank(severity string) int {
	switch severity {
	case "critical":
		return 3
	case "high":
		return 2
	case "medium":
		return 1
	}
	return 0
}
