package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/domain"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/store"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/xid"
)

// Store keeps every collection in process memory. It backs the degraded
// (offline) mode and the test suite, and implements the same contract as the
// Postgres store: same signatures, same error shapes.
type Store struct {
	mu                 sync.RWMutex
	materialsByID      map[string]domain.Material
	productsByID       map[string]domain.Product
	bomsByID           map[string]domain.BOM
	ordersByID         map[string]domain.ProductionOrder
	releasedOrders     map[string]bool
	salesByID          map[string]domain.Sale
	saleIDByCode       map[string]string
	saleSequences      map[string]int
	repairOrdersByID   map[string]domain.RepairOrder
	cashByID           map[string]domain.CashTransaction
	auditLogs          []domain.AuditLog
	usersByUsername    map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		materialsByID:    map[string]domain.Material{},
		productsByID:     map[string]domain.Product{},
		bomsByID:         map[string]domain.BOM{},
		ordersByID:       map[string]domain.ProductionOrder{},
		releasedOrders:   map[string]bool{},
		salesByID:        map[string]domain.Sale{},
		saleIDByCode:     map[string]string{},
		saleSequences:    map[string]int{},
		repairOrdersByID: map[string]domain.RepairOrder{},
		cashByID:         map[string]domain.CashTransaction{},
		usersByUsername:  map[string]domain.UserAccount{},
	}
}

// seedUsers builds the initial accounts for dev/demo mode. Credentials come
// from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD; hardcoded dev defaults are
// used with a warning when unset. Never used in production (the backend uses
// PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"staff", staffPwd, "staff"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	materials := []domain.Material{
		{ID: "mat-cell-18650", SKU: "NL-CELL-18650", Name: "Cell Pin 18650", Unit: "cái", Stock: 200, PurchasePrice: 25000, RetailPrice: 45000},
		{ID: "mat-bms-3s", SKU: "NL-BMS-3S", Name: "Mạch BMS 3S", Unit: "cái", Stock: 60, PurchasePrice: 35000, RetailPrice: 60000},
		{ID: "mat-niken", SKU: "NL-NIKEN", Name: "Kẽm Niken Hàn Cell", Unit: "m", Stock: 120, PurchasePrice: 8000},
		{ID: "mat-vo-pin", SKU: "NL-VO-3S", Name: "Vỏ Hộp Pin 3S", Unit: "cái", Stock: 40, PurchasePrice: 20000, RetailPrice: 40000},
		{ID: "mat-day-dien", SKU: "NL-DAY", Name: "Dây Điện Silicon", Unit: "m", Stock: 300, PurchasePrice: 3000},
	}
	for _, m := range materials {
		m.CreatedAt = now
		s.materialsByID[m.ID] = m
	}

	products := []domain.Product{
		{ID: "prod-pin-12v", SKU: "TP-PIN-12V", Name: "Pin Khối 12V 6Ah", Stock: 10, CostPrice: 320000, RetailPrice: 550000, WholesalePrice: 480000},
		{ID: "prod-pin-36v", SKU: "TP-PIN-36V", Name: "Pin Xe Điện 36V 10Ah", Stock: 4, CostPrice: 1450000, RetailPrice: 2200000, WholesalePrice: 1950000},
	}
	for _, p := range products {
		p.CreatedAt = now
		s.productsByID[p.ID] = p
	}

	s.bomsByID["bom-pin-12v"] = domain.BOM{
		ID:          "bom-pin-12v",
		ProductName: "Pin Khối 12V 6Ah",
		ProductSKU:  "TP-PIN-12V",
		Materials: []domain.BOMLine{
			{MaterialID: "mat-cell-18650", Quantity: 9},
			{MaterialID: "mat-bms-3s", Quantity: 1},
			{MaterialID: "mat-niken", Quantity: 2},
			{MaterialID: "mat-vo-pin", Quantity: 1},
		},
		Notes:     "Cấu hình 3S3P",
		CreatedAt: now,
	}

	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) ListMaterials(_ context.Context) ([]domain.Material, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	materials := make([]domain.Material, 0, len(s.materialsByID))
	for _, m := range s.materialsByID {
		materials = append(materials, m)
	}
	sort.Slice(materials, func(i, j int) bool { return materials[i].Name < materials[j].Name })
	return materials, nil
}

func (s *Store) GetMaterial(_ context.Context, id string) (*domain.Material, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.materialsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := m
	return &copied, nil
}

func (s *Store) FindMaterialByName(_ context.Context, name string) (*domain.Material, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.materialsByID {
		if strings.EqualFold(strings.TrimSpace(m.Name), strings.TrimSpace(name)) {
			copied := m
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateMaterial(_ context.Context, material domain.Material) (*domain.Material, error) {
	if material.Name == "" || material.Stock < 0 || material.PurchasePrice < 0 {
		return nil, store.ErrInvalid
	}
	if material.ID == "" {
		material.ID = xid.New("mat")
	}
	if material.CreatedAt.IsZero() {
		material.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.materialsByID[material.ID]; exists {
		return nil, store.ErrConflict
	}
	s.materialsByID[material.ID] = material
	created := material
	return &created, nil
}

func (s *Store) AdjustMaterialStock(_ context.Context, id string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.materialsByID[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	next := m.Stock + delta
	if next < 0 {
		return m.Stock, store.ErrInsufficientStock
	}
	m.Stock = next
	s.materialsByID[id] = m
	return next, nil
}

func (s *Store) SumOpenCommitments(_ context.Context, materialID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, order := range s.ordersByID {
		if order.Status != domain.OrderStatusPending && order.Status != domain.OrderStatusInProduction {
			continue
		}
		for _, line := range order.CommittedMaterials {
			if line.MaterialID == materialID {
				total += line.Quantity
			}
		}
	}
	return total, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.productsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := p
	return &copied, nil
}

func (s *Store) FindProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.productsByID {
		if strings.EqualFold(p.SKU, sku) {
			copied := p
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Stock < 0 {
		return nil, store.ErrInvalid
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.productsByID[product.ID]; exists {
		return nil, store.ErrConflict
	}
	s.productsByID[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) AdjustProductStock(_ context.Context, id string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.productsByID[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	next := p.Stock + delta
	if next < 0 {
		return p.Stock, store.ErrInsufficientStock
	}
	p.Stock = next
	s.productsByID[id] = p
	return next, nil
}

func (s *Store) CreateBOM(_ context.Context, bom domain.BOM) (*domain.BOM, error) {
	if bom.ProductName == "" || len(bom.Materials) == 0 {
		return nil, store.ErrInvalid
	}
	if bom.ID == "" {
		bom.ID = xid.New("bom")
	}
	if bom.CreatedAt.IsZero() {
		bom.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.bomsByID[bom.ID] = cloneBOM(bom)
	created := cloneBOM(bom)
	return &created, nil
}

func (s *Store) GetBOM(_ context.Context, id string) (*domain.BOM, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bom, ok := s.bomsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := cloneBOM(bom)
	return &copied, nil
}

func (s *Store) ListBOMs(_ context.Context) ([]domain.BOM, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	boms := make([]domain.BOM, 0, len(s.bomsByID))
	for _, bom := range s.bomsByID {
		boms = append(boms, cloneBOM(bom))
	}
	sort.Slice(boms, func(i, j int) bool { return boms[i].ProductName < boms[j].ProductName })
	return boms, nil
}

func (s *Store) CreateProductionOrder(_ context.Context, order domain.ProductionOrder) (*domain.ProductionOrder, error) {
	if order.QuantityProduced < 1 || len(order.CommittedMaterials) == 0 {
		return nil, store.ErrInvalid
	}
	if order.ID == "" {
		order.ID = xid.New("po")
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// All-or-nothing: verify every commitment fits before touching anything.
	// Requirements accumulate per material so duplicate lines cannot slip
	// past the check one line at a time.
	required := make(map[string]int, len(order.CommittedMaterials))
	for _, line := range order.CommittedMaterials {
		required[line.MaterialID] += line.Quantity
	}
	for materialID, quantity := range required {
		m, ok := s.materialsByID[materialID]
		if !ok {
			return nil, fmt.Errorf("%w: material %s", store.ErrNotFound, materialID)
		}
		if m.CommittedQuantity+quantity > m.Stock {
			return nil, fmt.Errorf("%w: material %s", store.ErrInsufficientStock, m.Name)
		}
	}
	for _, line := range order.CommittedMaterials {
		m := s.materialsByID[line.MaterialID]
		m.CommittedQuantity += line.Quantity
		s.materialsByID[line.MaterialID] = m
	}

	s.ordersByID[order.ID] = cloneOrder(order)
	created := cloneOrder(order)
	return &created, nil
}

func (s *Store) GetProductionOrder(_ context.Context, id string) (*domain.ProductionOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := cloneOrder(order)
	return &copied, nil
}

func (s *Store) ListProductionOrders(_ context.Context, status string, limit int) ([]domain.ProductionOrder, error) {
	if limit < 1 {
		limit = 200
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.ProductionOrder, 0, len(s.ordersByID))
	for _, order := range s.ordersByID {
		if status != "" && order.Status != status {
			continue
		}
		orders = append(orders, cloneOrder(order))
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *Store) SetProductionOrderStatus(_ context.Context, id string, status string, at time.Time) (*domain.ProductionOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	order.Status = status
	order.UpdatedAt = at.UTC()
	s.ordersByID[id] = order
	copied := cloneOrder(order)
	return &copied, nil
}

func (s *Store) ReleaseProductionCommitments(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.ordersByID[orderID]
	if !ok {
		return store.ErrNotFound
	}
	if s.releasedOrders[orderID] {
		return nil
	}
	for _, line := range order.CommittedMaterials {
		m, ok := s.materialsByID[line.MaterialID]
		if !ok {
			continue
		}
		m.CommittedQuantity -= line.Quantity
		if m.CommittedQuantity < 0 {
			m.CommittedQuantity = 0
		}
		s.materialsByID[line.MaterialID] = m
	}
	s.releasedOrders[orderID] = true
	return nil
}

func (s *Store) SaveProductionCostAnalysis(_ context.Context, id string, actual domain.ActualCosts, analysis domain.CostAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.ordersByID[id]
	if !ok {
		return store.ErrNotFound
	}

	actualBy := make(map[string]domain.ActualCostLine, len(actual.Materials))
	for _, line := range actual.Materials {
		actualBy[line.MaterialID] = line
	}
	for i, line := range order.CommittedMaterials {
		if a, ok := actualBy[line.MaterialID]; ok {
			order.CommittedMaterials[i].ActualCost = a.ActualCost
			order.CommittedMaterials[i].ActualQuantityUsed = a.ActualQuantityUsed
		}
	}
	copied := analysis
	order.CostAnalysis = &copied
	order.UpdatedAt = time.Now().UTC()
	s.ordersByID[id] = order
	return nil
}

func (s *Store) NextSaleSequence(_ context.Context, prefix string, day time.Time) (int, error) {
	key := prefix + "-" + day.UTC().Format("2006-01-02")

	s.mu.Lock()
	defer s.mu.Unlock()

	s.saleSequences[key]++
	return s.saleSequences[key], nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.Code == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalid
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.saleIDByCode[sale.Code]; taken {
		return nil, store.ErrConflict
	}
	s.salesByID[sale.ID] = cloneSale(sale)
	s.saleIDByCode[sale.Code] = sale.ID
	created := cloneSale(sale)
	return &created, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := cloneSale(sale)
	return &copied, nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 200
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		sales = append(sales, cloneSale(sale))
	}
	sort.Slice(sales, func(i, j int) bool { return sales[i].CreatedAt.After(sales[j].CreatedAt) })
	if len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) ListDebtSales(_ context.Context) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 16)
	for _, sale := range s.salesByID {
		if sale.PaymentStatus == domain.PaymentStatusPartial || sale.PaymentStatus == domain.PaymentStatusDebt {
			sales = append(sales, cloneSale(sale))
		}
	}
	sort.Slice(sales, func(i, j int) bool { return sales[i].CreatedAt.After(sales[j].CreatedAt) })
	return sales, nil
}

func (s *Store) UpdateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.salesByID[sale.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	// Code and items are immutable after creation.
	sale.Code = existing.Code
	sale.Items = existing.Items
	sale.CreatedAt = existing.CreatedAt
	s.salesByID[sale.ID] = cloneSale(sale)
	updated := cloneSale(sale)
	return &updated, nil
}

func (s *Store) DeleteSale(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.saleIDByCode, sale.Code)
	delete(s.salesByID, id)
	return nil
}

func (s *Store) CreateRepairOrder(_ context.Context, order domain.RepairOrder) (*domain.RepairOrder, error) {
	if order.CustomerName == "" || order.DeviceName == "" {
		return nil, store.ErrInvalid
	}
	if order.ID == "" {
		order.ID = xid.New("ro")
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	if order.Status == "" {
		order.Status = domain.RepairStatusReceived
	}
	if order.PaymentStatus == "" {
		order.PaymentStatus = domain.PaymentStatusUnpaid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.repairOrdersByID[order.ID] = cloneRepairOrder(order)
	created := cloneRepairOrder(order)
	return &created, nil
}

func (s *Store) GetRepairOrder(_ context.Context, id string) (*domain.RepairOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.repairOrdersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := cloneRepairOrder(order)
	return &copied, nil
}

func (s *Store) ListRepairOrders(_ context.Context, status string, limit int) ([]domain.RepairOrder, error) {
	if limit < 1 {
		limit = 200
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.RepairOrder, 0, len(s.repairOrdersByID))
	for _, order := range s.repairOrdersByID {
		if status != "" && order.Status != status {
			continue
		}
		orders = append(orders, cloneRepairOrder(order))
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *Store) UpdateRepairOrder(_ context.Context, order domain.RepairOrder) (*domain.RepairOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.repairOrdersByID[order.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	// The deduction flag is owned by the lock operations, never by plain updates.
	order.MaterialsDeducted = existing.MaterialsDeducted
	order.MaterialsDeductedAt = existing.MaterialsDeductedAt
	order.CreatedAt = existing.CreatedAt
	order.UpdatedAt = time.Now().UTC()
	s.repairOrdersByID[order.ID] = cloneRepairOrder(order)
	updated := cloneRepairOrder(order)
	return &updated, nil
}

func (s *Store) DeleteRepairOrder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.repairOrdersByID[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.repairOrdersByID, id)
	return nil
}

func (s *Store) AcquireMaterialsDeductedLock(_ context.Context, orderID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.repairOrdersByID[orderID]
	if !ok {
		return false, store.ErrNotFound
	}
	if order.MaterialsDeducted {
		return false, nil
	}
	stamp := at.UTC()
	order.MaterialsDeducted = true
	order.MaterialsDeductedAt = &stamp
	order.UpdatedAt = stamp
	s.repairOrdersByID[orderID] = order
	return true, nil
}

func (s *Store) ReleaseMaterialsDeductedLock(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.repairOrdersByID[orderID]
	if !ok {
		return store.ErrNotFound
	}
	order.MaterialsDeducted = false
	order.MaterialsDeductedAt = nil
	order.UpdatedAt = time.Now().UTC()
	s.repairOrdersByID[orderID] = order
	return nil
}

func (s *Store) UpsertCashTransaction(_ context.Context, entry domain.CashTransaction) (*domain.CashTransaction, error) {
	if entry.Amount < 0 || entry.Type == "" {
		return nil, store.ErrInvalid
	}
	if entry.ID == "" {
		entry.ID = xid.New("ct")
	}
	if entry.Date.IsZero() {
		entry.Date = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cashByID[entry.ID] = entry
	saved := entry
	return &saved, nil
}

func (s *Store) ListCashTransactions(_ context.Context, filter domain.CashTransactionFilter, limit int) ([]domain.CashTransaction, error) {
	if limit < 1 {
		limit = 500
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.CashTransaction, 0, 32)
	for _, entry := range s.cashByID {
		if !filter.Empty() && !matchesCashFilter(entry, filter) {
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Date.After(entries[j].Date) })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) DeleteCashTransactions(_ context.Context, filter domain.CashTransactionFilter) (int, error) {
	if filter.Empty() {
		return 0, store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.cashByID {
		if matchesCashFilter(entry, filter) {
			delete(s.cashByID, id)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, len(s.auditLogs))
	copy(logs, s.auditLogs)
	sort.Slice(logs, func(i, j int) bool { return logs[i].CreatedAt.After(logs[j].CreatedAt) })
	if len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByUsername[username]
	if !ok || !user.Active {
		return nil, store.ErrNotFound
	}
	copied := user
	return &copied, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalid
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrConflict
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func matchesCashFilter(entry domain.CashTransaction, filter domain.CashTransactionFilter) bool {
	if filter.ID != "" && entry.ID == filter.ID {
		return true
	}
	if filter.SaleID != "" && entry.SaleID == filter.SaleID {
		return true
	}
	if filter.WorkOrderID != "" && entry.WorkOrderID == filter.WorkOrderID {
		return true
	}
	return false
}

func cloneBOM(bom domain.BOM) domain.BOM {
	copied := bom
	copied.Materials = append([]domain.BOMLine(nil), bom.Materials...)
	return copied
}

func cloneOrder(order domain.ProductionOrder) domain.ProductionOrder {
	copied := order
	copied.CommittedMaterials = append([]domain.MaterialCommitment(nil), order.CommittedMaterials...)
	copied.AdditionalCosts = append([]domain.AdditionalCost(nil), order.AdditionalCosts...)
	if order.CostAnalysis != nil {
		analysis := *order.CostAnalysis
		analysis.Materials = append([]domain.CostVariance(nil), order.CostAnalysis.Materials...)
		analysis.Additional = append([]domain.CostVariance(nil), order.CostAnalysis.Additional...)
		copied.CostAnalysis = &analysis
	}
	return copied
}

func cloneSale(sale domain.Sale) domain.Sale {
	copied := sale
	copied.Items = append([]domain.SaleItem(nil), sale.Items...)
	if sale.DueDate != nil {
		due := *sale.DueDate
		copied.DueDate = &due
	}
	return copied
}

func cloneRepairOrder(order domain.RepairOrder) domain.RepairOrder {
	copied := order
	copied.MaterialsUsed = append([]domain.RepairMaterial(nil), order.MaterialsUsed...)
	if order.MaterialsDeductedAt != nil {
		at := *order.MaterialsDeductedAt
		copied.MaterialsDeductedAt = &at
	}
	return copied
}
