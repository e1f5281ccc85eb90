package domain

import "time"

// Material is a raw input tracked by quantity. CommittedQuantity mirrors the
// sum of reservations held by open production orders and never exceeds Stock.
type Material struct {
	ID                string    `json:"id"`
	SKU               string    `json:"sku"`
	Name              string    `json:"name"`
	Unit              string    `json:"unit"`
	Stock             int       `json:"stock"`
	CommittedQuantity int       `json:"committed_quantity"`
	PurchasePrice     int64     `json:"purchase_price"`
	RetailPrice       int64     `json:"retail_price,omitempty"`
	WholesalePrice    int64     `json:"wholesale_price,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

type MaterialCreateRequest struct {
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	Unit           string `json:"unit"`
	InitialStock   int    `json:"initial_stock"`
	PurchasePrice  int64  `json:"purchase_price"`
	RetailPrice    int64  `json:"retail_price,omitempty"`
	WholesalePrice int64  `json:"wholesale_price,omitempty"`
}

// Product is a finished good. Stock is incremented by production-order
// completion or manual entry and decremented by sales.
type Product struct {
	ID             string    `json:"id"`
	SKU            string    `json:"sku"`
	Name           string    `json:"name"`
	Stock          int       `json:"stock"`
	CostPrice      int64     `json:"cost_price"`
	RetailPrice    int64     `json:"retail_price"`
	WholesalePrice int64     `json:"wholesale_price"`
	CreatedAt      time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	InitialStock   int    `json:"initial_stock"`
	CostPrice      int64  `json:"cost_price"`
	RetailPrice    int64  `json:"retail_price"`
	WholesalePrice int64  `json:"wholesale_price"`
}

// BOMLine holds units of material required per one unit of finished product.
type BOMLine struct {
	MaterialID string `json:"material_id"`
	Quantity   int    `json:"quantity"`
}

// BOM is an immutable recipe template for a finished product.
type BOM struct {
	ID          string    `json:"id"`
	ProductName string    `json:"product_name"`
	ProductSKU  string    `json:"product_sku"`
	Materials   []BOMLine `json:"materials"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type BOMCreateRequest struct {
	ProductName string    `json:"product_name"`
	ProductSKU  string    `json:"product_sku"`
	Materials   []BOMLine `json:"materials"`
	Notes       string    `json:"notes,omitempty"`
}

const (
	OrderStatusPending      = "pending"
	OrderStatusInProduction = "in_production"
	OrderStatusCompleted    = "completed"
	OrderStatusCancelled    = "cancelled"
)

// MaterialCommitment reserves raw-material stock against one production order.
type MaterialCommitment struct {
	MaterialID         string `json:"material_id"`
	MaterialName       string `json:"material_name"`
	Quantity           int    `json:"quantity"`
	EstimatedCost      int64  `json:"estimated_cost"`
	ActualCost         int64  `json:"actual_cost,omitempty"`
	ActualQuantityUsed int    `json:"actual_quantity_used,omitempty"`
}

type AdditionalCost struct {
	Label  string `json:"label"`
	Amount int64  `json:"amount"`
}

type ProductionOrder struct {
	ID                 string               `json:"id"`
	BOMID              string               `json:"bom_id"`
	ProductName        string               `json:"product_name"`
	ProductSKU         string               `json:"product_sku"`
	QuantityProduced   int                  `json:"quantity_produced"`
	Status             string               `json:"status"`
	MaterialsCost      int64                `json:"materials_cost"`
	AdditionalCosts    []AdditionalCost     `json:"additional_costs,omitempty"`
	TotalCost          int64                `json:"total_cost"`
	CommittedMaterials []MaterialCommitment `json:"committed_materials"`
	CostAnalysis       *CostAnalysis        `json:"cost_analysis,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

type ProductionOrderCreateRequest struct {
	BOMID            string           `json:"bom_id"`
	QuantityProduced int              `json:"quantity_produced"`
	AdditionalCosts  []AdditionalCost `json:"additional_costs,omitempty"`
}

// ActualCostLine reports what one committed material actually cost and used.
type ActualCostLine struct {
	MaterialID         string `json:"material_id"`
	ActualCost         int64  `json:"actual_cost"`
	ActualQuantityUsed int    `json:"actual_quantity_used"`
}

type ActualCosts struct {
	Materials       []ActualCostLine `json:"materials"`
	AdditionalCosts []AdditionalCost `json:"additional_costs,omitempty"`
}

// CostVariance compares one estimated line against its actual.
type CostVariance struct {
	Label       string  `json:"label"`
	Estimated   int64   `json:"estimated"`
	Actual      int64   `json:"actual"`
	Variance    int64   `json:"variance"`
	VariancePct float64 `json:"variance_pct"`
}

// CostAnalysis is informational reporting only; it never moves stock.
type CostAnalysis struct {
	EstimatedTotal int64          `json:"estimated_total"`
	ActualTotal    int64          `json:"actual_total"`
	Variance       int64          `json:"variance"`
	VariancePct    float64        `json:"variance_pct"`
	Materials      []CostVariance `json:"materials"`
	Additional     []CostVariance `json:"additional,omitempty"`
}

const (
	SaleItemProduct  = "product"
	SaleItemMaterial = "material"
)

const (
	PaymentStatusPaid    = "paid"
	PaymentStatusPartial = "partial"
	PaymentStatusDebt    = "debt"
	PaymentStatusUnpaid  = "unpaid"
)

type SaleItem struct {
	ItemID    string `json:"item_id"`
	Type      string `json:"type"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type Sale struct {
	ID            string     `json:"id"`
	Code          string     `json:"code"`
	Date          time.Time  `json:"date"`
	Items         []SaleItem `json:"items"`
	Subtotal      int64      `json:"subtotal"`
	Discount      int64      `json:"discount"`
	Total         int64      `json:"total"`
	Customer      string     `json:"customer"`
	PaymentMethod string     `json:"payment_method"`
	PaymentStatus string     `json:"payment_status"`
	PaidAmount    int64      `json:"paid_amount"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type SaleCreateRequest struct {
	Items         []SaleItem `json:"items"`
	Discount      int64      `json:"discount"`
	Customer      string     `json:"customer"`
	PaymentMethod string     `json:"payment_method"`
	PaymentStatus string     `json:"payment_status"`
	PaidAmount    int64      `json:"paid_amount"`
	DueDate       *time.Time `json:"due_date,omitempty"`
}

type SalePaymentUpdateRequest struct {
	PaymentStatus string `json:"payment_status"`
	PaidAmount    int64  `json:"paid_amount"`
}

const (
	RepairStatusReceived        = "received"
	RepairStatusDiagnosing      = "diagnosing"
	RepairStatusWaitingApproval = "waiting_approval"
	RepairStatusRepairing       = "repairing"
	RepairStatusCompleted       = "completed"
	RepairStatusReturned        = "returned"
	RepairStatusCancelled       = "cancelled"
)

// RepairMaterial references a material either by id or, for legacy tickets,
// by name only; name resolution is case-insensitive.
type RepairMaterial struct {
	MaterialID   string `json:"material_id,omitempty"`
	MaterialName string `json:"material_name"`
	Quantity     int    `json:"quantity"`
}

type RepairOrder struct {
	ID                   string           `json:"id"`
	CustomerName         string           `json:"customer_name"`
	CustomerPhone        string           `json:"customer_phone"`
	DeviceName           string           `json:"device_name"`
	IssueDescription     string           `json:"issue_description"`
	Status               string           `json:"status"`
	MaterialsUsed        []RepairMaterial `json:"materials_used,omitempty"`
	LaborCost            int64            `json:"labor_cost"`
	Total                int64            `json:"total"`
	PaymentStatus        string           `json:"payment_status"`
	DepositAmount        int64            `json:"deposit_amount"`
	PartialPaymentAmount int64            `json:"partial_payment_amount,omitempty"`
	MaterialsDeducted    bool             `json:"materials_deducted"`
	MaterialsDeductedAt  *time.Time       `json:"materials_deducted_at,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

type RepairOrderCreateRequest struct {
	CustomerName     string `json:"customer_name"`
	CustomerPhone    string `json:"customer_phone"`
	DeviceName       string `json:"device_name"`
	IssueDescription string `json:"issue_description"`
	DepositAmount    int64  `json:"deposit_amount"`
}

const (
	CashTypeIncome  = "income"
	CashTypeExpense = "expense"
)

// CashTransaction is derived bookkeeping: entries that originate from a sale
// or work order carry deterministic ids keyed by order id and purpose so a
// retried sync updates in place instead of duplicating.
type CashTransaction struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	Date            time.Time `json:"date"`
	Amount          int64     `json:"amount"`
	Contact         string    `json:"contact"`
	PaymentSourceID string    `json:"payment_source_id,omitempty"`
	SaleID          string    `json:"sale_id,omitempty"`
	WorkOrderID     string    `json:"work_order_id,omitempty"`
	Category        string    `json:"category,omitempty"`
	Notes           string    `json:"notes,omitempty"`
}

// CashTransactionFilter matches rows by any provided key (OR semantics).
type CashTransactionFilter struct {
	ID          string
	SaleID      string
	WorkOrderID string
}

func (f CashTransactionFilter) Empty() bool {
	return f.ID == "" && f.SaleID == "" && f.WorkOrderID == ""
}

// CashSummary aggregates the ledger for the dashboard header.
type CashSummary struct {
	Income  int64 `json:"income"`
	Expense int64 `json:"expense"`
	Balance int64 `json:"balance"`
}

type AlertSettings struct {
	LowStockThresholdPct      float64 `json:"low_stock_threshold_pct"`
	CriticalStockThresholdPct float64 `json:"critical_stock_threshold_pct"`
	EnableStockAlerts         bool    `json:"enable_stock_alerts"`
	EnableDebtAlerts          bool    `json:"enable_debt_alerts"`
}

type Notification struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Severity  string         `json:"severity"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	ActionURL string         `json:"action_url,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Notice is the outcome payload handed to the injected toast collaborator.
type Notice struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type Actor struct {
	Username string
	Role     string
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
