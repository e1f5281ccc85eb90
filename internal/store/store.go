package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalid           = errors.New("invalid request")
	ErrConflict          = errors.New("conflict")
)

// Repository is the backing-store contract. Two implementations exist: the
// Postgres store and the in-memory store used as the degraded/offline mode.
// Methods that move quantities are atomic inside a single call; multi-call
// sequences orchestrated by the service layer are best-effort ordered.
type Repository interface {
	ListMaterials(ctx context.Context) ([]domain.Material, error)
	GetMaterial(ctx context.Context, id string) (*domain.Material, error)
	FindMaterialByName(ctx context.Context, name string) (*domain.Material, error)
	CreateMaterial(ctx context.Context, material domain.Material) (*domain.Material, error)
	// AdjustMaterialStock applies delta atomically and fails with
	// ErrInsufficientStock when the result would be negative.
	AdjustMaterialStock(ctx context.Context, id string, delta int) (int, error)
	// SumOpenCommitments recomputes the quantity reserved by orders in
	// pending/in_production, for reconciliation against CommittedQuantity.
	SumOpenCommitments(ctx context.Context, materialID string) (int, error)

	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	FindProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	AdjustProductStock(ctx context.Context, id string, delta int) (int, error)

	CreateBOM(ctx context.Context, bom domain.BOM) (*domain.BOM, error)
	GetBOM(ctx context.Context, id string) (*domain.BOM, error)
	ListBOMs(ctx context.Context) ([]domain.BOM, error)

	// CreateProductionOrder persists the order, its commitment lines and the
	// per-material committed-quantity bumps as one transaction; any material
	// whose commitment would exceed stock aborts the whole write.
	CreateProductionOrder(ctx context.Context, order domain.ProductionOrder) (*domain.ProductionOrder, error)
	GetProductionOrder(ctx context.Context, id string) (*domain.ProductionOrder, error)
	ListProductionOrders(ctx context.Context, status string, limit int) ([]domain.ProductionOrder, error)
	SetProductionOrderStatus(ctx context.Context, id string, status string, at time.Time) (*domain.ProductionOrder, error)
	// ReleaseProductionCommitments zeroes the order's commitment lines and
	// decrements each material's committed quantity. Stock is untouched.
	ReleaseProductionCommitments(ctx context.Context, orderID string) error
	SaveProductionCostAnalysis(ctx context.Context, id string, actual domain.ActualCosts, analysis domain.CostAnalysis) error

	// NextSaleSequence returns the next per-day counter value for the prefix.
	NextSaleSequence(ctx context.Context, prefix string, day time.Time) (int, error)
	// CreateSale fails with ErrConflict when the code is already taken.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, limit int) ([]domain.Sale, error)
	ListDebtSales(ctx context.Context) ([]domain.Sale, error)
	UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	DeleteSale(ctx context.Context, id string) error

	CreateRepairOrder(ctx context.Context, order domain.RepairOrder) (*domain.RepairOrder, error)
	GetRepairOrder(ctx context.Context, id string) (*domain.RepairOrder, error)
	ListRepairOrders(ctx context.Context, status string, limit int) ([]domain.RepairOrder, error)
	UpdateRepairOrder(ctx context.Context, order domain.RepairOrder) (*domain.RepairOrder, error)
	DeleteRepairOrder(ctx context.Context, id string) error
	// AcquireMaterialsDeductedLock flips materials_deducted false->true with a
	// conditional update. false return means another writer already holds it.
	AcquireMaterialsDeductedLock(ctx context.Context, orderID string, at time.Time) (bool, error)
	ReleaseMaterialsDeductedLock(ctx context.Context, orderID string) error

	UpsertCashTransaction(ctx context.Context, entry domain.CashTransaction) (*domain.CashTransaction, error)
	ListCashTransactions(ctx context.Context, filter domain.CashTransactionFilter, limit int) ([]domain.CashTransaction, error)
	DeleteCashTransactions(ctx context.Context, filter domain.CashTransactionFilter) (int, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
}
