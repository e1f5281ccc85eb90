package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/domain"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/store"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/xid"
)

type Store struct {
	db *sql.DB

	mu              sync.Mutex
	adjustFnMissing bool
	seqFnMissing    bool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListMaterials(ctx context.Context) ([]domain.Material, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, unit, stock, committed_quantity,
			purchase_price, retail_price, wholesale_price, created_at
		FROM materials
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	materials := make([]domain.Material, 0, 128)
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		materials = append(materials, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return materials, nil
}

func (s *Store) GetMaterial(ctx context.Context, id string) (*domain.Material, error) {
	return s.getMaterialWhere(ctx, `id = $1`, id)
}

func (s *Store) FindMaterialByName(ctx context.Context, name string) (*domain.Material, error) {
	return s.getMaterialWhere(ctx, `lower(name) = lower($1)`, strings.TrimSpace(name))
}

func (s *Store) getMaterialWhere(ctx context.Context, predicate string, arg string) (*domain.Material, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sku, name, unit, stock, committed_quantity,
			purchase_price, retail_price, wholesale_price, created_at
		FROM materials
		WHERE `+predicate+`
		LIMIT 1
	`, arg)

	m, err := scanMaterial(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *Store) CreateMaterial(ctx context.Context, material domain.Material) (*domain.Material, error) {
	if material.Name == "" || material.Stock < 0 || material.PurchasePrice < 0 {
		return nil, store.ErrInvalid
	}
	if material.ID == "" {
		material.ID = xid.New("mat")
	}
	if material.CreatedAt.IsZero() {
		material.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO materials (id, sku, name, unit, stock, committed_quantity,
			purchase_price, retail_price, wholesale_price, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,0,$6,$7,$8,$9,now())
	`, material.ID, material.SKU, material.Name, material.Unit, material.Stock,
		material.PurchasePrice, material.RetailPrice, material.WholesalePrice, material.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := material
	created.CommittedQuantity = 0
	return &created, nil
}

// AdjustMaterialStock prefers the adjust_material_stock stored function; when
// the backend reports the function missing (schema drift on self-hosted
// installs) it flips to a plain conditional update, which is still a single
// atomic statement. RowsAffected = 0 on an existing row means the delta would
// drive stock negative.
func (s *Store) AdjustMaterialStock(ctx context.Context, id string, delta int) (int, error) {
	if !s.fnMissing(&s.adjustFnMissing) {
		var next int
		err := s.db.QueryRowContext(ctx, `SELECT adjust_material_stock($1, $2)`, id, delta).Scan(&next)
		switch {
		case err == nil:
			return next, nil
		case isUndefinedFunction(err):
			s.markFnMissing(&s.adjustFnMissing)
		case isCheckViolation(err):
			return 0, store.ErrInsufficientStock
		case errors.Is(err, sql.ErrNoRows):
			return 0, store.ErrNotFound
		default:
			return 0, err
		}
	}
	return s.adjustStockFallback(ctx, "materials", id, delta)
}

func (s *Store) AdjustProductStock(ctx context.Context, id string, delta int) (int, error) {
	return s.adjustStockFallback(ctx, "products", id, delta)
}

func (s *Store) adjustStockFallback(ctx context.Context, table string, id string, delta int) (int, error) {
	if table != "materials" && table != "products" {
		return 0, fmt.Errorf("unsupported stock table %q", table)
	}

	var next int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1 AND stock + $2 >= 0
		RETURNING stock
	`, table), id, delta).Scan(&next)
	if err == nil {
		return next, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	// Zero rows: distinguish a missing row from an insufficient balance.
	var current int
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT stock FROM %s WHERE id = $1`, table), id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return current, store.ErrInsufficientStock
}

func (s *Store) SumOpenCommitments(ctx context.Context, materialID string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(c.quantity), 0)
		FROM production_order_commitments c
		JOIN production_orders o ON o.id = c.order_id
		WHERE c.material_id = $1
			AND c.released = false
			AND o.status IN ('pending', 'in_production')
	`, materialID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, stock, cost_price, retail_price, wholesale_price, created_at
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Stock, &p.CostPrice, &p.RetailPrice, &p.WholesalePrice, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.getProductWhere(ctx, `id = $1`, id)
}

func (s *Store) FindProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	return s.getProductWhere(ctx, `lower(sku) = lower($1)`, strings.TrimSpace(sku))
}

func (s *Store) getProductWhere(ctx context.Context, predicate string, arg string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sku, name, stock, cost_price, retail_price, wholesale_price, created_at
		FROM products
		WHERE `+predicate+`
		LIMIT 1
	`, arg).Scan(&p.ID, &p.SKU, &p.Name, &p.Stock, &p.CostPrice, &p.RetailPrice, &p.WholesalePrice, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Stock < 0 {
		return nil, store.ErrInvalid
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, stock, cost_price, retail_price, wholesale_price, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
	`, product.ID, product.SKU, product.Name, product.Stock, product.CostPrice, product.RetailPrice, product.WholesalePrice, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) CreateBOM(ctx context.Context, bom domain.BOM) (*domain.BOM, error) {
	if bom.ProductName == "" || len(bom.Materials) == 0 {
		return nil, store.ErrInvalid
	}
	if bom.ID == "" {
		bom.ID = xid.New("bom")
	}
	if bom.CreatedAt.IsZero() {
		bom.CreatedAt = time.Now().UTC()
	}

	lines, err := json.Marshal(bom.Materials)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO boms (id, product_name, product_sku, materials, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, bom.ID, bom.ProductName, bom.ProductSKU, lines, bom.Notes, bom.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := bom
	return &created, nil
}

func (s *Store) GetBOM(ctx context.Context, id string) (*domain.BOM, error) {
	var bom domain.BOM
	var lines []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, product_name, product_sku, materials, notes, created_at
		FROM boms
		WHERE id = $1
	`, id).Scan(&bom.ID, &bom.ProductName, &bom.ProductSKU, &lines, &bom.Notes, &bom.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(lines, &bom.Materials); err != nil {
		return nil, fmt.Errorf("decode bom %s materials: %w", id, err)
	}
	bom.CreatedAt = bom.CreatedAt.UTC()
	return &bom, nil
}

func (s *Store) ListBOMs(ctx context.Context) ([]domain.BOM, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_name, product_sku, materials, notes, created_at
		FROM boms
		ORDER BY product_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	boms := make([]domain.BOM, 0, 32)
	for rows.Next() {
		var bom domain.BOM
		var lines []byte
		if err := rows.Scan(&bom.ID, &bom.ProductName, &bom.ProductSKU, &lines, &bom.Notes, &bom.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(lines, &bom.Materials); err != nil {
			return nil, fmt.Errorf("decode bom %s materials: %w", bom.ID, err)
		}
		bom.CreatedAt = bom.CreatedAt.UTC()
		boms = append(boms, bom)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return boms, nil
}

// CreateProductionOrder writes the order row, its commitment lines and the
// committed-quantity bumps in one serializable transaction. A material whose
// commitment no longer fits available stock rolls the whole write back.
func (s *Store) CreateProductionOrder(ctx context.Context, order domain.ProductionOrder) (*domain.ProductionOrder, error) {
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

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	additional, err := json.Marshal(order.AdditionalCosts)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO production_orders (id, bom_id, product_name, product_sku, quantity_produced,
			status, materials_cost, additional_costs, total_cost, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, order.ID, order.BOMID, order.ProductName, order.ProductSKU, order.QuantityProduced,
		order.Status, order.MaterialsCost, additional, order.TotalCost, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	for _, line := range order.CommittedMaterials {
		res, err := tx.ExecContext(ctx, `
			UPDATE materials
			SET committed_quantity = committed_quantity + $2, updated_at = now()
			WHERE id = $1 AND committed_quantity + $2 <= stock
		`, line.MaterialID, line.Quantity)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, fmt.Errorf("%w: material %s", store.ErrInsufficientStock, line.MaterialID)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO production_order_commitments (order_id, material_id, material_name, quantity, estimated_cost, released)
			VALUES ($1,$2,$3,$4,$5,false)
		`, order.ID, line.MaterialID, line.MaterialName, line.Quantity, line.EstimatedCost)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := order
	return &created, nil
}

func (s *Store) GetProductionOrder(ctx context.Context, id string) (*domain.ProductionOrder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, bom_id, product_name, product_sku, quantity_produced, status,
			materials_cost, additional_costs, total_cost, cost_analysis, created_at, updated_at
		FROM production_orders
		WHERE id = $1
	`, id)

	order, err := scanProductionOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := s.attachCommitments(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) ListProductionOrders(ctx context.Context, status string, limit int) ([]domain.ProductionOrder, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bom_id, product_name, product_sku, quantity_produced, status,
			materials_cost, additional_costs, total_cost, cost_analysis, created_at, updated_at
		FROM production_orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.ProductionOrder, 0, limit)
	for rows.Next() {
		order, err := scanProductionOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		if err := s.attachCommitments(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *Store) attachCommitments(ctx context.Context, order *domain.ProductionOrder) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT material_id, material_name, quantity, estimated_cost,
			COALESCE(actual_cost, 0), COALESCE(actual_quantity_used, 0)
		FROM production_order_commitments
		WHERE order_id = $1
		ORDER BY material_id
	`, order.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	lines := make([]domain.MaterialCommitment, 0, 8)
	for rows.Next() {
		var line domain.MaterialCommitment
		if err := rows.Scan(&line.MaterialID, &line.MaterialName, &line.Quantity, &line.EstimatedCost, &line.ActualCost, &line.ActualQuantityUsed); err != nil {
			return err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	order.CommittedMaterials = lines
	return nil
}

func (s *Store) SetProductionOrderStatus(ctx context.Context, id string, status string, at time.Time) (*domain.ProductionOrder, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE production_orders
		SET status = $2, updated_at = $3
		WHERE id = $1
	`, id, status, at.UTC())
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProductionOrder(ctx, id)
}

// ReleaseProductionCommitments is idempotent: only rows still marked
// unreleased are consumed, each decrementing its material's committed count.
func (s *Store) ReleaseProductionCommitments(ctx context.Context, orderID string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		UPDATE production_order_commitments
		SET released = true
		WHERE order_id = $1 AND released = false
		RETURNING material_id, quantity
	`, orderID)
	if err != nil {
		return err
	}
	type release struct {
		materialID string
		quantity   int
	}
	releases := make([]release, 0, 8)
	for rows.Next() {
		var r release
		if err := rows.Scan(&r.materialID, &r.quantity); err != nil {
			_ = rows.Close()
			return err
		}
		releases = append(releases, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	for _, r := range releases {
		_, err := tx.ExecContext(ctx, `
			UPDATE materials
			SET committed_quantity = GREATEST(committed_quantity - $2, 0), updated_at = now()
			WHERE id = $1
		`, r.materialID, r.quantity)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) SaveProductionCostAnalysis(ctx context.Context, id string, actual domain.ActualCosts, analysis domain.CostAnalysis) error {
	payload, err := json.Marshal(analysis)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE production_orders
		SET cost_analysis = $2, updated_at = now()
		WHERE id = $1
	`, id, payload)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	for _, line := range actual.Materials {
		_, err := tx.ExecContext(ctx, `
			UPDATE production_order_commitments
			SET actual_cost = $3, actual_quantity_used = $4
			WHERE order_id = $1 AND material_id = $2
		`, id, line.MaterialID, line.ActualCost, line.ActualQuantityUsed)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// NextSaleSequence prefers the next_sale_code stored function; the fallback
// is an atomic upsert on the per-day counter row, so both paths are safe
// under concurrent sessions.
func (s *Store) NextSaleSequence(ctx context.Context, prefix string, day time.Time) (int, error) {
	dayUTC := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)

	if !s.fnMissing(&s.seqFnMissing) {
		var seq int
		err := s.db.QueryRowContext(ctx, `SELECT next_sale_code($1, $2)`, prefix, dayUTC).Scan(&seq)
		if err == nil {
			return seq, nil
		}
		if !isUndefinedFunction(err) {
			return 0, err
		}
		s.markFnMissing(&s.seqFnMissing)
	}

	var seq int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sale_code_counters (prefix, day, current)
		VALUES ($1, $2, 1)
		ON CONFLICT (prefix, day)
		DO UPDATE SET current = sale_code_counters.current + 1
		RETURNING current
	`, prefix, dayUTC).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.Code == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalid
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.Date.IsZero() {
		sale.Date = sale.CreatedAt
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, code, date, subtotal, discount, total, customer,
			payment_method, payment_status, paid_amount, due_date, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, sale.ID, sale.Code, sale.Date, sale.Subtotal, sale.Discount, sale.Total, sale.Customer,
		sale.PaymentMethod, sale.PaymentStatus, sale.PaidAmount, nullTime(sale.DueDate), sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	for _, item := range sale.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, item_id, item_type, name, quantity, unit_price)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, sale.ID, item.ItemID, item.Type, item.Name, item.Quantity, item.UnitPrice)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := sale
	return &created, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	var dueDate sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, date, subtotal, discount, total, customer,
			payment_method, payment_status, paid_amount, due_date, created_at
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.Code, &sale.Date, &sale.Subtotal, &sale.Discount, &sale.Total,
		&sale.Customer, &sale.PaymentMethod, &sale.PaymentStatus, &sale.PaidAmount, &dueDate, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if dueDate.Valid {
		due := dueDate.Time.UTC()
		sale.DueDate = &due
	}
	sale.Date = sale.Date.UTC()
	sale.CreatedAt = sale.CreatedAt.UTC()

	if err := s.attachSaleItems(ctx, &sale); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) attachSaleItems(ctx context.Context, sale *domain.Sale) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, item_type, name, quantity, unit_price
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id
	`, sale.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ItemID, &item.Type, &item.Name, &item.Quantity, &item.UnitPrice); err != nil {
			return err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	sale.Items = items
	return nil
}

func (s *Store) listSalesWhere(ctx context.Context, predicate string, limit int) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, date, subtotal, discount, total, customer,
			payment_method, payment_status, paid_amount, due_date, created_at
		FROM sales
		`+predicate+`
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		var dueDate sql.NullTime
		if err := rows.Scan(&sale.ID, &sale.Code, &sale.Date, &sale.Subtotal, &sale.Discount, &sale.Total,
			&sale.Customer, &sale.PaymentMethod, &sale.PaymentStatus, &sale.PaidAmount, &dueDate, &sale.CreatedAt); err != nil {
			return nil, err
		}
		if dueDate.Valid {
			due := dueDate.Time.UTC()
			sale.DueDate = &due
		}
		sale.Date = sale.Date.UTC()
		sale.CreatedAt = sale.CreatedAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sales {
		if err := s.attachSaleItems(ctx, &sales[i]); err != nil {
			return nil, err
		}
	}
	return sales, nil
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 200
	}
	return s.listSalesWhere(ctx, ``, limit)
}

func (s *Store) ListDebtSales(ctx context.Context) ([]domain.Sale, error) {
	return s.listSalesWhere(ctx, `WHERE payment_status IN ('partial', 'debt')`, 500)
}

func (s *Store) UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sales
		SET customer = $2, payment_method = $3, payment_status = $4,
			paid_amount = $5, due_date = $6, discount = $7, total = $8
		WHERE id = $1
	`, sale.ID, sale.Customer, sale.PaymentMethod, sale.PaymentStatus,
		sale.PaidAmount, nullTime(sale.DueDate), sale.Discount, sale.Total)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetSale(ctx, sale.ID)
}

func (s *Store) DeleteSale(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) CreateRepairOrder(ctx context.Context, order domain.RepairOrder) (*domain.RepairOrder, error) {
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

	materials, err := json.Marshal(order.MaterialsUsed)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO repair_orders (id, customer_name, customer_phone, device_name, issue_description,
			status, materials_used, labor_cost, total, payment_status, deposit_amount,
			partial_payment_amount, materials_deducted, materials_deducted_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,false,NULL,$13,$14)
	`, order.ID, order.CustomerName, order.CustomerPhone, order.DeviceName, order.IssueDescription,
		order.Status, materials, order.LaborCost, order.Total, order.PaymentStatus, order.DepositAmount,
		order.PartialPaymentAmount, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := order
	created.MaterialsDeducted = false
	created.MaterialsDeductedAt = nil
	return &created, nil
}

func (s *Store) GetRepairOrder(ctx context.Context, id string) (*domain.RepairOrder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, customer_name, customer_phone, device_name, issue_description, status,
			materials_used, labor_cost, total, payment_status, deposit_amount,
			partial_payment_amount, materials_deducted, materials_deducted_at, created_at, updated_at
		FROM repair_orders
		WHERE id = $1
	`, id)

	order, err := scanRepairOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return order, nil
}

func (s *Store) ListRepairOrders(ctx context.Context, status string, limit int) ([]domain.RepairOrder, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_name, customer_phone, device_name, issue_description, status,
			materials_used, labor_cost, total, payment_status, deposit_amount,
			partial_payment_amount, materials_deducted, materials_deducted_at, created_at, updated_at
		FROM repair_orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.RepairOrder, 0, limit)
	for rows.Next() {
		order, err := scanRepairOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateRepairOrder persists the order's mutable fields. materials_deducted
// and its timestamp are owned by the lock operations and never written here.
func (s *Store) UpdateRepairOrder(ctx context.Context, order domain.RepairOrder) (*domain.RepairOrder, error) {
	materials, err := json.Marshal(order.MaterialsUsed)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE repair_orders
		SET customer_name = $2, customer_phone = $3, device_name = $4, issue_description = $5,
			status = $6, materials_used = $7, labor_cost = $8, total = $9,
			payment_status = $10, deposit_amount = $11, partial_payment_amount = $12, updated_at = now()
		WHERE id = $1
	`, order.ID, order.CustomerName, order.CustomerPhone, order.DeviceName, order.IssueDescription,
		order.Status, materials, order.LaborCost, order.Total,
		order.PaymentStatus, order.DepositAmount, order.PartialPaymentAmount)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetRepairOrder(ctx, order.ID)
}

func (s *Store) DeleteRepairOrder(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM repair_orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AcquireMaterialsDeductedLock is the optimistic lock behind exactly-once
// deduction. The conditional update is atomic at the store; zero affected
// rows on an existing order means another writer already deducted.
func (s *Store) AcquireMaterialsDeductedLock(ctx context.Context, orderID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE repair_orders
		SET materials_deducted = true, materials_deducted_at = $2, updated_at = now()
		WHERE id = $1 AND materials_deducted = false
	`, orderID, at.UTC())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM repair_orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, store.ErrNotFound
	}
	return false, nil
}

func (s *Store) ReleaseMaterialsDeductedLock(ctx context.Context, orderID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE repair_orders
		SET materials_deducted = false, materials_deducted_at = NULL, updated_at = now()
		WHERE id = $1
	`, orderID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpsertCashTransaction writes by id, so deterministically keyed entries are
// retry-safe. A backend missing the category column (older installs) gets one
// reduced-payload retry.
func (s *Store) UpsertCashTransaction(ctx context.Context, entry domain.CashTransaction) (*domain.CashTransaction, error) {
	if entry.Amount < 0 || entry.Type == "" {
		return nil, store.ErrInvalid
	}
	if entry.ID == "" {
		entry.ID = xid.New("ct")
	}
	if entry.Date.IsZero() {
		entry.Date = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cash_transactions (id, type, date, amount, contact, payment_source_id,
			sale_id, work_order_id, category, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id)
		DO UPDATE SET type = EXCLUDED.type, date = EXCLUDED.date, amount = EXCLUDED.amount,
			contact = EXCLUDED.contact, category = EXCLUDED.category, notes = EXCLUDED.notes
	`, entry.ID, entry.Type, entry.Date, entry.Amount, entry.Contact, nullIfEmpty(entry.PaymentSourceID),
		nullIfEmpty(entry.SaleID), nullIfEmpty(entry.WorkOrderID), nullIfEmpty(entry.Category), entry.Notes)
	if err != nil && isUndefinedColumn(err) {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO cash_transactions (id, type, date, amount, contact, payment_source_id,
				sale_id, work_order_id, notes)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (id)
			DO UPDATE SET type = EXCLUDED.type, date = EXCLUDED.date, amount = EXCLUDED.amount,
				contact = EXCLUDED.contact, notes = EXCLUDED.notes
		`, entry.ID, entry.Type, entry.Date, entry.Amount, entry.Contact, nullIfEmpty(entry.PaymentSourceID),
			nullIfEmpty(entry.SaleID), nullIfEmpty(entry.WorkOrderID), entry.Notes)
	}
	if err != nil {
		return nil, err
	}

	saved := entry
	return &saved, nil
}

func (s *Store) ListCashTransactions(ctx context.Context, filter domain.CashTransactionFilter, limit int) ([]domain.CashTransaction, error) {
	if limit < 1 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, date, amount, contact, COALESCE(payment_source_id, ''),
			COALESCE(sale_id, ''), COALESCE(work_order_id, ''), COALESCE(category, ''), COALESCE(notes, '')
		FROM cash_transactions
		WHERE ($1 = '' AND $2 = '' AND $3 = '')
			OR id = NULLIF($1, '')
			OR sale_id = NULLIF($2, '')
			OR work_order_id = NULLIF($3, '')
		ORDER BY date DESC
		LIMIT $4
	`, filter.ID, filter.SaleID, filter.WorkOrderID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.CashTransaction, 0, limit)
	for rows.Next() {
		var entry domain.CashTransaction
		if err := rows.Scan(&entry.ID, &entry.Type, &entry.Date, &entry.Amount, &entry.Contact,
			&entry.PaymentSourceID, &entry.SaleID, &entry.WorkOrderID, &entry.Category, &entry.Notes); err != nil {
			return nil, err
		}
		entry.Date = entry.Date.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteCashTransactions removes rows matching any provided key and returns
// the count actually removed. It is the single choke point for ledger cleanup
// during sale/repair compensation.
func (s *Store) DeleteCashTransactions(ctx context.Context, filter domain.CashTransactionFilter) (int, error) {
	if filter.Empty() {
		return 0, store.ErrInvalid
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM cash_transactions
		WHERE id = NULLIF($1, '')
			OR sale_id = NULLIF($2, '')
			OR work_order_id = NULLIF($3, '')
	`, filter.ID, filter.SaleID, filter.WorkOrderID)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		WHERE username = $1 AND active = true
	`, username).Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalid
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) fnMissing(flag *bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *flag
}

func (s *Store) markFnMissing(flag *bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*flag = true
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMaterial(row rowScanner) (domain.Material, error) {
	var m domain.Material
	err := row.Scan(&m.ID, &m.SKU, &m.Name, &m.Unit, &m.Stock, &m.CommittedQuantity,
		&m.PurchasePrice, &m.RetailPrice, &m.WholesalePrice, &m.CreatedAt)
	if err != nil {
		return domain.Material{}, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

func scanProductionOrder(row rowScanner) (*domain.ProductionOrder, error) {
	var order domain.ProductionOrder
	var additional []byte
	var analysis []byte
	err := row.Scan(&order.ID, &order.BOMID, &order.ProductName, &order.ProductSKU, &order.QuantityProduced,
		&order.Status, &order.MaterialsCost, &additional, &order.TotalCost, &analysis, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(additional) > 0 {
		if err := json.Unmarshal(additional, &order.AdditionalCosts); err != nil {
			return nil, fmt.Errorf("decode order %s additional costs: %w", order.ID, err)
		}
	}
	if len(analysis) > 0 {
		var parsed domain.CostAnalysis
		if err := json.Unmarshal(analysis, &parsed); err != nil {
			return nil, fmt.Errorf("decode order %s cost analysis: %w", order.ID, err)
		}
		order.CostAnalysis = &parsed
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return &order, nil
}

func scanRepairOrder(row rowScanner) (*domain.RepairOrder, error) {
	var order domain.RepairOrder
	var materials []byte
	var deductedAt sql.NullTime
	err := row.Scan(&order.ID, &order.CustomerName, &order.CustomerPhone, &order.DeviceName,
		&order.IssueDescription, &order.Status, &materials, &order.LaborCost, &order.Total,
		&order.PaymentStatus, &order.DepositAmount, &order.PartialPaymentAmount,
		&order.MaterialsDeducted, &deductedAt, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(materials) > 0 {
		if err := json.Unmarshal(materials, &order.MaterialsUsed); err != nil {
			return nil, fmt.Errorf("decode repair order %s materials: %w", order.ID, err)
		}
	}
	if deductedAt.Valid {
		at := deductedAt.Time.UTC()
		order.MaterialsDeductedAt = &at
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return &order, nil
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

func isCheckViolation(err error) bool {
	return pgCode(err) == "23514"
}

// isUndefinedFunction detects the "function does not exist" drift that means
// the atomic RPC helpers were never installed on this backend.
func isUndefinedFunction(err error) bool {
	if pgCode(err) == "42883" {
		return true
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

func isUndefinedColumn(err error) bool {
	return pgCode(err) == "42703"
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return val.UTC()
}
