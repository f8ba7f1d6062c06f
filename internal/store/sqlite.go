// Package store implements the commerce collaborator (catalog, customers
// and orders) on SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/user/shopline/internal/types"
)

const maxSearchLimit = 50

// SQLiteStore implements types.Commerce using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ types.Commerce = (*SQLiteStore)(nil)

// Open opens (creating if needed) the database at dsn and migrates it.
func Open(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Writers serialize anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			price REAL NOT NULL,
			currency TEXT NOT NULL DEFAULT 'USD',
			image_url TEXT NOT NULL DEFAULT '',
			stock INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_products_category ON products(category)`,
		`CREATE TABLE IF NOT EXISTS variants (
			id INTEGER PRIMARY KEY,
			product_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			sku TEXT NOT NULL DEFAULT '',
			price REAL NOT NULL,
			stock INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_variants_product ON variants(product_id)`,
		`CREATE TABLE IF NOT EXISTS customers (
			id TEXT PRIMARY KEY,
			platform_id TEXT NOT NULL,
			platform_type TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE (platform_id, platform_type)
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			total REAL NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			delivery_address TEXT NOT NULL DEFAULT '',
			payment_method TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			FOREIGN KEY (customer_id) REFERENCES customers(id)
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			order_id TEXT NOT NULL,
			product_id INTEGER NOT NULL,
			variant_id INTEGER NOT NULL DEFAULT 0,
			quantity INTEGER NOT NULL,
			unit_price REAL NOT NULL,
			FOREIGN KEY (order_id) REFERENCES orders(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const productColumns = `id, name, description, category, price, currency, image_url`

func scanProduct(row interface{ Scan(...any) error }) (*types.Product, error) {
	var p types.Product
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Price, &p.Currency, &p.ImageURL); err != nil {
		return nil, err
	}
	return &p, nil
}

// LookupProduct returns the product with id.
func (s *SQLiteStore) LookupProduct(ctx context.Context, id int64) (*types.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup product: %w", err)
	}
	return p, nil
}

// SearchProducts matches query against names and descriptions. An empty
// query lists the catalog.
func (s *SQLiteStore) SearchProducts(ctx context.Context, query string, f types.SearchFilters) ([]*types.Product, error) {
	var where []string
	var args []any
	if q := strings.TrimSpace(query); q != "" {
		where = append(where, `(name LIKE ? OR description LIKE ?)`)
		like := "%" + q + "%"
		args = append(args, like, like)
	}
	if f.Category != "" {
		where = append(where, `category = ? COLLATE NOCASE`)
		args = append(args, f.Category)
	}
	if f.MinPrice > 0 {
		where = append(where, `price >= ?`)
		args = append(args, f.MinPrice)
	}
	if f.MaxPrice > 0 {
		where = append(where, `price <= ?`)
		args = append(args, f.MaxPrice)
	}
	limit := f.Limit
	if limit <= 0 || limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	stmt := `SELECT ` + productColumns + ` FROM products`
	if len(where) > 0 {
		stmt += ` WHERE ` + strings.Join(where, " AND ")
	}
	stmt += ` ORDER BY name LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	defer rows.Close()

	var out []*types.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetVariants returns the variants of a product.
func (s *SQLiteStore) GetVariants(ctx context.Context, productID int64) ([]*types.Variant, error) {
	if _, err := s.LookupProduct(ctx, productID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, name, sku, price, stock FROM variants WHERE product_id = ? ORDER BY id`, productID)
	if err != nil {
		return nil, fmt.Errorf("get variants: %w", err)
	}
	defer rows.Close()

	var out []*types.Variant
	for rows.Next() {
		var v types.Variant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Name, &v.SKU, &v.Price, &v.Stock); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// GetAvailability sums variant stock, or uses the product's own stock when
// it has no variants.
func (s *SQLiteStore) GetAvailability(ctx context.Context, productID int64) (*types.Availability, error) {
	var stock int
	err := s.db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = ?`, productID).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", productID, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get availability: %w", err)
	}

	variants, err := s.GetVariants(ctx, productID)
	if err != nil {
		return nil, err
	}
	a := &types.Availability{ProductID: productID, Stock: stock}
	if len(variants) > 0 {
		a.Stock = 0
		a.Variants = make(map[string]int, len(variants))
		for _, v := range variants {
			a.Variants[v.Name] = v.Stock
			a.Stock += v.Stock
		}
	}
	a.Available = a.Stock > 0
	return a, nil
}

// UpsertCustomer creates the customer for (platformID, platformType) or
// updates the non-empty profile fields of the existing one.
func (s *SQLiteStore) UpsertCustomer(ctx context.Context, platformID, platformType string, p types.CustomerProfile) (*types.Customer, error) {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, platform_id, platform_type, name, phone, address, language, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (platform_id, platform_type) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE customers.name END,
			phone = CASE WHEN excluded.phone != '' THEN excluded.phone ELSE customers.phone END,
			address = CASE WHEN excluded.address != '' THEN excluded.address ELSE customers.address END,
			language = CASE WHEN excluded.language != '' THEN excluded.language ELSE customers.language END,
			updated_at = excluded.updated_at`,
		string(types.NewCustomerID()), platformID, platformType, p.Name, p.Phone, p.Address, p.Language, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert customer: %w", err)
	}

	var c types.Customer
	err = s.db.QueryRowContext(ctx, `
		SELECT id, platform_id, platform_type, name, phone, address, language, created_at, updated_at
		FROM customers WHERE platform_id = ? AND platform_type = ?`, platformID, platformType).
		Scan(&c.ID, &c.PlatformID, &c.PlatformType, &c.Name, &c.Phone, &c.Address, &c.Language, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("read customer: %w", err)
	}
	return &c, nil
}

// CreateOrder checks and reserves stock for every item and records the
// order in one transaction.
func (s *SQLiteStore) CreateOrder(ctx context.Context, customer types.CustomerID, items []types.OrderItem, data types.OrderData) (*types.Order, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("order has no items")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin order: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM customers WHERE id = ?`, string(customer)).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %s: %w", customer, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("check customer: %w", err)
	}

	order := &types.Order{
		ID:         types.NewOrderID(),
		CustomerID: customer,
		Status:     "pending",
		OrderData:  data,
		CreatedAt:  s.now().UTC(),
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("product %d: quantity must be positive", item.ProductID)
		}
		price, currency, err := reserve(ctx, tx, item)
		if err != nil {
			return nil, err
		}
		if order.Currency == "" {
			order.Currency = currency
		}
		item.UnitPrice = price
		order.Items = append(order.Items, item)
		order.Total += price * float64(item.Quantity)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, total, currency, status, delivery_address, payment_method, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(order.ID), string(customer), order.Total, order.Currency, order.Status,
		data.DeliveryAddress, data.PaymentMethod, data.Notes, order.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	for _, item := range order.Items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, product_id, variant_id, quantity, unit_price) VALUES (?, ?, ?, ?, ?)`,
			string(order.ID), item.ProductID, item.VariantID, item.Quantity, item.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("insert order item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit order: %w", err)
	}
	return order, nil
}

// reserve decrements stock for item and returns its unit price and currency.
func reserve(ctx context.Context, tx *sql.Tx, item types.OrderItem) (float64, string, error) {
	var price float64
	var currency string
	var stock int
	var err error
	if item.VariantID != 0 {
		err = tx.QueryRowContext(ctx, `
			SELECT v.price, p.currency, v.stock FROM variants v JOIN products p ON p.id = v.product_id
			WHERE v.id = ? AND v.product_id = ?`, item.VariantID, item.ProductID).Scan(&price, &currency, &stock)
	} else {
		if err := requireNoVariants(ctx, tx, item.ProductID); err != nil {
			return 0, "", err
		}
		err = tx.QueryRowContext(ctx,
			`SELECT price, currency, stock FROM products WHERE id = ?`, item.ProductID).Scan(&price, &currency, &stock)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", fmt.Errorf("product %d variant %d: %w", item.ProductID, item.VariantID, types.ErrNotFound)
	}
	if err != nil {
		return 0, "", fmt.Errorf("read stock: %w", err)
	}
	if stock < item.Quantity {
		return 0, "", fmt.Errorf("product %d: %w (%d left, %d requested)", item.ProductID, types.ErrOutOfStock, stock, item.Quantity)
	}

	if item.VariantID != 0 {
		_, err = tx.ExecContext(ctx, `UPDATE variants SET stock = stock - ? WHERE id = ?`, item.Quantity, item.VariantID)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE products SET stock = stock - ? WHERE id = ?`, item.Quantity, item.ProductID)
	}
	if err != nil {
		return 0, "", fmt.Errorf("reserve stock: %w", err)
	}
	return price, currency, nil
}

// requireNoVariants fails for products whose stock is held by variants;
// their own stock column is not orderable.
func requireNoVariants(ctx context.Context, tx *sql.Tx, productID int64) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, name FROM variants WHERE product_id = ? ORDER BY id`, productID)
	if err != nil {
		return fmt.Errorf("read variants: %w", err)
	}
	defer rows.Close()
	var choices []string
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return fmt.Errorf("scan variant: %w", err)
		}
		choices = append(choices, fmt.Sprintf("%d (%s)", id, name))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read variants: %w", err)
	}
	if len(choices) > 0 {
		return fmt.Errorf("product %d: %w, one of %s", productID, types.ErrVariantRequired, strings.Join(choices, ", "))
	}
	return nil
}

// FindProductImage returns the picture of the product with id, or of the
// first product whose name contains name.
func (s *SQLiteStore) FindProductImage(ctx context.Context, name string, id int64) (*types.ProductImage, error) {
	var row *sql.Row
	if id != 0 {
		row = s.db.QueryRowContext(ctx,
			`SELECT id, name, image_url FROM products WHERE id = ? AND image_url != ''`, id)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT id, name, image_url FROM products WHERE name LIKE ? AND image_url != '' ORDER BY length(name) LIMIT 1`,
			"%"+strings.TrimSpace(name)+"%")
	}
	var img types.ProductImage
	err := row.Scan(&img.ProductID, &img.Name, &img.URL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("image for %q (id %d): %w", name, id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find product image: %w", err)
	}
	return &img, nil
}

// ListProducts returns the whole catalog ordered by id.
func (s *SQLiteStore) ListProducts(ctx context.Context) ([]*types.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []*types.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
