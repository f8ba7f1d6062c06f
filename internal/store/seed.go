package store

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/user/shopline/internal/types"
)

// CatalogProduct is one catalog entry in a seed file. Stock is used only for
// products without variants.
type CatalogProduct struct {
	types.Product `yaml:",inline"`
	Stock         int              `yaml:"stock"`
	Variants      []*types.Variant `yaml:"variants"`
}

// Catalog is the YAML document accepted by ImportCatalog.
type Catalog struct {
	Products []CatalogProduct `yaml:"products"`
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for i, p := range c.Products {
		if p.ID == 0 || p.Name == "" {
			return nil, fmt.Errorf("catalog entry %d: id and name are required", i)
		}
	}
	return &c, nil
}

// ImportCatalog upserts every product in c and replaces its variants. It
// returns the number of products written.
func (s *SQLiteStore) ImportCatalog(ctx context.Context, c *Catalog) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	for _, p := range c.Products {
		currency := p.Currency
		if currency == "" {
			currency = "USD"
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO products (id, name, description, category, price, currency, image_url, stock)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				category = excluded.category,
				price = excluded.price,
				currency = excluded.currency,
				image_url = excluded.image_url,
				stock = excluded.stock`,
			p.ID, p.Name, p.Description, p.Category, p.Price, currency, p.ImageURL, p.Stock)
		if err != nil {
			return 0, fmt.Errorf("import product %d: %w", p.ID, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM variants WHERE product_id = ?`, p.ID); err != nil {
			return 0, fmt.Errorf("clear variants of %d: %w", p.ID, err)
		}
		for _, v := range p.Variants {
			price := v.Price
			if price == 0 {
				price = p.Price
			}
			var id any
			if v.ID != 0 {
				id = v.ID
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO variants (id, product_id, name, sku, price, stock) VALUES (?, ?, ?, ?, ?, ?)`,
				id, p.ID, v.Name, v.SKU, price, v.Stock)
			if err != nil {
				return 0, fmt.Errorf("import variant %q of %d: %w", v.Name, p.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return len(c.Products), nil
}
