// Package tools implements the commerce tools offered to the engine.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/shopline/internal/runtime"
	"github.com/user/shopline/internal/types"
)

const defaultSearchLimit = 10

// Commerce returns every commerce tool backed by c.
func Commerce(c types.Commerce) []runtime.Tool {
	return []runtime.Tool{
		&SearchProducts{commerce: c},
		&GetProduct{commerce: c},
		&GetVariants{commerce: c},
		&CheckAvailability{commerce: c},
		&CreateOrder{commerce: c},
		&UpsertCustomer{commerce: c},
		&FindProductImage{commerce: c},
	}
}

func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: %v", runtime.ErrInvalidArguments, err)
	}
	return nil
}

func missing(field string) error {
	return fmt.Errorf("%w: %s is required", runtime.ErrInvalidArguments, field)
}

// markdownDescription converts catalog HTML to markdown, falling back to
// the raw text when conversion fails.
func markdownDescription(p *types.Product) *types.Product {
	if p == nil || !strings.Contains(p.Description, "<") {
		return p
	}
	md, err := htmltomarkdown.ConvertString(p.Description)
	if err != nil {
		return p
	}
	out := *p
	out.Description = strings.TrimSpace(md)
	return &out
}

// SearchProducts finds catalog products by free text and filters.
type SearchProducts struct {
	commerce types.Commerce
}

func (t *SearchProducts) Name() string { return "search_products" }
func (t *SearchProducts) Description() string {
	return "Search the catalog by name or description, optionally filtered by category and price range"
}
func (t *SearchProducts) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Free text to match against product names and descriptions"},
			"category": {"type": "string"},
			"min_price": {"type": "number"},
			"max_price": {"type": "number"},
			"limit": {"type": "integer", "description": "Maximum results (default 10)"}
		},
		"required": ["query"]
	}`)
}

func (t *SearchProducts) Execute(ctx context.Context, args json.RawMessage) (*runtime.Output, error) {
	var params struct {
		Query string `json:"query"`
		types.SearchFilters
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.Limit <= 0 {
		params.Limit = defaultSearchLimit
	}
	products, err := t.commerce.SearchProducts(ctx, params.Query, params.SearchFilters)
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	out := make([]*types.Product, len(products))
	for i, p := range products {
		out[i] = markdownDescription(p)
	}
	return &runtime.Output{Data: map[string]any{"products": out, "count": len(out)}}, nil
}

// GetProduct fetches one product by id.
type GetProduct struct {
	commerce types.Commerce
}

func (t *GetProduct) Name() string        { return "get_product" }
func (t *GetProduct) Description() string { return "Get full details of a product by its id" }
func (t *GetProduct) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"product_id": {"type": "integer"}
		},
		"required": ["product_id"]
	}`)
}

func (t *GetProduct) Execute(ctx context.Context, args json.RawMessage) (*runtime.Output, error) {
	var params struct {
		ProductID int64 `json:"product_id"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.ProductID == 0 {
		return nil, missing("product_id")
	}
	p, err := t.commerce.LookupProduct(ctx, params.ProductID)
	if err != nil {
		return nil, fmt.Errorf("lookup product %d: %w", params.ProductID, err)
	}
	return &runtime.Output{Data: markdownDescription(p)}, nil
}

// GetVariants lists the variants of a product.
type GetVariants struct {
	commerce types.Commerce
}

func (t *GetVariants) Name() string { return "get_variants" }
func (t *GetVariants) Description() string {
	return "List the variants (size, flavor, presentation) of a product with their prices and stock"
}
func (t *GetVariants) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"product_id": {"type": "integer"}
		},
		"required": ["product_id"]
	}`)
}

func (t *GetVariants) Execute(ctx context.Context, args json.RawMessage) (*runtime.Output, error) {
	var params struct {
		ProductID int64 `json:"product_id"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.ProductID == 0 {
		return nil, missing("product_id")
	}
	variants, err := t.commerce.GetVariants(ctx, params.ProductID)
	if err != nil {
		return nil, fmt.Errorf("get variants of %d: %w", params.ProductID, err)
	}
	return &runtime.Output{Data: map[string]any{"product_id": params.ProductID, "variants": variants}}, nil
}

// CheckAvailability reports stock for a product.
type CheckAvailability struct {
	commerce types.Commerce
}

func (t *CheckAvailability) Name() string { return "check_availability" }
func (t *CheckAvailability) Description() string {
	return "Check current stock of a product and each of its variants"
}
func (t *CheckAvailability) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"product_id": {"type": "integer"}
		},
		"required": ["product_id"]
	}`)
}

func (t *CheckAvailability) Execute(ctx context.Context, args json.RawMessage) (*runtime.Output, error) {
	var params struct {
		ProductID int64 `json:"product_id"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.ProductID == 0 {
		return nil, missing("product_id")
	}
	a, err := t.commerce.GetAvailability(ctx, params.ProductID)
	if err != nil {
		return nil, fmt.Errorf("check availability of %d: %w", params.ProductID, err)
	}
	return &runtime.Output{Data: a}, nil
}

// CreateOrder places an order for a known customer.
type CreateOrder struct {
	commerce types.Commerce
}

func (t *CreateOrder) Name() string { return "create_order" }
func (t *CreateOrder) Description() string {
	return "Place an order once the customer has confirmed items, quantities, delivery address and payment method"
}
func (t *CreateOrder) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"customer_id": {"type": "string", "description": "Id returned by upsert_customer"},
			"items": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"product_id": {"type": "integer"},
						"variant_id": {"type": "integer", "description": "Required for products sold by variant"},
						"quantity": {"type": "integer"}
					},
					"required": ["product_id", "quantity"]
				}
			},
			"delivery_address": {"type": "string"},
			"payment_method": {"type": "string"},
			"notes": {"type": "string"}
		},
		"required": ["customer_id", "items"]
	}`)
}

func (t *CreateOrder) Execute(ctx context.Context, args json.RawMessage) (*runtime.Output, error) {
	var params struct {
		CustomerID types.CustomerID  `json:"customer_id"`
		Items      []types.OrderItem `json:"items"`
		types.OrderData
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.CustomerID == "" {
		return nil, missing("customer_id")
	}
	if len(params.Items) == 0 {
		return nil, missing("items")
	}
	for i, item := range params.Items {
		if item.ProductID == 0 || item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %d needs product_id and a positive quantity", runtime.ErrInvalidArguments, i)
		}
	}
	order, err := t.commerce.CreateOrder(ctx, params.CustomerID, params.Items, params.OrderData)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return &runtime.Output{Data: order}, nil
}

// UpsertCustomer records or updates the customer's profile.
type UpsertCustomer struct {
	commerce types.Commerce
}

func (t *UpsertCustomer) Name() string { return "upsert_customer" }
func (t *UpsertCustomer) Description() string {
	return "Create or update the customer's profile (name, phone, address, language); returns the customer id used for orders"
}
func (t *UpsertCustomer) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"platform_id": {"type": "string", "description": "The customer's id on the messaging platform"},
			"platform_type": {"type": "string", "description": "telegram, web, ..."},
			"name": {"type": "string"},
			"phone": {"type": "string"},
			"address": {"type": "string"},
			"language": {"type": "string"}
		},
		"required": ["platform_id", "platform_type"]
	}`)
}

func (t *UpsertCustomer) Execute(ctx context.Context, args json.RawMessage) (*runtime.Output, error) {
	var params struct {
		PlatformID   string `json:"platform_id"`
		PlatformType string `json:"platform_type"`
		types.CustomerProfile
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.PlatformID == "" {
		return nil, missing("platform_id")
	}
	if params.PlatformType == "" {
		return nil, missing("platform_type")
	}
	c, err := t.commerce.UpsertCustomer(ctx, params.PlatformID, params.PlatformType, params.CustomerProfile)
	if err != nil {
		return nil, fmt.Errorf("upsert customer: %w", err)
	}
	return &runtime.Output{Data: c}, nil
}

// FindProductImage looks up a product picture and asks the surface to send
// it with the reply.
type FindProductImage struct {
	commerce types.Commerce
}

func (t *FindProductImage) Name() string { return "find_product_image" }
func (t *FindProductImage) Description() string {
	return "Find a product picture by product name or id; the picture is sent to the customer with your reply"
}
func (t *FindProductImage) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"product_name": {"type": "string"},
			"product_id": {"type": "integer"}
		}
	}`)
}

func (t *FindProductImage) Execute(ctx context.Context, args json.RawMessage) (*runtime.Output, error) {
	var params struct {
		ProductName string `json:"product_name"`
		ProductID   int64  `json:"product_id"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.ProductName == "" && params.ProductID == 0 {
		return nil, missing("product_name or product_id")
	}
	img, err := t.commerce.FindProductImage(ctx, params.ProductName, params.ProductID)
	if err != nil {
		return nil, fmt.Errorf("find product image: %w", err)
	}
	return &runtime.Output{
		Data: map[string]any{"product_id": img.ProductID, "name": img.Name, "image_sent": true},
		SideEffects: []types.SideEffect{{
			Type:     types.SideEffectSendImage,
			ImageURL: img.URL,
			Caption:  img.Name,
		}},
	}, nil
}
