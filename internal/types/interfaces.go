// internal/types/interfaces.go
package types

import (
	"context"
)

// Commerce is the catalog, order and customer collaborator consumed by the
// tool dispatcher. Every call may fail; failures become tool output.
type Commerce interface {
	LookupProduct(ctx context.Context, id int64) (*Product, error)
	SearchProducts(ctx context.Context, query string, filters SearchFilters) ([]*Product, error)
	GetVariants(ctx context.Context, productID int64) ([]*Variant, error)
	GetAvailability(ctx context.Context, productID int64) (*Availability, error)
	CreateOrder(ctx context.Context, customer CustomerID, items []OrderItem, data OrderData) (*Order, error)
	UpsertCustomer(ctx context.Context, platformID, platformType string, profile CustomerProfile) (*Customer, error)
	FindProductImage(ctx context.Context, name string, id int64) (*ProductImage, error)
}

// SessionStore maps surface session keys to engine conversations.
type SessionStore interface {
	ResolveOrCreate(ctx context.Context, key SessionKey, create func(context.Context) (ConversationID, error)) (ConversationID, error)
	Reset(ctx context.Context, key SessionKey) error
	Touch(ctx context.Context, key SessionKey) error
	List(ctx context.Context) ([]*SessionIndex, error)
}
