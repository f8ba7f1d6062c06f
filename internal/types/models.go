// internal/types/models.go
package types

import (
	"time"
)

type Product struct {
	ID          int64   `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description"`
	Category    string  `json:"category,omitempty" yaml:"category"`
	Price       float64 `json:"price" yaml:"price"`
	Currency    string  `json:"currency" yaml:"currency"`
	ImageURL    string  `json:"image_url,omitempty" yaml:"image_url"`
}

type Variant struct {
	ID        int64   `json:"id" yaml:"id"`
	ProductID int64   `json:"product_id" yaml:"-"`
	Name      string  `json:"name" yaml:"name"`
	SKU       string  `json:"sku,omitempty" yaml:"sku"`
	Price     float64 `json:"price" yaml:"price"`
	Stock     int     `json:"stock" yaml:"stock"`
}

type Availability struct {
	ProductID int64          `json:"product_id"`
	Stock     int            `json:"stock"`
	Available bool           `json:"available"`
	Variants  map[string]int `json:"variants,omitempty"`
}

type SearchFilters struct {
	Category string  `json:"category,omitempty"`
	MinPrice float64 `json:"min_price,omitempty"`
	MaxPrice float64 `json:"max_price,omitempty"`
	Limit    int     `json:"limit,omitempty"`
}

type CustomerProfile struct {
	Name     string `json:"name,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address,omitempty"`
	Language string `json:"language,omitempty"`
}

type Customer struct {
	ID           CustomerID `json:"id"`
	PlatformID   string     `json:"platform_id"`
	PlatformType string     `json:"platform_type"`
	CustomerProfile
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type OrderItem struct {
	ProductID int64   `json:"product_id"`
	VariantID int64   `json:"variant_id,omitempty"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price,omitempty"`
}

type OrderData struct {
	DeliveryAddress string `json:"delivery_address,omitempty"`
	PaymentMethod   string `json:"payment_method,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

type Order struct {
	ID         OrderID     `json:"id"`
	CustomerID CustomerID  `json:"customer_id"`
	Items      []OrderItem `json:"items"`
	Total      float64     `json:"total"`
	Currency   string      `json:"currency"`
	Status     string      `json:"status"`
	OrderData
	CreatedAt time.Time `json:"created_at"`
}

type ProductImage struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
}

// SideEffect is an action a surface must perform alongside the reply text.
type SideEffect struct {
	Type     string `json:"type"`
	ImageURL string `json:"image_url,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

const SideEffectSendImage = "send_image"

type SessionIndex struct {
	SessionKey     SessionKey     `json:"session_key"`
	ConversationID ConversationID `json:"conversation_id"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
