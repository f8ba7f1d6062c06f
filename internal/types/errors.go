package types

import "errors"

var (
	// ErrNotFound is returned by collaborators when a product, variant,
	// customer or image does not exist.
	ErrNotFound = errors.New("not found")
	// ErrOutOfStock is returned by CreateOrder when an item cannot be
	// fulfilled.
	ErrOutOfStock = errors.New("out of stock")
	// ErrVariantRequired is returned by CreateOrder for an item without a
	// variant on a product that is sold by variant.
	ErrVariantRequired = errors.New("variant_id required")
)
