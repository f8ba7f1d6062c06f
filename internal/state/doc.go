// Package state provides filesystem-backed storage implementations.
package state

import "github.com/user/shopline/internal/types"

// Compile-time interface compliance checks.
var _ types.SessionStore = (*SessionStore)(nil)
