// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type SessionKey string
type ConversationID string
type CustomerID string
type OrderID string

func NewCustomerID() CustomerID {
	return CustomerID(uuid.New().String())
}

func NewOrderID() OrderID {
	return OrderID(uuid.New().String())
}

func NewSessionKey(parts ...string) SessionKey {
	return SessionKey(strings.Join(parts, ":"))
}

// Platform returns the surface prefix of the key ("telegram" for
// "telegram:1:2").
func (k SessionKey) Platform() string {
	p, _, _ := strings.Cut(string(k), ":")
	return p
}
