// Package tokens resolves token metadata (symbol, decimals) for addresses
// seen in scored transactions. Absence is a valid answer: route summaries
// fall back to shortened addresses when a token is unknown.
package tokens

import (
	"context"
	"errors"
)

// DefaultDecimals is assumed when a token's decimals are unknown.
const DefaultDecimals = 18

// ErrTokenNotFound is returned when no metadata exists for an address.
var ErrTokenNotFound = errors.New("token not found")

// Metadata describes one known token. Address is lower-cased.
type Metadata struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// Store looks up and records token metadata by lower-cased address.
type Store interface {
	Get(ctx context.Context, address string) (*Metadata, error)
	Put(ctx context.Context, meta *Metadata) error
}
