// Package gateway is the transaction-gateway core: the gateway model, its two
// persistence backends, the keychain index allocator, the order-creation
// facade, and the status-change notification dispatcher.
package gateway

import "context"

// Gateway is one merchant integration: identity, policy, and the keychain
// counter its receiving addresses derive from. Secret is plaintext in memory;
// stores encrypt it before it touches disk.
type Gateway struct {
	ID                       uint64
	HashedID                 string
	Name                     string
	Pubkey                   string
	Secret                   string
	LastKeychainID           uint64
	ConfirmationsRequired    int
	Active                   bool
	CallbackURL              string
	CheckSignature           bool
	OrderClass               string
	ExchangeRateAdapterNames []string
}

// Store is the uniform persistence contract both backends satisfy. Callers
// never special-case on the backend type.
type Store interface {
	// FindByID returns the gateway with the given numeric id, or ErrNotFound.
	FindByID(ctx context.Context, id uint64) (*Gateway, error)
	// FindByHashedID resolves the externally safe derived identifier.
	FindByHashedID(ctx context.Context, hashedID string) (*Gateway, error)
	// Save persists all gateway attributes. The secret is encrypted at rest
	// where the backend stores it.
	Save(ctx context.Context, g *Gateway) error
	// AllocateKeychainID returns the gateway's current keychain index and
	// durably persists the incremented value before returning. Allocations
	// for one gateway are mutually exclusive: no index is ever observed or
	// persisted twice.
	AllocateKeychainID(ctx context.Context, g *Gateway) (uint64, error)
}
