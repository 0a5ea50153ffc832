package transmitter

import (
	"context"
	"fmt"
	"sync"

	"github.com/Aynn-Network/marketplace_layer/internal/app/access"
	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/market"
)

// DefaultClass is the class code the Universal transmitter registers
// under. It covers both asset standards.
const DefaultClass = 0

// Router dispatches transfers to transmitters by asset class code. The
// router invokes downstream transmitters under its own account, so a
// transmitter only needs to grant the router, not every marketplace
// component.
type Router struct {
	mu      sync.RWMutex
	acl     *access.Registry
	account string
	table   map[int]Transmitter
}

// NewRouter builds an empty router operating under the given account.
func NewRouter(owner, account string) *Router {
	return &Router{
		acl:     access.NewRegistry(owner),
		account: account,
		table:   make(map[int]Transmitter),
	}
}

// Account returns the identity the router uses on downstream transmitters.
func (r *Router) Account() string { return r.account }

// Allow grants or revokes a caller's capability on the router.
func (r *Router) Allow(caller, subject string, allowed bool) error {
	return r.acl.Grant(caller, subject, allowed)
}

// SetTransmitter binds a class code to a transmitter. Owner only.
func (r *Router) SetTransmitter(caller string, class int, t Transmitter) error {
	if !market.SameAccount(caller, r.acl.Owner()) {
		return market.ErrNotOwner
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if t == nil {
		delete(r.table, class)
		return nil
	}
	r.table[class] = t
	return nil
}

// Transmitter returns the transmitter bound to the class code.
func (r *Router) Transmitter(class int) (Transmitter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.table[class]
	return t, ok
}

// Validate checks transfer preconditions through the class transmitter.
func (r *Router) Validate(ctx context.Context, caller string, class int, assetContract string, assetID, quantity uint64, from string) error {
	t, err := r.route(caller, class)
	if err != nil {
		return err
	}
	return t.Validate(ctx, r.account, assetContract, assetID, quantity, from)
}

// Transfer dispatches the transfer through the class transmitter.
func (r *Router) Transfer(ctx context.Context, caller string, class int, assetContract string, assetID, quantity uint64, from, to string) error {
	t, err := r.route(caller, class)
	if err != nil {
		return err
	}
	return t.Transfer(ctx, r.account, assetContract, assetID, quantity, from, to)
}

func (r *Router) route(caller string, class int) (Transmitter, error) {
	if err := r.acl.Require(caller); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.table[class]
	if !ok {
		return nil, fmt.Errorf("no transmitter for class %d: %w", class, market.ErrNotFound)
	}
	return t, nil
}
