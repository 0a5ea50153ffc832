// Package access implements the capability registry that gates mutating
// entry points on marketplace components. Each gated component carries
// its own Registry; the component owner grants or revokes accounts, and
// every mutation first passes Require.
package access

import (
	"strings"
	"sync"

	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/market"
)

// Registry tracks which accounts may invoke a gated component. The
// owner is always allowed and is the only account that can change
// grants.
type Registry struct {
	mu      sync.RWMutex
	owner   string
	allowed map[string]bool
}

// NewRegistry builds a registry owned by the given account.
func NewRegistry(owner string) *Registry {
	return &Registry{
		owner:   normalize(owner),
		allowed: make(map[string]bool),
	}
}

// Owner returns the owning account.
func (r *Registry) Owner() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

// Grant sets or clears the subject's capability. Only the owner may
// change grants.
func (r *Registry) Grant(caller, subject string, allowed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if normalize(caller) != r.owner {
		return market.ErrNotOwner
	}
	subject = normalize(subject)
	if allowed {
		r.allowed[subject] = true
	} else {
		delete(r.allowed, subject)
	}
	return nil
}

// IsAllowed reports whether the subject holds a grant or is the owner.
func (r *Registry) IsAllowed(subject string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subject = normalize(subject)
	return subject == r.owner || r.allowed[subject]
}

// Require returns ErrRemoteNotAllowed unless the subject is allowed.
func (r *Registry) Require(subject string) error {
	if !r.IsAllowed(subject) {
		return market.ErrRemoteNotAllowed
	}
	return nil
}

func normalize(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}
