// Package transmitter moves assets between accounts on behalf of the
// marketplace. A single Universal transmitter handles both single-owner
// and multi-owner asset contracts by probing the declared standard, and
// a Router dispatches transfers to transmitters by class code so new
// asset classes can be added without touching callers.
package transmitter

import (
	"context"
	"fmt"

	"github.com/Aynn-Network/marketplace_layer/internal/app/access"
	"github.com/Aynn-Network/marketplace_layer/internal/app/chain"
	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/market"
	"github.com/Aynn-Network/marketplace_layer/pkg/logger"
)

// Transmitter moves quantity units of an asset from one account to
// another. Implementations are capability gated.
type Transmitter interface {
	// Validate checks the transfer preconditions without mutating.
	Validate(ctx context.Context, caller, assetContract string, assetID, quantity uint64, from string) error
	// Transfer performs the transfer.
	Transfer(ctx context.Context, caller, assetContract string, assetID, quantity uint64, from, to string) error
}

// Universal transfers assets of either standard. Asset owners approve
// the transmitter's operator account on the asset contract; the
// transmitter then checks ownership, balance and approval before moving
// anything.
type Universal struct {
	acl      *access.Registry
	registry chain.AssetRegistry
	operator string
	log      *logger.Logger
}

var _ Transmitter = (*Universal)(nil)

// NewUniversal builds a transmitter owned by owner whose transfers are
// authorized against the operator account.
func NewUniversal(owner, operator string, registry chain.AssetRegistry, log *logger.Logger) *Universal {
	if log == nil {
		log = logger.NewDefault("transmitter")
	}
	return &Universal{
		acl:      access.NewRegistry(owner),
		registry: registry,
		operator: operator,
		log:      log.WithField("operator", operator),
	}
}

// Operator returns the account asset owners must approve.
func (t *Universal) Operator() string { return t.operator }

// Allow grants or revokes a caller's capability on the transmitter.
func (t *Universal) Allow(caller, subject string, allowed bool) error {
	return t.acl.Grant(caller, subject, allowed)
}

func (t *Universal) Validate(ctx context.Context, caller, assetContract string, assetID, quantity uint64, from string) error {
	if err := t.acl.Require(caller); err != nil {
		return err
	}
	return t.validate(ctx, assetContract, assetID, quantity, from)
}

func (t *Universal) Transfer(ctx context.Context, caller, assetContract string, assetID, quantity uint64, from, to string) error {
	if err := t.acl.Require(caller); err != nil {
		return err
	}
	if err := t.validate(ctx, assetContract, assetID, quantity, from); err != nil {
		return err
	}
	if err := t.registry.Transfer(ctx, assetContract, assetID, quantity, from, to); err != nil {
		return fmt.Errorf("transfer %s/%d: %w", assetContract, assetID, err)
	}
	t.log.WithFields(map[string]interface{}{
		"contract": assetContract,
		"asset":    assetID,
		"quantity": quantity,
		"from":     from,
		"to":       to,
	}).Debug("asset transferred")
	return nil
}

func (t *Universal) validate(ctx context.Context, assetContract string, assetID, quantity uint64, from string) error {
	if quantity == 0 {
		return fmt.Errorf("quantity must be positive")
	}
	std, err := t.registry.Standard(ctx, assetContract)
	if err != nil {
		return fmt.Errorf("probe standard of %s: %w", assetContract, err)
	}
	switch std {
	case chain.StandardSingleOwner:
		if quantity != 1 {
			return fmt.Errorf("single-owner asset transfers one unit, got %d", quantity)
		}
		owner, err := t.registry.OwnerOf(ctx, assetContract, assetID)
		if err != nil {
			return err
		}
		if !market.SameAccount(owner, from) {
			return market.ErrNotOwner
		}
	case chain.StandardMultiOwner:
		bal, err := t.registry.BalanceOf(ctx, assetContract, assetID, from)
		if err != nil {
			return err
		}
		if bal < quantity {
			return market.ErrInsufficientBalance
		}
	default:
		return fmt.Errorf("unsupported asset standard %q", std)
	}
	approved, err := t.registry.IsApproved(ctx, assetContract, assetID, from, t.operator)
	if err != nil {
		return err
	}
	if !approved {
		return market.ErrNotApproved
	}
	return nil
}
