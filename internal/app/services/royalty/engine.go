// Package royalty computes marketplace fees and creator royalties. The
// Engine holds the fee schedule, validates signed fee overrides against
// the configured attestant, and quotes the all-in totals the
// marketplace charges and pays out.
package royalty

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/Aynn-Network/marketplace_layer/internal/app/chain"
	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/market"
	domain "github.com/Aynn-Network/marketplace_layer/internal/app/domain/royalty"
	"github.com/Aynn-Network/marketplace_layer/pkg/logger"
)

const (
	quoteTTL   = time.Minute
	quoteSweep = 5 * time.Minute
)

// Engine owns the fee schedule and attestant configuration.
type Engine struct {
	mu        sync.RWMutex
	owner     string
	cfg       domain.Config
	attestant string

	registry chain.AssetRegistry
	quotes   *cache.Cache
	log      *logger.Logger
	now      func() time.Time
}

// NewEngine builds an engine owned by owner with the initial schedule.
func NewEngine(owner string, cfg domain.Config, registry chain.AssetRegistry, log *logger.Logger) (*Engine, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewDefault("royalty")
	}
	return &Engine{
		owner:    market.Normalize(owner),
		cfg:      cfg.Clone(),
		registry: registry,
		quotes:   cache.New(quoteTTL, quoteSweep),
		log:      log,
		now:      time.Now,
	}, nil
}

// Config returns a copy of the current fee schedule.
func (e *Engine) Config() domain.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.Clone()
}

// Attestant returns the account trusted to sign fee overrides.
func (e *Engine) Attestant() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.attestant
}

// SetRoyalties replaces the fee schedule. Owner only.
func (e *Engine) SetRoyalties(caller string, cfg domain.Config) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if market.Normalize(caller) != e.owner {
		return market.ErrNotOwner
	}
	e.cfg = cfg.Clone()
	e.log.WithFields(map[string]interface{}{
		"recipient": cfg.Recipient,
		"bps":       cfg.MarketplaceBps,
	}).Info("fee schedule updated")
	return nil
}

// SetAttestant replaces the override attestant. Owner only. An empty
// attestant disables overrides entirely.
func (e *Engine) SetAttestant(caller, attestant string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if market.Normalize(caller) != e.owner {
		return market.ErrNotOwner
	}
	e.attestant = market.Normalize(attestant)
	return nil
}

// ValidateAuthorization checks a fee override: the signature must
// recover to the attestant, the signer must be the acting account, and
// the override must not be expired. Empty authorizations pass; they
// simply select the scheduled fee.
func (e *Engine) ValidateAuthorization(actor string, auth domain.Authorization) error {
	if auth.Empty() {
		return nil
	}
	e.mu.RLock()
	attestant := e.attestant
	e.mu.RUnlock()
	if attestant == "" {
		return fmt.Errorf("%w: no attestant configured", market.ErrInvalidAuthorization)
	}
	if !market.SameAccount(auth.Signer, actor) {
		return fmt.Errorf("%w: signer is not the acting account", market.ErrInvalidAuthorization)
	}
	if e.now().Unix() > auth.Expiry {
		return fmt.Errorf("%w: expired", market.ErrInvalidAuthorization)
	}
	digest := chain.AuthorizationDigest(auth.Signer, auth.Value, auth.Expiry)
	recovered, err := chain.RecoverSigner(digest, auth.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", market.ErrInvalidAuthorization, err)
	}
	if !market.SameAccount(recovered, attestant) {
		return fmt.Errorf("%w: not signed by attestant", market.ErrInvalidAuthorization)
	}
	return nil
}

// MarketplaceFee returns the fee recipient and amount for an operation.
// Purchase fees are a percentage of unit price times quantity; listing
// and offer fees are flat per-unit amounts. A valid authorization
// overrides the scheduled parameter: basis points for purchases, the
// flat per-unit amount otherwise.
func (e *Engine) MarketplaceFee(actor string, kind domain.Kind, unitPrice *big.Int, quantity uint64, auth domain.Authorization) (string, *big.Int, error) {
	if err := e.ValidateAuthorization(actor, auth); err != nil {
		return "", nil, err
	}
	e.mu.RLock()
	cfg := e.cfg.Clone()
	e.mu.RUnlock()

	switch kind {
	case domain.KindPurchase:
		bps := uint64(cfg.MarketplaceBps)
		if !auth.Empty() {
			v := market.Amount(auth.Value)
			if v.Cmp(big.NewInt(market.FeeDenominator)) > 0 {
				return "", nil, fmt.Errorf("%w: fee above 100%%", market.ErrInvalidAuthorization)
			}
			bps = v.Uint64()
		}
		return cfg.Recipient, market.Bps(market.Mul(unitPrice, quantity), uint32(bps)), nil
	case domain.KindListing:
		perUnit := cfg.ListingFee
		if !auth.Empty() {
			perUnit = auth.Value
		}
		return cfg.Recipient, market.Mul(perUnit, quantity), nil
	case domain.KindOffer:
		perUnit := cfg.OfferFee
		if !auth.Empty() {
			perUnit = auth.Value
		}
		return cfg.Recipient, market.Mul(perUnit, quantity), nil
	default:
		return "", nil, fmt.Errorf("unknown fee kind %d", kind)
	}
}

// AssetRoyalty returns the creator royalty for a sale, caching contract
// answers briefly since quote endpoints hit this repeatedly.
func (e *Engine) AssetRoyalty(ctx context.Context, assetContract string, assetID uint64, salePrice *big.Int) (string, *big.Int, error) {
	key := fmt.Sprintf("%s/%d/%s", market.Normalize(assetContract), assetID, market.Amount(salePrice))
	if v, ok := e.quotes.Get(key); ok {
		q := v.(assetQuote)
		return q.recipient, new(big.Int).Set(q.amount), nil
	}
	recipient, amount, err := e.registry.RoyaltyInfo(ctx, assetContract, assetID, salePrice)
	if err != nil {
		return "", nil, fmt.Errorf("royalty info for %s/%d: %w", assetContract, assetID, err)
	}
	amount = market.Amount(amount)
	e.quotes.Set(key, assetQuote{recipient: recipient, amount: amount}, cache.DefaultExpiration)
	return recipient, new(big.Int).Set(amount), nil
}

type assetQuote struct {
	recipient string
	amount    *big.Int
}

// ListingTotal quotes the all-in purchase price for quantity units:
// principal plus the purchase fee plus the creator royalty.
func (e *Engine) ListingTotal(ctx context.Context, actor, assetContract string, assetID uint64, unitPrice *big.Int, quantity uint64, auth domain.Authorization) (*big.Int, error) {
	_, fee, err := e.MarketplaceFee(actor, domain.KindPurchase, unitPrice, quantity, auth)
	if err != nil {
		return nil, err
	}
	principal := market.Mul(unitPrice, quantity)
	_, royaltyAmt, err := e.AssetRoyalty(ctx, assetContract, assetID, principal)
	if err != nil {
		return nil, err
	}
	total := new(big.Int).Add(principal, fee)
	return total.Add(total, royaltyAmt), nil
}

// OfferCreateTotal quotes what an offerer escrows up front: principal
// plus the offer fee. Creator royalties come out at acceptance, not here.
func (e *Engine) OfferCreateTotal(actor string, unitPrice *big.Int, quantity uint64, auth domain.Authorization) (*big.Int, error) {
	_, fee, err := e.MarketplaceFee(actor, domain.KindOffer, unitPrice, quantity, auth)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(market.Mul(unitPrice, quantity), fee), nil
}

// OfferProceeds quotes what a seller nets from accepting an offer:
// principal minus the purchase fee minus the creator royalty.
func (e *Engine) OfferProceeds(ctx context.Context, actor, assetContract string, assetID uint64, unitPrice *big.Int, quantity uint64, auth domain.Authorization) (*big.Int, error) {
	_, fee, err := e.MarketplaceFee(actor, domain.KindPurchase, unitPrice, quantity, auth)
	if err != nil {
		return nil, err
	}
	principal := market.Mul(unitPrice, quantity)
	_, royaltyAmt, err := e.AssetRoyalty(ctx, assetContract, assetID, principal)
	if err != nil {
		return nil, err
	}
	proceeds := new(big.Int).Sub(principal, fee)
	proceeds.Sub(proceeds, royaltyAmt)
	if proceeds.Sign() < 0 {
		return nil, fmt.Errorf("%w: fees exceed offer principal", market.ErrPriceNotMet)
	}
	return proceeds, nil
}

func validateConfig(cfg domain.Config) error {
	if cfg.Recipient == "" {
		return fmt.Errorf("fee recipient must not be empty")
	}
	if cfg.MarketplaceBps > market.FeeDenominator {
		return fmt.Errorf("marketplace fee above 100%%")
	}
	if cfg.ListingFee != nil && cfg.ListingFee.Sign() < 0 {
		return fmt.Errorf("listing fee must not be negative")
	}
	if cfg.OfferFee != nil && cfg.OfferFee.Sign() < 0 {
		return fmt.Errorf("offer fee must not be negative")
	}
	return nil
}
