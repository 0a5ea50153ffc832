// Package marketplace implements the trading engine: listing lifecycle,
// direct purchase with partial fulfillment, escrowed offers, fee and
// royalty settlement, and the batch worker.
//
// Every mutating operation validates completely before touching any
// state, then applies under a single service lock. Payments flow
// through the marketplace account: callers attach a payment that is
// pulled in first, then distributed to the fee recipient, creator and
// seller as the operation requires. Asset escrow goes through the
// transmitter router under the marketplace's own capability grants.
package marketplace

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/Aynn-Network/marketplace_layer/internal/app/chain"
	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/listing"
	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/market"
	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/offer"
	domain "github.com/Aynn-Network/marketplace_layer/internal/app/domain/royalty"
	"github.com/Aynn-Network/marketplace_layer/internal/app/events"
	"github.com/Aynn-Network/marketplace_layer/internal/app/metrics"
	royaltysvc "github.com/Aynn-Network/marketplace_layer/internal/app/services/royalty"
	"github.com/Aynn-Network/marketplace_layer/internal/app/services/transmitter"
	"github.com/Aynn-Network/marketplace_layer/internal/app/storage"
	"github.com/Aynn-Network/marketplace_layer/pkg/logger"
)

// Deps are the collaborators the service operates through.
type Deps struct {
	Listings storage.ListingStore
	Offers   storage.OfferStore
	Router   *transmitter.Router
	Fees     *royaltysvc.Engine
	Ledger   chain.CurrencyLedger
	Events   *events.Log
}

// Service is the marketplace engine. The owner administers pause,
// fee schedule and withdrawal; the account holds currency escrow and
// asset custody.
type Service struct {
	mu      sync.Mutex
	owner   string
	account string
	paused  bool

	listings storage.ListingStore
	offers   storage.OfferStore
	router   *transmitter.Router
	fees     *royaltysvc.Engine
	ledger   chain.CurrencyLedger
	events   *events.Log
	log      *logger.Logger
	now      func() time.Time
}

// New builds the marketplace service.
func New(owner, account string, deps Deps, log *logger.Logger) (*Service, error) {
	if deps.Listings == nil || deps.Offers == nil {
		return nil, fmt.Errorf("marketplace requires listing and offer stores")
	}
	if deps.Router == nil || deps.Fees == nil || deps.Ledger == nil {
		return nil, fmt.Errorf("marketplace requires router, fee engine and ledger")
	}
	if deps.Events == nil {
		deps.Events = events.NewLog(0)
	}
	if log == nil {
		log = logger.NewDefault("marketplace")
	}
	return &Service{
		owner:    market.Normalize(owner),
		account:  market.Normalize(account),
		listings: deps.Listings,
		offers:   deps.Offers,
		router:   deps.Router,
		fees:     deps.Fees,
		ledger:   deps.Ledger,
		events:   deps.Events,
		log:      log.WithField("account", account),
		now:      time.Now,
	}, nil
}

// Account returns the marketplace escrow account.
func (s *Service) Account() string { return s.account }

// Owner returns the administrating account.
func (s *Service) Owner() string { return s.owner }

// Events returns the activity log.
func (s *Service) Events() *events.Log { return s.events }

// Paused reports whether new listings and offers are suspended.
func (s *Service) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// SetPaused suspends or resumes listing and offer creation. Owner only.
// Purchases, accepts, updates and deletes keep working while paused so
// participants can always exit.
func (s *Service) SetPaused(caller string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if market.Normalize(caller) != s.owner {
		return market.ErrNotOwner
	}
	s.paused = paused
	s.log.WithField("paused", paused).Info("pause state changed")
	return nil
}

// WithdrawAll moves the full marketplace balance to a successor
// account. Owner only. Escrow obligations move with the balance: the
// successor is expected to share the stores and keep serving refunds.
func (s *Service) WithdrawAll(ctx context.Context, caller, successor string) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if market.Normalize(caller) != s.owner {
		return nil, market.ErrNotOwner
	}
	if market.Normalize(successor) == "" {
		return nil, fmt.Errorf("successor account must not be empty")
	}
	bal, err := s.ledger.BalanceOf(ctx, s.account)
	if err != nil {
		return nil, err
	}
	if bal.Sign() > 0 {
		if err := s.ledger.Pay(ctx, s.account, successor, bal); err != nil {
			return nil, err
		}
	}
	s.log.WithFields(map[string]interface{}{
		"successor": successor,
		"amount":    bal.String(),
	}).Warn("marketplace balance withdrawn")
	return bal, nil
}

// GetListing returns the listing record, zero-valued if absent.
func (s *Service) GetListing(ctx context.Context, assetContract string, assetID uint64) (listing.Listing, error) {
	return s.listings.Get(ctx, assetContract, assetID)
}

// GetOffer returns the offer record, zero-valued if absent.
func (s *Service) GetOffer(ctx context.Context, assetContract string, assetID uint64, offerer string) (offer.Offer, error) {
	return s.offers.Get(ctx, assetContract, assetID, offerer)
}

// ListListings enumerates the contract's listings. Order is not stable.
func (s *Service) ListListings(ctx context.Context, assetContract string) ([]listing.Listing, error) {
	n, err := s.listings.Count(ctx, assetContract)
	if err != nil {
		return nil, err
	}
	out := make([]listing.Listing, 0, n)
	for i := 0; i < n; i++ {
		rec, err := s.listings.GetByIndex(ctx, assetContract, i)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ListOffers enumerates the asset's offers. Order is not stable.
func (s *Service) ListOffers(ctx context.Context, assetContract string, assetID uint64) ([]offer.Offer, error) {
	n, err := s.offers.Count(ctx, assetContract, assetID)
	if err != nil {
		return nil, err
	}
	out := make([]offer.Offer, 0, n)
	for i := 0; i < n; i++ {
		rec, err := s.offers.GetByIndex(ctx, assetContract, assetID, i)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ListingPriceWithRoyalties quotes the all-in cost of buying quantity
// units of the listed asset: principal, purchase fee and creator
// royalty.
func (s *Service) ListingPriceWithRoyalties(ctx context.Context, actor, assetContract string, assetID, quantity uint64, auth domain.Authorization) (*big.Int, error) {
	rec, err := s.listings.Get(ctx, assetContract, assetID)
	if err != nil {
		return nil, err
	}
	if !rec.Active() {
		return nil, market.ErrNotListed
	}
	return s.fees.ListingTotal(ctx, actor, assetContract, assetID, rec.UnitPrice, quantity, auth)
}

// OfferPriceWithRoyalties quotes offer economics for the given fee
// kind: KindOffer yields the up-front escrow for creating the offer,
// KindPurchase yields the seller's net proceeds from accepting it.
func (s *Service) OfferPriceWithRoyalties(ctx context.Context, actor, assetContract string, assetID uint64, kind domain.Kind, unitPrice *big.Int, quantity uint64, auth domain.Authorization) (*big.Int, error) {
	switch kind {
	case domain.KindOffer:
		return s.fees.OfferCreateTotal(actor, unitPrice, quantity, auth)
	case domain.KindPurchase:
		return s.fees.OfferProceeds(ctx, actor, assetContract, assetID, unitPrice, quantity, auth)
	default:
		return nil, fmt.Errorf("unsupported fee kind %s", kind)
	}
}

// CreateListing lists quantity units at unitPrice. The caller pays the
// listing fee exactly and the asset moves into marketplace custody.
func (s *Service) CreateListing(ctx context.Context, caller, assetContract string, assetID uint64, unitPrice *big.Int, quantity uint64, auth domain.Authorization, payment *big.Int) (rec listing.Listing, err error) {
	defer s.observe("create_listing", s.now(), &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := s.planCreateListing(ctx, caller, assetContract, assetID, unitPrice, quantity, auth, payment)
	if err != nil {
		return listing.Listing{}, err
	}
	var undo undoStack
	defer undo.runOnError()
	rec, err = s.applyCreateListing(ctx, &undo, plan)
	if err != nil {
		return listing.Listing{}, err
	}
	undo.commit()
	return rec, nil
}

type createListingPlan struct {
	caller   string
	prev     listing.Listing // inert record being replaced, if any
	rec      listing.Listing
	fee      *big.Int
	feeTo    string
	payment  *big.Int
	quantity uint64
}

func (s *Service) planCreateListing(ctx context.Context, caller, assetContract string, assetID uint64, unitPrice *big.Int, quantity uint64, auth domain.Authorization, payment *big.Int) (createListingPlan, error) {
	var plan createListingPlan
	if s.paused {
		return plan, market.ErrPaused
	}
	if unitPrice == nil || unitPrice.Sign() <= 0 {
		return plan, market.ErrPriceMustBeAboveZero
	}
	if quantity == 0 {
		return plan, fmt.Errorf("quantity must be positive")
	}
	existing, err := s.listings.Get(ctx, assetContract, assetID)
	if err != nil {
		return plan, err
	}
	if existing.Active() {
		return plan, market.ErrAlreadyListed
	}
	feeTo, fee, err := s.fees.MarketplaceFee(caller, domain.KindListing, unitPrice, quantity, auth)
	if err != nil {
		return plan, err
	}
	payment = market.Amount(payment)
	if payment.Cmp(fee) != 0 {
		return plan, fmt.Errorf("%w: listing fee is %s", market.ErrPriceNotMet, fee)
	}
	if err := s.requireFunds(ctx, caller, payment); err != nil {
		return plan, err
	}
	if err := s.router.Validate(ctx, s.account, transmitter.DefaultClass, assetContract, assetID, quantity, caller); err != nil {
		return plan, err
	}
	now := s.now().UTC()
	plan = createListingPlan{
		caller: market.Normalize(caller),
		prev:   existing.Clone(),
		rec: listing.Listing{
			AssetContract: market.Normalize(assetContract),
			AssetID:       assetID,
			Seller:        market.Normalize(caller),
			Holder:        market.Normalize(caller),
			UnitPrice:     new(big.Int).Set(unitPrice),
			Remaining:     quantity,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		fee:      fee,
		feeTo:    feeTo,
		payment:  payment,
		quantity: quantity,
	}
	return plan, nil
}

func (s *Service) applyCreateListing(ctx context.Context, undo *undoStack, plan createListingPlan) (listing.Listing, error) {
	if err := s.pull(ctx, undo, plan.caller, plan.payment); err != nil {
		return listing.Listing{}, err
	}
	if err := s.escrowAsset(ctx, undo, plan.rec.AssetContract, plan.rec.AssetID, plan.quantity, plan.caller); err != nil {
		return listing.Listing{}, err
	}
	if err := s.forward(ctx, undo, plan.feeTo, plan.fee); err != nil {
		return listing.Listing{}, err
	}
	if err := s.listings.Create(ctx, s.account, plan.rec); err != nil {
		return listing.Listing{}, err
	}
	prev := plan.prev
	undo.push(func() {
		if prev.Empty() {
			s.listings.Delete(ctx, s.account, plan.rec.AssetContract, plan.rec.AssetID)
		} else {
			s.listings.Update(ctx, s.account, prev)
		}
	})

	rec := plan.rec.Clone()
	undo.after(func() {
		s.events.Emit(events.Event{
			Type:          events.ItemListed,
			AssetContract: rec.AssetContract,
			AssetID:       rec.AssetID,
			Actor:         plan.caller,
			Amount:        plan.fee,
			Listing:       &rec,
		})
		s.log.WithFields(map[string]interface{}{
			"contract": rec.AssetContract,
			"asset":    rec.AssetID,
			"seller":   rec.Seller,
			"quantity": rec.Remaining,
		}).Info("listing created")
	})
	return plan.rec, nil
}

// UpdateListing changes the unit price and quantity of an existing
// listing. Holder only. A larger quantity escrows the extra units from
// the seller; a smaller one returns the surplus to the seller.
func (s *Service) UpdateListing(ctx context.Context, caller, assetContract string, assetID uint64, unitPrice *big.Int, quantity uint64) (rec listing.Listing, err error) {
	defer s.observe("update_listing", s.now(), &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := s.planUpdateListing(ctx, caller, assetContract, assetID, unitPrice, quantity)
	if err != nil {
		return listing.Listing{}, err
	}
	var undo undoStack
	defer undo.runOnError()
	rec, err = s.applyUpdateListing(ctx, &undo, plan)
	if err != nil {
		return listing.Listing{}, err
	}
	undo.commit()
	return rec, nil
}

type updateListingPlan struct {
	caller  string
	prev    listing.Listing
	rec     listing.Listing
	escrow  uint64 // extra units pulled from the seller
	release uint64 // surplus units returned to the seller
}

func (s *Service) planUpdateListing(ctx context.Context, caller, assetContract string, assetID uint64, unitPrice *big.Int, quantity uint64) (updateListingPlan, error) {
	var plan updateListingPlan
	if unitPrice == nil || unitPrice.Sign() <= 0 {
		return plan, market.ErrPriceMustBeAboveZero
	}
	if quantity == 0 {
		return plan, fmt.Errorf("quantity must be positive")
	}
	rec, err := s.listings.Get(ctx, assetContract, assetID)
	if err != nil {
		return plan, err
	}
	if !rec.Active() {
		return plan, market.ErrNotListed
	}
	if !market.SameAccount(rec.Holder, caller) {
		return plan, market.ErrNotOwner
	}
	plan.prev = rec.Clone()
	switch {
	case quantity > rec.Remaining:
		plan.escrow = quantity - rec.Remaining
		if err := s.router.Validate(ctx, s.account, transmitter.DefaultClass, assetContract, assetID, plan.escrow, rec.Seller); err != nil {
			return plan, err
		}
	case quantity < rec.Remaining:
		plan.release = rec.Remaining - quantity
	}
	rec.UnitPrice = new(big.Int).Set(unitPrice)
	rec.Remaining = quantity
	rec.UpdatedAt = s.now().UTC()
	plan.caller = market.Normalize(caller)
	plan.rec = rec
	return plan, nil
}

func (s *Service) applyUpdateListing(ctx context.Context, undo *undoStack, plan updateListingPlan) (listing.Listing, error) {
	if plan.escrow > 0 {
		if err := s.escrowAsset(ctx, undo, plan.rec.AssetContract, plan.rec.AssetID, plan.escrow, plan.rec.Seller); err != nil {
			return listing.Listing{}, err
		}
	}
	if plan.release > 0 {
		if err := s.releaseAsset(ctx, undo, plan.rec.AssetContract, plan.rec.AssetID, plan.release, plan.rec.Seller); err != nil {
			return listing.Listing{}, err
		}
	}
	if err := s.listings.Update(ctx, s.account, plan.rec); err != nil {
		return listing.Listing{}, err
	}
	prev := plan.prev
	undo.push(func() { s.listings.Update(ctx, s.account, prev) })

	out := plan.rec.Clone()
	undo.after(func() {
		s.events.Emit(events.Event{
			Type:          events.ItemUpdated,
			AssetContract: plan.rec.AssetContract,
			AssetID:       plan.rec.AssetID,
			Actor:         plan.caller,
			Listing:       &out,
		})
	})
	return plan.rec, nil
}

// DeleteListing removes an active listing. Holder only. Unsold units
// leave custody back to the seller.
func (s *Service) DeleteListing(ctx context.Context, caller, assetContract string, assetID uint64) (err error) {
	defer s.observe("delete_listing", s.now(), &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.listings.Get(ctx, assetContract, assetID)
	if err != nil {
		return err
	}
	if !rec.Active() {
		return market.ErrNotListed
	}
	if !market.SameAccount(rec.Holder, caller) {
		return market.ErrNotOwner
	}

	if rec.Remaining > 0 {
		if err := s.router.Transfer(ctx, s.account, transmitter.DefaultClass, rec.AssetContract, rec.AssetID, rec.Remaining, s.account, rec.Seller); err != nil {
			return err
		}
	}
	if err := s.listings.Delete(ctx, s.account, assetContract, assetID); err != nil {
		return err
	}
	s.events.Emit(events.Event{
		Type:          events.ItemDeleted,
		AssetContract: rec.AssetContract,
		AssetID:       rec.AssetID,
		Actor:         market.Normalize(caller),
	})
	s.log.WithFields(map[string]interface{}{
		"contract": rec.AssetContract,
		"asset":    rec.AssetID,
		"returned": rec.Remaining,
	}).Info("listing deleted")
	return nil
}

// PurchaseItem buys quantity units of a listed asset. The payment must
// cover principal, purchase fee and creator royalty; any excess stays
// in the marketplace account.
func (s *Service) PurchaseItem(ctx context.Context, caller, assetContract string, assetID, quantity uint64, auth domain.Authorization, payment *big.Int) (rec listing.Listing, err error) {
	defer s.observe("purchase_item", s.now(), &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := s.planPurchase(ctx, caller, assetContract, assetID, quantity, auth, payment)
	if err != nil {
		return listing.Listing{}, err
	}
	var undo undoStack
	defer undo.runOnError()
	rec, err = s.applyPurchase(ctx, &undo, plan)
	if err != nil {
		return listing.Listing{}, err
	}
	undo.commit()
	return rec, nil
}

type purchasePlan struct {
	caller    string
	prev      listing.Listing
	rec       listing.Listing
	quantity  uint64
	payment   *big.Int
	principal *big.Int
	fee       *big.Int
	feeTo     string
	royalty   *big.Int
	royaltyTo string
}

func (s *Service) planPurchase(ctx context.Context, caller, assetContract string, assetID, quantity uint64, auth domain.Authorization, payment *big.Int) (purchasePlan, error) {
	var plan purchasePlan
	if quantity == 0 {
		return plan, fmt.Errorf("quantity must be positive")
	}
	rec, err := s.listings.Get(ctx, assetContract, assetID)
	if err != nil {
		return plan, err
	}
	if rec.Empty() {
		return plan, market.ErrNotListed
	}
	if rec.Sold || quantity > rec.Remaining {
		return plan, market.ErrSold
	}
	if market.SameAccount(rec.Seller, caller) {
		return plan, market.ErrSellerCannotBuy
	}
	feeTo, fee, err := s.fees.MarketplaceFee(caller, domain.KindPurchase, rec.UnitPrice, quantity, auth)
	if err != nil {
		return plan, err
	}
	principal := market.Mul(rec.UnitPrice, quantity)
	royaltyTo, royaltyAmt, err := s.fees.AssetRoyalty(ctx, assetContract, assetID, principal)
	if err != nil {
		return plan, err
	}
	total := new(big.Int).Add(principal, fee)
	total.Add(total, royaltyAmt)
	payment = market.Amount(payment)
	if payment.Cmp(total) < 0 {
		return plan, fmt.Errorf("%w: need %s", market.ErrPriceNotMet, total)
	}
	if err := s.requireFunds(ctx, caller, payment); err != nil {
		return plan, err
	}

	prev := rec.Clone()
	rec.Remaining -= quantity
	rec.Holder = market.Normalize(caller)
	rec.Sold = rec.Remaining == 0
	rec.UpdatedAt = s.now().UTC()
	plan = purchasePlan{
		caller:    market.Normalize(caller),
		prev:      prev,
		rec:       rec,
		quantity:  quantity,
		payment:   payment,
		principal: principal,
		fee:       fee,
		feeTo:     feeTo,
		royalty:   royaltyAmt,
		royaltyTo: royaltyTo,
	}
	return plan, nil
}

func (s *Service) applyPurchase(ctx context.Context, undo *undoStack, plan purchasePlan) (listing.Listing, error) {
	if err := s.pull(ctx, undo, plan.caller, plan.payment); err != nil {
		return listing.Listing{}, err
	}
	if err := s.forward(ctx, undo, plan.rec.Seller, plan.principal); err != nil {
		return listing.Listing{}, err
	}
	if err := s.forward(ctx, undo, plan.royaltyTo, plan.royalty); err != nil {
		return listing.Listing{}, err
	}
	if err := s.forward(ctx, undo, plan.feeTo, plan.fee); err != nil {
		return listing.Listing{}, err
	}
	if err := s.releaseAsset(ctx, undo, plan.rec.AssetContract, plan.rec.AssetID, plan.quantity, plan.caller); err != nil {
		return listing.Listing{}, err
	}
	if err := s.listings.Update(ctx, s.account, plan.rec); err != nil {
		return listing.Listing{}, err
	}
	prev := plan.prev
	undo.push(func() { s.listings.Update(ctx, s.account, prev) })

	rec := plan.rec.Clone()
	undo.after(func() {
		s.events.Emit(events.Event{
			Type:          events.ItemPurchased,
			AssetContract: rec.AssetContract,
			AssetID:       rec.AssetID,
			Actor:         plan.caller,
			Counterparty:  rec.Seller,
			Amount:        plan.payment,
			Listing:       &rec,
		})
		s.log.WithFields(map[string]interface{}{
			"contract": rec.AssetContract,
			"asset":    rec.AssetID,
			"buyer":    plan.caller,
			"quantity": plan.quantity,
			"sold_out": rec.Sold,
		}).Info("item purchased")
	})
	return plan.rec, nil
}

// CreateOffer escrows an offer for quantity units at unitPrice. The
// payment covers principal plus the offer fee; the fee is paid out
// immediately and is not refundable.
func (s *Service) CreateOffer(ctx context.Context, caller, assetContract string, assetID uint64, unitPrice *big.Int, quantity uint64, auth domain.Authorization, payment *big.Int) (rec offer.Offer, err error) {
	defer s.observe("create_offer", s.now(), &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := s.planCreateOffer(ctx, caller, assetContract, assetID, unitPrice, quantity, auth, payment)
	if err != nil {
		return offer.Offer{}, err
	}
	return s.applyCreateOffer(ctx, plan)
}

type createOfferPlan struct {
	caller   string
	rec      offer.Offer
	previous *offer.Offer
	fee      *big.Int
	feeTo    string
	payment  *big.Int
}

func (s *Service) planCreateOffer(ctx context.Context, caller, assetContract string, assetID uint64, unitPrice *big.Int, quantity uint64, auth domain.Authorization, payment *big.Int) (createOfferPlan, error) {
	var plan createOfferPlan
	if s.paused {
		return plan, market.ErrPaused
	}
	if unitPrice == nil || unitPrice.Sign() <= 0 {
		return plan, market.ErrPriceMustBeAboveZero
	}
	if quantity == 0 {
		return plan, fmt.Errorf("quantity must be positive")
	}
	lst, err := s.listings.Get(ctx, assetContract, assetID)
	if err != nil {
		return plan, err
	}
	if lst.Active() && market.SameAccount(lst.Holder, caller) {
		return plan, market.ErrSellerCannotBuy
	}
	existing, err := s.offers.Get(ctx, assetContract, assetID, caller)
	if err != nil {
		return plan, err
	}
	feeTo, fee, err := s.fees.MarketplaceFee(caller, domain.KindOffer, unitPrice, quantity, auth)
	if err != nil {
		return plan, err
	}
	principal := market.Mul(unitPrice, quantity)
	total := new(big.Int).Add(principal, fee)
	payment = market.Amount(payment)
	if payment.Cmp(total) < 0 {
		return plan, fmt.Errorf("%w: need %s", market.ErrPriceNotMet, total)
	}
	if err := s.requireFunds(ctx, caller, payment); err != nil {
		return plan, err
	}
	now := s.now().UTC()
	plan = createOfferPlan{
		caller: market.Normalize(caller),
		rec: offer.Offer{
			AssetContract: market.Normalize(assetContract),
			AssetID:       assetID,
			Offerer:       market.Normalize(caller),
			UnitPrice:     new(big.Int).Set(unitPrice),
			Quantity:      quantity,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		fee:     fee,
		feeTo:   feeTo,
		payment: payment,
	}
	if !existing.Empty() && !existing.Accepted {
		prev := existing.Clone()
		plan.previous = &prev
	}
	return plan, nil
}

func (s *Service) applyCreateOffer(ctx context.Context, plan createOfferPlan) (offer.Offer, error) {
	var undo undoStack
	defer undo.runOnError()

	if err := s.pull(ctx, &undo, plan.caller, plan.payment); err != nil {
		return offer.Offer{}, err
	}
	if err := s.forward(ctx, &undo, plan.feeTo, plan.fee); err != nil {
		return offer.Offer{}, err
	}
	// Replacing a live offer releases its old escrow first.
	if plan.previous != nil {
		if err := s.forward(ctx, &undo, plan.previous.Offerer, plan.previous.Principal()); err != nil {
			return offer.Offer{}, err
		}
	}
	if err := s.offers.Create(ctx, s.account, plan.rec); err != nil {
		return offer.Offer{}, err
	}
	undo.commit()

	rec := plan.rec.Clone()
	s.events.Emit(events.Event{
		Type:          events.OfferCreated,
		AssetContract: rec.AssetContract,
		AssetID:       rec.AssetID,
		Actor:         plan.caller,
		Amount:        plan.payment,
		Offer:         &rec,
	})
	s.log.WithFields(map[string]interface{}{
		"contract": rec.AssetContract,
		"asset":    rec.AssetID,
		"offerer":  rec.Offerer,
		"quantity": rec.Quantity,
	}).Info("offer created")
	return plan.rec, nil
}

// UpdateOffer changes the caller's offer to newPrice and newQuantity.
// The attached payment must equal the escrow increase exactly; a
// decrease refunds the difference.
func (s *Service) UpdateOffer(ctx context.Context, caller, assetContract string, assetID uint64, newPrice *big.Int, newQuantity uint64, payment *big.Int) (rec offer.Offer, err error) {
	defer s.observe("update_offer", s.now(), &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	if newPrice == nil || newPrice.Sign() <= 0 {
		return offer.Offer{}, market.ErrPriceMustBeAboveZero
	}
	if newQuantity == 0 {
		return offer.Offer{}, fmt.Errorf("quantity must be positive")
	}
	existing, err := s.offers.Get(ctx, assetContract, assetID, caller)
	if err != nil {
		return offer.Offer{}, err
	}
	if existing.Empty() || existing.Accepted {
		return offer.Offer{}, market.ErrNotFound
	}

	oldPrincipal := existing.Principal()
	newPrincipal := market.Mul(newPrice, newQuantity)
	delta := new(big.Int).Sub(newPrincipal, oldPrincipal)
	payment = market.Amount(payment)

	var undo undoStack
	defer undo.runOnError()
	switch delta.Sign() {
	case 1:
		if payment.Cmp(delta) != 0 {
			return offer.Offer{}, fmt.Errorf("%w: escrow top-up is %s", market.ErrPriceNotMet, delta)
		}
		if err := s.pull(ctx, &undo, caller, delta); err != nil {
			return offer.Offer{}, err
		}
	case -1:
		if payment.Sign() != 0 {
			return offer.Offer{}, fmt.Errorf("%w: decrease refunds, expected no payment", market.ErrPriceNotMet)
		}
		if err := s.forward(ctx, &undo, existing.Offerer, new(big.Int).Neg(delta)); err != nil {
			return offer.Offer{}, err
		}
	default:
		if payment.Sign() != 0 {
			return offer.Offer{}, fmt.Errorf("%w: escrow unchanged, expected no payment", market.ErrPriceNotMet)
		}
	}

	existing.UnitPrice = new(big.Int).Set(newPrice)
	existing.Quantity = newQuantity
	existing.UpdatedAt = s.now().UTC()
	if err := s.offers.Update(ctx, s.account, existing); err != nil {
		return offer.Offer{}, err
	}
	undo.commit()

	out := existing.Clone()
	s.events.Emit(events.Event{
		Type:          events.OfferUpdated,
		AssetContract: out.AssetContract,
		AssetID:       out.AssetID,
		Actor:         market.Normalize(caller),
		Offer:         &out,
	})
	return existing, nil
}

// DeleteOffer withdraws the caller's offer and refunds the escrowed
// principal. The creation fee is not refunded.
func (s *Service) DeleteOffer(ctx context.Context, caller, assetContract string, assetID uint64) (err error) {
	defer s.observe("delete_offer", s.now(), &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.offers.Get(ctx, assetContract, assetID, caller)
	if err != nil {
		return err
	}
	if existing.Empty() || existing.Accepted {
		return market.ErrNotFound
	}

	var undo undoStack
	defer undo.runOnError()
	if err := s.forward(ctx, &undo, existing.Offerer, existing.Principal()); err != nil {
		return err
	}
	if err := s.offers.Delete(ctx, s.account, assetContract, assetID, caller); err != nil {
		return err
	}
	undo.commit()

	s.events.Emit(events.Event{
		Type:          events.OfferDeleted,
		AssetContract: existing.AssetContract,
		AssetID:       existing.AssetID,
		Actor:         market.Normalize(caller),
		Amount:        existing.Principal(),
	})
	return nil
}

// AcceptOffer settles an escrowed offer against the caller's listing.
// Seller only. The escrow pays the purchase fee and creator royalty;
// the remainder goes to the seller and the asset moves to the offerer.
func (s *Service) AcceptOffer(ctx context.Context, caller, assetContract string, assetID uint64, offerer string, auth domain.Authorization) (rec offer.Offer, err error) {
	defer s.observe("accept_offer", s.now(), &err)
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := s.planAcceptOffer(ctx, caller, assetContract, assetID, offerer, auth)
	if err != nil {
		return offer.Offer{}, err
	}
	return s.applyAcceptOffer(ctx, plan)
}

type acceptOfferPlan struct {
	caller    string
	lst       listing.Listing
	off       offer.Offer
	fee       *big.Int
	feeTo     string
	royalty   *big.Int
	royaltyTo string
	proceeds  *big.Int
}

func (s *Service) planAcceptOffer(ctx context.Context, caller, assetContract string, assetID uint64, offerer string, auth domain.Authorization) (acceptOfferPlan, error) {
	var plan acceptOfferPlan
	lst, err := s.listings.Get(ctx, assetContract, assetID)
	if err != nil {
		return plan, err
	}
	if !lst.Active() {
		return plan, market.ErrNotListed
	}
	if !market.SameAccount(lst.Seller, caller) {
		return plan, market.ErrNotOwner
	}
	off, err := s.offers.Get(ctx, assetContract, assetID, offerer)
	if err != nil {
		return plan, err
	}
	if off.Empty() || off.Accepted {
		return plan, market.ErrNotFound
	}
	if off.Quantity > lst.Remaining {
		return plan, market.ErrSold
	}
	feeTo, fee, err := s.fees.MarketplaceFee(caller, domain.KindPurchase, off.UnitPrice, off.Quantity, auth)
	if err != nil {
		return plan, err
	}
	principal := off.Principal()
	royaltyTo, royaltyAmt, err := s.fees.AssetRoyalty(ctx, assetContract, assetID, principal)
	if err != nil {
		return plan, err
	}
	proceeds := new(big.Int).Sub(principal, fee)
	proceeds.Sub(proceeds, royaltyAmt)
	if proceeds.Sign() < 0 {
		return plan, fmt.Errorf("%w: fees exceed offer principal", market.ErrPriceNotMet)
	}

	now := s.now().UTC()
	lst.Remaining -= off.Quantity
	lst.Holder = market.Normalize(offerer)
	lst.Sold = lst.Remaining == 0
	lst.UpdatedAt = now
	off.Accepted = true
	off.UpdatedAt = now
	plan = acceptOfferPlan{
		caller:    market.Normalize(caller),
		lst:       lst,
		off:       off,
		fee:       fee,
		feeTo:     feeTo,
		royalty:   royaltyAmt,
		royaltyTo: royaltyTo,
		proceeds:  proceeds,
	}
	return plan, nil
}

func (s *Service) applyAcceptOffer(ctx context.Context, plan acceptOfferPlan) (offer.Offer, error) {
	var undo undoStack
	defer undo.runOnError()

	if err := s.forward(ctx, &undo, plan.feeTo, plan.fee); err != nil {
		return offer.Offer{}, err
	}
	if err := s.forward(ctx, &undo, plan.royaltyTo, plan.royalty); err != nil {
		return offer.Offer{}, err
	}
	if err := s.forward(ctx, &undo, plan.lst.Seller, plan.proceeds); err != nil {
		return offer.Offer{}, err
	}
	if err := s.router.Transfer(ctx, s.account, transmitter.DefaultClass, plan.lst.AssetContract, plan.lst.AssetID, plan.off.Quantity, s.account, plan.off.Offerer); err != nil {
		return offer.Offer{}, err
	}
	if err := s.listings.Update(ctx, s.account, plan.lst); err != nil {
		return offer.Offer{}, err
	}
	if err := s.offers.Update(ctx, s.account, plan.off); err != nil {
		return offer.Offer{}, err
	}
	undo.commit()

	out := plan.off.Clone()
	s.events.Emit(events.Event{
		Type:          events.OfferAccepted,
		AssetContract: out.AssetContract,
		AssetID:       out.AssetID,
		Actor:         plan.caller,
		Counterparty:  out.Offerer,
		Amount:        out.Principal(),
		Offer:         &out,
	})
	s.log.WithFields(map[string]interface{}{
		"contract": out.AssetContract,
		"asset":    out.AssetID,
		"offerer":  out.Offerer,
		"quantity": out.Quantity,
	}).Info("offer accepted")
	return plan.off, nil
}

// requireFunds checks the payer can actually cover the amount so the
// apply phase does not fail mid-settlement.
func (s *Service) requireFunds(ctx context.Context, payer string, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	bal, err := s.ledger.BalanceOf(ctx, payer)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return market.ErrInsufficientBalance
	}
	return nil
}

// pull moves the caller's payment into the marketplace account.
func (s *Service) pull(ctx context.Context, undo *undoStack, from string, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if err := s.ledger.Pay(ctx, from, s.account, amount); err != nil {
		return err
	}
	undo.push(func() { s.ledger.Pay(ctx, s.account, from, amount) })
	return nil
}

// forward pays out of the marketplace account.
func (s *Service) forward(ctx context.Context, undo *undoStack, to string, amount *big.Int) error {
	if to == "" || amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := s.ledger.Pay(ctx, s.account, to, amount); err != nil {
		return err
	}
	undo.push(func() { s.ledger.Pay(ctx, to, s.account, amount) })
	return nil
}

// escrowAsset moves the asset into marketplace custody.
func (s *Service) escrowAsset(ctx context.Context, undo *undoStack, assetContract string, assetID, quantity uint64, from string) error {
	if err := s.router.Transfer(ctx, s.account, transmitter.DefaultClass, assetContract, assetID, quantity, from, s.account); err != nil {
		return err
	}
	undo.push(func() {
		s.router.Transfer(ctx, s.account, transmitter.DefaultClass, assetContract, assetID, quantity, s.account, from)
	})
	return nil
}

// releaseAsset moves units out of marketplace custody.
func (s *Service) releaseAsset(ctx context.Context, undo *undoStack, assetContract string, assetID, quantity uint64, to string) error {
	if err := s.router.Transfer(ctx, s.account, transmitter.DefaultClass, assetContract, assetID, quantity, s.account, to); err != nil {
		return err
	}
	undo.push(func() {
		s.router.Transfer(ctx, s.account, transmitter.DefaultClass, assetContract, assetID, quantity, to, s.account)
	})
	return nil
}

// observe is meant to be deferred with a pointer to the named error
// result so the outcome is read when the operation returns.
func (s *Service) observe(op string, start time.Time, err *error) {
	metrics.RecordOperation(op, time.Since(start), *err)
}

// undoStack compensates already-applied steps when a later step of the
// same operation fails. Commit disarms it and runs the deferred steps,
// so events and logs only surface for state that actually stuck.
type undoStack struct {
	steps     []func()
	deferred  []func()
	committed bool
}

func (u *undoStack) push(fn func()) { u.steps = append(u.steps, fn) }

// after schedules fn to run on commit.
func (u *undoStack) after(fn func()) { u.deferred = append(u.deferred, fn) }

func (u *undoStack) commit() {
	u.committed = true
	for _, fn := range u.deferred {
		fn()
	}
}

func (u *undoStack) runOnError() {
	if u.committed {
		return
	}
	for i := len(u.steps) - 1; i >= 0; i-- {
		u.steps[i]()
	}
}
