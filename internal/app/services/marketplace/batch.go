package marketplace

import (
	"context"
	"fmt"
	"math/big"

	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/listing"
	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/market"
	domain "github.com/Aynn-Network/marketplace_layer/internal/app/domain/royalty"
	"github.com/Aynn-Network/marketplace_layer/internal/app/metrics"
	"github.com/Aynn-Network/marketplace_layer/pkg/logger"
)

// ListingItem is one entry of a listing batch.
type ListingItem struct {
	AssetContract string
	AssetID       uint64
	UnitPrice     *big.Int
	Quantity      uint64
}

// PurchaseItem is one entry of a purchase batch.
type PurchaseItem struct {
	AssetContract string
	AssetID       uint64
	Quantity      uint64
}

// BatchWorker executes multi-item operations against the marketplace
// all-or-nothing: the whole batch is validated under one lock before
// the first item is applied, so a bad item rejects the batch with no
// state change. The worker acts under its own account, which must hold
// grants on the stores and the transmitter path.
type BatchWorker struct {
	market  *Service
	account string
	log     *logger.Logger
}

// NewBatchWorker builds a worker bound to the marketplace service.
func NewBatchWorker(svc *Service, account string, log *logger.Logger) *BatchWorker {
	if log == nil {
		log = logger.NewDefault("batch")
	}
	return &BatchWorker{
		market:  svc,
		account: market.Normalize(account),
		log:     log.WithField("worker", account),
	}
}

// Account returns the worker's acting account.
func (w *BatchWorker) Account() string { return w.account }

// CreateListingBatch lists every item for the caller, charging one
// combined listing fee. The payment must equal the summed fees exactly.
func (w *BatchWorker) CreateListingBatch(ctx context.Context, caller string, items []ListingItem, auth domain.Authorization, payment *big.Int) (out []listing.Listing, err error) {
	defer func() { metrics.RecordBatch("create_listing", len(items), err) }()
	if len(items) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	s := w.market
	s.mu.Lock()
	defer s.mu.Unlock()

	// Phase 1: validate every item and apportion the payment.
	remaining := market.Amount(payment)
	plans := make([]createListingPlan, 0, len(items))
	seen := make(map[string]bool, len(items))
	for i, item := range items {
		key := fmt.Sprintf("%s/%d", market.Normalize(item.AssetContract), item.AssetID)
		if seen[key] {
			return nil, fmt.Errorf("item %d: duplicate asset in batch: %w", i, market.ErrAlreadyListed)
		}
		seen[key] = true
		_, fee, ferr := s.fees.MarketplaceFee(caller, domain.KindListing, item.UnitPrice, item.Quantity, auth)
		if ferr != nil {
			return nil, fmt.Errorf("item %d: %w", i, ferr)
		}
		if remaining.Cmp(fee) < 0 {
			return nil, fmt.Errorf("item %d: %w: listing fee is %s", i, market.ErrPriceNotMet, fee)
		}
		plan, perr := s.planCreateListing(ctx, caller, item.AssetContract, item.AssetID, item.UnitPrice, item.Quantity, auth, fee)
		if perr != nil {
			return nil, fmt.Errorf("item %d: %w", i, perr)
		}
		remaining.Sub(remaining, fee)
		plans = append(plans, plan)
	}
	if remaining.Sign() != 0 {
		return nil, fmt.Errorf("%w: payment exceeds combined listing fees", market.ErrPriceNotMet)
	}
	if err := s.requireFunds(ctx, caller, market.Amount(payment)); err != nil {
		return nil, err
	}

	// Phase 2: apply, compensating the whole batch on any failure.
	var undo undoStack
	defer undo.runOnError()
	out = make([]listing.Listing, 0, len(plans))
	for i, plan := range plans {
		rec, aerr := s.applyCreateListing(ctx, &undo, plan)
		if aerr != nil {
			return nil, fmt.Errorf("item %d: %w", i, aerr)
		}
		out = append(out, rec)
	}
	undo.commit()
	w.log.WithFields(map[string]interface{}{
		"caller": caller,
		"items":  len(out),
	}).Info("listing batch created")
	return out, nil
}

// UpdateListingBatch reprices and resizes every item's listing for the
// caller. Quantity changes adjust escrow the way UpdateListing does.
func (w *BatchWorker) UpdateListingBatch(ctx context.Context, caller string, items []ListingItem) (out []listing.Listing, err error) {
	defer func() { metrics.RecordBatch("update_listing", len(items), err) }()
	if len(items) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	s := w.market
	s.mu.Lock()
	defer s.mu.Unlock()

	plans := make([]updateListingPlan, 0, len(items))
	for i, item := range items {
		plan, perr := s.planUpdateListing(ctx, caller, item.AssetContract, item.AssetID, item.UnitPrice, item.Quantity)
		if perr != nil {
			return nil, fmt.Errorf("item %d: %w", i, perr)
		}
		plans = append(plans, plan)
	}
	var undo undoStack
	defer undo.runOnError()
	out = make([]listing.Listing, 0, len(plans))
	for i, plan := range plans {
		applied, aerr := s.applyUpdateListing(ctx, &undo, plan)
		if aerr != nil {
			return nil, fmt.Errorf("item %d: %w", i, aerr)
		}
		out = append(out, applied)
	}
	undo.commit()
	return out, nil
}

// PurchaseItemBatch buys every item for the caller from one combined
// payment. Each item consumes its all-in price; leftover payment stays
// with the caller.
func (w *BatchWorker) PurchaseItemBatch(ctx context.Context, caller string, items []PurchaseItem, auth domain.Authorization, payment *big.Int) (out []listing.Listing, err error) {
	defer func() { metrics.RecordBatch("purchase_item", len(items), err) }()
	if len(items) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	s := w.market
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := market.Amount(payment)
	plans := make([]purchasePlan, 0, len(items))
	claimed := make(map[string]uint64, len(items))
	for i, item := range items {
		key := fmt.Sprintf("%s/%d", market.Normalize(item.AssetContract), item.AssetID)
		prior := claimed[key]
		rec, gerr := s.listings.Get(ctx, item.AssetContract, item.AssetID)
		if gerr != nil {
			return nil, fmt.Errorf("item %d: %w", i, gerr)
		}
		if rec.Empty() {
			return nil, fmt.Errorf("item %d: %w", i, market.ErrNotListed)
		}
		// Repeated assets draw down the same listing within the batch.
		if rec.Sold || prior+item.Quantity > rec.Remaining {
			return nil, fmt.Errorf("item %d: %w", i, market.ErrSold)
		}
		total, terr := s.fees.ListingTotal(ctx, caller, item.AssetContract, item.AssetID, rec.UnitPrice, item.Quantity, auth)
		if terr != nil {
			return nil, fmt.Errorf("item %d: %w", i, terr)
		}
		if remaining.Cmp(total) < 0 {
			return nil, fmt.Errorf("item %d: %w: need %s", i, market.ErrPriceNotMet, total)
		}
		plan, perr := s.planPurchase(ctx, caller, item.AssetContract, item.AssetID, item.Quantity, auth, total)
		if perr != nil {
			return nil, fmt.Errorf("item %d: %w", i, perr)
		}
		plan.rec.Remaining -= prior
		plan.rec.Sold = plan.rec.Remaining == 0
		claimed[key] = prior + item.Quantity
		remaining.Sub(remaining, total)
		plans = append(plans, plan)
	}
	spent := new(big.Int).Sub(market.Amount(payment), remaining)
	if err := s.requireFunds(ctx, caller, spent); err != nil {
		return nil, err
	}

	var undo undoStack
	defer undo.runOnError()
	out = make([]listing.Listing, 0, len(plans))
	for i, plan := range plans {
		rec, aerr := s.applyPurchase(ctx, &undo, plan)
		if aerr != nil {
			return nil, fmt.Errorf("item %d: %w", i, aerr)
		}
		out = append(out, rec)
	}
	undo.commit()
	w.log.WithFields(map[string]interface{}{
		"caller": caller,
		"items":  len(out),
	}).Info("purchase batch settled")
	return out, nil
}
