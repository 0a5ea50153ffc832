package storage

import (
	"context"
	"strings"
	"sync"

	"github.com/Aynn-Network/marketplace_layer/internal/app/access"
	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/listing"
	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/market"
	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/offer"
)

var (
	_ ListingStore = (*ListingMemory)(nil)
	_ OfferStore   = (*OfferMemory)(nil)
)

// ListingMemory is a thread-safe in-memory ListingStore. Enumeration
// uses a per-contract slice with swap-remove deletion, so deleting a
// record moves the last record into its slot.
type ListingMemory struct {
	mu      sync.RWMutex
	acl     *access.Registry
	records map[listingKey]*listingEntry
	order   map[string][]listingKey
}

type listingKey struct {
	contract string
	assetID  uint64
}

type listingEntry struct {
	rec   listing.Listing
	index int
}

// NewListingMemory creates an empty store owned by the given account.
func NewListingMemory(owner string) *ListingMemory {
	return &ListingMemory{
		acl:     access.NewRegistry(owner),
		records: make(map[listingKey]*listingEntry),
		order:   make(map[string][]listingKey),
	}
}

func (m *ListingMemory) Allow(_ context.Context, caller, subject string, allowed bool) error {
	return m.acl.Grant(caller, subject, allowed)
}

func (m *ListingMemory) IsAllowed(_ context.Context, subject string) (bool, error) {
	return m.acl.IsAllowed(subject), nil
}

func (m *ListingMemory) Create(_ context.Context, caller string, rec listing.Listing) error {
	if err := m.acl.Require(caller); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := listingKey{normKey(rec.AssetContract), rec.AssetID}
	if entry, ok := m.records[key]; ok {
		entry.rec = rec.Clone()
		return nil
	}
	m.records[key] = &listingEntry{rec: rec.Clone(), index: len(m.order[key.contract])}
	m.order[key.contract] = append(m.order[key.contract], key)
	return nil
}

func (m *ListingMemory) Update(_ context.Context, caller string, rec listing.Listing) error {
	if err := m.acl.Require(caller); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := listingKey{normKey(rec.AssetContract), rec.AssetID}
	entry, ok := m.records[key]
	if !ok {
		return market.ErrNotFound
	}
	rec = rec.Clone()
	rec.CreatedAt = entry.rec.CreatedAt
	entry.rec = rec
	return nil
}

func (m *ListingMemory) Delete(_ context.Context, caller, assetContract string, assetID uint64) error {
	if err := m.acl.Require(caller); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := listingKey{normKey(assetContract), assetID}
	entry, ok := m.records[key]
	if !ok {
		return market.ErrNotFound
	}
	keys := m.order[key.contract]
	last := len(keys) - 1
	if entry.index != last {
		moved := keys[last]
		keys[entry.index] = moved
		m.records[moved].index = entry.index
	}
	m.order[key.contract] = keys[:last]
	delete(m.records, key)
	return nil
}

func (m *ListingMemory) Get(_ context.Context, assetContract string, assetID uint64) (listing.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.records[listingKey{normKey(assetContract), assetID}]
	if !ok {
		return listing.Listing{}, nil
	}
	return entry.rec.Clone(), nil
}

func (m *ListingMemory) GetByIndex(_ context.Context, assetContract string, index int) (listing.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := m.order[normKey(assetContract)]
	if index < 0 || index >= len(keys) {
		return listing.Listing{}, market.ErrNotFound
	}
	return m.records[keys[index]].rec.Clone(), nil
}

func (m *ListingMemory) Count(_ context.Context, assetContract string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order[normKey(assetContract)]), nil
}

// OfferMemory is a thread-safe in-memory OfferStore with the same
// swap-remove enumeration, grouped per (contract, asset ID).
type OfferMemory struct {
	mu      sync.RWMutex
	acl     *access.Registry
	records map[offerKey]*offerEntry
	order   map[listingKey][]offerKey
}

type offerKey struct {
	contract string
	assetID  uint64
	offerer  string
}

type offerEntry struct {
	rec   offer.Offer
	index int
}

// NewOfferMemory creates an empty store owned by the given account.
func NewOfferMemory(owner string) *OfferMemory {
	return &OfferMemory{
		acl:     access.NewRegistry(owner),
		records: make(map[offerKey]*offerEntry),
		order:   make(map[listingKey][]offerKey),
	}
}

func (m *OfferMemory) Allow(_ context.Context, caller, subject string, allowed bool) error {
	return m.acl.Grant(caller, subject, allowed)
}

func (m *OfferMemory) IsAllowed(_ context.Context, subject string) (bool, error) {
	return m.acl.IsAllowed(subject), nil
}

func (m *OfferMemory) Create(_ context.Context, caller string, rec offer.Offer) error {
	if err := m.acl.Require(caller); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := offerKey{normKey(rec.AssetContract), rec.AssetID, normKey(rec.Offerer)}
	group := listingKey{key.contract, key.assetID}
	if entry, ok := m.records[key]; ok {
		entry.rec = rec.Clone()
		return nil
	}
	m.records[key] = &offerEntry{rec: rec.Clone(), index: len(m.order[group])}
	m.order[group] = append(m.order[group], key)
	return nil
}

func (m *OfferMemory) Update(_ context.Context, caller string, rec offer.Offer) error {
	if err := m.acl.Require(caller); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := offerKey{normKey(rec.AssetContract), rec.AssetID, normKey(rec.Offerer)}
	entry, ok := m.records[key]
	if !ok {
		return market.ErrNotFound
	}
	rec = rec.Clone()
	rec.CreatedAt = entry.rec.CreatedAt
	entry.rec = rec
	return nil
}

func (m *OfferMemory) Delete(_ context.Context, caller, assetContract string, assetID uint64, offerer string) error {
	if err := m.acl.Require(caller); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := offerKey{normKey(assetContract), assetID, normKey(offerer)}
	entry, ok := m.records[key]
	if !ok {
		return market.ErrNotFound
	}
	group := listingKey{key.contract, key.assetID}
	keys := m.order[group]
	last := len(keys) - 1
	if entry.index != last {
		moved := keys[last]
		keys[entry.index] = moved
		m.records[moved].index = entry.index
	}
	m.order[group] = keys[:last]
	delete(m.records, key)
	return nil
}

func (m *OfferMemory) Get(_ context.Context, assetContract string, assetID uint64, offerer string) (offer.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.records[offerKey{normKey(assetContract), assetID, normKey(offerer)}]
	if !ok {
		return offer.Offer{}, nil
	}
	return entry.rec.Clone(), nil
}

func (m *OfferMemory) GetByIndex(_ context.Context, assetContract string, assetID uint64, index int) (offer.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := m.order[listingKey{normKey(assetContract), assetID}]
	if index < 0 || index >= len(keys) {
		return offer.Offer{}, market.ErrNotFound
	}
	return m.records[keys[index]].rec.Clone(), nil
}

func (m *OfferMemory) Count(_ context.Context, assetContract string, assetID uint64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order[listingKey{normKey(assetContract), assetID}]), nil
}

func normKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
