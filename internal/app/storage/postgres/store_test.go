package postgres

import (
	"context"
	"errors"
	"math/big"
	"os"
	"testing"

	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/listing"
	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/market"
	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/offer"
)

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	ctx := context.Background()
	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := EnsureSchema(ctx, db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if _, err := db.ExecContext(ctx, `TRUNCATE market_listings, market_offers`); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	listings := NewListingStore(db, "owner")
	offers := NewOfferStore(db, "owner")

	rec := listing.Listing{
		AssetContract: "0xArt",
		AssetID:       1,
		Seller:        "alice",
		Holder:        "alice",
		UnitPrice:     big.NewInt(100),
		Remaining:     3,
	}
	if err := listings.Create(ctx, "owner", rec); err != nil {
		t.Fatalf("create listing: %v", err)
	}

	got, err := listings.Get(ctx, "0xART", 1)
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	if got.UnitPrice.Cmp(rec.UnitPrice) != 0 || got.Remaining != 3 {
		t.Fatalf("unexpected listing: %#v", got)
	}

	got.UnitPrice = big.NewInt(150)
	got.Remaining = 2
	if err := listings.Update(ctx, "owner", got); err != nil {
		t.Fatalf("update listing: %v", err)
	}

	// Swap-remove keeps the per-contract slots dense.
	for id := uint64(2); id <= 4; id++ {
		more := rec
		more.AssetID = id
		if err := listings.Create(ctx, "owner", more); err != nil {
			t.Fatalf("create listing %d: %v", id, err)
		}
	}
	if err := listings.Delete(ctx, "owner", "0xart", 2); err != nil {
		t.Fatalf("delete listing: %v", err)
	}
	n, err := listings.Count(ctx, "0xart")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
	seen := make(map[uint64]bool)
	for i := 0; i < n; i++ {
		byIdx, err := listings.GetByIndex(ctx, "0xart", i)
		if err != nil {
			t.Fatalf("get by index %d: %v", i, err)
		}
		seen[byIdx.AssetID] = true
	}
	if !seen[1] || !seen[3] || !seen[4] || seen[2] {
		t.Fatalf("unexpected enumeration: %v", seen)
	}

	if err := listings.Delete(ctx, "owner", "0xart", 2); !errors.Is(err, market.ErrNotFound) {
		t.Fatalf("double delete: expected ErrNotFound, got %v", err)
	}

	off := offer.Offer{
		AssetContract: "0xart",
		AssetID:       1,
		Offerer:       "bob",
		UnitPrice:     big.NewInt(90),
		Quantity:      2,
	}
	if err := offers.Create(ctx, "owner", off); err != nil {
		t.Fatalf("create offer: %v", err)
	}
	off.Accepted = true
	if err := offers.Update(ctx, "owner", off); err != nil {
		t.Fatalf("update offer: %v", err)
	}
	gotOff, err := offers.Get(ctx, "0xart", 1, "BOB")
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if !gotOff.Accepted || gotOff.UnitPrice.Int64() != 90 {
		t.Fatalf("unexpected offer: %#v", gotOff)
	}
	if err := offers.Delete(ctx, "owner", "0xart", 1, "bob"); err != nil {
		t.Fatalf("delete offer: %v", err)
	}
	gotOff, err = offers.Get(ctx, "0xart", 1, "bob")
	if err != nil {
		t.Fatalf("get deleted offer: %v", err)
	}
	if !gotOff.Empty() {
		t.Fatalf("deleted offer should read as zero value")
	}
}

func TestStoreIntegration_CapabilityGate(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	ctx := context.Background()
	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := EnsureSchema(ctx, db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	listings := NewListingStore(db, "owner")
	rec := listing.Listing{
		AssetContract: "0xgate",
		AssetID:       1,
		Seller:        "alice",
		Holder:        "alice",
		UnitPrice:     big.NewInt(10),
		Remaining:     1,
	}
	if err := listings.Create(ctx, "stranger", rec); !errors.Is(err, market.ErrRemoteNotAllowed) {
		t.Fatalf("expected ErrRemoteNotAllowed, got %v", err)
	}
	if err := listings.Allow(ctx, "owner", "market", true); err != nil {
		t.Fatalf("allow: %v", err)
	}
	if err := listings.Create(ctx, "market", rec); err != nil {
		t.Fatalf("create as market: %v", err)
	}
	if err := listings.Delete(ctx, "market", "0xgate", 1); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
}
