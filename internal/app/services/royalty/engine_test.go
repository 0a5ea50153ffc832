package royalty

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/Aynn-Network/marketplace_layer/internal/app/chain"
	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/market"
	domain "github.com/Aynn-Network/marketplace_layer/internal/app/domain/royalty"
	"github.com/Aynn-Network/marketplace_layer/pkg/testutil"
)

func testConfig() domain.Config {
	return domain.Config{
		Recipient:      "treasury",
		MarketplaceBps: 250,
		ListingFee:     big.NewInt(5),
		OfferFee:       big.NewInt(3),
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	reg := chain.NewMemoryRegistry()
	reg.RegisterContract("art", chain.StandardSingleOwner, "creator", 500)
	eng, err := NewEngine("owner", testConfig(), reg, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng
}

func TestNewEngine_RejectsBadConfig(t *testing.T) {
	reg := chain.NewMemoryRegistry()
	bad := testConfig()
	bad.Recipient = ""
	if _, err := NewEngine("owner", bad, reg, nil); err == nil {
		t.Fatalf("empty recipient should be rejected")
	}
	bad = testConfig()
	bad.MarketplaceBps = market.FeeDenominator + 1
	if _, err := NewEngine("owner", bad, reg, nil); err == nil {
		t.Fatalf("bps above 100%% should be rejected")
	}
	bad = testConfig()
	bad.ListingFee = big.NewInt(-1)
	if _, err := NewEngine("owner", bad, reg, nil); err == nil {
		t.Fatalf("negative listing fee should be rejected")
	}
}

func TestMarketplaceFee_ScheduledKinds(t *testing.T) {
	eng := newTestEngine(t)
	none := domain.Authorization{}

	to, fee, err := eng.MarketplaceFee("alice", domain.KindPurchase, big.NewInt(1000), 4, none)
	if err != nil {
		t.Fatalf("purchase fee: %v", err)
	}
	// 2.5% of 4000.
	if to != "treasury" || fee.Int64() != 100 {
		t.Fatalf("purchase fee = %s/%s, want treasury/100", to, fee)
	}

	_, fee, err = eng.MarketplaceFee("alice", domain.KindListing, big.NewInt(1000), 4, none)
	if err != nil {
		t.Fatalf("listing fee: %v", err)
	}
	if fee.Int64() != 20 {
		t.Fatalf("listing fee = %s, want 20 (5 per unit)", fee)
	}

	_, fee, err = eng.MarketplaceFee("alice", domain.KindOffer, big.NewInt(1000), 4, none)
	if err != nil {
		t.Fatalf("offer fee: %v", err)
	}
	if fee.Int64() != 12 {
		t.Fatalf("offer fee = %s, want 12 (3 per unit)", fee)
	}
}

func TestMarketplaceFee_Overrides(t *testing.T) {
	eng := newTestEngine(t)
	att, err := testutil.NewAttestor()
	if err != nil {
		t.Fatalf("new attestor: %v", err)
	}
	if err := eng.SetAttestant("owner", att.Address()); err != nil {
		t.Fatalf("set attestant: %v", err)
	}
	expiry := time.Now().Add(time.Hour).Unix()

	// Purchase override substitutes the basis points.
	auth := att.SignAuthorization("alice", big.NewInt(100), expiry)
	_, fee, err := eng.MarketplaceFee("alice", domain.KindPurchase, big.NewInt(1000), 4, auth)
	if err != nil {
		t.Fatalf("purchase override: %v", err)
	}
	if fee.Int64() != 40 {
		t.Fatalf("overridden purchase fee = %s, want 40 (1%% of 4000)", fee)
	}

	// Listing override substitutes the flat per-unit amount.
	auth = att.SignAuthorization("alice", big.NewInt(1), expiry)
	_, fee, err = eng.MarketplaceFee("alice", domain.KindListing, big.NewInt(1000), 4, auth)
	if err != nil {
		t.Fatalf("listing override: %v", err)
	}
	if fee.Int64() != 4 {
		t.Fatalf("overridden listing fee = %s, want 4", fee)
	}

	// A purchase override above 100% is rejected.
	auth = att.SignAuthorization("alice", big.NewInt(market.FeeDenominator+1), expiry)
	if _, _, err := eng.MarketplaceFee("alice", domain.KindPurchase, big.NewInt(1000), 4, auth); !errors.Is(err, market.ErrInvalidAuthorization) {
		t.Fatalf("expected ErrInvalidAuthorization, got %v", err)
	}
}

func TestValidateAuthorization(t *testing.T) {
	eng := newTestEngine(t)
	att, err := testutil.NewAttestor()
	if err != nil {
		t.Fatalf("new attestor: %v", err)
	}
	expiry := time.Now().Add(time.Hour).Unix()

	// No attestant configured yet: any supplied override is rejected.
	auth := att.SignAuthorization("alice", big.NewInt(100), expiry)
	if err := eng.ValidateAuthorization("alice", auth); !errors.Is(err, market.ErrInvalidAuthorization) {
		t.Fatalf("expected ErrInvalidAuthorization, got %v", err)
	}
	// An empty override always passes.
	if err := eng.ValidateAuthorization("alice", domain.Authorization{}); err != nil {
		t.Fatalf("empty authorization: %v", err)
	}

	if err := eng.SetAttestant("alice", att.Address()); !errors.Is(err, market.ErrNotOwner) {
		t.Fatalf("non-owner set attestant: expected ErrNotOwner, got %v", err)
	}
	if err := eng.SetAttestant("owner", att.Address()); err != nil {
		t.Fatalf("set attestant: %v", err)
	}

	if err := eng.ValidateAuthorization("alice", auth); err != nil {
		t.Fatalf("valid authorization rejected: %v", err)
	}

	// The signer must be the acting account.
	if err := eng.ValidateAuthorization("bob", auth); !errors.Is(err, market.ErrInvalidAuthorization) {
		t.Fatalf("wrong actor: expected ErrInvalidAuthorization, got %v", err)
	}

	// Expired overrides are rejected.
	stale := att.SignAuthorization("alice", big.NewInt(100), time.Now().Add(-time.Minute).Unix())
	if err := eng.ValidateAuthorization("alice", stale); !errors.Is(err, market.ErrInvalidAuthorization) {
		t.Fatalf("expired: expected ErrInvalidAuthorization, got %v", err)
	}

	// Signatures from a different key are rejected.
	other, err := testutil.NewAttestor()
	if err != nil {
		t.Fatalf("new attestor: %v", err)
	}
	forged := other.SignAuthorization("alice", big.NewInt(100), expiry)
	if err := eng.ValidateAuthorization("alice", forged); !errors.Is(err, market.ErrInvalidAuthorization) {
		t.Fatalf("forged: expected ErrInvalidAuthorization, got %v", err)
	}

	// Tampered values change the digest and break recovery.
	tampered := auth
	tampered.Value = big.NewInt(0)
	if err := eng.ValidateAuthorization("alice", tampered); !errors.Is(err, market.ErrInvalidAuthorization) {
		t.Fatalf("tampered: expected ErrInvalidAuthorization, got %v", err)
	}
}

func TestSetRoyalties(t *testing.T) {
	eng := newTestEngine(t)

	next := testConfig()
	next.MarketplaceBps = 100
	if err := eng.SetRoyalties("alice", next); !errors.Is(err, market.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := eng.SetRoyalties("owner", next); err != nil {
		t.Fatalf("set royalties: %v", err)
	}
	if got := eng.Config().MarketplaceBps; got != 100 {
		t.Fatalf("bps = %d, want 100", got)
	}
}

func TestQuotes(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	none := domain.Authorization{}

	// art declares a 5% creator royalty; principal 4000 at 2.5% fee.
	total, err := eng.ListingTotal(ctx, "alice", "art", 1, big.NewInt(1000), 4, none)
	if err != nil {
		t.Fatalf("listing total: %v", err)
	}
	if total.Int64() != 4000+100+200 {
		t.Fatalf("listing total = %s, want 4300", total)
	}

	escrow, err := eng.OfferCreateTotal("alice", big.NewInt(1000), 4, none)
	if err != nil {
		t.Fatalf("offer create total: %v", err)
	}
	if escrow.Int64() != 4000+12 {
		t.Fatalf("offer escrow = %s, want 4012", escrow)
	}

	proceeds, err := eng.OfferProceeds(ctx, "alice", "art", 1, big.NewInt(1000), 4, none)
	if err != nil {
		t.Fatalf("offer proceeds: %v", err)
	}
	if proceeds.Int64() != 4000-100-200 {
		t.Fatalf("proceeds = %s, want 3700", proceeds)
	}

	// Fees that eat the whole principal are rejected: a 100% purchase
	// fee plus the 5% creator royalty overruns it.
	full := testConfig()
	full.MarketplaceBps = market.FeeDenominator
	if err := eng.SetRoyalties("owner", full); err != nil {
		t.Fatalf("set royalties: %v", err)
	}
	if _, err := eng.OfferProceeds(ctx, "alice", "art", 1, big.NewInt(1000), 4, none); !errors.Is(err, market.ErrPriceNotMet) {
		t.Fatalf("expected ErrPriceNotMet, got %v", err)
	}
}

func TestAssetRoyalty_CachesQuotes(t *testing.T) {
	ctx := context.Background()
	reg := chain.NewMemoryRegistry()
	reg.RegisterContract("art", chain.StandardSingleOwner, "creator", 500)
	eng, err := NewEngine("owner", testConfig(), reg, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	to, amt, err := eng.AssetRoyalty(ctx, "art", 1, big.NewInt(4000))
	if err != nil {
		t.Fatalf("asset royalty: %v", err)
	}
	if to != "creator" || amt.Int64() != 200 {
		t.Fatalf("royalty = %s/%s, want creator/200", to, amt)
	}

	// Re-registering with a different rate is not observed within the
	// cache TTL.
	reg.RegisterContract("art", chain.StandardSingleOwner, "creator", 1000)
	_, amt, err = eng.AssetRoyalty(ctx, "art", 1, big.NewInt(4000))
	if err != nil {
		t.Fatalf("asset royalty: %v", err)
	}
	if amt.Int64() != 200 {
		t.Fatalf("cached royalty = %s, want 200", amt)
	}
}
