package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/market"
)

func TestMemoryRegistry_SingleOwner(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	reg.RegisterContract("art", StandardSingleOwner, "creator", 500)
	if err := reg.Mint("art", 1, "alice", 1); err != nil {
		t.Fatalf("mint: %v", err)
	}

	owner, err := reg.OwnerOf(ctx, "ART", 1)
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != "alice" {
		t.Fatalf("owner = %s, want alice", owner)
	}

	if err := reg.Transfer(ctx, "art", 1, 1, "bob", "carol"); !errors.Is(err, market.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := reg.Transfer(ctx, "art", 1, 1, "alice", "bob"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	owner, _ = reg.OwnerOf(ctx, "art", 1)
	if owner != "bob" {
		t.Fatalf("owner after transfer = %s, want bob", owner)
	}
}

func TestMemoryRegistry_MultiOwner(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	reg.RegisterContract("packs", StandardMultiOwner, "", 0)
	if err := reg.Mint("packs", 7, "alice", 10); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := reg.Transfer(ctx, "packs", 7, 11, "alice", "bob"); !errors.Is(err, market.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := reg.Transfer(ctx, "packs", 7, 4, "alice", "bob"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	bal, _ := reg.BalanceOf(ctx, "packs", 7, "alice")
	if bal != 6 {
		t.Fatalf("alice balance = %d, want 6", bal)
	}
	bal, _ = reg.BalanceOf(ctx, "packs", 7, "bob")
	if bal != 4 {
		t.Fatalf("bob balance = %d, want 4", bal)
	}
}

func TestMemoryRegistry_Approval(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	reg.RegisterContract("art", StandardSingleOwner, "", 0)

	ok, _ := reg.IsApproved(ctx, "art", 1, "alice", "alice")
	if !ok {
		t.Fatalf("owner is implicitly its own operator")
	}
	ok, _ = reg.IsApproved(ctx, "art", 1, "alice", "market")
	if ok {
		t.Fatalf("market should not be approved yet")
	}
	reg.SetApproval("art", "alice", "market", true)
	ok, _ = reg.IsApproved(ctx, "art", 1, "Alice", "MARKET")
	if !ok {
		t.Fatalf("approval should be case insensitive")
	}
}

func TestMemoryRegistry_RoyaltyInfo(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	reg.RegisterContract("art", StandardSingleOwner, "creator", 500)
	reg.RegisterContract("plain", StandardSingleOwner, "", 0)

	to, amt, err := reg.RoyaltyInfo(ctx, "art", 1, big.NewInt(10_000))
	if err != nil {
		t.Fatalf("royalty info: %v", err)
	}
	if to != "creator" || amt.Int64() != 500 {
		t.Fatalf("royalty = %s/%s, want creator/500", to, amt)
	}

	to, amt, err = reg.RoyaltyInfo(ctx, "plain", 1, big.NewInt(10_000))
	if err != nil {
		t.Fatalf("royalty info: %v", err)
	}
	if to != "" || amt.Sign() != 0 {
		t.Fatalf("undeclared royalty should be empty, got %s/%s", to, amt)
	}
}

func TestMemoryLedger_Pay(t *testing.T) {
	ctx := context.Background()
	led := NewMemoryLedger()
	led.Credit("alice", big.NewInt(100))

	if err := led.Pay(ctx, "alice", "bob", big.NewInt(150)); !errors.Is(err, market.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := led.Pay(ctx, "alice", "bob", big.NewInt(60)); err != nil {
		t.Fatalf("pay: %v", err)
	}
	bal, _ := led.BalanceOf(ctx, "Alice")
	if bal.Int64() != 40 {
		t.Fatalf("alice balance = %s, want 40", bal)
	}
	bal, _ = led.BalanceOf(ctx, "bob")
	if bal.Int64() != 60 {
		t.Fatalf("bob balance = %s, want 60", bal)
	}

	// Zero and nil payments are no-ops.
	if err := led.Pay(ctx, "empty", "bob", nil); err != nil {
		t.Fatalf("nil payment: %v", err)
	}
	if err := led.Pay(ctx, "empty", "bob", new(big.Int)); err != nil {
		t.Fatalf("zero payment: %v", err)
	}
}
