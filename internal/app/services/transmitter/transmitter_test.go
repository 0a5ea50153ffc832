package transmitter

import (
	"context"
	"errors"
	"testing"

	"github.com/Aynn-Network/marketplace_layer/internal/app/chain"
	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/market"
)

func newRegistry(t *testing.T) *chain.MemoryRegistry {
	t.Helper()
	reg := chain.NewMemoryRegistry()
	reg.RegisterContract("art", chain.StandardSingleOwner, "", 0)
	reg.RegisterContract("packs", chain.StandardMultiOwner, "", 0)
	if err := reg.Mint("art", 1, "alice", 1); err != nil {
		t.Fatalf("mint art: %v", err)
	}
	if err := reg.Mint("packs", 7, "alice", 10); err != nil {
		t.Fatalf("mint packs: %v", err)
	}
	return reg
}

func TestUniversal_SingleOwnerTransfer(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	reg.SetApproval("art", "alice", "operator", true)
	tr := NewUniversal("owner", "operator", reg, nil)

	if err := tr.Validate(ctx, "owner", "art", 1, 1, "alice"); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := tr.Validate(ctx, "owner", "art", 1, 2, "alice"); err == nil {
		t.Fatalf("single-owner transfer of 2 units should fail")
	}
	if err := tr.Validate(ctx, "owner", "art", 1, 1, "bob"); !errors.Is(err, market.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}

	if err := tr.Transfer(ctx, "owner", "art", 1, 1, "alice", "bob"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	owner, _ := reg.OwnerOf(ctx, "art", 1)
	if owner != "bob" {
		t.Fatalf("owner = %s, want bob", owner)
	}
}

func TestUniversal_MultiOwnerTransfer(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	reg.SetApproval("packs", "alice", "operator", true)
	tr := NewUniversal("owner", "operator", reg, nil)

	if err := tr.Validate(ctx, "owner", "packs", 7, 11, "alice"); !errors.Is(err, market.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := tr.Transfer(ctx, "owner", "packs", 7, 4, "alice", "bob"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	bal, _ := reg.BalanceOf(ctx, "packs", 7, "bob")
	if bal != 4 {
		t.Fatalf("bob balance = %d, want 4", bal)
	}
}

func TestUniversal_RequiresApproval(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	tr := NewUniversal("owner", "operator", reg, nil)

	if err := tr.Validate(ctx, "owner", "art", 1, 1, "alice"); !errors.Is(err, market.ErrNotApproved) {
		t.Fatalf("expected ErrNotApproved, got %v", err)
	}
	// The asset owner acting as its own operator still needs none.
	trSelf := NewUniversal("owner", "alice", reg, nil)
	if err := trSelf.Validate(ctx, "owner", "art", 1, 1, "alice"); err != nil {
		t.Fatalf("self-operated validate: %v", err)
	}
}

func TestUniversal_CapabilityGate(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	reg.SetApproval("art", "alice", "operator", true)
	tr := NewUniversal("owner", "operator", reg, nil)

	if err := tr.Transfer(ctx, "stranger", "art", 1, 1, "alice", "bob"); !errors.Is(err, market.ErrRemoteNotAllowed) {
		t.Fatalf("expected ErrRemoteNotAllowed, got %v", err)
	}
	if err := tr.Allow("owner", "router", true); err != nil {
		t.Fatalf("allow: %v", err)
	}
	if err := tr.Transfer(ctx, "router", "art", 1, 1, "alice", "bob"); err != nil {
		t.Fatalf("transfer as router: %v", err)
	}
}

func TestRouter_Dispatch(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	reg.SetApproval("art", "alice", "operator", true)
	tr := NewUniversal("owner", "operator", reg, nil)

	router := NewRouter("owner", "router")
	if err := router.SetTransmitter("owner", DefaultClass, tr); err != nil {
		t.Fatalf("set transmitter: %v", err)
	}
	// The transmitter trusts the router's account, not the end caller.
	if err := tr.Allow("owner", "router", true); err != nil {
		t.Fatalf("allow router: %v", err)
	}
	if err := router.Allow("owner", "market", true); err != nil {
		t.Fatalf("allow market: %v", err)
	}

	if err := router.Transfer(ctx, "stranger", DefaultClass, "art", 1, 1, "alice", "bob"); !errors.Is(err, market.ErrRemoteNotAllowed) {
		t.Fatalf("expected ErrRemoteNotAllowed, got %v", err)
	}
	if err := router.Transfer(ctx, "market", 9, "art", 1, 1, "alice", "bob"); !errors.Is(err, market.ErrNotFound) {
		t.Fatalf("unbound class: expected ErrNotFound, got %v", err)
	}
	if err := router.Transfer(ctx, "market", DefaultClass, "art", 1, 1, "alice", "bob"); err != nil {
		t.Fatalf("routed transfer: %v", err)
	}

	if err := router.SetTransmitter("market", 1, tr); !errors.Is(err, market.ErrNotOwner) {
		t.Fatalf("non-owner bind: expected ErrNotOwner, got %v", err)
	}
	if err := router.SetTransmitter("owner", DefaultClass, nil); err != nil {
		t.Fatalf("unbind: %v", err)
	}
	if _, ok := router.Transmitter(DefaultClass); ok {
		t.Fatalf("class should be unbound")
	}
}
