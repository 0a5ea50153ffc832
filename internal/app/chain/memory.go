package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/market"
)

// MemoryRegistry is an in-process AssetRegistry for tests and standalone
// deployments. Contracts are registered up front with a standard and an
// optional royalty declaration, then minted to accounts.
type MemoryRegistry struct {
	mu        sync.RWMutex
	standards map[string]Standard
	owners    map[assetKey]string
	balances  map[assetKey]map[string]uint64
	approvals map[string]map[string]map[string]bool
	royalties map[string]royaltyDecl
}

var (
	_ AssetRegistry  = (*MemoryRegistry)(nil)
	_ CurrencyLedger = (*MemoryLedger)(nil)
)

type assetKey struct {
	contract string
	assetID  uint64
}

type royaltyDecl struct {
	recipient string
	bps       uint32
}

// NewMemoryRegistry builds an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		standards: make(map[string]Standard),
		owners:    make(map[assetKey]string),
		balances:  make(map[assetKey]map[string]uint64),
		approvals: make(map[string]map[string]map[string]bool),
		royalties: make(map[string]royaltyDecl),
	}
}

// RegisterContract declares a contract with its ownership standard and
// an optional creator royalty in basis points.
func (m *MemoryRegistry) RegisterContract(contract string, std Standard, royaltyRecipient string, royaltyBps uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	contract = norm(contract)
	m.standards[contract] = std
	if royaltyRecipient != "" {
		m.royalties[contract] = royaltyDecl{recipient: norm(royaltyRecipient), bps: royaltyBps}
	}
}

// Mint assigns units of an asset to an account. Single-owner contracts
// ignore quantity and record the account as sole owner.
func (m *MemoryRegistry) Mint(contract string, assetID uint64, account string, quantity uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	contract, account = norm(contract), norm(account)
	key := assetKey{contract, assetID}
	switch m.standards[contract] {
	case StandardSingleOwner:
		m.owners[key] = account
	case StandardMultiOwner:
		if m.balances[key] == nil {
			m.balances[key] = make(map[string]uint64)
		}
		m.balances[key][account] += quantity
	default:
		return fmt.Errorf("unknown contract %q", contract)
	}
	return nil
}

// SetApproval grants or revokes operator's right to move owner's assets
// in the contract.
func (m *MemoryRegistry) SetApproval(contract, owner, operator string, approved bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	contract, owner, operator = norm(contract), norm(owner), norm(operator)
	if m.approvals[contract] == nil {
		m.approvals[contract] = make(map[string]map[string]bool)
	}
	if m.approvals[contract][owner] == nil {
		m.approvals[contract][owner] = make(map[string]bool)
	}
	m.approvals[contract][owner][operator] = approved
}

func (m *MemoryRegistry) Standard(_ context.Context, contract string) (Standard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	std, ok := m.standards[norm(contract)]
	if !ok {
		return "", fmt.Errorf("unknown contract %q", contract)
	}
	return std, nil
}

func (m *MemoryRegistry) OwnerOf(_ context.Context, contract string, assetID uint64) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owner, ok := m.owners[assetKey{norm(contract), assetID}]
	if !ok {
		return "", fmt.Errorf("asset %s/%d has no owner", contract, assetID)
	}
	return owner, nil
}

func (m *MemoryRegistry) BalanceOf(_ context.Context, contract string, assetID uint64, account string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[assetKey{norm(contract), assetID}][norm(account)], nil
}

func (m *MemoryRegistry) IsApproved(_ context.Context, contract string, _ uint64, owner, operator string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if market.SameAccount(owner, operator) {
		return true, nil
	}
	return m.approvals[norm(contract)][norm(owner)][norm(operator)], nil
}

func (m *MemoryRegistry) Transfer(_ context.Context, contract string, assetID, quantity uint64, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	contract, from, to = norm(contract), norm(from), norm(to)
	key := assetKey{contract, assetID}
	switch m.standards[contract] {
	case StandardSingleOwner:
		if m.owners[key] != from {
			return market.ErrNotOwner
		}
		m.owners[key] = to
	case StandardMultiOwner:
		if m.balances[key][from] < quantity {
			return market.ErrInsufficientBalance
		}
		m.balances[key][from] -= quantity
		if m.balances[key][to]+quantity < m.balances[key][to] {
			return fmt.Errorf("balance overflow for %s", to)
		}
		m.balances[key][to] += quantity
	default:
		return fmt.Errorf("unknown contract %q", contract)
	}
	return nil
}

func (m *MemoryRegistry) RoyaltyInfo(_ context.Context, contract string, _ uint64, salePrice *big.Int) (string, *big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	decl, ok := m.royalties[norm(contract)]
	if !ok {
		return "", new(big.Int), nil
	}
	return decl.recipient, market.Bps(salePrice, decl.bps), nil
}

// MemoryLedger is an in-process CurrencyLedger.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]*big.Int
}

// NewMemoryLedger builds an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]*big.Int)}
}

// Credit adds funds to an account. Test and bootstrap helper.
func (m *MemoryLedger) Credit(account string, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.add(norm(account), amount)
}

func (m *MemoryLedger) Pay(_ context.Context, from, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative payment amount")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	from, to = norm(from), norm(to)
	bal := m.balances[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return market.ErrInsufficientBalance
	}
	bal.Sub(bal, amount)
	m.add(to, amount)
	return nil
}

func (m *MemoryLedger) BalanceOf(_ context.Context, account string) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.balances[norm(account)]
	if bal == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(bal), nil
}

func (m *MemoryLedger) add(account string, amount *big.Int) {
	if m.balances[account] == nil {
		m.balances[account] = new(big.Int)
	}
	m.balances[account].Add(m.balances[account], amount)
}

func norm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
