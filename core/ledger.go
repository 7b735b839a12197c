package core

import (
	"math/big"
	"sync"

	"investpool/core/events"
	"investpool/crypto"
	"investpool/native/loan"
	"investpool/native/vault"
	"investpool/state"
)

// Module accounts owned by the ledger itself. Pool cash and collateral
// escrow are kept under distinct addresses so escrow can never be mistaken
// for pool equity.
var (
	PoolAccount       = moduleAccount(0x01)
	CollateralAccount = moduleAccount(0x02)
)

func moduleAccount(tag byte) crypto.Address {
	var addr crypto.Address
	addr[0] = 0xFE
	addr[crypto.AddressLength-1] = tag
	return addr
}

// Options configures a ledger instance.
type Options struct {
	// Owner is the privileged identity allowed to approve, deny and
	// default-close loans, and to fund accounts.
	Owner crypto.Address
	// InterestRateBps overrides the default rate stamped on new loans.
	InterestRateBps uint64
	// CollateralRatioBps overrides the default 150% collateral
	// requirement.
	CollateralRatioBps uint64
	// Emitter receives events for every completed operation.
	Emitter events.Emitter
	// NowFunc overrides the clock, for deterministic accrual in tests.
	NowFunc func() int64
}

// Ledger is the serialized facade over the vault and the loan registry.
// Every operation runs under a single mutex, so the external collaborator
// observes one atomic, sequentially consistent state: no operation ever sees
// a partially applied mutation, and failed operations write nothing.
type Ledger struct {
	mu    sync.Mutex
	owner crypto.Address
	vault *vault.Engine
	loans *loan.Engine
}

// NewLedger wires a vault and loan registry over the given store.
func NewLedger(store *state.Store, opts Options) *Ledger {
	v := vault.NewEngine(PoolAccount, CollateralAccount)
	v.SetState(store)
	l := loan.NewEngine(opts.Owner, v)
	l.SetState(store)
	if opts.InterestRateBps != 0 {
		l.SetInterestRateBps(opts.InterestRateBps)
	}
	if opts.CollateralRatioBps != 0 {
		l.SetCollateralRatioBps(opts.CollateralRatioBps)
	}
	if opts.Emitter != nil {
		v.SetEmitter(opts.Emitter)
		l.SetEmitter(opts.Emitter)
	}
	if opts.NowFunc != nil {
		l.SetNowFunc(opts.NowFunc)
	}
	return &Ledger{owner: opts.Owner, vault: v, loans: l}
}

// Owner returns the privileged administrator identity.
func (l *Ledger) Owner() crypto.Address { return l.owner }

// Deposit adds liquidity for depositor and returns the minted shares.
func (l *Ledger) Deposit(depositor crypto.Address, amount *big.Int) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.vault.Deposit(depositor, amount)
}

// Withdraw burns shares for depositor and returns the payout.
func (l *Ledger) Withdraw(depositor crypto.Address, shares *big.Int) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.vault.Withdraw(depositor, shares)
}

// RequestLoan creates a loan request and returns its id.
func (l *Ledger) RequestLoan(borrower crypto.Address, principal *big.Int, durationDays uint64, purpose string, suppliedCollateral *big.Int) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loans.RequestLoan(borrower, principal, durationDays, purpose, suppliedCollateral)
}

// ApproveLoan approves a requested loan. Owner only.
func (l *Ledger) ApproveLoan(caller crypto.Address, id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loans.ApproveLoan(caller, id)
}

// DenyLoan denies a requested loan and refunds collateral. Owner only.
func (l *Ledger) DenyLoan(caller crypto.Address, id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loans.DenyLoan(caller, id)
}

// WithdrawLoan disburses an approved loan to its borrower.
func (l *Ledger) WithdrawLoan(caller crypto.Address, id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loans.WithdrawLoan(caller, id)
}

// RepayLoan settles a withdrawn loan and returns the amount collected.
func (l *Ledger) RepayLoan(caller crypto.Address, id uint64, suppliedValue *big.Int) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loans.RepayLoan(caller, id, suppliedValue)
}

// CloseLoanAsDefault forfeits collateral on a withdrawn loan. Owner only.
func (l *Ledger) CloseLoanAsDefault(caller crypto.Address, id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loans.CloseLoanAsDefault(caller, id)
}

// FundAccount credits amount to addr. This stands in for the external
// asset-transfer primitive and is restricted to the owner.
func (l *Ledger) FundAccount(caller, addr crypto.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.owner {
		return loan.ErrUnauthorized
	}
	return l.vault.Credit(addr, amount)
}

// SharesOf returns the claim units held by addr.
func (l *Ledger) SharesOf(addr crypto.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.vault.SharesOf(addr)
}

// BalanceOf returns the account balance of addr.
func (l *Ledger) BalanceOf(addr crypto.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.vault.BalanceOf(addr)
}

// PoolSnapshot returns a copy of the pool accounting state.
func (l *Ledger) PoolSnapshot() (*vault.Pool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.vault.Snapshot()
}

// AvailableLiquidity returns the immediately disbursable cash.
func (l *Ledger) AvailableLiquidity() (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.vault.AvailableLiquidity()
}

// TotalPoolValue returns cash plus outstanding principal.
func (l *Ledger) TotalPoolValue() (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.vault.TotalPoolValue()
}

// LoanByID returns the record for id.
func (l *Ledger) LoanByID(id uint64) (*loan.Loan, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loans.LoanByID(id)
}

// LoanCount returns the number of loans ever requested.
func (l *Ledger) LoanCount() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loans.LoanCount()
}

// AmountOwed returns the owed amount for a withdrawn loan, computed now.
func (l *Ledger) AmountOwed(id uint64) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loans.AmountOwed(id)
}

// LoanIDsOf returns the borrower's loan ids in request order.
func (l *Ledger) LoanIDsOf(borrower crypto.Address) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loans.LoanIDsOf(borrower)
}
