package loan_test

import (
	"errors"
	"math/big"
	"testing"

	"investpool/crypto"
	"investpool/native/loan"
	"investpool/native/vault"
	"investpool/state"
	"investpool/storage"
)

const (
	startTime = int64(1_700_000_000)
	oneYear   = int64(31_536_000)
)

func addrOf(b byte) crypto.Address {
	var addr crypto.Address
	addr[crypto.AddressLength-1] = b
	return addr
}

var (
	owner    = addrOf(0x01)
	borrower = addrOf(0x02)
	lender   = addrOf(0x03)
	stranger = addrOf(0x04)
	poolAddr = addrOf(0xAA)
	escrow   = addrOf(0xBB)
)

type fixture struct {
	store  *state.Store
	vault  *vault.Engine
	engine *loan.Engine
	now    int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := state.NewStore(storage.NewMemDB())
	v := vault.NewEngine(poolAddr, escrow)
	v.SetState(store)
	e := loan.NewEngine(owner, v)
	e.SetState(store)
	f := &fixture{store: store, vault: v, engine: e, now: startTime}
	e.SetNowFunc(func() int64 { return f.now })
	return f
}

func (f *fixture) credit(t *testing.T, addr crypto.Address, amount int64) {
	t.Helper()
	if err := f.vault.Credit(addr, big.NewInt(amount)); err != nil {
		t.Fatalf("credit %s: %v", addr, err)
	}
}

func (f *fixture) seedPool(t *testing.T, amount int64) {
	t.Helper()
	f.credit(t, lender, amount)
	if _, err := f.vault.Deposit(lender, big.NewInt(amount)); err != nil {
		t.Fatalf("seed pool: %v", err)
	}
}

// request funds the borrower with exactly the required collateral and files a
// loan for the principal.
func (f *fixture) request(t *testing.T, principal int64) uint64 {
	t.Helper()
	p := big.NewInt(principal)
	collateral := loan.RequiredCollateral(p, loan.DefaultCollateralRatioBps)
	f.credit(t, borrower, collateral.Int64())
	id, err := f.engine.RequestLoan(borrower, p, 30, "working capital", collateral)
	if err != nil {
		t.Fatalf("request loan: %v", err)
	}
	return id
}

func (f *fixture) balance(t *testing.T, addr crypto.Address) *big.Int {
	t.Helper()
	balance, err := f.vault.BalanceOf(addr)
	if err != nil {
		t.Fatalf("balance of %s: %v", addr, err)
	}
	return balance
}

func (f *fixture) loan(t *testing.T, id uint64) *loan.Loan {
	t.Helper()
	record, err := f.engine.LoanByID(id)
	if err != nil {
		t.Fatalf("loan %d: %v", id, err)
	}
	return record
}

func wantInt(t *testing.T, got *big.Int, want int64, label string) {
	t.Helper()
	if got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("%s = %s, want %d", label, got, want)
	}
}

func TestRequestLoanEscrowsCollateral(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, 10_000)

	id := f.request(t, 1000)
	if id != 0 {
		t.Fatalf("first loan id = %d, want 0", id)
	}

	record := f.loan(t, id)
	if record.Status != loan.StatusRequested {
		t.Fatalf("status = %s, want requested", record.Status)
	}
	wantInt(t, record.Principal, 1000, "principal")
	wantInt(t, record.Collateral, 1500, "collateral")
	if record.InterestRateBps != loan.DefaultInterestRateBps {
		t.Fatalf("rate = %d, want %d", record.InterestRateBps, loan.DefaultInterestRateBps)
	}
	if record.RequestedAt != startTime {
		t.Fatalf("requestedAt = %d, want %d", record.RequestedAt, startTime)
	}
	if record.WithdrawnAt != 0 {
		t.Fatalf("withdrawnAt = %d, want 0", record.WithdrawnAt)
	}

	wantInt(t, f.balance(t, borrower), 0, "borrower balance after escrow")
	wantInt(t, f.balance(t, escrow), 1500, "escrow balance")

	count, err := f.engine.LoanCount()
	if err != nil {
		t.Fatalf("loan count: %v", err)
	}
	if count != 1 {
		t.Fatalf("loan count = %d, want 1", count)
	}
	ids, err := f.engine.LoanIDsOf(borrower)
	if err != nil {
		t.Fatalf("loan ids: %v", err)
	}
	if len(ids) != 1 || ids[0] != 0 {
		t.Fatalf("loan ids = %v, want [0]", ids)
	}
}

func TestRequestLoanIDsAreSequential(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, 10_000)
	for want := uint64(0); want < 3; want++ {
		if id := f.request(t, 1000); id != want {
			t.Fatalf("loan id = %d, want %d", id, want)
		}
	}
	ids, err := f.engine.LoanIDsOf(borrower)
	if err != nil {
		t.Fatalf("loan ids: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("loan ids = %v, want three entries", ids)
	}
}

func TestRequestLoanValidation(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, 10_000)
	f.credit(t, borrower, 1500)

	if _, err := f.engine.RequestLoan(borrower, big.NewInt(0), 30, "", big.NewInt(0)); !errors.Is(err, vault.ErrInvalidAmount) {
		t.Fatalf("zero principal: got %v, want ErrInvalidAmount", err)
	}
	for _, supplied := range []*big.Int{nil, big.NewInt(1499), big.NewInt(1501)} {
		if _, err := f.engine.RequestLoan(borrower, big.NewInt(1000), 30, "", supplied); !errors.Is(err, loan.ErrCollateralMismatch) {
			t.Fatalf("collateral %s: got %v, want ErrCollateralMismatch", supplied, err)
		}
	}
	if _, err := f.engine.RequestLoan(borrower, big.NewInt(2000), 30, "", big.NewInt(3000)); !errors.Is(err, vault.ErrInsufficientBalance) {
		t.Fatalf("underfunded borrower: got %v, want ErrInsufficientBalance", err)
	}

	// Failed requests write nothing.
	count, err := f.engine.LoanCount()
	if err != nil {
		t.Fatalf("loan count: %v", err)
	}
	if count != 0 {
		t.Fatalf("loan count = %d, want 0", count)
	}
	wantInt(t, f.balance(t, escrow), 0, "escrow untouched")
	wantInt(t, f.balance(t, borrower), 1500, "borrower untouched")
}

func TestApproveLoan(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, 10_000)
	id := f.request(t, 1000)

	if err := f.engine.ApproveLoan(stranger, id); !errors.Is(err, loan.ErrUnauthorized) {
		t.Fatalf("stranger approve: got %v, want ErrUnauthorized", err)
	}
	if err := f.engine.ApproveLoan(owner, id); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got := f.loan(t, id).Status; got != loan.StatusApproved {
		t.Fatalf("status = %s, want approved", got)
	}
	if err := f.engine.ApproveLoan(owner, id); !errors.Is(err, loan.ErrInvalidStateTransition) {
		t.Fatalf("double approve: got %v, want ErrInvalidStateTransition", err)
	}
}

func TestApproveLoanRequiresLiquidity(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, 500)
	id := f.request(t, 1000)

	if err := f.engine.ApproveLoan(owner, id); !errors.Is(err, vault.ErrInsufficientLiquidity) {
		t.Fatalf("got %v, want ErrInsufficientLiquidity", err)
	}
	if got := f.loan(t, id).Status; got != loan.StatusRequested {
		t.Fatalf("status = %s, want requested after failed approval", got)
	}
}

func TestDenyLoanRefundsCollateral(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, 10_000)
	id := f.request(t, 1000)

	if err := f.engine.DenyLoan(stranger, id); !errors.Is(err, loan.ErrUnauthorized) {
		t.Fatalf("stranger deny: got %v, want ErrUnauthorized", err)
	}
	if err := f.engine.DenyLoan(owner, id); err != nil {
		t.Fatalf("deny: %v", err)
	}
	if got := f.loan(t, id).Status; got != loan.StatusDenied {
		t.Fatalf("status = %s, want denied", got)
	}
	wantInt(t, f.balance(t, borrower), 1500, "collateral refunded")
	wantInt(t, f.balance(t, escrow), 0, "escrow drained")

	if err := f.engine.ApproveLoan(owner, id); !errors.Is(err, loan.ErrInvalidStateTransition) {
		t.Fatalf("approve after deny: got %v, want ErrInvalidStateTransition", err)
	}
}

func TestWithdrawLoanDisburses(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, 10_000)
	id := f.request(t, 1000)
	if err := f.engine.ApproveLoan(owner, id); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if err := f.engine.WithdrawLoan(stranger, id); !errors.Is(err, loan.ErrUnauthorized) {
		t.Fatalf("stranger withdraw: got %v, want ErrUnauthorized", err)
	}

	f.now += 3600
	if err := f.engine.WithdrawLoan(borrower, id); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	record := f.loan(t, id)
	if record.Status != loan.StatusWithdrawn {
		t.Fatalf("status = %s, want withdrawn", record.Status)
	}
	if record.WithdrawnAt != startTime+3600 {
		t.Fatalf("withdrawnAt = %d, want %d", record.WithdrawnAt, startTime+3600)
	}
	wantInt(t, f.balance(t, borrower), 1000, "borrower holds the principal")

	pool, err := f.vault.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	wantInt(t, pool.CashBalance, 9000, "cash after disbursement")
	wantInt(t, pool.OutstandingPrincipal, 1000, "outstanding principal")
	wantInt(t, pool.TotalValue(), 10_000, "pool value unchanged")

	if err := f.engine.WithdrawLoan(borrower, id); !errors.Is(err, loan.ErrInvalidStateTransition) {
		t.Fatalf("double withdraw: got %v, want ErrInvalidStateTransition", err)
	}
}

func TestAmountOwedAccrues(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, 10_000)
	id := f.request(t, 1000)

	if _, err := f.engine.AmountOwed(id); !errors.Is(err, loan.ErrNotWithdrawn) {
		t.Fatalf("owed before withdrawal: got %v, want ErrNotWithdrawn", err)
	}

	if err := f.engine.ApproveLoan(owner, id); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.engine.WithdrawLoan(borrower, id); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	owed, err := f.engine.AmountOwed(id)
	if err != nil {
		t.Fatalf("owed: %v", err)
	}
	wantInt(t, owed, 1000, "owed at withdrawal instant")

	f.now += oneYear / 2
	owed, err = f.engine.AmountOwed(id)
	if err != nil {
		t.Fatalf("owed: %v", err)
	}
	wantInt(t, owed, 1025, "owed after half a year")

	f.now += oneYear / 2
	owed, err = f.engine.AmountOwed(id)
	if err != nil {
		t.Fatalf("owed: %v", err)
	}
	wantInt(t, owed, 1050, "owed after a full year")
}

func TestRepayLoanSettlesAndRefundsCollateral(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, 10_000)
	id := f.request(t, 1000)
	if err := f.engine.ApproveLoan(owner, id); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.engine.WithdrawLoan(borrower, id); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	f.now += oneYear

	if _, err := f.engine.RepayLoan(stranger, id, big.NewInt(5000)); !errors.Is(err, loan.ErrUnauthorized) {
		t.Fatalf("stranger repay: got %v, want ErrUnauthorized", err)
	}
	if _, err := f.engine.RepayLoan(borrower, id, big.NewInt(1049)); !errors.Is(err, loan.ErrInsufficientPayment) {
		t.Fatalf("short offer: got %v, want ErrInsufficientPayment", err)
	}
	// Offer covers the owed amount but the account does not.
	if _, err := f.engine.RepayLoan(borrower, id, big.NewInt(1050)); !errors.Is(err, vault.ErrInsufficientBalance) {
		t.Fatalf("underfunded repay: got %v, want ErrInsufficientBalance", err)
	}

	f.credit(t, borrower, 50)
	collected, err := f.engine.RepayLoan(borrower, id, big.NewInt(5000))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	wantInt(t, collected, 1050, "collected amount")

	// Only the owed amount was debited; the collateral came back in full.
	wantInt(t, f.balance(t, borrower), 1500, "borrower after settlement")
	wantInt(t, f.balance(t, escrow), 0, "escrow after settlement")

	record := f.loan(t, id)
	if record.Status != loan.StatusRepaid {
		t.Fatalf("status = %s, want repaid", record.Status)
	}

	pool, err := f.vault.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	wantInt(t, pool.CashBalance, 10_050, "cash includes the interest")
	wantInt(t, pool.OutstandingPrincipal, 0, "no principal outstanding")
	wantInt(t, pool.TotalRepaid, 1050, "total repaid")

	if _, err := f.engine.RepayLoan(borrower, id, big.NewInt(5000)); !errors.Is(err, loan.ErrInvalidStateTransition) {
		t.Fatalf("double repay: got %v, want ErrInvalidStateTransition", err)
	}
}

func TestCloseLoanAsDefaultForfeitsCollateral(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, 10_000)
	id := f.request(t, 1000)
	if err := f.engine.ApproveLoan(owner, id); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.engine.WithdrawLoan(borrower, id); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	if err := f.engine.CloseLoanAsDefault(borrower, id); !errors.Is(err, loan.ErrUnauthorized) {
		t.Fatalf("borrower default: got %v, want ErrUnauthorized", err)
	}
	if err := f.engine.CloseLoanAsDefault(owner, id); err != nil {
		t.Fatalf("default: %v", err)
	}

	record := f.loan(t, id)
	if record.Status != loan.StatusDefaulted {
		t.Fatalf("status = %s, want defaulted", record.Status)
	}

	// The borrower keeps the principal but loses the full escrow.
	wantInt(t, f.balance(t, borrower), 1000, "borrower after default")
	wantInt(t, f.balance(t, escrow), 0, "escrow forfeited")

	pool, err := f.vault.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	wantInt(t, pool.CashBalance, 10_500, "cash absorbed the collateral")
	wantInt(t, pool.OutstandingPrincipal, 0, "principal written off")
	wantInt(t, pool.TotalValue(), 10_500, "pool gains the over-collateralization")

	if _, err := f.engine.RepayLoan(borrower, id, big.NewInt(5000)); !errors.Is(err, loan.ErrInvalidStateTransition) {
		t.Fatalf("repay after default: got %v, want ErrInvalidStateTransition", err)
	}
}

func TestUnknownLoanID(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, 10_000)

	if _, err := f.engine.LoanByID(7); !errors.Is(err, loan.ErrNotFound) {
		t.Fatalf("lookup: got %v, want ErrNotFound", err)
	}
	if err := f.engine.ApproveLoan(owner, 7); !errors.Is(err, loan.ErrNotFound) {
		t.Fatalf("approve: got %v, want ErrNotFound", err)
	}
	if err := f.engine.DenyLoan(owner, 7); !errors.Is(err, loan.ErrNotFound) {
		t.Fatalf("deny: got %v, want ErrNotFound", err)
	}
	if _, err := f.engine.AmountOwed(7); !errors.Is(err, loan.ErrNotFound) {
		t.Fatalf("owed: got %v, want ErrNotFound", err)
	}
	if _, err := f.engine.RepayLoan(borrower, 7, big.NewInt(1)); !errors.Is(err, loan.ErrNotFound) {
		t.Fatalf("repay: got %v, want ErrNotFound", err)
	}
}

// loanInStatus drives a fresh loan into the given status using the normal
// operations.
func loanInStatus(t *testing.T, f *fixture, status loan.Status) uint64 {
	t.Helper()
	id := f.request(t, 1000)
	switch status {
	case loan.StatusRequested:
	case loan.StatusDenied:
		if err := f.engine.DenyLoan(owner, id); err != nil {
			t.Fatalf("deny: %v", err)
		}
	default:
		if err := f.engine.ApproveLoan(owner, id); err != nil {
			t.Fatalf("approve: %v", err)
		}
		if status == loan.StatusApproved {
			break
		}
		if err := f.engine.WithdrawLoan(borrower, id); err != nil {
			t.Fatalf("withdraw: %v", err)
		}
		switch status {
		case loan.StatusRepaid:
			if _, err := f.engine.RepayLoan(borrower, id, big.NewInt(1000)); err != nil {
				t.Fatalf("repay: %v", err)
			}
		case loan.StatusDefaulted:
			if err := f.engine.CloseLoanAsDefault(owner, id); err != nil {
				t.Fatalf("default: %v", err)
			}
		}
	}
	if got := f.loan(t, id).Status; got != status {
		t.Fatalf("setup produced status %s, want %s", got, status)
	}
	return id
}

func TestStateMachineRejectsEverythingElse(t *testing.T) {
	type op struct {
		name string
		call func(f *fixture, id uint64) error
	}
	ops := []op{
		{"approve", func(f *fixture, id uint64) error { return f.engine.ApproveLoan(owner, id) }},
		{"deny", func(f *fixture, id uint64) error { return f.engine.DenyLoan(owner, id) }},
		{"withdraw", func(f *fixture, id uint64) error { return f.engine.WithdrawLoan(borrower, id) }},
		{"repay", func(f *fixture, id uint64) error {
			_, err := f.engine.RepayLoan(borrower, id, big.NewInt(1_000_000))
			return err
		}},
		{"default", func(f *fixture, id uint64) error { return f.engine.CloseLoanAsDefault(owner, id) }},
	}
	allowed := map[loan.Status]map[string]bool{
		loan.StatusRequested: {"approve": true, "deny": true},
		loan.StatusApproved:  {"withdraw": true},
		loan.StatusWithdrawn: {"repay": true, "default": true},
		loan.StatusRepaid:    {},
		loan.StatusDenied:    {},
		loan.StatusDefaulted: {},
	}

	for status, permitted := range allowed {
		for _, operation := range ops {
			if permitted[operation.name] {
				continue
			}
			t.Run(status.String()+"/"+operation.name, func(t *testing.T) {
				f := newFixture(t)
				f.seedPool(t, 10_000)
				id := loanInStatus(t, f, status)
				if err := operation.call(f, id); !errors.Is(err, loan.ErrInvalidStateTransition) {
					t.Fatalf("%s on %s loan: got %v, want ErrInvalidStateTransition", operation.name, status, err)
				}
			})
		}
	}
}
