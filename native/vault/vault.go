package vault

import (
	"errors"
	"math/big"

	"investpool/core/events"
	"investpool/core/types"
	"investpool/crypto"
)

var (
	// ErrInvalidAmount rejects zero or negative monetary inputs.
	ErrInvalidAmount = errors.New("vault: amount must be positive")
	// ErrInsufficientShares rejects burns exceeding the caller's holdings.
	ErrInsufficientShares = errors.New("vault: insufficient shares")
	// ErrInsufficientLiquidity rejects payouts or disbursements exceeding
	// the pool's cash balance.
	ErrInsufficientLiquidity = errors.New("vault: insufficient liquidity")
	// ErrInsufficientBalance rejects transfers the paying account cannot
	// cover.
	ErrInsufficientBalance = errors.New("vault: insufficient balance")

	errNilState          = errors.New("vault: state not configured")
	errInvariantViolated = errors.New("vault: pool invariant violated")
)

// Pool captures the global accounting state of the liquidity pool. All
// amounts are denominated in the smallest asset unit.
type Pool struct {
	// CashBalance is the asset amount the pool can disburse immediately.
	// Disbursed, un-repaid principal is excluded.
	CashBalance *big.Int `json:"cashBalance"`
	// TotalShares is the sum of all outstanding claim units.
	TotalShares *big.Int `json:"totalShares"`
	// OutstandingPrincipal sums the principal of loans currently withdrawn
	// and neither repaid nor defaulted.
	OutstandingPrincipal *big.Int `json:"outstandingPrincipal"`
	// TotalLoaned accumulates every principal ever disbursed.
	TotalLoaned *big.Int `json:"totalLoaned"`
	// TotalRepaid accumulates every repayment (principal plus interest)
	// ever collected.
	TotalRepaid *big.Int `json:"totalRepaid"`
}

// Normalize fills nil fields with zero values and returns the pool.
func (p *Pool) Normalize() *Pool {
	if p == nil {
		p = &Pool{}
	}
	if p.CashBalance == nil {
		p.CashBalance = big.NewInt(0)
	}
	if p.TotalShares == nil {
		p.TotalShares = big.NewInt(0)
	}
	if p.OutstandingPrincipal == nil {
		p.OutstandingPrincipal = big.NewInt(0)
	}
	if p.TotalLoaned == nil {
		p.TotalLoaned = big.NewInt(0)
	}
	if p.TotalRepaid == nil {
		p.TotalRepaid = big.NewInt(0)
	}
	return p
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return (&Pool{}).Normalize()
	}
	return (&Pool{
		CashBalance:          cloneBigInt(p.CashBalance),
		TotalShares:          cloneBigInt(p.TotalShares),
		OutstandingPrincipal: cloneBigInt(p.OutstandingPrincipal),
		TotalLoaned:          cloneBigInt(p.TotalLoaned),
		TotalRepaid:          cloneBigInt(p.TotalRepaid),
	}).Normalize()
}

// TotalValue returns the pool's equity: cash plus principal currently out on
// loan. Collateral escrow is borrower-owned and never counted here.
func (p *Pool) TotalValue() *big.Int {
	p.Normalize()
	return new(big.Int).Add(p.CashBalance, p.OutstandingPrincipal)
}

func (p *Pool) checkInvariants() error {
	p.Normalize()
	if p.CashBalance.Sign() < 0 || p.TotalShares.Sign() < 0 || p.OutstandingPrincipal.Sign() < 0 {
		return errInvariantViolated
	}
	if p.TotalShares.Sign() == 0 && p.TotalValue().Sign() != 0 {
		return errInvariantViolated
	}
	return nil
}

type engineState interface {
	GetPool() (*Pool, error)
	PutPool(*Pool) error
	GetShares(addr crypto.Address) (*big.Int, error)
	PutShares(addr crypto.Address, shares *big.Int) error
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

// Engine owns the pool's asset balance and the share ledger. Deposits and
// withdrawals convert between asset amounts and claim shares; the loan
// registry calls into the disbursement and collateral helpers but the vault
// never depends on the registry.
type Engine struct {
	state             engineState
	moduleAddress     crypto.Address
	collateralAddress crypto.Address
	emitter           events.Emitter
}

// NewEngine constructs a vault wired to the module treasury address holding
// pool cash and a separate address holding borrower collateral escrow.
func NewEngine(moduleAddr, collateralAddr crypto.Address) *Engine {
	return &Engine{
		moduleAddress:     moduleAddr,
		collateralAddress: collateralAddr,
		emitter:           events.NoopEmitter{},
	}
}

// SetState wires the engine to the persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil restores the no-op
// emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// ModuleAddress returns the treasury address holding pool cash.
func (e *Engine) ModuleAddress() crypto.Address { return e.moduleAddress }

// Deposit transfers amount from the depositor into the pool and mints claim
// shares. The first deposit prices shares 1:1; later deposits mint
// amount*totalShares/totalPoolValue with truncating division, so rounding
// residue accrues to existing holders. The minted share count is returned.
func (e *Engine) Deposit(depositor crypto.Address, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	depositorAcc, err := e.loadAccount(depositor)
	if err != nil {
		return nil, err
	}
	if depositorAcc.Balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientBalance
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return nil, err
	}
	held, err := e.loadShares(depositor)
	if err != nil {
		return nil, err
	}

	minted := new(big.Int)
	if pool.TotalShares.Sign() == 0 {
		minted.Set(amount)
	} else {
		minted.Mul(amount, pool.TotalShares)
		minted.Quo(minted, pool.TotalValue())
	}

	depositorAcc.Balance = new(big.Int).Sub(depositorAcc.Balance, amount)
	moduleAcc.Balance = new(big.Int).Add(moduleAcc.Balance, amount)
	pool.CashBalance = new(big.Int).Add(pool.CashBalance, amount)
	pool.TotalShares = new(big.Int).Add(pool.TotalShares, minted)
	held = new(big.Int).Add(held, minted)

	if err := pool.checkInvariants(); err != nil {
		return nil, err
	}
	if err := e.persist(depositor, depositorAcc, moduleAcc, pool); err != nil {
		return nil, err
	}
	if err := e.state.PutShares(depositor, held); err != nil {
		return nil, err
	}

	e.emit(NewDepositedEvent(depositor, amount, minted))
	return minted, nil
}

// Withdraw burns sharesToBurn of the depositor's claim units and pays out the
// proportional slice of the pool's total value. Value currently out on loan
// cannot be withdrawn: a payout above the cash balance fails with
// ErrInsufficientLiquidity. The payout amount is returned.
func (e *Engine) Withdraw(depositor crypto.Address, sharesToBurn *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if sharesToBurn == nil || sharesToBurn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	held, err := e.loadShares(depositor)
	if err != nil {
		return nil, err
	}
	if held.Cmp(sharesToBurn) < 0 {
		return nil, ErrInsufficientShares
	}

	// Truncating division: the remainder stays with the pool, symmetric to
	// the deposit rounding policy.
	payout := new(big.Int).Mul(sharesToBurn, pool.TotalValue())
	payout.Quo(payout, pool.TotalShares)
	if payout.Cmp(pool.CashBalance) > 0 {
		return nil, ErrInsufficientLiquidity
	}

	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return nil, err
	}
	if moduleAcc.Balance.Cmp(payout) < 0 {
		return nil, ErrInsufficientLiquidity
	}
	depositorAcc, err := e.loadAccount(depositor)
	if err != nil {
		return nil, err
	}

	held = new(big.Int).Sub(held, sharesToBurn)
	pool.TotalShares = new(big.Int).Sub(pool.TotalShares, sharesToBurn)
	pool.CashBalance = new(big.Int).Sub(pool.CashBalance, payout)
	moduleAcc.Balance = new(big.Int).Sub(moduleAcc.Balance, payout)
	depositorAcc.Balance = new(big.Int).Add(depositorAcc.Balance, payout)

	if err := pool.checkInvariants(); err != nil {
		return nil, err
	}
	if err := e.persist(depositor, depositorAcc, moduleAcc, pool); err != nil {
		return nil, err
	}
	if err := e.state.PutShares(depositor, held); err != nil {
		return nil, err
	}

	e.emit(NewWithdrawnEvent(depositor, sharesToBurn, payout))
	return payout, nil
}

// LockCollateral escrows amount of the borrower's funds under the collateral
// address. Escrowed collateral is not pool equity.
func (e *Engine) LockCollateral(borrower crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	borrowerAcc, err := e.loadAccount(borrower)
	if err != nil {
		return err
	}
	if borrowerAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	escrowAcc, err := e.loadAccount(e.collateralAddress)
	if err != nil {
		return err
	}

	borrowerAcc.Balance = new(big.Int).Sub(borrowerAcc.Balance, amount)
	escrowAcc.Balance = new(big.Int).Add(escrowAcc.Balance, amount)

	if err := e.state.PutAccount(borrower, borrowerAcc); err != nil {
		return err
	}
	return e.state.PutAccount(e.collateralAddress, escrowAcc)
}

// ReleaseCollateral returns escrowed collateral to the borrower.
func (e *Engine) ReleaseCollateral(borrower crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	escrowAcc, err := e.loadAccount(e.collateralAddress)
	if err != nil {
		return err
	}
	if escrowAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	borrowerAcc, err := e.loadAccount(borrower)
	if err != nil {
		return err
	}

	escrowAcc.Balance = new(big.Int).Sub(escrowAcc.Balance, amount)
	borrowerAcc.Balance = new(big.Int).Add(borrowerAcc.Balance, amount)

	if err := e.state.PutAccount(e.collateralAddress, escrowAcc); err != nil {
		return err
	}
	return e.state.PutAccount(borrower, borrowerAcc)
}

// Disburse pays principal out of pool cash to the borrower and reclassifies
// it as outstanding. The pool's total value is unchanged.
func (e *Engine) Disburse(borrower crypto.Address, principal *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if principal == nil || principal.Sign() <= 0 {
		return ErrInvalidAmount
	}
	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	if pool.CashBalance.Cmp(principal) < 0 {
		return ErrInsufficientLiquidity
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return err
	}
	if moduleAcc.Balance.Cmp(principal) < 0 {
		return ErrInsufficientLiquidity
	}
	borrowerAcc, err := e.loadAccount(borrower)
	if err != nil {
		return err
	}

	moduleAcc.Balance = new(big.Int).Sub(moduleAcc.Balance, principal)
	borrowerAcc.Balance = new(big.Int).Add(borrowerAcc.Balance, principal)
	pool.CashBalance = new(big.Int).Sub(pool.CashBalance, principal)
	pool.OutstandingPrincipal = new(big.Int).Add(pool.OutstandingPrincipal, principal)
	pool.TotalLoaned = new(big.Int).Add(pool.TotalLoaned, principal)

	if err := pool.checkInvariants(); err != nil {
		return err
	}
	return e.persist(borrower, borrowerAcc, moduleAcc, pool)
}

// CollectRepayment debits owed from the borrower into pool cash and retires
// principal from the outstanding total. The interest portion of owed is the
// yield existing shareholders gain.
func (e *Engine) CollectRepayment(borrower crypto.Address, owed, principal *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if owed == nil || owed.Sign() <= 0 || principal == nil || principal.Sign() <= 0 {
		return ErrInvalidAmount
	}
	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	borrowerAcc, err := e.loadAccount(borrower)
	if err != nil {
		return err
	}
	if borrowerAcc.Balance.Cmp(owed) < 0 {
		return ErrInsufficientBalance
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return err
	}

	borrowerAcc.Balance = new(big.Int).Sub(borrowerAcc.Balance, owed)
	moduleAcc.Balance = new(big.Int).Add(moduleAcc.Balance, owed)
	pool.CashBalance = new(big.Int).Add(pool.CashBalance, owed)
	pool.OutstandingPrincipal = new(big.Int).Sub(pool.OutstandingPrincipal, principal)
	pool.TotalRepaid = new(big.Int).Add(pool.TotalRepaid, owed)

	if err := pool.checkInvariants(); err != nil {
		return err
	}
	return e.persist(borrower, borrowerAcc, moduleAcc, pool)
}

// ForfeitCollateral converts escrowed collateral into pool cash and retires
// principal from the outstanding total. Used on default settlement: the
// borrower never recovers the escrow.
func (e *Engine) ForfeitCollateral(collateral, principal *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if collateral == nil || collateral.Sign() <= 0 || principal == nil || principal.Sign() <= 0 {
		return ErrInvalidAmount
	}
	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	escrowAcc, err := e.loadAccount(e.collateralAddress)
	if err != nil {
		return err
	}
	if escrowAcc.Balance.Cmp(collateral) < 0 {
		return ErrInsufficientBalance
	}
	moduleAcc, err := e.loadAccount(e.moduleAddress)
	if err != nil {
		return err
	}

	escrowAcc.Balance = new(big.Int).Sub(escrowAcc.Balance, collateral)
	moduleAcc.Balance = new(big.Int).Add(moduleAcc.Balance, collateral)
	pool.CashBalance = new(big.Int).Add(pool.CashBalance, collateral)
	pool.OutstandingPrincipal = new(big.Int).Sub(pool.OutstandingPrincipal, principal)

	if err := pool.checkInvariants(); err != nil {
		return err
	}
	if err := e.state.PutAccount(e.collateralAddress, escrowAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(e.moduleAddress, moduleAcc); err != nil {
		return err
	}
	return e.state.PutPool(pool)
}

// AvailableLiquidity returns the pool's immediately disbursable cash.
func (e *Engine) AvailableLiquidity() (*big.Int, error) {
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	return cloneBigInt(pool.CashBalance), nil
}

// TotalPoolValue returns cash plus outstanding principal.
func (e *Engine) TotalPoolValue() (*big.Int, error) {
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	return pool.TotalValue(), nil
}

// SharesOf returns the claim units held by addr.
func (e *Engine) SharesOf(addr crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadShares(addr)
}

// BalanceOf returns the account balance of addr.
func (e *Engine) BalanceOf(addr crypto.Address) (*big.Int, error) {
	acc, err := e.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(acc.Balance), nil
}

// Snapshot returns a copy of the current pool accounting state.
func (e *Engine) Snapshot() (*Pool, error) {
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

// Credit adds amount to addr's balance. This is the inbound half of the
// external asset-transfer primitive; authorization is the caller's concern.
func (e *Engine) Credit(addr crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	acc, err := e.loadAccount(addr)
	if err != nil {
		return err
	}
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	return e.state.PutAccount(addr, acc)
}

func (e *Engine) loadPool() (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, err := e.state.GetPool()
	if err != nil {
		return nil, err
	}
	return pool.Normalize(), nil
}

func (e *Engine) loadAccount(addr crypto.Address) (*types.Account, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return acc.Normalize(), nil
}

func (e *Engine) loadShares(addr crypto.Address) (*big.Int, error) {
	shares, err := e.state.GetShares(addr)
	if err != nil {
		return nil, err
	}
	if shares == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(shares), nil
}

func (e *Engine) persist(addr crypto.Address, acc, moduleAcc *types.Account, pool *Pool) error {
	if err := e.state.PutAccount(addr, acc); err != nil {
		return err
	}
	if err := e.state.PutAccount(e.moduleAddress, moduleAcc); err != nil {
		return err
	}
	return e.state.PutPool(pool)
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(event)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
