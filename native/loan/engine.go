package loan

import (
	"errors"
	"math/big"
	"time"

	"investpool/core/events"
	"investpool/crypto"
	"investpool/native/vault"
)

var (
	// ErrNotFound rejects references to loan ids that were never issued.
	ErrNotFound = errors.New("loan: not found")
	// ErrCollateralMismatch rejects requests whose supplied collateral is
	// not exactly the required value.
	ErrCollateralMismatch = errors.New("loan: collateral mismatch")
	// ErrUnauthorized rejects callers lacking the owner or borrower role
	// the operation demands.
	ErrUnauthorized = errors.New("loan: unauthorized")
	// ErrInvalidStateTransition rejects operations the loan's current
	// status does not permit.
	ErrInvalidStateTransition = errors.New("loan: invalid state transition")
	// ErrInsufficientPayment rejects repayments below the owed amount at
	// the instant of the call.
	ErrInsufficientPayment = errors.New("loan: insufficient payment")
	// ErrNotWithdrawn rejects owed-amount queries on loans that are not
	// accruing interest.
	ErrNotWithdrawn = errors.New("loan: not withdrawn")

	errNilState = errors.New("loan: state not configured")
	errNilVault = errors.New("loan: vault not configured")
)

// DefaultCollateralRatioBps requires collateral worth 150% of the principal.
const DefaultCollateralRatioBps = 15_000

// DefaultInterestRateBps is the fallback linear rate stamped on new loans.
const DefaultInterestRateBps = 500

type engineState interface {
	LoanGet(id uint64) (*Loan, bool, error)
	LoanPut(*Loan) error
	LoanCount() (uint64, error)
	LoanSetCount(count uint64) error
	LoanIndexAppend(borrower crypto.Address, id uint64) error
	LoanIndexGet(borrower crypto.Address) ([]uint64, error)
}

// Engine owns the loan records and drives their state machine. It depends on
// the vault for balance queries and asset movement; the vault never calls
// back into the registry. Every operation validates fully before mutating,
// so failures leave both registry and vault untouched.
type Engine struct {
	state              engineState
	vault              *vault.Engine
	owner              crypto.Address
	interestRateBps    uint64
	collateralRatioBps uint64
	emitter            events.Emitter
	nowFn              func() int64
}

// NewEngine constructs a registry administered by owner and backed by the
// given vault.
func NewEngine(owner crypto.Address, v *vault.Engine) *Engine {
	return &Engine{
		vault:              v,
		owner:              owner,
		interestRateBps:    DefaultInterestRateBps,
		collateralRatioBps: DefaultCollateralRatioBps,
		emitter:            events.NoopEmitter{},
		nowFn:              func() int64 { return time.Now().Unix() },
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

// SetNowFunc overrides the time source. Tests use this to accrue interest
// deterministically.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetInterestRateBps configures the rate stamped on subsequently requested
// loans. Existing records keep the rate fixed at their request time.
func (e *Engine) SetInterestRateBps(bps uint64) { e.interestRateBps = bps }

// SetCollateralRatioBps configures the collateral requirement for new
// requests.
func (e *Engine) SetCollateralRatioBps(bps uint64) {
	if bps == 0 {
		bps = DefaultCollateralRatioBps
	}
	e.collateralRatioBps = bps
}

// Owner returns the privileged administrator identity.
func (e *Engine) Owner() crypto.Address { return e.owner }

// RequestLoan creates a new record in the Requested state and escrows the
// borrower's collateral. The supplied collateral must equal the required
// value exactly; there is no rounding tolerance. The new loan id is returned.
func (e *Engine) RequestLoan(borrower crypto.Address, principal *big.Int, durationDays uint64, purpose string, suppliedCollateral *big.Int) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if principal == nil || principal.Sign() <= 0 {
		return 0, vault.ErrInvalidAmount
	}
	required := RequiredCollateral(principal, e.collateralRatioBps)
	if suppliedCollateral == nil || suppliedCollateral.Cmp(required) != 0 {
		return 0, ErrCollateralMismatch
	}
	balance, err := e.vault.BalanceOf(borrower)
	if err != nil {
		return 0, err
	}
	if balance.Cmp(required) < 0 {
		return 0, vault.ErrInsufficientBalance
	}

	id, err := e.state.LoanCount()
	if err != nil {
		return 0, err
	}
	record := &Loan{
		ID:              id,
		Borrower:        borrower,
		Principal:       new(big.Int).Set(principal),
		DurationDays:    durationDays,
		Purpose:         purpose,
		Collateral:      required,
		Status:          StatusRequested,
		InterestRateBps: e.interestRateBps,
		RequestedAt:     e.now(),
	}

	if err := e.vault.LockCollateral(borrower, required); err != nil {
		return 0, err
	}
	if err := e.state.LoanPut(record); err != nil {
		return 0, err
	}
	if err := e.state.LoanSetCount(id + 1); err != nil {
		return 0, err
	}
	if err := e.state.LoanIndexAppend(borrower, id); err != nil {
		return 0, err
	}

	e.emit(NewRequestedEvent(record))
	return id, nil
}

// ApproveLoan moves a Requested loan to Approved. Only the owner may approve,
// and only while the pool holds enough cash to honour the eventual
// disbursement.
func (e *Engine) ApproveLoan(caller crypto.Address, id uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if caller != e.owner {
		return ErrUnauthorized
	}
	record, err := e.loadLoan(id)
	if err != nil {
		return err
	}
	if record.Status != StatusRequested {
		return ErrInvalidStateTransition
	}
	liquidity, err := e.vault.AvailableLiquidity()
	if err != nil {
		return err
	}
	if liquidity.Cmp(record.Principal) < 0 {
		return vault.ErrInsufficientLiquidity
	}

	record.Status = StatusApproved
	if err := e.state.LoanPut(record); err != nil {
		return err
	}
	e.emit(NewApprovedEvent(record))
	return nil
}

// DenyLoan rejects a Requested loan and returns the escrowed collateral to
// the borrower in full.
func (e *Engine) DenyLoan(caller crypto.Address, id uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if caller != e.owner {
		return ErrUnauthorized
	}
	record, err := e.loadLoan(id)
	if err != nil {
		return err
	}
	if record.Status != StatusRequested {
		return ErrInvalidStateTransition
	}

	if err := e.vault.ReleaseCollateral(record.Borrower, record.Collateral); err != nil {
		return err
	}
	record.Status = StatusDenied
	if err := e.state.LoanPut(record); err != nil {
		return err
	}
	e.emit(NewDeniedEvent(record))
	return nil
}

// WithdrawLoan disburses the principal of an Approved loan to its borrower
// and starts interest accrual.
func (e *Engine) WithdrawLoan(caller crypto.Address, id uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	record, err := e.loadLoan(id)
	if err != nil {
		return err
	}
	if caller != record.Borrower {
		return ErrUnauthorized
	}
	if record.Status != StatusApproved {
		return ErrInvalidStateTransition
	}

	if err := e.vault.Disburse(record.Borrower, record.Principal); err != nil {
		return err
	}
	record.Status = StatusWithdrawn
	record.WithdrawnAt = e.now()
	if err := e.state.LoanPut(record); err != nil {
		return err
	}
	e.emit(NewWithdrawnEvent(record))
	return nil
}

// AmountOwed returns principal plus interest accrued since withdrawal,
// recomputed at the instant of the call. Loans that are not in the Withdrawn
// state are not accruing and fail with ErrNotWithdrawn.
func (e *Engine) AmountOwed(id uint64) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	record, err := e.loadLoan(id)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusWithdrawn {
		return nil, ErrNotWithdrawn
	}
	return e.owed(record), nil
}

// RepayLoan settles a Withdrawn loan. The offered value must cover the owed
// amount computed now; only the owed portion leaves the borrower's account,
// so any excess offered is implicitly refunded. Collateral is returned in
// full.
func (e *Engine) RepayLoan(caller crypto.Address, id uint64, suppliedValue *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	record, err := e.loadLoan(id)
	if err != nil {
		return nil, err
	}
	if caller != record.Borrower {
		return nil, ErrUnauthorized
	}
	if record.Status != StatusWithdrawn {
		return nil, ErrInvalidStateTransition
	}

	owed := e.owed(record)
	if suppliedValue == nil || suppliedValue.Cmp(owed) < 0 {
		return nil, ErrInsufficientPayment
	}
	balance, err := e.vault.BalanceOf(record.Borrower)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(owed) < 0 {
		return nil, vault.ErrInsufficientBalance
	}

	if err := e.vault.CollectRepayment(record.Borrower, owed, record.Principal); err != nil {
		return nil, err
	}
	if err := e.vault.ReleaseCollateral(record.Borrower, record.Collateral); err != nil {
		return nil, err
	}
	record.Status = StatusRepaid
	if err := e.state.LoanPut(record); err != nil {
		return nil, err
	}
	e.emit(NewRepaidEvent(record, owed))
	return owed, nil
}

// CloseLoanAsDefault settles a Withdrawn loan administratively: the
// collateral is forfeited to the pool as debt coverage and is never returned
// to the borrower. There is no time-based trigger; the duration field is
// informational only.
func (e *Engine) CloseLoanAsDefault(caller crypto.Address, id uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if caller != e.owner {
		return ErrUnauthorized
	}
	record, err := e.loadLoan(id)
	if err != nil {
		return err
	}
	if record.Status != StatusWithdrawn {
		return ErrInvalidStateTransition
	}

	if err := e.vault.ForfeitCollateral(record.Collateral, record.Principal); err != nil {
		return err
	}
	record.Status = StatusDefaulted
	if err := e.state.LoanPut(record); err != nil {
		return err
	}
	e.emit(NewDefaultedEvent(record))
	return nil
}

// LoanByID returns a copy of the record for id.
func (e *Engine) LoanByID(id uint64) (*Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	record, err := e.loadLoan(id)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// LoanCount returns the number of loans ever requested.
func (e *Engine) LoanCount() (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.state.LoanCount()
}

// LoanIDsOf returns the ids of every loan the borrower has requested, in
// request order.
func (e *Engine) LoanIDsOf(borrower crypto.Address) ([]uint64, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.state.LoanIndexGet(borrower)
}

func (e *Engine) owed(record *Loan) *big.Int {
	elapsed := e.now() - record.WithdrawnAt
	return amountOwed(record.Principal, record.InterestRateBps, elapsed)
}

func (e *Engine) loadLoan(id uint64) (*Loan, error) {
	record, ok, err := e.state.LoanGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || record == nil {
		return nil, ErrNotFound
	}
	return record.Normalize(), nil
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.vault == nil {
		return errNilVault
	}
	return nil
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(event)
}
