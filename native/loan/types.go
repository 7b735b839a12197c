package loan

import (
	"math/big"

	"investpool/crypto"
)

// Status enumerates the lifecycle states of a loan record. The numeric order
// matches the wire encoding used by clients.
type Status uint8

const (
	StatusRequested Status = iota
	StatusApproved
	StatusWithdrawn
	StatusRepaid
	StatusDenied
	StatusDefaulted
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	return s <= StatusDefaulted
}

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusRepaid, StatusDenied, StatusDefaulted:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusRequested:
		return "requested"
	case StatusApproved:
		return "approved"
	case StatusWithdrawn:
		return "withdrawn"
	case StatusRepaid:
		return "repaid"
	case StatusDenied:
		return "denied"
	case StatusDefaulted:
		return "defaulted"
	default:
		return "unknown"
	}
}

// Loan is the audit record of a single borrowing request. Records are created
// on request and retained forever; only Status and WithdrawnAt mutate after
// creation.
type Loan struct {
	ID       uint64         `json:"id"`
	Borrower crypto.Address `json:"borrower"`
	// Principal is the requested asset amount.
	Principal *big.Int `json:"principal"`
	// DurationDays is informational: it does not gate repayment and no
	// time-based default trigger exists.
	DurationDays uint64 `json:"durationDays"`
	Purpose      string `json:"purpose"`
	// Collateral is fixed at request time as principal scaled by the
	// configured ratio; it is escrowed, not pool equity.
	Collateral *big.Int `json:"collateral"`
	Status     Status   `json:"status"`
	// InterestRateBps is the fixed linear rate applied to the principal
	// from WithdrawnAt onward.
	InterestRateBps uint64 `json:"interestRateBps"`
	RequestedAt     int64  `json:"requestedAt"`
	// WithdrawnAt anchors interest accrual. Zero until the loan is
	// withdrawn.
	WithdrawnAt int64 `json:"withdrawnAt,omitempty"`
}

// Clone returns a deep copy of the loan so callers can mutate the copy
// without aliasing stored state.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Principal != nil {
		clone.Principal = new(big.Int).Set(l.Principal)
	} else {
		clone.Principal = big.NewInt(0)
	}
	if l.Collateral != nil {
		clone.Collateral = new(big.Int).Set(l.Collateral)
	} else {
		clone.Collateral = big.NewInt(0)
	}
	return &clone
}

// Normalize fills nil monetary fields with zero.
func (l *Loan) Normalize() *Loan {
	if l == nil {
		return nil
	}
	if l.Principal == nil {
		l.Principal = big.NewInt(0)
	}
	if l.Collateral == nil {
		l.Collateral = big.NewInt(0)
	}
	return l
}
