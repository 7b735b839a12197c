package loan

import (
	"math/big"
	"strconv"

	"investpool/core/types"
)

const (
	EventTypeLoanRequested = "loan.requested"
	EventTypeLoanApproved  = "loan.approved"
	EventTypeLoanDenied    = "loan.denied"
	EventTypeLoanWithdrawn = "loan.withdrawn"
	EventTypeLoanRepaid    = "loan.repaid"
	EventTypeLoanDefaulted = "loan.defaulted"
)

// LoanEvent wraps a loan snapshot with the transition that produced it.
type LoanEvent struct {
	kind   string
	record *Loan
	owed   *big.Int
}

// EventType implements events.Event.
func (e LoanEvent) EventType() string { return e.kind }

// Event renders the transition as a structured record.
func (e LoanEvent) Event() *types.Event {
	attrs := make(map[string]string)
	if e.record != nil {
		record := e.record.Clone().Normalize()
		attrs["id"] = strconv.FormatUint(record.ID, 10)
		attrs["borrower"] = record.Borrower.Hex()
		attrs["principal"] = record.Principal.String()
		attrs["collateral"] = record.Collateral.String()
		attrs["status"] = record.Status.String()
		attrs["interestRateBps"] = strconv.FormatUint(record.InterestRateBps, 10)
		if record.WithdrawnAt != 0 {
			attrs["withdrawnAt"] = strconv.FormatInt(record.WithdrawnAt, 10)
		}
	}
	if e.owed != nil {
		attrs["owed"] = e.owed.String()
	}
	return &types.Event{Type: e.kind, Attributes: attrs}
}

// NewRequestedEvent builds the payload for a new loan request.
func NewRequestedEvent(record *Loan) LoanEvent {
	return LoanEvent{kind: EventTypeLoanRequested, record: record.Clone()}
}

// NewApprovedEvent builds the payload for an approval.
func NewApprovedEvent(record *Loan) LoanEvent {
	return LoanEvent{kind: EventTypeLoanApproved, record: record.Clone()}
}

// NewDeniedEvent builds the payload for a denial.
func NewDeniedEvent(record *Loan) LoanEvent {
	return LoanEvent{kind: EventTypeLoanDenied, record: record.Clone()}
}

// NewWithdrawnEvent builds the payload for a principal disbursement.
func NewWithdrawnEvent(record *Loan) LoanEvent {
	return LoanEvent{kind: EventTypeLoanWithdrawn, record: record.Clone()}
}

// NewRepaidEvent builds the payload for a settlement, including the owed
// amount actually collected.
func NewRepaidEvent(record *Loan, owed *big.Int) LoanEvent {
	event := LoanEvent{kind: EventTypeLoanRepaid, record: record.Clone()}
	if owed != nil {
		event.owed = new(big.Int).Set(owed)
	}
	return event
}

// NewDefaultedEvent builds the payload for a default closure.
func NewDefaultedEvent(record *Loan) LoanEvent {
	return LoanEvent{kind: EventTypeLoanDefaulted, record: record.Clone()}
}
