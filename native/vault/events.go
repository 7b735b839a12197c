package vault

import (
	"math/big"

	"investpool/core/types"
	"investpool/crypto"
)

const (
	// EventTypeDeposited is emitted when a depositor adds liquidity.
	EventTypeDeposited = "pool.deposited"
	// EventTypeWithdrawn is emitted when a depositor burns shares for cash.
	EventTypeWithdrawn = "pool.withdrawn"
)

// Deposited carries the canonical payload for a completed deposit.
type Deposited struct {
	Depositor crypto.Address
	Amount    *big.Int
	Shares    *big.Int
}

// EventType implements events.Event.
func (Deposited) EventType() string { return EventTypeDeposited }

// Event renders the deposit as a structured record.
func (e Deposited) Event() *types.Event {
	return &types.Event{
		Type: EventTypeDeposited,
		Attributes: map[string]string{
			"depositor": e.Depositor.Hex(),
			"amount":    formatAmount(e.Amount),
			"shares":    formatAmount(e.Shares),
		},
	}
}

// Withdrawn carries the canonical payload for a completed withdrawal.
type Withdrawn struct {
	Depositor crypto.Address
	Shares    *big.Int
	Payout    *big.Int
}

// EventType implements events.Event.
func (Withdrawn) EventType() string { return EventTypeWithdrawn }

// Event renders the withdrawal as a structured record.
func (e Withdrawn) Event() *types.Event {
	return &types.Event{
		Type: EventTypeWithdrawn,
		Attributes: map[string]string{
			"depositor": e.Depositor.Hex(),
			"shares":    formatAmount(e.Shares),
			"payout":    formatAmount(e.Payout),
		},
	}
}

// NewDepositedEvent builds the deposit event payload.
func NewDepositedEvent(depositor crypto.Address, amount, shares *big.Int) Deposited {
	return Deposited{Depositor: depositor, Amount: cloneBigInt(amount), Shares: cloneBigInt(shares)}
}

// NewWithdrawnEvent builds the withdrawal event payload.
func NewWithdrawnEvent(depositor crypto.Address, shares, payout *big.Int) Withdrawn {
	return Withdrawn{Depositor: depositor, Shares: cloneBigInt(shares), Payout: cloneBigInt(payout)}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
