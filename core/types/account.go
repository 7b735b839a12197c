package types

import "math/big"

// Account holds the base-asset balance for a single ledger identity. Balances
// are denominated in the smallest indivisible unit of the asset and stored as
// big integers so the ledger never touches floating point.
type Account struct {
	Balance *big.Int `json:"balance"`
}

// NewAccount returns an account with a zero balance.
func NewAccount() *Account {
	return &Account{Balance: big.NewInt(0)}
}

// Normalize fills a nil balance with zero so callers can operate on the
// account without nil checks.
func (a *Account) Normalize() *Account {
	if a == nil {
		return NewAccount()
	}
	if a.Balance == nil {
		a.Balance = big.NewInt(0)
	}
	return a
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := NewAccount()
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	return clone
}
