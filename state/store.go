package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"investpool/core/types"
	"investpool/crypto"
	"investpool/native/loan"
	"investpool/native/vault"
	"investpool/storage"
)

const (
	keyPool      = "pool"
	keyLoanCount = "loan.count"
)

// Store persists ledger state as JSON records in a key-value database. It
// satisfies the state interfaces of both the vault and the loan registry.
type Store struct {
	db storage.Database
}

// NewStore wraps db in a ledger state store.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// GetPool loads the pool accounting record. A store that has never been
// written returns an empty pool.
func (s *Store) GetPool() (*vault.Pool, error) {
	raw, err := s.db.Get([]byte(keyPool))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return &vault.Pool{}, nil
	}
	if err != nil {
		return nil, err
	}
	pool := &vault.Pool{}
	if err := json.Unmarshal(raw, pool); err != nil {
		return nil, fmt.Errorf("state: decode pool: %w", err)
	}
	return pool, nil
}

// PutPool stores the pool accounting record.
func (s *Store) PutPool(pool *vault.Pool) error {
	raw, err := json.Marshal(pool)
	if err != nil {
		return fmt.Errorf("state: encode pool: %w", err)
	}
	return s.db.Put([]byte(keyPool), raw)
}

// GetAccount loads the account for addr, returning an empty account when the
// identity has never transacted.
func (s *Store) GetAccount(addr crypto.Address) (*types.Account, error) {
	raw, err := s.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return types.NewAccount(), nil
	}
	if err != nil {
		return nil, err
	}
	account := &types.Account{}
	if err := json.Unmarshal(raw, account); err != nil {
		return nil, fmt.Errorf("state: decode account %s: %w", addr, err)
	}
	return account.Normalize(), nil
}

// PutAccount stores the account for addr.
func (s *Store) PutAccount(addr crypto.Address, account *types.Account) error {
	raw, err := json.Marshal(account.Normalize())
	if err != nil {
		return fmt.Errorf("state: encode account %s: %w", addr, err)
	}
	return s.db.Put(accountKey(addr), raw)
}

// GetShares loads the claim units held by addr, zero when absent.
func (s *Store) GetShares(addr crypto.Address) (*big.Int, error) {
	raw, err := s.db.Get(sharesKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	shares, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("state: corrupt share balance for %s", addr)
	}
	return shares, nil
}

// PutShares stores the claim units held by addr.
func (s *Store) PutShares(addr crypto.Address, shares *big.Int) error {
	if shares == nil {
		shares = big.NewInt(0)
	}
	return s.db.Put(sharesKey(addr), []byte(shares.String()))
}

// LoanGet loads a loan record by id. The boolean reports existence.
func (s *Store) LoanGet(id uint64) (*loan.Loan, bool, error) {
	raw, err := s.db.Get(loanKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	record := &loan.Loan{}
	if err := json.Unmarshal(raw, record); err != nil {
		return nil, false, fmt.Errorf("state: decode loan %d: %w", id, err)
	}
	return record.Normalize(), true, nil
}

// LoanPut stores a loan record under its id.
func (s *Store) LoanPut(record *loan.Loan) error {
	if record == nil {
		return fmt.Errorf("state: nil loan")
	}
	raw, err := json.Marshal(record.Normalize())
	if err != nil {
		return fmt.Errorf("state: encode loan %d: %w", record.ID, err)
	}
	return s.db.Put(loanKey(record.ID), raw)
}

// LoanCount returns the number of loans ever created.
func (s *Store) LoanCount() (uint64, error) {
	raw, err := s.db.Get([]byte(keyLoanCount))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var count uint64
	if _, err := fmt.Sscanf(string(raw), "%d", &count); err != nil {
		return 0, fmt.Errorf("state: corrupt loan count: %w", err)
	}
	return count, nil
}

// LoanSetCount records the number of loans ever created.
func (s *Store) LoanSetCount(count uint64) error {
	return s.db.Put([]byte(keyLoanCount), []byte(fmt.Sprintf("%d", count)))
}

// LoanIndexAppend adds id to the borrower's loan listing.
func (s *Store) LoanIndexAppend(borrower crypto.Address, id uint64) error {
	ids, err := s.LoanIndexGet(borrower)
	if err != nil {
		return err
	}
	ids = append(ids, id)
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("state: encode loan index %s: %w", borrower, err)
	}
	return s.db.Put(loanIndexKey(borrower), raw)
}

// LoanIndexGet returns the borrower's loan ids in request order.
func (s *Store) LoanIndexGet(borrower crypto.Address) ([]uint64, error) {
	raw, err := s.db.Get(loanIndexKey(borrower))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return []uint64{}, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []uint64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("state: decode loan index %s: %w", borrower, err)
	}
	return ids, nil
}

func accountKey(addr crypto.Address) []byte {
	return []byte("account:" + addr.Hex())
}

func sharesKey(addr crypto.Address) []byte {
	return []byte("shares:" + addr.Hex())
}

func loanKey(id uint64) []byte {
	return []byte(fmt.Sprintf("loan:%d", id))
}

func loanIndexKey(borrower crypto.Address) []byte {
	return []byte("loan.index:" + borrower.Hex())
}
