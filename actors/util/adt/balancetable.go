package adt

import (
	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	cid "github.com/ipfs/go-cid"
	errors "github.com/pkg/errors"
)

// BalanceTable is a specialization of a map of addresses to token amounts.
// Absent keys are treated as zero balances.
type BalanceTable Map

// AsBalanceTable interprets a store as a balance table with root `r`.
func AsBalanceTable(s Store, r cid.Cid) *BalanceTable {
	return &BalanceTable{
		root:  r,
		store: s,
	}
}

// MakeEmptyBalanceTable creates a new empty balance table and flushes it to the store.
func MakeEmptyBalanceTable(s Store) (*BalanceTable, error) {
	m, err := MakeEmptyMap(s)
	if err != nil {
		return nil, err
	}
	return (*BalanceTable)(m), nil
}

// Root returns the root cid of the underlying HAMT.
func (t *BalanceTable) Root() cid.Cid {
	return t.root
}

// Get returns the balance for a key, zero if absent.
func (t *BalanceTable) Get(key addr.Address) (abi.TokenAmount, error) {
	var value abi.TokenAmount
	found, err := (*Map)(t).Get(abi.AddrKey(key), &value)
	if err != nil {
		return big.Zero(), err
	}
	if !found {
		return big.Zero(), nil
	}
	return value, nil
}

// Add adds an amount to a balance, creating the entry if absent.
func (t *BalanceTable) Add(key addr.Address, value abi.TokenAmount) error {
	prev, err := t.Get(key)
	if err != nil {
		return err
	}
	sum := big.Add(prev, value)
	if sum.LessThan(big.Zero()) {
		return errors.Errorf("balance for %v would be negative: %v", key, sum)
	}
	return (*Map)(t).Put(abi.AddrKey(key), &sum)
}

// MustSubtract reduces a balance, failing if the balance would go negative.
func (t *BalanceTable) MustSubtract(key addr.Address, req abi.TokenAmount) error {
	return t.Add(key, req.Neg())
}

// Total returns the sum of all balances in the table.
func (t *BalanceTable) Total() (abi.TokenAmount, error) {
	total := big.Zero()
	var balance abi.TokenAmount
	err := (*Map)(t).ForEach(&balance, func(key string) error {
		total = big.Add(total, balance)
		return nil
	})
	return total, err
}
