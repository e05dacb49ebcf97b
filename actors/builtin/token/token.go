// Package token implements a minimal fungible asset ledger, keyed by
// (asset, holder) address pairs. It backs the transfer port in integration
// scenarios where a real settlement layer is out of reach.
package token

import (
	"sync"

	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/exitcode"
	cid "github.com/ipfs/go-cid"

	"github.com/vestfi/vesting-actors/actors/util/adt"
)

// Ledger is a HAMT of (asset, holder) to balance. All mutations flush
// through the store, so a root captured with Root() is a usable snapshot.
type Ledger struct {
	store adt.Store

	lk       sync.Mutex
	balances cid.Cid
}

func NewLedger(store adt.Store) (*Ledger, error) {
	empty, err := adt.MakeEmptyMap(store)
	if err != nil {
		return nil, exitcode.ErrIllegalState.Wrapf("failed to create empty balance map: %w", err)
	}
	return &Ledger{
		store:    store,
		balances: empty.Root(),
	}, nil
}

// Root returns the current root of the balance map, for snapshotting.
func (l *Ledger) Root() cid.Cid {
	l.lk.Lock()
	defer l.lk.Unlock()
	return l.balances
}

// Revert resets the ledger to a previously captured root.
func (l *Ledger) Revert(root cid.Cid) {
	l.lk.Lock()
	defer l.lk.Unlock()
	l.balances = root
}

// Balance returns the holder's balance of an asset, zero if no entry exists.
func (l *Ledger) Balance(asset addr.Address, holder addr.Address) abi.TokenAmount {
	l.lk.Lock()
	defer l.lk.Unlock()
	return l.balanceLocked(asset, holder)
}

// Mint credits an amount of an asset to a holder out of thin air.
func (l *Ledger) Mint(asset addr.Address, holder addr.Address, amount abi.TokenAmount) error {
	if amount.LessThan(big.Zero()) {
		return exitcode.ErrIllegalArgument.Wrapf("cannot mint negative amount %v", amount)
	}
	l.lk.Lock()
	defer l.lk.Unlock()
	return l.creditLocked(asset, holder, amount)
}

// Transfer moves an amount of an asset between holders, failing without
// effect if the source balance is insufficient.
func (l *Ledger) Transfer(asset addr.Address, from addr.Address, to addr.Address, amount abi.TokenAmount) error {
	if amount.LessThan(big.Zero()) {
		return exitcode.ErrIllegalArgument.Wrapf("cannot transfer negative amount %v", amount)
	}
	l.lk.Lock()
	defer l.lk.Unlock()

	fromBalance := l.balanceLocked(asset, from)
	if fromBalance.LessThan(amount) {
		return exitcode.ErrInsufficientFunds.Wrapf("%v holds %v of %v, needs %v", from, fromBalance, asset, amount)
	}

	rollback := l.balances
	if err := l.creditLocked(asset, from, amount.Neg()); err != nil {
		l.balances = rollback
		return err
	}
	if err := l.creditLocked(asset, to, amount); err != nil {
		l.balances = rollback
		return err
	}
	return nil
}

func (l *Ledger) balanceLocked(asset addr.Address, holder addr.Address) abi.TokenAmount {
	balances := adt.AsMap(l.store, l.balances)
	var balance abi.TokenAmount
	found, err := balances.Get(abi.NewAddrPairKey(asset, holder), &balance)
	if err != nil || !found {
		return big.Zero()
	}
	return balance
}

func (l *Ledger) creditLocked(asset addr.Address, holder addr.Address, amount abi.TokenAmount) error {
	balances := adt.AsMap(l.store, l.balances)
	var balance abi.TokenAmount
	found, err := balances.Get(abi.NewAddrPairKey(asset, holder), &balance)
	if err != nil {
		return exitcode.ErrIllegalState.Wrapf("failed to load balance of %v for %v: %w", asset, holder, err)
	}
	if !found {
		balance = big.Zero()
	}
	sum := big.Add(balance, amount)
	if sum.LessThan(big.Zero()) {
		return exitcode.ErrInsufficientFunds.Wrapf("balance of %v for %v would be negative", asset, holder)
	}
	if err := balances.Put(abi.NewAddrPairKey(asset, holder), &sum); err != nil {
		return exitcode.ErrIllegalState.Wrapf("failed to store balance of %v for %v: %w", asset, holder, err)
	}
	l.balances = balances.Root()
	return nil
}
