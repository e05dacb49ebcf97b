// Package access tracks the recipient allow-list and the system pause gate.
// Hosts embed a Registry to answer the eligibility and halt queries the
// vesting actor makes, and expose the mutators to their own administration
// surface.
package access

import (
	"sync"

	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/exitcode"
	cid "github.com/ipfs/go-cid"

	"github.com/vestfi/vesting-actors/actors/util/adt"
)

// Registry is the durable allow-list plus a volatile halt flag. The member
// set persists in the store as a HAMT so that a host can checkpoint and
// reload it; the halt flag is operational state and is not persisted.
type Registry struct {
	rootKey addr.Address
	store   adt.Store

	lk      sync.RWMutex
	members cid.Cid
	halted  bool
}

// NewRegistry creates a registry with an empty member set, controlled by rootKey.
func NewRegistry(store adt.Store, rootKey addr.Address) (*Registry, error) {
	empty, err := adt.MakeEmptySet(store)
	if err != nil {
		return nil, exitcode.ErrIllegalState.Wrapf("failed to create empty member set: %w", err)
	}
	return &Registry{
		rootKey: rootKey,
		store:   store,
		members: empty.Root(),
	}, nil
}

// LoadRegistry reopens a registry over a previously persisted member set.
func LoadRegistry(store adt.Store, rootKey addr.Address, members cid.Cid) *Registry {
	return &Registry{
		rootKey: rootKey,
		store:   store,
		members: members,
	}
}

// RootKey returns the address that controls the registry.
func (r *Registry) RootKey() addr.Address {
	return r.rootKey
}

// Members returns the root of the persisted member set.
func (r *Registry) Members() cid.Cid {
	r.lk.RLock()
	defer r.lk.RUnlock()
	return r.members
}

// AddRecipient admits a recipient to the allow-list. Only the root key may call.
func (r *Registry) AddRecipient(caller addr.Address, recipient addr.Address) error {
	if caller != r.rootKey {
		return exitcode.ErrForbidden.Wrapf("%v is not the registry root key", caller)
	}
	if recipient == addr.Undef {
		return exitcode.ErrIllegalArgument.Wrapf("recipient address is required")
	}

	r.lk.Lock()
	defer r.lk.Unlock()
	members := adt.AsSet(r.store, r.members)
	if err := members.Put(abi.AddrKey(recipient)); err != nil {
		return exitcode.ErrIllegalState.Wrapf("failed to add %v to member set: %w", recipient, err)
	}
	r.members = members.Root()
	return nil
}

// RemoveRecipient removes a recipient from the allow-list. Removal has no
// effect on any schedule the recipient already holds.
func (r *Registry) RemoveRecipient(caller addr.Address, recipient addr.Address) error {
	if caller != r.rootKey {
		return exitcode.ErrForbidden.Wrapf("%v is not the registry root key", caller)
	}

	r.lk.Lock()
	defer r.lk.Unlock()
	members := adt.AsSet(r.store, r.members)
	found, err := members.Has(abi.AddrKey(recipient))
	if err != nil {
		return exitcode.ErrIllegalState.Wrapf("failed to check member set for %v: %w", recipient, err)
	}
	if !found {
		return exitcode.ErrNotFound.Wrapf("%v is not a member", recipient)
	}
	if err := members.Delete(abi.AddrKey(recipient)); err != nil {
		return exitcode.ErrIllegalState.Wrapf("failed to remove %v from member set: %w", recipient, err)
	}
	r.members = members.Root()
	return nil
}

// IsEligible reports whether a recipient is on the allow-list.
func (r *Registry) IsEligible(recipient addr.Address) bool {
	r.lk.RLock()
	defer r.lk.RUnlock()
	members := adt.AsSet(r.store, r.members)
	found, err := members.Has(abi.AddrKey(recipient))
	if err != nil {
		return false
	}
	return found
}

// SetHalted engages or releases the pause gate. Only the root key may call.
func (r *Registry) SetHalted(caller addr.Address, halted bool) error {
	if caller != r.rootKey {
		return exitcode.ErrForbidden.Wrapf("%v is not the registry root key", caller)
	}
	r.lk.Lock()
	defer r.lk.Unlock()
	r.halted = halted
	return nil
}

// IsHalted reports whether the pause gate is engaged.
func (r *Registry) IsHalted() bool {
	r.lk.RLock()
	defer r.lk.RUnlock()
	return r.halted
}
