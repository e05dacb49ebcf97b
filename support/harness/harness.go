// Package harness provides a minimal host for integration scenarios. Unlike
// the mock runtime, the harness wires real collaborators behind the ports:
// the access registry answers eligibility and halt queries and the token
// ledger settles transfers. An aborted invocation rolls back actor state,
// ledger and events, so each applied message is all-or-nothing.
package harness

import (
	"context"
	"fmt"
	"testing"

	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/exitcode"
	cid "github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"

	"github.com/vestfi/vesting-actors/actors/builtin/access"
	"github.com/vestfi/vesting-actors/actors/builtin/token"
	vmr "github.com/vestfi/vesting-actors/actors/runtime"
	"github.com/vestfi/vesting-actors/actors/util/adt"
	"github.com/vestfi/vesting-actors/support/ipld"
)

type Host struct {
	ctx      context.Context
	t        testing.TB
	store    adt.Store
	receiver addr.Address

	Registry *access.Registry
	Ledger   *token.Ledger

	epoch         abi.ChainEpoch
	caller        addr.Address
	state         cid.Cid
	inTransaction bool
	events        []vmr.Event
}

var _ vmr.Runtime = &Host{}
var _ vmr.StateHandle = &Host{}

// NewHost creates a host with an empty registry rooted at admin, an empty
// ledger, and no actor state. The caller is expected to apply a constructor
// invocation before anything else.
func NewHost(t testing.TB, receiver addr.Address, admin addr.Address) *Host {
	ctx := context.Background()
	store := ipld.NewADTStore(ctx)

	registry, err := access.NewRegistry(store, admin)
	require.NoError(t, err)
	ledger, err := token.NewLedger(store)
	require.NoError(t, err)

	return &Host{
		ctx:      ctx,
		t:        t,
		store:    store,
		receiver: receiver,
		Registry: registry,
		Ledger:   ledger,
		state:    cid.Undef,
	}
}

// Apply invokes f as a message from caller at the given epoch, catching any
// abort. On abort, actor state, ledger and emitted events are rolled back to
// their pre-invocation values and the abort's exit code is returned.
func (h *Host) Apply(caller addr.Address, epoch abi.ChainEpoch, f func()) (code exitcode.ExitCode) {
	h.caller = caller
	h.epoch = epoch
	prevState := h.state
	prevLedger := h.Ledger.Root()
	prevEvents := len(h.events)

	defer func() {
		if r := recover(); r != nil {
			a, ok := r.(abort)
			if !ok {
				panic(r)
			}
			h.state = prevState
			h.Ledger.Revert(prevLedger)
			h.events = h.events[:prevEvents]
			code = a.code
		}
	}()
	f()
	return exitcode.Ok
}

///// Runtime implementation /////

func (h *Host) CurrEpoch() abi.ChainEpoch {
	return h.epoch
}

func (h *Host) IsHalted() bool {
	return h.Registry.IsHalted()
}

func (h *Host) IsEligible(recipient addr.Address) bool {
	return h.Registry.IsEligible(recipient)
}

func (h *Host) ValidateImmediateCallerAcceptAny() {}

func (h *Host) ValidateImmediateCallerIs(addrs ...addr.Address) {
	for _, expected := range addrs {
		if h.caller == expected {
			return
		}
	}
	h.Abortf(exitcode.ErrForbidden, "caller address %v forbidden, allowed: %v", h.caller, addrs)
}

func (h *Host) TransferIn(asset addr.Address, from addr.Address, amount abi.TokenAmount) exitcode.ExitCode {
	if h.inTransaction {
		h.Abortf(exitcode.SysErrorIllegalActor, "side-effect within transaction")
	}
	if err := h.Ledger.Transfer(asset, from, h.receiver, amount); err != nil {
		return exitcode.Unwrap(err, exitcode.ErrIllegalState)
	}
	return exitcode.Ok
}

func (h *Host) TransferOut(asset addr.Address, to addr.Address, amount abi.TokenAmount) exitcode.ExitCode {
	if h.inTransaction {
		h.Abortf(exitcode.SysErrorIllegalActor, "side-effect within transaction")
	}
	if err := h.Ledger.Transfer(asset, h.receiver, to, amount); err != nil {
		return exitcode.Unwrap(err, exitcode.ErrIllegalState)
	}
	return exitcode.Ok
}

func (h *Host) BalanceOf(asset addr.Address, holder addr.Address) abi.TokenAmount {
	return h.Ledger.Balance(asset, holder)
}

func (h *Host) Message() vmr.Message {
	return h
}

func (h *Host) Caller() addr.Address {
	return h.caller
}

func (h *Host) Receiver() addr.Address {
	return h.receiver
}

func (h *Host) State() vmr.StateHandle {
	return h
}

func (h *Host) Store() vmr.Store {
	return hostStore{h}
}

func (h *Host) EmitEvent(evt vmr.Event) {
	if h.inTransaction {
		h.Abortf(exitcode.SysErrorIllegalActor, "side-effect within transaction")
	}
	h.events = append(h.events, evt)
}

func (h *Host) Abortf(errExitCode exitcode.ExitCode, msg string, args ...interface{}) {
	panic(abort{errExitCode, fmt.Sprintf(msg, args...)})
}

func (h *Host) Context() context.Context {
	return h.ctx
}

///// State handle implementation /////

func (h *Host) Create(obj vmr.CBORMarshaler) {
	if h.state.Defined() {
		h.Abortf(exitcode.SysErrorIllegalActor, "state already constructed")
	}
	c, err := h.store.Put(h.ctx, obj)
	if err != nil {
		h.Abortf(exitcode.ErrSerialization, "failed to store state: %v", err)
	}
	h.state = c
}

func (h *Host) Readonly(st vmr.CBORUnmarshaler) {
	if err := h.store.Get(h.ctx, h.state, st); err != nil {
		h.Abortf(exitcode.SysErrorIllegalActor, "actor state not found: %v", h.state)
	}
}

func (h *Host) Transaction(st vmr.CBORer, f func() interface{}) interface{} {
	if h.inTransaction {
		h.Abortf(exitcode.SysErrorIllegalActor, "nested transaction")
	}
	h.Readonly(st)
	h.inTransaction = true
	defer func() { h.inTransaction = false }()
	ret := f()
	c, err := h.store.Put(h.ctx, st)
	if err != nil {
		h.Abortf(exitcode.ErrSerialization, "failed to store state: %v", err)
	}
	h.state = c
	return ret
}

///// Store adapter /////

type hostStore struct {
	h *Host
}

func (s hostStore) Get(c cid.Cid, o vmr.CBORUnmarshaler) bool {
	return s.h.store.Get(s.h.ctx, c, o) == nil
}

func (s hostStore) Put(x vmr.CBORMarshaler) cid.Cid {
	c, err := s.h.store.Put(s.h.ctx, x)
	if err != nil {
		s.h.Abortf(exitcode.ErrSerialization, "failed to store object: %v", err)
	}
	return c
}

type abort struct {
	code exitcode.ExitCode
	msg  string
}

func (a abort) String() string {
	return fmt.Sprintf("abort(%v): %s", a.code, a.msg)
}

///// Inspection facilities /////

func (h *Host) StateRoot() cid.Cid {
	return h.state
}

func (h *Host) GetState(o vmr.CBORUnmarshaler) {
	require.NoError(h.t, h.store.Get(h.ctx, h.state, o))
}

// ADTStore exposes the backing store for direct inspection of collections.
func (h *Host) ADTStore() adt.Store {
	return h.store
}

// Events returns all events emitted by successful invocations, in order.
func (h *Host) Events() []vmr.Event {
	return h.events[:]
}

// SetEpoch advances the host clock outside of any invocation.
func (h *Host) SetEpoch(epoch abi.ChainEpoch) {
	h.epoch = epoch
}
