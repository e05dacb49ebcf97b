package runtime

import (
	"context"
	"io"

	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/exitcode"
	cid "github.com/ipfs/go-cid"
)

// Runtime is the host-side interface available to the vesting actor, beyond
// method parameters. It composes the narrow collaborator ports so that hosts
// may implement each concern separately and tests may mock them all at once.
type Runtime interface {
	Clock
	PauseGate
	AccessControl
	AssetTransfer

	// Information about the message being executed.
	Message() Message

	// Provides a handle for the actor's state object.
	State() StateHandle

	// Raw object storage backing the actor's collections.
	Store() Store

	// Signals an observable event to external listeners.
	EmitEvent(evt Event)

	// Halts execution with an error from which the actor cannot recover.
	// The caller receives the exit code; state changes made by the current
	// invocation are rolled back. This method does not return.
	Abortf(errExitCode exitcode.ExitCode, msg string, args ...interface{})

	// Provides a Go context for use by the HAMT store. Actor code should not
	// use this directly.
	Context() context.Context
}

// Clock supplies the current time. Actor code must read it at most once per
// invocation so that a single operation sees a single instant.
type Clock interface {
	CurrEpoch() abi.ChainEpoch
}

// PauseGate blocks mutating operations while the system is halted.
type PauseGate interface {
	IsHalted() bool
}

// AccessControl identifies the administrator and screens recipients.
type AccessControl interface {
	// Validates the immediate caller against an expected set of addresses,
	// aborting with exitcode.ErrForbidden on mismatch.
	ValidateImmediateCallerIs(addrs ...addr.Address)
	ValidateImmediateCallerAcceptAny()

	// Reports whether a recipient is on the allow-list.
	IsEligible(recipient addr.Address) bool
}

// AssetTransfer moves value between external custody and the actor's custody.
// A non-Ok code means the transfer did not happen.
type AssetTransfer interface {
	// Moves amount of asset from the given account into actor custody.
	TransferIn(asset addr.Address, from addr.Address, amount abi.TokenAmount) exitcode.ExitCode
	// Moves amount of asset from actor custody to the given account.
	TransferOut(asset addr.Address, to addr.Address, amount abi.TokenAmount) exitcode.ExitCode
	// The balance of asset held by an external account.
	BalanceOf(asset addr.Address, holder addr.Address) abi.TokenAmount
}

// Message contains information available to the actor about the executing
// invocation.
type Message interface {
	// The identity of the immediate caller.
	Caller() addr.Address

	// The identity of the actor receiving the invocation.
	Receiver() addr.Address
}

// Event is an observable signal emitted by the actor.
type Event struct {
	Name      string
	Recipient addr.Address
	Amount    abi.TokenAmount
}

// Store defines the storage module exposed to the actor.
type Store interface {
	// Retrieves and deserializes an object from the store into `o`. Returns whether successful.
	Get(c cid.Cid, o CBORUnmarshaler) bool
	// Serializes and stores an object, returning its CID.
	Put(x CBORMarshaler) cid.Cid
}

// StateHandle provides mutable, exclusive access to actor state.
type StateHandle interface {
	// Create initializes the state object. Valid only in a constructor, when
	// the state has not yet been initialized.
	Create(obj CBORMarshaler)

	// Readonly loads a readonly copy of the state into the argument.
	Readonly(obj CBORUnmarshaler)

	// Transaction loads a mutable version of the state into `obj`, calls f to
	// mutate it, then flushes the result. Side effects (transfers) are
	// forbidden within the transaction so that an aborted transfer can never
	// leave a partially-flushed state behind.
	Transaction(obj CBORer, f func() interface{}) interface{}
}

// Invokee exposes the actor's method dispatch table.
type Invokee interface {
	Exports() []interface{}
}

// These interfaces match those from whyrusleeping/cbor-gen, so generated code
// is usable here directly.
type CBORMarshaler interface {
	MarshalCBOR(w io.Writer) error
}

type CBORUnmarshaler interface {
	UnmarshalCBOR(r io.Reader) error
}

type CBORer interface {
	CBORMarshaler
	CBORUnmarshaler
}
