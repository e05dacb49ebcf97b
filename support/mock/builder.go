package mock

import (
	"context"
	"testing"

	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	cid "github.com/ipfs/go-cid"
)

// Build for fluent initialization of a mock runtime.
type RuntimeBuilder struct {
	rt *Runtime
}

// Initializes a new builder with a receiving actor address.
func NewBuilder(ctx context.Context, receiver addr.Address) *RuntimeBuilder {
	m := &Runtime{
		ctx:      ctx,
		epoch:    0,
		receiver: receiver,
		caller:   addr.Undef,

		halted:   false,
		eligible: make(map[addr.Address]bool),
		balances: make(map[balanceKey]abi.TokenAmount),

		state: cid.Undef,
		store: make(map[cid.Cid][]byte),

		t: nil, // Initialized at Build()
	}
	return &RuntimeBuilder{m}
}

// Builds a new runtime object with the configured values.
func (b *RuntimeBuilder) Build(t testing.TB) *Runtime {
	cpy := *b.rt

	// Deep copy the mutable values.
	cpy.store = make(map[cid.Cid][]byte)
	for k, v := range b.rt.store {
		cpy.store[k] = v
	}
	cpy.eligible = make(map[addr.Address]bool)
	for k, v := range b.rt.eligible {
		cpy.eligible[k] = v
	}
	cpy.balances = make(map[balanceKey]abi.TokenAmount)
	for k, v := range b.rt.balances {
		cpy.balances[k] = v
	}

	cpy.t = t
	return &cpy
}

func (b *RuntimeBuilder) WithEpoch(epoch abi.ChainEpoch) *RuntimeBuilder {
	b.rt.epoch = epoch
	return b
}

func (b *RuntimeBuilder) WithCaller(address addr.Address) *RuntimeBuilder {
	b.rt.caller = address
	return b
}

func (b *RuntimeBuilder) WithEligible(recipients ...addr.Address) *RuntimeBuilder {
	for _, r := range recipients {
		b.rt.eligible[r] = true
	}
	return b
}

func (b *RuntimeBuilder) WithBalance(asset addr.Address, holder addr.Address, amount abi.TokenAmount) *RuntimeBuilder {
	b.rt.balances[balanceKey{asset, holder}] = amount
	return b
}
