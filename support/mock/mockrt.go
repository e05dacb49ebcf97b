package mock

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"testing"

	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/exitcode"
	cid "github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"

	vmr "github.com/vestfi/vesting-actors/actors/runtime"
)

// A mock runtime for unit testing of actors in isolation.
// The mock allows direct specification of the runtime context as observable
// by an actor, supports the storage interface, and mocks out the collaborator
// ports with explicit expectations.
type Runtime struct {
	// Execution context
	ctx      context.Context
	epoch    abi.ChainEpoch
	receiver addr.Address
	caller   addr.Address

	// Collaborator state
	halted   bool
	eligible map[addr.Address]bool
	balances map[balanceKey]abi.TokenAmount

	// Actor state
	state cid.Cid

	// VM implementation
	callDepth     int
	store         map[cid.Cid][]byte
	inTransaction bool

	// Expectations
	t                        testing.TB
	expectValidateCallerAny  bool
	expectValidateCallerAddr []addr.Address
	expectTransfers          []*expectedTransfer
	expectEvents             []vmr.Event
}

type balanceKey struct {
	asset  addr.Address
	holder addr.Address
}

type expectedTransfer struct {
	// Expected parameters.
	intoCustody bool
	asset       addr.Address
	party       addr.Address
	amount      abi.TokenAmount

	// Result.
	code exitcode.ExitCode

	// Runs after the expectation matches, before the result is returned.
	// Used to simulate a collaborator calling back into the actor.
	hook func()
}

func (m *expectedTransfer) String() string {
	dir := "out"
	if m.intoCustody {
		dir = "in"
	}
	return fmt.Sprintf("transfer-%s asset: %v party: %v amount: %v code: %v", dir, m.asset, m.party, m.amount, m.code)
}

var _ vmr.Runtime = &Runtime{}
var _ vmr.StateHandle = &Runtime{}
var typeOfRuntimeInterface = reflect.TypeOf((*vmr.Runtime)(nil)).Elem()
var typeOfCborUnmarshaler = reflect.TypeOf((*vmr.CBORUnmarshaler)(nil)).Elem()
var typeOfCborMarshaler = reflect.TypeOf((*vmr.CBORMarshaler)(nil)).Elem()

var cidBuilder = cid.V1Builder{
	Codec:    cid.DagCBOR,
	MhType:   mh.SHA2_256,
	MhLength: 0, // default
}

///// Implementation of the runtime API /////

func (rt *Runtime) Message() vmr.Message {
	rt.requireInCall()
	return rt
}

func (rt *Runtime) CurrEpoch() abi.ChainEpoch {
	rt.requireInCall()
	return rt.epoch
}

func (rt *Runtime) IsHalted() bool {
	rt.requireInCall()
	return rt.halted
}

func (rt *Runtime) IsEligible(recipient addr.Address) bool {
	rt.requireInCall()
	return rt.eligible[recipient]
}

func (rt *Runtime) ValidateImmediateCallerAcceptAny() {
	rt.requireInCall()
	if !rt.expectValidateCallerAny {
		rt.failTest("unexpected validate-caller-any")
	}
	rt.expectValidateCallerAny = false
}

func (rt *Runtime) ValidateImmediateCallerIs(addrs ...addr.Address) {
	rt.requireInCall()
	rt.require(len(addrs) > 0, "addrs must be non-empty")
	// Check and clear expectations.
	if len(rt.expectValidateCallerAddr) == 0 {
		rt.failTest("unexpected validate caller addrs")
		return
	}
	if !reflect.DeepEqual(rt.expectValidateCallerAddr, addrs) {
		rt.failTest("unexpected validate caller addrs %v, expected %v", addrs, rt.expectValidateCallerAddr)
		return
	}
	defer func() {
		rt.expectValidateCallerAddr = nil
	}()

	// Implement method.
	for _, expected := range addrs {
		if rt.caller == expected {
			return
		}
	}
	rt.Abortf(exitcode.ErrForbidden, "caller address %v forbidden, allowed: %v", rt.caller, addrs)
}

func (rt *Runtime) BalanceOf(asset addr.Address, holder addr.Address) abi.TokenAmount {
	rt.requireInCall()
	balance, ok := rt.balances[balanceKey{asset, holder}]
	if !ok {
		return big.Zero()
	}
	return balance
}

func (rt *Runtime) TransferIn(asset addr.Address, from addr.Address, amount abi.TokenAmount) exitcode.ExitCode {
	return rt.transfer(true, asset, from, amount)
}

func (rt *Runtime) TransferOut(asset addr.Address, to addr.Address, amount abi.TokenAmount) exitcode.ExitCode {
	return rt.transfer(false, asset, to, amount)
}

func (rt *Runtime) transfer(intoCustody bool, asset addr.Address, party addr.Address, amount abi.TokenAmount) exitcode.ExitCode {
	rt.requireInCall()
	if rt.inTransaction {
		rt.Abortf(exitcode.SysErrorIllegalActor, "side-effect within transaction")
	}
	if len(rt.expectTransfers) == 0 {
		rt.failTestNow("unexpected transfer asset: %v party: %v amount: %v", asset, party, amount)
	}
	expected := rt.expectTransfers[0]
	if expected.intoCustody != intoCustody || expected.asset != asset || expected.party != party || !expected.amount.Equals(amount) {
		rt.failTest("transfer does not match expectation.\n"+
			"Call     - asset: %v party: %v amount: %v intoCustody: %v\n"+
			"Expected - %v", asset, party, amount, intoCustody, expected)
	}
	rt.expectTransfers = rt.expectTransfers[1:]

	if expected.hook != nil {
		expected.hook()
	}

	// Mirror a successful movement in the external balances.
	if expected.code.IsSuccess() {
		key := balanceKey{asset, party}
		balance, ok := rt.balances[key]
		if !ok {
			balance = big.Zero()
		}
		if intoCustody {
			rt.balances[key] = big.Sub(balance, amount)
		} else {
			rt.balances[key] = big.Add(balance, amount)
		}
	}
	return expected.code
}

func (rt *Runtime) EmitEvent(evt vmr.Event) {
	rt.requireInCall()
	if rt.inTransaction {
		rt.Abortf(exitcode.SysErrorIllegalActor, "side-effect within transaction")
	}
	if len(rt.expectEvents) == 0 {
		rt.failTestNow("unexpected event %v for %v amount %v", evt.Name, evt.Recipient, evt.Amount)
	}
	expected := rt.expectEvents[0]
	if expected.Name != evt.Name || expected.Recipient != evt.Recipient || !expected.Amount.Equals(evt.Amount) {
		rt.failTest("event does not match expectation.\n"+
			"Call     - name: %v recipient: %v amount: %v\n"+
			"Expected - name: %v recipient: %v amount: %v",
			evt.Name, evt.Recipient, evt.Amount, expected.Name, expected.Recipient, expected.Amount)
	}
	rt.expectEvents = rt.expectEvents[1:]
}

func (rt *Runtime) State() vmr.StateHandle {
	rt.requireInCall()
	return rt
}

func (rt *Runtime) Store() vmr.Store {
	// requireInCall omitted because it makes using this mock runtime as a store awkward.
	return rt
}

func (rt *Runtime) Abortf(errExitCode exitcode.ExitCode, msg string, args ...interface{}) {
	rt.requireInCall()
	rt.t.Logf("Mock Runtime Abort ExitCode: %v Reason: %s", errExitCode, fmt.Sprintf(msg, args...))
	panic(abort{errExitCode, fmt.Sprintf(msg, args...)})
}

func (rt *Runtime) Context() context.Context {
	// requireInCall omitted because it makes using this mock runtime as a store awkward.
	return rt.ctx
}

///// Store implementation /////

func (rt *Runtime) Get(c cid.Cid, o vmr.CBORUnmarshaler) bool {
	// requireInCall omitted because it makes using this mock runtime as a store awkward.
	data, found := rt.store[c]
	if found {
		err := o.UnmarshalCBOR(bytes.NewReader(data))
		if err != nil {
			rt.Abortf(exitcode.ErrSerialization, err.Error())
		}
	}
	return found
}

func (rt *Runtime) Put(o vmr.CBORMarshaler) cid.Cid {
	// requireInCall omitted because it makes using this mock runtime as a store awkward.
	r := bytes.Buffer{}
	err := o.MarshalCBOR(&r)
	if err != nil {
		rt.Abortf(exitcode.ErrSerialization, err.Error())
	}
	data := r.Bytes()
	key, err := cidBuilder.Sum(data)
	if err != nil {
		rt.Abortf(exitcode.ErrSerialization, err.Error())
	}
	rt.store[key] = data
	return key
}

///// Message implementation /////

func (rt *Runtime) Caller() addr.Address {
	return rt.caller
}

func (rt *Runtime) Receiver() addr.Address {
	return rt.receiver
}

///// State handle implementation /////

func (rt *Runtime) Create(obj vmr.CBORMarshaler) {
	if rt.state.Defined() {
		rt.Abortf(exitcode.SysErrorIllegalActor, "state already constructed")
	}
	rt.state = rt.Store().Put(obj)
}

func (rt *Runtime) Readonly(st vmr.CBORUnmarshaler) {
	found := rt.Store().Get(rt.state, st)
	if !found {
		rt.Abortf(exitcode.SysErrorIllegalActor, "actor state not found: %v", rt.state)
	}
}

func (rt *Runtime) Transaction(st vmr.CBORer, f func() interface{}) interface{} {
	if rt.inTransaction {
		rt.Abortf(exitcode.SysErrorIllegalActor, "nested transaction")
	}
	rt.Readonly(st)
	rt.inTransaction = true
	defer func() { rt.inTransaction = false }()
	ret := f()
	rt.state = rt.Put(st)
	return ret
}

type abort struct {
	code exitcode.ExitCode
	msg  string
}

func (a abort) String() string {
	return fmt.Sprintf("abort(%v): %s", a.code, a.msg)
}

///// Inspection facilities /////

func (rt *Runtime) StateRoot() cid.Cid {
	return rt.state
}

func (rt *Runtime) GetState(o vmr.CBORUnmarshaler) {
	data, found := rt.store[rt.state]
	if !found {
		rt.failTestNow("can't find state at root %v", rt.state) // something internal is messed up
	}
	err := o.UnmarshalCBOR(bytes.NewReader(data))
	if err != nil {
		rt.failTestNow("error loading state: %v", err)
	}
}

func (rt *Runtime) GetBalance(asset addr.Address, holder addr.Address) abi.TokenAmount {
	balance, ok := rt.balances[balanceKey{asset, holder}]
	if !ok {
		return big.Zero()
	}
	return balance
}

func (rt *Runtime) GetEpoch() abi.ChainEpoch {
	return rt.epoch
}

///// Mocking facilities /////

func (rt *Runtime) SetCaller(address addr.Address) {
	rt.caller = address
}

func (rt *Runtime) SetEpoch(epoch abi.ChainEpoch) {
	rt.epoch = epoch
}

func (rt *Runtime) SetHalted(halted bool) {
	rt.halted = halted
}

func (rt *Runtime) SetEligible(recipient addr.Address, eligible bool) {
	rt.eligible[recipient] = eligible
}

func (rt *Runtime) SetBalance(asset addr.Address, holder addr.Address, amount abi.TokenAmount) {
	rt.balances[balanceKey{asset, holder}] = amount
}

func (rt *Runtime) ExpectValidateCallerAny() {
	rt.expectValidateCallerAny = true
}

func (rt *Runtime) ExpectValidateCallerAddr(addrs ...addr.Address) {
	rt.require(len(addrs) > 0, "addrs must be non-empty")
	rt.expectValidateCallerAddr = addrs[:]
}

func (rt *Runtime) ExpectTransferIn(asset addr.Address, from addr.Address, amount abi.TokenAmount, code exitcode.ExitCode) {
	rt.expectTransfers = append(rt.expectTransfers, &expectedTransfer{
		intoCustody: true,
		asset:       asset,
		party:       from,
		amount:      amount,
		code:        code,
	})
}

func (rt *Runtime) ExpectTransferOut(asset addr.Address, to addr.Address, amount abi.TokenAmount, code exitcode.ExitCode) {
	rt.expectTransfers = append(rt.expectTransfers, &expectedTransfer{
		intoCustody: false,
		asset:       asset,
		party:       to,
		amount:      amount,
		code:        code,
	})
}

// Registers an expected transfer whose hook runs when the transfer is
// matched, before its result is returned to the actor.
func (rt *Runtime) ExpectTransferOutWithHook(asset addr.Address, to addr.Address, amount abi.TokenAmount, code exitcode.ExitCode, hook func()) {
	rt.expectTransfers = append(rt.expectTransfers, &expectedTransfer{
		intoCustody: false,
		asset:       asset,
		party:       to,
		amount:      amount,
		code:        code,
		hook:        hook,
	})
}

func (rt *Runtime) ExpectEvent(evt vmr.Event) {
	rt.expectEvents = append(rt.expectEvents, evt)
}

// Verifies that expected calls were received, and resets all expectations.
func (rt *Runtime) Verify() {
	rt.t.Helper()
	if rt.expectValidateCallerAny {
		rt.failTest("expected ValidateCallerAny, not received")
	}
	if len(rt.expectValidateCallerAddr) > 0 {
		rt.failTest("expected ValidateCallerAddr %v, not received", rt.expectValidateCallerAddr)
	}
	if len(rt.expectTransfers) > 0 {
		rt.failTest("expected transfers not performed: %v", rt.expectTransfers)
	}
	if len(rt.expectEvents) > 0 {
		rt.failTest("expected events not emitted: %v", rt.expectEvents)
	}

	rt.Reset()
}

// Resets expectations.
func (rt *Runtime) Reset() {
	rt.expectValidateCallerAny = false
	rt.expectValidateCallerAddr = nil
	rt.expectTransfers = nil
	rt.expectEvents = nil
}

// Calls f() expecting it to invoke Runtime.Abortf() with a specified exit code.
func (rt *Runtime) ExpectAbort(expected exitcode.ExitCode, f func()) {
	rt.t.Helper()
	prevState := rt.state
	prevBalances := make(map[balanceKey]abi.TokenAmount, len(rt.balances))
	for k, v := range rt.balances {
		prevBalances[k] = v
	}

	defer func() {
		rt.t.Helper()
		r := recover()
		if r == nil {
			rt.failTest("expected abort with code %v but call succeeded", expected)
			return
		}
		a, ok := r.(abort)
		if !ok {
			panic(r)
		}
		if a.code != expected {
			rt.failTest("abort expected code %v, got %v %s", expected, a.code, a.msg)
		}
		// Roll back state and balance changes.
		rt.state = prevState
		rt.balances = prevBalances
	}()
	f()
}

func (rt *Runtime) Call(method interface{}, params interface{}) interface{} {
	meth := reflect.ValueOf(method)
	rt.verifyExportedMethodType(meth)

	// There's no panic recovery here. If an abort is expected, this call will
	// be inside an ExpectAbort block. If not expected, the panic will escape
	// and cause the test to fail. The depth counter admits a collaborator
	// hook calling back into the actor.
	rt.callDepth++
	defer func() { rt.callDepth-- }()
	var arg reflect.Value
	if params != nil {
		arg = reflect.ValueOf(params)
	} else {
		arg = reflect.ValueOf(&abi.EmptyValue{})
	}
	ret := meth.Call([]reflect.Value{reflect.ValueOf(rt), arg})
	return ret[0].Interface()
}

func (rt *Runtime) verifyExportedMethodType(meth reflect.Value) {
	t := meth.Type()
	rt.require(t.Kind() == reflect.Func, "%v is not a function", meth)
	rt.require(t.NumIn() == 2, "exported method %v must have two parameters, got %v", meth, t.NumIn())
	rt.require(t.In(0) == typeOfRuntimeInterface, "exported method first parameter must be runtime, got %v", t.In(0))
	rt.require(t.In(1).Kind() == reflect.Ptr, "exported method second parameter must be pointer to params, got %v", t.In(1))
	rt.require(t.In(1).Implements(typeOfCborUnmarshaler), "exported method second parameter must be CBOR-unmarshalable params, got %v", t.In(1))
	rt.require(t.NumOut() == 1, "exported method must return a single value")
	rt.require(t.Out(0).Implements(typeOfCborMarshaler), "exported method must return CBOR-marshalable value")
}

func (rt *Runtime) requireInCall() {
	rt.require(rt.callDepth > 0, "invalid runtime invocation outside of method call")
}

func (rt *Runtime) require(predicate bool, msg string, args ...interface{}) {
	if !predicate {
		rt.failTestNow(msg, args...)
	}
}

func (rt *Runtime) failTest(msg string, args ...interface{}) {
	rt.t.Logf(msg, args...)
	rt.t.Logf("%s", debug.Stack())
	rt.t.Fail()
}

func (rt *Runtime) failTestNow(msg string, args ...interface{}) {
	rt.t.Logf(msg, args...)
	rt.t.Logf("%s", debug.Stack())
	rt.t.FailNow()
}
